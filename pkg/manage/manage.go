// Package manage provides HTTP handlers for triggering captag batches.
package manage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/tstromberg/captag/pkg/captag"
	"k8s.io/klog/v2"
)

// ErrBusy is returned when a batch is already running.
var ErrBusy = errors.New("a batch is already running")

// RunFunc runs one batch.
type RunFunc func(ctx context.Context) (*captag.Report, error)

// Server serializes batch runs and remembers the last report.
type Server struct {
	run RunFunc

	mu   sync.Mutex
	busy bool
	last *captag.Report
}

// New creates a new server.
func New(run RunFunc) *Server {
	return &Server{run: run}
}

// Run starts a batch unless one is already running.
func (s *Server) Run(ctx context.Context) (*captag.Report, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.busy = true
	s.mu.Unlock()

	rep, err := s.run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if rep != nil {
		s.last = rep
	}
	return rep, err
}

// Busy reports whether a batch is running.
func (s *Server) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

type status struct {
	Busy    bool           `json:"busy"`
	Summary string         `json:"summary,omitempty"`
	Report  *captag.Report `json:"report,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// RunHandler runs a batch synchronously and returns its report.
func (s *Server) RunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}

		klog.Infof("batch requested by %s", r.RemoteAddr)
		// A started batch runs to completion even if the client goes away.
		rep, err := s.Run(context.WithoutCancel(r.Context()))
		switch {
		case errors.Is(err, ErrBusy):
			writeJSON(w, http.StatusConflict, status{Busy: true, Error: err.Error()})
		case err != nil:
			writeJSON(w, http.StatusBadRequest, status{Error: err.Error()})
		default:
			writeJSON(w, http.StatusOK, status{Summary: rep.Summary(), Report: rep})
		}
	}
}

// StatusHandler reports whether a batch is running and the last report.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		st := status{Busy: s.busy, Report: s.last}
		s.mu.Unlock()
		if st.Report != nil {
			st.Summary = st.Report.Summary()
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.Errorf("encode response: %v", err)
	}
}
