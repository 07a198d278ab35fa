package captag

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the state of one file in a batch.
type Outcome string

const (
	Pending          Outcome = "pending"
	Processed        Outcome = "processed"
	FailedFirstPass  Outcome = "failed-first-pass"
	Retried          Outcome = "retried"
	FailedAfterRetry Outcome = "failed-after-retry"
	Repaired         Outcome = "repaired"
	Incomplete       Outcome = "incomplete"
	// Previewed files were captioned in a dry run; nothing was written or moved.
	Previewed        Outcome = "previewed"
)

// Done reports whether the file ended up annotated and filed.
func (o Outcome) Done() bool {
	return o == Processed || o == Retried || o == Repaired
}

// FileResult records what happened to one source file.
type FileResult struct {
	Source   string   `json:"source"`
	Path     string   `json:"path"`
	Outcome  Outcome  `json:"outcome"`
	Attempts int      `json:"attempts"`
	Title    string   `json:"title,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Report summarizes a batch.
type Report struct {
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Files    []*FileResult `json:"files"`
	Skipped  []string      `json:"skipped,omitempty"`
}

// Counts returns the number of files per outcome.
func (r *Report) Counts() map[Outcome]int {
	cs := map[Outcome]int{}
	for _, f := range r.Files {
		cs[f.Outcome]++
	}
	return cs
}

// Unfinished returns the source paths of files that did not end up done. Previewed files are not unfinished.
func (r *Report) Unfinished() []string {
	out := []string{}
	for _, f := range r.Files {
		if !f.Outcome.Done() && f.Outcome != Previewed {
			out = append(out, f.Source)
		}
	}
	return out
}

// Summary is a one-line description for the user.
func (r *Report) Summary() string {
	cs := r.Counts()
	parts := []string{}
	for _, o := range []Outcome{Processed, Retried, Repaired, Previewed, FailedAfterRetry, Incomplete, FailedFirstPass, Pending} {
		if cs[o] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", cs[o], o))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no images")
	}

	s := fmt.Sprintf("Processing complete in %s: %s", r.Finished.Sub(r.Started).Round(time.Millisecond), strings.Join(parts, ", "))
	if n := cs[Previewed]; n > 0 {
		s += fmt.Sprintf(". Dry run: %d file(s) captioned, nothing written or moved", n)
	}
	if n := len(r.Unfinished()); n > 0 {
		s += fmt.Sprintf(". %d file(s) may not be processed; run again to retry them", n)
	}
	return s
}
