// captag adds AI-generated titles, descriptions and keywords to JPEG and PNG images using Google Gemini.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"

	"github.com/tstromberg/captag/pkg/captag"
	"github.com/tstromberg/captag/pkg/manage"
)

var (
	configFile  = flag.String("config", "", "path to a YAML config file")
	inDir       = flag.String("in", "", "Location of input directory")
	outDir      = flag.String("out", "", "Location of output directory")
	apiKey      = flag.String("api-key", "", "Gemini API key (default: $GOOGLE_AI_API_KEY or $GEMINI_API_KEY)")
	model       = flag.String("model", "", "Gemini model name")
	temperature = flag.Float64("temperature", 0, "generation temperature")
	rename      = flag.Bool("rename", false, "rename files from an AI-generated title")
	csvExport   = flag.Bool("csv", false, "append a row per image to a CSV export file")
	csvPath     = flag.String("csv-path", "", "path of the CSV export file (default: <out>/captag.csv)")
	dryRun      = flag.Bool("n", false, "dry-run mode, caption but don't write or move things")
	noRepair    = flag.Bool("no-repair", false, "skip the pass that reprocesses files with incomplete metadata")
	listen      = flag.Bool("listen", false, "serve a batch trigger via HTTP")
	addr        = flag.String("addr", "localhost:12800", "host:port to bind to in listen mode")
	watchFlag   = flag.Bool("watch", false, "watch the input directory and run again when images arrive")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	c, err := config()
	if err != nil {
		klog.Exitf("config: %v", err)
	}
	if err := c.Validate(); err != nil {
		klog.Exitf("%v", err)
	}
	if c.APIKey == "" {
		klog.Exitf("%v: use --api-key or set GOOGLE_AI_API_KEY", captag.ErrNoAPIKey)
	}

	klog.Infof("Input directory: %s", c.InDir)
	klog.Infof("Output directory: %s", c.OutDir)

	ctx := context.Background()
	g, err := captag.NewGemini(ctx, c)
	if err != nil {
		klog.Exitf("gemini: %v", err)
	}

	et, err := captag.NewExifTool()
	if err != nil {
		klog.Exitf("exiftool: %v", err)
	}
	defer func() {
		if err := et.Close(); err != nil {
			klog.Errorf("Failed to close exiftool: %v", err)
		}
	}()

	r := captag.New(c, g, et)
	s := manage.New(r.Run)

	if _, err := s.Run(ctx); err != nil {
		klog.Exitf("batch failed: %v", err)
	}

	var wg sync.WaitGroup
	if *watchFlag {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watch(ctx, c.InDir, s); err != nil {
				klog.Errorf("watch failed: %v", err)
			}
		}()
	}

	if *listen {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serve(s, *addr)
		}()
	}

	wg.Wait()
}

// config merges the config file, flags and environment.
func config() (*captag.Config, error) {
	c := &captag.Config{}
	if *configFile != "" {
		var err error
		c, err = captag.LoadConfig(*configFile)
		if err != nil {
			return nil, err
		}
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["in"] {
		c.InDir = *inDir
	}
	if set["out"] {
		c.OutDir = *outDir
	}
	if set["api-key"] {
		c.APIKey = *apiKey
	}
	if set["model"] {
		c.Model = *model
	}
	if set["temperature"] {
		t := float32(*temperature)
		c.Temperature = &t
	}
	if set["rename"] {
		c.RenameOnCaption = *rename
	}
	if set["csv"] {
		c.ExportCSV = *csvExport
	}
	if set["csv-path"] {
		c.CSVPath = *csvPath
	}
	if set["n"] {
		c.DryRun = *dryRun
	}
	if set["no-repair"] {
		r := !*noRepair
		c.Repair = &r
	}

	for _, env := range []string{"GOOGLE_AI_API_KEY", "GEMINI_API_KEY"} {
		if c.APIKey == "" {
			c.APIKey = os.Getenv(env)
		}
	}

	c.Defaults()
	return c, nil
}

// serve exposes the batch trigger via HTTP
func serve(s *manage.Server, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/run", s.RunHandler())
	mux.Handle("/status", s.StatusHandler())

	klog.Infof("Listening on %s...", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		klog.Exitf("listen failed: %v", err)
	}
}

// settle is how long the input directory must be quiet before a watch-triggered run.
var settle = 2 * time.Second

// arrival reports whether event may be a new image landing in the input directory.
// Events raised while a batch runs are the batch's own writes and moves.
func arrival(event fsnotify.Event, busy bool) bool {
	if busy {
		return false
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.Contains(name, "_exiftool_tmp") {
		return false
	}
	return captag.FormatOf(name) != captag.Unsupported
}

// watch runs the batch again whenever images are added to dir
func watch(ctx context.Context, dir string, s *manage.Server) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	klog.Infof("watching %s ...", dir)

	var timer *time.Timer
	trigger := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			klog.V(1).Infof("event: %v", event)
			if !arrival(event, s.Busy()) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(settle, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
		case <-trigger:
			// Run in the background so events raised by the batch are seen while it is busy.
			go func() {
				if _, err := s.Run(ctx); err != nil {
					klog.Errorf("batch failed: %v", err)
				}
			}()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			klog.Errorf("watch error: %v", err)
		}
	}
}
