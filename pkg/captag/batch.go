package captag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/otiai10/copy"
	"k8s.io/klog/v2"
)

// Runner processes a batch of images. It is not safe for concurrent use.
type Runner struct {
	c         *Config
	captioner Captioner
	writer    *Writer
	inspect   *Inspector
}

// New returns a Runner for c. Defaults are applied to c.
func New(c *Config, cp Captioner, tool MetadataTool) *Runner {
	c.Defaults()
	return &Runner{
		c:         c,
		captioner: cp,
		writer:    NewWriter(tool),
		inspect:   NewInspector(tool),
	}
}

// RunBatch annotates every image in c.InDir and files it into c.OutDir using Gemini and exiftool.
func RunBatch(ctx context.Context, c *Config) (*Report, error) {
	c.Defaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	g, err := NewGemini(ctx, c)
	if err != nil {
		return nil, err
	}

	et, err := NewExifTool()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := et.Close(); err != nil {
			klog.Errorf("Failed to close exiftool: %v", err)
		}
	}()

	return New(c, g, et).Run(ctx)
}

// Run processes the batch: a first pass over all files, a retry pass over failures,
// and a repair pass over files whose metadata is still incomplete.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if err := r.c.Validate(); err != nil {
		return nil, err
	}

	out, err := filepath.Abs(r.c.OutDir)
	if err != nil {
		return nil, fmt.Errorf("abs: %w", err)
	}
	r.c.OutDir = out

	if err := os.MkdirAll(out, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}

	cs, skipped, err := Find(r.c.InDir)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}

	klog.Infof("batch: %d images in %s -> %s (%d skipped)", len(cs), r.c.InDir, out, len(skipped))
	rep := &Report{Started: time.Now(), Skipped: skipped, Files: []*FileResult{}}

	failed := []*FileResult{}
	for _, c := range cs {
		res := &FileResult{Source: c.Path, Path: c.Path, Outcome: Pending}
		rep.Files = append(rep.Files, res)

		if err := r.attempt(ctx, res); err != nil {
			klog.Errorf("error processing %s, will try again: %v", c.Path, err)
			res.Outcome = FailedFirstPass
			failed = append(failed, res)
			continue
		}
		res.Outcome = Processed
	}

	r.retryFailed(ctx, failed)

	if r.c.DryRun {
		for _, res := range rep.Files {
			if res.Outcome.Done() {
				res.Outcome = Previewed
			}
		}
	} else if r.c.RepairEnabled() {
		r.repairIncomplete(ctx, rep.Files)
	}

	rep.Finished = time.Now()
	klog.Infof("%s", rep.Summary())
	return rep, nil
}

// retryFailed attempts each failed file again until it has used MaxAttempts attempts.
func (r *Runner) retryFailed(ctx context.Context, failed []*FileResult) {
	if len(failed) == 0 {
		return
	}
	klog.Infof("retrying %d failed files ...", len(failed))

	for _, res := range failed {
		for res.Attempts < r.c.MaxAttempts {
			if err := r.attempt(ctx, res); err != nil {
				klog.Errorf("failed to process %s (attempt %d/%d): %v", res.Source, res.Attempts, r.c.MaxAttempts, err)
				continue
			}
			res.Outcome = Retried
			break
		}
		if res.Outcome != Retried {
			res.Outcome = FailedAfterRetry
		}
	}
}

// repairIncomplete inspects every file at its current location and reprocesses the ones
// still lacking a title or keywords. Each file gets at most one repair attempt.
func (r *Runner) repairIncomplete(ctx context.Context, files []*FileResult) {
	klog.Infof("checking metadata of %d files ...", len(files))

	for _, res := range files {
		if _, err := os.Stat(res.Path); err != nil {
			klog.Warningf("unable to check %s: %v", res.Path, err)
			continue
		}

		incomplete, err := r.inspect.Incomplete(res.Path)
		if err != nil {
			klog.Warningf("unable to inspect %s, reprocessing: %v", res.Path, err)
		}
		if !incomplete {
			continue
		}

		klog.Infof("%s has incomplete metadata, processing again", res.Path)
		wasDone := res.Outcome.Done()
		if err := r.attempt(ctx, res); err != nil {
			klog.Errorf("repair of %s failed: %v", res.Path, err)
			if wasDone {
				res.Outcome = Incomplete
			}
			continue
		}
		res.Outcome = Repaired
	}
}

func (r *Runner) attempt(ctx context.Context, res *FileResult) error {
	res.Attempts++
	err := r.process(ctx, res)
	if err != nil {
		res.Error = err.Error()
		return err
	}
	res.Error = ""
	return nil
}

// process annotates the file at res.Path, writes its metadata, then moves it into the output directory.
// Metadata is written before the move, so a failed write leaves the file where it was.
func (r *Runner) process(ctx context.Context, res *FileResult) error {
	src := res.Path
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	wc, err := Preprocess(src, r.c.OutDir, r.c.MaxDimension)
	if err != nil {
		return fmt.Errorf("preprocess: %w", err)
	}
	defer func() {
		if err := wc.Remove(); err != nil {
			klog.Warningf("unable to remove working copy %s: %v", wc.Path, err)
		}
	}()

	c, err := r.captioner.Caption(ctx, wc, r.c.RenameOnCaption)
	if err != nil {
		return fmt.Errorf("caption: %w", err)
	}

	a := Annotate(c, r.c)
	res.Title = a.Title
	res.Tags = a.Tags
	if a.Title == "" || len(a.Keywords) == 0 {
		return fmt.Errorf("caption for %s has no title or tags", src)
	}

	klog.Infof("%s: %q [%s]", filepath.Base(src), a.Title, strings.Join(a.Tags, ", "))
	if r.c.DryRun {
		return nil
	}

	name, err := r.target(src, a)
	if err != nil {
		return fmt.Errorf("target name: %w", err)
	}

	if err := r.writer.Write(src, a); err != nil {
		return err
	}

	dest := filepath.Join(r.c.OutDir, name)
	if dest != src {
		if err := relocate(src, dest); err != nil {
			return fmt.Errorf("move: %w", err)
		}
		klog.V(1).Infof("moved %s -> %s", src, dest)
	}
	res.Path = dest

	if r.c.ExportCSV {
		if err := AppendCSV(r.c.CSVPath, name, a); err != nil {
			klog.Errorf("unable to export %s to %s: %v", name, r.c.CSVPath, err)
		}
	}
	return nil
}

// target returns the filename src should have in the output directory.
func (r *Runner) target(src string, a *Annotation) (string, error) {
	name := filepath.Base(src)
	if r.c.RenameOnCaption {
		text := a.Name
		if text == "" {
			text = a.Title
		}
		name = SanitizeName(text) + strings.ToLower(filepath.Ext(src))
	}

	if filepath.Join(r.c.OutDir, name) == src {
		return name, nil
	}
	return UniqueName(r.c.OutDir, name)
}

// relocate moves src to dest, copying when a rename is not possible.
func relocate(src string, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}

	klog.V(1).Infof("rename failed (%v), copying instead", err)
	if err := copy.Copy(src, dest); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return os.Remove(src)
}
