package captag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

// Format is the container class of an image file.
type Format int

const (
	Unsupported Format = iota
	JPEG
	PNG
)

func (f Format) String() string {
	switch f {
	case JPEG:
		return "jpeg"
	case PNG:
		return "png"
	}
	return "unsupported"
}

// MIMEType returns the media type sent to the captioning service.
func (f Format) MIMEType() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	case PNG:
		return "image/png"
	}
	return "application/octet-stream"
}

// FormatOf classifies a path by extension.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".jpe", ".jfif":
		return JPEG
	case ".png":
		return PNG
	}
	return Unsupported
}

// Candidate is a source file discovered at batch start.
type Candidate struct {
	Path   string
	Format Format
	Size   int64
}

// Find lists the supported images directly inside dir. Hidden entries, directories and
// leftover working copies are ignored; unsupported files are returned separately.
func Find(dir string) ([]*Candidate, []string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("abs: %w", err)
	}

	des, err := godirwalk.ReadDirents(abs, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("read dir: %w", err)
	}
	sort.Sort(des)

	found := []*Candidate{}
	skipped := []string{}

	for _, de := range des {
		name := de.Name()
		if name[0] == '.' || strings.HasPrefix(name, workPrefix) {
			continue
		}

		path := filepath.Join(abs, name)
		isDir, err := de.IsDirOrSymlinkToDir()
		if err != nil {
			klog.Warningf("unable to stat %s: %v", path, err)
			continue
		}
		if isDir {
			continue
		}

		f := FormatOf(name)
		if f == Unsupported {
			klog.V(1).Infof("skipping unsupported file %s", path)
			skipped = append(skipped, path)
			continue
		}

		fi, err := os.Stat(path)
		if err != nil {
			klog.Warningf("stat failure: %v", err)
			continue
		}

		klog.V(1).Infof("found %s", path)
		found = append(found, &Candidate{Path: path, Format: f, Size: fi.Size()})
	}

	return found, skipped, nil
}
