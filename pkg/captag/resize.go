package captag

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

// workPrefix marks working copies in the output directory.
var workPrefix = "temp_img_"

var workQuality = 90

// WorkingCopy is a downsized re-encoding of a source image used as model input.
type WorkingCopy struct {
	Path   string
	Format Format
	Size   int64
	X      int
	Y      int
}

// Remove deletes the working copy. A copy that is already gone is not an error.
func (w *WorkingCopy) Remove() error {
	if err := os.Remove(w.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Preprocess writes a copy of src into dir with neither side larger than max pixels.
func Preprocess(src string, dir string, max int) (*WorkingCopy, error) {
	f := FormatOf(src)
	if f == Unsupported {
		return nil, fmt.Errorf("unsupported format: %s", src)
	}

	img, err := imgio.Open(src)
	if err != nil {
		return nil, fmt.Errorf("imgio.Open: %w", err)
	}

	x, y, err := bounded(img.Bounds(), max)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}

	if x != img.Bounds().Dx() || y != img.Bounds().Dy() {
		klog.V(1).Infof("resizing %s from %dx%d to %dx%d", src, img.Bounds().Dx(), img.Bounds().Dy(), x, y)
		img = transform.Resize(img, x, y, transform.Lanczos)
	}

	path := filepath.Join(dir, workPrefix+filepath.Base(src))
	enc := imgio.PNGEncoder()
	if f == JPEG {
		enc = imgio.JPEGEncoder(workQuality)
	}
	if err := imgio.Save(path, img, enc); err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	klog.V(1).Infof("working copy %s: %dx%d, %s", path, x, y, humanize.Bytes(uint64(st.Size())))
	return &WorkingCopy{Path: path, Format: f, Size: st.Size(), X: x, Y: y}, nil
}

// bounded scales a rectangle down so both sides fit within max, keeping the aspect ratio.
func bounded(r image.Rectangle, max int) (int, int, error) {
	x, y := r.Dx(), r.Dy()
	if x == 0 || y == 0 {
		return 0, 0, fmt.Errorf("empty image %+v", r)
	}
	if max <= 0 || (x <= max && y <= max) {
		return x, y, nil
	}

	if x >= y {
		scale := float64(x) / float64(max)
		y = int(float64(y)/scale + 0.5)
		x = max
	} else {
		scale := float64(y) / float64(max)
		x = int(float64(x)/scale + 0.5)
		y = max
	}

	if x < 1 {
		x = 1
	}
	if y < 1 {
		y = 1
	}
	return x, y, nil
}
