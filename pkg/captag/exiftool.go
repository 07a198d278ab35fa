package captag

import (
	"fmt"

	"github.com/barasher/go-exiftool"
	"k8s.io/klog/v2"
)

// MetadataTool reads and writes embedded image metadata.
type MetadataTool interface {
	// Extract returns the fields of path, keyed by tag name without group.
	Extract(path string) (exiftool.FileMetadata, error)
	// Write applies the field assignments to path, overwriting it in place.
	Write(path string, fs FieldSet) error
}

// ToolError is a metadata tool failure carrying its diagnostic.
type ToolError struct {
	Path string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("exiftool %s: %v", e.Path, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// ExifTool is a MetadataTool backed by a stay-open exiftool process.
type ExifTool struct {
	et *exiftool.Exiftool
}

// NewExifTool starts exiftool.
func NewExifTool() (*ExifTool, error) {
	et, err := exiftool.NewExiftool(exiftool.Charset("filename=utf8"), exiftool.Charset("iptc=UTF8"))
	if err != nil {
		return nil, fmt.Errorf("exiftool: %w", err)
	}
	return &ExifTool{et: et}, nil
}

// Close stops the exiftool process.
func (t *ExifTool) Close() error {
	return t.et.Close()
}

func (t *ExifTool) Extract(path string) (exiftool.FileMetadata, error) {
	fis := t.et.ExtractMetadata(path)
	if len(fis) == 0 {
		return exiftool.FileMetadata{}, &ToolError{Path: path, Err: fmt.Errorf("no metadata returned")}
	}
	fi := fis[0]
	if fi.Err != nil {
		return fi, &ToolError{Path: path, Err: fi.Err}
	}
	for k, v := range fi.Fields {
		klog.V(2).Infof("%q=%v", k, v)
	}
	return fi, nil
}

func (t *ExifTool) Write(path string, fs FieldSet) error {
	fm := exiftool.EmptyFileMetadata()
	fm.File = path

	for _, name := range fs.Names() {
		vs := fs.Values(name)
		if len(vs) == 1 {
			fm.SetString(name, vs[0])
			continue
		}
		fm.SetStrings(name, vs)
	}

	mds := []exiftool.FileMetadata{fm}
	t.et.WriteMetadata(mds)
	if mds[0].Err != nil {
		klog.Errorf("exiftool error for %s: %v", path, mds[0].Err)
		return &ToolError{Path: path, Err: mds[0].Err}
	}
	return nil
}
