package captag

import (
	"fmt"
	"strings"

	"k8s.io/klog/v2"
)

// Field is one tag assignment. Repeated names form a multi-valued field.
type Field struct {
	Name  string
	Value string
}

// FieldSet is an ordered list of tag assignments.
type FieldSet []Field

// Add appends an assignment, ignoring empty values.
func (fs *FieldSet) Add(name string, values ...string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		*fs = append(*fs, Field{Name: name, Value: v})
	}
}

// Names returns the distinct field names in order of first appearance.
func (fs FieldSet) Names() []string {
	seen := map[string]bool{}
	names := []string{}
	for _, f := range fs {
		if !seen[f.Name] {
			seen[f.Name] = true
			names = append(names, f.Name)
		}
	}
	return names
}

// Values returns every value assigned to name.
func (fs FieldSet) Values(name string) []string {
	vs := []string{}
	for _, f := range fs {
		if f.Name == name {
			vs = append(vs, f.Value)
		}
	}
	return vs
}

// Args renders the set as exiftool command-line assignments.
func (fs FieldSet) Args() []string {
	args := make([]string, 0, len(fs))
	for _, f := range fs {
		args = append(args, fmt.Sprintf("-%s=%s", f.Name, f.Value))
	}
	return args
}

// IPTC record limits, in bytes.
const (
	iptcObjectNameLen = 64
	iptcHeadlineLen   = 256
	iptcKeywordLen    = 64
	iptcCaptionLen    = 2000
)

// JPEGFields writes Windows XP, IPTC and XMP Dublin Core fields in parallel.
func JPEGFields(a *Annotation) FieldSet {
	fs := FieldSet{}
	fs.Add("XPTitle", a.Title)
	fs.Add("XPSubject", a.Description)
	fs.Add("XPComment", a.Description)
	fs.Add("XPKeywords", strings.Join(a.Tags, ";"))

	fs.Add("IPTC:CodedCharacterSet", "UTF8")
	fs.Add("IPTC:ObjectName", truncateBytes(a.Title, iptcObjectNameLen))
	fs.Add("IPTC:Headline", truncateBytes(a.Title, iptcHeadlineLen))
	fs.Add("IPTC:Caption-Abstract", truncateBytes(a.Description, iptcCaptionLen))
	fs.Add("IPTC:Keywords", iptcKeywords(a.Keywords)...)

	fs.Add("XMP-dc:Title", a.Title)
	fs.Add("XMP-dc:Description", a.Description)
	fs.Add("XMP-dc:Subject", a.Tags...)

	fs.Add("EXIF:ImageDescription", a.Description)
	return fs
}

// iptcKeywords re-splits keyword segments that exceed the IPTC byte limit.
func iptcKeywords(segs []string) []string {
	out := []string{}
	for _, s := range segs {
		out = append(out, SplitTagsBytes(s, ",", iptcKeywordLen)...)
	}
	return out
}

// PNGFields writes XMP Dublin Core plus the PNG text and EXIF fields PNG can carry.
func PNGFields(a *Annotation) FieldSet {
	fs := FieldSet{}
	fs.Add("XMP-dc:Title", a.Title)
	fs.Add("XMP-dc:Description", a.Description)
	fs.Add("XMP-dc:Subject", a.Tags...)

	fs.Add("PNG:Title", a.Title)
	fs.Add("PNG:Description", a.Description)

	fs.Add("EXIF:ImageDescription", a.Description)
	fs.Add("EXIF:XPTitle", a.Title)
	fs.Add("EXIF:XPKeywords", strings.Join(a.Tags, ";"))
	return fs
}

// Fields returns the dialect for format f.
func Fields(f Format, a *Annotation) (FieldSet, error) {
	switch f {
	case JPEG:
		return JPEGFields(a), nil
	case PNG:
		return PNGFields(a), nil
	}
	return nil, fmt.Errorf("no metadata dialect for %s", f)
}

// Writer commits annotations through a MetadataTool.
type Writer struct {
	tool MetadataTool
}

// NewWriter returns a Writer using tool.
func NewWriter(tool MetadataTool) *Writer {
	return &Writer{tool: tool}
}

// Write stores a into the metadata of path.
func (w *Writer) Write(path string, a *Annotation) error {
	fs, err := Fields(FormatOf(path), a)
	if err != nil {
		return err
	}

	klog.V(1).Infof("writing %d fields to %s: %v", len(fs), path, fs.Args())
	if err := w.tool.Write(path, fs); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}
