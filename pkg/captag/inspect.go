package captag

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/barasher/go-exiftool"
	pngstructure "github.com/dsoprea/go-png-image-structure"
	"k8s.io/klog/v2"
)

var (
	titleFields   = []string{"Title", "ObjectName", "Headline", "XPTitle"}
	keywordFields = []string{"Keywords", "Subject", "XPKeywords"}

	xmpKeyword = "XML:com.adobe.xmp"
	xmpTitle   = regexp.MustCompile(`(?s)<dc:title>(.*?)</dc:title>`)
	xmpSubject = regexp.MustCompile(`(?s)<dc:subject>(.*?)</dc:subject>`)
	rdfItem    = regexp.MustCompile(`(?s)<rdf:li[^>]*>\s*[^<\s][^<]*</rdf:li>`)
)

// Inspector reports whether a file still lacks its title or keywords.
type Inspector struct {
	tool MetadataTool
}

// NewInspector returns an Inspector that reads JPEG metadata through tool.
func NewInspector(tool MetadataTool) *Inspector {
	return &Inspector{tool: tool}
}

// Incomplete returns true if path is missing a title or keywords. Unsupported formats are always incomplete.
func (in *Inspector) Incomplete(path string) (bool, error) {
	switch FormatOf(path) {
	case JPEG:
		fm, err := in.tool.Extract(path)
		if err != nil {
			return true, fmt.Errorf("extract: %w", err)
		}
		return !hasAny(fm, titleFields) || !hasAny(fm, keywordFields), nil
	case PNG:
		text, err := pngText(path)
		if err != nil {
			return true, fmt.Errorf("png text: %w", err)
		}
		xmp := text[xmpKeyword]
		hasTitle := strings.TrimSpace(text["Title"]) != "" || xmpHas(xmpTitle, xmp)
		hasKeywords := strings.TrimSpace(text["Keywords"]) != "" || xmpHas(xmpSubject, xmp)
		klog.V(1).Infof("%s: title=%v keywords=%v (%d text chunks)", path, hasTitle, hasKeywords, len(text))
		return !hasTitle || !hasKeywords, nil
	}
	return true, nil
}

func hasAny(fm exiftool.FileMetadata, keys []string) bool {
	for _, k := range keys {
		if strings.TrimSpace(fieldText(fm.Fields[k])) != "" {
			return true
		}
	}
	return false
}

// fieldText flattens an exiftool JSON value.
func fieldText(v interface{}) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case []string:
		return strings.Join(tv, ",")
	case []interface{}:
		parts := []string{}
		for _, e := range tv {
			parts = append(parts, fieldText(e))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", tv)
	}
}

func xmpHas(re *regexp.Regexp, xmp string) bool {
	m := re.FindStringSubmatch(xmp)
	return m != nil && rdfItem.MatchString(m[1])
}

// pngText returns the tEXt, zTXt and iTXt entries of a PNG file, keyed by keyword.
func pngText(path string) (map[string]string, error) {
	mc, err := pngstructure.NewPngMediaParser().ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	cs, ok := mc.(*pngstructure.ChunkSlice)
	if !ok {
		return nil, fmt.Errorf("unexpected media context %T", mc)
	}

	text := map[string]string{}
	for _, c := range cs.Chunks() {
		var k, v string
		var err error
		switch c.Type {
		case "tEXt":
			k, v = splitNul(c.Data)
		case "zTXt":
			k, v, err = decodeZTXt(c.Data)
		case "iTXt":
			k, v, err = decodeITXt(c.Data)
		default:
			continue
		}
		if err != nil {
			klog.Warningf("%s: bad %s chunk: %v", path, c.Type, err)
			continue
		}
		text[k] = v
	}
	return text, nil
}

func splitNul(b []byte) (string, string) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return string(b), ""
	}
	return string(b[:i]), string(b[i+1:])
}

func inflate(b []byte) (string, error) {
	zr, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	defer zr.Close()
	bs, err := io.ReadAll(zr)
	return string(bs), err
}

// decodeZTXt decodes keyword, NUL, compression method, zlib data.
func decodeZTXt(b []byte) (string, string, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 || len(b) < i+2 {
		return "", "", fmt.Errorf("truncated zTXt")
	}
	v, err := inflate(b[i+2:])
	return string(b[:i]), v, err
}

// decodeITXt decodes keyword, NUL, flag, method, language, NUL, translated keyword, NUL, text.
func decodeITXt(b []byte) (string, string, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 || len(b) < i+3 {
		return "", "", fmt.Errorf("truncated iTXt")
	}
	k := string(b[:i])
	compressed := b[i+1] == 1
	rest := b[i+3:]

	for n := 0; n < 2; n++ {
		j := bytes.IndexByte(rest, 0)
		if j < 0 {
			return "", "", fmt.Errorf("truncated iTXt header")
		}
		rest = rest[j+1:]
	}

	if !compressed {
		return k, string(rest), nil
	}
	v, err := inflate(rest)
	return k, v, err
}
