package captag

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"strings"
	"testing"

	"github.com/barasher/go-exiftool"
)

func testImage(x, y int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, x, y))
	for i := 0; i < x; i++ {
		for j := 0; j < y; j++ {
			img.Set(i, j, color.RGBA{uint8(i), uint8(j), 128, 255})
		}
	}
	return img
}

func writeJPEG(t *testing.T, path string, x, y int) {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(x, y), nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// writePNG writes a PNG with the given chunks inserted after IHDR.
func writePNG(t *testing.T, path string, x, y int, chunks ...[]byte) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(x, y)); err != nil {
		t.Fatalf("encode: %v", err)
	}
	bs := buf.Bytes()

	// 8 byte signature + IHDR (4 length + 4 type + 13 data + 4 crc)
	const ihdrEnd = 33
	out := append([]byte{}, bs[:ihdrEnd]...)
	for _, c := range chunks {
		out = append(out, c...)
	}
	out = append(out, bs[ihdrEnd:]...)

	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func pngChunk(typ string, data []byte) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.BigEndian, uint32(len(data)))
	b.WriteString(typ)
	b.Write(data)
	binary.Write(&b, binary.BigEndian, crc32.ChecksumIEEE(append([]byte(typ), data...)))
	return b.Bytes()
}

func tEXt(k, v string) []byte {
	return pngChunk("tEXt", []byte(k+"\x00"+v))
}

func iTXt(k, v string) []byte {
	return pngChunk("iTXt", []byte(k+"\x00\x00\x00\x00\x00"+v))
}

type toolEntry struct {
	fi     os.FileInfo
	fields map[string]interface{}
}

// fakeTool stores metadata per file identity, so it follows renames.
type fakeTool struct {
	entries    []*toolEntry
	writes     []FieldSet
	failWrites int
	dropWrites int
}

func (f *fakeTool) entry(path string) (*toolEntry, os.FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range f.entries {
		if os.SameFile(e.fi, fi) {
			return e, fi, nil
		}
	}
	return nil, fi, nil
}

func (f *fakeTool) Extract(path string) (exiftool.FileMetadata, error) {
	e, _, err := f.entry(path)
	if err != nil {
		return exiftool.FileMetadata{File: path, Err: err}, &ToolError{Path: path, Err: err}
	}
	fm := exiftool.FileMetadata{File: path, Fields: map[string]interface{}{}}
	if e != nil {
		for k, v := range e.fields {
			fm.Fields[k] = v
		}
	}
	return fm, nil
}

func (f *fakeTool) Write(path string, fs FieldSet) error {
	if f.failWrites > 0 {
		f.failWrites--
		return &ToolError{Path: path, Err: fmt.Errorf("Error: Not a valid JPEG")}
	}
	f.writes = append(f.writes, fs)
	if f.dropWrites > 0 {
		f.dropWrites--
		return nil
	}

	e, fi, err := f.entry(path)
	if err != nil {
		return &ToolError{Path: path, Err: err}
	}
	if e == nil {
		e = &toolEntry{fi: fi, fields: map[string]interface{}{}}
		f.entries = append(f.entries, e)
	}

	for _, name := range fs.Names() {
		key := name[strings.LastIndex(name, ":")+1:]
		vs := fs.Values(name)
		if len(vs) == 1 {
			e.fields[key] = vs[0]
			continue
		}
		is := []interface{}{}
		for _, v := range vs {
			is = append(is, v)
		}
		e.fields[key] = is
	}
	return nil
}

type fakeCaptioner struct {
	calls   int
	fail    int
	caption Caption
	copies  []*WorkingCopy
}

func (f *fakeCaptioner) Caption(_ context.Context, wc *WorkingCopy, withTitle bool) (*Caption, error) {
	f.calls++
	f.copies = append(f.copies, wc)
	if _, err := os.Stat(wc.Path); err != nil {
		return nil, fmt.Errorf("working copy missing: %w", err)
	}
	if f.calls <= f.fail {
		return nil, fmt.Errorf("429 RESOURCE_EXHAUSTED")
	}
	c := f.caption
	if !withTitle {
		c.Title = ""
	}
	return &c, nil
}

func newFakeCaptioner() *fakeCaptioner {
	return &fakeCaptioner{caption: Caption{
		Description: "A golden retriever runs along a sandy beach at sunset. Waves roll in behind it.",
		Tags:        "dog, golden retriever, beach, sunset, #waves, pet, ocean, sand, running, happy",
		Title:       "Dog on the Beach",
	}}
}
