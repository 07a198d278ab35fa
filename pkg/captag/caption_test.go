package captag

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"
)

func TestTruncateTitle(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"A dog on a beach. It is sunny.", 300, "A dog on a beach"},
		{"Is this a dog? Yes.", 300, "Is this a dog"},
		{"Version 2.5 of the poster", 300, "Version 2.5 of the poster"},
		{"  lots   of\n space  ", 300, "lots of space"},
		{strings.Repeat("a", 400), 300, strings.Repeat("a", 300)},
		{strings.Repeat("b", 310) + ". tail", 300, strings.Repeat("b", 300)},
		{"**Bold** title.", 300, "Bold title"},
	}
	for _, tc := range tests {
		if got := TruncateTitle(tc.in, tc.max); got != tc.want {
			t.Errorf("TruncateTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags("1. Dog, #beach,\n- sunset; dog, 3d render, \"sand\", , 2024", 49)
	want := []string{"Dog", "beach", "sunset", "3d render", "sand", "2024"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NormalizeTags mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeTagsBounded(t *testing.T) {
	parts := []string{}
	for i := 0; i < 80; i++ {
		parts = append(parts, fmt.Sprintf("tag%d", i))
	}
	got := NormalizeTags(strings.Join(parts, ","), 49)
	if len(got) != 49 {
		t.Fatalf("got %d tags, want 49", len(got))
	}
	if got[48] != "tag48" {
		t.Errorf("last tag = %q, want tag48", got[48])
	}
}

func TestAnnotate(t *testing.T) {
	cfg := &Config{}
	cfg.Defaults()

	tags := []string{}
	for i := 0; i < 30; i++ {
		tags = append(tags, fmt.Sprintf("keyword%02d", i))
	}
	a := Annotate(&Caption{
		Description: "A red barn in a snowy field. Trees stand behind it.",
		Tags:        strings.Join(tags, ", "),
		Title:       `"Red Barn in Snow"`,
	}, cfg)

	if a.Title != "A red barn in a snowy field" {
		t.Errorf("Title = %q", a.Title)
	}
	if a.Description != "A red barn in a snowy field. Trees stand behind it." {
		t.Errorf("Description = %q", a.Description)
	}
	if a.Name != "Red Barn in Snow" {
		t.Errorf("Name = %q", a.Name)
	}
	if len(a.Tags) != 30 {
		t.Errorf("got %d tags, want 30", len(a.Tags))
	}
	if len(a.Keywords) < 2 {
		t.Errorf("keywords not split: %q", a.Keywords)
	}
	for _, k := range a.Keywords {
		if len(k) > 64 {
			t.Errorf("keyword segment %q longer than 64", k)
		}
	}
	if strings.Join(a.Keywords, ",") != strings.Join(tags, ",") {
		t.Errorf("keyword segments lost tags: %q", a.Keywords)
	}
}

func TestInline(t *testing.T) {
	limit := int64(DefaultInlineLimit)
	if !inline(limit, limit) {
		t.Errorf("file at the limit should be inlined")
	}
	if inline(limit+1, limit) {
		t.Errorf("file above the limit should be uploaded")
	}
}

type fakeGemini struct {
	mu      sync.Mutex
	prompts []string
	mimes   []string
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, ":generateContent") {
		http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
		return
	}

	var req struct {
		Contents []struct {
			Parts []struct {
				Text       string `json:"text"`
				InlineData *struct {
					MIMEType string `json:"mimeType"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"contents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	prompt := ""
	f.mu.Lock()
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if p.Text != "" {
				prompt = p.Text
			}
			if p.InlineData != nil {
				f.mimes = append(f.mimes, p.InlineData.MIMEType)
			}
		}
	}
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	answer := "A lighthouse on a cliff."
	switch prompt {
	case TagsPrompt:
		answer = "lighthouse, cliff, sea"
	case TitlePrompt:
		answer = "Lighthouse"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{
				"role":  "model",
				"parts": []any{map[string]any{"text": answer}},
			}},
		},
	})
}

func TestGeminiCaption(t *testing.T) {
	fg := &fakeGemini{}
	srv := httptest.NewServer(fg)
	defer srv.Close()

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL + "/"},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	cfg := &Config{}
	cfg.Defaults()
	g := newGemini(client, cfg)

	path := filepath.Join(t.TempDir(), "a.jpg")
	writeJPEG(t, path, 8, 8)
	wc := &WorkingCopy{Path: path, Format: JPEG, Size: 100}

	c, err := g.Caption(ctx, wc, false)
	if err != nil {
		t.Fatalf("Caption: %v", err)
	}
	want := &Caption{Description: "A lighthouse on a cliff.", Tags: "lighthouse, cliff, sea"}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("Caption mismatch (-want +got):\n%s", diff)
	}
	if len(fg.prompts) != 2 {
		t.Errorf("got %d requests, want 2", len(fg.prompts))
	}

	c, err = g.Caption(ctx, wc, true)
	if err != nil {
		t.Fatalf("Caption: %v", err)
	}
	if c.Title != "Lighthouse" {
		t.Errorf("Title = %q, want Lighthouse", c.Title)
	}
	if len(fg.prompts) != 5 {
		t.Errorf("got %d requests, want 5", len(fg.prompts))
	}
	for _, m := range fg.mimes {
		if m != "image/jpeg" {
			t.Errorf("inline mime = %q, want image/jpeg", m)
		}
	}
}

func TestNewGeminiRequiresKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), &Config{}); err != ErrNoAPIKey {
		t.Errorf("NewGemini() error = %v, want ErrNoAPIKey", err)
	}
}
