package captag

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"google.golang.org/genai"
	"k8s.io/klog/v2"
)

var (
	DescribePrompt = "Write a short description of this image in one or two sentences, suitable as " +
		"a stock photo caption. Describe the main subject, setting and mood. Plain text only, no markdown."

	TagsPrompt = "List relevant tags for this image, delimited by commas. Use single words or short " +
		"phrases a stock photo buyer would search for, most relevant first. No hashtags, no numbering, " +
		"no explanations, at most 49 tags."

	TitlePrompt = "Give a short title for this image, at most eight words. Reply with the title only, " +
		"without quotes or punctuation at the end."
)

// Caption is the raw text returned by the captioning service.
type Caption struct {
	Description string
	Tags        string
	Title       string
}

// Captioner turns a working copy into caption text. Implementations do not retry.
type Captioner interface {
	Caption(ctx context.Context, wc *WorkingCopy, withTitle bool) (*Caption, error)
}

// Gemini is a Captioner backed by the Gemini API.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
	inlineLimit int64
}

// NewGemini creates a Gemini captioner from c.
func NewGemini(ctx context.Context, c *Config) (*Gemini, error) {
	if c.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return newGemini(client, c), nil
}

func newGemini(client *genai.Client, c *Config) *Gemini {
	return &Gemini{
		client:      client,
		model:       c.Model,
		temperature: c.GenTemperature(),
		inlineLimit: c.InlineLimit,
	}
}

func (g *Gemini) config() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(g.temperature),
		TopP:             genai.Ptr[float32](0.95),
		TopK:             genai.Ptr[float32](64),
		MaxOutputTokens:  8192,
		ResponseMIMEType: "text/plain",
	}
}

// Caption asks for a description and tags, plus a title if withTitle is set.
func (g *Gemini) Caption(ctx context.Context, wc *WorkingCopy, withTitle bool) (*Caption, error) {
	img, cleanup, err := g.payload(ctx, wc)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	c := &Caption{}
	if c.Description, err = g.generate(ctx, DescribePrompt, img); err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}
	if c.Tags, err = g.generate(ctx, TagsPrompt, img); err != nil {
		return nil, fmt.Errorf("tags: %w", err)
	}
	if withTitle {
		if c.Title, err = g.generate(ctx, TitlePrompt, img); err != nil {
			return nil, fmt.Errorf("title: %w", err)
		}
	}
	return c, nil
}

// payload returns the image part: inline bytes, or an uploaded file reference for large copies.
func (g *Gemini) payload(ctx context.Context, wc *WorkingCopy) (*genai.Part, func(), error) {
	mime := wc.Format.MIMEType()

	if inline(wc.Size, g.inlineLimit) {
		bs, err := os.ReadFile(wc.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("read working copy: %w", err)
		}
		return genai.NewPartFromBytes(bs, mime), func() {}, nil
	}

	klog.Infof("uploading %s (%s)", wc.Path, humanize.Bytes(uint64(wc.Size)))
	f, err := g.client.Files.UploadFromPath(ctx, wc.Path, &genai.UploadFileConfig{MIMEType: mime})
	if err != nil {
		return nil, nil, fmt.Errorf("upload: %w", err)
	}

	cleanup := func() {
		if _, err := g.client.Files.Delete(ctx, f.Name, nil); err != nil {
			klog.Warningf("unable to delete uploaded file %s: %v", f.Name, err)
		}
	}
	return genai.NewPartFromURI(f.URI, f.MIMEType), cleanup, nil
}

func inline(size int64, limit int64) bool {
	return limit <= 0 || size <= limit
}

func (g *Gemini) generate(ctx context.Context, prompt string, img *genai.Part) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt), img}, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, g.config())
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty response from %s", g.model)
	}
	klog.V(1).Infof("%s: %q", g.model, text)
	return text, nil
}

// Annotate normalizes raw caption text into bounded metadata values.
func Annotate(c *Caption, cfg *Config) *Annotation {
	desc := cleanText(c.Description)
	tags := NormalizeTags(c.Tags, cfg.MaxTags)
	return &Annotation{
		Title:       TruncateTitle(desc, cfg.MaxTitle),
		Description: truncate(desc, maxDescription),
		Tags:        tags,
		Keywords:    SplitTags(strings.Join(tags, ","), ",", cfg.MaxKeywordLen),
		Name:        strings.Trim(cleanText(c.Title), `"'`),
	}
}

// maxDescription is the IPTC Caption-Abstract limit.
var maxDescription = 2000

// cleanText strips markdown emphasis and collapses whitespace.
func cleanText(s string) string {
	s = strings.NewReplacer("**", "", "__", "", "`", "").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// TruncateTitle cuts s at its first sentence terminator, or at max characters.
func TruncateTitle(s string, max int) string {
	s = cleanText(s)
	rs := []rune(s)
	for i, r := range rs {
		if max > 0 && i >= max {
			break
		}
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(rs) || unicode.IsSpace(rs[i+1])) {
			return strings.TrimSpace(string(rs[:i]))
		}
	}
	return truncate(s, max)
}

var numbering = regexp.MustCompile(`^\d+[.)]\s+`)

// NormalizeTags splits model output into distinct tags, dropping hashes, numbering and blanks.
func NormalizeTags(s string, max int) []string {
	s = strings.NewReplacer("\n", ",", ";", ",").Replace(s)

	seen := map[string]bool{}
	tags := []string{}
	for _, t := range strings.Split(s, ",") {
		t = cleanText(t)
		t = numbering.ReplaceAllString(strings.TrimLeft(t, "-*•# "), "")
		t = strings.Trim(t, `"'`+" .")
		if t == "" {
			continue
		}
		k := strings.ToLower(t)
		if seen[k] {
			continue
		}
		seen[k] = true
		tags = append(tags, t)
		if max > 0 && len(tags) == max {
			break
		}
	}
	return tags
}
