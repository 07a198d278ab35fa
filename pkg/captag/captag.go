// Package captag annotates photos with AI-generated titles, descriptions and
// keywords, writes them into the image metadata, and files the results.
package captag

// Config holds configuration for a captag batch.
type Config struct {
	APIKey      string   `yaml:"apiKey"`
	Model       string   `yaml:"model"`
	// Temperature is the generation temperature; nil selects the default, 0 is kept.
	Temperature *float32 `yaml:"temperature"`

	InDir  string `yaml:"in"`
	OutDir string `yaml:"out"`

	RenameOnCaption bool   `yaml:"rename"`
	ExportCSV       bool   `yaml:"csv"`
	CSVPath         string `yaml:"csvPath"`
	DryRun          bool   `yaml:"dryRun"`

	// MaxDimension bounds both sides of the working copy sent to the model.
	MaxDimension int `yaml:"maxDimension"`
	// InlineLimit is the working copy size above which it is uploaded instead of inlined.
	InlineLimit int64 `yaml:"inlineLimit"`

	MaxTitle      int `yaml:"maxTitle"`
	MaxTags       int `yaml:"maxTags"`
	MaxKeywordLen int `yaml:"maxKeywordLen"`

	// MaxAttempts is the number of processing attempts per file across pass 1 and the retry pass.
	MaxAttempts int `yaml:"maxAttempts"`
	// Repair enables the final sweep that reprocesses files with incomplete metadata.
	Repair *bool `yaml:"repair"`
}

// Annotation is the normalized caption output for one image.
type Annotation struct {
	Title       string
	Description string
	Tags        []string
	// Keywords are Tags joined and split into length-bounded segments.
	Keywords []string
	// Name is the short AI title used for renaming, if requested.
	Name string
}
