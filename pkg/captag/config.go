package captag

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoSourceDir = errors.New("no source directory selected")
	ErrNoOutputDir = errors.New("no output directory selected")
	ErrNoAPIKey    = errors.New("no API key provided")
	ErrSameDir     = errors.New("output directory must differ from the source directory")
)

const (
	DefaultModel         = "gemini-2.5-flash"
	DefaultTemperature   = 0.7
	DefaultMaxDimension  = 2048
	DefaultInlineLimit   = 20 * 1024 * 1024
	DefaultMaxTitle      = 300
	DefaultMaxTags       = 49
	DefaultMaxKeywordLen = 64
	DefaultMaxAttempts   = 2
	DefaultCSVName       = "captag.csv"
)

// LoadConfig reads a YAML config file. Missing values are left zero; call Defaults afterwards.
func LoadConfig(path string) (*Config, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c := &Config{}
	if err := yaml.Unmarshal(bs, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// Defaults fills in zero values.
func (c *Config) Defaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Temperature == nil {
		t := float32(DefaultTemperature)
		c.Temperature = &t
	}
	if c.MaxDimension <= 0 {
		c.MaxDimension = DefaultMaxDimension
	}
	if c.InlineLimit <= 0 {
		c.InlineLimit = DefaultInlineLimit
	}
	if c.MaxTitle <= 0 {
		c.MaxTitle = DefaultMaxTitle
	}
	if c.MaxTags <= 0 {
		c.MaxTags = DefaultMaxTags
	}
	if c.MaxKeywordLen <= 0 {
		c.MaxKeywordLen = DefaultMaxKeywordLen
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Repair == nil {
		r := true
		c.Repair = &r
	}
	if c.ExportCSV && c.CSVPath == "" && c.OutDir != "" {
		c.CSVPath = filepath.Join(c.OutDir, DefaultCSVName)
	}
}

// GenTemperature returns the configured temperature, or the default if none is set.
func (c *Config) GenTemperature() float32 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

// RepairEnabled reports whether the repair pass runs.
func (c *Config) RepairEnabled() bool {
	return c.Repair == nil || *c.Repair
}

// Validate checks the preconditions for starting a batch.
func (c *Config) Validate() error {
	if c.InDir == "" {
		return ErrNoSourceDir
	}
	st, err := os.Stat(c.InDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoSourceDir, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNoSourceDir, c.InDir)
	}
	if c.OutDir == "" {
		return ErrNoOutputDir
	}
	if resolve(c.InDir) == resolve(c.OutDir) {
		return fmt.Errorf("%w: %s", ErrSameDir, c.OutDir)
	}
	return nil
}

// resolve returns the absolute, symlink-free form of path. Paths that do not exist yet are only made absolute.
func resolve(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if rp, err := filepath.EvalSymlinks(abs); err == nil {
		return rp
	}
	return abs
}
