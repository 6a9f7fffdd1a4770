// Package config loads search settings from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/curvesearch/internal/errs"
	"github.com/cwbudde/curvesearch/internal/model"
	"github.com/cwbudde/curvesearch/internal/search"
)

// MaxFileSize bounds config files read from disk.
const MaxFileSize = 1 * 1024 * 1024

// Axis scales understood by the plotting commands.
const (
	ScaleLinear = "linear"
	ScaleLog    = "log"
)

// File is the on-disk search configuration. Omitted fields keep the
// values from Default.
type File struct {
	Functions        []string `yaml:"functions,omitempty"`
	Operator         string   `yaml:"operator"`
	Piecewise        bool     `yaml:"piecewise"`
	MaxCombination   int      `yaml:"max_combination"`
	Method           string   `yaml:"method,omitempty"`
	MaxFunctionEvals int      `yaml:"max_function_evals,omitempty"`
	Workers          int      `yaml:"workers,omitempty"`

	// Output settings used by the run command.
	PlotTop int    `yaml:"plot_top"`
	XScale  string `yaml:"xscale"`
	YScale  string `yaml:"yscale"`
	Prefix  string `yaml:"prefix"`
}

// Default returns the settings used when no file is given.
func Default() *File {
	return &File{
		Operator:       model.Sum.String(),
		MaxCombination: search.DefaultMaxCombination,
		PlotTop:        10,
		XScale:         ScaleLinear,
		YScale:         ScaleLinear,
		Prefix:         "fit",
	}
}

// Load reads a YAML config file. The file must have a .yaml or .yml
// extension and be at most MaxFileSize bytes.
func Load(path string) (*File, error) {
	cleanPath := filepath.Clean(path)
	switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
	case ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .yaml or .yml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected so that typos do not pass silently.
func Parse(data []byte) (*File, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that can be checked without a catalog.
func (f *File) Validate() error {
	if _, err := f.rule(); err != nil {
		return err
	}
	if f.PlotTop < 0 {
		return errs.Invalid("plot_top", "must not be negative, got %d", f.PlotTop)
	}
	for _, axis := range []struct{ field, scale string }{{"xscale", f.XScale}, {"yscale", f.YScale}} {
		if axis.scale != ScaleLinear && axis.scale != ScaleLog {
			return errs.Invalid(axis.field, "must be %q or %q, got %q", ScaleLinear, ScaleLog, axis.scale)
		}
	}
	if strings.ContainsAny(f.Prefix, `/\`) {
		return errs.Invalid("prefix", "must not contain path separators, got %q", f.Prefix)
	}
	_, err := f.Search()
	return err
}

func (f *File) rule() (model.Rule, error) {
	rule, err := model.ParseRule(f.Operator)
	if err != nil {
		return rule, errs.Invalid("operator", "unknown operator %q", f.Operator)
	}
	if rule == model.Piecewise {
		return rule, errs.Invalid("operator", "piecewise is selected with the piecewise flag, not as an operator")
	}
	return rule, nil
}

// Search converts the file into an engine configuration.
func (f *File) Search() (search.Config, error) {
	rule, err := f.rule()
	if err != nil {
		return search.Config{}, err
	}
	cfg := search.Config{
		Functions:      f.Functions,
		Operator:       rule,
		Piecewise:      f.Piecewise,
		MaxCombination: f.MaxCombination,
		Method:         f.Method,
		MaxFuncEvals:   f.MaxFunctionEvals,
		Workers:        f.Workers,
	}
	if err := cfg.Validate(); err != nil {
		return search.Config{}, err
	}
	return cfg, nil
}

// Marshal renders the file as YAML.
func (f *File) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}
