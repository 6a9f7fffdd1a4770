package store

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cwbudde/curvesearch/internal/errs"
	"github.com/cwbudde/curvesearch/internal/search"
)

// Float is a float64 whose JSON form survives ±Inf and NaN, which plain
// encoding/json rejects. Non-finite values are written as strings.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid float %s: %w", data, err)
	}
	*f = Float(v)
	return nil
}

func toFloats(v []float64) []Float {
	out := make([]Float, len(v))
	for i, x := range v {
		out[i] = Float(x)
	}
	return out
}

// Values converts back to plain floats.
func Values(v []Float) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Record is the flat, persisted form of one fitted model. The first six
// fields are the tabular schema and keep this order in every writer.
type Record struct {
	ModelName      string  `json:"modelName"`
	Form           string  `json:"form"`
	Symbols        string  `json:"symbols"`
	Parameters     []Float `json:"parameters"`
	StandardErrors []Float `json:"standardErrors"`
	Cost           Float   `json:"cost"`

	Functions               []string `json:"functions"`
	Rule                    string   `json:"rule"`
	CovarianceIndeterminate bool     `json:"covarianceIndeterminate,omitempty"`
	Method                  string   `json:"method,omitempty"`
}

// NewRecord flattens a fit result.
func NewRecord(r search.FitResult) Record {
	return Record{
		ModelName:               r.ModelName,
		Form:                    r.Form,
		Symbols:                 strings.Join(r.Symbols, ","),
		Parameters:              toFloats(r.Parameters),
		StandardErrors:          toFloats(r.StandardErrors),
		Cost:                    Float(r.Cost),
		Functions:               r.Functions,
		Rule:                    r.Rule.String(),
		CovarianceIndeterminate: r.CovarianceIndeterminate,
		Method:                  r.Method,
	}
}

// SymbolList splits the comma-joined symbols.
func (r Record) SymbolList() []string {
	if r.Symbols == "" {
		return nil
	}
	return strings.Split(r.Symbols, ",")
}

// FailureRecord is the persisted form of a dropped candidate.
type FailureRecord struct {
	Index     int    `json:"index"`
	ModelName string `json:"modelName"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
}

// DatasetInfo identifies the data a search ran on.
type DatasetInfo struct {
	Path        string `json:"path,omitempty"`
	Samples     int    `json:"samples"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// RunConfig is the persisted copy of the search configuration.
type RunConfig struct {
	Functions      []string `json:"functions,omitempty"`
	Operator       string   `json:"operator"`
	Piecewise      bool     `json:"piecewise"`
	MaxCombination int      `json:"maxCombination"`
	Method         string   `json:"method,omitempty"`
}

// NewRunConfig copies the persistable part of cfg.
func NewRunConfig(cfg search.Config) RunConfig {
	return RunConfig{
		Functions:      cfg.Functions,
		Operator:       cfg.Operator.String(),
		Piecewise:      cfg.Piecewise,
		MaxCombination: cfg.MaxCombination,
		Method:         cfg.Method,
	}
}

// Report is a saved search: the ranked records plus enough context to
// reproduce the run.
type Report struct {
	ID         string          `json:"id"`
	CreatedAt  time.Time       `json:"createdAt"`
	Dataset    DatasetInfo     `json:"dataset"`
	Config     RunConfig       `json:"config"`
	Records    []Record        `json:"records"`
	Failures   []FailureRecord `json:"failures,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
	Candidates int             `json:"candidates"`
	ElapsedMS  int64           `json:"elapsedMs"`
}

// ReportInfo is report metadata without the records, for listings.
type ReportInfo struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	Dataset    string    `json:"dataset,omitempty"`
	Samples    int       `json:"samples"`
	Candidates int       `json:"candidates"`
	Succeeded  int       `json:"succeeded"`
	BestModel  string    `json:"bestModel,omitempty"`
	BestCost   Float     `json:"bestCost"`
}

// NewReport converts a search report into its persisted form.
func NewReport(id string, rep *search.Report, cfg RunConfig, ds DatasetInfo) *Report {
	out := &Report{
		ID:         id,
		CreatedAt:  time.Now(),
		Dataset:    ds,
		Config:     cfg,
		Records:    make([]Record, len(rep.Results)),
		Warnings:   rep.Warnings,
		Candidates: rep.Candidates,
		ElapsedMS:  rep.Elapsed.Milliseconds(),
	}
	if out.Dataset.Samples == 0 {
		out.Dataset.Samples = rep.Samples
	}
	for i, r := range rep.Results {
		out.Records[i] = NewRecord(r)
	}
	for _, f := range rep.Failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		out.Failures = append(out.Failures, FailureRecord{
			Index:     f.Index,
			ModelName: f.ModelName,
			Stage:     f.Stage.String(),
			Error:     msg,
		})
	}
	return out
}

// ToInfo summarizes the report.
func (r *Report) ToInfo() ReportInfo {
	info := ReportInfo{
		ID:         r.ID,
		CreatedAt:  r.CreatedAt,
		Dataset:    r.Dataset.Path,
		Samples:    r.Dataset.Samples,
		Candidates: r.Candidates,
		Succeeded:  len(r.Records),
		BestCost:   Float(math.Inf(1)),
	}
	if len(r.Records) > 0 {
		info.BestModel = r.Records[0].ModelName
		info.BestCost = r.Records[0].Cost
	}
	return info
}

// Validate checks that the report can be persisted and ranked.
func (r *Report) Validate() error {
	if r.ID == "" {
		return errs.Invalid("id", "cannot be empty")
	}
	if r.CreatedAt.IsZero() {
		return errs.Invalid("createdAt", "cannot be zero")
	}
	if r.Candidates < len(r.Records)+len(r.Failures) {
		return errs.Invalid("candidates", "%d is less than %d records plus %d failures", r.Candidates, len(r.Records), len(r.Failures))
	}
	for i, rec := range r.Records {
		if rec.ModelName == "" {
			return errs.Invalid("records", "record %d has no model name", i)
		}
		if len(rec.Parameters) != len(rec.SymbolList()) {
			return errs.Invalid("records", "record %d (%s) has %d parameters for %d symbols", i, rec.ModelName, len(rec.Parameters), len(rec.SymbolList()))
		}
		c := float64(rec.Cost)
		if math.IsNaN(c) || c < 0 {
			return errs.Invalid("records", "record %d (%s) has invalid cost %v", i, rec.ModelName, c)
		}
		if i > 0 && rec.Cost < r.Records[i-1].Cost {
			return errs.Invalid("records", "record %d (%s) is not sorted by cost", i, rec.ModelName)
		}
	}
	return nil
}
