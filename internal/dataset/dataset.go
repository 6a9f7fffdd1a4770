// Package dataset loads (x, y) samples from delimited text files.
package dataset

import (
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/cwbudde/curvesearch/internal/errs"
)

// Dataset holds paired samples and optional per-sample uncertainties.
type Dataset struct {
	X     []float64
	Y     []float64
	Sigma []float64
	Path  string
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.X)
}

// Options selects the columns to read. Columns are header names, or
// zero-based indices written as decimal strings. Empty X and Y select the
// first two columns. Sigma is only read when set.
type Options struct {
	X     string
	Y     string
	Sigma string
	Comma rune
}

// Load reads a dataset from a CSV file.
func Load(path string, opts Options) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	ds, err := Read(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	ds.Path = path

	slog.Debug("Dataset loaded", "path", path, "samples", ds.Len(), "sigma", ds.Sigma != nil)
	return ds, nil
}

// Read parses CSV from r. A first row with any non-numeric field is taken
// as the header. Blank lines and lines starting with '#' are skipped.
func Read(r io.Reader, opts Options) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, errs.Invalid("data", "file contains no rows")
	}

	var header []string
	if !isNumericRow(rows[0]) {
		header, rows = rows[0], rows[1:]
	}

	xi, err := column(header, opts.X, 0, "x")
	if err != nil {
		return nil, err
	}
	yi, err := column(header, opts.Y, 1, "y")
	if err != nil {
		return nil, err
	}
	si := -1
	if opts.Sigma != "" {
		if si, err = column(header, opts.Sigma, -1, "sigma"); err != nil {
			return nil, err
		}
	}

	ds := &Dataset{
		X: make([]float64, 0, len(rows)),
		Y: make([]float64, 0, len(rows)),
	}
	if si >= 0 {
		ds.Sigma = make([]float64, 0, len(rows))
	}

	for i, row := range rows {
		line := i + 1
		if header != nil {
			line++
		}
		x, err := field(row, xi, line)
		if err != nil {
			return nil, err
		}
		y, err := field(row, yi, line)
		if err != nil {
			return nil, err
		}
		ds.X = append(ds.X, x)
		ds.Y = append(ds.Y, y)
		if si >= 0 {
			s, err := field(row, si, line)
			if err != nil {
				return nil, err
			}
			ds.Sigma = append(ds.Sigma, s)
		}
	}

	if ds.Len() == 0 {
		return nil, errs.Invalid("data", "file contains a header but no samples")
	}
	return ds, nil
}

func isNumericRow(row []string) bool {
	for _, f := range row {
		if _, err := strconv.ParseFloat(strings.TrimSpace(f), 64); err != nil {
			return false
		}
	}
	return true
}

// column resolves a column selector against the header.
func column(header []string, sel string, fallback int, role string) (int, error) {
	if sel == "" {
		if fallback < 0 {
			return -1, errs.Invalid(role, "column not specified")
		}
		return fallback, nil
	}
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), sel) {
			return i, nil
		}
	}
	if idx, err := strconv.Atoi(sel); err == nil && idx >= 0 {
		return idx, nil
	}
	return -1, errs.Invalid(role, "unknown column %q", sel)
}

func field(row []string, idx, line int) (float64, error) {
	if idx >= len(row) {
		return 0, errs.Invalid("data", "line %d has %d columns, need column %d", line, len(row), idx)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			err = numErr.Err
		}
		return 0, errs.Invalid("data", "line %d column %d: %q is not a number (%v)", line, idx, row[idx], err)
	}
	return v, nil
}

// Fingerprint identifies the sample values independently of formatting:
// xxhash64 over the sample count, then the little-endian bits of every x
// followed by every y.
func (d *Dataset) Fingerprint() string {
	return Fingerprint(d.X, d.Y)
}

// Fingerprint hashes paired samples. It returns 16 hex digits.
func Fingerprint(x, y []float64) string {
	h := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(x)))
	h.Write(buf[:])
	for _, v := range x {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	for _, v := range y {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
