package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CSVHeader is the fixed column order of tabular reports.
var CSVHeader = []string{"modelname", "form", "paras_symbol", "parameters", "stdevs", "cost"}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatList(v []Float) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = formatFloat(float64(x))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Row renders the record in CSVHeader order.
func (r Record) Row() []string {
	return []string{
		r.ModelName,
		r.Form,
		r.Symbols,
		formatList(r.Parameters),
		formatList(r.StandardErrors),
		formatFloat(float64(r.Cost)),
	}
}

// WriteCSV writes records to w, preceded by the header when header is true.
func WriteCSV(w io.Writer, records []Record, header bool) error {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(CSVHeader); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
	}
	for _, r := range records {
		if err := cw.Write(r.Row()); err != nil {
			return fmt.Errorf("failed to write csv row %s: %w", r.ModelName, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// AppendCSV appends records to the file at path, creating it and its
// directory when missing. The header is written only to a new or empty
// file.
func AppendCSV(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open csv report: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat csv report: %w", err)
	}

	if err := WriteCSV(f, records, info.Size() == 0); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close csv report: %w", err)
	}
	return nil
}
