package store

import (
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a temporary directory and returns an FSStore for testing.
func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir()
	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return store, tempDir
}

// createTestReport builds a small ranked report.
func createTestReport(id string) *Report {
	return &Report{
		ID:        id,
		CreatedAt: time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
		Dataset:   DatasetInfo{Path: "data/bump.csv", Samples: 21, Fingerprint: "9f3a0c11d2e4b567"},
		Config: RunConfig{
			Functions:      []string{"linear", "gaussian"},
			Operator:       "+",
			MaxCombination: 2,
		},
		Records: []Record{
			{
				ModelName:      "gaussian",
				Form:           "a*exp(-(x-b)^2/(2*c^2))",
				Symbols:        "a,b,c",
				Parameters:     []Float{5, 2, 2.5},
				StandardErrors: []Float{0.01, 0.02, 0.03},
				Cost:           0.0042,
				Functions:      []string{"gaussian"},
				Rule:           "+",
			},
			{
				ModelName:               "linear",
				Form:                    "a*x+b",
				Symbols:                 "a,b",
				Parameters:              []Float{-0.1, 3},
				StandardErrors:          []Float{Float(math.Inf(1)), Float(math.Inf(1))},
				Cost:                    12.5,
				Functions:               []string{"linear"},
				Rule:                    "+",
				CovarianceIndeterminate: true,
			},
		},
		Failures: []FailureRecord{
			{Index: 2, ModelName: "operation_gaussian_gaussian", Stage: "fitting", Error: "lm solve: did not converge"},
		},
		Warnings:   []string{"linear: covariance of the parameters could not be estimated"},
		Candidates: 3,
		ElapsedMS:  17,
	}
}

func TestNewFSStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "store")

	store, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	if store.BaseDir() != dir {
		t.Errorf("BaseDir = %s, want %s", store.BaseDir(), dir)
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Fatal("Base directory was not created")
	}
}

func TestFSStore_SaveLoad(t *testing.T) {
	store, tempDir := setupTestStore(t)
	id := "run-1"

	if err := store.SaveReport(id, createTestReport(id)); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	for _, name := range []string{"report.json", "report.csv"} {
		path := filepath.Join(tempDir, "runs", id, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Expected %s: %v", path, err)
		}
		if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
			t.Errorf("Temp file %s.tmp left behind", path)
		}
	}

	loaded, err := store.LoadReport(id)
	if err != nil {
		t.Fatalf("LoadReport failed: %v", err)
	}
	assertReportsEqual(t, createTestReport(id), loaded)
}

func TestFSStore_CSVCopy(t *testing.T) {
	store, _ := setupTestStore(t)
	id := "run-csv"

	if err := store.SaveReport(id, createTestReport(id)); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	f, err := os.Open(store.CSVPath(id))
	if err != nil {
		t.Fatalf("Failed to open csv copy: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse csv copy: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected header plus 2 rows, got %d", len(rows))
	}
	if rows[1][0] != "gaussian" || rows[2][0] != "linear" {
		t.Errorf("Rows out of rank order: %q, %q", rows[1][0], rows[2][0])
	}
}

func TestFSStore_SaveOverwrites(t *testing.T) {
	store, _ := setupTestStore(t)
	id := "run-over"

	first := createTestReport(id)
	if err := store.SaveReport(id, first); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	second := createTestReport(id)
	second.Records = second.Records[:1]
	second.Failures = nil
	second.Candidates = 1
	if err := store.SaveReport(id, second); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	loaded, err := store.LoadReport(id)
	if err != nil {
		t.Fatalf("LoadReport failed: %v", err)
	}
	if len(loaded.Records) != 1 || loaded.Candidates != 1 {
		t.Errorf("Expected overwritten report, got %d records of %d candidates", len(loaded.Records), loaded.Candidates)
	}
}

func TestFSStore_SaveRejectsInvalid(t *testing.T) {
	store, tempDir := setupTestStore(t)

	if err := store.SaveReport("", createTestReport("x")); err == nil {
		t.Error("Expected error for empty id")
	}
	if err := store.SaveReport("x", nil); err == nil {
		t.Error("Expected error for nil report")
	}

	bad := createTestReport("bad")
	bad.Records[0], bad.Records[1] = bad.Records[1], bad.Records[0]
	if err := store.SaveReport("bad", bad); err == nil {
		t.Error("Expected error for unsorted records")
	}
	if _, err := os.Stat(filepath.Join(tempDir, "runs", "bad", "report.json")); !os.IsNotExist(err) {
		t.Error("Invalid report was written")
	}
}

func TestFSStore_LoadNotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.LoadReport("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.ID != "missing" {
		t.Errorf("Expected NotFoundError for missing, got %v", err)
	}
}

func TestFSStore_LoadCorrupt(t *testing.T) {
	store, _ := setupTestStore(t)
	id := "corrupt"

	if err := os.MkdirAll(store.RunDir(id), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(store.RunDir(id), "report.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := store.LoadReport(id)
	if err == nil {
		t.Fatal("Expected error for corrupt report")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("Corrupt report should not look missing")
	}
}

func TestFSStore_ListReports(t *testing.T) {
	store, _ := setupTestStore(t)

	infos, err := store.ListReports()
	if err != nil {
		t.Fatalf("ListReports on empty store failed: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("Expected no reports, got %d", len(infos))
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new", "mid"} {
		r := createTestReport(id)
		r.CreatedAt = base.Add(time.Duration([]int{0, 2, 1}[i]) * time.Hour)
		if err := store.SaveReport(id, r); err != nil {
			t.Fatalf("SaveReport %s failed: %v", id, err)
		}
	}

	// A corrupt report is skipped, not fatal.
	if err := os.MkdirAll(store.RunDir("broken"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(store.RunDir("broken"), "report.json"), []byte("]"), 0644); err != nil {
		t.Fatal(err)
	}

	infos, err = store.ListReports()
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("Expected 3 reports, got %d", len(infos))
	}
	want := []string{"new", "mid", "old"}
	for i, info := range infos {
		if info.ID != want[i] {
			t.Errorf("infos[%d].ID = %s, want %s", i, info.ID, want[i])
		}
	}
	if infos[0].BestModel != "gaussian" || infos[0].Succeeded != 2 || infos[0].Candidates != 3 {
		t.Errorf("Unexpected summary: %+v", infos[0])
	}
}

func TestFSStore_DeleteReport(t *testing.T) {
	store, _ := setupTestStore(t)
	id := "run-del"

	if err := store.SaveReport(id, createTestReport(id)); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	if err := store.DeleteReport(id); err != nil {
		t.Fatalf("DeleteReport failed: %v", err)
	}
	if _, err := os.Stat(store.RunDir(id)); !os.IsNotExist(err) {
		t.Error("Run directory still exists")
	}
	if err := store.DeleteReport(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

// assertReportsEqual compares the persisted fields of two reports.
func assertReportsEqual(t *testing.T, want, got *Report) {
	t.Helper()

	if got.ID != want.ID {
		t.Errorf("ID = %s, want %s", got.ID, want.ID)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
	if got.Dataset != want.Dataset {
		t.Errorf("Dataset = %+v, want %+v", got.Dataset, want.Dataset)
	}
	if got.Candidates != want.Candidates || got.ElapsedMS != want.ElapsedMS {
		t.Errorf("Counts = (%d, %d), want (%d, %d)", got.Candidates, got.ElapsedMS, want.Candidates, want.ElapsedMS)
	}
	if len(got.Records) != len(want.Records) {
		t.Fatalf("len(Records) = %d, want %d", len(got.Records), len(want.Records))
	}
	for i := range want.Records {
		w, g := want.Records[i], got.Records[i]
		if g.ModelName != w.ModelName || g.Form != w.Form || g.Symbols != w.Symbols || g.Rule != w.Rule {
			t.Errorf("Records[%d] = %+v, want %+v", i, g, w)
		}
		if g.Cost != w.Cost || g.CovarianceIndeterminate != w.CovarianceIndeterminate {
			t.Errorf("Records[%d] cost/indeterminate = %v/%v, want %v/%v", i, g.Cost, g.CovarianceIndeterminate, w.Cost, w.CovarianceIndeterminate)
		}
		for j := range w.Parameters {
			if g.Parameters[j] != w.Parameters[j] {
				t.Errorf("Records[%d].Parameters[%d] = %v, want %v", i, j, g.Parameters[j], w.Parameters[j])
			}
			if g.StandardErrors[j] != w.StandardErrors[j] {
				t.Errorf("Records[%d].StandardErrors[%d] = %v, want %v", i, j, g.StandardErrors[j], w.StandardErrors[j])
			}
		}
	}
	if len(got.Failures) != len(want.Failures) {
		t.Fatalf("len(Failures) = %d, want %d", len(got.Failures), len(want.Failures))
	}
	for i := range want.Failures {
		if got.Failures[i] != want.Failures[i] {
			t.Errorf("Failures[%d] = %+v, want %+v", i, got.Failures[i], want.Failures[i])
		}
	}
	if len(got.Warnings) != len(want.Warnings) {
		t.Errorf("Warnings = %v, want %v", got.Warnings, want.Warnings)
	}
}
