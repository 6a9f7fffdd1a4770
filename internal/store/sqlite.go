package store

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout keeps created_at lexically sortable.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// schema.sql creates the reports, records and failures tables.
//
//go:embed schema.sql
var schemaSQL string

// SQLiteStore implements Store on a single SQLite database file. A report
// is one row in reports plus its ranked records and failures.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report database: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply report schema: %w", err)
	}

	slog.Debug("Initialized report database", "path", path)
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveReport replaces any report stored under id inside one transaction.
func (s *SQLiteStore) SaveReport(id string, report *Report) (err error) {
	if id == "" {
		return fmt.Errorf("report id cannot be empty")
	}
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}
	if err := report.Validate(); err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}

	configJSON, err := json.Marshal(report.Config)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	warningsJSON, err := json.Marshal(report.Warnings)
	if err != nil {
		return fmt.Errorf("failed to serialize warnings: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec("DELETE FROM reports WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to replace report: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO reports (id, created_at, dataset_path, samples, fingerprint, config_json, warnings_json, candidates, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, report.CreatedAt.UTC().Format(timeLayout), report.Dataset.Path, report.Dataset.Samples,
		report.Dataset.Fingerprint, string(configJSON), string(warningsJSON), report.Candidates, report.ElapsedMS)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	for rank, rec := range report.Records {
		params, err := json.Marshal(rec.Parameters)
		if err != nil {
			return fmt.Errorf("failed to serialize parameters of %s: %w", rec.ModelName, err)
		}
		stdevs, err := json.Marshal(rec.StandardErrors)
		if err != nil {
			return fmt.Errorf("failed to serialize standard errors of %s: %w", rec.ModelName, err)
		}
		_, err = tx.Exec(`
			INSERT INTO records (report_id, rank, model_name, form, symbols, parameters_json, stdevs_json, cost, functions, rule, indeterminate, method)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, rank, rec.ModelName, rec.Form, rec.Symbols, string(params), string(stdevs), float64(rec.Cost),
			strings.Join(rec.Functions, ","), rec.Rule, rec.CovarianceIndeterminate, rec.Method)
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rec.ModelName, err)
		}
	}

	for _, f := range report.Failures {
		_, err = tx.Exec(`
			INSERT INTO failures (report_id, idx, model_name, stage, error)
			VALUES (?, ?, ?, ?, ?)
		`, id, f.Index, f.ModelName, f.Stage, f.Error)
		if err != nil {
			return fmt.Errorf("failed to insert failure %s: %w", f.ModelName, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report: %w", err)
	}
	slog.Debug("Report saved", "id", id, "records", len(report.Records))
	return nil
}

// LoadReport retrieves the report saved under id.
func (s *SQLiteStore) LoadReport(id string) (*Report, error) {
	var (
		report       Report
		createdAt    string
		datasetPath  sql.NullString
		fingerprint  sql.NullString
		configJSON   string
		warningsJSON sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT id, created_at, dataset_path, samples, fingerprint, config_json, warnings_json, candidates, elapsed_ms
		FROM reports WHERE id = ?
	`, id).Scan(&report.ID, &createdAt, &datasetPath, &report.Dataset.Samples, &fingerprint,
		&configJSON, &warningsJSON, &report.Candidates, &report.ElapsedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{ID: id}
	} else if err != nil {
		return nil, fmt.Errorf("failed to query report: %w", err)
	}

	report.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse report time: %w", err)
	}
	report.Dataset.Path = datasetPath.String
	report.Dataset.Fingerprint = fingerprint.String
	if err := json.Unmarshal([]byte(configJSON), &report.Config); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}
	if warningsJSON.Valid {
		if err := json.Unmarshal([]byte(warningsJSON.String), &report.Warnings); err != nil {
			return nil, fmt.Errorf("failed to deserialize warnings: %w", err)
		}
	}

	if report.Records, err = s.loadRecords(id); err != nil {
		return nil, err
	}
	if report.Failures, err = s.loadFailures(id); err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *SQLiteStore) loadRecords(id string) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT model_name, form, symbols, parameters_json, stdevs_json, cost, functions, rule, indeterminate, method
		FROM records WHERE report_id = ? ORDER BY rank
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			rec       Record
			params    string
			stdevs    string
			cost      float64
			functions string
			method    sql.NullString
		)
		if err := rows.Scan(&rec.ModelName, &rec.Form, &rec.Symbols, &params, &stdevs, &cost,
			&functions, &rec.Rule, &rec.CovarianceIndeterminate, &method); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &rec.Parameters); err != nil {
			return nil, fmt.Errorf("failed to deserialize parameters of %s: %w", rec.ModelName, err)
		}
		if err := json.Unmarshal([]byte(stdevs), &rec.StandardErrors); err != nil {
			return nil, fmt.Errorf("failed to deserialize standard errors of %s: %w", rec.ModelName, err)
		}
		rec.Cost = Float(cost)
		rec.Functions = strings.Split(functions, ",")
		rec.Method = method.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) loadFailures(id string) ([]FailureRecord, error) {
	rows, err := s.db.Query(`
		SELECT idx, model_name, stage, error FROM failures WHERE report_id = ? ORDER BY idx
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var failures []FailureRecord
	for rows.Next() {
		var (
			f   FailureRecord
			msg sql.NullString
		)
		if err := rows.Scan(&f.Index, &f.ModelName, &f.Stage, &msg); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.Error = msg.String
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// ListReports returns metadata for every saved report, newest first.
func (s *SQLiteStore) ListReports() ([]ReportInfo, error) {
	rows, err := s.db.Query(`
		SELECT r.id, r.created_at, r.dataset_path, r.samples, r.candidates,
		       (SELECT COUNT(*) FROM records WHERE report_id = r.id),
		       (SELECT model_name FROM records WHERE report_id = r.id AND rank = 0),
		       (SELECT cost FROM records WHERE report_id = r.id AND rank = 0)
		FROM reports r
		ORDER BY r.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	infos := []ReportInfo{}
	for rows.Next() {
		var (
			info      ReportInfo
			createdAt string
			dataset   sql.NullString
			bestModel sql.NullString
			bestCost  sql.NullFloat64
		)
		if err := rows.Scan(&info.ID, &createdAt, &dataset, &info.Samples, &info.Candidates,
			&info.Succeeded, &bestModel, &bestCost); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		if info.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse report time: %w", err)
		}
		info.Dataset = dataset.String
		info.BestModel = bestModel.String
		info.BestCost = Float(math.Inf(1))
		if bestCost.Valid {
			info.BestCost = Float(bestCost.Float64)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// DeleteReport removes a report with its records and failures.
func (s *SQLiteStore) DeleteReport(id string) error {
	res, err := s.db.Exec("DELETE FROM reports WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count deleted reports: %w", err)
	}
	if n == 0 {
		return &NotFoundError{ID: id}
	}
	slog.Debug("Report deleted", "id", id)
	return nil
}
