package store

// Store persists search reports.
//
// Error handling conventions:
//   - Return ErrNotFound if the report doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveReport saves a report under id, overwriting an existing one.
	// Implementations write atomically so a crash never leaves a partial
	// report behind.
	SaveReport(id string, report *Report) error

	// LoadReport retrieves the report saved under id.
	LoadReport(id string) (*Report, error)

	// ListReports returns metadata for every saved report, newest first.
	ListReports() ([]ReportInfo, error)

	// DeleteReport removes the report and every artifact stored with it.
	DeleteReport(id string) error
}

// ErrNotFound is returned when a requested report does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing report.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return "report not found: " + e.ID
	}
	return "report not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
