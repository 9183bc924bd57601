package repos

import (
	"database/sql"

	"github.com/georgysavva/scany/v2/sqlscan"
)

type (
	// Scanner abstracts row scanning operations for testability
	// and architectural consistency across repositories.
	Scanner interface {
		ScanAll(dst any, rows *sql.Rows) error
		ScanOne(dst any, rows *sql.Rows) error
		IsNotFound(err error) bool
	}

	// SQLScanner implements Scanner using sqlscan.
	SQLScanner struct{}
)

// NewSQLScanner creates a new SQLScanner instance.
func NewSQLScanner() *SQLScanner {
	return &SQLScanner{}
}

// ScanAll scans all rows into the destination slice.
func (s *SQLScanner) ScanAll(dst any, rows *sql.Rows) error {
	return sqlscan.ScanAll(dst, rows)
}

// ScanOne scans a single row into the destination.
func (s *SQLScanner) ScanOne(dst any, rows *sql.Rows) error {
	return sqlscan.ScanOne(dst, rows)
}

// IsNotFound checks if the error indicates no rows were found.
func (s *SQLScanner) IsNotFound(err error) bool {
	return sqlscan.NotFound(err)
}
