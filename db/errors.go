package db

import (
	"strings"

	"github.com/divyamanohar-stripe/datahub/errors"
)

// ErrDatabaseClosed is returned when a store is used after Close.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// It matches both ErrDatabaseClosed and the raw driver message, which the
// sql package returns without a sentinel.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
