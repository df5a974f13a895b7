// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import "strings"

// IsSQLiteBusy checks if the error is a SQLITE_BUSY error, returned when the
// database is locked by another connection.
func IsSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLocked checks if the error is a "database is locked" error.
func IsSQLiteLocked(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflict reports whether the error is a SQLite concurrency error
// that warrants a retry.
func IsSQLiteConflict(err error) bool {
	return IsSQLiteBusy(err) || IsSQLiteLocked(err)
}
