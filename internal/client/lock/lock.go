// Package lock guards the local database with an advisory file lock so
// only one process writes the journal at a time.
package lock

import "errors"

var ErrLocked = errors.New("database is locked by another process")

// PathFor returns the lock file path for a database path.
func PathFor(dbPath string) string {
	return dbPath + ".lock"
}
