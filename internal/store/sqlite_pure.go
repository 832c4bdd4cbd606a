//go:build !cgo

package store

import (
	_ "modernc.org/sqlite"
)

// NewSQLite opens (creating if necessary) a SQLite-backed Store at path.
// This build uses the pure-Go modernc.org/sqlite driver, registered under
// the "sqlite" driver name.
func NewSQLite(path string) (*SQLite, error) {
	return newSQLiteWithDriver("sqlite", path)
}
