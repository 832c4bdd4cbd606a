//go:build cgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// NewSQLite opens (creating if necessary) a SQLite-backed Store at path.
// This build uses the CGO mattn/go-sqlite3 driver.
func NewSQLite(path string) (*SQLite, error) {
	return newSQLiteWithDriver("sqlite3", path)
}
