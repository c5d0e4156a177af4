package tests

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Sqlite3URL returns the URI of a fresh temporary SQLite database. A file is
// used instead of a shared in-memory database because the latter is dropped
// as soon as the migration connection opened by database.Open closes.
func Sqlite3URL() string {
	dir, err := os.MkdirTemp("", "sqlite3url")
	if err != nil {
		panic(err)
	}
	return "file:" + filepath.Join(dir, uuid.NewString()+".db") + "?_foreign_keys=on"
}
