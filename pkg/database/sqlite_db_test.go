package database

import (
	"testing"

	"github.com/TreeCityWes/xburn-dashboard/tests"
	"github.com/stretchr/testify/require"
)

func TestOpenRunsMigrations(t *testing.T) {
	t.Parallel()

	db, err := Open(tests.Sqlite3URL())
	require.NoError(t, err)
	defer db.Close() //nolint

	for _, table := range []string{
		"chains",
		"burn_events",
		"burn_positions",
		"analytics",
		"block_timestamps",
		"block_gaps",
		"validation_stats",
		"data_integrity",
	} {
		var name string
		err := db.DB.QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?1", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	uri := tests.Sqlite3URL()

	db1, err := Open(uri)
	require.NoError(t, err)
	defer db1.Close() //nolint

	// A second open on the same database finds the schema already at the
	// latest version.
	db2, err := Open(uri)
	require.NoError(t, err)
	require.NoError(t, db2.Close())
}
