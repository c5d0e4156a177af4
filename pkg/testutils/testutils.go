package testutils

import (
	"context"
	"testing"

	"github.com/TreeCityWes/xburn-dashboard/pkg/database"
	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore"
	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore/impl/system"
	"github.com/TreeCityWes/xburn-dashboard/tests"
	"github.com/stretchr/testify/require"
)

// ChainID is the test chain id.
var ChainID = sqlstore.ChainID(1337)

// NewStore returns a SystemStore backed by a fresh in-memory database with
// the schema migrated.
func NewStore(t *testing.T) sqlstore.SystemStore {
	t.Helper()

	db, err := database.Open(tests.Sqlite3URL())
	require.NoError(t, err)
	store := system.New(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// SeedChain registers an enabled test chain and returns it.
func SeedChain(t *testing.T, store sqlstore.SystemStore) sqlstore.Chain {
	t.Helper()

	chain := sqlstore.Chain{
		ID:                ChainID,
		Name:              "testchain",
		RPCURL:            "http://localhost:8545",
		XENTokenAddress:   "0x0000000000000000000000000000000000000101",
		BurnMinterAddress: "0x0000000000000000000000000000000000000102",
		BurnNFTAddress:    "0x0000000000000000000000000000000000000103",
		StartBlock:        1,
		BatchSize:         100,
		Enabled:           true,
	}
	require.NoError(t, store.UpsertChain(context.Background(), chain))
	return chain
}
