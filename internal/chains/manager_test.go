package chains

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/TreeCityWes/xburn-dashboard/pkg/eventfeed"
	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore"
	"github.com/TreeCityWes/xburn-dashboard/pkg/testutils"
	"github.com/stretchr/testify/require"
)

func TestInitializeSeedsDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutils.NewStore(t)
	manager := NewManager(store, fakeDial(t))
	defer func() { require.NoError(t, manager.Close(ctx)) }()

	require.NoError(t, manager.Initialize(ctx))

	chains, err := store.GetChains(ctx)
	require.NoError(t, err)
	require.Len(t, chains, 2)
	ids := map[sqlstore.ChainID]bool{}
	for _, chain := range chains {
		ids[chain.ID] = true
		// Seeded defaults are registered disabled until an operator fills
		// in real contract addresses.
		require.False(t, chain.Enabled)
	}
	require.True(t, ids[1])
	require.True(t, ids[8453])

	// Nothing enabled, so nothing is running.
	require.Len(t, manager.stacks, 0)
}

func TestInitializeKeepsExistingChains(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutils.NewStore(t)
	testutils.SeedChain(t, store)
	manager := NewManager(store, fakeDial(t))
	defer func() { require.NoError(t, manager.Close(ctx)) }()

	require.NoError(t, manager.Initialize(ctx))

	chains, err := store.GetChains(ctx)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	require.Equal(t, testutils.ChainID, chains[0].ID)
	// The seeded chain is enabled, so its stack is running.
	require.Len(t, manager.stacks, 1)
}

func TestAddChainValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutils.NewStore(t)
	manager := NewManager(store, fakeDial(t))

	valid := sqlstore.Chain{
		ID:                10,
		Name:              "somechain",
		RPCURL:            "https://rpc.somechain.org",
		XENTokenAddress:   "0x0000000000000000000000000000000000000301",
		BurnMinterAddress: "0x0000000000000000000000000000000000000302",
		BurnNFTAddress:    "0x0000000000000000000000000000000000000303",
	}

	tests := []struct {
		name   string
		mutate func(*sqlstore.Chain)
	}{
		{name: "zero id", mutate: func(c *sqlstore.Chain) { c.ID = 0 }},
		{name: "empty name", mutate: func(c *sqlstore.Chain) { c.Name = " " }},
		{name: "bad rpc url", mutate: func(c *sqlstore.Chain) { c.RPCURL = "somechain.org" }},
		{name: "bad token address", mutate: func(c *sqlstore.Chain) { c.XENTokenAddress = "nope" }},
		{name: "bad minter address", mutate: func(c *sqlstore.Chain) { c.BurnMinterAddress = "0x123" }},
		{name: "bad nft address", mutate: func(c *sqlstore.Chain) { c.BurnNFTAddress = "" }},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			chain := valid
			tc.mutate(&chain)
			err := manager.AddChain(ctx, chain)
			var confErr *ConfigurationError
			require.ErrorAs(t, err, &confErr)
		})
	}

	// The valid configuration goes through.
	require.NoError(t, manager.AddChain(ctx, valid))
	defer func() { require.NoError(t, manager.Close(ctx)) }()
	stored, err := store.GetChain(ctx, 10)
	require.NoError(t, err)
	require.True(t, stored.Enabled)
	require.Len(t, manager.stacks, 1)
}

func TestDisableChainQuiesces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutils.NewStore(t)
	testutils.SeedChain(t, store)
	manager := NewManager(store, fakeDial(t))
	require.NoError(t, manager.Initialize(ctx))
	defer func() { require.NoError(t, manager.Close(ctx)) }()
	require.Len(t, manager.stacks, 1)

	require.NoError(t, manager.DisableChain(ctx, testutils.ChainID))

	require.Len(t, manager.stacks, 0)
	chain, err := store.GetChain(ctx, testutils.ChainID)
	require.NoError(t, err)
	require.False(t, chain.Enabled)

	// Disabling an already stopped chain is a no-op.
	require.NoError(t, manager.DisableChain(ctx, testutils.ChainID))
}

func TestAddChainFailedStartStaysDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutils.NewStore(t)
	manager := NewManager(store, func(ctx context.Context, rpcURL string) (eventfeed.ChainClient, error) {
		return nil, errors.New("connection refused")
	})

	err := manager.AddChain(ctx, sqlstore.Chain{
		ID:                10,
		Name:              "somechain",
		RPCURL:            "https://rpc.somechain.org",
		XENTokenAddress:   "0x0000000000000000000000000000000000000301",
		BurnMinterAddress: "0x0000000000000000000000000000000000000302",
		BurnNFTAddress:    "0x0000000000000000000000000000000000000303",
	})
	require.Error(t, err)

	// The chain configuration is kept, but it is never flagged enabled
	// without a running stack.
	stored, err := store.GetChain(ctx, 10)
	require.NoError(t, err)
	require.False(t, stored.Enabled)
	require.Len(t, manager.stacks, 0)
}

func TestAddChainAlreadyRunning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutils.NewStore(t)
	manager := NewManager(store, fakeDial(t))
	defer func() { require.NoError(t, manager.Close(ctx)) }()

	chain := sqlstore.Chain{
		ID:                10,
		Name:              "somechain",
		RPCURL:            "https://rpc.somechain.org",
		XENTokenAddress:   "0x0000000000000000000000000000000000000301",
		BurnMinterAddress: "0x0000000000000000000000000000000000000302",
		BurnNFTAddress:    "0x0000000000000000000000000000000000000303",
	}
	require.NoError(t, manager.AddChain(ctx, chain))

	// Re-adding a running chain is rejected without touching its stored
	// enabled flag.
	require.Error(t, manager.AddChain(ctx, chain))
	stored, err := store.GetChain(ctx, 10)
	require.NoError(t, err)
	require.True(t, stored.Enabled)
	require.Len(t, manager.stacks, 1)
}

func TestGapScanCadenceRecordsGaps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutils.NewStore(t)
	testutils.SeedChain(t, store)
	manager := NewManager(store, fakeDial(t))
	require.NoError(t, manager.Initialize(ctx))
	defer func() { require.NoError(t, manager.Close(ctx)) }()

	for _, b := range []int64{100, 101, 105, 106} {
		require.NoError(t, store.InsertBurnEvent(ctx, sqlstore.BurnEvent{
			ChainID:        testutils.ChainID,
			TxHash:         fmt.Sprintf("0x%064x", b),
			EventType:      sqlstore.EventTypeXENBurned,
			BlockNumber:    b,
			BlockTimestamp: 1700000000 + b,
			UserAddress:    "0x00000000000000000000000000000000000000AA",
			Amount:         big.NewInt(100),
		}))
	}

	manager.runGapScans(ctx)

	gaps, err := store.ListBlockGaps(ctx, testutils.ChainID)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	require.Equal(t, int64(101), gaps[0].GapStart)
	require.Equal(t, int64(105), gaps[0].GapEnd)
}

func fakeDial(t *testing.T) DialFunc {
	t.Helper()
	return func(ctx context.Context, rpcURL string) (eventfeed.ChainClient, error) {
		return testutils.NewChainClient(), nil
	}
}
