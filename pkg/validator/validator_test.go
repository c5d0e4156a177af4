package validator

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore"
	"github.com/TreeCityWes/xburn-dashboard/pkg/testutils"
	"github.com/stretchr/testify/require"
)

func TestDetectGaps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutils.NewStore(t)
	testutils.SeedChain(t, store)
	insertEventsAt(t, store, 100, 101, 105, 106)

	gaps, err := New(store, testutils.ChainID).DetectGaps(ctx)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	require.Equal(t, int64(101), gaps[0].GapStart)
	require.Equal(t, int64(105), gaps[0].GapEnd)
	require.Equal(t, int64(4), gaps[0].GapSize)
}

func TestDetectGapsIgnoresHugeJumps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutils.NewStore(t)
	testutils.SeedChain(t, store)
	// A jump of >= 1000 blocks is a start-block discontinuity, not a gap.
	insertEventsAt(t, store, 100, 1100, 1101)

	gaps, err := New(store, testutils.ChainID).DetectGaps(ctx)
	require.NoError(t, err)
	require.Len(t, gaps, 0)
}

func TestDetectGapsContiguous(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutils.NewStore(t)
	testutils.SeedChain(t, store)
	insertEventsAt(t, store, 10, 11, 12, 13)

	gaps, err := New(store, testutils.ChainID).DetectGaps(ctx)
	require.NoError(t, err)
	require.Len(t, gaps, 0)
}

func TestComputeDigestDeterminism(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutils.NewStore(t)
	testutils.SeedChain(t, store)
	insertEventsAt(t, store, 10, 11, 12)
	v := New(store, testutils.ChainID)

	first, err := v.ComputeDigest(ctx)
	require.NoError(t, err)
	second, err := v.ComputeDigest(ctx)
	require.NoError(t, err)
	require.Equal(t, first.Digest, second.Digest)
	require.Equal(t, int64(3), first.EventCount)

	// A new event changes the digest.
	insertEventsAt(t, store, 13)
	third, err := v.ComputeDigest(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first.Digest, third.Digest)
	require.Equal(t, int64(4), third.EventCount)
}

func TestRunGapScanPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutils.NewStore(t)
	testutils.SeedChain(t, store)
	insertEventsAt(t, store, 100, 101, 105, 106)

	New(store, testutils.ChainID).RunGapScan(ctx)

	gaps, err := store.ListBlockGaps(ctx, testutils.ChainID)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	require.Equal(t, int64(4), gaps[0].GapSize)
	require.False(t, gaps[0].Reprocessed)

	// Re-scanning doesn't duplicate an already recorded gap.
	New(store, testutils.ChainID).RunGapScan(ctx)
	gaps, err = store.ListBlockGaps(ctx, testutils.ChainID)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
}

func insertEventsAt(t *testing.T, store sqlstore.SystemStore, blockNumbers ...int64) {
	t.Helper()
	for _, b := range blockNumbers {
		require.NoError(t, store.InsertBurnEvent(context.Background(), sqlstore.BurnEvent{
			ChainID:        testutils.ChainID,
			TxHash:         fmt.Sprintf("0x%064x", b),
			EventType:      sqlstore.EventTypeXENBurned,
			BlockNumber:    b,
			BlockTimestamp: 1700000000 + b,
			UserAddress:    "0x00000000000000000000000000000000000000AA",
			Amount:         big.NewInt(100),
		}))
	}
}
