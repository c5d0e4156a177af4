package blocks

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/TreeCityWes/xburn-dashboard/pkg/testutils"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func TestTimestampFromRPCWithWriteThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutils.NewStore(t)
	testutils.SeedChain(t, store)
	client := testutils.NewChainClient()
	client.SetHeader(100, 1700000000)

	bs := New(store, testutils.ChainID, client)
	ts, err := bs.Timestamp(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, int64(1700000000), ts)

	// The resolved timestamp was written through to the durable tier.
	stored, found, err := store.GetBlockTimestamp(ctx, testutils.ChainID, 100)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(1700000000), stored)
}

func TestTimestampFromDurableTier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutils.NewStore(t)
	testutils.SeedChain(t, store)
	require.NoError(t, store.InsertBlockTimestamp(ctx, testutils.ChainID, 200, 1700000123))

	// No header scripted: a client hit would return ErrBlockNotFound, so a
	// successful resolution proves the durable tier answered.
	bs := New(store, testutils.ChainID, testutils.NewChainClient())
	ts, err := bs.Timestamp(ctx, 200)
	require.NoError(t, err)
	require.Equal(t, int64(1700000123), ts)
}

func TestTimestampMemoryTier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutils.NewStore(t)
	testutils.SeedChain(t, store)
	client := testutils.NewChainClient()
	client.SetHeader(300, 1700000456)

	bs := New(store, testutils.ChainID, client)
	_, err := bs.Timestamp(ctx, 300)
	require.NoError(t, err)

	// Swap in a failing client: the cached answer must survive.
	bs.client = failingHeaderClient{}
	ts, err := bs.Timestamp(ctx, 300)
	require.NoError(t, err)
	require.Equal(t, int64(1700000456), ts)
}

func TestTimestampBlockNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutils.NewStore(t)
	testutils.SeedChain(t, store)

	bs := New(store, testutils.ChainID, testutils.NewChainClient())
	_, err := bs.Timestamp(ctx, 999)
	var notFound *ErrBlockNotFound
	require.True(t, errors.As(err, &notFound))
	require.Equal(t, int64(999), notFound.BlockNumber)
	require.Equal(t, testutils.ChainID, notFound.ChainID)
}

type failingHeaderClient struct{}

func (failingHeaderClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return nil, errors.New("client is down")
}
