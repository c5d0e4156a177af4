// Package blocks resolves block numbers to timestamps through three tiers:
// an in-memory cache, the durable store, and the RPC origin.
package blocks

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

// HeaderClient is the minimal chain capability the service needs.
type HeaderClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// ErrBlockNotFound signals that the RPC origin has no block for the number.
type ErrBlockNotFound struct {
	ChainID     sqlstore.ChainID
	BlockNumber int64
}

func (e *ErrBlockNotFound) Error() string {
	return fmt.Sprintf("block %d not found on chain %d", e.BlockNumber, e.ChainID)
}

// BlockService caches block timestamps. Timestamps are immutable facts, so
// the memory tier is never evicted.
type BlockService struct {
	log     zerolog.Logger
	store   sqlstore.SystemStore
	chainID sqlstore.ChainID
	client  HeaderClient

	mu    sync.Mutex
	cache map[int64]int64
}

// New returns a new BlockService.
func New(store sqlstore.SystemStore, chainID sqlstore.ChainID, client HeaderClient) *BlockService {
	log := logger.With().
		Str("component", "blockservice").
		Int64("chain_id", int64(chainID)).
		Logger()
	return &BlockService{
		log:     log,
		store:   store,
		chainID: chainID,
		client:  client,
		cache:   map[int64]int64{},
	}
}

// Timestamp resolves a block number to its timestamp. On a cache miss the
// RPC result is written through to the durable store.
func (bs *BlockService) Timestamp(ctx context.Context, blockNumber int64) (int64, error) {
	bs.mu.Lock()
	if ts, ok := bs.cache[blockNumber]; ok {
		bs.mu.Unlock()
		return ts, nil
	}
	bs.mu.Unlock()

	ts, found, err := bs.store.GetBlockTimestamp(ctx, bs.chainID, blockNumber)
	if err != nil {
		return 0, fmt.Errorf("get durable block timestamp: %s", err)
	}
	if found {
		bs.remember(blockNumber, ts)
		return ts, nil
	}

	header, err := bs.client.HeaderByNumber(ctx, big.NewInt(blockNumber))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return 0, &ErrBlockNotFound{ChainID: bs.chainID, BlockNumber: blockNumber}
		}
		return 0, fmt.Errorf("get block header %d: %s", blockNumber, err)
	}
	if header == nil {
		return 0, &ErrBlockNotFound{ChainID: bs.chainID, BlockNumber: blockNumber}
	}

	ts = int64(header.Time)
	if err := bs.store.InsertBlockTimestamp(ctx, bs.chainID, blockNumber, ts); err != nil {
		// The write-through is an optimization; the timestamp itself is good.
		bs.log.Warn().Err(err).Int64("block_number", blockNumber).Msg("persisting block timestamp")
	}
	bs.remember(blockNumber, ts)
	return ts, nil
}

func (bs *BlockService) remember(blockNumber, timestamp int64) {
	bs.mu.Lock()
	bs.cache[blockNumber] = timestamp
	bs.mu.Unlock()
}
