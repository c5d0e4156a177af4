package eventfeed

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventFeed provides a stream of typed burn-domain events from a chain.
type EventFeed interface {
	// Start runs the catch-up backfill and then the repeating poll loop,
	// sending completed batches to ch. It blocks until ctx is canceled.
	Start(ctx context.Context, ch chan<- Batch) error
	// Backfill walks [fromBlock, toBlock] in fixed-size windows, halving a
	// window on fetch failure before giving up on that sub-range.
	Backfill(ctx context.Context, fromBlock, toBlock int64, ch chan<- Batch) error
}

// ChainClient is the upstream chain-log capability the feed depends on. It is
// assumed to fail transiently and recover.
type ChainClient interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ContractAddresses are the three observed contracts of a chain.
type ContractAddresses struct {
	XENToken   common.Address
	BurnMinter common.Address
	BurnNFT    common.Address
}

// Batch is a fully fetched block range. The cursor may only advance to
// ToBlock after every event in Blocks is durably committed.
type Batch struct {
	FromBlock int64
	ToBlock   int64
	Blocks    []BlockEvents
}

// BlockEvents is a grouping of events in a block.
type BlockEvents struct {
	BlockNumber int64
	Txns        []TxnEvents
}

// TxnEvents is a grouping of events in a transaction.
type TxnEvents struct {
	TxnHash common.Hash
	Events  []interface{}
}

// Config contains configuration attributes for an event feed.
type Config struct {
	ConfirmationBuffer int64
	BatchSize          int64
	PollInterval       time.Duration
	BackfillWindow     int64
	BackfillFloor      int64
	EagerHeadThreshold int64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ConfirmationBuffer: 5,
		BatchSize:          100,
		PollInterval:       time.Second * 15,
		BackfillWindow:     2000,
		BackfillFloor:      100,
		EagerHeadThreshold: 10,
	}
}

// Option modifies a configuration attribute.
type Option func(*Config) error

// WithConfirmationBuffer sets how many blocks behind the head are considered
// reorg-safe.
func WithConfirmationBuffer(blocks int64) Option {
	return func(c *Config) error {
		if blocks < 0 {
			return fmt.Errorf("confirmation buffer is negative")
		}
		c.ConfirmationBuffer = blocks
		return nil
	}
}

// WithBatchSize sets the fallback batch size used when the chain
// configuration doesn't provide one.
func WithBatchSize(size int64) Option {
	return func(c *Config) error {
		if size < 1 {
			return fmt.Errorf("batch size is too low (<1)")
		}
		c.BatchSize = size
		return nil
	}
}

// WithPollInterval sets the poll cadence.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) error {
		if interval <= 0 {
			return fmt.Errorf("poll interval isn't positive")
		}
		c.PollInterval = interval
		return nil
	}
}

// WithBackfillWindow sets the historical backfill window size.
func WithBackfillWindow(window int64) Option {
	return func(c *Config) error {
		if window < 1 {
			return fmt.Errorf("backfill window is too low (<1)")
		}
		c.BackfillWindow = window
		return nil
	}
}

// WithBackfillFloor sets the smallest window the backfill retries before
// giving up on a sub-range.
func WithBackfillFloor(floor int64) Option {
	return func(c *Config) error {
		if floor < 1 {
			return fmt.Errorf("backfill floor is too low (<1)")
		}
		c.BackfillFloor = floor
		return nil
	}
}

// WithEagerHeadThreshold sets how far a new head must jump past the last
// batch tip to trigger an out-of-cadence poll.
func WithEagerHeadThreshold(blocks int64) Option {
	return func(c *Config) error {
		if blocks < 1 {
			return fmt.Errorf("eager head threshold is too low (<1)")
		}
		c.EagerHeadThreshold = blocks
		return nil
	}
}
