package impl

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/TreeCityWes/xburn-dashboard/pkg/eventfeed"
	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// categoryNames label the four independent log queries of a batch.
var categoryNames = []string{"burn_transfers", "explicit_burns", "position_mints", "claims"}

// EventFeed pulls decoded burn-domain log batches from a chain-log source.
type EventFeed struct {
	log     zerolog.Logger
	store   sqlstore.SystemStore
	chainID sqlstore.ChainID
	client  eventfeed.ChainClient
	addrs   eventfeed.ContractAddresses
	config  *eventfeed.Config

	// inFlight bounds concurrency to one batch per chain: a poll already
	// running suppresses a new trigger rather than queuing it.
	inFlight atomic.Bool
	lastTip  atomic.Int64

	// Metrics
	mBaseLabels       []attribute.KeyValue
	mEventTypeCounter instrument.Int64Counter
	mCurrentHeight    atomic.Int64
}

var _ eventfeed.EventFeed = (*EventFeed)(nil)

// New returns a new EventFeed.
func New(
	store sqlstore.SystemStore,
	chainID sqlstore.ChainID,
	client eventfeed.ChainClient,
	addrs eventfeed.ContractAddresses,
	opts ...eventfeed.Option,
) (*EventFeed, error) {
	config := eventfeed.DefaultConfig()
	for _, o := range opts {
		if err := o(config); err != nil {
			return nil, fmt.Errorf("applying provided option: %s", err)
		}
	}
	log := logger.With().
		Str("component", "eventfeed").
		Int64("chain_id", int64(chainID)).
		Logger()
	ef := &EventFeed{
		log:     log,
		store:   store,
		chainID: chainID,
		client:  client,
		addrs:   addrs,
		config:  config,
	}
	if err := ef.initMetrics(chainID); err != nil {
		return nil, fmt.Errorf("initializing metrics instruments: %s", err)
	}

	return ef, nil
}

// Start runs the catch-up backfill followed by the repeating poll loop,
// sending completed batches to ch. This is a blocking call; the caller must
// cancel the provided context to shut down the feed. The channel isn't
// closed.
func (ef *EventFeed) Start(ctx context.Context, ch chan<- eventfeed.Batch) error {
	ef.log.Debug().Msg("starting...")
	defer ef.log.Debug().Msg("stopped")

	if err := ef.catchUp(ctx, ch); err != nil {
		return fmt.Errorf("historical catch-up: %s", err)
	}

	// A head jump bigger than the configured threshold triggers an
	// out-of-cadence poll; downstream idempotency tolerates the double
	// processing this can cause.
	trigger := make(chan struct{}, 1)
	ef.notifyNewHeads(ctx, trigger)

	ticker := time.NewTicker(ef.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			ef.log.Info().Msg("gracefully closing event feed")
			return nil
		case <-ticker.C:
			ef.poll(ctx, ch)
		case <-trigger:
			ef.poll(ctx, ch)
		}
	}
}

// catchUp backfills from max(configured start block, highest observed
// block+1) up to the confirmed head.
func (ef *EventFeed) catchUp(ctx context.Context, ch chan<- eventfeed.Batch) error {
	chain, err := ef.store.GetChain(ctx, ef.chainID)
	if err != nil {
		return fmt.Errorf("get chain config: %s", err)
	}
	highest, err := ef.store.HighestObservedBlock(ctx, ef.chainID)
	if err != nil {
		return fmt.Errorf("get highest observed block: %s", err)
	}
	head, err := ef.client.BlockNumber(ctx)
	if err != nil {
		// Transient source failure; the poll loop will catch up instead.
		ef.log.Warn().Err(err).Msg("get head for catch-up")
		return nil
	}

	fromBlock := chain.StartBlock
	if highest+1 > fromBlock {
		fromBlock = highest + 1
	}
	toBlock := int64(head) - ef.config.ConfirmationBuffer
	if fromBlock > toBlock {
		return nil
	}
	return ef.Backfill(ctx, fromBlock, toBlock, ch)
}

// poll fetches and emits the next confirmed batch. A batch already in flight
// suppresses the trigger.
func (ef *EventFeed) poll(ctx context.Context, ch chan<- eventfeed.Batch) {
	if !ef.inFlight.CompareAndSwap(false, true) {
		ef.log.Debug().Msg("poll suppressed, batch in flight")
		return
	}
	defer ef.inFlight.Store(false)

	chain, err := ef.store.GetChain(ctx, ef.chainID)
	if err != nil {
		ef.log.Warn().Err(err).Msg("get chain config")
		return
	}
	head, err := ef.client.BlockNumber(ctx)
	if err != nil {
		ef.log.Warn().Err(err).Msg("get chain head")
		return
	}

	fromBlock := chain.LastIndexedBlock + 1
	if chain.StartBlock > fromBlock {
		fromBlock = chain.StartBlock
	}
	batchSize := chain.BatchSize
	if batchSize < 1 {
		batchSize = ef.config.BatchSize
	}
	toBlock := int64(head) - ef.config.ConfirmationBuffer
	if max := fromBlock + batchSize - 1; toBlock > max {
		toBlock = max
	}
	if fromBlock > toBlock {
		return
	}

	logs, err := ef.fetchRange(ctx, fromBlock, toBlock)
	if err != nil {
		// The cursor stays untouched: the whole batch is retried on the
		// next tick.
		ef.log.Warn().
			Err(err).
			Int64("from_block", fromBlock).
			Int64("to_block", toBlock).
			Msg("fetching batch")
		return
	}

	batch := eventfeed.Batch{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Blocks:    ef.packEvents(logs),
	}
	select {
	case ch <- batch:
	case <-ctx.Done():
		return
	}
	ef.lastTip.Store(toBlock)
	ef.mCurrentHeight.Store(toBlock)
}

// fetchRange runs the four per-category log queries concurrently and joins
// them; a single failure fails the whole range.
func (ef *EventFeed) fetchRange(ctx context.Context, fromBlock, toBlock int64) ([]types.Log, error) {
	queries := ef.categoryQueries(fromBlock, toBlock)
	results := make([][]types.Log, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			logs, err := ef.client.FilterLogs(gctx, q)
			if err != nil {
				return fmt.Errorf("filter %s logs [%d-%d]: %s", categoryNames[i], fromBlock, toBlock, err)
			}
			results[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []types.Log
	for _, logs := range results {
		merged = append(merged, logs...)
	}
	// Later event types depend causally on earlier ones in the same range,
	// so keep strict (block, log index) order.
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].BlockNumber != merged[j].BlockNumber {
			return merged[i].BlockNumber < merged[j].BlockNumber
		}
		return merged[i].Index < merged[j].Index
	})
	return merged, nil
}

func (ef *EventFeed) categoryQueries(fromBlock, toBlock int64) []ethereum.FilterQuery {
	from := big.NewInt(fromBlock)
	to := big.NewInt(toBlock)
	nullAddressTopic := common.BytesToHash(common.Address{}.Bytes())
	return []ethereum.FilterQuery{
		{
			FromBlock: from,
			ToBlock:   to,
			Addresses: []common.Address{ef.addrs.XENToken},
			Topics: [][]common.Hash{
				{eventfeed.XENTokenABI.Events["Transfer"].ID},
				nil,
				{nullAddressTopic},
			},
		},
		{
			FromBlock: from,
			ToBlock:   to,
			Addresses: []common.Address{ef.addrs.BurnMinter},
			Topics:    [][]common.Hash{{eventfeed.BurnMinterABI.Events["XENBurned"].ID}},
		},
		{
			FromBlock: from,
			ToBlock:   to,
			Addresses: []common.Address{ef.addrs.BurnNFT},
			Topics:    [][]common.Hash{{eventfeed.BurnNFTABI.Events["BurnNFTMinted"].ID}},
		},
		{
			FromBlock: from,
			ToBlock:   to,
			Addresses: []common.Address{ef.addrs.BurnMinter, ef.addrs.BurnNFT},
			Topics: [][]common.Hash{{
				eventfeed.BurnMinterABI.Events["XburnClaimed"].ID,
				eventfeed.BurnMinterABI.Events["EmergencyEnd"].ID,
				eventfeed.BurnNFTABI.Events["BurnNFTClaimed"].ID,
				eventfeed.BurnNFTABI.Events["BurnNFTBurned"].ID,
			}},
		},
	}
}

// packEvents decodes a linear stream of logs and packs it in two nested
// groups: first by block number, then by txn hash within a block. Malformed
// logs are skipped.
func (ef *EventFeed) packEvents(logs []types.Log) []eventfeed.BlockEvents {
	var ret []eventfeed.BlockEvents
	for _, l := range logs {
		event, err := eventfeed.DecodeLog(l)
		if err != nil {
			if !errors.Is(err, eventfeed.ErrUnknownEvent) {
				ef.log.Error().
					Str("txn_hash", l.TxHash.Hex()).
					Err(err).
					Msg("decoding event")
			}
			continue
		}
		ef.countEvent(event)

		if len(ret) == 0 || ret[len(ret)-1].BlockNumber != int64(l.BlockNumber) {
			ret = append(ret, eventfeed.BlockEvents{BlockNumber: int64(l.BlockNumber)})
		}
		block := &ret[len(ret)-1]
		if len(block.Txns) == 0 || block.Txns[len(block.Txns)-1].TxnHash != l.TxHash {
			block.Txns = append(block.Txns, eventfeed.TxnEvents{TxnHash: l.TxHash})
		}
		txn := &block.Txns[len(block.Txns)-1]
		txn.Events = append(txn.Events, event)
	}
	return ret
}

// notifyNewHeads watches new chain heads and triggers an eager poll when a
// head jumps past the last completed batch tip by more than the threshold.
// The feed works fine without the subscription; the poll cadence covers it.
func (ef *EventFeed) notifyNewHeads(ctx context.Context, trigger chan<- struct{}) {
	heads := make(chan *types.Header, 1)
	sub, err := ef.client.SubscribeNewHead(ctx, heads)
	if err != nil {
		ef.log.Warn().Err(err).Msg("head subscription unavailable, relying on poll cadence")
		return
	}
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				ef.log.Info().Msg("gracefully closing new heads subscription")
				return
			case err := <-sub.Err():
				ef.log.Warn().Err(err).Msg("head subscription failed, relying on poll cadence")
				return
			case h := <-heads:
				if h.Number.Int64()-ef.lastTip.Load() > ef.config.EagerHeadThreshold {
					select {
					case trigger <- struct{}{}:
					default:
					}
				}
			}
		}
	}()
}
