package impl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/TreeCityWes/xburn-dashboard/pkg/blocks"
	"github.com/TreeCityWes/xburn-dashboard/pkg/eventfeed"
	"github.com/TreeCityWes/xburn-dashboard/pkg/eventprocessor"
	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.uber.org/atomic"
)

// EventProcessor maps decoded events to storage mutations and owns the
// position state machine.
type EventProcessor struct {
	log      zerolog.Logger
	store    sqlstore.SystemStore
	client   eventfeed.ChainClient
	blockSvc *blocks.BlockService
	feed     eventfeed.EventFeed
	chainID  sqlstore.ChainID
	addrs    eventfeed.ContractAddresses
	config   *eventprocessor.Config

	lock           sync.Mutex
	daemonCtx      context.Context
	daemonCancel   context.CancelFunc
	daemonCanceled chan struct{}

	// Metrics
	mBaseLabels            []attribute.KeyValue
	mExecutionRound        atomic.Int64
	mLastProcessedHeight   atomic.Int64
	mBatchExecutionLatency instrument.Int64Histogram
	mEventExecutionCounter instrument.Int64Counter
}

var _ eventprocessor.EventProcessor = (*EventProcessor)(nil)

// The bindings' Raw field shouldn't end up in the persisted event JSON;
// jsoniter lets us omit it without editing struct tags.
var eventJSONCfg = func() jsoniter.API {
	cfg := jsoniter.Config{}.Froze()
	cfg.RegisterExtension(&omitRawFieldExtension{})
	return cfg
}()

type omitRawFieldExtension struct {
	jsoniter.DummyExtension
}

func (e *omitRawFieldExtension) UpdateStructDescriptor(structDescriptor *jsoniter.StructDescriptor) {
	if binding := structDescriptor.GetField("Raw"); binding != nil {
		binding.ToNames = []string{}
	}
}

// New returns a new EventProcessor.
func New(
	store sqlstore.SystemStore,
	client eventfeed.ChainClient,
	blockSvc *blocks.BlockService,
	feed eventfeed.EventFeed,
	chainID sqlstore.ChainID,
	addrs eventfeed.ContractAddresses,
	opts ...eventprocessor.Option,
) (*EventProcessor, error) {
	config := eventprocessor.DefaultConfig()
	for _, op := range opts {
		if err := op(config); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}

	log := logger.With().
		Str("component", "eventprocessor").
		Int64("chain_id", int64(chainID)).
		Logger()
	ep := &EventProcessor{
		log:      log,
		store:    store,
		client:   client,
		blockSvc: blockSvc,
		feed:     feed,
		chainID:  chainID,
		addrs:    addrs,
		config:   config,
	}
	if err := ep.initMetrics(chainID); err != nil {
		return nil, fmt.Errorf("initializing metric instruments: %s", err)
	}

	return ep, nil
}

// Start starts processing new events from the last indexed height.
func (ep *EventProcessor) Start() error {
	ep.lock.Lock()
	defer ep.lock.Unlock()

	if ep.daemonCtx != nil {
		return fmt.Errorf("already started")
	}

	ep.log.Debug().Msg("starting daemon...")
	ctx, cls := context.WithCancel(context.Background())
	ep.daemonCtx = ctx
	ep.daemonCancel = cls
	ep.daemonCanceled = make(chan struct{})
	ep.startDaemon()
	ep.log.Info().Msg("started")

	return nil
}

// Stop stops processing new events. It blocks until in-flight work has
// quiesced, so callers can rely on a deterministic detach.
func (ep *EventProcessor) Stop() {
	ep.lock.Lock()
	defer ep.lock.Unlock()
	if ep.daemonCtx == nil {
		return
	}

	ep.log.Debug().Msg("stopping processor gracefully...")
	ep.daemonCancel()
	<-ep.daemonCanceled

	// Cleanup to allow Start() to be called again.
	ep.daemonCtx = nil
	ep.daemonCancel = nil
	ep.daemonCanceled = nil
	ep.mExecutionRound.Store(0)

	ep.log.Debug().Msg("processor stopped")
}

func (ep *EventProcessor) startDaemon() {
	// The feed sends completed batches on ch; canceling daemonCtx closes
	// the feed, and the deferred close(ch) lets the consumer finish too.
	ch := make(chan eventfeed.Batch)
	go func() {
		defer close(ch)
		if err := ep.feed.Start(ep.daemonCtx, ch); err != nil {
			ep.log.Error().Err(err).Msg("event feed was closed unexpectedly")
			return
		}
		ep.log.Info().Msg("event feed gracefully closed")
	}()

	go func() {
		defer close(ep.daemonCanceled)
		defer ep.log.Info().Msg("processor gracefully closed")

		for batch := range ch {
			// If a batch execution fails it *must* be a transient problem
			// (e.g. the database is down). Keep retrying, since we must
			// always be able to make progress; the execution-round metric
			// lets operators detect if we're stuck.
			for {
				if ep.daemonCtx.Err() != nil {
					break
				}
				if err := ep.ExecuteBatch(ep.daemonCtx, batch); err != nil {
					ep.log.Error().
						Int("attempt", int(ep.mExecutionRound.Load())).
						Int64("from_block", batch.FromBlock).
						Int64("to_block", batch.ToBlock).
						Err(err).
						Msg("executing batch")
					ep.mExecutionRound.Inc()
					time.Sleep(ep.config.BatchFailedExecutionBackoff)
					continue
				}
				break
			}
			ep.mExecutionRound.Store(0)
		}
	}()
}

// ExecuteBatch executes all events of a batch and then advances the chain
// cursor to the batch tip. Every event handler runs in its own transaction;
// the cursor only moves after all of them committed, so a crash mid-batch is
// safely replayed and absorbed by the upserts.
func (ep *EventProcessor) ExecuteBatch(ctx context.Context, batch eventfeed.Batch) error {
	start := time.Now()
	for _, block := range batch.Blocks {
		timestamp, err := ep.blockSvc.Timestamp(ctx, block.BlockNumber)
		if err != nil {
			return fmt.Errorf("resolving timestamp of block %d: %s", block.BlockNumber, err)
		}
		for _, txn := range block.Txns {
			for _, event := range txn.Events {
				if err := ep.executeEvent(ctx, block.BlockNumber, timestamp, txn.TxnHash, event); err != nil {
					return fmt.Errorf("executing event of txn %s: %s", txn.TxnHash, err)
				}
				attrs := append([]attribute.KeyValue{
					attribute.String("eventtype", fmt.Sprintf("%T", event)),
				}, ep.mBaseLabels...)
				ep.mEventExecutionCounter.Add(ctx, 1, attrs...)
			}
		}
	}

	if err := ep.store.SetLastIndexedBlock(ctx, ep.chainID, batch.ToBlock); err != nil {
		return fmt.Errorf("set new indexed height %d: %s", batch.ToBlock, err)
	}
	ep.log.Debug().Int64("height", batch.ToBlock).Msg("new last indexed height")

	ep.mLastProcessedHeight.Store(batch.ToBlock)
	ep.mBatchExecutionLatency.Record(ctx, time.Since(start).Milliseconds(), ep.mBaseLabels...)

	return nil
}

// executeEvent runs a single event handler inside one transaction with
// rollback on error.
func (ep *EventProcessor) executeEvent(
	ctx context.Context,
	blockNumber int64,
	timestamp int64,
	txnHash common.Hash,
	event interface{},
) error {
	tx, err := ep.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("opening db tx: %s", err)
	}
	defer func() { _ = tx.Rollback() }()
	store := ep.store.WithTx(tx)

	switch e := event.(type) {
	case *eventfeed.XENTransfer:
		err = ep.executeBurnTransfer(ctx, store, blockNumber, timestamp, txnHash, e)
	case *eventfeed.XENBurned:
		err = ep.executeXENBurned(ctx, store, blockNumber, timestamp, txnHash, e)
	case *eventfeed.BurnNFTMinted:
		err = ep.executeMint(ctx, store, blockNumber, timestamp, txnHash, e)
	case *eventfeed.XburnClaimed:
		err = ep.executeMinterClaim(ctx, store, blockNumber, timestamp, txnHash, e)
	case *eventfeed.EmergencyEnd:
		err = ep.executeEmergencyEnd(ctx, store, blockNumber, timestamp, txnHash, e)
	case *eventfeed.BurnNFTClaimed:
		err = ep.executeNFTClaim(ctx, store, blockNumber, timestamp, txnHash, e)
	case *eventfeed.BurnNFTBurned:
		err = ep.executeNFTBurned(ctx, store, blockNumber, timestamp, txnHash, e)
	default:
		return fmt.Errorf("unknown event type %T", e)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing event tx: %s", err)
	}
	return nil
}

// executeBurnTransfer records a direct burn transfer to the null address as
// an audit row; it has no position effect.
func (ep *EventProcessor) executeBurnTransfer(
	ctx context.Context,
	store sqlstore.SystemStore,
	blockNumber, timestamp int64,
	txnHash common.Hash,
	e *eventfeed.XENTransfer,
) error {
	return store.InsertBurnEvent(ctx, sqlstore.BurnEvent{
		ChainID:        ep.chainID,
		TxHash:         txnHash.Hex(),
		EventType:      sqlstore.EventTypeBurnTransfer,
		BlockNumber:    blockNumber,
		BlockTimestamp: timestamp,
		UserAddress:    e.From.Hex(),
		Amount:         e.Value,
		EventJSON:      ep.eventJSON(e),
	})
}

// executeXENBurned records an explicit burn, splitting the total into a
// direct (80%) and an accumulated (20%) share. The integer-division
// remainder goes to the accumulated share so direct+accumulated always
// equals the original amount exactly.
func (ep *EventProcessor) executeXENBurned(
	ctx context.Context,
	store sqlstore.SystemStore,
	blockNumber, timestamp int64,
	txnHash common.Hash,
	e *eventfeed.XENBurned,
) error {
	direct, accumulated := SplitBurnAmount(e.Amount)
	return store.InsertBurnEvent(ctx, sqlstore.BurnEvent{
		ChainID:           ep.chainID,
		TxHash:            txnHash.Hex(),
		EventType:         sqlstore.EventTypeXENBurned,
		BlockNumber:       blockNumber,
		BlockTimestamp:    timestamp,
		UserAddress:       e.User.Hex(),
		Amount:            e.Amount,
		DirectAmount:      direct,
		AccumulatedAmount: accumulated,
		EventJSON:         ep.eventJSON(e),
	})
}

// executeMint creates the burn position, writes the parallel audit row, and
// patches the same-transaction explicit burn with the minted NFT id.
func (ep *EventProcessor) executeMint(
	ctx context.Context,
	store sqlstore.SystemStore,
	blockNumber, timestamp int64,
	txnHash common.Hash,
	e *eventfeed.BurnNFTMinted,
) error {
	nftID := e.TokenId.Int64()
	termDays := e.TermDays.Int64()
	maturity := timestamp + termDays*86400

	// The amplifier snapshot is informative; an RPC failure must never
	// block position creation.
	amplifier, err := ep.amplifierAt(ctx, blockNumber)
	if err != nil {
		ep.log.Warn().
			Err(err).
			Int64("nft_id", nftID).
			Int64("block_number", blockNumber).
			Msg("amplifier snapshot unavailable, storing zero")
		amplifier = 0
	}

	if err := store.InsertPosition(ctx, sqlstore.BurnPosition{
		ChainID:           ep.chainID,
		NFTID:             nftID,
		UserAddress:       e.User.Hex(),
		TotalBurned:       e.Amount,
		TermDays:          termDays,
		MaturityTS:        maturity,
		AmplifierSnapshot: amplifier,
		Status:            sqlstore.PositionStatusLocked,
		MintTxHash:        txnHash.Hex(),
	}); err != nil {
		return fmt.Errorf("inserting position: %s", err)
	}

	if err := store.InsertBurnEvent(ctx, sqlstore.BurnEvent{
		ChainID:        ep.chainID,
		TxHash:         txnHash.Hex(),
		EventType:      sqlstore.EventTypeNFTMinted,
		BlockNumber:    blockNumber,
		BlockTimestamp: timestamp,
		UserAddress:    e.User.Hex(),
		Amount:         e.Amount,
		NFTID:          &nftID,
		EventJSON:      ep.eventJSON(e),
	}); err != nil {
		return fmt.Errorf("inserting mint audit event: %s", err)
	}

	if err := store.AttachNFTID(ctx, txnHash.Hex(), sqlstore.EventTypeXENBurned, nftID); err != nil {
		return fmt.Errorf("linking antecedent burn to position: %s", err)
	}
	return nil
}

// executeMinterClaim records the minter-level claim as an audit row only: it
// lacks a position identifier and cannot close a position by itself.
func (ep *EventProcessor) executeMinterClaim(
	ctx context.Context,
	store sqlstore.SystemStore,
	blockNumber, timestamp int64,
	txnHash common.Hash,
	e *eventfeed.XburnClaimed,
) error {
	return store.InsertBurnEvent(ctx, sqlstore.BurnEvent{
		ChainID:        ep.chainID,
		TxHash:         txnHash.Hex(),
		EventType:      sqlstore.EventTypeMinterClaimed,
		BlockNumber:    blockNumber,
		BlockTimestamp: timestamp,
		UserAddress:    e.User.Hex(),
		Amount:         new(big.Int).Add(e.BaseAmount, e.BonusAmount),
		EventJSON:      ep.eventJSON(e),
	})
}

func (ep *EventProcessor) executeEmergencyEnd(
	ctx context.Context,
	store sqlstore.SystemStore,
	blockNumber, timestamp int64,
	txnHash common.Hash,
	e *eventfeed.EmergencyEnd,
) error {
	return store.InsertBurnEvent(ctx, sqlstore.BurnEvent{
		ChainID:        ep.chainID,
		TxHash:         txnHash.Hex(),
		EventType:      sqlstore.EventTypeEmergencyEnd,
		BlockNumber:    blockNumber,
		BlockTimestamp: timestamp,
		UserAddress:    e.User.Hex(),
		Amount:         e.Amount,
		EventJSON:      ep.eventJSON(e),
	})
}

// executeNFTClaim records the position-level claim audit row and runs the
// authoritative close-out.
func (ep *EventProcessor) executeNFTClaim(
	ctx context.Context,
	store sqlstore.SystemStore,
	blockNumber, timestamp int64,
	txnHash common.Hash,
	e *eventfeed.BurnNFTClaimed,
) error {
	nftID := e.TokenId.Int64()
	if err := store.InsertBurnEvent(ctx, sqlstore.BurnEvent{
		ChainID:        ep.chainID,
		TxHash:         txnHash.Hex(),
		EventType:      sqlstore.EventTypeNFTClaimed,
		BlockNumber:    blockNumber,
		BlockTimestamp: timestamp,
		UserAddress:    e.User.Hex(),
		Amount:         e.Amount,
		NFTID:          &nftID,
		EventJSON:      ep.eventJSON(e),
	}); err != nil {
		return fmt.Errorf("inserting claim audit event: %s", err)
	}
	return ep.closeOutPosition(ctx, store, blockNumber, timestamp, txnHash, e)
}

// closeOutPosition resolves how a position was closed by scanning the
// triggering transaction's minter logs for a companion event. The normal
// claim wins when both are present; an emergency withdrawal is attributed
// only when its user is the position's owner; an unresolvable owner is
// attributed with an unverified status; no companion at all closes the
// position as claimed_unknown_type with zero amount, which is diagnosable
// rather than fatal.
func (ep *EventProcessor) closeOutPosition(
	ctx context.Context,
	store sqlstore.SystemStore,
	blockNumber, timestamp int64,
	txnHash common.Hash,
	e *eventfeed.BurnNFTClaimed,
) error {
	nftID := e.TokenId.Int64()

	receipt, err := ep.client.TransactionReceipt(ctx, txnHash)
	if err != nil {
		return fmt.Errorf("fetching receipt of claim txn %s: %s", txnHash, err)
	}

	var normal *eventfeed.XburnClaimed
	var emergency *eventfeed.EmergencyEnd
	for _, l := range receipt.Logs {
		if l.Address != ep.addrs.BurnMinter {
			continue
		}
		decoded, err := eventfeed.DecodeLog(*l)
		if err != nil {
			continue
		}
		switch companion := decoded.(type) {
		case *eventfeed.XburnClaimed:
			if normal == nil {
				normal = companion
			}
		case *eventfeed.EmergencyEnd:
			if emergency == nil {
				emergency = companion
			}
		}
	}

	position, perr := store.GetPosition(ctx, ep.chainID, nftID)
	if perr != nil && !errors.Is(perr, sql.ErrNoRows) {
		return fmt.Errorf("fetching position %d: %s", nftID, perr)
	}
	if perr != nil {
		// A claim for a position we never saw minted is a referential gap;
		// create a stub so the close-out is recorded rather than dropped.
		ep.log.Warn().
			Int64("nft_id", nftID).
			Str("txn_hash", txnHash.Hex()).
			Msg("claim for unknown position, creating stub")
		if err := store.InsertPosition(ctx, sqlstore.BurnPosition{
			ChainID:     ep.chainID,
			NFTID:       nftID,
			UserAddress: e.User.Hex(),
			TotalBurned: big.NewInt(0),
			Status:      sqlstore.PositionStatusLocked,
			MintTxHash:  "",
		}); err != nil {
			return fmt.Errorf("inserting stub position: %s", err)
		}
		position, perr = store.GetPosition(ctx, ep.chainID, nftID)
		if perr != nil {
			return fmt.Errorf("fetching stub position: %s", perr)
		}
	}

	pc := sqlstore.PositionClose{
		ChainID:     ep.chainID,
		NFTID:       nftID,
		ClaimTxHash: txnHash.Hex(),
		ClaimTS:     timestamp,
	}
	switch {
	case normal != nil:
		pc.Status = sqlstore.PositionStatusClaimed
		pc.ClaimedAmount = new(big.Int).Add(normal.BaseAmount, normal.BonusAmount)
	case emergency != nil:
		owner := common.HexToAddress(position.UserAddress)
		if owner == emergency.User {
			pc.Status = sqlstore.PositionStatusEmergencyWithdrawn
			pc.ClaimedAmount = emergency.Amount
		} else if resolved, rerr := ep.ownerAt(ctx, nftID, blockNumber-1); rerr != nil {
			// Ownership can't be resolved; attribute rather than discard.
			ep.log.Warn().
				Err(rerr).
				Int64("nft_id", nftID).
				Msg("owner resolution failed, attributing unverified withdrawal")
			pc.Status = sqlstore.PositionStatusEmergencyUnverified
			pc.ClaimedAmount = emergency.Amount
		} else if resolved == emergency.User {
			pc.Status = sqlstore.PositionStatusEmergencyWithdrawn
			pc.ClaimedAmount = emergency.Amount
		} else {
			pc.Status = sqlstore.PositionStatusClaimedUnknownType
			pc.ClaimedAmount = big.NewInt(0)
			pc.OnlyIfLocked = true
		}
	default:
		pc.Status = sqlstore.PositionStatusClaimedUnknownType
		pc.ClaimedAmount = big.NewInt(0)
		pc.OnlyIfLocked = true
	}

	if err := store.ClosePosition(ctx, pc); err != nil {
		return fmt.Errorf("closing position %d: %s", nftID, err)
	}
	return nil
}

// executeNFTBurned records the NFT destruction as an audit row only; the
// position is expected to be terminal already.
func (ep *EventProcessor) executeNFTBurned(
	ctx context.Context,
	store sqlstore.SystemStore,
	blockNumber, timestamp int64,
	txnHash common.Hash,
	e *eventfeed.BurnNFTBurned,
) error {
	nftID := e.TokenId.Int64()
	return store.InsertBurnEvent(ctx, sqlstore.BurnEvent{
		ChainID:        ep.chainID,
		TxHash:         txnHash.Hex(),
		EventType:      sqlstore.EventTypeNFTBurned,
		BlockNumber:    blockNumber,
		BlockTimestamp: timestamp,
		UserAddress:    common.Address{}.Hex(),
		Amount:         big.NewInt(0),
		NFTID:          &nftID,
		EventJSON:      ep.eventJSON(e),
	})
}

func (ep *EventProcessor) amplifierAt(ctx context.Context, blockNumber int64) (int64, error) {
	data, err := eventfeed.BurnMinterABI.Pack("currentAmplifier")
	if err != nil {
		return 0, fmt.Errorf("packing currentAmplifier call: %s", err)
	}
	out, err := ep.client.CallContract(ctx, ethereum.CallMsg{
		To:   &ep.addrs.BurnMinter,
		Data: data,
	}, big.NewInt(blockNumber))
	if err != nil {
		return 0, fmt.Errorf("calling currentAmplifier: %s", err)
	}
	vals, err := eventfeed.BurnMinterABI.Unpack("currentAmplifier", out)
	if err != nil {
		return 0, fmt.Errorf("unpacking currentAmplifier result: %s", err)
	}
	amplifier, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected currentAmplifier result type %T", vals[0])
	}
	return amplifier.Int64(), nil
}

func (ep *EventProcessor) ownerAt(
	ctx context.Context, nftID int64, blockNumber int64,
) (common.Address, error) {
	data, err := eventfeed.BurnNFTABI.Pack("ownerOf", big.NewInt(nftID))
	if err != nil {
		return common.Address{}, fmt.Errorf("packing ownerOf call: %s", err)
	}
	out, err := ep.client.CallContract(ctx, ethereum.CallMsg{
		To:   &ep.addrs.BurnNFT,
		Data: data,
	}, big.NewInt(blockNumber))
	if err != nil {
		return common.Address{}, fmt.Errorf("calling ownerOf: %s", err)
	}
	vals, err := eventfeed.BurnNFTABI.Unpack("ownerOf", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpacking ownerOf result: %s", err)
	}
	owner, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected ownerOf result type %T", vals[0])
	}
	return owner, nil
}

func (ep *EventProcessor) eventJSON(event interface{}) []byte {
	data, err := eventJSONCfg.Marshal(event)
	if err != nil {
		ep.log.Error().Err(err).Msgf("marshaling %T event", event)
		return nil
	}
	return data
}

// SplitBurnAmount splits a burn into its direct (80%) and accumulated (20%)
// shares using integer division; the truncation remainder goes to the
// accumulated share so the parts always sum to the original amount.
func SplitBurnAmount(amount *big.Int) (direct, accumulated *big.Int) {
	direct = new(big.Int).Div(new(big.Int).Mul(amount, big.NewInt(80)), big.NewInt(100))
	accumulated = new(big.Int).Sub(amount, direct)
	return direct, accumulated
}
