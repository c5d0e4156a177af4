package sqlstore

import (
	"context"
	"database/sql"
	"math/big"
	"time"
)

// ChainID is a supported EVM chain identifier.
type ChainID int64

// Chain holds the configuration and indexing progress of a single chain.
type Chain struct {
	ID                ChainID
	Name              string
	RPCURL            string
	XENTokenAddress   string
	BurnMinterAddress string
	BurnNFTAddress    string
	StartBlock        int64
	BatchSize         int64
	Enabled           bool
	LastIndexedBlock  int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EventType discriminates burn event rows. Together with the transaction
// hash it forms the natural key of burn_events.
type EventType string

// Supported event types.
const (
	EventTypeBurnTransfer  EventType = "burn_transfer"
	EventTypeXENBurned     EventType = "xen_burned"
	EventTypeNFTMinted     EventType = "nft_minted"
	EventTypeMinterClaimed EventType = "minter_claimed"
	EventTypeEmergencyEnd  EventType = "emergency_end"
	EventTypeNFTClaimed    EventType = "nft_claimed"
	EventTypeNFTBurned     EventType = "nft_burned"
)

// PositionStatus is the lifecycle status of a burn position. Transitions are
// one-way: locked moves to exactly one terminal status and never back.
type PositionStatus string

// Position lifecycle statuses.
const (
	PositionStatusLocked              PositionStatus = "locked"
	PositionStatusClaimed             PositionStatus = "claimed"
	PositionStatusEmergencyWithdrawn  PositionStatus = "emergency_withdrawn"
	PositionStatusEmergencyUnverified PositionStatus = "emergency_withdrawn_owner_unverified"
	PositionStatusClaimedUnknownType  PositionStatus = "claimed_unknown_type"
)

// BurnEvent is one observed log. Immutable once written, except for the
// nft_id patch that links an antecedent burn to the position minted in the
// same transaction.
type BurnEvent struct {
	ChainID           ChainID
	TxHash            string
	EventType         EventType
	BlockNumber       int64
	BlockTimestamp    int64
	UserAddress       string
	Amount            *big.Int
	DirectAmount      *big.Int
	AccumulatedAmount *big.Int
	NFTID             *int64
	EventJSON         []byte
	CreatedAt         time.Time
}

// BurnPosition is one row per (chain, NFT id).
type BurnPosition struct {
	ChainID           ChainID
	NFTID             int64
	UserAddress       string
	TotalBurned       *big.Int
	TermDays          int64
	MaturityTS        int64
	AmplifierSnapshot int64
	Status            PositionStatus
	MintTxHash        string
	ClaimTxHash       *string
	ClaimTS           *int64
	ClaimedAmount     *big.Int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PositionClose carries the terminal fields written by the close-out step.
type PositionClose struct {
	ChainID       ChainID
	NFTID         int64
	Status        PositionStatus
	ClaimTxHash   string
	ClaimTS       int64
	ClaimedAmount *big.Int
	// OnlyIfLocked guards diagnosable fallback statuses from downgrading a
	// previously resolved terminal status on replay.
	OnlyIfLocked bool
}

// AnalyticsMetric is a name->value cache entry, replaced wholesale each
// refresh cycle.
type AnalyticsMetric struct {
	Name      string
	Value     float64
	UpdatedAt time.Time
}

// BlockGap is a detected indexing gap pending reprocessing.
type BlockGap struct {
	ID          int64
	ChainID     ChainID
	GapStart    int64
	GapEnd      int64
	GapSize     int64
	DetectedAt  time.Time
	Reprocessed bool
}

// ValidationRun records the outcome of a validator routine.
type ValidationRun struct {
	ID        string
	ChainID   ChainID
	RunType   string
	Status    string
	Detail    string
	CreatedAt time.Time
}

// IntegrityDigest is a deterministic digest over a chain's burn events.
type IntegrityDigest struct {
	ChainID    ChainID
	Digest     string
	EventCount int64
	CreatedAt  time.Time
}

// SystemStore defines the methods for interacting with the durable state of
// the indexer.
type SystemStore interface {
	GetChains(ctx context.Context) ([]Chain, error)
	GetChain(ctx context.Context, id ChainID) (Chain, error)
	UpsertChain(ctx context.Context, chain Chain) error
	SetChainEnabled(ctx context.Context, id ChainID, enabled bool) error
	SetLastIndexedBlock(ctx context.Context, id ChainID, blockNumber int64) error

	InsertBurnEvent(ctx context.Context, e BurnEvent) error
	AttachNFTID(ctx context.Context, txHash string, eventType EventType, nftID int64) error
	GetBurnEvent(ctx context.Context, txHash string, eventType EventType) (BurnEvent, error)
	ListEventBlockNumbers(ctx context.Context, id ChainID) ([]int64, error)
	ListBurnEventsForDigest(ctx context.Context, id ChainID) ([]BurnEvent, error)
	HighestObservedBlock(ctx context.Context, id ChainID) (int64, error)

	InsertPosition(ctx context.Context, p BurnPosition) error
	ClosePosition(ctx context.Context, close PositionClose) error
	GetPosition(ctx context.Context, id ChainID, nftID int64) (BurnPosition, error)

	GetBlockTimestamp(ctx context.Context, id ChainID, blockNumber int64) (int64, bool, error)
	InsertBlockTimestamp(ctx context.Context, id ChainID, blockNumber int64, timestamp int64) error

	ReplaceAnalytics(ctx context.Context, metrics []AnalyticsMetric) error
	GetAnalytics(ctx context.Context) ([]AnalyticsMetric, error)
	SumBurnedSince(ctx context.Context, id *ChainID, sinceTS int64) (*big.Int, error)
	CountBurnEvents(ctx context.Context) (int64, error)
	CountPositionsByStatus(ctx context.Context) (map[PositionStatus]int64, error)
	OldestChainCreatedAt(ctx context.Context) (time.Time, bool, error)

	InsertBlockGap(ctx context.Context, gap BlockGap) error
	ListBlockGaps(ctx context.Context, id ChainID) ([]BlockGap, error)
	MarkGapsReprocessed(ctx context.Context, id ChainID, fromBlock, toBlock int64) error
	InsertValidationRun(ctx context.Context, run ValidationRun) error
	InsertIntegrityDigest(ctx context.Context, digest IntegrityDigest) error

	Begin(ctx context.Context) (*sql.Tx, error)
	WithTx(tx *sql.Tx) SystemStore
	Close() error
}
