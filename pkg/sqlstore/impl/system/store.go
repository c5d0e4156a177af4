package system

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/TreeCityWes/xburn-dashboard/pkg/database"
	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SystemStore provides a persistent layer for the indexer state.
type SystemStore struct {
	log zerolog.Logger
	db  *database.SQLiteDB
	ext dbtx
}

var _ sqlstore.SystemStore = (*SystemStore)(nil)

// New returns a new SystemStore backed by database.SQLiteDB.
func New(db *database.SQLiteDB) *SystemStore {
	log := logger.With().
		Str("component", "systemstore").
		Logger()

	return &SystemStore{
		log: log,
		db:  db,
		ext: db.DB,
	}
}

// Begin starts a new transaction.
func (s *SystemStore) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("opening tx: %s", err)
	}
	return tx, nil
}

// WithTx returns a copy of the store that runs all statements in tx.
func (s *SystemStore) WithTx(tx *sql.Tx) sqlstore.SystemStore {
	return &SystemStore{
		log: s.log,
		db:  s.db,
		ext: tx,
	}
}

// Close closes the underlying database.
func (s *SystemStore) Close() error {
	return s.db.Close()
}

// GetChains returns all configured chains.
func (s *SystemStore) GetChains(ctx context.Context) ([]sqlstore.Chain, error) {
	rows, err := s.ext.QueryContext(ctx,
		`SELECT id, name, rpc_url, xen_token_address, burn_minter_address, burn_nft_address,
		        start_block, batch_size, enabled, last_indexed_block, created_at, updated_at
		 FROM chains ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying chains: %s", err)
	}
	defer func() { _ = rows.Close() }()

	var chains []sqlstore.Chain
	for rows.Next() {
		chain, err := scanChain(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chain row: %s", err)
		}
		chains = append(chains, chain)
	}
	return chains, rows.Err()
}

// GetChain returns a single chain configuration.
func (s *SystemStore) GetChain(ctx context.Context, id sqlstore.ChainID) (sqlstore.Chain, error) {
	row := s.ext.QueryRowContext(ctx,
		`SELECT id, name, rpc_url, xen_token_address, burn_minter_address, burn_nft_address,
		        start_block, batch_size, enabled, last_indexed_block, created_at, updated_at
		 FROM chains WHERE id = ?1`, id)
	chain, err := scanChain(row)
	if err != nil {
		return sqlstore.Chain{}, fmt.Errorf("scanning chain %d: %s", id, err)
	}
	return chain, nil
}

// UpsertChain inserts or updates a chain configuration. The indexed-block
// cursor isn't touched on update.
func (s *SystemStore) UpsertChain(ctx context.Context, chain sqlstore.Chain) error {
	now := time.Now().UTC().Unix()
	_, err := s.ext.ExecContext(ctx,
		`INSERT INTO chains (id, name, rpc_url, xen_token_address, burn_minter_address, burn_nft_address,
		                     start_block, batch_size, enabled, last_indexed_block, created_at, updated_at)
		 VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?11)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, rpc_url=excluded.rpc_url,
		   xen_token_address=excluded.xen_token_address,
		   burn_minter_address=excluded.burn_minter_address,
		   burn_nft_address=excluded.burn_nft_address,
		   start_block=excluded.start_block, batch_size=excluded.batch_size,
		   enabled=excluded.enabled, updated_at=excluded.updated_at`,
		chain.ID, chain.Name, chain.RPCURL, chain.XENTokenAddress, chain.BurnMinterAddress,
		chain.BurnNFTAddress, chain.StartBlock, chain.BatchSize, boolToInt(chain.Enabled),
		chain.LastIndexedBlock, now)
	if err != nil {
		return fmt.Errorf("upserting chain %d: %s", chain.ID, err)
	}
	return nil
}

// SetChainEnabled flags a chain enabled or disabled.
func (s *SystemStore) SetChainEnabled(ctx context.Context, id sqlstore.ChainID, enabled bool) error {
	_, err := s.ext.ExecContext(ctx,
		`UPDATE chains SET enabled = ?1, updated_at = ?2 WHERE id = ?3`,
		boolToInt(enabled), time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("updating chain %d enabled flag: %s", id, err)
	}
	return nil
}

// SetLastIndexedBlock advances the chain cursor. The cursor is monotonic:
// a backfill of an already-indexed range never moves it backwards.
func (s *SystemStore) SetLastIndexedBlock(ctx context.Context, id sqlstore.ChainID, blockNumber int64) error {
	_, err := s.ext.ExecContext(ctx,
		`UPDATE chains SET last_indexed_block = MAX(last_indexed_block, ?1), updated_at = ?2 WHERE id = ?3`,
		blockNumber, time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("updating chain %d cursor: %s", id, err)
	}
	return nil
}

// InsertBurnEvent inserts an observed event. Re-delivery of the same
// (tx_hash, event_type) pair is a no-op.
func (s *SystemStore) InsertBurnEvent(ctx context.Context, e sqlstore.BurnEvent) error {
	_, err := s.ext.ExecContext(ctx,
		`INSERT INTO burn_events (chain_id, tx_hash, event_type, block_number, block_timestamp,
		                          user_address, amount, direct_amount, accumulated_amount, nft_id,
		                          event_json, created_at)
		 VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12)
		 ON CONFLICT(tx_hash, event_type) DO NOTHING`,
		e.ChainID, e.TxHash, e.EventType, e.BlockNumber, e.BlockTimestamp,
		e.UserAddress, bigToText(e.Amount), nullableBig(e.DirectAmount),
		nullableBig(e.AccumulatedAmount), e.NFTID, e.EventJSON, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("inserting burn event %s/%s: %s", e.TxHash, e.EventType, err)
	}
	return nil
}

// AttachNFTID stamps the derived NFT id onto an antecedent event row.
func (s *SystemStore) AttachNFTID(
	ctx context.Context, txHash string, eventType sqlstore.EventType, nftID int64,
) error {
	_, err := s.ext.ExecContext(ctx,
		`UPDATE burn_events SET nft_id = ?1 WHERE tx_hash = ?2 AND event_type = ?3`,
		nftID, txHash, eventType)
	if err != nil {
		return fmt.Errorf("attaching nft id to event %s/%s: %s", txHash, eventType, err)
	}
	return nil
}

// GetBurnEvent returns the event stored for the natural key.
func (s *SystemStore) GetBurnEvent(
	ctx context.Context, txHash string, eventType sqlstore.EventType,
) (sqlstore.BurnEvent, error) {
	row := s.ext.QueryRowContext(ctx,
		`SELECT chain_id, tx_hash, event_type, block_number, block_timestamp, user_address,
		        amount, direct_amount, accumulated_amount, nft_id, event_json, created_at
		 FROM burn_events WHERE tx_hash = ?1 AND event_type = ?2`, txHash, eventType)

	var e sqlstore.BurnEvent
	var amount string
	var direct, accumulated sql.NullString
	var nftID sql.NullInt64
	var createdAt int64
	if err := row.Scan(&e.ChainID, &e.TxHash, &e.EventType, &e.BlockNumber, &e.BlockTimestamp,
		&e.UserAddress, &amount, &direct, &accumulated, &nftID, &e.EventJSON, &createdAt); err != nil {
		return sqlstore.BurnEvent{}, fmt.Errorf("scanning burn event: %s", err)
	}
	e.Amount = textToBig(amount)
	if direct.Valid {
		e.DirectAmount = textToBig(direct.String)
	}
	if accumulated.Valid {
		e.AccumulatedAmount = textToBig(accumulated.String)
	}
	if nftID.Valid {
		e.NFTID = &nftID.Int64
	}
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	return e, nil
}

// ListEventBlockNumbers returns the distinct observed block numbers of a
// chain in ascending order.
func (s *SystemStore) ListEventBlockNumbers(ctx context.Context, id sqlstore.ChainID) ([]int64, error) {
	rows, err := s.ext.QueryContext(ctx,
		`SELECT DISTINCT block_number FROM burn_events WHERE chain_id = ?1 ORDER BY block_number`, id)
	if err != nil {
		return nil, fmt.Errorf("querying block numbers: %s", err)
	}
	defer func() { _ = rows.Close() }()

	var blocks []int64
	for rows.Next() {
		var b int64
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scanning block number: %s", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// ListBurnEventsForDigest returns all burn events of a chain in a
// deterministic order suited for digest computation.
func (s *SystemStore) ListBurnEventsForDigest(
	ctx context.Context, id sqlstore.ChainID,
) ([]sqlstore.BurnEvent, error) {
	rows, err := s.ext.QueryContext(ctx,
		`SELECT tx_hash, event_type, block_number, user_address, amount
		 FROM burn_events WHERE chain_id = ?1
		 ORDER BY block_number, tx_hash, event_type`, id)
	if err != nil {
		return nil, fmt.Errorf("querying events for digest: %s", err)
	}
	defer func() { _ = rows.Close() }()

	var events []sqlstore.BurnEvent
	for rows.Next() {
		var e sqlstore.BurnEvent
		var amount string
		if err := rows.Scan(&e.TxHash, &e.EventType, &e.BlockNumber, &e.UserAddress, &amount); err != nil {
			return nil, fmt.Errorf("scanning digest row: %s", err)
		}
		e.ChainID = id
		e.Amount = textToBig(amount)
		events = append(events, e)
	}
	return events, rows.Err()
}

// HighestObservedBlock returns the highest block number with at least one
// stored event, or zero when the chain has none.
func (s *SystemStore) HighestObservedBlock(ctx context.Context, id sqlstore.ChainID) (int64, error) {
	row := s.ext.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(block_number), 0) FROM burn_events WHERE chain_id = ?1`, id)
	var highest int64
	if err := row.Scan(&highest); err != nil {
		return 0, fmt.Errorf("scanning highest observed block: %s", err)
	}
	return highest, nil
}

// InsertPosition creates a position on mint. Positions are created once and
// mutated only by ClosePosition, so a conflicting insert is a no-op.
func (s *SystemStore) InsertPosition(ctx context.Context, p sqlstore.BurnPosition) error {
	now := time.Now().UTC().Unix()
	_, err := s.ext.ExecContext(ctx,
		`INSERT INTO burn_positions (chain_id, nft_id, user_address, total_burned, term_days,
		                             maturity_ts, amplifier_snapshot, status, mint_tx_hash,
		                             created_at, updated_at)
		 VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?10)
		 ON CONFLICT(chain_id, nft_id) DO NOTHING`,
		p.ChainID, p.NFTID, p.UserAddress, bigToText(p.TotalBurned), p.TermDays,
		p.MaturityTS, p.AmplifierSnapshot, p.Status, p.MintTxHash, now)
	if err != nil {
		return fmt.Errorf("inserting position %d/%d: %s", p.ChainID, p.NFTID, err)
	}
	return nil
}

// ClosePosition overwrites the terminal fields of a position.
func (s *SystemStore) ClosePosition(ctx context.Context, pc sqlstore.PositionClose) error {
	query := `UPDATE burn_positions
	          SET status = ?1, claim_tx_hash = ?2, claim_ts = ?3, claimed_amount = ?4, updated_at = ?5
	          WHERE chain_id = ?6 AND nft_id = ?7`
	args := []interface{}{
		pc.Status, pc.ClaimTxHash, pc.ClaimTS, bigToText(pc.ClaimedAmount),
		time.Now().UTC().Unix(), pc.ChainID, pc.NFTID,
	}
	if pc.OnlyIfLocked {
		query += ` AND status = 'locked'`
	}
	if _, err := s.ext.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("closing position %d/%d: %s", pc.ChainID, pc.NFTID, err)
	}
	return nil
}

// GetPosition returns a position by natural key.
func (s *SystemStore) GetPosition(
	ctx context.Context, id sqlstore.ChainID, nftID int64,
) (sqlstore.BurnPosition, error) {
	row := s.ext.QueryRowContext(ctx,
		`SELECT chain_id, nft_id, user_address, total_burned, term_days, maturity_ts,
		        amplifier_snapshot, status, mint_tx_hash, claim_tx_hash, claim_ts,
		        claimed_amount, created_at, updated_at
		 FROM burn_positions WHERE chain_id = ?1 AND nft_id = ?2`, id, nftID)

	var p sqlstore.BurnPosition
	var totalBurned string
	var claimTxHash, claimedAmount sql.NullString
	var claimTS sql.NullInt64
	var createdAt, updatedAt int64
	if err := row.Scan(&p.ChainID, &p.NFTID, &p.UserAddress, &totalBurned, &p.TermDays,
		&p.MaturityTS, &p.AmplifierSnapshot, &p.Status, &p.MintTxHash, &claimTxHash,
		&claimTS, &claimedAmount, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sqlstore.BurnPosition{}, err
		}
		return sqlstore.BurnPosition{}, fmt.Errorf("scanning position: %s", err)
	}
	p.TotalBurned = textToBig(totalBurned)
	if claimTxHash.Valid {
		p.ClaimTxHash = &claimTxHash.String
	}
	if claimTS.Valid {
		p.ClaimTS = &claimTS.Int64
	}
	if claimedAmount.Valid {
		p.ClaimedAmount = textToBig(claimedAmount.String)
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return p, nil
}

// GetBlockTimestamp returns the durable timestamp of a block, with a found flag.
func (s *SystemStore) GetBlockTimestamp(
	ctx context.Context, id sqlstore.ChainID, blockNumber int64,
) (int64, bool, error) {
	row := s.ext.QueryRowContext(ctx,
		`SELECT timestamp FROM block_timestamps WHERE chain_id = ?1 AND block_number = ?2`,
		id, blockNumber)
	var ts int64
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("scanning block timestamp: %s", err)
	}
	return ts, true, nil
}

// InsertBlockTimestamp stores a resolved block timestamp. Timestamps are
// immutable facts, conflicting inserts are no-ops.
func (s *SystemStore) InsertBlockTimestamp(
	ctx context.Context, id sqlstore.ChainID, blockNumber int64, timestamp int64,
) error {
	_, err := s.ext.ExecContext(ctx,
		`INSERT INTO block_timestamps (chain_id, block_number, timestamp) VALUES (?1, ?2, ?3)
		 ON CONFLICT(chain_id, block_number) DO NOTHING`,
		id, blockNumber, timestamp)
	if err != nil {
		return fmt.Errorf("inserting block timestamp %d/%d: %s", id, blockNumber, err)
	}
	return nil
}

// ReplaceAnalytics replaces the whole analytics metric set.
func (s *SystemStore) ReplaceAnalytics(ctx context.Context, metrics []sqlstore.AnalyticsMetric) error {
	if _, err := s.ext.ExecContext(ctx, `DELETE FROM analytics`); err != nil {
		return fmt.Errorf("clearing analytics: %s", err)
	}
	now := time.Now().UTC().Unix()
	for _, m := range metrics {
		if _, err := s.ext.ExecContext(ctx,
			`INSERT INTO analytics (metric_name, metric_value, updated_at) VALUES (?1, ?2, ?3)`,
			m.Name, m.Value, now); err != nil {
			return fmt.Errorf("inserting metric %s: %s", m.Name, err)
		}
	}
	return nil
}

// GetAnalytics returns the current cached metric set.
func (s *SystemStore) GetAnalytics(ctx context.Context) ([]sqlstore.AnalyticsMetric, error) {
	rows, err := s.ext.QueryContext(ctx,
		`SELECT metric_name, metric_value FROM analytics ORDER BY metric_name`)
	if err != nil {
		return nil, fmt.Errorf("querying analytics: %s", err)
	}
	defer func() { _ = rows.Close() }()

	var metrics []sqlstore.AnalyticsMetric
	for rows.Next() {
		var m sqlstore.AnalyticsMetric
		if err := rows.Scan(&m.Name, &m.Value); err != nil {
			return nil, fmt.Errorf("scanning metric: %s", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// SumBurnedSince sums xen_burned amounts at or after sinceTS, optionally
// scoped to a chain. SQLite sums the TEXT amounts as floats, which is fine
// for a cached analytics figure.
func (s *SystemStore) SumBurnedSince(
	ctx context.Context, id *sqlstore.ChainID, sinceTS int64,
) (*big.Int, error) {
	query := `SELECT COALESCE(SUM(CAST(amount AS REAL)), 0) FROM burn_events
	          WHERE event_type = 'xen_burned' AND block_timestamp >= ?1`
	args := []interface{}{sinceTS}
	if id != nil {
		query += ` AND chain_id = ?2`
		args = append(args, *id)
	}
	row := s.ext.QueryRowContext(ctx, query, args...)
	var sum float64
	if err := row.Scan(&sum); err != nil {
		return nil, fmt.Errorf("scanning burned sum: %s", err)
	}
	res, _ := new(big.Float).SetFloat64(sum).Int(nil)
	return res, nil
}

// CountBurnEvents returns the total number of stored events.
func (s *SystemStore) CountBurnEvents(ctx context.Context) (int64, error) {
	row := s.ext.QueryRowContext(ctx, `SELECT COUNT(*) FROM burn_events`)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("scanning event count: %s", err)
	}
	return count, nil
}

// CountPositionsByStatus returns position counts grouped by status.
func (s *SystemStore) CountPositionsByStatus(
	ctx context.Context,
) (map[sqlstore.PositionStatus]int64, error) {
	rows, err := s.ext.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM burn_positions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("querying position counts: %s", err)
	}
	defer func() { _ = rows.Close() }()

	counts := map[sqlstore.PositionStatus]int64{}
	for rows.Next() {
		var status sqlstore.PositionStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning position count: %s", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// OldestChainCreatedAt returns the creation time of the oldest chain record.
func (s *SystemStore) OldestChainCreatedAt(ctx context.Context) (time.Time, bool, error) {
	row := s.ext.QueryRowContext(ctx, `SELECT MIN(created_at) FROM chains`)
	var createdAt sql.NullInt64
	if err := row.Scan(&createdAt); err != nil {
		return time.Time{}, false, fmt.Errorf("scanning oldest chain: %s", err)
	}
	if !createdAt.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(createdAt.Int64, 0).UTC(), true, nil
}

// InsertBlockGap records a detected indexing gap. Re-detection of an already
// recorded gap is a no-op, so periodic scans don't accumulate duplicates.
func (s *SystemStore) InsertBlockGap(ctx context.Context, gap sqlstore.BlockGap) error {
	_, err := s.ext.ExecContext(ctx,
		`INSERT INTO block_gaps (chain_id, gap_start, gap_end, gap_size, detected_at)
		 VALUES (?1, ?2, ?3, ?4, ?5)
		 ON CONFLICT (chain_id, gap_start, gap_end) DO NOTHING`,
		gap.ChainID, gap.GapStart, gap.GapEnd, gap.GapSize, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("inserting block gap: %s", err)
	}
	return nil
}

// ListBlockGaps returns the recorded gaps of a chain.
func (s *SystemStore) ListBlockGaps(ctx context.Context, id sqlstore.ChainID) ([]sqlstore.BlockGap, error) {
	rows, err := s.ext.QueryContext(ctx,
		`SELECT id, chain_id, gap_start, gap_end, gap_size, detected_at, reprocessed
		 FROM block_gaps WHERE chain_id = ?1 ORDER BY gap_start`, id)
	if err != nil {
		return nil, fmt.Errorf("querying block gaps: %s", err)
	}
	defer func() { _ = rows.Close() }()

	var gaps []sqlstore.BlockGap
	for rows.Next() {
		var g sqlstore.BlockGap
		var detectedAt int64
		if err := rows.Scan(
			&g.ID, &g.ChainID, &g.GapStart, &g.GapEnd, &g.GapSize, &detectedAt, &g.Reprocessed,
		); err != nil {
			return nil, fmt.Errorf("scanning block gap: %s", err)
		}
		g.DetectedAt = time.Unix(detectedAt, 0).UTC()
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}

// MarkGapsReprocessed flags every recorded gap fully contained in
// [fromBlock, toBlock] as reprocessed.
func (s *SystemStore) MarkGapsReprocessed(
	ctx context.Context, id sqlstore.ChainID, fromBlock, toBlock int64,
) error {
	_, err := s.ext.ExecContext(ctx,
		`UPDATE block_gaps SET reprocessed = 1
		 WHERE chain_id = ?1 AND gap_start >= ?2 AND gap_end <= ?3`,
		id, fromBlock, toBlock)
	if err != nil {
		return fmt.Errorf("marking gaps reprocessed: %s", err)
	}
	return nil
}

// InsertValidationRun records the outcome of a validator routine.
func (s *SystemStore) InsertValidationRun(ctx context.Context, run sqlstore.ValidationRun) error {
	_, err := s.ext.ExecContext(ctx,
		`INSERT INTO validation_stats (id, chain_id, run_type, status, detail, created_at)
		 VALUES (?1, ?2, ?3, ?4, ?5, ?6)`,
		run.ID, run.ChainID, run.RunType, run.Status, run.Detail, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("inserting validation run: %s", err)
	}
	return nil
}

// InsertIntegrityDigest stores a computed integrity digest.
func (s *SystemStore) InsertIntegrityDigest(ctx context.Context, digest sqlstore.IntegrityDigest) error {
	_, err := s.ext.ExecContext(ctx,
		`INSERT INTO data_integrity (chain_id, digest, event_count, created_at)
		 VALUES (?1, ?2, ?3, ?4)`,
		digest.ChainID, digest.Digest, digest.EventCount, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("inserting integrity digest: %s", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChain(row scanner) (sqlstore.Chain, error) {
	var chain sqlstore.Chain
	var enabled int
	var createdAt, updatedAt int64
	if err := row.Scan(&chain.ID, &chain.Name, &chain.RPCURL, &chain.XENTokenAddress,
		&chain.BurnMinterAddress, &chain.BurnNFTAddress, &chain.StartBlock, &chain.BatchSize,
		&enabled, &chain.LastIndexedBlock, &createdAt, &updatedAt); err != nil {
		return sqlstore.Chain{}, err
	}
	chain.Enabled = enabled != 0
	chain.CreatedAt = time.Unix(createdAt, 0).UTC()
	chain.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return chain, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func bigToText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func nullableBig(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

func textToBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
