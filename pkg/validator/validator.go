package validator

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/instrument"
)

const (
	// RunTypeGapScan is the block continuity scan.
	RunTypeGapScan = "gap_scan"
	// RunTypeDigest is the integrity digest computation.
	RunTypeDigest = "digest"

	// maxReportableGap bounds what the scan reports as a gap. Jumps at
	// least this large are deployment or start-block discontinuities,
	// not missed events.
	maxReportableGap = 1000
)

// Validator runs read-only consistency checks over a chain's indexed data.
// Its routines report through validation runs and never mutate event or
// position state.
type Validator struct {
	log     zerolog.Logger
	store   sqlstore.SystemStore
	chainID sqlstore.ChainID

	mBaseLabels []attribute.KeyValue
	mRunCounter instrument.Int64Counter
}

// New returns a new Validator for a chain.
func New(store sqlstore.SystemStore, chainID sqlstore.ChainID) *Validator {
	log := logger.With().
		Str("component", "validator").
		Int64("chain_id", int64(chainID)).
		Logger()
	v := &Validator{
		log:     log,
		store:   store,
		chainID: chainID,
	}
	if err := v.initMetrics(); err != nil {
		log.Warn().Err(err).Msg("registering validator metrics")
	}
	return v
}

// DetectGaps walks the ordered distinct block numbers that produced events and
// returns the suspicious holes between consecutive ones. A delta of 1 is
// contiguity and a delta of 2..999 with no events in between may be real
// quiet blocks or missed ones; the scan reports so an operator can decide.
func (v *Validator) DetectGaps(ctx context.Context) ([]sqlstore.BlockGap, error) {
	blockNumbers, err := v.store.ListEventBlockNumbers(ctx, v.chainID)
	if err != nil {
		return nil, fmt.Errorf("listing event block numbers: %s", err)
	}

	var gaps []sqlstore.BlockGap
	for i := 1; i < len(blockNumbers); i++ {
		delta := blockNumbers[i] - blockNumbers[i-1]
		if delta <= 1 || delta >= maxReportableGap {
			continue
		}
		gaps = append(gaps, sqlstore.BlockGap{
			ChainID:  v.chainID,
			GapStart: blockNumbers[i-1],
			GapEnd:   blockNumbers[i],
			GapSize:  delta,
		})
	}
	return gaps, nil
}

// ComputeDigest computes a deterministic SHA-1 digest over the chain's burn events
// in their canonical order. Two indexer instances that saw the same history
// must produce the same digest.
func (v *Validator) ComputeDigest(ctx context.Context) (sqlstore.IntegrityDigest, error) {
	events, err := v.store.ListBurnEventsForDigest(ctx, v.chainID)
	if err != nil {
		return sqlstore.IntegrityDigest{}, fmt.Errorf("listing events for digest: %s", err)
	}

	h := sha1.New()
	for _, e := range events {
		hashEvent(h, e)
	}
	return sqlstore.IntegrityDigest{
		ChainID:    v.chainID,
		Digest:     hex.EncodeToString(h.Sum(nil)),
		EventCount: int64(len(events)),
	}, nil
}

// RunGapScan executes a gap scan and persists both the detected gaps and the
// run record. Failures are recorded and logged, never fatal to the caller.
func (v *Validator) RunGapScan(ctx context.Context) {
	gaps, err := v.DetectGaps(ctx)
	if err != nil {
		v.recordRun(ctx, RunTypeGapScan, "failed", err.Error())
		v.log.Error().Err(err).Msg("gap scan failed")
		return
	}
	for _, gap := range gaps {
		if err := v.store.InsertBlockGap(ctx, gap); err != nil {
			v.log.Error().
				Err(err).
				Int64("gap_start", gap.GapStart).
				Int64("gap_end", gap.GapEnd).
				Msg("persisting block gap")
		}
	}
	v.recordRun(ctx, RunTypeGapScan, "ok", fmt.Sprintf("%d gaps detected", len(gaps)))
	if len(gaps) > 0 {
		v.log.Warn().Int("gaps", len(gaps)).Msg("gap scan found suspicious holes")
	} else {
		v.log.Debug().Msg("gap scan clean")
	}
}

// RunDigest computes and persists the integrity digest plus the run record.
func (v *Validator) RunDigest(ctx context.Context) {
	digest, err := v.ComputeDigest(ctx)
	if err != nil {
		v.recordRun(ctx, RunTypeDigest, "failed", err.Error())
		v.log.Error().Err(err).Msg("digest computation failed")
		return
	}
	if err := v.store.InsertIntegrityDigest(ctx, digest); err != nil {
		v.recordRun(ctx, RunTypeDigest, "failed", err.Error())
		v.log.Error().Err(err).Msg("persisting integrity digest")
		return
	}
	v.recordRun(ctx, RunTypeDigest, "ok",
		fmt.Sprintf("digest %s over %d events", digest.Digest, digest.EventCount))
	v.log.Info().
		Str("digest", digest.Digest).
		Int64("events", digest.EventCount).
		Msg("integrity digest recorded")
}

func (v *Validator) recordRun(ctx context.Context, runType, status, detail string) {
	run := sqlstore.ValidationRun{
		ID:      uuid.NewString(),
		ChainID: v.chainID,
		RunType: runType,
		Status:  status,
		Detail:  detail,
	}
	if err := v.store.InsertValidationRun(ctx, run); err != nil {
		v.log.Error().Err(err).Str("run_type", runType).Msg("persisting validation run")
	}
	v.incrRunCounter(ctx, runType, status)
}

func hashEvent(w io.Writer, e sqlstore.BurnEvent) {
	fmt.Fprintf(w, "%d|%s|%s|%d|%s|%s\n",
		e.ChainID, e.TxHash, e.EventType, e.BlockNumber, e.UserAddress, bigText(e))
}

func bigText(e sqlstore.BurnEvent) string {
	if e.Amount == nil {
		return "0"
	}
	return e.Amount.String()
}
