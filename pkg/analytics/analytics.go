package analytics

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

const (
	amplifierStart      = 3000
	amplifierEnd        = 1
	amplifierPeriodDays = 365
)

// Engine maintains the denormalized analytics metric set. Metrics are cached
// aggregates recomputed on a schedule; readers never pay aggregation cost.
type Engine struct {
	log   zerolog.Logger
	store sqlstore.SystemStore
	cron  *cron.Cron
}

// New returns a new analytics Engine.
func New(store sqlstore.SystemStore) *Engine {
	log := logger.With().Str("component", "analytics").Logger()
	return &Engine{
		log:   log,
		store: store,
		cron:  cron.New(),
	}
}

// Start refreshes the metric set immediately and schedules the hourly and
// daily recomputations.
func (e *Engine) Start() error {
	if _, err := e.cron.AddFunc("0 * * * *", func() {
		if err := e.Refresh(context.Background()); err != nil {
			e.log.Error().Err(err).Msg("hourly analytics refresh failed")
		}
	}); err != nil {
		return fmt.Errorf("scheduling hourly refresh: %s", err)
	}
	if _, err := e.cron.AddFunc("0 0 * * *", func() {
		if err := e.RefreshAndReport(context.Background()); err != nil {
			e.log.Error().Err(err).Msg("daily analytics refresh failed")
		}
	}); err != nil {
		return fmt.Errorf("scheduling daily refresh: %s", err)
	}
	e.cron.Start()

	go func() {
		if err := e.Refresh(context.Background()); err != nil {
			e.log.Error().Err(err).Msg("startup analytics refresh failed")
		}
	}()

	e.log.Info().Msg("started")
	return nil
}

// Stop stops the scheduled recomputations.
func (e *Engine) Stop() {
	stopCtx := e.cron.Stop()
	<-stopCtx.Done()
	e.log.Debug().Msg("stopped")
}

// Refresh recomputes every cached metric and replaces the stored set in a
// single transaction, so readers always see a consistent snapshot.
func (e *Engine) Refresh(ctx context.Context) error {
	metrics, err := e.computeMetrics(ctx)
	if err != nil {
		return fmt.Errorf("computing metrics: %s", err)
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("opening db tx: %s", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := e.store.WithTx(tx).ReplaceAnalytics(ctx, metrics); err != nil {
		return fmt.Errorf("replacing analytics: %s", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing analytics tx: %s", err)
	}

	e.log.Debug().Int("metrics", len(metrics)).Msg("analytics refreshed")
	return nil
}

// RefreshAndReport is Refresh plus an operator-facing snapshot log line.
func (e *Engine) RefreshAndReport(ctx context.Context) error {
	if err := e.Refresh(ctx); err != nil {
		return err
	}
	totalBurned, err := e.store.SumBurnedSince(ctx, nil, 0)
	if err != nil {
		return fmt.Errorf("summing total burned: %s", err)
	}
	totalEvents, err := e.store.CountBurnEvents(ctx)
	if err != nil {
		return fmt.Errorf("counting events: %s", err)
	}
	e.log.Info().
		Str("total_xen_burned", totalBurned.String()).
		Int64("total_burn_events", totalEvents).
		Msg("daily analytics snapshot")
	return nil
}

func (e *Engine) computeMetrics(ctx context.Context) ([]sqlstore.AnalyticsMetric, error) {
	now := time.Now().UTC()

	totalBurned, err := e.store.SumBurnedSince(ctx, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("summing total burned: %s", err)
	}
	burned24h, err := e.store.SumBurnedSince(ctx, nil, now.Add(-24*time.Hour).Unix())
	if err != nil {
		return nil, fmt.Errorf("summing 24h burned: %s", err)
	}
	totalEvents, err := e.store.CountBurnEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting events: %s", err)
	}
	positionCounts, err := e.store.CountPositionsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting positions: %s", err)
	}
	var totalPositions int64
	for _, count := range positionCounts {
		totalPositions += count
	}

	metrics := []sqlstore.AnalyticsMetric{
		{Name: "total_xen_burned", Value: bigToFloat(totalBurned)},
		{Name: "burned_24h", Value: bigToFloat(burned24h)},
		{Name: "total_burn_events", Value: float64(totalEvents)},
		{Name: "total_positions", Value: float64(totalPositions)},
		{Name: "active_positions", Value: float64(positionCounts[sqlstore.PositionStatusLocked])},
		{Name: "claimed_positions", Value: float64(positionCounts[sqlstore.PositionStatusClaimed])},
	}

	chains, err := e.store.GetChains(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing chains: %s", err)
	}
	for _, chain := range chains {
		id := chain.ID
		chainBurned, err := e.store.SumBurnedSince(ctx, &id, 0)
		if err != nil {
			return nil, fmt.Errorf("summing chain %d burned: %s", id, err)
		}
		metrics = append(metrics, sqlstore.AnalyticsMetric{
			Name:  fmt.Sprintf("chain_%d_burned", id),
			Value: bigToFloat(chainBurned),
		})
	}

	amplifier, err := e.currentAmplifier(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("computing amplifier: %s", err)
	}
	metrics = append(metrics, sqlstore.AnalyticsMetric{
		Name:  "current_amplifier",
		Value: float64(amplifier),
	})

	return metrics, nil
}

// currentAmplifier derives the nominal protocol amplifier: it decays
// linearly from 3000 to 1 over the first 365 days after launch, where launch
// is approximated by the oldest chain registration. Before any chain is
// registered the launch value applies.
func (e *Engine) currentAmplifier(ctx context.Context, now time.Time) (int64, error) {
	launch, found, err := e.store.OldestChainCreatedAt(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching launch time: %s", err)
	}
	if !found {
		return amplifierStart, nil
	}
	elapsedDays := int64(now.Sub(launch).Hours() / 24)
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	amplifier := amplifierStart - elapsedDays*(amplifierStart-amplifierEnd)/amplifierPeriodDays
	if amplifier < amplifierEnd {
		amplifier = amplifierEnd
	}
	return amplifier, nil
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
