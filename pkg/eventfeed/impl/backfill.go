package impl

import (
	"context"
	"fmt"

	"github.com/TreeCityWes/xburn-dashboard/pkg/eventfeed"
)

// Backfill walks [fromBlock, toBlock] in fixed-size windows strictly in
// ascending order, sending each fetched window as a Batch. A window that
// fails to fetch is halved and retried recursively down to the configured
// floor, then given up with a logged, non-fatal failure.
func (ef *EventFeed) Backfill(
	ctx context.Context, fromBlock, toBlock int64, ch chan<- eventfeed.Batch,
) error {
	if fromBlock > toBlock {
		return fmt.Errorf("from block %d is greater than to block %d", fromBlock, toBlock)
	}
	ef.log.Info().
		Int64("from_block", fromBlock).
		Int64("to_block", toBlock).
		Msg("starting historical backfill")

	for start := fromBlock; start <= toBlock; start += ef.config.BackfillWindow {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := start + ef.config.BackfillWindow - 1
		if end > toBlock {
			end = toBlock
		}
		if err := ef.backfillRange(ctx, start, end, ch); err != nil {
			return err
		}
	}

	ef.log.Info().
		Int64("from_block", fromBlock).
		Int64("to_block", toBlock).
		Msg("historical backfill finished")
	return nil
}

// backfillRange fetches one window, splitting it in half on failure until
// the window floor is reached. Only context cancellation propagates as an
// error; an exhausted sub-range is skipped.
func (ef *EventFeed) backfillRange(
	ctx context.Context, fromBlock, toBlock int64, ch chan<- eventfeed.Batch,
) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	logs, err := ef.fetchRange(ctx, fromBlock, toBlock)
	if err != nil {
		size := toBlock - fromBlock + 1
		if size <= ef.config.BackfillFloor {
			ef.log.Error().
				Err(err).
				Int64("from_block", fromBlock).
				Int64("to_block", toBlock).
				Msg("giving up on backfill sub-range")
			return nil
		}
		mid := fromBlock + size/2
		if err := ef.backfillRange(ctx, fromBlock, mid-1, ch); err != nil {
			return err
		}
		return ef.backfillRange(ctx, mid, toBlock, ch)
	}

	batch := eventfeed.Batch{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Blocks:    ef.packEvents(logs),
	}
	select {
	case ch <- batch:
	case <-ctx.Done():
		return ctx.Err()
	}
	ef.lastTip.Store(toBlock)
	return nil
}
