package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/TreeCityWes/xburn-dashboard/internal/chains"
	"github.com/TreeCityWes/xburn-dashboard/pkg/blocks"
	"github.com/TreeCityWes/xburn-dashboard/pkg/eventfeed"
	efimpl "github.com/TreeCityWes/xburn-dashboard/pkg/eventfeed/impl"
	epimpl "github.com/TreeCityWes/xburn-dashboard/pkg/eventprocessor/impl"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-indexes a historical block range of a chain",
	Long: `Re-indexes a historical block range of a chain. Events already
indexed are absorbed idempotently, so overlapping ranges are safe.`,
	Args: cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := cmd.Flags().GetInt64("from")
		if err != nil {
			return errors.New("failed to parse from")
		}
		to, err := cmd.Flags().GetInt64("to")
		if err != nil {
			return errors.New("failed to parse to")
		}
		if from <= 0 || to < from {
			return fmt.Errorf("invalid block range [%d, %d]", from, to)
		}

		store, chainID, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close() //nolint

		ctx := context.Background()
		chain, err := store.GetChain(ctx, chainID)
		if err != nil {
			return fmt.Errorf("loading chain %d: %s", chainID, err)
		}
		client, err := chains.EthclientDial(ctx, chain.RPCURL)
		if err != nil {
			return fmt.Errorf("dialing chain %d: %s", chainID, err)
		}

		addrs := eventfeed.ContractAddresses{
			XENToken:   common.HexToAddress(chain.XENTokenAddress),
			BurnMinter: common.HexToAddress(chain.BurnMinterAddress),
			BurnNFT:    common.HexToAddress(chain.BurnNFTAddress),
		}
		feed, err := efimpl.New(store, chainID, client, addrs)
		if err != nil {
			return fmt.Errorf("creating event feed: %s", err)
		}
		blockSvc := blocks.New(store, chainID, client)
		processor, err := epimpl.New(store, client, blockSvc, feed, chainID, addrs)
		if err != nil {
			return fmt.Errorf("creating event processor: %s", err)
		}

		ch := make(chan eventfeed.Batch)
		var feedErr error
		go func() {
			defer close(ch)
			feedErr = feed.Backfill(ctx, from, to, ch)
		}()
		var batches, events int
		for batch := range ch {
			if err := processor.ExecuteBatch(ctx, batch); err != nil {
				return fmt.Errorf("executing batch [%d, %d]: %s", batch.FromBlock, batch.ToBlock, err)
			}
			batches++
			for _, block := range batch.Blocks {
				for _, txn := range block.Txns {
					events += len(txn.Events)
				}
			}
		}
		if feedErr != nil {
			return fmt.Errorf("backfilling range [%d, %d]: %s", from, to, feedErr)
		}
		if err := store.MarkGapsReprocessed(ctx, chainID, from, to); err != nil {
			return fmt.Errorf("marking covered gaps reprocessed: %s", err)
		}

		fmt.Printf("backfilled %d batches with %d events in range [%d, %d]\n", batches, events, from, to)
		return nil
	},
}
