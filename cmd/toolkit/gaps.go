package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/TreeCityWes/xburn-dashboard/pkg/database"
	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore"
	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore/impl/system"
	"github.com/TreeCityWes/xburn-dashboard/pkg/validator"
	"github.com/spf13/cobra"
)

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "Scans a chain's indexed events for block continuity holes",
	Long: `Scans a chain's indexed events for block continuity holes. Detected
gaps are recorded so a later backfill can cover them.`,
	Args: cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, chainID, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close() //nolint

		ctx := context.Background()
		validator.New(store, chainID).RunGapScan(ctx)

		gaps, err := store.ListBlockGaps(ctx, chainID)
		if err != nil {
			return fmt.Errorf("listing recorded gaps: %s", err)
		}
		if len(gaps) == 0 {
			fmt.Println("no gaps recorded")
			return nil
		}
		for _, gap := range gaps {
			state := "pending"
			if gap.Reprocessed {
				state = "reprocessed"
			}
			fmt.Printf("gap of %d blocks between %d and %d (%s)\n",
				gap.GapSize, gap.GapStart, gap.GapEnd, state)
		}
		return nil
	},
}

func openStore(cmd *cobra.Command) (sqlstore.SystemStore, sqlstore.ChainID, error) {
	dbPath, err := cmd.Flags().GetString("db")
	if err != nil {
		return nil, 0, errors.New("failed to parse db")
	}
	chain, err := cmd.Flags().GetInt64("chain")
	if err != nil {
		return nil, 0, errors.New("failed to parse chain")
	}

	db, err := database.Open(dbPath)
	if err != nil {
		return nil, 0, fmt.Errorf("opening database: %s", err)
	}
	return system.New(db), sqlstore.ChainID(chain), nil
}
