package main

import (
	"context"
	"fmt"

	"github.com/TreeCityWes/xburn-dashboard/pkg/validator"
	"github.com/spf13/cobra"
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Computes the integrity digest over a chain's burn events",
	Long:  `Computes the integrity digest over a chain's burn events`,
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, chainID, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close() //nolint

		digest, err := validator.New(store, chainID).ComputeDigest(context.Background())
		if err != nil {
			return fmt.Errorf("computing digest: %s", err)
		}
		fmt.Printf("digest %s over %d events\n", digest.Digest, digest.EventCount)
		return nil
	},
}
