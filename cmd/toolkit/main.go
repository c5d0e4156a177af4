package main

import (
	"github.com/spf13/cobra"
)

var cliName = "toolkit"

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "toolkit is a CLI for xburn-dashboard operators",
	Long:  `toolkit is a CLI for xburn-dashboard operators executing mundane tasks`,
	Args:  cobra.ExactArgs(0),
}

func main() {
	rootCmd.Execute() //nolint
}

func init() {
	rootCmd.PersistentFlags().String("db", "database.db", "path of the SQLite database file")
	rootCmd.PersistentFlags().Int64("chain", 1, "chain id to operate on")

	rootCmd.AddCommand(gapsCmd)
	rootCmd.AddCommand(digestCmd)

	backfillCmd.Flags().Int64("from", 0, "first block of the range")
	backfillCmd.Flags().Int64("to", 0, "last block of the range")
	rootCmd.AddCommand(backfillCmd)
}
