package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bidhouse",
	Short: "Auction marketplace API server",
	Long: `bidhouse runs the auction marketplace backend: accounts, auctions,
bids and image uploads over a JSON HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
