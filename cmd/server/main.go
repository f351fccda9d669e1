package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sector7",
	Short: "Staked tic-tac-toe matchmaker",
	Long:  "sector7 pairs players by stake, referees their games and settles the result against the escrow ledger.",
	RunE:  runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.AddCommand(serveCmd, unresolvedCmd)
}
