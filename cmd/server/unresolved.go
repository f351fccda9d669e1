package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Freakkio/Sector7/internal/config"
	"github.com/Freakkio/Sector7/internal/journal"
	"github.com/Freakkio/Sector7/internal/settlement"
)

var unresolvedCmd = &cobra.Command{
	Use:   "unresolved",
	Short: "Inspect and retry result commits that could not be settled",
}

var unresolvedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open unresolved settlements",
	Args:  cobra.NoArgs,
	RunE:  runUnresolvedList,
}

var unresolvedRetryCmd = &cobra.Command{
	Use:   "retry <matchId>",
	Short: "Re-issue the result commit of a stuck match",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnresolvedRetry,
}

func init() {
	unresolvedCmd.PersistentFlags().String("journal", "", "journal database (default $JOURNAL_PATH)")
	unresolvedCmd.AddCommand(unresolvedListCmd, unresolvedRetryCmd)
}

func openJournal(cmd *cobra.Command) (config.Config, *journal.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	if p, _ := cmd.Flags().GetString("journal"); p != "" {
		cfg.JournalPath = p
	}
	store, err := journal.Open(cmd.Context(), cfg.JournalPath)
	return cfg, store, err
}

func runUnresolvedList(cmd *cobra.Command, args []string) error {
	_, store, err := openJournal(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.ListUnresolved(cmd.Context())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no unresolved settlements")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MATCH\tWINNER\tPLAYERS\tSTAKE\tESCROW TX\tSINCE\tREASON")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s,%s\t%s\t%s\t%s\t%s\n",
			e.MatchID, e.Winner, e.Players[0], e.Players[1], e.Stake, e.EscrowTx,
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.Reason)
	}
	return tw.Flush()
}

func runUnresolvedRetry(cmd *cobra.Command, args []string) error {
	cfg, store, err := openJournal(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := settlement.Resolve(cmd.Context(), newGateway(cfg), store, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "match %s settled tx=%s\n", args[0], rec.TxHash)
	return nil
}
