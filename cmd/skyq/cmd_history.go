package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/skyq/internal/query"
	"github.com/user/skyq/internal/state"
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyClearCmd)

	historyListCmd.Flags().Int("limit", 20, "number of runs to show")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the run history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		history := state.NewHistoryStore(loadConfig().DataDir)

		records, err := history.Tail(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tSTARTED\tTYPE\tORIGIN\tRESULT\tFILTERS")
		for _, r := range records {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				r.Seq,
				r.StartedAt.Local().Format(query.TimeLayout),
				r.Type,
				r.Origin,
				r.Result.Summary(),
				query.Describe(r.Params),
			)
		}
		return w.Flush()
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the run history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := state.NewHistoryStore(loadConfig().DataDir).Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Run history cleared.")
		return nil
	},
}
