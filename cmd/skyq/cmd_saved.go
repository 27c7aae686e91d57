package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/skyq/internal/query"
	"github.com/user/skyq/internal/scheduler"
	"github.com/user/skyq/internal/state"
)

func init() {
	rootCmd.AddCommand(savedCmd)
	savedCmd.AddCommand(savedAddCmd, savedListCmd, savedRemoveCmd, savedEnableCmd, savedDisableCmd)

	savedAddCmd.Flags().String("name", "", "saved query name (required)")
	savedAddCmd.Flags().String("type", string(query.DefaultType), "query type: flights, trajectory or rawdata")
	savedAddCmd.Flags().StringArray("param", nil, "query parameter as key=value (repeatable)")
	savedAddCmd.Flags().String("preset", "", "time preset evaluated at run time: "+strings.Join(query.Presets, ", "))
	savedAddCmd.Flags().String("schedule", "", "cron schedule expression")
	savedAddCmd.Flags().String("notify", "", "origin key notified on completion, e.g. telegram:12345")
	_ = savedAddCmd.MarkFlagRequired("name")
}

var savedCmd = &cobra.Command{
	Use:   "saved",
	Short: "Manage saved queries",
}

// parseParams applies key=value pairs with query.Params.Set.
func parseParams(pairs []string) (query.Params, error) {
	var p query.Params
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return p, fmt.Errorf("expected key=value, got %q", pair)
		}
		if err := p.Set(strings.TrimSpace(key), value); err != nil {
			return p, err
		}
	}
	return p, nil
}

var savedAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a saved query",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		typ, _ := cmd.Flags().GetString("type")
		pairs, _ := cmd.Flags().GetStringArray("param")
		preset, _ := cmd.Flags().GetString("preset")
		schedule, _ := cmd.Flags().GetString("schedule")
		notify, _ := cmd.Flags().GetString("notify")

		t, err := query.ParseType(typ)
		if err != nil {
			return err
		}
		params, err := parseParams(pairs)
		if err != nil {
			return err
		}
		if preset != "" {
			if err := params.ApplyPreset(preset, nowFunc()); err != nil {
				return err
			}
		}
		if schedule != "" {
			if err := scheduler.ValidateSchedule(schedule); err != nil {
				return fmt.Errorf("invalid schedule %q: %w", schedule, err)
			}
		}

		q := &state.SavedQuery{
			Name:     name,
			Type:     t,
			Params:   params,
			Schedule: schedule,
			Preset:   preset,
			Notify:   notify,
			Enabled:  true,
		}
		if err := savedStore(loadConfig()).Add(q); err != nil {
			return fmt.Errorf("add saved query: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Saved query %q added.\n", name)
		if schedule != "" {
			fmt.Fprintln(os.Stdout, "Restart the daemon (skyq restart) to pick up the schedule.")
		}
		return nil
	},
}

var savedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved queries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		saved, err := savedStore(loadConfig()).List()
		if err != nil {
			return fmt.Errorf("list saved queries: %w", err)
		}
		if len(saved) == 0 {
			fmt.Println("No saved queries.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tSCHEDULE\tPRESET\tENABLED\tNOTIFY\tFILTERS")
		for _, q := range saved {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\t%s\n",
				q.Name,
				q.Type,
				q.Schedule,
				q.Preset,
				q.Enabled,
				q.Notify,
				query.Describe(q.Params),
			)
		}
		return w.Flush()
	},
}

var savedRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a saved query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := savedStore(loadConfig()).Remove(args[0]); err != nil {
			return fmt.Errorf("remove saved query: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Saved query %q removed.\n", args[0])
		return nil
	},
}

var savedEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a saved query's schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := savedStore(loadConfig()).SetEnabled(args[0], true); err != nil {
			return fmt.Errorf("enable saved query: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Saved query %q enabled.\n", args[0])
		return nil
	},
}

var savedDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a saved query's schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := savedStore(loadConfig()).SetEnabled(args[0], false); err != nil {
			return fmt.Errorf("disable saved query: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Saved query %q disabled.\n", args[0])
		return nil
	},
}
