package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/skyq/internal/assistant"
	"github.com/user/skyq/internal/config"
	"github.com/user/skyq/internal/engine"
	"github.com/user/skyq/internal/orchestrator"
	"github.com/user/skyq/internal/providers"
	"github.com/user/skyq/internal/query"
	"github.com/user/skyq/internal/state"
	"github.com/user/skyq/internal/types"
)

var nowFunc = time.Now

func init() {
	rootCmd.AddCommand(askCmd, runCmd, presetsCmd, modelsCmd)
	savedCmd.AddCommand(savedRunCmd)

	askCmd.Flags().Bool("run", false, "execute the parsed query")
	askCmd.Flags().Int("rows", 10, "result rows to print")

	runCmd.Flags().String("type", string(query.DefaultType), "query type: flights, trajectory or rawdata")
	runCmd.Flags().StringArray("param", nil, "query parameter as key=value (repeatable)")
	runCmd.Flags().String("preset", "", "time preset: "+strings.Join(query.Presets, ", "))
	runCmd.Flags().Bool("dry-run", false, "print the preview and SQL without executing")
	runCmd.Flags().Int("rows", 10, "result rows to print")

	savedRunCmd.Flags().Int("rows", 10, "result rows to print")
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Turn a question into query parameters with the configured LLM",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		closer := setupLogging(cfg)
		defer closer.Close()

		st := state.New()
		chat := assistant.New(st, func() (config.LLMConfig, error) { return cfg.LLM, nil })
		reply, err := chat.Send(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		for _, m := range reply.Messages {
			if m.Role == state.RoleAssistant {
				fmt.Fprintln(os.Stdout, m.Content)
			}
		}
		if reply.Parsed == nil {
			return errors.New("no query was produced")
		}
		fmt.Fprintln(os.Stdout)
		fmt.Fprintln(os.Stdout, query.Describe(reply.Parsed.Params))
		fmt.Fprintln(os.Stdout, reply.Parsed.Hint)

		if run, _ := cmd.Flags().GetBool("run"); !run {
			return nil
		}
		rows, _ := cmd.Flags().GetInt("rows")
		return executeAndWait(cmd, cfg, st, rows, func(o *orchestrator.Orchestrator) (types.RunID, error) {
			return o.Execute(reply.Parsed.Params, reply.Parsed.Type, orchestrator.WithOrigin(types.NewOriginKey("cli")))
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a query against OpenSky and wait for the result",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		pairs, _ := cmd.Flags().GetStringArray("param")
		preset, _ := cmd.Flags().GetString("preset")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		rows, _ := cmd.Flags().GetInt("rows")

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

		if dryRun {
			fmt.Fprintln(os.Stdout, query.Preview(params, t))
			sql, err := query.BuildSQL(params, t)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout)
			fmt.Fprintln(os.Stdout, sql)
			return nil
		}

		cfg := loadConfig()
		closer := setupLogging(cfg)
		defer closer.Close()
		return executeAndWait(cmd, cfg, state.New(), rows, func(o *orchestrator.Orchestrator) (types.RunID, error) {
			return o.Execute(params, t, orchestrator.WithOrigin(types.NewOriginKey("cli")))
		})
	},
}

var savedRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Execute a saved query now and wait for the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		closer := setupLogging(cfg)
		defer closer.Close()

		q, err := savedStore(cfg).Get(args[0])
		if err != nil {
			return err
		}
		rows, _ := cmd.Flags().GetInt("rows")
		return executeAndWait(cmd, cfg, state.New(), rows, func(o *orchestrator.Orchestrator) (types.RunID, error) {
			return o.ExecuteSaved(q, nowFunc(), types.NewOriginKey("cli", q.Name))
		})
	},
}

// executeAndWait runs a query on a private orchestrator, recording it in
// the run history. An interrupt cancels the run.
func executeAndWait(cmd *cobra.Command, cfg *config.Config, st *state.AppState, rows int, start func(*orchestrator.Orchestrator) (types.RunID, error)) error {
	o := orchestrator.New(st, newEngine(cfg), orchestrator.WithRecorder(state.NewHistoryStore(cfg.DataDir)))
	o.Start(context.Background())
	defer o.Stop()

	id, err := start(o)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := o.Wait(ctx, id); err != nil {
		fmt.Fprintln(os.Stderr, "Cancelling...")
		cancelCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		if err := o.Cancel(cancelCtx); err != nil && !errors.Is(err, orchestrator.ErrNotRunning) {
			return err
		}
	}

	snap := o.Status()
	for _, line := range snap.Logs {
		fmt.Fprintln(os.Stderr, line)
	}
	if snap.Result == nil {
		return nil
	}
	switch snap.Result.Kind {
	case state.ResultSuccess:
		return printResult(os.Stdout, st.LastResult(), rows)
	case state.ResultError:
		return errors.New(snap.Result.Message)
	default:
		fmt.Fprintln(os.Stdout, snap.Result.Summary())
		return nil
	}
}

func printResult(out io.Writer, res *engine.ResultSet, limit int) error {
	if res == nil {
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(res.Columns, "\t")))
	for i, row := range res.Rows {
		if i >= limit {
			break
		}
		cells := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				cells[j] = "-"
				continue
			}
			cells[j] = fmt.Sprint(v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if n := res.RowCount(); n > limit {
		fmt.Fprintf(out, "... %d more rows (%d total)\n", n-limit, n)
	}
	return nil
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Show the quick time presets and the range each covers now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := nowFunc()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PRESET\tSTART\tSTOP")
		for _, name := range query.Presets {
			start, stop, err := query.Preset(name, now)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", name, start.Format(query.TimeLayout), stop.Format(query.TimeLayout))
		}
		return w.Flush()
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models available to the configured Groq key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		models, err := providers.ListGroqModels(cmd.Context(), cfg.LLM.GroqAPIKey)
		if err != nil {
			return err
		}
		current := ""
		if cfg.LLM.Provider == config.ProviderGroq {
			current = providers.Model(cfg.LLM)
		}
		for _, m := range models {
			marker := " "
			if m == current {
				marker = "*"
			}
			fmt.Fprintf(os.Stdout, "%s %s\n", marker, m)
		}
		return nil
	},
}
