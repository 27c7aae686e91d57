package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/skyq/internal/api"
	"github.com/user/skyq/internal/assistant"
	"github.com/user/skyq/internal/delivery"
	"github.com/user/skyq/internal/orchestrator"
	"github.com/user/skyq/internal/providers"
	"github.com/user/skyq/internal/scheduler"
	"github.com/user/skyq/internal/state"
	"github.com/user/skyq/internal/telegram"
	"github.com/user/skyq/internal/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the skyq daemon (HTTP API, Telegram bot and scheduler)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "skyq.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	closer := setupLogging(cfg)
	defer closer.Close()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	st := state.New()
	history := state.NewHistoryStore(cfg.DataDir)
	saved := savedStore(cfg)

	deliveryReg := delivery.NewRegistry()
	deliveryReg.SetContext(ctx)

	orch := orchestrator.New(st, newEngine(cfg),
		orchestrator.WithRecorder(history),
		orchestrator.WithNotifier(deliveryReg),
	)
	// Runs outlive ctx so Shutdown can still cancel them on the engine.
	orch.Start(context.WithoutCancel(ctx))
	defer orch.Shutdown(context.Background())

	chat := assistant.New(st, loadLLMConfig)

	sched := scheduler.New(saved, func(q *state.SavedQuery) {
		id, err := orch.ExecuteSaved(q, time.Now(), types.NewOriginKey("scheduler", q.Name))
		if err != nil {
			slog.Error("scheduled run failed to start", "name", q.Name, "error", err)
			return
		}
		slog.Info("scheduled run started", "name", q.Name, "run_id", string(id))
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	slog.Info("scheduler started", "queries", len(sched.Scheduled()))

	slog.Info("skyq started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", providers.Model(cfg.LLM),
		"trino", cfg.Trino.BaseURL,
		"pid_file", pidPath,
	)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, orch, chat,
			telegram.WithAllowedChats(cfg.Telegram.AllowedChats),
			telegram.WithSavedQueries(saved),
		)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		deliveryReg.Register(telegram.Source, adapter.Deliver)
		g.Go(func() error {
			adapter.Start(gctx)
			return nil
		})
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	srv := api.NewServer(orch,
		api.WithAssistant(chat),
		api.WithSavedQueries(saved, sched.Reload),
		api.WithHistory(history),
		api.WithModelLister(func(ctx context.Context) ([]string, error) {
			llmCfg, err := loadLLMConfig()
			if err != nil {
				return nil, err
			}
			return providers.ListGroqModels(ctx, llmCfg.GroqAPIKey)
		}),
	)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		slog.Info("api server started", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return waitForSignal(gctx, cancel, cfg.DataDir, pidPath)
	})

	return g.Wait()
}

// waitForSignal cancels on SIGINT or SIGTERM and re-executes the binary on
// SIGHUP.
func waitForSignal(ctx context.Context, cancel context.CancelFunc, dataDir, pidPath string) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					slog.Error("failed to get executable path", "error", err)
					continue
				}
				os.Remove(pidPath)
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					slog.Error("failed to re-exec", "error", err)
					if _, writeErr := writePIDFile(dataDir); writeErr != nil {
						slog.Error("failed to re-write PID file", "error", writeErr)
					}
				}
				continue
			}
			slog.Info("shutting down", "signal", sig)
			cancel()
			return nil
		}
	}
}
