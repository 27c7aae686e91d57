package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/skyq/internal/config"
	"github.com/user/skyq/internal/engine/trino"
	"github.com/user/skyq/internal/logging"
	"github.com/user/skyq/internal/state"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "skyq",
	Short:        "Ask the OpenSky Network historical database about flights",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnvFiles(".env", "~/.skyq/.env")
	},
}

func init() {
	def, err := config.DefaultPath()
	if err != nil {
		def = filepath.Join(".skyq", "config.json")
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", def, "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// loadLLMConfig re-reads the file so settings changes apply to the next
// chat message.
func loadLLMConfig() (config.LLMConfig, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.LLMConfig{}, err
	}
	return cfg.LLM, nil
}

func setupLogging(cfg *config.Config) io.Closer {
	closer, err := logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file, logging to stderr only: %v\n", err)
		closer, _ = logging.Setup(logging.Options{Level: cfg.LogLevel})
	}
	return closer
}

func newEngine(cfg *config.Config) *trino.Engine {
	return trino.New(trino.Config{
		BaseURL:      cfg.Trino.BaseURL,
		User:         cfg.Trino.User,
		Token:        cfg.Trino.Token,
		Catalog:      cfg.Trino.Catalog,
		Schema:       cfg.Trino.Schema,
		PollInterval: time.Duration(cfg.Trino.PollIntervalMS) * time.Millisecond,
	})
}

func savedStore(cfg *config.Config) *state.SavedQueryStore {
	return state.NewSavedQueryStore(filepath.Join(cfg.DataDir, "saved.json"))
}
