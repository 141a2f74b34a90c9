// Command qminer is a minimal demo CLI embedding the engine: it creates
// a small single-store database, adds records to it, and runs queries
// against it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"qminer/internal/config"
	"qminer/internal/logging"
	"qminer/internal/qbase"
	"qminer/internal/query"
)

var (
	configPath string
	dbDir      string
	engineCfg  qbase.Config
)

var rootCmd = &cobra.Command{
	Use:   "qminer",
	Short: "qminer is an embedded record store, inverted index and query engine",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dbDir == "" {
			dbDir = cfg.DataDir
		}
		engineCfg = qbase.DefaultConfig()
		if cfg.CacheSizeBytes > 0 {
			engineCfg.CacheSizeBytes = cfg.CacheSizeBytes
		}
		if cfg.GeoPrecision > 0 {
			engineCfg.GeoPrecision = cfg.GeoPrecision
		}
		if cfg.VocabRangeOnMissing != "" {
			engineCfg.VocabRangeOnMissing = query.RangeOnMissing(cfg.VocabRangeOnMissing)
		}
		if err := logging.Initialize(logging.Config{
			Dir:        cfg.Logging.Dir,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "qminer.yaml", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbDir, "dir", "", "database directory (overrides config data_dir)")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(queryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
