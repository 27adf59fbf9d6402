// Package cli implements the worldctl commands.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/34892002/3000World/internal/config"
	"github.com/34892002/3000World/internal/logging"
	"github.com/34892002/3000World/pkg/datalayer"
)

var (
	cfgFile   string
	rootDir   string
	dataDir   string
	worldName string
	logLevel  string

	cfg    *config.Config
	logger *log.Logger
	layer  *datalayer.DataLayer
)

var rootCmd = &cobra.Command{
	Use:   "worldctl",
	Short: "Manage 3000World role-play worlds",
	Long: `worldctl inspects and maintains the per-world SQLite stores used by
3000World: list and delete worlds, export and import them, test worldbook
triggers, and search or rebuild chat memory.

Example usage:
  worldctl world list
  worldctl export -w tavern -o tavern.json
  worldctl worldbook match -w tavern "the dragon king awoke"
  worldctl memory reindex -w tavern`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if rootDir == "" {
			if rootDir, err = os.Getwd(); err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}
		config.LoadEnv(rootDir)

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dataDir != "" {
			cfg.Storage.DataDir = dataDir
		}
		if !filepath.IsAbs(cfg.Storage.DataDir) {
			cfg.Storage.DataDir = filepath.Join(rootDir, cfg.Storage.DataDir)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger = logging.New(os.Stderr, cfg.Logging.Level)
		layer, err = datalayer.New(cfg, datalayer.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to initialise data layer: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if layer == nil {
			return nil
		}
		return layer.Close()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./3000world.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "root directory (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory holding world files (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
}

// addWorldFlag registers the -w flag on commands that work on one world.
func addWorldFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&worldName, "world", "w", "", "world name (required)")
	cmd.MarkFlagRequired("world")
}

// connect opens the world named by -w. Worlds are never created here.
func connect(cmd *cobra.Command) error {
	if !layer.WorldExists(worldName) {
		return fmt.Errorf("world %q not found in %s", worldName, cfg.Storage.DataDir)
	}
	if err := layer.Connect(cmd.Context(), worldName); err != nil {
		return fmt.Errorf("failed to open world %q: %w", worldName, err)
	}
	return nil
}
