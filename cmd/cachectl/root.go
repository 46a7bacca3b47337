package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"assetcache/internal/cache"
	"assetcache/internal/config"
	"assetcache/internal/logger"
)

var (
	// Global flags
	appDataRoot string
	logLevel    string
	jsonOutput  bool

	// Shared state injected into commands
	cfg    *config.Config
	log    *zap.Logger
	engine *cache.Engine
)

var rootCmd = &cobra.Command{
	Use:   "cachectl",
	Short: "Inspect and manage the background image cache",
	Long: `cachectl operates directly on a background image cache directory.

It uses the same engine as the server, so eviction limits, metadata recovery
and retention pruning apply exactly as they do at runtime. Do not run it
against a directory the server is writing to at the same time.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		for c := cmd; c != nil; c = c.Parent() {
			if c.Name() == "completion" || c.Name() == "help" {
				return nil
			}
		}

		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		if appDataRoot != "" {
			cfg.AppDataRoot = appDataRoot
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}

		log, err = logger.NewConsole(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		engine, err = cache.New(cfg.AppDataRoot,
			cache.WithLogger(log),
			cache.WithLimits(cfg.CacheMaxBytes, cfg.CacheMaxFiles),
			cache.WithRetention(time.Duration(cfg.RetentionDays)*24*time.Hour),
		)
		if err != nil {
			return err
		}
		return engine.Initialize(cmd.Context())
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if engine == nil {
			return nil
		}
		return engine.Shutdown(cmd.Context())
	},
}

// Execute runs the root command.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd.SetContext(ctx)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&appDataRoot, "root", "", "Application data root (overrides APP_DATA_ROOT)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newPutCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newRmCmd())
	rootCmd.AddCommand(newMvCmd())
	rootCmd.AddCommand(newExistsCmd())
	rootCmd.AddCommand(newClearCmd())
}
