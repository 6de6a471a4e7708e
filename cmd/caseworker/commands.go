package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/caseworker/internal/config"
	"github.com/c360studio/caseworker/internal/store"
)

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return config.NewLoader(logger).Load()
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the caseworker engine: HTTP surface, worker loop, and reaper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
			app := NewApp(cfg, logger)
			if err := app.Start(cmd.Context()); err != nil {
				return fmt.Errorf("start app: %w", err)
			}
			defer app.Shutdown(5 * time.Second)

			return app.Run(cmd.Context())
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			db, err := store.Open(cfg.Store.DSN)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer db.Close()

			fmt.Println("migrations applied")
			return nil
		},
	}
}

func newReapOnceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reap-once",
		Short: "Run every reaper job once and exit, instead of on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			app := NewApp(cfg, logger)
			if err := app.Start(cmd.Context()); err != nil {
				return fmt.Errorf("start app: %w", err)
			}
			defer app.Shutdown(5 * time.Second)

			return app.scheduler.RunOnce(cmd.Context())
		},
	}
}
