package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MrWong99/wordwise/internal/app"
	"github.com/MrWong99/wordwise/internal/config"
)

// logLevel is shared by the default logger and config hot reload.
var logLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:           "wordwise",
	Short:         "Adaptive spelling profile and progress analytics server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the YAML configuration file (defaults apply when empty)")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(recomputeCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(eraseUserCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the dotenv file and the config named by the persistent
// flags, then installs the default logger at the configured level.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	path, _ := cmd.Flags().GetString("config")
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, "", fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", path)
			}
			return nil, "", err
		}
	}

	logLevel.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	return cfg, path, nil
}

// openApp builds an [app.App] for one-shot commands: no model backends and no
// background jobs. mutate may adjust the config first.
func openApp(cmd *cobra.Command, mutate func(*config.Config)) (*app.App, func(), error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	cfg.Validation.Enabled = false
	cfg.Scheduler.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	a, err := app.New(cmd.Context(), cfg, app.Providers{})
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := a.Shutdown(context.Background()); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}
	return a, closeFn, nil
}
