package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/wordwise/internal/app"
	"github.com/MrWong99/wordwise/internal/config"
	"github.com/MrWong99/wordwise/internal/observe"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ops server, the scheduler and the learning services",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	slog.Info("wordwise starting",
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	printStartupSummary(cmd, cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(logLevel))
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if path != "" {
		w, err := config.NewWatcher(path, application.OnConfigChange)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	row := func(label, value string) {
		if len(value) > 19 {
			value = value[:16] + "..."
		}
		fmt.Fprintf(out, "║  %-15s : %-19s ║\n", label, value)
	}
	onOff := func(b bool) string {
		if b {
			return "enabled"
		}
		return "(disabled)"
	}

	fmt.Fprintln(out, "╔═══════════════════════════════════════════╗")
	fmt.Fprintln(out, "║         Wordwise, startup summary         ║")
	fmt.Fprintln(out, "╠═══════════════════════════════════════════╣")
	row("Store", string(cfg.Store.Driver))
	llmName := "(not configured)"
	if cfg.Providers.LLM.Name != "" {
		llmName = cfg.Providers.LLM.Name
		if cfg.Providers.LLM.Model != "" {
			llmName += " / " + cfg.Providers.LLM.Model
		}
	}
	row("LLM", llmName)
	row("LLM fallbacks", fmt.Sprint(len(cfg.Providers.LLMFallbacks)))
	row("Validation", onOff(cfg.Validation.Enabled))
	row("Scheduler", onOff(cfg.Scheduler.Enabled))
	if cfg.Retention.MaxAge > 0 {
		row("Retention", cfg.Retention.MaxAge.String())
	} else {
		row("Retention", "(keep forever)")
	}
	row("Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(out, "╚═══════════════════════════════════════════╝")
}
