package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/observe"
)

// shutdownTimeout bounds the final save and backend teardown.
const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var watchInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP, WebSocket and MCP API",
		Long: `serve runs the simulation service on server.listen_addr.

Routes live under /v1/sessions; /healthz, /readyz, /metrics and the MCP
Streamable HTTP endpoint /mcp share the listener. The config file is watched
and log level, recall tuning and characters are reloaded without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.setup(cmd); err != nil {
				return err
			}
			return runServe(cmd.Context(), cmd.OutOrStdout(), opts, watchInterval)
		},
	}
	cmd.Flags().DurationVar(&watchInterval, "watch-interval", 5*time.Second, "config file polling interval")
	return cmd
}

func runServe(ctx context.Context, out io.Writer, opts *rootOptions, watchInterval time.Duration) error {
	cfg := opts.cfg
	slog.Info("murmur starting",
		"version", version,
		"config", opts.path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "murmur",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	opts.metrics = tel.Metrics

	// ── Application ───────────────────────────────────────────────────────────
	application, err := opts.buildApp(ctx)
	if err != nil {
		return err
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if opts.path != "" {
		watcher, err := config.NewWatcher(opts.path, application.ApplyConfig, config.WithInterval(watchInterval))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	printStartupSummary(out, cfg)
	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	if runErr != nil {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         murmur: startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "LLM", providerLabel(cfg.Providers.LLM))
	printRow(w, "Embeddings", providerLabel(cfg.Providers.Embeddings))
	printRow(w, "Memory", string(cfg.Memory.Backend))
	characters := fmt.Sprint(len(cfg.Simulation.Characters))
	if len(cfg.Simulation.Characters) == 0 {
		characters = "(default roster)"
	}
	printRow(w, "Characters", characters)
	printRow(w, "Quests", orNone(cfg.Simulation.QuestsFile))
	printRow(w, "Save dir", orNone(cfg.Simulation.SaveDir))
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:16]) + "…"
	}
	fmt.Fprintf(w, "║  %-14s  : %-19s ║\n", label, value)
}

func providerLabel(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(not configured)"
	}
	if e.Model != "" {
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
