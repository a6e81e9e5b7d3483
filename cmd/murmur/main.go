// Command murmur runs the NPC simulation: an HTTP/WebSocket service, a
// one-shot tick runner for scripting, and an MCP tool server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "murmur: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logFormat  string
	logLevel   string

	// Filled in by setup.
	cfg   *config.Config
	path  string
	level *slog.LevelVar
	log   *slog.Logger

	// metrics is set by serve once telemetry is up. Nil falls back to
	// observe.DefaultMetrics.
	metrics *observe.Metrics
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "murmur",
		Short: "Memory-bearing NPC simulation",
		Long: `murmur simulates a small town of NPCs that remember what players tell them.

Each tick installs one player event, routes it through the simulation graph
and answers with the addressed character's line. Worlds and character
memories are saved to savegame directories.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file (default $"+config.EnvPath+" or "+config.DefaultPath+")")
	pf.StringVar(&opts.logFormat, "log-format", "text", "log output format: text or json")
	pf.StringVar(&opts.logLevel, "log-level", "", "override server.log_level: debug, info, warn or error")

	root.AddCommand(
		newServeCmd(opts),
		newTickCmd(opts),
		newMCPCmd(opts),
		newValidateCmd(opts),
		newVersionCmd(),
	)
	return root
}

// setup loads the configuration and installs the logger. Logs always go to
// stderr so stdout stays free for command output and the MCP stdio stream.
//
// A missing config file is fatal only when a path was given explicitly;
// otherwise the built-in defaults are used.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	o.path = config.Path(o.configPath)
	explicit := o.configPath != "" || os.Getenv(config.EnvPath) != ""

	cfg, err := config.Load(o.path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !explicit:
		if cfg, err = config.LoadFromReader(strings.NewReader("")); err != nil {
			return err
		}
		o.path = ""
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("config file %q not found; copy configs/murmur.example.yaml to get started", o.path)
	default:
		return err
	}

	if o.logLevel != "" {
		lvl := config.LogLevel(o.logLevel)
		if !lvl.IsValid() {
			return fmt.Errorf("--log-level %q is invalid; valid values: debug, info, warn, error", o.logLevel)
		}
		cfg.Server.LogLevel = lvl
	}

	o.level = new(slog.LevelVar)
	o.level.Set(cfg.Server.LogLevel.Slog())
	o.log, err = newLogger(cmd.ErrOrStderr(), o.logFormat, o.level)
	if err != nil {
		return err
	}
	slog.SetDefault(o.log)
	o.cfg = cfg
	return nil
}

// buildApp creates providers from the registry and wires the application.
func (o *rootOptions) buildApp(ctx context.Context) (*app.App, error) {
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	providers, err := app.BuildProviders(o.cfg, reg, o.metrics)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}
	opts := []app.Option{
		app.WithLogger(o.log),
		app.WithLevelVar(o.level),
		app.WithVersion(version),
	}
	if o.metrics != nil {
		opts = append(opts, app.WithMetrics(o.metrics))
	}
	return app.New(ctx, o.cfg, providers, opts...)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, format string, level *slog.LevelVar) (*slog.Logger, error) {
	hopts := &slog.HandlerOptions{Level: level}
	switch format {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return nil, fmt.Errorf("--log-format %q is invalid; valid values: text, json", format)
}
