package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/murmur/internal/mcp"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	var (
		saveDir   string
		transport string
		addr      string
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the simulation as MCP tools",
		Long: `mcp exposes recall_memory, world_tick and world_snapshot to an MCP client.

One session is opened on --save-dir and used whenever a call names no
session. It is saved when the client disconnects or the process stops.
With the stdio transport stdout carries the protocol; logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t := mcp.Transport(transport)
			if !t.IsValid() {
				return fmt.Errorf("--transport %q is invalid; valid values: %s, %s",
					transport, mcp.TransportStdio, mcp.TransportStreamableHTTP)
			}
			if err := opts.setup(cmd); err != nil {
				return err
			}
			return runMCP(cmd.Context(), opts, saveDir, t, addr)
		},
	}
	cmd.Flags().StringVar(&saveDir, "save-dir", "", "savegame directory of the default session (empty uses simulation.save_dir)")
	cmd.Flags().StringVar(&transport, "transport", string(mcp.TransportStdio), "stdio or streamable-http")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address for streamable-http (default server.listen_addr)")
	return cmd
}

func runMCP(ctx context.Context, opts *rootOptions, saveDir string, transport mcp.Transport, addr string) (err error) {
	application, err := opts.buildApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := application.Shutdown(sctx); serr != nil && err == nil {
			err = fmt.Errorf("shutdown: %w", serr)
		}
	}()

	info, err := application.Sessions().Create(ctx, saveDir)
	if err != nil {
		return err
	}
	srv := application.MCPServer(info.ID)
	slog.Info("mcp server starting", "transport", transport, "session_id", info.ID, "save_dir", info.SaveDir)

	switch transport {
	case mcp.TransportStreamableHTTP:
		return serveMCPHTTP(ctx, srv, addr, opts.cfg.Server.ListenAddr)
	default:
		if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}
}

func serveMCPHTTP(ctx context.Context, srv *mcp.Server, addr, fallback string) error {
	if addr == "" {
		addr = fallback
	}
	mux := http.NewServeMux()
	mux.Handle("/mcp", srv.Handler())
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	slog.Info("mcp listening", "addr", addr, "path", "/mcp")

	select {
	case err := <-errc:
		return fmt.Errorf("mcp: %w", err)
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(sctx); err != nil {
		return fmt.Errorf("mcp: shutdown: %w", err)
	}
	return nil
}
