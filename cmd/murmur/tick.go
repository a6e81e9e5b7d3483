package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/murmur/internal/world"
)

func newTickCmd(opts *rootOptions) *cobra.Command {
	var (
		saveDir string
		event   string
		params  []string
	)
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one tick against a savegame directory",
		Long: `tick resumes the savegame in --save-dir (or starts a fresh world there),
installs one event, runs a single tick, prints the result as JSON and saves.

Event parameters are given as key=value pairs; whole numbers are passed as
integers, everything else as text.`,
		Example: `  murmur tick --save-dir ./saves/demo --event player_chat \
    --param npc_id=malrik_merchant --param "text=Any spices today?"
  murmur tick --save-dir ./saves/demo --event player_moved --param location=Harbor`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			if err := opts.setup(cmd); err != nil {
				return err
			}
			return runTick(cmd.Context(), cmd.OutOrStdout(), opts, saveDir, world.EventKind(event), p)
		},
	}
	cmd.Flags().StringVar(&saveDir, "save-dir", "", "savegame directory to resume and save to (required)")
	cmd.Flags().StringVar(&event, "event", "", "event kind: player_chat, player_near_npc or player_moved (required)")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "event parameter as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("save-dir")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func runTick(ctx context.Context, out io.Writer, opts *rootOptions, saveDir string, kind world.EventKind, params map[string]any) (err error) {
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

	sessions := application.Sessions()
	info, err := sessions.Create(ctx, saveDir)
	if err != nil {
		return err
	}
	res, err := sessions.Tick(ctx, info.ID, kind, params)
	if err != nil {
		return err
	}
	if err := sessions.Save(ctx, info.ID); err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// parseParams turns key=value flags into event parameters.
func parseParams(kvs []string) (map[string]any, error) {
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--param %q: want key=value", kv)
		}
		if n, err := strconv.Atoi(v); err == nil {
			out[k] = n
			continue
		}
		out[k] = v
	}
	return out, nil
}
