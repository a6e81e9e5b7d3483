package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/murmur/internal/narrative"
	"github.com/MrWong99/murmur/internal/quest"
	"github.com/MrWong99/murmur/internal/world"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the world content files",
		Long: `validate loads the configuration, the quest registry, the narrative rules
and the character roster without contacting any provider or backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.setup(cmd); err != nil {
				return err
			}
			sim := opts.cfg.Simulation

			quests := 0
			if sim.QuestsFile != "" {
				reg, err := quest.Load(sim.QuestsFile)
				if err != nil {
					return err
				}
				quests = reg.Len()
			}

			rules := narrative.DefaultRules()
			if sim.NarrativeRulesFile != "" {
				var err error
				if rules, err = narrative.LoadRules(sim.NarrativeRulesFile); err != nil {
					return err
				}
			}
			if _, err := narrative.NewEngine(rules); err != nil {
				return err
			}

			st, err := world.New(sim.Roster())
			if err != nil {
				return err
			}

			path := opts.path
			if path == "" {
				path = "(defaults)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d characters, %d quests, %d narrative rules)\n",
				path, len(st.CharacterIDs()), quests, len(rules))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the murmur version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "murmur", version)
		},
	}
}
