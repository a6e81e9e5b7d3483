package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are reported individually; anything else that
// changed is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RecallChanged bool // memory k, top_n, decay_rate or min_score

	CharactersChanged bool            // roster of fresh worlds; live sessions keep theirs
	CharacterChanges  []CharacterDiff // per-character diffs

	// RestartRequired names the changed sections that only take effect
	// after a restart.
	RestartRequired []string
}

// CharacterDiff describes what changed for a single character between two configs.
type CharacterDiff struct {
	ID                 string
	PersonalityChanged bool
	InventoryChanged   bool
	AliasesChanged     bool
	Added              bool
	Removed            bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Recall tuning
	om, nm := old.Memory, new.Memory
	if om.K != nm.K || om.TopN != nm.TopN || om.DecayRate != nm.DecayRate || !sameScore(om.MinScore, nm.MinScore) {
		d.RecallChanged = true
	}

	// Characters keyed by id.
	oldChars := make(map[string]*CharacterConfig, len(old.Simulation.Characters))
	for i := range old.Simulation.Characters {
		oldChars[old.Simulation.Characters[i].ID] = &old.Simulation.Characters[i]
	}
	newChars := make(map[string]*CharacterConfig, len(new.Simulation.Characters))
	for i := range new.Simulation.Characters {
		newChars[new.Simulation.Characters[i].ID] = &new.Simulation.Characters[i]
	}
	for id, oc := range oldChars {
		nc, exists := newChars[id]
		if !exists {
			d.CharacterChanges = append(d.CharacterChanges, CharacterDiff{ID: id, Removed: true})
			continue
		}
		cd := CharacterDiff{
			ID:                 id,
			PersonalityChanged: oc.Personality != nc.Personality,
			InventoryChanged:   !slices.Equal(oc.Inventory, nc.Inventory),
			AliasesChanged:     !slices.Equal(oc.Aliases, nc.Aliases),
		}
		if cd.PersonalityChanged || cd.InventoryChanged || cd.AliasesChanged {
			d.CharacterChanges = append(d.CharacterChanges, cd)
		}
	}
	for id := range newChars {
		if _, exists := oldChars[id]; !exists {
			d.CharacterChanges = append(d.CharacterChanges, CharacterDiff{ID: id, Added: true})
		}
	}
	slices.SortFunc(d.CharacterChanges, func(a, b CharacterDiff) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	d.CharactersChanged = len(d.CharacterChanges) > 0

	// Restart-only sections.
	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if om.Backend != nm.Backend || om.DSN != nm.DSN || om.Dimensions != nm.Dimensions {
		d.RestartRequired = append(d.RestartRequired, "memory.backend")
	}
	osim, nsim := old.Simulation, new.Simulation
	if osim.QuestsFile != nsim.QuestsFile || osim.NarrativeRulesFile != nsim.NarrativeRulesFile ||
		osim.SaveDir != nsim.SaveDir || osim.MaxSteps != nsim.MaxSteps ||
		osim.Autosave != nsim.Autosave || osim.AutosaveInterval != nsim.AutosaveInterval {
		d.RestartRequired = append(d.RestartRequired, "simulation")
	}

	return d
}

func sameScore(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameProviders(a, b ProvidersConfig) bool {
	if a.Timeout != b.Timeout || !sameEntry(a.LLM, b.LLM) || !sameEntry(a.Embeddings, b.Embeddings) {
		return false
	}
	return slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, sameEntry) &&
		slices.EqualFunc(a.EmbeddingsFallbacks, b.EmbeddingsFallbacks, sameEntry)
}

func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && reflect.DeepEqual(a.Options, b.Options)
}
