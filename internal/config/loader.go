package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/murmur/pkg/memory"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "MURMUR_CONFIG"

// DefaultPath is used when neither a flag nor EnvPath names a file.
const DefaultPath = "murmur.yaml"

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultProviderTimeout = 20 * time.Second
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama", "gemini"},
}

// Path resolves the config file path: flagValue if set, then $MURMUR_CONFIG,
// then DefaultPath.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate]. Relative
// file paths inside the simulation section are resolved against the config
// file's directory.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.Timeout == 0 {
		cfg.Providers.Timeout = DefaultProviderTimeout
	}
	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = BackendFlat
	}
	if cfg.Memory.K == 0 {
		cfg.Memory.K = memory.DefaultK
	}
	if cfg.Memory.TopN == 0 {
		cfg.Memory.TopN = memory.DefaultTopN
	}
	if cfg.Memory.DecayRate == 0 {
		cfg.Memory.DecayRate = memory.DefaultDecayRate
	}
}

func (cfg *Config) resolvePaths(base string) {
	for _, p := range []*string{&cfg.Simulation.QuestsFile, &cfg.Simulation.NarrativeRulesFile, &cfg.Simulation.SaveDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	if cfg.Memory.Backend == BackendSQLite && cfg.Memory.DSN != "" && !filepath.IsAbs(cfg.Memory.DSN) {
		cfg.Memory.DSN = filepath.Join(base, cfg.Memory.DSN)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls needs both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range cfg.Providers.EmbeddingsFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.embeddings_fallbacks[%d].name is required", i))
		}
		validateProviderName("embeddings", fb.Name)
	}
	if cfg.Providers.Timeout < 0 {
		errs = append(errs, fmt.Errorf("providers.timeout %s must not be negative", cfg.Providers.Timeout))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; NPCs will answer with scripted lines")
	}

	// Memory
	m := cfg.Memory
	if m.Backend != "" && !m.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: flat, sqlite, postgres", m.Backend))
	}
	if (m.Backend == BackendSQLite || m.Backend == BackendPostgres) && m.DSN == "" {
		errs = append(errs, fmt.Errorf("memory.dsn is required for backend %q", m.Backend))
	}
	if m.Backend == BackendPostgres && m.Dimensions <= 0 {
		errs = append(errs, errors.New("memory.dimensions is required for backend \"postgres\""))
	}
	if m.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("memory.dimensions %d must not be negative", m.Dimensions))
	}
	if m.K < 0 || m.TopN < 0 {
		errs = append(errs, fmt.Errorf("memory.k (%d) and memory.top_n (%d) must be positive", m.K, m.TopN))
	}
	if m.DecayRate < 0 {
		errs = append(errs, fmt.Errorf("memory.decay_rate %.3f must not be negative", m.DecayRate))
	}
	if m.MinScore != nil && (*m.MinScore < -1 || *m.MinScore > 1) {
		errs = append(errs, fmt.Errorf("memory.min_score %.3f is out of range [-1, 1]", *m.MinScore))
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("no embeddings provider configured; NPC memories will not be recalled by similarity")
	}

	// Simulation
	sim := cfg.Simulation
	if sim.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("simulation.max_steps %d must not be negative", sim.MaxSteps))
	}
	if sim.AutosaveInterval < 0 {
		errs = append(errs, fmt.Errorf("simulation.autosave_interval %s must not be negative", sim.AutosaveInterval))
	}
	if sim.Autosave && sim.SaveDir == "" {
		slog.Warn("simulation.autosave is on but simulation.save_dir is empty; only sessions created with a directory are saved")
	}

	seen := make(map[string]int, len(sim.Characters))
	for i, c := range sim.Characters {
		prefix := fmt.Sprintf("simulation.characters[%d]", i)
		switch {
		case c.ID == "":
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
			continue
		case filepath.Base(c.ID) != c.ID || !filepath.IsLocal(c.ID):
			errs = append(errs, fmt.Errorf("%s.id %q must be usable as a file name", prefix, c.ID))
		}
		if prev, ok := seen[c.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of simulation.characters[%d]", prefix, c.ID, prev))
		}
		seen[c.ID] = i
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
