package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "whisper"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// ${VAR} references are expanded from the environment before decoding, so
// API keys can stay out of the file. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// STT provider
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	} else {
		validateProviderName("stt", cfg.Providers.STT.Name)
	}

	// Judges
	if len(cfg.Providers.Judges) == 0 {
		errs = append(errs, errors.New("providers.judges must configure at least one judge"))
	}
	rolesSeen := make(map[JudgeRole]int, len(cfg.Providers.Judges))
	for i, j := range cfg.Providers.Judges {
		prefix := fmt.Sprintf("providers.judges[%d]", i)
		if !j.Role.IsValid() {
			errs = append(errs, fmt.Errorf("%s.role %q is invalid; valid values: accuracy, fluency, interpretive", prefix, j.Role))
		} else if prev, ok := rolesSeen[j.Role]; ok {
			errs = append(errs, fmt.Errorf("%s.role %q is a duplicate of providers.judges[%d]", prefix, j.Role, prev))
		} else {
			rolesSeen[j.Role] = i
		}
		if j.Provider.Name == "" {
			errs = append(errs, fmt.Errorf("%s.provider.name is required", prefix))
		} else {
			validateProviderName("llm", j.Provider.Name)
		}
		if j.Temperature < 0 || j.Temperature > 2 {
			errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0, 2]", prefix, j.Temperature))
		}
		for k, fb := range j.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("%s.fallbacks[%d].name is required", prefix, k))
			} else {
				validateProviderName("llm", fb.Name)
			}
		}
	}
	if len(cfg.Providers.Judges) > 0 && len(cfg.Providers.Judges) < 3 {
		slog.Warn("fewer than three judges configured; spots will confirm on a single opinion",
			"judges", len(cfg.Providers.Judges),
		)
	}

	// Catalog
	if cfg.Catalog.Dir == "" {
		errs = append(errs, errors.New("catalog.dir is required"))
	}

	// Store availability
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; attempt history will not survive restarts")
	}

	// Assess tuning
	if cfg.Assess.JudgeTimeout < 0 {
		errs = append(errs, fmt.Errorf("assess.judge_timeout must not be negative"))
	}
	if cfg.Assess.TranscribeTimeout < 0 {
		errs = append(errs, fmt.Errorf("assess.transcribe_timeout must not be negative"))
	}
	if cfg.Assess.MaxAudioBytes < 0 {
		errs = append(errs, fmt.Errorf("assess.max_audio_bytes must not be negative"))
	}
	if cfg.Assess.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("assess.history_window must not be negative"))
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
