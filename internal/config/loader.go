package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live": {"gemini-live"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, fills defaults, and validates
// the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields. The live provider's API key falls back
// to the GEMINI_API_KEY environment variable.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = defaultLogLevel
	}
	if cfg.Providers.Live.Name == "" {
		cfg.Providers.Live.Name = DefaultProvider
	}
	if cfg.Providers.Live.APIKey == "" {
		cfg.Providers.Live.APIKey = os.Getenv(DefaultAPIKeyEnv)
	}
	if cfg.Assistant.MicrophoneRate == 0 {
		cfg.Assistant.MicrophoneRate = DefaultMicrophoneRate
	}
	if cfg.Assistant.SpeakerRate == 0 {
		cfg.Assistant.SpeakerRate = DefaultSpeakerRate
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

	// Providers
	validateProviderName("live", cfg.Providers.Live.Name)
	if cfg.Providers.Live.APIKey == "" {
		slog.Warn("providers.live.api_key is empty and " + DefaultAPIKeyEnv + " is not set; the assistant will not be able to connect")
	}

	// Assistant
	a := cfg.Assistant
	if a.MicrophoneRate < 0 {
		errs = append(errs, fmt.Errorf("assistant.microphone_rate %d must be positive", a.MicrophoneRate))
	}
	if a.SpeakerRate < 0 {
		errs = append(errs, fmt.Errorf("assistant.speaker_rate %d must be positive", a.SpeakerRate))
	}
	if a.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("assistant.block_size %d must not be negative", a.BlockSize))
	}
	if a.QueueLimit < 0 {
		errs = append(errs, fmt.Errorf("assistant.queue_limit %d must not be negative", a.QueueLimit))
	}

	// Lessons
	if len(cfg.Lessons) == 0 {
		slog.Warn("no lessons configured; the lesson list will be empty")
	}
	idsSeen := make(map[int]int, len(cfg.Lessons))
	for i, l := range cfg.Lessons {
		prefix := fmt.Sprintf("lessons[%d]", i)
		if l.ID <= 0 {
			errs = append(errs, fmt.Errorf("%s.id must be positive", prefix))
		} else {
			if prev, ok := idsSeen[l.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %d is a duplicate of lessons[%d]", prefix, l.ID, prev))
			}
			idsSeen[l.ID] = i
		}
		if l.Title == "" {
			errs = append(errs, fmt.Errorf("%s.title is required", prefix))
		}
		if l.Transcript == "" {
			slog.Warn("lesson has no transcript; answers will not be grounded in it", "lesson", l.Title)
		}
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
