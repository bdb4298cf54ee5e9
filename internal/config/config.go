// Package config provides the configuration schema, loader, and provider registry
// for the raisehand learning companion.
package config

import "github.com/MrWong99/raisehand/internal/lesson"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultProvider       = "gemini-live"
	DefaultMicrophoneRate = 48000
	DefaultSpeakerRate    = 24000
	DefaultAPIKeyEnv      = "GEMINI_API_KEY"
	defaultLogLevel       = LogInfo
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Assistant AssistantConfig `yaml:"assistant"`
	Lessons   []lesson.Lesson `yaml:"lessons"`
}

// ServerConfig holds logging and the optional health/metrics listener.
type ServerConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz and /metrics
	// (e.g., ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile receives log output. The terminal belongs to the UI, so logs
	// are discarded when this is empty.
	LogFile string `yaml:"log_file"`
}

// ProvidersConfig selects the live conversation provider.
type ProvidersConfig struct {
	Live ProviderEntry `yaml:"live"`
}

// ProviderEntry is the common configuration block for a provider.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini-live").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	// When empty it is read from the GEMINI_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// AssistantConfig tunes the voice assistant session.
type AssistantConfig struct {
	// Voice is the prebuilt voice preset (e.g., "Zephyr").
	Voice string `yaml:"voice"`

	// MicrophoneRate is the device capture rate in Hz. Blocks are resampled
	// to 16 kHz before sending.
	MicrophoneRate int `yaml:"microphone_rate"`

	// SpeakerRate is the playback device rate in Hz.
	SpeakerRate int `yaml:"speaker_rate"`

	// BlockSize is the number of samples per microphone block.
	BlockSize int `yaml:"block_size"`

	// QueueLimit bounds the chunks buffered while the session connects.
	QueueLimit int `yaml:"queue_limit"`

	// WebSearch enables grounding with web search. Default true.
	WebSearch *bool `yaml:"web_search"`

	// InputTranscription enables transcripts of the learner's speech. Default true.
	InputTranscription *bool `yaml:"input_transcription"`

	// OutputTranscription enables transcripts of the assistant's speech. Default true.
	OutputTranscription *bool `yaml:"output_transcription"`
}

// Enabled reports the value of a feature toggle, treating unset as on.
func Enabled(b *bool) bool { return b == nil || *b }
