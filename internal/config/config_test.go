package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/raisehand/internal/config"
	"github.com/MrWong99/raisehand/pkg/provider/live"
	"github.com/MrWong99/raisehand/pkg/provider/live/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  log_file: raisehand.log

providers:
  live:
    name: gemini-live
    api_key: test-key
    model: gemini-2.5-flash-native-audio-preview-09-2025

assistant:
  voice: Puck
  microphone_rate: 44100
  block_size: 2048
  web_search: false

lessons:
  - id: 1
    grade: Grade 5
    subject: Science
    title: The Water Cycle
    video_id: al-do-HGuIk
    transcript: Water evaporates, condenses into clouds, and falls as rain.
  - id: 2
    grade: Grade 7
    subject: Math
    title: Fractions
    transcript: A fraction is a part of a whole.
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Providers.Live.APIKey != "test-key" {
		t.Errorf("providers.live.api_key: got %q", cfg.Providers.Live.APIKey)
	}
	if cfg.Assistant.Voice != "Puck" {
		t.Errorf("assistant.voice: got %q, want Puck", cfg.Assistant.Voice)
	}
	if cfg.Assistant.MicrophoneRate != 44100 {
		t.Errorf("assistant.microphone_rate: got %d, want 44100", cfg.Assistant.MicrophoneRate)
	}
	if cfg.Assistant.SpeakerRate != config.DefaultSpeakerRate {
		t.Errorf("assistant.speaker_rate: got %d, want default %d", cfg.Assistant.SpeakerRate, config.DefaultSpeakerRate)
	}
	if config.Enabled(cfg.Assistant.WebSearch) {
		t.Error("assistant.web_search: got enabled, want disabled")
	}
	if !config.Enabled(cfg.Assistant.InputTranscription) {
		t.Error("assistant.input_transcription: unset toggle should default to enabled")
	}
	if len(cfg.Lessons) != 2 {
		t.Fatalf("lessons: got %d, want 2", len(cfg.Lessons))
	}
	if cfg.Lessons[0].VideoID != "al-do-HGuIk" {
		t.Errorf("lessons[0].video_id: got %q", cfg.Lessons[0].VideoID)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}
	if cfg.Providers.Live.Name != config.DefaultProvider {
		t.Errorf("providers.live.name: got %q, want %q", cfg.Providers.Live.Name, config.DefaultProvider)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level: got %q, want info", cfg.Server.LogLevel)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("assistant:\n  volume: 11\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_APIKeyFromEnv(t *testing.T) {
	t.Setenv(config.DefaultAPIKeyEnv, "env-key")

	cfg, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.Live.APIKey != "env-key" {
		t.Errorf("api_key: got %q, want env-key", cfg.Providers.Live.APIKey)
	}

	cfg, err = config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.Live.APIKey != "test-key" {
		t.Errorf("explicit api_key overridden: got %q", cfg.Providers.Live.APIKey)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raisehand.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Lessons) != 2 {
		t.Errorf("lessons: got %d, want 2", len(cfg.Lessons))
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownLive(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateLive(config.ProviderEntry{Name: "nonexistent"})
	if err == nil {
		t.Fatal("expected error for unknown live provider")
	}
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_RegisteredLive(t *testing.T) {
	reg := config.NewRegistry()
	want := &mock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterLive("stub", func(e config.ProviderEntry) (live.Provider, error) {
		gotEntry = e
		return want, nil
	})
	got, err := reg.CreateLive(config.ProviderEntry{Name: "stub", Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
	if gotEntry.Model != "m" {
		t.Errorf("factory entry model: got %q, want m", gotEntry.Model)
	}
	if names := reg.LiveNames(); len(names) != 1 || names[0] != "stub" {
		t.Errorf("LiveNames: got %v, want [stub]", names)
	}

	// The registered provider is usable through the interface.
	if _, err := got.Connect(context.Background(), live.SessionConfig{}); err != nil {
		t.Errorf("Connect: %v", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLive("broken", func(e config.ProviderEntry) (live.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLive(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}
