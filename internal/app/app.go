// Package app wires the raisehand subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the audio devices and
// builds the assistant manager, Run drives the terminal UI and the optional
// HTTP listener, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithMicrophone, WithOutput, ...). When an option is not provided, New
// opens the real audio devices.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/raisehand/internal/assistant"
	"github.com/MrWong99/raisehand/internal/config"
	"github.com/MrWong99/raisehand/internal/health"
	"github.com/MrWong99/raisehand/internal/lesson"
	"github.com/MrWong99/raisehand/internal/observe"
	"github.com/MrWong99/raisehand/internal/tui"
	"github.com/MrWong99/raisehand/pkg/audio/capture"
	"github.com/MrWong99/raisehand/pkg/audio/device"
	"github.com/MrWong99/raisehand/pkg/provider/live"
)

// shutdownGrace bounds the HTTP listener's graceful shutdown.
const shutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	provider live.Provider

	mic        capture.Source
	openOutput assistant.OutputFactory
	metrics    *observe.Metrics
	progOpts   []tea.ProgramOption
	listener   net.Listener

	catalog *lesson.Catalog
	player  *lesson.State
	manager *assistant.Manager

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMicrophone injects the microphone instead of opening the default
// capture device.
func WithMicrophone(src capture.Source) Option {
	return func(a *App) { a.mic = src }
}

// WithOutput injects the speaker factory instead of opening the default
// playback device.
func WithOutput(open assistant.OutputFactory) Option {
	return func(a *App) { a.openOutput = open }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithProgramOptions appends bubbletea options for the terminal UI.
func WithProgramOptions(opts ...tea.ProgramOption) Option {
	return func(a *App) { a.progOpts = append(a.progOpts, opts...) }
}

// WithListener serves HTTP on l instead of listening on
// cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. provider comes from main.go (built via the config
// registry).
func New(cfg *config.Config, provider live.Provider, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, provider: provider}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initDevices(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	a.catalog = lesson.NewCatalog(cfg.Lessons)
	a.player = lesson.NewState(func(paused bool) {
		slog.Debug("lesson playback changed", "paused", paused)
	})
	a.manager = assistant.NewManager(assistant.ManagerConfig{
		Provider:   provider,
		Microphone: a.mic,
		OpenOutput: a.openOutput,
		Player:     a.player,
		Session:    sessionConfig(cfg.Assistant),
		Options:    []assistant.Option{assistant.WithMetrics(a.metrics)},
	})
	// The session must release its devices before the device context goes.
	a.closers = append([]func() error{a.manager.Close}, a.closers...)

	slog.Info("app initialised",
		"lessons", a.catalog.Len(),
		"microphone_rate", cfg.Assistant.MicrophoneRate,
		"speaker_rate", cfg.Assistant.SpeakerRate,
	)
	return a, nil
}

func (a *App) initDevices() error {
	if a.mic != nil && a.openOutput != nil {
		return nil
	}
	dctx, err := device.NewContext()
	if err != nil {
		return err
	}
	a.closers = append(a.closers, dctx.Close)

	if a.mic == nil {
		a.mic = device.NewMicrophone(dctx, a.cfg.Assistant.MicrophoneRate)
	}
	if a.openOutput == nil {
		rate := a.cfg.Assistant.SpeakerRate
		a.openOutput = func() (assistant.Output, error) {
			sp, err := device.NewSpeaker(dctx, rate)
			if err != nil {
				return nil, err
			}
			return sp, nil
		}
	}
	return nil
}

// sessionConfig maps the assistant section onto the session template.
func sessionConfig(c config.AssistantConfig) assistant.Config {
	return assistant.Config{
		Voice:               c.Voice,
		InputTranscription:  config.Enabled(c.InputTranscription),
		OutputTranscription: config.Enabled(c.OutputTranscription),
		WebSearch:           config.Enabled(c.WebSearch),
		BlockSize:           c.BlockSize,
		QueueLimit:          c.QueueLimit,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Manager returns the assistant session manager.
func (a *App) Manager() *assistant.Manager { return a.manager }

// Player returns the lesson playback state.
func (a *App) Player() *lesson.State { return a.player }

// Opener adapts the manager to the terminal UI.
func (a *App) Opener() tui.Opener { return opener{a.manager} }

type opener struct{ m *assistant.Manager }

func (o opener) Open(ctx context.Context, l lesson.Lesson) (tui.Conversation, error) {
	s, err := o.m.Open(ctx, l)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// sessionReport is the /sessionz body.
type sessionReport struct {
	SessionID   string    `json:"session_id"`
	LessonID    int       `json:"lesson_id"`
	LessonTitle string    `json:"lesson_title"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
}

func (a *App) sessionReport() (any, bool) {
	s := a.manager.Active()
	info, ok := a.manager.Info()
	if s == nil || !ok {
		return nil, false
	}
	return sessionReport{
		SessionID:   info.SessionID,
		LessonID:    info.LessonID,
		LessonTitle: s.Lesson().Title,
		Status:      s.Status().String(),
		StartedAt:   info.StartedAt,
	}, true
}

// checkers are the readiness checks served on /readyz.
func (a *App) checkers() []health.Checker {
	return []health.Checker{
		{Name: "live_provider", Check: func(context.Context) error {
			if a.provider == nil {
				return errors.New("no live provider")
			}
			if a.cfg.Providers.Live.APIKey == "" {
				return errors.New("api key not configured")
			}
			return nil
		}},
		{Name: "lessons", Check: func(context.Context) error {
			if a.catalog.Len() == 0 {
				return errors.New("no lessons configured")
			}
			return nil
		}},
	}
}

// Handler returns the HTTP handler serving /healthz, /readyz, /sessionz and
// /metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(a.checkers(), health.WithSession(a.sessionReport)).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run drives the terminal UI until the learner quits or ctx is cancelled.
// The HTTP listener, when configured, runs alongside and stops with the UI.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if a.listener != nil || a.cfg.Server.ListenAddr != "" {
		ln := a.listener
		if ln == nil {
			var err error
			if ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr); err != nil {
				return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
			}
		}
		srv := &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second}
		slog.Info("http listener started", "addr", ln.Addr().String())

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		model := tui.New(ctx, a.Opener(), a.player, a.catalog.All())
		opts := append([]tea.ProgramOption{tea.WithContext(ctx)}, a.progOpts...)
		if _, err := tui.NewProgram(model, opts...).Run(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("app: run ui: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. If ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
