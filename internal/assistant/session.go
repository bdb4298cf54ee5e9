// Package assistant implements the raise-hand conversation session: it owns
// the microphone pipeline, the live session handle, and the playback
// scheduler, and derives the learner-facing [Status] and transcript from the
// ordered stream of live events.
//
// A single goroutine per session is the only writer of conversational state.
// It consumes inbound events in arrival order together with playback-drained
// notices. Observers read snapshots through [Session.Status],
// [Session.Transcript], or a [Session.Subscribe] channel.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/raisehand/internal/lesson"
	"github.com/MrWong99/raisehand/internal/observe"
	"github.com/MrWong99/raisehand/pkg/audio"
	"github.com/MrWong99/raisehand/pkg/audio/capture"
	"github.com/MrWong99/raisehand/pkg/audio/playback"
	"github.com/MrWong99/raisehand/pkg/provider/live"
)

const (
	// DefaultVoice is the prebuilt voice preset used when none is configured.
	DefaultVoice = "Zephyr"

	// DefaultQueueLimit bounds the chunks held while the session connects.
	DefaultQueueLimit = 256
)

// ErrNotAwaitingConfirmation is returned by [Session.Confirm] outside the
// [AwaitingConfirmation] status.
var ErrNotAwaitingConfirmation = errors.New("assistant: not awaiting confirmation")

// errTornDown aborts startup steps that raced with Close.
var errTornDown = errors.New("assistant: session torn down")

// Output is a playback device owned by one session.
type Output interface {
	playback.Output
	Close() error
}

// OutputFactory opens the playback device for a new session.
type OutputFactory func() (Output, error)

// Config describes one assistant session.
type Config struct {
	Lesson lesson.Lesson

	// Voice is the prebuilt voice preset. Default: [DefaultVoice].
	Voice string

	InputTranscription  bool
	OutputTranscription bool
	WebSearch           bool

	// BlockSize is the microphone block size. Default: capture.DefaultBlockSize.
	BlockSize int

	// QueueLimit bounds outbound chunks queued while connecting; the oldest
	// chunk is dropped on overflow. Default: [DefaultQueueLimit].
	QueueLimit int
}

func (c Config) withDefaults() Config {
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.BlockSize <= 0 {
		c.BlockSize = capture.DefaultBlockSize
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = DefaultQueueLimit
	}
	return c
}

// Update is a snapshot published to subscribers after every change.
type Update struct {
	Status     Status
	Transcript []TranscriptEntry
}

// Option configures a [Session].
type Option func(*Session)

// WithMetrics records session metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithOnStatus registers fn to be called after every status change. fn runs
// on the session's goroutines and must not block or call back into the
// session's Close.
func WithOnStatus(fn func(Status)) Option {
	return func(s *Session) { s.onStatus = fn }
}

// withRelease registers fn to run once teardown has finished.
func withRelease(fn func()) Option {
	return func(s *Session) { s.release = fn }
}

// Session is one raise-hand conversation. Create it with [New] (or
// [Manager.Open]), call [Session.Start] once, and [Session.Close] when done.
type Session struct {
	id         string
	cfg        Config
	provider   live.Provider
	mic        capture.Source
	openOutput OutputFactory
	player     lesson.Player
	metrics    *observe.Metrics
	onStatus   func(Status)
	release    func()

	drained   chan struct{}
	runDone   chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	// sendMu serialises outbound chunks so the connect flush cannot be
	// overtaken by a newer chunk.
	sendMu sync.Mutex

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	span     trace.Span
	log      *slog.Logger
	started  bool
	closing  bool
	status   Status
	phase    Phase
	queue    []audio.Chunk
	remote   live.Session
	pipeline *capture.Pipeline
	output   Output
	sched    *playback.Scheduler
	entries  []TranscriptEntry
	subs     []chan Update

	// Owned by the run goroutine.
	pending      pendingTurn
	turnComplete bool
}

// New creates a Session in the [Initializing] status. Nothing is acquired
// until [Session.Start].
func New(provider live.Provider, mic capture.Source, openOutput OutputFactory, player lesson.Player, cfg Config, opts ...Option) *Session {
	s := &Session{
		id:         uuid.NewString(),
		cfg:        cfg.withDefaults(),
		provider:   provider,
		mic:        mic,
		openOutput: openOutput,
		player:     player,
		drained:    make(chan struct{}, 1),
		runDone:    make(chan struct{}),
		done:       make(chan struct{}),
		status:     Initializing,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.log = s.log.With("session_id", s.id)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Lesson returns the lesson this session is about.
func (s *Session) Lesson() lesson.Lesson { return s.cfg.Lesson }

// Start pauses the lesson and begins acquiring the microphone, the speaker,
// and the live session in the background. Progress is reported through the
// status. Calls after the first are no-ops.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, span := observe.StartSpan(ctx, "assistant.session", trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.Int("lesson.id", s.cfg.Lesson.ID),
		))
		ctx, cancel := context.WithCancel(ctx)

		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			cancel()
			span.End()
			return
		}
		s.ctx, s.cancel, s.span = ctx, cancel, span
		s.log = observe.Logger(ctx).With("session_id", s.id)
		s.started = true
		s.phase = PhaseConnecting
		s.mu.Unlock()

		s.metrics.ActiveSessions.Add(ctx, 1)
		s.log.Info("assistant session starting", "lesson_id", s.cfg.Lesson.ID, "voice", s.cfg.Voice)
		s.player.SetPaused(true)

		go s.run(ctx)
	})
}

func (s *Session) run(ctx context.Context) {
	defer close(s.runDone)

	if err := s.acquireMicrophone(ctx); err != nil {
		s.fail(ctx, "device", err)
		return
	}
	if err := s.acquireOutput(); err != nil {
		s.fail(ctx, "device", err)
		return
	}
	s.setStatus(ctx, Listening)

	remote, err := s.connect(ctx)
	if err != nil {
		s.fail(ctx, "connect", err)
		return
	}
	s.loop(ctx, remote.Events())
}

func (s *Session) acquireMicrophone(ctx context.Context) error {
	p := capture.New(s.mic, s.sendChunk, capture.WithBlockSize(s.cfg.BlockSize))
	if err := p.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = p.Close()
		return errTornDown
	}
	s.pipeline = p
	s.mu.Unlock()
	return nil
}

func (s *Session) acquireOutput() error {
	out, err := s.openOutput()
	if err != nil {
		return fmt.Errorf("assistant: open speaker: %w", err)
	}
	sched := playback.New(out, playback.WithOnDrained(s.notifyDrained))

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = out.Close()
		return errTornDown
	}
	s.output, s.sched = out, sched
	s.mu.Unlock()
	return nil
}

func (s *Session) connect(ctx context.Context) (live.Session, error) {
	start := time.Now()
	remote, err := s.provider.Connect(ctx, live.SessionConfig{
		Voice:               s.cfg.Voice,
		Instructions:        lesson.Instructions(s.cfg.Lesson),
		InputTranscription:  s.cfg.InputTranscription,
		OutputTranscription: s.cfg.OutputTranscription,
		WebSearch:           s.cfg.WebSearch,
	})
	if err != nil {
		return nil, fmt.Errorf("assistant: connect: %w", err)
	}
	s.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closing || s.phase != PhaseConnecting {
		s.mu.Unlock()
		_ = remote.Close()
		return nil, errTornDown
	}
	s.phase = PhaseConnected
	s.remote = remote
	queued := s.queue
	s.queue = nil
	s.mu.Unlock()

	s.log.Info("live session connected", "queued_chunks", len(queued), "connect_ms", time.Since(start).Milliseconds())
	for _, c := range queued {
		s.send(remote, c)
	}
	return remote, nil
}

// sendChunk is the capture sink. It runs on the pipeline's delivery goroutine.
func (s *Session) sendChunk(c audio.Chunk) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	switch s.phase {
	case PhaseConnecting:
		if len(s.queue) >= s.cfg.QueueLimit {
			s.queue[0] = audio.Chunk{}
			s.queue = s.queue[1:]
		}
		s.queue = append(s.queue, c)
		s.mu.Unlock()
	case PhaseConnected:
		remote := s.remote
		s.mu.Unlock()
		s.send(remote, c)
	default:
		s.mu.Unlock()
	}
}

func (s *Session) send(remote live.Session, c audio.Chunk) {
	if err := remote.SendAudio(c); err != nil {
		if !errors.Is(err, live.ErrClosed) {
			s.log.Debug("send audio failed", "err", err)
		}
		return
	}
	s.metrics.ChunksSent.Add(s.ctx, 1)
}

func (s *Session) notifyDrained() {
	select {
	case s.drained <- struct{}{}:
	default:
	}
}

func (s *Session) loop(ctx context.Context, events <-chan live.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.fail(ctx, "stream", fmt.Errorf("assistant: %w: event stream ended", live.ErrTransport))
				return
			}
			if !s.handle(ctx, ev) {
				return
			}
		case <-s.drained:
			s.handleDrained(ctx)
		}
	}
}

// handle applies one inbound event. It returns false once the session can
// process no further events.
func (s *Session) handle(ctx context.Context, ev live.Event) bool {
	switch e := ev.(type) {
	case live.InputTranscription:
		if e.Text != "" {
			s.beginTurn()
			s.pending.input.WriteString(e.Text)
		}
	case live.OutputTranscription:
		if e.Text != "" {
			s.beginTurn()
			s.pending.output.WriteString(e.Text)
		}
	case live.Grounding:
		if len(e.Sources) > 0 {
			s.beginTurn()
			s.pending.addSources(e.Sources)
		}
	case live.Audio:
		s.play(ctx, e)
	case live.TurnComplete:
		s.completeTurn(ctx)
	case live.Error:
		s.fail(ctx, "stream", e.Err)
		return false
	default:
		s.log.Debug("ignoring unknown live event", "type", fmt.Sprintf("%T", ev))
	}
	return true
}

// beginTurn clears the completion mark when the first fragment of a new
// turn arrives. Audio alone does not start a turn.
func (s *Session) beginTurn() {
	s.turnComplete = false
}

func (s *Session) play(ctx context.Context, e live.Audio) {
	pcm, err := audio.DecodeTransport(e.Data)
	var buf *audio.Buffer
	if err == nil {
		buf, err = audio.DecodePCM16(pcm, audio.PlaybackSampleRate, 1)
	}
	if err != nil {
		s.log.Warn("dropping malformed audio payload", "err", err, "mime_type", e.MIMEType)
		s.metrics.RecordChunkReceived(ctx, "malformed")
		return
	}

	s.mu.Lock()
	sched := s.sched
	s.mu.Unlock()
	if sched == nil {
		return
	}
	if _, err := sched.Schedule(buf); err != nil {
		s.log.Debug("discarding audio after playback stopped", "err", err)
		return
	}
	s.metrics.RecordChunkReceived(ctx, "scheduled")
	s.setStatus(ctx, Speaking)
}

func (s *Session) completeTurn(ctx context.Context) {
	if entries := s.pending.flush(); len(entries) > 0 {
		s.mu.Lock()
		s.entries = append(s.entries, entries...)
		s.publishLocked()
		s.mu.Unlock()
	}
	s.turnComplete = true
	s.metrics.Turns.Add(ctx, 1)

	if s.draining() {
		s.setStatus(ctx, AwaitingConfirmation)
	}
}

func (s *Session) handleDrained(ctx context.Context) {
	if !s.draining() || s.Status() != Speaking {
		return
	}
	if s.turnComplete {
		s.setStatus(ctx, AwaitingConfirmation)
	} else {
		s.setStatus(ctx, Listening)
	}
}

func (s *Session) draining() bool {
	s.mu.Lock()
	sched := s.sched
	s.mu.Unlock()
	return sched == nil || sched.Draining()
}

// fail moves the session into the terminal Error status and releases the
// devices and the remote handle. Failures during teardown are ignored.
func (s *Session) fail(ctx context.Context, stage string, err error) {
	s.mu.Lock()
	if s.closing || s.status == Error {
		s.mu.Unlock()
		return
	}
	span := s.span
	s.mu.Unlock()

	s.log.Error("assistant session failed", "stage", stage, "err", err)
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.RecordTransportError(ctx, stage)

	s.pending.reset()
	s.turnComplete = false
	s.setStatus(ctx, Error)
	if rerr := s.releaseResources(); rerr != nil {
		s.log.Warn("releasing resources after failure", "err", rerr)
	}
}

func (s *Session) setStatus(ctx context.Context, st Status) {
	s.mu.Lock()
	switch {
	case s.status == st, s.status == Closed:
		s.mu.Unlock()
		return
	case st != Closed && (s.closing || s.status == Error):
		s.mu.Unlock()
		return
	}
	prev := s.status
	s.status = st
	s.publishLocked()
	s.mu.Unlock()

	s.metrics.RecordStatus(ctx, st.String())
	s.log.Debug("assistant status changed", "from", prev, "to", st)
	if s.onStatus != nil {
		s.onStatus(st)
	}
	if st == Closed {
		s.player.Resume()
	} else {
		s.player.SetPaused(true)
	}
}

// publishLocked sends the current snapshot to every subscriber, replacing
// any snapshot the subscriber has not read yet. s.mu must be held.
func (s *Session) publishLocked() {
	if len(s.subs) == 0 {
		return
	}
	u := Update{Status: s.status, Transcript: cloneEntries(s.entries)}
	for _, ch := range s.subs {
		select {
		case ch <- u:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- u:
		default:
		}
	}
}

// releaseResources closes the remote handle, the microphone, the scheduler,
// and the speaker, whichever were acquired. Safe to call more than once.
func (s *Session) releaseResources() error {
	s.mu.Lock()
	s.phase = PhaseClosed
	s.queue = nil
	remote, pipeline, sched, out := s.remote, s.pipeline, s.sched, s.output
	s.remote, s.pipeline, s.sched, s.output = nil, nil, nil, nil
	s.mu.Unlock()

	var errs []error
	if remote != nil {
		if err := remote.Close(); err != nil {
			errs = append(errs, fmt.Errorf("assistant: close live session: %w", err))
		}
	}
	if pipeline != nil {
		if err := pipeline.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if sched != nil {
		sched.Cancel()
	}
	if out != nil {
		if err := out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("assistant: close speaker: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Phase returns the lifecycle phase of the remote session handle.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Transcript returns a copy of the completed entries in append order.
func (s *Session) Transcript() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntries(s.entries)
}

// Subscribe returns a channel carrying the latest [Update]. The current
// snapshot is available immediately; a subscriber that falls behind only
// sees the newest update. The channel is closed after the final Closed
// update.
func (s *Session) Subscribe() <-chan Update {
	ch := make(chan Update, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch <- Update{Status: s.status, Transcript: cloneEntries(s.entries)}
	if s.status == Closed {
		close(ch)
		return ch
	}
	s.subs = append(s.subs, ch)
	return ch
}

// Done is closed once teardown has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Confirm is the learner's "doubt cleared" action. It is only valid in
// [AwaitingConfirmation] and closes the session, resuming the lesson.
func (s *Session) Confirm() error {
	if st := s.Status(); st != AwaitingConfirmation {
		return fmt.Errorf("%w (status %s)", ErrNotAwaitingConfirmation, st)
	}
	return s.Close()
}

// Close tears the session down from any status: it stops the microphone,
// discards scheduled speech, closes the speaker and the live handle,
// reports [Closed], and resumes the lesson. Close is idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		started, cancel, span, ctx := s.started, s.cancel, s.span, s.ctx
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		err = s.releaseResources()
		if started {
			<-s.runDone
		}

		if ctx == nil {
			ctx = context.Background()
		}
		s.setStatus(context.WithoutCancel(ctx), Closed)

		s.mu.Lock()
		for _, ch := range s.subs {
			close(ch)
		}
		s.subs = nil
		s.mu.Unlock()

		if started {
			s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
			span.End()
		}
		s.log.Info("assistant session closed")
		close(s.done)
		if s.release != nil {
			s.release()
		}
	})
	return err
}
