// Package capture turns a live microphone stream into a sequence of
// fixed-size 16 kHz mono PCM chunks pushed to a consumer.
//
// The microphone is abstracted as a [Source] so that the real device backend
// (package device) and test fakes are interchangeable. The device callback
// never blocks: each block is copied onto an unbounded FIFO and a single
// delivery goroutine converts, resamples, encodes, and hands chunks to the
// [Sink] strictly in capture order.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/raisehand/pkg/audio"
)

// DefaultBlockSize is the number of samples per microphone block.
const DefaultBlockSize = 4096

var (
	// ErrPermissionDenied is returned when the platform refuses microphone access.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrDeviceUnavailable is returned when no usable capture device exists.
	ErrDeviceUnavailable = errors.New("capture: microphone unavailable")

	// ErrClosed is returned by Start after the pipeline has been closed.
	ErrClosed = errors.New("capture: pipeline closed")
)

// Stream is an open microphone stream returned by [Source.Open].
type Stream interface {
	// SampleRate is the native rate of the blocks delivered to onBlock.
	SampleRate() int

	// Close stops the stream and releases the device. Safe to call more than once.
	Close() error
}

// Source acquires a microphone.
//
// Open starts delivering mono float32 blocks of blockSize samples to onBlock.
// onBlock may be called from a real-time audio thread and may reuse the
// slice after it returns. Errors wrap [ErrPermissionDenied] or
// [ErrDeviceUnavailable] when the cause is known.
type Source interface {
	Open(ctx context.Context, blockSize int, onBlock func(samples []float32)) (Stream, error)
}

// Sink receives encoded chunks in capture order. It is called from the
// pipeline's delivery goroutine and should return promptly.
type Sink func(chunk audio.Chunk)

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithBlockSize overrides [DefaultBlockSize].
func WithBlockSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.blockSize = n
		}
	}
}

// Pipeline converts microphone blocks into [audio.Chunk] values.
// All exported methods are safe for concurrent use.
type Pipeline struct {
	src       Source
	sink      Sink
	blockSize int

	mu      sync.Mutex
	stream  Stream
	queue   [][]float32
	started bool
	closed  bool

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a Pipeline reading from src and delivering to sink. The
// microphone is not touched until [Pipeline.Start].
func New(src Source, sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		src:       src,
		sink:      sink,
		blockSize: DefaultBlockSize,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start requests the microphone and begins delivering chunks. It returns
// the Source's error unchanged (wrapped) so callers can distinguish
// [ErrPermissionDenied] from [ErrDeviceUnavailable].
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("capture: already started")
	}
	p.started = true
	p.mu.Unlock()

	stream, err := p.src.Open(ctx, p.blockSize, p.enqueue)
	if err != nil {
		return fmt.Errorf("capture: open microphone: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		// Close raced with Open; release what we just acquired.
		p.mu.Unlock()
		_ = stream.Close()
		return ErrClosed
	}
	p.stream = stream
	p.mu.Unlock()

	rate := stream.SampleRate()
	slog.Debug("capture started", "native_rate", rate, "block_size", p.blockSize)

	p.wg.Add(1)
	go p.deliver(rate)
	return nil
}

// enqueue is the device callback. It copies the block and never blocks.
func (p *Pipeline) enqueue(samples []float32) {
	if len(samples) == 0 {
		return
	}
	block := make([]float32, len(samples))
	copy(block, samples)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, block)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// deliver drains the FIFO in order until the pipeline is closed.
func (p *Pipeline) deliver(rate int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case <-p.notify:
		}

		for {
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				return
			}
			if len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			block := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.mu.Unlock()

			p.sink(Encode(block, rate))
		}
	}
}

// Close stops the microphone and the delivery goroutine. Undelivered
// blocks are discarded. Close is idempotent.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	stream := p.stream
	p.stream = nil
	p.queue = nil
	p.mu.Unlock()

	close(p.done)

	var err error
	if stream != nil {
		err = stream.Close()
	}
	p.wg.Wait()
	if err != nil {
		return fmt.Errorf("capture: close microphone: %w", err)
	}
	return nil
}

// Encode converts one block of float samples captured at nativeRate into an
// outbound chunk: int16 truncation, resampling to [audio.CaptureSampleRate],
// then transport encoding.
func Encode(samples []float32, nativeRate int) audio.Chunk {
	pcm := audio.FloatToPCM16(samples)
	pcm = audio.ResampleMono16(pcm, nativeRate, audio.CaptureSampleRate)
	return audio.Chunk{
		Data:     audio.EncodeTransport(pcm),
		MIMEType: audio.CaptureMIMEType,
	}
}
