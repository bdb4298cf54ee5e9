package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/raisehand/pkg/audio/capture"
)

// DefaultMicrophoneRate is the rate requested from the capture device when
// none is configured. miniaudio converts from the hardware rate.
const DefaultMicrophoneRate = 48000

// Microphone opens the default capture device in mono float32.
type Microphone struct {
	ctx  *Context
	rate int
}

var _ capture.Source = (*Microphone)(nil)

// NewMicrophone returns a Microphone capturing at rate Hz. A rate <= 0
// selects [DefaultMicrophoneRate].
func NewMicrophone(ctx *Context, rate int) *Microphone {
	if rate <= 0 {
		rate = DefaultMicrophoneRate
	}
	return &Microphone{ctx: ctx, rate: rate}
}

// Open implements capture.Source. Raw device periods are re-blocked into
// exactly blockSize samples before onBlock is called.
func (m *Microphone) Open(_ context.Context, blockSize int, onBlock func([]float32)) (capture.Stream, error) {
	mctx, err := m.ctx.context()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(m.rate)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.PeriodSizeInFrames = uint32(blockSize)
	cfg.Alsa.NoMMap = 1

	s := &micStream{
		rate:    m.rate,
		block:   make([]float32, 0, blockSize),
		size:    blockSize,
		onBlock: onBlock,
	}

	dev, err := malgo.InitDevice(mctx, cfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		return nil, classify(err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, classify(err)
	}
	s.dev = dev
	return s, nil
}

// classify maps a miniaudio failure onto the capture sentinels.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "access denied") {
		return fmt.Errorf("%w: %v", capture.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
}

type micStream struct {
	rate    int
	size    int
	onBlock func([]float32)

	mu     sync.Mutex
	dev    *malgo.Device
	block  []float32
	closed bool
}

func (s *micStream) SampleRate() int { return s.rate }

// onData runs on the miniaudio thread.
func (s *micStream) onData(_, in []byte, frameCount uint32) {
	n := int(frameCount) * 4
	if len(in) < n {
		n = len(in) - len(in)%4
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for off := 0; off < n; off += 4 {
		s.block = append(s.block, math.Float32frombits(binary.LittleEndian.Uint32(in[off:])))
		if len(s.block) == s.size {
			s.onBlock(s.block)
			s.block = s.block[:0]
		}
	}
}

func (s *micStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dev := s.dev
	s.dev = nil
	s.mu.Unlock()

	if dev == nil {
		return nil
	}
	err := dev.Stop()
	dev.Uninit()
	if err != nil {
		return fmt.Errorf("device: stop microphone: %w", err)
	}
	return nil
}
