package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/raisehand/pkg/audio"
	"github.com/MrWong99/raisehand/pkg/audio/playback"
)

// Speaker is a mono float32 playback device whose clock is the number of
// frames it has rendered. Buffers are mixed in at their scheduled frame.
type Speaker struct {
	rate int
	dev  *malgo.Device

	mu     sync.Mutex
	played uint64
	voices []*voice
	closed bool
}

var (
	_ playback.Output = (*Speaker)(nil)
	_ playback.Clock  = (*Speaker)(nil)
)

type voice struct {
	samples []float32
	start   uint64
	onEnded func()
	done    bool
}

// stopper implements playback.Voice. A stopped voice is dropped on the next
// period without firing its ended callback.
type stopper struct {
	sp *Speaker
	v  *voice
}

func (s stopper) Stop() {
	s.sp.mu.Lock()
	s.v.done = true
	s.sp.mu.Unlock()
}

// NewSpeaker opens and starts the default playback device at rate Hz.
func NewSpeaker(ctx *Context, rate int) (*Speaker, error) {
	if rate <= 0 {
		rate = audio.PlaybackSampleRate
	}
	mctx, err := ctx.context()
	if err != nil {
		return nil, err
	}

	sp := &Speaker{rate: rate}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(rate)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.PeriodSizeInFrames = uint32(rate / 50) // 20 ms
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(mctx, cfg, malgo.DeviceCallbacks{Data: sp.render})
	if err != nil {
		return nil, fmt.Errorf("device: init speaker: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("device: start speaker: %w", err)
	}
	sp.dev = dev
	return sp, nil
}

// Now implements playback.Clock.
func (sp *Speaker) Now() float64 {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return float64(sp.played) / float64(sp.rate)
}

// Start implements playback.Output. The buffer is down-mixed to mono and
// resampled by nearest neighbour if its rate differs from the device.
func (sp *Speaker) Start(buf *audio.Buffer, at float64, onEnded func()) playback.Voice {
	v := &voice{
		samples: mono(buf, sp.rate),
		start:   uint64(math.Round(max(at, 0) * float64(sp.rate))),
		onEnded: onEnded,
	}

	sp.mu.Lock()
	if sp.closed {
		v.done = true
	} else {
		sp.voices = append(sp.voices, v)
	}
	sp.mu.Unlock()
	return stopper{sp: sp, v: v}
}

// render runs on the miniaudio thread.
func (sp *Speaker) render(out, _ []byte, frameCount uint32) {
	frames := int(frameCount)
	if len(out) < frames*4 {
		frames = len(out) / 4
	}
	mix := make([]float32, frames)

	sp.mu.Lock()
	from := sp.played
	to := from + uint64(frames)
	var ended []func()
	keep := sp.voices[:0]
	for _, v := range sp.voices {
		if v.done {
			continue
		}
		end := v.start + uint64(len(v.samples))
		if v.start < to && end > from {
			lo := max(v.start, from)
			hi := min(end, to)
			for f := lo; f < hi; f++ {
				mix[f-from] += v.samples[f-v.start]
			}
		}
		if end <= to {
			v.done = true
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		keep = append(keep, v)
	}
	clear(sp.voices[len(keep):])
	sp.voices = keep
	sp.played = to
	sp.mu.Unlock()

	for i, s := range mix {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(max(-1, min(1, s))))
	}

	for _, fn := range ended {
		fn()
	}
}

// Close stops the device and silently drops every pending voice.
// Close is idempotent.
func (sp *Speaker) Close() error {
	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return nil
	}
	sp.closed = true
	sp.voices = nil
	dev := sp.dev
	sp.dev = nil
	sp.mu.Unlock()

	if dev == nil {
		return nil
	}
	err := dev.Stop()
	dev.Uninit()
	if err != nil {
		return fmt.Errorf("device: stop speaker: %w", err)
	}
	return nil
}

// mono averages all channels of buf and converts to rate.
func mono(buf *audio.Buffer, rate int) []float32 {
	frames := buf.Frames()
	if frames == 0 {
		return nil
	}
	n := buf.NumChannels()
	src := make([]float32, frames)
	for _, ch := range buf.Channels {
		for i, s := range ch[:frames] {
			src[i] += s / float32(n)
		}
	}
	if buf.SampleRate == rate || buf.SampleRate <= 0 {
		return src
	}
	outLen := frames * rate / buf.SampleRate
	dst := make([]float32, outLen)
	for i := range dst {
		dst[i] = src[min(i*buf.SampleRate/rate, frames-1)]
	}
	return dst
}
