// Package device binds the capture pipeline and the playback scheduler to
// real sound hardware through miniaudio (github.com/gen2brain/malgo).
//
// A [Microphone] implements capture.Source; a [Speaker] implements
// playback.Output and doubles as the playback clock.
package device

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Context owns the miniaudio context shared by every device opened from it.
type Context struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	closed bool
}

// NewContext initialises the platform audio backend.
func NewContext() (*Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}
	return &Context{ctx: ctx}, nil
}

// Close releases the backend. Devices opened from c must be closed first.
// Close is idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.ctx.Uninit(); err != nil {
		c.ctx.Free()
		return fmt.Errorf("device: uninit audio context: %w", err)
	}
	c.ctx.Free()
	return nil
}

func (c *Context) context() (malgo.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return malgo.Context{}, fmt.Errorf("device: audio context closed")
	}
	return c.ctx.Context, nil
}
