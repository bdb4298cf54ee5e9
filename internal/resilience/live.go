package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/raisehand/pkg/provider/live"
)

// Provider is a [live.Provider] whose Connect calls go through a [Breaker].
// While the breaker is open Connect fails immediately with an error wrapping
// both [ErrCircuitOpen] and [live.ErrTransport].
type Provider struct {
	next    live.Provider
	breaker *Breaker
}

var _ live.Provider = (*Provider)(nil)

// WrapProvider guards next with a breaker built from cfg.
func WrapProvider(next live.Provider, cfg BreakerConfig) *Provider {
	if cfg.Name == "" {
		cfg.Name = "live"
	}
	return &Provider{next: next, breaker: NewBreaker(cfg)}
}

// Connect implements [live.Provider]. Cancelled connects are not counted as
// failures.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	var sess live.Session
	err := p.breaker.Execute(func() error {
		var err error
		sess, err = p.next.Connect(ctx, cfg)
		return err
	}, func(err error) bool {
		return errors.Is(err, context.Canceled) || ctx.Err() != nil
	})
	if errors.Is(err, ErrCircuitOpen) {
		return nil, fmt.Errorf("%w: %w", live.ErrTransport, err)
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// State returns the breaker state.
func (p *Provider) State() State { return p.breaker.State() }
