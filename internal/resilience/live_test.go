package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/raisehand/internal/resilience"
	"github.com/MrWong99/raisehand/pkg/provider/live"
	"github.com/MrWong99/raisehand/pkg/provider/live/mock"
)

func TestProvider_FailsFastWhileOpen(t *testing.T) {
	t.Parallel()

	dialErr := errors.New("dial refused")
	next := &mock.Provider{ConnectErr: dialErr}
	p := resilience.WrapProvider(next, resilience.BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	for range 2 {
		if _, err := p.Connect(context.Background(), live.SessionConfig{}); !errors.Is(err, dialErr) {
			t.Fatalf("err = %v, want dial error", err)
		}
	}

	_, err := p.Connect(context.Background(), live.SessionConfig{})
	if !errors.Is(err, resilience.ErrCircuitOpen) || !errors.Is(err, live.ErrTransport) {
		t.Errorf("err = %v, want ErrCircuitOpen and ErrTransport", err)
	}
	if got := len(next.Calls()); got != 2 {
		t.Errorf("inner connect calls = %d, want 2", got)
	}
	if p.State() != resilience.StateOpen {
		t.Errorf("state = %v, want open", p.State())
	}
}

func TestProvider_PassesSessionThrough(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	next := &mock.Provider{Session: sess}
	p := resilience.WrapProvider(next, resilience.BreakerConfig{})

	got, err := p.Connect(context.Background(), live.SessionConfig{Voice: "Zephyr"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got != sess {
		t.Error("Connect returned a different session")
	}
	if calls := next.Calls(); len(calls) != 1 || calls[0].Cfg.Voice != "Zephyr" {
		t.Errorf("inner calls = %+v", calls)
	}
}

func TestProvider_CancelledConnectNotCounted(t *testing.T) {
	t.Parallel()

	next := &mock.Provider{Gate: make(chan struct{})}
	p := resilience.WrapProvider(next, resilience.BreakerConfig{MaxFailures: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Connect(ctx, live.SessionConfig{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if p.State() != resilience.StateClosed {
		t.Errorf("state = %v, want closed", p.State())
	}
}
