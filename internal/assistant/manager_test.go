package assistant_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/raisehand/internal/assistant"
	"github.com/MrWong99/raisehand/internal/lesson"
	"github.com/MrWong99/raisehand/pkg/provider/live"
	"github.com/MrWong99/raisehand/pkg/provider/live/mock"
)

func newManager(provider live.Provider, out *fakeOutput, player lesson.Player) *assistant.Manager {
	return assistant.NewManager(assistant.ManagerConfig{
		Provider:   provider,
		Microphone: &fakeMic{},
		OpenOutput: func() (assistant.Output, error) { return out, nil },
		Player:     player,
		Session:    assistant.Config{Voice: "Puck"},
	})
}

func TestManager_OpenIsExclusive(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	player := lesson.NewState(nil)
	m := newManager(provider, &fakeOutput{}, player)
	t.Cleanup(func() { _ = m.Close() })

	s, err := m.Open(context.Background(), testLesson)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	waitFor(t, func() bool { return s.Phase() == assistant.PhaseConnected }, "connected")

	if info, ok := m.Info(); !ok || info.SessionID != s.ID() || info.LessonID != testLesson.ID {
		t.Errorf("Info = %+v, %v", info, ok)
	}
	if got := provider.Calls()[0].Cfg.Voice; got != "Puck" {
		t.Errorf("voice = %q, want configured Puck", got)
	}

	second, err := m.Open(context.Background(), testLesson)
	if !errors.Is(err, assistant.ErrResourceBusy) {
		t.Fatalf("second Open err = %v, want ErrResourceBusy", err)
	}
	if second != nil {
		t.Error("busy Open returned a session")
	}
	if n := len(provider.Calls()); n != 1 {
		t.Errorf("Connect calls = %d, want 1 (busy Open must not create anything)", n)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if m.Busy() || m.Active() != nil {
		t.Error("manager still busy after teardown")
	}

	provider.Session = nil
	third, err := m.Open(context.Background(), testLesson)
	if err != nil {
		t.Fatalf("Open after teardown: %v", err)
	}
	if third.ID() == s.ID() {
		t.Error("session id reused")
	}
}

func TestManager_BusyUntilErrorSessionClosed(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{ConnectErr: errors.New("refused")}
	m := newManager(provider, &fakeOutput{}, lesson.NewState(nil))

	s, err := m.Open(context.Background(), testLesson)
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, s, assistant.Error)

	if _, err := m.Open(context.Background(), testLesson); !errors.Is(err, assistant.ErrResourceBusy) {
		t.Errorf("Open during error status = %v, want ErrResourceBusy", err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if m.Busy() {
		t.Error("guard held after Close")
	}
}

func TestGuard(t *testing.T) {
	t.Parallel()

	var g assistant.Guard
	if err := g.TryAcquire(); err != nil {
		t.Fatal(err)
	}
	if err := g.TryAcquire(); !errors.Is(err, assistant.ErrResourceBusy) {
		t.Errorf("second acquire = %v", err)
	}
	g.Release()
	g.Release()
	if g.Held() {
		t.Error("held after release")
	}
}
