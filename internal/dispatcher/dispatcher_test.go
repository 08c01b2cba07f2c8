package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/raphi011/acpmux/internal/agentkind"
	"github.com/raphi011/acpmux/internal/config"
	"github.com/raphi011/acpmux/internal/external"
	"github.com/raphi011/acpmux/internal/logging"
	"github.com/raphi011/acpmux/internal/manager"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *manager.Manager, *external.ChanInputSource) {
	t.Helper()
	mgr := manager.New(logging.Default(), nil)
	input := external.NewChanInputSource(8)
	d := New(logging.Default(), mgr, input, external.NoopRenderer{}, external.NoopNotifier{}, config.NotificationsConfig{
		Enabled:            true,
		IdleDelaySecs:      0,
		DedupeIntervalSecs: 0,
	})
	return d, mgr, input
}

func TestQuitIntentStopsTheRunLoop(t *testing.T) {
	d, _, input := newTestDispatcher(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	input.Send(external.Intent{Kind: external.IntentQuit})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after a Quit intent")
	}
}

func TestFocusIntentsMoveFocusAmongSpawnedSessions(t *testing.T) {
	d, mgr, input := newTestDispatcher(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a := mgr.Spawn(agentkind.ClaudeCode, t.TempDir())
	b := mgr.Spawn(agentkind.Gemini, t.TempDir())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	input.Send(external.Intent{Kind: external.IntentFocusNumber, N: 2})
	time.Sleep(20 * time.Millisecond)
	if got, ok := mgr.Focused(); !ok || got != b {
		t.Fatalf("Focused() = %d, %v; want %d, true", got, ok, b)
	}

	input.Send(external.Intent{Kind: external.IntentFocusNumber, N: 1})
	time.Sleep(20 * time.Millisecond)
	if got, ok := mgr.Focused(); !ok || got != a {
		t.Fatalf("Focused() = %d, %v; want %d, true", got, ok, a)
	}

	input.Send(external.Intent{Kind: external.IntentQuit})
	<-done
}

func TestScrollDeltaCoalescesAcrossMultipleIntents(t *testing.T) {
	d, mgr, input := newTestDispatcher(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id := mgr.Spawn(agentkind.ClaudeCode, t.TempDir())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	input.Send(external.Intent{Kind: external.IntentScroll, LocalID: id, N: 3})
	input.Send(external.Intent{Kind: external.IntentScroll, LocalID: id, N: 4})
	time.Sleep(20 * time.Millisecond)

	if got := d.ScrollDelta(id); got != 7 {
		t.Fatalf("ScrollDelta = %d, want 7", got)
	}

	input.Send(external.Intent{Kind: external.IntentQuit})
	<-done
}

func TestRevisionAdvancesOnEveryProcessedIntent(t *testing.T) {
	d, _, input := newTestDispatcher(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	input.Send(external.Intent{Kind: external.IntentFocusNext})
	time.Sleep(20 * time.Millisecond)
	first := d.Revision()
	if first == 0 {
		t.Fatal("expected revision to have advanced past 0")
	}

	input.Send(external.Intent{Kind: external.IntentQuit})
	<-done
}
