package manager

import (
	"testing"

	"github.com/raphi011/acpmux/internal/acptypes"
	"github.com/raphi011/acpmux/internal/agentkind"
	"github.com/raphi011/acpmux/internal/logging"
	"github.com/raphi011/acpmux/internal/session"
)

func newTestManager() *Manager {
	return New(logging.Default(), nil)
}

func TestSpawnRegistersSessionInOrder(t *testing.T) {
	m := newTestManager()
	a := m.Spawn(agentkind.ClaudeCode, t.TempDir())
	b := m.Spawn(agentkind.Gemini, t.TempDir())

	if a == b {
		t.Fatalf("expected distinct local ids, got %d and %d", a, b)
	}
	got, err := m.ByNumber(1)
	if err != nil || got != a {
		t.Fatalf("ByNumber(1) = %d, %v; want %d, nil", got, err, a)
	}
	got, err = m.ByNumber(2)
	if err != nil || got != b {
		t.Fatalf("ByNumber(2) = %d, %v; want %d, nil", got, err, b)
	}
}

func TestFocusTracksExplicitSelection(t *testing.T) {
	m := newTestManager()
	a := m.Spawn(agentkind.ClaudeCode, t.TempDir())
	b := m.Spawn(agentkind.Gemini, t.TempDir())

	if err := m.Focus(b); err != nil {
		t.Fatalf("Focus: %v", err)
	}
	got, ok := m.Focused()
	if !ok || got != b {
		t.Fatalf("Focused() = %d, %v; want %d, true", got, ok, b)
	}

	if err := m.Focus(a); err != nil {
		t.Fatalf("Focus: %v", err)
	}
	got, ok = m.Focused()
	if !ok || got != a {
		t.Fatalf("Focused() = %d, %v; want %d, true", got, ok, a)
	}
}

func TestNextAndPrevWrapAround(t *testing.T) {
	m := newTestManager()
	a := m.Spawn(agentkind.ClaudeCode, t.TempDir())
	b := m.Spawn(agentkind.Gemini, t.TempDir())
	c := m.Spawn(agentkind.OpenCode, t.TempDir())

	if err := m.Focus(a); err != nil {
		t.Fatalf("Focus: %v", err)
	}

	m.Next()
	if got, _ := m.Focused(); got != b {
		t.Fatalf("after Next, Focused() = %d, want %d", got, b)
	}
	m.Next()
	if got, _ := m.Focused(); got != c {
		t.Fatalf("after Next, Focused() = %d, want %d", got, c)
	}
	m.Next()
	if got, _ := m.Focused(); got != a {
		t.Fatalf("Next should wrap back to %d, got %d", a, got)
	}
	m.Prev()
	if got, _ := m.Focused(); got != c {
		t.Fatalf("Prev should wrap to %d, got %d", c, got)
	}
}

func TestClearRejectedUnlessTerminal(t *testing.T) {
	m := newTestManager()
	id := m.Spawn(agentkind.ClaudeCode, t.TempDir())

	if err := m.Clear(id); err == nil {
		t.Fatal("expected Clear to be rejected while the session is still Spawning")
	}

	sess, ok := m.Session(id)
	if !ok {
		t.Fatal("expected session to exist")
	}
	sess.Kill()

	if err := m.Clear(id); err != nil {
		t.Fatalf("Clear after Kill: %v", err)
	}
	if _, ok := m.Session(id); ok {
		t.Fatal("expected session to be removed from the registry after Clear")
	}
}

func TestCyclePermissionModeAdvancesThroughAllFourModes(t *testing.T) {
	m := newTestManager()
	id := m.Spawn(agentkind.ClaudeCode, t.TempDir())
	sess, _ := m.Session(id)

	want := []session.PermissionMode{
		session.ModeAcceptEdits,
		session.ModeBypassPermissions,
		session.ModePlan,
		session.ModeDefault,
	}
	for _, w := range want {
		if err := m.CyclePermissionMode(id); err != nil {
			t.Fatalf("CyclePermissionMode: %v", err)
		}
		if got := sess.ModeSnapshot(); got != w {
			t.Fatalf("mode = %s, want %s", got, w)
		}
	}
}

func TestResolvePermissionRejectedWithoutAPendingRequest(t *testing.T) {
	m := newTestManager()
	id := m.Spawn(agentkind.ClaudeCode, t.TempDir())

	if err := m.ResolvePermission(id, acptypes.PermissionDecision{Cancelled: true}); err == nil {
		t.Fatal("expected ResolvePermission to be rejected without a pending request")
	}
}
