package session

import (
	"fmt"
	"testing"

	"github.com/raphi011/acpmux/internal/acptypes"
	"github.com/raphi011/acpmux/internal/agentkind"
)

func handshake(t *testing.T, s *Session) {
	t.Helper()
	if err := s.BeginInitialize(); err != nil {
		t.Fatalf("BeginInitialize: %v", err)
	}
	if err := s.BeginSessionNew(); err != nil {
		t.Fatalf("BeginSessionNew: %v", err)
	}
	if err := s.HandshakeComplete("s-1"); err != nil {
		t.Fatalf("HandshakeComplete: %v", err)
	}
}

func TestHandshakeReachesIdle(t *testing.T) {
	s := New(1, agentkind.ClaudeCode, "/tmp/p", "p")
	handshake(t, s)
	if s.State() != Idle {
		t.Fatalf("state = %s, want idle", s.State())
	}
	if s.SessionID != "s-1" {
		t.Fatalf("sessionId = %q, want s-1", s.SessionID)
	}
}

// TestChunkOrderPreservation is property 1 of §8: transcript order mirrors
// arrival order for a stream of chunks within one prompt.
func TestChunkOrderPreservation(t *testing.T) {
	s := New(1, agentkind.ClaudeCode, "/tmp/p", "p")
	handshake(t, s)

	if err := s.SendPrompt("hi"); err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	s.ApplyUpdate(acptypes.SessionUpdate{Kind: acptypes.UpdateAgentMessageChunk, MessageChunk: &acptypes.MessageChunk{Text: "He"}})
	s.ApplyUpdate(acptypes.SessionUpdate{Kind: acptypes.UpdateAgentMessageChunk, MessageChunk: &acptypes.MessageChunk{Text: "llo"}})
	if err := s.CompleteTurn("end_turn", false); err != nil {
		t.Fatalf("CompleteTurn: %v", err)
	}

	tr := s.Transcript()
	want := []string{"hi", "He", "llo"}
	if len(tr) != len(want) {
		t.Fatalf("transcript len = %d, want %d: %+v", len(tr), len(want), tr)
	}
	for i, e := range tr {
		if e.Text != want[i] {
			t.Errorf("entry %d text = %q, want %q", i, e.Text, want[i])
		}
	}
	if s.State() != Idle {
		t.Errorf("state after CompleteTurn = %s, want idle", s.State())
	}
}

// TestToolCallIdempotentUpdate is property 2 of §8.
func TestToolCallIdempotentUpdate(t *testing.T) {
	s := New(1, agentkind.ClaudeCode, "/tmp/p", "p")
	handshake(t, s)
	if err := s.SendPrompt("do it"); err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}

	s.ApplyUpdate(acptypes.SessionUpdate{Kind: acptypes.UpdateToolCall, ToolCall: &acptypes.ToolCall{ToolCallID: "t1", Title: "Read file", Status: acptypes.ToolCallPending}})
	completed := acptypes.ToolCallCompleted
	update := acptypes.SessionUpdate{Kind: acptypes.UpdateToolCallUpdate, ToolCallUpdate: &acptypes.ToolCallUpdate{ToolCallID: "t1", NewStatus: &completed}}

	s.ApplyUpdate(update)
	first := s.Transcript()
	s.ApplyUpdate(update)
	second := s.Transcript()

	if len(first) != len(second) {
		t.Fatalf("applying the same update twice changed entry count: %d vs %d", len(first), len(second))
	}
	if second[len(second)-1].Status != acptypes.ToolCallCompleted {
		t.Fatalf("final status = %s, want completed", second[len(second)-1].Status)
	}
}

func TestToolCallUpdateUnknownIDDropped(t *testing.T) {
	s := New(1, agentkind.ClaudeCode, "/tmp/p", "p")
	handshake(t, s)
	if err := s.SendPrompt("x"); err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}

	if !s.UnknownToolCallUpdate("ghost") {
		t.Fatal("expected unknown id to report true before any tool_call arrives")
	}
	status := acptypes.ToolCallRunning
	s.ApplyUpdate(acptypes.SessionUpdate{Kind: acptypes.UpdateToolCallUpdate, ToolCallUpdate: &acptypes.ToolCallUpdate{ToolCallID: "ghost", NewStatus: &status}})

	for _, e := range s.Transcript() {
		if e.ToolCallID == "ghost" {
			t.Fatal("update for unknown tool call id should not create a transcript entry")
		}
	}
}

// TestSinglePendingPermission is property 3 of §8.
func TestSinglePendingPermission(t *testing.T) {
	s := New(1, agentkind.ClaudeCode, "/tmp/p", "p")
	handshake(t, s)
	if err := s.SendPrompt("x"); err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}

	opts := []acptypes.PermissionOption{{OptionID: "a", Kind: acptypes.OptionAllowOnce}, {OptionID: "r", Kind: acptypes.OptionRejectOnce}}
	if err := s.BeginPermission("t1", "Edit file", opts); err != nil {
		t.Fatalf("first BeginPermission: %v", err)
	}
	if s.State() != AwaitingPermission {
		t.Fatalf("state = %s, want awaiting_permission", s.State())
	}
	if err := s.BeginPermission("t2", "Edit file", opts); err == nil {
		t.Fatal("second concurrent BeginPermission should be rejected")
	}
	if s.Pending() == nil || s.Pending().ToolCallID != "t1" {
		t.Fatalf("pending permission should remain t1")
	}
}

func TestResolvePermissionReturnsToPrompting(t *testing.T) {
	s := New(1, agentkind.ClaudeCode, "/tmp/p", "p")
	handshake(t, s)
	if err := s.SendPrompt("x"); err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	opts := []acptypes.PermissionOption{{OptionID: "a", Kind: acptypes.OptionAllowOnce}, {OptionID: "r", Kind: acptypes.OptionRejectOnce}}
	if err := s.BeginPermission("t1", "Edit file", opts); err != nil {
		t.Fatalf("BeginPermission: %v", err)
	}
	if err := s.ResolvePermission("r"); err != nil {
		t.Fatalf("ResolvePermission: %v", err)
	}
	if s.State() != Prompting {
		t.Fatalf("state = %s, want prompting", s.State())
	}
	if s.Pending() != nil {
		t.Fatal("pending permission should be cleared after resolution")
	}
	last := s.Transcript()[len(s.Transcript())-1]
	if last.Kind != EntryPermissionResolved || last.Decision != "r" {
		t.Fatalf("last entry = %+v, want PermissionResolved(r)", last)
	}
}

// TestStateMachineClosure is property 4 of §8: an invalid transition is
// rejected rather than leaving the session undefined.
func TestStateMachineClosure(t *testing.T) {
	s := New(1, agentkind.ClaudeCode, "/tmp/p", "p")
	if err := s.SendPrompt("too early"); err == nil {
		t.Fatal("SendPrompt before Idle should be rejected")
	}
	if s.State() != Spawning {
		t.Fatalf("state = %s, want spawning (unchanged after rejected transition)", s.State())
	}
}

// TestIsolation is property 6 of §8: crashing one session never touches
// another.
func TestIsolation(t *testing.T) {
	a := New(1, agentkind.ClaudeCode, "/tmp/a", "a")
	b := New(2, agentkind.ClaudeCode, "/tmp/b", "b")
	handshake(t, a)
	handshake(t, b)
	if err := a.SendPrompt("x"); err != nil {
		t.Fatalf("a.SendPrompt: %v", err)
	}
	if err := b.SendPrompt("y"); err != nil {
		t.Fatalf("b.SendPrompt: %v", err)
	}

	a.Crash(nil)

	if a.State() != Crashed {
		t.Fatalf("a state = %s, want crashed", a.State())
	}
	if b.State() != Prompting {
		t.Fatalf("b state = %s, want prompting (unaffected by a's crash)", b.State())
	}
}

// TestKillThenLateCrashIsIgnored covers the race a user-initiated Kill can
// have with a late exit report arriving from the connection's watchExit
// goroutine after Close has already signaled the process: Killed must win
// and the late Crash must not clobber it back to Crashed (SPEC_FULL.md
// §4.3, §8 property 6 extended to a single session's own terminal state).
func TestKillThenLateCrashIsIgnored(t *testing.T) {
	s := New(1, agentkind.ClaudeCode, "/tmp/p", "p")
	handshake(t, s)
	if err := s.SendPrompt("x"); err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}

	s.Kill()
	if s.State() != Killed {
		t.Fatalf("state = %s, want killed", s.State())
	}

	s.Crash(fmt.Errorf("late exit report"))
	if s.State() != Killed {
		t.Fatalf("state after late Crash = %s, want killed (unchanged)", s.State())
	}
}

// TestCrashThenLateKillIsIgnored is the mirror image: once a session has
// crashed, a late user-initiated Kill must not relabel it Killed.
func TestCrashThenLateKillIsIgnored(t *testing.T) {
	s := New(1, agentkind.ClaudeCode, "/tmp/p", "p")
	handshake(t, s)
	if err := s.SendPrompt("x"); err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}

	s.Crash(fmt.Errorf("boom"))
	if s.State() != Crashed {
		t.Fatalf("state = %s, want crashed", s.State())
	}

	s.Kill()
	if s.State() != Crashed {
		t.Fatalf("state after late Kill = %s, want crashed (unchanged)", s.State())
	}
}

// TestBypassPermissionsAutoResolves is half of property 7 of §8.
func TestBypassPermissionsAutoResolves(t *testing.T) {
	s := New(1, agentkind.ClaudeCode, "/tmp/p", "p")
	s.SetMode(ModeBypassPermissions)
	req := acptypes.PermissionRequest{Options: []acptypes.PermissionOption{
		{OptionID: "a", Kind: acptypes.OptionAllowOnce},
		{OptionID: "r", Kind: acptypes.OptionRejectOnce},
	}}
	id := s.AutoResolve(req, true)
	if id == nil || *id != "a" {
		t.Fatalf("AutoResolve under bypass_permissions = %v, want \"a\"", id)
	}
}

// TestPlanModeRejectsMutatingTools is the other half of property 7.
func TestPlanModeRejectsMutatingTools(t *testing.T) {
	s := New(1, agentkind.ClaudeCode, "/tmp/p", "p")
	s.SetMode(ModePlan)
	req := acptypes.PermissionRequest{Options: []acptypes.PermissionOption{
		{OptionID: "a", Kind: acptypes.OptionAllowOnce},
		{OptionID: "r", Kind: acptypes.OptionRejectOnce},
	}}
	id := s.AutoResolve(req, true)
	if id == nil || *id != "r" {
		t.Fatalf("AutoResolve under plan mode for a mutating tool = %v, want \"r\"", id)
	}

	readOnlyID := s.AutoResolve(req, false)
	if readOnlyID == nil || *readOnlyID != "a" {
		t.Fatalf("AutoResolve under plan mode for a read-only tool = %v, want \"a\"", readOnlyID)
	}
}

func TestRefusalRecordedDistinctly(t *testing.T) {
	s := New(1, agentkind.ClaudeCode, "/tmp/p", "p")
	handshake(t, s)
	if err := s.SendPrompt("x"); err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	if err := s.CompleteTurn("refusal", true); err != nil {
		t.Fatalf("CompleteTurn: %v", err)
	}
	if s.State() != Idle {
		t.Fatalf("state = %s, want idle (refusal folds into end_turn)", s.State())
	}
	last := s.Transcript()[len(s.Transcript())-1]
	if last.Kind != EntryError || last.ErrorKind != "refusal" {
		t.Fatalf("last entry = %+v, want Error(refusal)", last)
	}
}
