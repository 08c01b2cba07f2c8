// Package session implements C3 Session State & Transcript: the per-session
// state machine, the append-only transcript with tool-call reduction, and
// permission-mode auto-resolution policy.
//
// Grounded on the teacher's internal/agent/acp's session struct (mutex-
// guarded state, pending-permission tracking with a single outstanding slot)
// generalized to the full state table and a typed transcript, which the
// teacher file only partially implements.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphi011/acpmux/internal/acptypes"
	"github.com/raphi011/acpmux/internal/agentkind"
	"github.com/raphi011/acpmux/internal/apperror"
)

// State is one node of the session lifecycle state machine (SPEC_FULL.md
// §4.3). Initializing is split into two sub-states by the caller tracking
// whether sessionId has been assigned yet; this package folds that into
// InitializingSession vs Initializing since both are externally opaque.
type State string

const (
	Spawning            State = "spawning"
	Initializing        State = "initializing"         // initialize sent, awaiting response
	InitializingSession State = "initializing_session" // session/new sent, awaiting response
	Idle                State = "idle"
	Prompting           State = "prompting"
	AwaitingPermission  State = "awaiting_permission"
	Crashed             State = "crashed"
	Killed              State = "killed"
)

// PermissionMode controls whether incoming permission requests are
// auto-resolved without surfacing a prompt (SPEC_FULL.md §4.3).
type PermissionMode string

const (
	ModeDefault           PermissionMode = "default"
	ModeAcceptEdits       PermissionMode = "accept_edits"
	ModeBypassPermissions PermissionMode = "bypass_permissions"
	ModePlan              PermissionMode = "plan"
)

// EntryKind tags one transcript OutputEntry.
type EntryKind string

const (
	EntryUserMessage       EntryKind = "user_message"
	EntryAgentMessageChunk EntryKind = "agent_message_chunk"
	EntryAgentThoughtChunk EntryKind = "agent_thought_chunk"
	EntryToolCall          EntryKind = "tool_call"
	EntryPlanSnapshot      EntryKind = "plan_snapshot"
	EntryModeChange        EntryKind = "mode_change"
	EntryError             EntryKind = "error"
	EntryPermissionResolved EntryKind = "permission_resolved"
)

// Entry is one append-only transcript record. Only the fields relevant to
// Kind are populated; this mirrors the tagged-union style used for
// acptypes.SessionUpdate rather than one struct type per entry kind, since
// transcript entries are stored in a single ordered slice.
type Entry struct {
	Kind EntryKind
	Seq  int

	Text        string // UserMessage, AgentMessageChunk/ThoughtChunk, ModeChange(mode), Error(message)
	ErrorKind   string // Error
	ToolCallID  string // ToolCall, PermissionResolved
	Title       string // ToolCall
	Status      acptypes.ToolCallStatus // ToolCall, current status
	Plan        *acptypes.PlanSnapshot  // PlanSnapshot
	Decision    string                  // PermissionResolved: selected option id, or "cancelled"
}

// PendingPermission is the single outstanding permission request for a
// session, if any (§3 invariant: at most one at a time).
type PendingPermission struct {
	ToolCallID string
	Title      string
	Options    []acptypes.PermissionOption
}

// Session is the mutable state for one agent connection: its lifecycle
// state, transcript, tool-call index, and pending permission slot. All
// mutation is expected to happen from the single dispatcher goroutine; the
// mutex exists only to let the renderer take a safe read snapshot
// concurrently (SPEC_FULL.md §5 "renderer reads a consistent snapshot").
type Session struct {
	mu sync.RWMutex

	LocalID   int
	SessionID string
	Kind      agentkind.Kind
	Cwd       string
	Model     string
	Mode      PermissionMode
	Label     string

	state      State
	transcript []Entry
	toolCallAt map[string]int // toolCallId -> index into transcript
	pending    *PendingPermission

	nextSeq int
}

// New creates a freshly Spawning session. Label defaults to the cwd's base
// name, matching the teacher's own human-readable session naming.
func New(localID int, kind agentkind.Kind, cwd, label string) *Session {
	return &Session{
		LocalID:    localID,
		Kind:       kind,
		Cwd:        cwd,
		Label:      label,
		Mode:       ModeDefault,
		state:      Spawning,
		toolCallAt: make(map[string]int),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ModeSnapshot returns the active permission mode, safe to call from a
// goroutine other than the dispatcher (e.g. a host-handler permission gate).
func (s *Session) ModeSnapshot() PermissionMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Mode
}

// Transcript returns a snapshot copy of the transcript, safe to read
// concurrently with ongoing mutation.
func (s *Session) Transcript() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Pending returns the current pending permission, or nil.
func (s *Session) Pending() *PendingPermission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending == nil {
		return nil
	}
	p := *s.pending
	return &p
}

var validTransitions = map[State]map[State]bool{
	Spawning:            {Initializing: true, Crashed: true, Killed: true},
	Initializing:        {InitializingSession: true, Crashed: true, Killed: true},
	InitializingSession: {Idle: true, Crashed: true, Killed: true},
	Idle:                {Prompting: true, Crashed: true, Killed: true},
	Prompting:           {Prompting: true, AwaitingPermission: true, Idle: true, Crashed: true, Killed: true},
	AwaitingPermission:  {Prompting: true, Crashed: true, Killed: true},
	Crashed:             {},
	Killed:              {},
}

// transition moves the session to next, rejecting any edge not present in
// the state table (SPEC_FULL.md §4.3: "transitions not listed are
// rejected with an error entry"). Must be called with mu held.
func (s *Session) transition(next State) error {
	if s.state == Crashed || s.state == Killed {
		err := apperror.InvalidState(fmt.Sprintf("session %d is terminal (%s), cannot move to %s", s.LocalID, s.state, next))
		s.appendLocked(Entry{Kind: EntryError, ErrorKind: string(apperror.KindInvalidState), Text: err.Error()})
		return err
	}
	if !validTransitions[s.state][next] {
		err := apperror.InvalidState(fmt.Sprintf("invalid transition %s -> %s", s.state, next))
		s.appendLocked(Entry{Kind: EntryError, ErrorKind: string(apperror.KindInvalidState), Text: err.Error()})
		return err
	}
	s.state = next
	return nil
}

// BeginInitialize records the Spawning->Initializing edge.
func (s *Session) BeginInitialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(Initializing)
}

// BeginSessionNew records the Initializing->InitializingSession edge.
func (s *Session) BeginSessionNew() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(InitializingSession)
}

// HandshakeComplete records the assigned sessionId and moves to Idle.
func (s *Session) HandshakeComplete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(Idle); err != nil {
		return err
	}
	s.SessionID = sessionID
	return nil
}

// SendPrompt appends a UserMessage entry and moves Idle->Prompting. Rejected
// unless the session is Idle (SPEC_FULL.md §4.4 send()).
func (s *Session) SendPrompt(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return apperror.InvalidState(fmt.Sprintf("send rejected: session %d is %s, not idle", s.LocalID, s.state))
	}
	if err := s.transition(Prompting); err != nil {
		return err
	}
	s.appendLocked(Entry{Kind: EntryUserMessage, Text: text})
	return nil
}

// ApplyUpdate reduces one converted session update into the transcript.
// Chunks and tool-call events are accepted in Prompting or
// AwaitingPermission; outside those states they are still applied but
// logged by the caller (SPEC_FULL.md §3 invariant), since rejecting would
// drop agent output a user may still want to see.
func (s *Session) ApplyUpdate(u acptypes.SessionUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch u.Kind {
	case acptypes.UpdateAgentMessageChunk:
		s.appendLocked(Entry{Kind: EntryAgentMessageChunk, Text: u.MessageChunk.Text})
	case acptypes.UpdateAgentThoughtChunk:
		s.appendLocked(Entry{Kind: EntryAgentThoughtChunk, Text: u.MessageChunk.Text})
	case acptypes.UpdateToolCall:
		s.appendLocked(Entry{
			Kind:       EntryToolCall,
			ToolCallID: u.ToolCall.ToolCallID,
			Title:      u.ToolCall.Title,
			Status:     u.ToolCall.Status,
		})
		s.toolCallAt[u.ToolCall.ToolCallID] = len(s.transcript) - 1
	case acptypes.UpdateToolCallUpdate:
		s.reduceToolCallLocked(u.ToolCallUpdate)
	case acptypes.UpdatePlan:
		s.appendLocked(Entry{Kind: EntryPlanSnapshot, Plan: u.Plan})
	case acptypes.UpdateModeChange:
		s.appendLocked(Entry{Kind: EntryModeChange, Text: u.Mode})
	case acptypes.UpdateRaw:
		// Unknown tag: preserved only at the acpconn layer's log, not in the
		// transcript, to avoid surfacing opaque JSON to the renderer.
	}
}

// reduceToolCallLocked applies a tool_call_update by id. An update targeting
// an unknown id is dropped (the caller logs a warning); this is idempotent
// by construction since re-applying the same update just overwrites the
// same fields again (§8 property 2). An entry already in a terminal status
// (completed or failed) is frozen and ignores further updates.
func (s *Session) reduceToolCallLocked(upd *acptypes.ToolCallUpdate) {
	idx, ok := s.toolCallAt[upd.ToolCallID]
	if !ok {
		return
	}
	entry := &s.transcript[idx]
	if entry.Status == acptypes.ToolCallCompleted || entry.Status == acptypes.ToolCallFailed {
		return
	}
	if upd.NewStatus != nil {
		entry.Status = *upd.NewStatus
	}
}

// UnknownToolCallUpdate reports whether upd targets an id with no existing
// entry, so the caller can log it without duplicating the lookup.
func (s *Session) UnknownToolCallUpdate(toolCallID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.toolCallAt[toolCallID]
	return !ok
}

// BeginPermission records a pending permission and moves Prompting->
// AwaitingPermission. Rejected if a permission is already pending (§3
// invariant: at most one pending permission).
func (s *Session) BeginPermission(toolCallID, title string, options []acptypes.PermissionOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return apperror.Protocol(fmt.Sprintf("session %d already has a pending permission for %q", s.LocalID, s.pending.ToolCallID), nil)
	}
	if err := s.transition(AwaitingPermission); err != nil {
		return err
	}
	s.pending = &PendingPermission{ToolCallID: toolCallID, Title: title, Options: options}
	return nil
}

// ResolvePermission records the decision in the transcript, clears the
// pending slot, and returns to Prompting. Rejected unless AwaitingPermission
// (SPEC_FULL.md §4.4 resolve_permission()).
func (s *Session) ResolvePermission(decision string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != AwaitingPermission || s.pending == nil {
		return apperror.InvalidState(fmt.Sprintf("resolve_permission rejected: session %d has no pending permission", s.LocalID))
	}
	toolCallID := s.pending.ToolCallID
	s.pending = nil
	if err := s.transition(Prompting); err != nil {
		return err
	}
	s.appendLocked(Entry{Kind: EntryPermissionResolved, ToolCallID: toolCallID, Decision: decision})
	return nil
}

// AutoResolve applies the active permission mode to req and returns the
// selected option id, or nil if the mode requires a human decision
// (SPEC_FULL.md §4.3 "Permission modes").
func (s *Session) AutoResolve(req acptypes.PermissionRequest, isMutating bool) *string {
	s.mu.RLock()
	mode := s.Mode
	s.mu.RUnlock()

	switch mode {
	case ModeBypassPermissions:
		if id := firstOfKind(req.Options, func(k acptypes.PermissionOptionKind) bool { return k.IsAllow() }); id != nil {
			return id
		}
	case ModeAcceptEdits:
		if isMutating {
			if id := firstOfKind(req.Options, func(k acptypes.PermissionOptionKind) bool { return k == acptypes.OptionAllowOnce }); id != nil {
				return id
			}
		}
	case ModePlan:
		if isMutating {
			if id := firstOfKind(req.Options, func(k acptypes.PermissionOptionKind) bool { return k.IsReject() }); id != nil {
				return id
			}
		} else {
			if id := firstOfKind(req.Options, func(k acptypes.PermissionOptionKind) bool { return k.IsAllow() }); id != nil {
				return id
			}
		}
	}
	return nil
}

func firstOfKind(opts []acptypes.PermissionOption, match func(acptypes.PermissionOptionKind) bool) *string {
	for _, o := range opts {
		if match(o.Kind) {
			id := o.OptionID
			return &id
		}
	}
	return nil
}

// CompleteTurn handles a session/prompt response's stopReason, returning to
// Idle. A "refusal" stop reason is folded into the same transition but also
// recorded distinctly (SPEC_FULL.md §4.3 "Refusal handling").
func (s *Session) CompleteTurn(stopReason string, refusal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(Idle); err != nil {
		return err
	}
	if refusal {
		s.appendLocked(Entry{Kind: EntryError, ErrorKind: "refusal", Text: "agent refused the request"})
	}
	return nil
}

// Crash transitions the session to its terminal Crashed state, same as
// every other state-mutating method, through transition() — so a session
// already Killed (e.g. by a user-initiated Kill racing a late exit report)
// cannot be silently re-labeled Crashed (SPEC_FULL.md §4.3, §8 property 6).
func (s *Session) Crash(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(Crashed); err != nil {
		return
	}
	s.pending = nil
	msg := "agent connection lost"
	if cause != nil {
		msg = cause.Error()
	}
	s.appendLocked(Entry{Kind: EntryError, ErrorKind: string(apperror.KindTransport), Text: msg})
}

// Kill transitions the session to its terminal Killed state through
// transition(), so it respects the same terminal-state guard as every other
// transition and a session already Crashed cannot be re-labeled Killed.
func (s *Session) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(Killed); err != nil {
		return
	}
	s.pending = nil
}

// SetMode updates the permission mode and appends a ModeChange entry.
func (s *Session) SetMode(mode PermissionMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Mode = mode
	s.appendLocked(Entry{Kind: EntryModeChange, Text: string(mode)})
}

func (s *Session) appendLocked(e Entry) {
	s.nextSeq++
	e.Seq = s.nextSeq
	s.transcript = append(s.transcript, e)
}

// NewPermissionID generates an internal id for a synthesized transcript
// entry tied to a permission request, never sent over the wire.
func NewPermissionID() string {
	return uuid.NewString()
}

// IdleSince reports how long the session has been continuously Idle, used
// by the dispatcher's idle-notification coalescing (SPEC_FULL.md §4.6).
// A zero duration with ok=false means the session is not currently Idle.
func (s *Session) IdleSince(lastEntryAt time.Time) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != Idle {
		return 0, false
	}
	return time.Since(lastEntryAt), true
}
