// Package manager implements C4 Session Manager: the ordered registry of
// sessions, focus tracking, and the single mpsc funnel every agent
// connection's events are reduced into before the dispatcher sees them.
//
// Grounded on the teacher's internal/agent/acp SessionManager (map of
// sessions keyed by instance id, a single update/permission handler wired
// into every connection at creation time) generalized to the ordered,
// focus-aware registry SPEC_FULL.md §4.4 describes.
package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/raphi011/acpmux/internal/acpconn"
	"github.com/raphi011/acpmux/internal/acptypes"
	"github.com/raphi011/acpmux/internal/agentkind"
	"github.com/raphi011/acpmux/internal/apperror"
	"github.com/raphi011/acpmux/internal/hostfs"
	"github.com/raphi011/acpmux/internal/hostterm"
	"github.com/raphi011/acpmux/internal/logging"
	"github.com/raphi011/acpmux/internal/session"
)

// AgentEventKind tags the payload carried by an AgentEvent.
type AgentEventKind string

const (
	EventUpdate            AgentEventKind = "update"
	EventPermissionRequest AgentEventKind = "permission_request"
	EventCrashed           AgentEventKind = "crashed"
)

// AgentEvent is one item on the manager's single inbound funnel, tagged
// with the local session id it concerns (SPEC_FULL.md §4.4).
type AgentEvent struct {
	Kind    AgentEventKind
	LocalID int

	Update     acptypes.SessionUpdate
	Permission *PendingPermission
	Err        error
}

// PendingPermission describes a permission request the active mode could
// not auto-resolve, surfaced to the dispatcher for a human decision.
type PendingPermission struct {
	ToolCallID string
	Title      string
	Options    []acptypes.PermissionOption
}

// combinedHost satisfies acpconn.Host by embedding the filesystem and
// terminal halves of the host handler; their method sets don't overlap, so
// both are promoted without any adapter glue.
type combinedHost struct {
	*hostfs.Host
	*hostterm.Manager
}

type entry struct {
	session *session.Session
	conn    *acpconn.Connection
	host    *combinedHost
	replyCh chan acptypes.PermissionDecision
}

// Manager owns every session spawned in this process.
type Manager struct {
	log *logging.Logger

	mcpServers []acpconn.McpServer

	mu       sync.Mutex
	order    []int
	byID     map[int]*entry
	focusIdx int
	nextID   int

	events chan AgentEvent
}

// New returns an empty Manager. mcpServers is forwarded to every session's
// session/new handshake.
func New(log *logging.Logger, mcpServers []acpconn.McpServer) *Manager {
	return &Manager{
		log:        log,
		mcpServers: mcpServers,
		byID:       make(map[int]*entry),
		events:     make(chan AgentEvent, 256),
	}
}

// Events returns the single channel every connection's callbacks funnel
// into; the dispatcher is the sole reader.
func (m *Manager) Events() <-chan AgentEvent { return m.events }

// Spawn begins a new session in Spawning state and returns its local id
// immediately; the subprocess launch and ACP handshake continue on a
// background goroutine. A failure is reported as a Crashed event; on success
// the session moves to Idle with its sessionId recorded, and no event or
// transcript entry is emitted (SPEC_FULL.md §4.4 spawn).
func (m *Manager) Spawn(kind agentkind.Kind, cwd string) int {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	sess := session.New(id, kind, cwd, filepath.Base(cwd))

	host := &combinedHost{
		Host:    hostfs.New(cwd, modeBypassGate(sess)),
		Manager: hostterm.NewManager(m.log, planModeDeniesCreate(sess)),
	}
	e := &entry{session: sess, host: host}
	m.byID[id] = e
	m.order = append(m.order, id)
	m.mu.Unlock()

	go m.bootstrap(id, e, kind, cwd)

	return id
}

// modeBypassGate allows fs access outside the session cwd only while the
// session's permission mode is bypass_permissions.
func modeBypassGate(sess *session.Session) func() bool {
	return func() bool { return sess.ModeSnapshot() == session.ModeBypassPermissions }
}

// planModeDeniesCreate denies terminal/create while the session is in plan
// mode, which is read-only by definition (SPEC_FULL.md §4.3 permission
// modes); every other mode defers the decision to session/request_permission.
func planModeDeniesCreate(sess *session.Session) func() bool {
	return func() bool { return sess.ModeSnapshot() != session.ModePlan }
}

func (m *Manager) bootstrap(id int, e *entry, kind agentkind.Kind, cwd string) {
	ctx := context.Background()

	if err := e.session.BeginInitialize(); err != nil {
		m.emitCrash(id, err)
		return
	}

	conn, err := acpconn.Spawn(ctx, kind, cwd, m.log, e.host, &sessionSink{m: m, localID: id})
	if err != nil {
		e.session.Crash(err)
		m.emitCrash(id, err)
		return
	}

	m.mu.Lock()
	e.conn = conn
	m.mu.Unlock()

	if err := e.session.BeginSessionNew(); err != nil {
		m.emitCrash(id, err)
		return
	}

	if err := conn.Handshake(ctx, cwd, m.mcpServers); err != nil {
		e.session.Crash(err)
		m.emitCrash(id, err)
		return
	}

	if err := e.session.HandshakeComplete(conn.SessionID()); err != nil {
		m.emitCrash(id, err)
	}
}

func (m *Manager) emitCrash(localID int, err error) {
	m.events <- AgentEvent{Kind: EventCrashed, LocalID: localID, Err: err}
}

// Kill terminates localId's connection and any terminals it owns, and moves
// it to the terminal Killed state.
func (m *Manager) Kill(localID int) error {
	e, ok := m.get(localID)
	if !ok {
		return apperror.InvalidState(fmt.Sprintf("unknown session %d", localID))
	}
	e.host.Manager.KillAll()
	if e.conn != nil {
		_ = e.conn.Close()
	}
	e.session.Kill()
	return nil
}

// Clear removes a terminal (Crashed or Killed) session from the registry
// entirely.
func (m *Manager) Clear(localID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[localID]
	if !ok {
		return apperror.InvalidState(fmt.Sprintf("unknown session %d", localID))
	}
	state := e.session.State()
	if state != session.Crashed && state != session.Killed {
		return apperror.InvalidState(fmt.Sprintf("clear rejected: session %d is %s, not terminal", localID, state))
	}
	delete(m.byID, localID)
	for i, id := range m.order {
		if id == localID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.focusIdx >= len(m.order) {
		m.focusIdx = len(m.order) - 1
	}
	return nil
}

// Duplicate spawns a new session of the same kind against the same cwd as
// localId, independent of its current lifecycle state.
func (m *Manager) Duplicate(localID int) (int, error) {
	e, ok := m.get(localID)
	if !ok {
		return 0, apperror.InvalidState(fmt.Sprintf("unknown session %d", localID))
	}
	return m.Spawn(e.session.Kind, e.session.Cwd), nil
}

// Send forwards prompt to localId's connection, rejected unless the
// session is Idle (enforced by session.SendPrompt before any IO happens).
func (m *Manager) Send(ctx context.Context, localID int, prompt string) error {
	e, ok := m.get(localID)
	if !ok {
		return apperror.InvalidState(fmt.Sprintf("unknown session %d", localID))
	}
	if err := e.session.SendPrompt(prompt); err != nil {
		return err
	}
	go func() {
		reason, refusal, err := e.conn.Prompt(ctx, prompt)
		if err != nil {
			e.session.Crash(err)
			m.emitCrash(localID, err)
			return
		}
		if err := e.session.CompleteTurn(reason, refusal); err != nil {
			m.emitCrash(localID, err)
		}
	}()
	return nil
}

// ResolvePermission delivers decision to whichever goroutine is blocked in
// onPermissionRequest for localId, rejected unless a permission is pending.
func (m *Manager) ResolvePermission(localID int, decision acptypes.PermissionDecision) error {
	m.mu.Lock()
	e, ok := m.byID[localID]
	if !ok {
		m.mu.Unlock()
		return apperror.InvalidState(fmt.Sprintf("unknown session %d", localID))
	}
	replyCh := e.replyCh
	m.mu.Unlock()

	if replyCh == nil {
		return apperror.InvalidState(fmt.Sprintf("session %d has no pending permission", localID))
	}

	selected := "cancelled"
	if decision.Selected != nil {
		selected = *decision.Selected
	}
	if err := e.session.ResolvePermission(selected); err != nil {
		return err
	}
	replyCh <- decision
	return nil
}

// Focus moves the focused index to localId.
func (m *Manager) Focus(localID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range m.order {
		if id == localID {
			m.focusIdx = i
			return nil
		}
	}
	return apperror.InvalidState(fmt.Sprintf("unknown session %d", localID))
}

// Next moves focus to the next session in registration order, wrapping.
func (m *Manager) Next() { m.shiftFocus(1) }

// Prev moves focus to the previous session in registration order, wrapping.
func (m *Manager) Prev() { m.shiftFocus(-1) }

func (m *Manager) shiftFocus(delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.order)
	if n == 0 {
		return
	}
	m.focusIdx = ((m.focusIdx+delta)%n + n) % n
}

// ByNumber returns the localId at 1-indexed position n in registration
// order.
func (m *Manager) ByNumber(n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 1 || n > len(m.order) {
		return 0, apperror.InvalidState(fmt.Sprintf("no session at position %d", n))
	}
	return m.order[n-1], nil
}

// Focused returns the currently focused session's local id, or false if the
// registry is empty.
func (m *Manager) Focused() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return 0, false
	}
	return m.order[m.focusIdx], true
}

// CyclePermissionMode advances localId's permission mode through the fixed
// default -> accept_edits -> bypass_permissions -> plan -> default cycle.
func (m *Manager) CyclePermissionMode(localID int) error {
	e, ok := m.get(localID)
	if !ok {
		return apperror.InvalidState(fmt.Sprintf("unknown session %d", localID))
	}
	e.session.SetMode(nextMode(e.session.ModeSnapshot()))
	return nil
}

func nextMode(mode session.PermissionMode) session.PermissionMode {
	switch mode {
	case session.ModeDefault:
		return session.ModeAcceptEdits
	case session.ModeAcceptEdits:
		return session.ModeBypassPermissions
	case session.ModeBypassPermissions:
		return session.ModePlan
	default:
		return session.ModeDefault
	}
}

// Session returns the session state for localId, for the renderer/dispatcher
// to read a snapshot from.
func (m *Manager) Session(localID int) (*session.Session, bool) {
	e, ok := m.get(localID)
	if !ok {
		return nil, false
	}
	return e.session, true
}

// ApplyUpdate reduces update into localId's transcript. Called by the
// dispatcher after reading an EventUpdate off Events(), not by the
// connection callback directly, so all transcript mutation stays on one
// goroutine (SPEC_FULL.md §4.6).
func (m *Manager) ApplyUpdate(localID int, update acptypes.SessionUpdate) error {
	e, ok := m.get(localID)
	if !ok {
		return apperror.InvalidState(fmt.Sprintf("unknown session %d", localID))
	}
	switch update.Kind {
	case acptypes.UpdateToolCallUpdate:
		if update.ToolCallUpdate != nil && e.session.UnknownToolCallUpdate(update.ToolCallUpdate.ToolCallID) {
			m.log.Warn("dropping tool_call_update for unknown tool call id", zap.Int("session", localID), zap.String("tool_call_id", update.ToolCallUpdate.ToolCallID))
		}
	case acptypes.UpdateAgentMessageChunk, acptypes.UpdateAgentThoughtChunk:
		if st := e.session.State(); st != session.Prompting && st != session.AwaitingPermission {
			m.log.Warn("agent chunk arrived outside a prompt turn", zap.Int("session", localID), zap.String("state", string(st)))
		}
	}
	e.session.ApplyUpdate(update)
	return nil
}

func (m *Manager) get(localID int) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[localID]
	return e, ok
}

// sessionSink adapts one session's acpconn.EventSink callbacks onto the
// manager's single event channel, tagging each with its local id.
type sessionSink struct {
	m       *Manager
	localID int
}

func (s *sessionSink) OnUpdate(update acptypes.SessionUpdate) {
	s.m.events <- AgentEvent{Kind: EventUpdate, LocalID: s.localID, Update: update}
}

func (s *sessionSink) OnCrashed(err error) {
	e, ok := s.m.get(s.localID)
	if ok {
		e.session.Crash(err)
	}
	s.m.emitCrash(s.localID, err)
}

// OnPermissionRequest auto-resolves the request per the session's active
// permission mode; failing that, it registers the pending permission,
// surfaces it on the event channel, and blocks until ResolvePermission
// delivers a decision. Every permission request is treated as mutating,
// since acptypes.PermissionRequest carries no tool-kind classification to
// distinguish a read from a write or exec.
func (s *sessionSink) OnPermissionRequest(ctx context.Context, req acptypes.PermissionRequest) (acptypes.PermissionDecision, error) {
	e, ok := s.m.get(s.localID)
	if !ok {
		return acptypes.PermissionDecision{}, apperror.InvalidState(fmt.Sprintf("unknown session %d", s.localID))
	}

	const isMutating = true
	if optionID := e.session.AutoResolve(req, isMutating); optionID != nil {
		if err := e.session.BeginPermission(req.ToolCallID, req.Title, req.Options); err != nil {
			return acptypes.PermissionDecision{}, err
		}
		if err := e.session.ResolvePermission(*optionID); err != nil {
			return acptypes.PermissionDecision{}, err
		}
		return acptypes.PermissionDecision{Selected: optionID}, nil
	}

	if err := e.session.BeginPermission(req.ToolCallID, req.Title, req.Options); err != nil {
		return acptypes.PermissionDecision{}, err
	}

	replyCh := make(chan acptypes.PermissionDecision, 1)
	s.m.mu.Lock()
	e.replyCh = replyCh
	s.m.mu.Unlock()

	s.m.events <- AgentEvent{
		Kind:    EventPermissionRequest,
		LocalID: s.localID,
		Permission: &PendingPermission{
			ToolCallID: req.ToolCallID,
			Title:      req.Title,
			Options:    req.Options,
		},
	}

	select {
	case decision := <-replyCh:
		s.m.mu.Lock()
		e.replyCh = nil
		s.m.mu.Unlock()
		return decision, nil
	case <-ctx.Done():
		return acptypes.PermissionDecision{}, apperror.Timeout("permission request cancelled")
	}
}
