// Package dispatcher implements C6 Event Dispatcher: the single-threaded
// cooperative loop that turns raw user intents and agent events into state
// mutations, coalesces idle notifications and scroll deltas, and signals
// the renderer with a monotonically increasing revision counter.
//
// Grounded on the teacher's internal/agent/acp notification/permission
// handler wiring (one goroutine reducing every inbound signal into state)
// generalized into the explicit select-loop SPEC_FULL.md §4.6 describes,
// with golang.org/x/sync/errgroup supervising the notifier calls this loop
// fires off without blocking its own turn.
package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/raphi011/acpmux/internal/acptypes"
	"github.com/raphi011/acpmux/internal/agentkind"
	"github.com/raphi011/acpmux/internal/config"
	"github.com/raphi011/acpmux/internal/external"
	"github.com/raphi011/acpmux/internal/logging"
	"github.com/raphi011/acpmux/internal/manager"
)

// ActionKind is the closed tagged set of actions an intent or agent event
// can resolve into (SPEC_FULL.md §4.6 step 2).
type ActionKind string

const (
	ActionQuit                ActionKind = "quit"
	ActionFocus               ActionKind = "focus"
	ActionFocusNext           ActionKind = "focus_next"
	ActionFocusPrev           ActionKind = "focus_prev"
	ActionSendPrompt          ActionKind = "send_prompt"
	ActionResolvePermission   ActionKind = "resolve_permission"
	ActionSpawn               ActionKind = "spawn"
	ActionKill                ActionKind = "kill"
	ActionClear               ActionKind = "clear"
	ActionDuplicate           ActionKind = "duplicate"
	ActionCyclePermissionMode ActionKind = "cycle_permission_mode"
	ActionCycleModel          ActionKind = "cycle_model"
	ActionCycleSort           ActionKind = "cycle_sort"
	ActionScroll              ActionKind = "scroll"
)

// Action is one resolved, ready-to-apply mutation.
type Action struct {
	Kind       ActionKind
	LocalID    int
	N          int
	Text       string
	CwdOrLabel string
	Decision   acptypes.PermissionDecision
}

// scrollCoalesceWindow is how long scroll deltas accumulate per session
// before being flushed, matching SPEC_FULL.md §5 "tens of milliseconds".
const scrollCoalesceWindow = 40 * time.Millisecond

// idleCheckInterval is how often the dispatcher re-evaluates every
// session's idle duration against the configured delay.
const idleCheckInterval = 1 * time.Second

// Dispatcher runs the single select loop described in SPEC_FULL.md §4.6.
type Dispatcher struct {
	log       *logging.Logger
	mgr       *manager.Manager
	input     external.InputSource
	renderer  external.Renderer
	notifier  external.Notifier
	notifyCfg config.NotificationsConfig

	revision uint64

	lastEntryCount map[int]int
	lastEntryAt    map[int]time.Time
	lastNotifyAt   map[int]time.Time

	scrollDelta map[int]int
}

// New builds a Dispatcher. renderer/notifier may be external.NoopRenderer{}/
// external.NoopNotifier{} for a headless run.
func New(log *logging.Logger, mgr *manager.Manager, input external.InputSource, renderer external.Renderer, notifier external.Notifier, notifyCfg config.NotificationsConfig) *Dispatcher {
	return &Dispatcher{
		log:            log,
		mgr:            mgr,
		input:          input,
		renderer:       renderer,
		notifier:       notifier,
		notifyCfg:      notifyCfg,
		lastEntryCount: make(map[int]int),
		lastEntryAt:    make(map[int]time.Time),
		lastNotifyAt:   make(map[int]time.Time),
		scrollDelta:    make(map[int]int),
	}
}

// Run executes the select loop until ctx is cancelled or a Quit action is
// applied. It returns the first error reported by a supervised background
// task, if any.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	idleTicker := time.NewTicker(idleCheckInterval)
	defer idleTicker.Stop()
	scrollTicker := time.NewTicker(scrollCoalesceWindow)
	defer scrollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return g.Wait()

		case intent, ok := <-d.input.Intents():
			if !ok {
				return g.Wait()
			}
			quit := d.applyActions(gctx, g, translateIntent(intent))
			d.bumpRevision()
			if quit {
				return g.Wait()
			}

		case ev := <-d.mgr.Events():
			d.handleAgentEvent(ev)
			d.bumpRevision()

		case <-idleTicker.C:
			d.checkIdleSessions(gctx, g)

		case <-scrollTicker.C:
			d.flushScroll()
		}
	}
}

// translateIntent maps one raw Intent onto the Action(s) it resolves to.
// The mapping is one-to-one today; kept as a distinct step (rather than
// switching directly in applyActions) so a future intent that expands into
// more than one action does not change the loop's shape.
func translateIntent(i external.Intent) []Action {
	switch i.Kind {
	case external.IntentQuit:
		return []Action{{Kind: ActionQuit}}
	case external.IntentFocusNumber:
		return []Action{{Kind: ActionFocus, N: i.N}}
	case external.IntentFocusNext:
		return []Action{{Kind: ActionFocusNext}}
	case external.IntentFocusPrev:
		return []Action{{Kind: ActionFocusPrev}}
	case external.IntentSendPrompt:
		return []Action{{Kind: ActionSendPrompt, LocalID: i.LocalID, Text: i.Text}}
	case external.IntentResolvePermission:
		decision := acptypes.PermissionDecision{Cancelled: true}
		if i.Decision != "" && i.Decision != "cancelled" {
			optionID := i.Decision
			decision = acptypes.PermissionDecision{Selected: &optionID}
		}
		return []Action{{Kind: ActionResolvePermission, LocalID: i.LocalID, Decision: decision}}
	case external.IntentSpawn:
		return []Action{{Kind: ActionSpawn, Text: i.AgentKind, CwdOrLabel: i.Cwd}}
	case external.IntentKill:
		return []Action{{Kind: ActionKill, LocalID: i.LocalID}}
	case external.IntentClear:
		return []Action{{Kind: ActionClear, LocalID: i.LocalID}}
	case external.IntentDuplicate:
		return []Action{{Kind: ActionDuplicate, LocalID: i.LocalID}}
	case external.IntentCyclePermissionMode:
		return []Action{{Kind: ActionCyclePermissionMode, LocalID: i.LocalID}}
	case external.IntentCycleModel:
		return []Action{{Kind: ActionCycleModel, LocalID: i.LocalID}}
	case external.IntentCycleSort:
		return []Action{{Kind: ActionCycleSort}}
	case external.IntentScroll:
		return []Action{{Kind: ActionScroll, LocalID: i.LocalID, N: i.N}}
	default:
		return nil
	}
}

// applyActions applies every action in order and reports whether a Quit
// action was among them.
func (d *Dispatcher) applyActions(ctx context.Context, g *errgroup.Group, actions []Action) bool {
	quit := false
	for _, a := range actions {
		switch a.Kind {
		case ActionQuit:
			quit = true
		case ActionFocus:
			if id, err := d.mgr.ByNumber(a.N); err == nil {
				_ = d.mgr.Focus(id)
			}
		case ActionFocusNext:
			d.mgr.Next()
		case ActionFocusPrev:
			d.mgr.Prev()
		case ActionSendPrompt:
			_ = d.mgr.Send(ctx, a.LocalID, a.Text)
		case ActionResolvePermission:
			_ = d.mgr.ResolvePermission(a.LocalID, a.Decision)
		case ActionSpawn:
			kind := agentkind.ClaudeCode
			if spec, ok := agentkind.Lookup(a.Text); ok {
				kind = spec.Kind
			}
			d.mgr.Spawn(kind, a.CwdOrLabel)
		case ActionKill:
			_ = d.mgr.Kill(a.LocalID)
		case ActionClear:
			_ = d.mgr.Clear(a.LocalID)
		case ActionDuplicate:
			_, _ = d.mgr.Duplicate(a.LocalID)
		case ActionCyclePermissionMode:
			_ = d.mgr.CyclePermissionMode(a.LocalID)
		case ActionCycleModel:
			// Model cycling is per-agent-kind and not modeled further here;
			// a no-op placeholder keeps the action in the closed set complete.
		case ActionCycleSort:
			// Sort order is a renderer-local presentational concern.
		case ActionScroll:
			d.scrollDelta[a.LocalID] += a.N
		}
	}
	return quit
}

// handleAgentEvent reduces one item off the manager's single event funnel.
// Transcript mutation happens here, and only here, keeping every session's
// state changes on this one goroutine (SPEC_FULL.md §4.6, §5 shared-resource
// policy).
func (d *Dispatcher) handleAgentEvent(ev manager.AgentEvent) {
	switch ev.Kind {
	case manager.EventUpdate:
		if err := d.mgr.ApplyUpdate(ev.LocalID, ev.Update); err != nil {
			d.log.Warn("dropped update for unknown session", zap.Error(err))
		}
	case manager.EventCrashed:
		// For a connection failure the emitter has already moved the session
		// to Crashed; an event raised because a state transition was
		// rejected (e.g. the session was killed meanwhile) leaves the state
		// as it is. Nothing further to mutate here.
	case manager.EventPermissionRequest:
		// Surfaced to the renderer via the next Invalidate call; the actual
		// decision arrives later as an ActionResolvePermission.
	}
	d.touchActivity(ev.LocalID)
}

func (d *Dispatcher) touchActivity(localID int) {
	sess, ok := d.mgr.Session(localID)
	if !ok {
		return
	}
	n := len(sess.Transcript())
	if n != d.lastEntryCount[localID] {
		d.lastEntryCount[localID] = n
		d.lastEntryAt[localID] = time.Now()
	}
}

// checkIdleSessions notifies once per session per idle period, coalesced by
// notifyCfg.DedupeIntervalSecs (SPEC_FULL.md §4.6).
func (d *Dispatcher) checkIdleSessions(ctx context.Context, g *errgroup.Group) {
	if !d.notifyCfg.Enabled {
		return
	}
	idleDelay := time.Duration(d.notifyCfg.IdleDelaySecs) * time.Second
	dedupe := time.Duration(d.notifyCfg.DedupeIntervalSecs) * time.Second

	for localID, enteredAt := range d.lastEntryAt {
		sess, ok := d.mgr.Session(localID)
		if !ok {
			continue
		}
		idleFor, isIdle := sess.IdleSince(enteredAt)
		if !isIdle || idleFor < idleDelay {
			continue
		}
		if last, notified := d.lastNotifyAt[localID]; notified && time.Since(last) < dedupe {
			continue
		}
		d.lastNotifyAt[localID] = time.Now()

		label := sess.Label
		g.Go(func() error {
			if err := d.notifier.Notify(ctx, label, "session is idle"); err != nil {
				d.log.Warn("notifier delivery failed", zap.Error(err))
			}
			return nil
		})
	}
}

// flushScroll bumps the revision while any per-session scroll delta is
// pending; it does not apply or clear the deltas. There is no separate
// scroll-position store in this package; a renderer reads ScrollDelta,
// which resets the delta.
func (d *Dispatcher) flushScroll() {
	if len(d.scrollDelta) == 0 {
		return
	}
	d.bumpRevision()
}

// ScrollDelta returns and clears the accumulated scroll delta for localId.
func (d *Dispatcher) ScrollDelta(localID int) int {
	n := d.scrollDelta[localID]
	delete(d.scrollDelta, localID)
	return n
}

func (d *Dispatcher) bumpRevision() {
	d.revision++
	d.renderer.Invalidate(d.revision)
}

// Revision returns the current revision counter.
func (d *Dispatcher) Revision() uint64 { return d.revision }
