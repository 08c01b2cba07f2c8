// Package external defines C7's thin contracts toward collaborators that sit
// outside this system's core: the renderer, the input source, desktop
// notifications, clipboard, a git status shim, and a raw-message log sink.
// None of these are implemented in depth here; acpmux's core is usable and
// testable against the no-op/in-memory implementations this package
// provides, exactly the way the teacher keeps its adapters narrow and lets a
// StderrProvider be optional (SPEC_FULL.md §6, §4.6).
package external

import (
	"context"
	"sync"
	"time"
)

// Renderer receives a monotonically increasing revision counter every time
// dispatcher state changes; it is expected to read a fresh snapshot rather
// than be handed one; acpmux's core never blocks on it.
type Renderer interface {
	Invalidate(revision uint64)
}

// InputSource is the user-intent half of the dispatcher's select loop
// (SPEC_FULL.md §4.6): one channel of raw intents, translated into Actions
// by the dispatcher itself so this package stays free of any UI dependency.
type InputSource interface {
	Intents() <-chan Intent
}

// Intent is one raw, not-yet-validated user action read from an InputSource.
type Intent struct {
	Kind      IntentKind
	LocalID   int
	Text      string
	Decision  string
	N         int
	AgentKind string // IntentSpawn: registry key, e.g. "claude-code"
	Cwd       string // IntentSpawn: working directory for the new session
}

// IntentKind enumerates the closed set of user-facing intents the
// dispatcher recognizes.
type IntentKind string

const (
	IntentQuit                 IntentKind = "quit"
	IntentFocusNumber          IntentKind = "focus_number"
	IntentFocusNext            IntentKind = "focus_next"
	IntentFocusPrev            IntentKind = "focus_prev"
	IntentSendPrompt           IntentKind = "send_prompt"
	IntentResolvePermission    IntentKind = "resolve_permission"
	IntentSpawn                IntentKind = "spawn"
	IntentKill                 IntentKind = "kill"
	IntentClear                IntentKind = "clear"
	IntentDuplicate            IntentKind = "duplicate"
	IntentCyclePermissionMode  IntentKind = "cycle_permission_mode"
	IntentCycleModel           IntentKind = "cycle_model"
	IntentCycleSort            IntentKind = "cycle_sort"
	IntentScroll               IntentKind = "scroll"
)

// Notifier delivers a desktop notification for an idle session. The
// dispatcher's idle-notification coalescing logic (SPEC_FULL.md §4.6) is
// in-core and unit-testable without any real backend behind this interface.
type Notifier interface {
	Notify(ctx context.Context, sessionLabel, message string) error
}

// Clipboard copies text for a "yank" style user action. Reads are not
// required; acpmux only ever writes to the clipboard.
type Clipboard interface {
	Copy(text string) error
}

// GitShim reports the working tree's git status line for a session's cwd,
// used for presentational decoration only; never consulted for any decision
// in §4.3/§4.4 state transitions.
type GitShim interface {
	Status(ctx context.Context, cwd string) (string, error)
}

// LogSink receives every raw inbound/outbound JSON-RPC message plus
// event-processing notes, for the optional persisted append-only log
// (SPEC_FULL.md §6 "Persisted state"). Implementations decide their own
// rotation policy; acpmux's core only ever calls Write.
type LogSink interface {
	Write(direction Direction, sessionLocalID int, raw []byte)
}

// Direction tags one LogSink entry as inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "in"
	DirectionOutbound Direction = "out"
)

// NoopRenderer discards every invalidation; used by tests and by any
// headless run of the dispatcher.
type NoopRenderer struct{}

func (NoopRenderer) Invalidate(uint64) {}

// NoopNotifier discards every notification.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, string, string) error { return nil }

// NoopClipboard discards every copy request.
type NoopClipboard struct{}

func (NoopClipboard) Copy(string) error { return nil }

// NoopGitShim always reports an empty status, for a cwd that is not a git
// worktree or when git shelling out is undesired (e.g. in tests).
type NoopGitShim struct{}

func (NoopGitShim) Status(context.Context, string) (string, error) { return "", nil }

// ChanInputSource is a trivial InputSource backed by a buffered channel,
// used to feed intents from a real UI front end or from a test.
type ChanInputSource struct {
	ch chan Intent
}

// NewChanInputSource returns a ChanInputSource with the given buffer size.
func NewChanInputSource(buffer int) *ChanInputSource {
	return &ChanInputSource{ch: make(chan Intent, buffer)}
}

// Send enqueues an intent; it blocks if the buffer is full.
func (c *ChanInputSource) Send(i Intent) { c.ch <- i }

// Intents implements InputSource.
func (c *ChanInputSource) Intents() <-chan Intent { return c.ch }

// MemoryLogSink accumulates every entry in memory, guarded by a mutex; used
// by tests that assert on the raw message log without standing up a file.
type MemoryLogSink struct {
	mu      sync.Mutex
	entries []LoggedMessage
}

// LoggedMessage is one entry recorded by MemoryLogSink.
type LoggedMessage struct {
	At        time.Time
	Direction Direction
	LocalID   int
	Raw       []byte
}

func (s *MemoryLogSink) Write(direction Direction, localID int, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(raw))
	copy(cp, raw)
	s.entries = append(s.entries, LoggedMessage{At: time.Now(), Direction: direction, LocalID: localID, Raw: cp})
}

// Entries returns a snapshot copy of everything recorded so far.
func (s *MemoryLogSink) Entries() []LoggedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LoggedMessage, len(s.entries))
	copy(out, s.entries)
	return out
}
