// Package hostterm implements the terminal/* half of C5 Host Handler
// (SPEC_FULL.md §4.5): ephemeral PTY-backed shell sessions with bounded,
// render-ready scrollback.
//
// Grounded on the teacher's process_ref/runner.go (ring buffer eviction
// policy, two-phase SIGTERM→SIGKILL shutdown, process-group kill) and
// shell_ref/session.go (PTY start/read-loop shape), combined with
// tuzig/vt10x the way status_tracker.go uses it to turn raw PTY bytes into
// stable, line-oriented screen content instead of raw ANSI soup.
package hostterm

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/tuzig/vt10x"
	"go.uber.org/zap"

	"github.com/raphi011/acpmux/internal/apperror"
	"github.com/raphi011/acpmux/internal/logging"
)

// termCols/termRows size the virtual screen every terminal renders into.
// A generous row count doubles as the bounded-scrollback depth (SPEC_FULL.md
// §5 "Terminal output ring buffer"): vt10x's fixed grid naturally evicts the
// oldest line once output scrolls past it.
const (
	termCols = 220
	termRows = 4000

	// maxTrackedBytes is the point past which TerminalOutput reports truncated=true:
	// once a terminal has streamed more than this many bytes, some of what
	// scrolled off the virtual screen's top is gone for good.
	maxTrackedBytes = 2 * 1024 * 1024

	shutdownGrace = 2 * time.Second
)

// Terminal is one ephemeral PTY-backed shell session owned by a host
// terminal Manager.
type Terminal struct {
	id  string
	cmd *exec.Cmd
	pty PtyHandle

	mu          sync.Mutex
	screen      vt10x.Terminal
	bytesSeen   int64
	exitCode    *int
	exited      chan struct{}
	releaseOnce sync.Once
}

// Manager tracks every terminal opened on behalf of one session. All
// terminals it owns are killed when the owning session crashes or is
// killed (SPEC_FULL.md §4.5).
type Manager struct {
	log *logging.Logger

	// AllowCreate gates terminal/create the same way hostfs gates path
	// escapes: false under a mode that doesn't permit it without an
	// explicit permission decision (resource-permissioned per §4.5).
	AllowCreate func() bool

	mu        sync.Mutex
	terminals map[string]*Terminal
}

// NewManager returns an empty terminal Manager for one session.
func NewManager(log *logging.Logger, allowCreate func() bool) *Manager {
	if allowCreate == nil {
		allowCreate = func() bool { return true }
	}
	return &Manager{log: log, AllowCreate: allowCreate, terminals: make(map[string]*Terminal)}
}

// CreateTerminal spawns command as a PTY-backed child and returns its
// terminal id. Satisfies acpconn.Host.
func (m *Manager) CreateTerminal(ctx context.Context, command string, args []string, cwd string, env map[string]string) (string, error) {
	if !m.AllowCreate() {
		return "", apperror.PermissionDenied("terminal/create denied by the session's active permission mode")
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = cwd
	cmd.Env = mergeEnv(env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	t := &Terminal{
		id:     uuid.NewString(),
		cmd:    cmd,
		screen: vt10x.New(vt10x.WithSize(termCols, termRows)),
		exited: make(chan struct{}),
	}

	pty, err := startPTY(cmd)
	if err != nil {
		return "", apperror.IO(fmt.Sprintf("failed to start terminal for %q", command), err)
	}
	t.pty = pty

	m.mu.Lock()
	m.terminals[t.id] = t
	m.mu.Unlock()

	go m.readLoop(t)
	go m.waitLoop(t)

	return t.id, nil
}

func (m *Manager) readLoop(t *Terminal) {
	buf := make([]byte, 4096)
	for {
		n, err := t.pty.Read(buf)
		if n > 0 {
			t.mu.Lock()
			_, _ = t.screen.Write(buf[:n])
			t.bytesSeen += int64(n)
			t.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				m.log.Debug("terminal read error", zap.Error(err), zap.String("terminal_id", t.id))
			}
			return
		}
	}
}

func (m *Manager) waitLoop(t *Terminal) {
	err := t.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				code = ws.ExitStatus()
			} else {
				code = 1
			}
		} else {
			code = 1
		}
	}
	t.mu.Lock()
	t.exitCode = &code
	t.mu.Unlock()
	close(t.exited)
}

// KillTerminal sends SIGTERM then SIGKILL to the terminal's process group,
// the same two-phase shutdown every subprocess in this codebase uses.
func (m *Manager) KillTerminal(_ context.Context, terminalID string) error {
	t, ok := m.get(terminalID)
	if !ok {
		return apperror.InvalidState(fmt.Sprintf("unknown terminal id %q", terminalID))
	}
	return killTwoPhase(t.cmd, t.exited)
}

func killTwoPhase(cmd *exec.Cmd, exited <-chan struct{}) error {
	if cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	term, kill := syscall.SIGTERM, syscall.SIGKILL
	signalGroup := func(sig syscall.Signal) {
		if err == nil {
			_ = syscall.Kill(-pgid, sig)
		} else {
			_ = cmd.Process.Signal(sig)
		}
	}

	signalGroup(term)
	select {
	case <-exited:
		return nil
	case <-time.After(shutdownGrace):
		signalGroup(kill)
		return nil
	}
}

// TerminalOutput returns the terminal's current render-ready scrollback:
// plain lines extracted from the virtual screen rather than a raw, possibly
// mid-escape-sequence byte blob (SPEC_FULL.md §4.5).
func (m *Manager) TerminalOutput(_ context.Context, terminalID string) (string, bool, error) {
	t, ok := m.get(terminalID)
	if !ok {
		return "", false, apperror.InvalidState(fmt.Sprintf("unknown terminal id %q", terminalID))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var lines []string
	for row := 0; row < termRows; row++ {
		var chars []rune
		empty := true
		for col := 0; col < termCols; col++ {
			g := t.screen.Cell(col, row)
			if g.Char == 0 {
				chars = append(chars, ' ')
				continue
			}
			empty = false
			chars = append(chars, g.Char)
		}
		if empty && row > 0 && allBlankBelow(t, row) {
			break
		}
		lines = append(lines, strings.TrimRight(string(chars), " "))
	}

	truncated := t.bytesSeen > maxTrackedBytes
	return strings.Join(lines, "\n"), truncated, nil
}

// allBlankBelow reports whether every row from row to termRows-1 is blank,
// used to trim the trailing empty screen rows Output would otherwise return.
func allBlankBelow(t *Terminal, row int) bool {
	for r := row; r < termRows; r++ {
		for c := 0; c < termCols; c++ {
			if t.screen.Cell(c, r).Char != 0 {
				return false
			}
		}
	}
	return true
}

// ReleaseTerminal detaches the terminal from the agent's view and returns
// immediately; the process is reaped asynchronously by waitLoop, which was
// already started at CreateTerminal time (SPEC_FULL.md §9 Open Question 2).
func (m *Manager) ReleaseTerminal(_ context.Context, terminalID string) error {
	t, ok := m.get(terminalID)
	if !ok {
		return apperror.InvalidState(fmt.Sprintf("unknown terminal id %q", terminalID))
	}
	t.releaseOnce.Do(func() {
		m.mu.Lock()
		delete(m.terminals, terminalID)
		m.mu.Unlock()
	})
	return nil
}

// WaitForTerminalExit blocks until the terminal's process has exited and
// returns its exit code.
func (m *Manager) WaitForTerminalExit(ctx context.Context, terminalID string) (*int, error) {
	t, ok := m.get(terminalID)
	if !ok {
		return nil, apperror.InvalidState(fmt.Sprintf("unknown terminal id %q", terminalID))
	}
	select {
	case <-t.exited:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.exitCode, nil
	case <-ctx.Done():
		return nil, apperror.Timeout("wait_for_terminal_exit cancelled")
	}
}

// KillAll terminates every terminal this manager owns, used when the owning
// session transitions to Killed or Crashed (SPEC_FULL.md §4.5).
func (m *Manager) KillAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.terminals))
	for id := range m.terminals {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	ctx := context.Background()
	for _, id := range ids {
		_ = m.KillTerminal(ctx, id)
	}
}

func (m *Manager) get(id string) (*Terminal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.terminals[id]
	return t, ok
}

func mergeEnv(env map[string]string) []string {
	base := make(map[string]string, len(os.Environ())+len(env))
	for _, entry := range os.Environ() {
		if eq := strings.IndexByte(entry, '='); eq >= 0 {
			base[entry[:eq]] = entry[eq+1:]
		}
	}
	for k, v := range env {
		base[k] = v
	}
	merged := make([]string, 0, len(base))
	for k, v := range base {
		merged = append(merged, k+"="+v)
	}
	return merged
}

