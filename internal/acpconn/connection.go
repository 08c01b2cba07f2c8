// Package acpconn implements C2 Agent Connection: it owns one child agent
// process and its stdio, performs the ACP handshake, correlates outbound
// requests with responses, and forwards inbound requests/notifications to
// the host handler and the session event sink.
//
// Grounded on the teacher's internal/agentctl/server/adapter/acp_adapter.go
// (wraps acp.NewClientSideConnection and the Initialize/NewSession/Prompt/Cancel
// flow; that file's permission-synthesizes-tool-call-event workaround is not
// carried over, permission requests reach the sink unchanged) and
// internal/agent/agentctl/launcher/launcher.go (subprocess spawn semantics:
// Setpgid, Pdeathsig, two-phase SIGTERM→SIGKILL).
package acpconn

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coder/acp-go-sdk"

	"github.com/raphi011/acpmux/internal/agentkind"
	"github.com/raphi011/acpmux/internal/apperror"
	"github.com/raphi011/acpmux/internal/acptypes"
	"github.com/raphi011/acpmux/internal/logging"
)

// McpServer is forwarded verbatim to the agent in session/new.
type McpServer struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// Host is the subset of the ACP inbound request surface the connection
// delegates to C5 (kept SDK-agnostic so hostfs/hostterm never need to import
// the acp-go-sdk directly).
type Host interface {
	ReadTextFile(ctx context.Context, path string, line, limit *int) (string, error)
	WriteTextFile(ctx context.Context, path, content string) error
	CreateTerminal(ctx context.Context, command string, args []string, cwd string, env map[string]string) (terminalID string, err error)
	KillTerminal(ctx context.Context, terminalID string) error
	TerminalOutput(ctx context.Context, terminalID string) (output string, truncated bool, err error)
	ReleaseTerminal(ctx context.Context, terminalID string) error
	WaitForTerminalExit(ctx context.Context, terminalID string) (exitCode *int, err error)
}

// EventSink receives everything the connection observes once the handshake
// has completed: session updates and permission requests needing a decision.
type EventSink interface {
	OnUpdate(update acptypes.SessionUpdate)
	OnPermissionRequest(ctx context.Context, req acptypes.PermissionRequest) (acptypes.PermissionDecision, error)
	OnCrashed(err error)
}

// Connection owns one spawned agent subprocess plus its ACP session.
type Connection struct {
	log  *logging.Logger
	host Host
	sink EventSink

	cmd   *exec.Cmd
	stdin io.Closer
	conn  *acp.ClientSideConnection

	sessionID acp.SessionId

	// exited is closed exactly once, by watchExit, the sole goroutine
	// allowed to call cmd.Wait (single-owner-of-Wait invariant, matching
	// hostterm.Manager's waitLoop/exited pair). Close only signals the
	// process and reads this channel; it never calls Wait itself.
	exited  chan struct{}
	closing atomic.Bool
}

// shutdownGrace is the delay between SIGTERM and SIGKILL on a hard kill,
// matching the two-phase shutdown used for every subprocess this codebase
// owns (agent connections and host-handler terminals alike).
const shutdownGrace = 2 * time.Second

// Spawn launches the agent subprocess for kind in cwd and wires up the ACP
// transport. It does not yet perform the initialize/session-new handshake;
// call Handshake for that once the caller is ready to observe its events.
func Spawn(ctx context.Context, kind agentkind.Kind, cwd string, log *logging.Logger, host Host, sink EventSink) (*Connection, error) {
	spec, ok := agentkind.Lookup(string(kind))
	if !ok {
		return nil, apperror.InvalidState(fmt.Sprintf("unknown agent kind %q", kind))
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGTERM}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperror.IO("failed to open agent stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperror.IO("failed to open agent stdout", err)
	}
	cmd.Stderr = nil // discarded; forwarding stderr to the log sink is left to a future log-file writer, out of scope here

	if err := cmd.Start(); err != nil {
		return nil, apperror.IO(fmt.Sprintf("failed to start agent %q", spec.Command), err)
	}

	c := &Connection{log: log, host: host, sink: sink, cmd: cmd, stdin: stdin, exited: make(chan struct{})}
	c.conn = acp.NewClientSideConnection(c, stdin, stdout)

	go c.watchExit()

	return c, nil
}

// watchExit is the single goroutine allowed to call cmd.Wait (the same
// single-owner-of-Wait invariant _teachercopy/process_ref/runner.go's
// waitLoop documents: "each process has exactly one wait() goroutine").
// It always closes exited, then reports a crash to the sink unless Close
// already initiated a clean shutdown.
func (c *Connection) watchExit() {
	err := c.cmd.Wait()
	close(c.exited)

	if c.closing.Load() || err == nil {
		return
	}
	c.sink.OnCrashed(apperror.Transport("agent process exited", err))
}

// Handshake performs `initialize` then `session/new`, in that order, and
// records the assigned sessionId (S1 in SPEC_FULL.md §8).
func (c *Connection) Handshake(ctx context.Context, cwd string, mcpServers []McpServer) error {
	initResp, err := c.conn.Initialize(ctx, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientCapabilities: acp.ClientCapabilities{
			Fs:       acp.FileSystemCapability{ReadTextFile: true, WriteTextFile: true},
			Terminal: true,
		},
		ClientInfo: &acp.Implementation{Name: "acpmux", Version: "0.1.0"},
	})
	if err != nil {
		return apperror.Protocol("initialize handshake failed", err)
	}
	_ = initResp

	resp, err := c.conn.NewSession(ctx, acp.NewSessionRequest{
		Cwd:        cwd,
		McpServers: toACPMcpServers(mcpServers),
	})
	if err != nil {
		return apperror.Protocol("session/new failed", err)
	}
	c.sessionID = resp.SessionId
	return nil
}

// SessionID returns the agent-assigned session id, empty until Handshake
// completes successfully.
func (c *Connection) SessionID() string { return string(c.sessionID) }

// Prompt sends session/prompt with a single text content block and returns
// the stop reason, or a refusal flag per §9 Open Question 3.
func (c *Connection) Prompt(ctx context.Context, text string) (stopReason string, refusal bool, err error) {
	resp, err := c.conn.Prompt(ctx, acp.PromptRequest{
		SessionId: c.sessionID,
		Prompt:    []acp.ContentBlock{acp.TextBlock(text)},
	})
	if err != nil {
		return "", false, apperror.Transport("session/prompt failed", err)
	}
	reason := string(resp.StopReason)
	return reason, reason == "refusal", nil
}

// Cancel sends the best-effort session/cancel notification. Agents are not
// required to honor it (SPEC_FULL.md §5); the real cancellation workaround
// is Clear, handled at the session-manager level.
func (c *Connection) Cancel(ctx context.Context) error {
	return c.conn.Cancel(ctx, acp.CancelNotification{SessionId: c.sessionID})
}

// Close tears the connection down: marks the shutdown as clean so watchExit
// does not report it as a crash, closes stdin (the agent observes EOF and
// exits), waits briefly on the exited channel watchExit closes, then kills
// the process group if it has not exited. It never calls cmd.Wait itself —
// watchExit is the sole owner of that call.
func (c *Connection) Close() error {
	if c.cmd.Process == nil {
		return nil
	}

	c.closing.Store(true)
	_ = c.stdin.Close()

	select {
	case <-c.exited:
		return nil
	case <-time.After(shutdownGrace):
	}

	pgid, err := syscall.Getpgid(c.cmd.Process.Pid)
	if err != nil {
		return c.cmd.Process.Kill()
	}
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		return c.cmd.Process.Kill()
	}

	select {
	case <-c.exited:
		return nil
	case <-time.After(shutdownGrace):
		return syscall.Kill(-pgid, syscall.SIGKILL)
	}
}

func toACPMcpServers(servers []McpServer) []acp.McpServer {
	out := make([]acp.McpServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, acp.McpServer{
			Stdio: &acp.McpServerStdio{Name: s.Name, Command: s.Command, Args: append([]string{}, s.Args...)},
		})
	}
	return out
}
