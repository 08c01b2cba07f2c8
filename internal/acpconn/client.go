package acpconn

import (
	"context"

	"github.com/coder/acp-go-sdk"
)

// This file implements acp.Client: the inbound request/notification surface
// the SDK dispatches into, one method per JSON-RPC method the agent may call
// on us. Each method either forwards to the injected Host (fs/terminal) or
// to the EventSink (updates, permission decisions).
var _ acp.Client = (*Connection)(nil)

// SessionUpdate handles the `session/update` notification stream: every
// agent_message_chunk, tool_call, plan snapshot, etc. arrives here.
func (c *Connection) SessionUpdate(ctx context.Context, n acp.SessionNotification) error {
	c.sink.OnUpdate(convertUpdate(n))
	return nil
}

// RequestPermission handles `session/request_permission`. The decision is
// delegated to the sink (C3 session state), which enforces the
// single-pending-permission invariant and any active permission-mode
// auto-resolution policy before a human ever sees the prompt.
func (c *Connection) RequestPermission(ctx context.Context, req acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	decision, err := c.sink.OnPermissionRequest(ctx, convertPermissionRequest(req))
	if err != nil {
		return acp.RequestPermissionResponse{}, err
	}
	return convertDecision(decision), nil
}

// ReadTextFile handles `fs/read_text_file`.
func (c *Connection) ReadTextFile(ctx context.Context, req acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	content, err := c.host.ReadTextFile(ctx, req.Path, req.Line, req.Limit)
	if err != nil {
		return acp.ReadTextFileResponse{}, err
	}
	return acp.ReadTextFileResponse{Content: content}, nil
}

// WriteTextFile handles `fs/write_text_file`.
func (c *Connection) WriteTextFile(ctx context.Context, req acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	if err := c.host.WriteTextFile(ctx, req.Path, req.Content); err != nil {
		return acp.WriteTextFileResponse{}, err
	}
	return acp.WriteTextFileResponse{}, nil
}

// CreateTerminal handles `terminal/create`.
func (c *Connection) CreateTerminal(ctx context.Context, req acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	env := make(map[string]string, len(req.Env))
	for _, kv := range req.Env {
		env[kv.Name] = kv.Value
	}
	id, err := c.host.CreateTerminal(ctx, req.Command, req.Args, req.Cwd, env)
	if err != nil {
		return acp.CreateTerminalResponse{}, err
	}
	return acp.CreateTerminalResponse{TerminalId: id}, nil
}

// KillTerminalCommand handles `terminal/kill`.
func (c *Connection) KillTerminalCommand(ctx context.Context, req acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	if err := c.host.KillTerminal(ctx, req.TerminalId); err != nil {
		return acp.KillTerminalCommandResponse{}, err
	}
	return acp.KillTerminalCommandResponse{}, nil
}

// TerminalOutput handles `terminal/output`.
func (c *Connection) TerminalOutput(ctx context.Context, req acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	output, truncated, err := c.host.TerminalOutput(ctx, req.TerminalId)
	if err != nil {
		return acp.TerminalOutputResponse{}, err
	}
	return acp.TerminalOutputResponse{Output: output, Truncated: truncated}, nil
}

// ReleaseTerminal handles `terminal/release`. Per SPEC_FULL.md §9 Open
// Question 2, the response is returned as soon as the terminal is detached
// from the agent's view; the underlying process is reaped asynchronously by
// the host handler, not awaited here.
func (c *Connection) ReleaseTerminal(ctx context.Context, req acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	if err := c.host.ReleaseTerminal(ctx, req.TerminalId); err != nil {
		return acp.ReleaseTerminalResponse{}, err
	}
	return acp.ReleaseTerminalResponse{}, nil
}

// WaitForTerminalExit handles `terminal/wait_for_exit`.
func (c *Connection) WaitForTerminalExit(ctx context.Context, req acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	exitCode, err := c.host.WaitForTerminalExit(ctx, req.TerminalId)
	if err != nil {
		return acp.WaitForTerminalExitResponse{}, err
	}
	return acp.WaitForTerminalExitResponse{ExitCode: exitCode}, nil
}
