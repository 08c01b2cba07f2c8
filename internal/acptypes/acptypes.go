// Package acptypes is the local, closed mirror of the ACP wire shapes this
// client cares about (SPEC_FULL.md §4.1, §9 "ACP types marked non-exhaustive
// in the reference library → local mirror"). github.com/coder/acp-go-sdk
// intentionally leaves its update/option/outcome types open for protocol
// growth; everything that crosses from the SDK into C2/C3/C5 is converted
// into one of the tagged variants below first, so a new upstream variant
// shows up as an additional Raw entry instead of silently breaking an
// exhaustive switch somewhere deep in session state handling.
package acptypes

import "encoding/json"

// UpdateKind tags the payload carried by a SessionUpdate.
type UpdateKind string

const (
	UpdateAgentMessageChunk UpdateKind = "agent_message_chunk"
	UpdateAgentThoughtChunk UpdateKind = "agent_thought_chunk"
	UpdateToolCall          UpdateKind = "tool_call"
	UpdateToolCallUpdate    UpdateKind = "tool_call_update"
	UpdatePlan              UpdateKind = "plan"
	UpdateModeChange        UpdateKind = "current_mode_update"
	UpdateRaw               UpdateKind = "raw"
)

// ToolCallStatus is the closed set of lifecycle states a tool call passes
// through (SPEC_FULL.md §3 Transcript ToolCall.status).
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
)

// PlanEntryStatus is the closed set of plan-step states.
type PlanEntryStatus string

const (
	PlanPending    PlanEntryStatus = "pending"
	PlanInProgress PlanEntryStatus = "in_progress"
	PlanCompleted  PlanEntryStatus = "completed"
)

// SessionUpdate is the locally-mirrored, exhaustively-switchable form of an
// inbound `session/update` notification's `params.update` object.
type SessionUpdate struct {
	Kind UpdateKind

	MessageChunk   *MessageChunk
	ToolCall       *ToolCall
	ToolCallUpdate *ToolCallUpdate
	Plan           *PlanSnapshot
	Mode           string

	// Raw holds the untouched JSON for an unrecognized sessionUpdate tag, so
	// the session can still retain it without the codec ever rejecting the
	// message.
	Raw json.RawMessage
}

// MessageChunk carries one streamed chunk of agent output text. IsThought
// distinguishes agent_thought_chunk (reasoning) from agent_message_chunk.
type MessageChunk struct {
	Text      string
	IsThought bool
}

// ToolCall is the first notification in a tool call's lifecycle.
type ToolCall struct {
	ToolCallID  string
	Title       string
	Description string
	Status      ToolCallStatus
	RawInput    json.RawMessage
}

// ToolCallUpdate mutates a previously-seen ToolCall by id.
type ToolCallUpdate struct {
	ToolCallID string
	StatusText string
	NewStatus  *ToolCallStatus
}

// PlanSnapshot replaces the session's previously recorded plan.
type PlanSnapshot struct {
	Entries []PlanEntry
}

// PlanEntry is one step of a plan snapshot.
type PlanEntry struct {
	Content string
	Status  PlanEntryStatus
}

// PermissionOptionKind is the closed set of option kinds a permission
// request can offer (SPEC_FULL.md §4.1).
type PermissionOptionKind string

const (
	OptionAllowOnce    PermissionOptionKind = "allow_once"
	OptionAllowAlways  PermissionOptionKind = "allow_always"
	OptionRejectOnce   PermissionOptionKind = "reject_once"
	OptionRejectAlways PermissionOptionKind = "reject_always"
)

// IsAllow reports whether the option kind represents an allow decision.
func (k PermissionOptionKind) IsAllow() bool {
	return k == OptionAllowOnce || k == OptionAllowAlways
}

// IsReject reports whether the option kind represents a reject decision.
func (k PermissionOptionKind) IsReject() bool {
	return k == OptionRejectOnce || k == OptionRejectAlways
}

// PermissionOption is one labeled choice offered to the user.
type PermissionOption struct {
	OptionID string
	Name     string
	Kind     PermissionOptionKind
}

// PermissionRequest is the locally-mirrored form of an inbound
// `session/request_permission` request.
type PermissionRequest struct {
	SessionID  string
	ToolCallID string
	Title      string
	Options    []PermissionOption
}

// PermissionDecision is the locally-mirrored outcome sent back to the agent:
// either a selected option or a cancellation.
type PermissionDecision struct {
	Selected  *string // OptionID, nil if Cancelled
	Cancelled bool
}
