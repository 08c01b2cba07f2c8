package acpconn

import (
	"github.com/coder/acp-go-sdk"

	"github.com/raphi011/acpmux/internal/acptypes"
)

// convertUpdate turns an SDK SessionNotification's Update into the local,
// closed mirror (SPEC_FULL.md §4.1, §9). Any tag the SDK has added that this
// switch does not recognize falls through to the Raw arm rather than being
// dropped or panicking.
func convertUpdate(n acp.SessionNotification) acptypes.SessionUpdate {
	u := n.Update

	switch {
	case u.AgentMessageChunk != nil && u.AgentMessageChunk.Content.Text != nil:
		return acptypes.SessionUpdate{
			Kind:         acptypes.UpdateAgentMessageChunk,
			MessageChunk: &acptypes.MessageChunk{Text: u.AgentMessageChunk.Content.Text.Text},
		}

	case u.AgentThoughtChunk != nil && u.AgentThoughtChunk.Content.Text != nil:
		return acptypes.SessionUpdate{
			Kind:         acptypes.UpdateAgentThoughtChunk,
			MessageChunk: &acptypes.MessageChunk{Text: u.AgentThoughtChunk.Content.Text.Text, IsThought: true},
		}

	case u.ToolCall != nil:
		title := ""
		if u.ToolCall.Title != nil {
			title = *u.ToolCall.Title
		}
		status := acptypes.ToolCallPending
		if s := string(u.ToolCall.Status); s != "" {
			status = acptypes.ToolCallStatus(s)
		}
		return acptypes.SessionUpdate{
			Kind: acptypes.UpdateToolCall,
			ToolCall: &acptypes.ToolCall{
				ToolCallID: string(u.ToolCall.ToolCallId),
				Title:      title,
				Status:     status,
				RawInput:   u.ToolCall.RawInput,
			},
		}

	case u.ToolCallUpdate != nil:
		var newStatus *acptypes.ToolCallStatus
		statusText := ""
		if u.ToolCallUpdate.Status != nil {
			statusText = string(*u.ToolCallUpdate.Status)
			s := acptypes.ToolCallStatus(statusText)
			newStatus = &s
		}
		return acptypes.SessionUpdate{
			Kind: acptypes.UpdateToolCallUpdate,
			ToolCallUpdate: &acptypes.ToolCallUpdate{
				ToolCallID: string(u.ToolCallUpdate.ToolCallId),
				StatusText: statusText,
				NewStatus:  newStatus,
			},
		}

	case u.Plan != nil:
		entries := make([]acptypes.PlanEntry, len(u.Plan.Entries))
		for i, e := range u.Plan.Entries {
			entries[i] = acptypes.PlanEntry{
				Content: e.Content,
				Status:  acptypes.PlanEntryStatus(e.Status),
			}
		}
		return acptypes.SessionUpdate{Kind: acptypes.UpdatePlan, Plan: &acptypes.PlanSnapshot{Entries: entries}}

	case u.CurrentModeUpdate != nil:
		return acptypes.SessionUpdate{
			Kind: acptypes.UpdateModeChange,
			Mode: string(u.CurrentModeUpdate.CurrentModeId),
		}
	}

	raw, _ := n.Update.MarshalJSON()
	return acptypes.SessionUpdate{Kind: acptypes.UpdateRaw, Raw: raw}
}

// convertPermissionRequest mirrors an inbound RequestPermissionRequest.
func convertPermissionRequest(p acp.RequestPermissionRequest) acptypes.PermissionRequest {
	title := ""
	if p.ToolCall.Title != nil {
		title = *p.ToolCall.Title
	}
	options := make([]acptypes.PermissionOption, len(p.Options))
	for i, opt := range p.Options {
		options[i] = acptypes.PermissionOption{
			OptionID: string(opt.OptionId),
			Name:     opt.Name,
			Kind:     acptypes.PermissionOptionKind(opt.Kind),
		}
	}
	return acptypes.PermissionRequest{
		SessionID:  string(p.SessionId),
		ToolCallID: string(p.ToolCall.ToolCallId),
		Title:      title,
		Options:    options,
	}
}

// convertDecision turns a local decision back into the SDK's response shape.
func convertDecision(d acptypes.PermissionDecision) acp.RequestPermissionResponse {
	if d.Cancelled || d.Selected == nil {
		return acp.RequestPermissionResponse{
			Outcome: acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}},
		}
	}
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{
			Selected: &acp.RequestPermissionOutcomeSelected{OptionId: acp.PermissionOptionId(*d.Selected)},
		},
	}
}
