package a2a

import (
	"time"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/artifact"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/convo"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/events"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/task"
)

// This file builds the A2A wire payload shapes:
//
//	task:            {kind:"task", id, contextId, status, history?, artifacts?}
//	message:         {kind:"message", messageId, contextId, taskId?, role, parts[], metadata?}
//	status-update:   {kind:"status-update", taskId, contextId, status, final}
//	artifact-update: {kind:"artifact-update", taskId, contextId, artifact, lastChunk}
//
// Plain map[string]any literals are used rather than dedicated structs
// so each builder states its field list one-for-one, instead of
// drifting behind a struct's omitempty tag set.

func wirePart(p convo.Part) map[string]any {
	out := map[string]any{"kind": string(p.Kind)}
	switch p.Kind {
	case convo.PartKindText:
		out["text"] = p.Text
	case convo.PartKindFunctionCall:
		out["id"] = p.CallID
		out["name"] = p.CallName
		out["args"] = p.CallArgs
	case convo.PartKindFunctionResponse:
		out["id"] = p.CallID
		out["response"] = p.Response
	case convo.PartKindOpaque:
		out["opaqueType"] = p.OpaqueType
		out["opaqueData"] = p.OpaqueData
	}
	return out
}

func wireParts(parts []convo.Part) []map[string]any {
	out := make([]map[string]any, len(parts))
	for i, p := range parts {
		out[i] = wirePart(p)
	}
	return out
}

func wireMessage(m *convo.Message) map[string]any {
	if m == nil {
		return nil
	}
	out := map[string]any{
		"messageId": m.ID,
		"contextId": m.ContextID,
		"role":      string(m.Role),
		"parts":     wireParts(m.Parts),
	}
	if m.TaskID != "" {
		out["taskId"] = m.TaskID
	}
	if len(m.Metadata) > 0 {
		out["metadata"] = m.Metadata
	}
	return out
}

func wireArtifactPart(p artifact.Part) map[string]any {
	out := map[string]any{"text": p.Text}
	if len(p.Metadata) > 0 {
		out["metadata"] = p.Metadata
	}
	return out
}

func wireArtifact(a *artifact.Artifact) map[string]any {
	if a == nil {
		return nil
	}
	parts := make([]map[string]any, len(a.Parts))
	for i, p := range a.Parts {
		parts[i] = wireArtifactPart(p)
	}
	out := map[string]any{
		"artifactId": a.ID,
		"name":       a.Name,
		"parts":      parts,
	}
	if a.Description != "" {
		out["description"] = a.Description
	}
	return out
}

func wireStatus(s task.StatusSnapshot) map[string]any {
	out := map[string]any{
		"state":     string(s.State),
		"timestamp": s.Timestamp.Format(time.RFC3339),
	}
	if s.Message != nil {
		out["message"] = wireMessage(s.Message)
	}
	return out
}

func wireTask(t *task.Task) map[string]any {
	out := map[string]any{
		"kind":      "task",
		"id":        t.ID,
		"contextId": t.ContextID,
		"status":    wireStatus(t.Status),
	}
	if len(t.History) > 0 {
		hist := make([]map[string]any, len(t.History))
		for i, m := range t.History {
			hist[i] = wireMessage(m)
		}
		out["history"] = hist
	}
	if len(t.Artifacts) > 0 {
		arts := make([]map[string]any, len(t.Artifacts))
		for i, a := range t.Artifacts {
			arts[i] = wireArtifact(a)
		}
		out["artifacts"] = arts
	}
	return out
}

// wireEvent renders one orchestrator event in its SSE wire shape.
func wireEvent(ev events.Event) map[string]any {
	switch ev.Kind {
	case events.KindTask:
		return wireTask(ev.TaskSnapshot)
	case events.KindMessage:
		out := wireMessage(ev.Message)
		out["kind"] = "message"
		return out
	case events.KindStatusUpdate:
		return map[string]any{
			"kind":      "status-update",
			"taskId":    ev.TaskID,
			"contextId": ev.ContextID,
			"status":    wireStatus(*ev.Status),
			"final":     ev.Final,
		}
	case events.KindArtifactUpdate:
		return map[string]any{
			"kind":      "artifact-update",
			"taskId":    ev.TaskID,
			"contextId": ev.ContextID,
			"artifact":  wireArtifact(ev.Artifact),
			"lastChunk": ev.LastChunk,
		}
	default:
		return map[string]any{"kind": string(ev.Kind)}
	}
}
