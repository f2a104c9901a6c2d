// Package llm defines the opaque streaming language-model client port
// the Request Handler drives in stage 1 (non-streaming routing call)
// and stage 2/3 (streaming tool-calling call). The provider itself is
// out of scope for this engine; only this port and a deterministic
// mock implementation live here.
package llm

import (
	"context"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/capability"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/convo"
)

// ToolChoiceMode controls whether and how the model is steered toward
// calling a specific tool.
type ToolChoiceMode string

const (
	// ToolChoiceAuto lets the model decide whether to call a tool.
	ToolChoiceAuto ToolChoiceMode = "auto"
	// ToolChoiceRequired forces the model to call ForceName, used by
	// stage 3's forced-artifact path.
	ToolChoiceRequired ToolChoiceMode = "required"
)

// ToolChoice steers tool selection for a Stream call.
type ToolChoice struct {
	Mode      ToolChoiceMode
	ForceName string
}

// CompleteRequest is stage 1's single non-streaming routing call.
type CompleteRequest struct {
	History []*convo.Message
	Tools   capability.Set
}

// CompleteResponse is the routing call's outcome. Exactly one of Text
// or ToolCall is meaningful: when both are present the task branch
// (ToolCall) wins and Text is discarded by the caller.
type CompleteResponse struct {
	Text     string
	ToolCall *capability.Call
}

// StreamRequest is stage 2/3's streaming tool-calling call.
type StreamRequest struct {
	History    []*convo.Message
	Tools      capability.Set
	ToolChoice ToolChoice
}

// StreamEventKind discriminates the streamed delta kinds stage 2's
// Event Orchestrator consumes.
type StreamEventKind string

const (
	StreamEventTextDelta      StreamEventKind = "text-delta"
	StreamEventToolInputStart StreamEventKind = "tool-input-start"
	StreamEventToolCall       StreamEventKind = "tool-call"
	StreamEventToolInputDelta StreamEventKind = "tool-input-delta"
)

// StreamEvent is one delta from a streaming call.
type StreamEvent struct {
	Kind StreamEventKind

	// StreamEventTextDelta
	TextDelta string

	// StreamEventToolInputStart / StreamEventToolCall / StreamEventToolInputDelta
	ToolCallID string
	ToolName   string

	// StreamEventToolCall: parsed final arguments.
	ToolArgs map[string]any

	// StreamEventToolInputDelta
	ContentDelta string
	IsLast       bool
}

// Client is the opaque streaming LLM client port.
type Client interface {
	// Complete runs stage 1's single routing call.
	Complete(ctx context.Context, req CompleteRequest) (CompleteResponse, error)

	// Stream runs a streaming call, returning a channel of deltas
	// closed when the stream ends (normally or via ctx cancellation).
	// A non-nil error is returned only for an error preceding any
	// streaming (e.g. the request was rejected outright); errors
	// encountered mid-stream are reported by closing the channel and
	// the caller observing ctx.Err()/context.Cause(ctx).
	Stream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error)
}
