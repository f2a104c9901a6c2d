// Package task defines the Task lifecycle state machine and the Store
// port the engine persists it through.
package task

import (
	"context"
	"time"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/artifact"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/convo"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusSubmitted     Status = "submitted"
	StatusWorking       Status = "working"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusCanceled      Status = "canceled"
	StatusInputRequired Status = "input-required"
)

// IsTerminal reports whether s rejects further transitions.
// input-required is deliberately NOT terminal: it is a side-state
// resumed by the next user message. No path in this engine currently
// writes it.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// StatusSnapshot is the embedded status object carried on Task and on
// status-update wire events: state, optional narration/result message,
// and the timestamp of the last transition.
type StatusSnapshot struct {
	State     Status          `json:"state"`
	Message   *convo.Message  `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Task is a unit of goal-directed work produced by stage 2 of the
// Request Handler.
type Task struct {
	ID        string `json:"id"`
	ContextID string `json:"contextId"`

	Status StatusSnapshot `json:"status"`

	// History is the chronological list of messages attached to this
	// task, including status narrations, ordered strictly by message
	// timestamp with insertion order breaking ties.
	History []*convo.Message `json:"history,omitempty"`

	// Artifacts is the list of artifacts attached to this task.
	Artifacts []*artifact.Artifact `json:"artifacts,omitempty"`

	// AgentPreset/ToolPreset name a capability preset. They are stored
	// and returned with the task; stage 2 takes its tools from the
	// request and does not read them. Additive bookkeeping, not part of
	// the state machine itself.
	AgentPreset string `json:"agentPreset,omitempty"`
	ToolPreset  string `json:"toolPreset,omitempty"`

	CurrentIteration int     `json:"currentIteration,omitempty"`
	TokensUsed       int     `json:"tokensUsed,omitempty"`
	CostUSD          float64 `json:"costUsd,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep-enough copy of t so a caller can never mutate a
// Store's internal state through a returned reference — the
// copy-on-return discipline used throughout this codebase.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.Status.Message = t.Status.Message.Clone()
	if t.History != nil {
		out.History = make([]*convo.Message, len(t.History))
		for i, m := range t.History {
			out.History[i] = m.Clone()
		}
	}
	if t.Artifacts != nil {
		out.Artifacts = make([]*artifact.Artifact, len(t.Artifacts))
		for i, a := range t.Artifacts {
			out.Artifacts[i] = a.Clone()
		}
	}
	return &out
}

// TransitionOptions customize a SetStatus call.
type TransitionOptions struct {
	Message *convo.Message
}

// TransitionOption mutates TransitionOptions.
type TransitionOption func(*TransitionOptions)

// WithStatusMessage attaches a message to the transition (a status
// narration, a direct-reply text, or a final failure/cancellation
// message).
func WithStatusMessage(m *convo.Message) TransitionOption {
	return func(o *TransitionOptions) { o.Message = m }
}

// ApplyTransitionOptions folds opts into a TransitionOptions value.
func ApplyTransitionOptions(opts []TransitionOption) TransitionOptions {
	var o TransitionOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Store is the Task Service's persistence port. The sticky-terminal
// transition guard is not part of it; taskservice.Service.Transition
// applies that guard before calling SetStatus.
type Store interface {
	// Create inserts a new task in StatusSubmitted with initialMessage
	// attached to its history.
	Create(ctx context.Context, contextID string, initialMessage *convo.Message) (*Task, error)

	// Get retrieves a task by id, returning a defensive copy.
	Get(ctx context.Context, taskID string) (*Task, error)

	// SetStatus applies a transition and records the optional status
	// message. It does not check whether the task is already terminal.
	SetStatus(ctx context.Context, taskID string, next Status, opts ...TransitionOption) (*Task, error)

	// AttachMessage appends m to the task's history (append-only).
	AttachMessage(ctx context.Context, taskID string, m *convo.Message) error

	// CreateArtifact inserts or replaces an artifact, idempotent on
	// (taskID, artifactID).
	CreateArtifact(ctx context.Context, taskID string, a *artifact.Artifact) error

	// RecentStatusMessages returns up to n most recent status-message
	// entries for taskID, newest first, for the narrator's de-dup
	// window.
	RecentStatusMessages(ctx context.Context, taskID string, n int) ([]*convo.Message, error)

	// RecordUsage adds tokensDelta/costDelta to the task's running
	// TokensUsed/CostUSD progress counters and bumps CurrentIteration
	// by one. Additive bookkeeping only; never gates a transition.
	RecordUsage(ctx context.Context, taskID string, tokensDelta int, costDelta float64) error

	// Delete removes a task and its attached data.
	Delete(ctx context.Context, taskID string) error
}
