// Package events defines the single flat Event type emitted by the
// Event Orchestrator to sendStream subscribers, and the monotonic
// sequence counter used to order them.
//
// A single struct with a Kind discriminator is used instead of one
// concrete type per wire event: subscribers only ever see four kinds
// and a shared struct keeps the orchestrator's merge logic from having
// to type-switch across a growing interface hierarchy.
package events

import (
	"sync/atomic"
	"time"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/artifact"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/convo"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/task"
)

// Kind discriminates the four A2A wire event kinds.
type Kind string

const (
	KindTask          Kind = "task"
	KindMessage       Kind = "message"
	KindStatusUpdate  Kind = "status-update"
	KindArtifactUpdate Kind = "artifact-update"
)

// SeqCounter hands out monotonically increasing sequence numbers used
// to order events within a single sendStream call.
type SeqCounter struct {
	counter atomic.Uint64
}

// Next returns the next sequence number, starting at 1.
func (c *SeqCounter) Next() uint64 {
	return c.counter.Add(1)
}

// Event is the single emitted type for all four A2A wire event kinds.
type Event struct {
	Kind      Kind
	Seq       uint64
	Timestamp time.Time

	TaskID    string
	ContextID string

	// KindTask
	TaskSnapshot *task.Task

	// KindMessage
	Message *convo.Message

	// KindStatusUpdate
	Status *task.StatusSnapshot
	Final  bool

	// KindArtifactUpdate
	Artifact  *artifact.Artifact
	LastChunk bool
}

// NewTaskEvent builds a KindTask event carrying the initial task
// snapshot.
func NewTaskEvent(seq *SeqCounter, now time.Time, t *task.Task) Event {
	return Event{
		Kind:         KindTask,
		Seq:          seq.Next(),
		Timestamp:    now,
		TaskID:       t.ID,
		ContextID:    t.ContextID,
		TaskSnapshot: t,
	}
}

// NewMessageEvent builds a KindMessage event (a direct-reply agent
// message, not attached to any task).
func NewMessageEvent(seq *SeqCounter, now time.Time, m *convo.Message) Event {
	return Event{
		Kind:      KindMessage,
		Seq:       seq.Next(),
		Timestamp: now,
		TaskID:    m.TaskID,
		ContextID: m.ContextID,
		Message:   m,
	}
}

// NewStatusUpdateEvent builds a KindStatusUpdate event. final marks
// the terminal status-update that ends the stream.
func NewStatusUpdateEvent(seq *SeqCounter, now time.Time, taskID, contextID string, status task.StatusSnapshot, final bool) Event {
	s := status
	return Event{
		Kind:      KindStatusUpdate,
		Seq:       seq.Next(),
		Timestamp: now,
		TaskID:    taskID,
		ContextID: contextID,
		Status:    &s,
		Final:     final,
	}
}

// NewArtifactUpdateEvent builds a KindArtifactUpdate event carrying a
// progressive snapshot of the in-flight artifact.
func NewArtifactUpdateEvent(seq *SeqCounter, now time.Time, taskID, contextID string, a artifact.Artifact, lastChunk bool) Event {
	return Event{
		Kind:      KindArtifactUpdate,
		Seq:       seq.Next(),
		Timestamp: now,
		TaskID:    taskID,
		ContextID: contextID,
		Artifact:  &a,
		LastChunk: lastChunk,
	}
}
