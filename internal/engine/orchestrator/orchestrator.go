// Package orchestrator implements the Event Orchestrator: the single
// serialized emission point merging the Artifact Pipeline's
// artifact-update events with the Status Narrator's queued
// status-update messages in causal order. Forcing both producers
// through one serial sink eliminates ordering races between async
// narrator writes and artifact deltas.
package orchestrator

import (
	"sync"
	"time"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/convo"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/events"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/task"
	"github.com/cklxx-elephant-ai/a2aengine/internal/engine/artifactpipe"
	"github.com/cklxx-elephant-ai/a2aengine/internal/llm"
)

// StatusQueue is the FIFO the narrator enqueues status messages onto
// and the Orchestrator drains in emission order. It implements
// narrator.Sink.
type StatusQueue struct {
	mu    sync.Mutex
	items []*convo.Message
}

// NewStatusQueue builds an empty StatusQueue.
func NewStatusQueue() *StatusQueue {
	return &StatusQueue{}
}

// Enqueue implements narrator.Sink.
func (q *StatusQueue) Enqueue(m *convo.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, m)
}

// drain empties the queue and returns everything that was queued, in
// FIFO order.
func (q *StatusQueue) drain() []*convo.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Orchestrator merges one Pipeline's artifact-update events with one
// StatusQueue's drained narrations into a single emission order for a
// single sendStream call.
type Orchestrator struct {
	seq       *events.SeqCounter
	queue     *StatusQueue
	pipeline  *artifactpipe.Pipeline
	taskID    string
	contextID string
}

// New builds an Orchestrator. seq, queue, and pipeline are shared with
// the rest of the handler's per-request state for the duration of one
// sendStream call.
func New(seq *events.SeqCounter, queue *StatusQueue, pipeline *artifactpipe.Pipeline, taskID, contextID string) *Orchestrator {
	return &Orchestrator{seq: seq, queue: queue, pipeline: pipeline, taskID: taskID, contextID: contextID}
}

// ArtifactFinalizedFunc is called synchronously the moment the
// pipeline observes a terminal delta for toolCallID, before the
// corresponding artifact-update event is emitted to the sink. The
// handler uses it to run its per-step hook: finalize the artifact
// descriptor and stop the narrator.
type ArtifactFinalizedFunc func(toolCallID string)

// TextDeltaFunc receives raw text-delta content as it streams by, so
// the handler can accumulate it into an agent message for history.
// LLM text is never surfaced as a subscriber-visible event; it
// belongs in the task's history as persisted messages.
type TextDeltaFunc func(delta string)

// Run drains stream to completion (normal end or context
// cancellation), calling emit for every artifact-update and
// status-update event produced along the way, and returns the first
// error the pipeline raised (e.g. malformed tool-argument JSON).
//
// Each artifact-update emission is immediately followed by a full
// FIFO drain of the status queue; a final drain runs once the stream
// ends, so any narration still queued at cancellation or completion
// time still flushes. Text deltas and other tools' events also drain;
// a createArtifact call's own non-emitting events (tool-input-start,
// tool-call) do not.
func (o *Orchestrator) Run(
	stream <-chan llm.StreamEvent,
	emit func(events.Event),
	onArtifactFinalized ArtifactFinalizedFunc,
	onTextDelta TextDeltaFunc,
) error {
	drainQueue := func() {
		for _, m := range o.queue.drain() {
			status := task.StatusSnapshot{State: task.StatusWorking, Message: m, Timestamp: m.Timestamp}
			emit(events.NewStatusUpdateEvent(o.seq, time.Now(), o.taskID, o.contextID, status, false))
		}
	}

	artifactCalls := make(map[string]bool)
	for raw := range stream {
		if raw.Kind == llm.StreamEventTextDelta {
			if onTextDelta != nil && raw.TextDelta != "" {
				onTextDelta(raw.TextDelta)
			}
			drainQueue()
			continue
		}

		if raw.Kind == llm.StreamEventToolInputStart && raw.ToolName == artifactpipe.CreateArtifactTool {
			artifactCalls[raw.ToolCallID] = true
		}
		out, ok, err := o.pipeline.Handle(raw, time.Now())
		if err != nil {
			return err
		}
		if !ok {
			if !artifactCalls[raw.ToolCallID] {
				drainQueue()
			}
			continue
		}
		if out.LastChunk && onArtifactFinalized != nil {
			onArtifactFinalized(raw.ToolCallID)
		}
		emit(out)
		drainQueue()
	}
	drainQueue()
	return nil
}
