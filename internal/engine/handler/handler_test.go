package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/convo"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/events"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/task"
	"github.com/cklxx-elephant-ai/a2aengine/internal/engine/taskservice"
	"github.com/cklxx-elephant-ai/a2aengine/internal/llm"
	"github.com/cklxx-elephant-ai/a2aengine/internal/llm/mockllm"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/apperrors"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/metrics"
)

func newTestHandler(client *mockllm.Client) (*Handler, *memStore) {
	store := newMemStore()
	cfg := DefaultConfig()
	cfg.Narrator.Interval = time.Hour // never ticks during a test
	h := New(Deps{
		Tasks:   taskservice.New(store),
		Convo:   store,
		Client:  client,
		Config:  cfg,
		Metrics: metrics.Noop(),
	})
	return h, store
}

func userMessage(text string) *convo.Message {
	return &convo.Message{Role: convo.RoleUser, Parts: []convo.Part{convo.TextPart(text)}}
}

func drain(t *testing.T, ch <-chan events.Event, timeout time.Duration) []events.Event {
	t.Helper()
	var out []events.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("timed out draining event stream")
		}
	}
}

// Scenario: direct reply. Stage 1 answers without calling createTask;
// no task is ever created.
func TestSendStream_DirectReply(t *testing.T) {
	client := mockllm.New().WithComplete(llm.CompleteResponse{Text: "hi there"}, nil)
	h, _ := newTestHandler(client)

	ch, err := h.SendStream(context.Background(), SendRequest{Message: userMessage("hello")})
	require.NoError(t, err)
	evs := drain(t, ch, 2*time.Second)

	require.Len(t, evs, 1)
	assert.Equal(t, events.KindMessage, evs[0].Kind)
	assert.Equal(t, "hi there", evs[0].Message.Parts[0].Text)
}

// Scenario: task with a naturally produced artifact (stage 2 alone
// emits a complete createArtifact call, so stage 3's forced path never
// runs).
func TestSendStream_NaturalArtifact(t *testing.T) {
	client := mockllm.New().
		WithComplete(llm.CompleteResponse{ToolCall: mockllm.CreateTaskCall(nil)}, nil).
		WithStream([]llm.StreamEvent{
			{Kind: llm.StreamEventTextDelta, TextDelta: "working on it"},
			{Kind: llm.StreamEventToolInputStart, ToolCallID: "call-1", ToolName: "createArtifact"},
			{Kind: llm.StreamEventToolCall, ToolCallID: "call-1", ToolArgs: map[string]any{"name": "report.md"}},
			{Kind: llm.StreamEventToolInputDelta, ToolCallID: "call-1", ContentDelta: "# Report\n", IsLast: false},
			{Kind: llm.StreamEventToolInputDelta, ToolCallID: "call-1", ContentDelta: "done.", IsLast: true},
		}, nil)
	h, _ := newTestHandler(client)

	ch, err := h.SendStream(context.Background(), SendRequest{Message: userMessage("write a report")})
	require.NoError(t, err)
	evs := drain(t, ch, 2*time.Second)

	require.NotEmpty(t, evs)
	assert.Equal(t, events.KindTask, evs[0].Kind)

	var artifactEvents, lastChunks int
	var final *events.Event
	for i := range evs {
		ev := evs[i]
		if ev.Kind == events.KindArtifactUpdate {
			artifactEvents++
			if ev.LastChunk {
				lastChunks++
			}
		}
		if ev.Kind == events.KindStatusUpdate && ev.Final {
			final = &evs[i]
		}
	}
	assert.Equal(t, 2, artifactEvents, "two progressive artifact-update events expected")
	assert.Equal(t, 1, lastChunks, "exactly one lastChunk emission per artifact stream")
	require.NotNil(t, final, "a terminal status-update always ends the stream")
	assert.Equal(t, task.StatusCompleted, final.Status.State)
	assert.NotNil(t, final.Status.Message)

	stored, err := h.GetTask(context.Background(), final.TaskID, 0)
	require.NoError(t, err)
	assert.Positive(t, stored.TokensUsed, "stage 2's prompt+reply tokens should accumulate onto the task")
}

// Scenario: task where stage 2 produces no artifact, so stage 3 forces
// one via ToolChoiceRequired.
func TestSendStream_ForcedArtifact(t *testing.T) {
	client := mockllm.New().
		WithComplete(llm.CompleteResponse{ToolCall: mockllm.CreateTaskCall(nil)}, nil).
		WithStream([]llm.StreamEvent{
			{Kind: llm.StreamEventTextDelta, TextDelta: "thinking out loud, no artifact yet"},
		}, nil).
		WithStream([]llm.StreamEvent{
			{Kind: llm.StreamEventToolInputStart, ToolCallID: "call-2", ToolName: "createArtifact"},
			{Kind: llm.StreamEventToolCall, ToolCallID: "call-2", ToolArgs: map[string]any{"name": "fallback.txt"}},
			{Kind: llm.StreamEventToolInputDelta, ToolCallID: "call-2", ContentDelta: "forced content", IsLast: true},
		}, nil)
	h, store := newTestHandler(client)

	ch, err := h.SendStream(context.Background(), SendRequest{Message: userMessage("do something vague")})
	require.NoError(t, err)
	evs := drain(t, ch, 2*time.Second)

	var taskID string
	var sawArtifact bool
	for _, ev := range evs {
		if ev.Kind == events.KindTask {
			taskID = ev.TaskSnapshot.ID
		}
		if ev.Kind == events.KindArtifactUpdate && ev.LastChunk {
			sawArtifact = true
		}
	}
	require.True(t, sawArtifact, "stage 3's forced artifact path must still produce an artifact-update")
	require.NotEmpty(t, taskID)

	stored, err := store.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, stored.Status.State)
	require.Len(t, stored.Artifacts, 1)
	assert.Equal(t, "fallback.txt", stored.Artifacts[0].Name)
}

// Scenario: mid-stream cancellation. CancelTask fires the abort signal
// concurrently with stage 2's stream; the task must land in canceled
// and the event stream must still end with a terminal status-update.
func TestSendStream_Cancellation(t *testing.T) {
	client := mockllm.New().
		WithComplete(llm.CompleteResponse{ToolCall: mockllm.CreateTaskCall(nil)}, nil).
		WithStreamAbortAfter([]llm.StreamEvent{
			{Kind: llm.StreamEventTextDelta, TextDelta: "a"},
		}, 1)
	h, store := newTestHandler(client)

	ch, err := h.SendStream(context.Background(), SendRequest{Message: userMessage("long running thing")})
	require.NoError(t, err)

	var taskID string
	select {
	case ev := <-ch:
		require.Equal(t, events.KindTask, ev.Kind)
		taskID = ev.TaskSnapshot.ID
	case <-time.After(time.Second):
		t.Fatal("did not receive task event")
	}

	_, cancelErr := h.CancelTask(context.Background(), taskID)
	require.NoError(t, cancelErr)

	evs := drain(t, ch, 2*time.Second)
	var final *events.Event
	for i := range evs {
		if evs[i].Kind == events.KindStatusUpdate && evs[i].Final {
			final = &evs[i]
		}
	}
	require.NotNil(t, final, "a terminal status-update must still be delivered after cancellation")
	assert.Equal(t, task.StatusCanceled, final.Status.State)

	stored, err := store.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCanceled, stored.Status.State)

	// Sticky terminal: a second cancel attempt must fail.
	_, cancelErr = h.CancelTask(context.Background(), taskID)
	assert.True(t, errors.Is(cancelErr, apperrors.ErrInvalidState), "canceling an already-terminal task must be rejected")
}

// Scenario: task failure. The model call backing stage 2 errors
// outright; the task must transition to failed with a final
// status-update carrying a user-facing message.
func TestSendStream_Failure(t *testing.T) {
	client := mockllm.New().
		WithComplete(llm.CompleteResponse{ToolCall: mockllm.CreateTaskCall(nil)}, nil).
		WithStream(nil, assert.AnError)
	h, store := newTestHandler(client)

	ch, err := h.SendStream(context.Background(), SendRequest{Message: userMessage("trigger a failure")})
	require.NoError(t, err)
	evs := drain(t, ch, 2*time.Second)

	var taskID string
	var final *events.Event
	for i := range evs {
		if evs[i].Kind == events.KindTask {
			taskID = evs[i].TaskSnapshot.ID
		}
		if evs[i].Kind == events.KindStatusUpdate && evs[i].Final {
			final = &evs[i]
		}
	}
	require.NotNil(t, final)
	assert.Equal(t, task.StatusFailed, final.Status.State)
	require.NotEmpty(t, taskID)

	stored, err := store.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, stored.Status.State)
}

// Send (the blocking convenience wrapper) surfaces a failed task as an
// error while still returning the terminal task snapshot.
func TestSend_FailurePropagatesError(t *testing.T) {
	client := mockllm.New().
		WithComplete(llm.CompleteResponse{ToolCall: mockllm.CreateTaskCall(nil)}, nil).
		WithStream(nil, assert.AnError)
	h, _ := newTestHandler(client)

	result, err := h.Send(context.Background(), SendRequest{Message: userMessage("trigger a failure")})
	require.Error(t, err)
	require.NotNil(t, result)
	require.NotNil(t, result.Task)
	assert.Equal(t, task.StatusFailed, result.Task.Status.State)
}

// GetTask truncates history to the requested window.
func TestGetTask_HistoryTruncation(t *testing.T) {
	client := mockllm.New().WithComplete(llm.CompleteResponse{Text: "ok"}, nil)
	h, store := newTestHandler(client)

	taskID := "t-1"
	now := time.Now()
	store.tasks[taskID] = &task.Task{
		ID:     taskID,
		Status: task.StatusSnapshot{State: task.StatusWorking, Timestamp: now},
		History: []*convo.Message{
			{ID: "m1", Timestamp: now},
			{ID: "m2", Timestamp: now},
			{ID: "m3", Timestamp: now},
		},
	}

	got, err := h.GetTask(context.Background(), taskID, 2)
	require.NoError(t, err)
	require.Len(t, got.History, 2)
	assert.Equal(t, "m2", got.History[0].ID)
	assert.Equal(t, "m3", got.History[1].ID)
}
