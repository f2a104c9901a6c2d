package taskservice

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/artifact"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/convo"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/task"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/apperrors"
)

// fakeStore is a minimal task.Store double exercising only what
// Service itself needs, distinct from handler's richer memStore (that
// one also satisfies convo.Store for the full pipeline).
type fakeStore struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]*task.Task)}
}

func (s *fakeStore) Create(_ context.Context, contextID string, initialMessage *convo.Message) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	t := &task.Task{ID: uuid.NewString(), ContextID: contextID, Status: task.StatusSnapshot{State: task.StatusSubmitted, Timestamp: now}, CreatedAt: now, UpdatedAt: now}
	if initialMessage != nil {
		t.History = append(t.History, initialMessage.Clone())
	}
	s.tasks[t.ID] = t
	return t.Clone(), nil
}

func (s *fakeStore) Get(_ context.Context, taskID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, apperrors.NotFound("task " + taskID)
	}
	return t.Clone(), nil
}

func (s *fakeStore) SetStatus(_ context.Context, taskID string, next task.Status, opts ...task.TransitionOption) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, apperrors.NotFound("task " + taskID)
	}
	o := task.ApplyTransitionOptions(opts)
	t.Status = task.StatusSnapshot{State: next, Message: o.Message, Timestamp: time.Now()}
	t.UpdatedAt = time.Now()
	return t.Clone(), nil
}

func (s *fakeStore) AttachMessage(_ context.Context, taskID string, m *convo.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return apperrors.NotFound("task " + taskID)
	}
	t.History = append(t.History, m.Clone())
	return nil
}

func (s *fakeStore) CreateArtifact(_ context.Context, taskID string, a *artifact.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return apperrors.NotFound("task " + taskID)
	}
	for i, existing := range t.Artifacts {
		if existing.ID == a.ID {
			t.Artifacts[i] = a.Clone()
			return nil
		}
	}
	t.Artifacts = append(t.Artifacts, a.Clone())
	return nil
}

func (s *fakeStore) RecentStatusMessages(_ context.Context, _ string, _ int) ([]*convo.Message, error) {
	return nil, nil
}

func (s *fakeStore) RecordUsage(_ context.Context, taskID string, tokensDelta int, costDelta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return apperrors.NotFound("task " + taskID)
	}
	t.TokensUsed += tokensDelta
	t.CostUSD += costDelta
	t.CurrentIteration++
	return nil
}

func (s *fakeStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
	return nil
}

func TestService_CreateAndGet(t *testing.T) {
	svc := New(newFakeStore())
	tk, err := svc.Create(context.Background(), "ctx-1", nil)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSubmitted, tk.Status.State)

	got, err := svc.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)
}

func TestService_Get_UnknownIDIsNotFound(t *testing.T) {
	svc := New(newFakeStore())
	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestService_Transition_StickyTerminalRejectsFurtherTransitions(t *testing.T) {
	svc := New(newFakeStore())
	tk, err := svc.Create(context.Background(), "ctx-1", nil)
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), tk.ID, task.StatusWorking)
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), tk.ID, task.StatusCompleted)
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), tk.ID, task.StatusFailed)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState, "a terminal task must reject any further transition")

	final, err := svc.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, final.Status.State, "the rejected transition must not overwrite the sticky terminal state")
}

func TestService_CancelTask_AbortsAndTransitions(t *testing.T) {
	svc := New(newFakeStore())
	tk, err := svc.Create(context.Background(), "ctx-1", nil)
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), tk.ID, task.StatusWorking)
	require.NoError(t, err)

	ctx, cancel := svc.RegisterAbort(context.Background(), tk.ID)
	defer cancel(nil)

	canceled, err := svc.CancelTask(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCanceled, canceled.Status.State)

	select {
	case <-ctx.Done():
	default:
		t.Fatal("CancelTask must fire the registered abort signal")
	}
}

func TestService_CancelTask_AlreadyTerminalIsInvalidState(t *testing.T) {
	svc := New(newFakeStore())
	tk, err := svc.Create(context.Background(), "ctx-1", nil)
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), tk.ID, task.StatusWorking)
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), tk.ID, task.StatusCompleted)
	require.NoError(t, err)

	_, err = svc.CancelTask(context.Background(), tk.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestService_CancelTask_UnknownTaskIsNotFound(t *testing.T) {
	svc := New(newFakeStore())
	_, err := svc.CancelTask(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestService_UnregisterOnTerminalTransition(t *testing.T) {
	svc := New(newFakeStore())
	tk, err := svc.Create(context.Background(), "ctx-1", nil)
	require.NoError(t, err)
	svc.RegisterAbort(context.Background(), tk.ID)

	_, err = svc.Transition(context.Background(), tk.ID, task.StatusWorking)
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), tk.ID, task.StatusFailed)
	require.NoError(t, err)

	assert.False(t, svc.Abort(tk.ID, apperrors.Canceled("late")), "a terminal task's abort entry must be unregistered")
}

func TestService_CreateArtifact_IdempotentOnSameID(t *testing.T) {
	svc := New(newFakeStore())
	tk, err := svc.Create(context.Background(), "ctx-1", nil)
	require.NoError(t, err)

	a := &artifact.Artifact{ID: "art-1", Name: "v1", Parts: []artifact.Part{{Text: "first"}}}
	require.NoError(t, svc.CreateArtifact(context.Background(), tk.ID, a))

	updated := &artifact.Artifact{ID: "art-1", Name: "v1", Parts: []artifact.Part{{Text: "second"}}}
	require.NoError(t, svc.CreateArtifact(context.Background(), tk.ID, updated))

	got, err := svc.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	require.Len(t, got.Artifacts, 1, "persisting the same (taskId, artifactId) twice must not duplicate the row")
	assert.Equal(t, "second", got.Artifacts[0].Parts[0].Text, "the final delta's content wins")
}

func TestService_SnapshotWarmsCacheAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.index")

	svc := New(newFakeStore(), WithSnapshotPath(path))
	tk, err := svc.Create(context.Background(), "ctx-1", nil)
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), tk.ID, task.StatusWorking)
	require.NoError(t, err)

	// A fresh service over an empty store still serves the task from
	// the snapshot-warmed cache.
	restarted := New(newFakeStore(), WithSnapshotPath(path))
	got, err := restarted.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusWorking, got.Status.State)
}

func TestService_SnapshotToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.index")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	svc := New(newFakeStore(), WithSnapshotPath(path))
	tk, err := svc.Create(context.Background(), "ctx-1", nil)
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), tk.ID)
	require.NoError(t, err)
}

func TestService_WithCacheSize(t *testing.T) {
	svc := New(newFakeStore(), WithCacheSize(1))
	a, err := svc.Create(context.Background(), "ctx-1", nil)
	require.NoError(t, err)
	b, err := svc.Create(context.Background(), "ctx-1", nil)
	require.NoError(t, err)

	// Both remain retrievable even though the cache can only hold one
	// entry at a time — eviction falls back to the store.
	_, err = svc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), b.ID)
	require.NoError(t, err)
}
