package handler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/artifact"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/convo"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/task"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/apperrors"
)

// memStore is a minimal in-memory implementation of convo.Store and
// task.Store for handler tests, following the storage layer's
// copy-on-return discipline (every getter hands back a clone) without
// standing up a real SQLite file.
type memStore struct {
	mu       sync.Mutex
	contexts map[string]*convo.Context
	messages []*convo.Message
	tasks    map[string]*task.Task
}

func newMemStore() *memStore {
	return &memStore{
		contexts: make(map[string]*convo.Context),
		tasks:    make(map[string]*task.Task),
	}
}

func (s *memStore) EnsureContext(_ context.Context, contextID string) (*convo.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if contextID != "" {
		if c, ok := s.contexts[contextID]; ok {
			return cloneContext(c), nil
		}
	}
	id := contextID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	c := &convo.Context{ID: id, CreatedAt: now, UpdatedAt: now}
	s.contexts[id] = c
	return cloneContext(c), nil
}

func (s *memStore) GetContext(_ context.Context, contextID string) (*convo.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[contextID]
	if !ok {
		return nil, apperrors.NotFound("context " + contextID)
	}
	return cloneContext(c), nil
}

func (s *memStore) SaveMessage(_ context.Context, m *convo.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.messages = append(s.messages, m.Clone())
	return nil
}

func (s *memStore) History(_ context.Context, contextID string, excludeStatus bool) ([]*convo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*convo.Message
	for _, m := range s.messages {
		if m.ContextID != contextID {
			continue
		}
		if excludeStatus && m.IsStatusMessage() {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *memStore) DeleteContext(_ context.Context, contextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, contextID)
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.ContextID != contextID {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	for id, t := range s.tasks {
		if t.ContextID == contextID {
			delete(s.tasks, id)
		}
	}
	return nil
}

func (s *memStore) Create(_ context.Context, contextID string, initialMessage *convo.Message) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	t := &task.Task{
		ID:        uuid.NewString(),
		ContextID: contextID,
		Status:    task.StatusSnapshot{State: task.StatusSubmitted, Timestamp: now},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if initialMessage != nil {
		initialMessage.TaskID = t.ID
		t.History = append(t.History, initialMessage.Clone())
		s.messages = append(s.messages, initialMessage.Clone())
	}
	s.tasks[t.ID] = t
	return t.Clone(), nil
}

func (s *memStore) Get(_ context.Context, taskID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, apperrors.NotFound("task " + taskID)
	}
	return t.Clone(), nil
}

func (s *memStore) SetStatus(_ context.Context, taskID string, next task.Status, opts ...task.TransitionOption) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, apperrors.NotFound("task " + taskID)
	}
	o := task.ApplyTransitionOptions(opts)
	t.Status = task.StatusSnapshot{State: next, Message: o.Message, Timestamp: time.Now()}
	t.UpdatedAt = time.Now()
	if o.Message != nil {
		t.History = append(t.History, o.Message.Clone())
	}
	return t.Clone(), nil
}

func (s *memStore) AttachMessage(_ context.Context, taskID string, m *convo.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return apperrors.NotFound("task " + taskID)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	t.History = append(t.History, m.Clone())
	s.messages = append(s.messages, m.Clone())
	return nil
}

func (s *memStore) CreateArtifact(_ context.Context, taskID string, a *artifact.Artifact) error {
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

func (s *memStore) RecentStatusMessages(_ context.Context, taskID string, n int) ([]*convo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*convo.Message
	for _, m := range s.messages {
		if m.TaskID == taskID && m.IsStatusMessage() {
			out = append(out, m.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *memStore) RecordUsage(_ context.Context, taskID string, tokensDelta int, costDelta float64) error {
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

func (s *memStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
	return nil
}

func cloneContext(c *convo.Context) *convo.Context {
	out := *c
	return &out
}
