// Package taskservice implements the Task Service: CRUD delegated to a
// task.Store, sticky-terminal transition enforcement serialized per
// task id, a bounded read cache, and the process-scope abort-signal
// registry.
package taskservice

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/artifact"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/convo"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/task"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/apperrors"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/logging"
)

const defaultCacheSize = 1024

// Service is the Task Service.
type Service struct {
	store  task.Store
	cache  *lru.Cache[string, *task.Task]
	logger logging.Logger

	// snapshotPath, when set, names the on-disk task-index snapshot:
	// the cache's contents written atomically after every task
	// mutation and loaded back at construction, so a restarted
	// process serves Get for recently-active tasks without a store
	// round-trip.
	snapshotPath string
	snapshotMu   sync.Mutex

	taskLocksMu sync.Mutex
	taskLocks   map[string]*sync.Mutex

	abortMu   sync.RWMutex
	abortFns  map[string]context.CancelCauseFunc
}

// Option customizes a Service.
type Option func(*Service)

// WithCacheSize overrides the bounded read cache's capacity.
func WithCacheSize(size int) Option {
	return func(s *Service) {
		c, err := lru.New[string, *task.Task](size)
		if err == nil {
			s.cache = c
		}
	}
}

// WithSnapshotPath enables the on-disk task-index snapshot at path.
func WithSnapshotPath(path string) Option {
	return func(s *Service) { s.snapshotPath = path }
}

// New builds a Service backed by store.
func New(store task.Store, opts ...Option) *Service {
	cache, _ := lru.New[string, *task.Task](defaultCacheSize)
	s := &Service{
		store:     store,
		cache:     cache,
		logger:    logging.NewComponentLogger("TaskService"),
		taskLocks: make(map[string]*sync.Mutex),
		abortFns:  make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loadSnapshot()
	return s
}

// loadSnapshot warms the read cache from the on-disk task index. A
// missing file is the normal first-boot case; an unreadable one is
// logged and ignored, the store remains authoritative.
func (s *Service) loadSnapshot() {
	if s.snapshotPath == "" {
		return
	}
	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return
	}
	var tasks map[string]*task.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		s.logger.Warn("task snapshot at %s is unreadable: %v", s.snapshotPath, err)
		return
	}
	for id, t := range tasks {
		s.cache.Add(id, t)
	}
}

// persistSnapshot writes the cache's contents to the snapshot path
// atomically: marshal to a temp file, then rename over the previous
// snapshot so readers never observe a partial write. Never fatal.
func (s *Service) persistSnapshot() {
	if s.snapshotPath == "" {
		return
	}
	s.snapshotMu.Lock()
	defer s.snapshotMu.Unlock()
	tasks := make(map[string]*task.Task, s.cache.Len())
	for _, id := range s.cache.Keys() {
		if t, ok := s.cache.Peek(id); ok {
			tasks[id] = t
		}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		s.logger.Warn("marshal task snapshot: %v", err)
		return
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Warn("write task snapshot: %v", err)
		return
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		s.logger.Warn("rename task snapshot: %v", err)
	}
}

func (s *Service) lockFor(taskID string) *sync.Mutex {
	s.taskLocksMu.Lock()
	defer s.taskLocksMu.Unlock()
	m, ok := s.taskLocks[taskID]
	if !ok {
		m = &sync.Mutex{}
		s.taskLocks[taskID] = m
	}
	return m
}

// Create assigns an id, inserts the task in StatusSubmitted, and
// attaches initialMessage to its history.
func (s *Service) Create(ctx context.Context, contextID string, initialMessage *convo.Message) (*task.Task, error) {
	t, err := s.store.Create(ctx, contextID, initialMessage)
	if err != nil {
		return nil, apperrors.PersistenceError(err)
	}
	s.cache.Add(t.ID, t.Clone())
	s.persistSnapshot()
	return t.Clone(), nil
}

// Get retrieves a task, preferring the cache.
func (s *Service) Get(ctx context.Context, taskID string) (*task.Task, error) {
	if t, ok := s.cache.Get(taskID); ok {
		return t.Clone(), nil
	}
	t, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, apperrors.NotFound(fmt.Sprintf("task %s", taskID))
	}
	s.cache.Add(taskID, t.Clone())
	return t, nil
}

// Transition validates and applies a state transition, serialized per
// task id. Rejects any transition once the task is already terminal.
func (s *Service) Transition(ctx context.Context, taskID string, next task.Status, opts ...task.TransitionOption) (*task.Task, error) {
	lock := s.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, apperrors.NotFound(fmt.Sprintf("task %s", taskID))
	}
	if current.Status.State.IsTerminal() {
		return nil, apperrors.InvalidState(fmt.Sprintf("task %s is already %s", taskID, current.Status.State))
	}

	updated, err := s.store.SetStatus(ctx, taskID, next, opts...)
	if err != nil {
		return nil, apperrors.PersistenceError(err)
	}
	s.cache.Add(taskID, updated.Clone())
	s.persistSnapshot()
	if updated.Status.State.IsTerminal() {
		s.Unregister(taskID)
	}
	return updated, nil
}

// AttachMessage appends m to the task's history.
func (s *Service) AttachMessage(ctx context.Context, taskID string, m *convo.Message) error {
	if err := s.store.AttachMessage(ctx, taskID, m); err != nil {
		return apperrors.PersistenceError(err)
	}
	s.cache.Remove(taskID)
	s.persistSnapshot()
	return nil
}

// CreateArtifact inserts or replaces an artifact, idempotent on
// (taskID, artifact.ID).
func (s *Service) CreateArtifact(ctx context.Context, taskID string, a *artifact.Artifact) error {
	if err := s.store.CreateArtifact(ctx, taskID, a); err != nil {
		return apperrors.PersistenceError(err)
	}
	s.cache.Remove(taskID)
	s.persistSnapshot()
	return nil
}

// RecentStatusMessages delegates to the store for the narrator's
// de-dup window.
func (s *Service) RecentStatusMessages(ctx context.Context, taskID string, n int) ([]*convo.Message, error) {
	msgs, err := s.store.RecentStatusMessages(ctx, taskID, n)
	if err != nil {
		return nil, apperrors.PersistenceError(err)
	}
	return msgs, nil
}

// RecordUsage adds to a task's running token/cost progress counters.
// It never touches state and is not serialized by the per-task
// transition lock since it cannot race a sticky-terminal decision.
func (s *Service) RecordUsage(ctx context.Context, taskID string, tokensDelta int, costDelta float64) error {
	if err := s.store.RecordUsage(ctx, taskID, tokensDelta, costDelta); err != nil {
		return apperrors.PersistenceError(err)
	}
	s.cache.Remove(taskID)
	s.persistSnapshot()
	return nil
}

// RegisterAbort creates a cancelable context for taskID and records
// its cancel function in the process-scope registry. An entry exists
// only while the task is submitted or working; Unregister removes it.
func (s *Service) RegisterAbort(parent context.Context, taskID string) (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	s.abortMu.Lock()
	s.abortFns[taskID] = cancel
	s.abortMu.Unlock()
	return ctx, cancel
}

// Abort fires the registered cancel function for taskID, if any.
// Returns false if no live entry exists (task already terminal or
// unknown).
func (s *Service) Abort(taskID string, cause error) bool {
	s.abortMu.RLock()
	cancel, ok := s.abortFns[taskID]
	s.abortMu.RUnlock()
	if !ok {
		return false
	}
	cancel(cause)
	return true
}

// Unregister removes taskID's abort-registry entry, called once the
// task reaches a terminal state.
func (s *Service) Unregister(taskID string) {
	s.abortMu.Lock()
	delete(s.abortFns, taskID)
	s.abortMu.Unlock()
}

// CancelTask is the public cancelTask operation: it aborts the task's
// in-flight execution and transitions it to canceled. Returns
// apperrors.ErrInvalidState if the task is already terminal, and
// apperrors.ErrNotFound if the task is unknown.
func (s *Service) CancelTask(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.State.IsTerminal() {
		return nil, apperrors.InvalidState(fmt.Sprintf("task %s is already %s", taskID, t.Status.State))
	}
	s.Abort(taskID, apperrors.Canceled("cancelTask called"))
	return s.Transition(ctx, taskID, task.StatusCanceled)
}
