// Package sqlitestore implements the persistence layer: both
// convo.Store and task.Store against a single embedded SQLite
// database, synchronous writes, uncached reads (the Task Service's own
// LRU cache sits in front of this for hot reads).
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/artifact"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/convo"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/task"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/apperrors"
)

const schema = `
CREATE TABLE IF NOT EXISTS contexts (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id                TEXT PRIMARY KEY,
	context_id        TEXT NOT NULL,
	state             TEXT NOT NULL,
	status_message    TEXT NOT NULL DEFAULT '',
	status_at         DATETIME NOT NULL,
	agent_preset      TEXT NOT NULL DEFAULT '',
	tool_preset       TEXT NOT NULL DEFAULT '',
	current_iteration INTEGER NOT NULL DEFAULT 0,
	tokens_used       INTEGER NOT NULL DEFAULT 0,
	cost_usd          REAL NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	context_id  TEXT NOT NULL,
	task_id     TEXT NOT NULL DEFAULT '',
	role        TEXT NOT NULL,
	parts       TEXT NOT NULL DEFAULT '[]',
	metadata    TEXT NOT NULL DEFAULT '{}',
	is_status   INTEGER NOT NULL DEFAULT 0,
	timestamp   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	id          TEXT NOT NULL,
	task_id     TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	parts       TEXT NOT NULL DEFAULT '[]',
	created_at  DATETIME NOT NULL,
	PRIMARY KEY (task_id, id)
);

CREATE INDEX IF NOT EXISTS idx_messages_context ON messages(context_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_messages_task ON messages(task_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_tasks_context ON tasks(context_id);
`

// Store implements convo.Store and task.Store against one SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- convo.Store ---

// EnsureContext implements convo.Store.
func (s *Store) EnsureContext(ctx context.Context, contextID string) (*convo.Context, error) {
	if contextID != "" {
		if c, err := s.GetContext(ctx, contextID); err == nil {
			return c, nil
		}
	}
	id := contextID
	if id == "" {
		id = newID()
	}
	now := time.Now()
	c := &convo.Context{ID: id, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contexts (id, title, metadata, created_at, updated_at) VALUES (?, '', '{}', ?, ?)`,
		c.ID, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetContext implements convo.Store.
func (s *Store) GetContext(ctx context.Context, contextID string) (*convo.Context, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, metadata, created_at, updated_at FROM contexts WHERE id = ?`, contextID)
	var c convo.Context
	var metaJSON string
	if err := row.Scan(&c.ID, &c.Title, &metaJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("context " + contextID)
		}
		return nil, err
	}
	_ = json.Unmarshal([]byte(metaJSON), &c.Metadata)
	return &c, nil
}

// SaveMessage implements convo.Store. Saving an id that already exists
// fills in its task id if that was unset and leaves every other column
// as first written.
func (s *Store) SaveMessage(ctx context.Context, m *convo.Message) error {
	if m.ID == "" {
		m.ID = newID()
	}
	partsJSON, err := json.Marshal(m.Parts)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, context_id, task_id, role, parts, metadata, is_status, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET task_id = CASE WHEN messages.task_id = '' THEN excluded.task_id ELSE messages.task_id END`,
		m.ID, m.ContextID, m.TaskID, string(m.Role), string(partsJSON), string(metaJSON),
		boolInt(m.IsStatusMessage()), m.Timestamp,
	)
	return err
}

// History implements convo.Store: every message recorded under
// contextID (task-scoped and task-less alike), ordered by timestamp.
func (s *Store) History(ctx context.Context, contextID string, excludeStatus bool) ([]*convo.Message, error) {
	query := `SELECT id, context_id, task_id, role, parts, metadata, timestamp FROM messages WHERE context_id = ?`
	if excludeStatus {
		query += ` AND is_status = 0`
	}
	query += ` ORDER BY timestamp ASC, rowid ASC`
	rows, err := s.db.QueryContext(ctx, query, contextID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// DeleteContext implements convo.Store.
func (s *Store) DeleteContext(ctx context.Context, contextID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE context_id = ?`, contextID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE task_id IN (SELECT id FROM tasks WHERE context_id = ?)`, contextID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE context_id = ?`, contextID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM contexts WHERE id = ?`, contextID); err != nil {
		return err
	}
	return tx.Commit()
}

// --- task.Store ---

// Create implements task.Store.
func (s *Store) Create(ctx context.Context, contextID string, initialMessage *convo.Message) (*task.Task, error) {
	now := time.Now()
	t := &task.Task{
		ID:        newID(),
		ContextID: contextID,
		Status:    task.StatusSnapshot{State: task.StatusSubmitted, Timestamp: now},
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks (id, context_id, state, status_message, status_at, created_at, updated_at)
		 VALUES (?, ?, ?, '', ?, ?, ?)`,
		t.ID, t.ContextID, string(t.Status.State), t.Status.Timestamp, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if initialMessage != nil {
		initialMessage.TaskID = t.ID
		if initialMessage.ContextID == "" {
			initialMessage.ContextID = contextID
		}
		if err := insertMessageTx(ctx, tx, initialMessage); err != nil {
			return nil, err
		}
		t.History = append(t.History, initialMessage.Clone())
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

// Get implements task.Store.
func (s *Store) Get(ctx context.Context, taskID string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, context_id, state, status_message, status_at, agent_preset, tool_preset,
		        current_iteration, tokens_used, cost_usd, created_at, updated_at
		 FROM tasks WHERE id = ?`, taskID)
	t, statusMsgJSON, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("task " + taskID)
		}
		return nil, err
	}
	if statusMsgJSON != "" {
		var m convo.Message
		if err := json.Unmarshal([]byte(statusMsgJSON), &m); err == nil {
			t.Status.Message = &m
		}
	}

	history, err := s.taskHistory(ctx, taskID)
	if err != nil {
		return nil, err
	}
	t.History = history

	arts, err := s.taskArtifacts(ctx, taskID)
	if err != nil {
		return nil, err
	}
	t.Artifacts = arts
	return t, nil
}

// SetStatus implements task.Store.
func (s *Store) SetStatus(ctx context.Context, taskID string, next task.Status, opts ...task.TransitionOption) (*task.Task, error) {
	o := task.ApplyTransitionOptions(opts)
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var msgJSON string
	if o.Message != nil {
		o.Message.TaskID = taskID
		if o.Message.ContextID == "" {
			row := tx.QueryRowContext(ctx, `SELECT context_id FROM tasks WHERE id = ?`, taskID)
			if err := row.Scan(&o.Message.ContextID); err != nil {
				return nil, err
			}
		}
		b, err := json.Marshal(o.Message)
		if err != nil {
			return nil, err
		}
		msgJSON = string(b)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET state = ?, status_message = ?, status_at = ?, updated_at = ? WHERE id = ?`,
		string(next), msgJSON, now, now, taskID,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperrors.NotFound("task " + taskID)
	}
	if o.Message != nil {
		if err := insertMessageTx(ctx, tx, o.Message); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Get(ctx, taskID)
}

// AttachMessage implements task.Store.
func (s *Store) AttachMessage(ctx context.Context, taskID string, m *convo.Message) error {
	m.TaskID = taskID
	if m.ContextID == "" {
		row := s.db.QueryRowContext(ctx, `SELECT context_id FROM tasks WHERE id = ?`, taskID)
		if err := row.Scan(&m.ContextID); err != nil {
			return err
		}
	}
	return s.SaveMessage(ctx, m)
}

// CreateArtifact implements task.Store: insert-or-replace, idempotent
// on (taskID, artifact.ID).
func (s *Store) CreateArtifact(ctx context.Context, taskID string, a *artifact.Artifact) error {
	partsJSON, err := json.Marshal(a.Parts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, task_id, name, description, parts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_id, id) DO UPDATE SET name=excluded.name, description=excluded.description,
		   parts=excluded.parts, created_at=excluded.created_at`,
		a.ID, taskID, a.Name, a.Description, string(partsJSON), a.CreatedAt,
	)
	return err
}

// RecentStatusMessages implements task.Store: up to n most recent
// status-kind messages for taskID, newest first.
func (s *Store) RecentStatusMessages(ctx context.Context, taskID string, n int) ([]*convo.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, context_id, task_id, role, parts, metadata, timestamp
		 FROM messages WHERE task_id = ? AND is_status = 1
		 ORDER BY timestamp DESC, id DESC LIMIT ?`, taskID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// scanMessages returns oldest first; restore newest first.
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.After(msgs[j].Timestamp) })
	return msgs, nil
}

// RecordUsage implements task.Store: adds to the running token/cost
// counters and bumps CurrentIteration, without touching state.
func (s *Store) RecordUsage(ctx context.Context, taskID string, tokensDelta int, costDelta float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET tokens_used = tokens_used + ?, cost_usd = cost_usd + ?,
		        current_iteration = current_iteration + 1, updated_at = ? WHERE id = ?`,
		tokensDelta, costDelta, time.Now(), taskID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("task " + taskID)
	}
	return nil
}

// Delete implements task.Store.
func (s *Store) Delete(ctx context.Context, taskID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE task_id = ?`, taskID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE task_id = ?`, taskID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
		return err
	}
	return tx.Commit()
}

// --- helpers ---

func (s *Store) taskHistory(ctx context.Context, taskID string) ([]*convo.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, context_id, task_id, role, parts, metadata, timestamp
		 FROM messages WHERE task_id = ? ORDER BY timestamp ASC, rowid ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Store) taskArtifacts(ctx context.Context, taskID string) ([]*artifact.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, name, description, parts, created_at
		 FROM artifacts WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*artifact.Artifact
	for rows.Next() {
		var a artifact.Artifact
		var partsJSON string
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Name, &a.Description, &partsJSON, &a.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(partsJSON), &a.Parts); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func scanTask(row *sql.Row) (*task.Task, string, error) {
	var t task.Task
	var state, statusMsgJSON string
	var statusAt time.Time
	if err := row.Scan(&t.ID, &t.ContextID, &state, &statusMsgJSON, &statusAt,
		&t.AgentPreset, &t.ToolPreset, &t.CurrentIteration, &t.TokensUsed, &t.CostUSD,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, "", err
	}
	t.Status = task.StatusSnapshot{State: task.Status(state), Timestamp: statusAt}
	return &t, statusMsgJSON, nil
}

func scanMessages(rows *sql.Rows) ([]*convo.Message, error) {
	var out []*convo.Message
	for rows.Next() {
		var m convo.Message
		var role, partsJSON, metaJSON string
		if err := rows.Scan(&m.ID, &m.ContextID, &m.TaskID, &role, &partsJSON, &metaJSON, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Role = convo.Role(role)
		if err := json.Unmarshal([]byte(partsJSON), &m.Parts); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(metaJSON), &m.Metadata)
		out = append(out, &m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, rows.Err()
}

func insertMessageTx(ctx context.Context, tx *sql.Tx, m *convo.Message) error {
	if m.ID == "" {
		m.ID = newID()
	}
	partsJSON, err := json.Marshal(m.Parts)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, context_id, task_id, role, parts, metadata, is_status, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET task_id = CASE WHEN messages.task_id = '' THEN excluded.task_id ELSE messages.task_id END`,
		m.ID, m.ContextID, m.TaskID, string(m.Role), string(partsJSON), string(metaJSON),
		boolInt(m.IsStatusMessage()), m.Timestamp,
	)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func newID() string {
	return uuid.NewString()
}
