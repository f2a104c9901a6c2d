package convo

import "context"

// Store is the persistence port for Contexts and their context-scoped
// (task-less) messages. Task-scoped messages are written through
// task.Store instead, since both ports front the same underlying
// "messages" table (task.go's Store.AttachMessage writes task-id-set
// rows; this Store writes task-id-null rows).
type Store interface {
	// EnsureContext returns the context for contextID, creating one
	// with a fresh id (and bumping nothing else) if contextID is
	// empty or unknown. The first call for a new id is the implicit
	// creation point for a conversation.
	EnsureContext(ctx context.Context, contextID string) (*Context, error)

	// GetContext retrieves a context by id.
	GetContext(ctx context.Context, contextID string) (*Context, error)

	// SaveMessage persists m, assigning an id if m.ID is empty.
	// Messages are append-only: calling SaveMessage again with the
	// same id only fills in previously-unset fields.
	SaveMessage(ctx context.Context, m *Message) error

	// History returns every message recorded under contextID, both
	// task-less and task-scoped (consumed as stage 1's routing prompt
	// and the narrator/stage 2's task-history seed), chronological by
	// timestamp with insertion order breaking ties. excludeStatus
	// drops status-message-kind entries, which never enter LLM prompt
	// assembly.
	History(ctx context.Context, contextID string, excludeStatus bool) ([]*Message, error)

	// DeleteContext removes a context and cascades to its messages,
	// tasks, and artifacts.
	DeleteContext(ctx context.Context, contextID string) error
}
