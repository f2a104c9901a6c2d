// Package narrator implements the Status Narrator: while a task is
// working and no artifact is finalized, it periodically generates a
// short status narration and enqueues it for the handler's event
// sink.
package narrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/convo"
	"github.com/cklxx-elephant-ai/a2aengine/internal/llm"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/async"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/logging"
)

// Config controls narration cadence and shape, sourced from the
// recognized narrator.* configuration keys.
type Config struct {
	Interval     time.Duration // narrator.intervalMs
	RecentWindow int           // narrator.recentWindow
	MaxChars     int           // narrator.maxChars
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second, RecentWindow: 5, MaxChars: 50}
}

// Store is the subset of the Task Service the narrator needs.
type Store interface {
	RecentStatusMessages(ctx context.Context, taskID string, n int) ([]*convo.Message, error)
	AttachMessage(ctx context.Context, taskID string, m *convo.Message) error
}

// Sink receives queued status-update messages for the handler's Event
// Orchestrator to drain in FIFO order.
type Sink interface {
	Enqueue(m *convo.Message)
}

// Narrator runs the periodic narration loop for a single task.
type Narrator struct {
	cfg       Config
	client    llm.Client
	store     Store
	sink      Sink
	taskID    string
	contextID string
	history   []*convo.Message // non-status history, for prompt assembly

	logger  logging.Logger
	stop    chan struct{}
	stopped chan struct{}

	artifactDetected chan struct{}
}

// New builds a Narrator for taskID. history is the task's non-status
// message history at the time stage 2 begins; it is a static snapshot
// (the narrator never re-reads the full task history).
func New(cfg Config, client llm.Client, store Store, sink Sink, taskID, contextID string, history []*convo.Message) *Narrator {
	return &Narrator{
		cfg:              cfg,
		client:           client,
		store:            store,
		sink:             sink,
		taskID:           taskID,
		contextID:        contextID,
		history:          history,
		logger:           logging.NewComponentLogger("Narrator"),
		stop:             make(chan struct{}),
		stopped:          make(chan struct{}),
		artifactDetected: make(chan struct{}, 1),
	}
}

// Start launches the narration loop on a background goroutine.
// abortCtx cancellation or Stop ends it cooperatively;
// NotifyArtifactDetected stops it within one tick. The loop does not
// watch the task's state itself.
func (n *Narrator) Start(abortCtx context.Context) {
	async.Go(n.logger, "narrator", func() {
		_ = n.Run(abortCtx)
	})
}

// Run executes the narration loop synchronously until ctx is done,
// Stop is called, or an artifact is detected, recovering any panic
// into a returned error instead of crashing the caller. Exposed
// directly (rather than only through Start) so the Request Handler
// can supervise it alongside the stage-2 stream consumer via
// errgroup.Group: the narrator's own panic or error is returned
// through the group's Wait.
func (n *Narrator) Run(ctx context.Context) (err error) {
	defer close(n.stopped)
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("narrator panic for task %s: %v", n.taskID, r)
			err = fmt.Errorf("narrator panic: %v", r)
		}
	}()
	ticker := time.NewTicker(n.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-n.stop:
			return nil
		case <-n.artifactDetected:
			return nil
		case <-ticker.C:
			n.tick(ctx)
		}
	}
}

// Stop requests the loop exit and blocks until it has.
func (n *Narrator) Stop() {
	select {
	case <-n.stop:
	default:
		close(n.stop)
	}
	<-n.stopped
}

// NotifyArtifactDetected stops the narrator within one tick: once an
// artifact is finalized, already-queued narrations still flush but no
// new ones are produced.
func (n *Narrator) NotifyArtifactDetected() {
	select {
	case n.artifactDetected <- struct{}{}:
	default:
	}
}

func (n *Narrator) tick(ctx context.Context) {
	recents, err := n.store.RecentStatusMessages(ctx, n.taskID, n.cfg.RecentWindow)
	if err != nil {
		n.logger.Warn("narrator: failed to load recent status messages for %s: %v", n.taskID, err)
		return
	}

	resp, err := n.client.Complete(ctx, llm.CompleteRequest{History: n.buildPrompt(recents)})
	if err != nil {
		n.logger.Warn("narrator: model call failed for %s: %v", n.taskID, err)
		return
	}
	text := truncate(strings.TrimSpace(resp.Text), n.cfg.MaxChars)
	if text == "" {
		return
	}
	if isDuplicate(text, recents) {
		return
	}

	msg := &convo.Message{
		ID:        uuid.NewString(),
		ContextID: n.contextID,
		TaskID:    n.taskID,
		Role:      convo.RoleAgent,
		Parts:     []convo.Part{convo.TextPart(text)},
		Metadata:  map[string]string{convo.MetadataKeyKind: convo.MetadataKindStatusMessage},
		Timestamp: time.Now(),
	}
	if err := n.store.AttachMessage(ctx, n.taskID, msg); err != nil {
		n.logger.Warn("narrator: persist failed for %s: %v", n.taskID, err)
		return
	}
	n.sink.Enqueue(msg)
}

// buildPrompt assembles the task's non-status history plus a
// directive not to repeat any of recents.
func (n *Narrator) buildPrompt(recents []*convo.Message) []*convo.Message {
	var avoid strings.Builder
	avoid.WriteString("Write a fresh status update of at most ")
	avoid.WriteString(strconv.Itoa(n.cfg.MaxChars))
	avoid.WriteString(" characters. Do not repeat any of these previous updates: ")
	for i, r := range recents {
		if i > 0 {
			avoid.WriteString("; ")
		}
		avoid.WriteString(textOf(r))
	}
	directive := &convo.Message{
		ContextID: n.contextID,
		Role:      convo.RoleUser,
		Parts:     []convo.Part{convo.TextPart(avoid.String())},
		Timestamp: time.Now(),
	}
	out := make([]*convo.Message, 0, len(n.history)+1)
	out = append(out, n.history...)
	out = append(out, directive)
	return out
}

func isDuplicate(text string, recents []*convo.Message) bool {
	for _, r := range recents {
		if textOf(r) == text {
			return true
		}
	}
	return false
}

func textOf(m *convo.Message) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Kind == convo.PartKindText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

// FilterNonStatus filters full history down to non-status messages,
// used by callers constructing the static history snapshot passed to
// New.
func FilterNonStatus(history []*convo.Message) []*convo.Message {
	out := make([]*convo.Message, 0, len(history))
	for _, m := range history {
		if !m.IsStatusMessage() {
			out = append(out, m)
		}
	}
	return out
}
