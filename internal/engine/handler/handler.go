// Package handler implements the Request Handler: the public
// Send/SendStream/GetTask/CancelTask surface and the three-stage
// routing/execution/finalization pipeline that drives it.
//
// Each request runs its pipeline on one background goroutine with a
// context.CancelCauseFunc registered per task id; context.Cause(ctx)
// tells a deliberate cancellation apart from an ordinary stream error.
package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/artifact"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/capability"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/convo"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/events"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/task"
	"github.com/cklxx-elephant-ai/a2aengine/internal/engine/artifactpipe"
	"github.com/cklxx-elephant-ai/a2aengine/internal/engine/narrator"
	"github.com/cklxx-elephant-ai/a2aengine/internal/engine/orchestrator"
	"github.com/cklxx-elephant-ai/a2aengine/internal/engine/taskservice"
	"github.com/cklxx-elephant-ai/a2aengine/internal/llm"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/apperrors"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/async"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/logging"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/metrics"
)

// SendRequest is the input to Send/SendStream: a user message within
// an optional existing context.
type SendRequest struct {
	ContextID string
	Message   *convo.Message
	// Capabilities is the agent's configured, per-request tool
	// snapshot; createTask and createArtifact are added on top of it
	// by the handler itself.
	Capabilities capability.Set
}

// SendResult is Send's non-streaming outcome: exactly one of Message
// (a direct reply) or Task (a completed/failed/canceled task) is set.
type SendResult struct {
	Message *convo.Message
	Task    *task.Task
}

// Config controls stage 1 routing and narration behavior, sourced
// from the recognized configuration keys.
type Config struct {
	Narrator    narrator.Config
	AlwaysTask  bool // routing.alwaysTask
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{Narrator: narrator.DefaultConfig()}
}

// Deps wires the handler's collaborators.
type Deps struct {
	Tasks   *taskservice.Service
	Convo   convo.Store
	Client  llm.Client
	Config  Config
	Metrics *metrics.Handler
	Tracer  trace.Tracer
	// Meter mirrors the Prometheus counters in Metrics as an OTel
	// metric instrument, for deployments that collect via an OTel
	// pipeline instead of (or alongside) /metrics scraping.
	Meter metric.Meter
	// Tokens drives the TokensUsed/CostUSD progress counters;
	// defaults to a zero-cost counter that still tracks raw token
	// counts when left nil.
	Tokens *llm.TokenCounter
}

// Handler is the Request Handler.
type Handler struct {
	tasks        *taskservice.Service
	convo        convo.Store
	client       llm.Client
	cfg          Config
	metrics      *metrics.Handler
	tracer       trace.Tracer
	tasksCounter metric.Int64Counter
	tokens       *llm.TokenCounter
	logger       logging.Logger
}

// New builds a Handler from deps, filling in defaults for anything
// left zero-valued.
func New(deps Deps) *Handler {
	m := deps.Metrics
	if m == nil {
		m = metrics.Noop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("a2aengine/handler")
	}
	tokens := deps.Tokens
	if tokens == nil {
		tokens = llm.NewTokenCounter(0)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter("a2aengine/handler")
	}
	cfg := deps.Config
	if cfg.Narrator.Interval <= 0 {
		cfg.Narrator = narrator.DefaultConfig()
	}
	tasksCounter, err := meter.Int64Counter("a2aengine.tasks.total",
		metric.WithDescription("Terminal task transitions, mirroring the tasks_total Prometheus counter"))
	if err != nil {
		// Int64Counter only errors on a malformed instrument config, which
		// a literal name/description above can never trigger; fall back
		// to a noop instrument rather than propagate a panic path through
		// New's (error-free) signature.
		tasksCounter, _ = noop.Meter{}.Int64Counter("a2aengine.tasks.total")
	}
	return &Handler{
		tasks:        deps.Tasks,
		convo:        deps.Convo,
		client:       deps.Client,
		cfg:          cfg,
		metrics:      m,
		tracer:       tracer,
		tasksCounter: tasksCounter,
		tokens:       tokens,
		logger:       logging.NewComponentLogger("Handler"),
	}
}

// Send runs the full pipeline to completion and returns the final
// outcome: a direct-reply message, or a terminal task snapshot.
func (h *Handler) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	ch, err := h.SendStream(ctx, req)
	if err != nil {
		return nil, err
	}
	var result SendResult
	var taskID string
	var failCause error
	for ev := range ch {
		switch ev.Kind {
		case events.KindMessage:
			result.Message = ev.Message
		case events.KindTask:
			taskID = ev.TaskSnapshot.ID
		case events.KindStatusUpdate:
			if ev.Final && ev.Status.State == task.StatusFailed && ev.Status.Message != nil {
				failCause = errors.New(textOf(ev.Status.Message))
			}
		}
	}
	if taskID != "" {
		t, err := h.tasks.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		result.Task = t
		if t.Status.State == task.StatusFailed {
			if failCause == nil {
				failCause = errors.New("task failed")
			}
			return &result, apperrors.ModelError(failCause)
		}
	}
	return &result, nil
}

// SendStream returns a lazy, finite, non-restartable sequence of
// events ending with a terminal status-update (or, for a direct
// reply, a single message event). The channel is closed when the
// pipeline finishes; errors that occur after the channel is handed
// back are represented as emitted events (a failed/canceled terminal
// status-update), never by a second return path.
func (h *Handler) SendStream(ctx context.Context, req SendRequest) (<-chan events.Event, error) {
	if req.Message == nil || len(req.Message.Parts) == 0 {
		return nil, apperrors.InvalidRequest("message must have at least one part")
	}

	reqCtx, err := h.convo.EnsureContext(ctx, req.ContextID)
	if err != nil {
		return nil, apperrors.PersistenceError(err)
	}

	userMsg := req.Message.Clone()
	if userMsg.ID == "" {
		userMsg.ID = uuid.NewString()
	}
	userMsg.ContextID = reqCtx.ID
	userMsg.Role = convo.RoleUser
	if userMsg.Timestamp.IsZero() {
		userMsg.Timestamp = time.Now()
	}
	if err := h.convo.SaveMessage(ctx, userMsg); err != nil {
		return nil, apperrors.PersistenceError(err)
	}

	out := make(chan events.Event, 16)
	reqLog := h.logger.With("log_id", "log-"+shortID(userMsg.ID))
	async.Go(reqLog, "handler.pipeline", func() {
		defer close(out)
		seq := &events.SeqCounter{}
		emit := func(ev events.Event) { out <- ev }
		pctx, span := h.tracer.Start(context.Background(), "a2a.request",
			trace.WithAttributes(attribute.String("contextId", reqCtx.ID)))
		defer span.End()
		if err := h.run(pctx, reqCtx.ID, userMsg, req.Capabilities, seq, emit); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			reqLog.Error("pipeline error for context %s: %v", reqCtx.ID, err)
		}
	})
	return out, nil
}

// run drives stage 1 and, if the model branches into task execution,
// stages 2 and 3.
func (h *Handler) run(ctx context.Context, contextID string, userMsg *convo.Message, caps capability.Set, seq *events.SeqCounter, emit func(events.Event)) error {
	history, err := h.convo.History(ctx, contextID, true)
	if err != nil {
		return apperrors.PersistenceError(err)
	}

	if !h.cfg.AlwaysTask {
		resp, err := h.client.Complete(ctx, llm.CompleteRequest{
			History: history,
			Tools:   capability.NewSet(createTaskCapability()),
		})
		if err != nil {
			return apperrors.ModelError(err)
		}
		// When both text and createTask are present, the task branch
		// wins; the text is discarded.
		if resp.ToolCall == nil || resp.ToolCall.Name != createTaskTool {
			h.metrics.DirectReplyTotal.Inc()
			reply := &convo.Message{
				ID:        uuid.NewString(),
				ContextID: contextID,
				Role:      convo.RoleAgent,
				Parts:     []convo.Part{convo.TextPart(resp.Text)},
				Timestamp: time.Now(),
			}
			if err := h.convo.SaveMessage(ctx, reply); err != nil {
				return apperrors.PersistenceError(err)
			}
			emit(events.NewMessageEvent(seq, time.Now(), reply))
			return nil
		}
	}

	return h.runTask(ctx, contextID, userMsg, history, caps, seq, emit)
}

// runTask is stage 2 (task execution) followed by stage 3
// (finalization).
func (h *Handler) runTask(ctx context.Context, contextID string, userMsg *convo.Message, history []*convo.Message, caps capability.Set, seq *events.SeqCounter, emit func(events.Event)) error {
	t, err := h.tasks.Create(ctx, contextID, userMsg)
	if err != nil {
		return err
	}
	emit(events.NewTaskEvent(seq, time.Now(), t))

	abortCtx, cancel := h.tasks.RegisterAbort(ctx, t.ID)
	defer cancel(nil)

	working, err := h.tasks.Transition(ctx, t.ID, task.StatusWorking)
	if err != nil {
		// A cancelTask that landed while the task was still submitted
		// has already made it terminal; end the stream with that state.
		h.emitAlreadyTerminal(ctx, t.ID, contextID, seq, emit)
		return err
	}
	t = working
	emit(events.NewStatusUpdateEvent(seq, time.Now(), t.ID, contextID, t.Status, false))

	queue := orchestrator.NewStatusQueue()
	n := narrator.New(h.cfg.Narrator, h.client, h.tasks, queue, t.ID, contextID, narrator.FilterNonStatus(history))

	// Pair the narrator goroutine with this call's stream-consumer
	// lifecycle via errgroup: a panic inside the narrator surfaces
	// through narratorGroup.Wait() instead of being silently
	// swallowed, and narratorCtx is canceled alongside abortCtx so
	// both arms share one cancellation source.
	narratorGroup, narratorCtx := errgroup.WithContext(abortCtx)
	narratorGroup.Go(func() error { return n.Run(narratorCtx) })
	defer func() {
		n.Stop()
		if gerr := narratorGroup.Wait(); gerr != nil {
			h.logger.Warn("narrator exited abnormally for task %s: %v", t.ID, gerr)
		}
	}()

	tools := capability.NewSet(append(append([]capability.Capability{}, caps.List()...), createArtifactCapability())...)
	pipeline := artifactpipe.New(t.ID, contextID, seq)
	orch := orchestrator.New(seq, queue, pipeline, t.ID, contextID)

	// Count drained narrations as they pass the single emission point.
	emitOrch := func(ev events.Event) {
		if ev.Kind == events.KindStatusUpdate && !ev.Final && ev.Status.Message != nil && ev.Status.Message.IsStatusMessage() {
			h.metrics.NarrationsTotal.Inc()
		}
		emit(ev)
	}

	var artifactResult *artifact.Artifact
	var replyText strings.Builder
	onArtifactFinalized := func(toolCallID string) {
		a, ferr := pipeline.Finalize(toolCallID, time.Now())
		if ferr != nil {
			h.logger.Warn("artifact finalize failed for task %s: %v", t.ID, ferr)
			return
		}
		content := a.Parts[0].Text
		// A re-emission under a known artifact id is narrated as an
		// update, through the same queue the narrator feeds.
		if summary := pipeline.DiffSummary(a.ID, content); summary != "" {
			note := &convo.Message{
				ID:        uuid.NewString(),
				ContextID: contextID,
				TaskID:    t.ID,
				Role:      convo.RoleAgent,
				Parts:     []convo.Part{convo.TextPart(fmt.Sprintf("artifact %q %s", a.Name, summary))},
				Metadata:  map[string]string{convo.MetadataKeyKind: convo.MetadataKindStatusMessage},
				Timestamp: time.Now(),
			}
			if err := h.tasks.AttachMessage(ctx, t.ID, note); err != nil {
				h.logger.Warn("artifact update narration persist failed for task %s: %v", t.ID, err)
			} else {
				queue.Enqueue(note)
			}
		}
		pipeline.SeedPrior(a.ID, a.Name, content)
		artifactResult = a
		n.NotifyArtifactDetected()
		h.metrics.ArtifactBytes.Add(float64(len(content)))
	}
	onTextDelta := func(delta string) { replyText.WriteString(delta) }

	stream, err := h.client.Stream(abortCtx, llm.StreamRequest{
		History: history,
		Tools:   tools,
		ToolChoice: llm.ToolChoice{Mode: llm.ToolChoiceAuto},
	})
	if err != nil {
		return h.failTask(ctx, t.ID, contextID, seq, emit, apperrors.ModelError(err))
	}
	if runErr := orch.Run(stream, emitOrch, onArtifactFinalized, onTextDelta); runErr != nil {
		return h.failTask(ctx, t.ID, contextID, seq, emit, fmt.Errorf("artifact pipeline: %w", runErr))
	}
	h.recordStageUsage(ctx, t.ID, history, replyText.String())

	if canceled, cause := isCanceled(abortCtx); canceled {
		return h.finishCanceled(ctx, t.ID, contextID, seq, emit, cause)
	}

	if err := h.persistReply(ctx, t.ID, contextID, replyText.String()); err != nil {
		return h.failTask(ctx, t.ID, contextID, seq, emit, apperrors.PersistenceError(err))
	}

	// Stage 3: finalize.
	if artifactResult == nil {
		replyText.Reset()
		stream2, err := h.client.Stream(abortCtx, llm.StreamRequest{
			History:    history,
			Tools:      tools,
			ToolChoice: llm.ToolChoice{Mode: llm.ToolChoiceRequired, ForceName: artifactpipe.CreateArtifactTool},
		})
		if err != nil {
			return h.failTask(ctx, t.ID, contextID, seq, emit, apperrors.ModelError(err))
		}
		if runErr := orch.Run(stream2, emitOrch, onArtifactFinalized, onTextDelta); runErr != nil {
			return h.failTask(ctx, t.ID, contextID, seq, emit, fmt.Errorf("forced artifact pipeline: %w", runErr))
		}
		h.recordStageUsage(ctx, t.ID, history, replyText.String())
		if canceled, cause := isCanceled(abortCtx); canceled {
			return h.finishCanceled(ctx, t.ID, contextID, seq, emit, cause)
		}
	}
	if artifactResult != nil {
		if err := h.tasks.CreateArtifact(ctx, t.ID, artifactResult); err != nil {
			return h.failTask(ctx, t.ID, contextID, seq, emit, err)
		}
	}

	var finalMsg *convo.Message
	if artifactResult != nil {
		finalMsg = &convo.Message{
			ID:        uuid.NewString(),
			ContextID: contextID,
			TaskID:    t.ID,
			Role:      convo.RoleAgent,
			Parts:     []convo.Part{convo.TextPart(fmt.Sprintf("created artifact %q", artifactResult.Name))},
			Timestamp: time.Now(),
		}
		_ = h.tasks.AttachMessage(ctx, t.ID, finalMsg)
	}
	final, err := h.tasks.Transition(ctx, t.ID, task.StatusCompleted, task.WithStatusMessage(finalMsg))
	if err != nil {
		h.emitAlreadyTerminal(ctx, t.ID, contextID, seq, emit)
		return err
	}
	h.bumpTasksTotal(ctx, task.StatusCompleted)
	emit(events.NewStatusUpdateEvent(seq, time.Now(), t.ID, contextID, final.Status, true))
	return nil
}

// bumpTasksTotal increments both the Prometheus tasks_total counter and
// its OTel mirror for the given terminal state.
func (h *Handler) bumpTasksTotal(ctx context.Context, state task.Status) {
	h.metrics.TasksTotal.WithLabelValues(string(state)).Inc()
	h.tasksCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(state))))
}

func (h *Handler) persistReply(ctx context.Context, taskID, contextID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	msg := &convo.Message{
		ID:        uuid.NewString(),
		ContextID: contextID,
		TaskID:    taskID,
		Role:      convo.RoleAgent,
		Parts:     []convo.Part{convo.TextPart(text)},
		Timestamp: time.Now(),
	}
	return h.tasks.AttachMessage(ctx, taskID, msg)
}

func (h *Handler) failTask(ctx context.Context, taskID, contextID string, seq *events.SeqCounter, emit func(events.Event), cause error) error {
	msg := &convo.Message{
		ID:        uuid.NewString(),
		ContextID: contextID,
		TaskID:    taskID,
		Role:      convo.RoleAgent,
		Parts:     []convo.Part{convo.TextPart(apperrors.ToUserFacing(cause).UserMessage)},
		Timestamp: time.Now(),
	}
	final, err := h.tasks.Transition(ctx, taskID, task.StatusFailed, task.WithStatusMessage(msg))
	if err != nil {
		// A concurrent cancelTask may have already won the race to a
		// terminal transition; the sticky-terminal guard protects the
		// persisted record regardless of who wins, so just emit
		// whatever state actually landed.
		h.emitAlreadyTerminal(ctx, taskID, contextID, seq, emit)
		return cause
	}
	h.bumpTasksTotal(ctx, task.StatusFailed)
	emit(events.NewStatusUpdateEvent(seq, time.Now(), taskID, contextID, final.Status, true))
	return cause
}

// emitAlreadyTerminal emits the terminal status-update for a task that
// lost a race to reach a terminal state under this call, using
// whatever status another concurrent transition actually persisted.
func (h *Handler) emitAlreadyTerminal(ctx context.Context, taskID, contextID string, seq *events.SeqCounter, emit func(events.Event)) {
	t, err := h.tasks.Get(ctx, taskID)
	if err != nil || !t.Status.State.IsTerminal() {
		return
	}
	h.bumpTasksTotal(ctx, t.Status.State)
	emit(events.NewStatusUpdateEvent(seq, time.Now(), taskID, contextID, t.Status, true))
}

func (h *Handler) finishCanceled(ctx context.Context, taskID, contextID string, seq *events.SeqCounter, emit func(events.Event), cause error) error {
	msg := &convo.Message{
		ID:        uuid.NewString(),
		ContextID: contextID,
		TaskID:    taskID,
		Role:      convo.RoleAgent,
		Parts:     []convo.Part{convo.TextPart("canceled: " + cause.Error())},
		Timestamp: time.Now(),
	}
	final, err := h.tasks.Transition(ctx, taskID, task.StatusCanceled, task.WithStatusMessage(msg))
	if err != nil {
		// Already terminal — e.g. a concurrent cancelTask call won the
		// race to transition the task before this stream noticed its
		// own abort signal. Still emit this subscriber's terminal
		// event using whatever state actually landed.
		h.emitAlreadyTerminal(ctx, taskID, contextID, seq, emit)
		return nil
	}
	h.bumpTasksTotal(ctx, task.StatusCanceled)
	emit(events.NewStatusUpdateEvent(seq, time.Now(), taskID, contextID, final.Status, true))
	return nil
}

// GetTask returns a task snapshot, truncating history to its most
// recent historyLen entries when historyLen > 0.
func (h *Handler) GetTask(ctx context.Context, taskID string, historyLen int) (*task.Task, error) {
	t, err := h.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if historyLen > 0 && len(t.History) > historyLen {
		t.History = t.History[len(t.History)-historyLen:]
	}
	return t, nil
}

// CancelTask aborts taskID's in-flight execution and transitions it
// to canceled.
func (h *Handler) CancelTask(ctx context.Context, taskID string) (*task.Task, error) {
	return h.tasks.CancelTask(ctx, taskID)
}

func isCanceled(ctx context.Context) (bool, error) {
	cause := context.Cause(ctx)
	if cause == nil || ctx.Err() == nil {
		return false, nil
	}
	if errors.Is(cause, apperrors.ErrCanceled) {
		return true, cause
	}
	return true, cause
}

// recordStageUsage tallies the approximate token count/cost of one LLM
// call (prompt history plus produced text) into taskID's running
// progress counters. Never fatal: a counting/persistence hiccup here
// must not fail the pipeline it is merely observing.
func (h *Handler) recordStageUsage(ctx context.Context, taskID string, history []*convo.Message, produced string) {
	tokens := h.tokens.CountMessages(history) + llm.CountTokens(produced)
	if tokens == 0 {
		return
	}
	if err := h.tasks.RecordUsage(ctx, taskID, tokens, h.tokens.CostUSD(tokens)); err != nil {
		h.logger.Warn("record usage failed for task %s: %v", taskID, err)
	}
}

// shortID truncates an id to its first 8 characters for log
// correlation; caller-supplied message ids may be shorter than a UUID.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
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
