// Package a2a is the external interface adapter: it translates the
// A2A JSON-RPC 2.0 method set over HTTP POST, plus its Server-Sent
// Events streaming variant, to and from the Request Handler's typed
// Go calls.
package a2a

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/capability"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/convo"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/events"
	"github.com/cklxx-elephant-ai/a2aengine/internal/engine/handler"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/apperrors"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/logging"
)

const maxRPCBodyBytes = 4 << 20 // 4MiB

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	ID      json.RawMessage `json:"id"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type messagePartParam struct {
	Kind     string         `json:"kind"`
	Text     string         `json:"text,omitempty"`
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Response map[string]any `json:"response,omitempty"`
}

type messageParam struct {
	Role     string             `json:"role"`
	Parts    []messagePartParam `json:"parts"`
	Metadata map[string]string  `json:"metadata,omitempty"`
}

type sendParams struct {
	ContextID string       `json:"contextId,omitempty"`
	Message   messageParam `json:"message"`
}

type getTaskParams struct {
	TaskID        string `json:"taskId"`
	HistoryLength int    `json:"historyLength,omitempty"`
}

type cancelTaskParams struct {
	TaskID string `json:"taskId"`
}

func paramsToMessage(p messageParam) *convo.Message {
	parts := make([]convo.Part, len(p.Parts))
	for i, pp := range p.Parts {
		parts[i] = convo.Part{
			Kind:     convo.PartKind(pp.Kind),
			Text:     pp.Text,
			CallID:   pp.ID,
			CallName: pp.Name,
			CallArgs: pp.Args,
			Response: pp.Response,
		}
	}
	return &convo.Message{Role: convo.Role(p.Role), Parts: parts, Metadata: p.Metadata}
}

// Adapter wires a handler.Handler to the JSON-RPC + SSE transport.
// Capabilities is the server-wide tool snapshot offered to every
// request — selected at the cmd/a2aengine-server wiring layer, never
// from untrusted request params.
type Adapter struct {
	handler      *handler.Handler
	capabilities capability.Set
	tracer       trace.Tracer
	logger       logging.Logger
}

// NewAdapter builds an Adapter over h, offering caps to every
// message/send and message/sendStream call.
func NewAdapter(h *handler.Handler, caps capability.Set) *Adapter {
	return &Adapter{
		handler:      h,
		capabilities: caps,
		tracer:       otel.Tracer("a2aengine/a2a"),
		logger:       logging.NewComponentLogger("a2a.adapter"),
	}
}

// NewRouter builds the gin engine exposing the adapter's single
// JSON-RPC endpoint.
func NewRouter(a *Adapter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type", "Authorization"},
	}))
	r.POST("/a2a", a.handleRPC)
	r.GET("/dev/logs/index", a.handleLogIndex)
	return r
}

// handleLogIndex serves the per-log_id activity index aggregated from
// the engine's on-disk log files, newest first. A debugging surface,
// not part of the A2A method set.
func (a *Adapter) handleLogIndex(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	entries := logging.FetchRecentLogIndex(logging.LogIndexOptions{Limit: limit, Offset: offset})
	if entries == nil {
		entries = []logging.LogIndexEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (a *Adapter) handleRPC(c *gin.Context) {
	var req rpcRequest
	dec := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, maxRPCBodyBytes))
	if err := dec.Decode(&req); err != nil {
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "invalid JSON-RPC request body"}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInvalidRequest, Message: "missing jsonrpc/method"}})
		return
	}

	switch req.Method {
	case "message/send":
		a.handleSend(c, req)
	case "message/sendStream":
		a.handleSendStream(c, req)
	case "tasks/get":
		a.handleGetTask(c, req)
	case "tasks/cancel":
		a.handleCancelTask(c, req)
	default:
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeMethodNotFound, Message: "unknown method " + req.Method}})
	}
}

func (a *Adapter) writeResult(c *gin.Context, id json.RawMessage, result any) {
	c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (a *Adapter) writeError(c *gin.Context, id json.RawMessage, err error) {
	c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: id, Error: rpcErrorFor(err)})
}

func (a *Adapter) decodeSendParams(c *gin.Context, req rpcRequest) (*sendParams, bool) {
	var params sendParams
	if len(req.Params) == 0 {
		a.writeError(c, req.ID, apperrors.InvalidRequest("params required"))
		return nil, false
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		a.writeError(c, req.ID, apperrors.InvalidRequest("malformed params: "+err.Error()))
		return nil, false
	}
	if len(params.Message.Parts) == 0 {
		a.writeError(c, req.ID, apperrors.InvalidRequest("message must have at least one part"))
		return nil, false
	}
	return &params, true
}

// handleSend implements message/send: the blocking call returning
// either a direct-reply message or a completed/failed task snapshot.
func (a *Adapter) handleSend(c *gin.Context, req rpcRequest) {
	params, ok := a.decodeSendParams(c, req)
	if !ok {
		return
	}
	result, err := a.handler.Send(c.Request.Context(), handler.SendRequest{
		ContextID:    params.ContextID,
		Message:      paramsToMessage(params.Message),
		Capabilities: a.capabilities,
	})
	if result == nil {
		// err is non-nil here: a pre-dispatch failure (InvalidRequest,
		// PersistenceError on context creation) with no task to report.
		a.writeError(c, req.ID, err)
		return
	}
	// A ModelError wrapping a failed task is not an RPC-level error —
	// the task's own status already carries "failed"; the result is
	// the task snapshot either way.
	if result.Message != nil {
		out := wireMessage(result.Message)
		out["kind"] = "message"
		a.writeResult(c, req.ID, out)
		return
	}
	a.writeResult(c, req.ID, wireTask(result.Task))
}

// handleSendStream implements message/sendStream: an SSE response
// relaying the handler's event channel verbatim, one frame per event,
// ending with the terminal status-update.
func (a *Adapter) handleSendStream(c *gin.Context, req rpcRequest) {
	params, ok := a.decodeSendParams(c, req)
	if !ok {
		return
	}

	// One span covers the whole SSE connection, separate from the
	// handler's own per-request "a2a.request" span: this one ends
	// with the HTTP write loop rather than the pipeline
	// goroutine, so it captures time a slow/stalled subscriber spends
	// reading frames, not just time spent producing them.
	ctx, span := a.tracer.Start(c.Request.Context(), "a2a.sse_connection",
		trace.WithAttributes(attribute.String("contextId", params.ContextID)))
	defer span.End()

	ch, err := a.handler.SendStream(ctx, handler.SendRequest{
		ContextID:    params.ContextID,
		Message:      paramsToMessage(params.Message),
		Capabilities: a.capabilities,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.writeError(c, req.ID, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	var frames int
	for ev := range ch {
		kind := string(ev.Kind)
		if err := writeSSE(c.Writer, kind, wireEvent(ev)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			a.logger.Warn("sendStream write failed, dropping subscriber: %v", err)
			return
		}
		frames++
		if ev.Kind == events.KindStatusUpdate && ev.Final {
			span.SetAttributes(attribute.Int("frames", frames))
			return
		}
	}
	span.SetAttributes(attribute.Int("frames", frames))
}

func (a *Adapter) handleGetTask(c *gin.Context, req rpcRequest) {
	var params getTaskParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.TaskID == "" {
		a.writeError(c, req.ID, apperrors.InvalidRequest("taskId required"))
		return
	}
	t, err := a.handler.GetTask(c.Request.Context(), params.TaskID, params.HistoryLength)
	if err != nil {
		a.writeError(c, req.ID, err)
		return
	}
	a.writeResult(c, req.ID, wireTask(t))
}

func (a *Adapter) handleCancelTask(c *gin.Context, req rpcRequest) {
	var params cancelTaskParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.TaskID == "" {
		a.writeError(c, req.ID, apperrors.InvalidRequest("taskId required"))
		return
	}
	t, err := a.handler.CancelTask(c.Request.Context(), params.TaskID)
	if err != nil {
		a.writeError(c, req.ID, err)
		return
	}
	a.writeResult(c, req.ID, wireTask(t))
}
