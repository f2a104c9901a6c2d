package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/capability"
)

// A2A is a remote agent exposed as a single opaque capability — the
// engine never inspects what the remote does with the call. Invoking
// it round-trips a JSON-RPC "message/send" call to the peer's
// endpoint.
type A2A struct {
	name     string
	schema   map[string]any
	endpoint string
	http     *http.Client
	headers  http.Header
	id       uint64
}

// A2AOption configures an A2A capability.
type A2AOption func(*A2A)

// WithA2AHTTPClient overrides the underlying *http.Client.
func WithA2AHTTPClient(c *http.Client) A2AOption {
	return func(a *A2A) { a.http = c }
}

// WithA2ABearerToken attaches an Authorization header to every call.
func WithA2ABearerToken(token string) A2AOption {
	return func(a *A2A) {
		if a.headers == nil {
			a.headers = make(http.Header)
		}
		a.headers.Set("Authorization", "Bearer "+token)
	}
}

// NewA2A builds a capability that proxies to a remote agent's
// message/send endpoint, named for the LLM as name.
func NewA2A(name, endpoint string, schema map[string]any, opts ...A2AOption) *A2A {
	a := &A2A{
		name:     name,
		schema:   schema,
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		headers:  make(http.Header),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *A2A) Name() string               { return a.name }
func (a *A2A) Source() capability.Source  { return capability.SourceA2A }
func (a *A2A) ArgsSchema() map[string]any { return a.schema }

type a2aRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      uint64 `json:"id"`
	Params  any    `json:"params,omitempty"`
}

type a2aRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *a2aRPCError    `json:"error"`
	ID      uint64          `json:"id"`
}

type a2aRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *a2aRPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("a2a error %d: %s", e.Code, e.Message)
}

// Invoke forwards args as the params of a message/send JSON-RPC call.
// A remote-side RPC error becomes a ToolError (Result.Err), not a
// call-site error — the caller's own task keeps running regardless of
// what the peer did with the request.
func (a *A2A) Invoke(ctx context.Context, args map[string]any) (capability.Result, error) {
	reqID := atomic.AddUint64(&a.id, 1)
	rpcReq := a2aRPCRequest{JSONRPC: "2.0", Method: "message/send", ID: reqID, Params: args}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return capability.Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return capability.Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range a.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return capability.Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return capability.Result{Err: fmt.Errorf("a2a peer %s: http status %d", a.name, resp.StatusCode)}, nil
	}

	var rpcResp a2aRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return capability.Result{}, err
	}
	if rpcResp.Error != nil {
		return capability.Result{Err: rpcResp.Error}, nil
	}

	var content map[string]any
	if len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, &content); err != nil {
			content = map[string]any{"raw": string(rpcResp.Result)}
		}
	}
	return capability.Result{Content: content}, nil
}
