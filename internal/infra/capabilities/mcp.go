package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/capability"
	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/logging"
)

// MCPServerConfig names and locates one MCP server to mount tools from.
type MCPServerConfig struct {
	Name     string
	Endpoint string
	Headers  map[string]string
}

// MCPRegistry mounts tools exposed by configured MCP servers as
// capability.Capability instances. It speaks a single HTTP JSON-RPC
// transport: an MCP server is a configured remote endpoint, not a
// process this engine launches and restarts itself.
type MCPRegistry struct {
	mu      sync.RWMutex
	clients map[string]*mcpClient
	tools   map[string]*mcpTool
	logger  logging.Logger
}

// MCPRegistryOption customises registry construction.
type MCPRegistryOption func(*MCPRegistry)

// WithMCPLogger overrides the registry's component logger.
func WithMCPLogger(l logging.Logger) MCPRegistryOption {
	return func(r *MCPRegistry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewMCPRegistry builds an empty registry.
func NewMCPRegistry(opts ...MCPRegistryOption) *MCPRegistry {
	r := &MCPRegistry{
		clients: make(map[string]*mcpClient),
		tools:   make(map[string]*mcpTool),
		logger:  logging.NewComponentLogger("mcp.registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mount connects to cfg's endpoint, lists its tools, and registers
// each as a capability named "mcp__<server>__<tool>"; the prefix
// disambiguates same-named tools across servers.
func (r *MCPRegistry) Mount(ctx context.Context, cfg MCPServerConfig) ([]capability.Capability, error) {
	client := newMCPClient(cfg)
	list, err := client.listTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp server %s: list tools: %w", cfg.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[cfg.Name] = client

	caps := make([]capability.Capability, 0, len(list))
	for _, ts := range list {
		name := fmt.Sprintf("mcp__%s__%s", cfg.Name, ts.Name)
		t := &mcpTool{name: name, server: cfg.Name, remoteName: ts.Name, schema: ts.InputSchema, client: client}
		r.tools[name] = t
		caps = append(caps, t)
	}
	r.logger.Info("mounted %d tools from mcp server %s", len(caps), cfg.Name)
	return caps, nil
}

// Unmount drops a server's client and its tools, e.g. on health-check
// failure. The caller re-mounts rather than the registry supervising
// a background restart timer, since there is no subprocess lifecycle
// here to own.
func (r *MCPRegistry) Unmount(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, name)
	for toolName, t := range r.tools {
		if t.server == name {
			delete(r.tools, toolName)
		}
	}
}

// List returns every currently mounted tool capability.
func (r *MCPRegistry) List() []capability.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]capability.Capability, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// mcpTool adapts one remote MCP tool to capability.Capability.
type mcpTool struct {
	name       string
	server     string
	remoteName string
	schema     map[string]any
	client     *mcpClient
}

func (t *mcpTool) Name() string               { return t.name }
func (t *mcpTool) Source() capability.Source  { return capability.SourceMCP }
func (t *mcpTool) ArgsSchema() map[string]any { return t.schema }

func (t *mcpTool) Invoke(ctx context.Context, args map[string]any) (capability.Result, error) {
	res, err := t.client.callTool(ctx, t.remoteName, args)
	if err != nil {
		return capability.Result{Err: err}, nil
	}
	if res.IsError {
		return capability.Result{Err: fmt.Errorf("mcp tool %s: %s", t.name, res.text())}, nil
	}
	return capability.Result{Content: map[string]any{"text": res.text()}}, nil
}

// mcpClient speaks MCP's JSON-RPC-over-HTTP tools/list and tools/call
// methods to one configured server.
type mcpClient struct {
	cfg  MCPServerConfig
	http *http.Client
}

func newMCPClient(cfg MCPServerConfig) *mcpClient {
	return &mcpClient{cfg: cfg, http: &http.Client{Timeout: 30 * time.Second}}
}

type mcpToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type mcpContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type mcpToolCallResult struct {
	Content []mcpContentBlock `json:"content"`
	IsError bool              `json:"isError"`
}

func (r *mcpToolCallResult) text() string {
	var out string
	for _, c := range r.Content {
		out += c.Text
	}
	return out
}

type mcpRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int    `json:"id"`
	Params  any    `json:"params,omitempty"`
}

type mcpRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *mcpClient) do(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(mcpRPCRequest{JSONRPC: "2.0", Method: method, ID: 1, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mcp server %s: http status %d", c.cfg.Name, resp.StatusCode)
	}
	var rpcResp mcpRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("mcp server %s: %s (code %d)", c.cfg.Name, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if out != nil && len(rpcResp.Result) > 0 {
		return json.Unmarshal(rpcResp.Result, out)
	}
	return nil
}

func (c *mcpClient) listTools(ctx context.Context) ([]mcpToolSchema, error) {
	var out struct {
		Tools []mcpToolSchema `json:"tools"`
	}
	if err := c.do(ctx, "tools/list", nil, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

func (c *mcpClient) callTool(ctx context.Context, name string, args map[string]any) (*mcpToolCallResult, error) {
	var out mcpToolCallResult
	params := map[string]any{"name": name, "arguments": args}
	if err := c.do(ctx, "tools/call", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
