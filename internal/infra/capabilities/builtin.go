package capabilities

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/capability"
)

const execTimeout = 30 * time.Second

var execSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"command": map[string]any{"type": "string", "description": "shell command to run"},
	},
	"required": []string{"command"},
}

// NewExec builds the "exec" prebuilt capability: runs a shell command
// through /bin/sh -c with a bounded timeout, returning combined
// stdout/stderr. A non-zero exit becomes a ToolError (capability.Result.Err)
// rather than a call-site error, same as every other Prebuilt.
func NewExec() *Prebuilt {
	return NewPrebuilt("exec", execSchema, func(ctx context.Context, args map[string]any) (map[string]any, error) {
		command, _ := args["command"].(string)
		if command == "" {
			return nil, fmt.Errorf("exec: command is required")
		}
		runCtx, cancel := context.WithTimeout(ctx, execTimeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("exec: %w: %s", err, out.String())
		}
		return map[string]any{"output": out.String()}, nil
	})
}

var memorySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"op":    map[string]any{"type": "string", "enum": []string{"get", "set", "delete"}},
		"key":   map[string]any{"type": "string"},
		"value": map[string]any{"type": "string"},
	},
	"required": []string{"op", "key"},
}

// Memory is the "memory" prebuilt capability: a process-scoped
// key-value store the model can read and write across tool calls.
// Keys live on the instance, not in a global: every task offered the
// same Memory instance shares its keys.
type Memory struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemory builds an empty Memory capability.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]string)}
}

func (m *Memory) Name() string               { return "memory" }
func (m *Memory) Source() capability.Source  { return capability.SourcePrebuilt }
func (m *Memory) ArgsSchema() map[string]any { return memorySchema }

// Invoke dispatches op against the in-memory store. Errors from a
// malformed request (missing op/key) are returned as ToolError results,
// matching Prebuilt's convention.
func (m *Memory) Invoke(_ context.Context, args map[string]any) (capability.Result, error) {
	op, _ := args["op"].(string)
	key, _ := args["key"].(string)
	if key == "" {
		return capability.Result{Err: fmt.Errorf("memory: key is required")}, nil
	}
	switch op {
	case "set":
		value, _ := args["value"].(string)
		m.mu.Lock()
		m.items[key] = value
		m.mu.Unlock()
		return capability.Result{Content: map[string]any{"ok": true}}, nil
	case "get":
		m.mu.RLock()
		value, ok := m.items[key]
		m.mu.RUnlock()
		if !ok {
			return capability.Result{Err: fmt.Errorf("memory: key %q not found", key)}, nil
		}
		return capability.Result{Content: map[string]any{"value": value}}, nil
	case "delete":
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return capability.Result{Content: map[string]any{"ok": true}}, nil
	default:
		return capability.Result{Err: fmt.Errorf("memory: unknown op %q", op)}, nil
	}
}

// Searcher is the interface a "search" prebuilt capability delegates
// to. The engine treats the actual search backend as an opaque
// external collaborator, so Searcher is injected rather than
// hard-coded to one provider.
type Searcher interface {
	Search(ctx context.Context, query string) ([]string, error)
}

var searchSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query": map[string]any{"type": "string"},
	},
	"required": []string{"query"},
}

// NewSearch builds the "search" prebuilt capability over s. Calling it
// with no Searcher configured surfaces a ToolError rather than
// fabricating results.
func NewSearch(s Searcher) *Prebuilt {
	return NewPrebuilt("search", searchSchema, func(ctx context.Context, args map[string]any) (map[string]any, error) {
		if s == nil {
			return nil, fmt.Errorf("search: no search backend configured")
		}
		query, _ := args["query"].(string)
		if query == "" {
			return nil, fmt.Errorf("search: query is required")
		}
		results, err := s.Search(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
		return map[string]any{"results": results}, nil
	})
}
