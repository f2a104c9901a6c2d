// Package capabilities adapts the three capability sources — prebuilt,
// A2A, and MCP — to the uniform capability.Capability interface the
// Request Handler hands to the LLM client, regardless of source.
package capabilities

import (
	"context"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/capability"
)

// InvokeFunc is a prebuilt capability's implementation.
type InvokeFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Prebuilt is a host-implemented capability backed by a plain Go
// function — the simplest of the three sources, used for the engine's
// own operational tools (distinct from the handler's internal
// createTask/createArtifact sentinels, which never go through this
// adapter).
type Prebuilt struct {
	name   string
	schema map[string]any
	fn     InvokeFunc
}

// NewPrebuilt builds a Prebuilt capability named name, described by
// schema, backed by fn.
func NewPrebuilt(name string, schema map[string]any, fn InvokeFunc) *Prebuilt {
	return &Prebuilt{name: name, schema: schema, fn: fn}
}

func (p *Prebuilt) Name() string               { return p.name }
func (p *Prebuilt) Source() capability.Source  { return capability.SourcePrebuilt }
func (p *Prebuilt) ArgsSchema() map[string]any { return p.schema }

// Invoke runs fn, converting a returned error into a capability.Result
// carrying Err rather than propagating it — per capability.Capability's
// contract that tool failures become a ToolError surfaced to the model,
// not a call-site error.
func (p *Prebuilt) Invoke(ctx context.Context, args map[string]any) (capability.Result, error) {
	out, err := p.fn(ctx, args)
	if err != nil {
		return capability.Result{Err: err}, nil
	}
	return capability.Result{Content: out}, nil
}
