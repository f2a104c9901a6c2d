package handler

import (
	"context"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/capability"
	"github.com/cklxx-elephant-ai/a2aengine/internal/engine/artifactpipe"
)

// createTaskTool is the well-known name stage 1's routing call looks
// for; calling it is the model's signal to branch into stage 2.
const createTaskTool = "createTask"

// sentinelCapability is a declarative-only capability: it exists so
// its name/schema can be offered to the LLM, but Invoke is never
// expected to run it mid-conversation (createTask never gets invoked,
// and createArtifact's real content arrives as streamed tool-input
// deltas the Artifact Pipeline consumes directly — Invoke here only
// acknowledges completion so the model's own tool-call loop sees a
// function-response).
type sentinelCapability struct {
	name   string
	source capability.Source
	schema map[string]any
}

func (s sentinelCapability) Name() string                 { return s.name }
func (s sentinelCapability) Source() capability.Source     { return s.source }
func (s sentinelCapability) ArgsSchema() map[string]any    { return s.schema }
func (s sentinelCapability) Invoke(_ context.Context, _ map[string]any) (capability.Result, error) {
	return capability.Result{Content: map[string]any{"status": "ok"}}, nil
}

// createTaskCapability builds the stage 1 sentinel tool.
func createTaskCapability() capability.Capability {
	return sentinelCapability{
		name:   createTaskTool,
		source: capability.SourcePrebuilt,
		schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"reason": map[string]any{"type": "string"}},
		},
	}
}

// createArtifactCapability builds the well-known artifact-producing
// tool added to stage 2/3's tool set.
func createArtifactCapability() capability.Capability {
	return sentinelCapability{
		name:   artifactpipe.CreateArtifactTool,
		source: capability.SourcePrebuilt,
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":        map[string]any{"type": "string"},
				"description": map[string]any{"type": "string"},
				"content":     map[string]any{"type": "string"},
			},
			"required": []any{"name", "content"},
		},
	}
}
