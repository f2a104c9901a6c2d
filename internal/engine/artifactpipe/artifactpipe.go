// Package artifactpipe converts createArtifact tool-call streaming
// deltas into progressive artifact-update events and a final
// persisted artifact. It is the sole producer of artifact-update
// events; stage 3's forced-artifact path reuses the same pipeline so
// subscribers cannot distinguish natural from forced artifacts.
package artifactpipe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
	diffmatchpatch "github.com/sergi/go-diff/diffmatchpatch"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/artifact"
	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/events"
	"github.com/cklxx-elephant-ai/a2aengine/internal/llm"
)

// CreateArtifactTool is the well-known tool name stage 2 and stage 3
// add to the LLM's tool set for artifact production.
const CreateArtifactTool = "createArtifact"

// Pipeline tracks in-flight artifact streams for one sendStream call.
type Pipeline struct {
	taskID    string
	contextID string
	seq       *events.SeqCounter

	states map[string]*artifact.StreamState // keyed by toolCallId
	// priorContent holds the final content of artifacts already
	// emitted under this task, keyed by artifact id, so a re-emission
	// can be diffed against what subscribers previously saw.
	priorContent map[string]string
	// idByName maps an emitted artifact's name to its id: a second
	// createArtifact call with the same name streams replacement
	// content under the existing id instead of minting a new one.
	idByName map[string]string
}

// New builds a Pipeline for one task's stream.
func New(taskID, contextID string, seq *events.SeqCounter) *Pipeline {
	return &Pipeline{
		taskID:       taskID,
		contextID:    contextID,
		seq:          seq,
		states:       make(map[string]*artifact.StreamState),
		priorContent: make(map[string]string),
		idByName:     make(map[string]string),
	}
}

// SeedPrior records an already-emitted (or already-persisted)
// artifact so a later re-emission under the same name reuses its id
// and is diffed against content. The handler calls this after each
// finalization; callers resuming a task may also seed its persisted
// artifact list.
func (p *Pipeline) SeedPrior(artifactID, name, content string) {
	p.priorContent[artifactID] = content
	if name != "" {
		p.idByName[name] = artifactID
	}
}

// Handle consumes one LLM stream event. It returns ok=false when the
// event produced no artifact-update (non-artifact tool calls, text
// deltas, or a tool-input-start allocation with nothing to emit yet).
func (p *Pipeline) Handle(ev llm.StreamEvent, now time.Time) (out events.Event, ok bool, err error) {
	switch ev.Kind {
	case llm.StreamEventToolInputStart:
		if ev.ToolName != CreateArtifactTool {
			return events.Event{}, false, nil
		}
		p.states[ev.ToolCallID] = &artifact.StreamState{
			ToolCallID: ev.ToolCallID,
			ArtifactID: uuid.NewString(),
		}
		return events.Event{}, false, nil

	case llm.StreamEventToolCall:
		state, tracked := p.states[ev.ToolCallID]
		if !tracked {
			return events.Event{}, false, nil
		}
		args := ev.ToolArgs
		if args == nil && ev.ContentDelta != "" {
			args, err = parseToolArgs(ev.ContentDelta)
			if err != nil {
				return events.Event{}, false, fmt.Errorf("artifactpipe: parse createArtifact args: %w", err)
			}
		}
		if name, ok := args["name"].(string); ok {
			state.Name = name
			// Re-emission: replacement content streams under the
			// artifact id subscribers already hold for this name.
			if prior, exists := p.idByName[name]; exists {
				state.ArtifactID = prior
			}
		}
		if desc, ok := args["description"].(string); ok {
			state.Description = desc
		}
		return events.Event{}, false, nil

	case llm.StreamEventToolInputDelta:
		state, tracked := p.states[ev.ToolCallID]
		if !tracked {
			return events.Event{}, false, nil
		}
		state.Content += ev.ContentDelta
		state.LastChunk = ev.IsLast
		snapshot := state.Snapshot()
		ev := events.NewArtifactUpdateEvent(p.seq, now, p.taskID, p.contextID, snapshot, state.LastChunk)
		return ev, true, nil

	default:
		return events.Event{}, false, nil
	}
}

// Finalize normalizes and returns the finished artifact for
// toolCallID: mime type guessed from content, timestamp set
// to now. Called once, at the step where the createArtifact tool call
// completes.
func (p *Pipeline) Finalize(toolCallID string, now time.Time) (*artifact.Artifact, error) {
	state, ok := p.states[toolCallID]
	if !ok {
		return nil, fmt.Errorf("artifactpipe: no stream state for tool call %s", toolCallID)
	}
	name := state.Name
	if name == "" {
		name = "artifact-" + state.ArtifactID[:8]
	}
	meta := map[string]string{
		"mimeType":  guessMimeType(state.Content),
		"timestamp": now.UTC().Format(time.RFC3339),
	}
	a := &artifact.Artifact{
		ID:          state.ArtifactID,
		TaskID:      p.taskID,
		Name:        name,
		Description: state.Description,
		Parts:       []artifact.Part{{Text: state.Content, Metadata: meta}},
		CreatedAt:   now,
	}
	return a, nil
}

// DiffSummary returns a short human-readable diff between the
// artifact's content before this emission (if any, per SeedPrior) and
// its finalized content. The handler narrates a non-empty summary as
// a status message, so subscribers see a re-emission described as an
// update rather than a fresh artifact.
func (p *Pipeline) DiffSummary(artifactID, finalContent string) string {
	prior, seeded := p.priorContent[artifactID]
	if !seeded || prior == finalContent {
		return ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(prior, finalContent, false)
	added, removed := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += len(d.Text)
		}
	}
	return fmt.Sprintf("updated (+%d/-%d chars)", added, removed)
}

func parseToolArgs(raw string) (map[string]any, error) {
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		repaired = raw
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func guessMimeType(content string) string {
	trimmed := strings.TrimSpace(content)
	switch {
	case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		return "application/json"
	case strings.HasPrefix(trimmed, "# ") || strings.Contains(trimmed, "\n#"):
		return "text/markdown"
	default:
		return "text/plain"
	}
}
