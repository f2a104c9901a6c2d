// Package artifact defines the persistent named output produced by
// the createArtifact tool and the in-flight streaming buffer it is
// built from.
package artifact

import "time"

// Part is the artifact's content. Currently always a single text part
// carrying a metadata map (mimeType, producer timestamp, etc.).
type Part struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Artifact is a persistent named output, unique per (taskID, ID).
type Artifact struct {
	ID          string    `json:"artifactId"`
	TaskID      string    `json:"taskId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Parts       []Part    `json:"parts"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Clone returns a deep-enough copy of a.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	out := *a
	if a.Parts != nil {
		out.Parts = make([]Part, len(a.Parts))
		for i, p := range a.Parts {
			cp := p
			if p.Metadata != nil {
				cp.Metadata = make(map[string]string, len(p.Metadata))
				for k, v := range p.Metadata {
					cp.Metadata[k] = v
				}
			}
			out.Parts[i] = cp
		}
	}
	return &out
}

// StreamState is the in-flight streaming buffer the Artifact Pipeline
// keys by toolCallId. It is born at tool-input-start and finalized at
// the terminal delta.
type StreamState struct {
	ToolCallID  string
	ArtifactID  string
	Name        string
	Description string
	Content     string
	LastChunk   bool
}

// Snapshot renders the current streaming state as the wire shape for
// an artifact-update event.
func (s *StreamState) Snapshot() Artifact {
	return Artifact{
		ID:   s.ArtifactID,
		Name: s.Name,
		Parts: []Part{
			{Text: s.Content},
		},
		Description: s.Description,
	}
}
