package convo

// PartKind discriminates the tagged union of message parts.
type PartKind string

const (
	PartKindText             PartKind = "text"
	PartKindFunctionCall     PartKind = "function-call"
	PartKindFunctionResponse PartKind = "function-response"
	PartKindOpaque           PartKind = "opaque"
)

// Part is one element of a message's ordered part sequence. Exactly
// one of the kind-specific fields is populated, selected by Kind —
// kept as a single struct since the A2A wire format serializes parts
// as one flat JSON object per kind rather than a polymorphic
// envelope.
type Part struct {
	Kind PartKind `json:"kind"`

	// PartKindText
	Text string `json:"text,omitempty"`

	// PartKindFunctionCall
	CallID   string         `json:"id,omitempty"`
	CallName string         `json:"name,omitempty"`
	CallArgs map[string]any `json:"args,omitempty"`

	// PartKindFunctionResponse (CallID reused as the response's id)
	Response map[string]any `json:"response,omitempty"`

	// PartKindOpaque
	OpaqueType string `json:"opaqueType,omitempty"`
	OpaqueData any    `json:"opaqueData,omitempty"`
}

// TextPart builds a PartKindText part.
func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// FunctionCallPart builds a PartKindFunctionCall part.
func FunctionCallPart(id, name string, args map[string]any) Part {
	return Part{Kind: PartKindFunctionCall, CallID: id, CallName: name, CallArgs: args}
}

// FunctionResponsePart builds a PartKindFunctionResponse part.
func FunctionResponsePart(id string, response map[string]any) Part {
	return Part{Kind: PartKindFunctionResponse, CallID: id, Response: response}
}

// clonePart returns a deep-enough copy of p: maps are copied so a
// caller mutating the clone cannot affect the original, matching the
// copy-on-read discipline used throughout this codebase for anything
// handed across a store or event boundary.
func clonePart(p Part) Part {
	out := p
	if p.CallArgs != nil {
		out.CallArgs = cloneStringMap(p.CallArgs)
	}
	if p.Response != nil {
		out.Response = cloneStringMap(p.Response)
	}
	return out
}

func cloneStringMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ClonePart exposes clonePart for other packages that need to hand out
// defensive copies of parts (e.g. the artifact pipeline snapshotting
// streaming state).
func ClonePart(p Part) Part { return clonePart(p) }
