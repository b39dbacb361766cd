package llm

import "encoding/json"

// Done is the payload that terminates an incremental reply.
const Done = "[DONE]"

// Frame is one normalized unit of an incremental reply. A frame is either the
// terminating sentinel, an upstream error reported in-band, or a payload with
// at most one reasoning delta and at most one content delta.
type Frame struct {
	Done      bool   `json:"done,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HasDelta reports whether the frame carries any text.
func (f Frame) HasDelta() bool {
	return f.Reasoning != "" || f.Content != ""
}

// chunk is the OpenAI-compatible streaming chunk as relayed by the backend.
type chunk struct {
	Choices []chunkChoice   `json:"choices"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// chunkChoice accepts both the delta shape and the flattened shape some
// upstreams emit.
type chunkChoice struct {
	Delta            *chunkDelta `json:"delta,omitempty"`
	ReasoningContent *string     `json:"reasoning_content,omitempty"`
	Content          *string     `json:"content,omitempty"`
}

type chunkDelta struct {
	ReasoningContent *string `json:"reasoning_content,omitempty"`
	Content          *string `json:"content,omitempty"`
}

// errorBody covers {"error": {"message": "..."}} payloads.
type errorBody struct {
	Message string `json:"message"`
}
