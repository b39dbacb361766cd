package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedFrame is returned for payloads that are neither the sentinel nor
// a JSON chunk.
var ErrMalformedFrame = errors.New("malformed frame")

// ParseFrame normalizes one raw frame payload. A leading "data:" field name is
// tolerated so callers may pass either the event data or the raw line.
func ParseFrame(data []byte) (Frame, error) {
	data = bytes.TrimSpace(data)
	if rest, ok := bytes.CutPrefix(data, []byte("data:")); ok {
		data = bytes.TrimSpace(rest)
	}
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}
	if string(data) == Done {
		return Frame{Done: true}, nil
	}

	var c chunk
	if err := json.Unmarshal(data, &c); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if msg, ok := parseError(c.Error); ok {
		return Frame{Error: msg}, nil
	}

	var f Frame
	if len(c.Choices) == 0 {
		return f, nil
	}
	ch := c.Choices[0]
	if ch.Delta != nil {
		f.Reasoning = deref(ch.Delta.ReasoningContent)
		f.Content = deref(ch.Delta.Content)
	}
	if f.Reasoning == "" {
		f.Reasoning = deref(ch.ReasoningContent)
	}
	if f.Content == "" {
		f.Content = deref(ch.Content)
	}
	return f, nil
}

func parseError(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			s = "upstream error"
		}
		return s, true
	}
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message, true
	}
	return strings.TrimSpace(string(raw)), true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
