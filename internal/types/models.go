// internal/types/models.go
package types

import (
	"strings"
	"time"
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// ParseSender maps wire sender labels onto the two client roles. The backend
// stores model replies as "ai". Any other label, including an empty one,
// reports false; such messages are not part of the visible transcript.
func ParseSender(s string) (Sender, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return SenderUser, true
	case "ai", "assistant":
		return SenderAssistant, true
	default:
		return "", false
	}
}

type Message struct {
	ID              MessageID `json:"id"`
	Sender          Sender    `json:"sender"`
	Content         string    `json:"content"`
	Reasoning       string    `json:"reasoning,omitempty"`
	ReasoningClosed bool      `json:"reasoning_closed"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

type Conversation struct {
	ID        ConversationID `json:"id"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type Provider struct {
	ID      ProviderID `json:"id"`
	Name    string     `json:"name"`
	APIHost string     `json:"api_host"`
}

type Model struct {
	ID         ModelID    `json:"id"`
	Name       string     `json:"name"`
	ProviderID ProviderID `json:"provider_id"`
}

// Settings are the per-user inference parameters kept by the backend.
type Settings struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Stream      bool    `json:"stream"`
}

// DefaultSettings mirrors the record the backend creates for a new user.
func DefaultSettings() Settings {
	return Settings{Temperature: 0.7, MaxTokens: 2048, Stream: true}
}

// Selection is the chosen provider and model. Empty ids mean absent.
type Selection struct {
	ProviderID ProviderID `json:"provider_id,omitempty"`
	ModelID    ModelID    `json:"model_id,omitempty"`
}

// Complete reports whether both halves of the selection are present.
func (s Selection) Complete() bool {
	return s.ProviderID != "" && s.ModelID != ""
}

// SendRequest carries one user turn to the backend, on either reply path.
type SendRequest struct {
	Content     string
	ModelID     ModelID
	ProviderID  ProviderID
	Temperature float64
	MaxTokens   int
}
