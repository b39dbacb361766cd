package chatapi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/user/chatctl/internal/types"
)

// wireID decodes the integer ids the backend uses. Strings are accepted as well.
type wireID string

func (i *wireID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		*i = ""
		return nil
	}
	*i = wireID(s)
	return nil
}

// timestamp decodes backend datetimes, which are ISO 8601 and usually carry
// no zone. Zone-less values are read as UTC.
type timestamp time.Time

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil || s == "" {
		*t = timestamp{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			*t = timestamp(v)
			return nil
		}
	}
	*t = timestamp{}
	return nil
}

type historyOut struct {
	ID        wireID    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt timestamp `json:"created_at"`
	UpdatedAt timestamp `json:"updated_at"`
}

func (h historyOut) conversation() types.Conversation {
	return types.Conversation{
		ID:        types.ConversationID(h.ID),
		Title:     h.Title,
		CreatedAt: time.Time(h.CreatedAt),
		UpdatedAt: time.Time(h.UpdatedAt),
	}
}

type historyIn struct {
	Title string `json:"title"`
}

type messageOut struct {
	ID        wireID    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt timestamp `json:"created_at"`
}

// message converts m. It reports false for senders the client does not show.
func (m messageOut) message() (types.Message, bool) {
	sender, ok := types.ParseSender(m.Sender)
	if !ok {
		return types.Message{}, false
	}
	return types.Message{
		ID:              types.MessageID(m.ID),
		Sender:          sender,
		Content:         m.Content,
		CreatedAt:       time.Time(m.CreatedAt),
		ReasoningClosed: sender == types.SenderAssistant,
	}, true
}

type messageIn struct {
	Sender      string  `json:"sender"`
	Content     string  `json:"content"`
	ModelID     *int64  `json:"model_id,omitempty"`
	ProviderID  *int64  `json:"provider_id,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Stream      bool    `json:"stream"`
}

// numericID converts a client id to the backend's integer form. Ids that are
// not numeric are dropped and the backend rejects the request.
func numericID(s string) *int64 {
	n, err := types.ParseServerID(s)
	if err != nil {
		return nil
	}
	return &n
}

type providerOut struct {
	ID      wireID `json:"id"`
	Name    string `json:"name"`
	APIHost string `json:"api_host"`
}

type modelOut struct {
	ID         wireID `json:"id"`
	Name       string `json:"name"`
	ProviderID wireID `json:"provider_id"`
}

type settingsBody struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Stream      bool    `json:"stream"`
}

type titleRequest struct {
	Content string `json:"content"`
}

type titleResponse struct {
	Title string `json:"title"`
}
