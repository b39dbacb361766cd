package chatapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/user/chatctl/internal/types"
)

var (
	_ types.ConversationService = (*Client)(nil)
	_ types.MessageService      = (*Client)(nil)
	_ types.ReplyStreamer       = (*Client)(nil)
	_ types.CatalogService      = (*Client)(nil)
	_ types.SettingsService     = (*Client)(nil)
	_ types.TitleService        = (*Client)(nil)
)

// ListConversations returns the caller's conversations in backend order.
func (c *Client) ListConversations(ctx context.Context) ([]types.Conversation, error) {
	var out []historyOut
	if err := c.doJSON(ctx, http.MethodGet, "/chat/histories", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	convs := make([]types.Conversation, len(out))
	for i, h := range out {
		convs[i] = h.conversation()
	}
	return convs, nil
}

func (c *Client) CreateConversation(ctx context.Context, title string) (*types.Conversation, error) {
	var out historyOut
	if err := c.doJSON(ctx, http.MethodPost, "/chat/histories", nil, historyIn{Title: title}, &out); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	conv := out.conversation()
	return &conv, nil
}

func (c *Client) RenameConversation(ctx context.Context, id types.ConversationID, title string) (*types.Conversation, error) {
	var out historyOut
	if err := c.doJSON(ctx, http.MethodPut, historyPath(id), nil, historyIn{Title: title}, &out); err != nil {
		return nil, fmt.Errorf("renaming conversation %s: %w", id, err)
	}
	conv := out.conversation()
	return &conv, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id types.ConversationID) error {
	if err := c.doJSON(ctx, http.MethodDelete, historyPath(id), nil, nil, nil); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	return nil
}

// ListMessages returns the authoritative message list, oldest first.
func (c *Client) ListMessages(ctx context.Context, id types.ConversationID) ([]types.Message, error) {
	var out []messageOut
	if err := c.doJSON(ctx, http.MethodGet, historyPath(id)+"/messages", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("listing messages of %s: %w", id, err)
	}
	msgs := make([]types.Message, 0, len(out))
	for _, m := range out {
		msg, ok := m.message()
		if !ok {
			slog.Debug("skipping message with unknown sender", "conversation_id", id, "message_id", m.ID, "sender", m.Sender)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// SendMessage posts one user turn and returns the stored reply. Sends are
// never retried.
func (c *Client) SendMessage(ctx context.Context, id types.ConversationID, req types.SendRequest) (*types.Message, error) {
	body := messageIn{
		Sender:      string(types.SenderUser),
		Content:     req.Content,
		ModelID:     numericID(string(req.ModelID)),
		ProviderID:  numericID(string(req.ProviderID)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	}
	var out messageOut
	if err := c.doJSON(ctx, http.MethodPost, historyPath(id)+"/messages", nil, body, &out); err != nil {
		return nil, fmt.Errorf("sending message to %s: %w", id, err)
	}
	msg, ok := out.message()
	if !ok || msg.Sender != types.SenderAssistant {
		return nil, fmt.Errorf("sending message to %s: unexpected reply sender %q", id, out.Sender)
	}
	return &msg, nil
}

func (c *Client) ListProviders(ctx context.Context) ([]types.Provider, error) {
	var out []providerOut
	if err := c.doJSON(ctx, http.MethodGet, "/model_providers/", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	providers := make([]types.Provider, len(out))
	for i, p := range out {
		providers[i] = types.Provider{ID: types.ProviderID(p.ID), Name: p.Name, APIHost: p.APIHost}
	}
	return providers, nil
}

func (c *Client) ListModels(ctx context.Context, provider types.ProviderID) ([]types.Model, error) {
	q := url.Values{"provider_id": {string(provider)}}
	var out []modelOut
	if err := c.doJSON(ctx, http.MethodGet, "/model_providers/models", q, nil, &out); err != nil {
		return nil, fmt.Errorf("listing models of provider %s: %w", provider, err)
	}
	models := make([]types.Model, len(out))
	for i, m := range out {
		models[i] = types.Model{ID: types.ModelID(m.ID), Name: m.Name, ProviderID: types.ProviderID(m.ProviderID)}
	}
	return models, nil
}

func (c *Client) GetSettings(ctx context.Context) (types.Settings, error) {
	var out settingsBody
	if err := c.doJSON(ctx, http.MethodGet, "/settings/", nil, nil, &out); err != nil {
		return types.Settings{}, fmt.Errorf("getting settings: %w", err)
	}
	return types.Settings(out), nil
}

func (c *Client) UpdateSettings(ctx context.Context, s types.Settings) (types.Settings, error) {
	var out settingsBody
	if err := c.doJSON(ctx, http.MethodPut, "/settings/", nil, settingsBody(s), &out); err != nil {
		return types.Settings{}, fmt.Errorf("updating settings: %w", err)
	}
	return types.Settings(out), nil
}

// GenerateTitle asks the backend to summarize prompt into a short title.
func (c *Client) GenerateTitle(ctx context.Context, prompt string) (string, error) {
	var out titleResponse
	if err := c.doJSON(ctx, http.MethodPost, "/chat/generate_title", nil, titleRequest{Content: prompt}, &out); err != nil {
		return "", fmt.Errorf("generating title: %w", err)
	}
	title := strings.TrimSpace(out.Title)
	if title == "" {
		return "", errors.New("generating title: empty title")
	}
	return title, nil
}

func historyPath(id types.ConversationID) string {
	return "/chat/histories/" + url.PathEscape(string(id))
}
