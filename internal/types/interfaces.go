// internal/types/interfaces.go
package types

import (
	"context"
)

type ConversationService interface {
	ListConversations(ctx context.Context) ([]Conversation, error)
	CreateConversation(ctx context.Context, title string) (*Conversation, error)
	RenameConversation(ctx context.Context, id ConversationID, title string) (*Conversation, error)
	DeleteConversation(ctx context.Context, id ConversationID) error
}

type MessageService interface {
	ListMessages(ctx context.Context, id ConversationID) ([]Message, error)
	SendMessage(ctx context.Context, id ConversationID, req SendRequest) (*Message, error)
}

// ReplyChannel yields raw frame payloads of one incremental reply in arrival
// order. Next returns io.EOF once the transport has no more frames.
type ReplyChannel interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

type ReplyStreamer interface {
	OpenStream(ctx context.Context, id ConversationID, req SendRequest) (ReplyChannel, error)
}

type CatalogService interface {
	ListProviders(ctx context.Context) ([]Provider, error)
	ListModels(ctx context.Context, provider ProviderID) ([]Model, error)
}

type SettingsService interface {
	GetSettings(ctx context.Context) (Settings, error)
	UpdateSettings(ctx context.Context, s Settings) (Settings, error)
}

type TitleService interface {
	GenerateTitle(ctx context.Context, prompt string) (string, error)
}

// Persistence is the client-side key/value port. Get reports ok=false for a
// missing key. Clear with no keys is a no-op.
type Persistence interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context, keys ...string) error
}
