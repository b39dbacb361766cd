// Package chat is the streaming chat session controller. It owns the active
// conversation, orchestrates sends and keeps the transcript consistent with
// the backend.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/user/chatctl/internal/selection"
	"github.com/user/chatctl/internal/stream"
	"github.com/user/chatctl/internal/title"
	"github.com/user/chatctl/internal/transcript"
	"github.com/user/chatctl/internal/types"
)

// Deps are the collaborators a Controller drives.
type Deps struct {
	Conversations types.ConversationService
	Messages      types.MessageService
	Streams       types.ReplyStreamer
	Settings      types.SettingsService
	Titles        types.TitleService

	Session   *ClientSession
	Selection *selection.Synchronizer
	Notifier  Notifier
	// Prompts builds title prompts. When nil one is built for Locale.
	Prompts *title.Builder
	Locale  string
}

// Controller is safe for concurrent use. Send blocks for the whole exchange;
// Cancel and SelectConversation may be called from other goroutines.
type Controller struct {
	deps       Deps
	notifier   Notifier
	prompts    *title.Builder
	transcript *transcript.Store

	mu            sync.Mutex
	active        types.ConversationID
	conversations []types.Conversation
	input         string
	busy          bool
	// gen changes whenever the active conversation changes. Work started
	// under an older generation must not touch the transcript.
	gen uint64
	// loading is set while the active conversation's messages are being
	// fetched; sends are refused until the load lands.
	loading bool
	// loaded reports that the transcript holds the active conversation's
	// full history, so an exchange can be recognised as its first.
	loaded     bool
	consumer   *stream.Consumer
	cancelSend context.CancelFunc
}

func New(deps Deps) (*Controller, error) {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	prompts := deps.Prompts
	if prompts == nil {
		var err error
		prompts, err = title.New(deps.Locale, title.DefaultMaxInputTokens)
		if err != nil {
			return nil, fmt.Errorf("create title builder: %w", err)
		}
	}

	c := &Controller{
		deps:       deps,
		notifier:   notifier,
		prompts:    prompts,
		transcript: transcript.New(),
	}
	deps.Session.OnIdentityChange(c.resetIdentity)
	return c, nil
}

func (c *Controller) Transcript() *transcript.Store {
	return c.transcript
}

func (c *Controller) Selection() *selection.Synchronizer {
	return c.deps.Selection
}

func (c *Controller) Session() *ClientSession {
	return c.deps.Session
}

// Active returns the active conversation id, or "" when none is selected.
func (c *Controller) Active() types.ConversationID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	c.input = text
	c.mu.Unlock()
}

func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Busy reports whether a send is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Bootstrap runs the initial loads concurrently: settings, the conversation
// list and the provider catalog.
func (c *Controller) Bootstrap(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := c.deps.Settings.GetSettings(ctx)
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		return c.deps.Session.SetSettings(ctx, s)
	})
	g.Go(func() error {
		return c.RefreshConversations(ctx)
	})
	g.Go(func() error {
		return c.deps.Selection.LoadProviders(ctx)
	})
	return g.Wait()
}

// UpdateSettings validates s, pushes it to the backend and caches the stored
// record.
func (c *Controller) UpdateSettings(ctx context.Context, s types.Settings) (types.Settings, error) {
	if err := ValidateSettings(s); err != nil {
		return types.Settings{}, err
	}
	stored, err := c.deps.Settings.UpdateSettings(ctx, s)
	if err != nil {
		return types.Settings{}, err
	}
	if err := c.deps.Session.SetSettings(ctx, stored); err != nil {
		return stored, err
	}
	return stored, nil
}

// SetStreaming toggles the incremental reply mode.
func (c *Controller) SetStreaming(ctx context.Context, on bool) error {
	s := c.deps.Session.Settings()
	s.Stream = on
	_, err := c.UpdateSettings(ctx, s)
	return err
}

func (c *Controller) Conversations() []types.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Conversation(nil), c.conversations...)
}

func (c *Controller) RefreshConversations(ctx context.Context) error {
	convs, err := c.deps.Conversations.ListConversations(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conversations = convs
	c.mu.Unlock()
	return nil
}

// SelectConversation makes id active. Any in-flight send is cancelled before
// the messages of id load; a load overtaken by a later switch is dropped.
func (c *Controller) SelectConversation(ctx context.Context, id types.ConversationID) error {
	c.mu.Lock()
	c.abortLocked()
	c.active = id
	c.loading = true
	gen := c.gen
	c.transcript.ReplaceAll(nil)
	c.mu.Unlock()

	msgs, err := c.deps.Messages.ListMessages(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		slog.Debug("dropping stale conversation load", "conversation_id", id)
		return nil
	}
	c.loading = false
	if err != nil {
		c.notifier.Error(fmt.Sprintf("Could not load conversation: %v", err))
		return err
	}
	c.loaded = true
	c.transcript.ReplaceAll(msgs)
	return nil
}

// ClearConversation deselects the active conversation.
func (c *Controller) ClearConversation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abortLocked()
	c.active = ""
	c.transcript.ReplaceAll(nil)
}

// abortLocked ends the in-flight send, if any, and starts a new generation.
func (c *Controller) abortLocked() {
	if c.consumer != nil {
		c.consumer.Cancel()
	}
	if c.cancelSend != nil {
		c.cancelSend()
	}
	c.consumer = nil
	c.cancelSend = nil
	c.busy = false
	c.loading = false
	c.loaded = false
	c.gen++
}

// NewConversation creates a conversation with the localized default title and
// selects it.
func (c *Controller) NewConversation(ctx context.Context) (*types.Conversation, error) {
	c.mu.Lock()
	n := len(c.conversations) + 1
	c.mu.Unlock()

	conv, err := c.deps.Conversations.CreateConversation(ctx, title.DefaultConversationTitle(c.deps.Locale, n))
	if err != nil {
		return nil, err
	}
	if err := c.RefreshConversations(ctx); err != nil {
		slog.Warn("refreshing conversations", "error", err)
	}
	if err := c.SelectConversation(ctx, conv.ID); err != nil {
		return conv, err
	}
	return conv, nil
}

func (c *Controller) RenameConversation(ctx context.Context, id types.ConversationID, name string) error {
	if _, err := c.deps.Conversations.RenameConversation(ctx, id, name); err != nil {
		return err
	}
	return c.RefreshConversations(ctx)
}

// DeleteConversation removes id. Deleting the active conversation deselects it.
func (c *Controller) DeleteConversation(ctx context.Context, id types.ConversationID) error {
	if err := c.deps.Conversations.DeleteConversation(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	if c.active == id {
		c.abortLocked()
		c.active = ""
		c.transcript.ReplaceAll(nil)
	}
	c.mu.Unlock()
	return c.RefreshConversations(ctx)
}

// Cancel stops the in-flight reply. It reports whether there was one.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.busy {
		return false
	}
	if c.consumer != nil {
		c.consumer.Cancel()
	}
	if c.cancelSend != nil {
		c.cancelSend()
	}
	return true
}

func (c *Controller) resetIdentity(ctx context.Context) error {
	c.mu.Lock()
	c.abortLocked()
	c.active = ""
	c.conversations = nil
	c.transcript.ReplaceAll(nil)
	c.mu.Unlock()

	return c.deps.Selection.Reset(ctx)
}
