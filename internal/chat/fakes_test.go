package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/user/chatctl/internal/selection"
	"github.com/user/chatctl/internal/state"
	"github.com/user/chatctl/internal/title"
	"github.com/user/chatctl/internal/types"
)

// mockBackend implements every collaborator port. Func fields override the
// default behaviour.
type mockBackend struct {
	mu    sync.Mutex
	calls map[string]int

	conversations []types.Conversation
	messages      map[types.ConversationID][]types.Message
	providers     []types.Provider
	models        map[types.ProviderID][]types.Model
	settings      types.Settings
	renamed       map[types.ConversationID]string
	nextID        int

	OpenStreamFunc    func(ctx context.Context, id types.ConversationID, req types.SendRequest) (types.ReplyChannel, error)
	SendMessageFunc   func(ctx context.Context, id types.ConversationID, req types.SendRequest) (*types.Message, error)
	ListMessagesFunc  func(ctx context.Context, id types.ConversationID) ([]types.Message, error)
	GenerateTitleFunc func(ctx context.Context, prompt string) (string, error)
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		calls:         make(map[string]int),
		conversations: []types.Conversation{{ID: "1", Title: "New chat 1"}},
		messages:      make(map[types.ConversationID][]types.Message),
		providers:     []types.Provider{{ID: "1", Name: "openai"}},
		models:        map[types.ProviderID][]types.Model{"1": {{ID: "10", Name: "gpt-4o", ProviderID: "1"}}},
		settings:      types.DefaultSettings(),
		renamed:       make(map[types.ConversationID]string),
		nextID:        100,
	}
}

func (b *mockBackend) hit(name string) {
	b.mu.Lock()
	b.calls[name]++
	b.mu.Unlock()
}

func (b *mockBackend) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

// networkCalls counts calls made while sending a message.
func (b *mockBackend) networkCalls() int {
	return b.count("OpenStream") + b.count("SendMessage") + b.count("GenerateTitle")
}

func (b *mockBackend) ListConversations(ctx context.Context) ([]types.Conversation, error) {
	b.hit("ListConversations")
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Conversation, len(b.conversations))
	for i, c := range b.conversations {
		if name, ok := b.renamed[c.ID]; ok {
			c.Title = name
		}
		out[i] = c
	}
	return out, nil
}

func (b *mockBackend) CreateConversation(ctx context.Context, name string) (*types.Conversation, error) {
	b.hit("CreateConversation")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	conv := types.Conversation{ID: types.ConversationID(fmt.Sprint(b.nextID)), Title: name}
	b.conversations = append([]types.Conversation{conv}, b.conversations...)
	return &conv, nil
}

func (b *mockBackend) RenameConversation(ctx context.Context, id types.ConversationID, name string) (*types.Conversation, error) {
	b.hit("RenameConversation")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.renamed[id] = name
	return &types.Conversation{ID: id, Title: name}, nil
}

func (b *mockBackend) DeleteConversation(ctx context.Context, id types.ConversationID) error {
	b.hit("DeleteConversation")
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.conversations[:0]
	for _, c := range b.conversations {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	b.conversations = kept
	return nil
}

func (b *mockBackend) ListMessages(ctx context.Context, id types.ConversationID) ([]types.Message, error) {
	b.hit("ListMessages")
	if b.ListMessagesFunc != nil {
		return b.ListMessagesFunc(ctx, id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.Message(nil), b.messages[id]...), nil
}

func (b *mockBackend) SendMessage(ctx context.Context, id types.ConversationID, req types.SendRequest) (*types.Message, error) {
	b.hit("SendMessage")
	if b.SendMessageFunc != nil {
		return b.SendMessageFunc(ctx, id, req)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	user := types.Message{ID: types.MessageID(fmt.Sprint(b.nextID)), Sender: types.SenderUser, Content: req.Content}
	b.nextID++
	reply := types.Message{ID: types.MessageID(fmt.Sprint(b.nextID)), Sender: types.SenderAssistant, Content: "echo: " + req.Content, ReasoningClosed: true}
	b.messages[id] = append(b.messages[id], user, reply)
	return &reply, nil
}

func (b *mockBackend) OpenStream(ctx context.Context, id types.ConversationID, req types.SendRequest) (types.ReplyChannel, error) {
	b.hit("OpenStream")
	if b.OpenStreamFunc != nil {
		return b.OpenStreamFunc(ctx, id, req)
	}
	return nil, errors.New("no stream configured")
}

func (b *mockBackend) ListProviders(ctx context.Context) ([]types.Provider, error) {
	b.hit("ListProviders")
	return b.providers, nil
}

func (b *mockBackend) ListModels(ctx context.Context, provider types.ProviderID) ([]types.Model, error) {
	b.hit("ListModels")
	return b.models[provider], nil
}

func (b *mockBackend) GetSettings(ctx context.Context) (types.Settings, error) {
	b.hit("GetSettings")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings, nil
}

func (b *mockBackend) UpdateSettings(ctx context.Context, s types.Settings) (types.Settings, error) {
	b.hit("UpdateSettings")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settings = s
	return s, nil
}

func (b *mockBackend) GenerateTitle(ctx context.Context, prompt string) (string, error) {
	b.hit("GenerateTitle")
	if b.GenerateTitleFunc != nil {
		return b.GenerateTitleFunc(ctx, prompt)
	}
	return "Greetings", nil
}

// scriptedChannel replays frames, then ends with err (io.EOF when nil). When
// hold is set, Next blocks after the scripted frames until ctx ends.
type scriptedChannel struct {
	mu     sync.Mutex
	frames []string
	err    error
	hold   bool
	closed bool
	// delivered is signalled after each frame is handed out.
	delivered chan struct{}
}

func newScriptedChannel(frames ...string) *scriptedChannel {
	return &scriptedChannel{frames: frames, delivered: make(chan struct{}, 64)}
}

func (s *scriptedChannel) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if len(s.frames) > 0 {
		f := s.frames[0]
		s.frames = s.frames[1:]
		s.mu.Unlock()
		s.delivered <- struct{}{}
		return []byte(f), nil
	}
	hold, err := s.hold, s.err
	s.mu.Unlock()

	if hold {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *scriptedChannel) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func (n *recordingNotifier) Info(msg string) {
	n.mu.Lock()
	n.infos = append(n.infos, msg)
	n.mu.Unlock()
}

func (n *recordingNotifier) Warn(msg string) {
	n.mu.Lock()
	n.warns = append(n.warns, msg)
	n.mu.Unlock()
}

func (n *recordingNotifier) Error(msg string) {
	n.mu.Lock()
	n.errors = append(n.errors, msg)
	n.mu.Unlock()
}

func (n *recordingNotifier) counts() (warns, errs int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.warns), len(n.errors)
}

type fixture struct {
	ctrl     *Controller
	backend  *mockBackend
	notifier *recordingNotifier
	store    *state.MemoryStore
}

// newFixture builds a controller with a loaded catalog and, when conv is not
// empty, an active conversation.
func newFixture(t *testing.T, stream bool, conv types.ConversationID) *fixture {
	t.Helper()
	ctx := context.Background()

	backend := newMockBackend()
	backend.settings.Stream = stream
	store := state.NewMemoryStore()

	session, err := NewClientSession(ctx, store)
	require.NoError(t, err)
	sel := selection.New(backend, store)
	prompts, err := title.NewApprox("en", 0)
	require.NoError(t, err)
	notifier := &recordingNotifier{}

	ctrl, err := New(Deps{
		Conversations: backend,
		Messages:      backend,
		Streams:       backend,
		Settings:      backend,
		Titles:        backend,
		Session:       session,
		Selection:     sel,
		Notifier:      notifier,
		Prompts:       prompts,
		Locale:        "en",
	})
	require.NoError(t, err)
	require.NoError(t, ctrl.Bootstrap(ctx))

	if conv != "" {
		require.NoError(t, ctrl.SelectConversation(ctx, conv))
	}
	return &fixture{ctrl: ctrl, backend: backend, notifier: notifier, store: store}
}

// jwtFor builds an unsigned token with the given subject.
func jwtFor(t *testing.T, sub string) string {
	t.Helper()
	tok, err := unsignedToken(sub)
	require.NoError(t, err)
	return tok
}
