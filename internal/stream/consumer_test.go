package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/chatctl/internal/transcript"
	"github.com/user/chatctl/internal/types"
)

// fakeChannel delivers queued frames, then err (io.EOF when nil).
type fakeChannel struct {
	frames chan []byte
	err    error

	once   sync.Once
	closed chan struct{}
}

func newFakeChannel(buffer int) *fakeChannel {
	return &fakeChannel{frames: make(chan []byte, buffer), closed: make(chan struct{})}
}

func (f *fakeChannel) push(frames ...string) {
	for _, fr := range frames {
		f.frames <- []byte(fr)
	}
}

func (f *fakeChannel) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.closed:
		return nil, errors.New("read on closed channel")
	case data, ok := <-f.frames:
		if !ok {
			if f.err != nil {
				return nil, f.err
			}
			return nil, io.EOF
		}
		return data, nil
	}
}

func (f *fakeChannel) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeChannel) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type fakeOpener struct {
	ch    *fakeChannel
	err   error
	calls int
	req   types.SendRequest
}

func (o *fakeOpener) OpenStream(ctx context.Context, id types.ConversationID, req types.SendRequest) (types.ReplyChannel, error) {
	o.calls++
	o.req = req
	if o.err != nil {
		return nil, o.err
	}
	return o.ch, nil
}

func content(s string) string {
	return `{"choices":[{"delta":{"content":` + quote(s) + `}}]}`
}

func reasoning(s string) string {
	return `{"choices":[{"delta":{"reasoning_content":` + quote(s) + `}}]}`
}

func quote(s string) string {
	return `"` + s + `"`
}

func setup(t *testing.T) (*transcript.Store, types.MessageID, *Consumer) {
	t.Helper()
	store := transcript.New()
	store.AppendOptimistic(types.SenderUser, "Hello")
	id := store.AppendPlaceholder(types.SenderAssistant)
	return store, id, New(store, id)
}

func TestRunCompletes(t *testing.T) {
	store, id, c := setup(t)
	ch := newFakeChannel(8)
	ch.push(reasoning("Thinking"), reasoning("..."), content("Hi"), content(" there"), "[DONE]")
	opener := &fakeOpener{ch: ch}

	state, err := c.Run(context.Background(), opener, "1", types.SendRequest{Content: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, Completed, state)
	assert.True(t, ch.isClosed())
	assert.Equal(t, "Hello", opener.req.Content)

	m, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Thinking...", m.Reasoning)
	assert.Equal(t, "Hi there", m.Content)
	assert.True(t, m.ReasoningClosed)

	sess := c.Session()
	assert.Equal(t, id, sess.TargetID)
	assert.Equal(t, "Hi there", sess.Content)
	assert.Equal(t, 5, c.Stats().Frames)
}

func TestContentDeltaClosesReasoning(t *testing.T) {
	store, id, c := setup(t)

	c.OnFrame([]byte(reasoning("a")))
	m, _ := store.Get(id)
	assert.False(t, m.ReasoningClosed)

	c.OnFrame([]byte(content("b")))
	c.OnFrame([]byte(reasoning("late")))

	m, _ = store.Get(id)
	assert.True(t, m.ReasoningClosed)
	assert.Equal(t, "alate", m.Reasoning)
	assert.True(t, c.Session().ReasoningClosed)
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	store, id, c := setup(t)
	ch := newFakeChannel(8)
	ch.push(content("a"), "{oops", content("b"), "[DONE]")

	state, err := c.Run(context.Background(), &fakeOpener{ch: ch}, "1", types.SendRequest{})
	require.NoError(t, err)
	assert.Equal(t, Completed, state)

	m, _ := store.Get(id)
	assert.Equal(t, "ab", m.Content)
	assert.Equal(t, 1, c.Stats().Skipped)
}

func TestInBandErrorFails(t *testing.T) {
	_, _, c := setup(t)
	ch := newFakeChannel(8)
	ch.push(content("partial"), `{"error": "upstream timeout"}`, "[DONE]")

	state, err := c.Run(context.Background(), &fakeOpener{ch: ch}, "1", types.SendRequest{})
	assert.Equal(t, Failed, state)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "upstream timeout")
	assert.True(t, ch.isClosed())
}

func TestChannelEndWithoutSentinelFails(t *testing.T) {
	_, _, c := setup(t)
	ch := newFakeChannel(8)
	ch.push(content("a"))
	close(ch.frames)

	state, err := c.Run(context.Background(), &fakeOpener{ch: ch}, "1", types.SendRequest{})
	assert.Equal(t, Failed, state)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestTransportErrorFails(t *testing.T) {
	_, _, c := setup(t)
	ch := newFakeChannel(8)
	ch.err = errors.New("connection reset by peer")
	close(ch.frames)

	state, err := c.Run(context.Background(), &fakeOpener{ch: ch}, "1", types.SendRequest{})
	assert.Equal(t, Failed, state)
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, Failed, c.State())
}

func TestOpenFailureFails(t *testing.T) {
	store, id, c := setup(t)
	state, err := c.Run(context.Background(), &fakeOpener{err: errors.New("status 500")}, "1", types.SendRequest{})

	assert.Equal(t, Failed, state)
	assert.ErrorContains(t, err, "opening stream")
	m, _ := store.Get(id)
	assert.Empty(t, m.Content)
}

func TestCancelKeepsPartialContent(t *testing.T) {
	store, id, c := setup(t)
	ch := newFakeChannel(0)
	opener := &fakeOpener{ch: ch}

	done := make(chan State, 1)
	go func() {
		state, err := c.Run(context.Background(), opener, "1", types.SendRequest{})
		assert.NoError(t, err)
		done <- state
	}()

	ch.push(content("Hi"))
	require.Eventually(t, func() bool { return c.Session().Content == "Hi" }, time.Second, time.Millisecond)

	c.Cancel()
	c.Cancel()

	select {
	case state := <-done:
		assert.Equal(t, Cancelled, state)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Cancel")
	}

	assert.True(t, c.OnFrame([]byte(content(" more"))))
	m, _ := store.Get(id)
	assert.Equal(t, "Hi", m.Content)
	assert.Equal(t, Cancelled, c.State())
	assert.True(t, ch.isClosed())
}

func TestParentContextCancelEndsCancelled(t *testing.T) {
	_, _, c := setup(t)
	ch := newFakeChannel(0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan State, 1)
	go func() {
		state, _ := c.Run(ctx, &fakeOpener{ch: ch}, "1", types.SendRequest{})
		done <- state
	}()
	cancel()

	select {
	case state := <-done:
		assert.Equal(t, Cancelled, state)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}

func TestCancelBeforeRun(t *testing.T) {
	_, _, c := setup(t)
	c.Cancel()

	opener := &fakeOpener{ch: newFakeChannel(0)}
	state, err := c.Run(context.Background(), opener, "1", types.SendRequest{})
	require.NoError(t, err)
	assert.Equal(t, Cancelled, state)
	assert.Equal(t, 0, opener.calls)
}

func TestTerminalStatesAbsorb(t *testing.T) {
	store, id, c := setup(t)
	c.OnFrame([]byte("[DONE]"))
	require.Equal(t, Completed, c.State())

	c.Cancel()
	assert.Equal(t, Completed, c.State())
	assert.True(t, c.OnFrame([]byte(content("x"))))

	m, _ := store.Get(id)
	assert.Empty(t, m.Content)
	assert.True(t, m.ReasoningClosed)

	_, err := c.Run(context.Background(), &fakeOpener{}, "1", types.SendRequest{})
	assert.ErrorIs(t, err, ErrStarted)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "streaming", Streaming.String())
	assert.True(t, Cancelled.Terminal())
	assert.False(t, Connecting.Terminal())
}
