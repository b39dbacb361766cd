// Package stream drives one incremental reply from open to a terminal state.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/user/chatctl/internal/types"
	"github.com/user/chatctl/pkg/llm"
)

type State int

const (
	Idle State = iota
	Connecting
	Streaming
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the state absorbs all further events.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

var (
	// ErrIncomplete is reported when the channel ends without the sentinel.
	ErrIncomplete = errors.New("stream ended before completion")
	// ErrUpstream wraps an error the backend reported inside the stream.
	ErrUpstream = errors.New("upstream error")
	// ErrStarted is returned by Run on a consumer that already ran.
	ErrStarted = errors.New("stream consumer already started")
)

// Sink receives deltas. *transcript.Store satisfies it.
type Sink interface {
	ApplyDelta(id types.MessageID, contentDelta, reasoningDelta string, reasoningClosed bool)
}

// Session is the accumulated state of one reply.
type Session struct {
	TargetID        types.MessageID
	Content         string
	Reasoning       string
	ReasoningClosed bool
}

type Stats struct {
	FirstFrame time.Duration
	Frames     int
	Skipped    int
}

// Consumer owns one reply channel. It never retries; a new send builds a new
// Consumer.
type Consumer struct {
	sink Sink

	mu      sync.Mutex
	state   State
	session Session
	stats   Stats
	err     error
	ch      types.ReplyChannel
	cancel  context.CancelFunc
	started time.Time
}

// New creates a consumer that pushes every delta to sink under target.
func New(sink Sink, target types.MessageID) *Consumer {
	return &Consumer{
		sink:    sink,
		session: Session{TargetID: target},
	}
}

// Run opens the channel and consumes it until a terminal state. Cancellation,
// whether through Cancel or ctx, ends in Cancelled with a nil error.
func (c *Consumer) Run(ctx context.Context, opener types.ReplyStreamer, conv types.ConversationID, req types.SendRequest) (State, error) {
	c.mu.Lock()
	if c.state == Cancelled {
		c.mu.Unlock()
		return Cancelled, nil
	}
	if st := c.state; st != Idle {
		c.mu.Unlock()
		return st, ErrStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancel = cancel
	c.state = Connecting
	c.started = time.Now()
	c.mu.Unlock()

	slog.Debug("opening stream", "conversation_id", conv, "target", c.session.TargetID)
	ch, err := opener.OpenStream(runCtx, conv, req)

	c.mu.Lock()
	if c.state == Cancelled {
		c.mu.Unlock()
		if ch != nil {
			ch.Close()
		}
		return Cancelled, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			c.state = Cancelled
			c.mu.Unlock()
			return Cancelled, nil
		}
		c.failLocked(fmt.Errorf("opening stream: %w", err))
		c.mu.Unlock()
		return Failed, c.err
	}
	c.ch = ch
	c.mu.Unlock()

	for {
		data, err := ch.Next(runCtx)
		if err != nil {
			return c.endOfChannel(ctx, err)
		}
		if c.OnFrame(data) {
			return c.result()
		}
	}
}

func (c *Consumer) endOfChannel(ctx context.Context, err error) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state.Terminal():
	case ctx.Err() != nil:
		c.state = Cancelled
		c.closeLocked()
	case errors.Is(err, io.EOF):
		c.failLocked(ErrIncomplete)
	default:
		c.failLocked(fmt.Errorf("reading stream: %w", err))
	}
	if c.state == Cancelled {
		return Cancelled, nil
	}
	return c.state, c.err
}

func (c *Consumer) result() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Cancelled {
		return Cancelled, nil
	}
	return c.state, c.err
}

// OnFrame applies one raw frame and reports whether the consumer is now in a
// terminal state. Frames that arrive after a terminal state are dropped.
func (c *Consumer) OnFrame(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Terminal() {
		return true
	}

	frame, err := llm.ParseFrame(data)
	if err != nil {
		c.stats.Skipped++
		slog.Warn("skipping malformed frame", "target", c.session.TargetID, "error", err)
		return false
	}

	if c.state != Streaming {
		c.state = Streaming
		if !c.started.IsZero() {
			c.stats.FirstFrame = time.Since(c.started)
		}
	}
	c.stats.Frames++

	switch {
	case frame.Done:
		c.session.ReasoningClosed = true
		c.sink.ApplyDelta(c.session.TargetID, "", "", true)
		c.state = Completed
		c.closeLocked()
		slog.Debug("stream completed",
			"target", c.session.TargetID,
			"frames", c.stats.Frames,
			"skipped", c.stats.Skipped,
			"first_frame", c.stats.FirstFrame)
		return true
	case frame.Error != "":
		c.failLocked(fmt.Errorf("%w: %s", ErrUpstream, frame.Error))
		return true
	}

	if frame.Content != "" {
		c.session.ReasoningClosed = true
	}
	c.session.Reasoning += frame.Reasoning
	c.session.Content += frame.Content
	c.sink.ApplyDelta(c.session.TargetID, frame.Content, frame.Reasoning, c.session.ReasoningClosed)
	return false
}

// Cancel stops the reply. It is idempotent and a no-op after a terminal state.
// Once it returns no further delta reaches the sink.
func (c *Consumer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return
	}
	c.state = Cancelled
	if c.cancel != nil {
		c.cancel()
	}
	c.closeLocked()
	slog.Debug("stream cancelled", "target", c.session.TargetID, "frames", c.stats.Frames)
}

func (c *Consumer) failLocked(err error) {
	c.state = Failed
	c.err = err
	c.closeLocked()
	slog.Debug("stream failed", "target", c.session.TargetID, "frames", c.stats.Frames, "error", err)
}

func (c *Consumer) closeLocked() {
	if c.ch == nil {
		return
	}
	if err := c.ch.Close(); err != nil {
		slog.Debug("closing stream", "error", err)
	}
	c.ch = nil
}

func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Consumer) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Err returns the failure cause once the consumer is Failed.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
