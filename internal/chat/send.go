package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/chatctl/internal/stream"
	"github.com/user/chatctl/internal/title"
	"github.com/user/chatctl/internal/types"
)

// Outcome describes how a send ended.
type Outcome int

const (
	// OutcomeIgnored means the send was rejected before any side effect.
	OutcomeIgnored Outcome = iota
	// OutcomeStreamed means the incremental reply completed.
	OutcomeStreamed
	// OutcomeDirect means the single-response call succeeded.
	OutcomeDirect
	// OutcomeFallback means the stream failed and the single-response retry
	// succeeded.
	OutcomeFallback
	// OutcomeCancelled covers user cancellation and conversation switches.
	OutcomeCancelled
	// OutcomeFailed means no reply was obtained.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeStreamed:
		return "streamed"
	case OutcomeDirect:
		return "direct"
	case OutcomeFallback:
		return "fallback"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Succeeded reports whether a reply was obtained.
func (o Outcome) Succeeded() bool {
	return o == OutcomeStreamed || o == OutcomeDirect || o == OutcomeFallback
}

// sendJob is the snapshot a send works from.
type sendJob struct {
	gen      uint64
	conv     types.ConversationID
	text     string
	req      types.SendRequest
	firstMsg bool
}

// Send submits the current input to the active conversation and blocks until
// the exchange ends. A send while another is in flight, without an active
// conversation or with blank input is ignored. A send without a complete
// provider/model selection is rejected with a warning.
func (c *Controller) Send(ctx context.Context) (Outcome, error) {
	job, sendCtx, err := c.begin(ctx)
	if err != nil {
		return OutcomeIgnored, err
	}
	defer c.finish(job.gen)

	settings := c.deps.Session.Settings()
	var outcome Outcome
	if settings.Stream {
		outcome, err = c.sendStreaming(sendCtx, job)
	} else {
		outcome, err = c.sendDirect(sendCtx, job)
		if outcome == OutcomeFailed {
			c.notifier.Error(fmt.Sprintf("Send failed: %v", err))
		}
	}

	if outcome.Succeeded() && job.firstMsg {
		c.generateTitle(sendCtx, job)
	}
	return outcome, err
}

// begin validates the send, clears the input and inserts the optimistic user
// message, all under the controller lock.
func (c *Controller) begin(ctx context.Context) (sendJob, context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy || c.loading {
		return sendJob{}, nil, ErrBusy
	}
	if c.active == "" {
		return sendJob{}, nil, ErrNoConversation
	}
	text := strings.TrimSpace(c.input)
	if text == "" {
		return sendJob{}, nil, ErrEmptyInput
	}
	sel := c.deps.Selection.Selection()
	if !sel.Complete() {
		c.notifier.Warn("Select a provider and a model first.")
		return sendJob{}, nil, ErrNoSelection
	}

	settings := c.deps.Session.Settings()
	job := sendJob{
		gen:  c.gen,
		conv: c.active,
		text: text,
		req: types.SendRequest{
			Content:     text,
			ModelID:     sel.ModelID,
			ProviderID:  sel.ProviderID,
			Temperature: settings.Temperature,
			MaxTokens:   settings.MaxTokens,
		},
		firstMsg: c.loaded && !hasAssistant(c.transcript.Snapshot()),
	}

	c.input = ""
	c.busy = true
	sendCtx, cancel := context.WithCancel(ctx)
	c.cancelSend = cancel
	c.transcript.AppendOptimistic(types.SenderUser, text)

	slog.Debug("sending", "conversation_id", job.conv, "stream", settings.Stream, "model_id", sel.ModelID)
	return job, sendCtx, nil
}

func (c *Controller) finish(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if c.cancelSend != nil {
		c.cancelSend()
	}
	c.cancelSend = nil
	c.consumer = nil
	c.busy = false
}

// sendStreaming runs a Stream Consumer into a fresh placeholder. On failure
// the placeholder and any partial text are removed and the single-response
// path takes over.
func (c *Controller) sendStreaming(ctx context.Context, job sendJob) (Outcome, error) {
	c.mu.Lock()
	if job.gen != c.gen {
		c.mu.Unlock()
		return OutcomeCancelled, nil
	}
	placeholder := c.transcript.AppendPlaceholder(types.SenderAssistant)
	consumer := stream.New(c.transcript, placeholder)
	c.consumer = consumer
	c.mu.Unlock()

	state, err := consumer.Run(ctx, c.deps.Streams, job.conv, job.req)
	switch state {
	case stream.Completed:
		return OutcomeStreamed, nil
	case stream.Cancelled:
		return OutcomeCancelled, nil
	}

	c.mu.Lock()
	if job.gen != c.gen {
		c.mu.Unlock()
		return OutcomeCancelled, nil
	}
	c.transcript.Remove(placeholder)
	c.consumer = nil
	c.mu.Unlock()

	slog.Warn("stream failed, falling back", "conversation_id", job.conv, "error", err)
	c.notifier.Warn("Streaming failed, retrying without streaming.")

	outcome, err := c.sendDirect(ctx, job)
	switch outcome {
	case OutcomeDirect:
		return OutcomeFallback, nil
	case OutcomeFailed:
		c.notifier.Error(fmt.Sprintf("Send failed: %v", err))
	}
	return outcome, err
}

// sendDirect issues the single-response call into a fresh placeholder and
// merges the authoritative reply into it.
func (c *Controller) sendDirect(ctx context.Context, job sendJob) (Outcome, error) {
	c.mu.Lock()
	if job.gen != c.gen {
		c.mu.Unlock()
		return OutcomeCancelled, nil
	}
	placeholder := c.transcript.AppendPlaceholder(types.SenderAssistant)
	c.mu.Unlock()

	reply, err := c.deps.Messages.SendMessage(ctx, job.conv, job.req)
	if err != nil {
		c.mu.Lock()
		stale := job.gen != c.gen
		if !stale {
			c.transcript.Remove(placeholder)
		}
		c.mu.Unlock()
		if stale || ctx.Err() != nil {
			return OutcomeCancelled, nil
		}
		return OutcomeFailed, err
	}

	authoritative := *reply
	if msgs, err := c.deps.Messages.ListMessages(ctx, job.conv); err != nil {
		slog.Debug("listing messages after send", "conversation_id", job.conv, "error", err)
	} else if latest, ok := latestAssistant(msgs); ok {
		authoritative = latest
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if job.gen != c.gen {
		return OutcomeCancelled, nil
	}
	c.transcript.MergeServerMessage(placeholder, authoritative)
	return OutcomeDirect, nil
}

// hasAssistant reports whether msgs already contain a reply. A conversation
// whose earlier sends all failed still counts as untitled.
func hasAssistant(msgs []types.Message) bool {
	_, ok := latestAssistant(msgs)
	return ok
}

func latestAssistant(msgs []types.Message) (types.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == types.SenderAssistant {
			return msgs[i], true
		}
	}
	return types.Message{}, false
}

// generateTitle names a conversation after its first exchange. Failures only
// warn.
func (c *Controller) generateTitle(ctx context.Context, job sendJob) {
	prompt, err := c.prompts.Prompt(job.text)
	if err != nil {
		c.titleFailed(ctx, job, err)
		return
	}
	raw, err := c.deps.Titles.GenerateTitle(ctx, prompt)
	if err != nil {
		c.titleFailed(ctx, job, err)
		return
	}
	name := title.Clean(raw)
	if name == "" {
		c.titleFailed(ctx, job, errors.New("empty title"))
		return
	}
	if _, err := c.deps.Conversations.RenameConversation(ctx, job.conv, name); err != nil {
		c.titleFailed(ctx, job, err)
		return
	}
	if err := c.RefreshConversations(ctx); err != nil {
		slog.Warn("refreshing conversations", "error", err)
	}
	slog.Debug("conversation titled", "conversation_id", job.conv, "title", name)
}

func (c *Controller) titleFailed(ctx context.Context, job sendJob, err error) {
	if ctx.Err() != nil {
		return
	}
	slog.Warn("title generation failed", "conversation_id", job.conv, "error", err)
	c.notifier.Warn("Could not generate a title for this conversation.")
}
