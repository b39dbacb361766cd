package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/chatctl/internal/selection"
	"github.com/user/chatctl/internal/types"
)

const (
	frameThinking = `{"choices":[{"delta":{"reasoning_content":"Thinking"}}]}`
	frameDots     = `{"choices":[{"delta":{"reasoning_content":"..."}}]}`
	frameHi       = `{"choices":[{"delta":{"content":"Hi"}}]}`
	frameThere    = `{"choices":[{"delta":{"content":" there"}}]}`
)

func TestSendStreamingHello(t *testing.T) {
	f := newFixture(t, true, "1")
	ch := newScriptedChannel(frameThinking, frameDots, frameHi, frameThere, "[DONE]")

	var snapshots [][]types.Message
	f.backend.OpenStreamFunc = func(ctx context.Context, id types.ConversationID, req types.SendRequest) (types.ReplyChannel, error) {
		assert.Equal(t, types.ConversationID("1"), id)
		assert.Equal(t, "Hello", req.Content)
		assert.Equal(t, types.ModelID("10"), req.ModelID)
		assert.Equal(t, types.ProviderID("1"), req.ProviderID)
		assert.Empty(t, f.ctrl.Input(), "input is cleared before network activity")
		snapshots = append(snapshots, f.ctrl.Transcript().Snapshot())
		return ch, nil
	}

	f.ctrl.SetInput("Hello")
	outcome, err := f.ctrl.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeStreamed, outcome)

	// Before the stream opened: optimistic user message and empty placeholder.
	require.Len(t, snapshots, 1)
	require.Len(t, snapshots[0], 2)
	assert.Equal(t, types.SenderUser, snapshots[0][0].Sender)
	assert.Equal(t, "Hello", snapshots[0][0].Content)
	assert.Equal(t, types.SenderAssistant, snapshots[0][1].Sender)
	assert.Empty(t, snapshots[0][1].Content)

	msgs := f.ctrl.Transcript().Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Thinking...", msgs[1].Reasoning)
	assert.True(t, msgs[1].ReasoningClosed)
	assert.Equal(t, "Hi there", msgs[1].Content)
	assert.True(t, ch.closed)

	assert.Equal(t, 1, f.backend.count("GenerateTitle"))
	assert.Equal(t, "Greetings", f.backend.renamed["1"])
	assert.Equal(t, "Greetings", f.ctrl.Conversations()[0].Title)
	assert.False(t, f.ctrl.Busy())
}

func TestSendWithoutSelectionMakesNoCalls(t *testing.T) {
	f := newFixture(t, true, "1")
	require.NoError(t, f.ctrl.Selection().Reset(context.Background()))
	before := f.ctrl.Transcript().Len()

	f.ctrl.SetInput("Hello")
	outcome, err := f.ctrl.Send(context.Background())

	assert.ErrorIs(t, err, ErrNoSelection)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, 0, f.backend.networkCalls())
	assert.Equal(t, before, f.ctrl.Transcript().Len())
	assert.Equal(t, "Hello", f.ctrl.Input())
	warns, _ := f.notifier.counts()
	assert.Equal(t, 1, warns)
}

func TestSendIgnoredCases(t *testing.T) {
	t.Run("no conversation", func(t *testing.T) {
		f := newFixture(t, true, "")
		f.ctrl.SetInput("Hello")
		_, err := f.ctrl.Send(context.Background())
		assert.ErrorIs(t, err, ErrNoConversation)
		assert.Equal(t, 0, f.backend.networkCalls())
	})

	t.Run("blank input", func(t *testing.T) {
		f := newFixture(t, true, "1")
		f.ctrl.SetInput("   ")
		_, err := f.ctrl.Send(context.Background())
		assert.ErrorIs(t, err, ErrEmptyInput)
		assert.Equal(t, 0, f.ctrl.Transcript().Len())
	})

	t.Run("send in flight", func(t *testing.T) {
		f := newFixture(t, true, "1")
		ch := newScriptedChannel(frameHi)
		ch.hold = true
		f.backend.OpenStreamFunc = func(context.Context, types.ConversationID, types.SendRequest) (types.ReplyChannel, error) {
			return ch, nil
		}

		f.ctrl.SetInput("first")
		done := make(chan Outcome, 1)
		go func() {
			outcome, _ := f.ctrl.Send(context.Background())
			done <- outcome
		}()
		<-ch.delivered

		f.ctrl.SetInput("second")
		outcome, err := f.ctrl.Send(context.Background())
		assert.ErrorIs(t, err, ErrBusy)
		assert.Equal(t, OutcomeIgnored, outcome)

		require.True(t, f.ctrl.Cancel())
		assert.Equal(t, OutcomeCancelled, <-done)
		assert.Equal(t, 1, f.backend.count("OpenStream"))
	})
}

func TestCancelKeepsPartialReply(t *testing.T) {
	f := newFixture(t, true, "1")
	ch := newScriptedChannel(frameHi)
	ch.hold = true
	f.backend.OpenStreamFunc = func(context.Context, types.ConversationID, types.SendRequest) (types.ReplyChannel, error) {
		return ch, nil
	}

	f.ctrl.SetInput("Hello")
	done := make(chan Outcome, 1)
	go func() {
		outcome, err := f.ctrl.Send(context.Background())
		assert.NoError(t, err)
		done <- outcome
	}()

	<-ch.delivered
	require.Eventually(t, func() bool {
		msgs := f.ctrl.Transcript().Snapshot()
		return len(msgs) == 2 && msgs[1].Content == "Hi"
	}, time.Second, time.Millisecond)

	f.ctrl.Cancel()
	f.ctrl.Cancel()

	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeCancelled, outcome)
	case <-time.After(time.Second):
		t.Fatal("send did not end after cancel")
	}

	msgs := f.ctrl.Transcript().Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi", msgs[1].Content)
	assert.Equal(t, 0, f.backend.count("SendMessage"))
	assert.Equal(t, 0, f.backend.count("GenerateTitle"))
	assert.False(t, f.ctrl.Busy())
	assert.False(t, f.ctrl.Cancel())
}

func TestStreamFailureFallsBack(t *testing.T) {
	f := newFixture(t, true, "1")
	f.backend.OpenStreamFunc = func(context.Context, types.ConversationID, types.SendRequest) (types.ReplyChannel, error) {
		return nil, errors.New("connection refused")
	}

	f.ctrl.SetInput("Hello")
	outcome, err := f.ctrl.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, outcome)

	msgs := f.ctrl.Transcript().Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, "echo: Hello", msgs[1].Content)
	assert.False(t, msgs[1].ID.IsLocal(), "placeholder takes the server id")

	warns, errs := f.notifier.counts()
	assert.Equal(t, 1, warns)
	assert.Equal(t, 0, errs)
	assert.Equal(t, 1, f.backend.count("GenerateTitle"))
}

func TestStreamFailureAfterPartialDiscardsIt(t *testing.T) {
	f := newFixture(t, true, "1")
	ch := newScriptedChannel(frameHi, `{"error": "upstream timeout"}`)
	f.backend.OpenStreamFunc = func(context.Context, types.ConversationID, types.SendRequest) (types.ReplyChannel, error) {
		return ch, nil
	}

	f.ctrl.SetInput("Hello")
	outcome, err := f.ctrl.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, outcome)

	msgs := f.ctrl.Transcript().Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "echo: Hello", msgs[1].Content)
}

func TestStreamAndFallbackFailureRollsBack(t *testing.T) {
	f := newFixture(t, true, "1")
	f.backend.OpenStreamFunc = func(context.Context, types.ConversationID, types.SendRequest) (types.ReplyChannel, error) {
		return newScriptedChannel(), nil
	}
	f.backend.SendMessageFunc = func(context.Context, types.ConversationID, types.SendRequest) (*types.Message, error) {
		return nil, errors.New("status 502")
	}

	f.ctrl.SetInput("Hello")
	outcome, err := f.ctrl.Send(context.Background())
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	msgs := f.ctrl.Transcript().Snapshot()
	require.Len(t, msgs, 1, "only the user message remains")
	assert.Equal(t, types.SenderUser, msgs[0].Sender)

	warns, errs := f.notifier.counts()
	assert.Equal(t, 1, warns)
	assert.Equal(t, 1, errs)
	assert.Equal(t, 0, f.backend.count("GenerateTitle"))
}

func TestSendDirect(t *testing.T) {
	f := newFixture(t, false, "1")

	f.ctrl.SetInput("Hello")
	outcome, err := f.ctrl.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDirect, outcome)
	assert.Equal(t, 0, f.backend.count("OpenStream"))

	msgs := f.ctrl.Transcript().Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "echo: Hello", msgs[1].Content)
	assert.True(t, msgs[1].ReasoningClosed)
	assert.Equal(t, 1, f.backend.count("GenerateTitle"))

	f.ctrl.SetInput("Again")
	_, err = f.ctrl.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, f.ctrl.Transcript().Len())
	assert.Equal(t, 1, f.backend.count("GenerateTitle"), "title only after the first exchange")
}

func TestSendDirectFailureRollsBack(t *testing.T) {
	f := newFixture(t, false, "1")
	f.backend.SendMessageFunc = func(context.Context, types.ConversationID, types.SendRequest) (*types.Message, error) {
		return nil, errors.New("status 500")
	}

	f.ctrl.SetInput("Hello")
	outcome, err := f.ctrl.Send(context.Background())
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 1, f.ctrl.Transcript().Len())
	_, errs := f.notifier.counts()
	assert.Equal(t, 1, errs)
}

func TestSendDirectCancelIsSilent(t *testing.T) {
	f := newFixture(t, false, "1")
	started := make(chan struct{})
	f.backend.SendMessageFunc = func(ctx context.Context, _ types.ConversationID, _ types.SendRequest) (*types.Message, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.ctrl.SetInput("Hello")
	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := f.ctrl.Send(context.Background())
		done <- outcome
	}()
	<-started
	f.ctrl.Cancel()

	assert.Equal(t, OutcomeCancelled, <-done)
	assert.Equal(t, 1, f.ctrl.Transcript().Len())
	warns, errs := f.notifier.counts()
	assert.Equal(t, 0, warns)
	assert.Equal(t, 0, errs)
}

func TestDirectMergesAuthoritativeList(t *testing.T) {
	f := newFixture(t, false, "1")
	f.backend.ListMessagesFunc = func(context.Context, types.ConversationID) ([]types.Message, error) {
		return []types.Message{
			{ID: "1", Sender: types.SenderUser, Content: "Hello"},
			{ID: "2", Sender: types.SenderAssistant, Content: "authoritative"},
		}, nil
	}

	f.ctrl.SetInput("Hello")
	_, err := f.ctrl.Send(context.Background())
	require.NoError(t, err)

	msgs := f.ctrl.Transcript().Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, types.MessageID("2"), msgs[1].ID)
	assert.Equal(t, "authoritative", msgs[1].Content)
}

func TestTitleFailureOnlyWarns(t *testing.T) {
	f := newFixture(t, false, "1")
	f.backend.GenerateTitleFunc = func(context.Context, string) (string, error) {
		return "", errors.New("status 500")
	}

	f.ctrl.SetInput("Hello")
	outcome, err := f.ctrl.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDirect, outcome)

	warns, errs := f.notifier.counts()
	assert.Equal(t, 1, warns)
	assert.Equal(t, 0, errs)
	assert.Equal(t, 0, f.backend.count("RenameConversation"))
}

func TestTitlePromptCarriesUserText(t *testing.T) {
	f := newFixture(t, false, "1")
	var prompt string
	f.backend.GenerateTitleFunc = func(_ context.Context, p string) (string, error) {
		prompt = p
		return `"Trip planning."`, nil
	}

	f.ctrl.SetInput("Plan a trip to Kyoto")
	_, err := f.ctrl.Send(context.Background())
	require.NoError(t, err)

	assert.Contains(t, prompt, "Plan a trip to Kyoto")
	assert.Equal(t, "Trip planning", f.backend.renamed["1"])
}

func TestTitleAfterFailedFirstSend(t *testing.T) {
	f := newFixture(t, false, "1")
	f.backend.SendMessageFunc = func(context.Context, types.ConversationID, types.SendRequest) (*types.Message, error) {
		return nil, errors.New("status 500")
	}

	f.ctrl.SetInput("Hello")
	outcome, err := f.ctrl.Send(context.Background())
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 0, f.backend.count("GenerateTitle"))

	f.backend.SendMessageFunc = nil
	f.ctrl.SetInput("Hello")
	outcome, err = f.ctrl.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDirect, outcome)
	assert.Equal(t, 1, f.backend.count("GenerateTitle"), "first successful exchange is titled")
}

func TestNoTitleForExistingHistory(t *testing.T) {
	f := newFixture(t, false, "")
	f.backend.messages["1"] = []types.Message{
		{ID: "1", Sender: types.SenderUser, Content: "earlier"},
		{ID: "2", Sender: types.SenderAssistant, Content: "earlier reply", ReasoningClosed: true},
	}
	require.NoError(t, f.ctrl.SelectConversation(context.Background(), "1"))

	f.ctrl.SetInput("Hello")
	_, err := f.ctrl.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, f.backend.count("GenerateTitle"))
}

func TestNoTitleWhenHistoryFailedToLoad(t *testing.T) {
	f := newFixture(t, false, "")
	f.backend.messages["1"] = []types.Message{
		{ID: "1", Sender: types.SenderUser, Content: "earlier"},
		{ID: "2", Sender: types.SenderAssistant, Content: "earlier reply", ReasoningClosed: true},
	}
	f.backend.ListMessagesFunc = func(context.Context, types.ConversationID) ([]types.Message, error) {
		return nil, errors.New("status 503")
	}
	require.Error(t, f.ctrl.SelectConversation(context.Background(), "1"))
	assert.Equal(t, 0, f.ctrl.Transcript().Len())

	f.backend.ListMessagesFunc = nil
	f.ctrl.SetInput("Hello")
	outcome, err := f.ctrl.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDirect, outcome)
	assert.Equal(t, 0, f.backend.count("GenerateTitle"), "history was never seen")
	assert.Equal(t, 0, f.backend.count("RenameConversation"))
}

func TestSwitchConversationCancelsStream(t *testing.T) {
	f := newFixture(t, true, "1")
	f.backend.conversations = append(f.backend.conversations, types.Conversation{ID: "2", Title: "Other"})
	f.backend.messages["2"] = []types.Message{{ID: "5", Sender: types.SenderUser, Content: "old"}}

	ch := newScriptedChannel(frameHi)
	ch.hold = true
	f.backend.OpenStreamFunc = func(context.Context, types.ConversationID, types.SendRequest) (types.ReplyChannel, error) {
		return ch, nil
	}

	f.ctrl.SetInput("Hello")
	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := f.ctrl.Send(context.Background())
		done <- outcome
	}()
	<-ch.delivered

	require.NoError(t, f.ctrl.SelectConversation(context.Background(), "2"))
	assert.Equal(t, OutcomeCancelled, <-done)

	msgs := f.ctrl.Transcript().Snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "old", msgs[0].Content)
	assert.Equal(t, types.ConversationID("2"), f.ctrl.Active())
	assert.False(t, f.ctrl.Busy())
}

func TestSendUsesCurrentSettings(t *testing.T) {
	f := newFixture(t, false, "1")
	_, err := f.ctrl.UpdateSettings(context.Background(), types.Settings{Temperature: 1.5, MaxTokens: 100, Stream: false})
	require.NoError(t, err)

	var got types.SendRequest
	f.backend.SendMessageFunc = func(_ context.Context, _ types.ConversationID, req types.SendRequest) (*types.Message, error) {
		got = req
		return &types.Message{ID: "9", Sender: types.SenderAssistant, Content: "ok"}, nil
	}

	f.ctrl.SetInput("Hello")
	_, err = f.ctrl.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.5, got.Temperature)
	assert.Equal(t, 100, got.MaxTokens)
}

func TestSendAfterProviderSwitchUsesNewModel(t *testing.T) {
	f := newFixture(t, false, "1")
	f.backend.providers = append(f.backend.providers, types.Provider{ID: "2", Name: "deepseek"})
	f.backend.models["2"] = []types.Model{{ID: "20", Name: "r1", ProviderID: "2"}}
	ctx := context.Background()
	require.NoError(t, f.ctrl.Selection().LoadProviders(ctx))
	require.NoError(t, f.ctrl.Selection().SelectProvider(ctx, "2"))

	var got types.SendRequest
	f.backend.SendMessageFunc = func(_ context.Context, _ types.ConversationID, req types.SendRequest) (*types.Message, error) {
		got = req
		return &types.Message{ID: "9", Sender: types.SenderAssistant}, nil
	}
	f.ctrl.SetInput("Hello")
	_, err := f.ctrl.Send(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ProviderID("2"), got.ProviderID)
	assert.Equal(t, types.ModelID("20"), got.ModelID)

	v, _, _ := f.store.Get(ctx, selection.KeyModel)
	assert.Equal(t, "20", v)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "fallback", OutcomeFallback.String())
	assert.True(t, OutcomeStreamed.Succeeded())
	assert.False(t, OutcomeCancelled.Succeeded())
}
