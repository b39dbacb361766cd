package chatapi

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/user/chatctl/internal/types"
)

// maxEventSize bounds a single event payload.
const maxEventSize = 1 << 20

// SSEReader parses server-sent events. Besides standard "data:" fields it
// accepts bare payload lines, which the backend emits after stripping the
// upstream prefix.
type SSEReader struct {
	reader *bufio.Reader
}

func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(r)}
}

// ReadEvent returns the data of the next event. Multiple data lines are joined
// with "\n". It returns io.EOF when the stream ends between events.
func (s *SSEReader) ReadEvent() ([]byte, error) {
	var data [][]byte
	size := 0

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			if errors.Is(err, io.EOF) && len(data) > 0 {
				return bytes.Join(data, []byte("\n")), nil
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(data) > 0 {
				return bytes.Join(data, []byte("\n")), nil
			}
			continue
		}

		switch {
		case line[0] == ':':
			// comment
		case bytes.HasPrefix(line, []byte("data:")):
			v := line[5:]
			if len(v) > 0 && v[0] == ' ' {
				v = v[1:]
			}
			data = append(data, v)
			size += len(v)
		case bytes.HasPrefix(line, []byte("event:")),
			bytes.HasPrefix(line, []byte("id:")),
			bytes.HasPrefix(line, []byte("retry:")):
		default:
			data = append(data, line)
			size += len(line)
		}

		if size > maxEventSize {
			return nil, fmt.Errorf("event exceeds %d bytes", maxEventSize)
		}
	}
}

// eventChannel is a types.ReplyChannel over one event-stream response.
type eventChannel struct {
	body   io.ReadCloser
	events *SSEReader
	frames int

	closeOnce sync.Once
	closeErr  error
}

func (ch *eventChannel) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := ch.events.ReadEvent()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &StreamError{Received: ch.frames, Err: err}
	}
	ch.frames++
	return data, nil
}

// Close releases the response body. It is safe to call concurrently with a
// blocked Next, which then returns an error.
func (ch *eventChannel) Close() error {
	ch.closeOnce.Do(func() {
		ch.closeErr = ch.body.Close()
	})
	return ch.closeErr
}

// OpenStream starts an incremental reply for req. The token travels in the
// query string as well as the header because the backend authenticates
// stream requests either way.
func (c *Client) OpenStream(ctx context.Context, id types.ConversationID, req types.SendRequest) (types.ReplyChannel, error) {
	q := url.Values{
		"stream":      {"true"},
		"sender":      {string(types.SenderUser)},
		"content":     {req.Content},
		"model_id":    {string(req.ModelID)},
		"provider_id": {string(req.ProviderID)},
		"temperature": {strconv.FormatFloat(req.Temperature, 'f', -1, 64)},
		"max_tokens":  {strconv.Itoa(req.MaxTokens)},
	}
	if tok := c.token(); tok != "" {
		q.Set("token", tok)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(historyPath(id)+"/messages", q), nil)
	if err != nil {
		return nil, fmt.Errorf("creating stream request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	c.authorize(httpReq)

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, fmt.Errorf("opening stream: %w", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))})
	}

	return &eventChannel{body: resp.Body, events: NewSSEReader(resp.Body)}, nil
}
