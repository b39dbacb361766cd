package output

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/user/chatctl/internal/types"
)

// Renderer prints a reply as it grows. Transcript changes only signal it;
// redraws are coalesced to at most hz per second.
type Renderer struct {
	p       *Printer
	limiter *rate.Limiter
	signal  chan struct{}

	mu        sync.Mutex
	from      int
	active    bool
	reasoning string
	content   string
}

func NewRenderer(p *Printer, hz int) *Renderer {
	if hz <= 0 {
		hz = 20
	}
	return &Renderer{
		p:       p,
		limiter: rate.NewLimiter(rate.Limit(hz), 1),
		signal:  make(chan struct{}, 1),
	}
}

// Notify requests a redraw. It never blocks.
func (r *Renderer) Notify() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Run redraws from snapshot on every notification until ctx ends.
func (r *Renderer) Run(ctx context.Context, snapshot func() []types.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.signal:
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		r.Render(snapshot())
	}
}

// Begin starts rendering replies that appear at or after index from.
func (r *Renderer) Begin(from int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.from = from
	r.active = true
	r.reasoning = ""
	r.content = ""
}

// Render prints whatever the latest assistant message gained since the last
// call. A reply that no longer extends what was printed is started afresh on
// a new line.
func (r *Renderer) Render(msgs []types.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || len(msgs) == 0 || len(msgs)-1 < r.from {
		return
	}
	m := msgs[len(msgs)-1]
	if m.Sender != types.SenderAssistant {
		return
	}

	if !strings.HasPrefix(m.Reasoning, r.reasoning) || !strings.HasPrefix(m.Content, r.content) {
		if r.printed() {
			r.p.write(r.p.out, nil, "\n")
		}
		r.reasoning = ""
		r.content = ""
	}
	if !r.printed() && (m.Reasoning != "" || m.Content != "") {
		r.p.write(r.p.out, nil, "%s", r.p.Label(types.SenderAssistant))
	}
	if len(m.Reasoning) > len(r.reasoning) && r.content == "" {
		r.p.write(r.p.out, nil, "%s", r.p.Dim(m.Reasoning[len(r.reasoning):]))
		r.reasoning = m.Reasoning
	}
	if len(m.Content) > len(r.content) {
		if r.content == "" && r.reasoning != "" {
			r.p.write(r.p.out, nil, "\n")
		}
		r.p.write(r.p.out, nil, "%s", m.Content[len(r.content):])
		r.content = m.Content
	}
}

// Finish renders the final state and ends the reply line.
func (r *Renderer) Finish(msgs []types.Message) {
	r.Render(msgs)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.printed() {
		r.p.write(r.p.out, nil, "\n")
	}
	r.active = false
	r.reasoning = ""
	r.content = ""
}

func (r *Renderer) printed() bool {
	return r.reasoning != "" || r.content != ""
}
