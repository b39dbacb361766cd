// Package transcript holds the ordered message list of the active
// conversation. It performs no I/O.
package transcript

import (
	"sync"

	"github.com/user/chatctl/internal/types"
)

// Store is safe for concurrent use. Mutations are expected from one writer at
// a time; readers may run on other goroutines.
type Store struct {
	mu       sync.RWMutex
	messages []types.Message
	onChange func()
}

func New() *Store {
	return &Store{}
}

// OnChange registers fn to be called after every mutation. fn runs without
// the store lock held and must not block.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) changed() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// ReplaceAll installs an authoritative ordered sequence.
func (s *Store) ReplaceAll(messages []types.Message) {
	cp := make([]types.Message, len(messages))
	copy(cp, messages)

	s.mu.Lock()
	s.messages = cp
	s.mu.Unlock()
	s.changed()
}

// AppendOptimistic inserts a message before the server has acknowledged it.
func (s *Store) AppendOptimistic(sender types.Sender, content string) types.MessageID {
	return s.append(types.Message{Sender: sender, Content: content, ReasoningClosed: sender == types.SenderUser})
}

// AppendPlaceholder inserts an empty message that deltas will grow.
func (s *Store) AppendPlaceholder(sender types.Sender) types.MessageID {
	return s.append(types.Message{Sender: sender})
}

func (s *Store) append(m types.Message) types.MessageID {
	m.ID = types.NewLocalMessageID()
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	s.changed()
	return m.ID
}

// ApplyDelta appends to the most recent message with the given id, or to the
// most recent assistant message when id is empty. It is a no-op when no
// message matches. Reasoning is closed monotonically.
func (s *Store) ApplyDelta(id types.MessageID, contentDelta, reasoningDelta string, reasoningClosed bool) {
	s.mu.Lock()
	i := s.target(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	m := &s.messages[i]
	m.Content += contentDelta
	m.Reasoning += reasoningDelta
	if reasoningClosed {
		m.ReasoningClosed = true
	}
	s.mu.Unlock()
	s.changed()
}

// target returns the index of the message deltas for id apply to, or -1.
// Callers hold the lock.
func (s *Store) target(id types.MessageID) int {
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if id == "" && m.Sender == types.SenderAssistant {
			return i
		}
		if id != "" && m.ID == id {
			return i
		}
	}
	return -1
}

// Remove deletes the message with the given id. It reports whether one was
// removed.
func (s *Store) Remove(id types.MessageID) bool {
	s.mu.Lock()
	idx := -1
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	s.mu.Unlock()
	s.changed()
	return true
}

// MergeServerMessage overwrites the placeholder id with authoritative data.
// The placeholder keeps its position; it takes the server id and content.
func (s *Store) MergeServerMessage(id types.MessageID, server types.Message) bool {
	s.mu.Lock()
	i := s.target(id)
	if i < 0 || id == "" {
		s.mu.Unlock()
		return false
	}
	m := &s.messages[i]
	if server.ID != "" {
		m.ID = server.ID
	}
	m.Sender = server.Sender
	m.Content = server.Content
	if server.Reasoning != "" {
		m.Reasoning = server.Reasoning
	}
	m.ReasoningClosed = true
	if !server.CreatedAt.IsZero() {
		m.CreatedAt = server.CreatedAt
	}
	s.mu.Unlock()
	s.changed()
	return true
}

// Snapshot returns a copy of the current sequence.
func (s *Store) Snapshot() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]types.Message, len(s.messages))
	copy(cp, s.messages)
	return cp
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Get returns the most recent message with the given id.
func (s *Store) Get(id types.MessageID) (types.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id == "" {
		return types.Message{}, false
	}
	if i := s.target(id); i >= 0 {
		return s.messages[i], true
	}
	return types.Message{}, false
}
