// Package conversation keeps the bounded chat history for each
// conversation (one per chat channel or API client).
//
// Two bounds apply after every append: a message-count cap that is
// always enforced, and a token budget that is enforced only when a
// [TokenCounter] is attached. Token trimming evicts the oldest messages
// but never empties a conversation.
package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/nugget/marquee-media-agent/internal/llm"
)

// Defaults for NewStore.
const (
	DefaultMaxMessages = 6
	DefaultMaxTokens   = 128000
)

// TokenCounter estimates the token cost of a message sequence.
// *tokens.Counter satisfies it.
type TokenCounter interface {
	CountTokens(messages []llm.Message) int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxMessages sets the per-conversation message cap.
func WithMaxMessages(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxMessages = n
		}
	}
}

// WithTokenBudget attaches a counter and the maximum cumulative token
// count a history may hold.
func WithTokenBudget(counter TokenCounter, maxTokens int) Option {
	return func(s *Store) {
		s.counter = counter
		if maxTokens > 0 {
			s.maxTokens = maxTokens
		}
	}
}

type history struct {
	messages  []llm.Message
	createdAt time.Time
	updatedAt time.Time
}

// Store holds per-conversation histories. Different conversation IDs
// are independent; callers serialize turns within one conversation.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*history
	maxMessages   int
	maxTokens     int
	counter       TokenCounter
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		conversations: make(map[string]*history),
		maxMessages:   DefaultMaxMessages,
		maxTokens:     DefaultMaxTokens,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddUser appends a user message. Empty content is still recorded.
func (s *Store) AddUser(id, content string) {
	s.append(id, llm.Message{Role: llm.RoleUser, Content: content})
}

// AddAssistant appends an assistant reply. Blank replies (empty or
// whitespace only) are dropped without touching the history; they come
// from timed-out or empty model responses.
func (s *Store) AddAssistant(id, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	s.append(id, llm.Message{Role: llm.RoleAssistant, Content: content})
}

func (s *Store) append(id string, msg llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	h, ok := s.conversations[id]
	if !ok {
		h = &history{createdAt: now}
		s.conversations[id] = h
	}

	h.messages = append(h.messages, msg)
	if over := len(h.messages) - s.maxMessages; over > 0 {
		h.messages = h.messages[over:]
	}
	h.updatedAt = now

	s.trimTokens(h)
}

// trimTokens drops the oldest messages until the history fits the
// budget or a single message remains. Caller holds s.mu.
func (s *Store) trimTokens(h *history) {
	if s.counter == nil {
		return
	}
	for len(h.messages) > 1 && s.counter.CountTokens(h.messages) > s.maxTokens {
		h.messages = h.messages[1:]
	}
}

// Tail returns a copy of the history, oldest first. Unknown IDs yield an
// empty slice.
func (s *Store) Tail(id string) []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.conversations[id]
	if !ok {
		return []llm.Message{}
	}
	out := make([]llm.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Reset removes all state for id.
func (s *Store) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
}

// GetTokenCount returns the token cost of the current history, or 0 when
// no counter is attached.
func (s *Store) GetTokenCount(id string) int {
	if s.counter == nil {
		return 0
	}
	return s.counter.CountTokens(s.Tail(id))
}

// Stats returns store statistics for the health endpoint.
func (s *Store) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, h := range s.conversations {
		total += len(h.messages)
	}
	return map[string]any{
		"conversations":  len(s.conversations),
		"total_messages": total,
		"max_messages":   s.maxMessages,
		"max_tokens":     s.maxTokens,
		"token_counting": s.counter != nil,
	}
}
