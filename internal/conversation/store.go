// Package conversation holds the in-memory, arrival-ordered message list of
// the active conversation.
package conversation

import (
	"github.com/liliang-cn/crawldesk/internal/domain"
	"go.uber.org/zap"
)

// Store is an ordered collection of messages keyed by id.
// It is not safe for concurrent use; the owning session serializes access.
type Store struct {
	logger   *zap.Logger
	messages []domain.Message
	index    map[string]int
	ignored  int
}

// NewStore creates an empty store
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger: logger,
		index:  make(map[string]int),
	}
}

// Upsert appends a message with an unseen id, or merges the provided fields of
// msg into the existing entry without moving it. Malformed messages are dropped.
// It reports whether the message was accepted.
func (s *Store) Upsert(msg domain.Message) bool {
	if msg.ID == "" {
		s.ignore(msg, "missing id")
		return false
	}
	if msg.Role != "" && !msg.Role.Valid() {
		s.ignore(msg, "unknown role")
		return false
	}

	if i, ok := s.index[msg.ID]; ok {
		s.messages[i].Merge(msg)
		return true
	}

	if msg.Role == "" {
		s.ignore(msg, "unknown role")
		return false
	}
	if msg.Kind == "" {
		msg.Kind = domain.KindChat
	}
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	return true
}

func (s *Store) ignore(msg domain.Message, reason string) {
	s.ignored++
	s.logger.Warn("ignored message",
		zap.String("reason", reason),
		zap.String("message_id", msg.ID),
		zap.String("role", string(msg.Role)),
	)
}

// Reset clears all messages
func (s *Store) Reset() {
	s.messages = nil
	s.index = make(map[string]int)
}

// Snapshot returns a copy of the messages in arrival order
func (s *Store) Snapshot() []domain.Message {
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Get returns the message with the given id
func (s *Store) Get(id string) (domain.Message, bool) {
	i, ok := s.index[id]
	if !ok {
		return domain.Message{}, false
	}
	return s.messages[i], true
}

// Len returns the number of messages
func (s *Store) Len() int { return len(s.messages) }

// Ignored returns how many malformed messages have been dropped
func (s *Store) Ignored() int { return s.ignored }
