package msglog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/taskmesh/types"
)

// MemoryStore is the in-memory Store. Suitable for a single process;
// contents are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []Message
	closed   bool
	now      func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the store clock.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty in-memory message store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append persists one envelope.
func (s *MemoryStore) Append(ctx context.Context, msg Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if msg.ToAgent == "" {
		return Message{}, types.NewError(types.ErrInvalidArgument, "message target agent is required")
	}
	if _, err := ParseType(string(msg.Type)); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Message{}, types.NewError(types.ErrStoreUnavailable, "message store is closed")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

// ForAgent filters and orders the agent's backlog.
func (s *MemoryStore) ForAgent(ctx context.Context, agent string, since time.Time) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.NewError(types.ErrStoreUnavailable, "message store is closed")
	}
	if since.IsZero() {
		since = s.now().Add(-DefaultWindow)
	}

	var out []Message
	for _, m := range s.messages {
		if m.ToAgent == agent && !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return sortKeyLess(out[i], out[j]) })
	return out, nil
}

// Cleanup drops messages older than the cutoff.
func (s *MemoryStore) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.messages[:0]
	removed := 0
	for _, m := range s.messages {
		if m.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept
	return removed, nil
}

// Stats reports store contents.
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Total: len(s.messages)}, nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
