// Package msglog is the append-only, priority-ordered envelope store
// agents poll for requests and notifications addressed to them.
// Messages are write-once, read-many: there is no acknowledgement
// state, and repeated polls return the same backlog until the time
// window slides past it.
package msglog

import (
	"context"
	"time"

	"github.com/taskmesh/taskmesh/types"
)

// DefaultWindow is how far back ForAgent looks when the caller gives
// no explicit since time.
const DefaultWindow = 24 * time.Hour

// Type classifies a message envelope. The set is closed.
type Type string

const (
	TypeRequest      Type = "request"
	TypeResponse     Type = "response"
	TypeDelegation   Type = "delegation"
	TypeNotification Type = "notification"
)

// ParseType validates a message type string against the closed set.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeRequest, TypeResponse, TypeDelegation, TypeNotification:
		return t, nil
	default:
		return "", types.NewError(types.ErrInvalidArgument, "invalid message type %q", s)
	}
}

// Message is one immutable envelope. Addresses only; nothing is
// delivered over a wire by this package.
type Message struct {
	ID        string         `json:"id"`
	FromAgent string         `json:"from_agent"`
	ToAgent   string         `json:"to_agent"`
	Type      Type           `json:"message_type"`
	Content   map[string]any `json:"content,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Priority  int            `json:"priority"`
	Timestamp time.Time      `json:"timestamp"`
}

// Stats summarizes store contents for system status queries.
type Stats struct {
	Total int `json:"total"`
}

// Store is the message log backend. The in-memory implementation is
// the default; the redis implementation survives process restarts.
type Store interface {
	// Append persists one envelope, assigning id and timestamp when
	// unset, and returns the stored copy.
	Append(ctx context.Context, msg Message) (Message, error)

	// ForAgent returns every message addressed to the agent with
	// timestamp >= since, sorted by (-priority, timestamp) so
	// higher-priority, older-first messages surface first.
	ForAgent(ctx context.Context, agent string, since time.Time) ([]Message, error)

	// Cleanup drops messages older than the cutoff and reports how
	// many were removed.
	Cleanup(ctx context.Context, cutoff time.Time) (int, error)

	// Stats reports store contents.
	Stats(ctx context.Context) (Stats, error)

	// Close releases backend resources.
	Close() error
}

// sortKeyLess orders by priority descending, then timestamp
// ascending, then id for determinism.
func sortKeyLess(a, b Message) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}
