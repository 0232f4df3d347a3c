// Package channel manages one realtime connection: its connect/disconnect state
// machine, its subscriptions, and the normalization of inbound frames into events.
package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/liliang-cn/crawldesk/internal/domain"
	"github.com/liliang-cn/crawldesk/internal/wire"
)

// Name identifies one of the realtime channels
type Name string

const (
	Chat Name = "chat"
	Jobs Name = "jobs"
)

// State of a channel connection
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// TopicKind is the kind of context a subscription targets
type TopicKind string

const (
	TopicAssignment TopicKind = "assignment"
	TopicGroup      TopicKind = "group"
	TopicJob        TopicKind = "job"
)

// Topic is one subscription
type Topic struct {
	Kind TopicKind `json:"kind"`
	ID   string    `json:"id"`
}

func (t Topic) String() string { return fmt.Sprintf("%s:%s", t.Kind, t.ID) }

// EventType enumerates the normalized inbound events
type EventType string

const (
	EventMessage        EventType = "message"
	EventCrawlInitiated EventType = "crawl_initiated"
	EventJobStarted     EventType = "job_started"
	EventJobProgress    EventType = "job_progress"
	EventJobCompleted   EventType = "job_completed"
	EventError          EventType = "error"
	EventStateChanged   EventType = "state_changed"
)

// Event is a normalized inbound event. Only the fields relevant to Type are set.
type Event struct {
	Channel Name
	Type    EventType
	Message *domain.Message
	Job     *wire.JobEvent
	State   State
	Err     error
	At      time.Time
}

// Conn is a live realtime session
type Conn interface {
	Write(ctx context.Context, f wire.Frame) error
	Read(ctx context.Context) (wire.Frame, error)
	Close() error
}

// Dialer opens realtime sessions
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Normalizer maps a raw frame onto an event. ok is false for frames that
// carry nothing the session consumes.
type Normalizer func(f wire.Frame) (ev Event, ok bool)

// Status is a point-in-time view of a manager
type Status struct {
	Channel       Name    `json:"channel"`
	State         State   `json:"state"`
	LastError     string  `json:"last_error,omitempty"`
	Subscriptions []Topic `json:"subscriptions"`
}
