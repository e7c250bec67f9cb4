// Package journal records an append-only audit trail of booking session
// events, used by support tooling to reconstruct what a session did.
package journal

import (
	"context"
	"time"
)

type EventType string

const (
	EventDispatched     EventType = "dispatched"
	EventNoWorker       EventType = "no_worker"
	EventMatched        EventType = "matched"
	EventCancelled      EventType = "cancelled"
	EventRetryExhausted EventType = "retry_exhausted"
)

type Event struct {
	SessionID string
	Type      EventType
	AttemptID string
	BookingID int64
	Reason    string
	At        time.Time
}

type Journal interface {
	Record(ctx context.Context, e Event) error
}

// Nop is used when no database is configured.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
