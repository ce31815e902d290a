// internal/daemon/types/event.go
package types

import (
	"sync"
	"time"
)

// Event types.
const (
	EventTypeNormal  = "Normal"
	EventTypeWarning = "Warning"
)

// Event reasons.
const (
	ReasonDispatched       = "Dispatched"
	ReasonSubmitted        = "Submitted"
	ReasonSubmissionFailed = "SubmissionFailed"
	ReasonRejectedByUser   = "RejectedByUser"
	ReasonConfirmed        = "Confirmed"
	ReasonReverted         = "Reverted"
	ReasonCompleted        = "Completed"
	ReasonCancelled        = "Cancelled"
	ReasonResumed          = "Resumed"
)

// Event is a user-facing notice about a dispatch group. Warning events
// carry the single alert string surfaced for a failure.
type Event struct {
	// Seq is assigned by EventRing.Add and increases with every event.
	Seq        uint64    `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	Type       string    `json:"type"`
	Reason     string    `json:"reason"`
	Message    string    `json:"message"`
	DispatchID string    `json:"dispatchId,omitempty"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType, reason, message, dispatchID string) Event {
	return Event{
		Timestamp:  time.Now(),
		Type:       eventType,
		Reason:     reason,
		Message:    message,
		DispatchID: dispatchID,
	}
}

// IsAlert returns true for events that should be shown to the user.
func (e Event) IsAlert() bool {
	return e.Type == EventTypeWarning
}

// EventRing keeps the most recent N events.
type EventRing struct {
	events []Event
	size   int
	seq    uint64
	mu     sync.RWMutex
}

// NewEventRing creates a new event ring with the given capacity.
func NewEventRing(capacity int) *EventRing {
	if capacity < 1 {
		capacity = 1
	}
	return &EventRing{
		events: make([]Event, 0, capacity),
		size:   capacity,
	}
}

// Add stamps e with the next sequence number and adds it to the ring,
// evicting the oldest if at capacity.
func (r *EventRing) Add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	e.Seq = r.seq

	if len(r.events) >= r.size {
		copy(r.events, r.events[1:])
		r.events = r.events[:len(r.events)-1]
	}
	r.events = append(r.events, e)
}

// List returns a copy of all events in chronological order.
func (r *EventRing) List() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Event, len(r.events))
	copy(result, r.events)
	return result
}

// Since returns the events with a sequence number above seq, oldest first.
func (r *EventRing) Since(seq uint64) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Event
	for _, e := range r.events {
		if e.Seq > seq {
			result = append(result, e)
		}
	}
	return result
}

// Alerts returns the warning events in chronological order.
func (r *EventRing) Alerts() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var alerts []Event
	for _, e := range r.events {
		if e.IsAlert() {
			alerts = append(alerts, e)
		}
	}
	return alerts
}
