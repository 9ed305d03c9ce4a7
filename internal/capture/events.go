package capture

import "time"

// EventType classifies lifecycle events
type EventType string

const (
	EventStarted EventType = "started"
	EventSaved   EventType = "saved"
	EventFailed  EventType = "save_failed"
	EventStopped EventType = "stopped"
)

// Event is published by the loop as it runs
type Event struct {
	Type  EventType `json:"type"`
	State State     `json:"state"`
	Time  time.Time `json:"time"`
	Path  string    `json:"path,omitempty"`
	Saved int       `json:"saved"`
	Error string    `json:"error,omitempty"`
}

// Notifier receives lifecycle events. Notify is called from the loop and
// must not block.
type Notifier interface {
	Notify(evt Event)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(evt Event)

// Notify calls f(evt)
func (f NotifierFunc) Notify(evt Event) {
	f(evt)
}
