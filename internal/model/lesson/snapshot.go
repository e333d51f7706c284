package lesson

import "time"

// Snapshot is a point-in-time copy of a lesson's state.
type Snapshot struct {
	ID         string    `json:"id"`
	Concept    string    `json:"concept,omitempty"`
	Started    bool      `json:"started"`
	Typing     bool      `json:"typing"`
	Charge     int       `json:"charge"`
	Generation uint64    `json:"generation"`
	Messages   []Message `json:"messages"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// EventType names a lesson event.
type EventType string

const (
	EventStarted EventType = "started"
	EventMessage EventType = "message"
	EventTyping  EventType = "typing"
	EventCharge  EventType = "charge"
	EventReset   EventType = "reset"
	EventError   EventType = "error"
)

// Event is pushed to lesson subscribers whenever state changes.
type Event struct {
	Type       EventType `json:"type"`
	LessonID   string    `json:"lessonId"`
	Generation uint64    `json:"generation"`
	Message    *Message  `json:"message,omitempty"`
	Charge     *int      `json:"charge,omitempty"`
	Typing     *bool     `json:"typing,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
