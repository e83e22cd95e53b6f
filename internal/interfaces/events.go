package interfaces

import "context"

// EventType identifies the kind of event being published
type EventType string

const (
	// EventJobUpdated is published on every job status transition
	EventJobUpdated EventType = "job_updated"
)

// Event is a notification passed between services
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// EventHandler processes events of a subscribed type
type EventHandler func(ctx context.Context, event Event)

// EventService provides in-process publish/subscribe for service decoupling
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler)
	Publish(ctx context.Context, event Event)
}
