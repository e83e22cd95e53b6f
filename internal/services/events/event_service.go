package events

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/repolens/repolens/internal/interfaces"
)

// Service is an in-process publish/subscribe hub. Handlers run
// asynchronously so a slow subscriber never blocks a publisher.
type Service struct {
	mu       sync.RWMutex
	handlers map[interfaces.EventType][]interfaces.EventHandler
	logger   arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		handlers: make(map[interfaces.EventType][]interfaces.EventHandler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event type
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[eventType] = append(s.handlers[eventType], handler)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("handlers", len(s.handlers[eventType])).
		Msg("Event handler subscribed")
}

// Publish delivers an event to all subscribed handlers, each in its own
// goroutine.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) {
	s.mu.RLock()
	handlers := make([]interfaces.EventHandler, len(s.handlers[event.Type]))
	copy(handlers, s.handlers[event.Type])
	s.mu.RUnlock()

	for _, handler := range handlers {
		go handler(ctx, event)
	}
}

// Ensure interface compliance
var _ interfaces.EventService = (*Service)(nil)
