package testutils

import (
	"context"
	"sync"

	"github.com/mementolabs/memento/pkg/eventstream"
)

// MockPublisher records every published memory event.
type MockPublisher struct {
	mu     sync.Mutex
	events []*eventstream.MemoryEvent

	// FailWith causes PublishMemoryEvent to return this error.
	FailWith error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishMemoryEvent(_ context.Context, event *eventstream.MemoryEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	if m.FailWith != nil {
		return m.FailWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a snapshot of the published events.
func (m *MockPublisher) Events() []*eventstream.MemoryEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*eventstream.MemoryEvent(nil), m.events...)
}

// EventsOfType returns the published events with the given type.
func (m *MockPublisher) EventsOfType(eventType string) []*eventstream.MemoryEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*eventstream.MemoryEvent
	for _, event := range m.events {
		if event.EventType == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func (m *MockPublisher) Close() error {
	return nil
}

var _ eventstream.Publisher = (*MockPublisher)(nil)
