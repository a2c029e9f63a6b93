// Package queue models background work as named messages with flat string
// payloads. Producers call Enqueue; consumers dispatch messages through a Mux.
// Delivery is at-least-once and unordered, so handlers must tolerate replays.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownTask is returned when no handler is registered for a message name.
var ErrUnknownTask = errors.New("queue: unknown task")

// Message is one unit of enqueued work.
type Message struct {
	Name    string            `json:"name"`
	Payload map[string]string `json:"payload"`
}

// Handler executes a single message payload.
type Handler func(ctx context.Context, payload map[string]string) error

// Queue accepts messages for asynchronous execution.
type Queue interface {
	Enqueue(ctx context.Context, name string, payload map[string]string) error
}

// Mux routes messages to handlers by name.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

// Handle registers h for name, replacing any previous handler.
func (m *Mux) Handle(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = h
}

// Names lists registered task names, sorted.
func (m *Mux) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.handlers))
	for n := range m.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the handler registered for msg.Name.
func (m *Mux) Dispatch(ctx context.Context, msg Message) error {
	m.mu.RLock()
	h, ok := m.handlers[msg.Name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, msg.Name)
	}
	return h(ctx, msg.Payload)
}
