package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
)

type captureSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *captureSink) Publish(_ context.Context, evt domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestForwardDeliversEveryEventType(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	sink := &captureSink{}

	id := Forward(bus, sink, zaptest.NewLogger(t))
	if id == "" {
		t.Fatal("expected a live subscription")
	}

	bus.Publish(domain.Event{Type: domain.EventLogin, UserID: "u1"})
	bus.Publish(domain.Event{Type: domain.EventLogout, UserID: "u1"})
	bus.Publish(domain.Event{Type: domain.EventAuthError})

	if got := sink.count(); got != 3 {
		t.Fatalf("expected 3 forwarded events, got %d", got)
	}

	bus.Unsubscribe(id)
	bus.Publish(domain.Event{Type: domain.EventLogin})
	if got := sink.count(); got != 3 {
		t.Fatalf("unsubscribed sink still receiving, got %d", got)
	}
}

func TestForwardSinkFailureDoesNotPropagate(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	sink := &captureSink{err: errors.New("broker down")}
	Forward(bus, sink, zaptest.NewLogger(t))

	// Publish must not panic or surface the sink failure.
	bus.Publish(domain.Event{Type: domain.EventLogin, UserID: "u1"})

	if got := bus.Stats().Published; got != 1 {
		t.Fatalf("expected publish to proceed, got %d", got)
	}
}
