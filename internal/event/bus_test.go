package event

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
)

func TestBus_RegistrationOrder(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	var order []string
	bus.Subscribe(domain.EventLogin, func(domain.Event) { order = append(order, "first") })
	bus.Subscribe(domain.EventLogin, func(domain.Event) { order = append(order, "second") })
	bus.Subscribe(domain.EventLogin, func(domain.Event) { order = append(order, "third") })

	bus.Publish(domain.Event{Type: domain.EventLogin})

	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("expected registration-order delivery, got %v", order)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	var calls int
	id := bus.Subscribe(domain.EventLogout, func(domain.Event) { calls++ })
	bus.Subscribe(domain.EventLogout, func(domain.Event) { calls += 10 })

	bus.Unsubscribe(id)
	bus.Publish(domain.Event{Type: domain.EventLogout})

	if calls != 10 {
		t.Fatalf("expected only the remaining handler to run, calls=%d", calls)
	}

	// Unknown identifiers are a no-op.
	bus.Unsubscribe(SubscriptionID("nonexistent"))
}

func TestBus_WildcardReceivesAllTypes(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	var seen []domain.EventType
	bus.Subscribe(AllEvents, func(evt domain.Event) { seen = append(seen, evt.Type) })

	bus.Publish(domain.Event{Type: domain.EventLogin})
	bus.Publish(domain.Event{Type: domain.EventSessionExpired})

	if len(seen) != 2 || seen[0] != domain.EventLogin || seen[1] != domain.EventSessionExpired {
		t.Fatalf("expected wildcard to observe both events, got %v", seen)
	}
}

func TestBus_WildcardRunsAfterTyped(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	var order []string
	bus.Subscribe(AllEvents, func(domain.Event) { order = append(order, "wildcard") })
	bus.Subscribe(domain.EventSignup, func(domain.Event) { order = append(order, "typed") })

	bus.Publish(domain.Event{Type: domain.EventSignup})

	if len(order) != 2 || order[0] != "typed" || order[1] != "wildcard" {
		t.Fatalf("expected typed handler before wildcard, got %v", order)
	}
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	var reached bool
	bus.Subscribe(domain.EventAuthError, func(domain.Event) { panic("boom") })
	bus.Subscribe(domain.EventAuthError, func(domain.Event) { reached = true })

	bus.Publish(domain.Event{Type: domain.EventAuthError})

	if !reached {
		t.Fatal("expected delivery to continue past a panicking handler")
	}

	stats := bus.Stats()
	if stats.Published != 1 {
		t.Fatalf("expected 1 published event, got %d", stats.Published)
	}
	if stats.Delivered != 1 {
		t.Fatalf("panicked handler must not count as delivered, got %d", stats.Delivered)
	}
}

func TestBus_EnvelopeDefaults(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	var got domain.Event
	bus.Subscribe(domain.EventLogin, func(evt domain.Event) { got = evt })
	bus.Publish(domain.Event{Type: domain.EventLogin})

	if got.ID == "" {
		t.Fatal("expected event id to be filled")
	}
	if got.At.IsZero() {
		t.Fatal("expected event timestamp to be filled")
	}
}
