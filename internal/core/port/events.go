package port

import (
	"context"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
)

// EventSink forwards bus events to an external system (message broker,
// audit log). Sinks must tolerate being called concurrently.
type EventSink interface {
	Publish(ctx context.Context, event domain.Event) error
}
