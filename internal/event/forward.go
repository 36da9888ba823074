package event

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/core/port"
)

const forwardTimeout = 5 * time.Second

// Forward subscribes the sink to every event on the bus. Sink failures are
// logged and never propagate back to publishers.
func Forward(bus *Bus, sink port.EventSink, logger *zap.Logger) SubscriptionID {
	if bus == nil || sink == nil {
		return ""
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return bus.Subscribe(AllEvents, func(evt domain.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
		defer cancel()

		if err := sink.Publish(ctx, evt); err != nil {
			logger.Warn("event sink publish failed",
				zap.String("event_type", string(evt.Type)),
				zap.String("event_id", evt.ID),
				zap.Error(err),
			)
		}
	})
}
