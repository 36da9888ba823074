package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/core/port"
)

// LogEventSink logs events instead of producing to Kafka. It stands in when
// no brokers are configured.
type LogEventSink struct {
	logger *zap.Logger
}

// NewLogEventSink constructs a development-friendly event sink.
func NewLogEventSink(logger *zap.Logger) *LogEventSink {
	return &LogEventSink{logger: logger}
}

// Publish logs the enveloped event at info level.
func (s *LogEventSink) Publish(_ context.Context, evt domain.Event) error {
	at := evt.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.logger.Info("event published",
		zap.String("event_type", externalType(evt)),
		zap.String("event_id", evt.ID),
		zap.String("user_id", evt.UserID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", sinkPayload(evt)),
	)
	return nil
}

var _ port.EventSink = (*LogEventSink)(nil)
