package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/core/port"
	"github.com/mohabh15/studio-sub000/internal/infra/config"
	"github.com/mohabh15/studio-sub000/internal/infra/logger"
)

const schemaVersion = "1.0"

// EventSink implements port.EventSink over Kafka: every bus event becomes an
// enveloped message on a per-type topic, keyed by user so one user's events
// stay ordered within a partition.
type EventSink struct {
	producer *Producer
	appCfg   config.AppSettings
	logger   *zap.Logger
}

// NewEventSink constructs a Kafka-backed event sink.
func NewEventSink(producer *Producer, appCfg config.AppSettings, log *zap.Logger) *EventSink {
	return &EventSink{producer: producer, appCfg: appCfg, logger: log}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

// Publish forwards one bus event to its topic.
func (s *EventSink) Publish(ctx context.Context, evt domain.Event) error {
	id := evt.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := evt.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	eventType := externalType(evt)

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    evt.UserID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   sinkPayload(evt),
		Metadata: envelopeMetadata{
			"service":     s.appCfg.Name,
			"environment": s.appCfg.Env,
		},
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: s.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}
	if evt.UserID != "" {
		message.Key = sarama.StringEncoder(evt.UserID)
	}

	select {
	case s.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// externalType maps the bus taxonomy onto dotted topic names. Pre-expiry
// warnings and terminal expiries share a bus type but publish to distinct
// topics.
func externalType(evt domain.Event) string {
	switch evt.Type {
	case domain.EventLogin:
		return "auth.login"
	case domain.EventLogout:
		return "auth.logout"
	case domain.EventSignup:
		return "auth.signup"
	case domain.EventSessionExpired:
		if _, warning := evt.Payload.(domain.SessionWarningPayload); warning {
			return "auth.session.expiring"
		}
		return "auth.session.expired"
	case domain.EventAuthError:
		return "auth.error"
	default:
		return "auth." + string(evt.Type)
	}
}

// sinkPayload normalizes bus payloads into stable wire shapes. Emails on
// error events are masked before leaving the process.
func sinkPayload(evt domain.Event) any {
	switch payload := evt.Payload.(type) {
	case domain.LoginPayload:
		return struct {
			UserID      string    `json:"user_id"`
			Email       string    `json:"email,omitempty"`
			DisplayName string    `json:"display_name,omitempty"`
			AuthMethod  string    `json:"auth_method"`
			StartedAt   time.Time `json:"started_at"`
		}{
			UserID:      payload.Session.UserID,
			Email:       logger.MaskEmail(payload.Session.Email),
			DisplayName: payload.Session.DisplayName,
			AuthMethod:  string(payload.Method),
			StartedAt:   payload.Session.StartedAt.UTC(),
		}
	case domain.LogoutPayload:
		return struct {
			UserID string `json:"user_id"`
			Reason string `json:"reason"`
		}{
			UserID: payload.UserID,
			Reason: payload.Reason,
		}
	case domain.SignupPayload:
		return struct {
			UserID string `json:"user_id"`
			Email  string `json:"email,omitempty"`
		}{
			UserID: payload.UserID,
			Email:  logger.MaskEmail(payload.Email),
		}
	case domain.SessionWarningPayload:
		return struct {
			SessionID        string `json:"session_id"`
			MinutesRemaining int    `json:"minutes_remaining"`
		}{
			SessionID:        payload.SessionID,
			MinutesRemaining: payload.MinutesRemaining,
		}
	case domain.SessionExpiredPayload:
		return struct {
			SessionID string `json:"session_id"`
			UserID    string `json:"user_id"`
			Reason    string `json:"reason"`
		}{
			SessionID: payload.SessionID,
			UserID:    payload.UserID,
			Reason:    string(payload.Reason),
		}
	case domain.AuthErrorPayload:
		wire := struct {
			Operation   string `json:"operation"`
			Code        string `json:"code"`
			Message     string `json:"message,omitempty"`
			Email       string `json:"email,omitempty"`
			Recoverable bool   `json:"recoverable"`
		}{
			Operation: payload.Operation,
		}
		if payload.Error != nil {
			wire.Code = string(payload.Error.Code)
			wire.Message = payload.Error.Message
			wire.Email = logger.MaskEmail(payload.Error.Email)
			wire.Recoverable = payload.Error.Recoverable
		}
		return wire
	default:
		return payload
	}
}

var _ port.EventSink = (*EventSink)(nil)
