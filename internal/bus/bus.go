// Package bus provides the event bus implementations: in-process channels
// for the Community tier and NATS for the Pro tier.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// newMessage builds the envelope and injects the caller's trace context.
func newMessage(ctx context.Context, tenantID, topic string, payload []byte) (*domain.Message, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Metadata))
	return msg, nil
}

// dispatch runs handler with the publisher's trace context restored.
// Handler errors and panics are logged; they never stop the subscription.
func dispatch(ctx context.Context, handler domain.MessageHandler, msg *domain.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("bus handler panicked",
				"topic", msg.Topic,
				"message_id", msg.ID,
				"panic", rec,
			)
		}
	}()

	if msg.Metadata != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
	}
	if err := handler(ctx, msg); err != nil {
		slog.Error("bus handler failed",
			"topic", msg.Topic,
			"message_id", msg.ID,
			"tenant_id", msg.TenantID,
			"error", err,
		)
	}
}
