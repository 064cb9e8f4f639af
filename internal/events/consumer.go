package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

// SubmittedHandler reacts to a submitted session
type SubmittedHandler func(ctx context.Context, event SessionSubmittedEvent) error

// NewSubmittedRouter builds a watermill router that feeds exam.session.submitted
// messages into handle. Failed messages are retried with backoff.
func NewSubmittedRouter(subscriber message.Subscriber, handle SubmittedHandler, logger *slog.Logger) (*message.Router, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 30 * time.Second}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	router.AddMiddleware(
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: time.Second,
			Multiplier:      2,
			Logger:          wmLogger,
		}.Middleware,
		middleware.Recoverer,
	)

	router.AddConsumerHandler("auto_grade_on_submit", TopicSessionSubmitted, subscriber, func(msg *message.Message) error {
		payload, err := DecodeSubmitted(msg.Payload)
		if err != nil {
			// malformed messages are dropped, retrying cannot fix them
			logger.Error("Dropping malformed submitted event", "message_id", msg.UUID, "error", err)
			return nil
		}
		return handle(msg.Context(), payload)
	})

	return router, nil
}

// DecodeSubmitted extracts the SessionSubmittedEvent from an event envelope
func DecodeSubmitted(payload []byte) (SessionSubmittedEvent, error) {
	var envelope struct {
		Type string                `json:"type"`
		Data SessionSubmittedEvent `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return SessionSubmittedEvent{}, err
	}
	if envelope.Type != TopicSessionSubmitted {
		return SessionSubmittedEvent{}, fmt.Errorf("unexpected event type %q", envelope.Type)
	}
	if envelope.Data.SessionID == 0 {
		return SessionSubmittedEvent{}, fmt.Errorf("event has no session id")
	}
	return envelope.Data, nil
}
