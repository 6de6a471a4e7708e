// Package email defines the outbound email sending port used by the
// Executor to fulfill email-sending ActionTypes (spec.md §4.9), plus a
// logging implementation for environments without a configured provider.
package email

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Message is the outbound email the Executor asks a Sender to deliver.
type Message struct {
	To       string
	Subject  string
	BodyText string
	BodyHTML string
	// IdempotencyKey lets a Sender implementation deduplicate retried
	// sends at the provider boundary.
	IdempotencyKey string
}

// Sender is the capability boundary for outbound email delivery.
type Sender interface {
	// Send delivers msg and returns the provider's message id on success.
	Send(ctx context.Context, msg Message) (providerMessageID string, err error)
}

// LoggingSender logs the outbound message instead of delivering it,
// returning a synthesized message id. Suitable for local development and
// as the Executor's default when no provider is configured.
type LoggingSender struct {
	logger *slog.Logger
}

// NewLoggingSender builds a LoggingSender.
func NewLoggingSender(logger *slog.Logger) *LoggingSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingSender{logger: logger}
}

// Send implements Sender.
func (s *LoggingSender) Send(ctx context.Context, msg Message) (string, error) {
	id := uuid.NewString()
	s.logger.Info("email send (logged, not delivered)",
		"to", msg.To, "subject", msg.Subject, "provider_message_id", id)
	return id, nil
}
