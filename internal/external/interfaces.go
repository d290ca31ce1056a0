package external

import (
	"context"

	"fleetops/internal/types"
)

// EmailProvider abstracts interactions with the email delivery service.
// Implementations transmit pre-rendered email content (Subject, BodyHTML,
// BodyText) to one or more recipients.
type EmailProvider interface {
	// Send transmits an email with pre-rendered content.
	// Returns the provider's message ID for tracking and correlation.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}
