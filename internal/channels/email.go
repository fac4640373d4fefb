package channels

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soccerops/alertcore/internal/errkind"
)

// EmailTransport abstracts the underlying mail delivery call, analogous to
// SMSTransport; a real implementation wraps an SMTP relay or a provider
// API such as SendGrid.
type EmailTransport interface {
	SendEmail(ctx context.Context, from, to, subject, body string) error
}

// EmailChannel delivers alert emails.
type EmailChannel struct {
	transport EmailTransport
	fromAddr  string
	logger    *slog.Logger
}

// NewEmailChannel creates an EmailChannel. A nil transport disables the
// channel.
func NewEmailChannel(transport EmailTransport, fromAddr string, logger *slog.Logger) *EmailChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailChannel{transport: transport, fromAddr: fromAddr, logger: logger}
}

func (c *EmailChannel) Deliver(ctx context.Context, msg Message) Result {
	if c == nil || c.transport == nil {
		return Result{Outcome: OutcomePermanent, Err: fmt.Errorf("%w: email transport not configured", errkind.ChannelPermanent)}
	}
	if msg.Recipient == "" {
		return Result{Outcome: OutcomePermanent, Err: fmt.Errorf("%w: no recipient address", errkind.ChannelPermanent)}
	}

	subject := fmt.Sprintf("Alert triggered: %s", msg.Alert.Name)
	body := renderSMSBody(msg)
	return withRetry(ctx, c.logger, func() error {
		if err := c.transport.SendEmail(ctx, c.fromAddr, msg.Recipient, subject, body); err != nil {
			return fmt.Errorf("%w: %v", errkind.ChannelTransient, err)
		}
		return nil
	})
}
