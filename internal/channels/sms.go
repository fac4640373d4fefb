package channels

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soccerops/alertcore/internal/errkind"
)

// SMSTransport abstracts the underlying provider call so SMSChannel can be
// tested without a live account; a real implementation wraps something
// like the Twilio REST client.
type SMSTransport interface {
	SendSMS(ctx context.Context, from, to, body string) error
}

// SMSChannel delivers alert text messages. A zero-value SMSChannel with no
// transport configured makes every Deliver call a permanent no-op failure
// rather than panicking.
type SMSChannel struct {
	transport SMSTransport
	fromNumber string
	logger    *slog.Logger
}

// NewSMSChannel creates an SMSChannel. A nil transport disables the
// channel; Deliver then reports a permanent failure instead of sending.
func NewSMSChannel(transport SMSTransport, fromNumber string, logger *slog.Logger) *SMSChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMSChannel{transport: transport, fromNumber: fromNumber, logger: logger}
}

func (c *SMSChannel) Deliver(ctx context.Context, msg Message) Result {
	if c == nil || c.transport == nil {
		return Result{Outcome: OutcomePermanent, Err: fmt.Errorf("%w: SMS transport not configured", errkind.ChannelPermanent)}
	}
	if msg.Recipient == "" {
		return Result{Outcome: OutcomePermanent, Err: fmt.Errorf("%w: no recipient phone number", errkind.ChannelPermanent)}
	}

	body := renderSMSBody(msg)
	return withRetry(ctx, c.logger, func() error {
		if err := c.transport.SendSMS(ctx, c.fromNumber, msg.Recipient, body); err != nil {
			return fmt.Errorf("%w: %v", errkind.ChannelTransient, err)
		}
		return nil
	})
}
