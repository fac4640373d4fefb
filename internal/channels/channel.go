// Package channels implements the SMS, Email, and WebSocket delivery
// transports behind a single Channel interface. Channels are nil-safe: an
// unconfigured transport reports a permanent failure on Deliver instead of
// panicking, so the dispatcher never has to special-case missing wiring.
package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/soccerops/alertcore/internal/broadcast"
	"github.com/soccerops/alertcore/internal/errkind"
	"github.com/soccerops/alertcore/internal/sportdata"
)

// Outcome classifies a single delivery attempt's terminal state.
type Outcome string

const (
	OutcomeSent      Outcome = "SENT"
	OutcomeTransient Outcome = "TRANSIENT_FAILURE"
	OutcomePermanent Outcome = "PERMANENT_FAILURE"
)

// Result is what a Channel.Deliver call returns.
type Result struct {
	Outcome Outcome
	Err     error
}

// Message is the fully rendered payload handed to a Channel, independent
// of transport.
type Message struct {
	Alert         sportdata.Alert
	Snapshot      sportdata.Snapshot
	Metrics       sportdata.MetricVector
	Recipient     string // phone number, email address; empty for WebSocket
	HomeTeam      string
	AwayTeam      string
	League        string
	ConditionDesc string // short human-readable description of the triggering condition
}

// Channel is the single-method delivery interface every transport
// implements.
type Channel interface {
	Deliver(ctx context.Context, msg Message) Result
}

// smsTemplate: alert name, league, score line, condition, elapsed minute.
// The rendered body stays well under the 320-char SMS ceiling.
const smsTemplate = "⚽ %s\n\U0001F3C6 %s\n\U0001F4CA %s %d - %d %s\n\U0001F3AF %s\n⏰ %d'"

func renderSMSBody(msg Message) string {
	league := msg.League
	if league == "" {
		league = msg.Alert.Name
	}
	condition := msg.ConditionDesc
	if condition == "" {
		condition = msg.Alert.Description
	}
	return fmt.Sprintf(smsTemplate,
		msg.Alert.Name,
		league,
		homeTeamLabel(msg), msg.Snapshot.Home.Score, msg.Snapshot.Away.Score, awayTeamLabel(msg),
		condition,
		msg.Snapshot.ElapsedMinute,
	)
}

func homeTeamLabel(msg Message) string {
	if msg.HomeTeam != "" {
		return msg.HomeTeam
	}
	return "Home"
}

func awayTeamLabel(msg Message) string {
	if msg.AwayTeam != "" {
		return msg.AwayTeam
	}
	return "Away"
}

// withRetry runs send and, on transient failures, retries it up to 3 times
// after the first attempt with exponential backoff (2s/4s/8s, jittered
// +/-20%). Permanent failures are never
// retried.
func withRetry(ctx context.Context, logger *slog.Logger, send func() error) Result {
	backoffs := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	var lastErr error
	for attempt := 0; attempt <= len(backoffs); attempt++ {
		err := send()
		if err == nil {
			return Result{Outcome: OutcomeSent}
		}
		lastErr = err
		if !isTransient(err) || attempt == len(backoffs) {
			return classify(err)
		}
		d := jitter(backoffs[attempt])
		logger.Warn("channel delivery failed, retrying", "attempt", attempt+1, "delay", d, "err", err)
		select {
		case <-ctx.Done():
			return Result{Outcome: OutcomeTransient, Err: ctx.Err()}
		case <-time.After(d):
		}
	}
	return classify(lastErr)
}

func isTransient(err error) bool {
	return errors.Is(err, errkind.ChannelTransient)
}

func classify(err error) Result {
	if err == nil {
		return Result{Outcome: OutcomeSent}
	}
	if errors.Is(err, errkind.ChannelTransient) {
		return Result{Outcome: OutcomeTransient, Err: err}
	}
	return Result{Outcome: OutcomePermanent, Err: err}
}

func jitter(base time.Duration) time.Duration {
	delta := float64(base) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return base + time.Duration(offset)
}

// WebSocketChannel publishes alert_triggered messages to the broadcast hub.
// It never fails transiently: a disconnected subscriber simply misses the
// message, matching the hub's best-effort contract.
type WebSocketChannel struct {
	hub *broadcast.Hub
}

// NewWebSocketChannel creates a WebSocketChannel. A nil hub makes every
// Deliver call a no-op success.
func NewWebSocketChannel(hub *broadcast.Hub) *WebSocketChannel {
	return &WebSocketChannel{hub: hub}
}

func (c *WebSocketChannel) Deliver(ctx context.Context, msg Message) Result {
	if c == nil || c.hub == nil {
		return Result{Outcome: OutcomeSent}
	}
	c.hub.Publish(broadcast.Message{
		Type: broadcast.TypeAlertTriggered,
		Data: map[string]any{
			"alert_id":   msg.Alert.ID,
			"alert_name": msg.Alert.Name,
			"fixture_id": msg.Snapshot.FixtureID,
			"priority":   msg.Alert.Priority,
			"home_team":  msg.HomeTeam,
			"away_team":  msg.AwayTeam,
			"home_score": msg.Snapshot.Home.Score,
			"away_score": msg.Snapshot.Away.Score,
			"elapsed":    msg.Snapshot.ElapsedMinute,
			"condition":  msg.ConditionDesc,
		},
	})
	return Result{Outcome: OutcomeSent}
}
