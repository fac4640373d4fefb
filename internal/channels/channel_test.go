package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/soccerops/alertcore/internal/errkind"
	"github.com/soccerops/alertcore/internal/sportdata"
)

func sampleMessage() Message {
	return Message{
		Alert: sportdata.Alert{ID: 1, Name: "Late winner watch"},
		Snapshot: sportdata.Snapshot{
			FixtureID:     "fx1",
			ElapsedMinute: 88,
			Home:          sportdata.TeamStats{Score: 2},
			Away:          sportdata.TeamStats{Score: 1},
		},
		Recipient:     "+15551234567",
		HomeTeam:      "Arsenal",
		AwayTeam:      "Spurs",
		League:        "EPL",
		ConditionDesc: "home goals >= 2",
	}
}

func TestRenderSMSBody(t *testing.T) {
	body := renderSMSBody(sampleMessage())

	for _, want := range []string{"Late winner watch", "EPL", "Arsenal 2 - 1 Spurs", "home goals >= 2", "88'"} {
		if !strings.Contains(body, want) {
			t.Errorf("SMS body missing %q:\n%s", want, body)
		}
	}
	if len(body) > 320 {
		t.Fatalf("SMS body exceeds the 320-char ceiling: %d", len(body))
	}
}

func TestClassifyOutcomes(t *testing.T) {
	if r := classify(nil); r.Outcome != OutcomeSent {
		t.Fatalf("nil error must classify as sent, got %s", r.Outcome)
	}
	transient := fmt.Errorf("%w: socket reset", errkind.ChannelTransient)
	if r := classify(transient); r.Outcome != OutcomeTransient {
		t.Fatalf("expected transient, got %s", r.Outcome)
	}
	permanent := fmt.Errorf("%w: invalid number", errkind.ChannelPermanent)
	if r := classify(permanent); r.Outcome != OutcomePermanent {
		t.Fatalf("expected permanent, got %s", r.Outcome)
	}
	if r := classify(errors.New("unclassified")); r.Outcome != OutcomePermanent {
		t.Fatalf("unclassified errors must fail permanent, got %s", r.Outcome)
	}
}

func TestSMSChannelWithoutTransportFailsPermanent(t *testing.T) {
	c := NewSMSChannel(nil, "", nil)
	r := c.Deliver(context.Background(), sampleMessage())
	if r.Outcome != OutcomePermanent || !errors.Is(r.Err, errkind.ChannelPermanent) {
		t.Fatalf("expected permanent failure without transport, got %+v", r)
	}
}

type recordingSMS struct {
	to, body string
}

func (r *recordingSMS) SendSMS(ctx context.Context, from, to, body string) error {
	r.to, r.body = to, body
	return nil
}

func TestSMSChannelDeliversRenderedBody(t *testing.T) {
	transport := &recordingSMS{}
	c := NewSMSChannel(transport, "+15550000000", nil)

	r := c.Deliver(context.Background(), sampleMessage())
	if r.Outcome != OutcomeSent {
		t.Fatalf("expected sent, got %+v", r)
	}
	if transport.to != "+15551234567" {
		t.Fatalf("unexpected recipient: %s", transport.to)
	}
	if !strings.Contains(transport.body, "Arsenal 2 - 1 Spurs") {
		t.Fatalf("unexpected body: %s", transport.body)
	}
}

func TestSMSChannelRequiresRecipient(t *testing.T) {
	c := NewSMSChannel(&recordingSMS{}, "+15550000000", nil)
	msg := sampleMessage()
	msg.Recipient = ""

	r := c.Deliver(context.Background(), msg)
	if r.Outcome != OutcomePermanent {
		t.Fatalf("expected permanent failure without a recipient, got %+v", r)
	}
}

func TestWebSocketChannelNilHubIsNoOpSuccess(t *testing.T) {
	c := NewWebSocketChannel(nil)
	if r := c.Deliver(context.Background(), sampleMessage()); r.Outcome != OutcomeSent {
		t.Fatalf("nil hub must be a no-op success, got %+v", r)
	}
}
