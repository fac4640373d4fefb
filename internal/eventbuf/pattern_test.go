package eventbuf

import (
	"testing"

	"github.com/soccerops/alertcore/internal/sportdata"
)

func TestGoalSequenceEmitsOncePerSpan(t *testing.T) {
	buf := NewBuffer(50)
	engine := NewEngine("fx1")

	buf.Append(sportdata.Event{FixtureID: "fx1", Minute: 45, Kind: sportdata.EventGoal, Team: sportdata.Home})
	newly := engine.Detect(buf, sportdata.MetricVector{Elapsed: 45})
	if len(newly) != 0 {
		t.Fatalf("one goal must not open a GOAL_SEQUENCE, got %d", len(newly))
	}

	buf.Append(sportdata.Event{FixtureID: "fx1", Minute: 48, Kind: sportdata.EventGoal, Team: sportdata.Home})
	newly = engine.Detect(buf, sportdata.MetricVector{Elapsed: 48})
	if len(newly) != 1 {
		t.Fatalf("expected one newly opened pattern at minute 48, got %d", len(newly))
	}
	if newly[0].Kind != sportdata.PatternGoalSequence || newly[0].Severity != sportdata.SeverityHigh {
		t.Fatalf("unexpected pattern: %+v", newly[0])
	}

	buf.Append(sportdata.Event{FixtureID: "fx1", Minute: 50, Kind: sportdata.EventGoal, Team: sportdata.Home})
	newly = engine.Detect(buf, sportdata.MetricVector{Elapsed: 50})
	if len(newly) != 0 {
		t.Fatalf("a third goal extending the same span must not re-emit, got %d", len(newly))
	}

	newly = engine.Detect(buf, sportdata.MetricVector{Elapsed: 61})
	if len(newly) != 0 {
		t.Fatalf("60s later with no new goals must not re-emit, got %d", len(newly))
	}
	if kinds := engine.ActivePatternKinds(); len(kinds) != 0 {
		t.Fatalf("pattern should have closed once outside the 10-minute window, got %v", kinds)
	}
}

func TestCardSequenceDetection(t *testing.T) {
	buf := NewBuffer(50)
	engine := NewEngine("fx2")

	buf.Append(sportdata.Event{FixtureID: "fx2", Minute: 30, Kind: sportdata.EventYellow, Team: sportdata.Home})
	buf.Append(sportdata.Event{FixtureID: "fx2", Minute: 32, Kind: sportdata.EventYellow, Team: sportdata.Away})
	buf.Append(sportdata.Event{FixtureID: "fx2", Minute: 33, Kind: sportdata.EventRed, Team: sportdata.Home})

	newly := engine.Detect(buf, sportdata.MetricVector{Elapsed: 33})
	if len(newly) != 1 || newly[0].Kind != sportdata.PatternCardSequence {
		t.Fatalf("expected one CARD_SEQUENCE pattern, got %+v", newly)
	}
}

func TestBufferRingWraps(t *testing.T) {
	buf := NewBuffer(3)
	for i := 1; i <= 5; i++ {
		buf.Append(sportdata.Event{Minute: i})
	}
	snap := buf.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", len(snap))
	}
	if snap[0].Minute != 3 || snap[2].Minute != 5 {
		t.Fatalf("unexpected ring order: %+v", snap)
	}
}
