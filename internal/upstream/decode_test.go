package upstream

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/soccerops/alertcore/internal/errkind"
	"github.com/soccerops/alertcore/internal/sportdata"
)

func TestDecodeStats(t *testing.T) {
	raw := json.RawMessage(`{
		"home": {"score": 2, "possession": 58.5, "shots": 11, "shots_on_target": 5, "xg": 1.42},
		"away": {"score": 0, "possession": 41.5, "shots": 3, "shots_on_target": 1}
	}`)

	home, away, err := decodeStats(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if home.Score != 2 || home.Possession != 58.5 || home.ShotsOnTarget != 5 {
		t.Fatalf("unexpected home stats: %+v", home)
	}
	if home.XG == nil || *home.XG != 1.42 {
		t.Fatalf("expected provider xG to survive decoding, got %v", home.XG)
	}
	if away.XG != nil {
		t.Fatalf("omitted xG must decode to nil, got %v", *away.XG)
	}
}

func TestDecodeStatsRejectsMalformedPayload(t *testing.T) {
	_, _, err := decodeStats(json.RawMessage(`"not an object"`))
	if !errors.Is(err, errkind.DataShape) {
		t.Fatalf("expected DataShape, got %v", err)
	}
}

func TestDecodeEventsDropsUnknownTypes(t *testing.T) {
	raw := json.RawMessage(`[
		{"minute": 23, "type": "goal", "team": "home", "player_id": "p9"},
		{"minute": 31, "type": "yellowcard", "team": "away"},
		{"minute": 40, "type": "throw_in", "team": "home"}
	]`)

	events, err := decodeEvents("fx1", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("unknown event types must be dropped, got %d events", len(events))
	}
	if events[0].Kind != sportdata.EventGoal || events[0].FixtureID != "fx1" || events[0].PlayerID != "p9" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Kind != sportdata.EventYellow || events[1].Team != sportdata.Away {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

func TestMapEventKindAcceptsBothVocabularies(t *testing.T) {
	cases := map[string]sportdata.EventKind{
		"goal":            sportdata.EventGoal,
		"GOAL":            sportdata.EventGoal,
		"redcard":         sportdata.EventRed,
		"substitution":    sportdata.EventSub,
		"shot_on_target":  sportdata.EventShotOn,
		"shot_off_target": sportdata.EventShotOff,
		"var":             sportdata.EventVAR,
		"kickoff":         "",
	}
	for in, want := range cases {
		if got := mapEventKind(in); got != want {
			t.Errorf("mapEventKind(%q) = %q, want %q", in, got, want)
		}
	}
}
