package metrics

import (
	"testing"

	"github.com/soccerops/alertcore/internal/sportdata"
)

func TestExtractDefaultsForEmptySnapshot(t *testing.T) {
	mv := Extract(sportdata.Snapshot{})

	if mv.Home.Possession != 50 || mv.Away.Possession != 50 {
		t.Fatalf("missing possession must default to 50, got %v/%v", mv.Home.Possession, mv.Away.Possession)
	}
	if mv.TotalGoals != 0 || mv.Home.Goals != 0 {
		t.Fatalf("missing counts must default to 0, got %+v", mv)
	}
}

func TestExtractMatchLevelAggregates(t *testing.T) {
	snap := sportdata.Snapshot{
		ElapsedMinute: 70,
		Home:          sportdata.TeamStats{Score: 2, Shots: 10},
		Away:          sportdata.TeamStats{Score: 1, Shots: 4},
		Events: []sportdata.Event{
			{Minute: 12, Kind: sportdata.EventGoal, Team: sportdata.Home},
			{Minute: 51, Kind: sportdata.EventGoal, Team: sportdata.Home},
			{Minute: 65, Kind: sportdata.EventGoal, Team: sportdata.Away},
		},
	}
	mv := Extract(snap)

	if mv.TotalGoals != 3 || mv.ScoreDifference != 1 || mv.TotalShots != 14 {
		t.Fatalf("unexpected aggregates: %+v", mv)
	}
	if mv.FirstHalfGoals != 1 || mv.SecondHalfGoals != 2 {
		t.Fatalf("unexpected half split: first=%d second=%d", mv.FirstHalfGoals, mv.SecondHalfGoals)
	}
	if mv.Last10MinGoals != 1 {
		t.Fatalf("only the 65' goal falls in the last 10 minutes of a 70' snapshot, got %d", mv.Last10MinGoals)
	}
}

func TestMomentumWeightsAndClamp(t *testing.T) {
	snap := sportdata.Snapshot{
		ElapsedMinute: 30,
		Events: []sportdata.Event{
			{Minute: 25, Kind: sportdata.EventGoal, Team: sportdata.Home},    // +40
			{Minute: 26, Kind: sportdata.EventShotOn, Team: sportdata.Home},  // +10
			{Minute: 27, Kind: sportdata.EventCorner, Team: sportdata.Away},  // -5
			{Minute: 28, Kind: sportdata.EventRed, Team: sportdata.Away},     // red against away: +30 home
			{Minute: 29, Kind: sportdata.EventYellow, Team: sportdata.Home},  // +3
			{Minute: 10, Kind: sportdata.EventGoal, Team: sportdata.Away},    // outside the 10-minute window
		},
	}
	mv := Extract(snap)

	want := 40.0 + 10 - 5 + 30 + 3
	if mv.Home.Momentum != want {
		t.Fatalf("expected home momentum %v, got %v", want, mv.Home.Momentum)
	}
	if mv.Away.Momentum != -want {
		t.Fatalf("away momentum must mirror home with a sign flip, got %v", mv.Away.Momentum)
	}

	// Stacked goals must clamp at 100.
	var events []sportdata.Event
	for i := 0; i < 5; i++ {
		events = append(events, sportdata.Event{Minute: 25 + i, Kind: sportdata.EventGoal, Team: sportdata.Home})
	}
	mv = Extract(sportdata.Snapshot{ElapsedMinute: 30, Events: events})
	if mv.Home.Momentum != 100 || mv.Away.Momentum != -100 {
		t.Fatalf("expected clamp to [-100,100], got %v/%v", mv.Home.Momentum, mv.Away.Momentum)
	}
}

func TestPressureCountsOnlyRecentOffensiveEvents(t *testing.T) {
	snap := sportdata.Snapshot{
		ElapsedMinute: 20,
		Events: []sportdata.Event{
			{Minute: 17, Kind: sportdata.EventShotOn, Team: sportdata.Home},  // 10
			{Minute: 18, Kind: sportdata.EventShotOff, Team: sportdata.Home}, // 6
			{Minute: 19, Kind: sportdata.EventCorner, Team: sportdata.Home},  // 4
			{Minute: 19, Kind: sportdata.EventShotOn, Team: sportdata.Away},  // away only
			{Minute: 5, Kind: sportdata.EventShotOn, Team: sportdata.Home},   // outside the 5-minute window
		},
	}
	mv := Extract(snap)
	if mv.Home.Pressure != 20 {
		t.Fatalf("expected home pressure 20, got %v", mv.Home.Pressure)
	}
	if mv.Away.Pressure != 10 {
		t.Fatalf("expected away pressure 10, got %v", mv.Away.Pressure)
	}
}

func TestDerivedXGMonotoneInShotsOnTarget(t *testing.T) {
	base := Extract(sportdata.Snapshot{Home: sportdata.TeamStats{Shots: 6, ShotsOnTarget: 2}})
	more := Extract(sportdata.Snapshot{Home: sportdata.TeamStats{Shots: 6, ShotsOnTarget: 4}})
	if more.Home.XG <= base.Home.XG {
		t.Fatalf("derived xG must grow with shots on target: %v -> %v", base.Home.XG, more.Home.XG)
	}

	provided := 1.7
	mv := Extract(sportdata.Snapshot{Home: sportdata.TeamStats{Shots: 6, ShotsOnTarget: 4, XG: &provided}})
	if mv.Home.XG != provided {
		t.Fatalf("provider-supplied xG must win over the heuristic, got %v", mv.Home.XG)
	}
}

func TestWinProbabilityBoundsAndDirection(t *testing.T) {
	level := Extract(sportdata.Snapshot{ElapsedMinute: 45})
	if level.WinProbability != 0.5 {
		t.Fatalf("a level game must sit at 0.5, got %v", level.WinProbability)
	}

	leadingLate := Extract(sportdata.Snapshot{
		ElapsedMinute: 85,
		Home:          sportdata.TeamStats{Score: 2},
		Away:          sportdata.TeamStats{Score: 0},
	})
	leadingEarly := Extract(sportdata.Snapshot{
		ElapsedMinute: 10,
		Home:          sportdata.TeamStats{Score: 2},
		Away:          sportdata.TeamStats{Score: 0},
	})
	if leadingLate.WinProbability <= leadingEarly.WinProbability {
		t.Fatalf("the same lead must be worth more later: %v vs %v", leadingEarly.WinProbability, leadingLate.WinProbability)
	}
	if leadingLate.WinProbability <= 0 || leadingLate.WinProbability >= 1 {
		t.Fatalf("win probability out of (0,1): %v", leadingLate.WinProbability)
	}
}

func TestPlayerMetricsIncludeGoalContributions(t *testing.T) {
	snap := sportdata.Snapshot{
		Players: map[string]sportdata.PlayerStats{
			"p9": {PlayerID: "p9", Goals: 2, Assists: 1, Rating: 8.1},
		},
	}
	mv := Extract(snap)

	p, ok := mv.Players["p9"]
	if !ok {
		t.Fatal("expected player p9 in the metric vector")
	}
	if p.GoalContributions != 3 {
		t.Fatalf("expected goal contributions 3, got %d", p.GoalContributions)
	}

	v, err := PlayerValue(mv, "goal_contributions", "p9")
	if err != nil || v != 3 {
		t.Fatalf("PlayerValue(goal_contributions) = %v, %v", v, err)
	}
	// Unknown player ids resolve to zero rather than failing, so an alert
	// scoped to a benched player simply never fires.
	v, err = PlayerValue(mv, "goals", "p404")
	if err != nil || v != 0 {
		t.Fatalf("unknown player must yield 0, got %v, %v", v, err)
	}
}
