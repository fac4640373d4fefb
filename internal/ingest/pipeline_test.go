package ingest

import (
	"testing"
	"time"

	"github.com/soccerops/alertcore/internal/sportdata"
)

func TestDetailLevelFor(t *testing.T) {
	cases := map[sportdata.FixtureStatus]DetailLevel{
		sportdata.StatusLive1H:    DetailFull,
		sportdata.StatusHalfTime:  DetailFull,
		sportdata.StatusExtraTime: DetailFull,
		sportdata.StatusFinished:  DetailDetailed,
		sportdata.StatusScheduled: DetailNone,
		sportdata.StatusPostponed: DetailNone,
	}
	for status, want := range cases {
		if got := detailLevelFor(status); got != want {
			t.Errorf("status %s: expected %d, got %d", status, want, got)
		}
	}
}

func TestDiffEventsFindsOnlyNew(t *testing.T) {
	prior := []sportdata.Event{
		{FixtureID: "fx1", Minute: 10, Kind: sportdata.EventGoal, Team: sportdata.Home},
	}
	next := []sportdata.Event{
		{FixtureID: "fx1", Minute: 10, Kind: sportdata.EventGoal, Team: sportdata.Home},
		{FixtureID: "fx1", Minute: 23, Kind: sportdata.EventYellow, Team: sportdata.Away},
	}

	got := diffEvents(prior, next)
	if len(got) != 1 {
		t.Fatalf("expected 1 new event, got %d", len(got))
	}
	if got[0].Kind != sportdata.EventYellow {
		t.Fatalf("unexpected new event: %+v", got[0])
	}
}

func TestDiffEventsEmptyWhenUnchanged(t *testing.T) {
	events := []sportdata.Event{
		{FixtureID: "fx1", Minute: 10, Kind: sportdata.EventGoal, Team: sportdata.Home},
	}
	if got := diffEvents(events, events); len(got) != 0 {
		t.Fatalf("expected no new events, got %d", len(got))
	}
}

type fakeStore struct {
	within map[string]bool
	stale  map[string]sportdata.Snapshot
	put    []sportdata.Snapshot
}

func (f *fakeStore) WithinTTL(fixtureID string) bool { return f.within[fixtureID] }
func (f *fakeStore) Put(snap sportdata.Snapshot)     { f.put = append(f.put, snap) }
func (f *fakeStore) Get(fixtureID string) (sportdata.Snapshot, bool) {
	return sportdata.Snapshot{}, false
}
func (f *fakeStore) GetStale(fixtureID string) (sportdata.Snapshot, bool) {
	snap, ok := f.stale[fixtureID]
	return snap, ok
}

func TestCountersAccumulate(t *testing.T) {
	c := &Counters{}
	c.add(tickTotals{polls: 1, seen: 10, overCapacity: 2, skipped: 1, events: 5})
	c.add(tickTotals{polls: 1, seen: 8, fetchErrors: 1, budgetSkipped: 4, staleServed: 4, events: 3})

	snap := c.Snapshot()
	if snap.Polls != 2 || snap.FixturesSeen != 18 || snap.OverCapacity != 2 ||
		snap.SkippedTick != 1 || snap.FetchErrors != 1 || snap.EventsObserved != 8 {
		t.Fatalf("unexpected accumulated counters: %+v", snap)
	}
	if snap.BudgetSkipped != 4 || snap.StaleServed != 4 {
		t.Fatalf("unexpected budget/stale counters: %+v", snap)
	}
}

func TestGuardRegressionsPrefersPriorFields(t *testing.T) {
	p := New(nil, &fakeStore{}, nil, 1, 20, time.Minute, nil, nil)

	prior := sportdata.Snapshot{
		FixtureID:     "fx1",
		ElapsedMinute: 60,
		Home:          sportdata.TeamStats{Score: 2},
		Away:          sportdata.TeamStats{Score: 1},
	}
	next := sportdata.Snapshot{
		FixtureID:     "fx1",
		ElapsedMinute: 58,
		Home:          sportdata.TeamStats{Score: 1, Shots: 9},
		Away:          sportdata.TeamStats{Score: 1},
	}

	p.guardRegressions(prior, &next)

	if next.Home.Score != 2 || next.Away.Score != 1 {
		t.Fatalf("expected regressed scores to fall back to prior, got %d-%d", next.Home.Score, next.Away.Score)
	}
	if next.ElapsedMinute != 60 {
		t.Fatalf("expected regressed elapsed to fall back to prior, got %d", next.ElapsedMinute)
	}
	if next.Home.Shots != 9 {
		t.Fatalf("unaffected fields must keep the fresh observation, got %d", next.Home.Shots)
	}
}
