package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soccerops/alertcore/internal/broadcast"
	"github.com/soccerops/alertcore/internal/eventbuf"
	"github.com/soccerops/alertcore/internal/sportdata"
)

func TestFixtureEventsAdapterSatisfiesBothSources(t *testing.T) {
	buf := eventbuf.NewBuffer(10)
	buf.Append(sportdata.Event{FixtureID: "fx1", Minute: 10, Kind: sportdata.EventGoal, Team: sportdata.Home})
	pe := eventbuf.NewEngine("fx1")

	fe := fixtureEvents{buf: buf, pe: pe}

	events := fe.Snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, sportdata.EventGoal, events[0].Kind)

	var ps eventbuf.PatternSource = fe
	assert.Empty(t, ps.ActivePatternKinds())
}

func TestAlertsForFixtureIncludesFixtureScopedAndGlobalAlerts(t *testing.T) {
	e := &Engine{alerts: []sportdata.Alert{
		{ID: 1, FixtureID: "fx1"},
		{ID: 2, FixtureID: "fx2"},
		{ID: 3, FixtureID: ""},
	}}

	got := e.alertsForFixture("fx1")
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []int64{1, 3}, []int64{got[0].ID, got[1].ID})
}

func TestLockForReturnsSameMutexForSameAlert(t *testing.T) {
	e := &Engine{locks: make(map[int64]*sync.Mutex)}
	a := e.lockFor(42)
	b := e.lockFor(42)
	assert.Same(t, a, b)

	c := e.lockFor(7)
	assert.NotSame(t, a, c)
}

func TestDrainQueueEvaluatesEverythingQueued(t *testing.T) {
	e := &Engine{
		logger:     slog.Default(),
		buffers:    eventbuf.NewRegistry(50),
		hub:        broadcast.NewHub(nil),
		locks:      make(map[int64]*sync.Mutex),
		fixtures:   make(map[string]sportdata.Fixture),
		evalQueue:  make(chan evalJob, 4),
		quit:       make(chan struct{}),
		tickerDone: make(chan struct{}),
	}

	for _, id := range []string{"fx1", "fx2"} {
		e.evalQueue <- evalJob{
			fixture:  sportdata.Fixture{ID: id},
			snapshot: sportdata.Snapshot{FixtureID: id, Status: sportdata.StatusLive1H},
		}
		e.pending++
	}
	close(e.tickerDone)

	e.drainQueue(context.Background())

	assert.Empty(t, e.evalQueue, "shutdown must not leave snapshots queued")
	assert.EqualValues(t, 0, e.pending)
}

func TestDrainQueueStopsOnHardCancel(t *testing.T) {
	e := &Engine{
		logger:     slog.Default(),
		evalQueue:  make(chan evalJob, 1),
		quit:       make(chan struct{}),
		tickerDone: make(chan struct{}), // never closed: producer still running
	}
	e.evalQueue <- evalJob{fixture: sportdata.Fixture{ID: "fx1"}}
	e.pending++

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.drainQueue(ctx)

	assert.Len(t, e.evalQueue, 1, "a hard cancel abandons the drain instead of blocking on the producer")
}
