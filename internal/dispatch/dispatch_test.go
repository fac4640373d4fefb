package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soccerops/alertcore/internal/channels"
	"github.com/soccerops/alertcore/internal/sportdata"
)

// fakeStore is an in-memory TriggerStore test double.
type fakeStore struct {
	mu       sync.Mutex
	records  []sportdata.TriggerRecord
	outcomes map[string][]sportdata.Channel
	bumps    int
	failNext bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{outcomes: make(map[string][]sportdata.Channel)}
}

func (f *fakeStore) InsertTriggerRecord(ctx context.Context, rec sportdata.TriggerRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return assert.AnError
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) UpdateTriggerOutcome(ctx context.Context, recordID string, succeeded []sportdata.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[recordID] = succeeded
	return nil
}

func (f *fakeStore) BumpTriggerCounter(ctx context.Context, alertID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bumps++
	return nil
}

func (f *fakeStore) ContactForAlert(ctx context.Context, alertID int64) (string, string, error) {
	return "+15550000000", "owner@example.com", nil
}

func baseAlert() sportdata.Alert {
	return sportdata.Alert{
		ID:              1,
		Name:            "Home team goal",
		FixtureID:       "fx1",
		CooldownSeconds: 300,
		Channels:        nil, // no delivery transports under test, only dispatch bookkeeping
	}
}

func TestEvaluateFiresOnlyOnFalseToTrueTransition(t *testing.T) {
	store := newFakeStore()
	d := New(store, nil, 0, nil)
	alert := baseAlert()
	fixture := sportdata.Fixture{ID: "fx1"}

	r1 := d.Evaluate(context.Background(), alert, fixture, false, sportdata.Snapshot{}, sportdata.MetricVector{}, "home goals >= 1")
	assert.False(t, r1.Transitioned)
	assert.False(t, r1.Dispatched)

	r2 := d.Evaluate(context.Background(), alert, fixture, true, sportdata.Snapshot{}, sportdata.MetricVector{}, "home goals >= 1")
	require.True(t, r2.Transitioned)
	assert.True(t, r2.Dispatched)
	assert.Equal(t, int64(1), d.TriggerCount(alert.ID))

	// Remaining true on a later tick must not re-fire without a false in between.
	r3 := d.Evaluate(context.Background(), alert, fixture, true, sportdata.Snapshot{}, sportdata.MetricVector{}, "home goals >= 1")
	assert.False(t, r3.Transitioned)
	assert.Equal(t, int64(1), d.TriggerCount(alert.ID))

	require.Len(t, store.records, 1)
	assert.Equal(t, 1, store.bumps)
}

func TestEvaluateSuppressesWithinCooldown(t *testing.T) {
	store := newFakeStore()
	d := New(store, nil, 0, nil)
	alert := baseAlert()
	alert.CooldownSeconds = 3600
	fixture := sportdata.Fixture{ID: "fx1"}

	d.Evaluate(context.Background(), alert, fixture, true, sportdata.Snapshot{}, sportdata.MetricVector{}, "cond")

	// false->true->false->true in rapid succession: the second transition
	// must be suppressed by the still-active cooldown.
	d.Evaluate(context.Background(), alert, fixture, false, sportdata.Snapshot{}, sportdata.MetricVector{}, "cond")
	r := d.Evaluate(context.Background(), alert, fixture, true, sportdata.Snapshot{}, sportdata.MetricVector{}, "cond")

	assert.True(t, r.Transitioned)
	assert.True(t, r.Suppressed)
	assert.False(t, r.Dispatched)
	assert.Equal(t, int64(1), d.TriggerCount(alert.ID))
	require.Len(t, store.records, 1)
}

func TestEvaluateNeverDispatchesWithoutDurablePersistence(t *testing.T) {
	store := newFakeStore()
	store.failNext = true
	d := New(store, nil, 0, nil)
	alert := baseAlert()
	fixture := sportdata.Fixture{ID: "fx1"}

	r := d.Evaluate(context.Background(), alert, fixture, true, sportdata.Snapshot{}, sportdata.MetricVector{}, "cond")

	assert.True(t, r.Transitioned)
	assert.False(t, r.Dispatched)
	assert.Empty(t, store.records)
	assert.Equal(t, int64(0), d.TriggerCount(alert.ID))

	// The cooldown stamp must have been rolled back so a subsequent
	// successful persistence is not itself suppressed.
	r2 := d.Evaluate(context.Background(), alert, fixture, false, sportdata.Snapshot{}, sportdata.MetricVector{}, "cond")
	assert.False(t, r2.Transitioned)
	r3 := d.Evaluate(context.Background(), alert, fixture, true, sportdata.Snapshot{}, sportdata.MetricVector{}, "cond")
	assert.True(t, r3.Dispatched)
}

func TestEvaluateTracksTransitionsPerFixtureIndependently(t *testing.T) {
	store := newFakeStore()
	d := New(store, nil, 0, nil)
	alert := baseAlert()
	alert.FixtureID = "" // all-live-fixtures alert

	d.Evaluate(context.Background(), alert, sportdata.Fixture{ID: "fx1"}, true, sportdata.Snapshot{}, sportdata.MetricVector{}, "cond")
	r := d.Evaluate(context.Background(), alert, sportdata.Fixture{ID: "fx2"}, true, sportdata.Snapshot{}, sportdata.MetricVector{}, "cond")

	// fx2's own false->true transition is detected independently of fx1's,
	// but the cooldown is per alert, so the fx1 trigger suppresses it.
	assert.True(t, r.Transitioned)
	assert.True(t, r.Suppressed)
	assert.False(t, r.Dispatched)
	assert.Equal(t, int64(1), d.TriggerCount(alert.ID))
}

// fakeChannel is a scripted channels.Channel that returns a fixed outcome
// and counts deliveries.
type fakeChannel struct {
	mu       sync.Mutex
	outcome  channels.Outcome
	delivers int
}

func (f *fakeChannel) Deliver(ctx context.Context, msg channels.Message) channels.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivers++
	return channels.Result{Outcome: f.outcome}
}

func TestPermanentChannelFailureDisablesChannelForAlertOnly(t *testing.T) {
	store := newFakeStore()
	sms := &fakeChannel{outcome: channels.OutcomePermanent}
	ws := &fakeChannel{outcome: channels.OutcomeSent}
	d := New(store, map[sportdata.Channel]channels.Channel{
		sportdata.ChannelSMS:       sms,
		sportdata.ChannelWebSocket: ws,
	}, 0, nil)

	alert := baseAlert()
	alert.CooldownSeconds = 1
	alert.Channels = []sportdata.Channel{sportdata.ChannelSMS, sportdata.ChannelWebSocket}
	fixture := sportdata.Fixture{ID: "fx1"}

	r1 := d.Evaluate(context.Background(), alert, fixture, true, sportdata.Snapshot{}, sportdata.MetricVector{}, "cond")
	require.True(t, r1.Dispatched)
	assert.Equal(t, []sportdata.Channel{sportdata.ChannelWebSocket}, r1.Record.ChannelsSucceeded)
	assert.Equal(t, 1, sms.delivers)

	// After the cooldown lapses, a fresh trigger must skip the disabled
	// SMS channel while still delivering over WebSocket.
	time.Sleep(1100 * time.Millisecond)
	d.Evaluate(context.Background(), alert, fixture, false, sportdata.Snapshot{}, sportdata.MetricVector{}, "cond")
	r2 := d.Evaluate(context.Background(), alert, fixture, true, sportdata.Snapshot{}, sportdata.MetricVector{}, "cond")

	require.True(t, r2.Dispatched)
	assert.Equal(t, 1, sms.delivers, "disabled channel must not be retried")
	assert.Equal(t, 2, ws.delivers)

	// A different alert with the same channel set is unaffected.
	other := baseAlert()
	other.ID = 2
	other.Channels = []sportdata.Channel{sportdata.ChannelSMS}
	d.Evaluate(context.Background(), other, fixture, true, sportdata.Snapshot{}, sportdata.MetricVector{}, "cond")
	assert.Equal(t, 2, sms.delivers, "other alerts still attempt the channel")
}

func TestSeedFromHistoryPrimesCooldownAcrossRestart(t *testing.T) {
	store := newFakeStore()
	d := New(store, nil, 0, nil)
	alert := baseAlert()
	alert.CooldownSeconds = 3600
	fixture := sportdata.Fixture{ID: "fx1"}

	d.SeedFromHistory(alert, time.Now())

	r := d.Evaluate(context.Background(), alert, fixture, true, sportdata.Snapshot{}, sportdata.MetricVector{}, "cond")
	assert.True(t, r.Transitioned)
	assert.True(t, r.Suppressed)
	assert.False(t, r.Dispatched)
}
