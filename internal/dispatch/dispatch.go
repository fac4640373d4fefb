// Package dispatch decides whether an evaluated alert actually fires:
// false->true transition detection per (alert, fixture), cooldown
// enforcement, durable-before-dispatch TriggerRecord persistence, and
// parallel multi-channel fan-out with per-channel outcome tracking.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soccerops/alertcore/internal/channels"
	"github.com/soccerops/alertcore/internal/errkind"
	"github.com/soccerops/alertcore/internal/sportdata"
)

// TriggerStore is the subset of internal/alertstore the Dispatcher needs.
// Kept as an interface so the dispatcher can be tested without Postgres.
type TriggerStore interface {
	InsertTriggerRecord(ctx context.Context, rec sportdata.TriggerRecord) error
	UpdateTriggerOutcome(ctx context.Context, recordID string, succeeded []sportdata.Channel) error
	BumpTriggerCounter(ctx context.Context, alertID int64, at time.Time) error
	ContactForAlert(ctx context.Context, alertID int64) (phone, email string, err error)
}

// alertState tracks one alert's last-known truth value per fixture (for
// false->true transition detection), its cooldown/counter state, and any
// channels disabled for this alert after a permanent delivery failure.
type alertState struct {
	mu              sync.Mutex
	lastTruth       map[string]bool // fixtureID -> last observed truth value
	lastTriggeredAt time.Time
	cooldown        time.Duration
	triggerCount    int64
	disabled        map[sportdata.Channel]bool
}

// Dispatcher owns per-alert cooldown/transition state, locked per alert so
// thousands of alerts scale without a single global lock, and fans out
// triggered deliveries across the configured channels.
type Dispatcher struct {
	mu              sync.Mutex
	states          map[int64]*alertState
	store           TriggerStore
	channels        map[sportdata.Channel]channels.Channel
	defaultCooldown time.Duration
	logger          *slog.Logger
}

// New creates a Dispatcher. chans maps each supported Channel kind to its
// delivery implementation; a channel absent from the map is treated as
// permanently unconfigured for every alert that references it.
// defaultCooldown applies to alerts without an explicit cooldown_seconds.
func New(store TriggerStore, chans map[sportdata.Channel]channels.Channel, defaultCooldown time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultCooldown <= 0 {
		defaultCooldown = 300 * time.Second
	}
	return &Dispatcher{
		states:          make(map[int64]*alertState),
		store:           store,
		channels:        chans,
		defaultCooldown: defaultCooldown,
		logger:          logger,
	}
}

func (d *Dispatcher) stateFor(alert sportdata.Alert) *alertState {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.states[alert.ID]
	if !ok {
		cooldown := time.Duration(alert.CooldownSeconds) * time.Second
		if cooldown <= 0 {
			cooldown = d.defaultCooldown
		}
		s = &alertState{
			lastTruth:    make(map[string]bool),
			cooldown:     cooldown,
			triggerCount: alert.TriggerCount,
			disabled:     make(map[sportdata.Channel]bool),
		}
		d.states[alert.ID] = s
	}
	return s
}

// SeedFromHistory primes an alert's cooldown state from the durable
// trigger log, used on startup so a restart never forgets a trigger that
// happened moments before the process died. The in-memory map is
// authoritative while running, but must not regress cooldown enforcement
// across a restart.
func (d *Dispatcher) SeedFromHistory(alert sportdata.Alert, lastTriggeredAt time.Time) {
	s := d.stateFor(alert)
	s.mu.Lock()
	defer s.mu.Unlock()
	if lastTriggeredAt.After(s.lastTriggeredAt) {
		s.lastTriggeredAt = lastTriggeredAt
	}
}

// Result reports what happened to one (alert, fixture) evaluation this
// tick, for the engine's get-stats surface and tests.
type Result struct {
	Transitioned bool // truth value flipped false->true this tick
	Suppressed   bool // transitioned but within cooldown
	Dispatched   bool // a TriggerRecord was persisted and delivery attempted
	Record       sportdata.TriggerRecord
}

// Evaluate is called once per (alert, fixture) per tick with the freshly
// computed truth value. It detects the false->true transition, enforces
// cooldown, persists the TriggerRecord durably before attempting delivery,
// fans out across channels in parallel, and updates the alert's
// trigger_count/last_triggered_at. An either/both-scoped predicate's truth
// is already folded into the single bool this receives; the transition is
// over the whole expression, not per satisfying team.
func (d *Dispatcher) Evaluate(ctx context.Context, alert sportdata.Alert, fixture sportdata.Fixture, truth bool, snap sportdata.Snapshot, mv sportdata.MetricVector, conditionDesc string) Result {
	fixtureID := fixture.ID
	state := d.stateFor(alert)

	state.mu.Lock()
	prior := state.lastTruth[fixtureID]
	state.lastTruth[fixtureID] = truth
	transitioned := truth && !prior
	if !transitioned {
		state.mu.Unlock()
		return Result{Transitioned: false}
	}

	now := time.Now()
	since := now.Sub(state.lastTriggeredAt)
	if !state.lastTriggeredAt.IsZero() && since < state.cooldown {
		state.mu.Unlock()
		d.logger.Debug("dispatch: suppressed by cooldown", "alert_id", alert.ID, "fixture_id", fixtureID, "since", since)
		return Result{Transitioned: true, Suppressed: true}
	}
	state.lastTriggeredAt = now
	state.mu.Unlock()

	rec := sportdata.TriggerRecord{
		ID:                uuid.NewString(),
		AlertID:           alert.ID,
		FixtureID:         fixtureID,
		TriggeredAt:       now,
		MetricSnapshot:    mv,
		ChannelsAttempted: alert.Channels,
	}

	// Durable-before-dispatch: delivery is never attempted if the record
	// can't be persisted first, to avoid duplicate delivery on crash.
	if err := d.store.InsertTriggerRecord(ctx, rec); err != nil {
		d.logger.Error("dispatch: trigger record persistence failed, deferring dispatch",
			"alert_id", alert.ID, "fixture_id", fixtureID, "err", fmt.Errorf("%w: %v", errkind.StorePersistenceFailure, err))
		// Roll back the cooldown stamp so the next successful persistence
		// attempt is not itself suppressed by this failed one.
		state.mu.Lock()
		state.lastTriggeredAt = time.Time{}
		state.mu.Unlock()
		return Result{Transitioned: true}
	}

	succeeded := d.deliverAll(ctx, state, alert, fixture, snap, mv, conditionDesc)
	rec.ChannelsSucceeded = succeeded

	if err := d.store.UpdateTriggerOutcome(ctx, rec.ID, succeeded); err != nil {
		d.logger.Warn("dispatch: failed to record delivery outcome", "record_id", rec.ID, "err", err)
	}
	if err := d.store.BumpTriggerCounter(ctx, alert.ID, now); err != nil {
		d.logger.Warn("dispatch: failed to bump trigger counter", "alert_id", alert.ID, "err", err)
	}

	state.mu.Lock()
	state.triggerCount++
	state.mu.Unlock()

	d.logger.Info("dispatch: alert triggered", "alert_id", alert.ID, "fixture_id", fixtureID,
		"channels_attempted", alert.Channels, "channels_succeeded", succeeded)

	return Result{Transitioned: true, Dispatched: true, Record: rec}
}

// deliverAll fans delivery out to every channel in alert.Channels in
// parallel; per-channel failure never blocks another channel. A permanent
// failure (invalid number, blocked address) disables that channel for this
// alert only, so later triggers skip it instead of failing again.
func (d *Dispatcher) deliverAll(ctx context.Context, state *alertState, alert sportdata.Alert, fixture sportdata.Fixture, snap sportdata.Snapshot, mv sportdata.MetricVector, conditionDesc string) []sportdata.Channel {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded []sportdata.Channel
	var permanent []sportdata.Channel

	phone, email := "", ""
	if d.store != nil {
		if p, e, err := d.store.ContactForAlert(ctx, alert.ID); err == nil {
			phone, email = p, e
		}
	}

	for _, ch := range alert.Channels {
		state.mu.Lock()
		skip := state.disabled[ch]
		state.mu.Unlock()
		if skip {
			d.logger.Debug("dispatch: channel disabled for alert, skipping", "channel", ch, "alert_id", alert.ID)
			continue
		}
		impl, ok := d.channels[ch]
		if !ok {
			d.logger.Warn("dispatch: no implementation for channel", "channel", ch, "alert_id", alert.ID)
			continue
		}
		recipient := ""
		switch ch {
		case sportdata.ChannelSMS:
			recipient = phone
		case sportdata.ChannelEmail:
			recipient = email
		}
		msg := channels.Message{
			Alert:         alert,
			Snapshot:      snap,
			Metrics:       mv,
			Recipient:     recipient,
			HomeTeam:      fixture.HomeTeam,
			AwayTeam:      fixture.AwayTeam,
			League:        fixture.League,
			ConditionDesc: conditionDesc,
		}

		wg.Add(1)
		go func(ch sportdata.Channel, impl channels.Channel, msg channels.Message) {
			defer wg.Done()
			res := impl.Deliver(ctx, msg)
			switch res.Outcome {
			case channels.OutcomeSent:
				mu.Lock()
				succeeded = append(succeeded, ch)
				mu.Unlock()
			case channels.OutcomePermanent:
				mu.Lock()
				permanent = append(permanent, ch)
				mu.Unlock()
				d.logger.Warn("dispatch: permanent channel failure, disabling for alert", "channel", ch, "alert_id", alert.ID, "err", res.Err)
			default:
				d.logger.Warn("dispatch: channel delivery failed", "channel", ch, "alert_id", alert.ID, "outcome", res.Outcome, "err", res.Err)
			}
		}(ch, impl, msg)
	}

	wg.Wait()

	if len(permanent) > 0 {
		state.mu.Lock()
		for _, ch := range permanent {
			state.disabled[ch] = true
		}
		state.mu.Unlock()
	}
	return succeeded
}

// TriggerCount returns the in-memory trigger counter for an alert, used
// by get-stats and by tests asserting the monotone-trigger invariant.
func (d *Dispatcher) TriggerCount(alertID int64) int64 {
	d.mu.Lock()
	s, ok := d.states[alertID]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggerCount
}
