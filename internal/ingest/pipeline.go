// Package ingest implements the polling pipeline: a single long-lived
// scheduler loop that lists live fixtures from the upstream provider, fans
// refresh work out across a bounded errgroup worker pool, diffs each
// fixture's event list against its prior snapshot, and publishes the
// result to downstream consumers (snapshot store, event buffers,
// evaluation).
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soccerops/alertcore/internal/errkind"
	"github.com/soccerops/alertcore/internal/eventbuf"
	"github.com/soccerops/alertcore/internal/sportdata"
	"github.com/soccerops/alertcore/internal/upstream"
)

// DetailLevel selects how many upstream calls a fixture's refresh costs,
// chosen by match status.
type DetailLevel int

const (
	// DetailNone skips the fetch entirely (SCHEDULED fixtures).
	DetailNone DetailLevel = iota
	// DetailBasic is the fixture list entry alone.
	DetailBasic
	// DetailDetailed adds statistics and events (FINISHED fixtures, 2 calls total).
	DetailDetailed
	// DetailFull adds statistics, events, and lineups (LIVE_* fixtures, 3 calls total).
	DetailFull
)

func detailLevelFor(status sportdata.FixtureStatus) DetailLevel {
	switch {
	case status.IsLive():
		return DetailFull
	case status == sportdata.StatusFinished:
		return DetailDetailed
	default:
		return DetailNone
	}
}

// SnapshotStore is the subset of internal/snapshotstore the pipeline needs.
type SnapshotStore interface {
	WithinTTL(fixtureID string) bool
	Put(snap sportdata.Snapshot)
	Get(fixtureID string) (sportdata.Snapshot, bool)
	GetStale(fixtureID string) (sportdata.Snapshot, bool)
}

// EventSink receives newly observed events for a fixture, feeding the
// per-fixture ring buffer and downstream pattern detection.
type EventSink interface {
	Append(e sportdata.Event)
}

// Counters accumulates the pipeline's operational totals for get-stats.
type Counters struct {
	mu             sync.Mutex
	Polls          int64
	FixturesSeen   int64
	OverCapacity   int64
	SkippedTick    int64
	FetchErrors    int64
	BudgetSkipped  int64
	StaleServed    int64
	EventsObserved int64
}

// tickTotals is one tick's deltas, merged into Counters under its lock.
type tickTotals struct {
	polls         int64
	seen          int64
	overCapacity  int64
	skipped       int64
	fetchErrors   int64
	budgetSkipped int64
	staleServed   int64
	events        int64
}

func (c *Counters) add(t tickTotals) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Polls += t.polls
	c.FixturesSeen += t.seen
	c.OverCapacity += t.overCapacity
	c.SkippedTick += t.skipped
	c.FetchErrors += t.fetchErrors
	c.BudgetSkipped += t.budgetSkipped
	c.StaleServed += t.staleServed
	c.EventsObserved += t.events
}

// Snapshot returns a point-in-time copy of the counters.
func (c *Counters) Snapshot() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Counters{
		Polls:          c.Polls,
		FixturesSeen:   c.FixturesSeen,
		OverCapacity:   c.OverCapacity,
		SkippedTick:    c.SkippedTick,
		FetchErrors:    c.FetchErrors,
		BudgetSkipped:  c.BudgetSkipped,
		StaleServed:    c.StaleServed,
		EventsObserved: c.EventsObserved,
	}
}

// Pipeline owns the scheduler loop and worker pool.
type Pipeline struct {
	client      *upstream.Client
	store       SnapshotStore
	buffers     *eventbuf.Registry
	concurrency int
	maxMonitored int
	interval    time.Duration
	logger      *slog.Logger
	counters    *Counters

	onSnapshot func(sportdata.Fixture, sportdata.Snapshot)
}

// New creates a Pipeline. onSnapshot, if non-nil, is invoked after every
// successful fetch-and-diff cycle for a fixture, letting the engine wire
// the snapshot (plus the fixture metadata that produced it) into metric
// extraction, pattern detection, and evaluation without the pipeline
// importing those packages directly.
func New(client *upstream.Client, store SnapshotStore, buffers *eventbuf.Registry, concurrency, maxMonitored int, interval time.Duration, onSnapshot func(sportdata.Fixture, sportdata.Snapshot), logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Pipeline{
		client:       client,
		store:        store,
		buffers:      buffers,
		concurrency:  concurrency,
		maxMonitored: maxMonitored,
		interval:     interval,
		logger:       logger,
		counters:     &Counters{},
		onSnapshot:   onSnapshot,
	}
}

// Counters exposes a read-only view of the running totals for get-stats.
func (p *Pipeline) Counters() Counters {
	return p.counters.Snapshot()
}

// Run blocks, polling on p.interval until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs exactly one poll cycle: list live fixtures, cap to
// max_monitored, and refresh each within a bounded worker pool. When a
// fetch fails — budget exhaustion or an upstream error that survived its
// retries — the fixture's cached snapshot, stale or not, is served to
// evaluation instead so cache-only evaluation proceeds.
func (p *Pipeline) Tick(ctx context.Context) {
	fixtures, err := p.client.ListLive(ctx)
	if err != nil {
		p.logger.Warn("ingest: list live fixtures failed", "err", err)
		p.counters.add(tickTotals{polls: 1, fetchErrors: 1})
		return
	}

	seen := int64(len(fixtures))
	overCapacity := int64(0)
	if p.maxMonitored > 0 && len(fixtures) > p.maxMonitored {
		overCapacity = int64(len(fixtures) - p.maxMonitored)
		fixtures = fixtures[:p.maxMonitored]
	}

	totals := tickTotals{polls: 1, seen: seen, overCapacity: overCapacity}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, fx := range fixtures {
		fx := fx
		if i > 0 {
			// Inter-dispatch spacing keeps the worker pool from bursting
			// every request in the same instant even under a high limit.
			time.Sleep(100 * time.Millisecond)
		}
		g.Go(func() error {
			if p.store.WithinTTL(fx.ID) {
				mu.Lock()
				totals.skipped++
				mu.Unlock()
				return nil
			}
			n, err := p.refreshFixture(gctx, fx)
			mu.Lock()
			if err != nil {
				if errors.Is(err, errkind.BudgetExceeded) {
					totals.budgetSkipped++
				} else {
					totals.fetchErrors++
				}
			}
			totals.events += int64(n)
			mu.Unlock()

			if err != nil {
				if stale, ok := p.store.GetStale(fx.ID); ok {
					mu.Lock()
					totals.staleServed++
					mu.Unlock()
					if p.onSnapshot != nil {
						p.onSnapshot(fx, stale)
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	p.counters.add(totals)
	p.logger.Debug("ingest: tick complete",
		"fixtures_seen", totals.seen, "over_capacity", totals.overCapacity,
		"skipped", totals.skipped, "fetch_errors", totals.fetchErrors,
		"budget_skipped", totals.budgetSkipped, "stale_served", totals.staleServed,
		"events", totals.events)
}

// refreshFixture fetches the appropriate detail level for one fixture,
// diffs its event list against the prior snapshot, stores the new
// snapshot, and returns the count of newly observed events.
func (p *Pipeline) refreshFixture(ctx context.Context, fx sportdata.Fixture) (int, error) {
	level := detailLevelFor(fx.Status)

	prior, hasPrior := p.store.GetStale(fx.ID)

	snap := sportdata.Snapshot{
		FixtureID:     fx.ID,
		ObservedAt:    time.Now(),
		Status:        fx.Status,
		ElapsedMinute: fx.ElapsedMinute,
	}

	if level == DetailNone {
		p.store.Put(snap)
		return 0, nil
	}

	home, away, err := p.client.FixtureStats(ctx, fx.ID)
	if err != nil {
		return 0, err
	}
	snap.Home, snap.Away = home, away

	var newEvents []sportdata.Event
	if level >= DetailDetailed {
		events, err := p.client.FixtureEvents(ctx, fx.ID)
		if err != nil {
			return 0, err
		}
		snap.Events = events
		newEvents = diffEvents(prior.Events, events)
	}
	if level == DetailFull {
		lineups, err := p.client.FixtureLineups(ctx, fx.ID)
		if err == nil {
			snap.Lineups = lineups
		}
	}

	if hasPrior {
		p.guardRegressions(prior, &snap)
	}

	p.store.Put(snap)

	if p.buffers != nil {
		buf := p.buffers.For(fx.ID)
		for _, e := range newEvents {
			buf.Append(e)
		}
	}

	if p.onSnapshot != nil {
		p.onSnapshot(fx, snap)
	}

	return len(newEvents), nil
}

// guardRegressions keeps the prior snapshot's values for any field the
// provider reported going backwards within the same fixture: scores and
// elapsed minutes only ever move forward, so a regression is a provider
// data fault, not a correction to adopt. Affected fields fall back to the
// prior observation and the fault is logged once for this fixture's tick;
// no corrected value is synthesized.
func (p *Pipeline) guardRegressions(prior sportdata.Snapshot, next *sportdata.Snapshot) {
	faulted := false
	if next.Home.Score < prior.Home.Score {
		next.Home.Score = prior.Home.Score
		faulted = true
	}
	if next.Away.Score < prior.Away.Score {
		next.Away.Score = prior.Away.Score
		faulted = true
	}
	if next.ElapsedMinute < prior.ElapsedMinute {
		next.ElapsedMinute = prior.ElapsedMinute
		faulted = true
	}
	if faulted {
		p.logger.Warn("ingest: upstream reported regressing fields, preferring prior snapshot",
			"fixture_id", next.FixtureID, "err", errkind.DataShape)
	}
}

// diffEvents returns the events present in next but not in prior, compared
// by (minute, kind, team, player) identity since the provider has no
// stable per-event id.
func diffEvents(prior, next []sportdata.Event) []sportdata.Event {
	seen := make(map[sportdata.Event]bool, len(prior))
	for _, e := range prior {
		seen[e] = true
	}
	var out []sportdata.Event
	for _, e := range next {
		if !seen[e] {
			out = append(out, e)
		}
	}
	return out
}
