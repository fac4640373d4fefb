// Package engine wires the ingestion pipeline, metric extractor, pattern
// engine, condition evaluator, and dispatcher into one running process and
// exposes the operational control surface (start, stop, reload-alerts,
// force-poll-now, get-stats). Ingestion and evaluation share in-process
// state, so everything lives behind a single long-lived Engine type.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soccerops/alertcore/internal/alertstore"
	"github.com/soccerops/alertcore/internal/broadcast"
	"github.com/soccerops/alertcore/internal/channels"
	"github.com/soccerops/alertcore/internal/condition"
	"github.com/soccerops/alertcore/internal/config"
	"github.com/soccerops/alertcore/internal/db"
	"github.com/soccerops/alertcore/internal/dispatch"
	"github.com/soccerops/alertcore/internal/eventbuf"
	"github.com/soccerops/alertcore/internal/formula"
	"github.com/soccerops/alertcore/internal/ingest"
	"github.com/soccerops/alertcore/internal/metrics"
	"github.com/soccerops/alertcore/internal/snapshotstore"
	"github.com/soccerops/alertcore/internal/sportdata"
	"github.com/soccerops/alertcore/internal/upstream"
)

// evalJob is one fixture's freshly observed snapshot, queued for evaluation
// independently of the ingestion tick that produced it.
type evalJob struct {
	fixture  sportdata.Fixture
	snapshot sportdata.Snapshot
}

// fixtureEvents adapts a fixture's ring buffer and pattern engine into the
// single EventSource the condition evaluator needs: Snapshot() satisfies
// internal/condition.EventSource, and ActivePatternKinds() additionally
// satisfies internal/eventbuf.PatternSource so "pattern.<kind>" predicates
// resolve through the same value handed to Evaluate.
type fixtureEvents struct {
	buf *eventbuf.Buffer
	pe  *eventbuf.Engine
}

func (f fixtureEvents) Snapshot() []sportdata.Event                  { return f.buf.Snapshot() }
func (f fixtureEvents) ActivePatternKinds() []sportdata.PatternKind { return f.pe.ActivePatternKinds() }

// Counters is the engine-level subset of the get-stats surface that isn't
// already owned by internal/ingest.Counters: evaluation backpressure and
// delivery outcomes.
type Counters struct {
	TicksSkipped    int64
	SnapshotsDropped int64
	AlertsEvaluated int64
	AlertsTriggered int64
}

// Engine owns every long-lived collaborator and the two loops that drive
// them: the ingestion ticker (gated by evaluation backpressure) and the
// evaluation worker pool.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	pool    *db.Pool
	store   *alertstore.Store
	client  *upstream.Client
	snaps   *snapshotstore.Store
	buffers *eventbuf.Registry
	dispatcher *dispatch.Dispatcher
	hub     *broadcast.Hub
	pipeline *ingest.Pipeline

	alertsMu sync.RWMutex
	alerts   []sportdata.Alert
	custom   map[int64]condition.CustomMetrics // owner user id -> name -> formula

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	fixturesMu sync.RWMutex
	fixtures   map[string]sportdata.Fixture

	evalQueue chan evalJob
	pending   int32

	ticksSkipped     int64
	snapshotsDropped int64
	alertsEvaluated  int64
	alertsTriggered  int64

	mu         sync.Mutex
	cancel     context.CancelFunc
	running    bool
	quit       chan struct{} // closed by Stop: finish the in-flight tick, drain, exit
	tickerDone chan struct{} // closed when the ticker goroutine has produced its last snapshot
	wg         sync.WaitGroup
}

// shutdownGrace bounds how long Stop waits for in-flight fetches and the
// evaluation queue to drain before aborting them.
const shutdownGrace = 30 * time.Second

// Channels bundles the optional delivery transports. A nil field disables
// that channel; WebSocket is always enabled since it only requires the hub.
type Channels struct {
	SMS   channels.SMSTransport
	Email channels.EmailTransport
}

// New wires every collaborator from cfg and pool but does not start any
// goroutine; call Start to begin ingestion and evaluation.
func New(cfg *config.Config, pool *db.Pool, chans Channels, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	store := alertstore.New(pool.Pool)
	hub := broadcast.NewHub(logger)
	client := upstream.New(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey, cfg.UpstreamBudgetHour, cfg.UpstreamMinDelay, cfg.UpstreamCallTimeout, logger)
	snaps := snapshotstore.New()
	buffers := eventbuf.NewRegistry(cfg.EventBufferSize)

	channelImpls := map[sportdata.Channel]channels.Channel{
		sportdata.ChannelSMS:       channels.NewSMSChannel(chans.SMS, cfg.SMSFromNumber, logger),
		sportdata.ChannelEmail:     channels.NewEmailChannel(chans.Email, cfg.EmailFromAddr, logger),
		sportdata.ChannelWebSocket: channels.NewWebSocketChannel(hub),
	}
	dispatcher := dispatch.New(store, channelImpls, cfg.DefaultCooldown, logger)

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		store:   store,
		client:  client,
		snaps:   snaps,
		buffers: buffers,
		dispatcher: dispatcher,
		hub:     hub,
		locks:   make(map[int64]*sync.Mutex),
		fixtures: make(map[string]sportdata.Fixture),
		// Sized generously above max_monitored_fixtures so a full ingestion
		// tick never blocks on enqueue; overflow is dropped and counted
		// rather than exerting backpressure on the ingestion goroutines.
		evalQueue: make(chan evalJob, cfg.MaxMonitoredFixtures*4+16),
	}

	e.pipeline = ingest.New(client, snaps, buffers, cfg.IngestionConcurrency, cfg.MaxMonitoredFixtures, cfg.PollInterval, e.onSnapshot, logger)
	return e
}

// Hub exposes the broadcast hub for the control surface's WebSocket route.
func (e *Engine) Hub() *broadcast.Hub { return e.hub }

// Start loads the active alert set, primes the dispatcher's cooldown state
// from trigger history, and launches the ingestion ticker and evaluation
// workers. It returns once loaded; the loops run in background goroutines
// until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.quit = make(chan struct{})
	e.tickerDone = make(chan struct{})
	e.mu.Unlock()

	if err := e.ReloadAlerts(runCtx); err != nil {
		return fmt.Errorf("initial alert load: %w", err)
	}

	workers := e.cfg.IngestionConcurrency
	if workers <= 0 {
		workers = 5
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.evalWorker(runCtx)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(e.tickerDone)
		e.runTicker(runCtx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.startMaintenance(runCtx)
	}()

	e.logger.Info("engine: started", "poll_interval", e.cfg.PollInterval, "eval_workers", workers)
	return nil
}

// Stop shuts the background loops down gracefully: the in-flight tick
// finishes its fetches, the evaluation workers drain whatever is already
// queued (dispatching any triggers those snapshots produce), and only then
// do the goroutines exit. Work still running when the grace window expires
// is aborted via context cancellation. Trigger counters are persisted at
// dispatch time, so draining the queue is what persists them; the
// operational counters are logged on the way out.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	quit := e.quit
	e.mu.Unlock()

	close(quit)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		e.logger.Warn("engine: shutdown grace expired, aborting in-flight work", "grace", shutdownGrace)
		cancel()
		<-done
	}
	cancel()

	stats := e.Stats()
	e.logger.Info("engine: stopped",
		"polls", stats.Ingest.Polls,
		"alerts_evaluated", stats.Engine.AlertsEvaluated,
		"alerts_triggered", stats.Engine.AlertsTriggered,
		"ticks_skipped", stats.Engine.TicksSkipped,
		"snapshots_dropped", stats.Engine.SnapshotsDropped)
}

// Close releases resources that outlive start/stop cycles. Call once, at
// process shutdown, after Stop.
func (e *Engine) Close() {
	e.snaps.Close()
}

// runTicker polls on the configured interval, skipping a tick (and
// recording it) whenever the previous tick's snapshots have not finished
// evaluation yet: a slow evaluation pass must never cause the ingestion
// pipeline to pile up concurrent ticks.
func (e *Engine) runTicker(ctx context.Context) {
	e.ForcePoll(ctx)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.quit:
			// Shutdown: any tick already executing above has completed its
			// fetches by the time this select runs again, so returning here
			// stops scheduling without cutting one short.
			return
		case <-ticker.C:
			if atomic.LoadInt32(&e.pending) > 0 {
				atomic.AddInt64(&e.ticksSkipped, 1)
				e.logger.Warn("engine: evaluation backlog, skipping tick", "pending", atomic.LoadInt32(&e.pending))
				continue
			}
			e.pipeline.Tick(ctx)
		}
	}
}

// ForcePoll runs one ingestion tick immediately, outside the regular
// schedule, for the control surface's force-poll-now operation. It is a
// no-op on a stopped engine so a late control call can't feed snapshots
// into a queue nothing is draining.
func (e *Engine) ForcePoll(ctx context.Context) {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return
	}
	e.pipeline.Tick(ctx)
}

// onSnapshot is the ingestion pipeline's callback: it enqueues the fixture
// and its freshly observed snapshot for evaluation, dropping (and counting)
// the snapshot rather than blocking ingestion if the queue is saturated.
func (e *Engine) onSnapshot(fx sportdata.Fixture, snap sportdata.Snapshot) {
	e.fixturesMu.Lock()
	e.fixtures[fx.ID] = fx
	e.fixturesMu.Unlock()

	atomic.AddInt32(&e.pending, 1)
	select {
	case e.evalQueue <- evalJob{fixture: fx, snapshot: snap}:
	default:
		atomic.AddInt32(&e.pending, -1)
		atomic.AddInt64(&e.snapshotsDropped, 1)
		e.logger.Warn("engine: evaluation queue full, dropping snapshot", "fixture_id", fx.ID)
	}
}

func (e *Engine) evalWorker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.quit:
			e.drainQueue(ctx)
			return
		case job, ok := <-e.evalQueue:
			if !ok {
				return
			}
			e.evaluateSnapshot(ctx, job)
			atomic.AddInt32(&e.pending, -1)
		}
	}
}

// drainQueue finishes the evaluation queue during shutdown: it waits for
// the ticker goroutine to stop producing, then evaluates everything still
// queued so no observed snapshot is dropped unevaluated and every trigger
// it produces is dispatched. A hard context cancellation (grace window
// expired) cuts the drain short.
func (e *Engine) drainQueue(ctx context.Context) {
	select {
	case <-e.tickerDone:
	case <-ctx.Done():
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.evalQueue:
			e.evaluateSnapshot(ctx, job)
			atomic.AddInt32(&e.pending, -1)
		default:
			return
		}
	}
}

// evaluateSnapshot extracts metrics, runs pattern detection, broadcasts a
// match_update, and evaluates every alert scoped to this fixture (or to
// "all live fixtures") through the dispatcher.
func (e *Engine) evaluateSnapshot(ctx context.Context, job evalJob) {
	fx, snap := job.fixture, job.snapshot
	mv := metrics.Extract(snap)

	buf := e.buffers.For(fx.ID)
	pe := e.buffers.EngineFor(fx.ID)
	newPatterns := pe.Detect(buf, mv)
	for _, p := range newPatterns {
		e.hub.Publish(broadcast.Message{
			Type: broadcast.TypePatternDetected,
			Data: map[string]any{
				"pattern_id": p.ID, "fixture_id": p.FixtureID, "kind": p.Kind,
				"severity": p.Severity, "confidence": p.Confidence, "team": p.Team,
			},
		})
	}

	e.hub.Publish(broadcast.Message{
		Type: broadcast.TypeMatchUpdate,
		Data: map[string]any{
			"fixture_id": fx.ID, "home_team": fx.HomeTeam, "away_team": fx.AwayTeam,
			"home_score": snap.Home.Score, "away_score": snap.Away.Score,
			"elapsed": snap.ElapsedMinute, "status": snap.Status,
		},
	})

	events := fixtureEvents{buf: buf, pe: pe}

	for _, alert := range e.alertsForFixture(fx.ID) {
		e.evaluateAlert(ctx, alert, fx, snap, mv, events)
	}
}

// alertsForFixture returns every active alert scoped either to this fixture
// or to all live fixtures (FixtureID == "").
func (e *Engine) alertsForFixture(fixtureID string) []sportdata.Alert {
	e.alertsMu.RLock()
	defer e.alertsMu.RUnlock()
	out := make([]sportdata.Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		if a.FixtureID == "" || a.FixtureID == fixtureID {
			out = append(out, a)
		}
	}
	return out
}

// evaluateAlert holds the alert's per-alert mutex for the duration of its
// evaluation, so at most one evaluation of a given alert proceeds at a
// time: a slow evaluation for one fixture never races a concurrent tick's
// evaluation of the same alert against another.
func (e *Engine) evaluateAlert(ctx context.Context, alert sportdata.Alert, fx sportdata.Fixture, snap sportdata.Snapshot, mv sportdata.MetricVector, events fixtureEvents) {
	lock := e.lockFor(alert.ID)
	lock.Lock()
	defer lock.Unlock()

	truth, err := condition.EvaluateWithCustom(alert.Expression, mv, events, e.customForOwner(alert.OwnerUserID))
	atomic.AddInt64(&e.alertsEvaluated, 1)
	if err != nil {
		e.logger.Warn("engine: condition evaluation failed", "alert_id", alert.ID, "fixture_id", fx.ID, "err", err)
		return
	}

	result := e.dispatcher.Evaluate(ctx, alert, fx, truth, snap, mv, alert.Expression.Describe())
	if result.Dispatched {
		atomic.AddInt64(&e.alertsTriggered, 1)
	}
}

func (e *Engine) lockFor(alertID int64) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[alertID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[alertID] = l
	}
	return l
}

// ReloadAlerts re-reads the active alert set and each owner's custom
// metrics from the store, replacing the in-memory cache atomically so the
// next evaluation pass observes it — the control surface's reload-alerts
// operation.
func (e *Engine) ReloadAlerts(ctx context.Context) error {
	alerts, err := e.store.ActiveAlerts(ctx)
	if err != nil {
		return fmt.Errorf("load active alerts: %w", err)
	}

	for _, a := range alerts {
		if t, ok, err := e.store.LastTriggerTime(ctx, a.ID); err == nil && ok {
			e.dispatcher.SeedFromHistory(a, t)
		}
	}

	custom := make(map[int64]condition.CustomMetrics)
	for _, a := range alerts {
		if _, done := custom[a.OwnerUserID]; done {
			continue
		}
		custom[a.OwnerUserID] = e.loadCustomMetrics(ctx, a.OwnerUserID)
	}

	e.alertsMu.Lock()
	e.alerts = alerts
	e.custom = custom
	e.alertsMu.Unlock()

	e.logger.Info("engine: alerts reloaded", "count", len(alerts))
	return nil
}

// loadCustomMetrics fetches one owner's custom metrics, dropping (with a
// warning) any formula that no longer validates so a single bad metric
// never poisons the owner's other alerts.
func (e *Engine) loadCustomMetrics(ctx context.Context, ownerUserID int64) condition.CustomMetrics {
	rows, err := e.store.CustomMetricsByOwner(ctx, ownerUserID)
	if err != nil {
		e.logger.Warn("engine: loading custom metrics failed", "owner_user_id", ownerUserID, "err", err)
		return nil
	}
	out := make(condition.CustomMetrics, len(rows))
	for _, m := range rows {
		if err := formula.Validate(m.FormulaText); err != nil {
			e.logger.Warn("engine: custom metric failed validation, skipping",
				"owner_user_id", ownerUserID, "metric", m.Name, "err", err)
			continue
		}
		out[m.Name] = m.FormulaText
	}
	return out
}

func (e *Engine) customForOwner(ownerUserID int64) condition.CustomMetrics {
	e.alertsMu.RLock()
	defer e.alertsMu.RUnlock()
	return e.custom[ownerUserID]
}

// Stats is the get-stats control-surface response shape.
type Stats struct {
	Ingest   ingest.Counters
	Engine   Counters
	Alerts   int
	Subscribers int
}

// Stats reports a point-in-time snapshot of every operational counter.
func (e *Engine) Stats() Stats {
	e.alertsMu.RLock()
	alertCount := len(e.alerts)
	e.alertsMu.RUnlock()

	return Stats{
		Ingest: e.pipeline.Counters(),
		Engine: Counters{
			TicksSkipped:     atomic.LoadInt64(&e.ticksSkipped),
			SnapshotsDropped: atomic.LoadInt64(&e.snapshotsDropped),
			AlertsEvaluated:  atomic.LoadInt64(&e.alertsEvaluated),
			AlertsTriggered:  atomic.LoadInt64(&e.alertsTriggered),
		},
		Alerts:      alertCount,
		Subscribers: e.hub.Subscribers(),
	}
}
