package eventbuf

import (
	"fmt"
	"sync"

	"github.com/soccerops/alertcore/internal/sportdata"
)

// PatternSource is implemented by Engine so the condition evaluator can
// resolve the synthetic "pattern.<kind>" metric without importing
// internal/dispatch or internal/engine.
type PatternSource interface {
	ActivePatternKinds() []sportdata.PatternKind
}

// Sample is a lightweight metric snapshot retained purely for the pattern
// engine's lookback comparisons (possession/momentum deltas, pressure
// streaks). It is not the full MetricVector to keep the history cheap.
type Sample struct {
	Minute         int
	PossessionHome float64
	PossessionAway float64
	MomentumHome   float64
	PressureHome   float64
	PressureAway   float64
}

type openSpan struct {
	pattern  sportdata.Pattern
	openedAt int
}

// Engine detects the six pattern classes for a single fixture by scanning
// its event ring plus a short metric-sample history. It tracks open spans
// so a Pattern is reported once per contiguous occurrence: it does not
// re-emit while already open, and a later re-start after the criteria
// lapses produces a fresh Pattern.
type Engine struct {
	mu       sync.Mutex
	fixtureID string
	samples  []Sample
	open     map[string]*openSpan // keyed by "<kind>:<team>:<variant>"
}

// NewEngine creates a pattern engine for one fixture.
func NewEngine(fixtureID string) *Engine {
	return &Engine{fixtureID: fixtureID, open: make(map[string]*openSpan)}
}

// Detect records the current tick's metrics, scans the event buffer for
// the six pattern kinds, and returns any Patterns that newly opened this
// tick (the ones the engine broadcasts). Patterns do not
// feed back into the event buffer — Detect never appends to buf.
func (e *Engine) Detect(buf *Buffer, mv sportdata.MetricVector) []sportdata.Pattern {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recordSample(mv)
	events := buf.Snapshot()

	var candidates []detectCandidate
	candidates = append(candidates, e.goalSequences(mv, events)...)
	candidates = append(candidates, e.cardSequence(mv, events))
	candidates = append(candidates, e.possessionSwing(mv)...)
	candidates = append(candidates, e.momentumShift(mv)...)
	candidates = append(candidates, e.pressureBuildup(mv)...)
	candidates = append(candidates, e.timeBased(mv, events)...)

	var newlyOpened []sportdata.Pattern
	seen := make(map[string]bool)

	for _, c := range candidates {
		key := fmt.Sprintf("%s:%s:%s", c.kind, c.team, c.variant)
		seen[key] = true
		if !c.holds {
			delete(e.open, key)
			continue
		}
		if existing, ok := e.open[key]; ok {
			existing.pattern.EndedAt = c.ended
			existing.pattern.Evidence = c.evidence
			existing.pattern.Confidence = c.confidence
			continue
		}
		p := sportdata.Pattern{
			ID:         fmt.Sprintf("%s-%s-%d", e.fixtureID, c.kind, c.started),
			FixtureID:  e.fixtureID,
			Kind:       c.kind,
			Severity:   c.severity,
			Confidence: c.confidence,
			Team:       c.team,
			StartedAt:  c.started,
			EndedAt:    c.ended,
			Evidence:   c.evidence,
		}
		e.open[key] = &openSpan{pattern: p, openedAt: c.started}
		newlyOpened = append(newlyOpened, p)
	}

	// Close any previously open spans whose kind/team wasn't a candidate
	// at all this tick (criteria definitely no longer evaluated true).
	for key := range e.open {
		if !seen[key] {
			delete(e.open, key)
		}
	}

	e.escalateOverlaps()

	return newlyOpened
}

// ActivePatternKinds implements PatternSource.
func (e *Engine) ActivePatternKinds() []sportdata.PatternKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	kinds := make([]sportdata.PatternKind, 0, len(e.open))
	for _, span := range e.open {
		kinds = append(kinds, span.pattern.Kind)
	}
	return kinds
}

// escalateOverlaps bumps severity to CRITICAL when two open patterns share
// a team and their spans overlap within 2 minutes of each other.
func (e *Engine) escalateOverlaps() {
	spans := make([]*openSpan, 0, len(e.open))
	for _, s := range e.open {
		spans = append(spans, s)
	}
	for i := range spans {
		for j := range spans {
			if i == j {
				continue
			}
			a, b := spans[i], spans[j]
			if a.pattern.Team == "" || a.pattern.Team != b.pattern.Team {
				continue
			}
			if overlapsWithin(a.pattern.StartedAt, a.pattern.EndedAt, b.pattern.StartedAt, b.pattern.EndedAt, 2) {
				a.pattern.Severity = sportdata.SeverityCritical
				b.pattern.Severity = sportdata.SeverityCritical
			}
		}
	}
}

func overlapsWithin(aStart, aEnd, bStart, bEnd, withinMinutes int) bool {
	if aEnd == 0 {
		aEnd = aStart
	}
	if bEnd == 0 {
		bEnd = bStart
	}
	gap := aStart - bEnd
	if gap < 0 {
		gap = bStart - aEnd
	}
	if gap < 0 {
		return true // they overlap directly
	}
	return gap <= withinMinutes
}

func (e *Engine) recordSample(mv sportdata.MetricVector) {
	e.samples = append(e.samples, Sample{
		Minute:         mv.Elapsed,
		PossessionHome: mv.Home.Possession,
		PossessionAway: mv.Away.Possession,
		MomentumHome:   mv.Home.Momentum,
		PressureHome:   mv.Home.Pressure,
		PressureAway:   mv.Away.Pressure,
	})
	// Keep the last 240 samples; ticks are at least a minute apart, so this
	// covers a full match and bounds memory without needing wall time.
	if len(e.samples) > 240 {
		e.samples = e.samples[len(e.samples)-240:]
	}
}

// sampleAtOrBefore returns the most recent sample at or before targetMinute.
func (e *Engine) sampleAtOrBefore(targetMinute int) *Sample {
	var best *Sample
	for i := range e.samples {
		s := &e.samples[i]
		if s.Minute <= targetMinute {
			if best == nil || s.Minute > best.Minute {
				best = s
			}
		}
	}
	return best
}
