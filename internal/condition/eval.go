// Package condition walks an alert's boolean Expression tree against a
// MetricVector and its fixture's event buffer. Evaluation dispatches on
// the Expression's kind tag, honoring time windows, team scopes, player
// scopes, and event sequences.
package condition

import (
	"fmt"
	"strings"

	"github.com/soccerops/alertcore/internal/errkind"
	"github.com/soccerops/alertcore/internal/eventbuf"
	"github.com/soccerops/alertcore/internal/formula"
	"github.com/soccerops/alertcore/internal/metrics"
	"github.com/soccerops/alertcore/internal/sportdata"
)

// EventSource supplies the recent-event context a Sequence or windowed
// count predicate needs. internal/eventbuf.Buffer satisfies this; readers
// take a snapshot copy of the ring before scanning, never touching the
// live buffer's internal state directly.
type EventSource interface {
	Snapshot() []sportdata.Event
}

// CustomMetrics maps a user's custom metric names to their formula text.
// A predicate whose metric is "custom.<name>" resolves through this map;
// the formula re-parses (and so re-validates) on every evaluation.
type CustomMetrics map[string]string

// Evaluate walks expr against mv and the fixture's event history, honoring
// time windows and event sequences. And/Or are evaluated short-circuit in
// declaration order; children are never reordered, so truth values are
// deterministic for a fixed snapshot and event buffer.
func Evaluate(expr sportdata.Expression, mv sportdata.MetricVector, events EventSource) (bool, error) {
	return EvaluateWithCustom(expr, mv, events, nil)
}

// EvaluateWithCustom is Evaluate with the owning user's custom metrics in
// scope for "custom.<name>" predicates.
func EvaluateWithCustom(expr sportdata.Expression, mv sportdata.MetricVector, events EventSource, custom CustomMetrics) (bool, error) {
	switch expr.Kind {
	case sportdata.ExprPredicate:
		return evalPredicate(expr, mv, events, custom)
	case sportdata.ExprAnd:
		for _, child := range expr.Children {
			ok, err := EvaluateWithCustom(child, mv, events, custom)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case sportdata.ExprOr:
		for _, child := range expr.Children {
			ok, err := EvaluateWithCustom(child, mv, events, custom)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case sportdata.ExprNot:
		if len(expr.Children) != 1 {
			return false, fmt.Errorf("%w: Not requires exactly one child", errkind.UnsafeExpression)
		}
		ok, err := EvaluateWithCustom(expr.Children[0], mv, events, custom)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case sportdata.ExprSequence:
		return evalSequence(expr, events), nil
	default:
		return false, fmt.Errorf("%w: unknown expression kind %q", errkind.UnsafeExpression, expr.Kind)
	}
}

// evalPredicate resolves a Predicate against mv, honoring time windows,
// player scope, team scope, the synthetic "pattern.<kind>" metric that
// lets an alert reference a detected Pattern, and "custom.<name>" metrics
// resolved through the owner's formulas.
func evalPredicate(expr sportdata.Expression, mv sportdata.MetricVector, events EventSource, custom CustomMetrics) (bool, error) {
	if strings.HasPrefix(expr.Metric, "pattern.") {
		return evalPatternPredicate(expr, events), nil
	}

	if expr.Window != nil && (mv.Elapsed < expr.Window.StartMinute || mv.Elapsed > expr.Window.EndMinute) {
		return false, nil
	}

	if name, found := strings.CutPrefix(expr.Metric, "custom."); found {
		return evalCustomPredicate(expr, name, mv, custom)
	}

	if expr.PlayerID != "" {
		value, err := metrics.PlayerValue(mv, expr.Metric, expr.PlayerID)
		if err != nil {
			return false, err
		}
		return compare(value, expr.Operator, expr.Value), nil
	}

	// Counted metrics within a window count only in-window events rather
	// than reading the cumulative MetricVector field.
	if expr.Window != nil && isCountedMetric(expr.Metric) {
		switch expr.TeamScope {
		case sportdata.Either:
			home := compare(countInWindow(expr, events, sportdata.Home), expr.Operator, expr.Value)
			away := compare(countInWindow(expr, events, sportdata.Away), expr.Operator, expr.Value)
			return home || away, nil
		case sportdata.Both:
			home := compare(countInWindow(expr, events, sportdata.Home), expr.Operator, expr.Value)
			away := compare(countInWindow(expr, events, sportdata.Away), expr.Operator, expr.Value)
			return home && away, nil
		default:
			return compare(countInWindow(expr, events, expr.TeamScope), expr.Operator, expr.Value), nil
		}
	}

	switch expr.TeamScope {
	case sportdata.Either, sportdata.Both:
		return compareScoped(expr, mv)
	case sportdata.Home, sportdata.Away:
		value, err := metrics.Value(mv, expr.Metric, expr.TeamScope)
		if err != nil {
			return false, err
		}
		return compare(value, expr.Operator, expr.Value), nil
	default:
		value, err := metrics.Value(mv, expr.Metric, sportdata.Home)
		if err != nil {
			return false, err
		}
		return compare(value, expr.Operator, expr.Value), nil
	}
}

// compareScoped resolves an either/both-scoped predicate: "either" holds
// if at least one side satisfies the operator, "both" requires every side
// to. The alert-level trigger still fires once per false->true transition
// of the overall expression regardless of how many sides satisfy; that
// transition detection lives in internal/dispatch, not here.
func compareScoped(expr sportdata.Expression, mv sportdata.MetricVector) (bool, error) {
	homeVal, err := metrics.Value(mv, expr.Metric, sportdata.Home)
	if err != nil {
		return false, err
	}
	awayVal, err := metrics.Value(mv, expr.Metric, sportdata.Away)
	if err != nil {
		return false, err
	}
	homeHolds := compare(homeVal, expr.Operator, expr.Value)
	awayHolds := compare(awayVal, expr.Operator, expr.Value)
	if expr.TeamScope == sportdata.Either {
		return homeHolds || awayHolds, nil
	}
	return homeHolds && awayHolds, nil
}

// evalCustomPredicate resolves a "custom.<name>" metric by evaluating the
// owner's formula against mv. Formula failures (unsafe expression, unknown
// variable) propagate so the caller can suppress the alert for this tick
// and record a user-visible warning.
func evalCustomPredicate(expr sportdata.Expression, name string, mv sportdata.MetricVector, custom CustomMetrics) (bool, error) {
	text, ok := custom[name]
	if !ok {
		return false, fmt.Errorf("%w: custom metric %q", errkind.UnknownVariable, name)
	}
	switch expr.TeamScope {
	case sportdata.Either, sportdata.Both:
		homeVal, err := formula.Evaluate(text, mv, sportdata.Home)
		if err != nil {
			return false, err
		}
		awayVal, err := formula.Evaluate(text, mv, sportdata.Away)
		if err != nil {
			return false, err
		}
		homeHolds := compare(homeVal, expr.Operator, expr.Value)
		awayHolds := compare(awayVal, expr.Operator, expr.Value)
		if expr.TeamScope == sportdata.Either {
			return homeHolds || awayHolds, nil
		}
		return homeHolds && awayHolds, nil
	case sportdata.Away:
		value, err := formula.Evaluate(text, mv, sportdata.Away)
		if err != nil {
			return false, err
		}
		return compare(value, expr.Operator, expr.Value), nil
	default:
		value, err := formula.Evaluate(text, mv, sportdata.Home)
		if err != nil {
			return false, err
		}
		return compare(value, expr.Operator, expr.Value), nil
	}
}

func isCountedMetric(metric string) bool {
	switch metric {
	case "goals", "cards", "yellow_cards", "red_cards":
		return true
	}
	return false
}

// countInWindow counts side's matching events whose minute falls within
// the predicate's window, so windowed predicates reflect only in-window
// occurrences rather than the cumulative total. "cards" counts yellows and
// reds together.
func countInWindow(expr sportdata.Expression, events EventSource, side sportdata.TeamSide) float64 {
	if events == nil {
		return 0
	}
	var kinds []sportdata.EventKind
	switch expr.Metric {
	case "goals":
		kinds = []sportdata.EventKind{sportdata.EventGoal}
	case "yellow_cards":
		kinds = []sportdata.EventKind{sportdata.EventYellow}
	case "red_cards":
		kinds = []sportdata.EventKind{sportdata.EventRed}
	case "cards":
		kinds = []sportdata.EventKind{sportdata.EventYellow, sportdata.EventRed}
	default:
		return 0
	}
	count := 0
	for _, e := range events.Snapshot() {
		if !kindIn(e.Kind, kinds) {
			continue
		}
		if e.Minute < expr.Window.StartMinute || e.Minute > expr.Window.EndMinute {
			continue
		}
		if side != "" && e.Team != side {
			continue
		}
		count++
	}
	return float64(count)
}

func kindIn(kind sportdata.EventKind, kinds []sportdata.EventKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func sideMatches(team sportdata.TeamSide, scope sportdata.TeamSide) bool {
	switch scope {
	case sportdata.Either, sportdata.Both:
		return true
	default:
		return team == scope
	}
}

func compare(value float64, op sportdata.Operator, target float64) bool {
	switch op {
	case sportdata.OpGTE:
		return value >= target
	case sportdata.OpGT:
		return value > target
	case sportdata.OpLTE:
		return value <= target
	case sportdata.OpLT:
		return value < target
	case sportdata.OpEQ:
		return value == target
	case sportdata.OpNEQ:
		return value != target
	case sportdata.OpContains, sportdata.OpNotContains:
		// contains/not_contains apply to set-like metrics (none in the
		// closed numeric set today); numerically treat as equality /
		// inequality against target so the operator is never undefined.
		holds := value == target
		if op == sportdata.OpNotContains {
			return !holds
		}
		return holds
	}
	return false
}

// evalSequence holds iff there exist two events of the scoped team, of
// kinds[0] then kinds[1] in order, whose minute-difference <= within,
// within the fixture's event buffer.
func evalSequence(expr sportdata.Expression, events EventSource) bool {
	if events == nil || len(expr.SeqKinds) < 2 {
		return false
	}
	snap := events.Snapshot()
	firstKind, secondKind := expr.SeqKinds[0], expr.SeqKinds[1]

	for i, first := range snap {
		if first.Kind != firstKind || !sideMatches(first.Team, expr.SeqTeam) {
			continue
		}
		for _, second := range snap[i+1:] {
			if second.Kind != secondKind || !sideMatches(second.Team, expr.SeqTeam) {
				continue
			}
			if second.Minute < first.Minute {
				continue
			}
			if second.Minute-first.Minute <= expr.SeqWithin {
				return true
			}
		}
	}
	return false
}

// evalPatternPredicate resolves the synthetic "pattern.<kind>" metric: it
// holds (== 1) iff a pattern of that kind is currently active (open span)
// in the event source's pattern log, when the EventSource also implements
// PatternSource. The numeric predicate value is otherwise always 0.
func evalPatternPredicate(expr sportdata.Expression, events EventSource) bool {
	ps, ok := events.(eventbuf.PatternSource)
	if !ok {
		return false
	}
	kind := sportdata.PatternKind(strings.TrimPrefix(expr.Metric, "pattern."))
	active := ps.ActivePatternKinds()
	holds := false
	for _, k := range active {
		if k == kind {
			holds = true
			break
		}
	}
	wantActive := expr.Value != 0
	switch expr.Operator {
	case sportdata.OpEQ:
		return holds == wantActive
	case sportdata.OpNEQ:
		return holds != wantActive
	default:
		return holds == wantActive
	}
}
