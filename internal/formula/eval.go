package formula

import (
	"fmt"
	"math"

	"github.com/soccerops/alertcore/internal/errkind"
	"github.com/soccerops/alertcore/internal/metrics"
	"github.com/soccerops/alertcore/internal/sportdata"
)

// Validate parses formulaText and discards the AST, returning an error if
// the expression is outside the grammar. Used at custom metric creation
// time; Evaluate re-parses from formula_text on every call, so a stored
// metric is re-validated each time it runs and no parsed form is ever
// persisted.
func Validate(formulaText string) error {
	_, err := Parse(formulaText)
	return err
}

// Evaluate parses and evaluates formulaText against mv for the given team
// scope. The evaluator is pure: no I/O, no side effects, O(tokens)
// complexity, and no looping constructs exist in the grammar.
func Evaluate(formulaText string, mv sportdata.MetricVector, side sportdata.TeamSide) (float64, error) {
	ast, err := Parse(formulaText)
	if err != nil {
		return 0, err
	}
	return evalNode(ast, mv, side)
}

func evalNode(n *node, mv sportdata.MetricVector, side sportdata.TeamSide) (float64, error) {
	switch n.kind {
	case nodeNumber:
		return n.value, nil
	case nodeIdent:
		v, err := resolveIdent(n.name, mv, side)
		if err != nil {
			return 0, err
		}
		return v, nil
	case nodeBinary:
		l, err := evalNode(n.left, mv, side)
		if err != nil {
			return 0, err
		}
		r, err := evalNode(n.right, mv, side)
		if err != nil {
			return 0, err
		}
		switch n.op {
		case '+':
			return l + r, nil
		case '-':
			return l - r, nil
		case '*':
			return l * r, nil
		case '/':
			if r == 0 {
				// Division by zero yields the tie-break value 0; never fails.
				return 0, nil
			}
			return l / r, nil
		}
		return 0, fmt.Errorf("%w: unknown operator %q", errkind.UnsafeExpression, string(n.op))
	case nodeCall:
		return evalCall(n, mv, side)
	}
	return 0, fmt.Errorf("%w: unknown node kind", errkind.UnsafeExpression)
}

func evalCall(n *node, mv sportdata.MetricVector, side sportdata.TeamSide) (float64, error) {
	args := make([]float64, len(n.args))
	for i, a := range n.args {
		v, err := evalNode(a, mv, side)
		if err != nil {
			return 0, err
		}
		args[i] = v
	}
	switch n.fn {
	case "abs":
		if len(args) != 1 {
			return 0, fmt.Errorf("%w: abs() takes exactly 1 argument", errkind.UnsafeExpression)
		}
		return math.Abs(args[0]), nil
	case "min":
		if len(args) == 0 {
			return 0, fmt.Errorf("%w: min() requires at least 1 argument", errkind.UnsafeExpression)
		}
		m := args[0]
		for _, v := range args[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	case "max":
		if len(args) == 0 {
			return 0, fmt.Errorf("%w: max() requires at least 1 argument", errkind.UnsafeExpression)
		}
		m := args[0]
		for _, v := range args[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	}
	return 0, fmt.Errorf("%w: call to non-whitelisted function %q", errkind.UnsafeExpression, n.fn)
}

// resolveIdent maps an identifier to a metric value, handling the
// home_/away_ prefix convention used for team-scoped variables and falling
// back to the unprefixed match-level or the current side's team field.
func resolveIdent(name string, mv sportdata.MetricVector, side sportdata.TeamSide) (float64, error) {
	if prefixed, scope, ok := splitTeamPrefix(name); ok {
		return metrics.Value(mv, prefixed, scope)
	}
	if metrics.IsKnownVariable(name) {
		// Unprefixed team field: resolve against the evaluation's own side.
		return metrics.Value(mv, name, side)
	}
	return 0, fmt.Errorf("%w: %q", errkind.UnknownVariable, name)
}

func splitTeamPrefix(name string) (field string, side sportdata.TeamSide, ok bool) {
	const homePrefix = "home_"
	const awayPrefix = "away_"
	if len(name) > len(homePrefix) && name[:len(homePrefix)] == homePrefix {
		return name[len(homePrefix):], sportdata.Home, true
	}
	if len(name) > len(awayPrefix) && name[:len(awayPrefix)] == awayPrefix {
		return name[len(awayPrefix):], sportdata.Away, true
	}
	return "", "", false
}
