package sportdata

import "fmt"

// Operator enumerates the comparison operators a Predicate may use.
type Operator string

const (
	OpGTE         Operator = ">="
	OpGT          Operator = ">"
	OpLTE         Operator = "<="
	OpLT          Operator = "<"
	OpEQ          Operator = "=="
	OpNEQ         Operator = "!="
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
)

// Window restricts a Predicate to a span of match minutes.
type Window struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

// ExprKind tags which variant of the Expression tagged-union a node is.
type ExprKind string

const (
	ExprPredicate ExprKind = "predicate"
	ExprAnd       ExprKind = "and"
	ExprOr        ExprKind = "or"
	ExprNot       ExprKind = "not"
	ExprSequence  ExprKind = "sequence"
)

// Expression is a tagged union over {Predicate, And, Or, Not, Sequence}.
// Exactly one of the kind-specific fields is populated, selected by Kind.
// Evaluation dispatches on Kind rather than on Go's dynamic type system so
// that round-tripping through JSON (alerts are stored as expression_json)
// reconstructs an identical tree.
type Expression struct {
	Kind ExprKind `json:"kind"`

	// Populated when Kind == ExprPredicate.
	Metric    string   `json:"metric,omitempty"`
	TeamScope TeamSide `json:"team_scope,omitempty"`
	Operator  Operator `json:"operator,omitempty"`
	Value     float64  `json:"value,omitempty"`
	Window    *Window  `json:"window,omitempty"`
	PlayerID  string   `json:"player_id,omitempty"`

	// Populated when Kind == ExprAnd, ExprOr, or ExprNot.
	// Not uses Children[0] only.
	Children []Expression `json:"children,omitempty"`

	// Populated when Kind == ExprSequence.
	SeqKinds  []EventKind `json:"seq_kinds,omitempty"`
	SeqWithin int         `json:"seq_within,omitempty"` // minutes
	SeqTeam   TeamSide    `json:"seq_team,omitempty"`
}

// Predicate constructs a leaf predicate expression.
func Predicate(metric string, scope TeamSide, op Operator, value float64) Expression {
	return Expression{Kind: ExprPredicate, Metric: metric, TeamScope: scope, Operator: op, Value: value}
}

// WithWindow attaches a time window to a predicate expression.
func (e Expression) WithWindow(start, end int) Expression {
	e.Window = &Window{StartMinute: start, EndMinute: end}
	return e
}

// WithPlayer scopes a predicate to a single player id.
func (e Expression) WithPlayer(playerID string) Expression {
	e.PlayerID = playerID
	return e
}

// And constructs a conjunction, short-circuit in declaration order.
func And(children ...Expression) Expression {
	return Expression{Kind: ExprAnd, Children: children}
}

// Or constructs a disjunction, short-circuit in declaration order.
func Or(children ...Expression) Expression {
	return Expression{Kind: ExprOr, Children: children}
}

// Not constructs a negation.
func Not(child Expression) Expression {
	return Expression{Kind: ExprNot, Children: []Expression{child}}
}

// NewSequence constructs a sequence expression.
func NewSequence(kinds []EventKind, withinMinutes int, team TeamSide) Expression {
	return Expression{Kind: ExprSequence, SeqKinds: kinds, SeqWithin: withinMinutes, SeqTeam: team}
}

// Describe renders a short, human-readable summary of the expression for
// delivery messages and broadcast payloads: the SMS body's condition line
// and the alert_triggered payload's triggering-condition description.
func (e Expression) Describe() string {
	switch e.Kind {
	case ExprPredicate:
		s := fmt.Sprintf("%s %s %s %g", e.TeamScope, e.Metric, e.Operator, e.Value)
		if e.Window != nil {
			s += fmt.Sprintf(" in [%d,%d]", e.Window.StartMinute, e.Window.EndMinute)
		}
		return s
	case ExprAnd:
		return joinChildren(e.Children, " AND ")
	case ExprOr:
		return joinChildren(e.Children, " OR ")
	case ExprNot:
		if len(e.Children) == 1 {
			return "NOT (" + e.Children[0].Describe() + ")"
		}
		return "NOT"
	case ExprSequence:
		return fmt.Sprintf("%s sequence %v within %dm", e.SeqTeam, e.SeqKinds, e.SeqWithin)
	default:
		return string(e.Kind)
	}
}

func joinChildren(children []Expression, sep string) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.Describe()
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
