package formula

import (
	"errors"
	"testing"

	"github.com/soccerops/alertcore/internal/errkind"
	"github.com/soccerops/alertcore/internal/sportdata"
)

func vector() sportdata.MetricVector {
	return sportdata.MetricVector{
		Home: sportdata.TeamMetrics{Goals: 2, ShotsOnTarget: 5},
		Away: sportdata.TeamMetrics{Goals: 1, ShotsOnTarget: 3},
	}
}

func TestEvaluateArithmetic(t *testing.T) {
	mv := vector()
	v, err := Evaluate("home_goals + away_goals * 2", mv, sportdata.Home)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 4 {
		t.Fatalf("expected 4, got %v", v)
	}
}

func TestEvaluateFunctions(t *testing.T) {
	mv := vector()
	v, err := Evaluate("max(home_goals, away_goals)", mv, sportdata.Home)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 2 {
		t.Fatalf("expected 2, got %v", v)
	}

	v, err = Evaluate("abs(away_goals - home_goals)", mv, sportdata.Home)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected 1, got %v", v)
	}
}

func TestDivisionByZeroYieldsZero(t *testing.T) {
	mv := vector()
	v, err := Evaluate("home_goals / (away_goals - away_goals)", mv, sportdata.Home)
	if err != nil {
		t.Fatalf("division by zero must not fail, got: %v", err)
	}
	if v != 0 {
		t.Fatalf("expected tie-break 0, got %v", v)
	}
}

func TestUnknownVariableFails(t *testing.T) {
	_, err := Evaluate("nonexistent_metric", vector(), sportdata.Home)
	if !errors.Is(err, errkind.UnknownVariable) {
		t.Fatalf("expected UnknownVariable, got %v", err)
	}
}

func TestUnsafeExpressionsRejected(t *testing.T) {
	cases := []string{
		"__import__('os').system('x')",
		"home_goals.__class__",
		"home_goals = 5",
		"home_goals[0]",
		"os.system(1)",
	}
	for _, expr := range cases {
		if err := Validate(expr); !errors.Is(err, errkind.UnsafeExpression) {
			t.Errorf("expression %q: expected UnsafeExpression, got %v", expr, err)
		}
	}
}

func TestNonWhitelistedCallRejected(t *testing.T) {
	if err := Validate("eval(1)"); !errors.Is(err, errkind.UnsafeExpression) {
		t.Fatalf("expected UnsafeExpression for non-whitelisted call, got %v", err)
	}
}

func TestValidateNeverExecutes(t *testing.T) {
	// Property: for every rejected expression, Evaluate must also fail
	// with UnsafeExpression rather than panicking or producing a value.
	for _, expr := range []string{"1 +", "(1 + 2", "1 ** 2"} {
		if _, err := Evaluate(expr, vector(), sportdata.Home); !errors.Is(err, errkind.UnsafeExpression) {
			t.Errorf("expression %q: expected UnsafeExpression, got %v", expr, err)
		}
	}
}

func TestFunctionNamesAreCaseSensitive(t *testing.T) {
	if err := Validate("MIN(1, 2)"); !errors.Is(err, errkind.UnsafeExpression) {
		t.Fatalf("uppercase MIN must not be a whitelisted call, got %v", err)
	}
}

func TestUnaryMinus(t *testing.T) {
	v, err := Evaluate("-home_goals + 5", vector(), sportdata.Home)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 3 {
		t.Fatalf("expected 3, got %v", v)
	}
}

func TestUnprefixedTeamFieldResolvesAgainstOwnSide(t *testing.T) {
	v, err := Evaluate("goals * 10", vector(), sportdata.Away)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 10 {
		t.Fatalf("expected the away side's goals, got %v", v)
	}
}
