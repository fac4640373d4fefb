package metrics

import (
	"fmt"

	"github.com/soccerops/alertcore/internal/errkind"
	"github.com/soccerops/alertcore/internal/sportdata"
)

// teamFieldFunc projects a single TeamMetrics field.
type teamFieldFunc func(sportdata.TeamMetrics) float64

// teamFields is the closed set of per-team variables, name without the
// home_/away_ prefix.
var teamFields = map[string]teamFieldFunc{
	"goals":           func(t sportdata.TeamMetrics) float64 { return float64(t.Goals) },
	"shots":           func(t sportdata.TeamMetrics) float64 { return float64(t.Shots) },
	"shots_on_target": func(t sportdata.TeamMetrics) float64 { return float64(t.ShotsOnTarget) },
	"possession":      func(t sportdata.TeamMetrics) float64 { return t.Possession },
	"corners":         func(t sportdata.TeamMetrics) float64 { return float64(t.Corners) },
	"fouls":           func(t sportdata.TeamMetrics) float64 { return float64(t.Fouls) },
	"yellow_cards":    func(t sportdata.TeamMetrics) float64 { return float64(t.YellowCards) },
	"red_cards":       func(t sportdata.TeamMetrics) float64 { return float64(t.RedCards) },
	"offsides":        func(t sportdata.TeamMetrics) float64 { return float64(t.Offsides) },
	"passes":          func(t sportdata.TeamMetrics) float64 { return float64(t.Passes) },
	"pass_accuracy":   func(t sportdata.TeamMetrics) float64 { return t.PassAccuracy },
	"tackles":         func(t sportdata.TeamMetrics) float64 { return float64(t.Tackles) },
	"clearances":      func(t sportdata.TeamMetrics) float64 { return float64(t.Clearances) },
	"saves":           func(t sportdata.TeamMetrics) float64 { return float64(t.Saves) },
	"interceptions":   func(t sportdata.TeamMetrics) float64 { return float64(t.Interceptions) },
	"xg":              func(t sportdata.TeamMetrics) float64 { return t.XG },
	"momentum":        func(t sportdata.TeamMetrics) float64 { return t.Momentum },
	"pressure":        func(t sportdata.TeamMetrics) float64 { return t.Pressure },
}

// matchFields is the closed set of match-scoped (non-team) variables.
var matchFields = map[string]func(sportdata.MetricVector) float64{
	"total_goals":      func(mv sportdata.MetricVector) float64 { return float64(mv.TotalGoals) },
	"score_difference": func(mv sportdata.MetricVector) float64 { return float64(mv.ScoreDifference) },
	"elapsed":          func(mv sportdata.MetricVector) float64 { return float64(mv.Elapsed) },
	"total_shots":      func(mv sportdata.MetricVector) float64 { return float64(mv.TotalShots) },

	"first_half_goals":  func(mv sportdata.MetricVector) float64 { return float64(mv.FirstHalfGoals) },
	"second_half_goals": func(mv sportdata.MetricVector) float64 { return float64(mv.SecondHalfGoals) },
	"last_10_min_goals": func(mv sportdata.MetricVector) float64 { return float64(mv.Last10MinGoals) },

	"win_probability": func(mv sportdata.MetricVector) float64 { return mv.WinProbability },
}

// playerFields is the closed set of per-player variables.
var playerFields = map[string]func(sportdata.PlayerMetrics) float64{
	"goals":              func(p sportdata.PlayerMetrics) float64 { return float64(p.Goals) },
	"assists":            func(p sportdata.PlayerMetrics) float64 { return float64(p.Assists) },
	"cards":              func(p sportdata.PlayerMetrics) float64 { return float64(p.Cards) },
	"shots":              func(p sportdata.PlayerMetrics) float64 { return float64(p.Shots) },
	"passes":             func(p sportdata.PlayerMetrics) float64 { return float64(p.Passes) },
	"tackles":            func(p sportdata.PlayerMetrics) float64 { return float64(p.Tackles) },
	"rating":             func(p sportdata.PlayerMetrics) float64 { return p.Rating },
	"minutes":            func(p sportdata.PlayerMetrics) float64 { return float64(p.Minutes) },
	"goal_contributions": func(p sportdata.PlayerMetrics) float64 { return float64(p.GoalContributions) },
}

// IsKnownVariable reports whether name (without a home_/away_ prefix) is a
// member of the closed team-scoped variable set, or is a known match-level
// or player-level variable name.
func IsKnownVariable(name string) bool {
	if _, ok := teamFields[name]; ok {
		return true
	}
	if _, ok := matchFields[name]; ok {
		return true
	}
	if _, ok := playerFields[name]; ok {
		return true
	}
	return false
}

// Value resolves a metric name against a MetricVector for the given team
// scope, returning UnknownVariable if the name is outside the closed set.
// team is ignored for match-level variables. For "either"/"both" scopes on
// a team field, the caller (condition evaluator) resolves per-side and
// combines; Value itself only answers for a single concrete side.
func Value(mv sportdata.MetricVector, name string, side sportdata.TeamSide) (float64, error) {
	if fn, ok := matchFields[name]; ok {
		return fn(mv), nil
	}
	if fn, ok := teamFields[name]; ok {
		switch side {
		case sportdata.Home:
			return fn(mv.Home), nil
		case sportdata.Away:
			return fn(mv.Away), nil
		default:
			return 0, fmt.Errorf("%w: team field %q requires a concrete side, got %q", errkind.UnknownVariable, name, side)
		}
	}
	return 0, fmt.Errorf("%w: %q", errkind.UnknownVariable, name)
}

// PlayerValue resolves a player-scoped metric name for a specific player.
func PlayerValue(mv sportdata.MetricVector, name, playerID string) (float64, error) {
	fn, ok := playerFields[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", errkind.UnknownVariable, name)
	}
	p, ok := mv.Players[playerID]
	if !ok {
		return 0, nil
	}
	return fn(p), nil
}
