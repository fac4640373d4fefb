package eventbuf

import (
	"github.com/soccerops/alertcore/internal/sportdata"
)

// detectCandidate is the result type of the per-kind detector methods;
// Detect consumes the candidates they return.
type detectCandidate struct {
	kind       sportdata.PatternKind
	team       sportdata.TeamSide
	variant    string // disambiguates candidates that share kind+team, e.g. TIME_BASED's two sub-cases
	severity   sportdata.Severity
	confidence float64
	started    int
	ended      int
	evidence   []sportdata.Event
	holds      bool
}

// goalSequences detects >=2 goals by the same team within a 10-minute
// window ending at the current elapsed minute, once per team.
func (e *Engine) goalSequences(mv sportdata.MetricVector, events []sportdata.Event) []detectCandidate {
	var out []detectCandidate
	for _, team := range []sportdata.TeamSide{sportdata.Home, sportdata.Away} {
		var evidence []sportdata.Event
		for _, ev := range events {
			if ev.Kind != sportdata.EventGoal || ev.Team != team {
				continue
			}
			if mv.Elapsed-ev.Minute <= 10 {
				evidence = append(evidence, ev)
			}
		}
		holds := len(evidence) >= 2
		c := detectCandidate{kind: sportdata.PatternGoalSequence, team: team, severity: sportdata.SeverityHigh, holds: holds}
		if holds {
			c.started, c.ended = spanOf(evidence)
			c.evidence = evidence
			c.confidence = clampConfidence(float64(len(evidence)) / 2.0)
		}
		out = append(out, c)
	}
	return out
}

// cardSequence detects >=3 cards total (yellow or red, either team) within
// a 5-minute window.
func (e *Engine) cardSequence(mv sportdata.MetricVector, events []sportdata.Event) detectCandidate {
	var evidence []sportdata.Event
	for _, ev := range events {
		if ev.Kind != sportdata.EventYellow && ev.Kind != sportdata.EventRed {
			continue
		}
		if mv.Elapsed-ev.Minute <= 5 {
			evidence = append(evidence, ev)
		}
	}
	holds := len(evidence) >= 3
	c := detectCandidate{kind: sportdata.PatternCardSequence, severity: sportdata.SeverityMedium, holds: holds}
	if holds {
		c.started, c.ended = spanOf(evidence)
		c.evidence = evidence
		c.confidence = clampConfidence(float64(len(evidence)) / 3.0)
	}
	return c
}

// possessionSwing detects a possession delta of >=20 points versus 10
// minutes ago, evaluated per team.
func (e *Engine) possessionSwing(mv sportdata.MetricVector) []detectCandidate {
	prior := e.sampleAtOrBefore(mv.Elapsed - 10)
	if prior == nil {
		return []detectCandidate{
			{kind: sportdata.PatternPossessionSwing, team: sportdata.Home, holds: false},
			{kind: sportdata.PatternPossessionSwing, team: sportdata.Away, holds: false},
		}
	}
	homeDelta := mv.Home.Possession - prior.PossessionHome
	awayDelta := mv.Away.Possession - prior.PossessionAway
	return []detectCandidate{
		possessionCandidate(sportdata.Home, homeDelta, mv.Elapsed, prior.Minute),
		possessionCandidate(sportdata.Away, awayDelta, mv.Elapsed, prior.Minute),
	}
}

func possessionCandidate(team sportdata.TeamSide, delta float64, now, prior int) detectCandidate {
	holds := delta >= 20 || delta <= -20
	c := detectCandidate{kind: sportdata.PatternPossessionSwing, team: team, severity: sportdata.SeverityMedium, holds: holds}
	if holds {
		c.started, c.ended = prior, now
		c.confidence = clampConfidence(abs(delta) / 20.0)
	}
	return c
}

// momentumShift detects a momentum delta of >=30 points versus 5 minutes
// ago for the home side (away is the mirror image since Momentum already
// encodes home-away with a sign flip per team).
func (e *Engine) momentumShift(mv sportdata.MetricVector) []detectCandidate {
	prior := e.sampleAtOrBefore(mv.Elapsed - 5)
	if prior == nil {
		return []detectCandidate{{kind: sportdata.PatternMomentumShift, holds: false}}
	}
	delta := mv.Home.Momentum - prior.MomentumHome
	holds := delta >= 30 || delta <= -30
	team := sportdata.Home
	if delta < 0 {
		team = sportdata.Away
	}
	c := detectCandidate{kind: sportdata.PatternMomentumShift, team: team, severity: sportdata.SeverityHigh, holds: holds}
	if holds {
		c.started, c.ended = prior.Minute, mv.Elapsed
		c.confidence = clampConfidence(abs(delta) / 30.0)
	}
	return []detectCandidate{c}
}

// pressureBuildup detects a team's pressure metric exceeding 70 for at
// least 3 consecutive recorded samples.
func (e *Engine) pressureBuildup(mv sportdata.MetricVector) []detectCandidate {
	return []detectCandidate{
		e.pressureBuildupForTeam(sportdata.Home, mv.Elapsed, func(s Sample) float64 { return s.PressureHome }, mv.Home.Pressure),
		e.pressureBuildupForTeam(sportdata.Away, mv.Elapsed, func(s Sample) float64 { return s.PressureAway }, mv.Away.Pressure),
	}
}

func (e *Engine) pressureBuildupForTeam(team sportdata.TeamSide, now int, field func(Sample) float64, current float64) detectCandidate {
	streak := 0
	firstMinute := now
	if current > 70 {
		streak = 1
		firstMinute = now
	}
	for i := len(e.samples) - 1; i >= 0; i-- {
		s := e.samples[i]
		if s.Minute >= now {
			continue
		}
		if field(s) > 70 {
			streak++
			firstMinute = s.Minute
		} else {
			break
		}
	}
	holds := streak >= 3
	c := detectCandidate{kind: sportdata.PatternPressureBuildup, team: team, severity: sportdata.SeverityHigh, holds: holds}
	if holds {
		c.started, c.ended = firstMinute, now
		c.confidence = clampConfidence(float64(streak) / 3.0)
	}
	return c
}

// timeBased detects any goal after minute 85 (HIGH) or any red card before
// minute 20 (LOW).
func (e *Engine) timeBased(mv sportdata.MetricVector, events []sportdata.Event) []detectCandidate {
	var lateGoals, earlyReds []sportdata.Event
	for _, ev := range events {
		if ev.Kind == sportdata.EventGoal && ev.Minute > 85 {
			lateGoals = append(lateGoals, ev)
		}
		if ev.Kind == sportdata.EventRed && ev.Minute < 20 {
			earlyReds = append(earlyReds, ev)
		}
	}
	var out []detectCandidate
	lateGoal := detectCandidate{kind: sportdata.PatternTimeBased, variant: "late_goal", severity: sportdata.SeverityHigh, holds: len(lateGoals) > 0}
	if lateGoal.holds {
		lateGoal.started, lateGoal.ended = spanOf(lateGoals)
		lateGoal.evidence = lateGoals
		lateGoal.confidence = 1.0
		lateGoal.team = lateGoals[0].Team
	}
	out = append(out, lateGoal)

	earlyRed := detectCandidate{kind: sportdata.PatternTimeBased, variant: "early_red", severity: sportdata.SeverityLow, holds: len(earlyReds) > 0}
	if earlyRed.holds {
		earlyRed.started, earlyRed.ended = spanOf(earlyReds)
		earlyRed.evidence = earlyReds
		earlyRed.confidence = 1.0
		earlyRed.team = earlyReds[0].Team
	}
	out = append(out, earlyRed)
	return out
}

func spanOf(events []sportdata.Event) (start, end int) {
	if len(events) == 0 {
		return 0, 0
	}
	start, end = events[0].Minute, events[0].Minute
	for _, e := range events[1:] {
		if e.Minute < start {
			start = e.Minute
		}
		if e.Minute > end {
			end = e.Minute
		}
	}
	return start, end
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
