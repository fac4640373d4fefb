// Package metrics derives the canonical MetricVector from a raw Snapshot
// and provides the single dispatch table every evaluator (formula,
// condition, pattern) uses to look up a named variable's value.
package metrics

import (
	"math"

	"github.com/soccerops/alertcore/internal/sportdata"
)

// Extract produces a MetricVector from a Snapshot. It never fails: missing
// fields default to 0, and missing possession defaults to 50.
func Extract(snap sportdata.Snapshot) sportdata.MetricVector {
	mv := sportdata.MetricVector{
		Home:    teamMetrics(snap.Home),
		Away:    teamMetrics(snap.Away),
		Elapsed: snap.ElapsedMinute,
	}

	mv.TotalGoals = mv.Home.Goals + mv.Away.Goals
	mv.ScoreDifference = mv.Home.Goals - mv.Away.Goals
	mv.TotalShots = mv.Home.Shots + mv.Away.Shots

	mv.FirstHalfGoals, mv.SecondHalfGoals, mv.Last10MinGoals = goalTimingBreakdown(snap)

	homeMomentum, awayMomentum := momentum(snap)
	mv.Home.Momentum = homeMomentum
	mv.Away.Momentum = awayMomentum

	mv.Home.Pressure = pressure(snap, sportdata.Home)
	mv.Away.Pressure = pressure(snap, sportdata.Away)

	mv.Home.XG = xG(snap.Home)
	mv.Away.XG = xG(snap.Away)

	mv.WinProbability = winProbability(mv.ScoreDifference, mv.Elapsed)

	mv.Players = make(map[string]sportdata.PlayerMetrics, len(snap.Players))
	for id, p := range snap.Players {
		mv.Players[id] = sportdata.PlayerMetrics{
			Goals:             p.Goals,
			Assists:           p.Assists,
			Cards:             p.Cards,
			Shots:             p.Shots,
			Passes:            p.Passes,
			Tackles:           p.Tackles,
			Rating:            p.Rating,
			Minutes:           p.Minutes,
			GoalContributions: p.Goals + p.Assists,
		}
	}

	return mv
}

func teamMetrics(t sportdata.TeamStats) sportdata.TeamMetrics {
	possession := t.Possession
	if possession == 0 {
		possession = 50
	}
	passAccuracy := t.PassAccuracy
	tm := sportdata.TeamMetrics{
		Goals:         t.Score,
		Shots:         t.Shots,
		ShotsOnTarget: t.ShotsOnTarget,
		Possession:    possession,
		Corners:       t.Corners,
		Fouls:         t.Fouls,
		YellowCards:   t.YellowCards,
		RedCards:      t.RedCards,
		Offsides:      t.Offsides,
		Passes:        t.Passes,
		PassAccuracy:  passAccuracy,
		Tackles:       t.Tackles,
		Clearances:    t.Clearances,
		Saves:         t.Saves,
		Interceptions: t.Interceptions,
	}
	if t.XG != nil {
		tm.XG = *t.XG
	}
	return tm
}

// goalTimingBreakdown walks a fixture's event list and buckets goals by
// half and by the final-10-minutes window.
func goalTimingBreakdown(snap sportdata.Snapshot) (firstHalf, secondHalf, last10 int) {
	for _, e := range snap.Events {
		if e.Kind != sportdata.EventGoal {
			continue
		}
		if e.Minute <= 45 {
			firstHalf++
		} else {
			secondHalf++
		}
		if snap.ElapsedMinute-e.Minute <= 10 && e.Minute <= snap.ElapsedMinute {
			last10++
		}
	}
	return
}

// xG computes a team's expected-goals total when the provider omits it: a
// per-shot quality sum with shot distance unknown, so it stays monotone in
// shots-on-target. A provider-supplied xG always wins over the heuristic.
func xG(t sportdata.TeamStats) float64 {
	if t.XG != nil {
		return *t.XG
	}
	const onTargetQuality = 0.12
	const offTargetQuality = 0.03
	offTarget := t.Shots - t.ShotsOnTarget
	if offTarget < 0 {
		offTarget = 0
	}
	return float64(t.ShotsOnTarget)*onTargetQuality + float64(offTarget)*offTargetQuality
}

// momentum computes home_momentum - away_momentum as a recency-weighted sum
// over the last 10 minutes of events, clamped to [-100, 100], then mirrors
// it with a sign flip for the away side so TeamMetrics.Momentum always
// reads "this team's momentum".
func momentum(snap sportdata.Snapshot) (home, away float64) {
	var delta float64
	cutoff := snap.ElapsedMinute - 10
	for _, e := range snap.Events {
		if e.Minute < cutoff {
			continue
		}
		sign := 1.0
		if e.Team == sportdata.Away {
			sign = -1.0
		}
		switch e.Kind {
		case sportdata.EventGoal:
			delta += sign * 40
		case sportdata.EventShotOn:
			delta += sign * 10
		case sportdata.EventCorner:
			delta += sign * 5
		case sportdata.EventRed:
			// red card against a team benefits the opponent
			delta += -sign * 30
		case sportdata.EventYellow:
			delta += sign * 3
		}
	}
	delta = clamp(delta, -100, 100)
	return delta, -delta
}

// pressure computes a rolling 5-minute weighted sum over one team's
// offensive events, clamped to [0, 100].
func pressure(snap sportdata.Snapshot, side sportdata.TeamSide) float64 {
	var score float64
	cutoff := snap.ElapsedMinute - 5
	for _, e := range snap.Events {
		if e.Minute < cutoff || e.Team != side {
			continue
		}
		switch e.Kind {
		case sportdata.EventShotOff:
			score += 6
		case sportdata.EventShotOn:
			score += 10
		case sportdata.EventCorner:
			score += 4
		}
	}
	return clamp(score, 0, 100)
}

// winProbability is a fixed logistic over score difference and elapsed
// time, purely a function of the snapshot.
func winProbability(scoreDiff, elapsed int) float64 {
	timeFactor := float64(elapsed) / 90.0
	if timeFactor > 1 {
		timeFactor = 1
	}
	x := float64(scoreDiff) * (1 + 2*timeFactor)
	return 1 / (1 + math.Exp(-x/1.5))
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
