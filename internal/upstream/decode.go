package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/soccerops/alertcore/internal/errkind"
	"github.com/soccerops/alertcore/internal/sportdata"
)

// The provider's response shape is its own concern; decode* normalizes it
// to the canonical sportdata types so nothing downstream ever sees a
// provider-specific field name.

type providerFixture struct {
	ID       string `json:"id"`
	Home     string `json:"home_team"`
	Away     string `json:"away_team"`
	League   string `json:"league"`
	Venue    string `json:"venue"`
	Referee  string `json:"referee"`
	Starting string `json:"starting_at"`
	Status   string `json:"status"`
	Elapsed  int    `json:"elapsed"`
}

func decodeFixtures(raw json.RawMessage) ([]sportdata.Fixture, error) {
	var items []providerFixture
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: decode fixtures: %v", errkind.DataShape, err)
	}
	out := make([]sportdata.Fixture, 0, len(items))
	for _, it := range items {
		out = append(out, sportdata.Fixture{
			ID:            it.ID,
			HomeTeam:      it.Home,
			AwayTeam:      it.Away,
			League:        it.League,
			Venue:         it.Venue,
			Referee:       it.Referee,
			Status:        sportdata.FixtureStatus(it.Status),
			ElapsedMinute: it.Elapsed,
		})
	}
	return out, nil
}

type providerTeamStats struct {
	Score         int      `json:"score"`
	Possession    float64  `json:"possession"`
	Shots         int      `json:"shots"`
	ShotsOnTarget int      `json:"shots_on_target"`
	Corners       int      `json:"corners"`
	Fouls         int      `json:"fouls"`
	YellowCards   int      `json:"yellow_cards"`
	RedCards      int      `json:"red_cards"`
	Offsides      int      `json:"offsides"`
	Passes        int      `json:"passes"`
	PassAccuracy  float64  `json:"pass_accuracy"`
	Tackles       int      `json:"tackles"`
	Clearances    int      `json:"clearances"`
	Saves         int      `json:"saves"`
	Interceptions int      `json:"interceptions"`
	XG            *float64 `json:"xg"`
}

type providerStatsResponse struct {
	Home providerTeamStats `json:"home"`
	Away providerTeamStats `json:"away"`
}

func decodeStats(raw json.RawMessage) (home, away sportdata.TeamStats, err error) {
	var resp providerStatsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return sportdata.TeamStats{}, sportdata.TeamStats{}, fmt.Errorf("%w: decode stats: %v", errkind.DataShape, err)
	}
	return toTeamStats(resp.Home), toTeamStats(resp.Away), nil
}

func toTeamStats(p providerTeamStats) sportdata.TeamStats {
	return sportdata.TeamStats{
		Score:         p.Score,
		Possession:    p.Possession,
		Shots:         p.Shots,
		ShotsOnTarget: p.ShotsOnTarget,
		Corners:       p.Corners,
		Fouls:         p.Fouls,
		YellowCards:   p.YellowCards,
		RedCards:      p.RedCards,
		Offsides:      p.Offsides,
		Passes:        p.Passes,
		PassAccuracy:  p.PassAccuracy,
		Tackles:       p.Tackles,
		Clearances:    p.Clearances,
		Saves:         p.Saves,
		Interceptions: p.Interceptions,
		XG:            p.XG,
	}
}

type providerEvent struct {
	Minute   int    `json:"minute"`
	Type     string `json:"type"`
	Team     string `json:"team"` // "home" or "away"
	PlayerID string `json:"player_id"`
}

func decodeEvents(fixtureID string, raw json.RawMessage) ([]sportdata.Event, error) {
	var items []providerEvent
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: decode events: %v", errkind.DataShape, err)
	}
	out := make([]sportdata.Event, 0, len(items))
	for _, it := range items {
		kind := mapEventKind(it.Type)
		if kind == "" {
			continue
		}
		out = append(out, sportdata.Event{
			FixtureID: fixtureID,
			Minute:    it.Minute,
			Kind:      kind,
			Team:      sportdata.TeamSide(it.Team),
			PlayerID:  it.PlayerID,
		})
	}
	return out, nil
}

// mapEventKind translates the provider's own event-type vocabulary to the
// canonical EventKind set. Unknown types map to "" and are dropped.
func mapEventKind(providerType string) sportdata.EventKind {
	switch providerType {
	case "goal", "GOAL":
		return sportdata.EventGoal
	case "yellowcard", "YELLOW":
		return sportdata.EventYellow
	case "redcard", "RED":
		return sportdata.EventRed
	case "substitution", "SUB":
		return sportdata.EventSub
	case "corner", "CORNER":
		return sportdata.EventCorner
	case "shot_on_target", "SHOT_ON":
		return sportdata.EventShotOn
	case "shot_off_target", "SHOT_OFF":
		return sportdata.EventShotOff
	case "var", "VAR":
		return sportdata.EventVAR
	default:
		return ""
	}
}

type providerLineups struct {
	Home []string `json:"home_player_ids"`
	Away []string `json:"away_player_ids"`
}

func decodeLineups(raw json.RawMessage) (map[sportdata.TeamSide][]string, error) {
	var resp providerLineups
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode lineups: %v", errkind.DataShape, err)
	}
	return map[sportdata.TeamSide][]string{
		sportdata.Home: resp.Home,
		sportdata.Away: resp.Away,
	}, nil
}
