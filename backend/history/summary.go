// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/ttbt-io/batterup/backend/engine"
)

// HalfInning aggregates the plays of one half-inning.
type HalfInning struct {
	Inning         int     `json:"inning"`
	Top            bool    `json:"top"`
	BattingUserID  string  `json:"battingUserId"`
	PitchingUserID string  `json:"pitchingUserId"`
	Runs           int     `json:"runs"`
	Hits           int     `json:"hits"`
	Errors         int     `json:"errors"`
	Plays          []Entry `json:"plays"`
}

// GameHistory is the play-by-play of a game grouped by half-inning.
type GameHistory struct {
	GameID           string                                       `json:"gameId"`
	Status           engine.GameStatus                            `json:"status"`
	StartTime        time.Time                                    `json:"startTime"`
	EndTime          *time.Time                                   `json:"endTime,omitempty"`
	Team1UserID      string                                       `json:"team1UserId"`
	Team2UserID      string                                       `json:"team2UserId,omitempty"`
	FinalScore       map[string]int                               `json:"finalScore"`
	Winner           string                                       `json:"winner,omitempty"`
	CompletionReason string                                       `json:"completionReason,omitempty"`
	Innings          []HalfInning                                 `json:"innings"`
	PlayerStats      map[string]map[string]engine.PlayerGameStats `json:"playerStats"`
	Events           []Entry                                      `json:"events"`
}

// BuildGameHistory groups the play entries of g by half-inning, in the order
// they were appended. Non-play entries are kept in Events only.
func BuildGameHistory(g engine.GameState, entries []Entry) GameHistory {
	h := GameHistory{
		GameID:           g.ID,
		Status:           g.Status,
		StartTime:        g.CreatedAt,
		FinalScore:       make(map[string]int),
		Winner:           g.Winner,
		CompletionReason: g.CompletionReason,
		Innings:          []HalfInning{},
		PlayerStats:      make(map[string]map[string]engine.PlayerGameStats),
		Events:           entries,
	}
	if h.Events == nil {
		h.Events = []Entry{}
	}
	if g.Status == engine.StatusCompleted {
		end := g.UpdatedAt
		h.EndTime = &end
	}
	for _, t := range []*engine.TeamState{g.Team1, g.Team2} {
		if t == nil {
			continue
		}
		h.FinalScore[t.UserID] = t.Score
		stats := make(map[string]engine.PlayerGameStats, len(t.PlayerStats))
		for id, s := range t.PlayerStats {
			stats[id] = *s
		}
		h.PlayerStats[t.UserID] = stats
	}
	if g.Team1 != nil {
		h.Team1UserID = g.Team1.UserID
	}
	if g.Team2 != nil {
		h.Team2UserID = g.Team2.UserID
	}

	for _, e := range entries {
		if e.Kind != KindPlay || e.Result == nil {
			continue
		}
		n := len(h.Innings)
		if n == 0 || h.Innings[n-1].Inning != e.Inning || h.Innings[n-1].Top != e.Top {
			h.Innings = append(h.Innings, HalfInning{
				Inning:         e.Inning,
				Top:            e.Top,
				BattingUserID:  e.BattingUserID,
				PitchingUserID: e.PitchingUserID,
			})
			n++
		}
		half := &h.Innings[n-1]
		half.Runs += e.Result.RunsScored
		if e.Result.Outcome.IsHit() {
			half.Hits++
		}
		half.Plays = append(half.Plays, e)
	}
	return h
}

// LineScore renders the classic inning-by-inning box: one row per side, one
// column per inning (at least nine), then total runs and hits. Halves that
// were never played show "-".
func (h GameHistory) LineScore() string {
	innings := engine.RegulationInnings
	type cell struct {
		runs   int
		played bool
	}
	top := map[int]*cell{}
	bottom := map[int]*cell{}
	var totals [2][2]int // [side][runs, hits]
	for _, half := range h.Innings {
		innings = max(innings, half.Inning)
		side, cells := 1, bottom
		if half.Top {
			side, cells = 0, top
		}
		c, ok := cells[half.Inning]
		if !ok {
			c = &cell{}
			cells[half.Inning] = c
		}
		c.played = true
		c.runs += half.Runs
		totals[side][0] += half.Runs
		totals[side][1] += half.Hits
	}

	names := [2]string{h.Team1UserID, h.Team2UserID}
	width := max(len(names[0]), len(names[1]))

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", width))
	for i := 1; i <= innings; i++ {
		fmt.Fprintf(&b, " %2d", i)
	}
	b.WriteString(" |  R  H\n")
	for side, cells := range []map[int]*cell{top, bottom} {
		fmt.Fprintf(&b, "%-*s", width, names[side])
		for i := 1; i <= innings; i++ {
			if c, ok := cells[i]; ok && c.played {
				fmt.Fprintf(&b, " %2d", c.runs)
			} else {
				b.WriteString("  -")
			}
		}
		fmt.Fprintf(&b, " | %2d %2d\n", totals[side][0], totals[side][1])
	}
	return b.String()
}
