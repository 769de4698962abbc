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

package engine

import (
	"fmt"
	"time"
)

// RegulationInnings is the number of innings before extra innings start.
const RegulationInnings = 9

// OutsPerHalfInning ends a half-inning.
const OutsPerHalfInning = 3

// GameState is the full state of one game. Transition functions never modify
// the value they are given.
type GameState struct {
	ID               string     `json:"id"`
	Status           GameStatus `json:"status"`
	Inning           int        `json:"inning"`
	IsTopInning      bool       `json:"isTopInning"`
	Outs             int        `json:"outs"`
	TotalOuts        int        `json:"totalOuts"`
	Bases            BaseState  `json:"bases"`
	Team1            *TeamState `json:"team1"`
	Team2            *TeamState `json:"team2,omitempty"`
	LastAction       *Action    `json:"lastAction,omitempty"`
	ActionDeadline   time.Time  `json:"actionDeadline,omitzero"`
	Winner           string     `json:"winner,omitempty"`
	CompletionReason string     `json:"completionReason,omitempty"`
	Version          int64      `json:"version"`
	Sequence         int64      `json:"sequence"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy of g.
func (g GameState) Clone() GameState {
	c := g
	c.Team1 = g.Team1.clone()
	c.Team2 = g.Team2.clone()
	if g.LastAction != nil {
		a := *g.LastAction
		c.LastAction = &a
	}
	return c
}

// BattingTeam is team1 in the top half and team2 in the bottom half.
func (g GameState) BattingTeam() *TeamState {
	if g.IsTopInning {
		return g.Team1
	}
	return g.Team2
}

// PitchingTeam is the side in the field.
func (g GameState) PitchingTeam() *TeamState {
	if g.IsTopInning {
		return g.Team2
	}
	return g.Team1
}

// IsParticipant reports whether userID owns one of the two teams.
func (g GameState) IsParticipant(userID string) bool {
	return userID != "" && ((g.Team1 != nil && g.Team1.UserID == userID) || (g.Team2 != nil && g.Team2.UserID == userID))
}

// ExpectedAction returns who must act next and with which action type.
func (g GameState) ExpectedAction() (userID, actionType string) {
	if g.Status != StatusInProgress {
		return "", ""
	}
	if g.LastAction != nil && g.LastAction.Type == ActionPitch {
		if t := g.BattingTeam(); t != nil {
			return t.UserID, ActionBat
		}
		return "", ActionBat
	}
	if t := g.PitchingTeam(); t != nil {
		return t.UserID, ActionPitch
	}
	return "", ActionPitch
}

// NewGame creates a game waiting for an opponent.
func NewGame(id, userID string, deck Deck, now time.Time) (GameState, error) {
	if err := deck.Validate(); err != nil {
		return GameState{}, err
	}
	return GameState{
		ID:          id,
		Status:      StatusWaiting,
		Inning:      1,
		IsTopInning: true,
		Team1:       newTeamState(userID, deck.clone()),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ApplyJoin seats the second team and starts the game.
func ApplyJoin(g GameState, userID string, deck Deck, now time.Time, timeout time.Duration) (GameState, error) {
	if g.Status != StatusWaiting || g.Team2 != nil {
		return g, ErrGameNotJoinable
	}
	if g.Team1 != nil && g.Team1.UserID == userID {
		return g, ErrCannotJoinOwnGame
	}
	if err := deck.Validate(); err != nil {
		return g, err
	}
	next := g.Clone()
	next.Team2 = newTeamState(userID, deck.clone())
	next.Status = StatusInProgress
	next.Inning = 1
	next.IsTopInning = true
	next.Outs = 0
	next.Bases = BaseState{}
	next.ActionDeadline = deadline(now, timeout)
	next.UpdatedAt = now
	return next, nil
}

// ApplyPitch records the pitching side's pitch. A pitch made while another is
// pending replaces it.
func ApplyPitch(g GameState, style PitchingStyle, actorID string, now time.Time, timeout time.Duration) (GameState, error) {
	if g.Status != StatusInProgress {
		return g, ErrGameNotActive
	}
	if p := g.PitchingTeam(); p == nil || p.UserID != actorID {
		return g, fmt.Errorf("%w: not your turn to pitch", ErrNotYourTurn)
	}
	if _, err := ParsePitchingStyle(string(style)); err != nil {
		return g, err
	}
	next := g.Clone()
	next.LastAction = &Action{
		PlayerID:  actorID,
		Timestamp: now,
		Type:      ActionPitch,
		Style:     string(style),
	}
	next.ActionDeadline = deadline(now, timeout)
	next.UpdatedAt = now
	return next, nil
}

// ApplyBat resolves the at-bat against the pending pitch and advances the
// game. A rejected bat leaves g untouched.
func ApplyBat(g GameState, style HittingStyle, actorID string, rng RandomSource, cards CardSource, now time.Time, timeout time.Duration) (GameState, PlayResult, error) {
	if g.Status != StatusInProgress {
		return g, PlayResult{}, ErrGameNotActive
	}
	if b := g.BattingTeam(); b == nil || b.UserID != actorID {
		return g, PlayResult{}, fmt.Errorf("%w: not your turn to bat", ErrNotYourTurn)
	}
	if g.LastAction == nil || g.LastAction.Type != ActionPitch {
		return g, PlayResult{}, ErrNoPitchRecorded
	}
	if !g.ActionDeadline.IsZero() && now.After(g.ActionDeadline) {
		return g, PlayResult{}, fmt.Errorf("%w: deadline was %s", ErrActionTimeout, g.ActionDeadline.Format(time.RFC3339))
	}
	if _, err := ParseHittingStyle(string(style)); err != nil {
		return g, PlayResult{}, err
	}
	pitchStyle, err := ParsePitchingStyle(g.LastAction.Style)
	if err != nil {
		return g, PlayResult{}, err
	}

	next := g.Clone()
	batting, pitching := next.BattingTeam(), next.PitchingTeam()
	batterID := batting.Lineup.CurrentBatter()
	pitcherID, err := pitching.Lineup.CurrentPitcher()
	if err != nil {
		return g, PlayResult{}, err
	}
	batter, err := cards.Abilities(batterID)
	if err != nil {
		return g, PlayResult{}, err
	}
	pitcher, err := cards.Abilities(pitcherID)
	if err != nil {
		return g, PlayResult{}, err
	}

	outcome, err := ResolveAtBat(rng, pitcher, batter, pitchStyle, style)
	if err != nil {
		return g, PlayResult{}, err
	}

	result := PlayResult{
		Outcome:      outcome,
		Description:  Describe(outcome),
		Advancements: []RunnerAdvancement{},
		BatterID:     batterID,
		PitcherID:    pitcherID,
		PitchStyle:   pitchStyle,
		HitStyle:     style,
	}
	bs, ps := batting.stats(batterID), pitching.stats(pitcherID)
	bs.AtBats++
	ps.BattersFaced++

	if outcome == Out {
		bs.Outs++
		ps.OutsRecorded++
		next.Outs++
	} else {
		bases, advs, runs, err := AdvanceRunners(next.Bases, batterID, outcome)
		if err != nil {
			return g, PlayResult{}, err
		}
		result.Advancements = advs
		result.RunsScored = runs
		result.Hits = 1

		next.Bases = bases
		batting.Score += runs
		batting.Hits++
		bs.Hits++
		bs.RBIs += RBICount(advs)
		for _, a := range advs {
			if a.Scored {
				batting.stats(a.Runner).Runs++
			}
		}
		ps.HitsAllowed++
		ps.RunsAllowed += runs
		if outcome == HomeRun {
			ps.HomeRunsAllowed++
		}
	}

	batting.Lineup.NextBatter()
	next.LastAction = nil
	next.ActionDeadline = deadline(now, timeout)
	next.Sequence++
	next.UpdatedAt = now

	if next.Outs >= OutsPerHalfInning {
		next.endHalfInning(now)
	}
	return next, result, nil
}

// endHalfInning flips the half. The inning only advances on the bottom to top
// flip, and only that flip can end the game.
func (g *GameState) endHalfInning(now time.Time) {
	g.TotalOuts += OutsPerHalfInning
	g.Outs = 0
	g.Bases = BaseState{}
	wasBottom := !g.IsTopInning
	g.IsTopInning = !g.IsTopInning
	if wasBottom {
		g.Inning++
	}

	if g.Inning > RegulationInnings && g.IsTopInning && g.Team1.Score != g.Team2.Score {
		g.complete(ReasonRegulation, now)
		if g.Team1.Score > g.Team2.Score {
			g.Winner = g.Team1.UserID
		} else {
			g.Winner = g.Team2.UserID
		}
	}
}

func (g *GameState) complete(reason string, now time.Time) {
	g.Status = StatusCompleted
	g.CompletionReason = reason
	g.LastAction = nil
	g.ActionDeadline = time.Time{}
	g.UpdatedAt = now
}

// PitcherChangeOutcome reports a pitcher change.
type PitcherChangeOutcome struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	NewPitcherID    string `json:"newPitcherId"`
	ActivePitcherID string `json:"activePitcherId,omitempty"`
}

// ApplyPitcherChange runs the pitching side's lineup change. The change is
// rejected when it would leave the pool without an active pitcher.
func ApplyPitcherChange(g GameState, newPitcherID, actorID string, now time.Time) (GameState, PitcherChangeOutcome, error) {
	out := PitcherChangeOutcome{NewPitcherID: newPitcherID}
	if g.Status != StatusInProgress {
		return g, out, ErrGameNotActive
	}
	if p := g.PitchingTeam(); p == nil || p.UserID != actorID {
		return g, out, fmt.Errorf("%w: not your team's turn to pitch", ErrNotYourTurn)
	}

	next := g.Clone()
	lineup := &next.PitchingTeam().Lineup
	ok, msg := lineup.ChangePitcher(newPitcherID)
	out.Message = msg
	if !ok {
		return g, out, fmt.Errorf("%w: %s", ErrPitcherUnavailable, msg)
	}
	active, err := lineup.CurrentPitcher()
	if err != nil {
		out.Message = "No pitcher left to take the mound"
		return g, out, fmt.Errorf("%w: %s", ErrPitcherUnavailable, out.Message)
	}
	out.Success = true
	out.ActivePitcherID = active
	next.UpdatedAt = now
	return next, out, nil
}

// ApplyForfeit ends the game in favour of the other side, whatever the score.
func ApplyForfeit(g GameState, actorID string, now time.Time) (GameState, error) {
	if !g.IsParticipant(actorID) {
		return g, ErrNotParticipant
	}
	if g.Status != StatusInProgress {
		return g, ErrGameNotActive
	}
	next := g.Clone()
	next.complete(ReasonForfeit, now)
	if next.Team1.UserID == actorID {
		next.Winner = next.Team2.UserID
	} else {
		next.Winner = next.Team1.UserID
	}
	return next, nil
}

func deadline(now time.Time, timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return now.Add(timeout)
}

// StateSummary is the context handed to commentary collaborators.
type StateSummary struct {
	GameID         string     `json:"gameId" msgpack:"gameId"`
	Status         GameStatus `json:"status" msgpack:"status"`
	Inning         int        `json:"inning" msgpack:"inning"`
	Half           string     `json:"half" msgpack:"half"`
	Outs           int        `json:"outs" msgpack:"outs"`
	Team1Score     int        `json:"team1Score" msgpack:"team1Score"`
	Team2Score     int        `json:"team2Score" msgpack:"team2Score"`
	BattingUserID  string     `json:"battingUserId" msgpack:"battingUserId"`
	PitchingUserID string     `json:"pitchingUserId" msgpack:"pitchingUserId"`
	NextActor      string     `json:"nextActor,omitempty" msgpack:"nextActor"`
	NextAction     string     `json:"nextAction,omitempty" msgpack:"nextAction"`
	Winner         string     `json:"winner,omitempty" msgpack:"winner"`
}

// Summary condenses g for collaborators.
func (g GameState) Summary() StateSummary {
	s := StateSummary{
		GameID: g.ID,
		Status: g.Status,
		Inning: g.Inning,
		Half:   "bottom",
		Outs:   g.Outs,
		Winner: g.Winner,
	}
	if g.IsTopInning {
		s.Half = "top"
	}
	if g.Team1 != nil {
		s.Team1Score = g.Team1.Score
	}
	if g.Team2 != nil {
		s.Team2Score = g.Team2.Score
	}
	if t := g.BattingTeam(); t != nil {
		s.BattingUserID = t.UserID
	}
	if t := g.PitchingTeam(); t != nil {
		s.PitchingUserID = t.UserID
	}
	s.NextActor, s.NextAction = g.ExpectedAction()
	return s
}
