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

// Package engine implements the BatterUp game rules: lineups and pitcher
// rotation, base running, at-bat resolution and the inning/game lifecycle.
//
// Every function in this package is free of I/O. Transition functions take a
// GameState by value and return the next one; callers commit the result.
package engine

import (
	"fmt"
	"math"
	"time"
)

// GameStatus is the lifecycle stage of a game.
type GameStatus string

const (
	StatusWaiting    GameStatus = "waiting"
	StatusInProgress GameStatus = "in_progress"
	StatusCompleted  GameStatus = "completed"
)

// Completion reasons.
const (
	ReasonRegulation = "regulation"
	ReasonForfeit    = "forfeit"
)

// HitClassification is the closed set of at-bat outcomes.
type HitClassification string

const (
	Single  HitClassification = "single"
	Double  HitClassification = "double"
	Triple  HitClassification = "triple"
	HomeRun HitClassification = "home_run"
	Out     HitClassification = "out"
)

// ParseHitClassification matches s exactly (case-sensitive).
func ParseHitClassification(s string) (HitClassification, error) {
	h := HitClassification(s)
	if !h.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidHitClassification, s)
	}
	return h, nil
}

// Valid reports whether h is one of the five defined classifications.
func (h HitClassification) Valid() bool {
	switch h {
	case Single, Double, Triple, HomeRun, Out:
		return true
	}
	return false
}

// IsHit is true for every classification except Out.
func (h HitClassification) IsHit() bool {
	return h.Valid() && h != Out
}

// PitchingStyle is chosen by the pitching side on every pitch action.
type PitchingStyle string

const (
	Fastballs     PitchingStyle = "Fastballs"
	BreakingBalls PitchingStyle = "Breaking Balls"
	Changeups     PitchingStyle = "Changeups"
)

// ParsePitchingStyle matches s exactly.
func ParsePitchingStyle(s string) (PitchingStyle, error) {
	switch p := PitchingStyle(s); p {
	case Fastballs, BreakingBalls, Changeups:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown pitching style %q", ErrInvalidStyle, s)
}

// HittingStyle is chosen by the batting side on every bat action.
type HittingStyle string

const (
	PowerHitter      HittingStyle = "Power Hitter"
	SwitchHitter     HittingStyle = "Switch Hitter"
	DesignatedHitter HittingStyle = "Designated Hitter"
)

// ParseHittingStyle matches s exactly.
func ParseHittingStyle(s string) (HittingStyle, error) {
	switch h := HittingStyle(s); h {
	case PowerHitter, SwitchHitter, DesignatedHitter:
		return h, nil
	}
	return "", fmt.Errorf("%w: unknown hitting style %q", ErrInvalidStyle, s)
}

// BattingAbilities are the offensive ratings of a card.
type BattingAbilities struct {
	Contact    float64 `json:"contact"`
	Power      float64 `json:"power"`
	Discipline float64 `json:"discipline"`
	Speed      float64 `json:"speed"`
}

// PitchingAbilities are the pitching ratings of a card.
type PitchingAbilities struct {
	Control       float64 `json:"control"`
	Velocity      float64 `json:"velocity"`
	Stamina       float64 `json:"stamina"`
	Effectiveness float64 `json:"effectiveness"`
}

// FieldingAbilities are the defensive ratings of a card.
type FieldingAbilities struct {
	Defense     float64 `json:"defense"`
	Range       float64 `json:"range"`
	Reliability float64 `json:"reliability"`
}

// AbilityProfile holds every rating of one player-card. Ratings are in [0,100].
type AbilityProfile struct {
	PlayerID string            `json:"playerId"`
	Name     string            `json:"name,omitempty"`
	Batting  BattingAbilities  `json:"batting"`
	Pitching PitchingAbilities `json:"pitching"`
	Fielding FieldingAbilities `json:"fielding"`
}

// Validate checks every rating is a finite number in [0,100].
func (a AbilityProfile) Validate() error {
	ratings := []struct {
		name string
		v    float64
	}{
		{"batting.contact", a.Batting.Contact},
		{"batting.power", a.Batting.Power},
		{"batting.discipline", a.Batting.Discipline},
		{"batting.speed", a.Batting.Speed},
		{"pitching.control", a.Pitching.Control},
		{"pitching.velocity", a.Pitching.Velocity},
		{"pitching.stamina", a.Pitching.Stamina},
		{"pitching.effectiveness", a.Pitching.Effectiveness},
		{"fielding.defense", a.Fielding.Defense},
		{"fielding.range", a.Fielding.Range},
		{"fielding.reliability", a.Fielding.Reliability},
	}
	for _, r := range ratings {
		if math.IsNaN(r.v) || r.v < 0 || r.v > 100 {
			return fmt.Errorf("%w: %s=%v out of [0,100]", ErrInvalidRating, r.name, r.v)
		}
	}
	return nil
}

// CardSource looks up the ability profile of a player-card.
type CardSource interface {
	Abilities(playerID string) (AbilityProfile, error)
}

// CardMap is an in-memory CardSource.
type CardMap map[string]AbilityProfile

func (m CardMap) Abilities(playerID string) (AbilityProfile, error) {
	a, ok := m[playerID]
	if !ok {
		return AbilityProfile{}, fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	return a, nil
}

// Base names used in runner advancements.
const (
	BaseHome   = "home"
	BaseFirst  = "first"
	BaseSecond = "second"
	BaseThird  = "third"
)

// BaseState records which runner, if any, stands on each base.
type BaseState struct {
	First  string `json:"first,omitempty"`
	Second string `json:"second,omitempty"`
	Third  string `json:"third,omitempty"`
}

// Occupied returns the number of runners on base.
func (b BaseState) Occupied() int {
	n := 0
	for _, r := range []string{b.First, b.Second, b.Third} {
		if r != "" {
			n++
		}
	}
	return n
}

// Empty reports whether no base is occupied.
func (b BaseState) Empty() bool {
	return b.Occupied() == 0
}

// RunnerAdvancement is one runner's movement on one play.
type RunnerAdvancement struct {
	Runner string `json:"runner"`
	From   string `json:"from"`
	To     string `json:"to"`
	Scored bool   `json:"scored"`
}

// PlayResult is the outcome of one at-bat.
type PlayResult struct {
	Outcome      HitClassification   `json:"outcome"`
	Description  string              `json:"description"`
	Advancements []RunnerAdvancement `json:"advancements"`
	RunsScored   int                 `json:"runsScored"`
	Hits         int                 `json:"hits"`
	BatterID     string              `json:"batterId"`
	PitcherID    string              `json:"pitcherId"`
	PitchStyle   PitchingStyle       `json:"pitchStyle"`
	HitStyle     HittingStyle        `json:"hitStyle"`
}

// Action types.
const (
	ActionPitch = "pitch"
	ActionBat   = "bat"
)

// Action is the last recorded turn action.
type Action struct {
	PlayerID  string    `json:"playerId"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Style     string    `json:"style"`
}

// PlayerGameStats accumulates one player's in-game numbers.
type PlayerGameStats struct {
	AtBats int `json:"atBats"`
	Hits   int `json:"hits"`
	Runs   int `json:"runs"`
	RBIs   int `json:"rbis"`
	Outs   int `json:"outs"`

	HitsAllowed     int `json:"hitsAllowed,omitempty"`
	RunsAllowed     int `json:"runsAllowed,omitempty"`
	OutsRecorded    int `json:"outsRecorded,omitempty"`
	BattersFaced    int `json:"battersFaced,omitempty"`
	HomeRunsAllowed int `json:"homeRunsAllowed,omitempty"`
}

// TeamState is one side of a game.
type TeamState struct {
	UserID      string                      `json:"userId"`
	Deck        Deck                        `json:"deck"`
	Lineup      Lineup                      `json:"lineup"`
	Score       int                         `json:"score"`
	Hits        int                         `json:"hits"`
	Errors      int                         `json:"errors"`
	PlayerStats map[string]*PlayerGameStats `json:"playerStats"`
}

func newTeamState(userID string, deck Deck) *TeamState {
	return &TeamState{
		UserID:      userID,
		Deck:        deck,
		Lineup:      InitializeLineup(deck),
		PlayerStats: make(map[string]*PlayerGameStats),
	}
}

func (t *TeamState) stats(playerID string) *PlayerGameStats {
	if t.PlayerStats == nil {
		t.PlayerStats = make(map[string]*PlayerGameStats)
	}
	s, ok := t.PlayerStats[playerID]
	if !ok {
		s = &PlayerGameStats{}
		t.PlayerStats[playerID] = s
	}
	return s
}

func (t *TeamState) clone() *TeamState {
	if t == nil {
		return nil
	}
	c := *t
	c.Deck = t.Deck.clone()
	c.Lineup = t.Lineup.clone()
	c.PlayerStats = make(map[string]*PlayerGameStats, len(t.PlayerStats))
	for k, v := range t.PlayerStats {
		s := *v
		c.PlayerStats[k] = &s
	}
	return &c
}
