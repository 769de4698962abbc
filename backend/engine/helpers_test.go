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

package engine_test

import (
	"fmt"
	"time"

	"github.com/ttbt-io/batterup/backend/engine"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const turn = 30 * time.Second

// seqRNG replays a fixed list of draws, cycling when it runs out.
type seqRNG struct {
	vals []float64
	i    int
}

func (s *seqRNG) Float64() float64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

func rngOf(vals ...float64) *seqRNG { return &seqRNG{vals: vals} }

// Draw sequences for the test cards below, where the hit chance and the power
// chance are both 0.5 for Changeups against a Power Hitter.
var (
	drawOut     = []float64{0.0}
	drawSingle  = []float64{0.9, 0.9}
	drawDouble  = []float64{0.9, 0.25}
	drawTriple  = []float64{0.9, 0.15}
	drawHomeRun = []float64{0.9, 0.0}
)

func testDeck(prefix string) engine.Deck {
	ids := func(pos string, n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("%s-%s%d", prefix, pos, i+1)
		}
		return out
	}
	return engine.Deck{
		Catchers:    ids("c", 1),
		Pitchers:    ids("p", 5),
		Infielders:  ids("i", 4),
		Outfielders: ids("o", 3),
		Hitters:     ids("h", 4),
	}
}

func profile(id string, contact, power, effectiveness, control float64) engine.AbilityProfile {
	return engine.AbilityProfile{
		PlayerID: id,
		Batting:  engine.BattingAbilities{Contact: contact, Power: power, Discipline: 50, Speed: 50},
		Pitching: engine.PitchingAbilities{Control: control, Velocity: 50, Stamina: 50, Effectiveness: effectiveness},
		Fielding: engine.FieldingAbilities{Defense: 50, Range: 50, Reliability: 50},
	}
}

func testCards(decks ...engine.Deck) engine.CardMap {
	cards := engine.CardMap{}
	for _, d := range decks {
		for _, id := range d.AllPlayers() {
			cards[id] = profile(id, 50, 50, 0, 0)
		}
	}
	return cards
}

// startedGame returns a game between "alice" (team1) and "bob" (team2).
func startedGame() (engine.GameState, engine.CardMap) {
	d1, d2 := testDeck("a"), testDeck("b")
	g, err := engine.NewGame("g1", "alice", d1, t0)
	if err != nil {
		panic(err)
	}
	g, err = engine.ApplyJoin(g, "bob", d2, t0, turn)
	if err != nil {
		panic(err)
	}
	return g, testCards(d1, d2)
}

// play runs one pitch and bat pair with the given draws.
func play(g engine.GameState, cards engine.CardSource, draws []float64) (engine.GameState, engine.PlayResult, error) {
	g, err := engine.ApplyPitch(g, engine.Changeups, g.PitchingTeam().UserID, t0, turn)
	if err != nil {
		return g, engine.PlayResult{}, err
	}
	return engine.ApplyBat(g, engine.PowerHitter, g.BattingTeam().UserID, rngOf(draws...), cards, t0, turn)
}

func mustPlay(g engine.GameState, cards engine.CardSource, draws []float64) (engine.GameState, engine.PlayResult) {
	g, res, err := play(g, cards, draws)
	if err != nil {
		panic(err)
	}
	return g, res
}

func retireSide(g engine.GameState, cards engine.CardSource) engine.GameState {
	for range engine.OutsPerHalfInning {
		g, _ = mustPlay(g, cards, drawOut)
	}
	return g
}
