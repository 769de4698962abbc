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

import "fmt"

// Deck composition.
const (
	DeckCatchers    = 1
	DeckPitchers    = 5
	DeckInfielders  = 4
	DeckOutfielders = 3
	DeckHitters     = 4
)

// Deck is the set of player-cards one user brings to a game.
type Deck struct {
	Catchers    []string `json:"catchers"`
	Pitchers    []string `json:"pitchers"`
	Infielders  []string `json:"infielders"`
	Outfielders []string `json:"outfielders"`
	Hitters     []string `json:"hitters"`
}

// NewDeck builds a deck and validates its composition.
func NewDeck(catchers, pitchers, infielders, outfielders, hitters []string) (Deck, error) {
	d := Deck{
		Catchers:    append([]string(nil), catchers...),
		Pitchers:    append([]string(nil), pitchers...),
		Infielders:  append([]string(nil), infielders...),
		Outfielders: append([]string(nil), outfielders...),
		Hitters:     append([]string(nil), hitters...),
	}
	if err := d.Validate(); err != nil {
		return Deck{}, err
	}
	return d, nil
}

// Validate checks the fixed composition and that no player appears twice.
func (d Deck) Validate() error {
	counts := []struct {
		ids  []string
		want int
		msg  string
	}{
		{d.Catchers, DeckCatchers, "Deck must contain exactly 1 catcher"},
		{d.Pitchers, DeckPitchers, "Deck must contain exactly 5 pitchers"},
		{d.Infielders, DeckInfielders, "Deck must contain exactly 4 infielders"},
		{d.Outfielders, DeckOutfielders, "Deck must contain exactly 3 outfielders"},
		{d.Hitters, DeckHitters, "Deck must contain exactly 4 hitters"},
	}
	for _, c := range counts {
		if len(c.ids) != c.want {
			return fmt.Errorf("%w: %s", ErrInvalidDeck, c.msg)
		}
	}
	seen := make(map[string]bool)
	for _, id := range d.AllPlayers() {
		if id == "" {
			return fmt.Errorf("%w: Deck contains an empty player id", ErrInvalidDeck)
		}
		if seen[id] {
			return fmt.Errorf("%w: Deck contains duplicate players", ErrInvalidDeck)
		}
		seen[id] = true
	}
	return nil
}

// AllPlayers lists every player id: catchers, pitchers, infielders,
// outfielders, then hitters.
func (d Deck) AllPlayers() []string {
	all := make([]string, 0, len(d.Catchers)+len(d.Pitchers)+len(d.Infielders)+len(d.Outfielders)+len(d.Hitters))
	all = append(all, d.Catchers...)
	all = append(all, d.Pitchers...)
	all = append(all, d.Infielders...)
	all = append(all, d.Outfielders...)
	all = append(all, d.Hitters...)
	return all
}

// Contains reports whether playerID is in the deck.
func (d Deck) Contains(playerID string) bool {
	for _, id := range d.AllPlayers() {
		if id == playerID {
			return true
		}
	}
	return false
}

func (d Deck) clone() Deck {
	return Deck{
		Catchers:    cloneIDs(d.Catchers),
		Pitchers:    cloneIDs(d.Pitchers),
		Infielders:  cloneIDs(d.Infielders),
		Outfielders: cloneIDs(d.Outfielders),
		Hitters:     cloneIDs(d.Hitters),
	}
}

func cloneIDs(ids []string) []string {
	if ids == nil {
		return nil
	}
	return append(make([]string, 0, len(ids)), ids...)
}
