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
	"slices"
)

// Pitcher change messages.
const (
	MsgPitcherChanged      = "Pitcher changed successfully"
	MsgPitcherNotAvailable = "Pitcher not available or already used"
	MsgPitcherAlreadyUsed  = "Pitcher has already been used"
)

// Lineup is the batting order and pitcher rotation of one team.
//
// A pitcher id is in exactly one of AvailablePitchers and UsedPitchers. The
// active pitcher is AvailablePitchers[CurrentPitcherIndex].
type Lineup struct {
	BattingOrder        []string `json:"battingOrder"`
	CurrentBatterIndex  int      `json:"currentBatterIndex"`
	CurrentPitcherIndex int      `json:"currentPitcherIndex"`
	AvailablePitchers   []string `json:"availablePitchers"`
	UsedPitchers        []string `json:"usedPitchers"`
}

// InitializeLineup orders the batters as hitters, infielders, outfielders and
// finally the catcher. All five pitchers start available.
func InitializeLineup(deck Deck) Lineup {
	order := make([]string, 0, len(deck.Hitters)+len(deck.Infielders)+len(deck.Outfielders)+len(deck.Catchers))
	order = append(order, deck.Hitters...)
	order = append(order, deck.Infielders...)
	order = append(order, deck.Outfielders...)
	order = append(order, deck.Catchers...)
	return Lineup{
		BattingOrder:      order,
		AvailablePitchers: cloneIDs(deck.Pitchers),
		UsedPitchers:      []string{},
	}
}

// NextBatter returns the batter at the current index and moves the index to
// the next slot, wrapping at the end of the order.
func (l *Lineup) NextBatter() string {
	if len(l.BattingOrder) == 0 {
		return ""
	}
	id := l.BattingOrder[l.CurrentBatterIndex%len(l.BattingOrder)]
	l.CurrentBatterIndex = (l.CurrentBatterIndex + 1) % len(l.BattingOrder)
	return id
}

// CurrentBatter returns the batter due up without moving the index.
func (l *Lineup) CurrentBatter() string {
	if len(l.BattingOrder) == 0 {
		return ""
	}
	return l.BattingOrder[l.CurrentBatterIndex%len(l.BattingOrder)]
}

// CurrentPitcher returns the active pitcher.
func (l *Lineup) CurrentPitcher() (string, error) {
	if l.CurrentPitcherIndex < 0 || l.CurrentPitcherIndex >= len(l.AvailablePitchers) {
		return "", fmt.Errorf("%w: index %d with %d available", ErrPitcherPoolCorrupt, l.CurrentPitcherIndex, len(l.AvailablePitchers))
	}
	return l.AvailablePitchers[l.CurrentPitcherIndex], nil
}

// CanChangePitcher reports whether any pitcher remains available.
func (l *Lineup) CanChangePitcher() bool {
	return len(l.AvailablePitchers) > 0
}

// ChangePitcher retires the pitcher at the current index and advances the
// index. newID only has to be available; it is not itself activated, so the
// next active pitcher is whoever lands at the advanced index.
//
// On failure the pools and index are left untouched.
func (l *Lineup) ChangePitcher(newID string) (bool, string) {
	if !slices.Contains(l.AvailablePitchers, newID) {
		return false, MsgPitcherNotAvailable
	}
	if l.CurrentPitcherIndex < 0 || l.CurrentPitcherIndex >= len(l.AvailablePitchers) {
		return false, fmt.Sprintf("Error changing pitcher: index %d out of range", l.CurrentPitcherIndex)
	}

	available := cloneIDs(l.AvailablePitchers)
	used := cloneIDs(l.UsedPitchers)
	retiring := available[l.CurrentPitcherIndex]
	used = append(used, retiring)
	available = slices.Delete(available, l.CurrentPitcherIndex, l.CurrentPitcherIndex+1)

	if slices.Contains(used, newID) {
		return false, MsgPitcherAlreadyUsed
	}

	l.AvailablePitchers = available
	l.UsedPitchers = used
	l.CurrentPitcherIndex++
	return true, MsgPitcherChanged
}

func (l Lineup) clone() Lineup {
	c := l
	c.BattingOrder = cloneIDs(l.BattingOrder)
	c.AvailablePitchers = cloneIDs(l.AvailablePitchers)
	c.UsedPitchers = cloneIDs(l.UsedPitchers)
	return c
}
