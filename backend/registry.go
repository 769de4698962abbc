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

package backend

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/ttbt-io/batterup/backend/engine"
	"github.com/ttbt-io/batterup/backend/search"
)

// Registry is the in-memory lobby index of every game's metadata.
type Registry struct {
	gameStore *GameStore

	mu    sync.RWMutex
	games map[string]GameMetadata
}

// NewRegistry creates a Registry and fills it from the game store.
func NewRegistry(gs *GameStore) *Registry {
	r := &Registry{
		gameStore: gs,
		games:     make(map[string]GameMetadata),
	}
	r.Rebuild()
	return r
}

// Rebuild replaces the index with what is on disk.
func (r *Registry) Rebuild() {
	games := make(map[string]GameMetadata)
	for md, err := range r.gameStore.ListAllGameMetadata() {
		if err != nil {
			log.Error("registry rebuild", "err", err)
			continue
		}
		games[md.ID] = md
	}
	r.mu.Lock()
	r.games = games
	r.mu.Unlock()
	log.Info("registry rebuilt", "games", len(games))
}

// UpdateGame indexes md unless a newer version is already known.
func (r *Registry) UpdateGame(md GameMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.games[md.ID]; ok && cur.Version > md.Version {
		return
	}
	r.games[md.ID] = md
}

// Get returns the indexed metadata of a game.
func (r *Registry) Get(id string) (GameMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	md, ok := r.games[id]
	return md, ok
}

// Counts returns the number of games per status.
func (r *Registry) Counts() map[engine.GameStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[engine.GameStatus]int)
	for _, md := range r.games {
		out[md.Status]++
	}
	return out
}

// ListGames returns the games matching query, most recently updated first.
// "me" in user, opponent and winner filters stands for userID.
//
// Supported filters: status:<s>, user:<id>, opponent:<id>, winner:<id>,
// is:open (waiting games userID can join), is:mine, inning:<n> with
// comparison operators. Free text matches participant ids.
func (r *Registry) ListGames(userID, query string, limit int) []GameMetadata {
	q := search.Parse(query)
	for i, t := range q.FreeText {
		q.FreeText[i] = strings.ToLower(t)
	}
	for i, f := range q.Filters {
		v := strings.ToLower(f.Value)
		if v == "me" {
			v = userID
		}
		q.Filters[i].Value = v
	}

	r.mu.RLock()
	var out []GameMetadata
	for _, md := range r.games {
		if matchesGame(md, userID, q) {
			out = append(out, md)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b GameMetadata) int {
		if c := cmp.Compare(b.UpdatedAt, a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matchesGame(m GameMetadata, userID string, q search.Query) bool {
	for _, token := range q.FreeText {
		if !containsLower(m.Team1UserID, token) && !containsLower(m.Team2UserID, token) {
			return false
		}
	}
	// Repeated equality filters on one key are OR-ed; different keys AND-ed.
	byKey := make(map[string]bool)
	seen := make(map[string]bool)
	for _, f := range q.Filters {
		ok := matchesFilter(m, userID, f)
		seen[f.Key] = true
		byKey[f.Key] = byKey[f.Key] || ok
	}
	for k := range seen {
		if !byKey[k] {
			return false
		}
	}
	return true
}

func matchesFilter(m GameMetadata, userID string, f search.Filter) bool {
	switch f.Key {
	case "status":
		return string(m.Status) == f.Value
	case "user":
		return slices.Contains(m.Participants(), f.Value)
	case "opponent":
		if !slices.Contains(m.Participants(), userID) {
			return false
		}
		return f.Value != userID && slices.Contains(m.Participants(), f.Value)
	case "winner":
		return m.Winner != "" && m.Winner == f.Value
	case "inning":
		return f.MatchInt(m.Inning)
	case "is":
		switch f.Value {
		case "open":
			return m.Status == engine.StatusWaiting && m.Team2UserID == "" && m.Team1UserID != userID
		case "mine":
			return slices.Contains(m.Participants(), userID)
		}
		return false
	}
	// Unknown keys do not narrow the result.
	return true
}

func containsLower(s, token string) bool {
	return strings.Contains(strings.ToLower(s), token)
}
