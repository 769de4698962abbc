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
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/c2FmZQ/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ttbt-io/batterup/backend/engine"
)

// CardStore persists player-card ability profiles and serves them to the
// engine through an LRU read cache. It implements engine.CardSource.
type CardStore struct {
	storage *storage.Storage
	cache   *lru.Cache[string, engine.AbilityProfile]
}

var _ engine.CardSource = (*CardStore)(nil)

// NewCardStore creates a CardStore caching up to cacheSize profiles.
func NewCardStore(s *storage.Storage, cacheSize int) (*CardStore, error) {
	c, err := lru.New[string, engine.AbilityProfile](cacheSize)
	if err != nil {
		return nil, err
	}
	return &CardStore{storage: s, cache: c}, nil
}

func cardFile(playerID string) string {
	return filepath.Join("cards", url.PathEscape(playerID)+".json")
}

// Put validates and stores a profile.
func (cs *CardStore) Put(a engine.AbilityProfile) error {
	if a.PlayerID == "" {
		return fmt.Errorf("%w: missing playerId", engine.ErrInvalidRating)
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if err := cs.storage.SaveDataFile(cardFile(a.PlayerID), a); err != nil {
		return fmt.Errorf("storage.SaveDataFile: %w", err)
	}
	cs.cache.Add(a.PlayerID, a)
	return nil
}

// Abilities returns the profile of playerID, or an error wrapping
// engine.ErrUnknownPlayer.
func (cs *CardStore) Abilities(playerID string) (engine.AbilityProfile, error) {
	if a, ok := cs.cache.Get(playerID); ok {
		return a, nil
	}
	var a engine.AbilityProfile
	if err := cs.storage.ReadDataFile(cardFile(playerID), &a); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return engine.AbilityProfile{}, fmt.Errorf("%w: %s", engine.ErrUnknownPlayer, playerID)
		}
		return engine.AbilityProfile{}, fmt.Errorf("ReadDataFile: %w", err)
	}
	cs.cache.Add(playerID, a)
	return a, nil
}

// Missing returns the ids in deck that have no stored profile.
func (cs *CardStore) Missing(deck engine.Deck) []string {
	var out []string
	for _, id := range deck.AllPlayers() {
		if _, err := cs.Abilities(id); err != nil {
			out = append(out, id)
		}
	}
	return out
}
