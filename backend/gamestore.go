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
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/c2FmZQ/storage"
	"github.com/charmbracelet/log"
	"github.com/ttbt-io/batterup/backend/engine"
)

var (
	// ErrNotFound is returned when a game or card does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a commit's expected version is stale. The
	// caller may reload and retry.
	ErrConflict = errors.New("version conflict")
)

// GameMetadata contains only the fields needed for the lobby index.
type GameMetadata struct {
	ID          string            `json:"id"`
	Status      engine.GameStatus `json:"status"`
	Team1UserID string            `json:"team1UserId"`
	Team2UserID string            `json:"team2UserId,omitempty"`
	Inning      int               `json:"inning"`
	IsTop       bool              `json:"isTop"`
	Team1Score  int               `json:"team1Score"`
	Team2Score  int               `json:"team2Score"`
	Winner      string            `json:"winner,omitempty"`
	Version     int64             `json:"version"`
	CreatedAt   int64             `json:"createdAt"`
	UpdatedAt   int64             `json:"updatedAt"`
}

func metadataOf(g engine.GameState) GameMetadata {
	md := GameMetadata{
		ID:        g.ID,
		Status:    g.Status,
		Inning:    g.Inning,
		IsTop:     g.IsTopInning,
		Winner:    g.Winner,
		Version:   g.Version,
		CreatedAt: g.CreatedAt.UnixNano(),
		UpdatedAt: g.UpdatedAt.UnixNano(),
	}
	if g.Team1 != nil {
		md.Team1UserID = g.Team1.UserID
		md.Team1Score = g.Team1.Score
	}
	if g.Team2 != nil {
		md.Team2UserID = g.Team2.UserID
		md.Team2Score = g.Team2.Score
	}
	return md
}

// Participants returns the user ids of both sides, skipping empty ones.
func (md GameMetadata) Participants() []string {
	var out []string
	for _, id := range []string{md.Team1UserID, md.Team2UserID} {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// GameStore persists game states with optimistic concurrency on
// GameState.Version.
type GameStore struct {
	DataDir string
	storage *storage.Storage
	mu      sync.Map // gameID -> *sync.RWMutex
	cache   sync.Map // gameID -> engine.GameState, always the committed version
}

// NewGameStore creates a new GameStore.
func NewGameStore(dataDir string, s *storage.Storage) *GameStore {
	return &GameStore{
		DataDir: dataDir,
		storage: s,
	}
}

func (gs *GameStore) lock(gameID string) *sync.RWMutex {
	m, _ := gs.mu.LoadOrStore(gameID, &sync.RWMutex{})
	return m.(*sync.RWMutex)
}

func gameFiles(gameID string) (data, meta string) {
	enc := url.PathEscape(gameID)
	return filepath.Join("games", enc+".json"), filepath.Join("games", enc+".meta.json")
}

// Create stores a brand new game at version 1. It fails with ErrConflict if
// the id is taken.
func (gs *GameStore) Create(g engine.GameState) (engine.GameState, error) {
	mutex := gs.lock(g.ID)
	mutex.Lock()
	defer mutex.Unlock()

	if _, err := gs.read(g.ID); err == nil {
		return engine.GameState{}, fmt.Errorf("%w: game %s already exists", ErrConflict, g.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return engine.GameState{}, err
	}
	g = g.Clone()
	g.Version = 1
	if err := gs.write(g); err != nil {
		return engine.GameState{}, err
	}
	return g.Clone(), nil
}

// Load returns the committed state of a game.
func (gs *GameStore) Load(gameID string) (engine.GameState, error) {
	if v, ok := gs.cache.Load(gameID); ok {
		return v.(engine.GameState).Clone(), nil
	}
	mutex := gs.lock(gameID)
	mutex.RLock()
	defer mutex.RUnlock()
	g, err := gs.read(gameID)
	if err != nil {
		return engine.GameState{}, err
	}
	return g.Clone(), nil
}

// Commit replaces the stored state with next if the stored version still
// equals expectedVersion. The committed state, carrying the new version, is
// returned.
func (gs *GameStore) Commit(next engine.GameState, expectedVersion int64) (engine.GameState, error) {
	mutex := gs.lock(next.ID)
	mutex.Lock()
	defer mutex.Unlock()

	cur, err := gs.read(next.ID)
	if err != nil {
		return engine.GameState{}, err
	}
	if cur.Version != expectedVersion {
		return engine.GameState{}, fmt.Errorf("%w: game %s is at version %d, expected %d", ErrConflict, next.ID, cur.Version, expectedVersion)
	}
	next = next.Clone()
	next.Version = expectedVersion + 1
	if err := gs.write(next); err != nil {
		return engine.GameState{}, err
	}
	return next.Clone(), nil
}

// read must be called with the game's lock held.
func (gs *GameStore) read(gameID string) (engine.GameState, error) {
	if v, ok := gs.cache.Load(gameID); ok {
		return v.(engine.GameState), nil
	}
	filename, _ := gameFiles(gameID)
	var g engine.GameState
	if err := gs.storage.ReadDataFile(filename, &g); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return engine.GameState{}, fmt.Errorf("game %s: %w", gameID, ErrNotFound)
		}
		return engine.GameState{}, fmt.Errorf("ReadDataFile: %w", err)
	}
	gs.cache.Store(gameID, g)
	return g, nil
}

// write must be called with the game's lock held.
func (gs *GameStore) write(g engine.GameState) error {
	filename, metaFilename := gameFiles(g.ID)
	if err := gs.storage.SaveDataFile(filename, g); err != nil {
		return fmt.Errorf("storage.SaveDataFile: %w", err)
	}
	meta := metadataOf(g)
	if err := gs.storage.SaveDataFile(metaFilename, &meta); err != nil {
		// The game file is authoritative; listing falls back to it.
		log.Warn("failed to save metadata sidecar", "gameId", g.ID, "err", err)
	}
	gs.cache.Store(g.ID, g)
	return nil
}

// ListAllGameMetadata returns metadata for all games without loading full
// states when a sidecar exists.
func (gs *GameStore) ListAllGameMetadata() iter.Seq2[GameMetadata, error] {
	return func(yield func(GameMetadata, error) bool) {
		files, err := os.ReadDir(filepath.Join(gs.DataDir, "games"))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				yield(GameMetadata{}, fmt.Errorf("could not read games directory: %w", err))
			}
			return
		}

		hasMeta := make(map[string]bool)
		hasGame := make(map[string]bool)
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			name := file.Name()
			if enc, ok := strings.CutSuffix(name, ".meta.json"); ok {
				if id, err := url.PathUnescape(enc); err == nil {
					hasMeta[id] = true
				}
			} else if enc, ok := strings.CutSuffix(name, ".json"); ok {
				if id, err := url.PathUnescape(enc); err == nil {
					hasGame[id] = true
				}
			}
		}

		for id := range hasGame {
			if hasMeta[id] {
				_, metaFilename := gameFiles(id)
				var meta GameMetadata
				if err := gs.storage.ReadDataFile(metaFilename, &meta); err == nil {
					if !yield(meta, nil) {
						return
					}
					continue
				} else {
					log.Warn("failed to load metadata, falling back to main file", "gameId", id, "err", err)
				}
			}
			g, err := gs.Load(id)
			if err != nil {
				log.Warn("failed to load game from disk", "gameId", id, "err", err)
				continue
			}
			if !yield(metadataOf(g), nil) {
				return
			}
		}
	}
}
