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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"
	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ttbt-io/batterup/backend/engine"
)

// maxRecentGames bounds UserRecord.RecentGames.
const maxRecentGames = 20

// UserRecord is one user's career record over completed games.
type UserRecord struct {
	UserID      string   `json:"userId"`
	GamesPlayed int      `json:"gamesPlayed"`
	Wins        int      `json:"wins"`
	Losses      int      `json:"losses"`
	ForfeitWins int      `json:"forfeitWins"`
	Forfeits    int      `json:"forfeits"`
	RunsScored  int      `json:"runsScored"`
	RunsAllowed int      `json:"runsAllowed"`
	RecentGames []string `json:"recentGames"` // newest first
	LastUpdated int64    `json:"lastUpdated"`

	// Counted maps every game already in the totals to its completion time.
	Counted map[string]int64 `json:"counted,omitempty"`
}

// UserRecordStore keeps user records in a write-back LRU cache. Dirty records
// are persisted when evicted or flushed. File names are keyed hashes of the
// user id so that email addresses never appear on disk.
type UserRecordStore struct {
	DataDir   string
	storage   *storage.Storage
	masterKey crypto.MasterKey

	cache *lru.Cache[string, *UserRecord]

	// serializes read-modify-write of records
	updateMu sync.Mutex

	dirtyMu sync.Mutex
	dirty   map[string]bool

	mu sync.Map // path -> *sync.Mutex
}

// NewUserRecordStore creates a store caching up to cacheSize records. mk may
// be nil, in which case paths use a plain SHA-256.
func NewUserRecordStore(dataDir string, s *storage.Storage, mk crypto.MasterKey, cacheSize int) *UserRecordStore {
	store := &UserRecordStore{
		DataDir:   dataDir,
		storage:   s,
		masterKey: mk,
		dirty:     make(map[string]bool),
	}
	onEvict := func(key string, value *UserRecord) {
		store.dirtyMu.Lock()
		isDirty := store.dirty[key]
		delete(store.dirty, key)
		store.dirtyMu.Unlock()

		if isDirty {
			if err := store.persist(value); err != nil {
				log.Error("persisting evicted user record", "user", maskUserID(key), "err", err)
			}
		}
	}
	store.cache, _ = lru.NewWithEvict[string, *UserRecord](max(cacheSize, 1), onEvict)
	return store
}

func (s *UserRecordStore) path(userID string) string {
	var hash string
	if s.masterKey != nil {
		hash = hex.EncodeToString(s.masterKey.Hash([]byte(userID)))
	} else {
		h := sha256.Sum256([]byte(userID))
		hash = hex.EncodeToString(h[:])
	}
	return filepath.Join("users", hash+".json")
}

func (s *UserRecordStore) lock(path string) *sync.Mutex {
	m, _ := s.mu.LoadOrStore(path, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// Get returns a copy of the user's record. Users without completed games get
// an empty record.
func (s *UserRecordStore) Get(userID string) (UserRecord, error) {
	rec, err := s.get(userID)
	if err != nil {
		return UserRecord{}, err
	}
	out := *rec
	out.RecentGames = slices.Clone(rec.RecentGames)
	out.Counted = maps.Clone(rec.Counted)
	return out, nil
}

func (s *UserRecordStore) get(userID string) (*UserRecord, error) {
	if rec, ok := s.cache.Get(userID); ok {
		return rec, nil
	}
	path := s.path(userID)
	mutex := s.lock(path)
	mutex.Lock()
	defer mutex.Unlock()

	var rec UserRecord
	if err := s.storage.ReadDataFile(path, &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &UserRecord{UserID: userID, RecentGames: []string{}}, nil
		}
		return nil, fmt.Errorf("ReadDataFile: %w", err)
	}
	s.cache.Add(userID, &rec)
	return &rec, nil
}

// RecordGame credits a completed game to both participants. It is a no-op
// for games that are not completed or already counted for a user.
func (s *UserRecordStore) RecordGame(g engine.GameState) error {
	if g.Status != engine.StatusCompleted || g.Team1 == nil || g.Team2 == nil {
		return nil
	}
	sides := []struct {
		team, opp *engine.TeamState
	}{
		{g.Team1, g.Team2},
		{g.Team2, g.Team1},
	}
	var errs []error
	for _, side := range sides {
		errs = append(errs, s.update(side.team.UserID, func(rec *UserRecord) {
			if _, ok := rec.Counted[g.ID]; ok {
				return
			}
			if rec.Counted == nil {
				rec.Counted = make(map[string]int64)
			}
			rec.Counted[g.ID] = g.UpdatedAt.UnixNano()
			rec.GamesPlayed++
			rec.RunsScored += side.team.Score
			rec.RunsAllowed += side.opp.Score
			won := g.Winner == side.team.UserID
			switch {
			case won && g.CompletionReason == engine.ReasonForfeit:
				rec.Wins++
				rec.ForfeitWins++
			case won:
				rec.Wins++
			case g.CompletionReason == engine.ReasonForfeit:
				rec.Losses++
				rec.Forfeits++
			default:
				rec.Losses++
			}
			rec.RecentGames = slices.Insert(rec.RecentGames, 0, g.ID)
			if len(rec.RecentGames) > maxRecentGames {
				rec.RecentGames = rec.RecentGames[:maxRecentGames]
			}
			rec.LastUpdated = g.UpdatedAt.UnixNano()
		}))
	}
	return errors.Join(errs...)
}

func (s *UserRecordStore) update(userID string, fn func(*UserRecord)) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	cur, err := s.get(userID)
	if err != nil {
		return err
	}
	next := *cur
	next.RecentGames = slices.Clone(cur.RecentGames)
	next.Counted = maps.Clone(cur.Counted)
	fn(&next)
	if next.LastUpdated == 0 {
		next.LastUpdated = time.Now().UnixNano()
	}
	s.dirtyMu.Lock()
	s.dirty[userID] = true
	s.dirtyMu.Unlock()
	s.cache.Add(userID, &next)
	return nil
}

// Flush persists the user's record if it is dirty.
func (s *UserRecordStore) Flush(userID string) error {
	s.dirtyMu.Lock()
	if !s.dirty[userID] {
		s.dirtyMu.Unlock()
		return nil
	}
	rec, ok := s.cache.Peek(userID)
	delete(s.dirty, userID)
	s.dirtyMu.Unlock()
	if !ok {
		// evicted, and persisted by onEvict
		return nil
	}
	return s.persist(rec)
}

// FlushAll persists every dirty record.
func (s *UserRecordStore) FlushAll() error {
	s.dirtyMu.Lock()
	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	s.dirtyMu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.Flush(id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", maskUserID(id), err))
		}
	}
	return errors.Join(errs...)
}

func (s *UserRecordStore) persist(rec *UserRecord) error {
	path := s.path(rec.UserID)
	mutex := s.lock(path)
	mutex.Lock()
	defer mutex.Unlock()
	return s.storage.SaveDataFile(path, rec)
}
