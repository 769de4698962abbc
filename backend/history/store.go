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

// Package history keeps the append-only play-by-play log of every game and
// the summaries of completed games.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/ttbt-io/batterup/backend/engine"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its configuration in package globals.
var migrateMu sync.Mutex

// ErrNotFound is returned when no summary exists for a game.
var ErrNotFound = errors.New("history not found")

// Kind is the type of a log entry.
type Kind string

const (
	KindGameCreated   Kind = "game_created"
	KindPlayerJoined  Kind = "player_joined"
	KindPlay          Kind = "play"
	KindPitcherChange Kind = "pitcher_change"
	KindGameCompleted Kind = "game_completed"
)

// Entry is one row of the play-by-play log. Inning and Top describe the
// half-inning in which the event happened.
type Entry struct {
	ID             int64              `json:"id"`
	GameID         string             `json:"gameId"`
	Version        int64              `json:"version"`
	Kind           Kind               `json:"kind"`
	Actor          string             `json:"actor,omitempty"`
	Inning         int                `json:"inning"`
	Top            bool               `json:"top"`
	BattingUserID  string             `json:"battingUserId,omitempty"`
	PitchingUserID string             `json:"pitchingUserId,omitempty"`
	Result         *engine.PlayResult `json:"result,omitempty"`
	Note           string             `json:"note,omitempty"` // new pitcher or completion reason
	At             time.Time          `json:"at"`
}

// EntryFor builds an entry stamped with the half-inning of prev, the state
// the action was applied to, and the version of the committed state.
func EntryFor(kind Kind, prev, committed engine.GameState, actor string, at time.Time) Entry {
	e := Entry{
		GameID:  committed.ID,
		Version: committed.Version,
		Kind:    kind,
		Actor:   actor,
		Inning:  prev.Inning,
		Top:     prev.IsTopInning,
		At:      at,
	}
	if t := prev.BattingTeam(); t != nil {
		e.BattingUserID = t.UserID
	}
	if t := prev.PitchingTeam(); t != nil {
		e.PitchingUserID = t.UserID
	}
	return e
}

// Store is a SQLite-backed history log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and migrates it. path may be
// ":memory:".
func Open(ctx context.Context, path string) (*Store, error) {
	log.Info("opening history database", "path", path)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// A single connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate history db: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append adds e to the log. Appending the same (game, version, kind) twice is
// a no-op.
func (s *Store) Append(ctx context.Context, e Entry) error {
	var resultJSON sql.NullString
	var outcome string
	var runs int
	if e.Result != nil {
		b, err := json.Marshal(e.Result)
		if err != nil {
			return err
		}
		resultJSON = sql.NullString{String: string(b), Valid: true}
		outcome = string(e.Result.Outcome)
		runs = e.Result.RunsScored
	}
	if e.Result == nil {
		outcome = e.Note
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO game_events
			(game_id, version, type, actor, inning, is_top, batting_user, pitching_user, outcome, runs, result_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.GameID, e.Version, string(e.Kind), e.Actor, e.Inning, e.Top,
		e.BattingUserID, e.PitchingUserID, outcome, runs, resultJSON, e.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append %s for game %s: %w", e.Kind, e.GameID, err)
	}
	return nil
}

// List returns the entries of a game in append order.
func (s *Store) List(ctx context.Context, gameID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, game_id, version, type, actor, inning, is_top, batting_user, pitching_user, outcome, result_json, created_at
		FROM game_events WHERE game_id = ? ORDER BY id`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			kind       string
			outcome    string
			resultJSON sql.NullString
			at         int64
		)
		if err := rows.Scan(&e.ID, &e.GameID, &e.Version, &kind, &e.Actor, &e.Inning, &e.Top,
			&e.BattingUserID, &e.PitchingUserID, &outcome, &resultJSON, &at); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		e.At = time.Unix(0, at).UTC()
		if resultJSON.Valid {
			var r engine.PlayResult
			if err := json.Unmarshal([]byte(resultJSON.String), &r); err != nil {
				return nil, fmt.Errorf("entry %d: %w", e.ID, err)
			}
			e.Result = &r
		}
		if e.Result == nil {
			e.Note = outcome
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveSummary stores the summary of a completed game, replacing any earlier one.
func (s *Store) SaveSummary(ctx context.Context, h GameHistory) error {
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	completed := time.Now()
	if h.EndTime != nil {
		completed = *h.EndTime
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO game_history (game_id, winner, reason, completed_at, history_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (game_id) DO UPDATE SET
			winner = excluded.winner,
			reason = excluded.reason,
			completed_at = excluded.completed_at,
			history_json = excluded.history_json`,
		h.GameID, h.Winner, h.CompletionReason, completed.UnixNano(), string(b))
	if err != nil {
		return fmt.Errorf("save summary for game %s: %w", h.GameID, err)
	}
	return nil
}

// Summary loads the stored summary of a completed game.
func (s *Store) Summary(ctx context.Context, gameID string) (GameHistory, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT history_json FROM game_history WHERE game_id = ?`, gameID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return GameHistory{}, ErrNotFound
	}
	if err != nil {
		return GameHistory{}, err
	}
	var h GameHistory
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return GameHistory{}, err
	}
	return h, nil
}
