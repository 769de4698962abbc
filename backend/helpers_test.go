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
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/ttbt-io/batterup/backend/engine"
	"github.com/ttbt-io/batterup/backend/events"
	"github.com/ttbt-io/batterup/backend/history"
	"github.com/ttbt-io/batterup/backend/metrics"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// scriptRNG replays vals once, then returns fallback forever.
type scriptRNG struct {
	mu       sync.Mutex
	vals     []float64
	fallback float64
}

func (s *scriptRNG) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.vals) == 0 {
		return s.fallback
	}
	v := s.vals[0]
	s.vals = s.vals[1:]
	return v
}

// With the cards from testCard, Fastballs against a Power Hitter has a 0.45
// out chance and a 0.6 power chance. The pitch flavour takes one draw before
// each at-bat.
var homeRunThenOuts = []float64{0.5, 0.9, 0.0}

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

func testCard(id string) engine.AbilityProfile {
	return engine.AbilityProfile{
		PlayerID: id,
		Batting:  engine.BattingAbilities{Contact: 50, Power: 50, Discipline: 50, Speed: 50},
		Pitching: engine.PitchingAbilities{Control: 0, Velocity: 50, Stamina: 50, Effectiveness: 0},
		Fielding: engine.FieldingAbilities{Defense: 50, Range: 50, Reliability: 50},
	}
}

type testEnv struct {
	dataDir  string
	storage  *storage.Storage
	games    *GameStore
	cards    *CardStore
	registry *Registry
	records  *UserRecordStore
	hist     *history.Store
	events   *events.Mock
	metrics  *metrics.Service
	rng      *scriptRNG
	hm       *HubManager
}

type envOption func(*HubConfig)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	dir := t.TempDir()
	s := storage.New(dir, nil)

	hist, err := history.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	cards, err := NewCardStore(s, 128)
	require.NoError(t, err)
	for _, d := range []engine.Deck{testDeck("a"), testDeck("b")} {
		for _, id := range d.AllPlayers() {
			require.NoError(t, cards.Put(testCard(id)))
		}
	}

	env := &testEnv{
		dataDir: dir,
		storage: s,
		games:   NewGameStore(dir, s),
		cards:   cards,
		hist:    hist,
		events:  &events.Mock{},
		metrics: metrics.NewService(prometheus.NewRegistry()),
		rng:     &scriptRNG{},
	}
	env.registry = NewRegistry(env.games)
	env.records = NewUserRecordStore(dir, s, nil, 16)

	cfg := HubConfig{
		Games:       env.games,
		Cards:       env.cards,
		History:     env.hist,
		Events:      env.events,
		Metrics:     env.metrics,
		Registry:    env.registry,
		Records:     env.records,
		RNG:         env.rng,
		Now:         func() time.Time { return t0 },
		TurnTimeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}
	env.hm = NewHubManager(cfg)
	t.Cleanup(env.hm.Close)
	return env
}

// startGame creates a game for alice and seats bob.
func (e *testEnv) startGame(t *testing.T) engine.GameState {
	t.Helper()
	g, err := e.hm.CreateGame(context.Background(), "alice", testDeck("a"))
	require.NoError(t, err)
	resp := e.hm.Do(context.Background(), g.ID, HubRequest{Type: ReqJoin, UserID: "bob", Deck: testDeck("b")})
	require.NoError(t, resp.Err)
	return resp.State
}

// step performs the next expected action with the given styles.
func (e *testEnv) step(t *testing.T, gameID string, g engine.GameState) HubResponse {
	t.Helper()
	actor, action := g.ExpectedAction()
	req := HubRequest{Type: ReqPitch, UserID: actor, Style: string(engine.Fastballs)}
	if action == engine.ActionBat {
		req = HubRequest{Type: ReqBat, UserID: actor, Style: string(engine.PowerHitter)}
	}
	resp := e.hm.Do(context.Background(), gameID, req)
	require.NoError(t, resp.Err)
	return resp
}
