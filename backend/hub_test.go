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
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ttbt-io/batterup/backend/engine"
	"github.com/ttbt-io/batterup/backend/events"
	"github.com/ttbt-io/batterup/backend/history"
)

func TestHub_FullGame(t *testing.T) {
	env := newTestEnv(t)
	env.rng.vals = append(env.rng.vals, homeRunThenOuts...)

	g := env.startGame(t)
	require.Equal(t, engine.StatusInProgress, g.Status)

	var plays int
	for g.Status == engine.StatusInProgress {
		resp := env.step(t, g.ID, g)
		if resp.Result != nil {
			plays++
		}
		g = resp.State
		require.Less(t, plays, 200, "game did not end")
	}

	assert.Equal(t, 55, plays)
	assert.Equal(t, engine.StatusCompleted, g.Status)
	assert.Equal(t, engine.ReasonRegulation, g.CompletionReason)
	assert.Equal(t, "alice", g.Winner)
	assert.Equal(t, 1, g.Team1.Score)
	assert.Equal(t, 0, g.Team2.Score)
	assert.Equal(t, 10, g.Inning)

	env.hm.Close()
	assert.Len(t, env.events.OfType(events.EventGameCreated), 1)
	assert.Len(t, env.events.OfType(events.EventPlayerJoined), 1)
	assert.Len(t, env.events.OfType(events.EventPitch), 55)
	assert.Len(t, env.events.OfType(events.EventPlay), 55)
	assert.Len(t, env.events.OfType(events.EventGameCompleted), 1)

	entries, err := env.hist.List(context.Background(), g.ID)
	require.NoError(t, err)
	require.Len(t, entries, 58)
	assert.Equal(t, history.KindGameCreated, entries[0].Kind)
	assert.Equal(t, history.KindPlayerJoined, entries[1].Kind)
	assert.Equal(t, engine.HomeRun, entries[2].Result.Outcome)
	assert.Equal(t, history.KindGameCompleted, entries[57].Kind)
	assert.Equal(t, engine.ReasonRegulation, entries[57].Note)

	summary, err := env.hist.Summary(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", summary.Winner)
	assert.Len(t, summary.Innings, 18)
	assert.Equal(t, 1, summary.Innings[0].Runs)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.GamesStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.GamesCompleted.WithLabelValues(engine.ReasonRegulation)))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Plays.WithLabelValues(string(engine.HomeRun))))
	assert.Equal(t, 54.0, testutil.ToFloat64(env.metrics.Plays.WithLabelValues(string(engine.Out))))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Runs))

	alice, err := env.records.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, alice.Wins)
	assert.Equal(t, []string{g.ID}, alice.RecentGames)
	bob, err := env.records.Get("bob")
	require.NoError(t, err)
	assert.Equal(t, 1, bob.Losses)
	assert.Equal(t, 1, bob.RunsAllowed)

	md, ok := env.registry.Get(g.ID)
	require.True(t, ok)
	assert.Equal(t, engine.StatusCompleted, md.Status)
	assert.Equal(t, g.Version, md.Version)
}

func TestHub_PitchOutcome(t *testing.T) {
	env := newTestEnv(t)
	env.rng.vals = []float64{0.1}
	g := env.startGame(t)

	resp := env.hm.Do(context.Background(), g.ID, HubRequest{Type: ReqPitch, UserID: "bob", Style: string(engine.Fastballs)})
	require.NoError(t, resp.Err)
	// Control 0 never throws strikes; 0.1 falls in the ball band.
	assert.Equal(t, engine.PitchBall, resp.PitchOutcome)
	assert.Equal(t, engine.ActionPitch, resp.State.LastAction.Type)
}

func TestHub_Rejections(t *testing.T) {
	env := newTestEnv(t)
	g := env.startGame(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  HubRequest
		want error
	}{
		{"batting side pitches", HubRequest{Type: ReqPitch, UserID: "alice", Style: string(engine.Fastballs)}, engine.ErrNotYourTurn},
		{"bat before pitch", HubRequest{Type: ReqBat, UserID: "alice", Style: string(engine.PowerHitter)}, engine.ErrNoPitchRecorded},
		{"bad style", HubRequest{Type: ReqPitch, UserID: "bob", Style: "Knuckleball"}, engine.ErrInvalidStyle},
		{"join started game", HubRequest{Type: ReqJoin, UserID: "carol", Deck: testDeck("b")}, engine.ErrGameNotJoinable},
		{"outsider forfeits", HubRequest{Type: ReqForfeit, UserID: "carol"}, engine.ErrNotParticipant},
		{"unknown pitcher", HubRequest{Type: ReqChangePitcher, UserID: "bob", PitcherID: "nobody"}, engine.ErrPitcherUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.hm.Do(ctx, g.ID, tc.req)
			assert.ErrorIs(t, resp.Err, tc.want)
		})
	}

	after := env.hm.Do(ctx, g.ID, HubRequest{Type: ReqLoad})
	require.NoError(t, after.Err)
	assert.Equal(t, g.Version, after.State.Version, "rejected actions must not commit")
}

func TestHub_ChangePitcher(t *testing.T) {
	env := newTestEnv(t)
	g := env.startGame(t)

	resp := env.hm.Do(context.Background(), g.ID, HubRequest{Type: ReqChangePitcher, UserID: "bob", PitcherID: "b-p3"})
	require.NoError(t, resp.Err)
	require.NotNil(t, resp.Change)
	assert.True(t, resp.Change.Success)
	assert.Equal(t, "b-p3", resp.Change.NewPitcherID)
	assert.Equal(t, "b-p3", resp.Change.ActivePitcherID)
	assert.Equal(t, []string{"b-p1"}, resp.State.Team2.Lineup.UsedPitchers)

	// The retired pitcher cannot come back.
	resp = env.hm.Do(context.Background(), g.ID, HubRequest{Type: ReqChangePitcher, UserID: "bob", PitcherID: "b-p1"})
	assert.ErrorIs(t, resp.Err, engine.ErrPitcherUnavailable)
	require.NotNil(t, resp.Change)
	assert.False(t, resp.Change.Success)

	env.hm.Close()
	assert.Len(t, env.events.OfType(events.EventPitcherChange), 1)
	entries, err := env.hist.List(context.Background(), g.ID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, history.KindPitcherChange, last.Kind)
	assert.Equal(t, "b-p3", last.Note)
}

func TestHub_Forfeit(t *testing.T) {
	env := newTestEnv(t)
	g := env.startGame(t)

	resp := env.hm.Do(context.Background(), g.ID, HubRequest{Type: ReqForfeit, UserID: "alice"})
	require.NoError(t, resp.Err)
	assert.Equal(t, engine.StatusCompleted, resp.State.Status)
	assert.Equal(t, engine.ReasonForfeit, resp.State.CompletionReason)
	assert.Equal(t, "bob", resp.State.Winner)

	resp = env.hm.Do(context.Background(), g.ID, HubRequest{Type: ReqForfeit, UserID: "bob"})
	assert.ErrorIs(t, resp.Err, engine.ErrGameNotActive)

	alice, err := env.records.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, alice.Forfeits)
	bob, err := env.records.Get("bob")
	require.NoError(t, err)
	assert.Equal(t, 1, bob.ForfeitWins)

	_, err = env.hist.Summary(context.Background(), g.ID)
	assert.NoError(t, err)
}

func TestHub_ConflictReloads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	g, err := env.hm.CreateGame(ctx, "alice", testDeck("a"))
	require.NoError(t, err)

	// The hub caches version 1.
	resp := env.hm.Do(ctx, g.ID, HubRequest{Type: ReqLoad})
	require.NoError(t, resp.Err)
	require.Equal(t, int64(1), resp.State.Version)

	// Another writer moves the game to version 2.
	_, err = env.games.Commit(g, 1)
	require.NoError(t, err)

	join := HubRequest{Type: ReqJoin, UserID: "bob", Deck: testDeck("b")}
	resp = env.hm.Do(ctx, g.ID, join)
	assert.ErrorIs(t, resp.Err, ErrConflict)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Conflicts))

	resp = env.hm.Do(ctx, g.ID, join)
	require.NoError(t, resp.Err)
	assert.Equal(t, int64(3), resp.State.Version)
}

func TestHub_Busy(t *testing.T) {
	env := newTestEnv(t, func(c *HubConfig) { c.QueueSize = 1 })
	g, err := env.hm.CreateGame(context.Background(), "alice", testDeck("a"))
	require.NoError(t, err)

	// A hub that is never started keeps its queue full.
	hub := newHub(g.ID, env.hm)
	env.hm.mu.Lock()
	env.hm.hubs[g.ID] = hub
	env.hm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	resp := env.hm.Do(ctx, g.ID, HubRequest{Type: ReqLoad})
	assert.ErrorIs(t, resp.Err, context.DeadlineExceeded)

	resp = env.hm.Do(context.Background(), g.ID, HubRequest{Type: ReqLoad})
	assert.ErrorIs(t, resp.Err, ErrHubBusy)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HubBusy))
}

func TestHub_Serializes(t *testing.T) {
	env := newTestEnv(t)
	g := env.startGame(t)

	// A pending pitch may be replaced, so every concurrent pitch commits,
	// each on top of the previous one.
	const n = 8
	var wg sync.WaitGroup
	versions := make(chan int64, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := env.hm.Do(context.Background(), g.ID, HubRequest{Type: ReqPitch, UserID: "bob", Style: string(engine.Changeups)})
			if assert.NoError(t, resp.Err) {
				versions <- resp.State.Version
			}
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[int64]bool)
	for v := range versions {
		seen[v] = true
	}
	assert.Len(t, seen, n)
	for v := g.Version + 1; v <= g.Version+n; v++ {
		assert.True(t, seen[v], "missing version %d", v)
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.Conflicts))
}

func TestHubManager_RetiresIdleHubs(t *testing.T) {
	env := newTestEnv(t, func(c *HubConfig) { c.IdleTimeout = 10 * time.Millisecond })
	g, err := env.hm.CreateGame(context.Background(), "alice", testDeck("a"))
	require.NoError(t, err)

	resp := env.hm.Do(context.Background(), g.ID, HubRequest{Type: ReqLoad})
	require.NoError(t, resp.Err)
	assert.Equal(t, 1, env.hm.ActiveHubs())

	assert.Eventually(t, func() bool { return env.hm.ActiveHubs() == 0 }, time.Second, 5*time.Millisecond)

	resp = env.hm.Do(context.Background(), g.ID, HubRequest{Type: ReqLoad})
	require.NoError(t, resp.Err)
	assert.Equal(t, g.ID, resp.State.ID)
}

func TestHubManager_CreateGame(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.hm.CreateGame(ctx, "alice", testDeck("zz"))
	assert.ErrorIs(t, err, engine.ErrUnknownPlayer)

	bad := testDeck("a")
	bad.Pitchers = bad.Pitchers[:4]
	_, err = env.hm.CreateGame(ctx, "alice", bad)
	assert.ErrorIs(t, err, engine.ErrInvalidDeck)

	g, err := env.hm.CreateGame(ctx, "alice", testDeck("a"))
	require.NoError(t, err)
	assert.Equal(t, engine.StatusWaiting, g.Status)
	assert.Equal(t, int64(1), g.Version)
	assert.True(t, isValidUUID(g.ID))

	md, ok := env.registry.Get(g.ID)
	require.True(t, ok)
	assert.Equal(t, "alice", md.Team1UserID)

	resp := env.hm.Do(ctx, g.ID, HubRequest{Type: ReqJoin, UserID: "alice", Deck: testDeck("b")})
	assert.ErrorIs(t, resp.Err, engine.ErrCannotJoinOwnGame)

	resp = env.hm.Do(ctx, g.ID, HubRequest{Type: ReqJoin, UserID: "bob", Deck: testDeck("zz")})
	assert.ErrorIs(t, resp.Err, engine.ErrUnknownPlayer)
}

func TestHubManager_NotFound(t *testing.T) {
	env := newTestEnv(t)
	resp := env.hm.Do(context.Background(), "00000000-0000-4000-8000-000000000000", HubRequest{Type: ReqLoad})
	assert.ErrorIs(t, resp.Err, ErrNotFound)
}
