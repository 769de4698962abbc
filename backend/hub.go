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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/ttbt-io/batterup/backend/engine"
	"github.com/ttbt-io/batterup/backend/events"
	"github.com/ttbt-io/batterup/backend/history"
	"github.com/ttbt-io/batterup/backend/metrics"
)

// ErrHubBusy is returned when a game's request queue is full.
var ErrHubBusy = errors.New("game hub busy")

// HubRequest types
const (
	ReqLoad          = "LOAD"
	ReqJoin          = "JOIN"
	ReqPitch         = "PITCH"
	ReqBat           = "BAT"
	ReqChangePitcher = "CHANGE_PITCHER"
	ReqForfeit       = "FORFEIT"
	ReqWSJoin        = "WS_JOIN"
)

// HubRequest is one action for a game hub.
type HubRequest struct {
	Type      string
	UserID    string
	Style     string
	PitcherID string
	Deck      engine.Deck
	Client    *wsClient        // ReqWSJoin
	Reply     chan HubResponse // buffered, capacity 1
}

// HubResponse is the hub's answer to a HubRequest.
type HubResponse struct {
	State        engine.GameState
	Result       *engine.PlayResult
	PitchOutcome engine.PitchOutcome
	Change       *engine.PitcherChangeOutcome
	Err          error
}

// HubConfig wires a HubManager to its collaborators.
type HubConfig struct {
	Games    *GameStore
	Cards    *CardStore
	History  *history.Store
	Events   events.Publisher
	Metrics  metrics.Metrics
	Registry *Registry
	Records  *UserRecordStore

	RNG         engine.RandomSource
	Now         func() time.Time
	TurnTimeout time.Duration
	QueueSize   int
	IdleTimeout time.Duration
}

// HubManager owns one Hub per active game and creates games.
type HubManager struct {
	HubConfig

	mu   sync.Mutex
	hubs map[string]*Hub

	// in-flight event publishes
	publishing sync.WaitGroup
}

// NewHubManager fills unset optional fields with defaults.
func NewHubManager(cfg HubConfig) *HubManager {
	if cfg.Events == nil {
		cfg.Events = events.NoOp{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoOp{}
	}
	if cfg.RNG == nil {
		cfg.RNG = engine.DefaultRNG()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = hubIdleTimeout
	}
	return &HubManager{
		HubConfig: cfg,
		hubs:      make(map[string]*Hub),
	}
}

// GetHub returns the running hub of a game, starting one if needed.
func (hm *HubManager) GetHub(gameID string) *Hub {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if hub, ok := hm.hubs[gameID]; ok {
		return hub
	}
	hub := newHub(gameID, hm)
	hm.hubs[gameID] = hub
	hm.Metrics.SetActiveHubs(len(hm.hubs))
	go hub.run()
	return hub
}

// retire removes an idle hub. It returns false if a request slipped in.
func (hm *HubManager) retire(h *Hub) bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if len(h.requests) > 0 {
		return false
	}
	if hm.hubs[h.gameID] == h {
		delete(hm.hubs, h.gameID)
	}
	close(h.done)
	hm.Metrics.SetActiveHubs(len(hm.hubs))
	return true
}

// ActiveHubs returns the number of running hubs.
func (hm *HubManager) ActiveHubs() int {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return len(hm.hubs)
}

// Do sends req to the game's hub and waits for the answer. It returns
// ErrHubBusy without waiting when the hub's queue is full.
func (hm *HubManager) Do(ctx context.Context, gameID string, req HubRequest) HubResponse {
	req.Reply = make(chan HubResponse, 1)
	for range 3 {
		hub := hm.GetHub(gameID)
		select {
		case <-hub.done:
			continue
		default:
		}
		select {
		case hub.requests <- req:
		default:
			hm.Metrics.IncHubBusy()
			return HubResponse{Err: ErrHubBusy}
		}
		select {
		case resp := <-req.Reply:
			return resp
		case <-hub.done:
			// The hub retired right after the send; the reply may still be there.
			select {
			case resp := <-req.Reply:
				return resp
			default:
			}
		case <-ctx.Done():
			return HubResponse{Err: ctx.Err()}
		}
	}
	return HubResponse{Err: ErrHubBusy}
}

// CreateGame starts a new game waiting for an opponent.
func (hm *HubManager) CreateGame(ctx context.Context, userID string, deck engine.Deck) (engine.GameState, error) {
	if missing := hm.Cards.Missing(deck); len(missing) > 0 {
		return engine.GameState{}, fmt.Errorf("%w: no card for %v", engine.ErrUnknownPlayer, missing)
	}
	g, err := engine.NewGame(uuid.NewString(), userID, deck, hm.Now())
	if err != nil {
		return engine.GameState{}, err
	}
	committed, err := hm.Games.Create(g)
	if err != nil {
		return engine.GameState{}, err
	}
	hm.Registry.UpdateGame(metadataOf(committed))
	hm.record(ctx, history.KindGameCreated, committed, committed, userID, nil, "")
	hm.publish(events.NewEvent(events.EventGameCreated, committed, userID, hm.Now()))
	log.Info("game created", "gameId", committed.ID, "user", maskUserID(userID))
	return committed, nil
}

// Close waits for in-flight event publishes.
func (hm *HubManager) Close() {
	hm.publishing.Wait()
}

func (hm *HubManager) record(ctx context.Context, kind history.Kind, prev, committed engine.GameState, actor string, result *engine.PlayResult, note string) {
	if hm.History == nil {
		return
	}
	e := history.EntryFor(kind, prev, committed, actor, hm.Now())
	e.Result = result
	e.Note = note
	if err := hm.History.Append(ctx, e); err != nil {
		log.Error("history append failed", "gameId", committed.ID, "kind", kind, "err", err)
	}
}

// publish delivers ev in the background. Failures are logged and counted;
// they never undo a committed transition.
func (hm *HubManager) publish(ev events.PlayEvent) {
	hm.publishing.Add(1)
	go func() {
		defer hm.publishing.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hm.Events.Publish(ctx, ev); err != nil {
			hm.Metrics.IncPublishFailures()
			log.Error("event publish failed", "gameId", ev.GameID, "type", ev.Type, "err", err)
		}
	}()
}

// Hub serializes every action on one game.
type Hub struct {
	gameID string
	hm     *HubManager

	// connected clients; true once the client joined as a participant
	clients    map[*wsClient]bool
	requests   chan HubRequest
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}

	// committed state; nil until loaded
	game *engine.GameState
}

func newHub(gameID string, hm *HubManager) *Hub {
	return &Hub{
		gameID:     gameID,
		hm:         hm,
		clients:    make(map[*wsClient]bool),
		requests:   make(chan HubRequest, hm.QueueSize),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

func (h *Hub) run() {
	idleTimer := time.NewTicker(h.hm.IdleTimeout)
	defer idleTimer.Stop()

	for {
		select {
		case client := <-h.register:
			h.clients[client] = false
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
		case req := <-h.requests:
			h.handle(req)
		case <-idleTimer.C:
			if len(h.clients) == 0 && h.hm.retire(h) {
				return
			}
		}
	}
}

func (h *Hub) handle(req HubRequest) {
	if err := h.ensureLoaded(); err != nil {
		if req.Client != nil {
			req.Client.sendJSON(Message{Type: MsgTypeError, GameID: h.gameID, Error: "game not available"})
		}
		h.reply(req, HubResponse{Err: err})
		return
	}

	start := time.Now()
	var resp HubResponse
	switch req.Type {
	case ReqLoad:
		resp = HubResponse{State: h.game.Clone()}
	case ReqWSJoin:
		h.handleWSJoin(req.Client)
		return
	case ReqJoin:
		resp = h.join(req)
	case ReqPitch:
		resp = h.pitch(req)
	case ReqBat:
		resp = h.bat(req)
	case ReqChangePitcher:
		resp = h.changePitcher(req)
	case ReqForfeit:
		resp = h.forfeit(req)
	default:
		resp = HubResponse{Err: fmt.Errorf("unknown request type %q", req.Type)}
	}
	if req.Type != ReqLoad {
		h.hm.Metrics.ObserveActionDuration(req.Type, time.Since(start).Seconds())
	}
	if resp.Err != nil && engine.IsInvariant(resp.Err) {
		log.Error("engine invariant violated", "gameId", h.gameID, "request", req.Type, "err", resp.Err)
	}
	h.reply(req, resp)
}

func (h *Hub) reply(req HubRequest, resp HubResponse) {
	if req.Reply != nil {
		req.Reply <- resp
	}
}

func (h *Hub) ensureLoaded() error {
	if h.game != nil {
		return nil
	}
	g, err := h.hm.Games.Load(h.gameID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Error("hub: error loading game", "gameId", h.gameID, "err", err)
		}
		return err
	}
	h.game = &g
	return nil
}

// commit stores next on top of the hub's current version. On a conflict the
// cached state is dropped so the next request reloads it.
func (h *Hub) commit(next engine.GameState) (engine.GameState, error) {
	committed, err := h.hm.Games.Commit(next, h.game.Version)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			h.hm.Metrics.IncConflicts()
			h.game = nil
		}
		return engine.GameState{}, err
	}
	h.game = &committed
	h.hm.Registry.UpdateGame(metadataOf(committed))
	return committed, nil
}

func (h *Hub) join(req HubRequest) HubResponse {
	prev := *h.game
	next, err := engine.ApplyJoin(prev, req.UserID, req.Deck, h.hm.Now(), h.hm.TurnTimeout)
	if err != nil {
		return HubResponse{Err: err}
	}
	if missing := h.hm.Cards.Missing(req.Deck); len(missing) > 0 {
		return HubResponse{Err: fmt.Errorf("%w: no card for %v", engine.ErrUnknownPlayer, missing)}
	}
	committed, err := h.commit(next)
	if err != nil {
		return HubResponse{Err: err}
	}
	h.hm.Metrics.IncGamesStarted()
	h.hm.record(context.Background(), history.KindPlayerJoined, prev, committed, req.UserID, nil, "")
	h.hm.publish(events.NewEvent(events.EventPlayerJoined, committed, req.UserID, h.hm.Now()))
	h.broadcast(Message{Type: MsgTypeState, GameID: h.gameID, State: &committed})
	log.Info("player joined", "gameId", h.gameID, "user", maskUserID(req.UserID))
	return HubResponse{State: committed}
}

func (h *Hub) pitch(req HubRequest) HubResponse {
	style := engine.PitchingStyle(req.Style)
	next, err := engine.ApplyPitch(*h.game, style, req.UserID, h.hm.Now(), h.hm.TurnTimeout)
	if err != nil {
		return HubResponse{Err: err}
	}
	committed, err := h.commit(next)
	if err != nil {
		return HubResponse{Err: err}
	}
	outcome := h.pitchOutcome(committed, style)
	ev := events.NewEvent(events.EventPitch, committed, req.UserID, h.hm.Now())
	ev.PitchOutcome = outcome
	h.hm.publish(ev)
	h.broadcast(Message{Type: MsgTypePitch, GameID: h.gameID, State: &committed, PitchOutcome: outcome})
	return HubResponse{State: committed, PitchOutcome: outcome}
}

// pitchOutcome is the ball/strike colour of a pitch. It never affects the
// at-bat; an empty value is returned when the pitcher card is unavailable.
func (h *Hub) pitchOutcome(g engine.GameState, style engine.PitchingStyle) engine.PitchOutcome {
	team := g.PitchingTeam()
	if team == nil {
		return ""
	}
	id, err := team.Lineup.CurrentPitcher()
	if err != nil {
		return ""
	}
	pitcher, err := h.hm.Cards.Abilities(id)
	if err != nil {
		log.Warn("pitch outcome: pitcher card unavailable", "gameId", g.ID, "pitcher", id, "err", err)
		return ""
	}
	return engine.ResolvePitch(h.hm.RNG, style, pitcher)
}

func (h *Hub) bat(req HubRequest) HubResponse {
	prev := *h.game
	next, result, err := engine.ApplyBat(prev, engine.HittingStyle(req.Style), req.UserID,
		h.hm.RNG, h.hm.Cards, h.hm.Now(), h.hm.TurnTimeout)
	if err != nil {
		return HubResponse{Err: err}
	}
	committed, err := h.commit(next)
	if err != nil {
		return HubResponse{Err: err}
	}
	h.hm.Metrics.IncPlays(string(result.Outcome))
	h.hm.Metrics.IncRuns(result.RunsScored)
	h.hm.record(context.Background(), history.KindPlay, prev, committed, req.UserID, &result, "")

	ev := events.NewEvent(events.EventPlay, committed, req.UserID, h.hm.Now())
	ev.Result = &result
	h.hm.publish(ev)
	h.broadcast(Message{Type: MsgTypePlay, GameID: h.gameID, State: &committed, Result: &result})

	if committed.Status == engine.StatusCompleted {
		h.finish(prev, committed, req.UserID)
	}
	return HubResponse{State: committed, Result: &result}
}

func (h *Hub) changePitcher(req HubRequest) HubResponse {
	prev := *h.game
	next, change, err := engine.ApplyPitcherChange(prev, req.PitcherID, req.UserID, h.hm.Now())
	if err != nil {
		return HubResponse{Change: &change, Err: err}
	}
	committed, err := h.commit(next)
	if err != nil {
		return HubResponse{Err: err}
	}
	h.hm.record(context.Background(), history.KindPitcherChange, prev, committed, req.UserID, nil, change.ActivePitcherID)
	h.hm.publish(events.NewEvent(events.EventPitcherChange, committed, req.UserID, h.hm.Now()))
	h.broadcast(Message{Type: MsgTypeState, GameID: h.gameID, State: &committed})
	return HubResponse{State: committed, Change: &change}
}

func (h *Hub) forfeit(req HubRequest) HubResponse {
	prev := *h.game
	next, err := engine.ApplyForfeit(prev, req.UserID, h.hm.Now())
	if err != nil {
		return HubResponse{Err: err}
	}
	committed, err := h.commit(next)
	if err != nil {
		return HubResponse{Err: err}
	}
	h.broadcast(Message{Type: MsgTypeState, GameID: h.gameID, State: &committed})
	h.finish(prev, committed, req.UserID)
	return HubResponse{State: committed}
}

// finish records the end of a game and stores its summary.
func (h *Hub) finish(prev, committed engine.GameState, actor string) {
	ctx := context.Background()
	h.hm.Metrics.IncGamesCompleted(committed.CompletionReason)
	h.hm.record(ctx, history.KindGameCompleted, prev, committed, actor, nil, committed.CompletionReason)
	h.hm.publish(events.NewEvent(events.EventGameCompleted, committed, actor, h.hm.Now()))
	log.Info("game completed", "gameId", committed.ID, "reason", committed.CompletionReason, "winner", maskUserID(committed.Winner))

	if h.hm.Records != nil {
		if err := h.hm.Records.RecordGame(committed); err != nil {
			log.Error("user record update failed", "gameId", committed.ID, "err", err)
		}
	}
	if h.hm.History == nil {
		return
	}
	entries, err := h.hm.History.List(ctx, committed.ID)
	if err != nil {
		log.Error("history list failed", "gameId", committed.ID, "err", err)
		return
	}
	if err := h.hm.History.SaveSummary(ctx, history.BuildGameHistory(committed, entries)); err != nil {
		log.Error("history summary failed", "gameId", committed.ID, "err", err)
	}
}

func (h *Hub) broadcast(msg Message) {
	for client, joined := range h.clients {
		if !joined {
			continue
		}
		if !client.sendJSON(msg) {
			// Too slow to keep up: drop it.
			client.close()
			delete(h.clients, client)
		}
	}
}
