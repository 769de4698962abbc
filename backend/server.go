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
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"
	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ttbt-io/batterup/backend/engine"
	"github.com/ttbt-io/batterup/backend/events"
	"github.com/ttbt-io/batterup/backend/history"
	"github.com/ttbt-io/batterup/backend/metrics"
)

// Options represent server options.
type Options struct {
	Addr        string
	Cert        *tls.Certificate
	DataDir     string
	UseMockAuth bool
	Storage     *storage.Storage
	MasterKey   crypto.MasterKey
	Listener    net.Listener

	// Auth
	AuthCookieName string
	AuthJWKSURL    string

	// Game rules and tuning
	TurnTimeout   time.Duration
	CardCacheSize int
	HubQueueSize  int
	RNG           engine.RandomSource
	Now           func() time.Time

	// Collaborators. History is required; the others default to no-ops.
	History  *history.Store
	Events   events.Publisher
	Metrics  metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Server represents the running server instance.
type Server struct {
	httpServer *http.Server
	hubs       *HubManager
}

// Shutdown stops accepting requests, waits for pending event publishes and
// flushes user records.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.hubs.Close()
	if ferr := s.hubs.Records.FlushAll(); ferr != nil {
		log.Error("flushing user records", "err", ferr)
	}
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	return nil
}

// StartServer starts the web server and registers the API handlers.
func StartServer(opts Options) (*Server, error) {
	hubs, handler, err := NewServerHandler(opts)
	if err != nil {
		return nil, err
	}

	httpServer := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if opts.Cert != nil {
		httpServer.TLSConfig = &tls.Config{Certificates: []tls.Certificate{*opts.Cert}}
	}

	go func() {
		var err error
		switch {
		case opts.Listener != nil && httpServer.TLSConfig != nil:
			log.Info("starting HTTPS server", "addr", opts.Listener.Addr())
			err = httpServer.ServeTLS(opts.Listener, "", "")
		case opts.Listener != nil:
			log.Info("starting HTTP server", "addr", opts.Listener.Addr())
			err = httpServer.Serve(opts.Listener)
		case httpServer.TLSConfig != nil:
			log.Info("starting HTTPS server", "addr", opts.Addr)
			err = httpServer.ListenAndServeTLS("", "")
		default:
			log.Info("starting HTTP server", "addr", opts.Addr)
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "err", err)
		}
	}()

	return &Server{httpServer: httpServer, hubs: hubs}, nil
}

// NewServerHandler creates and configures the HTTP handler for the server.
func NewServerHandler(opts Options) (*HubManager, http.Handler, error) {
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	if opts.Storage == nil {
		opts.Storage = storage.New(opts.DataDir, nil)
	}
	if opts.History == nil {
		return nil, nil, errors.New("history store is required")
	}
	if opts.CardCacheSize <= 0 {
		opts.CardCacheSize = 4096
	}
	if opts.AuthCookieName == "" {
		opts.AuthCookieName = "batterup_auth"
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	games := NewGameStore(opts.DataDir, opts.Storage)
	cards, err := NewCardStore(opts.Storage, opts.CardCacheSize)
	if err != nil {
		return nil, nil, err
	}
	registry := NewRegistry(games)
	records := NewUserRecordStore(opts.DataDir, opts.Storage, opts.MasterKey, opts.CardCacheSize)
	hubs := NewHubManager(HubConfig{
		Games:       games,
		Cards:       cards,
		History:     opts.History,
		Events:      opts.Events,
		Metrics:     opts.Metrics,
		Registry:    registry,
		Records:     records,
		RNG:         opts.RNG,
		Now:         opts.Now,
		TurnTimeout: opts.TurnTimeout,
		QueueSize:   opts.HubQueueSize,
	})
	api := &apiHandler{hubs: hubs, cards: cards, registry: registry, records: records, history: opts.History}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/games", requireUser(api.createGame))
	mux.HandleFunc("GET /api/games", requireUser(api.listGames))
	mux.HandleFunc("GET /api/games/{id}", requireUser(api.getGame))
	mux.HandleFunc("GET /api/games/{id}/history", requireUser(api.getHistory))
	mux.HandleFunc("POST /api/games/{id}/join", requireUser(api.join))
	mux.HandleFunc("POST /api/games/{id}/pitch", requireUser(api.pitch))
	mux.HandleFunc("POST /api/games/{id}/bat", requireUser(api.bat))
	mux.HandleFunc("POST /api/games/{id}/change-pitcher", requireUser(api.changePitcher))
	mux.HandleFunc("POST /api/games/{id}/forfeit", requireUser(api.forfeit))
	mux.HandleFunc("PUT /api/cards/{playerId}", requireUser(api.putCard))
	mux.HandleFunc("GET /api/cards/{playerId}", requireUser(api.getCard))
	mux.HandleFunc("GET /api/users/me/record", requireUser(api.getRecord))
	mux.HandleFunc("GET /api/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hubs, w, r)
	})
	mux.Handle("GET /metrics", metrics.NewMetricsHandler(opts.Gatherer))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"games":  registry.Counts(),
			"hubs":   hubs.ActiveHubs(),
		})
	})

	handler := http.Handler(mux)
	if opts.UseMockAuth {
		handler = mockAuthMiddleware(handler)
	} else {
		handler = jwtAuthMiddleware(opts.AuthJWKSURL, opts.AuthCookieName, handler)
	}
	handler = loggingMiddleware(handler)
	handler = securityMiddleware(handler)
	handler = cacheControlMiddleware(handler)
	return hubs, handler, nil
}

type apiHandler struct {
	hubs     *HubManager
	cards    *CardStore
	registry *Registry
	records  *UserRecordStore
	history  *history.Store
}

// gameID returns the validated {id} path value. Malformed ids cannot name a
// game, so they are reported as not found.
func gameID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !isValidUUID(id) {
		writeJSONError(w, http.StatusNotFound, "game not found")
		return "", false
	}
	return id, true
}

func (a *apiHandler) createGame(w http.ResponseWriter, r *http.Request) {
	var req deckRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateDeck(req.Deck); err != nil {
		writeError(w, err)
		return
	}
	g, err := a.hubs.CreateGame(r.Context(), getUserID(r), req.Deck)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (a *apiHandler) join(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	var req deckRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateDeck(req.Deck); err != nil {
		writeError(w, err)
		return
	}
	resp := a.hubs.Do(r.Context(), id, HubRequest{Type: ReqJoin, UserID: getUserID(r), Deck: req.Deck})
	if resp.Err != nil {
		writeError(w, resp.Err)
		return
	}
	writeJSON(w, http.StatusOK, resp.State)
}

func (a *apiHandler) pitch(w http.ResponseWriter, r *http.Request) {
	a.styleAction(w, r, ReqPitch, func(resp HubResponse) any { return resp.State })
}

func (a *apiHandler) bat(w http.ResponseWriter, r *http.Request) {
	a.styleAction(w, r, ReqBat, func(resp HubResponse) any {
		return map[string]any{"gameState": resp.State, "result": resp.Result}
	})
}

func (a *apiHandler) styleAction(w http.ResponseWriter, r *http.Request, reqType string, body func(HubResponse) any) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	var req styleRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := a.hubs.Do(r.Context(), id, HubRequest{Type: reqType, UserID: getUserID(r), Style: req.Style})
	if resp.Err != nil {
		writeError(w, resp.Err)
		return
	}
	writeJSON(w, http.StatusOK, body(resp))
}

func (a *apiHandler) changePitcher(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	var req changePitcherRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}
	resp := a.hubs.Do(r.Context(), id, HubRequest{Type: ReqChangePitcher, UserID: getUserID(r), PitcherID: req.PitcherID})
	if resp.Err != nil {
		writeError(w, resp.Err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":         resp.Change.Message,
		"newPitcherId":    resp.Change.NewPitcherID,
		"activePitcherId": resp.Change.ActivePitcherID,
	})
}

func (a *apiHandler) forfeit(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	resp := a.hubs.Do(r.Context(), id, HubRequest{Type: ReqForfeit, UserID: getUserID(r)})
	if resp.Err != nil {
		writeError(w, resp.Err)
		return
	}
	writeJSON(w, http.StatusOK, resp.State)
}

// loadForParticipant loads a game and checks the caller plays in it.
func (a *apiHandler) loadForParticipant(w http.ResponseWriter, r *http.Request) (engine.GameState, bool) {
	id, ok := gameID(w, r)
	if !ok {
		return engine.GameState{}, false
	}
	resp := a.hubs.Do(r.Context(), id, HubRequest{Type: ReqLoad})
	if resp.Err != nil {
		writeError(w, resp.Err)
		return engine.GameState{}, false
	}
	if !resp.State.IsParticipant(getUserID(r)) {
		writeError(w, engine.ErrNotParticipant)
		return engine.GameState{}, false
	}
	return resp.State, true
}

func (a *apiHandler) getGame(w http.ResponseWriter, r *http.Request) {
	g, ok := a.loadForParticipant(w, r)
	if !ok {
		return
	}
	entries, err := a.history.List(r.Context(), g.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": g, "history": entries})
}

func (a *apiHandler) getHistory(w http.ResponseWriter, r *http.Request) {
	g, ok := a.loadForParticipant(w, r)
	if !ok {
		return
	}
	h, err := a.history.Summary(r.Context(), g.ID)
	if errors.Is(err, history.ErrNotFound) {
		var entries []history.Entry
		entries, err = a.history.List(r.Context(), g.ID)
		h = history.BuildGameHistory(g, entries)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": h, "lineScore": h.LineScore()})
}

func (a *apiHandler) listGames(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		q = defaultLobby
	}
	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = min(l, maxLobbyLimit)
	}
	games := a.registry.ListGames(getUserID(r), q, limit)
	if games == nil {
		games = []GameMetadata{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": games})
}

func (a *apiHandler) putCard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("playerId")
	var card engine.AbilityProfile
	if err := decodeBody(r, &card); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateCard(id, card); err != nil {
		writeError(w, err)
		return
	}
	card.PlayerID = id
	if err := a.cards.Put(card); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (a *apiHandler) getCard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("playerId")
	if !isValidPlayerID(id) {
		writeJSONError(w, http.StatusNotFound, "card not found")
		return
	}
	card, err := a.cards.Abilities(id)
	if errors.Is(err, engine.ErrUnknownPlayer) {
		writeJSONError(w, http.StatusNotFound, "card not found")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (a *apiHandler) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := a.records.Get(getUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("encoding response", "err", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func hubBusyResponse(w http.ResponseWriter) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterHubBusy))
	writeJSONError(w, http.StatusTooManyRequests, "Too Many Requests: game is busy")
}

// statusFor maps an error to its HTTP status. Invariant violations and
// unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrHubBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, engine.ErrActionTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, engine.ErrNotYourTurn), errors.Is(err, engine.ErrNotParticipant):
		return http.StatusForbidden
	case engine.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError writes err with the status from statusFor. Server-side
// failures get a generic message.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusTooManyRequests:
		hubBusyResponse(w)
	case http.StatusConflict:
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterConflict))
		writeJSONError(w, status, err.Error())
	case http.StatusInternalServerError:
		log.Error("internal error", "err", err)
		writeJSONError(w, status, "internal server error")
	case http.StatusServiceUnavailable:
		writeJSONError(w, status, "request cancelled")
	default:
		writeJSONError(w, status, err.Error())
	}
}

// cacheControlMiddleware marks every API response as uncacheable.
func cacheControlMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "private, no-cache, no-store")
		next.ServeHTTP(w, r)
	})
}

// securityMiddleware adds HTTP security headers to responses.
func securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging. It stays
// hijackable so WebSocket upgrades pass through.
type statusRecorder struct {
	http.ResponseWriter
	status int
	userID string
}

type recorderContextKey struct{}

// recorderKey holds the request's *statusRecorder.
var recorderKey recorderContextKey

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// loggingMiddleware logs every request with its status and duration.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), recorderKey, rec)))
		log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"user", maskUserID(rec.userID))
	})
}
