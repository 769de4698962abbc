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
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/ttbt-io/batterup/backend/engine"
)

const (
	wsWriteTimeout = 10 * time.Second
	// A connection with no pong for this long is dropped.
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = wsPongTimeout * 9 / 10
	wsMaxFrameSize = 4 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests from the serving host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// Message is a WebSocket frame. Clients send JOIN and PING; the server sends
// STATE, PITCH, PLAY, PONG and ERROR.
type Message struct {
	Type         string              `json:"type"`
	GameID       string              `json:"gameId,omitempty"`
	State        *engine.GameState   `json:"state,omitempty"`
	Result       *engine.PlayResult  `json:"result,omitempty"`
	PitchOutcome engine.PitchOutcome `json:"pitchOutcome,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// wsClient is one spectator connection attached to a game hub. The hub
// closes send on unregister or eviction; every send goes through sendJSON.
type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string

	mu     sync.Mutex
	send   chan Message
	closed bool
}

// listen reads client frames until the connection fails, then detaches
// from the hub.
func (c *wsClient) listen() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(wsMaxFrameSize)
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("websocket read", "user", maskUserID(c.userID), "err", err)
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *wsClient) extendReadDeadline() {
	c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
}

func (c *wsClient) dispatch(msg Message) {
	switch msg.Type {
	case MsgTypeJoin:
		select {
		case c.hub.requests <- HubRequest{Type: ReqWSJoin, UserID: c.userID, Client: c}:
		default:
			c.sendJSON(Message{Type: MsgTypeError, Error: "server busy, retry"})
		}
	case MsgTypePing:
		c.sendJSON(Message{Type: MsgTypePong})
	default:
		c.sendJSON(Message{Type: MsgTypeError, Error: "Unknown message type"})
	}
}

// deliver writes queued messages and keepalive pings until the hub closes
// the send channel or a write fails.
func (c *wsClient) deliver() {
	keepalive := time.NewTicker(wsPingInterval)
	defer func() {
		keepalive.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, open := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !open {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debug("websocket write", "user", maskUserID(c.userID), "err", err)
				return
			}
		case <-keepalive.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendJSON queues msg without blocking and reports whether it was queued.
// Messages to a closed client or one that is not keeping up are dropped.
func (c *wsClient) sendJSON(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close ends the outbound stream. Later sends are dropped.
func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// handleWSJoin subscribes a participant to the game and sends the current
// state.
func (h *Hub) handleWSJoin(c *wsClient) {
	if _, ok := h.clients[c]; c == nil || !ok {
		return
	}
	if !h.game.IsParticipant(c.userID) {
		log.Warn("forbidden websocket join", "user", maskUserID(c.userID), "gameId", h.gameID)
		c.sendJSON(Message{Type: MsgTypeError, GameID: h.gameID, Error: "Forbidden: not a participant in this game"})
		return
	}
	h.clients[c] = true
	state := h.game.Clone()
	c.sendJSON(Message{Type: MsgTypeState, GameID: h.gameID, State: &state})
}

// ServeWS upgrades the request and attaches the connection to the game's hub.
func ServeWS(hm *HubManager, w http.ResponseWriter, r *http.Request) {
	userID := getUserID(r)
	if userID == "" {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	gameID := r.URL.Query().Get("gameId")
	if !isValidUUID(gameID) {
		writeJSONError(w, http.StatusBadRequest, "Invalid gameId")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade", "err", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan Message, wsSendBuffer), userID: userID}
	for range 3 {
		hub := hm.GetHub(gameID)
		select {
		case hub.register <- client:
			client.hub = hub
		case <-hub.done:
			continue
		}
		break
	}
	if client.hub == nil {
		conn.Close()
		return
	}

	go client.deliver()
	go client.listen()
}
