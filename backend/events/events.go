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

// Package events publishes game events to subscribers outside the server,
// such as commentary or stats pipelines.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ttbt-io/batterup/backend/engine"
	"github.com/vmihailenco/msgpack/v5"
)

// EventType names what happened in a game.
type EventType string

const (
	EventGameCreated   EventType = "game_created"
	EventPlayerJoined  EventType = "player_joined"
	EventPitch         EventType = "pitch"
	EventPlay          EventType = "play"
	EventPitcherChange EventType = "pitcher_change"
	EventGameCompleted EventType = "game_completed"
)

// PlayEvent is the message put on the wire, msgpack-encoded.
type PlayEvent struct {
	ID           string              `msgpack:"id"`
	Type         EventType           `msgpack:"type"`
	GameID       string              `msgpack:"gameId"`
	Seq          int64               `msgpack:"seq"` // committed game version
	At           time.Time           `msgpack:"at"`
	Actor        string              `msgpack:"actor,omitempty"`
	Result       *engine.PlayResult  `msgpack:"result,omitempty"`
	PitchOutcome engine.PitchOutcome `msgpack:"pitchOutcome,omitempty"`
	Summary      engine.StateSummary `msgpack:"summary"`
}

// NewEvent stamps a fresh id on an event built from the committed state.
func NewEvent(typ EventType, g engine.GameState, actor string, at time.Time) PlayEvent {
	return PlayEvent{
		ID:      uuid.NewString(),
		Type:    typ,
		GameID:  g.ID,
		Seq:     g.Version,
		At:      at.UTC(),
		Actor:   actor,
		Summary: g.Summary(),
	}
}

// Encode marshals an event for publishing.
func Encode(ev PlayEvent) ([]byte, error) {
	return msgpack.Marshal(ev)
}

// Decode is the inverse of Encode, for consumers.
func Decode(data []byte) (PlayEvent, error) {
	var ev PlayEvent
	err := msgpack.Unmarshal(data, &ev)
	return ev, err
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev PlayEvent) error
	Close() error
}

// NoOp drops every event. It is used when no Pub/Sub project is configured.
type NoOp struct{}

func (NoOp) Publish(context.Context, PlayEvent) error { return nil }
func (NoOp) Close() error { return nil }

// Mock records published events.
type Mock struct {
	mu sync.Mutex

	PublishFunc func(ev PlayEvent) error
	Events      []PlayEvent
}

func (m *Mock) Publish(_ context.Context, ev PlayEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
	if m.PublishFunc != nil {
		return m.PublishFunc(ev)
	}
	return nil
}

func (m *Mock) Close() error { return nil }

// Published returns a copy of the recorded events.
func (m *Mock) Published() []PlayEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlayEvent, len(m.Events))
	copy(out, m.Events)
	return out
}

// OfType filters the recorded events.
func (m *Mock) OfType(typ EventType) []PlayEvent {
	var out []PlayEvent
	for _, ev := range m.Published() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
