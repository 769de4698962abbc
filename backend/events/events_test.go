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

package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ttbt-io/batterup/backend/engine"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func sampleEvent(t *testing.T) PlayEvent {
	t.Helper()
	g := engine.GameState{
		ID:      "g-1",
		Status:  engine.StatusInProgress,
		Inning:  3,
		Version: 17,
		Team1:   &engine.TeamState{UserID: "alice", Score: 2},
		Team2:   &engine.TeamState{UserID: "bob", Score: 1},
	}
	ev := NewEvent(EventPlay, g, "bob", time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	ev.Result = &engine.PlayResult{
		Outcome:    engine.Double,
		RunsScored: 1,
		BatterID:   "a-h1",
		PitcherID:  "b-p1",
		Advancements: []engine.RunnerAdvancement{
			{Runner: "a-h1", From: engine.BaseHome, To: engine.BaseSecond},
		},
	}
	ev.PitchOutcome = engine.PitchInPlay
	return ev
}

func TestEncodeDecode(t *testing.T) {
	ev := sampleEvent(t)
	require.NotEmpty(t, ev.ID)
	assert.Equal(t, int64(17), ev.Seq)
	assert.Equal(t, 2, ev.Summary.Team1Score)

	data, err := Encode(ev)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, EventPlay, got.Type)
	assert.True(t, ev.At.Equal(got.At))
	require.NotNil(t, got.Result)
	assert.Equal(t, engine.Double, got.Result.Outcome)
	assert.Equal(t, ev.Result.Advancements, got.Result.Advancements)
	assert.Equal(t, ev.Summary, got.Summary)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode([]byte{0xc1})
	assert.Error(t, err)
}

func TestMock(t *testing.T) {
	m := &Mock{}
	ev := sampleEvent(t)
	require.NoError(t, m.Publish(context.Background(), ev))
	created := ev
	created.Type = EventGameCreated
	require.NoError(t, m.Publish(context.Background(), created))

	assert.Len(t, m.Published(), 2)
	assert.Len(t, m.OfType(EventGameCreated), 1)

	m.PublishFunc = func(PlayEvent) error { return errors.New("down") }
	assert.Error(t, m.Publish(context.Background(), ev))
}

func TestNoOp(t *testing.T) {
	var p Publisher = NoOp{}
	assert.NoError(t, p.Publish(context.Background(), sampleEvent(t)))
	assert.NoError(t, p.Close())
}

func TestPubSubPublisher(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	_, err = client.CreateTopic(ctx, "plays")
	require.NoError(t, err)

	p := NewPubSubPublisherWithClient(client, "plays")
	ev := sampleEvent(t)
	require.NoError(t, p.Publish(ctx, ev))
	require.NoError(t, p.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "g-1", msgs[0].Attributes["gameId"])
	assert.Equal(t, "play", msgs[0].Attributes["type"])

	got, err := Decode(msgs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, engine.Double, got.Result.Outcome)
}

func TestPubSubPublisher_MissingTopic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	p := NewPubSubPublisherWithClient(client, "nope")
	defer p.Close()
	assert.Error(t, p.Publish(ctx, sampleEvent(t)))
}
