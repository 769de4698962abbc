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
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/charmbracelet/log"
)

// PubSubPublisher publishes events to a Google Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client   *pubsub.Client
	topic    *pubsub.Topic
	ownsConn bool
}

// NewPubSubPublisher dials Pub/Sub for projectID and publishes to topicID.
func NewPubSubPublisher(ctx context.Context, projectID, topicID string) (*PubSubPublisher, error) {
	c, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	p := NewPubSubPublisherWithClient(c, topicID)
	p.ownsConn = true
	return p, nil
}

// NewPubSubPublisherWithClient publishes through an existing client. Close
// does not close the client.
func NewPubSubPublisherWithClient(c *pubsub.Client, topicID string) *PubSubPublisher {
	return &PubSubPublisher{client: c, topic: c.Topic(topicID)}
}

// Publish encodes ev and blocks until the server acknowledges it.
func (p *PubSubPublisher) Publish(ctx context.Context, ev PlayEvent) error {
	data, err := Encode(ev)
	if err != nil {
		log.Error("msgpack marshal error", "err", err, "gameId", ev.GameID)
		return err
	}
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"gameId": ev.GameID,
			"type":   string(ev.Type),
		},
	})
	serverID, err := res.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", ev.Type, p.topic.ID(), err)
	}
	log.Debug("event published", "type", ev.Type, "gameId", ev.GameID, "seq", ev.Seq, "serverId", serverID)
	return nil
}

// Close flushes pending messages.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	if p.ownsConn {
		return p.client.Close()
	}
	return nil
}
