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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/ttbt-io/batterup/backend/engine"
)

// uuidRegex is a regex for standard UUIDs (8-4-4-4-12 hex digits)
var uuidRegex = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$`)

// playerIDRegex bounds the characters of a player-card id, which is also
// used as a storage file name.
var playerIDRegex = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// isValidUUID checks if the string is a valid UUID.
func isValidUUID(id string) bool {
	return uuidRegex.MatchString(id)
}

func isValidPlayerID(id string) bool {
	return playerIDRegex.MatchString(id)
}

// validateStringLen checks if the string length is within the limit.
func validateStringLen(s string, max int, name string) error {
	if len(s) > max {
		return fmt.Errorf("%s too long (max %d chars)", name, max)
	}
	return nil
}

// decodeBody reads a JSON request body of at most maxBodySize bytes.
// Unknown fields are rejected.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// deckRequest is the body of create and join.
type deckRequest struct {
	Deck engine.Deck `json:"deck"`
}

// validateDeck checks composition and id format before the deck reaches the
// engine. Errors wrap engine.ErrInvalidDeck.
func validateDeck(d engine.Deck) error {
	if err := d.Validate(); err != nil {
		return err
	}
	for _, id := range d.AllPlayers() {
		if !isValidPlayerID(id) {
			return fmt.Errorf("%w: invalid player id %q", engine.ErrInvalidDeck, id)
		}
	}
	return nil
}

type styleRequest struct {
	Style string `json:"style"`
}

func (s styleRequest) validate() error {
	return validateStringLen(s.Style, 32, "style")
}

type changePitcherRequest struct {
	PitcherID string `json:"pitcherId"`
}

func (c changePitcherRequest) validate() error {
	if !isValidPlayerID(c.PitcherID) {
		return fmt.Errorf("%w: invalid pitcher id %q", engine.ErrPitcherUnavailable, c.PitcherID)
	}
	return nil
}

// validateCard checks a card upload against the path it was sent to.
func validateCard(pathID string, a engine.AbilityProfile) error {
	if !isValidPlayerID(pathID) {
		return fmt.Errorf("%w: invalid player id %q", engine.ErrInvalidRating, pathID)
	}
	if a.PlayerID != "" && a.PlayerID != pathID {
		return fmt.Errorf("%w: playerId %q does not match path", engine.ErrInvalidRating, a.PlayerID)
	}
	if err := validateStringLen(a.Name, 100, "name"); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrInvalidRating, err)
	}
	return a.Validate()
}
