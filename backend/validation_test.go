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
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ttbt-io/batterup/backend/engine"
)

func TestIsValidUUID(t *testing.T) {
	assert.True(t, isValidUUID(testGameID))
	assert.True(t, isValidUUID(strings.ToUpper(testGameID)))
	assert.False(t, isValidUUID(""))
	assert.False(t, isValidUUID("11111111-1111-4111-8111-11111111111"))
	assert.False(t, isValidUUID("../../etc/passwd"))
}

func TestIsValidPlayerID(t *testing.T) {
	for _, id := range []string{"a", "ace-1", "Babe_Ruth.1927"} {
		assert.True(t, isValidPlayerID(id), id)
	}
	for _, id := range []string{"", "a/b", "..%2f", "has space", strings.Repeat("x", 65)} {
		assert.False(t, isValidPlayerID(id), id)
	}
}

func TestDecodeBody(t *testing.T) {
	var req deckRequest
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"deck":{"pitchers":["p1"]}}`))
	require.NoError(t, decodeBody(r, &req))
	assert.Equal(t, []string{"p1"}, req.Deck.Pitchers)

	r = httptest.NewRequest("POST", "/", strings.NewReader(`{"deck":{},"cheat":true}`))
	assert.ErrorContains(t, decodeBody(r, &req), "unknown field")

	r = httptest.NewRequest("POST", "/", strings.NewReader(`{"style":"`+strings.Repeat("x", maxBodySize)+`"}`))
	assert.Error(t, decodeBody(r, &styleRequest{}))
}

func TestValidateDeck(t *testing.T) {
	assert.NoError(t, validateDeck(testDeck("a")))

	short := testDeck("a")
	short.Hitters = short.Hitters[:3]
	assert.ErrorIs(t, validateDeck(short), engine.ErrInvalidDeck)

	bad := testDeck("a")
	bad.Catchers = []string{"../escape"}
	assert.ErrorIs(t, validateDeck(bad), engine.ErrInvalidDeck)
}

func TestRequestValidation(t *testing.T) {
	assert.NoError(t, styleRequest{Style: string(engine.BreakingBalls)}.validate())
	assert.Error(t, styleRequest{Style: strings.Repeat("x", 33)}.validate())

	assert.NoError(t, changePitcherRequest{PitcherID: "b-p2"}.validate())
	assert.ErrorIs(t, changePitcherRequest{}.validate(), engine.ErrPitcherUnavailable)
}

func TestValidateCard(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		card    engine.AbilityProfile
		wantErr bool
	}{
		{"ok", "ace", testCard("ace"), false},
		{"id from path", "ace", func() engine.AbilityProfile { c := testCard("ace"); c.PlayerID = ""; return c }(), false},
		{"path mismatch", "ace", testCard("deuce"), true},
		{"bad path", "a/b", testCard("a/b"), true},
		{"long name", "ace", func() engine.AbilityProfile { c := testCard("ace"); c.Name = strings.Repeat("n", 101); return c }(), true},
		{"rating too high", "ace", func() engine.AbilityProfile { c := testCard("ace"); c.Batting.Power = 100.5; return c }(), true},
		{"negative rating", "ace", func() engine.AbilityProfile { c := testCard("ace"); c.Fielding.Range = -1; return c }(), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateCard(tc.path, tc.card)
			if tc.wantErr {
				assert.ErrorIs(t, err, engine.ErrInvalidRating)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
