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
	"testing"

	"github.com/c2FmZQ/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ttbt-io/batterup/backend/engine"
)

func TestCardStore(t *testing.T) {
	dir := t.TempDir()
	cs, err := NewCardStore(storage.New(dir, nil), 2)
	require.NoError(t, err)

	require.NoError(t, cs.Put(testCard("ace")))

	got, err := cs.Abilities("ace")
	require.NoError(t, err)
	assert.Equal(t, testCard("ace"), got)

	_, err = cs.Abilities("nobody")
	assert.ErrorIs(t, err, engine.ErrUnknownPlayer)

	bad := testCard("wild")
	bad.Pitching.Control = 101
	assert.ErrorIs(t, cs.Put(bad), engine.ErrInvalidRating)
	assert.ErrorIs(t, cs.Put(engine.AbilityProfile{}), engine.ErrInvalidRating)

	// Evicted entries are read back from storage.
	require.NoError(t, cs.Put(testCard("b1")))
	require.NoError(t, cs.Put(testCard("b2")))
	reopened, err := NewCardStore(storage.New(dir, nil), 2)
	require.NoError(t, err)
	got, err = reopened.Abilities("ace")
	require.NoError(t, err)
	assert.Equal(t, "ace", got.PlayerID)
}

func TestCardStore_Missing(t *testing.T) {
	dir := t.TempDir()
	cs, err := NewCardStore(storage.New(dir, nil), 64)
	require.NoError(t, err)

	deck := testDeck("a")
	assert.Len(t, cs.Missing(deck), len(deck.AllPlayers()))

	for _, id := range deck.AllPlayers()[1:] {
		require.NoError(t, cs.Put(testCard(id)))
	}
	assert.Equal(t, deck.AllPlayers()[:1], cs.Missing(deck))
}
