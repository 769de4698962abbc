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

package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttbt-io/batterup/backend/engine"
)

// allBaseStates enumerates the eight occupancy combinations.
func allBaseStates() []engine.BaseState {
	var out []engine.BaseState
	for mask := range 8 {
		var b engine.BaseState
		if mask&1 != 0 {
			b.First = "R1"
		}
		if mask&2 != 0 {
			b.Second = "R2"
		}
		if mask&4 != 0 {
			b.Third = "R3"
		}
		out = append(out, b)
	}
	return out
}

func TestAdvanceRunnersHomeRun(t *testing.T) {
	for _, bases := range allBaseStates() {
		next, advs, runs, err := engine.AdvanceRunners(bases, "B", engine.HomeRun)
		require.NoError(t, err)
		assert.True(t, next.Empty(), "bases %+v", bases)
		assert.Equal(t, bases.Occupied()+1, runs, "bases %+v", bases)
		assert.Equal(t, runs, engine.RBICount(advs))
		last := advs[len(advs)-1]
		assert.Equal(t, engine.RunnerAdvancement{Runner: "B", From: engine.BaseHome, To: engine.BaseHome, Scored: true}, last)
	}
}

func TestAdvanceRunnersSingle(t *testing.T) {
	for _, bases := range allBaseStates() {
		next, advs, runs, err := engine.AdvanceRunners(bases, "B", engine.Single)
		require.NoError(t, err)
		assert.Equal(t, "B", next.First)
		for _, a := range advs {
			switch a.From {
			case engine.BaseThird:
				assert.True(t, a.Scored, "runner from third must score")
			case engine.BaseFirst:
				assert.False(t, a.Scored, "runner from first must not score")
				assert.Equal(t, engine.BaseSecond, a.To)
			}
		}
		want := 0
		if bases.Third != "" {
			want = 1
		}
		assert.Equal(t, want, runs)
		assert.Equal(t, bases.First, next.Second)
		assert.Equal(t, bases.Second, next.Third)
	}
}

func TestAdvanceRunnersTriple(t *testing.T) {
	for _, bases := range allBaseStates() {
		next, _, runs, err := engine.AdvanceRunners(bases, "B", engine.Triple)
		require.NoError(t, err)
		assert.Equal(t, engine.BaseState{Third: "B"}, next)
		assert.Equal(t, bases.Occupied(), runs)
	}
}

func TestAdvanceRunnersBasesLoadedDouble(t *testing.T) {
	bases := engine.BaseState{First: "A", Second: "B", Third: "C"}
	next, advs, runs, err := engine.AdvanceRunners(bases, "D", engine.Double)
	require.NoError(t, err)

	assert.Equal(t, 2, runs)
	assert.Equal(t, engine.BaseState{Second: "D", Third: "A"}, next)
	assert.Equal(t, []engine.RunnerAdvancement{
		{Runner: "A", From: engine.BaseFirst, To: engine.BaseThird},
		{Runner: "B", From: engine.BaseSecond, To: engine.BaseHome, Scored: true},
		{Runner: "C", From: engine.BaseThird, To: engine.BaseHome, Scored: true},
		{Runner: "D", From: engine.BaseHome, To: engine.BaseSecond},
	}, advs)
}

func TestAdvanceRunnersDoesNotMutateInput(t *testing.T) {
	for _, hit := range []engine.HitClassification{engine.Single, engine.Double, engine.Triple, engine.HomeRun, engine.Out} {
		for _, bases := range allBaseStates() {
			orig := bases
			_, _, _, err := engine.AdvanceRunners(bases, "B", hit)
			require.NoError(t, err)
			assert.Equal(t, orig, bases)
		}
	}
}

func TestAdvanceRunnersOut(t *testing.T) {
	bases := engine.BaseState{First: "A", Third: "C"}
	next, advs, runs, err := engine.AdvanceRunners(bases, "D", engine.Out)
	require.NoError(t, err)
	assert.Equal(t, bases, next)
	assert.Empty(t, advs)
	assert.Zero(t, runs)
}

func TestAdvanceRunnersRejectsUnknownClassification(t *testing.T) {
	for _, s := range []string{"Single", "HOME_RUN", "walk", ""} {
		_, _, _, err := engine.AdvanceRunners(engine.BaseState{}, "B", engine.HitClassification(s))
		require.ErrorIs(t, err, engine.ErrInvalidHitClassification, s)
		assert.True(t, engine.IsInvariant(err))

		_, err = engine.ParseHitClassification(s)
		require.ErrorIs(t, err, engine.ErrInvalidHitClassification)
	}
	h, err := engine.ParseHitClassification("home_run")
	require.NoError(t, err)
	assert.Equal(t, engine.HomeRun, h)
}
