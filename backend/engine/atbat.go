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

package engine

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
)

// RandomSource yields uniform values in [0,1).
type RandomSource interface {
	Float64() float64
}

type cryptoRNG struct{}

func (cryptoRNG) Float64() float64 {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return rand.Float64()
	}
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53)
}

// DefaultRNG is backed by crypto/rand and is safe for concurrent use.
func DefaultRNG() RandomSource { return cryptoRNG{} }

type seededRNG struct{ r *rand.Rand }

// NewSeededRNG returns a replayable source. It is not safe for concurrent use.
func NewSeededRNG(seed uint64) RandomSource {
	return &seededRNG{r: rand.New(rand.NewPCG(seed, 0))}
}

func (s *seededRNG) Float64() float64 { return s.r.Float64() }

// Style matchup multipliers.
const (
	powerBoostFastballs     = 1.2
	hitPenaltyFastballs     = 0.9
	hitBoostBreaking        = 1.1
	powerPenaltyBreaking    = 0.9
	hitBoostChangeupsSwitch = 1.1
)

// Power tiers applied to the second draw.
const (
	homeRunTier = 0.2
	tripleTier  = 0.4
	doubleTier  = 0.6
)

// Chances returns the hit and power-hit chances for a matchup, with the style
// multipliers applied.
func Chances(pitcher, batter AbilityProfile, pitch PitchingStyle, hit HittingStyle) (hitChance, powerChance float64) {
	hitChance = batter.Batting.Contact / 100 * (1 - pitcher.Pitching.Effectiveness/100)
	powerChance = batter.Batting.Power / 100 * (1 - pitcher.Pitching.Control/100)

	switch {
	case pitch == Fastballs && hit == PowerHitter:
		powerChance *= powerBoostFastballs
		hitChance *= hitPenaltyFastballs
	case pitch == BreakingBalls && hit == DesignatedHitter:
		hitChance *= hitBoostBreaking
		powerChance *= powerPenaltyBreaking
	case pitch == Changeups && hit == SwitchHitter:
		hitChance *= hitBoostChangeupsSwitch
	}
	return hitChance, powerChance
}

// ResolveAtBat draws the outcome of one at-bat.
//
// The first draw is compared against the hit chance and a value below it is
// an out, so a better contact rating makes outs more likely. That ordering is
// kept as-is. The second draw picks the hit tier from the power chance.
func ResolveAtBat(rng RandomSource, pitcher, batter AbilityProfile, pitch PitchingStyle, hit HittingStyle) (HitClassification, error) {
	if _, err := ParsePitchingStyle(string(pitch)); err != nil {
		return "", err
	}
	if _, err := ParseHittingStyle(string(hit)); err != nil {
		return "", err
	}
	if err := pitcher.Validate(); err != nil {
		return "", fmt.Errorf("pitcher %s: %w", pitcher.PlayerID, err)
	}
	if err := batter.Validate(); err != nil {
		return "", fmt.Errorf("batter %s: %w", batter.PlayerID, err)
	}

	hitChance, powerChance := Chances(pitcher, batter, pitch, hit)
	if rng.Float64() < hitChance {
		return Out, nil
	}
	r2 := rng.Float64()
	switch {
	case r2 < powerChance*homeRunTier:
		return HomeRun, nil
	case r2 < powerChance*tripleTier:
		return Triple, nil
	case r2 < powerChance*doubleTier:
		return Double, nil
	}
	return Single, nil
}

// Describe returns the play-by-play line for an outcome.
func Describe(outcome HitClassification) string {
	switch outcome {
	case HomeRun:
		return "Home run! Ball went over the fence!"
	case Triple:
		return "Triple! Ball hit deep into the outfield!"
	case Double:
		return "Double! Ball hit into the gap!"
	case Single:
		return "Single! Ball hit into the outfield!"
	case Out:
		return "Out! Ball caught by fielder."
	}
	return ""
}

// PitchOutcome is the ball/strike flavour of a pitch.
type PitchOutcome string

const (
	PitchStrike PitchOutcome = "strike"
	PitchBall   PitchOutcome = "ball"
	PitchInPlay PitchOutcome = "in_play"
)

const ballBand = 0.3

// ResolvePitch classifies a pitch from the pitcher's control. It only feeds
// play-by-play colour; the at-bat outcome does not depend on it.
func ResolvePitch(rng RandomSource, pitch PitchingStyle, pitcher AbilityProfile) PitchOutcome {
	control := pitcher.Pitching.Control / 100
	var strike float64
	switch pitch {
	case Fastballs:
		strike = control * 0.7
	case BreakingBalls:
		strike = control * 0.5
	default:
		strike = control * 0.6
	}
	roll := rng.Float64()
	switch {
	case roll < strike:
		return PitchStrike
	case roll < strike+ballBand:
		return PitchBall
	}
	return PitchInPlay
}
