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

import "errors"

// Validation errors. These are reported to the caller as-is and never retried.
// No state is mutated when one of them is returned.
var (
	ErrInvalidDeck        = errors.New("invalid deck")
	ErrInvalidRating      = errors.New("invalid ability rating")
	ErrInvalidStyle       = errors.New("invalid style")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrGameNotActive      = errors.New("game is not in progress")
	ErrGameNotJoinable    = errors.New("game is not available to join")
	ErrCannotJoinOwnGame  = errors.New("cannot join your own game")
	ErrNotParticipant     = errors.New("not a participant in this game")
	ErrActionTimeout      = errors.New("action timed out")
	ErrNoPitchRecorded    = errors.New("no pitch action found")
	ErrPitcherUnavailable = errors.New("pitcher unavailable")
	ErrUnknownPlayer      = errors.New("unknown player")
)

// Invariant violations. The state machine has diverged from its contract.
var (
	ErrInvalidHitClassification = errors.New("invalid hit classification")
	ErrPitcherPoolCorrupt       = errors.New("pitcher pool corrupt")
)

var validationErrors = []error{
	ErrInvalidDeck,
	ErrInvalidRating,
	ErrInvalidStyle,
	ErrNotYourTurn,
	ErrGameNotActive,
	ErrGameNotJoinable,
	ErrCannotJoinOwnGame,
	ErrNotParticipant,
	ErrActionTimeout,
	ErrNoPitchRecorded,
	ErrPitcherUnavailable,
	ErrUnknownPlayer,
}

// IsValidation reports whether err is a caller-correctable validation error.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsInvariant reports whether err signals a broken engine invariant.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrInvalidHitClassification) || errors.Is(err, ErrPitcherPoolCorrupt)
}
