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

import "fmt"

// AdvanceRunners places the batter and moves every runner for a hit.
//
//	home_run: everyone scores, bases end empty.
//	triple:   every runner scores, batter to third.
//	double:   runners on second and third score, first goes to third, batter to second.
//	single:   third scores, second to third, first to second, batter to first.
//
// Out is not an advancement: the bases come back unchanged with no runs.
// Advancements are listed from first to third, then the batter.
func AdvanceRunners(bases BaseState, batterID string, hit HitClassification) (BaseState, []RunnerAdvancement, int, error) {
	if !hit.Valid() {
		return bases, nil, 0, fmt.Errorf("%w: %q", ErrInvalidHitClassification, string(hit))
	}
	if hit == Out {
		return bases, []RunnerAdvancement{}, 0, nil
	}

	var (
		next BaseState
		advs []RunnerAdvancement
		runs int
	)
	move := func(runner, from, to string) {
		scored := to == BaseHome
		advs = append(advs, RunnerAdvancement{Runner: runner, From: from, To: to, Scored: scored})
		if scored {
			runs++
			return
		}
		switch to {
		case BaseFirst:
			next.First = runner
		case BaseSecond:
			next.Second = runner
		case BaseThird:
			next.Third = runner
		}
	}

	dest := destinations[hit]
	for _, r := range []struct{ runner, from string }{
		{bases.First, BaseFirst},
		{bases.Second, BaseSecond},
		{bases.Third, BaseThird},
	} {
		if r.runner == "" {
			continue
		}
		move(r.runner, r.from, dest[r.from])
	}
	move(batterID, BaseHome, dest[BaseHome])
	return next, advs, runs, nil
}

// destinations maps a starting base to where the runner ends up for each hit.
var destinations = map[HitClassification]map[string]string{
	HomeRun: {BaseHome: BaseHome, BaseFirst: BaseHome, BaseSecond: BaseHome, BaseThird: BaseHome},
	Triple:  {BaseHome: BaseThird, BaseFirst: BaseHome, BaseSecond: BaseHome, BaseThird: BaseHome},
	Double:  {BaseHome: BaseSecond, BaseFirst: BaseThird, BaseSecond: BaseHome, BaseThird: BaseHome},
	Single:  {BaseHome: BaseFirst, BaseFirst: BaseSecond, BaseSecond: BaseThird, BaseThird: BaseHome},
}

// RBICount is the number of runners that crossed the plate.
func RBICount(advs []RunnerAdvancement) int {
	n := 0
	for _, a := range advs {
		if a.Scored {
			n++
		}
	}
	return n
}
