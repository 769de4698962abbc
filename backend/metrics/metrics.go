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

// Package metrics exposes BatterUp's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is what the game shell records. The hub and server depend on this
// interface so tests can pass NoOp.
type Metrics interface {
	IncGamesStarted()
	IncGamesCompleted(reason string)
	IncPlays(outcome string)
	IncRuns(n int)
	IncConflicts()
	IncPublishFailures()
	IncHubBusy()
	ObserveActionDuration(action string, seconds float64)
	SetActiveHubs(n int)
}

// Service holds the Prometheus collectors.
type Service struct {
	GamesStarted    prometheus.Counter
	GamesCompleted  *prometheus.CounterVec
	Plays           *prometheus.CounterVec
	Runs            prometheus.Counter
	Conflicts       prometheus.Counter
	PublishFailures prometheus.Counter
	HubBusy         prometheus.Counter
	ActionDuration  *prometheus.HistogramVec
	ActiveHubs      prometheus.Gauge
}

var _ Metrics = (*Service)(nil)

// NewMetricsHandler returns an http.Handler for the given Gatherer, or the
// default one.
func NewMetricsHandler(gatherer ...prometheus.Gatherer) http.Handler {
	gath := prometheus.DefaultGatherer
	if len(gatherer) > 0 {
		gath = gatherer[0]
	}
	return promhttp.HandlerFor(gath, promhttp.HandlerOpts{})
}

// NewService creates and registers the collectors. Without a registerer the
// default Prometheus registerer is used.
func NewService(registerer ...prometheus.Registerer) *Service {
	reg := prometheus.DefaultRegisterer
	if len(registerer) > 0 {
		reg = registerer[0]
	}

	s := &Service{
		GamesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batterup_games_started_total",
			Help: "Games that moved from waiting to in_progress.",
		}),
		GamesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batterup_games_completed_total",
			Help: "Completed games by completion reason.",
		}, []string{"reason"}),
		Plays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batterup_plays_total",
			Help: "Resolved at-bats by hit classification.",
		}, []string{"outcome"}),
		Runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batterup_runs_scored_total",
			Help: "Runs scored across all games.",
		}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batterup_store_conflicts_total",
			Help: "Game commits rejected by the version check.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batterup_event_publish_failures_total",
			Help: "Play events that could not be published.",
		}),
		HubBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batterup_hub_busy_total",
			Help: "Requests rejected because a game hub queue was full.",
		}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batterup_action_duration_seconds",
			Help:    "Time to apply and commit one game action.",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"action"}),
		ActiveHubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "batterup_active_hubs",
			Help: "Game hubs currently running.",
		}),
	}

	reg.MustRegister(
		s.GamesStarted,
		s.GamesCompleted,
		s.Plays,
		s.Runs,
		s.Conflicts,
		s.PublishFailures,
		s.HubBusy,
		s.ActionDuration,
		s.ActiveHubs,
	)
	return s
}

func (s *Service) IncGamesStarted() { s.GamesStarted.Inc() }

func (s *Service) IncGamesCompleted(reason string) {
	s.GamesCompleted.WithLabelValues(reason).Inc()
}

func (s *Service) IncPlays(outcome string) { s.Plays.WithLabelValues(outcome).Inc() }

func (s *Service) IncRuns(n int) {
	if n > 0 {
		s.Runs.Add(float64(n))
	}
}

func (s *Service) IncConflicts() { s.Conflicts.Inc() }

func (s *Service) IncPublishFailures() { s.PublishFailures.Inc() }

func (s *Service) IncHubBusy() { s.HubBusy.Inc() }

func (s *Service) ObserveActionDuration(action string, seconds float64) {
	s.ActionDuration.WithLabelValues(action).Observe(seconds)
}

func (s *Service) SetActiveHubs(n int) { s.ActiveHubs.Set(float64(n)) }

// NoOp discards everything.
type NoOp struct{}

var _ Metrics = NoOp{}

func (NoOp) IncGamesStarted() {}
func (NoOp) IncGamesCompleted(string) {}
func (NoOp) IncPlays(string) {}
func (NoOp) IncRuns(int) {}
func (NoOp) IncConflicts() {}
func (NoOp) IncPublishFailures() {}
func (NoOp) IncHubBusy() {}
func (NoOp) ObserveActionDuration(string, float64) {}
func (NoOp) SetActiveHubs(int) {}
