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

package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"
	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/ttbt-io/batterup/backend"
	"github.com/ttbt-io/batterup/backend/config"
	"github.com/ttbt-io/batterup/backend/engine"
	"github.com/ttbt-io/batterup/backend/events"
	"github.com/ttbt-io/batterup/backend/history"
	"github.com/ttbt-io/batterup/backend/metrics"
)

var (
	flagAddr        string
	flagDataDir     string
	flagMockAuth    bool
	flagLogLevel    string
	flagJSONLogs    bool
	flagTLSCert     string
	flagTLSKey      string
	flagSeed        uint64
	flagMaxAtBats   int
	flagInspectKind string
	flagInspectDir  string
)

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "The TCP address to listen to (overrides config)")
	serveCmd.Flags().StringVar(&flagDataDir, "data-dir", "", "Directory for game and card data (overrides config)")
	serveCmd.Flags().BoolVar(&flagMockAuth, "use-mock-auth", false, "Use Mock Authentication. For testing purposes only.")
	serveCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	serveCmd.Flags().BoolVar(&flagJSONLogs, "json-logs", false, "Log in JSON")
	serveCmd.Flags().StringVar(&flagTLSCert, "tls-cert", "", "Path to TLS certificate")
	serveCmd.Flags().StringVar(&flagTLSKey, "tls-key", "", "Path to TLS key")

	simulateCmd.Flags().Uint64Var(&flagSeed, "seed", 1, "Random seed for cards and at-bats")
	simulateCmd.Flags().IntVar(&flagMaxAtBats, "max-at-bats", 2000, "Stop after this many at-bats")

	inspectCmd.Flags().StringVar(&flagInspectDir, "data-dir", "data", "Directory for game and card data")
	inspectCmd.Flags().StringVar(&flagInspectKind, "kind", "", "game, card or record (default: guessed from the path)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(inspectCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the game server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		applyServeFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

// applyServeFlags overrides cfg with the flags set on the command line.
// Unset flags leave the configured values alone.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.Addr = flagAddr
	}
	if f.Changed("data-dir") {
		cfg.DataDir = flagDataDir
	}
	if f.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if f.Changed("use-mock-auth") {
		cfg.UseMockAuth = flagMockAuth
	}
}

func setupLogging(cfg *config.Config) {
	log.SetLevel(cfg.Level())
	log.SetReportTimestamp(true)
	if flagJSONLogs {
		log.SetFormatter(log.JSONFormatter)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	setupLogging(cfg)

	var cert *tls.Certificate
	if flagTLSCert != "" && flagTLSKey != "" {
		c, err := tls.LoadX509KeyPair(flagTLSCert, flagTLSKey)
		if err != nil {
			return fmt.Errorf("failed to load TLS cert/key: %w", err)
		}
		cert = &c
	}

	masterKey, err := loadMasterKey(cfg.DataDir, cfg.MasterKeyPassphrase)
	if err != nil {
		return err
	}
	store := storage.New(cfg.DataDir, masterKey)
	store.EnableCompression(true)

	hist, err := history.Open(ctx, cfg.HistoryPath())
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer hist.Close()

	var publisher events.Publisher = events.NoOp{}
	if cfg.PubSubProject != "" {
		p, err := events.NewPubSubPublisher(ctx, cfg.PubSubProject, cfg.PubSubTopic)
		if err != nil {
			return fmt.Errorf("pubsub: %w", err)
		}
		defer p.Close()
		publisher = p
		log.Info("publishing play events", "project", cfg.PubSubProject, "topic", cfg.PubSubTopic)
	}

	if cfg.UseMockAuth {
		log.Warn("mock authentication enabled; do not use in production")
	}
	server, err := backend.StartServer(backend.Options{
		Addr:           cfg.Addr,
		Cert:           cert,
		DataDir:        cfg.DataDir,
		UseMockAuth:    cfg.UseMockAuth,
		Storage:        store,
		MasterKey:      masterKey,
		AuthCookieName: cfg.AuthCookieName,
		AuthJWKSURL:    cfg.AuthJWKSURL,
		TurnTimeout:    cfg.TurnTimeout,
		CardCacheSize:  cfg.CardCacheSize,
		HubQueueSize:   cfg.HubQueueSize,
		History:        hist,
		Events:         publisher,
		Metrics:        metrics.NewService(prometheus.DefaultRegisterer),
		Gatherer:       prometheus.DefaultGatherer,
	})
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "err", err)
		return err
	}
	log.Info("gracefully stopped")
	return nil
}

// loadMasterKey reads or creates the storage master key. Without a
// passphrase the data is stored unencrypted, which is refused when a key
// file already exists.
func loadMasterKey(dataDir, passphrase string) (crypto.MasterKey, error) {
	keyFile := filepath.Join(dataDir, "master.key")
	if passphrase == "" {
		if _, err := os.Stat(keyFile); err == nil {
			return nil, fmt.Errorf("%s exists but no master key passphrase is set; refusing to run unencrypted", keyFile)
		}
		log.Warn("no master key passphrase provided; data will be stored UNENCRYPTED")
		return nil, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	mk, err := crypto.ReadMasterKey([]byte(passphrase), keyFile)
	if err == nil {
		log.Info("loaded master encryption key")
		return mk, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read master key: %w", err)
	}
	log.Info("initializing new master encryption key")
	if mk, err = crypto.CreateMasterKey(); err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	if err := mk.Save([]byte(passphrase), keyFile); err != nil {
		return nil, fmt.Errorf("failed to save master key: %w", err)
	}
	return mk, nil
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Play a seeded game between two generated decks and print the line score",
	RunE: func(cmd *cobra.Command, args []string) error {
		return simulate(cmd.OutOrStdout(), flagSeed, flagMaxAtBats)
	},
}

var (
	pitchingStyles = []engine.PitchingStyle{engine.Fastballs, engine.BreakingBalls, engine.Changeups}
	hittingStyles  = []engine.HittingStyle{engine.PowerHitter, engine.SwitchHitter, engine.DesignatedHitter}
)

func pick[T any](rng engine.RandomSource, items []T) T {
	return items[min(int(rng.Float64()*float64(len(items))), len(items)-1)]
}

func simDeck(prefix string) engine.Deck {
	ids := func(pos string, n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("%s-%s%d", prefix, pos, i+1)
		}
		return out
	}
	return engine.Deck{
		Catchers:    ids("c", engine.DeckCatchers),
		Pitchers:    ids("p", engine.DeckPitchers),
		Infielders:  ids("i", engine.DeckInfielders),
		Outfielders: ids("o", engine.DeckOutfielders),
		Hitters:     ids("h", engine.DeckHitters),
	}
}

func simCards(rng engine.RandomSource, decks ...engine.Deck) engine.CardMap {
	// Ratings stay in [30,80] so that no single card dominates a whole game.
	rating := func() float64 { return float64(30 + int(rng.Float64()*51)) }
	cards := engine.CardMap{}
	for _, d := range decks {
		for _, id := range d.AllPlayers() {
			cards[id] = engine.AbilityProfile{
				PlayerID: id,
				Batting:  engine.BattingAbilities{Contact: rating(), Power: rating(), Discipline: rating(), Speed: rating()},
				Pitching: engine.PitchingAbilities{Control: rating(), Velocity: rating(), Stamina: rating(), Effectiveness: rating()},
				Fielding: engine.FieldingAbilities{Defense: rating(), Range: rating(), Reliability: rating()},
			}
		}
	}
	return cards
}

// simulate plays a whole game through the engine without persistence. The
// same seed always produces the same game.
func simulate(w io.Writer, seed uint64, maxAtBats int) error {
	const home, away = "home", "away"
	rng := engine.NewSeededRNG(seed)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := func() time.Time { now = now.Add(time.Second); return now }

	homeDeck, awayDeck := simDeck(home), simDeck(away)
	cards := simCards(rng, homeDeck, awayDeck)

	g, err := engine.NewGame(fmt.Sprintf("sim-%d", seed), away, awayDeck, tick())
	if err != nil {
		return err
	}
	g.Version = 1
	commit := func(next engine.GameState) engine.GameState {
		next.Version = g.Version + 1
		return next
	}
	next, err := engine.ApplyJoin(g, home, homeDeck, tick(), 0)
	if err != nil {
		return err
	}
	g = commit(next)

	var entries []history.Entry
	for atBats := 0; g.Status == engine.StatusInProgress; atBats++ {
		if atBats >= maxAtBats {
			return fmt.Errorf("game %s did not finish in %d at-bats", g.ID, maxAtBats)
		}
		pitcher, _ := g.ExpectedAction()
		next, err := engine.ApplyPitch(g, pick(rng, pitchingStyles), pitcher, tick(), 0)
		if err != nil {
			return err
		}
		g = commit(next)

		batter, _ := g.ExpectedAction()
		prev := g
		next, result, err := engine.ApplyBat(g, pick(rng, hittingStyles), batter, rng, cards, tick(), 0)
		if err != nil {
			return err
		}
		g = commit(next)
		e := history.EntryFor(history.KindPlay, prev, g, batter, now)
		e.Result = &result
		entries = append(entries, e)
	}

	h := history.BuildGameHistory(g, entries)
	fmt.Fprint(w, h.LineScore())
	fmt.Fprintf(w, "\nFinal: %s %d, %s %d after %d innings. Winner: %s\n",
		away, h.FinalScore[away], home, h.FinalScore[home], g.Inning-1, g.Winner)
	return nil
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>...",
	Short: "Decrypt and print stored games, cards or user records as JSON",
	Long: `Reads files from the data directory, e.g. games/<id>.json or
cards/<playerId>.json, decrypting them with the master key passphrase from
the configuration when one is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		mk, err := loadMasterKey(flagInspectDir, cfg.MasterKeyPassphrase)
		if err != nil {
			return err
		}
		return inspect(cmd.OutOrStdout(), storage.New(flagInspectDir, mk), flagInspectDir, flagInspectKind, args)
	},
}

func inspect(w io.Writer, store *storage.Storage, dataDir, kind string, files []string) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	var errs []error
	for _, arg := range files {
		arg = strings.TrimPrefix(strings.TrimPrefix(arg, dataDir), "/")
		k := kind
		if k == "" {
			switch {
			case strings.HasPrefix(arg, "games/") && strings.HasSuffix(arg, ".meta.json"):
				k = "meta"
			case strings.HasPrefix(arg, "games/"):
				k = "game"
			case strings.HasPrefix(arg, "cards/"):
				k = "card"
			case strings.HasPrefix(arg, "users/"):
				k = "record"
			}
		}
		var obj any
		switch k {
		case "game":
			obj = new(engine.GameState)
		case "meta":
			obj = new(backend.GameMetadata)
		case "card":
			obj = new(engine.AbilityProfile)
		case "record":
			obj = new(backend.UserRecord)
		default:
			errs = append(errs, fmt.Errorf("%s: unknown kind %q", arg, k))
			continue
		}
		if err := store.ReadDataFile(arg, obj); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", arg, err))
			continue
		}
		fmt.Fprintf(w, "=========== %s ===========\n", arg)
		if err := enc.Encode(obj); err != nil {
			errs = append(errs, fmt.Errorf("JSON: %s: %w", arg, err))
		}
	}
	return errors.Join(errs...)
}
