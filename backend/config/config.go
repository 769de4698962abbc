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

// Package config loads the BatterUp server configuration.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "BATTERUP_"

// Config holds every server setting.
type Config struct {
	Addr                string        `koanf:"addr"`
	DataDir             string        `koanf:"data_dir"`
	HistoryDB           string        `koanf:"history_db"`
	LogLevel            string        `koanf:"log_level"`
	TurnTimeout         time.Duration `koanf:"turn_timeout"`
	UseMockAuth         bool          `koanf:"use_mock_auth"`
	AuthCookieName      string        `koanf:"auth_cookie_name"`
	AuthJWKSURL         string        `koanf:"auth_jwks_url"`
	PubSubProject       string        `koanf:"pubsub_project"`
	PubSubTopic         string        `koanf:"pubsub_topic"`
	CardCacheSize       int           `koanf:"card_cache_size"`
	HubQueueSize        int           `koanf:"hub_queue_size"`
	MasterKeyPassphrase string        `koanf:"master_key_passphrase"`
}

// New returns the defaults.
func New() *Config {
	return &Config{
		Addr:           ":8080",
		DataDir:        "data",
		HistoryDB:      "history.db",
		LogLevel:       "info",
		TurnTimeout:    30 * time.Second,
		AuthCookieName: "batterup_auth",
		PubSubTopic:    "batterup-plays",
		CardCacheSize:  4096,
		HubQueueSize:   64,
	}
}

// Load layers, from lowest to highest precedence: defaults, a .env file in the
// working directory, the YAML file named by BATTERUP_CONFIG, and BATTERUP_*
// environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("could not read .env", "err", err)
	}

	k := koanf.New(".")
	if path := os.Getenv(EnvPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// BATTERUP_TURN_TIMEOUT -> turn_timeout
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *New()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	if c.TurnTimeout < 0 {
		errs = append(errs, errors.New("turn_timeout must not be negative"))
	}
	if c.CardCacheSize <= 0 {
		errs = append(errs, errors.New("card_cache_size must be positive"))
	}
	if c.HubQueueSize <= 0 {
		errs = append(errs, errors.New("hub_queue_size must be positive"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, defaulting to info.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// HistoryPath resolves HistoryDB relative to DataDir unless it is absolute
// or the in-memory marker.
func (c *Config) HistoryPath() string {
	if c.HistoryDB == ":memory:" || strings.HasPrefix(c.HistoryDB, "/") {
		return c.HistoryDB
	}
	return strings.TrimSuffix(c.DataDir, "/") + "/" + c.HistoryDB
}
