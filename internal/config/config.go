// Package config loads process configuration the way luma-pharos's
// internal/env package does: an optional .env file layered under
// environment-variable overrides, processed by go-envconfig. It also loads
// the optional facility bootstrap file (spec.md §3).
package config

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Semantics is the invocation-semantics flag (spec.md §4.4).
type Semantics string

const (
	AtLeastOnce Semantics = "at-least-once"
	AtMostOnce  Semantics = "at-most-once"
)

func (s Semantics) Valid() bool {
	return s == AtLeastOnce || s == AtMostOnce
}

// ServerEnv holds environment-overridable server defaults. None of these
// has a command-line counterpart; cmd/bookingserver parses its positional
// arguments separately.
type ServerEnv struct {
	HistoryCacheCapacity int    `env:"BOOKINGD_HISTORY_CACHE_CAPACITY,default=0"`
	FacilitiesFile       string `env:"BOOKINGD_FACILITIES_FILE"`
	LogLevel             string `env:"BOOKINGD_LOG_LEVEL,default=info"`
}

// ClientEnv holds environment-overridable client defaults.
type ClientEnv struct {
	TimeoutSeconds int    `env:"BOOKINGD_CLIENT_TIMEOUT_SECONDS,default=5"`
	MaxAttempts    int    `env:"BOOKINGD_CLIENT_MAX_ATTEMPTS,default=3"`
	LogLevel       string `env:"BOOKINGD_LOG_LEVEL,default=info"`
}

// LoadServerEnv loads .env.local (if present) and then process
// environment overrides for the server.
func LoadServerEnv(ctx context.Context) (ServerEnv, error) {
	loadDotEnv()
	var cfg ServerEnv
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return ServerEnv{}, err
	}
	return cfg, nil
}

// LoadClientEnv loads .env.local (if present) and then process
// environment overrides for the client.
func LoadClientEnv(ctx context.Context) (ClientEnv, error) {
	loadDotEnv()
	var cfg ClientEnv
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return ClientEnv{}, err
	}
	return cfg, nil
}

func loadDotEnv() {
	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		panic(err)
	}
}

// FacilitiesDoc is the optional TOML bootstrap file naming the seeded
// facility set (spec.md §3's "fixed set ... no runtime facility creation").
// When absent, callers fall back to booking.DefaultFacilities().
type FacilitiesDoc struct {
	Facilities []string `toml:"facilities"`
}

// LoadFacilities reads and parses a facilities TOML file. A missing file is
// not an error; callers should fall back to the built-in default list.
func LoadFacilities(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	var doc FacilitiesDoc
	_, err := toml.DecodeFile(path, &doc)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return doc.Facilities, nil
}

// LossProbabilities resolves the request/reply loss probabilities from the
// server's positional arguments per spec.md §6: zero, one, or two values
// may be given; one value applies to both directions.
func LossProbabilities(args []string) (reqLoss, repLoss float64, err error) {
	switch len(args) {
	case 0:
		return 0, 0, nil
	case 1:
		p, err := parseProbability(args[0])
		if err != nil {
			return 0, 0, err
		}
		return p, p, nil
	case 2:
		p1, err := parseProbability(args[0])
		if err != nil {
			return 0, 0, err
		}
		p2, err := parseProbability(args[1])
		if err != nil {
			return 0, 0, err
		}
		return p1, p2, nil
	default:
		return 0, 0, errTooManyLossArgs
	}
}

var errTooManyLossArgs = errors.New("config: at most two loss probabilities (request, reply) may be given")

func parseProbability(s string) (float64, error) {
	p, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if p < 0 || p > 1 {
		return 0, errors.New("config: loss probability must be in [0, 1]")
	}
	return p, nil
}

// DefaultClientTimeout and DefaultClientMaxAttempts mirror spec.md §4.6's
// defaults. They hold the same values as ClientEnv's env defaults and
// client.New's built-in defaults; nothing in the module reads them.
const (
	DefaultClientTimeout     = 5 * time.Second
	DefaultClientMaxAttempts = 3
)
