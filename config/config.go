// Package config loads marketplace hub settings from the environment. Every
// value has a safe default for local development; production deployments set
// the MARKET_* variables explicitly.
package config

import (
	"os"
	"strconv"
	"time"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultAddr            = ":8005"
	DefaultMaxSteps        = 20
	DefaultOfferTTL        = 5 * time.Minute
	DefaultOfferValidity   = time.Hour
	DefaultAuthCacheTTL    = 5 * time.Minute
	DefaultIdentifyTimeout = 30 * time.Second
	DefaultCategory        = "general"
	DefaultCurrency        = "USDC"
	DefaultDelta           = 1.0

	DefaultDiscoveryTopic   = "market.discovery"
	DefaultNegotiationTopic = "market.negotiation"
	DefaultDiscoveryGroup   = "api-hub-discovery-sub"
	DefaultNegotiationGroup = "api-hub-negotiation-sub"
)

// Config carries all tunables for the hub process.
type Config struct {
	// Addr is the HTTP/WebSocket listen address.
	Addr string

	// RegistrationToken gates agent registration. Empty disables the gate
	// (not recommended outside development).
	RegistrationToken string

	// RedisAddr points at the Redis instance backing the pub/sub feed.
	// Empty disables the external feed; the store change feed still runs.
	RedisAddr string

	// DBPath is the SQLite database file. Empty selects the in-memory
	// store.
	DBPath string

	// MaxSteps is the negotiation step limit. COUNTERs beyond it are
	// refused; ACCEPT and REJECT remain possible.
	MaxSteps int

	// StepCheckFailOpen permits actions when the step-count query fails,
	// trading strict enforcement for availability.
	StepCheckFailOpen bool

	// OfferTTL is the validity window for buyer requests.
	OfferTTL time.Duration

	// OfferValidity is the validity window for seller offers.
	OfferValidity time.Duration

	// AuthCacheTTL bounds credential cache staleness.
	AuthCacheTTL time.Duration

	// IdentifyTimeout is how long an unidentified connection may linger
	// before eviction.
	IdentifyTimeout time.Duration

	// ReputationDelta is the fixed per-transaction score increase applied
	// to both parties.
	ReputationDelta float64

	// DefaultCategory is assigned to items and agents that omit one.
	DefaultCategory string

	// Currency labels offer prices.
	Currency string

	// Topic/group names for the Redis Streams feed.
	DiscoveryTopic   string
	NegotiationTopic string
	DiscoveryGroup   string
	NegotiationGroup string

	// Model selects the coach backend ("anthropic", "openai", "" to
	// disable analysis).
	Model string
}

// FromEnv builds a Config from MARKET_* environment variables, falling back
// to defaults.
func FromEnv() Config {
	return Config{
		Addr:              envString("MARKET_ADDR", DefaultAddr),
		RegistrationToken: os.Getenv("MARKET_REGISTRATION_TOKEN"),
		RedisAddr:         os.Getenv("MARKET_REDIS_ADDR"),
		DBPath:            os.Getenv("MARKET_DB_PATH"),
		MaxSteps:          envInt("MARKET_MAX_STEPS", DefaultMaxSteps),
		StepCheckFailOpen: envBool("MARKET_STEP_CHECK_FAIL_OPEN", true),
		OfferTTL:          envSeconds("MARKET_OFFER_TTL", DefaultOfferTTL),
		OfferValidity:     envSeconds("MARKET_OFFER_VALIDITY", DefaultOfferValidity),
		AuthCacheTTL:      envSeconds("MARKET_AUTH_CACHE_TTL", DefaultAuthCacheTTL),
		IdentifyTimeout:   envSeconds("MARKET_IDENTIFY_TIMEOUT", DefaultIdentifyTimeout),
		ReputationDelta:   envFloat("MARKET_REPUTATION_DELTA", DefaultDelta),
		DefaultCategory:   envString("MARKET_DEFAULT_CATEGORY", DefaultCategory),
		Currency:          envString("MARKET_CURRENCY", DefaultCurrency),
		DiscoveryTopic:    envString("MARKET_DISCOVERY_TOPIC", DefaultDiscoveryTopic),
		NegotiationTopic:  envString("MARKET_NEGOTIATION_TOPIC", DefaultNegotiationTopic),
		DiscoveryGroup:    envString("MARKET_DISCOVERY_GROUP", DefaultDiscoveryGroup),
		NegotiationGroup:  envString("MARKET_NEGOTIATION_GROUP", DefaultNegotiationGroup),
		Model:             os.Getenv("MARKET_MODEL"),
	}
}

// Default returns the development configuration without consulting the
// environment.
func Default() Config {
	return Config{
		Addr:              DefaultAddr,
		MaxSteps:          DefaultMaxSteps,
		StepCheckFailOpen: true,
		OfferTTL:          DefaultOfferTTL,
		OfferValidity:     DefaultOfferValidity,
		AuthCacheTTL:      DefaultAuthCacheTTL,
		IdentifyTimeout:   DefaultIdentifyTimeout,
		ReputationDelta:   DefaultDelta,
		DefaultCategory:   DefaultCategory,
		Currency:          DefaultCurrency,
		DiscoveryTopic:    DefaultDiscoveryTopic,
		NegotiationTopic:  DefaultNegotiationTopic,
		DiscoveryGroup:    DefaultDiscoveryGroup,
		NegotiationGroup:  DefaultNegotiationGroup,
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
