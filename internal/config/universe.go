// Package config loads the declarative universe configuration: which
// exchanges, assets, market types, intervals, and series this deployment
// tracks, plus per-exchange network policy (rate limits, circuit breaker
// thresholds, quote-alias normalization for USD/USDC-style equivalents).
// Adapted from the teacher's providers.go declarative-YAML-plus-Validate
// pattern.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// UniverseConfig is the root of the declarative configuration tree.
type UniverseConfig struct {
	Exchanges   []ExchangeConfig `yaml:"exchanges"`
	MarketTypes []string         `yaml:"market_types"`
	Intervals   []IntervalConfig `yaml:"intervals"`
	Assets      AssetsConfig     `yaml:"assets"`
}

// ExchangeConfig declares one exchange's connectivity policy and the
// market types/quote assets it should be synced for.
type ExchangeConfig struct {
	Name        string         `yaml:"name"`
	DisplayName string         `yaml:"display_name"`
	Enabled     bool           `yaml:"enabled"`
	WSBaseURL   string         `yaml:"ws_base_url"`
	RESTBaseURL string         `yaml:"rest_base_url"`
	MarketTypes []string       `yaml:"market_types"`
	Quotes      []string       `yaml:"quotes"`
	QuoteAlias  map[string]string `yaml:"quote_alias"` // e.g. "USDT" -> "USD"
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Circuit     CircuitConfig     `yaml:"circuit"`
	Backoff     BackoffConfig     `yaml:"backoff"`
}

// RateLimitConfig mirrors internal/ratelimit.Limiter's constructor
// parameters, one bucket policy per exchange.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// CircuitConfig mirrors internal/circuit.Config.
type CircuitConfig struct {
	FailureThreshold uint32 `yaml:"failure_threshold"`
	SuccessThreshold uint32 `yaml:"success_threshold"`
	TimeoutMS        int    `yaml:"timeout_ms"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
}

// GetTimeout returns the breaker open-state cooldown as a time.Duration.
func (c CircuitConfig) GetTimeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// GetRequestTimeout returns the per-call timeout as a time.Duration.
func (c CircuitConfig) GetRequestTimeout() time.Duration {
	if c.RequestTimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// BackoffConfig governs reconnect/retry backoff (§4.4, §4.6).
type BackoffConfig struct {
	BaseMS int     `yaml:"base_ms"`
	MaxMS  int     `yaml:"max_ms"`
	Jitter float64 `yaml:"jitter"`
}

// GetBase returns the starting backoff delay.
func (b BackoffConfig) GetBase() time.Duration {
	if b.BaseMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(b.BaseMS) * time.Millisecond
}

// GetMax returns the backoff ceiling.
func (b BackoffConfig) GetMax() time.Duration {
	if b.MaxMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.MaxMS) * time.Millisecond
}

// IntervalConfig declares one candle bar size.
type IntervalConfig struct {
	Name          string `yaml:"name"`
	SecondsPerBar int32  `yaml:"seconds_per_bar"`
}

// AssetsConfig declares the coin universe and accepted quote assets.
type AssetsConfig struct {
	Base  []string `yaml:"base"`
	Quote []string `yaml:"quote"`
}

// Load reads and validates a universe configuration file.
func Load(path string) (*UniverseConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg UniverseConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate cascades validation through every nested section.
func (c *UniverseConfig) Validate() error {
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("at least one exchange must be configured")
	}
	if len(c.MarketTypes) == 0 {
		return fmt.Errorf("at least one market type must be configured")
	}
	if len(c.Intervals) == 0 {
		return fmt.Errorf("at least one interval must be configured")
	}
	if len(c.Assets.Base) == 0 {
		return fmt.Errorf("at least one base asset must be configured")
	}
	if len(c.Assets.Quote) == 0 {
		return fmt.Errorf("at least one quote asset must be configured")
	}

	seen := make(map[string]bool, len(c.Exchanges))
	for i := range c.Exchanges {
		if err := c.Exchanges[i].Validate(); err != nil {
			return fmt.Errorf("exchange[%d]: %w", i, err)
		}
		if seen[c.Exchanges[i].Name] {
			return fmt.Errorf("exchange[%d]: duplicate name %q", i, c.Exchanges[i].Name)
		}
		seen[c.Exchanges[i].Name] = true
	}

	intervalSeen := make(map[string]bool, len(c.Intervals))
	for i, iv := range c.Intervals {
		if iv.Name == "" {
			return fmt.Errorf("interval[%d]: name is required", i)
		}
		if iv.SecondsPerBar <= 0 {
			return fmt.Errorf("interval[%d] %q: seconds_per_bar must be positive", i, iv.Name)
		}
		if intervalSeen[iv.Name] {
			return fmt.Errorf("interval[%d]: duplicate name %q", i, iv.Name)
		}
		intervalSeen[iv.Name] = true
	}

	return nil
}

// Validate checks one exchange's declared policy.
func (e *ExchangeConfig) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !e.Enabled {
		return nil // disabled exchanges skip further checks, matching teacher's early-return style
	}
	if e.WSBaseURL == "" {
		return fmt.Errorf("exchange %q: ws_base_url is required when enabled", e.Name)
	}
	if len(e.MarketTypes) == 0 {
		return fmt.Errorf("exchange %q: at least one market type is required", e.Name)
	}
	if len(e.Quotes) == 0 {
		return fmt.Errorf("exchange %q: at least one quote asset is required", e.Name)
	}
	if e.RateLimit.RPS <= 0 {
		return fmt.Errorf("exchange %q: rate_limit.rps must be positive", e.Name)
	}
	if e.RateLimit.Burst <= 0 {
		return fmt.Errorf("exchange %q: rate_limit.burst must be positive", e.Name)
	}
	return nil
}

// NormalizeQuote resolves a quote asset through the exchange's alias map,
// so "USDT" and "USD" collapse to the universe's canonical quote when the
// exchange declares that equivalence.
func (e *ExchangeConfig) NormalizeQuote(quote string) string {
	if canonical, ok := e.QuoteAlias[quote]; ok {
		return canonical
	}
	return quote
}
