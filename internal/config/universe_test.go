package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "universe.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const validConfig = `
exchanges:
  - name: binance
    display_name: Binance
    enabled: true
    ws_base_url: wss://stream.binance.com:9443
    rest_base_url: https://api.binance.com
    market_types: [spot]
    quotes: [USDT]
    quote_alias:
      USDT: USD
    rate_limit:
      rps: 10
      burst: 20
    circuit:
      failure_threshold: 5
      success_threshold: 2
      timeout_ms: 30000
  - name: okx
    enabled: false
market_types:
  - spot
  - perpetual
intervals:
  - name: 1m
    seconds_per_bar: 60
  - name: 1h
    seconds_per_bar: 3600
assets:
  base: [BTC, ETH]
  quote: [USD]
`

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTempConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Exchanges) != 2 {
		t.Fatalf("expected 2 exchanges, got %d", len(cfg.Exchanges))
	}
	if cfg.Exchanges[0].NormalizeQuote("USDT") != "USD" {
		t.Errorf("expected USDT to alias to USD")
	}
	if cfg.Exchanges[0].NormalizeQuote("USD") != "USD" {
		t.Errorf("expected unaliased quote to pass through")
	}
}

func TestLoad_DisabledExchangeSkipsChecks(t *testing.T) {
	path := writeTempConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Exchanges[1].Name != "okx" {
		t.Fatalf("expected second exchange okx")
	}
}

func TestLoad_RejectsMissingRateLimit(t *testing.T) {
	body := `
exchanges:
  - name: binance
    enabled: true
    ws_base_url: wss://stream.binance.com:9443
    market_types: [spot]
    quotes: [USDT]
market_types: [spot]
intervals:
  - name: 1m
    seconds_per_bar: 60
assets:
  base: [BTC]
  quote: [USD]
`
	path := writeTempConfig(t, body)
	if _, err := Load(path); err == nil {
		t.Error("expected validation error for missing rate limit")
	}
}

func TestLoad_RejectsDuplicateExchangeName(t *testing.T) {
	body := `
exchanges:
  - name: binance
    enabled: false
  - name: binance
    enabled: false
market_types: [spot]
intervals:
  - name: 1m
    seconds_per_bar: 60
assets:
  base: [BTC]
  quote: [USD]
`
	path := writeTempConfig(t, body)
	if _, err := Load(path); err == nil {
		t.Error("expected validation error for duplicate exchange name")
	}
}

func TestCircuitConfig_Defaults(t *testing.T) {
	var c CircuitConfig
	if c.GetTimeout() != 30_000_000_000 {
		t.Errorf("expected 30s default timeout, got %v", c.GetTimeout())
	}
	if c.GetRequestTimeout() != 10_000_000_000 {
		t.Errorf("expected 10s default request timeout, got %v", c.GetRequestTimeout())
	}
}
