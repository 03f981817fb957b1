package restapi

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestRangeParams_Defaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/candles/binance/BTC/USD/spot/1m", nil)
	start, end, limit, err := rangeParams(r)
	if err != nil {
		t.Fatalf("rangeParams: %v", err)
	}
	if limit != DefaultRangeLimit {
		t.Errorf("expected default limit %d, got %d", DefaultRangeLimit, limit)
	}
	if !start.IsZero() {
		t.Errorf("expected zero start by default, got %v", start)
	}
	if end.IsZero() {
		t.Error("expected end to default to now")
	}
}

func TestRangeParams_CapsAtMaxLimit(t *testing.T) {
	r := httptest.NewRequest("GET", "/candles/binance/BTC/USD/spot/1m?limit=999999", nil)
	_, _, limit, err := rangeParams(r)
	if err != nil {
		t.Fatalf("rangeParams: %v", err)
	}
	if limit != MaxRangeLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxRangeLimit, limit)
	}
}

func TestRangeParams_RejectsInvalidLimit(t *testing.T) {
	r := httptest.NewRequest("GET", "/candles/binance/BTC/USD/spot/1m?limit=-5", nil)
	if _, _, _, err := rangeParams(r); err == nil {
		t.Error("expected error for negative limit")
	}
}

func TestParseTimeParam_UnixSeconds(t *testing.T) {
	got, err := parseTimeParam("1690000000", time.Time{})
	if err != nil {
		t.Fatalf("parseTimeParam: %v", err)
	}
	if got.Unix() != 1690000000 {
		t.Errorf("unexpected time: %v", got)
	}
}

func TestParseTimeParam_RFC3339(t *testing.T) {
	got, err := parseTimeParam("2024-01-02T03:04:05Z", time.Time{})
	if err != nil {
		t.Fatalf("parseTimeParam: %v", err)
	}
	if got.Year() != 2024 {
		t.Errorf("unexpected time: %v", got)
	}
}

func TestParseTimeParam_Invalid(t *testing.T) {
	if _, err := parseTimeParam("not-a-time", time.Time{}); err == nil {
		t.Error("expected error for invalid time")
	}
}
