package notify

import (
	"testing"
	"time"

	"github.com/sawpanic/cryptopulse/internal/storage"
)

func TestParsePayload(t *testing.T) {
	ev, err := parsePayload("candle|42|1690000000")
	if err != nil {
		t.Fatalf("parsePayload: %v", err)
	}
	if ev.Kind != storage.KindCandle || ev.Key != 42 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if !ev.Time.Equal(time.Unix(1690000000, 0).UTC()) {
		t.Errorf("unexpected time: %v", ev.Time)
	}
}

func TestParsePayload_RejectsUnknownKind(t *testing.T) {
	if _, err := parsePayload("bogus|1|1"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestParsePayload_RejectsMalformed(t *testing.T) {
	cases := []string{"candle|1", "candle|x|1", "candle|1|x", ""}
	for _, c := range cases {
		if _, err := parsePayload(c); err == nil {
			t.Errorf("expected error for payload %q", c)
		}
	}
}

func TestParsePayload_AllKinds(t *testing.T) {
	cases := map[string]storage.Kind{
		"candle|1|1": storage.KindCandle,
		"funding|1|1": storage.KindFundingPoint,
		"oi|1|1":     storage.KindOpenInterest,
	}
	for payload, want := range cases {
		ev, err := parsePayload(payload)
		if err != nil {
			t.Fatalf("parsePayload(%q): %v", payload, err)
		}
		if ev.Kind != want {
			t.Errorf("payload %q: got kind %v, want %v", payload, ev.Kind, want)
		}
	}
}
