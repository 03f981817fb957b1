package wsapi

import (
	"testing"

	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/storage"
)

func TestDecodeKindAndKeys(t *testing.T) {
	kind, ids, err := decodeKindAndKeys("candle", []string{"1", "2", "3"})
	if err != nil {
		t.Fatalf("decodeKindAndKeys: %v", err)
	}
	if kind != storage.KindCandle {
		t.Errorf("unexpected kind: %v", kind)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Errorf("unexpected ids: %v", ids)
	}
}

func TestDecodeKindAndKeys_UnknownKind(t *testing.T) {
	if _, _, err := decodeKindAndKeys("bogus", []string{"1"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestDecodeKindAndKeys_InvalidKey(t *testing.T) {
	if _, _, err := decodeKindAndKeys("funding", []string{"not-a-number"}); err == nil {
		t.Error("expected error for non-numeric key")
	}
}

func TestReverseChronological(t *testing.T) {
	rows := []domain.Candle{{}, {}, {}}
	rows[0].SeriesID = 1
	rows[1].SeriesID = 2
	rows[2].SeriesID = 3
	rev := reverseChronological(rows)
	if rev[0].SeriesID != 3 || rev[2].SeriesID != 1 {
		t.Errorf("unexpected order: %+v", rev)
	}
}
