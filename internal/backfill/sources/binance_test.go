package sources

import "testing"

func TestParseBinanceKlineRow(t *testing.T) {
	row := binanceKlineRow{
		float64(1689999960000), "67000.00", "67100.00", "66900.00", "67050.00", "12.5",
		float64(1690000019999), "837500.00", float64(42), "6.0", "402500.00", "0",
	}
	c, err := parseBinanceKlineRow(row)
	if err != nil {
		t.Fatalf("parseBinanceKlineRow: %v", err)
	}
	if c.Close.String() != "67050" {
		t.Errorf("unexpected close: %s", c.Close)
	}
}

func TestFirstErr(t *testing.T) {
	if firstErr(nil, nil) != nil {
		t.Error("expected nil")
	}
	if firstErr(nil, errTest) == nil {
		t.Error("expected error")
	}
}

var errTest = &testError{}

type testError struct{}

func (e *testError) Error() string { return "boom" }
