package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptopulse/internal/domain"
)

func newMockGateway(t *testing.T) (*Gateway, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Gateway{db: sqlx.NewDb(db, "postgres"), timeout: 5 * time.Second}, mock
}

func sampleCandle(ts time.Time, seriesID domain.SeriesID) domain.Candle {
	return domain.Candle{
		Time:     ts,
		SeriesID: seriesID,
		Open:     decimal.NewFromFloat(100),
		High:     decimal.NewFromFloat(110),
		Low:      decimal.NewFromFloat(90),
		Close:    decimal.NewFromFloat(105),
		Volume:   decimal.NewFromFloat(42),
	}
}

func TestUpsertCandles_RejectsMismatchedSeries(t *testing.T) {
	g, mock := newMockGateway(t)
	ts := domain.AlignToMinute(time.Now())

	err := g.UpsertCandles(context.Background(), 1, []domain.Candle{sampleCandle(ts, 2)})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCandles_RejectsInvalidOHLC(t *testing.T) {
	g, mock := newMockGateway(t)
	ts := domain.AlignToMinute(time.Now())
	bad := sampleCandle(ts, 1)
	bad.High = decimal.NewFromFloat(1) // lower than open/close/low

	err := g.UpsertCandles(context.Background(), 1, []domain.Candle{bad})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCandles_ExecutesOneStatementPerRow(t *testing.T) {
	g, mock := newMockGateway(t)
	ts := domain.AlignToMinute(time.Now())
	rows := []domain.Candle{sampleCandle(ts, 1), sampleCandle(ts.Add(time.Minute), 1)}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO candles")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := g.UpsertCandles(context.Background(), 1, rows)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRangeCandles_ClampsDefaultLimit(t *testing.T) {
	g, mock := newMockGateway(t)
	start := domain.AlignToMinute(time.Now().Add(-time.Hour))
	end := domain.AlignToMinute(time.Now())

	cols := []string{"time", "series_id", "open", "high", "low", "close", "volume", "trade_count"}
	mock.ExpectQuery("SELECT time, series_id").
		WithArgs(domain.SeriesID(1), start, end, 1000).
		WillReturnRows(sqlmock.NewRows(cols))

	rows, err := g.RangeCandles(context.Background(), 1, start, end, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
