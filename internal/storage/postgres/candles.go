package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/errs"
	"github.com/sawpanic/cryptopulse/internal/storage"
)

const upsertCandleSQL = `
	INSERT INTO candles (time, series_id, open, high, low, close, volume, trade_count)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (time, series_id) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume,
		trade_count = EXCLUDED.trade_count`

// UpsertCandles implements the candle upsert rule of §4.1: on conflict the
// incoming row always wins outright (candles are authoritative per
// source — §8 property 2). A validation failure aborts the whole batch
// without touching the database.
func (g *Gateway) UpsertCandles(ctx context.Context, seriesID domain.SeriesID, rows []domain.Candle) error {
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		if rows[i].SeriesID != seriesID {
			return errs.New(errs.KindProgrammer, "postgres.UpsertCandles",
				fmt.Errorf("row %d has series id %d, batch is for %d", i, rows[i].SeriesID, seriesID))
		}
		if err := rows[i].Validate(); err != nil {
			return errs.New(errs.KindProgrammer, "postgres.UpsertCandles", err)
		}
	}

	return withRetry(ctx, "postgres.UpsertCandles", defaultRetry, func(ctx context.Context) error {
		return execBatch(ctx, g.db, g.timeout, upsertCandleSQL, len(rows), func(tx *sqlx.Tx, stmt *sqlx.Stmt, i int) error {
			r := rows[i]
			_, err := stmt.ExecContext(ctx, r.Time, r.SeriesID, r.Open, r.High, r.Low, r.Close, r.Volume, r.TradeCount)
			return err
		})
	})
}

const rangeCandleSQL = `
	SELECT time, series_id, open, high, low, close, volume, trade_count
	FROM candles
	WHERE series_id = $1 AND time >= $2 AND time <= $3
	ORDER BY time DESC
	LIMIT $4`

// RangeCandles returns rows in [start, end] for seriesID, time descending,
// capped at storage.ClampLimit(limit). Empty on no match.
func (g *Gateway) RangeCandles(ctx context.Context, seriesID domain.SeriesID, start, end time.Time, limit int) ([]domain.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var rows []domain.Candle
	err := withRetry(ctx, "postgres.RangeCandles", defaultRetry, func(ctx context.Context) error {
		rows = nil
		return g.db.SelectContext(ctx, &rows, rangeCandleSQL, seriesID, start, end, storage.ClampLimit(limit))
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
