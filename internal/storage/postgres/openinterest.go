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

// upsertOpenInterestSQL carries the same coalesce rule as funding points:
// an absent incoming column keeps the stored value rather than clobbering
// it with NULL (§4.1, §8 property 1).
const upsertOpenInterestSQL = `
	INSERT INTO open_interest_points
		(time, market_id, open_interest, notional_value, day_base_volume, day_notional_volume)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (time, market_id) DO UPDATE SET
		open_interest       = COALESCE(EXCLUDED.open_interest, open_interest_points.open_interest),
		notional_value      = COALESCE(EXCLUDED.notional_value, open_interest_points.notional_value),
		day_base_volume     = COALESCE(EXCLUDED.day_base_volume, open_interest_points.day_base_volume),
		day_notional_volume = COALESCE(EXCLUDED.day_notional_volume, open_interest_points.day_notional_volume)`

// UpsertOpenInterestPoints implements §4.1's open-interest coalesce contract.
func (g *Gateway) UpsertOpenInterestPoints(ctx context.Context, marketID domain.MarketID, rows []domain.OpenInterestPoint) error {
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		if rows[i].MarketID != marketID {
			return errs.New(errs.KindProgrammer, "postgres.UpsertOpenInterestPoints",
				fmt.Errorf("row %d has market id %d, batch is for %d", i, rows[i].MarketID, marketID))
		}
		if !rows[i].Time.Equal(domain.AlignToMinute(rows[i].Time)) {
			return errs.New(errs.KindProgrammer, "postgres.UpsertOpenInterestPoints",
				fmt.Errorf("row %d time %v is not minute-aligned", i, rows[i].Time))
		}
	}

	return withRetry(ctx, "postgres.UpsertOpenInterestPoints", defaultRetry, func(ctx context.Context) error {
		return execBatch(ctx, g.db, g.timeout, upsertOpenInterestSQL, len(rows), func(tx *sqlx.Tx, stmt *sqlx.Stmt, i int) error {
			r := rows[i]
			_, err := stmt.ExecContext(ctx, r.Time, r.MarketID, r.OpenInterest, r.NotionalValue, r.DayBaseVolume, r.DayNotionalVolume)
			return err
		})
	})
}

const rangeOpenInterestSQL = `
	SELECT time, market_id, open_interest, notional_value, day_base_volume, day_notional_volume
	FROM open_interest_points
	WHERE market_id = $1 AND time >= $2 AND time <= $3
	ORDER BY time DESC
	LIMIT $4`

// RangeOpenInterestPoints mirrors RangeCandles for open-interest points.
func (g *Gateway) RangeOpenInterestPoints(ctx context.Context, marketID domain.MarketID, start, end time.Time, limit int) ([]domain.OpenInterestPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var rows []domain.OpenInterestPoint
	err := withRetry(ctx, "postgres.RangeOpenInterestPoints", defaultRetry, func(ctx context.Context) error {
		rows = nil
		return g.db.SelectContext(ctx, &rows, rangeOpenInterestSQL, marketID, start, end, storage.ClampLimit(limit))
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
