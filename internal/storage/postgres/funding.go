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

// upsertFundingSQL implements the asymmetric coalesce rule of §4.1: a
// present incoming column always wins; an absent one (mapped to SQL NULL
// by money.Optional's driver.Valuer) keeps the stored value. This is the
// rule that lets backfill compose safely with the live stream (§8
// property 1, scenario B).
const upsertFundingSQL = `
	INSERT INTO funding_points
		(time, market_id, funding_rate, premium, mark_price, index_price, oracle_price, mid_price, next_funding_time)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (time, market_id) DO UPDATE SET
		funding_rate      = COALESCE(EXCLUDED.funding_rate, funding_points.funding_rate),
		premium           = COALESCE(EXCLUDED.premium, funding_points.premium),
		mark_price        = COALESCE(EXCLUDED.mark_price, funding_points.mark_price),
		index_price       = COALESCE(EXCLUDED.index_price, funding_points.index_price),
		oracle_price      = COALESCE(EXCLUDED.oracle_price, funding_points.oracle_price),
		mid_price         = COALESCE(EXCLUDED.mid_price, funding_points.mid_price),
		next_funding_time = COALESCE(EXCLUDED.next_funding_time, funding_points.next_funding_time)`

// UpsertFundingPoints implements §4.1's funding coalesce contract.
func (g *Gateway) UpsertFundingPoints(ctx context.Context, marketID domain.MarketID, rows []domain.FundingPoint) error {
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		if rows[i].MarketID != marketID {
			return errs.New(errs.KindProgrammer, "postgres.UpsertFundingPoints",
				fmt.Errorf("row %d has market id %d, batch is for %d", i, rows[i].MarketID, marketID))
		}
		if !rows[i].Time.Equal(domain.AlignToMinute(rows[i].Time)) {
			return errs.New(errs.KindProgrammer, "postgres.UpsertFundingPoints",
				fmt.Errorf("row %d time %v is not minute-aligned", i, rows[i].Time))
		}
	}

	return withRetry(ctx, "postgres.UpsertFundingPoints", defaultRetry, func(ctx context.Context) error {
		return execBatch(ctx, g.db, g.timeout, upsertFundingSQL, len(rows), func(tx *sqlx.Tx, stmt *sqlx.Stmt, i int) error {
			r := rows[i]
			_, err := stmt.ExecContext(ctx, r.Time, r.MarketID, r.FundingRate, r.Premium,
				r.MarkPrice, r.IndexPrice, r.OraclePrice, r.MidPrice, r.NextFundingTime)
			return err
		})
	})
}

const rangeFundingSQL = `
	SELECT time, market_id, funding_rate, premium, mark_price, index_price, oracle_price, mid_price, next_funding_time
	FROM funding_points
	WHERE market_id = $1 AND time >= $2 AND time <= $3
	ORDER BY time DESC
	LIMIT $4`

// RangeFundingPoints mirrors RangeCandles for funding points.
func (g *Gateway) RangeFundingPoints(ctx context.Context, marketID domain.MarketID, start, end time.Time, limit int) ([]domain.FundingPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var rows []domain.FundingPoint
	err := withRetry(ctx, "postgres.RangeFundingPoints", defaultRetry, func(ctx context.Context) error {
		rows = nil
		return g.db.SelectContext(ctx, &rows, rangeFundingSQL, marketID, start, end, storage.ClampLimit(limit))
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
