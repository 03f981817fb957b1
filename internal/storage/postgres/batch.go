package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/cryptopulse/internal/storage"
)

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

// execBatch runs n prepared-statement executions inside one transaction,
// matching the teacher's trades_repo.go InsertBatch shape: atomic per
// batch, one prepared statement reused across rows.
func execBatch(ctx context.Context, db *sqlx.DB, timeout time.Duration, query string, n int, exec func(tx *sqlx.Tx, stmt *sqlx.Stmt, i int) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout*time.Duration(n/100+1))
	defer cancel()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(tx, stmt, i); err != nil {
			return fmt.Errorf("exec row %d: %w", i, err)
		}
	}

	return tx.Commit()
}

var latestRowTimeSQL = map[storage.Kind]string{
	storage.KindCandle:       `SELECT time FROM candles WHERE series_id = $1 ORDER BY time DESC LIMIT 1`,
	storage.KindFundingPoint: `SELECT time FROM funding_points WHERE market_id = $1 ORDER BY time DESC LIMIT 1`,
	storage.KindOpenInterest: `SELECT time FROM open_interest_points WHERE market_id = $1 ORDER BY time DESC LIMIT 1`,
}

// LatestRowTime reports the most recent row's timestamp for a key and
// kind, used by the downtime detector to size backfill windows.
func (g *Gateway) LatestRowTime(ctx context.Context, kind storage.Kind, key int64) (time.Time, bool, error) {
	query, ok := latestRowTimeSQL[kind]
	if !ok {
		return time.Time{}, false, fmt.Errorf("postgres.LatestRowTime: unknown kind %q", kind)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var t time.Time
	err := withRetry(ctx, "postgres.LatestRowTime", defaultRetry, func(ctx context.Context) error {
		return g.db.GetContext(ctx, &t, query, key)
	})
	if err != nil {
		if isNoRows(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return t, true, nil
}
