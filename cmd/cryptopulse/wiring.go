package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/registry"
	"github.com/sawpanic/cryptopulse/internal/storage"
	"github.com/sawpanic/cryptopulse/internal/storage/postgres"
)

// gatewayRowReader implements notify.RowReader by reading back the exact
// row a notification refers to — a range query pinned to the row's own
// timestamp, which the (time, id) primary key makes as cheap as a direct
// lookup (§4.7).
type gatewayRowReader struct {
	gw *postgres.Gateway
}

func (r *gatewayRowReader) ReadRow(ctx context.Context, kind storage.Kind, key int64, at time.Time) (any, error) {
	window := time.Second
	start, end := at.Add(-window), at.Add(window)

	switch kind {
	case storage.KindCandle:
		rows, err := r.gw.RangeCandles(ctx, domain.SeriesID(key), start, end, 1)
		if err != nil {
			return nil, err
		}
		return firstOrNil(rows), nil
	case storage.KindFundingPoint:
		rows, err := r.gw.RangeFundingPoints(ctx, domain.MarketID(key), start, end, 1)
		if err != nil {
			return nil, err
		}
		return firstOrNil(rows), nil
	case storage.KindOpenInterest:
		rows, err := r.gw.RangeOpenInterestPoints(ctx, domain.MarketID(key), start, end, 1)
		if err != nil {
			return nil, err
		}
		return firstOrNil(rows), nil
	default:
		return nil, fmt.Errorf("wiring: unknown kind %q", kind)
	}
}

func firstOrNil[T any](rows []T) any {
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

// registryBroadcaster implements notify.Broadcaster over the connection
// registry.
type registryBroadcaster struct {
	reg *registry.Registry
}

func (b *registryBroadcaster) Broadcast(ctx context.Context, kind storage.Kind, key int64, row any) {
	b.reg.Broadcast(ctx, kind, key, row)
}
