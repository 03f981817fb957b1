// Package reference implements the §4.2 reference resolver: an in-process,
// read-mostly cache mapping (exchange, coin, quote, market type, interval)
// tuples to internal identifiers, refreshed atomically from the database.
package reference

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/errs"
)

// snapshot is the immutable cache generation. Refresh builds a new one and
// swaps it in atomically; a reader in flight during a refresh sees either
// the whole old snapshot or the whole new one, never a partial mix.
type snapshot struct {
	marketByKey map[domain.MarketKey]domain.MarketID
	seriesByKey map[domain.SeriesKey]domain.SeriesID
	seriesToMkt map[domain.SeriesID]domain.MarketID
	knownMkt    map[domain.MarketID]struct{}
	activeMkt   []domain.MarketID
	activeSrs   []domain.SeriesID
	aliases     map[exchangeQuoteAlias]string // USD/USDC normalization, §4.4
}

type exchangeQuoteAlias struct {
	exchange string
	quote    string
}

// Resolver exposes resolve_series, resolve_market, and active_series.
type Resolver struct {
	db  *sqlx.DB
	cur atomic.Pointer[snapshot]
}

// New creates a Resolver with an empty snapshot; callers must call
// Refresh before serving traffic.
func New(db *sqlx.DB) *Resolver {
	r := &Resolver{db: db}
	r.cur.Store(&snapshot{
		marketByKey: map[domain.MarketKey]domain.MarketID{},
		seriesByKey: map[domain.SeriesKey]domain.SeriesID{},
		seriesToMkt: map[domain.SeriesID]domain.MarketID{},
		knownMkt:    map[domain.MarketID]struct{}{},
		aliases:     map[exchangeQuoteAlias]string{},
	})
	return r
}

// referenceRow mirrors the joined view the resolver loads at startup and
// on every Refresh.
type referenceRow struct {
	SeriesID     domain.SeriesID   `db:"series_id"`
	MarketID     domain.MarketID   `db:"market_id"`
	ExchangeName string            `db:"exchange_name"`
	CoinSymbol   string            `db:"coin_symbol"`
	QuoteSymbol  string            `db:"quote_symbol"`
	MarketType   string            `db:"market_type_name"`
	Interval     string            `db:"interval_name"`
	MarketActive bool              `db:"market_active"`
	SeriesActive bool              `db:"series_active"`
}

type aliasRow struct {
	ExchangeName string `db:"exchange_name"`
	FromQuote    string `db:"from_quote"`
	ToQuote      string `db:"to_quote"`
}

const referenceQuery = `
	SELECT
		s.id               AS series_id,
		m.id               AS market_id,
		e.name             AS exchange_name,
		b.symbol           AS coin_symbol,
		q.symbol           AS quote_symbol,
		mt.name            AS market_type_name,
		iv.name            AS interval_name,
		(e.active AND b.active AND q.active AND mt.active) AS market_active,
		(e.active AND b.active AND q.active AND mt.active AND iv.active) AS series_active
	FROM series s
	JOIN markets m ON m.id = s.market_id
	JOIN exchanges e ON e.id = m.exchange_id
	JOIN assets b ON b.id = m.base_id
	JOIN assets q ON q.id = m.quote_id
	JOIN market_types mt ON mt.id = m.market_type_id
	JOIN intervals iv ON iv.id = s.interval_id`

const aliasQuery = `SELECT exchange_name, from_quote, to_quote FROM quote_aliases`

// Refresh loads the current reference tables and atomically swaps in a new
// snapshot. Idempotent and race-free with concurrent reads: readers always
// see a complete generation.
func (r *Resolver) Refresh(ctx context.Context) error {
	var rows []referenceRow
	if err := sqlxSelect(ctx, r.db, &rows, referenceQuery); err != nil {
		return errs.New(errs.KindTransient, "reference.Refresh", err)
	}
	var aliasRows []aliasRow
	if err := sqlxSelect(ctx, r.db, &aliasRows, aliasQuery); err != nil {
		return errs.New(errs.KindTransient, "reference.Refresh", err)
	}

	next := &snapshot{
		marketByKey: make(map[domain.MarketKey]domain.MarketID, len(rows)),
		seriesByKey: make(map[domain.SeriesKey]domain.SeriesID, len(rows)),
		seriesToMkt: make(map[domain.SeriesID]domain.MarketID, len(rows)),
		knownMkt:    make(map[domain.MarketID]struct{}, len(rows)),
		aliases:     make(map[exchangeQuoteAlias]string, len(aliasRows)),
	}
	for _, a := range aliasRows {
		next.aliases[exchangeQuoteAlias{exchange: a.ExchangeName, quote: a.FromQuote}] = a.ToQuote
	}
	for _, row := range rows {
		mk := domain.MarketKey{Exchange: row.ExchangeName, Coin: row.CoinSymbol, Quote: row.QuoteSymbol, MarketType: row.MarketType}
		next.marketByKey[mk] = row.MarketID
		next.knownMkt[row.MarketID] = struct{}{}
		sk := domain.SeriesKey{MarketKey: mk, Interval: row.Interval}
		next.seriesByKey[sk] = row.SeriesID
		next.seriesToMkt[row.SeriesID] = row.MarketID
		if row.MarketActive {
			next.activeMkt = append(next.activeMkt, row.MarketID)
		}
		if row.SeriesActive {
			next.activeSrs = append(next.activeSrs, row.SeriesID)
		}
	}

	r.cur.Store(next)
	return nil
}

// normalizeQuote applies the exchange's fixed USD/USDC alias (§4.4): a
// naming adapter, not a numeric conversion.
func (s *snapshot) normalizeQuote(exchange, quote string) string {
	if alias, ok := s.aliases[exchangeQuoteAlias{exchange: exchange, quote: quote}]; ok {
		return alias
	}
	return quote
}

// ResolveMarket maps a market key to its MarketID.
func (r *Resolver) ResolveMarket(key domain.MarketKey) (domain.MarketID, error) {
	snap := r.cur.Load()
	key.Quote = snap.normalizeQuote(key.Exchange, key.Quote)
	id, ok := snap.marketByKey[key]
	if !ok {
		return 0, errs.New(errs.KindNotFound, "reference.ResolveMarket", fmt.Errorf("unknown market %+v", key))
	}
	return id, nil
}

// ResolveSeries maps a series key to its SeriesID.
func (r *Resolver) ResolveSeries(key domain.SeriesKey) (domain.SeriesID, error) {
	snap := r.cur.Load()
	key.Quote = snap.normalizeQuote(key.Exchange, key.Quote)
	id, ok := snap.seriesByKey[key]
	if !ok {
		return 0, errs.New(errs.KindNotFound, "reference.ResolveSeries", fmt.Errorf("unknown series %+v", key))
	}
	return id, nil
}

// MarketOf returns the market identifier a series belongs to. The mapping
// is set at configuration time and never rewritten (invariant, §3).
func (r *Resolver) MarketOf(id domain.SeriesID) (domain.MarketID, error) {
	snap := r.cur.Load()
	mid, ok := snap.seriesToMkt[id]
	if !ok {
		return 0, errs.New(errs.KindNotFound, "reference.MarketOf", fmt.Errorf("unknown series id %d", id))
	}
	return mid, nil
}

// IsKnownSeries reports whether id belongs to a series the reference
// tables define, active or not. Used to validate subscription keys (§4.8)
// before they're added to the registry.
func (r *Resolver) IsKnownSeries(id domain.SeriesID) bool {
	snap := r.cur.Load()
	_, ok := snap.seriesToMkt[id]
	return ok
}

// IsKnownMarket reports whether id belongs to a market the reference
// tables define, active or not.
func (r *Resolver) IsKnownMarket(id domain.MarketID) bool {
	snap := r.cur.Load()
	_, ok := snap.knownMkt[id]
	return ok
}

// ActiveSeries returns all currently active series ids.
func (r *Resolver) ActiveSeries() []domain.SeriesID {
	snap := r.cur.Load()
	out := make([]domain.SeriesID, len(snap.activeSrs))
	copy(out, snap.activeSrs)
	return out
}

// ActiveMarkets returns all currently active market ids.
func (r *Resolver) ActiveMarkets() []domain.MarketID {
	snap := r.cur.Load()
	out := make([]domain.MarketID, len(snap.activeMkt))
	copy(out, snap.activeMkt)
	return out
}

// sqlxSelect is a thin indirection over (*sqlx.DB).SelectContext so tests
// can swap in a sqlmock-backed db without touching call sites.
func sqlxSelect(ctx context.Context, db *sqlx.DB, dest interface{}, query string) error {
	return db.SelectContext(ctx, dest, query)
}
