package reference

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/cryptopulse/internal/config"
)

// Sync upserts a declarative universe configuration into the reference
// tables (exchanges, assets, market_types, intervals, quote_aliases,
// markets, series), then returns the number of markets/series it wrote.
// It never deactivates a row the config stops mentioning — operators
// retire a market explicitly, by flipping its active flag in the
// database, not by editing YAML (§4.2).
func Sync(ctx context.Context, db *sqlx.DB, universe *config.UniverseConfig) (markets, series int, err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("reference.Sync: begin: %w", err)
	}
	defer tx.Rollback()

	exchangeID := make(map[string]int64, len(universe.Exchanges))
	for _, ex := range universe.Exchanges {
		id, err := upsertExchange(ctx, tx, ex.Name)
		if err != nil {
			return 0, 0, err
		}
		exchangeID[ex.Name] = id
	}

	assetID := make(map[string]int64)
	for _, base := range universe.Assets.Base {
		id, err := upsertAsset(ctx, tx, base)
		if err != nil {
			return 0, 0, err
		}
		assetID[base] = id
	}
	for _, quote := range universe.Assets.Quote {
		id, err := upsertAsset(ctx, tx, quote)
		if err != nil {
			return 0, 0, err
		}
		assetID[quote] = id
	}

	marketTypeID := make(map[string]int64, len(universe.MarketTypes))
	for _, mt := range universe.MarketTypes {
		id, err := upsertMarketType(ctx, tx, mt)
		if err != nil {
			return 0, 0, err
		}
		marketTypeID[mt] = id
	}

	intervalID := make(map[string]int64, len(universe.Intervals))
	for _, iv := range universe.Intervals {
		id, err := upsertInterval(ctx, tx, iv.Name, iv.SecondsPerBar)
		if err != nil {
			return 0, 0, err
		}
		intervalID[iv.Name] = id
	}

	for _, ex := range universe.Exchanges {
		for from, to := range ex.QuoteAlias {
			if err := upsertQuoteAlias(ctx, tx, ex.Name, from, to); err != nil {
				return 0, 0, err
			}
		}
	}

	for _, ex := range universe.Exchanges {
		exID, ok := exchangeID[ex.Name]
		if !ok {
			continue
		}
		for _, base := range universe.Assets.Base {
			baseID, ok := assetID[base]
			if !ok {
				continue
			}
			for _, quote := range ex.Quotes {
				wireQuote := ex.NormalizeQuote(quote)
				quoteID, ok := assetID[wireQuote]
				if !ok {
					quoteID, err = upsertAsset(ctx, tx, wireQuote)
					if err != nil {
						return 0, 0, err
					}
					assetID[wireQuote] = quoteID
				}
				for _, mt := range ex.MarketTypes {
					mtID, ok := marketTypeID[mt]
					if !ok {
						continue
					}
					nativeSymbol := base + wireQuote
					marketID, err := upsertMarket(ctx, tx, exID, baseID, quoteID, mtID, nativeSymbol)
					if err != nil {
						return 0, 0, err
					}
					markets++
					for _, iv := range universe.Intervals {
						ivID, ok := intervalID[iv.Name]
						if !ok {
							continue
						}
						if err := upsertSeries(ctx, tx, marketID, ivID); err != nil {
							return 0, 0, err
						}
						series++
					}
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("reference.Sync: commit: %w", err)
	}
	return markets, series, nil
}

func upsertExchange(ctx context.Context, tx *sqlx.Tx, name string) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, `
		INSERT INTO exchanges (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, name)
	if err != nil {
		return 0, fmt.Errorf("reference.Sync: upsert exchange %q: %w", name, err)
	}
	return id, nil
}

func upsertAsset(ctx context.Context, tx *sqlx.Tx, symbol string) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, `
		INSERT INTO assets (symbol) VALUES ($1)
		ON CONFLICT (symbol) DO UPDATE SET symbol = EXCLUDED.symbol
		RETURNING id`, symbol)
	if err != nil {
		return 0, fmt.Errorf("reference.Sync: upsert asset %q: %w", symbol, err)
	}
	return id, nil
}

func upsertMarketType(ctx context.Context, tx *sqlx.Tx, name string) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, `
		INSERT INTO market_types (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, name)
	if err != nil {
		return 0, fmt.Errorf("reference.Sync: upsert market type %q: %w", name, err)
	}
	return id, nil
}

func upsertInterval(ctx context.Context, tx *sqlx.Tx, name string, secondsPerBar int32) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, `
		INSERT INTO intervals (name, seconds_per_bar) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET seconds_per_bar = EXCLUDED.seconds_per_bar
		RETURNING id`, name, secondsPerBar)
	if err != nil {
		return 0, fmt.Errorf("reference.Sync: upsert interval %q: %w", name, err)
	}
	return id, nil
}

func upsertQuoteAlias(ctx context.Context, tx *sqlx.Tx, exchange, from, to string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO quote_aliases (exchange_name, from_quote, to_quote) VALUES ($1, $2, $3)
		ON CONFLICT (exchange_name, from_quote) DO UPDATE SET to_quote = EXCLUDED.to_quote`,
		exchange, from, to)
	if err != nil {
		return fmt.Errorf("reference.Sync: upsert quote alias %s/%s: %w", exchange, from, err)
	}
	return nil
}

func upsertMarket(ctx context.Context, tx *sqlx.Tx, exchangeID, baseID, quoteID, marketTypeID int64, nativeSymbol string) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, `
		INSERT INTO markets (exchange_id, base_id, quote_id, market_type_id, native_symbol)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (exchange_id, base_id, quote_id, market_type_id)
		DO UPDATE SET native_symbol = EXCLUDED.native_symbol
		RETURNING id`, exchangeID, baseID, quoteID, marketTypeID, nativeSymbol)
	if err != nil {
		return 0, fmt.Errorf("reference.Sync: upsert market: %w", err)
	}
	return id, nil
}

func upsertSeries(ctx context.Context, tx *sqlx.Tx, marketID, intervalID int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO series (market_id, interval_id) VALUES ($1, $2)
		ON CONFLICT (market_id, interval_id) DO NOTHING`, marketID, intervalID)
	if err != nil {
		return fmt.Errorf("reference.Sync: upsert series: %w", err)
	}
	return nil
}
