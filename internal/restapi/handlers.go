package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/reference"
	"github.com/sawpanic/cryptopulse/internal/storage"
)

// DefaultRangeLimit / MaxRangeLimit mirror the storage gateway's range
// defaults (§6).
const (
	DefaultRangeLimit = 1000
	MaxRangeLimit     = 5000
)

// Handlers implements the REST routes of §6 over the storage gateway and
// reference resolver.
type Handlers struct {
	gateway         storage.Gateway
	resolver        *reference.Resolver
	collectorStatus CollectorStatus
	dbPing          func(ctx context.Context) error
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := errorBody{}
	body.Error.Code = code
	body.Error.Message = message
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not_found", "no such route")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// rangeParams decodes start_time/end_time/limit query parameters.
func rangeParams(r *http.Request) (start, end time.Time, limit int, err error) {
	q := r.URL.Query()
	now := time.Now().UTC()

	start, err = parseTimeParam(q.Get("start_time"), time.Time{})
	if err != nil {
		return start, end, 0, fmt.Errorf("invalid start_time: %w", err)
	}
	end, err = parseTimeParam(q.Get("end_time"), now)
	if err != nil {
		return start, end, 0, fmt.Errorf("invalid end_time: %w", err)
	}

	limit = DefaultRangeLimit
	if ls := q.Get("limit"); ls != "" {
		n, convErr := strconv.Atoi(ls)
		if convErr != nil || n <= 0 {
			return start, end, 0, fmt.Errorf("invalid limit %q", ls)
		}
		limit = n
	}
	if limit > MaxRangeLimit {
		limit = MaxRangeLimit
	}
	return start, end, limit, nil
}

func parseTimeParam(v string, fallback time.Time) (time.Time, error) {
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func marketKeyFromRoute(r *http.Request) domain.MarketKey {
	v := mux.Vars(r)
	return domain.MarketKey{
		Exchange:   v["exchange"],
		Coin:       v["coin"],
		Quote:      v["quote"],
		MarketType: v["market_type"],
	}
}

// Candles handles GET /candles/{exchange}/{coin}/{quote}/{market_type}/{interval}.
func (h *Handlers) Candles(w http.ResponseWriter, r *http.Request) {
	key := domain.SeriesKey{MarketKey: marketKeyFromRoute(r), Interval: mux.Vars(r)["interval"]}

	start, end, limit, err := rangeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}

	seriesID, err := h.resolver.ResolveSeries(key)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no such series")
		return
	}

	rows, err := h.gateway.RangeCandles(r.Context(), seriesID, start, end, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": rows,
		"metadata": map[string]any{
			"exchange": key.Exchange, "coin": key.Coin, "quote": key.Quote,
			"market_type": key.MarketType, "interval": key.Interval, "count": len(rows),
		},
	})
}

// Funding handles GET /funding/{exchange}/{coin}/{quote}/{market_type}.
func (h *Handlers) Funding(w http.ResponseWriter, r *http.Request) {
	key := marketKeyFromRoute(r)

	start, end, limit, err := rangeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}

	marketID, err := h.resolver.ResolveMarket(key)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no such market")
		return
	}

	rows, err := h.gateway.RangeFundingPoints(r.Context(), marketID, start, end, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": rows,
		"metadata": map[string]any{
			"exchange": key.Exchange, "coin": key.Coin, "quote": key.Quote,
			"market_type": key.MarketType, "count": len(rows),
		},
	})
}

// OpenInterest handles GET /open-interest/{exchange}/{coin}/{quote}/{market_type}.
func (h *Handlers) OpenInterest(w http.ResponseWriter, r *http.Request) {
	key := marketKeyFromRoute(r)

	start, end, limit, err := rangeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}

	marketID, err := h.resolver.ResolveMarket(key)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no such market")
		return
	}

	rows, err := h.gateway.RangeOpenInterestPoints(r.Context(), marketID, start, end, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": rows,
		"metadata": map[string]any{
			"exchange": key.Exchange, "coin": key.Coin, "quote": key.Quote,
			"market_type": key.MarketType, "count": len(rows),
		},
	})
}

// StarListings handles GET /starlistings: enumerate every known active
// series.
func (h *Handlers) StarListings(w http.ResponseWriter, r *http.Request) {
	ids := h.resolver.ActiveSeries()
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  ids,
		"count": len(ids),
	})
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	dbStatus := "ok"
	if h.dbPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.dbPing(ctx); err != nil {
			dbStatus = "unreachable"
			status = "unhealthy"
		}
	}

	var collectors map[string]string
	if h.collectorStatus != nil {
		collectors = h.collectorStatus()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"database":   dbStatus,
		"collectors": collectors,
	})
}
