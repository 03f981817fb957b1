// Package notify is the fan-out listener of §4.7: a single concurrent
// consumer of the database's row-change channel that reads back each
// changed row and hands it to a broadcaster. Grounded on lib/pq's
// pq.Listener, the teacher's choice of Postgres driver for LISTEN/NOTIFY.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptopulse/internal/storage"
)

// Channel is the single Postgres NOTIFY channel every trigger publishes on
// (§4.7: "a channel named per kind" is simplified here to one channel
// carrying the kind in its payload, avoiding three separate LISTENs).
const Channel = "cryptopulse_row_change"

// Event is a decoded row-change notification.
type Event struct {
	Kind storage.Kind
	Key  int64
	Time time.Time
}

// Broadcaster is the connection registry's ingestion point.
type Broadcaster interface {
	Broadcast(ctx context.Context, kind storage.Kind, key int64, row any)
}

// RowReader reads back the full row a notification refers to.
type RowReader interface {
	ReadRow(ctx context.Context, kind storage.Kind, key int64, at time.Time) (any, error)
}

// Listener consumes pq notifications on Channel, reads back each row, and
// broadcasts it.
type Listener struct {
	pq          *pq.Listener
	reader      RowReader
	broadcaster Broadcaster
}

// New wraps an already-constructed pq.Listener. Use NewFromDSN for the
// common case.
func New(l *pq.Listener, reader RowReader, broadcaster Broadcaster) *Listener {
	return &Listener{pq: l, reader: reader, broadcaster: broadcaster}
}

// NewFromDSN dials a dedicated LISTEN/NOTIFY connection. minReconnect/
// maxReconnect bound pq's internal backoff on connection loss.
func NewFromDSN(dsn string, minReconnect, maxReconnect time.Duration, reader RowReader, broadcaster Broadcaster) (*Listener, error) {
	eventCh := make(chan error, 1)
	l := pq.NewListener(dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("notify: listener event")
		}
		select {
		case eventCh <- err:
		default:
		}
	})
	if err := l.Listen(Channel); err != nil {
		return nil, fmt.Errorf("notify: listen %s: %w", Channel, err)
	}
	return New(l, reader, broadcaster), nil
}

// Run consumes notifications until ctx is cancelled. A malformed payload is
// logged and skipped; it never stops the loop.
func (l *Listener) Run(ctx context.Context) error {
	defer l.pq.Close()

	// pq.Listener can silently drop a notification across a reconnect; a
	// periodic ping keeps the connection from going idle past Postgres'
	// keepalive window.
	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = l.pq.Ping()
		case n, ok := <-l.pq.Notify:
			if !ok {
				return fmt.Errorf("notify: listener channel closed")
			}
			if n == nil {
				continue
			}
			l.handle(ctx, n.Extra)
		}
	}
}

func (l *Listener) handle(ctx context.Context, payload string) {
	ev, err := parsePayload(payload)
	if err != nil {
		log.Warn().Str("payload", payload).Err(err).Msg("notify: malformed payload")
		return
	}

	row, err := l.reader.ReadRow(ctx, ev.Kind, ev.Key, ev.Time)
	if err != nil {
		log.Error().Err(err).Str("kind", string(ev.Kind)).Int64("key", ev.Key).Msg("notify: read back row failed")
		return
	}
	l.broadcaster.Broadcast(ctx, ev.Kind, ev.Key, row)
}

// parsePayload decodes the "<kind>|<key>|<unix_seconds>" wire format the
// trigger in migrations/0002_notify.sql emits.
func parsePayload(payload string) (Event, error) {
	parts := strings.SplitN(payload, "|", 3)
	if len(parts) != 3 {
		return Event{}, fmt.Errorf("notify: expected 3 fields, got %d", len(parts))
	}

	var kind storage.Kind
	switch parts[0] {
	case "candle":
		kind = storage.KindCandle
	case "funding":
		kind = storage.KindFundingPoint
	case "oi":
		kind = storage.KindOpenInterest
	default:
		return Event{}, fmt.Errorf("notify: unknown kind %q", parts[0])
	}

	key, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("notify: parse key: %w", err)
	}

	secs, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("notify: parse time: %w", err)
	}

	return Event{Kind: kind, Key: key, Time: time.Unix(secs, 0).UTC()}, nil
}
