// Package wsapi implements the client session of §4.9: a single
// accepted WebSocket connection's read loop (decode inbound actions) and
// write loop (drain the outbound queue), backed by the connection
// registry. Grounded on the collector's gorilla/websocket usage,
// generalized from an outbound-only exchange feed to a bidirectional
// client protocol.
package wsapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/reference"
	"github.com/sawpanic/cryptopulse/internal/registry"
	"github.com/sawpanic/cryptopulse/internal/storage"
)

// HistoryReadTimeout bounds the synchronous range read a subscribe-with-
// history performs before acking (§5).
const HistoryReadTimeout = 5 * time.Second

// MaxHistoryRows caps the history count a single subscribe may request.
const MaxHistoryRows = 1000

// inbound/outbound wire shapes (§4.9, §6).
type inboundFrame struct {
	Action  string   `json:"action"`
	ID      string   `json:"id,omitempty"`
	Kind    string   `json:"kind,omitempty"`
	Keys    []string `json:"keys,omitempty"`
	History int      `json:"history,omitempty"`
}

type outboundFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Key     string `json:"key,omitempty"`
	Rows    any    `json:"rows,omitempty"`
	Row     any    `json:"row,omitempty"`
}

// Session owns one client connection: it implements registry.Conn and
// drives both the read and write loops.
type Session struct {
	id       string
	conn     *websocket.Conn
	reg      *registry.Registry
	resolver *reference.Resolver
	gateway  storage.Gateway

	outbound  chan registry.Outbound
	writeMu   sync.Mutex // serializes every conn.WriteJSON/WriteControl call
	closeOnce sync.Once
	closed    chan struct{}
}

// NewSession wraps an upgraded connection and registers it.
func NewSession(id string, conn *websocket.Conn, reg *registry.Registry, resolver *reference.Resolver, gateway storage.Gateway) (*Session, error) {
	s := &Session{
		id:       id,
		conn:     conn,
		reg:      reg,
		resolver: resolver,
		gateway:  gateway,
		outbound: make(chan registry.Outbound, registry.DefaultQueueSize),
		closed:   make(chan struct{}),
	}
	if err := reg.Add(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ID implements registry.Conn.
func (s *Session) ID() string { return s.id }

// Enqueue implements registry.Conn: a non-blocking send into the bounded
// outbound queue.
func (s *Session) Enqueue(msg registry.Outbound) bool {
	select {
	case s.outbound <- msg:
		return true
	default:
		return false
	}
}

// Close implements registry.Conn: idempotent socket close plus registry
// removal.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

// Run drives both loops until the connection closes or ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	defer s.reg.Remove(s.id)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.writeLoop(ctx) }()
	go func() { defer wg.Done(); s.readLoop(ctx) }()
	wg.Wait()
}

// writeLoop drains the registry's broadcast queue (updates and heartbeat
// pings). The read loop also writes to the connection directly, for
// session-originated replies — writeMu serializes the two since
// gorilla/websocket allows at most one concurrent writer.
func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Close("shutdown")
			return
		case <-s.closed:
			return
		case msg := <-s.outbound:
			if err := s.writeUpdate(msg); err != nil {
				log.Warn().Str("conn", s.id).Err(err).Msg("wsapi: write failed")
				s.Close("write_error")
				return
			}
		}
	}
}

func (s *Session) writeUpdate(msg registry.Outbound) error {
	if msg.Type == "ping" {
		s.writeMu.Lock()
		err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
		s.writeMu.Unlock()
		if err != nil {
			return err
		}
	}
	frame := outboundFrame{Type: msg.Type}
	if msg.Type == "update" {
		frame.Kind = string(msg.Kind)
		frame.Key = fmt.Sprint(msg.Key)
		frame.Row = msg.Row
	}
	return s.writeJSON(frame)
}

// writeJSON serializes one frame write against every other writer on this
// connection (writeLoop's broadcast drain and the read loop's replies).
func (s *Session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// sendFrame writes a session-originated reply (success/error/historical/
// pong) directly from the read-loop goroutine, synchronized with
// writeLoop via writeMu. Writing synchronously — rather than queuing onto
// a second channel — preserves the history-before-live ordering
// guarantee (§4.9): the historical frames for a subscribe-with-history
// complete before handleSubscribe calls reg.Subscribe, so no live update
// can reach the registry's broadcast queue for that key beforehand.
func (s *Session) sendFrame(frame outboundFrame) {
	if err := s.writeJSON(frame); err != nil {
		log.Warn().Str("conn", s.id).Err(err).Msg("wsapi: write failed")
		s.Close("write_error")
	}
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.Close("read_closed")
	s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		s.reg.Pong(s.id)
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		default:
		}

		var in inboundFrame
		if err := s.conn.ReadJSON(&in); err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		s.handle(ctx, in)
	}
}

func (s *Session) handle(ctx context.Context, in inboundFrame) {
	switch in.Action {
	case "subscribe":
		s.handleSubscribe(ctx, in)
	case "unsubscribe":
		s.handleUnsubscribe(in)
	case "ping":
		s.sendFrame(outboundFrame{Type: "pong", ID: in.ID})
	default:
		s.sendFrame(outboundFrame{Type: "error", ID: in.ID, Code: "unknown_action", Message: in.Action})
	}
}

// handleSubscribe validates keys against the reference resolver before
// registering them (§4.8: "validate that keys reference known
// series/markets"). Keys that don't resolve are reported via a single
// unknown_key error frame; the request still proceeds with whatever keys
// did resolve.
func (s *Session) handleSubscribe(ctx context.Context, in inboundFrame) {
	kind, ids, err := decodeKindAndKeys(in.Kind, in.Keys)
	if err != nil {
		s.sendFrame(outboundFrame{Type: "error", ID: in.ID, Code: "invalid_request", Message: err.Error()})
		return
	}

	valid, unknown := s.splitKnownKeys(kind, ids)
	if len(unknown) > 0 {
		s.sendFrame(outboundFrame{Type: "error", ID: in.ID, Code: "unknown_key", Message: fmt.Sprint(unknown)})
	}
	if len(valid) == 0 {
		return
	}

	if in.History > 0 && kind == storage.KindCandle {
		if err := s.sendHistory(ctx, valid, in.History); err != nil {
			s.sendFrame(outboundFrame{Type: "error", ID: in.ID, Code: "history_read_failed", Message: err.Error()})
			return
		}
	}

	added, err := s.reg.Subscribe(s.id, kind, valid)
	if err != nil {
		s.sendFrame(outboundFrame{Type: "error", ID: in.ID, Code: "subscribe_failed", Message: err.Error()})
		return
	}
	s.sendFrame(outboundFrame{Type: "success", ID: in.ID, Rows: added})
}

// splitKnownKeys partitions ids into those the reference resolver
// recognizes for kind and those it doesn't.
func (s *Session) splitKnownKeys(kind storage.Kind, ids []int64) (valid, unknown []int64) {
	for _, id := range ids {
		var known bool
		if kind == storage.KindCandle {
			known = s.resolver.IsKnownSeries(domain.SeriesID(id))
		} else {
			known = s.resolver.IsKnownMarket(domain.MarketID(id))
		}
		if known {
			valid = append(valid, id)
		} else {
			unknown = append(unknown, id)
		}
	}
	return valid, unknown
}

func (s *Session) sendHistory(ctx context.Context, seriesIDs []int64, count int) error {
	if count > MaxHistoryRows {
		count = MaxHistoryRows
	}
	hctx, cancel := context.WithTimeout(ctx, HistoryReadTimeout)
	defer cancel()

	for _, id := range seriesIDs {
		rows, err := s.gateway.RangeCandles(hctx, domain.SeriesID(id), time.Time{}, time.Now(), count)
		if err != nil {
			return err
		}
		s.sendFrame(outboundFrame{Type: "historical", Kind: string(storage.KindCandle), Key: fmt.Sprint(id), Rows: reverseChronological(rows)})
	}
	return nil
}

func reverseChronological(rows []domain.Candle) []domain.Candle {
	out := make([]domain.Candle, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r
	}
	return out
}

func (s *Session) handleUnsubscribe(in inboundFrame) {
	kind, ids, err := decodeKindAndKeys(in.Kind, in.Keys)
	if err != nil {
		s.sendFrame(outboundFrame{Type: "error", ID: in.ID, Code: "invalid_request", Message: err.Error()})
		return
	}
	_ = s.reg.Unsubscribe(s.id, kind, ids)
	s.sendFrame(outboundFrame{Type: "success", ID: in.ID})
}

func decodeKindAndKeys(kindStr string, keyStrs []string) (storage.Kind, []int64, error) {
	var kind storage.Kind
	switch kindStr {
	case "candle", "candles":
		kind = storage.KindCandle
	case "funding":
		kind = storage.KindFundingPoint
	case "oi", "open_interest":
		kind = storage.KindOpenInterest
	default:
		return "", nil, fmt.Errorf("unknown kind %q", kindStr)
	}

	ids := make([]int64, 0, len(keyStrs))
	for _, k := range keyStrs {
		var id int64
		if _, err := fmt.Sscanf(k, "%d", &id); err != nil {
			return "", nil, fmt.Errorf("invalid key %q", k)
		}
		ids = append(ids, id)
	}
	return kind, ids, nil
}
