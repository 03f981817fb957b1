package collector

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sawpanic/cryptopulse/internal/aggregator"
	"github.com/sawpanic/cryptopulse/internal/domain"
)

// FrameKind discriminates a decoded exchange message.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameHeartbeat
	FrameCandle
	FrameFunding
	FrameOpenInterest
)

// Frame is the normalized shape an Adapter decodes every inbound WebSocket
// message into, before the Machine dispatches it (§4.4 "per-frame
// dispatch").
type Frame struct {
	Kind FrameKind

	SeriesKey domain.SeriesKey // set for FrameCandle
	Candle    domain.Candle

	MarketKey    domain.MarketKey // set for FrameFunding / FrameOpenInterest
	ExchangeTime time.Time
	Funding      aggregator.FundingTick
	OpenInterest aggregator.OpenInterestTick
}

// Adapter is the per-exchange contract (§9 "dynamic dispatch across
// exchanges"): connect, build the subscription frames, and decode inbound
// bytes. The Machine owns everything else — state transitions, backoff,
// read-idle timeouts, and per-frame error isolation.
type Adapter interface {
	// Name identifies the exchange for logging and metrics labels.
	Name() string

	// Dial opens the WebSocket connection.
	Dial(ctx context.Context) (*websocket.Conn, error)

	// SubscriptionFrames returns one wire message per configured
	// series/market to send immediately after the socket opens.
	SubscriptionFrames() ([][]byte, error)

	// AckTimeout bounds how long Subscribing waits for an acknowledgement
	// before the Machine treats the feed as passive and proceeds to Running
	// anyway (§4.4 "or enough time has passed for passive feeds").
	AckTimeout() time.Duration

	// IsAck reports whether a received frame is a subscription
	// acknowledgement. Adapters for passive feeds can always return false.
	IsAck(data []byte) bool

	// ParseFrame decodes one inbound message. A parse error is per-frame
	// and never kills the collector (§4.4): the Machine logs bounded raw
	// bytes and continues.
	ParseFrame(data []byte) (Frame, error)
}
