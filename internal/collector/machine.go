package collector

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptopulse/internal/aggregator"
	"github.com/sawpanic/cryptopulse/internal/config"
	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/errs"
	"github.com/sawpanic/cryptopulse/internal/reference"
	"github.com/sawpanic/cryptopulse/internal/storage"
)

// readIdleTimeout is the default WebSocket read idle timeout (§5): no frame
// of any kind, including heartbeats, for this long means the connection is
// bad.
const readIdleTimeout = 60 * time.Second

// runningDwellToResetBackoff is the Running-state dwell time that resets
// the attempt counter (§4.4).
const runningDwellToResetBackoff = 60 * time.Second

const maxRawFrameLogBytes = 256

// Machine drives one Adapter through the shared collector state machine.
// One Machine runs in its own goroutine, started and restarted by a
// Supervisor.
type Machine struct {
	adapter    Adapter
	gateway    storage.Gateway
	resolver   *reference.Resolver
	aggregator *aggregator.Aggregator
	backoff    config.BackoffConfig

	state      atomic.Int32
	framesSeen atomic.Int64
	framesBad  atomic.Int64
	reconnects atomic.Int64
}

// New builds a Machine for one exchange adapter.
func New(adapter Adapter, gateway storage.Gateway, resolver *reference.Resolver, agg *aggregator.Aggregator, backoff config.BackoffConfig) *Machine {
	return &Machine{adapter: adapter, gateway: gateway, resolver: resolver, aggregator: agg, backoff: backoff}
}

// Name identifies the underlying exchange.
func (m *Machine) Name() string { return m.adapter.Name() }

// State reports the current state machine node.
func (m *Machine) State() State { return State(m.state.Load()) }

func (m *Machine) setState(s State) { m.state.Store(int32(s)) }

// Run drives Idle→Connecting→Subscribing→Running in a loop until ctx is
// cancelled, backing off between attempts. It returns only on
// cancellation — the Supervisor treats any other return as a crash to
// restart after a cooldown (§4.5).
func (m *Machine) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			m.setState(StateIdle)
			return ctx.Err()
		}

		runningSince, err := m.runOnce(ctx)
		if ctx.Err() != nil {
			m.setState(StateIdle)
			return ctx.Err()
		}

		if err == nil || (!runningSince.IsZero() && time.Since(runningSince) >= runningDwellToResetBackoff) {
			attempt = 0
		} else {
			attempt++
		}

		m.setState(StateIdle)
		m.reconnects.Add(1)
		delay := m.backoffDelay(attempt)
		log.Warn().Str("exchange", m.Name()).Err(err).Dur("backoff", delay).Int("attempt", attempt).Msg("collector reconnecting")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			m.setState(StateIdle)
			return ctx.Err()
		}
	}
}

func (m *Machine) backoffDelay(attempt int) time.Duration {
	base := m.backoff.GetBase()
	maxDelay := m.backoff.GetMax()
	multiplier := math.Min(float64(int(1)<<uint(min(attempt, 20))), 64)
	delay := time.Duration(float64(base) * multiplier)
	if delay > maxDelay {
		delay = maxDelay
	}
	jitterFrac := m.backoff.Jitter
	if jitterFrac <= 0 {
		jitterFrac = 0.2
	}
	jitter := time.Duration(rand.Float64() * jitterFrac * float64(delay))
	if delay+jitter > maxDelay {
		return maxDelay
	}
	return delay + jitter
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// runOnce executes one Connecting→Subscribing→Running cycle, returning the
// wall-clock time Running began (zero if it never reached Running) and the
// error that ended the cycle.
func (m *Machine) runOnce(ctx context.Context) (time.Time, error) {
	m.setState(StateConnecting)
	conn, err := m.adapter.Dial(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer conn.Close()

	m.setState(StateSubscribing)
	frames, err := m.adapter.SubscriptionFrames()
	if err != nil {
		return time.Time{}, err
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
			return time.Time{}, err
		}
	}

	if err := m.awaitAck(ctx, conn); err != nil {
		return time.Time{}, err
	}

	m.setState(StateRunning)
	runningSince := time.Now()
	return runningSince, m.readLoop(ctx, conn)
}

// awaitAck waits for the exchange's subscription acknowledgement, or for
// AckTimeout to elapse for passive feeds that never ack explicitly (§4.4).
func (m *Machine) awaitAck(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(m.adapter.AckTimeout())
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return err
			}
			// Deadline exceeded with a passive feed: proceed to Running.
			return nil
		}
		if m.adapter.IsAck(data) {
			return nil
		}
		if err := m.dispatch(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

// readLoop is the Running-state frame loop. It never returns except on
// socket error, close, or ctx cancellation — any per-frame decode failure
// is isolated and logged (§4.4).
func (m *Machine) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := m.dispatch(ctx, data); err != nil {
			return err
		}
	}
}

// dispatch decodes and routes one raw frame. It returns an error only for a
// gateway failure serious enough to treat the connection itself as bad
// (§4.4: exhausted storage retries re-enter Idle); a malformed frame is
// logged and skipped, not propagated.
func (m *Machine) dispatch(ctx context.Context, data []byte) error {
	m.framesSeen.Add(1)

	frame, err := m.adapter.ParseFrame(data)
	if err != nil {
		m.framesBad.Add(1)
		raw := data
		if len(raw) > maxRawFrameLogBytes {
			raw = raw[:maxRawFrameLogBytes]
		}
		log.Warn().Str("exchange", m.Name()).Err(err).Bytes("raw", raw).Msg("frame parse failed, skipping")
		return nil
	}

	switch frame.Kind {
	case FrameCandle:
		return m.dispatchCandle(ctx, frame)
	case FrameFunding:
		m.dispatchFunding(frame)
	case FrameOpenInterest:
		m.dispatchOpenInterest(frame)
	case FrameHeartbeat, FrameUnknown:
		// counted above via framesSeen; nothing further to do (§4.4).
	}
	return nil
}

func (m *Machine) dispatchCandle(ctx context.Context, frame Frame) error {
	seriesID, err := m.resolver.ResolveSeries(frame.SeriesKey)
	if err != nil {
		// Unconfigured series: not an error condition for the collector,
		// just nothing to persist.
		return nil
	}

	candle := frame.Candle
	candle.SeriesID = seriesID
	if err := m.gateway.UpsertCandles(ctx, seriesID, []domain.Candle{candle}); err != nil {
		log.Error().Str("exchange", m.Name()).Err(err).Int64("series_id", int64(seriesID)).Msg("candle upsert failed")
		if errs.Is(err, errs.KindDegraded) {
			return err
		}
	}
	return nil
}

func (m *Machine) dispatchFunding(frame Frame) {
	marketID, err := m.resolver.ResolveMarket(frame.MarketKey)
	if err != nil {
		return
	}
	m.aggregator.IngestFunding(marketID, frame.ExchangeTime, frame.Funding)
}

func (m *Machine) dispatchOpenInterest(frame Frame) {
	marketID, err := m.resolver.ResolveMarket(frame.MarketKey)
	if err != nil {
		return
	}
	m.aggregator.IngestOpenInterest(marketID, frame.ExchangeTime, frame.OpenInterest)
}

// Stats reports cumulative frame counters for the metrics endpoint.
func (m *Machine) Stats() (seen, bad, reconnects int64) {
	return m.framesSeen.Load(), m.framesBad.Load(), m.reconnects.Load()
}
