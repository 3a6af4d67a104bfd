// Package feed maintains the market-data push connection. Each subscribed
// instrument gets a bounded channel consumed by exactly one dispatch loop;
// when a consumer falls behind, ticks are dropped and counted instead of
// stalling the socket read loop.
package feed

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// Tick is one price update pushed by the feed.
type Tick struct {
	Instrument string          `json:"instrument"`
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	At         time.Time       `json:"ts"`
}

type subscribeFrame struct {
	Op         string `json:"op"`
	Instrument string `json:"instrument"`
}

type Feed struct {
	cfg Config

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]chan Tick

	dropped atomic.Int64
}

func New(cfg Config) *Feed {
	return &Feed{
		cfg:  cfg,
		subs: map[string]chan Tick{},
	}
}

// Subscribe registers interest in an instrument and returns its tick
// channel. Subscribing twice returns the same channel.
func (f *Feed) Subscribe(instrument string) <-chan Tick {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.subs[instrument]; ok {
		return ch
	}
	ch := make(chan Tick, f.cfg.Buffer)
	f.subs[instrument] = ch

	if f.conn != nil {
		if err := f.writeJSON(subscribeFrame{Op: "subscribe", Instrument: instrument}); err != nil {
			logger.WithError(err).WithField("instrument", instrument).
				Warn("Subscribe frame failed, will retry on reconnect")
		}
	}
	return ch
}

// Dropped reports how many ticks were discarded because a consumer channel
// was full.
func (f *Feed) Dropped() int64 {
	return f.dropped.Load()
}

// Run dials, reads and dispatches until ctx is cancelled, reconnecting with
// capped exponential backoff.
func (f *Feed) Run(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := f.connect(ctx); err != nil {
			delay := backoff(f.cfg.ReconnectBase, f.cfg.ReconnectCap, attempt)
			attempt++
			logger.WithError(err).WithField("retry_in", delay).Warn("Feed connection failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		f.readLoop(ctx)
		f.closeConn()
	}
}

func (f *Feed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	instruments := make([]string, 0, len(f.subs))
	for instrument := range f.subs {
		instruments = append(instruments, instrument)
	}
	f.mu.Unlock()

	for _, instrument := range instruments {
		if err := f.writeJSON(subscribeFrame{Op: "subscribe", Instrument: instrument}); err != nil {
			f.closeConn()
			return err
		}
	}

	if f.cfg.PingInterval > 0 {
		go f.pingLoop(ctx, conn)
	}

	logger.WithField("url", f.cfg.URL).Info("Feed connected")
	return nil
}

func (f *Feed) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		if f.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.WithError(err).Warn("Feed read failed, reconnecting")
			return
		}
		f.dispatch(msg)
	}
}

// dispatch decodes one frame and forwards it without ever blocking: a full
// consumer channel drops the tick.
func (f *Feed) dispatch(msg []byte) {
	var tick Tick
	if err := json.Unmarshal(msg, &tick); err != nil {
		logger.WithError(err).Debug("Unparseable feed frame dropped")
		return
	}
	if tick.Instrument == "" {
		return
	}

	f.mu.RLock()
	ch, ok := f.subs[tick.Instrument]
	f.mu.RUnlock()
	if !ok {
		return
	}

	select {
	case ch <- tick:
	default:
		f.dropped.Add(1)
	}
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			f.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v any) error {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (f *Feed) closeConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
}

func backoff(base, cap time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < cap; i++ {
		d *= 2
	}
	if d > cap {
		d = cap
	}
	return d
}
