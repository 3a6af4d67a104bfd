package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Buffer:        2,
		ReadTimeout:   time.Second,
		ReconnectBase: 10 * time.Millisecond,
		ReconnectCap:  50 * time.Millisecond,
	}
}

func tickFrame(t *testing.T, instrument string, price int64) []byte {
	t.Helper()
	b, err := json.Marshal(Tick{
		Instrument: instrument,
		Price:      decimal.NewFromInt(price),
		At:         time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return b
}

func TestDispatchRoutesToSubscriber(t *testing.T) {
	f := New(testConfig())
	ch := f.Subscribe("XYZ")

	f.dispatch(tickFrame(t, "XYZ", 101))

	select {
	case tick := <-ch:
		require.Equal(t, "XYZ", tick.Instrument)
		require.True(t, tick.Price.Equal(decimal.NewFromInt(101)))
	default:
		t.Fatal("tick not delivered")
	}
}

func TestDispatchIgnoresUnsubscribedInstrument(t *testing.T) {
	f := New(testConfig())
	f.Subscribe("XYZ")

	f.dispatch(tickFrame(t, "OTHER", 50))
	require.Zero(t, f.Dropped())
}

func TestDispatchDropsWhenConsumerLagsBehind(t *testing.T) {
	f := New(testConfig())
	ch := f.Subscribe("XYZ")

	for i := 0; i < 5; i++ {
		f.dispatch(tickFrame(t, "XYZ", int64(100+i)))
	}

	// Buffer of two: two delivered, three counted as dropped.
	require.Equal(t, int64(3), f.Dropped())
	require.Len(t, ch, 2)

	first := <-ch
	require.True(t, first.Price.Equal(decimal.NewFromInt(100)))
}

func TestDispatchSurvivesGarbageFrames(t *testing.T) {
	f := New(testConfig())
	f.Subscribe("XYZ")

	f.dispatch([]byte("not json"))
	f.dispatch([]byte(`{"price":"1"}`))
	require.Zero(t, f.Dropped())
}

func TestSubscribeIsIdempotent(t *testing.T) {
	f := New(testConfig())
	a := f.Subscribe("XYZ")
	b := f.Subscribe("XYZ")
	require.Equal(t, a, b)
}

func TestRunReceivesTicksFromServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Wait for the subscribe frame, then push one tick.
		var frame subscribeFrame
		require.NoError(t, conn.ReadJSON(&frame))
		require.Equal(t, "subscribe", frame.Op)
		require.Equal(t, "XYZ", frame.Instrument)

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, tickFrame(t, "XYZ", 250)))

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")

	f := New(cfg)
	ch := f.Subscribe("XYZ")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	select {
	case tick := <-ch:
		require.True(t, tick.Price.Equal(decimal.NewFromInt(250)))
	case <-time.After(3 * time.Second):
		t.Fatal("no tick received")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}
}
