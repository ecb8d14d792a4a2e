package stream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geosdi/radar-archiver/internal/domain"
	"github.com/geosdi/radar-archiver/internal/observability"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	cap30 := 30 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
		{63, 30 * time.Second}, // must not overflow
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, backoffDelay(base, cap30, tc.attempt), "attempt %d", tc.attempt)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collector gathers notifications delivered by the listener.
type collector struct {
	mu   sync.Mutex
	seen []domain.ProductNotification
}

func (c *collector) handle(_ context.Context, n domain.ProductNotification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, n)
}

func (c *collector) notifications() []domain.ProductNotification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ProductNotification(nil), c.seen...)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// feedServer runs an in-process websocket endpoint whose per-connection
// behavior is supplied by serve.
func feedServer(t *testing.T, serve func(conn *websocket.Conn, connNum int)) string {
	t.Helper()
	var conns atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn, int(conns.Add(1)))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newListener(url string, handler Handler, metrics *observability.Metrics) *Listener {
	return NewListener(Options{
		URL:              url,
		SubscribePayload: `{"action":"subscribe"}`,
		Origin:           "https://radar.example.test",
		UserAgent:        "archiver-test",
		PingInterval:     time.Second,
		PongTimeout:      time.Second,
		BackoffBase:      time.Millisecond,
		BackoffCap:       10 * time.Millisecond,
		Logger:           discardLogger(),
		Metrics:          metrics,
	}, handler)
}

func runListener(t *testing.T, l *Listener) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- l.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Error("Run did not stop after cancellation")
		}
	})
	return cancel, done
}

func TestListener_DeliversNotifications(t *testing.T) {
	subscribed := make(chan string, 1)
	url := feedServer(t, func(conn *websocket.Conn, _ int) {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(payload)

		msg := `{"productType":"VMI","time":1758794400000,"period":"PT5M"}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := &collector{}
	metrics := observability.NewMetricsForTesting()
	l := newListener(url, c.handle, metrics)
	runListener(t, l)

	select {
	case payload := <-subscribed:
		assert.JSONEq(t, `{"action":"subscribe"}`, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe payload was never sent")
	}

	require.Eventually(t, func() bool { return len(c.notifications()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := c.notifications()[0]
	assert.Equal(t, "VMI", got.ProductType)
	assert.Equal(t, int64(1758794400000), got.TimeMs)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsReceived))
	assert.NoError(t, l.CheckReadiness(context.Background()))
}

func TestListener_SkipsMalformedMessages(t *testing.T) {
	url := feedServer(t, func(conn *websocket.Conn, _ int) {
		_, _, _ = conn.ReadMessage() // subscribe
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json at all`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"productType":"SRI","time":1758794400000}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := &collector{}
	metrics := observability.NewMetricsForTesting()
	l := newListener(url, c.handle, metrics)
	runListener(t, l)

	require.Eventually(t, func() bool { return len(c.notifications()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "SRI", c.notifications()[0].ProductType)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsSkipped.WithLabelValues("malformed")))
}

func TestListener_ReconnectsAfterDrop(t *testing.T) {
	url := feedServer(t, func(conn *websocket.Conn, connNum int) {
		_, _, _ = conn.ReadMessage() // subscribe
		if connNum == 1 {
			// Drop the first connection without serving anything.
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"productType":"VMI","time":1}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := &collector{}
	metrics := observability.NewMetricsForTesting()
	l := newListener(url, c.handle, metrics)
	runListener(t, l)

	require.Eventually(t, func() bool { return len(c.notifications()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.StreamReconnects), 1.0)
}

// A session that connects but drops before serving a single frame must still
// reset the backoff: after every successful dial the next retry waits only
// the base delay, never an escalated one.
func TestListener_BackoffResetsAfterSuccessfulConnect(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Now())
	SetClock(fake)
	defer SetClock(nil)

	var conns atomic.Int64
	url := feedServer(t, func(_ *websocket.Conn, connNum int) {
		conns.Store(int64(connNum))
		// Handshake succeeded; drop without serving a frame.
	})

	l := NewListener(Options{
		URL:          url,
		PingInterval: time.Second,
		PongTimeout:  time.Second,
		BackoffBase:  time.Second,
		BackoffCap:   30 * time.Second,
		Logger:       discardLogger(),
		Metrics:      observability.NewMetricsForTesting(),
	}, func(context.Context, domain.ProductNotification) {})
	runListener(t, l)

	for i := 1; i <= 3; i++ {
		// Wait for the listener to park on the reconnect timer, then advance
		// by exactly the base delay. If the attempt counter had escalated,
		// this advance would be too small and no reconnect would happen.
		fake.BlockUntil(1)
		fake.Advance(time.Second)
		want := int64(i + 1)
		require.Eventually(t, func() bool { return conns.Load() >= want }, 2*time.Second, 5*time.Millisecond,
			"reconnect %d should follow a base-delay wait", want)
	}
}

func TestListener_StopsOnCancel(t *testing.T) {
	url := feedServer(t, func(conn *websocket.Conn, _ int) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	l := newListener(url, func(context.Context, domain.ProductNotification) {}, observability.NewMetricsForTesting())
	cancel, done := runListener(t, l)

	require.Eventually(t, func() bool {
		return l.CheckReadiness(context.Background()) == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Error(t, l.CheckReadiness(context.Background()))
}

func TestListener_NotReadyBeforeConnect(t *testing.T) {
	l := newListener("ws://127.0.0.1:1", func(context.Context, domain.ProductNotification) {}, observability.NewMetricsForTesting())
	assert.Error(t, l.CheckReadiness(context.Background()))
}
