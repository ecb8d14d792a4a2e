// Package stream maintains the persistent websocket subscription to the
// radar notification feed.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/geosdi/radar-archiver/internal/domain"
	"github.com/geosdi/radar-archiver/internal/observability"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// clock is a package-level time source so tests can drive reconnect waits.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source for reconnect backoff. Pass nil to reset to
// real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Handler receives each decoded notification, in stream order.
type Handler func(ctx context.Context, n domain.ProductNotification)

// Options wires a Listener.
type Options struct {
	URL              string
	SubscribePayload string
	Origin           string
	UserAgent        string

	PingInterval time.Duration
	PongTimeout  time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Listener holds one websocket connection to the feed, reconnecting forever
// with capped exponential backoff. The stream is the only source of work, so
// the listener never gives up; it stops only when its context is cancelled.
type Listener struct {
	opts      Options
	handler   Handler
	connected atomic.Bool
}

// NewListener creates a Listener that passes every decoded notification to
// handler.
func NewListener(opts Options, handler Handler) *Listener {
	return &Listener{opts: opts, handler: handler}
}

// CheckReadiness reports whether the websocket is currently connected.
func (l *Listener) CheckReadiness(context.Context) error {
	if !l.connected.Load() {
		return errors.New("notification stream is not connected")
	}
	return nil
}

// Run connects and consumes the stream until ctx is cancelled. Connection
// loss of any kind is logged and followed by a backed-off reconnect; the
// attempt counter resets after every successful connect, so a session that
// drops right away still retries at the base delay.
func (l *Listener) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, err := l.session(ctx)
		if connected {
			attempt = 0
		}
		if err != nil {
			l.opts.Logger.Warn("stream session ended", "error", err, "attempt", attempt)
		}

		if ctx.Err() != nil {
			return nil
		}

		delay := backoffDelay(l.opts.BackoffBase, l.opts.BackoffCap, attempt)
		attempt++
		l.opts.Metrics.StreamReconnects.Inc()
		l.opts.Logger.Info("reconnecting to stream", "delay", delay, "attempt", attempt)

		select {
		case <-ctx.Done():
			return nil
		case <-clock.After(delay):
		}
	}
}

// session runs one full connect-subscribe-read cycle. The returned bool
// reports whether the dial succeeded, regardless of how the session ended.
func (l *Listener) session(ctx context.Context) (bool, error) {
	conn, err := l.dial(ctx)
	if err != nil {
		return false, err
	}

	l.connected.Store(true)
	l.opts.Metrics.StreamConnected.Set(1)
	l.opts.Logger.Info("stream connected", "url", l.opts.URL)
	defer func() {
		l.connected.Store(false)
		l.opts.Metrics.StreamConnected.Set(0)
	}()

	// Unblock ReadMessage when the caller shuts down.
	closed := make(chan struct{})
	defer close(closed)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-closed:
		}
	}()
	defer conn.Close()

	if l.opts.SubscribePayload != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(l.opts.SubscribePayload)); err != nil {
			return true, fmt.Errorf("send subscribe payload: %w", err)
		}
	}

	if err := l.keepAlive(ctx, conn, closed); err != nil {
		return true, err
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, fmt.Errorf("read stream message: %w", err)
		}
		l.dispatch(ctx, message)
	}
}

func (l *Listener) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if l.opts.UserAgent != "" {
		header.Set("User-Agent", l.opts.UserAgent)
	}
	if l.opts.Origin != "" {
		header.Set("Origin", l.opts.Origin)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, l.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", l.opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", l.opts.URL, err)
	}
	return conn, nil
}

// keepAlive pings on a fixed interval and treats a missed pong as a dead
// connection: the read deadline expires and ReadMessage fails, ending the
// session.
func (l *Listener) keepAlive(ctx context.Context, conn *websocket.Conn, closed <-chan struct{}) error {
	deadline := l.opts.PingInterval + l.opts.PongTimeout
	if err := conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	go func() {
		ticker := time.NewTicker(l.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-closed:
				return
			case <-ticker.C:
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(l.opts.PongTimeout))
				if err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()
	return nil
}

// dispatch decodes one raw message and hands each notification to the
// handler. Malformed chunks are logged and skipped; they never interrupt the
// stream.
func (l *Listener) dispatch(ctx context.Context, message []byte) {
	notifications, err := domain.DecodeNotifications(message)
	if err != nil {
		l.opts.Metrics.NotificationsSkipped.WithLabelValues("malformed").Inc()
		l.opts.Logger.Warn("skipping malformed stream message", "error", err)
	}
	for _, n := range notifications {
		l.opts.Metrics.NotificationsReceived.Inc()
		l.handler(ctx, n)
	}
}

// backoffDelay returns base*2^attempt capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for range attempt {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
