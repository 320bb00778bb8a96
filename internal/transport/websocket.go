// Package transport implements the connections batches are delivered over.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/audio-streamer/internal/observability"
	"github.com/lexiqai/audio-streamer/internal/resilience"
	"github.com/lexiqai/audio-streamer/internal/streaming"
	"github.com/lexiqai/audio-streamer/internal/wire"
)

// WebSocketConfig configures a session socket.
type WebSocketConfig struct {
	ServerURL        string // http(s) or ws(s) base URL
	SessionID        string
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration

	BreakerMaxFailures int
	BreakerReset       time.Duration

	// Reconnect, if set, re-dials after the connection drops.
	Reconnect *resilience.ReconnectConfig
}

// DefaultWebSocketConfig returns defaults for the given server and session.
func DefaultWebSocketConfig(serverURL, sessionID string) WebSocketConfig {
	return WebSocketConfig{
		ServerURL:          serverURL,
		SessionID:          sessionID,
		PingInterval:       30 * time.Second,
		WriteTimeout:       10 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		BreakerMaxFailures: 5,
		BreakerReset:       60 * time.Second,
	}
}

// SessionURL builds ws(s)://host/ws/{sessionID} from a base URL.
func SessionURL(serverURL, sessionID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(sessionID)
	return u.String(), nil
}

// WebSocket is a persistent session connection to the remote service.
// Send is safe for concurrent use.
type WebSocket struct {
	cfg     WebSocketConfig
	logger  zerolog.Logger
	dialer  *websocket.Dialer
	breaker *resilience.CircuitBreaker

	mu     sync.RWMutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu      sync.Mutex
	connected    atomic.Bool
	reconnecting atomic.Bool
	ended        atomic.Bool

	notifications chan *wire.Message
}

// NewWebSocket creates an unconnected session socket.
func NewWebSocket(cfg WebSocketConfig, logger zerolog.Logger) *WebSocket {
	d := DefaultWebSocketConfig(cfg.ServerURL, cfg.SessionID)
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = d.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = d.HandshakeTimeout
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = d.BreakerMaxFailures
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = d.BreakerReset
	}

	breaker := resilience.NewCircuitBreaker("session_ws", cfg.BreakerMaxFailures, cfg.BreakerReset)
	breaker.OnStateChange = func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
	}

	return &WebSocket{
		cfg:     cfg,
		logger:  logger.With().Str("component", "ws_transport").Logger(),
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		breaker: breaker,
		// buffered so the read pump never blocks on a slow consumer
		notifications: make(chan *wire.Message, 32),
	}
}

// Connect dials the session endpoint and starts the read and keep-alive loops.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.ctx != nil {
		w.mu.Unlock()
		return errors.New("websocket transport already started")
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	if err := w.dial(ctx); err != nil {
		w.mu.Lock()
		w.cancel()
		w.ctx, w.cancel = nil, nil
		w.mu.Unlock()
		return err
	}

	w.wg.Add(1)
	go w.keepAlive()
	return nil
}

func (w *WebSocket) dial(ctx context.Context) error {
	target, err := SessionURL(w.cfg.ServerURL, w.cfg.SessionID)
	if err != nil {
		return err
	}

	conn, resp, err := w.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", target, err)
	}

	w.mu.Lock()
	if w.ctx == nil || w.ctx.Err() != nil {
		w.mu.Unlock()
		_ = conn.Close()
		return errors.New("websocket transport closed")
	}
	w.conn = conn
	w.wg.Add(1)
	w.mu.Unlock()
	w.connected.Store(true)
	observability.SetTransportConnected("websocket", true)

	go w.readPump(conn)

	w.logger.Info().Str("url", target).Msg("Session socket connected")
	return nil
}

// IsConnected reports whether a live connection exists.
func (w *WebSocket) IsConnected() bool {
	return w.connected.Load()
}

// Send writes msg as a JSON text frame through the circuit breaker.
func (w *WebSocket) Send(ctx context.Context, msg *wire.Message) error {
	return w.breaker.Call(func() error {
		return w.write(ctx, msg)
	})
}

func (w *WebSocket) write(ctx context.Context, msg *wire.Message) error {
	if !w.connected.Load() {
		return streaming.ErrNotConnected
	}

	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()
	if conn == nil {
		return streaming.ErrNotConnected
	}

	deadline := time.Now().Add(w.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		w.markDisconnected(conn, err)
		return fmt.Errorf("write %s message: %w", msg.Type, err)
	}
	return nil
}

// Notifications delivers notification messages pushed by the server.
func (w *WebSocket) Notifications() <-chan *wire.Message {
	return w.notifications
}

// Breaker exposes the send circuit breaker for status reporting.
func (w *WebSocket) Breaker() *resilience.CircuitBreaker {
	return w.breaker
}

func (w *WebSocket) readPump(conn *websocket.Conn) {
	defer w.wg.Done()

	readWait := 2 * w.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Warn().Err(err).Msg("Session socket closed unexpectedly")
			}
			w.markDisconnected(conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		msg, err := wire.Decode(data)
		if err != nil {
			w.logger.Warn().Err(err).Msg("Ignoring malformed server message")
			continue
		}
		w.handle(conn, msg)
	}
}

func (w *WebSocket) handle(conn *websocket.Conn, msg *wire.Message) {
	switch msg.Type {
	case wire.TypePong:
		w.logger.Debug().Msg("Pong received")

	case wire.TypePing:
		pong, _ := wire.NewMessage(wire.TypePong, w.cfg.SessionID, time.Now(), nil)
		if err := w.write(context.Background(), pong); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to answer ping")
		}

	case wire.TypeNotification:
		select {
		case w.notifications <- msg:
		default:
			w.logger.Warn().Msg("Notification channel full, dropping notification")
		}

	case wire.TypeError:
		var payload wire.ErrorPayload
		_ = msg.DecodeInto(&payload)
		w.logger.Warn().Str("code", payload.Code).Str("error", payload.Message).Msg("Server reported error")

	case wire.TypeSessionEnd:
		w.logger.Info().Msg("Server ended the session")
		w.ended.Store(true)
		w.markDisconnected(conn, nil)
		_ = conn.Close()

	default:
		w.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown message type")
	}
}

// markDisconnected tears down conn once and schedules a reconnect if configured.
func (w *WebSocket) markDisconnected(conn *websocket.Conn, cause error) {
	w.mu.Lock()
	if w.conn != conn {
		w.mu.Unlock()
		return
	}
	w.conn = nil
	ctx := w.ctx
	w.mu.Unlock()

	w.connected.Store(false)
	observability.SetTransportConnected("websocket", false)
	_ = conn.Close()

	if ctx == nil || ctx.Err() != nil || w.ended.Load() || w.cfg.Reconnect == nil {
		return
	}
	if !w.reconnecting.CompareAndSwap(false, true) {
		return
	}

	w.logger.Warn().Err(cause).Msg("Session socket lost, reconnecting")
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.reconnecting.Store(false)

		rc := *w.cfg.Reconnect
		rc.Logger = &w.logger
		if err := resilience.Reconnect(ctx, w.dial, &rc); err != nil && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Giving up on session socket")
		}
	}()
}

func (w *WebSocket) keepAlive() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if !w.connected.Load() {
				continue
			}
			ping, _ := wire.NewMessage(wire.TypePing, w.cfg.SessionID, time.Now(), nil)
			if err := w.write(w.ctx, ping); err != nil {
				w.logger.Warn().Err(err).Msg("Keep-alive ping failed")
			}
		}
	}
}

// Close sends a close frame, stops background loops and waits for them.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return nil
	}
	w.cancel()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	w.connected.Store(false)
	observability.SetTransportConnected("websocket", false)

	var err error
	if conn != nil {
		w.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(time.Second))
		w.writeMu.Unlock()
		err = conn.Close()
	}

	w.wg.Wait()
	w.logger.Info().Msg("Session socket closed")
	return err
}
