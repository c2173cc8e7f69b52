package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/core"
	"github.com/vovakirdan/convosync/internal/observability"
	"github.com/vovakirdan/convosync/internal/proto"
)

const maxReconnectDelay = 30 * time.Second

// Options configures a WebSocket channel.
type Options struct {
	URL               string
	UserID            string
	Token             string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	EmitRate          float64
	EmitBurst         int
	MaxMessageBytes   int64
}

// WebSocket is a Channel over a single websocket connection. It reconnects on
// its own after connection loss but never buffers emits while down.
type WebSocket struct {
	opts    Options
	log     *zerolog.Logger
	reg     *registry
	limiter *emitLimiter

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closing   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewWebSocket builds a disconnected channel.
func NewWebSocket(opts Options, logger *zerolog.Logger) *WebSocket {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &WebSocket{
		opts:    opts,
		log:     logger,
		reg:     newRegistry(),
		limiter: newEmitLimiter(opts.EmitRate, opts.EmitBurst),
	}
}

// Connect dials the server, authenticates and starts the read loop.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return nil
	}
	w.closing = false
	w.mu.Unlock()

	conn, err := w.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.opts.URL, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	w.mu.Lock()
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	w.attach(loopCtx, conn)
	go w.run(loopCtx, conn, done)
	return nil
}

// Disconnect closes the connection and stops reconnecting.
func (w *WebSocket) Disconnect() error {
	w.mu.Lock()
	cancel, conn, done := w.cancel, w.conn, w.done
	w.closing = true
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "bye")
	}
	cancel()
	<-done

	if err != nil {
		w.log.Debug().Err(err).Msg("close websocket")
	}
	return nil
}

// On subscribes h to event.
func (w *WebSocket) On(event string, h Handler) func() {
	return w.reg.add(event, h)
}

// Emit writes one frame. It fails fast with a transport_disconnected error while
// the connection is down.
func (w *WebSocket) Emit(ctx context.Context, event string, payload any) error {
	w.mu.Lock()
	conn, connected := w.conn, w.connected
	w.mu.Unlock()

	if !connected || conn == nil {
		return core.Disconnected()
	}
	if err := w.limiter.wait(ctx); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return w.write(ctx, conn, event, payload)
}

// Connected reports whether the socket is currently up.
func (w *WebSocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, w.opts.DialTimeout)
	defer cancel()

	header := http.Header{}
	if w.opts.Token != "" {
		header.Set("Authorization", "Bearer "+w.opts.Token)
	}

	conn, _, err := websocket.Dial(dialCtx, w.opts.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	if w.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(w.opts.MaxMessageBytes)
	}
	return conn, nil
}

func (w *WebSocket) write(ctx context.Context, conn *websocket.Conn, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, w.opts.WriteTimeout)
	defer cancel()

	if err := wsjson.Write(writeCtx, conn, proto.Frame{Event: event, Data: data}); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// attach marks conn as live, authenticates and announces the connection.
func (w *WebSocket) attach(ctx context.Context, conn *websocket.Conn) {
	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	observability.SetTransportConnected(true)

	auth := proto.AuthenticateData{UserID: w.opts.UserID, Token: w.opts.Token}
	if err := w.write(ctx, conn, proto.EventAuthenticate, auth); err != nil {
		w.log.Warn().Err(err).Str("user_id", w.opts.UserID).Msg("authenticate socket")
	}

	w.log.Info().Str("url", w.opts.URL).Msg("socket connected")
	w.reg.dispatch(EventConnect, nil)
}

func (w *WebSocket) detach(conn *websocket.Conn, cause error) {
	w.mu.Lock()
	if w.conn == conn {
		w.connected = false
	}
	w.mu.Unlock()
	observability.SetTransportConnected(false)

	w.log.Info().Err(cause).Msg("socket disconnected")
	w.reg.dispatch(EventDisconnect, nil)
}

func (w *WebSocket) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		err := w.readLoop(ctx, conn)
		w.detach(conn, err)

		if ctx.Err() != nil || w.isClosing() {
			return
		}

		conn = w.reconnect(ctx)
		if conn == nil {
			return
		}
		w.attach(ctx, conn)
	}
}

func (w *WebSocket) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return err
		}
		// Lifecycle events are produced locally only.
		if frame.Event == EventConnect || frame.Event == EventDisconnect || frame.Event == "" {
			continue
		}
		observability.IncInboundEvent(frame.Event)
		w.reg.dispatch(frame.Event, frame.Data)
	}
}

// reconnect retries with doubling delay. It returns nil when attempts run out
// or the channel is shut down.
func (w *WebSocket) reconnect(ctx context.Context) *websocket.Conn {
	delay := w.opts.ReconnectDelay
	for attempt := 1; attempt <= w.opts.ReconnectAttempts; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := w.dial(ctx)
		if err == nil {
			observability.IncReconnect("ok")
			w.log.Info().Int("attempt", attempt).Msg("socket reconnected")
			return conn
		}
		observability.IncReconnect("failed")
		w.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("reconnect failed")

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}

	w.log.Error().Int("attempts", w.opts.ReconnectAttempts).Msg("giving up on reconnect")
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.mu.Unlock()
	return nil
}

func (w *WebSocket) isClosing() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closing
}
