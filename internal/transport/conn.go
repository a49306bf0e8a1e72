package transport

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

const writeBuffer = 16

// ErrUnreachable is reported once reconnect attempts are exhausted.
var ErrUnreachable = core.NewError(core.ErrCodeUnreachable, "server unreachable")

// Options configures a Connection.
type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// MaxReconnectAttempts bounds consecutive failures; the last one is terminal.
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
}

type dialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

// Connection owns the single persistent socket to the chat server.
//
// Inbound frames are decoded and pushed to the queue in arrival order.
// Errors schedule a reconnect after a fixed delay until MaxReconnectAttempts
// consecutive failures have happened, after which the status becomes
// StatusUnreachable. A normal close does not reconnect.
type Connection struct {
	opts  Options
	queue *core.Queue
	log   *zerolog.Logger
	dial  dialFunc

	mu        sync.Mutex
	ws        *websocket.Conn
	cancel    context.CancelFunc
	writeCh   chan proto.Envelope
	status    Status
	attempt   int
	gen       uint64
	retry     *time.Timer
	listeners []func(StateEvent)
}

// New constructs a closed connection that pushes inbound events to queue.
func New(opts Options, queue *core.Queue, logger *zerolog.Logger) *Connection {
	return &Connection{
		opts:   opts,
		queue:  queue,
		log:    logger,
		dial:   dialWebSocket,
		status: StatusClosed,
	}
}

func dialWebSocket(ctx context.Context, url string) (*websocket.Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	return ws, err
}

// OnStateChange registers fn to be called after every status transition.
func (c *Connection) OnStateChange(fn func(StateEvent)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Connect closes any live socket, resets the reconnect counter and dials again.
func (c *Connection) Connect(ctx context.Context) error {
	if c.opts.URL == "" {
		return core.NewError(core.ErrCodeTransport, "empty URL")
	}
	c.mu.Lock()
	c.attempt = 0
	c.mu.Unlock()
	return c.open(ctx)
}

func (c *Connection) open(ctx context.Context) error {
	c.mu.Lock()
	c.stopRetryLocked()
	oldWS, oldCancel := c.detachLocked()
	c.gen++
	gen := c.gen
	ev := c.setStatusLocked(StatusConnecting, nil)
	c.mu.Unlock()

	closeSocket(oldWS, oldCancel, websocket.StatusNormalClosure, "replaced")
	c.emit(ev)

	dialCtx := ctx
	if c.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.opts.HandshakeTimeout)
		defer cancel()
	}

	ws, err := c.dial(dialCtx, c.opts.URL)
	if err != nil {
		c.fail(gen, err)
		return core.WrapError(core.ErrCodeTransport, "dial "+c.opts.URL, err)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = ws.Close(websocket.StatusNormalClosure, "superseded")
		return core.NewError(core.ErrCodeTransport, "connect superseded")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	writeCh := make(chan proto.Envelope, writeBuffer)
	c.ws = ws
	c.cancel = cancel
	c.writeCh = writeCh
	c.attempt = 0
	ev = c.setStatusLocked(StatusOpen, nil)
	c.mu.Unlock()

	c.log.Info().Str("url", c.opts.URL).Msg("connection open")

	go c.readLoop(runCtx, gen, ws)
	go c.writeLoop(runCtx, gen, ws, writeCh)
	c.emit(ev)
	return nil
}

// Send queues env for writing. It returns false, dropping env, when the
// connection is not open; commands are never buffered across reconnects.
func (c *Connection) Send(env proto.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusOpen {
		c.log.Debug().Str("type", env.Type).Str("status", c.status.String()).Msg("dropping send on closed connection")
		return false
	}
	select {
	case c.writeCh <- env:
		return true
	default:
		c.log.Warn().Str("type", env.Type).Msg("write buffer full, dropping send")
		return false
	}
}

// Close shuts the socket down and cancels any scheduled reconnect.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.stopRetryLocked()
	c.gen++
	ws, cancel := c.detachLocked()
	var ev StateEvent
	changed := c.status != StatusClosed
	if changed {
		ev = c.setStatusLocked(StatusClosed, nil)
	}
	c.mu.Unlock()

	closeSocket(ws, cancel, websocket.StatusNormalClosure, "client close")
	if changed {
		c.emit(ev)
	}
	return nil
}

// Status returns the current connection status.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Attempt returns the number of consecutive failures since the last open.
func (c *Connection) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Connected reports whether sends are currently accepted.
func (c *Connection) Connected() bool {
	return c.Status() == StatusOpen
}

func (c *Connection) readLoop(ctx context.Context, gen uint64, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if isExpectedDisconnect(ctx, err) {
				c.closedByPeer(gen, err)
				return
			}
			c.fail(gen, err)
			return
		}

		var env proto.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
			continue
		}
		ev := c.queue.Push(core.FromEnvelope(env))
		c.log.Debug().Str("event_id", ev.ID).Str("type", ev.Type).Msg("event queued")
	}
}

func (c *Connection) writeLoop(ctx context.Context, gen uint64, ws *websocket.Conn, ch <-chan proto.Envelope) {
	for {
		select {
		case env := <-ch:
			writeCtx := ctx
			cancel := context.CancelFunc(func() {})
			if c.opts.WriteTimeout > 0 {
				writeCtx, cancel = context.WithTimeout(ctx, c.opts.WriteTimeout)
			}
			err := wsjson.Write(writeCtx, ws, env)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warn().Err(err).Str("type", env.Type).Msg("write failed")
				c.fail(gen, err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// fail records one connection error and either schedules a reconnect or gives up.
func (c *Connection) fail(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	ws, cancel := c.detachLocked()
	c.attempt++
	attempt := c.attempt

	var ev StateEvent
	if attempt < c.opts.MaxReconnectAttempts {
		ev = c.setStatusLocked(StatusConnecting, cause)
		c.retry = time.AfterFunc(c.opts.ReconnectDelay, func() { c.redial(gen) })
	} else {
		ev = c.setStatusLocked(StatusUnreachable, core.WrapError(core.ErrCodeUnreachable, "reconnect attempts exhausted", cause))
	}
	c.mu.Unlock()

	closeSocket(ws, cancel, websocket.StatusInternalError, "connection error")

	if ev.New == StatusUnreachable {
		c.log.Error().Err(cause).Int("attempt", attempt).Msg("server unreachable, giving up")
	} else {
		c.log.Warn().Err(cause).Int("attempt", attempt).Dur("delay", c.opts.ReconnectDelay).Msg("connection error, reconnect scheduled")
	}
	c.emit(ev)
}

func (c *Connection) redial(gen uint64) {
	c.mu.Lock()
	current := gen == c.gen
	c.mu.Unlock()
	if !current {
		return
	}
	// Failures are recorded by fail inside open.
	_ = c.open(context.Background())
}

func (c *Connection) closedByPeer(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	ws, cancel := c.detachLocked()
	ev := c.setStatusLocked(StatusClosed, nil)
	c.mu.Unlock()

	closeSocket(ws, cancel, websocket.StatusNormalClosure, "")
	c.log.Info().Str("reason", websocket.CloseStatus(cause).String()).Msg("connection closed")
	c.emit(ev)
}

func (c *Connection) setStatusLocked(s Status, err error) StateEvent {
	ev := StateEvent{Old: c.status, New: s, Attempt: c.attempt, Err: err}
	c.status = s
	return ev
}

func (c *Connection) detachLocked() (*websocket.Conn, context.CancelFunc) {
	ws, cancel := c.ws, c.cancel
	c.ws, c.cancel, c.writeCh = nil, nil, nil
	return ws, cancel
}

func (c *Connection) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Connection) emit(ev StateEvent) {
	c.mu.Lock()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func closeSocket(ws *websocket.Conn, cancel context.CancelFunc, code websocket.StatusCode, reason string) {
	if cancel != nil {
		defer cancel()
	}
	if ws != nil {
		_ = ws.Close(code, reason)
	}
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
