// Package channel owns the lifecycle of one authenticated bidirectional
// event channel per session and exposes a typed publish/subscribe surface
// to the rest of the sync core.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ShaileshJadav2732/chatsync/apperrors"
)

// State is the connectivity state surfaced to the presentation layer.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler receives the raw payload of one event. Handlers run on the read
// pump and must not block.
type Handler func(payload json.RawMessage)

type subscription struct {
	id int
	fn Handler
}

const (
	defaultPublishRate = 20 // events/sec, typing bursts must not flood the socket
	pingInterval       = 25 * time.Second
	writeDeadline      = 10 * time.Second
	maxMessageSize     = 64 * 1024
)

type Options struct {
	URL         string // ws:// or wss:// endpoint
	Logger      *zap.SugaredLogger
	PublishRate int
	Dialer      *websocket.Dialer
}

// Connection supervises one channel. Publish is fire-and-forget: no
// acknowledgment is modeled and callers must not assume delivery.
// Connection errors are reported through OnError, never returned into
// caller code.
type Connection struct {
	url     string
	log     *zap.SugaredLogger
	limiter *rate.Limiter
	dialer  *websocket.Dialer

	mu          sync.Mutex
	ws          *websocket.Conn
	state       State
	token       string
	closed      bool
	cancel      context.CancelFunc
	handlers    map[string][]subscription
	nextSubID   int
	rooms       map[string]struct{}
	onError     []func(*apperrors.ConnectionError)
	onState     []func(State)
	onReconnect []func()

	writeMu sync.Mutex
}

func New(opts Options) *Connection {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	rps := opts.PublishRate
	if rps <= 0 {
		rps = defaultPublishRate
	}
	d := opts.Dialer
	if d == nil {
		d = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &Connection{
		url:      opts.URL,
		log:      opts.Logger,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		dialer:   d,
		handlers: make(map[string][]subscription),
		rooms:    make(map[string]struct{}),
	}
}

// OnError registers a connection-error callback.
func (c *Connection) OnError(fn func(*apperrors.ConnectionError)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = append(c.onError, fn)
}

// OnStateChange registers a connectivity-state callback.
func (c *Connection) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// OnReconnect fires after a transport-level reconnection, once rooms have
// been re-joined and the presence re-snapshot has been requested.
func (c *Connection) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = append(c.onReconnect, fn)
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the channel using the session token for authentication and
// supervises it until Disconnect. Auth rejection degrades silently to the
// disconnected state; the cause is reported through OnError.
func (c *Connection) Connect(ctx context.Context, sessionToken string) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.closed = false
	c.token = sessionToken
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.setState(StateConnecting)
	go c.supervise(runCtx, cancel)
}

// Disconnect tears the channel down. Dependent components must treat their
// derived state as stale after this returns.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
	c.setState(StateDisconnected)
}

// supervise dials, pumps, and re-dials with exponential backoff until the
// context is cancelled or the server rejects the token.
func (c *Connection) supervise(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	reconnect := false
	bo := newReconnectBackoff()
	for {
		ws, connErr := c.dial(ctx)
		if connErr != nil {
			c.reportError(connErr)
			if connErr.Cause == apperrors.CauseAuthFailed {
				// a rejected token will not become valid by retrying
				c.setState(StateDisconnected)
				return
			}
			if !c.waitBackoff(ctx, bo) {
				c.setState(StateDisconnected)
				return
			}
			continue
		}
		bo.Reset()

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = ws.Close()
			return
		}
		c.ws = ws
		c.mu.Unlock()
		c.setState(StateConnected)

		if reconnect {
			c.rejoinRooms()
			// history is never replayed over the channel; only presence
			// needs a fresh snapshot
			c.Publish(EventOnlineList, nil)
			for _, fn := range c.reconnectHooks() {
				fn()
			}
		}
		reconnect = true

		stopPing := c.startPing(ws)
		err := c.readPump(ws)
		stopPing()
		_ = ws.Close()

		c.mu.Lock()
		closed := c.closed
		c.ws = nil
		c.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}
		c.log.Warnw("channel dropped, reconnecting", "error", err)
		c.setState(StateConnecting)
		if !c.waitBackoff(ctx, bo) {
			c.setState(StateDisconnected)
			return
		}
	}
}

func (c *Connection) dial(ctx context.Context) (*websocket.Conn, *apperrors.ConnectionError) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err == nil {
		return ws, nil
	}
	if resp != nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, &apperrors.ConnectionError{Cause: apperrors.CauseAuthFailed, Err: err}
		}
	}
	var nerr net.Error
	if (errors.As(err, &nerr) && nerr.Timeout()) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return nil, &apperrors.ConnectionError{Cause: apperrors.CauseTimeout, Err: err}
	}
	return nil, &apperrors.ConnectionError{Cause: apperrors.CauseUnknown, Err: err}
}

// newReconnectBackoff is the redial policy for one supervise run: intervals
// grow across consecutive failures, reset after a successful dial, and the
// supervisor never gives up on its own.
func newReconnectBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	return bo
}

// waitBackoff sleeps one step of the run's backoff. Returns false when the
// supervising context is done.
func (c *Connection) waitBackoff(ctx context.Context, bo backoff.BackOff) bool {
	select {
	case <-time.After(bo.NextBackOff()):
		return ctx.Err() == nil
	case <-ctx.Done():
		return false
	}
}

func (c *Connection) readPump(ws *websocket.Conn) error {
	ws.SetReadLimit(maxMessageSize)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// malformed frame, ignore
			c.log.Debugw("dropping malformed channel frame", "error", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Connection) dispatch(env Envelope) {
	c.mu.Lock()
	subs := make([]subscription, len(c.handlers[env.Event]))
	copy(subs, c.handlers[env.Event])
	c.mu.Unlock()

	// registration order
	for _, s := range subs {
		s.fn(env.Payload)
	}
}

func (c *Connection) startPing(ws *websocket.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.writeMu.Lock()
				_ = ws.SetWriteDeadline(time.Now().Add(writeDeadline))
				err := ws.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// Publish emits one event, fire-and-forget. Errors and rate-limited drops
// are logged, never returned.
func (c *Connection) Publish(event string, payload any) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		c.log.Debugw("publish while disconnected, dropping", "event", event)
		return
	}
	if !c.limiter.Allow() {
		c.log.Debugw("publish rate exceeded, dropping", "event", event)
		return
	}

	env := Envelope{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.log.Warnw("publish payload not serializable", "event", event, "error", err)
			return
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		c.log.Warnw("publish envelope not serializable", "event", event, "error", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Debugw("publish failed", "event", event, "error", err)
	}
}

// Subscribe registers a handler for an event; multiple handlers per event
// are invoked in registration order. The returned id deregisters through
// Unsubscribe.
func (c *Connection) Subscribe(event string, h Handler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSubID++
	c.handlers[event] = append(c.handlers[event], subscription{id: c.nextSubID, fn: h})
	return c.nextSubID
}

func (c *Connection) Unsubscribe(event string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.handlers[event]
	for i, s := range subs {
		if s.id == id {
			c.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(c.handlers[event]) == 0 {
		delete(c.handlers, event)
	}
}

// JoinRoom announces interest in a conversation's live events. Joined rooms
// are replayed automatically after a reconnect.
func (c *Connection) JoinRoom(conversationID string) {
	c.mu.Lock()
	c.rooms[conversationID] = struct{}{}
	c.mu.Unlock()
	c.Publish(EventConversationJoin, RoomRef{ConversationID: conversationID})
}

func (c *Connection) LeaveRoom(conversationID string) {
	c.mu.Lock()
	delete(c.rooms, conversationID)
	c.mu.Unlock()
	c.Publish(EventConversationLeave, RoomRef{ConversationID: conversationID})
}

func (c *Connection) rejoinRooms() {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.mu.Unlock()
	for _, id := range rooms {
		c.Publish(EventConversationJoin, RoomRef{ConversationID: id})
	}
}

func (c *Connection) reconnectHooks() []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]func(){}, c.onReconnect...)
}

func (c *Connection) reportError(cerr *apperrors.ConnectionError) {
	c.log.Warnw("channel connection error", "cause", cerr.Cause, "error", cerr.Err)
	c.mu.Lock()
	fns := append([]func(*apperrors.ConnectionError){}, c.onError...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(cerr)
	}
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fns := append([]func(State){}, c.onState...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}
