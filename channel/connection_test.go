package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShaileshJadav2732/chatsync/apperrors"
)

var upgrader = websocket.Upgrader{}

// testServer is a minimal channel endpoint: it records everything clients
// publish and lets tests push envelopes down.
type testServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	accepted int
	received chan Envelope
	reject   bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{received: make(chan Envelope, 64)}
	ts.srv = httptest.NewServer(http.HandlerFunc(ts.handle))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) rejectAuth() {
	ts.mu.Lock()
	ts.reject = true
	ts.mu.Unlock()
}

func (ts *testServer) allowAuth() {
	ts.mu.Lock()
	ts.reject = false
	ts.mu.Unlock()
}

func (ts *testServer) handle(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	reject := ts.reject
	ts.mu.Unlock()

	if reject {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ts.mu.Lock()
	ts.conns = append(ts.conns, conn)
	ts.accepted++
	ts.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if json.Unmarshal(data, &env) == nil {
			ts.received <- env
		}
	}
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) push(t *testing.T, env Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	ts.mu.Lock()
	conn := ts.conns[len(ts.conns)-1]
	ts.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func (ts *testServer) closeLatest() {
	ts.mu.Lock()
	conn := ts.conns[len(ts.conns)-1]
	ts.mu.Unlock()
	conn.Close()
}

func (ts *testServer) connections() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.accepted
}

func waitState(t *testing.T, c *Connection, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("connection never reached state %s (now %s)", want, c.State())
}

func nextEnvelope(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return Envelope{}
	}
}

func TestConnectAndDispatch(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.url()})
	defer c.Disconnect()

	got := make(chan string, 4)
	c.Subscribe(EventMessageNew, func(payload json.RawMessage) {
		got <- string(payload)
	})

	c.Connect(context.Background(), "tok")
	waitState(t, c, StateConnected)

	ts.push(t, Envelope{Event: EventMessageNew, Payload: json.RawMessage(`{"id":"m1"}`)})
	select {
	case payload := <-got:
		assert.JSONEq(t, `{"id":"m1"}`, payload)
	case <-time.After(5 * time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestHandlersInvokedInRegistrationOrder(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.url()})
	defer c.Disconnect()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	c.Subscribe(EventUserOnline, func(json.RawMessage) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	})
	c.Subscribe(EventUserOnline, func(json.RawMessage) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		close(done)
	})

	c.Connect(context.Background(), "tok")
	waitState(t, c, StateConnected)
	ts.push(t, Envelope{Event: EventUserOnline, Payload: json.RawMessage(`{"user_id":"u1"}`)})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handlers never invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, order)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.url()})
	defer c.Disconnect()

	first := make(chan struct{}, 2)
	second := make(chan struct{}, 2)
	id := c.Subscribe(EventUserOffline, func(json.RawMessage) { first <- struct{}{} })
	c.Subscribe(EventUserOffline, func(json.RawMessage) { second <- struct{}{} })
	c.Unsubscribe(EventUserOffline, id)

	c.Connect(context.Background(), "tok")
	waitState(t, c, StateConnected)
	ts.push(t, Envelope{Event: EventUserOffline, Payload: json.RawMessage(`{"user_id":"u1"}`)})

	select {
	case <-second:
	case <-time.After(5 * time.Second):
		t.Fatal("remaining handler never invoked")
	}
	select {
	case <-first:
		t.Fatal("unsubscribed handler invoked")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishWritesEnvelope(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.url()})
	defer c.Disconnect()

	c.Connect(context.Background(), "tok")
	waitState(t, c, StateConnected)

	c.Publish(EventTypingStart, map[string]string{"conversation_id": "c1", "user_id": "me"})
	env := nextEnvelope(t, ts.received)
	assert.Equal(t, EventTypingStart, env.Event)
	assert.JSONEq(t, `{"conversation_id":"c1","user_id":"me"}`, string(env.Payload))
}

func TestPublishWhileDisconnectedIsSwallowed(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:0"})
	// fire-and-forget: no panic, no error surface
	c.Publish(EventTypingStart, map[string]string{"conversation_id": "c1"})
}

func TestAuthRejectionDegradesSilently(t *testing.T) {
	ts := newTestServer(t)
	ts.rejectAuth()
	c := New(Options{URL: ts.url()})

	errs := make(chan *apperrors.ConnectionError, 1)
	c.OnError(func(cerr *apperrors.ConnectionError) { errs <- cerr })

	c.Connect(context.Background(), "bad-token")
	select {
	case cerr := <-errs:
		assert.Equal(t, apperrors.CauseAuthFailed, cerr.Cause)
	case <-time.After(5 * time.Second):
		t.Fatal("auth failure never reported")
	}
	waitState(t, c, StateDisconnected)
	// a rejected token is not retried
	assert.Equal(t, 0, ts.connections())
}

func TestConnectAfterAuthRejection(t *testing.T) {
	ts := newTestServer(t)
	ts.rejectAuth()
	c := New(Options{URL: ts.url()})
	defer c.Disconnect()

	c.Connect(context.Background(), "bad-token")
	waitState(t, c, StateDisconnected)

	// the failed run tore itself down completely; a fresh session with a
	// valid token starts clean
	ts.allowAuth()
	c.Connect(context.Background(), "fresh-token")
	waitState(t, c, StateConnected)
	assert.Equal(t, 1, ts.connections())
}

func TestReconnectReplaysRoomsAndRequestsSnapshot(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.url()})
	defer c.Disconnect()

	reconnected := make(chan struct{}, 1)
	c.OnReconnect(func() { reconnected <- struct{}{} })

	c.Connect(context.Background(), "tok")
	waitState(t, c, StateConnected)
	c.JoinRoom("conv1")
	env := nextEnvelope(t, ts.received)
	require.Equal(t, EventConversationJoin, env.Event)

	ts.closeLatest()
	select {
	case <-reconnected:
	case <-time.After(10 * time.Second):
		t.Fatal("never reconnected")
	}

	// after reconnect: the tracked room is re-joined and a fresh presence
	// snapshot is requested; message history is never replayed
	events := map[string]int{}
	for i := 0; i < 2; i++ {
		env := nextEnvelope(t, ts.received)
		events[env.Event]++
	}
	assert.Equal(t, 1, events[EventConversationJoin], "room not re-joined")
	assert.Equal(t, 1, events[EventOnlineList], "presence snapshot not requested")
	assert.GreaterOrEqual(t, ts.connections(), 2)
}

func TestReconnectBackoffPolicy(t *testing.T) {
	bo := newReconnectBackoff()
	bo.RandomizationFactor = 0

	first := bo.NextBackOff()
	second := bo.NextBackOff()
	assert.Greater(t, second, first, "retry interval must grow across failures")

	// the supervisor retries until cancelled or the token is rejected
	assert.Equal(t, time.Duration(0), bo.MaxElapsedTime)

	bo.Reset()
	assert.Equal(t, first, bo.NextBackOff(), "a successful dial resets the policy")
}

func TestDisconnectIsTerminal(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.url()})

	c.Connect(context.Background(), "tok")
	waitState(t, c, StateConnected)
	c.Disconnect()
	waitState(t, c, StateDisconnected)

	// no reconnect after an explicit disconnect
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, ts.connections())
}
