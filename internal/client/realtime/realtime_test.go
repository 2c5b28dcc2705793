package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/creat233/finderid/internal/dataapi"
	"github.com/creat233/finderid/internal/logging"
)

// echoServer answers every broadcast with an event frame for each
// subscription registered on the same connection and channel.
type echoServer struct {
	mu     sync.Mutex
	tokens []string
	frames []dataapi.Frame
}

func (s *echoServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.tokens = append(s.tokens, r.URL.Query().Get("access_token"))
		s.mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		subs := map[string]dataapi.Frame{}
		ctx := r.Context()
		for {
			var f dataapi.Frame
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				return
			}
			s.mu.Lock()
			s.frames = append(s.frames, f)
			s.mu.Unlock()

			switch f.Type {
			case dataapi.FrameSubscribe:
				subs[f.Ref] = f
			case dataapi.FrameUnsubscribe:
				delete(subs, f.Ref)
			case dataapi.FrameBroadcast:
				for ref, sub := range subs {
					if sub.Channel == f.Channel && dataapi.MatchEvent(sub.Event, f.Event) {
						_ = wsjson.Write(ctx, conn, dataapi.Frame{
							Type: dataapi.FrameEvent, Ref: ref, Channel: f.Channel, Event: f.Event, Payload: f.Payload,
						})
					}
				}
			}
		}
	}
}

func (s *echoServer) received(kind dataapi.FrameType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		if f.Type == kind {
			n++
		}
	}
	return n
}

func newClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := New(Config{
		URL:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token: func() string { return "tok" },
	}, logging.NewNop())
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSubscribeBroadcastUnsubscribe(t *testing.T) {
	es := &echoServer{}
	srv := httptest.NewServer(es.handler(t))
	defer srv.Close()

	c := newClient(t, srv)
	ctx := context.Background()

	got := make(chan Message, 4)
	sub, err := c.Subscribe(ctx, "card:m1", Filter{Event: "status_changed"}, func(m Message) { got <- m })
	require.NoError(t, err)
	assert.Equal(t, "card:m1", sub.Channel())

	require.Eventually(t, func() bool { return es.received(dataapi.FrameSubscribe) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Broadcast(ctx, "card:m1", "status_changed", map[string]string{"id": "s1"}))

	select {
	case m := <-got:
		assert.Equal(t, "card:m1", m.Channel)
		assert.Equal(t, "status_changed", m.Event)
		var p map[string]string
		require.NoError(t, json.Unmarshal(m.Payload, &p))
		assert.Equal(t, "s1", p["id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	require.NoError(t, c.Unsubscribe(ctx, sub))
	require.NoError(t, c.Unsubscribe(ctx, sub))
	require.Eventually(t, func() bool { return es.received(dataapi.FrameUnsubscribe) == 1 }, time.Second, 10*time.Millisecond)

	es.mu.Lock()
	assert.Equal(t, "tok", es.tokens[0])
	es.mu.Unlock()
}

func TestSubscribe_InvalidFilter(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1"}, logging.NewNop())
	_, err := c.Subscribe(context.Background(), "rows:mcard_statuses", Filter{Filter: "mcard_id"}, func(Message) {})
	require.Error(t, err)
}

func TestBroadcast_NotConnected(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1"}, logging.NewNop())
	require.ErrorIs(t, c.Broadcast(context.Background(), "x", "y", nil), ErrNotConnected)

	// Subscriptions made before Connect are kept and sent on reconnect.
	_, err := c.Subscribe(context.Background(), "x", Filter{}, func(Message) {})
	require.NoError(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	srv := httptest.NewServer((&echoServer{}).handler(t))
	defer srv.Close()

	c := newClient(t, srv)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
}

func TestHandlerPanicIsContained(t *testing.T) {
	es := &echoServer{}
	srv := httptest.NewServer(es.handler(t))
	defer srv.Close()

	c := newClient(t, srv)
	ctx := context.Background()

	got := make(chan struct{}, 1)
	_, err := c.Subscribe(ctx, "ch", Filter{Event: "boom"}, func(Message) { panic("handler bug") })
	require.NoError(t, err)
	_, err = c.Subscribe(ctx, "ch", Filter{Event: "ok"}, func(Message) { got <- struct{}{} })
	require.NoError(t, err)
	require.Eventually(t, func() bool { return es.received(dataapi.FrameSubscribe) == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Broadcast(ctx, "ch", "boom", nil))
	require.NoError(t, c.Broadcast(ctx, "ch", "ok", nil))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop died after handler panic")
	}
}
