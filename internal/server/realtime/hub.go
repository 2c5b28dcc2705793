// Package realtime serves the websocket channel clients subscribe to for
// row changes and broadcasts, plus the HTTP health endpoint.
package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/creat233/finderid/internal/dataapi"
	"github.com/creat233/finderid/internal/logging"
	"github.com/creat233/finderid/internal/server/services"
)

const sendBuffer = 64

var (
	errSlowConsumer = errors.New("realtime: subscriber too slow")
	errShutdown     = errors.New("realtime: server shutting down")
)

type subscription struct {
	channel string
	event   string
	filter  dataapi.Filter
}

func (s subscription) matches(channel, event string, payload []byte) bool {
	return s.channel == channel && dataapi.MatchEvent(s.event, event) && s.filter.Match(payload)
}

// peer is one websocket connection. Frames are queued on send and written
// by a single goroutine.
type peer struct {
	userID string
	send   chan dataapi.Frame

	mu   sync.Mutex
	subs map[string]subscription
}

func (p *peer) enqueue(f dataapi.Frame) bool {
	select {
	case p.send <- f:
		return true
	default:
		return false
	}
}

// Hub fans committed row changes and client broadcasts out to the
// subscriptions of every connected peer.
type Hub struct {
	logger logging.Logger

	mu    sync.RWMutex
	peers map[*peer]context.CancelCauseFunc
}

func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		logger: logger.With("module", "realtime_hub"),
		peers:  map[*peer]context.CancelCauseFunc{},
	}
}

// Publish delivers a row change. Private changes only reach peers signed
// in as the row owner.
func (h *Hub) Publish(ctx context.Context, c services.Change) {
	h.fanOut(ctx, nil, func(p *peer) bool {
		return !c.Private || (p.userID != "" && p.userID == c.OwnerID)
	}, c.Channel, c.Event, c.Payload)
}

func (h *Hub) fanOut(ctx context.Context, from *peer, allowed func(*peer) bool, channel, event string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for p, cancel := range h.peers {
		if p == from || !allowed(p) {
			continue
		}
		p.mu.Lock()
		for ref, sub := range p.subs {
			if !sub.matches(channel, event, payload) {
				continue
			}
			ok := p.enqueue(dataapi.Frame{Type: dataapi.FrameEvent, Ref: ref, Channel: channel, Event: event, Payload: payload})
			if !ok {
				h.logger.Warn(ctx, "dropping slow realtime peer", "user_id", p.userID)
				cancel(errSlowConsumer)
				break
			}
			delivered++
		}
		p.mu.Unlock()
	}
	return delivered
}

func (h *Hub) register(p *peer, cancel context.CancelCauseFunc) {
	h.mu.Lock()
	h.peers[p] = cancel
	h.mu.Unlock()
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
}

// Close disconnects every peer.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, cancel := range h.peers {
		cancel(errShutdown)
	}
}

// Peers reports the number of open connections.
func (h *Hub) Peers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// serve runs one connection until the client leaves or ctx ends.
func (h *Hub) serve(ctx context.Context, conn *websocket.Conn, userID string) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	p := &peer{userID: userID, send: make(chan dataapi.Frame, sendBuffer), subs: map[string]subscription{}}
	h.register(p, cancel)
	defer h.unregister(p)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-p.send:
				if err := wsjson.Write(ctx, conn, f); err != nil {
					cancel(err)
					return
				}
			}
		}
	}()

	for {
		var f dataapi.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			switch cause := context.Cause(ctx); {
			case errors.Is(cause, errSlowConsumer):
				conn.Close(websocket.StatusPolicyViolation, "too slow")
			case errors.Is(cause, errShutdown):
				conn.Close(websocket.StatusGoingAway, "shutting down")
			default:
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					h.logger.Debug(ctx, "realtime read failed", "error", err)
				}
			}
			return
		}
		h.handle(ctx, p, f)
	}
}

func (h *Hub) handle(ctx context.Context, p *peer, f dataapi.Frame) {
	switch f.Type {
	case dataapi.FrameSubscribe:
		filter, err := dataapi.ParseFilter(f.Filter)
		if err != nil {
			p.enqueue(dataapi.Frame{Type: dataapi.FrameError, Ref: f.Ref, Error: err.Error()})
			return
		}
		if f.Ref == "" || f.Channel == "" {
			p.enqueue(dataapi.Frame{Type: dataapi.FrameError, Ref: f.Ref, Error: "subscribe needs ref and channel"})
			return
		}
		p.mu.Lock()
		p.subs[f.Ref] = subscription{channel: f.Channel, event: f.Event, filter: filter}
		p.mu.Unlock()
		p.enqueue(dataapi.Frame{Type: dataapi.FrameAck, Ref: f.Ref, Channel: f.Channel})

	case dataapi.FrameUnsubscribe:
		p.mu.Lock()
		delete(p.subs, f.Ref)
		p.mu.Unlock()
		p.enqueue(dataapi.Frame{Type: dataapi.FrameAck, Ref: f.Ref, Channel: f.Channel})

	case dataapi.FrameBroadcast:
		switch {
		case p.userID == "":
			p.enqueue(dataapi.Frame{Type: dataapi.FrameError, Ref: f.Ref, Error: "broadcast requires a signed-in user"})
		case strings.HasPrefix(f.Channel, dataapi.RowsChannel("")):
			p.enqueue(dataapi.Frame{Type: dataapi.FrameError, Ref: f.Ref, Error: "rows channels are server-only"})
		default:
			n := h.fanOut(ctx, p, func(*peer) bool { return true }, f.Channel, f.Event, f.Payload)
			h.logger.Debug(ctx, "broadcast", "channel", f.Channel, "event", f.Event, "delivered", n)
		}

	default:
		p.enqueue(dataapi.Frame{Type: dataapi.FrameError, Ref: f.Ref, Error: "unknown frame type " + string(f.Type)})
	}
}
