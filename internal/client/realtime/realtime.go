// Package realtime is the client side of the FinderID pub/sub channel: row
// change notifications and ad-hoc broadcasts over a websocket.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/creat233/finderid/internal/common"
	"github.com/creat233/finderid/internal/dataapi"
	"github.com/creat233/finderid/internal/logging"
)

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrClosed       = errors.New("realtime: client closed")
)

// Message is an event delivered to a subscription.
type Message struct {
	Channel string
	Event   string
	Payload json.RawMessage
}

type Handler func(Message)

// Filter selects which events of a channel reach the handler. Event is
// INSERT, UPDATE, DELETE, "*" or a broadcast event name; Filter is a
// "column=eq.value" row filter.
type Filter struct {
	Event  string
	Filter string
}

type Subscription struct {
	ref     string
	channel string
	filter  Filter
	handler Handler
}

func (s *Subscription) Channel() string { return s.channel }

type Config struct {
	URL                string
	Token              func() string
	HTTPClient         *http.Client
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.Token == nil {
		c.Token = func() string { return "" }
	}
}

type Client struct {
	cfg    Config
	logger logging.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]*Subscription
	seq     int
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
	attempt int
}

func New(cfg Config, logger logging.Logger) *Client {
	cfg.defaults()
	return &Client{
		cfg:    cfg,
		logger: logger.With("module", "realtime"),
		subs:   map[string]*Subscription{},
	}
}

// Connect dials the server and keeps the connection alive in the
// background, reconnecting with exponential backoff and re-subscribing
// every live subscription. It returns the first dial error.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx, conn)
	}()
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("realtime url: %w", err)
	}
	if token := c.cfg.Token(); token != "" {
		q := u.Query()
		q.Set(common.AccessTokenHeaderName, token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPClient: c.cfg.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("realtime dial: %w", err)
	}
	return conn, nil
}

func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	for {
		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		closed := c.closed
		c.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}

		var err error
		conn, err = c.reconnect(ctx)
		if err != nil {
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f dataapi.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn(ctx, "realtime connection lost", "error", err)
			}
			return
		}
		c.dispatch(ctx, f)
	}
}

func (c *Client) reconnect(ctx context.Context) (*websocket.Conn, error) {
	for {
		delay := c.nextDelay()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn(ctx, "realtime reconnect failed", "error", err, "retry_in", delay)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.attempt = 0
		subs := make([]*Subscription, 0, len(c.subs))
		for _, s := range c.subs {
			subs = append(subs, s)
		}
		c.mu.Unlock()

		for _, s := range subs {
			if err := c.send(ctx, subscribeFrame(s)); err != nil {
				c.logger.Warn(ctx, "resubscribe failed", "channel", s.channel, "error", err)
			}
		}
		c.logger.Info(ctx, "realtime reconnected", "subscriptions", len(subs))
		return conn, nil
	}
}

func (c *Client) nextDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	base := float64(c.cfg.ReconnectBaseDelay)
	jitter := rand.Float64() * base * 0.5
	delay := math.Min(base*math.Pow(2, float64(c.attempt))+jitter, float64(c.cfg.ReconnectMaxDelay))
	c.attempt++
	return time.Duration(delay)
}

func (c *Client) dispatch(ctx context.Context, f dataapi.Frame) {
	switch f.Type {
	case dataapi.FrameEvent:
		c.mu.Lock()
		sub := c.subs[f.Ref]
		c.mu.Unlock()
		if sub == nil {
			return
		}
		c.deliver(ctx, sub, Message{Channel: f.Channel, Event: f.Event, Payload: f.Payload})
	case dataapi.FrameError:
		c.logger.Warn(ctx, "realtime server error", "ref", f.Ref, "error", f.Error)
	}
}

func (c *Client) deliver(ctx context.Context, sub *Subscription, m Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(ctx, "realtime handler panicked", "channel", m.Channel, "panic", r)
		}
	}()
	sub.handler(m)
}

func (c *Client) send(ctx context.Context, f dataapi.Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return wsjson.Write(ctx, conn, f)
}

func subscribeFrame(s *Subscription) dataapi.Frame {
	return dataapi.Frame{
		Type:    dataapi.FrameSubscribe,
		Ref:     s.ref,
		Channel: s.channel,
		Event:   s.filter.Event,
		Filter:  s.filter.Filter,
	}
}

// Subscribe registers handler for events of channel matching f. The
// subscription survives reconnects until Unsubscribe.
func (c *Client) Subscribe(ctx context.Context, channel string, f Filter, handler Handler) (*Subscription, error) {
	if _, err := dataapi.ParseFilter(f.Filter); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.seq++
	sub := &Subscription{ref: strconv.Itoa(c.seq), channel: channel, filter: f, handler: handler}
	c.subs[sub.ref] = sub
	c.mu.Unlock()

	if err := c.send(ctx, subscribeFrame(sub)); err != nil && !errors.Is(err, ErrNotConnected) {
		return sub, err
	}
	return sub, nil
}

func (c *Client) Unsubscribe(ctx context.Context, sub *Subscription) error {
	c.mu.Lock()
	if _, ok := c.subs[sub.ref]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs, sub.ref)
	c.mu.Unlock()

	err := c.send(ctx, dataapi.Frame{Type: dataapi.FrameUnsubscribe, Ref: sub.ref, Channel: sub.channel})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Broadcast publishes payload as event on channel to every subscriber.
func (c *Client) Broadcast(ctx context.Context, channel, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.send(ctx, dataapi.Frame{Type: dataapi.FrameBroadcast, Channel: channel, Event: event, Payload: raw})
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn, cancel, done := c.conn, c.cancel, c.done
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "")
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return err
}
