// Package syncer tracks connectivity and replays queued offline changes
// against the Remote Data Service.
//
// The Coordinator is a three-state machine: Offline, OnlineIdle and
// OnlineSyncing. Going online (a native signal or a successful probe)
// starts a drain pass; at most one pass runs at a time. A pass replays
// the queue in insertion order, removes each change as soon as it is
// confirmed and leaves failed changes queued for the next pass.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creat233/finderid/internal/client/client"
	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/client/storage"
	"github.com/creat233/finderid/internal/logging"
)

type Coordinator struct {
	client     client.Client
	store      *storage.Store
	dispatcher *Dispatcher
	logger     logging.Logger
	opts       Options
	now        func() time.Time

	mu        sync.Mutex
	state     State
	draining  bool
	pending   int
	listeners []Listener

	probing atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(c client.Client, store *storage.Store, logger logging.Logger, opts Options) *Coordinator {
	opts.defaults()
	state := Offline
	if opts.InitialOnline {
		state = OnlineIdle
	}
	return &Coordinator{
		client:     c,
		store:      store,
		dispatcher: NewDispatcher(c),
		logger:     logger.With("module", "syncer"),
		opts:       opts,
		now:        time.Now,
		state:      state,
	}
}

// OnEvent registers a listener. Listeners run synchronously on the
// goroutine that produced the event; a panicking listener is logged.
func (c *Coordinator) OnEvent(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Coordinator) emit(ctx context.Context, e Event) {
	c.mu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	e.State = c.state
	if e.Kind != EventPendingCount {
		e.Pending = c.pending
	}
	c.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error(ctx, "sync listener panicked", "panic", r)
				}
			}()
			l(e)
		}()
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) IsOnline() bool { return c.State() != Offline }

func (c *Coordinator) IsSyncing() bool { return c.State() == OnlineSyncing }

// PendingCount is the queue length as of the last poll or pass.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Coordinator) LastSync(ctx context.Context) (time.Time, bool) {
	return c.store.GetLastSync(ctx)
}

// RefreshPending re-reads the queue length and reports a change.
func (c *Coordinator) RefreshPending(ctx context.Context) int {
	n := c.store.PendingCount(ctx)

	c.mu.Lock()
	changed := n != c.pending
	c.pending = n
	c.mu.Unlock()

	if changed {
		c.emit(ctx, Event{Kind: EventPendingCount, Pending: n})
	}
	return n
}

// Start runs the connectivity probe and the pending-count poll until
// Close or ctx cancellation.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.RefreshPending(ctx)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.loop(ctx, c.opts.ProbeInterval, func(ctx context.Context) { c.Probe(ctx) })
	}()
	go func() {
		defer c.wg.Done()
		c.loop(ctx, c.opts.PendingPollInterval, func(ctx context.Context) { c.RefreshPending(ctx) })
	}()
}

func (c *Coordinator) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (c *Coordinator) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Probe checks reachability once and moves the state accordingly. A probe
// started while another is in flight is skipped.
func (c *Coordinator) Probe(ctx context.Context) bool {
	if !c.probing.CompareAndSwap(false, true) {
		return c.IsOnline()
	}
	defer c.probing.Store(false)

	pctx, cancel := context.WithTimeout(ctx, c.opts.ProbeTimeout)
	err := c.client.Ping(pctx)
	cancel()

	if err != nil {
		if ctx.Err() == nil {
			c.NotifyOffline(ctx)
		}
		return false
	}

	if !c.NotifyOnline(ctx) && c.RefreshPending(ctx) > 0 {
		// Already online: retry what earlier passes left behind.
		c.trigger(ctx)
	}
	return true
}

// NotifyOnline handles a native "online" signal. On the transition from
// Offline it drains the queue and reports true.
func (c *Coordinator) NotifyOnline(ctx context.Context) bool {
	c.mu.Lock()
	entered := c.state == Offline
	if entered {
		c.state = OnlineIdle
		if c.draining {
			// A pass from before the outage is still running and owns the queue.
			c.state = OnlineSyncing
		}
	}
	c.mu.Unlock()

	if !entered {
		return false
	}
	c.logger.Info(ctx, "connectivity restored")
	c.emit(ctx, Event{Kind: EventOnline})
	c.trigger(ctx)
	return true
}

// NotifyOffline handles a native "offline" signal. A pass in progress
// stops before its next change but keeps the drain slot until it returns.
func (c *Coordinator) NotifyOffline(ctx context.Context) {
	c.mu.Lock()
	left := c.state != Offline
	c.state = Offline
	c.mu.Unlock()

	if left {
		c.logger.Warn(ctx, "connectivity lost")
		c.emit(ctx, Event{Kind: EventOffline})
	}
}

func (c *Coordinator) trigger(ctx context.Context) {
	if _, err := c.drain(ctx); err != nil && !errors.Is(err, ErrOffline) {
		c.logger.Warn(ctx, "sync pass failed", "error", err)
	}
}

// SyncNow drains the queue immediately. It fails with ErrOffline when
// offline and returns a Skipped result when a pass is already running.
func (c *Coordinator) SyncNow(ctx context.Context) (SyncResult, error) {
	return c.drain(ctx)
}

func (c *Coordinator) drain(ctx context.Context) (SyncResult, error) {
	c.mu.Lock()
	if c.state == Offline {
		c.mu.Unlock()
		return SyncResult{}, ErrOffline
	}
	if c.draining {
		c.mu.Unlock()
		return SyncResult{Skipped: true}, nil
	}
	c.draining = true
	c.state = OnlineSyncing
	c.mu.Unlock()

	snapshot := c.store.GetPendingChanges(ctx)
	if len(snapshot) == 0 {
		c.finish(false)
		c.RefreshPending(ctx)
		return SyncResult{}, nil
	}

	c.logger.Info(ctx, "sync pass started", "pending", len(snapshot))
	c.emit(ctx, Event{Kind: EventSyncStarted, Pending: len(snapshot)})

	res, unavailable := c.replay(ctx, snapshot)

	if res.Succeeded > 0 {
		c.store.SetLastSync(ctx, c.now())
	}
	if c.finish(unavailable) {
		c.logger.Warn(ctx, "service unreachable during sync, going offline")
		c.emit(ctx, Event{Kind: EventOffline})
	}
	c.RefreshPending(ctx)

	c.logger.Info(ctx, "sync pass finished",
		"succeeded", res.Succeeded, "failed", res.Failed, "dead_lettered", res.DeadLettered)
	c.emit(ctx, Event{Kind: EventSyncFinished, Result: res})
	return res, nil
}

// finish releases the drain slot, leaves OnlineSyncing and reports whether
// the pass itself took the coordinator offline.
func (c *Coordinator) finish(offline bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draining = false
	if c.state != OnlineSyncing {
		return false
	}
	if offline {
		c.state = Offline
		return true
	}
	c.state = OnlineIdle
	return false
}

// replay walks the snapshot in order. The queue is re-read before each
// change so payloads remapped by an earlier create are replayed with the
// confirmed id.
func (c *Coordinator) replay(ctx context.Context, snapshot []models.PendingChange) (SyncResult, bool) {
	var res SyncResult
	unavailable := false

	inSnapshot := make(map[string]bool, len(snapshot))
	for _, ch := range snapshot {
		inSnapshot[ch.ID] = true
	}
	done := map[string]bool{}

	for {
		if ctx.Err() != nil || c.State() == Offline {
			break
		}
		change, ok := c.next(ctx, inSnapshot, done)
		if !ok {
			break
		}
		done[change.ID] = true

		record, err := c.dispatcher.Replay(ctx, change)
		if err != nil {
			res.Failed++
			transient := errors.Is(err, client.ErrUnavailable)
			if transient {
				unavailable = true
			}
			dead := errors.Is(err, models.ErrUnsupportedChange) ||
				(!transient && c.opts.MaxAttempts > 0 && change.Attempts+1 >= c.opts.MaxAttempts)
			if dead {
				res.DeadLettered++
			}
			c.store.RecordAttempt(ctx, change.ID, err, dead)
			c.logger.Warn(ctx, "replay failed",
				"id", change.ID, "type", change.Type, "action", change.Action,
				"attempt", change.Attempts+1, "dead_letter", dead, "error", err)
			continue
		}

		c.store.RemovePendingChange(ctx, change.ID)
		res.Succeeded++

		if change.Action == models.ActionCreate {
			c.reconcile(ctx, change, record)
		}
	}
	return res, unavailable
}

func (c *Coordinator) next(ctx context.Context, inSnapshot, done map[string]bool) (models.PendingChange, bool) {
	for _, ch := range c.store.GetPendingChanges(ctx) {
		if inSnapshot[ch.ID] && !done[ch.ID] {
			return ch, true
		}
	}
	return models.PendingChange{}, false
}

func (c *Coordinator) reconcile(ctx context.Context, change models.PendingChange, record json.RawMessage) {
	tempID := models.RecordID(change.Data)
	newID := models.RecordID(record)
	if tempID == "" || newID == "" || tempID == newID {
		return
	}

	c.store.ReconcileID(ctx, change.Type, tempID, record)
	remapped := c.store.RemapPendingID(ctx, tempID, newID)
	c.logger.Debug(ctx, "create confirmed", "type", change.Type, "temp_id", tempID, "id", newID, "remapped", remapped)

	c.emit(ctx, Event{Kind: EventReconciled, Entity: change.Type, TempID: tempID, Record: record})
}
