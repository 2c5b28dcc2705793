package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/sync/singleflight"

	"github.com/creat233/finderid/internal/client/client"
	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/client/syncer"
	"github.com/creat233/finderid/internal/common"
	"github.com/creat233/finderid/internal/logging"
)

// entityPtr is satisfied by pointers to the model types, which all embed
// models.Base.
type entityPtr[T any] interface {
	*T
	GetID() string
	SetID(id string)
	Stamp(now time.Time)
}

// binding configures a Collection for one entity kind.
type binding[T any] struct {
	entity models.EntityType
	noun   string // singular, used in user-facing messages
	plural string

	// query builds the remote select for the collection key.
	query func(key string) client.Query
	// setOwner stamps the collection key onto a new record.
	setOwner func(rec *T, key string)

	cacheGet  func(ctx context.Context, key string) []T
	cacheSave func(ctx context.Context, key string, items []T)

	// Optional overrides.
	fetch   func(ctx context.Context, key string) ([]T, error)
	insert  func(ctx context.Context, rec T) (T, error)
	prepare func(rec *T)
	// guard refuses updates and deletes of the current record.
	guard func(rec T) error
}

// Collection holds the in-memory list of one entity kind for one key
// (a card id or a user id) and applies the offline-first contract to it.
type Collection[T any, P entityPtr[T]] struct {
	binding    binding[T]
	collection string
	deps       Deps
	logger     logging.Logger

	mu      sync.RWMutex
	key     string
	items   []T
	loaded  bool
	version uint64

	group      singleflight.Group
	refreshing atomic.Bool
}

func newCollection[T any, P entityPtr[T]](deps Deps, s binding[T]) *Collection[T, P] {
	deps = deps.withDefaults()
	return &Collection[T, P]{
		binding:    s,
		collection: models.Rules[s.entity].Collection,
		deps:       deps,
		logger:     deps.Logger.With("module", "services", "entity", s.entity),
	}
}

func (c *Collection[T, P]) Key() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key
}

// Items returns a copy of the current list.
func (c *Collection[T, P]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]T{}, c.items...)
}

// Version increases every time the list is replaced or mutated.
func (c *Collection[T, P]) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Find returns the record with id from the current list.
func (c *Collection[T, P]) Find(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := c.indexOf(id)
	if i < 0 {
		var zero T
		return zero, false
	}
	return c.items[i], true
}

func (c *Collection[T, P]) indexOf(id string) int {
	for i := range c.items {
		if P(&c.items[i]).GetID() == id {
			return i
		}
	}
	return -1
}

// Load fills the list for key. Offline it reads the cache only; online it
// selects remotely and caches the result. A key already loaded from the
// service is not fetched again, and concurrent loads of one key share a
// single fetch.
func (c *Collection[T, P]) Load(ctx context.Context, key string) ([]T, error) {
	c.mu.RLock()
	if c.loaded && c.key == key {
		items := append([]T{}, c.items...)
		c.mu.RUnlock()
		return items, nil
	}
	c.mu.RUnlock()
	return c.Reload(ctx, key)
}

// Reload is Load without the already-loaded shortcut.
func (c *Collection[T, P]) Reload(ctx context.Context, key string) ([]T, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.fetchInto(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return append([]T{}, v.([]T)...), nil
}

func (c *Collection[T, P]) fetchInto(ctx context.Context, key string) ([]T, error) {
	if !c.deps.online() {
		items := c.binding.cacheGet(ctx, key)
		c.set(key, items, false)
		return items, nil
	}

	items, err := c.fetch(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrUnavailable) {
			c.logger.Warn(ctx, "service unreachable, serving cache", "key", key)
			items = c.binding.cacheGet(ctx, key)
			c.set(key, items, false)
			return items, nil
		}
		return nil, c.deps.fail(ctx, "load "+c.binding.plural, err)
	}

	c.binding.cacheSave(ctx, key, items)
	c.set(key, items, true)
	return items, nil
}

func (c *Collection[T, P]) fetch(ctx context.Context, key string) ([]T, error) {
	if c.binding.fetch != nil {
		return c.binding.fetch(ctx, key)
	}
	return client.SelectAll[T](ctx, c.deps.Client, c.collection, c.binding.query(key))
}

func (c *Collection[T, P]) set(key string, items []T, loaded bool) {
	if items == nil {
		items = []T{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
	c.items = items
	c.loaded = loaded
	c.version++
}

// Refresh re-fetches the current key in the background. The list is only
// replaced when the fetched rows differ, and a refresh already running
// makes this call a no-op. It reports whether the list changed.
func (c *Collection[T, P]) Refresh(ctx context.Context) (bool, error) {
	if !c.deps.online() {
		return false, nil
	}
	if !c.refreshing.CompareAndSwap(false, true) {
		return false, nil
	}
	defer c.refreshing.Store(false)

	key := c.Key()
	if key == "" {
		return false, nil
	}

	fresh, err := c.fetch(ctx, key)
	if err != nil {
		c.logger.Debug(ctx, "background refresh failed", "key", key, "error", err)
		return false, err
	}

	c.mu.Lock()
	if c.key != key || cmp.Equal(c.items, fresh, cmpopts.EquateEmpty()) {
		c.mu.Unlock()
		return false, nil
	}
	c.items = fresh
	c.loaded = true
	c.version++
	c.mu.Unlock()

	c.binding.cacheSave(ctx, key, fresh)
	return true, nil
}

// Create adds rec under a temporary id, then confirms it remotely or
// queues it.
func (c *Collection[T, P]) Create(ctx context.Context, rec T) Mutation[T] {
	op := "save " + c.binding.noun
	if _, err := models.RuleFor(c.binding.entity, models.ActionCreate); err != nil {
		return rejected(ctx, c.deps, op, rec, err)
	}

	key := c.Key()
	if key == "" {
		return rejected(ctx, c.deps, op, rec, fmt.Errorf("%w: %s not loaded", common.ErrorValidation, c.binding.plural))
	}
	if c.binding.setOwner != nil {
		c.binding.setOwner(&rec, key)
	}
	if c.binding.prepare != nil {
		c.binding.prepare(&rec)
	}
	if err := validate(c.deps.Validate, rec); err != nil {
		return rejected(ctx, c.deps, op, rec, err)
	}

	tempID := models.NewTempID()
	P(&rec).SetID(tempID)
	P(&rec).Stamp(c.deps.Now().UTC())

	c.mu.Lock()
	c.items = append([]T{rec}, c.items...)
	c.version++
	items := append([]T{}, c.items...)
	c.mu.Unlock()
	c.binding.cacheSave(ctx, key, items)

	m := commit(ctx, c.deps, op,
		intent{entity: c.binding.entity, action: models.ActionCreate, payload: rec},
		rec, func(ctx context.Context) (T, error) { return c.insert(ctx, rec) })
	if m.State == Confirmed {
		c.replace(ctx, key, tempID, m.Record)
	}
	return m
}

func (c *Collection[T, P]) insert(ctx context.Context, rec T) (T, error) {
	if c.binding.insert != nil {
		return c.binding.insert(ctx, rec)
	}
	P(&rec).SetID("")
	return client.InsertOne(ctx, c.deps.Client, c.collection, rec)
}

// Update merges patch into the record with id.
func (c *Collection[T, P]) Update(ctx context.Context, id string, patch models.Patch) Mutation[T] {
	op := "update " + c.binding.noun
	cur, key, err := c.current(models.ActionUpdate, id)
	if err != nil {
		return rejected(ctx, c.deps, op, cur, err)
	}
	if orphaned(ctx, c.deps, c.binding.entity, id) {
		return rejected(ctx, c.deps, op, cur, errNeverSaved(c.binding.noun, id))
	}

	patch = cleanPatch(patch)
	merged, err := models.ApplyPatch(cur, patch)
	if err != nil {
		return rejected(ctx, c.deps, op, cur, fmt.Errorf("%w: %v", common.ErrorValidation, err))
	}
	if err := validate(c.deps.Validate, merged); err != nil {
		return rejected(ctx, c.deps, op, cur, err)
	}
	P(&merged).Stamp(c.deps.Now().UTC())

	c.replace(ctx, key, id, merged)

	m := commit(ctx, c.deps, op,
		intent{entity: c.binding.entity, action: models.ActionUpdate, payload: updatePayload(id, patch), deferred: models.IsTempID(id)},
		merged, func(ctx context.Context) (T, error) {
			return client.UpdateOne[T](ctx, c.deps.Client, c.collection, id, patch)
		})
	if m.State == Confirmed {
		c.replace(ctx, key, id, m.Record)
		c.reloadQuietly(ctx, key)
	}
	return m
}

// Delete removes the record with id.
func (c *Collection[T, P]) Delete(ctx context.Context, id string) Mutation[T] {
	op := "delete " + c.binding.noun
	cur, key, err := c.current(models.ActionDelete, id)
	if err != nil {
		return rejected(ctx, c.deps, op, cur, err)
	}

	c.mu.Lock()
	if i := c.indexOf(id); i >= 0 {
		c.items = append(c.items[:i:i], c.items[i+1:]...)
		c.version++
	}
	c.mu.Unlock()
	c.deps.Store.DeleteRecord(ctx, c.binding.entity, id)

	if orphaned(ctx, c.deps, c.binding.entity, id) {
		// Nothing exists remotely; dropping the local copy is the whole delete.
		return Mutation[T]{Record: cur, State: Confirmed}
	}

	m := commit(ctx, c.deps, op,
		intent{entity: c.binding.entity, action: models.ActionDelete, payload: map[string]any{"id": id}, deferred: models.IsTempID(id)},
		cur, func(ctx context.Context) (T, error) {
			err := c.deps.Client.Delete(ctx, c.collection, id)
			if errors.Is(err, common.ErrorNotFound) {
				err = nil
			}
			return cur, err
		})
	if m.State == Confirmed {
		c.reloadQuietly(ctx, key)
	}
	return m
}

// current checks that action is allowed on the record with id.
func (c *Collection[T, P]) current(action models.Action, id string) (T, string, error) {
	var zero T
	if _, err := models.RuleFor(c.binding.entity, action); err != nil {
		return zero, "", err
	}

	c.mu.RLock()
	i := c.indexOf(id)
	key := c.key
	var cur T
	if i >= 0 {
		cur = c.items[i]
	}
	c.mu.RUnlock()

	if i < 0 {
		return zero, key, fmt.Errorf("%w: %s %s", common.ErrorNotFound, c.binding.noun, id)
	}
	if c.binding.guard != nil {
		if err := c.binding.guard(cur); err != nil {
			return cur, key, err
		}
	}
	return cur, key, nil
}

// replace swaps the record with oldID for rec, dropping any other copy of
// rec's id, and re-caches the list.
func (c *Collection[T, P]) replace(ctx context.Context, key, oldID string, rec T) {
	newID := P(&rec).GetID()

	c.mu.Lock()
	if c.key != key {
		c.mu.Unlock()
		return
	}
	out := make([]T, 0, len(c.items))
	placed := false
	for i := range c.items {
		id := P(&c.items[i]).GetID()
		if id != oldID && id != newID {
			out = append(out, c.items[i])
			continue
		}
		if !placed {
			out = append(out, rec)
			placed = true
		}
	}
	c.items = out
	c.version++
	items := append([]T{}, out...)
	c.mu.Unlock()

	if oldID != newID {
		c.deps.Store.DeleteRecord(ctx, c.binding.entity, oldID)
	}
	c.binding.cacheSave(ctx, key, items)
}

func (c *Collection[T, P]) reloadQuietly(ctx context.Context, key string) {
	items, err := c.fetch(ctx, key)
	if err != nil {
		c.logger.Debug(ctx, "reload after mutation failed", "key", key, "error", err)
		return
	}
	c.binding.cacheSave(ctx, key, items)
	c.set(key, items, true)
}

// HandleSyncEvent applies a create confirmed by a sync pass to the list.
func (c *Collection[T, P]) HandleSyncEvent(e syncer.Event) {
	if e.Kind != syncer.EventReconciled || e.Entity != c.binding.entity {
		return
	}
	var rec T
	if err := json.Unmarshal(e.Record, &rec); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(e.TempID)
	if i < 0 {
		return
	}
	c.items[i] = rec
	if j := c.indexOfAfter(P(&rec).GetID(), i); j >= 0 {
		c.items = append(c.items[:j:j], c.items[j+1:]...)
	}
	c.version++
}

func (c *Collection[T, P]) indexOfAfter(id string, after int) int {
	for i := after + 1; i < len(c.items); i++ {
		if P(&c.items[i]).GetID() == id {
			return i
		}
	}
	return -1
}
