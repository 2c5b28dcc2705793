package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creat233/finderid/internal/client/client"
	"github.com/creat233/finderid/internal/client/client/clienttest"
	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/client/storage"
	"github.com/creat233/finderid/internal/logging"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) find(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}

func setup(t *testing.T, opts Options) (*Coordinator, *clienttest.Fake, *storage.Store, *recorder) {
	t.Helper()
	db, err := storage.OpenDB(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := storage.New(db, logging.NewNop())
	fake := clienttest.New()
	c := New(fake, store, logging.NewNop(), opts)
	rec := &recorder{}
	c.OnEvent(rec.listen)
	return c, fake, store, rec
}

func enqueue(t *testing.T, s *storage.Store, et models.EntityType, a models.Action, data any) models.PendingChange {
	t.Helper()
	ch, err := s.Enqueue(context.Background(), et, a, data)
	require.NoError(t, err)
	return ch
}

func TestSyncNow_Offline(t *testing.T) {
	c, fake, store, _ := setup(t, Options{})
	enqueue(t, store, models.EntityInvoice, models.ActionCreate, map[string]any{"client_name": "Awa"})

	_, err := c.SyncNow(context.Background())
	assert.ErrorIs(t, err, ErrOffline)
	assert.Empty(t, fake.Calls())
	assert.Equal(t, 1, store.PendingCount(context.Background()))
}

func TestSyncNow_EmptyQueue(t *testing.T) {
	c, fake, _, _ := setup(t, Options{InitialOnline: true})

	res, err := c.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{}, res)
	assert.Empty(t, fake.Calls())
	assert.Equal(t, OnlineIdle, c.State())
}

func TestNotifyOnline_ReplaysInInsertionOrder(t *testing.T) {
	ctx := context.Background()
	c, fake, store, rec := setup(t, Options{})
	fake.Seed(models.CollectionInvoices, map[string]any{"id": "i1", "status": "draft"})
	fake.Seed(models.CollectionProducts, map[string]any{"id": "p1"})

	enqueue(t, store, models.EntityInvoice, models.ActionCreate, map[string]any{"client_name": "Awa"})
	enqueue(t, store, models.EntityInvoice, models.ActionUpdate, map[string]any{"id": "i1", "status": "sent"})
	enqueue(t, store, models.EntityInvoice, models.ActionUpdate, map[string]any{"id": "i1", "status": "paid"})
	enqueue(t, store, models.EntityProduct, models.ActionDelete, map[string]any{"id": "p1"})

	require.True(t, c.NotifyOnline(ctx))

	var methods []string
	for _, call := range fake.Calls() {
		methods = append(methods, call.Method)
	}
	assert.Equal(t, []string{"Insert", "Update", "Update", "Delete"}, methods)

	updates := fake.CallsTo("Update")
	assert.JSONEq(t, `{"status":"sent"}`, string(updates[0].Payload))
	assert.JSONEq(t, `{"status":"paid"}`, string(updates[1].Payload))

	assert.Equal(t, 0, store.PendingCount(ctx))
	assert.Equal(t, OnlineIdle, c.State())
	_, ok := c.LastSync(ctx)
	assert.True(t, ok)

	assert.Contains(t, rec.kinds(), EventOnline)
	finished, ok := rec.find(EventSyncFinished)
	require.True(t, ok)
	assert.Equal(t, SyncResult{Succeeded: 4}, finished.Result)

	// A second online signal while online is ignored.
	assert.False(t, c.NotifyOnline(ctx))
}

func TestDrain_ReconcilesTemporaryIDs(t *testing.T) {
	ctx := context.Background()
	c, fake, store, rec := setup(t, Options{InitialOnline: true})
	fake.NextID = func(string) string { return "s-101" }

	temp := models.Status{Base: models.Base{ID: "temp_1"}, MCardID: "m1", StatusText: "Open"}
	store.SaveStatuses(ctx, "m1", []models.Status{temp})
	enqueue(t, store, models.EntityStatus, models.ActionCreate, temp)
	enqueue(t, store, models.EntityStatus, models.ActionUpdate, map[string]any{"id": "temp_1", "status_text": "Closed"})

	res, err := c.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)

	cached := store.GetStatuses(ctx, "m1")
	require.Len(t, cached, 1)
	assert.Equal(t, "s-101", cached[0].ID)

	updates := fake.CallsTo("Update")
	require.Len(t, updates, 1)
	assert.Equal(t, "s-101", updates[0].ID)

	ev, ok := rec.find(EventReconciled)
	require.True(t, ok)
	assert.Equal(t, models.EntityStatus, ev.Entity)
	assert.Equal(t, "temp_1", ev.TempID)
	assert.Equal(t, "s-101", models.RecordID(ev.Record))
}

func TestDrain_FailureDoesNotBlockLaterChanges(t *testing.T) {
	ctx := context.Background()
	c, fake, store, _ := setup(t, Options{InitialOnline: true})
	fake.FailOn("Insert", models.CollectionInvoices, errors.New("boom"))

	failed := enqueue(t, store, models.EntityInvoice, models.ActionCreate, map[string]any{"client_name": "Awa"})
	enqueue(t, store, models.EntityStatus, models.ActionCreate, map[string]any{"mcard_id": "m1", "status_text": "Open"})

	res, err := c.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Succeeded: 1, Failed: 1}, res)

	left := store.GetPendingChanges(ctx)
	require.Len(t, left, 1)
	assert.Equal(t, failed.ID, left[0].ID)
	assert.Equal(t, 1, left[0].Attempts)
	assert.Equal(t, "boom", left[0].LastError)
	assert.Equal(t, 1, c.PendingCount())
	assert.Equal(t, OnlineIdle, c.State())
}

func TestDrain_DeadLettersAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	c, fake, store, _ := setup(t, Options{InitialOnline: true, MaxAttempts: 2})
	fake.FailOn("Insert", "", errors.New("rejected"))
	enqueue(t, store, models.EntityUserCard, models.ActionCreate, map[string]any{"card_number": "A1"})

	res, err := c.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.DeadLettered)
	assert.Equal(t, 1, store.PendingCount(ctx))

	res, err = c.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)
	assert.Equal(t, 0, store.PendingCount(ctx))

	dead := store.DeadLetters(ctx)
	require.Len(t, dead, 1)
	assert.Equal(t, 2, dead[0].Attempts)
}

func TestDrain_UnavailableGoesOffline(t *testing.T) {
	ctx := context.Background()
	c, fake, store, rec := setup(t, Options{InitialOnline: true, MaxAttempts: 1})
	fake.FailOn("Update", "", client.ErrUnavailable)
	fake.Seed(models.CollectionInvoices, map[string]any{"id": "i1"})

	enqueue(t, store, models.EntityInvoice, models.ActionCreate, map[string]any{"client_name": "Awa"})
	enqueue(t, store, models.EntityInvoice, models.ActionUpdate, map[string]any{"id": "i1", "status": "paid"})

	res, err := c.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Succeeded: 1, Failed: 1}, res)
	assert.Equal(t, Offline, c.State())
	assert.Contains(t, rec.kinds(), EventOffline)

	// Transient failures never dead-letter.
	assert.Equal(t, 1, store.PendingCount(ctx))
	assert.Empty(t, store.DeadLetters(ctx))
}

func TestNotifyOffline_StopsPassBeforeNextChange(t *testing.T) {
	ctx := context.Background()
	c, fake, store, _ := setup(t, Options{InitialOnline: true})
	fake.Hook = func(clienttest.Call) error {
		c.NotifyOffline(ctx)
		return nil
	}

	enqueue(t, store, models.EntityStatus, models.ActionCreate, map[string]any{"mcard_id": "m1", "status_text": "a"})
	enqueue(t, store, models.EntityStatus, models.ActionCreate, map[string]any{"mcard_id": "m1", "status_text": "b"})

	res, err := c.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, Offline, c.State())
	assert.Equal(t, 1, store.PendingCount(ctx))
}

func TestSyncNow_AtMostOnePass(t *testing.T) {
	ctx := context.Background()
	c, fake, store, _ := setup(t, Options{InitialOnline: true})

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fake.Hook = func(clienttest.Call) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	}
	enqueue(t, store, models.EntityStatus, models.ActionCreate, map[string]any{"mcard_id": "m1", "status_text": "a"})

	done := make(chan SyncResult)
	go func() {
		res, _ := c.SyncNow(ctx)
		done <- res
	}()

	<-entered
	assert.True(t, c.IsSyncing())
	res, err := c.SyncNow(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(release)
	first := <-done
	assert.Equal(t, 1, first.Succeeded)
	assert.Len(t, fake.CallsTo("Insert"), 1)
}

func TestNotifyOnline_DuringRunningPassDoesNotStartAnother(t *testing.T) {
	ctx := context.Background()
	c, fake, store, _ := setup(t, Options{InitialOnline: true})

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fake.Hook = func(clienttest.Call) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	}
	enqueue(t, store, models.EntityStatus, models.ActionCreate, map[string]any{"mcard_id": "m1", "status_text": "a"})

	done := make(chan SyncResult)
	go func() {
		res, _ := c.SyncNow(ctx)
		done <- res
	}()

	<-entered
	c.NotifyOffline(ctx)
	assert.Equal(t, Offline, c.State())
	require.True(t, c.NotifyOnline(ctx))
	assert.True(t, c.IsSyncing())

	close(release)
	first := <-done
	assert.Equal(t, 1, first.Succeeded)
	assert.Len(t, fake.CallsTo("Insert"), 1)
	assert.Len(t, fake.Rows(models.CollectionStatuses), 1)
	assert.Equal(t, 0, store.PendingCount(ctx))
	assert.Equal(t, OnlineIdle, c.State())
}

func TestProbe(t *testing.T) {
	ctx := context.Background()
	c, fake, store, _ := setup(t, Options{})

	fake.SetDown(true)
	assert.False(t, c.Probe(ctx))
	assert.Equal(t, Offline, c.State())

	enqueue(t, store, models.EntityStatus, models.ActionCreate, map[string]any{"mcard_id": "m1", "status_text": "a"})
	fake.SetDown(false)
	assert.True(t, c.Probe(ctx))
	assert.Equal(t, OnlineIdle, c.State())
	assert.Equal(t, 0, store.PendingCount(ctx))

	// Online with leftovers: the probe retries them.
	fake.FailOn("Insert", "", errors.New("boom"))
	enqueue(t, store, models.EntityStatus, models.ActionCreate, map[string]any{"mcard_id": "m1", "status_text": "b"})
	_, err := c.SyncNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, store.PendingCount(ctx))

	fake.FailOn("Insert", "", nil)
	assert.True(t, c.Probe(ctx))
	assert.Equal(t, 0, store.PendingCount(ctx))
}

func TestListenerPanicIsContained(t *testing.T) {
	c, _, _, rec := setup(t, Options{})
	c.OnEvent(func(Event) { panic("listener") })

	assert.NotPanics(t, func() { c.NotifyOnline(context.Background()) })
	assert.Contains(t, rec.kinds(), EventOnline)
}

func TestStart_ProbesAndPolls(t *testing.T) {
	c, _, store, _ := setup(t, Options{ProbeInterval: 10 * time.Millisecond, PendingPollInterval: 10 * time.Millisecond})

	c.Start(context.Background())
	defer c.Close()

	require.Eventually(t, c.IsOnline, time.Second, 5*time.Millisecond)

	c.NotifyOffline(context.Background())
	enqueue(t, store, models.EntityReview, models.ActionCreate, map[string]any{"mcard_id": "m1", "visitor_name": "A", "rating": 5})
	require.Eventually(t, func() bool { return store.PendingCount(context.Background()) == 0 }, time.Second, 5*time.Millisecond)
}
