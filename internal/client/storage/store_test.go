package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/logging"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenDB(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, logging.NewNop())
}

func status(id, mcardID, text string) models.Status {
	return models.Status{Base: models.Base{ID: id}, MCardID: mcardID, StatusText: text}
}

func TestOpenDB_RunsMigrationsTwice(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	db, err := OpenDB(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenDB(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"cache_entries", "pending_changes", "metadata", "goose_db_version"} {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}

func TestLists_EmptyAndRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	got := s.GetStatuses(ctx, "m1")
	require.NotNil(t, got)
	assert.Empty(t, got)

	s.SaveStatuses(ctx, "m1", []models.Status{status("s2", "m1", "Busy"), status("s1", "m1", "Open")})
	got = s.GetStatuses(ctx, "m1")
	require.Len(t, got, 2)
	assert.Equal(t, "s2", got[0].ID)
	assert.Equal(t, "Open", got[1].StatusText)

	s.SaveStatuses(ctx, "m1", nil)
	assert.Empty(t, s.GetStatuses(ctx, "m1"))

	s.SaveInvoices(ctx, "u1", []models.Invoice{{Base: models.Base{ID: "i1"}, ClientName: "Awa"}})
	assert.Len(t, s.GetInvoices(ctx, "u1"), 1)
	assert.Empty(t, s.GetInvoices(ctx, "u2"))
}

func TestSingles(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, ok := s.GetMCard(ctx, "jane")
	assert.False(t, ok)

	s.SaveMCard(ctx, models.MCard{Base: models.Base{ID: "m1"}, Slug: "jane", FullName: "Jane"})
	card, ok := s.GetMCard(ctx, "jane")
	require.True(t, ok)
	assert.Equal(t, "m1", card.ID)

	s.SaveReportedCard(ctx, models.ReportedCard{Base: models.Base{ID: "r1"}, CardNumber: "123"})
	rc, ok := s.GetReportedCard(ctx, "r1")
	require.True(t, ok)
	assert.Equal(t, "123", rc.CardNumber)

	s.SaveUserCard(ctx, models.UserCard{Base: models.Base{ID: "c1"}, CardNumber: "AB"})
	uc, ok := s.GetUserCard(ctx, "c1")
	require.True(t, ok)
	assert.Equal(t, "AB", uc.CardNumber)
}

func TestCorruptEntry_ReadsAsEmpty(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.cache.Put(ctx, nsStatuses, "m1", []byte("{not json")))
	assert.Empty(t, s.GetStatuses(ctx, "m1"))

	require.NoError(t, s.cache.Put(ctx, nsMCards, "jane", []byte("[1,2]")))
	_, ok := s.GetMCard(ctx, "jane")
	assert.False(t, ok)
}

func TestReconcileID_ReplacesWithoutDuplicating(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.SaveStatuses(ctx, "m1", []models.Status{status("temp_1", "m1", "Open"), status("s-9", "m1", "Old")})
	s.SaveStatuses(ctx, "m2", []models.Status{status("s-7", "m2", "Other")})

	confirmed, err := json.Marshal(status("s-101", "m1", "Open"))
	require.NoError(t, err)
	s.ReconcileID(ctx, models.EntityStatus, "temp_1", confirmed)

	got := s.GetStatuses(ctx, "m1")
	require.Len(t, got, 2)
	assert.Equal(t, "s-101", got[0].ID)
	assert.Equal(t, "s-9", got[1].ID)
	assert.Len(t, s.GetStatuses(ctx, "m2"), 1)

	// Reconciling again is a no-op.
	s.ReconcileID(ctx, models.EntityStatus, "temp_1", confirmed)
	assert.Len(t, s.GetStatuses(ctx, "m1"), 2)
}

func TestReconcileID_CollapsesExistingConfirmedCopy(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.SaveStatuses(ctx, "m1", []models.Status{status("temp_1", "m1", "Open"), status("s-101", "m1", "Open")})
	confirmed, err := json.Marshal(status("s-101", "m1", "Open"))
	require.NoError(t, err)

	s.ReconcileID(ctx, models.EntityStatus, "temp_1", confirmed)
	got := s.GetStatuses(ctx, "m1")
	require.Len(t, got, 1)
	assert.Equal(t, "s-101", got[0].ID)
}

func TestReconcileID_SingleRecordsKeyedByID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tmp := models.UserCard{Base: models.Base{ID: "temp_5"}, CardNumber: "AB"}
	s.SaveUserCard(ctx, tmp)
	s.SaveUserCards(ctx, "u1", []models.UserCard{tmp})

	confirmed, err := json.Marshal(models.UserCard{Base: models.Base{ID: "c-1"}, CardNumber: "AB"})
	require.NoError(t, err)
	s.ReconcileID(ctx, models.EntityUserCard, "temp_5", confirmed)

	_, ok := s.GetUserCard(ctx, "temp_5")
	assert.False(t, ok)
	got, ok := s.GetUserCard(ctx, "c-1")
	require.True(t, ok)
	assert.Equal(t, "AB", got.CardNumber)
	assert.Equal(t, "c-1", s.GetUserCards(ctx, "u1")[0].ID)
}

func TestDeleteRecord(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.SaveStatuses(ctx, "m1", []models.Status{status("s1", "m1", "a"), status("s2", "m1", "b")})
	s.SaveMCard(ctx, models.MCard{Base: models.Base{ID: "m1"}, Slug: "jane"})
	s.SaveReportedCard(ctx, models.ReportedCard{Base: models.Base{ID: "r1"}})
	s.SaveReportedCards(ctx, "u1", []models.ReportedCard{{Base: models.Base{ID: "r1"}}})

	s.DeleteStatus(ctx, "s1")
	s.DeleteStatus(ctx, "absent")
	got := s.GetStatuses(ctx, "m1")
	require.Len(t, got, 1)
	assert.Equal(t, "s2", got[0].ID)

	s.DeleteMCard(ctx, "m1")
	_, ok := s.GetMCard(ctx, "jane")
	assert.False(t, ok)

	s.DeleteRecord(ctx, models.EntityReportedCard, "r1")
	_, ok = s.GetReportedCard(ctx, "r1")
	assert.False(t, ok)
	assert.Empty(t, s.GetReportedCards(ctx, "u1"))
}

func TestPendingQueue(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first, err := s.Enqueue(ctx, models.EntityInvoice, models.ActionUpdate, map[string]any{"id": "i1", "status": "sent"})
	require.NoError(t, err)
	second, err := s.Enqueue(ctx, models.EntityInvoice, models.ActionUpdate, map[string]any{"id": "i1", "status": "paid"})
	require.NoError(t, err)

	_, err = s.Enqueue(ctx, models.EntityReview, models.ActionDelete, map[string]any{"id": "r1"})
	require.ErrorIs(t, err, models.ErrUnsupportedChange)

	_, err = s.AddPendingChange(ctx, models.PendingChange{Type: models.EntityReview, Action: models.ActionUpdate})
	require.ErrorIs(t, err, models.ErrUnsupportedChange)

	queue := s.GetPendingChanges(ctx)
	require.Len(t, queue, 2)
	assert.Equal(t, first.ID, queue[0].ID)
	assert.Equal(t, second.ID, queue[1].ID)
	assert.Equal(t, 2, s.PendingCount(ctx))

	s.RecordAttempt(ctx, first.ID, errors.New("boom"), false)
	queue = s.GetPendingChanges(ctx)
	assert.Equal(t, 1, queue[0].Attempts)
	assert.Equal(t, "boom", queue[0].LastError)

	s.RecordAttempt(ctx, first.ID, errors.New("boom"), true)
	assert.Equal(t, 1, s.PendingCount(ctx))
	require.Len(t, s.DeadLetters(ctx), 1)

	s.RemovePendingChange(ctx, second.ID)
	assert.Zero(t, s.PendingCount(ctx))
}

func TestRemapPendingID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, models.EntityStatus, models.ActionUpdate, map[string]any{"id": "temp_1", "is_active": false})
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, models.EntityProduct, models.ActionCreate, map[string]any{"id": "temp_2", "mcard_id": "temp_9"})
	require.NoError(t, err)

	assert.Equal(t, 1, s.RemapPendingID(ctx, "temp_1", "s-101"))
	assert.Equal(t, 1, s.RemapPendingID(ctx, "temp_9", "m-1"))
	assert.Zero(t, s.RemapPendingID(ctx, "temp_404", "x"))

	queue := s.GetPendingChanges(ctx)
	assert.JSONEq(t, `{"id":"s-101","is_active":false}`, string(queue[0].Data))
	assert.JSONEq(t, `{"id":"temp_2","mcard_id":"m-1"}`, string(queue[1].Data))
}

func TestRemapPendingID_KeepsLargeIntegersExact(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, models.EntityProduct, models.ActionCreate,
		json.RawMessage(`{"id":"temp_2","mcard_id":"temp_9","stock":9007199254740993}`))
	require.NoError(t, err)

	assert.Equal(t, 1, s.RemapPendingID(ctx, "temp_9", "m-1"))

	queue := s.GetPendingChanges(ctx)
	require.Len(t, queue, 1)
	assert.Contains(t, string(queue[0].Data), `"mcard_id":"m-1"`)
	assert.Contains(t, string(queue[0].Data), "9007199254740993")
}

func TestHasPendingCreate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, models.EntityInvoice, models.ActionCreate, map[string]any{"id": "temp_1"})
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, models.EntityInvoice, models.ActionUpdate, map[string]any{"id": "temp_2"})
	require.NoError(t, err)

	assert.True(t, s.HasPendingCreate(ctx, models.EntityInvoice, "temp_1"))
	assert.False(t, s.HasPendingCreate(ctx, models.EntityQuote, "temp_1"))
	assert.False(t, s.HasPendingCreate(ctx, models.EntityInvoice, "temp_2"))
}

func TestLastSync(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, ok := s.GetLastSync(ctx)
	assert.False(t, ok)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.SetLastSync(ctx, at)
	got, ok := s.GetLastSync(ctx)
	require.True(t, ok)
	assert.True(t, got.Equal(at))
}

func TestClearCache_KeepsQueue(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.SaveStatuses(ctx, "m1", []models.Status{status("s1", "m1", "a")})
	_, err := s.Enqueue(ctx, models.EntityStatus, models.ActionDelete, map[string]any{"id": "s1"})
	require.NoError(t, err)

	s.ClearCache(ctx)
	assert.Empty(t, s.GetStatuses(ctx, "m1"))
	assert.Equal(t, 1, s.PendingCount(ctx))
}

func TestStore_ClosedDatabaseNeverFailsReads(t *testing.T) {
	db, err := OpenDB(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	s := New(db, logging.NewNop())
	require.NoError(t, db.Close())
	ctx := context.Background()

	assert.Empty(t, s.GetProducts(ctx, "m1"))
	assert.Empty(t, s.GetPendingChanges(ctx))
	assert.Zero(t, s.PendingCount(ctx))
	s.SaveProducts(ctx, "m1", []models.Product{{Name: "x"}})

	_, err = s.Enqueue(ctx, models.EntityProduct, models.ActionCreate, models.Product{Name: "x"})
	require.Error(t, err)
}
