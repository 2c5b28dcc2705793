package cache

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE cache_entries (
  namespace  TEXT NOT NULL,
  key        TEXT NOT NULL,
  value      BLOB NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (namespace, key)
);`)
	require.NoError(t, err)
	return db
}

func TestPutGet(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, "statuses", "m1", []byte(`[{"id":"s1"}]`)))

	v, err := r.Get(ctx, "statuses", "m1")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"s1"}]`, string(v))

	v, err = r.Get(ctx, "products", "m1")
	require.NoError(t, err)
	assert.Nil(t, v, "namespaces are isolated")
}

func TestPut_OverwritesAndStampsTime(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	r.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, "invoices", "u1", []byte(`[]`)))
	require.NoError(t, r.Put(ctx, "invoices", "u1", []byte(`[{"id":"i1"}]`)))

	v, err := r.Get(ctx, "invoices", "u1")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"i1"}]`, string(v))

	var stamp string
	require.NoError(t, db.QueryRow(`SELECT updated_at FROM cache_entries`).Scan(&stamp))
	assert.Equal(t, "2024-05-01T10:00:00Z", stamp)
}

func TestListDeleteClear(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, "mcards", "jane", []byte(`{"id":"m1"}`)))
	require.NoError(t, r.Put(ctx, "mcards", "john", []byte(`{"id":"m2"}`)))
	require.NoError(t, r.Put(ctx, "quotes", "u1", []byte(`[]`)))

	m, err := r.List(ctx, "mcards")
	require.NoError(t, err)
	assert.Len(t, m, 2)
	assert.Contains(t, m, "jane")

	require.NoError(t, r.Delete(ctx, "mcards", "jane"))
	require.NoError(t, r.Delete(ctx, "mcards", "jane"))
	m, err = r.List(ctx, "mcards")
	require.NoError(t, err)
	assert.Len(t, m, 1)

	require.NoError(t, r.Clear(ctx))
	m, err = r.List(ctx, "quotes")
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestErrorsAreWrapped(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	require.NoError(t, db.Close())

	_, err := r.Get(ctx, "a", "b")
	require.ErrorContains(t, err, "get cache[a/b]")
	require.ErrorContains(t, r.Put(ctx, "a", "b", nil), "put cache[a/b]")
	require.ErrorContains(t, r.Delete(ctx, "a", "b"), "delete cache[a/b]")
	_, err = r.List(ctx, "a")
	require.ErrorContains(t, err, "list cache[a]")
	require.ErrorContains(t, r.Clear(ctx), "clear cache")
}
