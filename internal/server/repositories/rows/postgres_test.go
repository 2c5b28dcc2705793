package rows

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/creat233/finderid/internal/common"
	"github.com/creat233/finderid/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"collection", "id", "owner_id", "data", "created_at", "updated_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func exact(q string) string {
	return "^" + regexp.QuoteMeta(q) + "$"
}

func TestInsert(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	q := `(?s)^INSERT\s+INTO\s+rows\s*\(collection,\s*id,\s*owner_id,\s*data,\s*created_at,\s*updated_at\)\s*VALUES`

	mock.ExpectExec(q).
		WithArgs("invoices", "i1", "u1", []byte(`{"id":"i1"}`), now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).
		WithArgs("mcard_reviews", "r1", nil, []byte(`{"id":"r1"}`), now, now).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectExec(q).WillReturnError(errors.New("db down"))

	err := repo.Insert(context.Background(), &models.Row{Collection: "invoices", ID: "i1", OwnerID: "u1", Data: json.RawMessage(`{"id":"i1"}`), CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	err = repo.Insert(context.Background(), &models.Row{Collection: "mcard_reviews", ID: "r1", Data: json.RawMessage(`{"id":"r1"}`), CreatedAt: now, UpdatedAt: now})
	require.ErrorIs(t, err, common.ErrorAlreadyExists)

	err = repo.Insert(context.Background(), &models.Row{Collection: "x", ID: "y", Data: json.RawMessage(`{}`)})
	require.ErrorContains(t, err, "db error: db down")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()
	q := exact(`SELECT collection, id, owner_id, data, created_at, updated_at FROM rows WHERE collection = $1 AND id = $2`)

	mock.ExpectQuery(q).WithArgs("mcards", "m1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("mcards", "m1", "u1", []byte(`{"slug":"ada"}`), now, now))
	mock.ExpectQuery(q).WithArgs("mcards", "ghost").WillReturnError(sql.ErrNoRows)

	row, err := repo.Get(context.Background(), "mcards", "m1")
	require.NoError(t, err)
	assert.Equal(t, "u1", row.OwnerID)
	assert.JSONEq(t, `{"slug":"ada"}`, string(row.Data))

	_, err = repo.Get(context.Background(), "mcards", "ghost")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGet_NullOwner(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`FROM rows WHERE collection = \$1 AND id = \$2`).
		WillReturnRows(sqlmock.NewRows(columns).AddRow("reported_cards", "rc1", nil, []byte(`{}`), now, now))

	row, err := repo.Get(context.Background(), "reported_cards", "rc1")
	require.NoError(t, err)
	assert.Empty(t, row.OwnerID)
}

func TestMerge(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()
	q := `(?s)^UPDATE\s+rows\s+SET\s+data\s*=\s*data\s*\|\|\s*\$3::jsonb,\s*updated_at\s*=\s*\$4\s+WHERE\s+collection\s*=\s*\$1\s+AND\s+id\s*=\s*\$2\s+RETURNING`

	mock.ExpectQuery(q).
		WithArgs("invoices", "i1", []byte(`{"status":"paid"}`), now).
		WillReturnRows(sqlmock.NewRows(columns).AddRow("invoices", "i1", "u1", []byte(`{"id":"i1","status":"paid"}`), now, now))
	mock.ExpectQuery(q).
		WithArgs("invoices", "gone", []byte(`{}`), now).
		WillReturnError(sql.ErrNoRows)

	row, err := repo.Merge(context.Background(), "invoices", "i1", json.RawMessage(`{"status":"paid"}`), now)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"i1","status":"paid"}`, string(row.Data))

	_, err = repo.Merge(context.Background(), "invoices", "gone", json.RawMessage(`{}`), now)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDelete(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	q := exact(`DELETE FROM rows WHERE collection = $1 AND id = $2`)

	mock.ExpectExec(q).WithArgs("quotes", "q1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("quotes", "q2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q).WithArgs("quotes", "q3").WillReturnError(errors.New("boom"))

	require.NoError(t, repo.Delete(context.Background(), "quotes", "q1"))
	require.ErrorIs(t, repo.Delete(context.Background(), "quotes", "q2"), common.ErrorNotFound)
	require.ErrorContains(t, repo.Delete(context.Background(), "quotes", "q3"), "db error: boom")
}

func TestDeleteWhere(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(exact(`DELETE FROM rows WHERE collection = $1 AND data->>$2::text = $3`)).
		WithArgs("quote_items", "quote_id", "q1").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteWhere(context.Background(), "quote_items", "quote_id", "q1")
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestSelect_Defaults(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(exact(`SELECT collection, id, owner_id, data, created_at, updated_at FROM rows WHERE collection = $1 ORDER BY created_at ASC, id ASC`)).
		WithArgs("mcards").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("mcards", "m1", "u1", []byte(`{"id":"m1"}`), now, now).
			AddRow("mcards", "m2", "u2", []byte(`{"id":"m2"}`), now, now))

	got, err := repo.Select(context.Background(), models.RowQuery{Collection: "mcards"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[1].ID)
}

func TestSelect_FiltersOwnerOrderLimit(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(exact(`SELECT collection, id, owner_id, data, created_at, updated_at FROM rows WHERE collection = $1 AND owner_id = $2 AND data->>$3::text = $4 AND data->>$5::text = $6 ORDER BY data->$7::text DESC, id DESC LIMIT $8`)).
		WithArgs("invoices", "u1", "status", "paid", "user_id", "u1", "amount", 10).
		WillReturnRows(sqlmock.NewRows(columns))

	got, err := repo.Select(context.Background(), models.RowQuery{
		Collection: "invoices",
		OwnerID:    "u1",
		Filter:     map[string]string{"user_id": "u1", "status": "paid"},
		Order:      "amount",
		Desc:       true,
		Limit:      10,
	})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSelect_ColumnOrderAndError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(exact(`SELECT collection, id, owner_id, data, created_at, updated_at FROM rows WHERE collection = $1 ORDER BY updated_at ASC, id ASC`)).
		WithArgs("quotes").
		WillReturnError(errors.New("boom"))

	_, err := repo.Select(context.Background(), models.RowQuery{Collection: "quotes", Order: "updated_at"})
	require.ErrorContains(t, err, "db error: boom")
}

func TestIncrement(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()
	q := `(?s)^UPDATE\s+rows\s+SET\s+data\s*=\s*jsonb_set\(.*RETURNING\s+\(data->>\$3::text\)::bigint$`

	mock.ExpectQuery(q).WithArgs("mcards", "m1", "view_count", now).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(int64(8)))
	mock.ExpectQuery(q).WithArgs("mcards", "ghost", "view_count", now).
		WillReturnError(sql.ErrNoRows)

	v, err := repo.Increment(context.Background(), "mcards", "m1", "view_count", now)
	require.NoError(t, err)
	assert.EqualValues(t, 8, v)

	_, err = repo.Increment(context.Background(), "mcards", "ghost", "view_count", now)
	require.ErrorIs(t, err, common.ErrorNotFound)
}
