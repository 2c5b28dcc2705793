package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/creat233/finderid/internal/common"
	"github.com/creat233/finderid/internal/dbx"
	"github.com/creat233/finderid/internal/server/models"
	"github.com/creat233/finderid/internal/server/repositories/refreshtokens"
	"github.com/creat233/finderid/internal/server/repositories/rows"
	"github.com/creat233/finderid/internal/server/repositories/users"
	"github.com/stretchr/testify/require"
)

// newTxDB returns a sqlmock DB; tests declare their transactions with expectTx.
func newTxDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func expectTx(mock sqlmock.Sqlmock, commit bool) {
	mock.ExpectBegin()
	if commit {
		mock.ExpectCommit()
	} else {
		mock.ExpectRollback()
	}
}

type fakeUsers struct {
	mu   sync.Mutex
	byID map[string]*models.User
	err  error
	seq  int
}

func newFakeUsers() *fakeUsers { return &fakeUsers{byID: map[string]*models.User{}} }

func (f *fakeUsers) Create(ctx context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	f.seq++
	cp := *u
	cp.ID = fmt.Sprintf("u%d", f.seq)
	cp.CreatedAt = time.Now()
	f.byID[cp.ID] = &cp
	return &cp, nil
}

func (f *fakeUsers) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsers) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

type fakeRefresh struct {
	mu        sync.Mutex
	tokens    map[string]*models.RefreshToken
	createErr error
	deleteErr error
}

func newFakeRefresh() *fakeRefresh { return &fakeRefresh{tokens: map[string]*models.RefreshToken{}} }

func (f *fakeRefresh) Create(ctx context.Context, userID, token string, validity time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.tokens[token] = &models.RefreshToken{UserID: userID, Token: token, Expires: time.Now().Add(validity)}
	return nil
}

func (f *fakeRefresh) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt, ok := f.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return rt, nil
}

func (f *fakeRefresh) Delete(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.tokens, token)
	return nil
}

func (f *fakeRefresh) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, rt := range f.tokens {
		if rt.Expires.Before(now) {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

// memRows is an in-memory rows.Repository with the same merge semantics
// as the JSONB store.
type memRows struct {
	mu   sync.Mutex
	rows map[string]models.Row
}

func newMemRows() *memRows { return &memRows{rows: map[string]models.Row{}} }

func rowKey(collection, id string) string { return collection + "/" + id }

func (m *memRows) Insert(ctx context.Context, row *models.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rowKey(row.Collection, row.ID)
	if _, ok := m.rows[k]; ok {
		return common.ErrorAlreadyExists
	}
	m.rows[k] = *row
	return nil
}

func (m *memRows) Get(ctx context.Context, collection, id string) (*models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[rowKey(collection, id)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &row, nil
}

func (m *memRows) Merge(ctx context.Context, collection, id string, patch json.RawMessage, now time.Time) (*models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rowKey(collection, id)
	row, ok := m.rows[k]
	if !ok {
		return nil, common.ErrorNotFound
	}
	var cur, p map[string]json.RawMessage
	if err := json.Unmarshal(row.Data, &cur); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(patch, &p); err != nil {
		return nil, err
	}
	for key, v := range p {
		cur[key] = v
	}
	data, err := json.Marshal(cur)
	if err != nil {
		return nil, err
	}
	row.Data = data
	row.UpdatedAt = now
	m.rows[k] = row
	return &row, nil
}

func (m *memRows) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rowKey(collection, id)
	if _, ok := m.rows[k]; !ok {
		return common.ErrorNotFound
	}
	delete(m.rows, k)
	return nil
}

func field(data json.RawMessage, name string) string {
	var fields map[string]any
	_ = json.Unmarshal(data, &fields)
	if s, ok := fields[name].(string); ok {
		return s
	}
	if v, ok := fields[name]; ok && v != nil {
		raw, _ := json.Marshal(v)
		return string(raw)
	}
	return ""
}

func (m *memRows) DeleteWhere(ctx context.Context, collection, name, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, row := range m.rows {
		if row.Collection == collection && field(row.Data, name) == value {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

func (m *memRows) Select(ctx context.Context, q models.RowQuery) ([]models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Row{}
	for _, row := range m.rows {
		if row.Collection != q.Collection {
			continue
		}
		if q.OwnerID != "" && row.OwnerID != q.OwnerID {
			continue
		}
		match := true
		for k, v := range q.Filter {
			if field(row.Data, k) != v {
				match = false
			}
		}
		if match {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memRows) Increment(ctx context.Context, collection, id, name string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rowKey(collection, id)
	row, ok := m.rows[k]
	if !ok {
		return 0, common.ErrorNotFound
	}
	var fields map[string]any
	if err := json.Unmarshal(row.Data, &fields); err != nil {
		return 0, err
	}
	n, _ := fields[name].(float64)
	n++
	fields[name] = n
	row.Data, _ = json.Marshal(fields)
	m.rows[k] = row
	return int64(n), nil
}

type fakeManager struct {
	users   *fakeUsers
	refresh *fakeRefresh
	rows    *memRows
}

func newFakeManager() *fakeManager {
	return &fakeManager{users: newFakeUsers(), refresh: newFakeRefresh(), rows: newMemRows()}
}

func (m *fakeManager) RunMigrations(context.Context, *sql.DB) error      { return nil }
func (m *fakeManager) Users(dbx.DBTX) users.Repository                 { return m.users }
func (m *fakeManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return m.refresh }
func (m *fakeManager) Rows(dbx.DBTX) rows.Repository                   { return m.rows }

type recordingPublisher struct {
	mu      sync.Mutex
	changes []Change
}

func (p *recordingPublisher) Publish(ctx context.Context, c Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
}

func (p *recordingPublisher) all() []Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Change(nil), p.changes...)
}
