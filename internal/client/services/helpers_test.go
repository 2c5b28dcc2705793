package services

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/creat233/finderid/internal/client/client/clienttest"
	"github.com/creat233/finderid/internal/client/storage"
	"github.com/creat233/finderid/internal/logging"
)

type switchConn struct{ on atomic.Bool }

func (c *switchConn) IsOnline() bool { return c.on.Load() }

type recordingNotifier struct {
	mu   sync.Mutex
	errs []*OperationError
}

func (n *recordingNotifier) Notify(_ context.Context, err *OperationError) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

func (n *recordingNotifier) all() []*OperationError {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*OperationError(nil), n.errs...)
}

type env struct {
	deps     Deps
	fake     *clienttest.Fake
	store    *storage.Store
	conn     *switchConn
	notifier *recordingNotifier
}

func newEnv(t *testing.T, online bool) *env {
	t.Helper()
	db, err := storage.OpenDB(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	e := &env{
		fake:     clienttest.New(),
		store:    storage.New(db, logging.NewNop()),
		conn:     &switchConn{},
		notifier: &recordingNotifier{},
	}
	e.conn.on.Store(online)
	e.deps = Deps{
		Client:   e.fake,
		Store:    e.store,
		Conn:     e.conn,
		Logger:   logging.NewNop(),
		Notifier: e.notifier,
	}
	return e
}
