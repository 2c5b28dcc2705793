package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/creat233/finderid/internal/client/client"
	"github.com/creat233/finderid/internal/client/config"
	"github.com/creat233/finderid/internal/client/realtime"
	"github.com/creat233/finderid/internal/client/services"
	"github.com/creat233/finderid/internal/client/storage"
	"github.com/creat233/finderid/internal/client/syncer"
	"github.com/creat233/finderid/internal/logging"
)

// IO bundles the streams commands talk to.
type IO struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

// App wires the cache, the remote client, the sync coordinator and the
// entity services for one CLI session.
type App struct {
	cfg    *config.Config
	logger logging.Logger
	io     IO
	prompt *prompter

	db    *sql.DB
	api   client.Client
	store *storage.Store
	sync  *syncer.Coordinator

	auth      services.AuthService
	cards     *services.MCardService
	invoices  *services.InvoiceService
	quotes    *services.QuoteService
	reports   *services.ReportedCardService
	userCards *services.UserCardService

	realtime *realtime.Client
}

// Builder creates the App a command runs against.
type Builder func(ctx context.Context, cfg *config.Config, streams IO) (*App, error)

// NewApp opens the cache database at cfg.CacheDSN and connects to the
// data service at cfg.ServerEndpointAddr.
func NewApp(ctx context.Context, cfg *config.Config, streams IO) (*App, error) {
	logger := logging.New(streams.ErrOut, cfg.LogFormat, cfg.LogLevel)

	if dir := filepath.Dir(cfg.CacheDSN); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	db, err := storage.OpenDB(ctx, cfg.CacheDSN)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	api, err := client.NewGRPCClient(cfg.ServerEndpointAddr, client.WithCallTimeout(cfg.CallTimeout))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	a := Assemble(cfg, db, api, logger, streams)
	a.realtime = realtime.New(realtime.Config{
		URL:   cfg.RealtimeURL,
		Token: func() string { return api.Session().AccessToken },
	}, logger)
	return a, nil
}

// Assemble builds an App over an open cache database and a remote client.
func Assemble(cfg *config.Config, db *sql.DB, api client.Client, logger logging.Logger, streams IO) *App {
	store := storage.New(db, logger)
	coord := syncer.New(api, store, logger, syncer.Options{
		ProbeInterval:       cfg.OnlineCheckInterval,
		ProbeTimeout:        cfg.ProbeTimeout,
		PendingPollInterval: cfg.PendingPollInterval,
		MaxAttempts:         cfg.MaxAttempts,
	})

	deps := services.Deps{
		Client:   api,
		Store:    store,
		Conn:     coord,
		Logger:   logger,
		Notifier: &printNotifier{w: streams.ErrOut},
	}
	auth := services.NewAuthService(deps)
	reports := services.NewReportedCardService(deps)

	a := &App{
		cfg:       cfg,
		logger:    logger.With("module", "cli"),
		io:        streams,
		prompt:    newPrompter(streams.In, streams.Out),
		db:        db,
		api:       api,
		store:     store,
		sync:      coord,
		auth:      auth,
		cards:     services.NewMCardService(deps, auth),
		invoices:  services.NewInvoiceService(deps),
		quotes:    services.NewQuoteService(deps),
		reports:   reports,
		userCards: services.NewUserCardService(deps, reports),
	}

	coord.OnEvent(a.cards.HandleSyncEvent)
	coord.OnEvent(a.invoices.HandleSyncEvent)
	coord.OnEvent(a.quotes.HandleSyncEvent)
	coord.OnEvent(a.reports.HandleSyncEvent)
	coord.OnEvent(a.userCards.HandleSyncEvent)
	return a
}

// start resumes the cached session and probes the service once, which
// replays queued changes when it is reachable.
func (a *App) start(ctx context.Context) {
	if u, ok := a.auth.Restore(ctx); ok {
		a.logger.Debug(ctx, "session restored", "user", u.Email)
	}
	if !a.sync.Probe(ctx) {
		a.logger.Info(ctx, "working offline")
	}
}

// Close persists refreshed tokens and releases every resource.
func (a *App) Close(ctx context.Context) error {
	a.sync.Close()
	a.cards.Wait()
	if err := a.auth.SaveSession(ctx); err != nil {
		a.logger.Warn(ctx, "could not save session", "error", err)
	}
	if a.realtime != nil {
		_ = a.realtime.Close()
	}
	if err := a.api.Close(); err != nil {
		a.logger.Warn(ctx, "could not close client", "error", err)
	}
	return a.db.Close()
}

// userID returns the signed-in user or client.ErrUnauthorized.
func (a *App) userID(ctx context.Context) (string, error) {
	u, err := a.auth.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("not logged in: %w", err)
	}
	return u.ID, nil
}

func (a *App) mode() string {
	return a.sync.State().String()
}
