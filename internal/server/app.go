// Package server wires configuration, storage and transports into the
// FinderID data server and runs it until its context ends.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/creat233/finderid/internal/logging"
	"github.com/creat233/finderid/internal/server/config"
	gs "github.com/creat233/finderid/internal/server/grpc"
	"github.com/creat233/finderid/internal/server/realtime"
	"github.com/creat233/finderid/internal/server/repositories/repomanager"
	"github.com/creat233/finderid/internal/server/services"
)

const tokenPurgeInterval = time.Hour

type App struct {
	config         *config.Config
	logger         logging.Logger
	db             *sql.DB
	hub            *realtime.Hub
	userService    *services.UserService
	rowService     *services.RowService
	storageService *services.StorageService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, c.LogFormat, c.LogLevel)

	db, err := repomanager.OpenDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	store, err := services.NewS3Store(ctx, c)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		logger.Warn(ctx, "object storage bucket unavailable", "bucket", c.S3Bucket, "error", err)
	}

	hub := realtime.NewHub(logger)
	rs := services.NewRowService(db, m, hub, logger)

	return &App{
		config:         c,
		logger:         logger,
		db:             db,
		hub:            hub,
		userService:    services.NewUserService(db, m, c),
		rowService:     rs,
		storageService: services.NewStorageService(store, rs, c.PublicBaseURL()),
	}, nil
}

func (app *App) purgeTokens(ctx context.Context) error {
	ticker := time.NewTicker(tokenPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := app.userService.PurgeExpiredTokens(ctx)
			if err != nil {
				app.logger.Warn(ctx, "purge refresh tokens", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "purged refresh tokens", "count", n)
			}
		}
	}
}

// Run serves gRPC and realtime traffic until ctx is cancelled or one of
// the servers fails.
func (app *App) Run(ctx context.Context) error {
	defer app.db.Close()

	app.logger.Info(ctx, "Starting app...")

	grpcServer := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger,
		app.userService, app.rowService, app.storageService, app.config.SecretKey)

	httpServer := realtime.NewServer(realtime.Options{
		Address:   app.config.RealtimeAddr,
		JWTSecret: []byte(app.config.SecretKey),
		Hub:       app.hub,
		Health:    app.db.PingContext,
	}, app.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return grpcServer.Run(gctx) })
	g.Go(func() error { return httpServer.Run(gctx) })
	g.Go(func() error { return app.purgeTokens(gctx) })

	err := g.Wait()
	app.logger.Info(ctx, "App stopped")
	return err
}
