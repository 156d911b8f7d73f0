// Package server initializes and runs the directory server: it opens the
// Postgres store, applies migrations, connects the Redis listing cache, and
// starts the HTTP API with graceful shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/avoronov/userdir/internal/logging"
	"github.com/avoronov/userdir/internal/server/cache"
	"github.com/avoronov/userdir/internal/server/config"
	"github.com/avoronov/userdir/internal/server/httpapi"
	"github.com/avoronov/userdir/internal/server/repositories/repomanager"
	"github.com/avoronov/userdir/internal/server/services"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	cache       cache.Cache
	userService *services.UserService
}

func NewApp(c *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	redisCache := cache.NewRedisCache(&cache.Config{Addr: c.RedisAddr, DB: c.RedisDB})

	us := services.NewUserService(db, rm, redisCache, logger, c)

	return &App{config: c, logger: logger, db: db, cache: redisCache, userService: us}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := httpapi.NewServer(app.config.EndpointAddr, app.logger, app.userService)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	if err := app.cache.Ping(ctx); err != nil {
		// the listing path degrades to store reads, so this is not fatal
		app.logger.Warn(ctx, "cache unreachable at startup", "error", err)
	}

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.cache.Close(); err != nil {
		app.logger.Warn(ctx, "error closing cache", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "error closing db", "error", err)
	}
}
