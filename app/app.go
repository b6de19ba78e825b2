package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deemkeen/tusker/activitypub"
	"github.com/deemkeen/tusker/cache"
	"github.com/deemkeen/tusker/db"
	"github.com/deemkeen/tusker/util"
	"github.com/deemkeen/tusker/web"
)

// Queue room per worker before Submit blocks
const queuePerWorker = 64

// App represents the main application with its server, worker pools and stores
type App struct {
	config     *util.AppConfig
	database   *db.DB
	profiles   *cache.ProfileCache
	pipeline   *activitypub.Pipeline
	inbound    *activitypub.Pool
	delivery   *activitypub.Pool
	httpServer *http.Server
	done       chan os.Signal
}

// New creates a new App instance with the given configuration
func New(conf *util.AppConfig) (*App, error) {
	if conf.Conf.SslDomain == "" {
		return nil, errors.New("sslDomain must be configured")
	}
	return &App{
		config: conf,
		done:   make(chan os.Signal, 1),
	}, nil
}

// Initialize opens the database, runs migrations and wires the pipeline behind the HTTP server
func (a *App) Initialize() error {
	database, err := OpenDatabase(a.config)
	if err != nil {
		return err
	}
	a.database = database

	a.profiles = cache.New(a.config.Conf.RedisAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.profiles.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach redis at %s: %w", a.config.Conf.RedisAddr, err)
	}
	if a.profiles.Enabled() {
		log.Printf("Caching profile views in redis at %s", a.config.Conf.RedisAddr)
	}

	workers := a.config.Conf.Workers
	a.inbound = activitypub.NewPool("inbound", workers.Inbound, workers.Inbound*queuePerWorker)
	a.delivery = activitypub.NewPool("delivery", workers.Delivery, workers.Delivery*queuePerWorker)

	a.pipeline = activitypub.NewPipeline(a.config, activitypub.Deps{
		Database:     database,
		Moderator:    db.NewModeration(database),
		HTTPClient:   activitypub.NewDefaultHTTPClient(10 * time.Second),
		Transport:    activitypub.NewSignedTransport(activitypub.NewDefaultHTTPClient(30 * time.Second)),
		Profiles:     a.profiles,
		Previews:     activitypub.NewHTMLPreviewer(activitypub.NewDefaultHTTPClient(5 * time.Second)),
		DeliveryPool: a.delivery,
		OnDeliveryError: func(f activitypub.DeliveryFailure) {
			log.Printf("Delivery: Gave up on %s for %s after %d attempts: %v", f.ActivityID, f.Inbox, f.Attempts, f.Err)
		},
	})

	a.httpServer = web.NewServer(a.config, database, a.pipeline, a.inbound, a.profiles).HTTPServer()
	return nil
}

// OpenDatabase opens the configured database and brings its schema up to date
func OpenDatabase(conf *util.AppConfig) (*db.DB, error) {
	path := util.ResolveFilePath(conf.Conf.DatabasePath)
	log.Printf("Using database at: %s", path)
	database, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	log.Println("Running database migrations...")
	if err := database.RunMigrations(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Println("Database migrations complete")
	return database, nil
}

// Start starts the pools and the HTTP server and blocks until a shutdown signal is received
func (a *App) Start() error {
	a.inbound.Start()
	a.delivery.Start()

	signal.Notify(a.done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	errs := make(chan error, 1)
	log.Printf("Starting HTTP server on %s", a.httpServer.Addr)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case <-a.done:
		log.Println("Shutdown signal received")
	case err := <-errs:
		log.Printf("HTTP server error: %v", err)
		a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown stops accepting requests, drains the pools and closes the stores
func (a *App) Shutdown() error {
	log.Println("Initiating graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error

	// Stop accepting new requests before draining the queues behind them
	log.Println("Stopping HTTP server...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		shutdownErr = err
	} else {
		log.Println("HTTP server stopped gracefully")
	}

	// Inbound jobs enqueue deliveries, so the inbound pool drains first
	drain(ctx, a.inbound)
	drain(ctx, a.delivery)

	if err := a.profiles.Close(); err != nil {
		log.Printf("Redis close error: %v", err)
	}
	if err := a.database.Close(); err != nil {
		log.Printf("Database close error: %v", err)
		if shutdownErr == nil {
			shutdownErr = err
		}
	}

	log.Println("All servers stopped")
	return shutdownErr
}

// drain waits for queued jobs until ctx expires, then stops the pool
func drain(ctx context.Context, pool *activitypub.Pool) {
	idle := make(chan struct{})
	go func() {
		pool.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		log.Println("Pool: Shutdown deadline reached, dropping queued jobs")
	}
	pool.Stop()
}
