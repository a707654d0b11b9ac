package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"golang.org/x/oauth2"

	"github.com/Seann-Moser/volunteerhub/backend"
	"github.com/Seann-Moser/volunteerhub/config"
	"github.com/Seann-Moser/volunteerhub/gate"
	"github.com/Seann-Moser/volunteerhub/session"
)

const (
	connectTimeout  = 5 * time.Second
	shutdownTimeout = 10 * time.Second

	sessionsCollection = "sessions"
	accountsCollection = "accounts"
	refreshCollection  = "refresh_tokens"
)

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info("redis connected", "addr", cfg.Addr)
	return client, nil
}

func connectMongo(ctx context.Context, cfg config.MongoConfig, log *slog.Logger) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	log.Info("mongo connected", "database", cfg.Database)
	return client, nil
}

// sessionStorage opens the storage behind client sessions. With the memory
// driver and a non-empty stateDir, sessions are kept as files so they
// survive between CLI runs.
func sessionStorage(ctx context.Context, cfg config.AppConfig, stateDir string, log *slog.Logger) (session.StorageFactory, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverRedis:
		client, err := connectRedis(ctx, cfg.Redis, log)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() { _ = client.Close() }
		return session.RedisStorageFactory(client, cfg.Redis.Prefix, cfg.Storage.TTL), closeFn, nil
	case config.DriverMongo:
		client, err := connectMongo(ctx, cfg.Mongo, log)
		if err != nil {
			return nil, nil, err
		}
		coll := client.Database(cfg.Mongo.Database).Collection(sessionsCollection)
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		return session.MongoStorageFactory(coll), closeFn, nil
	default:
		if stateDir != "" {
			return session.FileStorageFactory(stateDir), func() {}, nil
		}
		return session.MemoryStorageFactory(), func() {}, nil
	}
}

func newBackendClient(cfg config.BackendConfig, reg prometheus.Registerer, log *slog.Logger) *backend.Client {
	return backend.NewClient(backend.Config{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		Breaker:    backend.DefaultBreakerConfig("volunteerhub-backend"),
		Registerer: reg,
	}, log)
}

// newRefresher picks the refresh protocol. The REST client doubles as the
// profile fetcher for OAuth2 answers that carry no user.
func newRefresher(cfg config.BackendConfig, client *backend.Client, log *slog.Logger) gate.Refresher {
	if cfg.Refresh != config.RefreshOAuth2 {
		return client
	}
	return backend.NewOAuth2Refresher(&oauth2.Config{
		ClientID: cfg.ClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, client, log)
}

// serveHTTP runs handler on addr until ctx is done, then shuts down
// gracefully.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, log *slog.Logger) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	log.Info("HTTP server stopped")
	return nil
}
