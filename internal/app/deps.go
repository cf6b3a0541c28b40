package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vidshare/backend/internal/auth"
	"github.com/vidshare/backend/internal/authz"
	"github.com/vidshare/backend/internal/config"
	"github.com/vidshare/backend/internal/db"
	"github.com/vidshare/backend/internal/events"
	"github.com/vidshare/backend/internal/handlers"
	"github.com/vidshare/backend/internal/middleware"
	"github.com/vidshare/backend/internal/repositories"
	"github.com/vidshare/backend/internal/storage"
	"github.com/vidshare/backend/internal/token"
	"github.com/vidshare/backend/internal/txn"
	"github.com/vidshare/backend/internal/videos"
)

const eventPublishTimeout = 5 * time.Second

// datastore is the database handle the server runs against.
type datastore interface {
	db.Pool
	handlers.HealthChecker
}

// cleanupFunc releases background resources created by buildDependencies.
type cleanupFunc func(ctx context.Context) error

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(ctx context.Context, store datastore, bind func(db.Querier) repositories.Stores, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, cleanupFunc, error) {
	codec, err := token.NewCodec(cfg.JWTSecret, nil)
	if err != nil {
		return handlers.Dependencies{}, nil, fmt.Errorf("configure token codec: %w", err)
	}

	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}

	sink, closeSink, err := newEventSink(cfg.Events, logger)
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}
	dispatcher := events.NewDispatcher(sink, events.DispatcherConfig{
		QueueSize:      cfg.Events.QueueSize,
		Workers:        cfg.Events.Workers,
		PublishTimeout: eventPublishTimeout,
	}, logger)

	executor := txn.New(store, bind, dispatcher, txn.Config{AcquireTimeout: cfg.DBAcquireTimeout})
	stores := bind(store)

	privileges := authz.NewCachingPrivileges(authz.StorePrivileges{Accounts: stores.Accounts}, cfg.RoleCacheTTL)

	deps := handlers.Dependencies{
		Auth: auth.NewService(executor, stores, codec, auth.Config{
			AccessTTL:  cfg.AccessTokenTTL,
			RefreshTTL: cfg.RefreshTokenTTL,
			BcryptCost: cfg.BcryptCost,
		}),
		Videos: videos.NewService(executor, stores, blobs, videos.Config{
			MaxUploadBytes:      cfg.MaxUploadBytes,
			AllowedContentTypes: cfg.VideoContentTypes,
		}),
		Gate:        authz.NewGate(codec, privileges),
		Health:      store,
		AuthLimiter: middleware.NewKeyedLimiter(cfg.AuthRateLimit, time.Minute, cfg.AuthRateBurst, 0),
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,

		TransferTimeout: cfg.TransferTimeout,
	}

	cleanup := func(ctx context.Context) error {
		// Drain queued events before the sink's connection goes away.
		return errors.Join(dispatcher.Shutdown(ctx), closeSink())
	}
	return deps, cleanup, nil
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig) (videos.BlobStore, error) {
	if cfg.S3Bucket != "" {
		store, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("configure s3 storage: %w", err)
		}
		return store, nil
	}

	store, err := storage.NewLocalStorage(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("configure local storage: %w", err)
	}
	return store, nil
}

func newEventSink(cfg config.EventsConfig, logger *slog.Logger) (events.Sink, func() error, error) {
	if cfg.RedisAddr == "" {
		return events.LogSink{Logger: logger}, func() error { return nil }, nil
	}

	sink, err := events.NewRedisStreamSink(events.RedisStreamConfig{
		Addr:         cfg.RedisAddr,
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		Stream:       cfg.Stream,
		DialTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("configure redis event sink: %w", err)
	}
	return sink, sink.Close, nil
}
