package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bakaf/pixel/internal/appwrite"
	"github.com/bakaf/pixel/internal/config"
	"github.com/bakaf/pixel/internal/db"
	"github.com/bakaf/pixel/internal/platform"
	"github.com/bakaf/pixel/internal/platform/memory"
	"github.com/bakaf/pixel/internal/selfhost"
	"github.com/bakaf/pixel/internal/session"
)

// cleanupFunc releases the connections opened while wiring a provider.
type cleanupFunc func(ctx context.Context) error

func noCleanup(context.Context) error { return nil }

// buildDependencies wires the platform client selected by cfg.Provider.
func buildDependencies(ctx context.Context, cfg config.Config) (platform.Client, cleanupFunc, error) {
	switch cfg.Provider {
	case config.ProviderMemory:
		return memory.New().Client(), noCleanup, nil
	case config.ProviderAppwrite:
		return buildAppwrite(cfg)
	case config.ProviderSelfhost:
		return buildSelfhost(ctx, cfg)
	default:
		return platform.Client{}, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func deviceStore(cfg config.Config) (session.Store, error) {
	store, err := session.NewFileStore(cfg.SessionFile)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	return store, nil
}

func buildAppwrite(cfg config.Config) (platform.Client, cleanupFunc, error) {
	device, err := deviceStore(cfg)
	if err != nil {
		return platform.Client{}, nil, err
	}

	client, err := appwrite.New(appwrite.Config{
		Endpoint:  cfg.Endpoint,
		Project:   cfg.ProjectID,
		Platform:  cfg.Platform,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.RateBurst,
		Timeout:   cfg.Timeout,
	}, device)
	if err != nil {
		return platform.Client{}, nil, err
	}
	return client.Services(), noCleanup, nil
}

func buildSelfhost(ctx context.Context, cfg config.Config) (client platform.Client, cleanup cleanupFunc, err error) {
	var closers []cleanupFunc
	cleanup = func(ctx context.Context) error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	defer func() {
		if err != nil {
			_ = cleanup(ctx)
		}
	}()

	device, err := deviceStore(cfg)
	if err != nil {
		return platform.Client{}, nil, err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return platform.Client{}, nil, err
	}
	closers = append(closers, func(context.Context) error { pool.Close(); return nil })

	var sessions selfhost.SessionStore
	switch cfg.SessionStore {
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		closers = append(closers, func(context.Context) error { return rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return platform.Client{}, nil, fmt.Errorf("ping redis: %w", err)
		}
		sessions = selfhost.NewRedisSessionStore(rdb, cfg.RedisPrefix)
	case config.StoreMemory:
		sessions = selfhost.NewMemorySessionStore()
	default:
		sessions = selfhost.NewPostgresSessionStore(pool)
	}

	var documents platform.DocumentService
	switch cfg.DocumentStore {
	case config.StoreMongo:
		mc, err := selfhost.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return platform.Client{}, nil, err
		}
		closers = append(closers, mc.Disconnect)
		documents = selfhost.NewMongoDocumentStore(mc.Database(cfg.MongoDatabase))
	default:
		documents = selfhost.NewPostgresDocumentStore(pool)
	}

	files, err := selfhost.NewS3Storage(ctx, selfhost.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		PublicBaseURL:   cfg.S3PublicBaseURL,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretKey,
	})
	if err != nil {
		return platform.Client{}, nil, err
	}

	provider := &selfhost.Provider{
		Accounts:  selfhost.NewAccounts(selfhost.NewPostgresAccountRepository(pool), sessions, device, cfg.SessionTTL),
		Documents: documents,
		Files:     files,
		Avatars:   selfhost.NewAvatars(cfg.AvatarBaseURL),
	}
	client, err = provider.Services()
	if err != nil {
		return platform.Client{}, nil, err
	}
	return client, cleanup, nil
}
