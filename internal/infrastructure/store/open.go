package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"gorm.io/gorm"

	"github.com/orris-inc/sidecar/internal/application/registry"
	"github.com/orris-inc/sidecar/internal/infrastructure/config"
	"github.com/orris-inc/sidecar/internal/infrastructure/database"
	"github.com/orris-inc/sidecar/internal/infrastructure/migration"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

// Open builds the store selected by cfg.Store.Driver. SQL stores are migrated
// before they are returned.
func Open(ctx context.Context, cfg *config.Config, log logger.Interface) (registry.Store, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		log.Infow("using in-memory node store")
		return NewMemoryStore(), nil

	case "sqlite", "mysql":
		db, err := database.Open(cfg.Store.Driver, &cfg.Database, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := migrateDB(db, cfg); err != nil {
			_ = database.Close(db)
			return nil, err
		}
		log.Infow("using sql node store", "driver", cfg.Store.Driver)
		return &ownedGormStore{GormStore: NewGormStore(db, log.Named("store")), db: db}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Infow("using redis node store", "addr", cfg.Redis.GetAddr())
		return NewRedisStore(client, cfg.Store.KeyPrefix, true, log.Named("store")), nil

	case "etcd":
		dialTimeout := cfg.Etcd.DialTimeout
		if dialTimeout <= 0 {
			dialTimeout = 5 * time.Second
		}
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: dialTimeout,
			Username:    cfg.Etcd.Username,
			Password:    cfg.Etcd.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		log.Infow("using etcd node store", "endpoints", cfg.Etcd.Endpoints)
		return NewEtcdStore(client, cfg.Store.KeyPrefix, log.Named("store")), nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func migrateDB(db *gorm.DB, cfg *config.Config) error {
	dialect, err := migration.Dialect(cfg.Store.Driver)
	if err != nil {
		return err
	}
	return migration.NewManager(cfg.Server.Mode, dialect).Migrate(db)
}

// ownedGormStore closes the connection Open created.
type ownedGormStore struct {
	*GormStore
	db *gorm.DB
}

func (s *ownedGormStore) Close() error {
	return database.Close(s.db)
}
