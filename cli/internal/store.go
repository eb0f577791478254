package cli

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/devilmonastery/apiclient/internal/client"
	"github.com/devilmonastery/apiclient/internal/config"
	"github.com/devilmonastery/apiclient/internal/infrastructure/database/sqldb"
	"github.com/devilmonastery/apiclient/internal/infrastructure/redisstore"
)

// openTokenStore builds the configured token store. The returned close
// function releases backend connections and is never nil.
func openTokenStore(cfg config.TokenStoreConfig, contextName string, log *slog.Logger) (client.TokenStore, func() error, error) {
	noop := func() error { return nil }

	session := cfg.Session
	if session == "" {
		session = contextName
	}

	switch cfg.Backend {
	case config.BackendMemory:
		return client.NewMemoryTokenStore(), noop, nil

	case config.BackendFile, "":
		store, err := NewFileTokenStore(contextName, log)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil

	case config.BackendSQL:
		conn, err := sqldb.NewConnection(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return nil, noop, err
		}
		if err := conn.RunMigrations(); err != nil {
			conn.Close()
			return nil, noop, err
		}
		return sqldb.NewTokenStore(conn.DB, session, log), conn.Close, nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := redisstore.NewTokenStore(rdb, session, redisstore.Options{
			Prefix: cfg.Redis.Prefix,
			TTL:    cfg.Redis.TTL,
			Logger: log,
		})
		return store, rdb.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown token store backend %q", cfg.Backend)
	}
}
