package app

import (
	"context"
	"fmt"
	"time"

	"sockpress/cmd/internal/session"

	"github.com/jackc/pgx/v5/pgxpool"
)

// sessionBackend is the session store plus the resources the app owns for it.
type sessionBackend struct {
	kind  string
	store session.Store

	pool  *pgxpool.Pool        // postgres only
	prune func(context.Context) (int64, error)
	ping  func(context.Context) error
}

// newSessionBackend builds the store selected by cfg.SessionStore.
func newSessionBackend(ctx context.Context, cfg Config, log Logger) (*sessionBackend, error) {
	switch cfg.SessionStore {
	case StorePostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		st, err := session.NewPostgresStore(pool,
			session.WithSchema(cfg.DBSchema),
			session.WithPostgresTTL(cfg.SessionTTL),
		)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if cfg.DBMigrate {
			if err := st.Migrate(ctx); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate session table: %w", err)
			}
		}
		log.Info("session.store.postgres", "schema", cfg.DBSchema, "migrated", cfg.DBMigrate)
		return &sessionBackend{
			kind:  StorePostgres,
			store: st,
			pool:  pool,
			prune: st.PruneExpired,
			ping: func(ctx context.Context) error {
				return PingDB(ctx, pool, 2*time.Second)
			},
		}, nil

	case StoreRedis:
		st, err := session.NewRedisStoreFromURL(cfg.RedisURL, cfg.RedisKeyPrefix, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := st.Ping(pingCtx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("redis unreachable: %w", err)
		}
		log.Info("session.store.redis", "key_prefix", st.KeyPrefix())
		return &sessionBackend{kind: StoreRedis, store: st, ping: st.Ping}, nil

	default:
		log.Info("session.store.memory", "ttl", cfg.SessionTTL.String())
		return &sessionBackend{
			kind:  StoreMemory,
			store: session.NewMemoryStore(session.WithMemoryTTL(cfg.SessionTTL)),
		}, nil
	}
}

// ready reports whether the backing store is reachable.
func (b *sessionBackend) ready(ctx context.Context) error {
	if b == nil || b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

// pruneLoop removes expired documents every interval until ctx ends.
// Stores that expire on their own have no prune func and return at once.
func (b *sessionBackend) pruneLoop(ctx context.Context, every time.Duration, log Logger) {
	if b == nil || b.prune == nil || every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := b.prune(ctx)
			if err != nil {
				log.Warn("session.prune.fail", "err", err)
				continue
			}
			if n > 0 {
				log.Info("session.prune", "removed", n)
			}
		}
	}
}

func (b *sessionBackend) Close() error {
	if b == nil {
		return nil
	}
	err := b.store.Close()
	if b.pool != nil {
		b.pool.Close()
	}
	return err
}
