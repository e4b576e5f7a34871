package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/warp/supplier-ledger/config"
	"github.com/warp/supplier-ledger/ledger"
	"github.com/warp/supplier-ledger/ledger/store"
	"github.com/warp/supplier-ledger/lock"
	"github.com/warp/supplier-ledger/metrics"
	"github.com/warp/supplier-ledger/store/postgres"
	"github.com/warp/supplier-ledger/store/sqlite"
)

// backend is a ledger.Store with lifecycle hooks.
type backend interface {
	ledger.Store
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// memoryBackend adapts the in-memory store; it has nothing to migrate or close.
type memoryBackend struct {
	*store.Memory
}

func (memoryBackend) Ping(context.Context) error    { return nil }
func (memoryBackend) Migrate(context.Context) error { return nil }
func (memoryBackend) Close() error                  { return nil }

// app wires the store, lock, metrics and service from config.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   backend
	redis   *redis.Client
	metrics *metrics.Metrics
	svc     *ledger.Service
}

func openStore(ctx context.Context, cfg *config.Config) (backend, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		return memoryBackend{store.NewMemory()}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}

	a := &app{cfg: cfg, log: log, store: st, metrics: metrics.New()}

	opts := []ledger.Option{
		ledger.WithLogger(log.With().Str("component", "ledger").Logger()),
		ledger.WithObserver(a.metrics),
		ledger.WithMaxAttempts(cfg.TxMaxAttempts),
	}
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		locker := lock.NewRedisLocker(a.redis,
			lock.WithTTL(cfg.LockTTL),
			lock.WithLogger(log.With().Str("component", "lock").Logger()),
		)
		opts = append(opts, ledger.WithLocker(locker))
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis supplier locks enabled")
	}

	a.svc = ledger.NewService(st, opts...)
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close redis")
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close store")
	}
}
