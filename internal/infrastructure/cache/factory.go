package cache

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/distflow/backend/internal/domain/shared"
	"github.com/distflow/backend/internal/infrastructure/config"
)

// IdempotencyStoreFactory builds the idempotency store from Redis config,
// optionally falling back to the in-memory store when Redis is unreachable.
type IdempotencyStoreFactory struct {
	cfg                   config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

type FactoryOption func(*IdempotencyStoreFactory)

func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *IdempotencyStoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback permits degrading to the in-memory store. Only safe
// for single-instance deployments.
func WithInMemoryFallback() FactoryOption {
	return func(f *IdempotencyStoreFactory) {
		f.allowInMemoryFallback = true
	}
}

func NewIdempotencyStoreFactory(cfg config.RedisConfig, opts ...FactoryOption) *IdempotencyStoreFactory {
	f := &IdempotencyStoreFactory{
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *IdempotencyStoreFactory) CreateRedisStore() (shared.IdempotencyStore, error) {
	return NewRedisIdempotencyStore(f.cfg.Addr(), f.cfg.Password, f.cfg.DB)
}

func (f *IdempotencyStoreFactory) CreateInMemoryStore() shared.IdempotencyStore {
	return NewInMemoryIdempotencyStore()
}

// CreateStore prefers Redis and falls back to in-memory when allowed.
func (f *IdempotencyStoreFactory) CreateStore() (shared.IdempotencyStore, error) {
	store, err := f.CreateRedisStore()
	if err == nil {
		f.logger.Info("using Redis idempotency store")
		return store, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for idempotency but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory idempotency store. "+
		"Duplicate reservation commands may slip through in multi-instance deployments.",
		zap.Error(err),
	)
	return f.CreateInMemoryStore(), nil
}
