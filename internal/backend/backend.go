// Package backend opens the locking service a configuration names.
package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/lockharness/internal/config"
	"github.com/roach88/lockharness/internal/locksvc"
	"github.com/roach88/lockharness/internal/locksvc/memory"
	"github.com/roach88/lockharness/internal/locksvc/redislock"
	"github.com/roach88/lockharness/internal/locksvc/remote"
	"github.com/roach88/lockharness/internal/store"
)

type options struct {
	service []locksvc.Option
	logger  *slog.Logger
}

// Option configures Open.
type Option func(*options)

// WithServiceOptions passes options to locksvc.NewService. The remote
// backend has no local service and ignores them.
func WithServiceOptions(opts ...locksvc.Option) Option {
	return func(o *options) {
		o.service = append(o.service, opts...)
	}
}

// WithLogger sets the logger for backend diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Backend is an open service plus whatever has to be closed after it.
type Backend struct {
	Name    string
	Service locksvc.Service

	close func() error
}

// Close releases the backend's connections and files.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open connects to the backend named by cfg.Name.
func Open(ctx context.Context, cfg config.BackendConfig, opts ...Option) (*Backend, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	switch cfg.Name {
	case config.BackendMemory, "":
		return &Backend{Name: config.BackendMemory, Service: memory.NewService(o.service...)}, nil

	case config.BackendSQLite:
		st, err := store.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		o.logger.Debug("sqlite backend opened", "path", cfg.SQLitePath)
		return &Backend{Name: cfg.Name, Service: locksvc.NewService(st, o.service...), close: st.Close}, nil

	case config.BackendPostgres:
		st, err := store.OpenPostgres(ctx, cfg.PostgresDSN, store.PostgresPoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("open postgres backend: %w", err)
		}
		o.logger.Debug("postgres backend opened")
		return &Backend{Name: cfg.Name, Service: locksvc.NewService(st, o.service...), close: st.Close}, nil

	case config.BackendRedis:
		tbl, err := redislock.Open(ctx, redislock.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis backend: %w", err)
		}
		o.logger.Debug("redis backend opened", "addr", cfg.RedisAddr)
		return &Backend{Name: cfg.Name, Service: locksvc.NewService(tbl, o.service...), close: tbl.Close}, nil

	case config.BackendRemote:
		svc, err := remote.New(cfg.RemoteURL, remote.WithLogger(o.logger))
		if err != nil {
			return nil, fmt.Errorf("open remote backend: %w", err)
		}
		o.logger.Debug("remote backend configured", "url", cfg.RemoteURL)
		return &Backend{Name: cfg.Name, Service: svc}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Name)
}
