package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/config"
	"github.com/saltfish/freqsweep/internal/db"
)

// Store is an opened history store.
type Store struct {
	Batches BatchRepository

	ping  func(ctx context.Context) error
	close func() error
}

// Ping checks that the underlying database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.close()
}

// Open opens the store selected by cfg.Driver. It returns nil when history is
// disabled.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	switch cfg.Driver {
	case "", config.DriverNone:
		return nil, nil

	case config.DriverSQLite:
		conn, err := db.OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return &Store{
			Batches: NewSQLiteBatchRepository(conn),
			ping:    conn.Ping,
			close:   conn.Close,
		}, nil

	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Store{
			Batches: NewBatchRepository(pool),
			ping:    pool.Ping,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
