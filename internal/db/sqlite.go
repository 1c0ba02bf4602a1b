package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLite is a file-backed result store.
type SQLite struct {
	*sql.DB
	path   string
	logger *zap.Logger
}

// OpenSQLite opens the database at path, creating it and its directory when
// missing, and applies the schema.
func OpenSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer at a time.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(SQLiteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("SQLite database opened", zap.String("path", path))
	return &SQLite{DB: conn, path: path, logger: logger}, nil
}

// Ping checks that the database file is usable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	err := s.DB.Close()
	s.logger.Info("SQLite database closed", zap.String("path", s.path))
	return err
}

// WithTx executes fn within a transaction.
func (s *SQLite) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to rollback transaction",
				zap.Error(rbErr),
				zap.NamedError("cause", err),
			)
		}
		return err
	}
	return tx.Commit()
}
