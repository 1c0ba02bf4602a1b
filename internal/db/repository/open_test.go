package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saltfish/freqsweep/internal/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("Disabled", func(t *testing.T) {
		store, err := Open(ctx, &config.DatabaseConfig{Driver: config.DriverNone}, logger)
		require.NoError(t, err)
		assert.Nil(t, store)
	})

	t.Run("SQLite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "history.db")
		store, err := Open(ctx, &config.DatabaseConfig{Driver: config.DriverSQLite, SQLitePath: path}, logger)
		require.NoError(t, err)
		require.NotNil(t, store)
		defer store.Close()

		assert.NoError(t, store.Ping(ctx))
		list, err := store.Batches.List(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		_, err := Open(ctx, &config.DatabaseConfig{Driver: "mysql"}, logger)
		assert.Error(t, err)
	})
}
