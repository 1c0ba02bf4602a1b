package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltfish/freqsweep/internal/domain"
)

func TestSQLiteBatchRepository(t *testing.T) {
	testBatchRepository(t, NewSQLiteBatchRepository(setupTestSQLite(t)))
}

func TestPostgresBatchRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testBatchRepository(t, NewBatchRepository(setupTestDB(t)))
}

func testBatchRepository(t *testing.T, repo BatchRepository) {
	ctx := context.Background()
	first := sampleBatch(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	second := sampleBatch(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	t.Run("SaveAndGet", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, first))

		got, err := repo.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, first.Order, got.Order)
		assert.Equal(t, first.Elapsed, got.Elapsed)

		o, ok := got.Get("GodStra_4h")
		require.True(t, ok)
		assert.Equal(t, domain.UnitStateValidated, o.State)
		assert.Equal(t, "15.2%", o.Metrics[domain.MetricTotalProfit])
	})

	t.Run("SaveTwiceReplaces", func(t *testing.T) {
		first.Outcomes["Supertrend_4h"].State = domain.UnitStateValidateFailed
		require.NoError(t, repo.Save(ctx, first))

		got, err := repo.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.UnitStateValidateFailed, got.Outcomes["Supertrend_4h"].State)

		history, err := repo.UnitHistory(ctx, "Supertrend_4h", 10)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, second))

		list, err := repo.List(ctx, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)
		assert.Equal(t, first.ID, list[1].ID)
		assert.Equal(t, 3, list[0].Total)
		assert.Equal(t, 1, list[0].Validated)
		assert.Equal(t, 1, list[0].Failed)
		assert.Equal(t, 1, list[0].Cancelled)
		assert.Equal(t, 32*time.Minute, list[0].Elapsed)
		assert.True(t, second.StartedAt.Equal(list[0].StartedAt))

		limited, err := repo.List(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("UnitHistory", func(t *testing.T) {
		history, err := repo.UnitHistory(ctx, "GodStra_4h", 10)
		require.NoError(t, err)
		require.Len(t, history, 2)

		assert.Equal(t, second.ID, history[0].BatchID)
		assert.Equal(t, "GodStra", history[0].Strategy)
		assert.Equal(t, "4h", history[0].Timeframe)
		assert.Equal(t, domain.UnitStateValidated, history[0].State)
		assert.Equal(t, "15.2%", history[0].Profit)
		assert.Equal(t, "55.0%", history[0].Metrics[domain.MetricWinRate])
		assert.True(t, second.FinishedAt.Equal(history[0].RecordedAt))

		failed, err := repo.UnitHistory(ctx, "MultiMa_4h", 10)
		require.NoError(t, err)
		require.NotEmpty(t, failed)
		assert.Empty(t, failed[0].Profit)
		assert.Nil(t, failed[0].Metrics)
	})
}
