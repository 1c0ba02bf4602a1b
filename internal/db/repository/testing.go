package repository

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/saltfish/freqsweep/internal/config"
	"github.com/saltfish/freqsweep/internal/db"
	"github.com/saltfish/freqsweep/internal/domain"
)

// setupTestDB connects to the PostgreSQL database named by TEST_DATABASE_URL.
// The test is skipped when the variable is unset.
func setupTestDB(t *testing.T) *db.Pool {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	u, err := url.Parse(dbURL)
	if err != nil {
		t.Fatalf("invalid TEST_DATABASE_URL: %v", err)
	}
	password, _ := u.User.Password()
	port := 5432
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			t.Fatalf("invalid port in TEST_DATABASE_URL: %v", err)
		}
	}
	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	cfg := &config.DatabaseConfig{
		Driver:         config.DriverPostgres,
		Host:           u.Hostname(),
		Port:           port,
		User:           u.User.Username(),
		Password:       password,
		Name:           filepath.Base(u.Path),
		SSLMode:        sslMode,
		MaxConnections: 5,
	}

	pool, err := db.NewPool(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("failed to create test database pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(context.Background(), "TRUNCATE TABLE batches CASCADE"); err != nil {
		t.Logf("warning: failed to truncate batches: %v", err)
	}
	return pool
}

// setupTestSQLite opens a fresh SQLite database in a temporary directory.
func setupTestSQLite(t *testing.T) *db.SQLite {
	t.Helper()

	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "history.db"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// sampleBatch returns a finished batch with one unit per disposition.
func sampleBatch(t *testing.T, startedAt time.Time) *domain.BatchResult {
	t.Helper()

	result := domain.NewBatchResult(startedAt)

	validated := domain.NewUnitOutcome(domain.ExperimentUnit{Strategy: "GodStra", Timeframe: "4h"})
	validated.State = domain.UnitStateValidated
	validated.OptimizeSuccess = true
	validated.ValidateSuccess = true
	validated.OptimizeDuration = 30 * time.Minute
	validated.ValidateDuration = 2 * time.Minute
	validated.Metrics = domain.Metrics{
		domain.MetricTotalProfit: "15.2%",
		domain.MetricWinRate:     "55.0%",
	}

	failed := domain.NewUnitOutcome(domain.ExperimentUnit{Strategy: "MultiMa", Timeframe: "4h"})
	failed.State = domain.UnitStateOptimizeFailed
	failed.Error = "hyperopt exited with code 2"

	cancelled := domain.NewUnitOutcome(domain.ExperimentUnit{Strategy: "Supertrend", Timeframe: "4h"})
	cancelled.State = domain.UnitStateCancelled

	for _, o := range []*domain.UnitOutcome{validated, failed, cancelled} {
		if err := result.Record(o); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	result.Elapsed = validated.Duration()
	result.FinishedAt = startedAt.Add(result.Elapsed)
	return result
}
