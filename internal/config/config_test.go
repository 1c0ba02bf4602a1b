package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, Validate(cfg))
	assert.Equal(t, "freqtrade", cfg.Runner.Tool)
	assert.Equal(t, 5, cfg.Runner.TopN)
	assert.Equal(t, "20200101-20231231", cfg.Runner.HyperoptRange)
	assert.Equal(t, "20240101-20251031", cfg.Runner.BacktestRange)
	assert.Equal(t, 6*time.Hour, cfg.Runner.StageTimeoutDuration())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

	require.NoError(t, err)
	assert.Equal(t, Default().Runner.Strategies, cfg.Runner.Strategies)
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "freqsweep.yaml")
	content := `
env: test
runner:
  strategies: [GodStra]
  timeframes: [4h, 1d]
  epochs: 300
  report_layout: colon
executor:
  mode: docker
database:
  driver: sqlite
  sqlite_path: /tmp/sweep.db
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("FREQSWEEP_LOSS", "SharpeHyperOptLossDaily")
	t.Setenv("FREQSWEEP_PAIRS", "BTC/USDT, SOL/USDT")
	t.Setenv("FREQSWEEP_BACKTEST_TIMERANGE", "20250101-20250601")
	t.Setenv("FREQSWEEP_SAVE_RESULTS", "true")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, []string{"GodStra"}, cfg.Runner.Strategies)
	assert.Equal(t, []string{"4h", "1d"}, cfg.Runner.Timeframes)
	assert.Equal(t, 300, cfg.Runner.Epochs)
	assert.Equal(t, "colon", cfg.Runner.ReportLayout)
	assert.Equal(t, "docker", cfg.Executor.Mode)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "SharpeHyperOptLossDaily", cfg.Runner.Loss)
	assert.Equal(t, []string{"BTC/USDT", "SOL/USDT"}, cfg.Runner.Pairs)
	assert.Equal(t, "20250101-20250601", cfg.Runner.BacktestRange)
	assert.True(t, cfg.Runner.SaveResults)
	// Untouched fields keep their defaults.
	assert.Equal(t, 100.0, cfg.Runner.StakeAmount)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runner: [unterminated"), 0o644))

	_, err := Load(path)

	assert.Error(t, err)
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Runner.Strategies = nil
	cfg.Runner.Timeframes = []string{"4 hours"}
	cfg.Runner.Epochs = 0
	cfg.Runner.HyperoptRange = "2020-2023"
	cfg.Runner.ReportLayout = "tsv"
	cfg.Runner.StageTimeout = "soon"
	cfg.Executor.Mode = "ssh"
	cfg.Database.Driver = "mysql"
	cfg.RabbitMQ.URL = "http://broker"
	cfg.Schedule.Cron = "every day"
	cfg.Logging.Format = "xml"

	err := Validate(cfg)

	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)
	fields := make(map[string]bool)
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, f := range []string{
		"runner.strategies",
		"runner.timeframes",
		"runner.epochs",
		"runner.hyperopt_timerange",
		"runner.report_layout",
		"runner.stage_timeout",
		"executor.mode",
		"database.driver",
		"rabbitmq.url",
		"schedule.cron",
		"logging.format",
	} {
		assert.True(t, fields[f], "expected error for %s", f)
	}
}

func TestValidate_OpenEndedTimerange(t *testing.T) {
	cfg := Default()
	cfg.Runner.BacktestRange = "20240101-"

	assert.NoError(t, Validate(cfg))
}

func TestStageTimeoutDuration_ZeroDisables(t *testing.T) {
	r := RunnerConfig{StageTimeout: "0"}
	assert.Equal(t, time.Duration(0), r.StageTimeoutDuration())

	r.StageTimeout = ""
	assert.Equal(t, time.Duration(0), r.StageTimeoutDuration())
}

func TestDockerLimits(t *testing.T) {
	d := DockerConfig{CPULimit: "1.5", MemoryLimit: "2g"}

	assert.Equal(t, int64(150000), d.CPUQuota())
	assert.Equal(t, int64(2<<30), d.MemoryBytes())

	d = DockerConfig{CPULimit: "", MemoryLimit: "512m"}
	assert.Equal(t, int64(0), d.CPUQuota())
	assert.Equal(t, int64(512<<20), d.MemoryBytes())
}

func TestRunnerParams(t *testing.T) {
	cfg := Default()
	cfg.Runner.StageTimeout = "90m"

	p := cfg.Runner.Params()
	assert.Equal(t, "config.json", p.ConfigPath)
	assert.Equal(t, 100, p.Epochs)
	assert.Equal(t, []string{"4h"}, p.Timeframes)
	assert.Equal(t, 90*time.Minute, p.StageTimeout)

	p.Pairs[0] = "XRP/USDT"
	assert.Equal(t, "BTC/USDT", cfg.Runner.Pairs[0])
}
