// Package config provides configuration management for freqsweep.
package config

import (
	"strconv"
	"time"

	"github.com/saltfish/freqsweep/internal/domain"
)

// Config is the root configuration structure.
type Config struct {
	Env      string         `yaml:"env"`
	Runner   RunnerConfig   `yaml:"runner"`
	Executor ExecutorConfig `yaml:"executor"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	HTTP     HTTPConfig     `yaml:"http"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RunnerConfig describes the experiment batch and the external tool invocation.
type RunnerConfig struct {
	Tool          string   `yaml:"tool"`
	ConfigPath    string   `yaml:"config_path"`
	ExampleConfig string   `yaml:"example_config"`
	UserDir       string   `yaml:"user_dir"`
	Exchange      string   `yaml:"exchange"`
	Strategies    []string `yaml:"strategies"`
	Timeframes    []string `yaml:"timeframes"`
	Pairs         []string `yaml:"pairs"`
	Epochs        int      `yaml:"epochs"`
	Loss          string   `yaml:"loss"`
	Spaces        []string `yaml:"spaces"`
	RandomState   int      `yaml:"random_state"`
	StakeAmount   float64  `yaml:"stake_amount"`
	DataRange     string   `yaml:"data_timerange"`
	HyperoptRange string   `yaml:"hyperopt_timerange"`
	BacktestRange string   `yaml:"backtest_timerange"`
	ReportLayout  string   `yaml:"report_layout"`
	StageTimeout  string   `yaml:"stage_timeout"`
	TopN          int      `yaml:"top_n"`
	ResultsPath   string   `yaml:"results_path"`
	SaveResults   bool     `yaml:"save_results"`
	ExportDir     string   `yaml:"export_dir"`
}

// StageTimeoutDuration returns the stage timeout. Zero means unbounded.
func (r *RunnerConfig) StageTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(r.StageTimeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Params returns the parameters shared by every unit of a batch.
func (r *RunnerConfig) Params() domain.RunParams {
	return domain.RunParams{
		ConfigPath:    r.ConfigPath,
		UserDir:       r.UserDir,
		Exchange:      r.Exchange,
		Pairs:         append([]string(nil), r.Pairs...),
		Timeframes:    append([]string(nil), r.Timeframes...),
		Epochs:        r.Epochs,
		Loss:          r.Loss,
		Spaces:        append([]string(nil), r.Spaces...),
		RandomState:   r.RandomState,
		StakeAmount:   r.StakeAmount,
		DataRange:     r.DataRange,
		HyperoptRange: r.HyperoptRange,
		BacktestRange: r.BacktestRange,
		StageTimeout:  r.StageTimeoutDuration(),
	}
}

// ExecutorConfig selects where the external tool runs.
type ExecutorConfig struct {
	Mode   string       `yaml:"mode"`
	Docker DockerConfig `yaml:"docker"`
}

// DockerConfig contains Docker container settings.
type DockerConfig struct {
	Image       string `yaml:"image"`
	Network     string `yaml:"network"`
	WorkDir     string `yaml:"work_dir"`
	CPULimit    string `yaml:"cpu_limit"`
	MemoryLimit string `yaml:"memory_limit"`
	PullImage   bool   `yaml:"pull_image"`
}

// CPUQuota returns the CFS quota for the configured CPU limit (100000 per CPU).
func (d *DockerConfig) CPUQuota() int64 {
	cpus, err := strconv.ParseFloat(d.CPULimit, 64)
	if err != nil || cpus <= 0 {
		return 0
	}
	return int64(cpus * 100000)
}

// MemoryBytes returns the memory limit in bytes. Suffixes k, m and g are accepted.
func (d *DockerConfig) MemoryBytes() int64 {
	return parseByteSize(d.MemoryLimit)
}

// Database drivers.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects the result history store.
type DatabaseConfig struct {
	Driver         string `yaml:"driver"`
	SQLitePath     string `yaml:"sqlite_path"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Name           string `yaml:"name"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

// ConnectionString returns the PostgreSQL connection string.
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" +
		strconv.Itoa(d.Port) + "/" + d.Name + "?sslmode=" + d.SSLMode
}

// RabbitMQConfig contains RabbitMQ connection settings. An empty URL disables events.
type RabbitMQConfig struct {
	URL              string `yaml:"url"`
	Exchange         string `yaml:"exchange"`
	PrefetchCount    int    `yaml:"prefetch_count"`
	ReconnectDelay   string `yaml:"reconnect_delay"`
	MaxReconnectWait string `yaml:"max_reconnect_wait"`
}

// HTTPConfig configures the live status server. An empty address disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// ScheduleConfig configures recurring batches.
type ScheduleConfig struct {
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputPath string `yaml:"output_path"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Env: "development",
		Runner: RunnerConfig{
			Tool:          "freqtrade",
			ConfigPath:    "config.json",
			ExampleConfig: "config/config_binance.example.json",
			UserDir:       "user_data",
			Exchange:      "binance",
			Strategies:    []string{"GodStra", "Supertrend", "MultiMa", "UniversalMACD", "TemplateStrategy"},
			Timeframes:    []string{"4h"},
			Pairs:         []string{"BTC/USDT", "ETH/USDT", "BNB/USDT"},
			Epochs:        100,
			Loss:          "SharpeHyperOptLoss",
			Spaces:        []string{"buy", "sell", "roi", "stoploss"},
			RandomState:   42,
			StakeAmount:   100,
			DataRange:     "20200101-20251031",
			HyperoptRange: "20200101-20231231",
			BacktestRange: "20240101-20251031",
			ReportLayout:  "pipe",
			StageTimeout:  "6h",
			TopN:          5,
			ResultsPath:   "user_data/hyperopt_backtest_results.json",
		},
		Executor: ExecutorConfig{
			Mode: "local",
			Docker: DockerConfig{
				Image:       "freqtradeorg/freqtrade:stable",
				WorkDir:     "/freqtrade",
				CPULimit:    "2.0",
				MemoryLimit: "4g",
				PullImage:   true,
			},
		},
		Database: DatabaseConfig{
			Driver:         DriverNone,
			SQLitePath:     "user_data/freqsweep.db",
			Host:           "localhost",
			Port:           5432,
			User:           "postgres",
			Password:       "postgres",
			Name:           "freqsweep",
			SSLMode:        "disable",
			MaxConnections: 5,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange:         "freqsweep.events",
			PrefetchCount:    10,
			ReconnectDelay:   "5s",
			MaxReconnectWait: "30s",
		},
		Schedule: ScheduleConfig{
			Timezone: "UTC",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stderr",
		},
	}
}

func parseByteSize(s string) int64 {
	if s == "" {
		return 0
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 {
		return 0
	}
	return int64(n * float64(mult))
}
