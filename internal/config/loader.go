package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file and applies environment variable overrides.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	// Load from YAML file if exists
	if configPath != "" {
		if err := loadFromYAML(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromYAML loads configuration from a YAML file.
func loadFromYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			return nil
		}
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}

	// Runner
	if v := os.Getenv("FREQSWEEP_TOOL"); v != "" {
		cfg.Runner.Tool = v
	}
	if v := os.Getenv("FREQSWEEP_CONFIG"); v != "" {
		cfg.Runner.ConfigPath = v
	}
	if v := os.Getenv("FREQSWEEP_USER_DIR"); v != "" {
		cfg.Runner.UserDir = v
	}
	if v := os.Getenv("FREQSWEEP_STRATEGIES"); v != "" {
		cfg.Runner.Strategies = splitList(v)
	}
	if v := os.Getenv("FREQSWEEP_TIMEFRAMES"); v != "" {
		cfg.Runner.Timeframes = splitList(v)
	}
	if v := os.Getenv("FREQSWEEP_PAIRS"); v != "" {
		cfg.Runner.Pairs = splitList(v)
	}
	if v := os.Getenv("FREQSWEEP_EPOCHS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runner.Epochs = n
		}
	}
	if v := os.Getenv("FREQSWEEP_LOSS"); v != "" {
		cfg.Runner.Loss = v
	}
	if v := os.Getenv("FREQSWEEP_STAKE_AMOUNT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Runner.StakeAmount = f
		}
	}
	if v := os.Getenv("FREQSWEEP_STAGE_TIMEOUT"); v != "" {
		cfg.Runner.StageTimeout = v
	}
	if v := os.Getenv("FREQSWEEP_DATA_TIMERANGE"); v != "" {
		cfg.Runner.DataRange = v
	}
	if v := os.Getenv("FREQSWEEP_HYPEROPT_TIMERANGE"); v != "" {
		cfg.Runner.HyperoptRange = v
	}
	if v := os.Getenv("FREQSWEEP_BACKTEST_TIMERANGE"); v != "" {
		cfg.Runner.BacktestRange = v
	}
	if v := os.Getenv("FREQSWEEP_SAVE_RESULTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Runner.SaveResults = b
		}
	}

	// Executor
	if v := os.Getenv("FREQSWEEP_EXECUTOR"); v != "" {
		cfg.Executor.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("DOCKER_IMAGE"); v != "" {
		cfg.Executor.Docker.Image = v
	}
	if v := os.Getenv("DOCKER_NETWORK"); v != "" {
		cfg.Executor.Docker.Network = v
	}

	// Database
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("DB_SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}

	// RabbitMQ
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		cfg.RabbitMQ.URL = v
	}
	if v := os.Getenv("RABBITMQ_EXCHANGE"); v != "" {
		cfg.RabbitMQ.Exchange = v
	}

	// HTTP
	if v := os.Getenv("FREQSWEEP_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// Logging
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
}

// splitList splits a comma or whitespace separated list.
func splitList(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// MustLoad loads configuration and panics on error.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
