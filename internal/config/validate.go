package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "validation errors: " + strings.Join(msgs, "; ")
}

var (
	timeframeRe = regexp.MustCompile(`^\d+[mhdwM]$`)
	timerangeRe = regexp.MustCompile(`^(\d{8})?-(\d{8})?$`)
)

// Validate validates the configuration and returns any errors.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[cfg.Env] {
		errs = append(errs, ValidationError{
			Field:   "env",
			Message: "must be one of: development, staging, production, test",
		})
	}

	errs = append(errs, validateRunner(&cfg.Runner)...)
	errs = append(errs, validateExecutor(&cfg.Executor)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateRabbitMQ(&cfg.RabbitMQ)...)
	errs = append(errs, validateSchedule(&cfg.Schedule)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateRunner validates only the runner section. CLI flags can change it after Load.
func ValidateRunner(r *RunnerConfig) error {
	if errs := validateRunner(r); len(errs) > 0 {
		return errs
	}
	return nil
}

func validateRunner(r *RunnerConfig) ValidationErrors {
	var errs ValidationErrors

	if r.Tool == "" {
		errs = append(errs, ValidationError{Field: "runner.tool", Message: "is required"})
	}
	if r.ConfigPath == "" {
		errs = append(errs, ValidationError{Field: "runner.config_path", Message: "is required"})
	}
	if len(r.Strategies) == 0 {
		errs = append(errs, ValidationError{Field: "runner.strategies", Message: "at least one strategy is required"})
	}
	for _, tf := range r.Timeframes {
		if !timeframeRe.MatchString(tf) {
			errs = append(errs, ValidationError{
				Field:   "runner.timeframes",
				Message: fmt.Sprintf("invalid timeframe %q (expected e.g. 5m, 4h, 1d)", tf),
			})
		}
	}
	if r.Epochs <= 0 {
		errs = append(errs, ValidationError{Field: "runner.epochs", Message: "must be greater than 0"})
	}
	if r.Loss == "" {
		errs = append(errs, ValidationError{Field: "runner.loss", Message: "is required"})
	}
	if r.StakeAmount <= 0 {
		errs = append(errs, ValidationError{Field: "runner.stake_amount", Message: "must be greater than 0"})
	}

	ranges := map[string]string{
		"runner.data_timerange":     r.DataRange,
		"runner.hyperopt_timerange": r.HyperoptRange,
		"runner.backtest_timerange": r.BacktestRange,
	}
	for _, field := range []string{"runner.data_timerange", "runner.hyperopt_timerange", "runner.backtest_timerange"} {
		if !timerangeRe.MatchString(ranges[field]) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "must look like YYYYMMDD-YYYYMMDD",
			})
		}
	}

	validLayouts := map[string]bool{"pipe": true, "colon": true}
	if !validLayouts[r.ReportLayout] {
		errs = append(errs, ValidationError{Field: "runner.report_layout", Message: "must be one of: pipe, colon"})
	}

	if r.StageTimeout != "" {
		if d, err := time.ParseDuration(r.StageTimeout); err != nil || d < 0 {
			errs = append(errs, ValidationError{Field: "runner.stage_timeout", Message: "must be a non-negative duration"})
		}
	}
	if r.TopN <= 0 {
		errs = append(errs, ValidationError{Field: "runner.top_n", Message: "must be greater than 0"})
	}
	if r.ResultsPath == "" {
		errs = append(errs, ValidationError{Field: "runner.results_path", Message: "is required"})
	}

	return errs
}

func validateExecutor(e *ExecutorConfig) ValidationErrors {
	var errs ValidationErrors

	switch e.Mode {
	case "local":
	case "docker":
		if e.Docker.Image == "" {
			errs = append(errs, ValidationError{Field: "executor.docker.image", Message: "is required"})
		}
		if e.Docker.WorkDir == "" {
			errs = append(errs, ValidationError{Field: "executor.docker.work_dir", Message: "is required"})
		}
	default:
		errs = append(errs, ValidationError{Field: "executor.mode", Message: "must be one of: local, docker"})
	}

	return errs
}

func validateDatabase(db *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	switch db.Driver {
	case DriverNone:
	case DriverSQLite:
		if db.SQLitePath == "" {
			errs = append(errs, ValidationError{Field: "database.sqlite_path", Message: "is required"})
		}
	case DriverPostgres:
		if db.Host == "" {
			errs = append(errs, ValidationError{Field: "database.host", Message: "is required"})
		}
		if db.Port <= 0 || db.Port > 65535 {
			errs = append(errs, ValidationError{Field: "database.port", Message: "must be a valid port number (1-65535)"})
		}
		if db.User == "" {
			errs = append(errs, ValidationError{Field: "database.user", Message: "is required"})
		}
		if db.Name == "" {
			errs = append(errs, ValidationError{Field: "database.name", Message: "is required"})
		}
		validSSLModes := map[string]bool{
			"disable":     true,
			"require":     true,
			"verify-ca":   true,
			"verify-full": true,
		}
		if !validSSLModes[db.SSLMode] {
			errs = append(errs, ValidationError{
				Field:   "database.sslmode",
				Message: "must be one of: disable, require, verify-ca, verify-full",
			})
		}
		if db.MaxConnections <= 0 {
			errs = append(errs, ValidationError{Field: "database.max_connections", Message: "must be greater than 0"})
		}
	default:
		errs = append(errs, ValidationError{Field: "database.driver", Message: "must be one of: none, sqlite, postgres"})
	}

	return errs
}

func validateRabbitMQ(mq *RabbitMQConfig) ValidationErrors {
	var errs ValidationErrors

	if mq.URL == "" {
		return nil
	}
	if !strings.HasPrefix(mq.URL, "amqp://") && !strings.HasPrefix(mq.URL, "amqps://") {
		errs = append(errs, ValidationError{
			Field:   "rabbitmq.url",
			Message: "must start with amqp:// or amqps://",
		})
	}
	if mq.Exchange == "" {
		errs = append(errs, ValidationError{Field: "rabbitmq.exchange", Message: "is required"})
	}
	if mq.PrefetchCount <= 0 {
		errs = append(errs, ValidationError{Field: "rabbitmq.prefetch_count", Message: "must be greater than 0"})
	}

	return errs
}

func validateSchedule(s *ScheduleConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Cron != "" {
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			errs = append(errs, ValidationError{Field: "schedule.cron", Message: err.Error()})
		}
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			errs = append(errs, ValidationError{Field: "schedule.timezone", Message: "unknown time zone"})
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[l.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: debug, info, warn, error",
		})
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validFormats[l.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be one of: json, console",
		})
	}

	return errs
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve ValidationError
	var ves ValidationErrors
	return errors.As(err, &ve) || errors.As(err, &ves)
}
