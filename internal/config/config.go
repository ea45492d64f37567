package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"oidkeeper/internal/application/utils"
	"oidkeeper/internal/infrastructure/repositories"
)

// Константы для уровней логирования
const (
	LogLevelError = "error"
	LogLevelInfo  = "info"
	LogLevelDebug = "debug"
	LogLevelTrace = "trace"
)

type (
	// Config - основная конфигурация приложения
	Config struct {
		App     `yaml:"app"`
		Log     `yaml:"logger"`
		Store   repositories.Config `yaml:"store"`
		Session Session             `yaml:"session"`
		Metrics Metrics             `yaml:"metrics"`
	}

	// App - конфигурация приложения
	App struct {
		Name    string `yaml:"name" env:"APP_NAME"`
		Version string `yaml:"version" env:"APP_VERSION"`
	}

	// Log - конфигурация логирования
	Log struct {
		Level string `yaml:"log-level" env:"LOG_LEVEL"`
	}

	// Session - настройки сессий
	Session struct {
		// Retry - повторы транзакций при конфликте версий
		Retry utils.RetryConfig `yaml:"retry"`
	}

	// Metrics - настройки HTTP сервера метрик и API объектов
	Metrics struct {
		Enabled         bool          `yaml:"enabled" env:"METRICS_ENABLED"`
		Addr            string        `yaml:"addr" env:"METRICS_ADDR"`
		ShutdownTimeout time.Duration `yaml:"shutdown-timeout" env:"METRICS_SHUTDOWN_TIMEOUT"`
		// RateLimit - запросов в секунду к API объектов, 0 - без ограничения
		RateLimit float64 `yaml:"rate-limit" env:"API_RATE_LIMIT"`
		RateBurst int     `yaml:"rate-burst" env:"API_RATE_BURST"`
	}
)

// NewConfig создает новую конфигурацию
func NewConfig(path string) (*Config, error) {
	cfg := &Config{}

	// Установка значений по умолчанию
	cfg.App.Name = "oidkeeper"
	cfg.App.Version = "v1.0.0"
	cfg.Log.Level = LogLevelInfo
	cfg.Store = repositories.DefaultConfig()
	cfg.Session.Retry = utils.DefaultRetryConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = ":9090"
	cfg.Metrics.ShutdownTimeout = 5 * time.Second

	// Загрузка из файла конфигурации
	if path != "" {
		err := cleanenv.ReadConfig(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	// Загрузка из переменных окружения
	err := cleanenv.ReadEnv(cfg)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Verbosity переводит уровень логирования в уровень детализации logr
func (l Log) Verbosity() int {
	switch l.Level {
	case LogLevelDebug:
		return 2
	case LogLevelTrace:
		return 4
	default:
		return 0
	}
}

// Validate валидирует конфигурацию
func (c *Config) Validate() error {
	switch c.Log.Level {
	case LogLevelError, LogLevelInfo, LogLevelDebug, LogLevelTrace:
	default:
		return fmt.Errorf("unknown log level: %s", c.Log.Level)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config validation failed: %w", err)
	}

	if c.Session.Retry.MaxAttempts == 0 {
		return fmt.Errorf("session retry max-attempts must be positive")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics address is required")
	}

	if c.Metrics.RateLimit < 0 || c.Metrics.RateBurst < 0 {
		return fmt.Errorf("api rate limit must not be negative")
	}

	return nil
}
