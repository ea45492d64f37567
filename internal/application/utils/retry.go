package utils

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"oidkeeper/internal/domain/models"
)

// RetryConfig определяет параметры повторных попыток
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial-delay" env:"RETRY_INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max-delay" env:"RETRY_MAX_DELAY"`
	MaxElapsed   time.Duration `yaml:"max-elapsed" env:"RETRY_MAX_ELAPSED"`
	MaxAttempts  uint64        `yaml:"max-attempts" env:"RETRY_MAX_ATTEMPTS"`
}

// DefaultRetryConfig возвращает стандартную конфигурацию для retry
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		MaxElapsed:   15 * time.Second,
		MaxAttempts:  5,
	}
}

// NewBackOff строит экспоненциальную политику повторов, ограниченную контекстом
func (c RetryConfig) NewBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.InitialDelay > 0 {
		b.InitialInterval = c.InitialDelay
	}
	if c.MaxDelay > 0 {
		b.MaxInterval = c.MaxDelay
	}
	b.MaxElapsedTime = c.MaxElapsed

	var policy backoff.BackOff = b
	if c.MaxAttempts > 0 {
		// первая попытка не считается повтором
		policy = backoff.WithMaxRetries(policy, c.MaxAttempts-1)
	}
	return backoff.WithContext(policy, ctx)
}

// IsRetryableError определяет, является ли ошибка временной и подходящей для retry
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if models.IsConcurrencyConflict(err) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "temporary")
}

// ExecuteWithRetry выполняет функцию с retry логикой.
// Ошибки, для которых retryable возвращает false, прекращают повторы сразу.
func ExecuteWithRetry(ctx context.Context, config RetryConfig, retryable func(error) bool, fn func(attempt int) error) error {
	if retryable == nil {
		retryable = IsRetryableError
	}

	attempt := 0
	op := func() error {
		attempt++
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(op, config.NewBackOff(ctx))
}
