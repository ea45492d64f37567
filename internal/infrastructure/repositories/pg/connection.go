package pg

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ConnectionConfig holds PostgreSQL connection configuration
type ConnectionConfig struct {
	URI             string        `yaml:"uri" env:"PG_URI"`
	MaxConns        int32         `yaml:"max-conns" env:"PG_MAX_CONNS"`
	MinConns        int32         `yaml:"min-conns" env:"PG_MIN_CONNS"`
	MaxConnLifetime time.Duration `yaml:"max-conn-lifetime" env:"PG_MAX_CONN_LIFETIME"`
	MaxConnIdleTime time.Duration `yaml:"max-conn-idle-time" env:"PG_MAX_CONN_IDLE_TIME"`
	HealthTimeout   time.Duration `yaml:"health-timeout" env:"PG_HEALTH_TIMEOUT"`
	ConnectTimeout  time.Duration `yaml:"connect-timeout" env:"PG_CONNECT_TIMEOUT"`
}

// DefaultConnectionConfig returns production-ready defaults
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxConns:        30,
		MinConns:        3,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		HealthTimeout:   30 * time.Second,
		ConnectTimeout:  time.Minute,
	}
}

// ConnectionManager manages PostgreSQL connections with health monitoring
type ConnectionManager struct {
	config ConnectionConfig
	pool   atomic.Pointer[pgxpool.Pool]

	// Health monitoring
	healthTicker *time.Ticker
	stopHealth   chan struct{}
	isHealthy    atomic.Bool
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	cm := &ConnectionManager{
		config:     config,
		stopHealth: make(chan struct{}),
	}
	cm.isHealthy.Store(false)
	return cm
}

// Connect establishes the database connection, retrying until ConnectTimeout elapses
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	poolConfig, err := pgxpool.ParseConfig(cm.config.URI)
	if err != nil {
		return errors.Wrap(err, "failed to parse connection URI")
	}

	poolConfig.MaxConns = cm.config.MaxConns
	poolConfig.MinConns = cm.config.MinConns
	poolConfig.MaxConnLifetime = cm.config.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cm.config.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = 30 * time.Second

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cm.config.ConnectTimeout

	var pool *pgxpool.Pool
	err = backoff.RetryNotify(func() error {
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "failed to create connection pool"))
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return errors.Wrap(err, "failed to ping database")
		}
		pool = p
		return nil
	}, backoff.WithContext(policy, ctx), func(err error, next time.Duration) {
		klog.V(2).InfoS("PostgreSQL is not reachable yet", "retry-in", next, "error", err.Error())
	})
	if err != nil {
		return err
	}

	cm.pool.Store(pool)
	cm.isHealthy.Store(true)

	cm.startHealthMonitoring()

	return nil
}

// Close closes the connection pool and stops health monitoring
func (cm *ConnectionManager) Close() error {
	if cm.healthTicker != nil {
		cm.healthTicker.Stop()
		close(cm.stopHealth)
		cm.healthTicker = nil
	}

	if pool := cm.pool.Load(); pool != nil {
		pool.Close()
		cm.pool.Store(nil)
	}

	cm.isHealthy.Store(false)
	return nil
}

// Pool returns the current connection pool
func (cm *ConnectionManager) Pool() *pgxpool.Pool {
	return cm.pool.Load()
}

// IsHealthy returns the current health status
func (cm *ConnectionManager) IsHealthy() bool {
	return cm.isHealthy.Load()
}

// BeginTx starts a repeatable read transaction; concurrent writers of the same row fail with 40001
func (cm *ConnectionManager) BeginTx(ctx context.Context) (pgx.Tx, error) {
	pool := cm.Pool()
	if pool == nil {
		return nil, errors.New("connection pool not initialized")
	}

	return pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadWrite,
	})
}

// WithTx executes a function within a transaction
func (cm *ConnectionManager) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := cm.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// startHealthMonitoring starts the health check routine
func (cm *ConnectionManager) startHealthMonitoring() {
	cm.healthTicker = time.NewTicker(30 * time.Second)
	ticker, stop := cm.healthTicker, cm.stopHealth

	go func() {
		for {
			select {
			case <-ticker.C:
				cm.performHealthCheck()
			case <-stop:
				return
			}
		}
	}()
}

// performHealthCheck checks database connectivity
func (cm *ConnectionManager) performHealthCheck() {
	pool := cm.Pool()
	if pool == nil {
		cm.isHealthy.Store(false)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cm.config.HealthTimeout)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		if cm.isHealthy.Swap(false) {
			klog.InfoS("PostgreSQL health check failed", "error", err.Error())
		}
		return
	}

	cm.isHealthy.Store(true)
}

// HealthStatus returns detailed health information
func (cm *ConnectionManager) HealthStatus() HealthStatus {
	pool := cm.Pool()
	if pool == nil {
		return HealthStatus{
			IsHealthy: false,
			Error:     "connection pool not initialized",
			CheckedAt: time.Now(),
		}
	}

	stat := pool.Stat()
	return HealthStatus{
		IsHealthy:     cm.IsHealthy(),
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		CheckedAt:     time.Now(),
	}
}

// HealthStatus provides detailed connection pool health information
type HealthStatus struct {
	IsHealthy     bool      `json:"isHealthy"`
	TotalConns    int32     `json:"totalConns"`
	IdleConns     int32     `json:"idleConns"`
	AcquiredConns int32     `json:"acquiredConns"`
	Error         string    `json:"error,omitempty"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// String returns a human-readable health status
func (hs HealthStatus) String() string {
	status := "HEALTHY"
	if !hs.IsHealthy {
		status = "UNHEALTHY"
	}

	return fmt.Sprintf("PostgreSQL: %s (total:%d, idle:%d, acquired:%d) at %s",
		status, hs.TotalConns, hs.IdleConns, hs.AcquiredConns,
		hs.CheckedAt.Format(time.RFC3339))
}
