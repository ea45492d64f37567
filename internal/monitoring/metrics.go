package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"oidkeeper/internal/domain/models"
)

const metricsNamespace = "oidkeeper"

// Commit outcome label values
const (
	OutcomeCommitted = "committed"
	OutcomeConflict  = "conflict"
	OutcomeFailed    = "failed"
)

// Collector is a prometheus.Collector that collects metrics about
// transactions of all sessions. It implements txn.Metrics.
type Collector struct {
	commits        *prometheus.CounterVec
	commitDuration prometheus.Histogram
	commitSize     prometheus.Histogram
	aborts         prometheus.Counter
	discarded      prometheus.Counter
	conflicts      *prometheus.CounterVec
	openSessions   prometheus.GaugeFunc
}

// NewCollector returns a new Collector. openSessions reports the number of sessions
// currently open; it may be nil.
func NewCollector(openSessions func() int) *Collector {
	if openSessions == nil {
		openSessions = func() int { return 0 }
	}
	return &Collector{
		commits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "commits_total",
				Help:      "The number of executed command batches by outcome.",
			}, []string{"outcome"},
		),
		commitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "commit_duration_seconds",
				Help:      "The time taken to execute a command batch against the store.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		commitSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "commit_commands",
				Help:      "The number of commands in an executed batch.",
				Buckets:   []float64{1, 2, 5, 10, 50, 100, 500},
			},
		),
		aborts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "aborts_total",
				Help:      "The number of aborted transactions.",
			},
		),
		discarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "discarded_commands_total",
				Help:      "The number of queued commands dropped by aborts.",
			},
		),
		conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "conflicts_total",
				Help:      "The number of optimistic concurrency conflicts by object type.",
			}, []string{"type"},
		),
		openSessions: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "open_sessions",
				Help:      "The number of sessions not closed yet.",
			}, func() float64 { return float64(openSessions()) },
		),
	}
}

// ObserveCommit records one executed batch
func (c *Collector) ObserveCommit(commands int, elapsed time.Duration, err error) {
	outcome := OutcomeCommitted
	switch {
	case err == nil:
	case models.IsConcurrencyConflict(err):
		outcome = OutcomeConflict
	default:
		outcome = OutcomeFailed
	}
	c.commits.WithLabelValues(outcome).Inc()
	c.commitDuration.Observe(elapsed.Seconds())
	c.commitSize.Observe(float64(commands))
}

// ObserveAbort records an abort that discarded the given number of queued commands
func (c *Collector) ObserveAbort(discarded int) {
	c.aborts.Inc()
	c.discarded.Add(float64(discarded))
}

// ObserveConflict records a version conflict on oid
func (c *Collector) ObserveConflict(oid models.Oid) {
	c.conflicts.WithLabelValues(oid.TypeTag()).Inc()
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.commits.Describe(ch)
	c.commitDuration.Describe(ch)
	c.commitSize.Describe(ch)
	c.aborts.Describe(ch)
	c.discarded.Describe(ch)
	c.conflicts.Describe(ch)
	c.openSessions.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.commits.Collect(ch)
	c.commitDuration.Collect(ch)
	c.commitSize.Collect(ch)
	c.aborts.Collect(ch)
	c.discarded.Collect(ch)
	c.conflicts.Collect(ch)
	c.openSessions.Collect(ch)
}
