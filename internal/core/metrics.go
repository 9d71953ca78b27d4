package core

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records import activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	validations   *prometheus.CounterVec
	validatedRows *prometheus.CounterVec
	jobs          *prometheus.CounterVec
	records       *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	activeJobs    *prometheus.GaugeVec
}

// NewMetrics creates the import collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "importer",
			Name:      "validations_total",
			Help:      "Files validated, by module and outcome.",
		}, []string{"module", "outcome"}),
		validatedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "importer",
			Name:      "validated_rows_total",
			Help:      "Rows validated, by module and validity.",
		}, []string{"module", "result"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "importer",
			Name:      "jobs_total",
			Help:      "Import jobs that reached a terminal state.",
		}, []string{"module", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "importer",
			Name:      "records_total",
			Help:      "Records handed to record stores, by result.",
		}, []string{"module", "result"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "importer",
			Name:      "batch_duration_seconds",
			Help:      "Duration of record store batch inserts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"module"}),
		activeJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "importer",
			Name:      "active_jobs",
			Help:      "Import jobs currently pending or processing.",
		}, []string{"module"}),
	}
	reg.MustRegister(m.validations, m.validatedRows, m.jobs, m.records, m.batchDuration, m.activeJobs)
	return m
}

func (m *Metrics) validation(module, outcome string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(module, outcome).Inc()
}

func (m *Metrics) rows(module string, s ValidationSummary) {
	if m == nil {
		return
	}
	m.validatedRows.WithLabelValues(module, "valid").Add(float64(s.ValidRows))
	m.validatedRows.WithLabelValues(module, "invalid").Add(float64(s.InvalidRows))
}

func (m *Metrics) jobStarted(module string) {
	if m == nil {
		return
	}
	m.activeJobs.WithLabelValues(module).Inc()
}

func (m *Metrics) jobFinished(module string, status JobStatus) {
	if m == nil {
		return
	}
	m.activeJobs.WithLabelValues(module).Dec()
	m.jobs.WithLabelValues(module, string(status)).Inc()
}

func (m *Metrics) batch(module string, inserted, failed int, took time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(module).Observe(took.Seconds())
	if inserted > 0 {
		m.records.WithLabelValues(module, "success").Add(float64(inserted))
	}
	if failed > 0 {
		m.records.WithLabelValues(module, "failed").Add(float64(failed))
	}
}

// PoolStats is a point-in-time view of a connection pool.
type PoolStats struct {
	TotalConns    int32
	AcquiredConns int32
	IdleConns     int32
	MaxConns      int32
}

// PgxPoolStats reads PoolStats from a pgx pool.
func PgxPoolStats(pool *pgxpool.Pool) func() PoolStats {
	return func() PoolStats {
		st := pool.Stat()
		return PoolStats{
			TotalConns:    st.TotalConns(),
			AcquiredConns: st.AcquiredConns(),
			IdleConns:     st.IdleConns(),
			MaxConns:      st.MaxConns(),
		}
	}
}

// RegisterPoolMetrics exposes connection pool statistics, read at scrape time.
func RegisterPoolMetrics(reg prometheus.Registerer, stats func() PoolStats) {
	gauge := func(name, help string, fn func(PoolStats) int32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "importer",
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn(stats())) })
	}
	reg.MustRegister(
		gauge("total_conns", "Connections currently open.", func(s PoolStats) int32 { return s.TotalConns }),
		gauge("acquired_conns", "Connections checked out of the pool.", func(s PoolStats) int32 { return s.AcquiredConns }),
		gauge("idle_conns", "Idle connections.", func(s PoolStats) int32 { return s.IdleConns }),
		gauge("max_conns", "Maximum pool size.", func(s PoolStats) int32 { return s.MaxConns }),
	)
}

// RegisterGauges exposes store sizes and validation slots, read at scrape time.
func (s *Service) RegisterGauges(reg prometheus.Registerer) {
	gauge := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "importer",
			Name:      name,
			Help:      help,
		}, fn)
	}
	reg.MustRegister(
		gauge("sessions", "Validation sessions held in the session store.", func() float64 { return float64(s.sessions.Len()) }),
		gauge("jobs", "Import jobs held in the job store.", func() float64 { return float64(s.jobs.Len()) }),
	)
	if s.limiter != nil {
		reg.MustRegister(
			gauge("validations_active", "Validations holding a slot.", func() float64 { return float64(s.limiter.ActiveCount()) }),
			gauge("validations_max", "Maximum concurrent validations.", func() float64 { return float64(s.limiter.MaxConcurrent()) }),
		)
	}
}
