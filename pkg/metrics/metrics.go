// Package metrics публикует счетчики синхронизации в формате Prometheus.
// Metrics реализует pipeline.Observer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruslano69/datasync/pkg/pipeline"
)

const namespace = "datasync"

// Config - настройки HTTP-эндпоинта метрик
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultAddr - адрес по умолчанию для режима -serve
const DefaultAddr = ":9090"

// ApplyDefaults заполняет незаданные поля
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
}

// Metrics - метрики конвейеров
type Metrics struct {
	Rows          *prometheus.CounterVec
	Runs          *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	LastRun       *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New создает метрики в собственном реестре вместе со стандартными
// метриками процесса и рантайма Go
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows written to destination tables by operation",
		}, []string{"table", "op"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by final status",
		}, []string{"pipeline", "status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9),
		}, []string{"stage"}),
		LastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last finished run",
		}, []string{"pipeline"}),
	}
	m.registry.MustRegister(
		m.Rows, m.Runs, m.StageDuration, m.LastRun,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry возвращает реестр метрик
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler - HTTP-обработчик /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StageFinished учитывает длительность стадии. Пропущенные стадии не учитываются.
func (m *Metrics) StageFinished(_ string, sr *pipeline.StageResult) {
	if sr.Skipped {
		return
	}
	m.StageDuration.WithLabelValues(string(sr.Stage)).Observe(sr.Duration)
}

// RowsWritten учитывает записанные строки
func (m *Metrics) RowsWritten(table, op string, n int) {
	m.Rows.WithLabelValues(table, op).Add(float64(n))
}

// RunFinished учитывает итог запуска
func (m *Metrics) RunFinished(run *pipeline.Run) {
	m.Runs.WithLabelValues(run.Pipeline, string(run.Status)).Inc()
	m.LastRun.WithLabelValues(run.Pipeline).Set(float64(run.EndTime.Unix()))
}
