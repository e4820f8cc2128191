package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dwh_sync"

// Metrics собирает счётчики синхронизации. Методы допускают nil-приёмник.
type Metrics struct {
	rowsStaged     *prometheus.CounterVec
	versionsClosed *prometheus.CounterVec
	versionsAdded  *prometheus.CounterVec
	factsInserted  *prometheus.CounterVec
	fraudEvents    *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	watermark      *prometheus.GaugeVec
}

// New регистрирует метрики в reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rowsStaged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_staged_total",
			Help:      "Строки, загруженные в staging.",
		}, []string{"entity"}),
		versionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scd2_versions_closed_total",
			Help:      "Закрытые версии измерений.",
		}, []string{"entity"}),
		versionsAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scd2_versions_inserted_total",
			Help:      "Новые активные версии измерений.",
		}, []string{"entity"}),
		factsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fact_rows_inserted_total",
			Help:      "Строки, добавленные в таблицы фактов.",
		}, []string{"entity"}),
		fraudEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fraud_events_total",
			Help:      "События мошенничества по правилам.",
		}, []string{"rule"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Запуски синхронизации по статусу.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Длительность запуска синхронизации.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		watermark: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_timestamp_seconds",
			Help:      "Текущая отметка staging-таблицы (unix time).",
		}, []string{"table"}),
	}

	reg.MustRegister(
		m.rowsStaged,
		m.versionsClosed,
		m.versionsAdded,
		m.factsInserted,
		m.fraudEvents,
		m.runs,
		m.runDuration,
		m.watermark,
	)
	return m
}

// AddRowsStaged учитывает строки staging
func (m *Metrics) AddRowsStaged(entity string, n int) {
	if m == nil {
		return
	}
	m.rowsStaged.WithLabelValues(entity).Add(float64(n))
}

// AddSCD2 учитывает закрытые и добавленные версии
func (m *Metrics) AddSCD2(entity string, closed, inserted int64) {
	if m == nil {
		return
	}
	m.versionsClosed.WithLabelValues(entity).Add(float64(closed))
	m.versionsAdded.WithLabelValues(entity).Add(float64(inserted))
}

// AddFacts учитывает добавленные факты
func (m *Metrics) AddFacts(entity string, n int64) {
	if m == nil {
		return
	}
	m.factsInserted.WithLabelValues(entity).Add(float64(n))
}

// AddFraudEvents учитывает события правила
func (m *Metrics) AddFraudEvents(rule string, n int) {
	if m == nil {
		return
	}
	m.fraudEvents.WithLabelValues(rule).Add(float64(n))
}

// ObserveRun учитывает завершённый запуск
func (m *Metrics) ObserveRun(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// SetWatermark публикует отметку staging-таблицы
func (m *Metrics) SetWatermark(table string, t time.Time) {
	if m == nil {
		return
	}
	m.watermark.WithLabelValues(table).Set(float64(t.Unix()))
}
