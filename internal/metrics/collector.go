// Package metrics exposes batch progress as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/pipeline"
	"github.com/saltfish/freqsweep/internal/report"
)

const namespace = "freqsweep"

// Stage run statuses.
const (
	statusSuccess = "success"
	statusFailure = "failure"
	statusTimeout = "timeout"
)

// Collector records batch notifications into its own registry.
type Collector struct {
	pipeline.NopObserver

	registry *prometheus.Registry

	stageRuns     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	units         *prometheus.CounterVec
	unitProfit    *prometheus.GaugeVec
	batches       prometheus.Counter
	batchRunning  prometheus.Gauge
	batchDone     prometheus.Gauge
	batchTotal    prometheus.Gauge
}

// NewCollector creates a Collector with a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Total number of stage runs by stage and status",
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of stage runs",
			Buckets:   []float64{10, 30, 60, 300, 900, 1800, 3600, 7200, 14400, 21600},
		}, []string{"stage"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Total number of finished units by final state",
		}, []string{"state"}),
		unitProfit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unit_profit",
			Help:      "Validation profit of the last run of each unit",
		}, []string{"unit"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of batches started",
		}),
		batchRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_running",
			Help:      "1 while a batch is running",
		}),
		batchDone: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_units_done",
			Help:      "Units finished in the current batch",
		}),
		batchTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_units",
			Help:      "Units in the current batch",
		}),
	}

	c.registry.MustRegister(
		c.stageRuns, c.stageDuration, c.units, c.unitProfit,
		c.batches, c.batchRunning, c.batchDone, c.batchTotal,
	)
	return c
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) BatchStarted(_ uuid.UUID, units []domain.ExperimentUnit) {
	c.batches.Inc()
	c.batchRunning.Set(1)
	c.batchDone.Set(0)
	c.batchTotal.Set(float64(len(units)))
}

func (c *Collector) StageFinished(_ domain.ExperimentUnit, outcome *domain.StageOutcome) {
	status := statusSuccess
	switch {
	case outcome.TimedOut:
		status = statusTimeout
	case !outcome.Success:
		status = statusFailure
	}
	stage := outcome.Stage.String()
	c.stageRuns.WithLabelValues(stage, status).Inc()
	c.stageDuration.WithLabelValues(stage).Observe(outcome.Duration().Seconds())
}

func (c *Collector) UnitFinished(outcome *domain.UnitOutcome, p pipeline.Progress) {
	c.units.WithLabelValues(outcome.State.String()).Inc()
	c.batchDone.Set(float64(p.Done))

	if outcome.State != domain.UnitStateValidated {
		return
	}
	raw, _ := outcome.Metrics.Get(domain.MetricTotalProfit)
	if profit, ok := report.ProfitValue(raw); ok {
		c.unitProfit.WithLabelValues(outcome.Unit.ID()).Set(profit)
	}
}

func (c *Collector) BatchFinished(*domain.BatchResult) {
	c.batchRunning.Set(0)
}

// Ensure interface compliance at compile time.
var _ pipeline.Observer = (*Collector)(nil)
