// Package metrics exposes simulation progress as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nvandessel/cellsim/internal/simulation"
)

const namespace = "cellsim"

// Collector holds the simulation metrics on its own registry so several
// simulators (or tests) never collide on the default one.
type Collector struct {
	registry *prometheus.Registry

	agentsAlive  prometheus.Gauge
	timepoint    prometheus.Gauge
	births       prometheus.Counter
	deaths       prometheus.Counter
	divisions    prometheus.Counter
	blocked      prometheus.Counter
	wantsDivide  prometheus.Counter
	stepDuration prometheus.Histogram
	pushErrors   prometheus.Counter
}

// NewCollector creates a Collector with Go runtime and process metrics
// registered alongside the simulation metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		agentsAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_alive",
			Help:      "Agents registered after the last committed timepoint",
		}),
		timepoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "timepoint",
			Help:      "Last committed timepoint",
		}),
		births: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "births_total",
			Help:      "Agents born by division",
		}),
		deaths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deaths_total",
			Help:      "Agents retired by death",
		}),
		divisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "divisions_total",
			Help:      "Completed divisions",
		}),
		blocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocked_total",
			Help:      "Agent steps that found no collision-free move",
		}),
		wantsDivide: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wants_divide_total",
			Help:      "Agent steps with a division gated by density",
		}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of one simulation step",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		pushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_errors_total",
			Help:      "Failed snapshot pushes",
		}),
	}

	c.registry.MustRegister(
		c.agentsAlive, c.timepoint,
		c.births, c.deaths, c.divisions, c.blocked, c.wantsDivide,
		c.stepDuration, c.pushErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Observe records one committed step. It matches RunOptions.OnTimepoint.
func (c *Collector) Observe(res simulation.StepResult) {
	c.agentsAlive.Set(float64(res.Agents))
	c.timepoint.Set(float64(res.Time))
	c.births.Add(float64(res.Births))
	c.deaths.Add(float64(res.Deaths))
	c.divisions.Add(float64(res.Divisions))
	c.blocked.Add(float64(res.Blocked))
	c.wantsDivide.Add(float64(res.WantsDivide))
	c.stepDuration.Observe(res.Duration.Seconds())
}

// SetPopulation records the population outside of a step, e.g. after
// seeding or resuming.
func (c *Collector) SetPopulation(t, agents int) {
	c.timepoint.Set(float64(t))
	c.agentsAlive.Set(float64(agents))
}

// PushFailed counts a failed snapshot push.
func (c *Collector) PushFailed() {
	c.pushErrors.Inc()
}

// Registry returns the registry the metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
