// Package metrics exposes pipeline activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantforge/alphagate/internal/domain"
)

const namespace = "alphagate"

// Collector turns run events into counters and histograms. Register its
// Handle method on an events bus.
type Collector struct {
	events          *prometheus.CounterVec
	runs            *prometheus.CounterVec
	attempts        prometheus.Histogram
	orderViolations prometheus.Counter
	expansions      prometheus.Counter
	structural      prometheus.Counter
	blocked         *prometheus.CounterVec
	tokensReserved  prometheus.Counter
}

// New registers the pipeline metrics with reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Pipeline events emitted, by type",
		}, []string{"type"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Finished runs, by final state",
		}, []string{"final_state"}),
		attempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "validation_attempts",
			Help:      "Validation attempts per finished run",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8},
		}),
		orderViolations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "event_order_violations_total",
			Help:      "Finished runs whose validation events were out of order",
		}),
		expansions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "expansions_total",
			Help:      "Context pack expansions after repeated failures",
		}),
		structural: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "structural_repairs_total",
			Help:      "Drafts that needed structural repair",
		}),
		blocked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "blocked_total",
			Help:      "Runs blocked by a budget, by stage",
		}, []string{"stage"}),
		tokensReserved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "tokens_reserved_total",
			Help:      "Tokens reserved for generation calls",
		}),
	}
}

// Handle records ev.
func (c *Collector) Handle(ev domain.RunEvent) {
	c.events.WithLabelValues(string(ev.Type)).Inc()
	switch ev.Type {
	case domain.EventRetrievalExpanded:
		c.expansions.Inc()
	case domain.EventBudgetCheckPassed:
		if n, ok := number(ev.Payload["tokens"]); ok {
			c.tokensReserved.Add(n)
		}
	case domain.EventBudgetBlocked:
		stage, _ := ev.Payload["stage"].(string)
		c.blocked.WithLabelValues(stage).Inc()
	case domain.EventRunSummary:
		state, _ := ev.Payload["final_state"].(string)
		c.runs.WithLabelValues(state).Inc()
		if n, ok := number(ev.Payload["attempts"]); ok {
			c.attempts.Observe(n)
		}
		if n, ok := number(ev.Payload["structural_repairs"]); ok {
			c.structural.Add(n)
		}
		if v, _ := ev.Payload["event_order_violation"].(bool); v {
			c.orderViolations.Inc()
		}
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// budgetCollector reads ledger usage at scrape time.
type budgetCollector struct {
	status func() []domain.ScopeUsage
	used   *prometheus.Desc
	limit  *prometheus.Desc
}

// RegisterBudget exports the ledger usage reported by status.
func RegisterBudget(reg prometheus.Registerer, status func() []domain.ScopeUsage) error {
	return reg.Register(&budgetCollector{
		status: status,
		used: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "budget", "tokens_used"),
			"Tokens used in the current budget window", []string{"scope"}, nil),
		limit: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "budget", "tokens_limit"),
			"Token limit of the budget window, 0 when unlimited", []string{"scope"}, nil),
	})
}

func (b *budgetCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- b.used
	ch <- b.limit
}

func (b *budgetCollector) Collect(ch chan<- prometheus.Metric) {
	for _, u := range b.status() {
		ch <- prometheus.MustNewConstMetric(b.used, prometheus.GaugeValue, float64(u.Used), string(u.Scope))
		ch <- prometheus.MustNewConstMetric(b.limit, prometheus.GaugeValue, float64(u.Limit), string(u.Scope))
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
