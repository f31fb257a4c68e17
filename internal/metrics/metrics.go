// Package metrics provides Prometheus metrics for pipeline runs.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/ports"
)

const namespace = "biblioscanner"

// Metrics owns a registry so several runs in one process never collide on globals.
type Metrics struct {
	registry *prometheus.Registry

	discovered   prometheus.Counter
	outcomes     *prometheus.CounterVec
	strategies   *prometheus.CounterVec
	verdicts     *prometheus.CounterVec
	tokens       *prometheus.CounterVec
	monthlyCost  prometheus.Gauge
	runDuration  prometheus.Histogram
	lastRunEpoch prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		discovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_discovered_total",
			Help:      "Candidate papers returned by discovery",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paper_outcomes_total",
			Help:      "Terminal pipeline state per paper",
		}, []string{"state"}),
		strategies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisition_strategy_total",
			Help:      "Acquisition strategy that produced the synthesis text",
		}, []string{"strategy"}),
		verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relevance_verdicts_total",
			Help:      "Relevance verdicts by deciding stage",
		}, []string{"stage", "relevant"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens billed by paid models",
		}, []string{"model", "kind"}),
		monthlyCost: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monthly_cost",
			Help:      "Spend on paid models in the current calendar month",
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a pipeline run",
			Buckets:   []float64{10, 60, 300, 900, 1800, 3600, 7200},
		}),
		lastRunEpoch: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}
}

// Registry exposes the gatherer, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Discovered adds n discovered candidates.
func (m *Metrics) Discovered(n int) {
	m.discovered.Add(float64(n))
}

// RecordOutcome counts a paper's terminal state and, for committed papers, its strategy.
func (m *Metrics) RecordOutcome(o domain.Outcome) {
	m.outcomes.WithLabelValues(string(o.State)).Inc()
	if o.Verdict.Stage != "" {
		m.verdicts.WithLabelValues(string(o.Verdict.Stage), fmt.Sprint(o.Verdict.Relevant)).Inc()
	}
	if o.Acquisition.Strategy != "" {
		m.strategies.WithLabelValues(string(o.Acquisition.Strategy)).Inc()
	}
}

// SetMonthlyCost publishes the calendar-month spend.
func (m *Metrics) SetMonthlyCost(cost float64) {
	m.monthlyCost.Set(cost)
}

// RunFinished observes a run's duration.
func (m *Metrics) RunFinished(started, finished time.Time) {
	m.runDuration.Observe(finished.Sub(started).Seconds())
	m.lastRunEpoch.Set(float64(finished.Unix()))
}

// WriteTextfile writes the registry in text exposition format for node_exporter.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// UsageRecorder counts tokens before passing usage on to next.
func (m *Metrics) UsageRecorder(next ports.UsageRecorder) ports.UsageRecorder {
	return &meteredUsage{next: next, tokens: m.tokens}
}

type meteredUsage struct {
	next   ports.UsageRecorder
	tokens *prometheus.CounterVec
}

func (u *meteredUsage) RecordUsage(ctx context.Context, usage domain.UsageRecord) {
	u.tokens.WithLabelValues(usage.Model, "prompt").Add(float64(usage.PromptTokens))
	u.tokens.WithLabelValues(usage.Model, "completion").Add(float64(usage.CompletionTokens))
	if u.next != nil {
		u.next.RecordUsage(ctx, usage)
	}
}
