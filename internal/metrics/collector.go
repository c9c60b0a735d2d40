// Package metrics exposes Prometheus instruments for oracle traffic,
// consensus outcomes and round progress.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"wildfire_crew/internal/domain"
)

// Collector owns its registry so several can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	oracleCalls    *prometheus.CounterVec
	oracleDuration *prometheus.HistogramVec
	oracleTokens   *prometheus.CounterVec

	consensusRounds   *prometheus.HistogramVec
	consensusOutcomes *prometheus.CounterVec
	recoveredFailures *prometheus.CounterVec
	droppedCommands   prometheus.Counter
	timesteps         prometheus.Counter
	score             prometheus.Gauge
	liveAgents        prometheus.Gauge
	episodes          *prometheus.CounterVec

	logger *zap.Logger
}

func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		oracleCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Oracle calls by purpose and outcome",
		}, []string{"purpose", "status"}),
		oracleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_call_duration_seconds",
			Help:      "Oracle call latency including retries",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"purpose"}),
		oracleTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_tokens_total",
			Help:      "Oracle tokens by direction",
		}, []string{"purpose", "type"}),
		consensusRounds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consensus_rounds",
			Help:      "Negotiation rounds per committed plan",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}, []string{"mode"}),
		consensusOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_plans_total",
			Help:      "Committed plans by mode and outcome",
		}, []string{"mode", "outcome"}),
		recoveredFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovered_failures_total",
			Help:      "Failures replaced by an idle action, by kind",
		}, []string{"kind"}),
		droppedCommands: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_commands_total",
			Help:      "Commands dropped at joint command assembly",
		}),
		timesteps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timesteps_total",
			Help:      "Round Controller timesteps completed",
		}),
		score: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "episode_score",
			Help:      "Score of the running episode",
		}),
		liveAgents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_agents",
			Help:      "Agents still alive in the running episode",
		}),
		episodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_total",
			Help:      "Finished episodes by status",
		}, []string{"status"}),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveOracleCall(purpose string, elapsed time.Duration, usage domain.Usage, err error) {
	status := "ok"
	switch {
	case errors.Is(err, domain.ErrOracleTimeout):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	c.oracleCalls.WithLabelValues(purpose, status).Inc()
	c.oracleDuration.WithLabelValues(purpose).Observe(elapsed.Seconds())
	if usage.InputTokens > 0 {
		c.oracleTokens.WithLabelValues(purpose, "input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		c.oracleTokens.WithLabelValues(purpose, "output").Add(float64(usage.OutputTokens))
	}
}

func (c *Collector) ObserveConsensus(mode string, rounds int, accepted bool, fallback string) {
	c.consensusRounds.WithLabelValues(mode).Observe(float64(rounds))
	outcome := "accepted"
	switch {
	case fallback != "":
		outcome = "fallback_" + fallback
	case !accepted:
		outcome = "rejected"
	}
	c.consensusOutcomes.WithLabelValues(mode, outcome).Inc()
}

// ObserveRecovered counts a failure replaced by an idle action. kind is
// "decomposition", "parse", "timeout" or "oracle".
func (c *Collector) ObserveRecovered(kind string) {
	c.recoveredFailures.WithLabelValues(kind).Inc()
}

func (c *Collector) ObserveDroppedCommands(n int) {
	if n > 0 {
		c.droppedCommands.Add(float64(n))
	}
}

func (c *Collector) ObserveTimestep(score, live int) {
	c.timesteps.Inc()
	c.score.Set(float64(score))
	c.liveAgents.Set(float64(live))
}

func (c *Collector) ObserveEpisode(status domain.EpisodeStatus, steps int) {
	c.episodes.WithLabelValues(string(status)).Inc()
	c.logger.Debug("episode finished", zap.String("status", string(status)), zap.Int("steps", steps))
}
