package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	keeperMetricsOnce sync.Once
	keeperRegistry    *KeeperMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tierlend",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total module requests segmented by module and operation.",
			}, []string{"module", "operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tierlend",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total module errors segmented by module, operation, and status code.",
			}, []string{"module", "operation", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tierlend",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "operation"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tierlend",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, operation, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, operation, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, operation).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// KeeperMetrics tracks the liquidation sweep and index roll-forward loops.
type KeeperMetrics struct {
	sweeps        *prometheus.CounterVec
	flagged       prometheus.Counter
	executed      prometheus.Counter
	indexSteps    prometheus.Counter
	lendersPruned prometheus.Counter
}

// Keeper exposes the metrics registry for the keeper daemon.
func Keeper() *KeeperMetrics {
	keeperMetricsOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tierlend",
				Subsystem: "keeper",
				Name:      "sweeps_total",
				Help:      "Count of keeper sweep invocations segmented by outcome.",
			}, []string{"outcome"}),
			flagged: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tierlend",
				Subsystem: "keeper",
				Name:      "positions_flagged_total",
				Help:      "Count of positions flagged liquidatable by the sweep.",
			}),
			executed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tierlend",
				Subsystem: "keeper",
				Name:      "liquidations_executed_total",
				Help:      "Count of liquidations executed by the sweep.",
			}),
			indexSteps: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tierlend",
				Subsystem: "keeper",
				Name:      "index_steps_total",
				Help:      "Count of daily compounding steps applied by roll-forward calls.",
			}),
			lendersPruned: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tierlend",
				Subsystem: "keeper",
				Name:      "lenders_pruned_total",
				Help:      "Count of dormant lender records reclaimed by the cleanup sweep.",
			}),
		}
		prometheus.MustRegister(
			keeperRegistry.sweeps,
			keeperRegistry.flagged,
			keeperRegistry.executed,
			keeperRegistry.indexSteps,
			keeperRegistry.lendersPruned,
		)
	})
	return keeperRegistry
}

// RecordSweep records one sweep invocation and its per-position outcomes.
func (m *KeeperMetrics) RecordSweep(flagged, executed int, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.sweeps.WithLabelValues(outcome).Inc()
	m.flagged.Add(float64(flagged))
	m.executed.Add(float64(executed))
}

// RecordIndexSteps counts compounding steps applied by a roll-forward call.
func (m *KeeperMetrics) RecordIndexSteps(steps int) {
	if m == nil || steps <= 0 {
		return
	}
	m.indexSteps.Add(float64(steps))
}

// RecordPruned counts lender records reclaimed by the cleanup sweep.
func (m *KeeperMetrics) RecordPruned(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.lendersPruned.Add(float64(count))
}

// OracleMetrics tracks price feed reads and freshness.
type OracleMetrics struct {
	reads     *prometheus.CounterVec
	freshness *prometheus.GaugeVec
}

// Oracle returns the metrics registry for price oracle reads.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			reads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tierlend",
				Subsystem: "oracle",
				Name:      "reads_total",
				Help:      "Count of oracle price reads segmented by token and outcome.",
			}, []string{"token", "outcome"}),
			freshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "tierlend",
				Subsystem: "oracle",
				Name:      "quote_age_seconds",
				Help:      "Age in seconds of the most recent accepted quote per token.",
			}, []string{"token"}),
		}
		prometheus.MustRegister(oracleRegistry.reads, oracleRegistry.freshness)
	})
	return oracleRegistry
}

// RecordRead counts one oracle read and, on success, the quote's age.
func (m *OracleMetrics) RecordRead(token string, age time.Duration, err error) {
	if m == nil {
		return
	}
	label := labelToken(token)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.reads.WithLabelValues(label, outcome).Inc()
	if err == nil {
		m.freshness.WithLabelValues(label).Set(age.Seconds())
	}
}

func labelToken(token string) string {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}
