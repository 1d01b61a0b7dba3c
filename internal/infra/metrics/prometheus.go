package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
)

const (
	namespace = "verification"
	subsystem = "orchestrator"
)

var (
	backlogWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "backlog_warnings_total",
		Help:      "Times an orchestrator queue was found above the backlog threshold.",
	})

	retryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "state_machine_retries_total",
		Help:      "Retries spent by state machines that reached a final status, by state type.",
	}, []string{"state_type"})

	outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "state_machine_outcomes_total",
		Help:      "State machines reaching a final status.",
	}, []string{"status"})

	orchestrateErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "orchestrate_errors_total",
		Help:      "Orchestrate calls that returned an error.",
	})

	orchestrateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "orchestrate_duration_seconds",
		Help:      "Duration of one orchestrate call including lock wait.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Prometheus implements domain.Metrics on the default registry.
type Prometheus struct{}

func (Prometheus) IncBacklogWarning() {
	backlogWarnings.Inc()
}

func (Prometheus) AddRetryCount(stateType domain.StateType, n int) {
	if n <= 0 {
		return
	}
	retryCount.WithLabelValues(string(stateType)).Add(float64(n))
}

func (Prometheus) IncOutcome(status domain.AnalysisStatus) {
	outcomes.WithLabelValues(string(status)).Inc()
}

func (Prometheus) ObserveOrchestration(d time.Duration, err error) {
	orchestrateDuration.Observe(d.Seconds())
	if err != nil {
		orchestrateErrors.Inc()
	}
}
