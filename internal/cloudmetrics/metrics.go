package cloudmetrics

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// CloudMetrics aggregates deployment accounting metrics and pushes them to
// the SiteLoom fleet collector. It is nil when cloud metrics are disabled;
// callers must tolerate that.
type CloudMetrics struct {
	registry   *prometheus.Registry
	pusher     Pusher
	logger     *zap.Logger
	deployment string

	eventsIngested *prometheus.CounterVec
	sweepRuns      *prometheus.CounterVec
	sitesTotal     *prometheus.GaugeVec
	usersTotal     *prometheus.GaugeVec
	memorySys      *prometheus.GaugeVec
}

// New builds the deployment metric set on the given registry. A nil registry
// gets a private one so collectors never collide with the serving registry.
func New(registry *prometheus.Registry, pusher Pusher, deploymentID, version string, logger *zap.Logger) *CloudMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &CloudMetrics{
		registry:   registry,
		pusher:     pusher,
		logger:     logger,
		deployment: normalizeDeployment(deploymentID),
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "growth_deployment_events_ingested_total",
			Help: "Growth events accepted by this deployment, by kind.",
			ConstLabels: prometheus.Labels{
				"version": version,
			},
		}, []string{"deployment", "kind"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "growth_deployment_sweep_runs_total",
			Help: "Background sweep completions on this deployment, by job.",
		}, []string{"deployment", "job"}),
		sitesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "growth_deployment_sites_total",
			Help: "Sites registered on this deployment.",
		}, []string{"deployment"}),
		usersTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "growth_deployment_users_total",
			Help: "User accounts on this deployment.",
		}, []string{"deployment"}),
		memorySys: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "growth_deployment_memory_sys_bytes",
			Help: "Memory obtained from the OS by this deployment.",
		}, []string{"deployment"}),
	}

	registry.MustRegister(c.eventsIngested, c.sweepRuns, c.sitesTotal, c.usersTotal, c.memorySys)
	return c
}

// IncEventIngested counts one accepted event. Safe to call from a goroutine.
func (c *CloudMetrics) IncEventIngested(kind string) {
	if c == nil {
		return
	}
	c.eventsIngested.WithLabelValues(c.deployment, normalizeLabel(kind)).Inc()
}

// IncSweepRun counts one completed sweep job.
func (c *CloudMetrics) IncSweepRun(job string) {
	if c == nil {
		return
	}
	c.sweepRuns.WithLabelValues(c.deployment, normalizeLabel(job)).Inc()
}

func (c *CloudMetrics) SetSitesTotal(count int64) {
	if c == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	c.sitesTotal.WithLabelValues(c.deployment).Set(float64(count))
}

func (c *CloudMetrics) SetUsersTotal(count int64) {
	if c == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	c.usersTotal.WithLabelValues(c.deployment).Set(float64(count))
}

func (c *CloudMetrics) SetMemoryUsage(sysBytes uint64) {
	if c == nil {
		return
	}
	c.memorySys.WithLabelValues(c.deployment).Set(float64(sysBytes))
}

// Push sends the current registry contents through the configured pusher.
func (c *CloudMetrics) Push(ctx context.Context) error {
	if c == nil || c.pusher == nil {
		return nil
	}
	return c.pusher.Push(ctx, c.registry)
}

func normalizeDeployment(deploymentID string) string {
	deploymentID = strings.TrimSpace(deploymentID)
	if deploymentID == "" {
		return "self-hosted"
	}
	return deploymentID
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
