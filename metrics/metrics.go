// Package metrics exposes Prometheus collectors for ceremony execution.
//
// A single [Metrics] is registered per registry; ceremonies and managers
// take labelled views of it with [Metrics.ForCeremony] and
// [Metrics.ForManager]. Nil views are valid and record nothing, which
// keeps tests that do not care about metrics free of setup.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "multisig"

// Metrics holds every collector.
type Metrics struct {
	processedMessages  *prometheus.CounterVec
	badMessages        *prometheus.CounterVec
	stageCompleting    *prometheus.CounterVec
	stageFailing       *prometheus.CounterVec
	missingMessages    *prometheus.GaugeVec
	stageDuration      *prometheus.HistogramVec
	ceremonyDuration   *prometheus.HistogramVec
	ceremonyOutcomes   *prometheus.CounterVec
	authorized         *prometheus.GaugeVec
	unauthorized       *prometheus.GaugeVec
	managerBadMessages *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	ceremonyLabels := []string{"chain", "ceremony_type"}
	return &Metrics{
		processedMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ceremony_processed_messages_total",
			Help:      "Messages accepted by a ceremony stage.",
		}, ceremonyLabels),
		badMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ceremony_bad_messages_total",
			Help:      "Messages rejected by a ceremony, by reason.",
		}, append(ceremonyLabels, "reason")),
		stageCompleting: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_completing_total",
			Help:      "Stages that finalized and handed over to the next stage or finished.",
		}, append(ceremonyLabels, "stage")),
		stageFailing: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failing_total",
			Help:      "Stages that ended the ceremony with an error.",
		}, append(ceremonyLabels, "stage", "reason")),
		missingMessages: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_missing_messages",
			Help:      "Messages still missing when the last stage of this name finalized.",
		}, append(ceremonyLabels, "stage")),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time from stage init to finalize.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, append(ceremonyLabels, "stage")),
		ceremonyDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ceremony_duration_seconds",
			Help:      "Time from ceremony request to outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, ceremonyLabels),
		ceremonyOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ceremony_outcomes_total",
			Help:      "Finished ceremonies by outcome.",
		}, append(ceremonyLabels, "outcome")),
		authorized: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ceremony_manager_authorized_ceremonies",
			Help:      "Running ceremonies that have received their local request.",
		}, ceremonyLabels),
		unauthorized: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ceremony_manager_unauthorized_ceremonies",
			Help:      "Ceremonies holding early messages while waiting for their local request.",
		}, ceremonyLabels),
		managerBadMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ceremony_manager_bad_messages_total",
			Help:      "Messages dropped before reaching a ceremony, by reason.",
		}, []string{"chain", "reason"}),
	}
}

// CeremonyMetrics is the view used by a single ceremony.
type CeremonyMetrics struct {
	m            *Metrics
	chain        string
	ceremonyType string
}

// ForCeremony returns a view labelled with chain and ceremony type.
func (m *Metrics) ForCeremony(chain, ceremonyType string) *CeremonyMetrics {
	if m == nil {
		return nil
	}
	return &CeremonyMetrics{m: m, chain: chain, ceremonyType: ceremonyType}
}

func (c *CeremonyMetrics) ProcessedMessage() {
	if c == nil {
		return
	}
	c.m.processedMessages.WithLabelValues(c.chain, c.ceremonyType).Inc()
}

func (c *CeremonyMetrics) BadMessage(reason string) {
	if c == nil {
		return
	}
	c.m.badMessages.WithLabelValues(c.chain, c.ceremonyType, reason).Inc()
}

func (c *CeremonyMetrics) StageCompleted(stage string) {
	if c == nil {
		return
	}
	c.m.stageCompleting.WithLabelValues(c.chain, c.ceremonyType, stage).Inc()
}

// ObserveStageDuration records how long a stage spent collecting and
// processing messages.
func (c *CeremonyMetrics) ObserveStageDuration(stage string, took time.Duration) {
	if c == nil {
		return
	}
	c.m.stageDuration.WithLabelValues(c.chain, c.ceremonyType, stage).Observe(took.Seconds())
}

func (c *CeremonyMetrics) StageFailed(stage, reason string) {
	if c == nil {
		return
	}
	c.m.stageFailing.WithLabelValues(c.chain, c.ceremonyType, stage, reason).Inc()
}

func (c *CeremonyMetrics) MissingMessages(stage string, n int) {
	if c == nil {
		return
	}
	c.m.missingMessages.WithLabelValues(c.chain, c.ceremonyType, stage).Set(float64(n))
}

// CeremonyFinished records the outcome and total duration.
func (c *CeremonyMetrics) CeremonyFinished(success bool, took time.Duration) {
	if c == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.m.ceremonyOutcomes.WithLabelValues(c.chain, c.ceremonyType, outcome).Inc()
	c.m.ceremonyDuration.WithLabelValues(c.chain, c.ceremonyType).Observe(took.Seconds())
}

// ManagerMetrics is the view used by a ceremony manager.
type ManagerMetrics struct {
	m     *Metrics
	chain string
}

// ForManager returns a view labelled with chain.
func (m *Metrics) ForManager(chain string) *ManagerMetrics {
	if m == nil {
		return nil
	}
	return &ManagerMetrics{m: m, chain: chain}
}

func (mm *ManagerMetrics) BadMessage(reason string) {
	if mm == nil {
		return
	}
	mm.m.managerBadMessages.WithLabelValues(mm.chain, reason).Inc()
}

// SetCeremonyCounts publishes the number of running ceremonies.
func (mm *ManagerMetrics) SetCeremonyCounts(ceremonyType string, authorized, unauthorized int) {
	if mm == nil {
		return
	}
	mm.m.authorized.WithLabelValues(mm.chain, ceremonyType).Set(float64(authorized))
	mm.m.unauthorized.WithLabelValues(mm.chain, ceremonyType).Set(float64(unauthorized))
}

// ForCeremony returns the ceremony view sharing this manager's chain.
func (mm *ManagerMetrics) ForCeremony(ceremonyType string) *CeremonyMetrics {
	if mm == nil {
		return nil
	}
	return mm.m.ForCeremony(mm.chain, ceremonyType)
}
