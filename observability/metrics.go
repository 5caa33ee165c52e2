package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ClaimsMetrics exposes Prometheus collectors for claim processing.
type ClaimsMetrics struct {
	claims  *prometheus.CounterVec
	errors  *prometheus.CounterVec
	latency *prometheus.HistogramVec
	payouts *prometheus.CounterVec
}

// NotifyMetrics exposes Prometheus collectors for notification dispatch.
type NotifyMetrics struct {
	sent       *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	throttles  prometheus.Counter
	skipped    prometheus.Counter
}

// DetectMetrics exposes Prometheus collectors for background detection.
type DetectMetrics struct {
	scans     *prometheus.CounterVec
	events    *prometheus.CounterVec
	cacheHits *prometheus.CounterVec
	oracleErr prometheus.Counter
}

var (
	claimsOnce sync.Once
	claimsReg  *ClaimsMetrics

	notifyOnce sync.Once
	notifyReg  *NotifyMetrics

	detectOnce sync.Once
	detectReg  *DetectMetrics
)

// Claims returns the lazily-initialised claim processing metrics registry.
func Claims() *ClaimsMetrics {
	claimsOnce.Do(func() {
		claimsReg = &ClaimsMetrics{
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "royaltyd",
				Subsystem: "claims",
				Name:      "processed_total",
				Help:      "Total claims processed segmented by license tier and outcome.",
			}, []string{"tier", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "royaltyd",
				Subsystem: "claims",
				Name:      "errors_total",
				Help:      "Total claim failures segmented by reason.",
			}, []string{"reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "royaltyd",
				Subsystem: "claims",
				Name:      "duration_seconds",
				Help:      "Latency distribution for end-to-end claim processing.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"tier"}),
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "royaltyd",
				Subsystem: "claims",
				Name:      "transfers_total",
				Help:      "Total ledger transfers segmented by leg and outcome.",
			}, []string{"leg", "outcome"}),
		}
		prometheus.MustRegister(
			claimsReg.claims,
			claimsReg.errors,
			claimsReg.latency,
			claimsReg.payouts,
		)
	})
	return claimsReg
}

// RecordClaim notes the terminal outcome of one claim attempt.
func (m *ClaimsMetrics) RecordClaim(tier, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if tier == "" {
		tier = "unknown"
	}
	m.claims.WithLabelValues(tier, outcome).Inc()
	m.latency.WithLabelValues(tier).Observe(duration.Seconds())
}

// RecordError increments the claim failure counter for a stable reason label
// such as "rate_limit" or "no_funds".
func (m *ClaimsMetrics) RecordError(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.errors.WithLabelValues(reason).Inc()
}

// RecordTransfer notes one ledger transfer leg ("author" or "fee").
func (m *ClaimsMetrics) RecordTransfer(leg string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.payouts.WithLabelValues(leg, outcome).Inc()
}

// Notify returns the lazily-initialised notification metrics registry.
func Notify() *NotifyMetrics {
	notifyOnce.Do(func() {
		notifyReg = &NotifyMetrics{
			sent: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "royaltyd",
				Subsystem: "notify",
				Name:      "sent_total",
				Help:      "Total notifications accepted for delivery segmented by type.",
			}, []string{"type"}),
			deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "royaltyd",
				Subsystem: "notify",
				Name:      "deliveries_total",
				Help:      "Channel delivery attempts segmented by channel and outcome.",
			}, []string{"channel", "outcome"}),
			throttles: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "royaltyd",
				Subsystem: "notify",
				Name:      "throttled_total",
				Help:      "Notifications rejected by the per-author rate limiter.",
			}),
			skipped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "royaltyd",
				Subsystem: "notify",
				Name:      "skipped_total",
				Help:      "Notifications skipped because the author is not subscribed.",
			}),
		}
		prometheus.MustRegister(
			notifyReg.sent,
			notifyReg.deliveries,
			notifyReg.throttles,
			notifyReg.skipped,
		)
	})
	return notifyReg
}

// RecordSent notes a notification accepted into the pipeline.
func (m *NotifyMetrics) RecordSent(notificationType string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(notificationType).Inc()
}

// RecordDelivery notes one channel delivery attempt.
func (m *NotifyMetrics) RecordDelivery(channel string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.deliveries.WithLabelValues(channel, outcome).Inc()
}

// RecordThrottle notes a rate-limited notification.
func (m *NotifyMetrics) RecordThrottle() {
	if m == nil {
		return
	}
	m.throttles.Inc()
}

// RecordSkip notes a notification dropped by subscription preferences.
func (m *NotifyMetrics) RecordSkip() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

// Detect returns the lazily-initialised detection metrics registry.
func Detect() *DetectMetrics {
	detectOnce.Do(func() {
		detectReg = &DetectMetrics{
			scans: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "royaltyd",
				Subsystem: "detect",
				Name:      "scans_total",
				Help:      "Monitor scan ticks segmented by monitor and outcome.",
			}, []string{"monitor", "outcome"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "royaltyd",
				Subsystem: "detect",
				Name:      "events_total",
				Help:      "Detected events segmented by type.",
			}, []string{"type"}),
			cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "royaltyd",
				Subsystem: "detect",
				Name:      "cache_total",
				Help:      "Dedup cache lookups segmented by monitor and result.",
			}, []string{"monitor", "result"}),
			oracleErr: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "royaltyd",
				Subsystem: "detect",
				Name:      "oracle_errors_total",
				Help:      "Similarity oracle calls that failed.",
			}),
		}
		prometheus.MustRegister(
			detectReg.scans,
			detectReg.events,
			detectReg.cacheHits,
			detectReg.oracleErr,
		)
	})
	return detectReg
}

// RecordScan notes the outcome of one monitor tick.
func (m *DetectMetrics) RecordScan(monitor, outcome string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(monitor, outcome).Inc()
}

// RecordEvent notes a newly recorded detection event.
func (m *DetectMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

// RecordCacheLookup notes a dedup cache hit or miss.
func (m *DetectMetrics) RecordCacheLookup(monitor string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheHits.WithLabelValues(monitor, result).Inc()
}

// RecordOracleError notes a failed oracle call.
func (m *DetectMetrics) RecordOracleError() {
	if m == nil {
		return
	}
	m.oracleErr.Inc()
}
