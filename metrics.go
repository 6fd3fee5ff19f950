package shadowmesh

import "sync/atomic"

// MetricID names one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLockoutTriggered
	MetricLockoutRejected
	MetricTwoFactorSuccess
	MetricTwoFactorFailure
	MetricTwoFactorRateLimited
	MetricBackupOTPUsed
	MetricResetRequested
	MetricResetConfirmed
	MetricResetRejected
	MetricOTPSent
	MetricRateLimited
	metricCount
)

var metricNames = [metricCount]string{
	"login_success",
	"login_failure",
	"lockout_triggered",
	"lockout_rejected",
	"twofactor_success",
	"twofactor_failure",
	"twofactor_rate_limited",
	"backup_otp_used",
	"reset_requested",
	"reset_confirmed",
	"reset_rejected",
	"otp_sent",
	"rate_limited",
}

// Metrics is a fixed set of in-process counters. Snapshot copies are safe
// to read while the engine keeps counting.
type Metrics struct {
	counters [metricCount]atomic.Uint64
}

// NewMetrics returns zeroed counters.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Inc adds one to a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

// Snapshot returns the current counter values keyed by metric name.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, metricCount)
	if m == nil {
		return out
	}
	for id := MetricID(0); id < metricCount; id++ {
		out[metricNames[id]] = m.counters[id].Load()
	}
	return out
}
