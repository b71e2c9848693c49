package prometheus

import (
	"strings"
	"testing"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot goAccount.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goAccount.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func enabledSource() fakeSource {
	counters := make(map[goAccount.MetricID]uint64)
	for _, def := range internaldefs.CounterDefs {
		counters[def.ID] = 0
	}
	counters[goAccount.MetricLoginSuccess] = 7
	return fakeSource{
		snapshot: goAccount.MetricsSnapshot{
			Counters: counters,
			Histograms: map[goAccount.MetricID][]uint64{
				goAccount.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	}
}

func TestCollectorCounters(t *testing.T) {
	c := NewCollectorFromSource(enabledSource())

	expected := `
# HELP goaccount_login_success_total Logins that returned tokens.
# TYPE goaccount_login_success_total counter
goaccount_login_success_total 7
# HELP goaccount_audit_dropped_total Audit events dropped because the dispatcher buffer was full.
# TYPE goaccount_audit_dropped_total counter
goaccount_audit_dropped_total 2
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"goaccount_login_success_total", "goaccount_audit_dropped_total")
	require.NoError(t, err)

	want := len(internaldefs.CounterDefs) + len(internaldefs.HistogramDefs) + 1
	assert.Equal(t, want, testutil.CollectAndCount(c))
}

func TestCollectorHistogramIsCumulative(t *testing.T) {
	c := NewCollectorFromSource(enabledSource())

	expected := `
# HELP goaccount_validate_latency_seconds Access token validation latency.
# TYPE goaccount_validate_latency_seconds histogram
goaccount_validate_latency_seconds_bucket{le="0.005"} 1
goaccount_validate_latency_seconds_bucket{le="0.01"} 3
goaccount_validate_latency_seconds_bucket{le="0.025"} 6
goaccount_validate_latency_seconds_bucket{le="0.05"} 10
goaccount_validate_latency_seconds_bucket{le="0.1"} 15
goaccount_validate_latency_seconds_bucket{le="0.25"} 21
goaccount_validate_latency_seconds_bucket{le="0.5"} 28
goaccount_validate_latency_seconds_bucket{le="+Inf"} 36
goaccount_validate_latency_seconds_sum 0
goaccount_validate_latency_seconds_count 36
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "goaccount_validate_latency_seconds"))
}

func TestCollectorDisabledMetricsOnlyReportAuditDrops(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: goAccount.MetricsSnapshot{
			Counters:   map[goAccount.MetricID]uint64{},
			Histograms: map[goAccount.MetricID][]uint64{},
		},
	})
	assert.Equal(t, 1, testutil.CollectAndCount(c))
}

func TestCollectorRegistersCleanly(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollectorFromSource(enabledSource())))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	lint, err := testutil.GatherAndLint(reg)
	require.NoError(t, err)
	for _, p := range lint {
		// The core histogram has no sum; everything else should lint clean.
		assert.Contains(t, p.Metric, "validate_latency", "unexpected lint problem: %s", p.Text)
	}
}
