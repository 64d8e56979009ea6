package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	authcore "github.com/corvak/authcore"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }

func (f *fakeSource) AuditDropped() uint64 { return f.dropped }

func TestRenderCounters(t *testing.T) {
	source := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:         3,
				authcore.MetricRefreshReuseDetected: 1,
			},
			Histograms: map[authcore.MetricID][]uint64{},
		},
		dropped: 2,
	}

	out := New(nil).Render()
	if out != "" {
		t.Fatalf("nil engine must render nothing, got %q", out)
	}

	out = NewFromSource(source).Render()
	for _, want := range []string{
		"# TYPE authcore_login_success_total counter",
		"authcore_login_success_total 3",
		"authcore_refresh_reuse_detected_total 1",
		"authcore_login_failure_total 0",
		"authcore_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
}

func TestRenderHistogramIsCumulative(t *testing.T) {
	source := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 1},
			Histograms: map[authcore.MetricID][]uint64{
				// One sample per bucket boundary: 5ms, 25ms, +Inf.
				authcore.MetricValidateLatency: {1, 0, 1, 0, 0, 0, 0, 1},
			},
		},
	}

	out := NewFromSource(source).Render()
	for _, want := range []string{
		"# TYPE authcore_validate_latency_seconds histogram",
		`authcore_validate_latency_seconds_bucket{le="0.005"} 1`,
		`authcore_validate_latency_seconds_bucket{le="0.01"} 1`,
		`authcore_validate_latency_seconds_bucket{le="0.025"} 2`,
		`authcore_validate_latency_seconds_bucket{le="+Inf"} 3`,
		"authcore_validate_latency_seconds_count 3",
		"authcore_validate_latency_seconds_sum 0",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
}

func TestHandler(t *testing.T) {
	source := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{authcore.MetricSignupSuccess: 5},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	NewFromSource(source).Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "authcore_signup_success_total 5") {
		t.Fatalf("body missing counter:\n%s", rec.Body.String())
	}
}
