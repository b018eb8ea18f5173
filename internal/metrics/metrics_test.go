package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hitoshi/customervoice/internal/apiclient"
)

func TestObserveRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveRequest("GET", apiclient.OutcomeOK, 120*time.Millisecond)
	c.ObserveRequest("GET", apiclient.OutcomeOK, 80*time.Millisecond)
	c.ObserveRequest("GET", apiclient.OutcomeRateLimited, 10*time.Millisecond)
	c.ObserveRetry("GET")

	if got := testutil.ToFloat64(c.apiRequests.WithLabelValues("GET", "ok")); got != 2 {
		t.Errorf("ok requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.apiRequests.WithLabelValues("GET", "rate_limited")); got != 1 {
		t.Errorf("rate_limited requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.apiRetries.WithLabelValues("GET")); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.apiLatency); n != 1 {
		t.Errorf("latency series = %d, want 1", n)
	}
}

func TestDigestAndIngestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveDigestRun("delivered")
	c.ObserveDigestRun("failed")
	c.ObserveDigestRun("delivered")
	c.RecordReviewsIngested(5)
	c.RecordReviewsIngested(0)
	c.RecordHTTPStatus(429)
	c.SetWorkspaces(3)

	if got := testutil.ToFloat64(c.digestRuns.WithLabelValues("delivered")); got != 2 {
		t.Errorf("delivered = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.reviewsIngest); got != 5 {
		t.Errorf("reviews ingested = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.httpStatus.WithLabelValues("429")); got != 1 {
		t.Errorf("429 responses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.workspaces); got != 3 {
		t.Errorf("workspaces = %v, want 3", got)
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ObserveRetry("POST")

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `customervoice_api_retries_total{method="POST"} 1`) {
		t.Errorf("メトリクスが出力されていません:\n%s", body)
	}
}

func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	defer func() {
		if recover() == nil {
			t.Error("二重登録でpanicしませんでした")
		}
	}()
	NewCollector(reg)
}
