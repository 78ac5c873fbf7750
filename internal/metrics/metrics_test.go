package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder_Observations(t *testing.T) {
	r := New(false)
	r.ObserveLoad(120)
	r.ObserveSelection(7)
	r.ObserveSelection(3)
	r.ObserveRefresh(200*time.Millisecond, nil)
	r.ObserveRefresh(time.Second, errors.New("offline"))
	r.ObserveWorkflow("place")
	r.ObserveNotification("request", nil)
	r.ObserveHTTP("/api/v1/counts", 200)

	if got := testutil.ToFloat64(r.datasetRows); got != 120 {
		t.Fatalf("dataset rows = %v", got)
	}
	if got := testutil.ToFloat64(r.currentRows); got != 3 {
		t.Fatalf("current rows = %v", got)
	}
	if got := testutil.ToFloat64(r.selections); got != 2 {
		t.Fatalf("selections = %v", got)
	}
	if got := testutil.ToFloat64(r.refreshes.WithLabelValues("error")); got != 1 {
		t.Fatalf("failed refreshes = %v", got)
	}
	if got := testutil.ToFloat64(r.httpRequests.WithLabelValues("/api/v1/counts", "200")); got != 1 {
		t.Fatalf("http requests = %v", got)
	}
	if n := testutil.CollectAndCount(r.refreshDuration); n != 1 {
		t.Fatalf("expected one histogram, got %d", n)
	}
	problems, err := testutil.GatherAndLint(r.Registry())
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(problems) != 0 {
		t.Fatalf("lint problems: %v", problems)
	}
}

func TestRecorder_Handler(t *testing.T) {
	r := New(true)
	r.ObserveWorkflow("comment")
	srv := httptest.NewServer(r.Handler(nil))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), `strainboard_requests_events_total{action="comment"} 1`) {
		t.Fatalf("metric missing from exposition:\n%s", b)
	}
}
