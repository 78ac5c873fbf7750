package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cgem-lab/strainboard/internal/dashboard"
	"github.com/cgem-lab/strainboard/internal/metrics"
	"github.com/cgem-lab/strainboard/internal/requests"
	"github.com/cgem-lab/strainboard/internal/strains"
)

func inventory() *strains.Table {
	t := strains.NewTable(strains.ColumnNames())
	add := func(lab, entry, org, plasmid string) {
		row := strains.Row{}
		for _, c := range t.Columns {
			row[c] = strains.Blank
		}
		row[strains.ColLab], row[strains.ColEntry], row[strains.ColOrganism], row[strains.ColPlasmid] = lab, entry, org, plasmid
		t.Rows = append(t.Rows, row)
	}
	add("Cate", "1", "E. coli", "pUC19")
	add("Soll", "2", "E. coli", "pET28")
	add("Cate", "3", "yeast", "pRS")
	return t
}

type gatedLoader struct {
	mu   sync.Mutex
	gate chan struct{}
	err  error
}

func (g *gatedLoader) Load(ctx context.Context, _ bool) (*dashboard.Dataset, error) {
	g.mu.Lock()
	gate, err := g.gate, g.err
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &dashboard.Dataset{Table: inventory(), FetchedAt: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), Source: "strains.xlsx"}, nil
}

type env struct {
	handler http.Handler
	engine  *dashboard.Engine
	loader  *gatedLoader
	metrics *metrics.Recorder
}

type noContacts struct{}

func (noContacts) For(string) []string { return nil }

func newEnv(t *testing.T) *env {
	t.Helper()
	rec := metrics.New(false)
	ld := &gatedLoader{}
	cfg := dashboard.Config{Categories: []string{strains.ColLab, strains.ColOrganism}}
	eng := dashboard.New(cfg, dashboard.WithLoader(ld), dashboard.WithObserver(rec))
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	store, err := requests.Open(context.Background(), requests.DriverSQLite, filepath.Join(t.TempDir(), "rq.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	svc := requests.NewService(store, eng, requests.WithMemberDomain("gem-net.net"), requests.WithContacts(noContacts{}), requests.WithObserver(rec))
	h := New(&Handler{Engine: eng, Requests: svc, Metrics: rec})
	return &env{handler: h, engine: eng, loader: ld, metrics: rec}
}

func (e *env) do(t *testing.T, method, path string, body any, email string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if email != "" {
		req.Header.Set(HeaderEmail, email)
		req.Header.Set(HeaderName, strings.Split(email, "@")[0])
		req.Header.Set(HeaderSubject, "sub-"+email)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func TestStrainsAndCounts(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/v1/strains", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("strains status %d", rec.Code)
	}
	sr := decode[strainsResponse](t, rec)
	if sr.Total != 3 || len(sr.Rows) != 3 || sr.Columns[0].Name != strains.ColLab || sr.Columns[0].Width != 70 {
		t.Fatalf("unexpected strains response %+v", sr)
	}
	if sr.Rows[0][5] != "" {
		t.Fatalf("blank cells should render empty, got %q", sr.Rows[0][5])
	}

	cr := decode[countsResponse](t, e.do(t, http.MethodGet, "/api/v1/counts", nil, ""))
	if len(cr.Counts) == 0 || cr.Counts[0] != (dashboard.CountEntry{Category: "lab", Value: "All", Count: 3}) {
		t.Fatalf("unexpected counts %+v", cr.Counts)
	}
	if diff := cmp.Diff(cr.Baseline, cr.Counts); diff != "" {
		t.Fatalf("baseline should equal counts before selection (-base +counts):\n%s", diff)
	}
	if rec := e.do(t, http.MethodPost, "/api/v1/counts", nil, ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestSelectionLifecycle(t *testing.T) {
	e := newEnv(t)
	body := selectionRequest{Pairs: []dashboard.Pair{{Category: "organism", Value: "E. coli"}}}
	rec := e.do(t, http.MethodPut, "/api/v1/selection", body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("select status %d: %s", rec.Code, rec.Body.String())
	}
	sum := decode[viewSummary](t, rec)
	if sum.Rows != 2 || sum.Total != 3 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	cr := decode[countsResponse](t, e.do(t, http.MethodGet, "/api/v1/counts", nil, ""))
	if len(cr.Counts) != len(cr.Universe) {
		t.Fatalf("counts must follow the universe: %d vs %d", len(cr.Counts), len(cr.Universe))
	}
	rec = e.do(t, http.MethodDelete, "/api/v1/selection", nil, "")
	if sum := decode[viewSummary](t, rec); sum.Rows != 3 || len(sum.Selection) != 0 {
		t.Fatalf("reset failed %+v", sum)
	}
	if rec := e.do(t, http.MethodPut, "/api/v1/selection", map[string]any{"bogus": 1}, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestRefreshConflictAndUnavailable(t *testing.T) {
	e := newEnv(t)
	gate := make(chan struct{})
	e.loader.mu.Lock()
	e.loader.gate = gate
	e.loader.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- e.engine.Refresh(context.Background()) }()
	deadline := time.Now().Add(2 * time.Second)
	for !e.engine.Loading() {
		if time.Now().After(deadline) {
			t.Fatal("refresh never started")
		}
		time.Sleep(time.Millisecond)
	}
	body := selectionRequest{Pairs: []dashboard.Pair{{Category: "lab", Value: "Cate"}}}
	if rec := e.do(t, http.MethodPut, "/api/v1/selection", body, ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while loading, got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, "/api/v1/refresh", nil, ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for concurrent refresh, got %d", rec.Code)
	}
	st := decode[statusResponse](t, e.do(t, http.MethodGet, "/api/v1/status", nil, ""))
	if !st.Loading {
		t.Fatalf("status should report loading: %+v", st)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("refresh: %v", err)
	}

	e.loader.mu.Lock()
	e.loader.gate = nil
	e.loader.err = errors.New("workbook missing")
	e.loader.mu.Unlock()
	if rec := e.do(t, http.MethodPost, "/api/v1/refresh", nil, ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	st = decode[statusResponse](t, e.do(t, http.MethodGet, "/api/v1/status", nil, ""))
	if st.Loading || st.Total != 3 || st.Message != "Spreadsheet last loaded at 2024-06-01 08:00:00 UTC." {
		t.Fatalf("failed refresh should keep previous state: %+v", st)
	}
	metricsBody := e.do(t, http.MethodGet, "/metrics", nil, "").Body.String()
	if !strings.Contains(metricsBody, `strainboard_inventory_refreshes_total{result="error"} 1`) {
		t.Fatalf("expected failed refresh metric:\n%s", metricsBody)
	}
}

func TestRequestRoutes(t *testing.T) {
	e := newEnv(t)
	const alice, bob = "alice@gem-net.net", "bob@gem-net.net"

	if rec := e.do(t, http.MethodGet, "/api/v1/requests", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/api/v1/requests", nil, "outsider@example.com"); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for outsider, got %d", rec.Code)
	}

	place := requests.PlaceInput{Lab: "Cate", Entry: "1", Address: "Bench 4"}
	rec := e.do(t, http.MethodPost, "/api/v1/requests", place, alice)
	if rec.Code != http.StatusCreated {
		t.Fatalf("place status %d: %s", rec.Code, rec.Body.String())
	}
	placed := decode[struct {
		Request requests.Request `json:"request"`
	}](t, rec).Request
	if placed.Organism != "E. coli" || placed.PreferredEmail != alice || placed.Status != requests.StatusUnassigned {
		t.Fatalf("unexpected request %+v", placed)
	}
	if rec := e.do(t, http.MethodPost, "/api/v1/requests", requests.PlaceInput{Lab: "Cate", Entry: "99"}, alice); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown strain, got %d", rec.Code)
	}

	list := decode[struct {
		Requests []requests.ListItem `json:"requests"`
	}](t, e.do(t, http.MethodGet, "/api/v1/requests?mine=true", nil, bob)).Requests
	if len(list) != 0 {
		t.Fatalf("bob has no requests, got %+v", list)
	}
	list = decode[struct {
		Requests []requests.ListItem `json:"requests"`
	}](t, e.do(t, http.MethodGet, "/api/v1/requests?active=true", nil, bob)).Requests
	if len(list) != 1 || list[0].StrainID != "Cate_1" || list[0].Requester != "alice" {
		t.Fatalf("unexpected listing %+v", list)
	}

	id := placed.ID
	if rec := e.do(t, http.MethodPost, "/api/v1/requests/"+id+"/volunteer", nil, bob); rec.Code != http.StatusOK {
		t.Fatalf("volunteer status %d: %s", rec.Code, rec.Body.String())
	}
	if rec := e.do(t, http.MethodPost, "/api/v1/requests/"+id+"/comments", map[string]string{"body": "sent today"}, bob); rec.Code != http.StatusCreated {
		t.Fatalf("comment status %d: %s", rec.Code, rec.Body.String())
	}
	if rec := e.do(t, http.MethodPost, "/api/v1/requests/"+id+"/status", map[string]string{"status": "bogus"}, bob); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, "/api/v1/requests/"+id+"/status", map[string]string{"status": "received"}, alice); rec.Code != http.StatusOK {
		t.Fatalf("status change %d: %s", rec.Code, rec.Body.String())
	}
	if rec := e.do(t, http.MethodPost, "/api/v1/requests/"+id+"/volunteer", nil, bob); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on closed request, got %d", rec.Code)
	}

	detail := decode[requests.Detail](t, e.do(t, http.MethodGet, "/api/v1/requests/"+id, nil, alice))
	if detail.Request.Active || detail.Request.Status != requests.StatusReceived {
		t.Fatalf("request should be closed: %+v", detail.Request)
	}
	if detail.Shipper == nil || detail.Shipper.Email != bob || len(detail.Comments) != 1 || detail.Comments[0].Commenter != "bob" {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if rec := e.do(t, http.MethodGet, "/api/v1/requests/nope", nil, alice); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/api/v1/requests/"+id+"/shred", nil, alice); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	metricsBody := e.do(t, http.MethodGet, "/metrics", nil, "").Body.String()
	for _, want := range []string{
		`strainboard_requests_events_total{action="place"} 1`,
		`strainboard_http_requests_total{code="201",route="/api/v1/requests/{id}/comments"} 1`,
	} {
		if !strings.Contains(metricsBody, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
	if strings.Contains(metricsBody, "shred") {
		t.Fatal("unknown request subpaths must not become route labels")
	}
}

func TestHealthzAndRoute(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("healthz %d %s", rec.Code, rec.Body.String())
	}
	if rec := e.do(t, http.MethodGet, "/nowhere", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	cases := map[string]string{
		"/api/v1/counts/":               "/api/v1/counts",
		"/api/v1/requests/abc":          "/api/v1/requests/{id}",
		"/api/v1/requests/abc/status":   "/api/v1/requests/{id}/status",
		"/api/v1/requests/abc/comments": "/api/v1/requests/{id}/comments",
		"/api/v1/requests/abc/shred":    "other",
		"/api/v1/requests/abc/x/y":      "other",
		"/favicon.ico":                  "other",
	}
	for in, want := range cases {
		if got := route(in); got != want {
			t.Errorf("route(%q) = %q, want %q", in, got, want)
		}
	}
}
