package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/helix-research/dossier/internal/cache"
	"github.com/helix-research/dossier/internal/index"
	"github.com/helix-research/dossier/internal/runtime"
	"github.com/helix-research/dossier/internal/tracker"
	"github.com/helix-research/dossier/internal/upstream"
)

type stubEngine struct {
	mu          sync.Mutex
	startCalls  int
	startErr    error
	reportCalls int
	reports     []upstream.Report
	reportsErr  error
	deleteErr   error
	deleted     []string
}

func (s *stubEngine) StartAnalysis(ctx context.Context, companyID string, params upstream.JobParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls++
	return s.startErr
}

func (s *stubEngine) JobStatus(ctx context.Context, companyID string) (upstream.StatusSnapshot, error) {
	return upstream.StatusSnapshot{Status: upstream.StatusGatheringIntel, Progress: 10}, nil
}

func (s *stubEngine) Reports(ctx context.Context, companyID string) ([]upstream.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportCalls++
	if s.reportsErr != nil {
		return nil, s.reportsErr
	}
	return s.reports, nil
}

func (s *stubEngine) DeleteReport(ctx context.Context, reportID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, reportID)
	return nil
}

func (s *stubEngine) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCalls, s.reportCalls
}

func newTestTracker(t *testing.T, engine *stubEngine) *tracker.Tracker {
	t.Helper()
	return tracker.New(engine, tracker.Options{Interval: time.Hour, Timeout: 24 * time.Hour})
}

func TestTriggerAcceptedAndOneShot(t *testing.T) {
	e := echo.New()
	engine := &stubEngine{}
	trk := newTestTracker(t, engine)
	t.Cleanup(func() { trk.Release("acme") })
	h := NewAnalysisHandler(trk)

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/companies/acme/analyze", strings.NewReader(`{"topic":"solvency"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		ctx := e.NewContext(req, rec)
		ctx.SetParamNames("company_id")
		ctx.SetParamValues("acme")
		if err := h.trigger(ctx); err != nil {
			t.Fatalf("trigger: %v", err)
		}
		return rec
	}

	rec := call()
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", rec.Code)
	}
	var resp JobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Phase != "running" || resp.CompanyID != "acme" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	call()
	starts, _ := engine.counts()
	if starts != 1 {
		t.Fatalf("repeat trigger must not re-hit the engine, got %d starts", starts)
	}
}

func TestTriggerRejectionSurfaces(t *testing.T) {
	e := echo.New()
	engine := &stubEngine{startErr: errors.New("engine overloaded")}
	trk := newTestTracker(t, engine)
	h := NewAnalysisHandler(trk)

	req := httptest.NewRequest(http.MethodPost, "/api/companies/acme/analyze", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("company_id")
	ctx.SetParamValues("acme")

	err := h.trigger(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %v", err)
	}
}

func TestStatusWithoutJob(t *testing.T) {
	e := echo.New()
	h := NewAnalysisHandler(newTestTracker(t, &stubEngine{}))

	req := httptest.NewRequest(http.MethodGet, "/api/companies/acme/analysis", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("company_id")
	ctx.SetParamValues("acme")

	err := h.status(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func testReports() []upstream.Report {
	return []upstream.Report{{
		ID:        "rep-1",
		CompanyID: "acme",
		Topic:     "Acme Corp",
		Summary:   "Revenue grew [N1]. See filing [D2, Page 7]. Missing [F9].",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		AgentLogs: []upstream.AgentLog{{
			Agent: upstream.CitationRegistryAgent,
			Sources: []upstream.SourceEntry{
				{ID: "N1", Title: "Quarterly surge", Locator: "https://news.example/acme", Kind: "news"},
				{ID: "D2", Title: "Annual report", Locator: "/files/ar.pdf", Kind: "document"},
			},
		}},
	}}
}

func TestListReportsCacheAware(t *testing.T) {
	e := echo.New()
	engine := &stubEngine{reports: testReports()}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	h := NewReportsHandler(engine, cache.New(rdb, time.Minute), nil)

	call := func() []ReportListItem {
		req := httptest.NewRequest(http.MethodGet, "/api/companies/acme/reports", nil)
		rec := httptest.NewRecorder()
		ctx := e.NewContext(req, rec)
		ctx.SetParamNames("company_id")
		ctx.SetParamValues("acme")
		if err := h.list(ctx); err != nil {
			t.Fatalf("list: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d", rec.Code)
		}
		var items []ReportListItem
		if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return items
	}

	first := call()
	if len(first) != 1 || first[0].Cached {
		t.Fatalf("first load should come from the engine: %+v", first)
	}
	second := call()
	if len(second) != 1 || !second[0].Cached {
		t.Fatalf("second load should come from cache: %+v", second)
	}
	_, reportCalls := engine.counts()
	if reportCalls != 1 {
		t.Fatalf("engine should be hit once, got %d", reportCalls)
	}
}

func TestRenderHTMLResolvesCitations(t *testing.T) {
	e := echo.New()
	engine := &stubEngine{reports: testReports()}
	h := NewReportsHandler(engine, nil, nil)

	secret := []byte("test-secret")
	tok, err := runtime.SignJWT("analyst-1", secret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/companies/acme/reports/rep-1/html", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("company_id", "report_id")
	ctx.SetParamValues("acme", "rep-1")

	wrapped := runtime.EchoAuthMiddleware(secret)(h.html)
	if err := wrapped(ctx); err != nil {
		t.Fatalf("html: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `href="https://news.example/acme"`) {
		t.Fatalf("news citation should link out: %s", body)
	}
	if !strings.Contains(body, `href="/files/ar.pdf?token=`+tok+`#page=7"`) {
		t.Fatalf("document citation should carry the caller token and page: %s", body)
	}
	if !strings.Contains(body, "[<span class=\"citation-unresolved\"") {
		t.Fatalf("unresolved citation should be marked: %s", body)
	}
}

func TestRenderHTMLReportNotFound(t *testing.T) {
	e := echo.New()
	h := NewReportsHandler(&stubEngine{reports: testReports()}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/companies/acme/reports/nope/html", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("company_id", "report_id")
	ctx.SetParamValues("acme", "nope")

	err := h.html(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestDeleteReportNotFoundPassthrough(t *testing.T) {
	e := echo.New()
	engine := &stubEngine{deleteErr: &upstream.StatusError{Code: http.StatusNotFound, Body: "report not found"}}
	h := NewReportsHandler(engine, nil, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/reports/rep-404", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("report_id")
	ctx.SetParamValues("rep-404")

	err := h.remove(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 passthrough, got %v", err)
	}
}

func TestSearchReports(t *testing.T) {
	e := echo.New()
	ri, err := index.New()
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if err := ri.Add(upstream.Report{ID: "rep-1", CompanyID: "acme", Summary: "tariff exposure"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	h := NewReportsHandler(&stubEngine{}, nil, ri)

	req := httptest.NewRequest(http.MethodGet, "/api/reports/search?q=tariff", nil)
	rec := httptest.NewRecorder()
	if err := h.search(e.NewContext(req, rec)); err != nil {
		t.Fatalf("search: %v", err)
	}
	var hits []index.SearchHit
	if err := json.Unmarshal(rec.Body.Bytes(), &hits); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hits) != 1 || hits[0].ReportID != "rep-1" {
		t.Fatalf("unexpected hits: %+v", hits)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/reports/search", nil)
	rec = httptest.NewRecorder()
	err = h.search(e.NewContext(req, rec))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without q, got %v", err)
	}
}

func TestIsDue(t *testing.T) {
	if !isDue("@hourly", time.Time{}) {
		t.Fatal("never-run company is due")
	}
	if isDue("@hourly", time.Now().Add(-10*time.Minute)) {
		t.Fatal("recently run company is not due")
	}
	if !isDue("@hourly", time.Now().Add(-2*time.Hour)) {
		t.Fatal("stale company is due")
	}
	if !isDue("*/5 * * * *", time.Now().Add(-10*time.Minute)) {
		t.Fatal("cron spec past next fire is due")
	}
}
