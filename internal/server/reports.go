package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/helix-research/dossier/internal/cache"
	"github.com/helix-research/dossier/internal/citation"
	"github.com/helix-research/dossier/internal/index"
	"github.com/helix-research/dossier/internal/runtime"
	"github.com/helix-research/dossier/internal/upstream"
)

var reportsTracer = otel.Tracer("dossier/internal/server/reports")

// ReportEngine is the slice of the upstream client the reports
// handler needs.
type ReportEngine interface {
	Reports(ctx context.Context, companyID string) ([]upstream.Report, error)
	DeleteReport(ctx context.Context, reportID string) error
}

// ReportsHandler serves fetched reports: listing, rendered HTML with
// resolved citations, history search and deletion.
type ReportsHandler struct {
	engine ReportEngine
	cache  *cache.ReportCache
	index  *index.ReportIndex
	logger *log.Logger
}

func NewReportsHandler(engine ReportEngine, rc *cache.ReportCache, ri *index.ReportIndex) *ReportsHandler {
	return &ReportsHandler{
		engine: engine,
		cache:  rc,
		index:  ri,
		logger: log.New(log.Writer(), "[REPORTS] ", log.LstdFlags),
	}
}

func (h *ReportsHandler) Register(g *echo.Group) {
	g.GET("/companies/:company_id/reports", h.list)
	g.GET("/companies/:company_id/reports/latest/html", h.latestHTML)
	g.GET("/companies/:company_id/reports/:report_id/html", h.html)
	g.GET("/reports/search", h.search)
	g.DELETE("/reports/:report_id", h.remove)
}

// requestToken exposes the caller's own bearer token to the citation
// renderer, so document links carry a credential the caller already
// holds.
type requestToken struct{ ctx context.Context }

func (r requestToken) Token() (string, error) {
	tok, ok := runtime.BearerFromContext(r.ctx)
	if !ok {
		return "", errors.New("no bearer token on request")
	}
	return tok, nil
}

// fetch returns the company's reports, hitting the cache first when
// one is wired.
func (h *ReportsHandler) fetch(ctx context.Context, companyID string) ([]upstream.Report, bool, error) {
	if h.cache != nil {
		if reports, err := h.cache.Get(ctx, companyID); err == nil {
			return reports, true, nil
		} else if !errors.Is(err, cache.ErrMiss) {
			h.logger.Printf("cache read for %s failed: %v", companyID, err)
		}
	}
	reports, err := h.engine.Reports(ctx, companyID)
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		return nil, false, err
	}
	if h.cache != nil {
		if err := h.cache.Put(ctx, companyID, reports); err != nil {
			h.logger.Printf("cache write for %s failed: %v", companyID, err)
		}
	}
	if h.index != nil {
		for _, rep := range reports {
			if err := h.index.Add(rep); err != nil {
				h.logger.Printf("index report %s failed: %v", rep.ID, err)
			}
		}
	}
	return reports, false, nil
}

func (h *ReportsHandler) list(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()
	companyID := c.Param("company_id")
	ctx, span := reportsTracer.Start(ctx, "ReportsHandler.list")
	defer span.End()
	span.SetAttributes(attribute.String("company_id", companyID))
	c.SetRequest(req.WithContext(ctx))

	reports, cached, err := h.fetch(ctx, companyID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return upstreamHTTPError(err)
	}
	items := make([]ReportListItem, 0, len(reports))
	for _, rep := range reports {
		items = append(items, ReportListItem{
			ID:        rep.ID,
			CompanyID: rep.CompanyID,
			Topic:     rep.Topic,
			Summary:   rep.Summary,
			Verdict:   rep.Verdict,
			CreatedAt: rep.CreatedAt,
			Cached:    cached,
		})
	}
	return c.JSON(http.StatusOK, items)
}

func (h *ReportsHandler) latestHTML(c echo.Context) error {
	return h.renderHTML(c, "")
}

func (h *ReportsHandler) html(c echo.Context) error {
	return h.renderHTML(c, c.Param("report_id"))
}

// renderHTML renders a report body with citation tokens resolved
// against the report's own source registry. Empty reportID means the
// newest report.
func (h *ReportsHandler) renderHTML(c echo.Context, reportID string) error {
	req := c.Request()
	ctx := req.Context()
	companyID := c.Param("company_id")
	ctx, span := reportsTracer.Start(ctx, "ReportsHandler.renderHTML")
	defer span.End()
	span.SetAttributes(attribute.String("company_id", companyID), attribute.String("report_id", reportID))
	c.SetRequest(req.WithContext(ctx))

	reports, _, err := h.fetch(ctx, companyID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return upstreamHTTPError(err)
	}
	if len(reports) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no reports for company")
	}
	var rep *upstream.Report
	if reportID == "" {
		newest := 0
		for i := range reports {
			if reports[i].CreatedAt.After(reports[newest].CreatedAt) {
				newest = i
			}
		}
		rep = &reports[newest]
	} else {
		for i := range reports {
			if reports[i].ID == reportID {
				rep = &reports[i]
				break
			}
		}
		if rep == nil {
			return echo.NewHTTPError(http.StatusNotFound, "report not found")
		}
	}

	renderer := &citation.Renderer{
		Registry: citation.BuildRegistry(rep.RegistrySources()),
		Tokens:   requestToken{ctx: ctx},
	}
	return c.HTML(http.StatusOK, renderReportPage(rep, renderer))
}

func (h *ReportsHandler) search(c echo.Context) error {
	if h.index == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "report search disabled")
	}
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	k := 10
	if val := strings.TrimSpace(c.QueryParam("k")); val != "" {
		if v, err := strconv.Atoi(val); err == nil && v > 0 {
			k = v
		}
	}
	hits, err := h.index.Search(q, k)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hits == nil {
		hits = []index.SearchHit{}
	}
	return c.JSON(http.StatusOK, hits)
}

func (h *ReportsHandler) remove(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()
	reportID := c.Param("report_id")
	ctx, span := reportsTracer.Start(ctx, "ReportsHandler.remove")
	defer span.End()
	span.SetAttributes(attribute.String("report_id", reportID))
	c.SetRequest(req.WithContext(ctx))

	if err := h.engine.DeleteReport(ctx, reportID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return upstreamHTTPError(err)
	}
	if h.index != nil {
		if err := h.index.Remove(reportID); err != nil {
			h.logger.Printf("index remove %s failed: %v", reportID, err)
		}
	}
	if h.cache != nil {
		if companyID := strings.TrimSpace(c.QueryParam("company_id")); companyID != "" {
			if err := h.cache.Invalidate(ctx, companyID); err != nil {
				h.logger.Printf("cache invalidate %s failed: %v", companyID, err)
			}
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// upstreamHTTPError maps engine failures onto gateway responses: 404s
// pass through, everything else is a bad gateway.
func upstreamHTTPError(err error) error {
	if upstream.IsNotFound(err) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}

// renderReportPage produces a minimal HTML page for a report with
// citation markup resolved. Class names follow the dashboard's
// styling; no CSS is embedded here.
func renderReportPage(rep *upstream.Report, renderer *citation.Renderer) string {
	var b strings.Builder
	b.WriteString("<!doctype html><html lang=\"en\"><head><meta charset=\"utf-8\"><meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<title>Dossier — " + escapeHTML(rep.Topic) + "</title>")
	b.WriteString("</head><body class=\"bg-slate-950 text-slate-100 p-6\">")
	b.WriteString("<div class=\"max-w-4xl mx-auto space-y-6\">")
	b.WriteString("<header class=\"space-y-1\"><h1 class=\"text-xl font-semibold\">" + escapeHTML(rep.Topic) + "</h1>")
	if !rep.CreatedAt.IsZero() {
		b.WriteString("<div class=\"text-xs text-slate-400\">Generated at " + escapeHTML(rep.CreatedAt.UTC().Format(time.RFC3339)) + "</div>")
	}
	b.WriteString("</header>")
	if rep.Summary != "" {
		b.WriteString("<section><h2 class=\"text-sm font-semibold mb-2\">Summary</h2><p class=\"text-sm\">" + renderer.HTML(rep.Summary) + "</p></section>")
	}
	if rep.Findings != "" {
		b.WriteString("<section><h2 class=\"text-sm font-semibold mb-2\">Findings</h2><div class=\"text-sm\">" + renderer.HTML(rep.Findings) + "</div></section>")
	}
	if rep.Verdict != "" {
		b.WriteString("<section><h2 class=\"text-sm font-semibold mb-2\">Verdict</h2><p class=\"text-sm\">" + renderer.HTML(rep.Verdict) + "</p></section>")
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\"", "&quot;", "'", "&#39;")
	return r.Replace(s)
}
