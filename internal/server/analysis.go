package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/helix-research/dossier/internal/tracker"
	"github.com/helix-research/dossier/internal/upstream"
)

var analysisTracer = otel.Tracer("dossier/internal/server/analysis")

// AnalysisHandler exposes job control over the tracker: trigger,
// status polling for dashboards, SSE progress and release.
type AnalysisHandler struct {
	tracker *tracker.Tracker
	logger  *log.Logger
}

func NewAnalysisHandler(t *tracker.Tracker) *AnalysisHandler {
	return &AnalysisHandler{
		tracker: t,
		logger:  log.New(log.Writer(), "[ANALYSIS] ", log.LstdFlags),
	}
}

func (h *AnalysisHandler) Register(g *echo.Group) {
	g.POST("/:company_id/analyze", h.trigger)
	g.GET("/:company_id/analysis", h.status)
	g.GET("/:company_id/analysis/stream", h.stream)
	g.DELETE("/:company_id/analysis", h.release)
}

func jobResponse(snap tracker.Snapshot) JobResponse {
	return JobResponse{
		CompanyID: snap.CompanyID,
		Phase:     snap.Phase.String(),
		Status:    string(snap.Status),
		Step:      snap.Step,
		StepLabel: snap.StepLabel,
		Progress:  snap.Progress,
		ReportID:  snap.ReportID,
		Error:     snap.Err,
	}
}

// trigger starts an analysis job for a company. Repeats while a job is
// live return the existing job; the engine is only hit once.
func (h *AnalysisHandler) trigger(c echo.Context) error {
	companyID := strings.TrimSpace(c.Param("company_id"))
	if companyID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "company_id required")
	}
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx, span := analysisTracer.Start(c.Request().Context(), "AnalysisHandler.trigger")
	defer span.End()
	span.SetAttributes(attribute.String("company_id", companyID))
	c.SetRequest(c.Request().WithContext(ctx))

	// Polling must outlive this request: views come and go while the
	// engine keeps working.
	job := h.tracker.Start(context.Background(), companyID, upstream.JobParams{
		Topic:   req.Topic,
		Persona: req.Persona,
	})
	snap := job.Snapshot()
	if snap.Phase == tracker.PhaseFailed {
		span.SetStatus(codes.Error, snap.Err)
		return echo.NewHTTPError(http.StatusBadGateway, snap.Err)
	}
	return c.JSON(http.StatusAccepted, jobResponse(snap))
}

// status returns the current job snapshot for a company.
func (h *AnalysisHandler) status(c echo.Context) error {
	companyID := c.Param("company_id")
	job, ok := h.tracker.Get(companyID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no analysis job for company")
	}
	return c.JSON(http.StatusOK, jobResponse(job.Snapshot()))
}

// release drops the job so a later trigger can start fresh. Polling
// stops immediately; the engine job itself is untouched.
func (h *AnalysisHandler) release(c echo.Context) error {
	companyID := c.Param("company_id")
	if _, ok := h.tracker.Get(companyID); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no analysis job for company")
	}
	h.tracker.Release(companyID)
	return c.NoContent(http.StatusNoContent)
}

// stream pushes job progress via Server-Sent Events until the job
// finishes or the client goes away.
func (h *AnalysisHandler) stream(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()
	companyID := c.Param("company_id")
	ctx, span := analysisTracer.Start(ctx, "AnalysisHandler.stream")
	defer span.End()
	span.SetAttributes(attribute.String("company_id", companyID))
	c.SetRequest(req.WithContext(ctx))

	job, ok := h.tracker.Get(companyID)
	if !ok {
		span.SetStatus(codes.Error, "no analysis job for company")
		return echo.NewHTTPError(http.StatusNotFound, "no analysis job for company")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		span.SetStatus(codes.Error, "streaming unsupported")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	send := func(snap tracker.Snapshot) error {
		payload := streamPayload{GeneratedAt: time.Now().UTC(), Job: jobResponse(snap)}
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := resp.Write([]byte("event: update\n")); err != nil {
			return err
		}
		if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := send(job.Snapshot()); err != nil {
		span.RecordError(err)
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-job.Updates():
			if err := send(snap); err != nil {
				span.RecordError(err)
				return nil
			}
		case <-job.Done():
			if err := send(job.Snapshot()); err != nil {
				span.RecordError(err)
			}
			return nil
		}
	}
}
