package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helix-research/dossier/config"
	"github.com/helix-research/dossier/internal/cache"
	"github.com/helix-research/dossier/internal/index"
	"github.com/helix-research/dossier/internal/runtime"
	"github.com/helix-research/dossier/internal/tracker"
	"github.com/helix-research/dossier/internal/upstream"
)

// newEcho builds the echo instance with the unified JSON error
// handler, recovery and CORS.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))
	return e
}

// Run wires the gateway and blocks serving HTTP.
func Run(cfgPath, addr string) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	e := newEcho()

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if cfg.Telemetry.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort)
			log.Printf("metrics on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	engine := upstream.NewClient(cfg.Upstream.BaseURL, runtime.StaticToken(cfg.Upstream.Token), cfg.Upstream.Timeout)
	trk := tracker.New(engine, tracker.Options{
		Interval:   cfg.Upstream.PollInterval,
		Timeout:    cfg.Upstream.PollTimeout,
		StartDelay: cfg.Upstream.StartDelay,
	})

	var rc *cache.ReportCache
	if cfg.Cache.Enabled {
		rdb, err := cache.Conn(context.Background(), cfg.Cache.Addr(), cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			return err
		}
		rc = cache.New(rdb, cfg.Cache.TTL)
	}

	var ri *index.ReportIndex
	if cfg.Index.Enabled {
		ri, err = index.New()
		if err != nil {
			return err
		}
	}

	api := e.Group("/api")
	api.Use(runtime.EchoAuthMiddleware([]byte(cfg.Server.JWTSecret)))

	NewAnalysisHandler(trk).Register(api.Group("/companies"))
	NewReportsHandler(engine, rc, ri).Register(api)

	if cfg.Scheduler.Enabled {
		sched := &Scheduler{
			Tracker:   trk,
			Cache:     rc,
			Cron:      cfg.Scheduler.Cron,
			Companies: cfg.Scheduler.Companies,
			Stop:      make(chan struct{}),
		}
		sched.Start()
	}

	if addr == "" {
		addr = cfg.Server.Listen
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":10200"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
