package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/helix-research/dossier/internal/cache"
	"github.com/helix-research/dossier/internal/tracker"
	"github.com/helix-research/dossier/internal/upstream"
)

// Scheduler re-triggers analysis for the configured companies on a
// cron cadence. A redis lock keeps multiple gateway instances from
// firing the same company at the same time.
type Scheduler struct {
	Tracker   *tracker.Tracker
	Cache     *cache.ReportCache
	Cron      string
	Companies []string
	Stop      chan struct{}

	logger *log.Logger
	mu     sync.Mutex
	last   map[string]time.Time
}

func (s *Scheduler) Start() {
	if s.logger == nil {
		s.logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	if s.last == nil {
		s.last = make(map[string]time.Time)
	}
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	for _, companyID := range s.Companies {
		s.mu.Lock()
		last := s.last[companyID]
		s.mu.Unlock()
		if !isDue(s.Cron, last) {
			continue
		}
		if job, ok := s.Tracker.Get(companyID); ok && !job.Snapshot().Phase.Terminal() {
			continue
		}
		if s.Cache != nil {
			ok, err := s.Cache.Lock(ctx, "sched:"+companyID, 2*time.Minute)
			if err != nil {
				s.logger.Printf("scheduler lock for %s: %v", companyID, err)
				continue
			}
			if !ok {
				continue
			}
		}
		s.mu.Lock()
		s.last[companyID] = time.Now()
		s.mu.Unlock()
		s.logger.Printf("scheduled analysis for %s", companyID)
		job := s.Tracker.Start(ctx, companyID, upstream.JobParams{})
		if s.Cache != nil {
			go s.onDone(companyID, job)
		}
	}
}

// onDone drops the stale report cache once the scheduled job finishes
// so the next dashboard load sees the fresh report.
func (s *Scheduler) onDone(companyID string, job *tracker.Job) {
	<-job.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if job.Snapshot().Phase == tracker.PhaseCompleted {
		if err := s.Cache.Invalidate(ctx, companyID); err != nil {
			s.logger.Printf("cache invalidate after scheduled run for %s: %v", companyID, err)
		}
	}
	s.Cache.Unlock(ctx, "sched:"+companyID)
}

// isDue reports whether cronSpec has fired since last. Supports
// "@daily", "@hourly", and standard 5-field cron expressions.
func isDue(cronSpec string, last time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		return last.IsZero() || now.Sub(last) >= 24*time.Hour
	case "@hourly":
		return last.IsZero() || now.Sub(last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// invalid spec degrades to daily
			return last.IsZero() || now.Sub(last) >= 24*time.Hour
		}
		if last.IsZero() {
			return true
		}
		next := expr.Next(last)
		return !next.After(now)
	}
}
