// Package tracker follows asynchronous analysis jobs from trigger to a
// terminal state. It is the client-side state machine behind the
// dashboard's progress view: fixed-cadence status polling, a
// reports-existence fallback when polling itself fails, a client-side
// timeout distinct from engine failure, and cooperative cancellation
// when the owning view goes away.
package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/helix-research/dossier/internal/upstream"
)

// Engine is the slice of the upstream client the tracker needs.
type Engine interface {
	StartAnalysis(ctx context.Context, companyID string, params upstream.JobParams) error
	JobStatus(ctx context.Context, companyID string) (upstream.StatusSnapshot, error)
	Reports(ctx context.Context, companyID string) ([]upstream.Report, error)
}

// Phase is the tracker's own lifecycle, a superset of the engine's
// terminal states: TIMED_OUT exists only client-side.
type Phase int

const (
	PhaseRunning Phase = iota
	PhaseCompleted
	PhaseFailed
	PhaseTimedOut
)

func (p Phase) String() string {
	switch p {
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	case PhaseTimedOut:
		return "timed_out"
	default:
		return "running"
	}
}

// Terminal reports whether the phase admits no further transitions.
func (p Phase) Terminal() bool { return p != PhaseRunning }

// Snapshot is an immutable view of a job's progress.
type Snapshot struct {
	CompanyID string
	Phase     Phase
	Status    upstream.JobStatus
	Step      int
	StepLabel string
	Progress  int
	ReportID  string
	Err       string
}

// Options tune the polling loop. Zero values take the dashboard
// defaults: 2s cadence, 10m timeout.
type Options struct {
	Interval   time.Duration
	Timeout    time.Duration
	StartDelay time.Duration
	Clock      Clock
	Logger     *log.Logger
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = SystemClock
	}
	if o.Logger == nil {
		o.Logger = log.New(log.Writer(), "[TRACKER] ", log.LstdFlags)
	}
	return o
}

// Tracker owns at most one live job per company. Start is the one-shot
// latch: repeated calls for the same company return the existing job
// instead of triggering the engine again.
type Tracker struct {
	engine Engine
	opts   Options

	mu   sync.Mutex
	jobs map[string]*Job
}

// New builds a Tracker around an engine client.
func New(engine Engine, opts Options) *Tracker {
	return &Tracker{
		engine: engine,
		opts:   opts.withDefaults(),
		jobs:   make(map[string]*Job),
	}
}

// Job is one live analysis request. All mutation happens on the single
// polling goroutine; readers take snapshots under the lock.
type Job struct {
	companyID string
	tracker   *Tracker
	cancel    context.CancelFunc

	mu      sync.Mutex
	snap    Snapshot
	updates chan Snapshot
	done    chan struct{}
}

// Start triggers an analysis job and begins polling. If a job for the
// company is already live, that job is returned and the engine is not
// called again; re-rendering views must not duplicate work. A trigger
// rejection is terminal and surfaces on the returned job immediately.
func (t *Tracker) Start(ctx context.Context, companyID string, params upstream.JobParams) *Job {
	t.mu.Lock()
	if j, ok := t.jobs[companyID]; ok && !j.Snapshot().Phase.Terminal() {
		t.mu.Unlock()
		return j
	}
	jobCtx, cancel := context.WithCancel(ctx)
	j := &Job{
		companyID: companyID,
		tracker:   t,
		cancel:    cancel,
		snap: Snapshot{
			CompanyID: companyID,
			Status:    upstream.StatusPending,
			StepLabel: upstream.StatusPending.Label(),
		},
		updates: make(chan Snapshot, 16),
		done:    make(chan struct{}),
	}
	t.jobs[companyID] = j
	t.mu.Unlock()

	if err := t.engine.StartAnalysis(jobCtx, companyID, params); err != nil {
		t.opts.Logger.Printf("start analysis for %s rejected: %v", companyID, err)
		jobOutcomes.WithLabelValues(PhaseFailed.String()).Inc()
		j.finish(PhaseFailed, Snapshot{Err: err.Error()})
		cancel()
		return j
	}
	go j.run(jobCtx)
	return j
}

// Get returns the live or last-finished job for a company.
func (t *Tracker) Get(companyID string) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[companyID]
	return j, ok
}

// Release drops the job registration so a future Start may trigger a
// fresh analysis. Called when the owning view closes.
func (t *Tracker) Release(companyID string) {
	t.mu.Lock()
	j, ok := t.jobs[companyID]
	if ok {
		delete(t.jobs, companyID)
	}
	t.mu.Unlock()
	if ok {
		j.Cancel()
	}
}

// Snapshot returns the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap
}

// Updates delivers progress snapshots. Slow consumers miss intermediate
// updates, never the terminal one: Done closes after the final state is
// visible via Snapshot.
func (j *Job) Updates() <-chan Snapshot { return j.updates }

// Done closes once the job reaches a terminal phase or is cancelled.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel stops polling immediately, whatever the job state. The engine
// keeps running server-side; this is client resource hygiene only.
func (j *Job) Cancel() { j.cancel() }

func (j *Job) run(ctx context.Context) {
	clock := j.tracker.opts.Clock
	interval := j.tracker.opts.Interval

	if delay := j.tracker.opts.StartDelay; delay > 0 {
		// Give the engine a beat to register the job before the first
		// poll observes it.
		select {
		case <-ctx.Done():
			j.closeQuietly()
			return
		case <-clock.After(delay):
		}
	}

	deadline := clock.Now().Add(j.tracker.opts.Timeout)
	for {
		snap, err := j.tracker.engine.JobStatus(ctx, j.companyID)
		if ctx.Err() != nil {
			// The owning view is gone; the in-flight response must not
			// commit state.
			j.closeQuietly()
			return
		}
		pollsTotal.Inc()
		if err != nil {
			pollFailuresTotal.Inc()
			j.tracker.opts.Logger.Printf("poll %s failed: %v", j.companyID, err)
			if j.checkFallback(ctx) {
				return
			}
		} else if j.observe(snap) {
			return
		}

		if !clock.Now().Before(deadline) {
			jobOutcomes.WithLabelValues(PhaseTimedOut.String()).Inc()
			j.finish(PhaseTimedOut, Snapshot{
				Err: "no terminal status within the polling window; the job may still be running server-side",
			})
			return
		}
		select {
		case <-ctx.Done():
			j.closeQuietly()
			return
		case <-clock.After(interval):
		}
	}
}

// observe folds a successful poll into the job state and reports
// whether a terminal status was reached.
func (j *Job) observe(snap upstream.StatusSnapshot) bool {
	switch snap.Status {
	case upstream.StatusCompleted:
		jobOutcomes.WithLabelValues(PhaseCompleted.String()).Inc()
		j.finish(PhaseCompleted, Snapshot{Status: snap.Status, ReportID: snap.ReportID, Progress: 100})
		return true
	case upstream.StatusFailed:
		jobOutcomes.WithLabelValues(PhaseFailed.String()).Inc()
		j.finish(PhaseFailed, Snapshot{Status: snap.Status, Err: snap.ErrorMessage})
		return true
	}

	j.mu.Lock()
	j.snap.Status = snap.Status
	j.snap.Step = snap.Status.StepIndex()
	j.snap.StepLabel = snap.Status.Label()
	if snap.CurrentStep != "" {
		j.snap.StepLabel = snap.CurrentStep
	}
	if snap.Progress > 0 {
		j.snap.Progress = snap.Progress
	}
	cur := j.snap
	j.mu.Unlock()
	j.publish(cur)
	return false
}

// checkFallback handles a failed poll: a poll transport error is not a
// job failure. If at least one report now exists for the company, the
// job is treated as completed; finished work must not be lost to a
// flaky status endpoint.
func (j *Job) checkFallback(ctx context.Context) bool {
	reports, err := j.tracker.engine.Reports(ctx, j.companyID)
	if ctx.Err() != nil {
		j.closeQuietly()
		return true
	}
	if err != nil || len(reports) == 0 {
		return false
	}
	fallbackHitsTotal.Inc()
	jobOutcomes.WithLabelValues(PhaseCompleted.String()).Inc()
	j.finish(PhaseCompleted, Snapshot{Status: upstream.StatusCompleted, ReportID: reports[0].ID, Progress: 100})
	return true
}

func (j *Job) finish(phase Phase, final Snapshot) {
	j.mu.Lock()
	j.snap.Phase = phase
	if final.Status != "" {
		j.snap.Status = final.Status
		j.snap.Step = final.Status.StepIndex()
		j.snap.StepLabel = final.Status.Label()
	}
	if final.ReportID != "" {
		j.snap.ReportID = final.ReportID
	}
	if final.Progress > 0 {
		j.snap.Progress = final.Progress
	}
	if final.Err != "" {
		j.snap.Err = final.Err
	}
	cur := j.snap
	j.mu.Unlock()
	j.publish(cur)
	close(j.done)
}

func (j *Job) closeQuietly() {
	j.mu.Lock()
	closed := j.snap.Phase.Terminal()
	j.mu.Unlock()
	if !closed {
		close(j.done)
	}
}

func (j *Job) publish(snap Snapshot) {
	select {
	case j.updates <- snap:
	default:
	}
}
