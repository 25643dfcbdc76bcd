package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/featurepulse-backend/internal/data/repos"
	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/events"
	"github.com/yungbote/featurepulse-backend/internal/jobs/runtime"
	"github.com/yungbote/featurepulse-backend/internal/observability"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

type Config struct {
	Concurrency       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	StaleRunning      time.Duration
	Retry             runtime.RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 30 * time.Minute
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = runtime.DefaultRetryPolicy()
	}
	return c
}

// Worker is the database-backed executor: each loop claims one runnable job_run
// at a time with FOR UPDATE SKIP LOCKED and runs its handler.
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *runtime.Registry
	events   events.Publisher
	metrics  *observability.Metrics
	cfg      Config

	wg sync.WaitGroup
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, registry *runtime.Registry, pub events.Publisher, metrics *observability.Metrics, cfg Config) *Worker {
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		events:   pub,
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency, "job_types", w.registry.Types())
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx, workerID)
		}()
	}
}

// Wait blocks until every loop has observed cancellation and returned.
func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			// Drain the queue before sleeping again.
			for ctx.Err() == nil && w.RunOnce(ctx, workerID) {
			}
		}
	}
}

// RunOnce claims and executes at most one job. It reports whether a job was claimed.
func (w *Worker) RunOnce(ctx context.Context, workerID int) bool {
	job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.cfg.Retry.MaxAttempts, w.cfg.StaleRunning)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
		}
		return false
	}
	if job == nil {
		return false
	}
	w.Execute(ctx, job, workerID)
	return true
}

// Execute runs the handler for an already-claimed job and returns it in its final state.
func (w *Worker) Execute(ctx context.Context, job *types.JobRun, workerID int) *types.JobRun {
	jc := runtime.NewContext(ctx, w.db, job, w.repo, w.events, w.cfg.Retry)
	log := w.log.With("worker_id", workerID, "job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts)

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		log.Warn("No handler registered for job_type")
		jc.Fail("dispatch", &missingHandlerError{JobType: job.JobType})
		w.metrics.IncJobRun(job.JobType, jc.Job.Status)
		return jc.Job
	}

	stopHB := w.startHeartbeat(ctx, job)
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Job handler panic", "panic", r)
				jc.Fail("panic", errFromRecover(r))
			}
		}()
		if runErr := h.Run(jc); runErr != nil {
			// Handlers normally call jc.Fail themselves.
			jc.Fail("run", runErr)
		}
	}()
	stopHB()

	if jc.Job.Status == types.JobStatusRunning {
		log.Warn("Job handler returned without terminal status; marking succeeded")
		jc.Succeed("done", nil)
	}
	w.metrics.IncJobRun(job.JobType, jc.Job.Status)
	if jc.Job.Status == types.JobStatusFailed {
		log.Warn("Job run failed", "stage", jc.Job.Stage, "error", jc.Job.Error, "run_after", jc.Job.RunAfter)
	} else {
		log.Debug("Job run finished", "status", jc.Job.Status)
	}
	return jc.Job
}

func (w *Worker) startHeartbeat(ctx context.Context, job *types.JobRun) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t := time.NewTicker(w.cfg.HeartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				_ = w.repo.Heartbeat(dbctx.Context{Ctx: ctx}, job.ID)
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string {
	return "no handler registered for job_type=" + e.JobType
}

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
