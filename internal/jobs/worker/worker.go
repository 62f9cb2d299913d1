package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/codeframe-backend/internal/jobs/queue"
	"github.com/yungbote/codeframe-backend/internal/jobs/runtime"
	"github.com/yungbote/codeframe-backend/internal/observability"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
	"github.com/yungbote/codeframe-backend/internal/services"
)

type Config struct {
	Concurrency       int
	PollInterval      time.Duration
	StaleAfter        time.Duration
	HeartbeatInterval time.Duration
	MaintainInterval  time.Duration
	KeepCompleted     int
	KeepFailed        int
	Retry             runtime.RetryPolicy
}

func (c *Config) withDefaults() {
	if c.Concurrency < 1 {
		c.Concurrency = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.MaintainInterval <= 0 {
		c.MaintainInterval = 10 * time.Minute
	}
	if c.KeepCompleted <= 0 {
		c.KeepCompleted = queue.DefaultKeepCompleted
	}
	if c.KeepFailed <= 0 {
		c.KeepFailed = queue.DefaultKeepFailed
	}
}

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	queue    queue.Queue
	registry *runtime.Registry
	settler  services.GenerationSettler
	cfg      Config
	wg       sync.WaitGroup
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, q queue.Queue, registry *runtime.Registry, settler services.GenerationSettler, cfg Config) *Worker {
	cfg.withDefaults()
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "ClusterJobWorker"),
		queue:    q,
		registry: registry,
		settler:  settler,
		cfg:      cfg,
	}
}

// Start launches the pool and the maintenance loop. Wait blocks until they
// have all stopped after ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting cluster job worker pool", "concurrency", w.cfg.Concurrency, "job_types", w.registry.Types())
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx, workerID)
		}()
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.maintainLoop(ctx)
	}()
}

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
			// drain while there is work, then go back to polling
			for ctx.Err() == nil {
				did, err := w.ProcessOne(ctx)
				if err != nil {
					w.log.Warn("process cluster job failed", "worker_id", workerID, "error", err)
				}
				if !did {
					break
				}
			}
		}
	}
}

func (w *Worker) maintainLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.MaintainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Maintain(ctx); err != nil {
				w.log.Warn("queue maintenance failed", "error", err)
			}
		}
	}
}

// ProcessOne claims and runs at most one job. It reports whether a job was
// claimed.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := w.queue.Claim(dbc, w.cfg.StaleAfter)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if job == nil {
		return false, nil
	}
	start := time.Now()
	jc := runtime.NewContext(ctx, w.db, job, w.queue, w.settler, w.log, w.cfg.Retry)
	defer func() {
		observability.Current().ObserveClusterJob(jc.Outcome(), time.Since(start))
	}()

	if _, err := w.settler.MarkProcessing(dbc, job.GenerationID); err != nil {
		return true, err
	}

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		w.log.Warn("No handler registered for job_type", "job_type", job.JobType, "job_id", job.ID)
		return true, jc.FailFinal(&missingHandlerError{JobType: job.JobType})
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		w.heartbeat(hbCtx, jc)
	}()
	runErr := w.run(h, jc)
	stopHeartbeat()
	<-hbDone

	if runErr != nil && !jc.Settled() {
		return true, jc.Fail(runErr)
	}
	if !jc.Settled() {
		return true, jc.FailFinal(errors.New("handler returned without settling the job"))
	}
	return true, nil
}

func (w *Worker) run(h runtime.Handler, jc *runtime.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Job handler panic", "job_id", jc.Job.ID, "job_type", jc.Job.JobType, "panic", r)
			err = &panicError{Val: r}
		}
	}()
	return h.Run(jc)
}

func (w *Worker) heartbeat(ctx context.Context, jc *runtime.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.Heartbeat(dbctx.Context{Ctx: ctx}, jc.Job); err != nil && ctx.Err() == nil {
				w.log.Warn("heartbeat failed", "job_id", jc.Job.ID, "error", err)
			}
		}
	}
}

// Maintain prunes job history and settles jobs whose worker died on their
// last attempt.
func (w *Worker) Maintain(ctx context.Context) error {
	dbc := dbctx.Context{Ctx: ctx}
	stale, err := w.queue.ExhaustedStale(dbc, w.cfg.StaleAfter, 100)
	if err != nil {
		return fmt.Errorf("list stale jobs: %w", err)
	}
	for _, job := range stale {
		jc := runtime.NewContext(ctx, w.db, job, w.queue, w.settler, w.log, w.cfg.Retry)
		if err := jc.FailFinal(errors.New("worker lease expired on final attempt")); err != nil {
			w.log.Warn("settle stale job failed", "job_id", job.ID, "error", err)
		}
	}
	completed, failed, err := w.queue.Prune(dbc, w.cfg.KeepCompleted, w.cfg.KeepFailed)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	m := observability.Current()
	m.AddQueuePruned("completed", completed)
	m.AddQueuePruned("failed", failed)
	return nil
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }

// Permanent so a missing handler does not burn retries.
func (e *missingHandlerError) HTTPStatusCode() int { return 400 }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
