package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/codeframe-backend/internal/data/db"
	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/jobs/queue"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/codeframe-backend/internal/pkg/errors"
	"github.com/yungbote/codeframe-backend/internal/pkg/httpx"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
	"github.com/yungbote/codeframe-backend/internal/services"
)

/*
Context is the execution handle for one attempt of one cluster job.
Handlers never touch the job row or the Generation counters directly; they
report through Checkpoint, Succeed, Fail and Abort, which:
	- fence every job write on (id, status=active, attempts),
	- settle the job row and the Generation counters in one transaction,
	- turn retryable errors into a persisted retry with backoff,
	- let the orchestrator finalize once the last job settles.
*/
type Context struct {
	Ctx     context.Context
	DB      *gorm.DB
	Job     *types.ClusterJob
	Queue   queue.Queue
	Settler services.GenerationSettler
	Log     *logger.Logger
	Retry   RetryPolicy

	payload *types.ClusterPayload
	settled bool
	outcome string
}

// RetryPolicy spaces attempts base * 2^(attempt-1) apart, capped at Max.
type RetryPolicy struct {
	Base time.Duration
	Max  time.Duration
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 5 * time.Second
	}
	max := p.Max
	if max <= 0 {
		max = 5 * time.Minute
	}
	return httpx.Backoff(attempt, base, max)
}

// Settlement transactions are run again on deadlocks and serialization
// failures.
const settleAttempts = 3

// Outcomes reported to metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
)

var (
	// ErrOwnerGone means the Generation was deleted or left processing.
	ErrOwnerGone = pkgerrors.ErrOwnerGone
	// ErrLeaseLost means another attempt owns the job now.
	ErrLeaseLost = pkgerrors.ErrLeaseLost
)

func NewContext(ctx context.Context, gdb *gorm.DB, job *types.ClusterJob, q queue.Queue, settler services.GenerationSettler, log *logger.Logger, retry RetryPolicy) *Context {
	return &Context{
		Ctx:     ctx,
		DB:      gdb,
		Job:     job,
		Queue:   q,
		Settler: settler,
		Log:     log.With("job_id", job.ID, "generation_id", job.GenerationID, "cluster_id", job.ClusterID, "attempt", job.Attempts),
		Retry:   retry,
	}
}

func (c *Context) dbc() dbctx.Context { return dbctx.Context{Ctx: c.Ctx} }

// Payload decodes the job payload once.
func (c *Context) Payload() (types.ClusterPayload, error) {
	if c.payload != nil {
		return *c.payload, nil
	}
	p, err := c.Job.DecodePayload()
	if err != nil {
		return p, err
	}
	if len(p.AnswerIDs) == 0 {
		return p, fmt.Errorf("cluster job %s: payload has no answers", c.Job.ID)
	}
	c.payload = &p
	return p, nil
}

func (c *Context) Settled() bool   { return c.settled }
func (c *Context) Outcome() string { return c.outcome }

/*
Checkpoint confirms the owning Generation is still processing and overwrites
the job's partial result with partial (nil keeps the current one). Returns
ErrOwnerGone or ErrLeaseLost when the handler should stop.
*/
func (c *Context) Checkpoint(partial any) error {
	active, err := c.Settler.OwnerActive(c.dbc(), c.Job.GenerationID)
	if err != nil {
		return err
	}
	if !active {
		return ErrOwnerGone
	}
	var raw datatypes.JSON
	if partial != nil {
		b, err := json.Marshal(partial)
		if err != nil {
			return err
		}
		raw = datatypes.JSON(b)
	} else {
		raw = c.Job.Result
	}
	ok, err := c.Queue.Checkpoint(c.dbc(), c.Job, raw)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseLost
	}
	c.Job.Result = raw
	return nil
}

// Succeed completes the job and counts it toward the Generation.
func (c *Context) Succeed(result datatypes.JSON, tokens int64, costUSD float64) error {
	if c.settled {
		return nil
	}
	err := db.Transact(c.Ctx, c.DB, settleAttempts, func(tx *gorm.DB) error {
		tdbc := dbctx.Context{Ctx: c.Ctx, Tx: tx}
		ok, err := c.Queue.Complete(tdbc, c.Job, result)
		if err != nil {
			return err
		}
		if !ok {
			return ErrLeaseLost
		}
		counted, err := c.Settler.SettleSuccess(tdbc, c.Job.GenerationID, tokens, costUSD)
		if err != nil {
			return err
		}
		if !counted {
			c.Log.Warn("generation did not accept completed cluster")
		}
		return nil
	})
	return c.afterSettle(err, OutcomeCompleted)
}

/*
Fail reports an attempt failure. Retryable errors with attempts left are
re-queued at now + backoff; anything else fails the job for good and counts
it as a failed cluster.
*/
func (c *Context) Fail(cause error) error {
	if c.settled {
		return nil
	}
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	if httpx.IsRetryableError(cause) && !c.Job.Exhausted() {
		runAt := time.Now().UTC().Add(c.Retry.delay(c.Job.Attempts))
		ok, err := c.Queue.Retry(c.dbc(), c.Job, cause.Error(), runAt)
		if err != nil {
			return err
		}
		c.settled = true
		if !ok {
			c.outcome = OutcomeAborted
			c.Log.Warn("retry rejected; lease lost")
			return nil
		}
		c.outcome = OutcomeRetried
		c.Log.Warn("cluster job will retry", "error", cause, "run_at", runAt)
		return nil
	}
	return c.FailFinal(cause)
}

// FailFinal fails the job without retrying.
func (c *Context) FailFinal(cause error) error {
	if c.settled {
		return nil
	}
	msg := "unknown failure"
	if cause != nil {
		msg = cause.Error()
	}
	err := db.Transact(c.Ctx, c.DB, settleAttempts, func(tx *gorm.DB) error {
		tdbc := dbctx.Context{Ctx: c.Ctx, Tx: tx}
		ok, err := c.Queue.Fail(tdbc, c.Job, msg)
		if err != nil {
			return err
		}
		if !ok {
			return ErrLeaseLost
		}
		counted, err := c.Settler.SettleFailure(tdbc, c.Job.GenerationID)
		if err != nil {
			return err
		}
		if !counted {
			c.Log.Warn("generation did not accept failed cluster")
		}
		return nil
	})
	if err == nil {
		c.Log.Warn("cluster job failed", "error", msg)
	}
	return c.afterSettle(err, OutcomeFailed)
}

// Abort stops the attempt without touching the Generation. When the owner
// is gone the job row is closed so it is not claimed again.
func (c *Context) Abort(reason error) {
	if c.settled {
		return
	}
	c.settled = true
	c.outcome = OutcomeAborted
	if errors.Is(reason, ErrOwnerGone) {
		if _, err := c.Queue.Fail(c.dbc(), c.Job, reason.Error()); err != nil {
			c.Log.Warn("close orphaned job failed", "error", err)
		}
	}
	c.Log.Info("cluster job aborted", "reason", reason)
}

func (c *Context) afterSettle(err error, outcome string) error {
	if errors.Is(err, ErrLeaseLost) {
		c.settled = true
		c.outcome = OutcomeAborted
		c.Log.Warn("settlement rejected; lease lost")
		return nil
	}
	if err != nil {
		return err
	}
	c.settled = true
	c.outcome = outcome
	return c.Settler.AfterSettle(c.dbc(), c.Job.GenerationID)
}
