// Package queue is the durable at-least-once channel for cluster jobs. The
// orchestrator only sees Enqueuer; workers use the full Queue.
package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/codeframe-backend/internal/data/db"
	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
)

const (
	DefaultKeepCompleted = 100
	DefaultKeepFailed    = 500
	DefaultJobType       = "cluster_label"
)

type Enqueuer interface {
	Enqueue(dbc dbctx.Context, jobs ...*types.ClusterJob) error
}

type Queue interface {
	Enqueuer
	// Claim leases the next runnable job and bumps its attempt count.
	Claim(dbc dbctx.Context, staleAfter time.Duration) (*types.ClusterJob, error)
	Heartbeat(dbc dbctx.Context, job *types.ClusterJob) error
	// Checkpoint overwrites the job's partial result for the current attempt.
	Checkpoint(dbc dbctx.Context, job *types.ClusterJob, partial datatypes.JSON) (bool, error)
	Complete(dbc dbctx.Context, job *types.ClusterJob, result datatypes.JSON) (bool, error)
	Retry(dbc dbctx.Context, job *types.ClusterJob, lastErr string, runAt time.Time) (bool, error)
	Fail(dbc dbctx.Context, job *types.ClusterJob, lastErr string) (bool, error)
	// ExhaustedStale lists leased jobs whose worker vanished on the final attempt.
	ExhaustedStale(dbc dbctx.Context, staleAfter time.Duration, limit int) ([]*types.ClusterJob, error)
	ListCompleted(dbc dbctx.Context, generationID uuid.UUID) ([]*types.ClusterJob, error)
	CountByStatus(dbc dbctx.Context, generationID uuid.UUID) (map[types.ClusterJobStatus]int64, error)
	Prune(dbc dbctx.Context, keepCompleted, keepFailed int) (int64, int64, error)
	DeleteByGeneration(dbc dbctx.Context, generationID uuid.UUID) (int64, error)
}

type gormQueue struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

func NewGormQueue(gdb *gorm.DB, baseLog *logger.Logger) Queue {
	return &gormQueue{
		db:  gdb,
		log: baseLog.With("repo", "ClusterJobQueue"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (q *gormQueue) Enqueue(dbc dbctx.Context, jobs ...*types.ClusterJob) error {
	if len(jobs) == 0 {
		return nil
	}
	now := q.now()
	for _, j := range jobs {
		if j.ID == uuid.Nil {
			j.ID = uuid.New()
		}
		if j.JobType == "" {
			j.JobType = DefaultJobType
		}
		if j.Status == "" {
			j.Status = types.JobQueued
		}
		if j.MaxAttempts <= 0 {
			j.MaxAttempts = types.DefaultMaxAttempts
		}
		if j.RunAt.IsZero() {
			j.RunAt = now
		}
		j.CreatedAt = now
		j.UpdatedAt = now
	}
	return dbc.DB(q.db).CreateInBatches(jobs, 200).Error
}

func (q *gormQueue) Claim(dbc dbctx.Context, staleAfter time.Duration) (*types.ClusterJob, error) {
	now := q.now()
	staleCutoff := now.Add(-staleAfter)
	var claimed *types.ClusterJob
	err := dbc.DB(q.db).Transaction(func(txx *gorm.DB) error {
		sel := txx
		if !db.IsSQLite(txx) {
			sel = sel.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var job types.ClusterJob
		qErr := sel.
			Where(`
        (
          status IN ? AND run_at <= ? AND attempts < max_attempts
        )
        OR (
          status = ?
          AND heartbeat_at IS NOT NULL
          AND heartbeat_at < ?
          AND attempts < max_attempts
        )
      `, []types.ClusterJobStatus{types.JobQueued, types.JobRetrying}, now, types.JobActive, staleCutoff).
			Order("run_at ASC, created_at ASC").
			First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		// Fence on the values we read so two claimers cannot both win.
		res := txx.Model(&types.ClusterJob{}).
			Where("id = ? AND status = ? AND attempts = ?", job.ID, job.Status, job.Attempts).
			Updates(map[string]interface{}{
				"status":       types.JobActive,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		job.Status = types.JobActive
		job.Attempts++
		job.LockedAt = &now
		job.HeartbeatAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// leased scopes an update to the attempt that currently owns the job.
func (q *gormQueue) leased(dbc dbctx.Context, job *types.ClusterJob) *gorm.DB {
	return dbc.DB(q.db).
		Model(&types.ClusterJob{}).
		Where("id = ? AND status = ? AND attempts = ?", job.ID, types.JobActive, job.Attempts)
}

func (q *gormQueue) Heartbeat(dbc dbctx.Context, job *types.ClusterJob) error {
	now := q.now()
	return q.leased(dbc, job).Updates(map[string]interface{}{
		"heartbeat_at": now,
		"updated_at":   now,
	}).Error
}

func (q *gormQueue) Checkpoint(dbc dbctx.Context, job *types.ClusterJob, partial datatypes.JSON) (bool, error) {
	res := q.leased(dbc, job).Updates(map[string]interface{}{
		"result":       partial,
		"heartbeat_at": q.now(),
		"updated_at":   q.now(),
	})
	return res.RowsAffected > 0, res.Error
}

func (q *gormQueue) Complete(dbc dbctx.Context, job *types.ClusterJob, result datatypes.JSON) (bool, error) {
	now := q.now()
	res := q.leased(dbc, job).Updates(map[string]interface{}{
		"status":      types.JobCompleted,
		"result":      result,
		"last_error":  "",
		"finished_at": now,
		"updated_at":  now,
	})
	return res.RowsAffected > 0, res.Error
}

func (q *gormQueue) Retry(dbc dbctx.Context, job *types.ClusterJob, lastErr string, runAt time.Time) (bool, error) {
	res := q.leased(dbc, job).Updates(map[string]interface{}{
		"status":       types.JobRetrying,
		"last_error":   lastErr,
		"run_at":       runAt.UTC(),
		"locked_at":    nil,
		"heartbeat_at": nil,
		"updated_at":   q.now(),
	})
	return res.RowsAffected > 0, res.Error
}

func (q *gormQueue) Fail(dbc dbctx.Context, job *types.ClusterJob, lastErr string) (bool, error) {
	now := q.now()
	res := q.leased(dbc, job).Updates(map[string]interface{}{
		"status":      types.JobFailed,
		"last_error":  lastErr,
		"finished_at": now,
		"updated_at":  now,
	})
	return res.RowsAffected > 0, res.Error
}

func (q *gormQueue) ExhaustedStale(dbc dbctx.Context, staleAfter time.Duration, limit int) ([]*types.ClusterJob, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*types.ClusterJob
	err := dbc.DB(q.db).
		Where("status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ? AND attempts >= max_attempts",
			types.JobActive, q.now().Add(-staleAfter)).
		Order("heartbeat_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (q *gormQueue) ListCompleted(dbc dbctx.Context, generationID uuid.UUID) ([]*types.ClusterJob, error) {
	var out []*types.ClusterJob
	err := dbc.DB(q.db).
		Where("generation_id = ? AND status = ?", generationID, types.JobCompleted).
		Order("cluster_id ASC").
		Find(&out).Error
	return out, err
}

func (q *gormQueue) CountByStatus(dbc dbctx.Context, generationID uuid.UUID) (map[types.ClusterJobStatus]int64, error) {
	var rows []struct {
		Status types.ClusterJobStatus
		N      int64
	}
	err := dbc.DB(q.db).
		Model(&types.ClusterJob{}).
		Select("status, COUNT(*) AS n").
		Where("generation_id = ?", generationID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[types.ClusterJobStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// Prune keeps the newest keepCompleted completed and keepFailed failed jobs.
// Jobs of a Generation that is still pending or processing are never pruned;
// finalize reads their results.
func (q *gormQueue) Prune(dbc dbctx.Context, keepCompleted, keepFailed int) (int64, int64, error) {
	var completed, failed int64
	err := dbc.DB(q.db).Transaction(func(tx *gorm.DB) error {
		var err error
		if completed, err = q.pruneStatus(tx, types.JobCompleted, keepCompleted); err != nil {
			return err
		}
		failed, err = q.pruneStatus(tx, types.JobFailed, keepFailed)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	if completed+failed > 0 {
		q.log.Info("pruned cluster jobs", "completed", completed, "failed", failed)
	}
	return completed, failed, nil
}

func (q *gormQueue) pruneStatus(tx *gorm.DB, status types.ClusterJobStatus, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	live := tx.Model(&types.Generation{}).
		Select("id").
		Where("status IN ?", []types.GenerationStatus{types.GenerationPending, types.GenerationProcessing})

	var ids []uuid.UUID
	err := tx.Model(&types.ClusterJob{}).
		Where("status = ? AND generation_id NOT IN (?)", status, live).
		Order("finished_at DESC, id DESC").
		Offset(keep).
		Limit(10000).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	res := tx.Where("id IN ?", ids).Delete(&types.ClusterJob{})
	return res.RowsAffected, res.Error
}

func (q *gormQueue) DeleteByGeneration(dbc dbctx.Context, generationID uuid.UUID) (int64, error) {
	res := dbc.DB(q.db).
		Where("generation_id = ?", generationID).
		Delete(&types.ClusterJob{})
	return res.RowsAffected, res.Error
}
