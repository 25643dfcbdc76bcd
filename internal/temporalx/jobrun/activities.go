package jobrun

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"gorm.io/gorm"

	"github.com/yungbote/featurepulse-backend/internal/data/repos"
	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

const (
	ErrTypeJobFailed   = "job_failed"
	ErrTypeJobNotFound = "job_not_found"
)

// Executor runs a claimed job to a terminal state. Satisfied by *worker.Worker.
type Executor interface {
	Execute(ctx context.Context, job *types.JobRun, workerID int) *types.JobRun
}

type Activities struct {
	Log         *logger.Logger
	Jobs        repos.JobRunRepo
	Executor    Executor
	MaxAttempts int
}

func (a *Activities) Execute(ctx context.Context, jobID string) (Result, error) {
	res := Result{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.Jobs == nil || a.Executor == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}
	id, err := uuid.Parse(res.JobID)
	if err != nil || id == uuid.Nil {
		return res, temporal.NewNonRetryableApplicationError("invalid job_id", ErrTypeJobNotFound, err)
	}

	dbc := dbctx.Context{Ctx: ctx}
	job, err := a.Jobs.ClaimByID(dbc, id, a.MaxAttempts)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return res, temporal.NewNonRetryableApplicationError("job not found", ErrTypeJobNotFound, err)
	}
	if err != nil {
		return res, err
	}
	if job == nil {
		// Already terminal: succeeded, canceled, or out of attempts.
		rows, gerr := a.Jobs.GetByIDs(dbc, []uuid.UUID{id})
		if gerr != nil || len(rows) == 0 {
			return res, gerr
		}
		if a.Log != nil {
			a.Log.Debug("Job run not claimable; skipping", "job_id", id, "status", rows[0].Status)
		}
		return fill(res, rows[0]), nil
	}

	stop := heartbeat(ctx)
	final := a.Executor.Execute(ctx, job, 0)
	stop()

	res = fill(res, final)
	if final.Status == types.JobStatusFailed {
		return res, temporal.NewApplicationError(final.Error, ErrTypeJobFailed, res)
	}
	return res, nil
}

func fill(res Result, job *types.JobRun) Result {
	res.Status = job.Status
	res.Stage = job.Stage
	res.Attempts = job.Attempts
	return res
}

func heartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
