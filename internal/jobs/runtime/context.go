package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/featurepulse-backend/internal/data/repos"
	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/events"
	"github.com/yungbote/featurepulse-backend/internal/pkg/ctxutil"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	"github.com/yungbote/featurepulse-backend/internal/pkg/httpx"
)

// RetryPolicy controls when a failed job run becomes claimable again.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Base: 30 * time.Second, Max: 15 * time.Minute}
}

/*
Context is the execution handle for a single job run. Handlers never touch job_run
directly; lifecycle transitions go through Progress, Fail and Succeed so the retry
schedule and the emitted events stay consistent.
*/
type Context struct {
	Ctx    context.Context
	DB     *gorm.DB
	Job    *types.JobRun
	Repo   repos.JobRunRepo
	Events events.Publisher
	Retry  RetryPolicy

	payload map[string]any
}

// NewContext decodes the payload eagerly; a malformed payload reads as empty and
// handlers validate required fields themselves.
func NewContext(ctx context.Context, db *gorm.DB, job *types.JobRun, repo repos.JobRunRepo, pub events.Publisher, retry RetryPolicy) *Context {
	c := &Context{
		Ctx:    ctx,
		DB:     db,
		Job:    job,
		Repo:   repo,
		Events: pub,
		Retry:  retry,
	}
	_ = c.decodePayload()
	c.applyTraceData()
	return c
}

func (c *Context) decodePayload() error {
	if c.Job == nil {
		return nil
	}
	if len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	if m == nil {
		m = map[string]any{}
	}
	c.payload = m
	return nil
}

func (c *Context) applyTraceData() {
	if c == nil || c.Ctx == nil || c.Job == nil {
		return
	}
	td := &ctxutil.TraceData{
		TraceID:   c.PayloadString("trace_id"),
		RequestID: c.PayloadString("request_id"),
		JobID:     c.Job.ID.String(),
	}
	if c.Job.WorkspaceID != nil {
		td.WorkspaceID = c.Job.WorkspaceID.String()
	}
	c.Ctx = ctxutil.WithTraceData(c.Ctx, td)
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

func (c *Context) PayloadString(key string) string {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	s := c.PayloadString(key)
	if s == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// PayloadInt accepts JSON numbers and numeric strings.
func (c *Context) PayloadInt(key string, def int) int {
	switch v := c.Payload()[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// WorkspaceID is the job's workspace, falling back to the payload's workspace_id.
func (c *Context) WorkspaceID() (uuid.UUID, bool) {
	if c.Job != nil && c.Job.WorkspaceID != nil && *c.Job.WorkspaceID != uuid.Nil {
		return *c.Job.WorkspaceID, true
	}
	return c.PayloadUUID("workspace_id")
}

// FinalAttempt reports whether a failure now exhausts the retry budget.
func (c *Context) FinalAttempt() bool {
	if c.Job == nil || c.Retry.MaxAttempts <= 0 {
		return false
	}
	return c.Job.Attempts >= c.Retry.MaxAttempts
}

func (c *Context) dbc() dbctx.Context {
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	// Terminal writes must land even when the run's context was canceled.
	return dbctx.Context{Ctx: context.WithoutCancel(ctx)}
}

// Progress records a non-terminal stage and refreshes the heartbeat.
func (c *Context) Progress(stage string, pct int) {
	if c == nil || c.Job == nil {
		return
	}
	now := time.Now().UTC()
	if c.Repo != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, []string{types.JobStatusCanceled}, map[string]interface{}{
			"stage":        stage,
			"progress":     pct,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}
	c.Job.Stage = stage
	c.Job.Progress = pct
	c.Job.HeartbeatAt = &now
	c.Job.UpdatedAt = now
}

// Fail marks the run failed and schedules the next attempt at
// now + base*2^(attempts-1), capped. Canceled runs are left alone.
func (c *Context) Fail(stage string, err error) {
	if c == nil || c.Job == nil {
		return
	}
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	runAfter := now.Add(httpx.ExponentialBackoff(c.Retry.Base, c.Retry.Max, c.Job.Attempts))

	if c.Repo != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, []string{types.JobStatusCanceled}, map[string]interface{}{
			"status":        types.JobStatusFailed,
			"stage":         stage,
			"error":         msg,
			"last_error_at": now,
			"run_after":     runAfter,
			"locked_at":     nil,
			"updated_at":    now,
		})
		if !ok {
			return
		}
	}
	c.Job.Status = types.JobStatusFailed
	c.Job.Stage = stage
	c.Job.Error = msg
	c.Job.LastErrorAt = &now
	c.Job.RunAfter = &runAfter
	c.Job.LockedAt = nil
	c.Job.UpdatedAt = now

	c.publish(events.TypeStageFailed, nil)
}

// Succeed stores result and marks the run succeeded.
func (c *Context) Succeed(finalStage string, result any) {
	if c == nil || c.Job == nil {
		return
	}
	now := time.Now().UTC()
	res := datatypes.JSON([]byte("{}"))
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			res = datatypes.JSON(b)
		}
	}

	if c.Repo != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, []string{types.JobStatusCanceled}, map[string]interface{}{
			"status":       types.JobStatusSucceeded,
			"stage":        finalStage,
			"progress":     100,
			"error":        "",
			"result":       res,
			"locked_at":    nil,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}
	c.Job.Status = types.JobStatusSucceeded
	c.Job.Stage = finalStage
	c.Job.Progress = 100
	c.Job.Error = ""
	c.Job.Result = res
	c.Job.LockedAt = nil
	c.Job.HeartbeatAt = &now
	c.Job.UpdatedAt = now

	c.publish(events.TypeStageCompleted, json.RawMessage(res))
}

func (c *Context) publish(kind string, result json.RawMessage) {
	if c.Events == nil || c.Job == nil {
		return
	}
	_ = c.Events.Publish(c.dbc().Ctx, events.Event{
		Type:        kind,
		JobID:       c.Job.ID,
		JobType:     c.Job.JobType,
		WorkspaceID: c.Job.WorkspaceID,
		Stage:       c.Job.Stage,
		Attempt:     c.Job.Attempts,
		Error:       c.Job.Error,
		Result:      result,
		At:          time.Now().UTC(),
	})
}
