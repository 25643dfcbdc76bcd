package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/featurepulse-backend/internal/data/repos"
	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/steps"
	"github.com/yungbote/featurepulse-backend/internal/observability"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

// Enqueuer is the slice of services.JobService the scheduler needs.
type Enqueuer interface {
	EnqueueIfNeeded(dbc dbctx.Context, workspaceID *uuid.UUID, jobType string, trigger string) (*types.JobRun, bool, error)
}

type Config struct {
	Interval     time.Duration
	ReapInterval time.Duration
}

type Deps struct {
	Log     *logger.Logger
	Units   repos.ContentUnitRepo
	Chunks  repos.ContentChunkRepo
	Facts   repos.ExtractedFactRepo
	Jobs    Enqueuer
	Metrics *observability.Metrics
}

// Scheduler periodically enqueues one job run per workspace per stage that has
// due rows, and a global stale_reap run on its own interval.
type Scheduler struct {
	deps Deps
	cfg  Config
	log  *logger.Logger
	wg   sync.WaitGroup
}

type TickResult struct {
	Enqueued map[string]int
	Due      map[string]int64
}

func New(deps Deps, cfg Config) (*Scheduler, error) {
	if deps.Log == nil || deps.Units == nil || deps.Chunks == nil || deps.Facts == nil || deps.Jobs == nil {
		return nil, fmt.Errorf("scheduler: missing deps")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 5 * time.Minute
	}
	return &Scheduler{deps: deps, cfg: cfg, log: deps.Log.With("component", "Scheduler")}, nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, s.cfg.Interval, func(ctx context.Context) {
			if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("Scheduler tick failed", "error", err)
			}
		})
	}()
	go func() {
		defer s.wg.Done()
		s.loop(ctx, s.cfg.ReapInterval, func(ctx context.Context) {
			if _, err := s.EnqueueReap(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("Reaper enqueue failed", "error", err)
			}
		})
	}()
}

func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	t := time.NewTicker(every)
	defer t.Stop()
	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}

// Tick enqueues stage jobs for every workspace with due rows.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	res := TickResult{Enqueued: map[string]int{}, Due: map[string]int64{}}
	dbc := dbctx.Context{Ctx: ctx}

	scoreWS, err := s.dueWorkspaces(dbc, s.deps.Units.WorkspacesDueForScoring, s.deps.Chunks.WorkspacesDueForScoring)
	if err != nil {
		return res, fmt.Errorf("list workspaces due for scoring: %w", err)
	}
	extractWS, err := s.dueWorkspaces(dbc, s.deps.Units.WorkspacesDueForExtraction, s.deps.Chunks.WorkspacesDueForExtraction)
	if err != nil {
		return res, fmt.Errorf("list workspaces due for extraction: %w", err)
	}
	aggregateWS, err := s.deps.Facts.WorkspacesWithPending(dbc)
	if err != nil {
		return res, fmt.Errorf("list workspaces with pending facts: %w", err)
	}

	plan := []struct {
		stage      string
		jobType    string
		workspaces []uuid.UUID
		count      func(uuid.UUID) (int64, error)
	}{
		{steps.StageScore, types.JobTypeContentScore, scoreWS, func(ws uuid.UUID) (int64, error) {
			return countBoth(dbc, ws, s.deps.Units.CountDueForScoring, s.deps.Chunks.CountDueForScoring)
		}},
		{steps.StageExtract, types.JobTypeFeatureExtract, extractWS, func(ws uuid.UUID) (int64, error) {
			return countBoth(dbc, ws, s.deps.Units.CountDueForExtraction, s.deps.Chunks.CountDueForExtraction)
		}},
		{steps.StageAggregate, types.JobTypeFeatureAggregate, aggregateWS, func(ws uuid.UUID) (int64, error) {
			return s.deps.Facts.CountPending(dbc, ws)
		}},
	}

	for _, p := range plan {
		var due int64
		for _, ws := range p.workspaces {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			n, err := p.count(ws)
			if err != nil {
				s.log.Warn("Count due rows failed", "stage", p.stage, "workspace_id", ws, "error", err)
				continue
			}
			due += n
			wsID := ws
			_, created, err := s.deps.Jobs.EnqueueIfNeeded(dbc, &wsID, p.jobType, "scheduler")
			if err != nil {
				s.log.Warn("Enqueue failed", "job_type", p.jobType, "workspace_id", ws, "error", err)
				continue
			}
			if created {
				res.Enqueued[p.stage]++
			}
		}
		res.Due[p.stage] = due
		s.deps.Metrics.SetDueRows(p.stage, due)
	}
	if n := res.Enqueued[steps.StageScore] + res.Enqueued[steps.StageExtract] + res.Enqueued[steps.StageAggregate]; n > 0 {
		s.log.Info("Scheduler enqueued stage jobs", "enqueued", res.Enqueued, "due", res.Due)
	}
	return res, nil
}

// EnqueueReap enqueues the global stale_reap job unless one is already runnable.
func (s *Scheduler) EnqueueReap(ctx context.Context) (bool, error) {
	_, created, err := s.deps.Jobs.EnqueueIfNeeded(dbctx.Context{Ctx: ctx}, nil, types.JobTypeStaleReap, "scheduler")
	return created, err
}

type listFn func(dbctx.Context) ([]uuid.UUID, error)
type countFn func(dbctx.Context, uuid.UUID) (int64, error)

// dueWorkspaces merges the unit and chunk workspace lists, keeping first-seen order.
func (s *Scheduler) dueWorkspaces(dbc dbctx.Context, units, chunks listFn) ([]uuid.UUID, error) {
	a, err := units(dbc)
	if err != nil {
		return nil, err
	}
	b, err := chunks(dbc)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]struct{}, len(a)+len(b))
	out := make([]uuid.UUID, 0, len(a)+len(b))
	for _, id := range append(a, b...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func countBoth(dbc dbctx.Context, ws uuid.UUID, units, chunks countFn) (int64, error) {
	a, err := units(dbc, ws)
	if err != nil {
		return 0, err
	}
	b, err := chunks(dbc, ws)
	if err != nil {
		return 0, err
	}
	return a + b, nil
}
