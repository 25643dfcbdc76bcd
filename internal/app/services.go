package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/gorm"

	"github.com/yungbote/featurepulse-backend/internal/clients/redis"
	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/events"
	"github.com/yungbote/featurepulse-backend/internal/jobs/pipeline"
	"github.com/yungbote/featurepulse-backend/internal/jobs/runtime"
	"github.com/yungbote/featurepulse-backend/internal/jobs/scheduler"
	"github.com/yungbote/featurepulse-backend/internal/jobs/worker"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/classify"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/steps"
	"github.com/yungbote/featurepulse-backend/internal/observability"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
	"github.com/yungbote/featurepulse-backend/internal/platform/llm"
	"github.com/yungbote/featurepulse-backend/internal/services"
	"github.com/yungbote/featurepulse-backend/internal/temporalx"
	"github.com/yungbote/featurepulse-backend/internal/temporalx/temporalworker"
)

type Services struct {
	Jobs      services.JobService
	Pipeline  services.PipelineService
	Usecases  *feedback.Usecases
	Registry  *runtime.Registry
	Worker    *worker.Worker
	Temporal  *temporalworker.Runner
	Scheduler *scheduler.Scheduler
}

// Clients are the optional external connections; nil fields are disabled.
type Clients struct {
	LLM      llm.Client
	Redis    *goredis.Client
	Temporal temporalsdkclient.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	client, err := llm.New(log, cfg.LLMProvider)
	if err != nil {
		return out, fmt.Errorf("init llm client: %w", err)
	}
	out.LLM = client

	if cfg.Redis.Enabled() {
		rdb, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("Redis unavailable; running without event bus and context cache", "error", err)
		} else {
			out.Redis = rdb
		}
	}

	tc, err := temporalx.NewClient(ctx, cfg.Temporal, log)
	if err != nil {
		return out, err
	}
	out.Temporal = tc
	return out, nil
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r Repos, c Clients, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")
	var out Services

	var publisher events.Publisher
	var cache steps.ContextCache
	if c.Redis != nil {
		publisher = redis.NewEventBus(c.Redis, cfg.Redis.Channel, log)
		cache = redis.NewContextCache(c.Redis, cfg.Redis.ContextTTL, cfg.Redis.KeyPrefix, log)
	}

	out.Jobs = services.NewJobService(log, r.JobRuns, cfg.Worker.Retry, c.Temporal, cfg.Temporal.TaskQueue)
	out.Pipeline = services.NewPipelineService(log, out.Jobs, r.Units, r.Chunks, r.Facts, r.Features, r.Runs)

	gw := classify.NewGateway(log, c.LLM, cfg.Gateway)
	out.Usecases = feedback.New(feedback.UsecasesDeps{
		DB:         db,
		Log:        log,
		Units:      r.Units,
		Chunks:     r.Chunks,
		Facts:      r.Facts,
		Features:   r.Features,
		Themes:     r.Themes,
		Runs:       r.Runs,
		Scorer:     classify.NewScorer(gw),
		Extractor:  classify.NewExtractor(gw),
		Comparator: classify.NewComparator(gw),
		Cache:      cache,
		Metrics:    metrics,
		ChainAggregate: func(ctx context.Context, workspaceID uuid.UUID) error {
			_, _, err := out.Jobs.EnqueueIfNeeded(dbctx.Context{Ctx: ctx}, &workspaceID, types.JobTypeFeatureAggregate, "chain")
			return err
		},
	})

	out.Registry = runtime.NewRegistry()
	if err := pipeline.RegisterAll(out.Registry, log, out.Usecases, cfg.Pipeline); err != nil {
		return out, err
	}
	out.Worker = worker.NewWorker(db, log, r.JobRuns, out.Registry, publisher, metrics, cfg.Worker)

	if c.Temporal != nil {
		runner, err := temporalworker.NewRunner(log, cfg.Temporal, c.Temporal, r.JobRuns, out.Worker, cfg.Worker.Retry.MaxAttempts)
		if err != nil {
			return out, err
		}
		out.Temporal = runner
	}

	sched, err := scheduler.New(scheduler.Deps{
		Log:     log,
		Units:   r.Units,
		Chunks:  r.Chunks,
		Facts:   r.Facts,
		Jobs:    out.Jobs,
		Metrics: metrics,
	}, cfg.Scheduler)
	if err != nil {
		return out, err
	}
	out.Scheduler = sched
	return out, nil
}
