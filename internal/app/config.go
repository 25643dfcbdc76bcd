package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/featurepulse-backend/internal/clients/redis"
	"github.com/yungbote/featurepulse-backend/internal/jobs/runtime"
	"github.com/yungbote/featurepulse-backend/internal/jobs/scheduler"
	"github.com/yungbote/featurepulse-backend/internal/jobs/worker"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/classify"
	"github.com/yungbote/featurepulse-backend/internal/pkg/envutil"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
	"github.com/yungbote/featurepulse-backend/internal/temporalx"
)

type Config struct {
	ServiceName string
	Environment string
	HTTPAddr    string

	AdminJWTSecret string
	CORSOrigins    []string

	// Roles let one binary run as API only, workers only, or both.
	RunHTTP      bool
	RunWorkers   bool
	RunScheduler bool

	LLMProvider   string
	Gateway       classify.GatewayConfig
	MaxRowRetries int

	Pipeline  feedback.Settings
	Worker    worker.Config
	Scheduler scheduler.Config
	Temporal  temporalx.Config
	Redis     redis.Config
}

// LoadConfig applies defaults, then the YAML file at PIPELINE_CONFIG_PATH, then
// environment variables.
func LoadConfig(log *logger.Logger) (Config, error) {
	pipeline := feedback.DefaultSettings()
	if path := envutil.String("PIPELINE_CONFIG_PATH", "", log); path != "" {
		if err := loadPipelineFile(path, &pipeline); err != nil {
			return Config{}, err
		}
		log.Info("Loaded pipeline config file", "path", path)
	}
	pipeline = pipelineFromEnv(log, pipeline)

	retry := runtime.RetryPolicy{
		MaxAttempts: envutil.Int("JOB_MAX_ATTEMPTS", 5, log),
		Base:        envutil.Seconds("JOB_RETRY_BASE_SECONDS", 30, log),
		Max:         envutil.Seconds("JOB_RETRY_MAX_SECONDS", 900, log),
	}

	cfg := Config{
		ServiceName: envutil.String("OTEL_SERVICE_NAME", "featurepulse", log),
		Environment: envutil.String("APP_ENV", "development", log),
		HTTPAddr:    envutil.String("HTTP_ADDR", ":8080", log),

		AdminJWTSecret: envutil.String("ADMIN_JWT_SECRET", "", log),
		CORSOrigins:    splitList(envutil.String("CORS_ALLOWED_ORIGINS", "", log)),

		RunHTTP:      envutil.Bool("RUN_HTTP", true),
		RunWorkers:   envutil.Bool("RUN_WORKERS", true),
		RunScheduler: envutil.Bool("RUN_SCHEDULER", true),

		LLMProvider: envutil.String("LLM_PROVIDER", "openai", log),
		Gateway: classify.GatewayConfig{
			MaxInFlight:   pipeline.MaxInFlight,
			RatePerSecond: envutil.Float("LLM_RATE_PER_SECOND", 5, log),
			CallTimeout:   envutil.Seconds("LLM_CALL_TIMEOUT_SECONDS", 60, log),
		},
		MaxRowRetries: envutil.Int("MAX_ROW_RETRIES", 3, log),

		Pipeline: pipeline,
		Worker: worker.Config{
			Concurrency:  envutil.Int("WORKER_CONCURRENCY", 4, log),
			PollInterval: envutil.Millis("WORKER_POLL_INTERVAL_MS", 1000, log),
			StaleRunning: pipeline.StaleAfter,
			Retry:        retry,
		},
		Scheduler: scheduler.Config{
			Interval:     envutil.Seconds("SCHEDULER_INTERVAL_SECONDS", 60, log),
			ReapInterval: envutil.Seconds("REAPER_INTERVAL_SECONDS", 300, log),
		},
		Temporal: temporalx.LoadConfig(log),
		Redis:    redis.LoadConfig(log),
	}
	return cfg, nil
}

func loadPipelineFile(path string, into *feedback.Settings) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("parse pipeline config %s: %w", path, err)
	}
	return nil
}

func pipelineFromEnv(log *logger.Logger, s feedback.Settings) feedback.Settings {
	s.Tier1BatchSize = envutil.Int("TIER1_BATCH_SIZE", s.Tier1BatchSize, log)
	s.Tier2BatchSize = envutil.Int("TIER2_BATCH_SIZE", s.Tier2BatchSize, log)
	s.Tier3BatchSize = envutil.Int("TIER3_BATCH_SIZE", s.Tier3BatchSize, log)
	s.RelevanceThreshold = envutil.Float("RELEVANCE_THRESHOLD", s.RelevanceThreshold, log)
	s.MinConfidence = envutil.Float("EXTRACTION_MIN_CONFIDENCE", s.MinConfidence, log)
	s.SimilarityThreshold = envutil.Float("SIMILARITY_THRESHOLD", s.SimilarityThreshold, log)
	s.HintThreshold = envutil.Float("MATCH_HINT_THRESHOLD", s.HintThreshold, log)
	s.MaxInFlight = envutil.Int("LLM_MAX_IN_FLIGHT", s.MaxInFlight, log)
	if mins := envutil.Int("STALE_LOCK_TIMEOUT_MINUTES", 0, log); mins > 0 {
		s.StaleAfter = time.Duration(mins) * time.Minute
	}
	return s
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
