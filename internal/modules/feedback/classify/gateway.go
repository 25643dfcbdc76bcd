package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/prompts"
	"github.com/yungbote/featurepulse-backend/internal/observability"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
	"github.com/yungbote/featurepulse-backend/internal/platform/llm"
)

type GatewayConfig struct {
	MaxInFlight   int
	RatePerSecond float64
	CallTimeout   time.Duration
}

// Gateway bounds outbound model calls: a process-wide in-flight cap, a token-bucket
// rate and a per-call timeout.
type Gateway struct {
	log     *logger.Logger
	client  llm.Client
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	timeout time.Duration
}

func NewGateway(log *logger.Logger, client llm.Client, cfg GatewayConfig) *Gateway {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.MaxInFlight
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Gateway{
		log:     log.With("service", "LLMGateway"),
		client:  client,
		sem:     semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		limiter: limiter,
		timeout: cfg.CallTimeout,
	}
}

func (g *Gateway) Generate(ctx context.Context, p prompts.Prompt) (json.RawMessage, error) {
	ctx, span := observability.StartSpan(ctx, "llm."+p.Name,
		attribute.String("llm.schema", p.SchemaName),
		attribute.Int("llm.prompt_version", p.Version),
	)
	defer span.End()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire llm slot: %w", err)
	}
	defer g.sem.Release(1)
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("llm rate limit: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	start := time.Now()
	raw, err := g.client.GenerateJSON(callCtx, p.System, p.User, p.SchemaName, p.Schema)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.log.Debug("LLM call failed", "prompt", p.Name, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, err
	}
	return raw, nil
}
