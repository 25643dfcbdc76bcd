package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/featurepulse-backend/internal/data/repos"
	"github.com/yungbote/featurepulse-backend/internal/observability"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

type ReapStaleDeps struct {
	Log     *logger.Logger
	Units   repos.ContentUnitRepo
	Chunks  repos.ContentChunkRepo
	Facts   repos.ExtractedFactRepo
	Metrics *observability.Metrics
}

type ReapStaleInput struct {
	StaleAfter time.Duration
	// Now is overridable for tests.
	Now time.Time
}

type ReapStaleOutput struct {
	UnitsReleased  int64 `json:"units_released"`
	ChunksReleased int64 `json:"chunks_released"`
	FactsReset     int64 `json:"facts_reset"`
}

// ReapStale frees claims held by crashed workers. Row stages are never changed.
func ReapStale(ctx context.Context, deps ReapStaleDeps, in ReapStaleInput) (ReapStaleOutput, error) {
	out := ReapStaleOutput{}
	if deps.Log == nil || deps.Units == nil || deps.Chunks == nil || deps.Facts == nil {
		return out, fmt.Errorf("reap_stale: missing deps")
	}
	if in.StaleAfter <= 0 {
		in.StaleAfter = 30 * time.Minute
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := now.UTC().Add(-in.StaleAfter)

	ctx, span := observability.StartSpan(ctx, "stage.reap")
	defer span.End()
	start := time.Now()
	dbc := dbctx.Context{Ctx: ctx}
	fail := func(what string, err error) (ReapStaleOutput, error) {
		deps.Metrics.ObserveStageRun(StageReap, "failed", time.Since(start))
		return out, fmt.Errorf("reap_stale: %s: %w", what, err)
	}

	var err error
	if out.UnitsReleased, err = deps.Units.ReleaseStaleLocks(dbc, cutoff); err != nil {
		return fail("units", err)
	}
	if out.ChunksReleased, err = deps.Chunks.ReleaseStaleLocks(dbc, cutoff); err != nil {
		return fail("chunks", err)
	}
	if out.FactsReset, err = deps.Facts.ResetStaleProcessing(dbc, cutoff); err != nil {
		return fail("facts", err)
	}

	deps.Metrics.ObserveStageRun(StageReap, "succeeded", time.Since(start))
	if out.UnitsReleased+out.ChunksReleased+out.FactsReset > 0 {
		deps.Log.Info("Reaped stale work",
			"units_released", out.UnitsReleased,
			"chunks_released", out.ChunksReleased,
			"facts_reset", out.FactsReset,
			"cutoff", cutoff,
		)
	}
	return out, nil
}
