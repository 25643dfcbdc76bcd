package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/featurepulse-backend/internal/data/repos"
	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/classify"
	"github.com/yungbote/featurepulse-backend/internal/observability"
	"github.com/yungbote/featurepulse-backend/internal/pkg/ctxutil"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

type ScoreContentDeps struct {
	Log     *logger.Logger
	Units   repos.ContentUnitRepo
	Chunks  repos.ContentChunkRepo
	Scorer  *classify.Scorer
	Metrics *observability.Metrics
}

type ScoreContentInput struct {
	WorkspaceID        uuid.UUID
	BatchSize          int
	RelevanceThreshold float64
	MaxInFlight        int
	// ClaimToken is generated when empty.
	ClaimToken string
}

type ScoreContentOutput struct {
	ClaimToken      string `json:"claim_token"`
	Claimed         int    `json:"claimed"`
	Relevant        int    `json:"relevant"`
	Irrelevant      int    `json:"irrelevant"`
	Defaulted       int    `json:"defaulted"`
	Errors          int    `json:"errors"`
	ClaimsLost      int    `json:"claims_lost"`
	ParentsRolledUp int    `json:"parents_rolled_up"`
}

type scoreItem struct {
	id         uuid.UUID
	parentID   uuid.UUID
	chunk      bool
	text       string
	sourceType types.SourceType
	actorRole  string
}

// ScoreContent runs one Tier-1 batch for a workspace: non-chunked units first, then chunks
// for the remaining capacity. Every claimed row ends classified unless its store write fails.
func ScoreContent(ctx context.Context, deps ScoreContentDeps, in ScoreContentInput) (ScoreContentOutput, error) {
	out := ScoreContentOutput{}
	if deps.Log == nil || deps.Units == nil || deps.Chunks == nil || deps.Scorer == nil {
		return out, fmt.Errorf("score_content: missing deps")
	}
	if in.WorkspaceID == uuid.Nil {
		return out, fmt.Errorf("score_content: missing workspace_id")
	}
	if in.BatchSize <= 0 {
		in.BatchSize = 15
	}
	if in.RelevanceThreshold <= 0 {
		in.RelevanceThreshold = classify.DefaultRelevanceScore
	}
	if in.MaxInFlight <= 0 {
		in.MaxInFlight = 5
	}
	token := in.ClaimToken
	if token == "" {
		token = repos.NewClaimToken()
	}
	out.ClaimToken = token

	ctx, span := observability.StartSpan(ctx, "stage.score",
		attribute.String("workspace_id", in.WorkspaceID.String()),
		attribute.Int("batch_size", in.BatchSize),
	)
	defer span.End()
	start := time.Now()
	log := deps.Log.With("step", "score_content", "workspace_id", in.WorkspaceID, "claim_token", token)
	log = log.With(ctxutil.LogFields(ctx)...)
	dbc := dbctx.Context{Ctx: ctx}

	units, err := deps.Units.ClaimDueForScoring(dbc, in.WorkspaceID, in.BatchSize, token)
	if err != nil {
		deps.Metrics.ObserveStageRun(StageScore, "failed", time.Since(start))
		return out, fmt.Errorf("score_content: claim units: %w", err)
	}
	items := make([]scoreItem, 0, in.BatchSize)
	for _, u := range units {
		items = append(items, scoreItem{id: u.ID, text: u.CleanText, sourceType: u.SourceType, actorRole: u.ActorRole})
	}
	if room := in.BatchSize - len(units); room > 0 {
		chunks, err := deps.Chunks.ClaimDueForScoring(dbc, in.WorkspaceID, room, token)
		if err != nil {
			// Claimed units stay locked until the reaper frees them.
			deps.Metrics.ObserveStageRun(StageScore, "failed", time.Since(start))
			return out, fmt.Errorf("score_content: claim chunks: %w", err)
		}
		parents := map[uuid.UUID]*types.ContentUnit{}
		if len(chunks) > 0 {
			ids := make([]uuid.UUID, 0, len(chunks))
			for _, ch := range chunks {
				ids = append(ids, ch.ContentUnitID)
			}
			rows, err := deps.Units.GetByIDs(dbc, uniqueIDs(ids))
			if err != nil {
				deps.Metrics.ObserveStageRun(StageScore, "failed", time.Since(start))
				return out, fmt.Errorf("score_content: load parents: %w", err)
			}
			for _, p := range rows {
				parents[p.ID] = p
			}
		}
		for _, ch := range chunks {
			it := scoreItem{id: ch.ID, parentID: ch.ContentUnitID, chunk: true, text: ch.Text, actorRole: ch.ActorRole}
			if p := parents[ch.ContentUnitID]; p != nil {
				it.sourceType = p.SourceType
				if it.actorRole == "" {
					it.actorRole = p.ActorRole
				}
			}
			items = append(items, it)
		}
	}
	out.Claimed = len(items)
	if len(items) == 0 {
		deps.Metrics.ObserveStageRun(StageScore, "empty", time.Since(start))
		return out, nil
	}

	var t tally
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.MaxInFlight)
	for _, it := range items {
		it := it
		g.Go(func() error {
			outcome := scoreOne(gctx, deps, log, token, in.RelevanceThreshold, it, &t)
			t.inc(outcome)
			deps.Metrics.IncRowOutcome(StageScore, outcome)
			return nil
		})
	}
	_ = g.Wait()

	out.Relevant = t.get(OutcomeRelevant)
	out.Irrelevant = t.get(OutcomeIrrelevant)
	out.Errors = t.get(OutcomeError)
	out.ClaimsLost = t.get(OutcomeLost)
	out.Defaulted = t.get("defaulted")

	var parentIDs []uuid.UUID
	for _, it := range items {
		if it.chunk {
			parentIDs = append(parentIDs, it.parentID)
		}
	}
	if len(parentIDs) > 0 {
		n, err := deps.Units.RollUpClassified(dbctx.Context{Ctx: ctx}, uniqueIDs(parentIDs))
		if err != nil {
			log.Warn("Chunk parent roll-up failed", "error", err)
		}
		out.ParentsRolledUp = n
	}

	deps.Metrics.ObserveStageRun(StageScore, "succeeded", time.Since(start))
	log.Info("Scored content batch",
		"claimed", out.Claimed,
		"relevant", out.Relevant,
		"irrelevant", out.Irrelevant,
		"defaulted", out.Defaulted,
		"errors", out.Errors,
		"claims_lost", out.ClaimsLost,
	)
	return out, nil
}

func scoreOne(ctx context.Context, deps ScoreContentDeps, log *logger.Logger, token string, threshold float64, it scoreItem, t *tally) string {
	res, err := deps.Scorer.Score(ctx, classify.ScoreInput{
		Text:       it.text,
		SourceType: it.sourceType.Label(),
		ActorRole:  it.actorRole,
	})
	if err != nil && ctx.Err() != nil {
		releaseRow(deps.Units, deps.Chunks, it.chunk, it.id, token, ctx.Err())
		return OutcomeCanceled
	}
	if err != nil {
		t.inc("defaulted")
		log.Warn("Relevance scoring failed; using default score",
			"row_id", it.id, "chunk", it.chunk, "defaulted", true, "score", res.Score, "error", err)
	}
	c := repos.Classification{
		Relevant:  res.Score >= threshold,
		Score:     res.Score,
		Reasoning: res.Reasoning,
	}
	if res.Defaulted {
		c.Reasoning = "defaulted: scorer unavailable"
	}

	// A finished score is persisted even if the batch context was canceled meanwhile.
	dbc := dbctx.Context{Ctx: context.WithoutCancel(ctx)}
	var ok bool
	if it.chunk {
		ok, err = deps.Chunks.MarkClassified(dbc, it.id, token, c)
	} else {
		ok, err = deps.Units.MarkClassified(dbc, it.id, token, c)
	}
	if err != nil {
		log.Warn("Mark classified failed", "row_id", it.id, "error", err)
		markRowError(dbc, deps.Units, deps.Chunks, it.chunk, it.id, token, err, true)
		return OutcomeError
	}
	if !ok {
		return OutcomeLost
	}
	if c.Relevant {
		return OutcomeRelevant
	}
	return OutcomeIrrelevant
}

func markRowError(dbc dbctx.Context, units repos.ContentUnitRepo, chunks repos.ContentChunkRepo, chunk bool, id uuid.UUID, token string, cause error, incrementRetry bool) {
	if chunk {
		_, _ = chunks.MarkError(dbc, id, token, cause.Error(), incrementRetry)
		return
	}
	_, _ = units.MarkError(dbc, id, token, cause.Error(), incrementRetry)
}

// releaseRow gives the claim back without spending a retry.
func releaseRow(units repos.ContentUnitRepo, chunks repos.ContentChunkRepo, chunk bool, id uuid.UUID, token string, cause error) {
	dbc := dbctx.Context{Ctx: context.Background()}
	markRowError(dbc, units, chunks, chunk, id, token, cause, false)
}
