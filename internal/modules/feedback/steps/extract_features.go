package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/featurepulse-backend/internal/data/repos"
	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/classify"
	"github.com/yungbote/featurepulse-backend/internal/observability"
	"github.com/yungbote/featurepulse-backend/internal/pkg/ctxutil"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/featurepulse-backend/internal/pkg/errors"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
	"github.com/yungbote/featurepulse-backend/internal/pkg/pointers"
)

type ExtractFeaturesDeps struct {
	DB        *gorm.DB
	Log       *logger.Logger
	Units     repos.ContentUnitRepo
	Chunks    repos.ContentChunkRepo
	Facts     repos.ExtractedFactRepo
	Features  repos.FeatureRepo
	Themes    repos.ThemeRepo
	Extractor *classify.Extractor
	Cache     ContextCache
	Metrics   *observability.Metrics
	// ChainAggregate is invoked (fire and continue) when the batch created facts.
	ChainAggregate func(ctx context.Context, workspaceID uuid.UUID) error
}

type ExtractFeaturesInput struct {
	WorkspaceID   uuid.UUID
	BatchSize     int
	MinConfidence float64
	MaxInFlight   int
	ClaimToken    string
}

type ExtractFeaturesOutput struct {
	ClaimToken      string `json:"claim_token"`
	Claimed         int    `json:"claimed"`
	FactsCreated    int    `json:"facts_created"`
	NoFact          int    `json:"no_fact"`
	LowConfidence   int    `json:"low_confidence"`
	Errors          int    `json:"errors"`
	ClaimsLost      int    `json:"claims_lost"`
	ParentsRolledUp int    `json:"parents_rolled_up"`
	Chained         bool   `json:"chained"`
}

type extractItem struct {
	id         uuid.UUID
	unitID     uuid.UUID
	chunk      bool
	title      string
	text       string
	sourceType types.SourceType
	actorName  string
	actorRole  string
	occurredAt time.Time
}

// ExtractFeatures runs one Tier-2 batch for a workspace. Relevant units and chunks each
// yield at most one pending fact; the fact insert and the row advance commit together.
func ExtractFeatures(ctx context.Context, deps ExtractFeaturesDeps, in ExtractFeaturesInput) (ExtractFeaturesOutput, error) {
	out := ExtractFeaturesOutput{}
	if deps.DB == nil || deps.Log == nil || deps.Units == nil || deps.Chunks == nil || deps.Facts == nil ||
		deps.Features == nil || deps.Themes == nil || deps.Extractor == nil {
		return out, fmt.Errorf("extract_features: missing deps")
	}
	if in.WorkspaceID == uuid.Nil {
		return out, fmt.Errorf("extract_features: missing workspace_id")
	}
	if in.BatchSize <= 0 {
		in.BatchSize = 10
	}
	if in.MinConfidence <= 0 {
		in.MinConfidence = 0.5
	}
	if in.MaxInFlight <= 0 {
		in.MaxInFlight = 5
	}
	token := in.ClaimToken
	if token == "" {
		token = repos.NewClaimToken()
	}
	out.ClaimToken = token

	ctx, span := observability.StartSpan(ctx, "stage.extract",
		attribute.String("workspace_id", in.WorkspaceID.String()),
		attribute.Int("batch_size", in.BatchSize),
	)
	defer span.End()
	start := time.Now()
	log := deps.Log.With("step", "extract_features", "workspace_id", in.WorkspaceID, "claim_token", token)
	log = log.With(ctxutil.LogFields(ctx)...)
	dbc := dbctx.Context{Ctx: ctx}
	fail := func(err error) (ExtractFeaturesOutput, error) {
		deps.Metrics.ObserveStageRun(StageExtract, "failed", time.Since(start))
		return out, fmt.Errorf("extract_features: %w", err)
	}

	ec, err := LoadExtractionContext(ctx, deps.Themes, deps.Features, deps.Cache, in.WorkspaceID)
	if err != nil {
		return fail(fmt.Errorf("load context: %w", err))
	}

	units, err := deps.Units.ClaimDueForExtraction(dbc, in.WorkspaceID, in.BatchSize, token)
	if err != nil {
		return fail(fmt.Errorf("claim units: %w", err))
	}
	items := make([]extractItem, 0, in.BatchSize)
	for _, u := range units {
		items = append(items, extractItem{
			id: u.ID, unitID: u.ID, title: u.Title, text: u.CleanText, sourceType: u.SourceType,
			actorName: u.ActorName, actorRole: u.ActorRole, occurredAt: u.OccurredAt,
		})
	}
	if room := in.BatchSize - len(units); room > 0 {
		chunks, err := deps.Chunks.ClaimDueForExtraction(dbc, in.WorkspaceID, room, token)
		if err != nil {
			return fail(fmt.Errorf("claim chunks: %w", err))
		}
		parents := map[uuid.UUID]*types.ContentUnit{}
		if len(chunks) > 0 {
			ids := make([]uuid.UUID, 0, len(chunks))
			for _, ch := range chunks {
				ids = append(ids, ch.ContentUnitID)
			}
			rows, err := deps.Units.GetByIDs(dbc, uniqueIDs(ids))
			if err != nil {
				return fail(fmt.Errorf("load parents: %w", err))
			}
			for _, p := range rows {
				parents[p.ID] = p
			}
		}
		for _, ch := range chunks {
			it := extractItem{
				id: ch.ID, unitID: ch.ContentUnitID, chunk: true, text: ch.Text,
				actorName: ch.ActorName, actorRole: ch.ActorRole, occurredAt: ch.OccurredAt,
			}
			if p := parents[ch.ContentUnitID]; p != nil {
				it.title = p.Title
				it.sourceType = p.SourceType
				if it.actorName == "" {
					it.actorName = p.ActorName
				}
				if it.actorRole == "" {
					it.actorRole = p.ActorRole
				}
			}
			items = append(items, it)
		}
	}
	out.Claimed = len(items)
	if len(items) == 0 {
		deps.Metrics.ObserveStageRun(StageExtract, "empty", time.Since(start))
		return out, nil
	}

	var t tally
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.MaxInFlight)
	for _, it := range items {
		it := it
		g.Go(func() error {
			outcome := extractOne(gctx, deps, log, token, in, ec, it)
			t.inc(outcome)
			deps.Metrics.IncRowOutcome(StageExtract, outcome)
			return nil
		})
	}
	_ = g.Wait()

	out.FactsCreated = t.get(OutcomeFact)
	out.NoFact = t.get(OutcomeNoFact)
	out.LowConfidence = t.get(OutcomeLowConfidence)
	out.Errors = t.get(OutcomeError)
	out.ClaimsLost = t.get(OutcomeLost)

	var parentIDs []uuid.UUID
	for _, it := range items {
		if it.chunk {
			parentIDs = append(parentIDs, it.unitID)
		}
	}
	if len(parentIDs) > 0 {
		n, err := deps.Units.RollUpExtracted(dbctx.Context{Ctx: ctx}, uniqueIDs(parentIDs))
		if err != nil {
			log.Warn("Chunk parent roll-up failed", "error", err)
		}
		out.ParentsRolledUp = n
	}

	if out.FactsCreated > 0 && deps.ChainAggregate != nil {
		if err := deps.ChainAggregate(ctx, in.WorkspaceID); err != nil {
			log.Warn("Chaining aggregation failed", "error", err)
		} else {
			out.Chained = true
		}
	}

	deps.Metrics.ObserveStageRun(StageExtract, "succeeded", time.Since(start))
	log.Info("Extracted feature batch",
		"claimed", out.Claimed,
		"facts_created", out.FactsCreated,
		"no_fact", out.NoFact,
		"low_confidence", out.LowConfidence,
		"errors", out.Errors,
		"claims_lost", out.ClaimsLost,
	)
	return out, nil
}

func extractOne(ctx context.Context, deps ExtractFeaturesDeps, log *logger.Logger, token string, in ExtractFeaturesInput, ec *classify.ExtractionContext, it extractItem) string {
	res, err := deps.Extractor.Extract(ctx, classify.ExtractInput{
		Title:      it.title,
		Text:       it.text,
		SourceType: it.sourceType.Label(),
		ActorName:  it.actorName,
		ActorRole:  it.actorRole,
		Themes:     ec.Themes,
		Features:   ec.Features,
	})
	if err != nil && ctx.Err() != nil {
		releaseRow(deps.Units, deps.Chunks, it.chunk, it.id, token, ctx.Err())
		return OutcomeCanceled
	}
	dbc := dbctx.Context{Ctx: context.WithoutCancel(ctx)}
	if err != nil {
		log.Warn("Extraction failed", "row_id", it.id, "chunk", it.chunk, "error", err)
		markRowError(dbc, deps.Units, deps.Chunks, it.chunk, it.id, token, err, true)
		return OutcomeError
	}

	if !res.HasFeature || res.Confidence < in.MinConfidence {
		ok, err := markExtracted(dbc, deps, it, token)
		switch {
		case err != nil:
			markRowError(dbc, deps.Units, deps.Chunks, it.chunk, it.id, token, err, true)
			return OutcomeError
		case !ok:
			return OutcomeLost
		case !res.HasFeature:
			return OutcomeNoFact
		default:
			return OutcomeLowConfidence
		}
	}

	fact := buildFact(in.WorkspaceID, it, res)
	err = deps.DB.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbc.WithTx(tx)
		if _, err := deps.Facts.CreateIdempotent(txc, fact); err != nil {
			return err
		}
		ok, err := markExtracted(txc, deps, it, token)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.ErrClaimLost
		}
		return nil
	})
	switch {
	case errors.Is(err, pkgerrors.ErrClaimLost):
		log.Warn("Claim lost before fact commit; discarded", "row_id", it.id)
		return OutcomeLost
	case err != nil:
		log.Warn("Fact commit failed", "row_id", it.id, "error", err)
		markRowError(dbc, deps.Units, deps.Chunks, it.chunk, it.id, token, err, true)
		return OutcomeError
	}
	return OutcomeFact
}

func markExtracted(dbc dbctx.Context, deps ExtractFeaturesDeps, it extractItem, token string) (bool, error) {
	if it.chunk {
		return deps.Chunks.MarkExtracted(dbc, it.id, token)
	}
	return deps.Units.MarkExtracted(dbc, it.id, token)
}

func buildFact(workspaceID uuid.UUID, it extractItem, res classify.ExtractionResult) *types.ExtractedFact {
	f := res.Feature
	kw, _ := json.Marshal(f.Keywords)
	if f.Keywords == nil {
		kw = []byte("[]")
	}
	fact := &types.ExtractedFact{
		WorkspaceID:        workspaceID,
		ContentUnitID:      it.unitID,
		SourceType:         it.sourceType,
		Title:              f.Title,
		Description:        f.Description,
		ProblemStatement:   f.ProblemStatement,
		DesiredOutcome:     f.DesiredOutcome,
		ActorPersona:       f.ActorPersona,
		PriorityHint:       f.Priority,
		UrgencyHint:        f.Urgency,
		Sentiment:          f.Sentiment,
		Keywords:           datatypes.JSON(kw),
		Confidence:         res.Confidence,
		SuggestedThemeID:   res.Theme.ThemeID,
		SuggestedThemeName: res.Theme.ThemeName,
		ThemeConfidence:    res.Theme.Confidence,
		MatchedFeatureID:   res.Match.FeatureID,
		MatchConfidence:    res.Match.Confidence,
		ContentHash:        classify.ContentHash(f.Title, f.Description, f.ProblemStatement),
		AggregationStatus:  types.AggregationPending,
		OccurredAt:         it.occurredAt.UTC(),
	}
	if it.chunk {
		fact.ContentChunkID = pointers.UUID(it.id)
		fact.SourceKey = types.ChunkSourceKey(it.id)
	} else {
		fact.SourceKey = types.UnitSourceKey(it.id)
	}
	return fact
}
