package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
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

type AggregateFeaturesDeps struct {
	DB         *gorm.DB
	Log        *logger.Logger
	Facts      repos.ExtractedFactRepo
	Features   repos.FeatureRepo
	Runs       repos.AggregationRunRepo
	Comparator *classify.Comparator
	Metrics    *observability.Metrics
}

type AggregateFeaturesInput struct {
	WorkspaceID uuid.UUID
	// RunID makes the run resumable; a fresh id is generated when empty.
	RunID               uuid.UUID
	BatchSize           int
	SimilarityThreshold float64
	HintThreshold       float64
	CandidateLimit      int
	// FinalAttempt marks the run failed instead of leaving it resumable when claiming fails.
	FinalAttempt bool
}

type AggregateFeaturesOutput struct {
	RunID      uuid.UUID       `json:"run_id"`
	Replayed   bool            `json:"replayed"`
	ClaimsLost int             `json:"claims_lost"`
	Totals     repos.RunTotals `json:"totals"`
}

var errAggregationCanceled = errors.New("aggregation canceled")

// candidateSet is the lazily loaded comparison pool for one theme bucket.
type candidateSet struct {
	loaded bool
	refs   []classify.FeatureRef
}

type aggregator struct {
	deps   AggregateFeaturesDeps
	in     AggregateFeaturesInput
	log    *logger.Logger
	runID  uuid.UUID
	byHash map[string]uuid.UUID
	pools  map[uuid.UUID]*candidateSet
}

// AggregateFeatures runs one Tier-3 batch: pending facts are claimed under a run id and each
// becomes a duplicate, a merge into an existing feature, or a new feature.
func AggregateFeatures(ctx context.Context, deps AggregateFeaturesDeps, in AggregateFeaturesInput) (AggregateFeaturesOutput, error) {
	out := AggregateFeaturesOutput{}
	if deps.DB == nil || deps.Log == nil || deps.Facts == nil || deps.Features == nil || deps.Runs == nil || deps.Comparator == nil {
		return out, fmt.Errorf("aggregate_features: missing deps")
	}
	if in.WorkspaceID == uuid.Nil {
		return out, fmt.Errorf("aggregate_features: missing workspace_id")
	}
	if in.BatchSize <= 0 {
		in.BatchSize = 50
	}
	if in.SimilarityThreshold <= 0 {
		in.SimilarityThreshold = 0.75
	}
	if in.HintThreshold <= 0 {
		in.HintThreshold = 0.9
	}
	if in.CandidateLimit <= 0 {
		in.CandidateLimit = 50
	}

	ctx, span := observability.StartSpan(ctx, "stage.aggregate",
		attribute.String("workspace_id", in.WorkspaceID.String()),
		attribute.Int("batch_size", in.BatchSize),
	)
	defer span.End()
	start := time.Now()
	dbc := dbctx.Context{Ctx: ctx}

	run, err := deps.Runs.Start(dbc, in.WorkspaceID, in.RunID)
	if err != nil {
		deps.Metrics.ObserveStageRun(StageAggregate, "failed", time.Since(start))
		return out, fmt.Errorf("aggregate_features: start run: %w", err)
	}
	out.RunID = run.ID
	log := deps.Log.With("step", "aggregate_features", "workspace_id", in.WorkspaceID, "run_id", run.ID)
	log = log.With(ctxutil.LogFields(ctx)...)

	if run.Status == types.RunStatusCompleted || run.Status == types.RunStatusFailed {
		out.Replayed = true
		out.Totals = repos.RunTotals{
			Processed:  run.Processed,
			Created:    run.Created,
			Merged:     run.Merged,
			Duplicates: run.Duplicates,
			Errors:     run.Errors,
		}
		log.Info("Aggregation run already finished; returning recorded totals", "status", run.Status)
		return out, nil
	}

	facts, err := deps.Facts.ClaimPendingForRun(dbc, in.WorkspaceID, run.ID, in.BatchSize)
	if err != nil {
		if in.FinalAttempt {
			finishCtx := dbctx.Context{Ctx: context.WithoutCancel(ctx)}
			prior, _ := deps.Facts.RunTotals(finishCtx, run.ID)
			_ = deps.Runs.Finish(finishCtx, run.ID, types.RunStatusFailed, prior, err.Error())
		}
		deps.Metrics.ObserveStageRun(StageAggregate, "failed", time.Since(start))
		return out, fmt.Errorf("aggregate_features: claim facts: %w", err)
	}

	a := &aggregator{
		deps:   deps,
		in:     in,
		log:    log,
		runID:  run.ID,
		byHash: map[string]uuid.UUID{},
		pools:  map[uuid.UUID]*candidateSet{},
	}

	var totals repos.RunTotals
	canceled := false
	for _, group := range groupByTheme(facts) {
		for _, fact := range group {
			if ctx.Err() != nil {
				canceled = true
				break
			}
			outcome, err := a.aggregateOne(ctx, fact)
			if errors.Is(err, errAggregationCanceled) {
				canceled = true
				break
			}
			if outcome == OutcomeLost {
				out.ClaimsLost++
				deps.Metrics.IncRowOutcome(StageAggregate, outcome)
				continue
			}
			totals.Processed++
			switch outcome {
			case OutcomeCreated:
				totals.Created++
			case OutcomeMerged:
				totals.Merged++
			case OutcomeDuplicate:
				totals.Duplicates++
			default:
				totals.Errors++
			}
			deps.Metrics.IncRowOutcome(StageAggregate, outcome)
		}
		if canceled {
			break
		}
	}
	out.Totals = totals

	if canceled {
		// Unfinished facts stay tagged with the run; a retry with the same run id resumes them.
		deps.Metrics.ObserveStageRun(StageAggregate, "canceled", time.Since(start))
		log.Warn("Aggregation canceled; run left resumable", "processed", totals.Processed)
		return out, fmt.Errorf("aggregate_features: %w", context.Cause(ctx))
	}

	// A resumed run finishes with the outcomes of earlier attempts included.
	finishCtx := dbctx.Context{Ctx: context.WithoutCancel(ctx)}
	runTotals, err := deps.Facts.RunTotals(finishCtx, run.ID)
	if err != nil {
		deps.Metrics.ObserveStageRun(StageAggregate, "failed", time.Since(start))
		return out, fmt.Errorf("aggregate_features: count run outcomes: %w", err)
	}
	if err := deps.Runs.Finish(finishCtx, run.ID, types.RunStatusCompleted, runTotals, ""); err != nil {
		deps.Metrics.ObserveStageRun(StageAggregate, "failed", time.Since(start))
		return out, fmt.Errorf("aggregate_features: finish run: %w", err)
	}
	out.Totals = runTotals
	status := "succeeded"
	if len(facts) == 0 {
		status = "empty"
	}
	deps.Metrics.ObserveStageRun(StageAggregate, status, time.Since(start))
	log.Info("Aggregated fact batch",
		"claimed", len(facts),
		"created", totals.Created,
		"merged", totals.Merged,
		"duplicates", totals.Duplicates,
		"errors", totals.Errors,
		"claims_lost", out.ClaimsLost,
		"run_processed", runTotals.Processed,
	)
	return out, nil
}

// groupByTheme buckets facts by suggested theme, keeping first-seen bucket order and
// the claim order within each bucket. uuid.Nil is the "no theme" bucket.
func groupByTheme(facts []*types.ExtractedFact) [][]*types.ExtractedFact {
	idx := map[uuid.UUID]int{}
	var groups [][]*types.ExtractedFact
	for _, f := range facts {
		key := themeKey(f.SuggestedThemeID)
		i, ok := idx[key]
		if !ok {
			i = len(groups)
			idx[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], f)
	}
	return groups
}

func themeKey(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

func (a *aggregator) aggregateOne(ctx context.Context, fact *types.ExtractedFact) (string, error) {
	dbc := dbctx.Context{Ctx: context.WithoutCancel(ctx)}
	log := a.log.With("fact_id", fact.ID)

	if fid, ok := a.byHash[fact.ContentHash]; ok && fact.ContentHash != "" {
		return a.finishDuplicate(dbc, log, fact, fid, "batch")
	}
	prior, err := a.deps.Facts.FindResolvedByHash(dbc, a.in.WorkspaceID, fact.ContentHash, fact.ID)
	if err != nil {
		return a.fail(dbc, log, fact, fmt.Errorf("find by hash: %w", err)), nil
	}
	if prior != nil && prior.FeatureID != nil {
		return a.finishDuplicate(dbc, log, fact, *prior.FeatureID, "store")
	}

	if fact.MatchedFeatureID != nil && fact.MatchConfidence >= a.in.HintThreshold {
		f, err := a.deps.Features.GetInWorkspace(dbc, a.in.WorkspaceID, *fact.MatchedFeatureID)
		if err != nil {
			return a.fail(dbc, log, fact, fmt.Errorf("load hinted feature: %w", err)), nil
		}
		if f != nil {
			return a.merge(dbc, log, fact, f.ID, fact.MatchConfidence), nil
		}
	}

	pool, err := a.pool(dbc, fact.SuggestedThemeID)
	if err != nil {
		return a.fail(dbc, log, fact, fmt.Errorf("load candidates: %w", err)), nil
	}
	res, err := a.deps.Comparator.Compare(ctx, classify.CompareFact{
		Title:            fact.Title,
		Description:      fact.Description,
		ProblemStatement: fact.ProblemStatement,
		Keywords:         decodeKeywords(fact.Keywords),
	}, pool.refs)
	if err != nil {
		if ctx.Err() != nil {
			return "", errAggregationCanceled
		}
		log.Warn("Comparator failed; treating as no match", "error", err)
		res = classify.ComparisonResult{}
	}
	if res.FeatureID != nil && res.Similarity >= a.in.SimilarityThreshold {
		return a.merge(dbc, log, fact, *res.FeatureID, res.Similarity), nil
	}
	return a.create(dbc, log, fact, pool), nil
}

func (a *aggregator) pool(dbc dbctx.Context, themeID *uuid.UUID) (*candidateSet, error) {
	key := themeKey(themeID)
	p := a.pools[key]
	if p == nil {
		p = &candidateSet{}
		a.pools[key] = p
	}
	if p.loaded {
		return p, nil
	}
	var filter *uuid.UUID
	if key != uuid.Nil {
		filter = &key
	}
	rows, err := a.deps.Features.ListRecent(dbc, a.in.WorkspaceID, filter, a.in.CandidateLimit)
	if err != nil {
		return nil, err
	}
	p.refs = make([]classify.FeatureRef, 0, len(rows)+1)
	for _, f := range rows {
		p.refs = append(p.refs, classify.FeatureRef{ID: f.ID, Name: f.Name, Description: f.Description})
	}
	p.loaded = true
	return p, nil
}

func (a *aggregator) finishDuplicate(dbc dbctx.Context, log *logger.Logger, fact *types.ExtractedFact, featureID uuid.UUID, via string) (string, error) {
	ok, err := a.deps.Facts.MarkOutcome(dbc, fact.ID, a.runID, types.AggregationDuplicate, pointers.UUID(featureID), nil)
	if err != nil {
		return a.fail(dbc, log, fact, fmt.Errorf("mark duplicate: %w", err)), nil
	}
	if !ok {
		return OutcomeLost, nil
	}
	a.byHash[fact.ContentHash] = featureID
	log.Debug("Fact is a duplicate", "feature_id", featureID, "via", via)
	return OutcomeDuplicate, nil
}

func (a *aggregator) merge(dbc dbctx.Context, log *logger.Logger, fact *types.ExtractedFact, featureID uuid.UUID, similarity float64) string {
	err := a.deps.DB.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbc.WithTx(tx)
		if _, err := a.deps.Features.RecordMention(txc, featureID, repos.Mention{
			FactID:        fact.ID,
			ContentUnitID: fact.ContentUnitID,
			OccurredAt:    fact.OccurredAt,
			Similarity:    similarity,
			Outcome:       types.AggregationMerged,
			Keywords:      decodeKeywords(fact.Keywords),
		}); err != nil {
			return fmt.Errorf("record mention: %w", err)
		}
		ok, err := a.deps.Facts.MarkOutcome(txc, fact.ID, a.runID, types.AggregationMerged, pointers.UUID(featureID), pointers.Float64(similarity))
		if err != nil {
			return fmt.Errorf("mark merged: %w", err)
		}
		if !ok {
			return pkgerrors.ErrClaimLost
		}
		return nil
	})
	if errors.Is(err, pkgerrors.ErrClaimLost) {
		return OutcomeLost
	}
	if repos.IsUniqueViolation(err) {
		return a.resolveHashConflict(dbc, log, fact, err)
	}
	if err != nil {
		return a.fail(dbc, log, fact, err)
	}
	a.byHash[fact.ContentHash] = featureID
	log.Debug("Merged fact into feature", "feature_id", featureID, "similarity", similarity)
	return OutcomeMerged
}

func (a *aggregator) create(dbc dbctx.Context, log *logger.Logger, fact *types.ExtractedFact, pool *candidateSet) string {
	meta := types.FeatureMetadata{CreatedFromFactID: fact.ID.String()}
	meta.MergeKeywords(decodeKeywords(fact.Keywords))
	meta.AppendFact(types.FeatureFactRef{
		FactID:        fact.ID.String(),
		ContentUnitID: fact.ContentUnitID.String(),
		Outcome:       string(types.AggregationAggregated),
		At:            time.Now().UTC(),
	})
	description := fact.Description
	if description == "" {
		description = fact.ProblemStatement
	}
	occurred := fact.OccurredAt.UTC()
	feature := &types.Feature{
		ID:               uuid.New(),
		WorkspaceID:      a.in.WorkspaceID,
		ThemeID:          fact.SuggestedThemeID,
		Name:             fact.Title,
		Description:      description,
		Priority:         classify.PriorityFromHint(fact.PriorityHint),
		Urgency:          classify.UrgencyFromHint(fact.UrgencyHint),
		Status:           types.FeatureStatusNew,
		MentionCount:     1,
		FirstMentionedAt: occurred,
		LastMentionedAt:  occurred,
		Metadata:         meta.Encode(),
	}
	err := a.deps.DB.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbc.WithTx(tx)
		if _, err := a.deps.Features.Create(txc, feature); err != nil {
			return fmt.Errorf("create feature: %w", err)
		}
		ok, err := a.deps.Facts.MarkOutcome(txc, fact.ID, a.runID, types.AggregationAggregated, pointers.UUID(feature.ID), nil)
		if err != nil {
			return fmt.Errorf("mark aggregated: %w", err)
		}
		if !ok {
			return pkgerrors.ErrClaimLost
		}
		return nil
	})
	if errors.Is(err, pkgerrors.ErrClaimLost) {
		return OutcomeLost
	}
	if repos.IsUniqueViolation(err) {
		return a.resolveHashConflict(dbc, log, fact, err)
	}
	if err != nil {
		return a.fail(dbc, log, fact, err)
	}
	a.byHash[fact.ContentHash] = feature.ID
	pool.refs = append([]classify.FeatureRef{{ID: feature.ID, Name: feature.Name, Description: feature.Description}}, pool.refs...)
	if len(pool.refs) > a.in.CandidateLimit {
		pool.refs = pool.refs[:a.in.CandidateLimit]
	}
	log.Debug("Created feature from fact", "feature_id", feature.ID)
	return OutcomeCreated
}

// resolveHashConflict handles a concurrent run resolving a fact with the same content
// hash first: the unique index rejected this fact's outcome, so it becomes a duplicate
// of the winner's feature.
func (a *aggregator) resolveHashConflict(dbc dbctx.Context, log *logger.Logger, fact *types.ExtractedFact, cause error) string {
	winner, err := a.deps.Facts.FindResolvedByHash(dbc, a.in.WorkspaceID, fact.ContentHash, fact.ID)
	if err != nil {
		return a.fail(dbc, log, fact, fmt.Errorf("find by hash after conflict: %w", err))
	}
	if winner == nil || winner.FeatureID == nil {
		return a.fail(dbc, log, fact, cause)
	}
	outcome, _ := a.finishDuplicate(dbc, log, fact, *winner.FeatureID, "conflict")
	return outcome
}

func (a *aggregator) fail(dbc dbctx.Context, log *logger.Logger, fact *types.ExtractedFact, cause error) string {
	log.Warn("Fact aggregation failed", "error", cause)
	if _, err := a.deps.Facts.MarkError(dbc, fact.ID, a.runID, cause.Error()); err != nil {
		log.Error("Mark fact error failed", "error", err)
	}
	return OutcomeError
}
