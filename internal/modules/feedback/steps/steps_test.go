package steps

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/featurepulse-backend/internal/data/repos"
	"github.com/yungbote/featurepulse-backend/internal/data/repos/testutil"
	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/classify"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
	"github.com/yungbote/featurepulse-backend/internal/platform/llm/llmtest"
)

type harness struct {
	t        *testing.T
	ctx      context.Context
	db       *gorm.DB
	ws       uuid.UUID
	fake     *llmtest.Fake
	units    repos.ContentUnitRepo
	chunks   repos.ContentChunkRepo
	facts    repos.ExtractedFactRepo
	features repos.FeatureRepo
	themes   repos.ThemeRepo
	runs     repos.AggregationRunRepo
	gw       *classify.Gateway
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.DB(t)
	logg := testutil.Logger(t)
	coord := repos.NewClaimCoordinator(db, logg, 3)
	fake := llmtest.NewFake()
	return &harness{
		t:        t,
		ctx:      context.Background(),
		db:       db,
		ws:       uuid.New(),
		fake:     fake,
		units:    repos.NewContentUnitRepo(db, coord, logg),
		chunks:   repos.NewContentChunkRepo(db, coord, logg),
		facts:    repos.NewExtractedFactRepo(db, logg),
		features: repos.NewFeatureRepo(db, logg),
		themes:   repos.NewThemeRepo(db, logg),
		runs:     repos.NewAggregationRunRepo(db, logg),
		gw:       classify.NewGateway(logger.Nop(), fake, classify.GatewayConfig{MaxInFlight: 3, CallTimeout: 5 * time.Second}),
	}
}

func (h *harness) score() ScoreContentOutput {
	h.t.Helper()
	out, err := ScoreContent(h.ctx, ScoreContentDeps{
		Log:    testutil.Logger(h.t),
		Units:  h.units,
		Chunks: h.chunks,
		Scorer: classify.NewScorer(h.gw),
	}, ScoreContentInput{WorkspaceID: h.ws})
	require.NoError(h.t, err)
	return out
}

func (h *harness) extractDeps() ExtractFeaturesDeps {
	return ExtractFeaturesDeps{
		DB:        h.db,
		Log:       testutil.Logger(h.t),
		Units:     h.units,
		Chunks:    h.chunks,
		Facts:     h.facts,
		Features:  h.features,
		Themes:    h.themes,
		Extractor: classify.NewExtractor(h.gw),
	}
}

func (h *harness) extract() ExtractFeaturesOutput {
	h.t.Helper()
	out, err := ExtractFeatures(h.ctx, h.extractDeps(), ExtractFeaturesInput{WorkspaceID: h.ws})
	require.NoError(h.t, err)
	return out
}

func (h *harness) aggregateDeps() AggregateFeaturesDeps {
	return AggregateFeaturesDeps{
		DB:         h.db,
		Log:        testutil.Logger(h.t),
		Facts:      h.facts,
		Features:   h.features,
		Runs:       h.runs,
		Comparator: classify.NewComparator(h.gw),
	}
}

func (h *harness) aggregate(runID uuid.UUID) AggregateFeaturesOutput {
	h.t.Helper()
	out, err := AggregateFeatures(h.ctx, h.aggregateDeps(), AggregateFeaturesInput{WorkspaceID: h.ws, RunID: runID})
	require.NoError(h.t, err)
	return out
}

func (h *harness) unit(id uuid.UUID) *types.ContentUnit {
	h.t.Helper()
	u, err := h.units.GetByID(dbctx.Context{Ctx: h.ctx}, id)
	require.NoError(h.t, err)
	require.NotNil(h.t, u)
	return u
}

func (h *harness) factsFor(unitID uuid.UUID) []*types.ExtractedFact {
	h.t.Helper()
	var out []*types.ExtractedFact
	require.NoError(h.t, h.db.Where("content_unit_id = ?", unitID).Order("created_at ASC").Find(&out).Error)
	return out
}

func (h *harness) workspaceFeatures() []*types.Feature {
	h.t.Helper()
	var out []*types.Feature
	require.NoError(h.t, h.db.Where("workspace_id = ?", h.ws).Order("created_at ASC").Find(&out).Error)
	return out
}

// scores routes relevance calls by a marker contained in the content.
func scores(byMarker map[string]float64) llmtest.Responder {
	return func(_, user string) (json.RawMessage, error) {
		for marker, s := range byMarker {
			if strings.Contains(user, marker) {
				b, _ := json.Marshal(map[string]any{"score": s, "reasoning": "test"})
				return b, nil
			}
		}
		return json.RawMessage(`{"score": 0, "reasoning": "nothing"}`), nil
	}
}

type extraction struct {
	title      string
	confidence float64
	matchID    *uuid.UUID
	matchConf  float64
}

func extractions(byMarker map[string]extraction) llmtest.Responder {
	return func(_, user string) (json.RawMessage, error) {
		content := user
		if i := strings.Index(user, "WORKSPACE THEMES"); i >= 0 {
			content = user[:i]
		}
		for marker, e := range byMarker {
			if !strings.Contains(content, marker) {
				continue
			}
			var match any
			if e.matchID != nil {
				match = e.matchID.String()
			}
			b, _ := json.Marshal(map[string]any{
				"has_feature": true,
				"confidence":  e.confidence,
				"feature": map[string]any{
					"title":             e.title,
					"description":       e.title + " for the whole team",
					"problem_statement": nil,
					"priority":          "high",
					"urgency":           "soon",
					"keywords":          []string{"auth", "sso"},
				},
				"theme_assignment": nil,
				"feature_match":    map[string]any{"feature_id": match, "confidence": e.matchConf},
			})
			return b, nil
		}
		return json.RawMessage(`{"has_feature": false, "confidence": 0.1}`), nil
	}
}

func TestScenarioFeatureRequestBecomesFeature(t *testing.T) {
	h := newHarness(t)
	u := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "We really need single sign-on with Okta", time.Now().Add(-time.Hour))
	h.fake.On("relevance_score", scores(map[string]float64{"single sign-on": 9}))
	h.fake.On("feature_extract", extractions(map[string]extraction{"single sign-on": {title: "Add SSO login", confidence: 0.9}}))

	so := h.score()
	require.Equal(t, 1, so.Relevant)
	require.Equal(t, types.StageClassified, h.unit(u.ID).ProcessingStage)

	eo := h.extract()
	require.Equal(t, 1, eo.FactsCreated)
	got := h.unit(u.ID)
	require.Equal(t, types.StageExtracted, got.ProcessingStage)
	require.NotNil(t, got.ExtractedAt)
	require.False(t, got.Locked())

	ao := h.aggregate(uuid.New())
	require.Equal(t, 1, ao.Totals.Created)
	feats := h.workspaceFeatures()
	require.Len(t, feats, 1)
	require.Equal(t, "Add SSO login", feats[0].Name)
	require.Equal(t, types.LevelHigh, feats[0].Priority)
	require.Equal(t, types.LevelHigh, feats[0].Urgency)
	require.Equal(t, 1, feats[0].MentionCount)
	meta := types.DecodeFeatureMetadata(feats[0].Metadata)
	require.Len(t, meta.RecentFacts, 1)
	require.ElementsMatch(t, []string{"auth", "sso"}, meta.Keywords)

	facts := h.factsFor(u.ID)
	require.Len(t, facts, 1)
	require.Equal(t, types.AggregationAggregated, facts[0].AggregationStatus)
	require.NotNil(t, facts[0].FeatureID)
	require.Equal(t, feats[0].ID, *facts[0].FeatureID)
}

func TestScenarioRepeatedRequestIsDuplicate(t *testing.T) {
	h := newHarness(t)
	now := time.Now().Add(-time.Hour)
	u1 := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "first call: dark mode please", now)
	u2 := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "second call: dark mode please", now.Add(time.Second))
	h.fake.On("relevance_score", scores(map[string]float64{"dark mode": 8}))
	h.fake.On("feature_extract", extractions(map[string]extraction{"dark mode": {title: "Dark mode", confidence: 0.8}}))
	h.fake.OnJSON("feature_compare", `{"match_feature_id": null, "similarity": 0, "reasoning": "none"}`)

	h.score()
	require.Equal(t, 2, h.extract().FactsCreated)

	ao := h.aggregate(uuid.New())
	require.Equal(t, 1, ao.Totals.Created)
	require.Equal(t, 1, ao.Totals.Duplicates)
	require.Equal(t, 0, h.fake.Calls("feature_compare"))

	feats := h.workspaceFeatures()
	require.Len(t, feats, 1)
	require.Equal(t, 1, feats[0].MentionCount)
	f1, f2 := h.factsFor(u1.ID)[0], h.factsFor(u2.ID)[0]
	require.Equal(t, f1.ContentHash, f2.ContentHash)
	require.ElementsMatch(t,
		[]types.AggregationStatus{types.AggregationAggregated, types.AggregationDuplicate},
		[]types.AggregationStatus{f1.AggregationStatus, f2.AggregationStatus})
	require.Equal(t, feats[0].ID, *f1.FeatureID)
	require.Equal(t, feats[0].ID, *f2.FeatureID)
}

func TestScenarioSmallTalkStopsAtTierOne(t *testing.T) {
	h := newHarness(t)
	u := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "thanks, talk next week about the invoice", time.Now().Add(-time.Hour))
	h.fake.On("relevance_score", scores(map[string]float64{"invoice": 2}))

	so := h.score()
	require.Equal(t, 1, so.Irrelevant)
	got := h.unit(u.ID)
	require.Equal(t, types.StageClassified, got.ProcessingStage)
	require.False(t, got.Relevant())

	eo := h.extract()
	require.Equal(t, 0, eo.Claimed)
	require.Equal(t, 0, h.fake.Calls("feature_extract"))
	require.Empty(t, h.factsFor(u.ID))
}

func TestScorerFailureDefaultsToRelevant(t *testing.T) {
	h := newHarness(t)
	u := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "can you add webhooks", time.Now().Add(-time.Hour))
	h.fake.OnError("relevance_score", errors.New("upstream 503"))

	so := h.score()
	require.Equal(t, 1, so.Defaulted)
	require.Equal(t, 1, so.Relevant)
	got := h.unit(u.ID)
	require.True(t, got.Relevant())
	require.NotNil(t, got.RelevanceScore)
	require.Equal(t, classify.DefaultRelevanceScore, *got.RelevanceScore)
}

func TestExtractionConfidenceGate(t *testing.T) {
	h := newHarness(t)
	now := time.Now().Add(-time.Hour)
	at := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "gate-at: export to csv", now)
	below := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "gate-below: export to pdf", now.Add(time.Second))
	h.fake.On("relevance_score", scores(map[string]float64{"gate-": 9}))
	h.fake.On("feature_extract", extractions(map[string]extraction{
		"gate-at":    {title: "CSV export", confidence: 0.5},
		"gate-below": {title: "PDF export", confidence: 0.49},
	}))

	h.score()
	eo := h.extract()
	require.Equal(t, 1, eo.FactsCreated)
	require.Equal(t, 1, eo.LowConfidence)
	require.Len(t, h.factsFor(at.ID), 1)
	require.Empty(t, h.factsFor(below.ID))
	require.Equal(t, types.StageExtracted, h.unit(below.ID).ProcessingStage)
}

func TestExtractionRetriesThenErrors(t *testing.T) {
	h := newHarness(t)
	u := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "please add audit logs", time.Now().Add(-time.Hour))
	h.fake.On("relevance_score", scores(map[string]float64{"audit": 9}))
	h.fake.OnError("feature_extract", errors.New("bad gateway"))
	h.score()

	for i := 1; i <= 3; i++ {
		eo := h.extract()
		require.Equal(t, 1, eo.Claimed, "attempt %d", i)
		require.Equal(t, 1, eo.Errors, "attempt %d", i)
	}
	got := h.unit(u.ID)
	require.Equal(t, types.StageError, got.ProcessingStage)
	require.Equal(t, 3, got.RetryCount)
	require.NotNil(t, got.LastError)
	require.Equal(t, 0, h.extract().Claimed)
}

func TestExtractionChunksRollUpParent(t *testing.T) {
	h := newHarness(t)
	parent, cs := testutil.SeedChunkedUnit(t, h.ctx, h.db, h.ws, []string{"hello everyone", "we need a slack integration", "see you"}, time.Now().Add(-time.Hour))
	h.fake.On("relevance_score", scores(map[string]float64{"slack": 9}))
	h.fake.On("feature_extract", extractions(map[string]extraction{"slack": {title: "Slack integration", confidence: 0.8}}))

	so := h.score()
	require.Equal(t, 3, so.Claimed)
	require.Equal(t, 1, so.ParentsRolledUp)
	require.Equal(t, types.StageClassified, h.unit(parent.ID).ProcessingStage)

	eo := h.extract()
	require.Equal(t, 1, eo.FactsCreated)
	require.Equal(t, 1, eo.ParentsRolledUp)
	require.Equal(t, types.StageExtracted, h.unit(parent.ID).ProcessingStage)

	facts := h.factsFor(parent.ID)
	require.Len(t, facts, 1)
	require.NotNil(t, facts[0].ContentChunkID)
	require.Equal(t, cs[1].ID, *facts[0].ContentChunkID)
	require.Equal(t, types.ChunkSourceKey(cs[1].ID), facts[0].SourceKey)
	require.Equal(t, types.SourceMeetingRecording, facts[0].SourceType)
}

func TestExtractionChainsAggregation(t *testing.T) {
	h := newHarness(t)
	testutil.SeedUnit(t, h.ctx, h.db, h.ws, "need an iOS app", time.Now().Add(-time.Hour))
	h.fake.On("relevance_score", scores(map[string]float64{"iOS": 9}))
	h.fake.On("feature_extract", extractions(map[string]extraction{"iOS": {title: "iOS app", confidence: 0.9}}))
	h.score()

	var chained []uuid.UUID
	deps := h.extractDeps()
	deps.ChainAggregate = func(_ context.Context, ws uuid.UUID) error {
		chained = append(chained, ws)
		return nil
	}
	out, err := ExtractFeatures(h.ctx, deps, ExtractFeaturesInput{WorkspaceID: h.ws})
	require.NoError(t, err)
	require.True(t, out.Chained)
	require.Equal(t, []uuid.UUID{h.ws}, chained)
}

func TestAggregationMergesViaComparator(t *testing.T) {
	h := newHarness(t)
	existing := testutil.SeedFeature(t, h.ctx, h.db, h.ws, nil, "Bulk user import", time.Now().Add(-48*time.Hour))
	u := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "import users from csv", time.Now().Add(-time.Hour))
	fact := testutil.SeedFact(t, h.ctx, h.db, u, "CSV user upload", "hash-merge", time.Now().Add(-time.Minute))
	h.fake.OnJSON("feature_compare", `{"match_feature_id": "`+existing.ID.String()+`", "similarity": 0.8, "reasoning": "same"}`)

	ao := h.aggregate(uuid.New())
	require.Equal(t, 1, ao.Totals.Merged)
	require.Equal(t, 1, h.fake.Calls("feature_compare"))

	f, err := h.features.GetByID(dbctx.Context{Ctx: h.ctx}, existing.ID)
	require.NoError(t, err)
	require.Equal(t, 2, f.MentionCount)
	require.WithinDuration(t, u.OccurredAt, f.LastMentionedAt, time.Second)

	got, err := h.facts.GetByID(dbctx.Context{Ctx: h.ctx}, fact.ID)
	require.NoError(t, err)
	require.Equal(t, types.AggregationMerged, got.AggregationStatus)
	require.NotNil(t, got.Similarity)
	require.InDelta(t, 0.8, *got.Similarity, 1e-9)
}

func TestAggregationBelowSimilarityCreates(t *testing.T) {
	h := newHarness(t)
	existing := testutil.SeedFeature(t, h.ctx, h.db, h.ws, nil, "Bulk user import", time.Now().Add(-48*time.Hour))
	u := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "import users from ldap", time.Now().Add(-time.Hour))
	testutil.SeedFact(t, h.ctx, h.db, u, "LDAP sync", "hash-ldap", time.Now().Add(-time.Minute))
	h.fake.OnJSON("feature_compare", `{"match_feature_id": "`+existing.ID.String()+`", "similarity": 0.74, "reasoning": "related"}`)

	ao := h.aggregate(uuid.New())
	require.Equal(t, 1, ao.Totals.Created)
	require.Len(t, h.workspaceFeatures(), 2)
}

func TestAggregationHintFastPath(t *testing.T) {
	h := newHarness(t)
	existing := testutil.SeedFeature(t, h.ctx, h.db, h.ws, nil, "Dark mode", time.Now().Add(-48*time.Hour))
	u := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "dark theme please", time.Now().Add(-time.Hour))
	fact := testutil.SeedFact(t, h.ctx, h.db, u, "Night theme", "hash-hint", time.Now().Add(-time.Minute))
	require.NoError(t, h.db.Model(&types.ExtractedFact{}).Where("id = ?", fact.ID).
		Updates(map[string]any{"matched_feature_id": existing.ID, "match_confidence": 0.95}).Error)

	ao := h.aggregate(uuid.New())
	require.Equal(t, 1, ao.Totals.Merged)
	require.Equal(t, 0, h.fake.Calls("feature_compare"))
	got, _ := h.facts.GetByID(dbctx.Context{Ctx: h.ctx}, fact.ID)
	require.Equal(t, existing.ID, *got.FeatureID)
}

func TestAggregationComparatorFailureCreates(t *testing.T) {
	h := newHarness(t)
	testutil.SeedFeature(t, h.ctx, h.db, h.ws, nil, "Dark mode", time.Now().Add(-48*time.Hour))
	u := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "gantt view", time.Now().Add(-time.Hour))
	testutil.SeedFact(t, h.ctx, h.db, u, "Gantt chart view", "hash-gantt", time.Now().Add(-time.Minute))
	h.fake.OnError("feature_compare", errors.New("timeout"))

	ao := h.aggregate(uuid.New())
	require.Equal(t, 1, ao.Totals.Created)
	require.Equal(t, 0, ao.Totals.Errors)
}

func TestAggregationCrossRunDuplicate(t *testing.T) {
	h := newHarness(t)
	u := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "gantt view", time.Now().Add(-time.Hour))
	testutil.SeedFact(t, h.ctx, h.db, u, "Gantt chart view", "hash-same", time.Now().Add(-2*time.Minute))
	first := h.aggregate(uuid.New())
	require.Equal(t, 1, first.Totals.Created)

	late := testutil.SeedFact(t, h.ctx, h.db, u, "Gantt chart view", "hash-same", time.Now().Add(-time.Minute))
	second := h.aggregate(uuid.New())
	require.Equal(t, 1, second.Totals.Duplicates)
	feats := h.workspaceFeatures()
	require.Len(t, feats, 1)
	require.Equal(t, 1, feats[0].MentionCount)
	got, _ := h.facts.GetByID(dbctx.Context{Ctx: h.ctx}, late.ID)
	require.Equal(t, feats[0].ID, *got.FeatureID)
}

func TestAggregationReplayReturnsRecordedTotals(t *testing.T) {
	h := newHarness(t)
	u := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "gantt view", time.Now().Add(-time.Hour))
	testutil.SeedFact(t, h.ctx, h.db, u, "Gantt chart view", "hash-replay", time.Now().Add(-time.Minute))
	runID := uuid.New()

	first := h.aggregate(runID)
	require.False(t, first.Replayed)
	require.Equal(t, 1, first.Totals.Created)

	// A new pending fact must not be picked up by the finished run.
	testutil.SeedFact(t, h.ctx, h.db, u, "Kanban view", "hash-other", time.Now())
	again := h.aggregate(runID)
	require.True(t, again.Replayed)
	require.Equal(t, first.Totals, again.Totals)
	require.Len(t, h.workspaceFeatures(), 1)
}

func TestAggregationResumesOwnedFacts(t *testing.T) {
	h := newHarness(t)
	u := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "gantt view", time.Now().Add(-time.Hour))
	done := testutil.SeedFact(t, h.ctx, h.db, u, "Gantt chart view", "hash-resume-1", time.Now().Add(-2*time.Minute))
	testutil.SeedFact(t, h.ctx, h.db, u, "Kanban board", "hash-resume-2", time.Now().Add(-time.Minute))
	h.fake.OnJSON("feature_compare", `{"match_feature_id": null, "similarity": 0, "reasoning": "none"}`)
	runID := uuid.New()
	dbc := dbctx.Context{Ctx: h.ctx}
	_, err := h.runs.Start(dbc, h.ws, runID)
	require.NoError(t, err)
	claimed, err := h.facts.ClaimPendingForRun(dbc, h.ws, runID, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	// The interrupted attempt resolved one fact before stopping.
	prior := testutil.SeedFeature(t, h.ctx, h.db, h.ws, nil, "Gantt chart view", time.Now().Add(-time.Minute))
	ok, err := h.facts.MarkOutcome(dbc, done.ID, runID, types.AggregationAggregated, &prior.ID, nil)
	require.NoError(t, err)
	require.True(t, ok)

	// A different run cannot see the remaining fact; the original run resumes it.
	other := h.aggregate(uuid.New())
	require.Equal(t, 0, other.Totals.Processed)
	resumed := h.aggregate(runID)
	require.Equal(t, 2, resumed.Totals.Processed)
	require.Equal(t, 2, resumed.Totals.Created)

	run, err := h.runs.GetByID(dbc, runID)
	require.NoError(t, err)
	require.Equal(t, types.RunStatusCompleted, run.Status)
	require.Equal(t, 2, run.Processed)
	require.Equal(t, 2, run.Created)
}

func TestConcurrentRunsResolveSameHashOnce(t *testing.T) {
	h := newHarness(t)
	testutil.SeedFeature(t, h.ctx, h.db, h.ws, nil, "Unrelated", time.Now().Add(-48*time.Hour))
	u := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "dark mode", time.Now().Add(-time.Hour))
	a := testutil.SeedFact(t, h.ctx, h.db, u, "Dark mode", "same-hash", time.Now().Add(-2*time.Minute))
	b := testutil.SeedFact(t, h.ctx, h.db, u, "Dark mode", "same-hash", time.Now().Add(-time.Minute))

	// Both runs pass the store hash check before either resolves its fact.
	var mu sync.Mutex
	arrived := 0
	bothIn := make(chan struct{})
	h.fake.On("feature_compare", func(string, string) (json.RawMessage, error) {
		mu.Lock()
		arrived++
		if arrived == 2 {
			close(bothIn)
		}
		mu.Unlock()
		select {
		case <-bothIn:
		case <-time.After(5 * time.Second):
			return nil, errors.New("second run never reached the comparator")
		}
		return json.RawMessage(`{"match_feature_id": null, "similarity": 0, "reasoning": "none"}`), nil
	})

	var wg sync.WaitGroup
	outs := make([]AggregateFeaturesOutput, 2)
	errs := make([]error, 2)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i], errs[i] = AggregateFeatures(h.ctx, h.aggregateDeps(), AggregateFeaturesInput{
				WorkspaceID: h.ws,
				RunID:       uuid.New(),
				BatchSize:   1,
			})
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, 2, h.fake.Calls("feature_compare"))

	require.Equal(t, 1, outs[0].Totals.Created+outs[1].Totals.Created)
	require.Equal(t, 1, outs[0].Totals.Duplicates+outs[1].Totals.Duplicates)
	require.Len(t, h.workspaceFeatures(), 2)

	fa, err := h.facts.GetByID(dbctx.Context{Ctx: h.ctx}, a.ID)
	require.NoError(t, err)
	fb, err := h.facts.GetByID(dbctx.Context{Ctx: h.ctx}, b.ID)
	require.NoError(t, err)
	require.ElementsMatch(t,
		[]types.AggregationStatus{types.AggregationAggregated, types.AggregationDuplicate},
		[]types.AggregationStatus{fa.AggregationStatus, fb.AggregationStatus})
	require.NotNil(t, fa.FeatureID)
	require.NotNil(t, fb.FeatureID)
	require.Equal(t, *fa.FeatureID, *fb.FeatureID)
}

func TestReapStaleReleasesOldClaims(t *testing.T) {
	h := newHarness(t)
	u := testutil.SeedUnit(t, h.ctx, h.db, h.ws, "stuck", time.Now().Add(-2*time.Hour))
	dbc := dbctx.Context{Ctx: h.ctx}
	claimed, err := h.units.ClaimDueForScoring(dbc, h.ws, 1, repos.NewClaimToken())
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	out, err := ReapStale(h.ctx, ReapStaleDeps{
		Log:    testutil.Logger(t),
		Units:  h.units,
		Chunks: h.chunks,
		Facts:  h.facts,
	}, ReapStaleInput{StaleAfter: 30 * time.Minute, Now: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.GreaterOrEqual(t, out.UnitsReleased, int64(1))

	got := h.unit(u.ID)
	require.False(t, got.Locked())
	require.Equal(t, types.StageIngested, got.ProcessingStage)
}

func TestScenarioCrashedWorkerRowsAreReclaimed(t *testing.T) {
	h := newHarness(t)
	dbc := dbctx.Context{Ctx: h.ctx}
	base := time.Now().Add(-2 * time.Hour)
	for i := 0; i < 10; i++ {
		testutil.SeedUnit(t, h.ctx, h.db, h.ws, "row", base.Add(time.Duration(i)*time.Second))
	}

	crashedToken := repos.NewClaimToken()
	claimed, err := h.units.ClaimDueForScoring(dbc, h.ws, 10, crashedToken)
	require.NoError(t, err)
	require.Len(t, claimed, 10)

	// The worker finishes four rows, then dies holding the other six.
	unfinished := map[uuid.UUID]bool{}
	for i, u := range claimed {
		if i < 4 {
			ok, err := h.units.MarkClassified(dbc, u.ID, crashedToken, repos.Classification{Relevant: false, Score: 1, Reasoning: "test"})
			require.NoError(t, err)
			require.True(t, ok)
			continue
		}
		unfinished[u.ID] = true
	}

	none, err := h.units.ClaimDueForScoring(dbc, h.ws, 10, repos.NewClaimToken())
	require.NoError(t, err)
	require.Empty(t, none)

	out, err := ReapStale(h.ctx, ReapStaleDeps{
		Log:    testutil.Logger(t),
		Units:  h.units,
		Chunks: h.chunks,
		Facts:  h.facts,
	}, ReapStaleInput{StaleAfter: 30 * time.Minute, Now: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.GreaterOrEqual(t, out.UnitsReleased, int64(6))

	freshToken := repos.NewClaimToken()
	reclaimed, err := h.units.ClaimDueForScoring(dbc, h.ws, 10, freshToken)
	require.NoError(t, err)
	require.Len(t, reclaimed, 6)
	for _, u := range reclaimed {
		require.True(t, unfinished[u.ID], "row %s was already classified", u.ID)
		require.Equal(t, types.StageIngested, u.ProcessingStage)
		require.NotNil(t, u.LockToken)
		require.Equal(t, freshToken, *u.LockToken)
	}

	// The crashed worker's token no longer owns anything.
	ok, err := h.units.MarkClassified(dbc, reclaimed[0].ID, crashedToken, repos.Classification{Score: 1})
	require.NoError(t, err)
	require.False(t, ok)
}
