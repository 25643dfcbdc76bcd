package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/featurepulse-backend/internal/data/repos/testutil"
	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
)

func TestChunkRollUps(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	logg := testutil.Logger(t)
	coord := NewCoordinator(db, logg, 3)
	units := NewContentUnitRepo(db, coord, logg)
	chunks := NewContentChunkRepo(db, coord, logg)
	dbc := dbctx.Context{Ctx: ctx}

	ws := uuid.New()
	parent, cs := testutil.SeedChunkedUnit(t, ctx, db, ws, []string{"hello", "please add SSO", "bye"}, time.Now().UTC().Add(-time.Hour))

	// Chunked parents are never claimed directly.
	if rows, err := units.ClaimDueForScoring(dbc, ws, 10, NewClaimToken()); err != nil || len(rows) != 0 {
		t.Fatalf("parent claimed: err=%v len=%d", err, len(rows))
	}

	token := NewClaimToken()
	claimed, err := chunks.ClaimDueForScoring(dbc, ws, 2, token)
	if err != nil || len(claimed) != 2 {
		t.Fatalf("claim chunks: err=%v len=%d", err, len(claimed))
	}
	for _, c := range claimed {
		relevant := c.ID == cs[1].ID
		if _, err := chunks.MarkClassified(dbc, c.ID, token, Classification{Relevant: relevant, Score: 3}); err != nil {
			t.Fatalf("classify chunk: %v", err)
		}
	}
	if n, err := units.RollUpClassified(dbc, []uuid.UUID{parent.ID}); err != nil || n != 0 {
		t.Fatalf("roll-up with pending chunk: n=%d err=%v", n, err)
	}

	token = NewClaimToken()
	last, err := chunks.ClaimDueForScoring(dbc, ws, 5, token)
	if err != nil || len(last) != 1 || last[0].ID != cs[2].ID {
		t.Fatalf("claim last chunk: err=%v len=%d", err, len(last))
	}
	if _, err := chunks.MarkClassified(dbc, cs[2].ID, token, Classification{Relevant: false, Score: 1}); err != nil {
		t.Fatalf("classify last: %v", err)
	}
	if n, err := units.RollUpClassified(dbc, []uuid.UUID{parent.ID}); err != nil || n != 1 {
		t.Fatalf("roll-up classified: n=%d err=%v", n, err)
	}
	got, _ := units.GetByID(dbc, parent.ID)
	if got.ProcessingStage != types.StageClassified || !got.Relevant() {
		t.Fatalf("parent not rolled up as relevant: %+v", got.PipelineState)
	}
	// Parent is relevant but chunked: extraction works off the chunks.
	if rows, err := units.ClaimDueForExtraction(dbc, ws, 10, NewClaimToken()); err != nil || len(rows) != 0 {
		t.Fatalf("chunked parent claimed for extraction: err=%v len=%d", err, len(rows))
	}

	token = NewClaimToken()
	ex, err := chunks.ClaimDueForExtraction(dbc, ws, 10, token)
	if err != nil || len(ex) != 1 || ex[0].ID != cs[1].ID {
		t.Fatalf("claim relevant chunk for extraction: err=%v len=%d", err, len(ex))
	}
	if n, err := units.RollUpExtracted(dbc, []uuid.UUID{parent.ID}); err != nil || n != 0 {
		t.Fatalf("roll-up extracted with due chunk: n=%d err=%v", n, err)
	}
	if _, err := chunks.MarkExtracted(dbc, cs[1].ID, token); err != nil {
		t.Fatalf("mark chunk extracted: %v", err)
	}
	if n, err := units.RollUpExtracted(dbc, []uuid.UUID{parent.ID}); err != nil || n != 1 {
		t.Fatalf("roll-up extracted: n=%d err=%v", n, err)
	}
	got, _ = units.GetByID(dbc, parent.ID)
	if got.ProcessingStage != types.StageExtracted || got.ExtractedAt == nil {
		t.Fatalf("parent not extracted: %+v", got.PipelineState)
	}
}

func TestCreateIdempotentFact(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	logg := testutil.Logger(t)
	facts := NewExtractedFactRepo(db, logg)
	dbc := dbctx.Context{Ctx: ctx}

	ws := uuid.New()
	unit := testutil.SeedUnit(t, ctx, db, ws, "text", time.Now().UTC())
	mk := func() *types.ExtractedFact {
		return &types.ExtractedFact{
			WorkspaceID:   ws,
			ContentUnitID: unit.ID,
			SourceKey:     types.UnitSourceKey(unit.ID),
			Title:         "Bulk export",
			ContentHash:   "abc",
			Keywords:      datatypes.JSON([]byte(`["export"]`)),
			OccurredAt:    unit.OccurredAt,
		}
	}
	created, err := facts.CreateIdempotent(dbc, mk())
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}
	created, err = facts.CreateIdempotent(dbc, mk())
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate source_key to be skipped")
	}
	got, err := facts.GetBySourceKey(dbc, types.UnitSourceKey(unit.ID))
	if err != nil || got == nil || got.AggregationStatus != types.AggregationPending {
		t.Fatalf("GetBySourceKey: %+v err=%v", got, err)
	}
}

func TestClaimPendingForRunResumesOwnedFacts(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	logg := testutil.Logger(t)
	facts := NewExtractedFactRepo(db, logg)
	dbc := dbctx.Context{Ctx: ctx}

	ws := uuid.New()
	now := time.Now().UTC()
	unit := testutil.SeedUnit(t, ctx, db, ws, "text", now.Add(-time.Hour))
	var seeded []*types.ExtractedFact
	for i := 0; i < 3; i++ {
		seeded = append(seeded, testutil.SeedFact(t, ctx, db, unit, "f", "h", now.Add(time.Duration(i-10)*time.Minute)))
	}

	runID := uuid.New()
	got, err := facts.ClaimPendingForRun(dbc, ws, runID, 2)
	if err != nil || len(got) != 2 {
		t.Fatalf("claim: err=%v len=%d", err, len(got))
	}
	if got[0].ID != seeded[0].ID || got[1].ID != seeded[1].ID {
		t.Fatalf("expected oldest facts first")
	}

	// Same run id again: resumes the two it owns without taking more.
	got, err = facts.ClaimPendingForRun(dbc, ws, runID, 2)
	if err != nil || len(got) != 2 {
		t.Fatalf("resume: err=%v len=%d", err, len(got))
	}

	other, err := facts.ClaimPendingForRun(dbc, ws, uuid.New(), 10)
	if err != nil || len(other) != 1 || other[0].ID != seeded[2].ID {
		t.Fatalf("second run: err=%v len=%d", err, len(other))
	}

	ok, err := facts.MarkOutcome(dbc, seeded[0].ID, uuid.New(), types.AggregationAggregated, nil, nil)
	if err != nil || ok {
		t.Fatalf("outcome from foreign run must be a no-op: ok=%v err=%v", ok, err)
	}
}

func TestFindResolvedByHash(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	logg := testutil.Logger(t)
	facts := NewExtractedFactRepo(db, logg)
	dbc := dbctx.Context{Ctx: ctx}

	ws := uuid.New()
	now := time.Now().UTC()
	unit := testutil.SeedUnit(t, ctx, db, ws, "text", now.Add(-time.Hour))
	feature := testutil.SeedFeature(t, ctx, db, ws, nil, "CSV export", now)
	resolved := testutil.SeedFact(t, ctx, db, unit, "CSV export", "same", now.Add(-30*time.Minute))
	mustUpdate(t, db.Model(&types.ExtractedFact{}).Where("id = ?", resolved.ID).Updates(map[string]interface{}{
		"aggregation_status": types.AggregationAggregated,
		"feature_id":         feature.ID,
	}).Error)
	fresh := testutil.SeedFact(t, ctx, db, unit, "CSV export", "same", now.Add(-time.Minute))

	got, err := facts.FindResolvedByHash(dbc, ws, "same", fresh.ID)
	if err != nil || got == nil || got.ID != resolved.ID {
		t.Fatalf("FindResolvedByHash: got=%v err=%v", got, err)
	}
	if got, _ := facts.FindResolvedByHash(dbc, uuid.New(), "same", fresh.ID); got != nil {
		t.Fatalf("hash lookup leaked across workspaces")
	}
}

func TestRecordMentionBoundsMetadata(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	logg := testutil.Logger(t)
	features := NewFeatureRepo(db, logg)
	dbc := dbctx.Context{Ctx: ctx}

	ws := uuid.New()
	start := time.Now().UTC().Truncate(time.Microsecond).Add(-48 * time.Hour)
	f := testutil.SeedFeature(t, ctx, db, ws, nil, "SSO", start)

	for i := 0; i < 25; i++ {
		kws := []string{"sso", "saml", "kw" + string(rune('a'+i))}
		if _, err := features.RecordMention(dbc, f.ID, Mention{
			FactID:        uuid.New(),
			ContentUnitID: uuid.New(),
			OccurredAt:    start.Add(time.Duration(i) * time.Hour),
			Similarity:    0.8,
			Outcome:       types.AggregationMerged,
			Keywords:      kws,
		}); err != nil {
			t.Fatalf("RecordMention %d: %v", i, err)
		}
	}
	// An older mention never moves last_mentioned_at backwards.
	if _, err := features.RecordMention(dbc, f.ID, Mention{FactID: uuid.New(), OccurredAt: start.Add(-time.Hour)}); err != nil {
		t.Fatalf("RecordMention old: %v", err)
	}

	got, err := features.GetByID(dbc, f.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.MentionCount != 27 {
		t.Fatalf("mention_count=%d want 27", got.MentionCount)
	}
	if want := start.Add(24 * time.Hour); !got.LastMentionedAt.Equal(want) {
		t.Fatalf("last_mentioned_at=%v want %v", got.LastMentionedAt, want)
	}
	meta := types.DecodeFeatureMetadata(got.Metadata)
	if len(meta.RecentFacts) != 20 {
		t.Fatalf("recent_facts=%d want 20", len(meta.RecentFacts))
	}
	if len(meta.Keywords) != 25 {
		t.Fatalf("keywords=%d want 25", len(meta.Keywords))
	}
}

func TestAggregationRunStartIsReplaySafe(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	runs := NewAggregationRunRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}

	ws, runID := uuid.New(), uuid.New()
	run, err := runs.Start(dbc, ws, runID)
	if err != nil || run.ID != runID || run.Status != types.RunStatusRunning {
		t.Fatalf("Start: %+v err=%v", run, err)
	}
	totals := RunTotals{Processed: 3, Created: 1, Merged: 1, Duplicates: 1}
	if err := runs.Finish(dbc, runID, types.RunStatusCompleted, totals, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	again, err := runs.Start(dbc, ws, runID)
	if err != nil {
		t.Fatalf("Start replay: %v", err)
	}
	if again.Status != types.RunStatusCompleted || again.Processed != 3 || again.Created != 1 {
		t.Fatalf("replay returned %+v", again)
	}
	list, err := runs.ListByWorkspace(dbc, ws, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByWorkspace: err=%v len=%d", err, len(list))
	}
}
