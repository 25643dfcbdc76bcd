package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/featurepulse-backend/internal/data/repos/testutil"
	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
)

func TestReleaseStaleLocksOnlyTouchesDueRows(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	logg := testutil.Logger(t)
	units := NewContentUnitRepo(db, NewCoordinator(db, logg, 3), logg)
	dbc := dbctx.Context{Ctx: ctx}

	ws := uuid.New()
	now := time.Now().UTC()
	stale := testutil.SeedUnit(t, ctx, db, ws, "stale", now.Add(-2*time.Hour))
	fresh := testutil.SeedUnit(t, ctx, db, ws, "fresh", now.Add(-time.Hour))
	done := testutil.SeedUnit(t, ctx, db, ws, "done", now.Add(-time.Hour))

	old := now.Add(-45 * time.Minute)
	recent := now.Add(-5 * time.Minute)
	mustUpdate(t, db.Model(&types.ContentUnit{}).Where("id = ?", stale.ID).
		Updates(map[string]interface{}{"lock_token": "crashed", "locked_at": old}).Error)
	mustUpdate(t, db.Model(&types.ContentUnit{}).Where("id = ?", fresh.ID).
		Updates(map[string]interface{}{"lock_token": "alive", "locked_at": recent}).Error)
	// Already extracted: the reaper must never make it due again.
	mustUpdate(t, db.Model(&types.ContentUnit{}).Where("id = ?", done.ID).
		Updates(map[string]interface{}{
			"processing_stage": types.StageExtracted,
			"classified_at":    old,
			"extracted_at":     old,
			"lock_token":       "odd",
			"locked_at":        old,
		}).Error)

	if _, err := units.ReleaseStaleLocks(dbc, now.Add(-30*time.Minute)); err != nil {
		t.Fatalf("ReleaseStaleLocks: %v", err)
	}

	got, _ := units.GetByID(dbc, stale.ID)
	if got.Locked() || got.LockedAt != nil {
		t.Fatalf("stale lock not released: %+v", got.PipelineState)
	}
	if got.ProcessingStage != types.StageIngested {
		t.Fatalf("stage changed: %s", got.ProcessingStage)
	}
	got, _ = units.GetByID(dbc, fresh.ID)
	if !got.Locked() {
		t.Fatalf("fresh lock released")
	}
	got, _ = units.GetByID(dbc, done.ID)
	if !got.Locked() || got.ProcessingStage != types.StageExtracted {
		t.Fatalf("completed row touched: %+v", got.PipelineState)
	}

	rows, err := units.ClaimDueForScoring(dbc, ws, 10, NewClaimToken())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != stale.ID {
		t.Fatalf("expected reaped row to be due again, got %d rows", len(rows))
	}
}

func TestResetStaleProcessingFacts(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	logg := testutil.Logger(t)
	facts := NewExtractedFactRepo(db, logg)
	dbc := dbctx.Context{Ctx: ctx}

	ws := uuid.New()
	now := time.Now().UTC()
	unit := testutil.SeedUnit(t, ctx, db, ws, "text", now.Add(-2*time.Hour))
	stuck := testutil.SeedFact(t, ctx, db, unit, "Export to CSV", "h1", now.Add(-2*time.Hour))
	live := testutil.SeedFact(t, ctx, db, unit, "Dark mode", "h2", now.Add(-time.Hour))

	runID := uuid.New()
	mustUpdate(t, db.Model(&types.ExtractedFact{}).Where("id = ?", stuck.ID).Updates(map[string]interface{}{
		"aggregation_status": types.AggregationProcessing,
		"aggregation_run_id": runID,
		"locked_at":          now.Add(-40 * time.Minute),
	}).Error)
	mustUpdate(t, db.Model(&types.ExtractedFact{}).Where("id = ?", live.ID).Updates(map[string]interface{}{
		"aggregation_status": types.AggregationProcessing,
		"aggregation_run_id": runID,
		"locked_at":          now.Add(-time.Minute),
	}).Error)

	if _, err := facts.ResetStaleProcessing(dbc, now.Add(-30*time.Minute)); err != nil {
		t.Fatalf("ResetStaleProcessing: %v", err)
	}
	got, _ := facts.GetByID(dbc, stuck.ID)
	if got.AggregationStatus != types.AggregationPending || got.AggregationRunID != nil {
		t.Fatalf("stuck fact not reset: status=%s run=%v", got.AggregationStatus, got.AggregationRunID)
	}
	got, _ = facts.GetByID(dbc, live.ID)
	if got.AggregationStatus != types.AggregationProcessing {
		t.Fatalf("live fact reset: %s", got.AggregationStatus)
	}
}

func mustUpdate(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}
