package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func SeedTheme(tb testing.TB, ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, name string) *types.Theme {
	tb.Helper()
	t := &types.Theme{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		Name:        name,
		Description: name + " related requests",
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed theme: %v", err)
	}
	return t
}

// SeedUnit inserts an ingested content unit. createdAt orders claims.
func SeedUnit(tb testing.TB, ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, text string, createdAt time.Time) *types.ContentUnit {
	tb.Helper()
	u := &types.ContentUnit{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		SourceType:  types.SourceCallTranscript,
		SourceID:    uuid.NewString(),
		Title:       "call",
		RawText:     text,
		CleanText:   text,
		ActorName:   "Dana",
		ActorRole:   "customer",
		OccurredAt:  createdAt.UTC(),
		Metadata:    datatypes.JSON([]byte("{}")),
		CreatedAt:   createdAt.UTC(),
		UpdatedAt:   createdAt.UTC(),
	}
	u.ProcessingStage = types.StageIngested
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed content unit: %v", err)
	}
	return u
}

// SeedChunkedUnit inserts a chunked parent with one ingested chunk per text.
func SeedChunkedUnit(tb testing.TB, ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, texts []string, createdAt time.Time) (*types.ContentUnit, []*types.ContentChunk) {
	tb.Helper()
	parent := &types.ContentUnit{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		SourceType:  types.SourceMeetingRecording,
		SourceID:    uuid.NewString(),
		Title:       "meeting",
		CleanText:   "",
		OccurredAt:  createdAt.UTC(),
		IsChunked:   true,
		CreatedAt:   createdAt.UTC(),
		UpdatedAt:   createdAt.UTC(),
	}
	parent.ProcessingStage = types.StageIngested
	if err := tx.WithContext(ctx).Create(parent).Error; err != nil {
		tb.Fatalf("seed chunked unit: %v", err)
	}
	chunks := make([]*types.ContentChunk, 0, len(texts))
	for i, text := range texts {
		c := &types.ContentChunk{
			ID:            uuid.New(),
			WorkspaceID:   workspaceID,
			ContentUnitID: parent.ID,
			ChunkIndex:    i,
			Text:          text,
			ActorRole:     "customer",
			OccurredAt:    createdAt.UTC(),
			CreatedAt:     createdAt.Add(time.Duration(i) * time.Millisecond).UTC(),
			UpdatedAt:     createdAt.UTC(),
		}
		c.ProcessingStage = types.StageIngested
		if err := tx.WithContext(ctx).Create(c).Error; err != nil {
			tb.Fatalf("seed chunk: %v", err)
		}
		chunks = append(chunks, c)
	}
	return parent, chunks
}

func SeedFeature(tb testing.TB, ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, themeID *uuid.UUID, name string, lastMentioned time.Time) *types.Feature {
	tb.Helper()
	f := &types.Feature{
		ID:               uuid.New(),
		WorkspaceID:      workspaceID,
		ThemeID:          themeID,
		Name:             name,
		Description:      name,
		Priority:         types.LevelMedium,
		Urgency:          types.LevelMedium,
		Status:           types.FeatureStatusNew,
		MentionCount:     1,
		FirstMentionedAt: lastMentioned.UTC(),
		LastMentionedAt:  lastMentioned.UTC(),
		Metadata:         datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(f).Error; err != nil {
		tb.Fatalf("seed feature: %v", err)
	}
	return f
}

// SeedFact inserts a pending fact sourced from unit.
func SeedFact(tb testing.TB, ctx context.Context, tx *gorm.DB, unit *types.ContentUnit, title, hash string, createdAt time.Time) *types.ExtractedFact {
	tb.Helper()
	f := &types.ExtractedFact{
		ID:                uuid.New(),
		WorkspaceID:       unit.WorkspaceID,
		ContentUnitID:     unit.ID,
		SourceKey:         types.UnitSourceKey(unit.ID) + ":" + uuid.NewString(),
		SourceType:        unit.SourceType,
		Title:             title,
		Description:       title,
		Confidence:        0.9,
		Keywords:          datatypes.JSON([]byte("[]")),
		ContentHash:       hash,
		AggregationStatus: types.AggregationPending,
		OccurredAt:        unit.OccurredAt,
		CreatedAt:         createdAt.UTC(),
		UpdatedAt:         createdAt.UTC(),
	}
	if err := tx.WithContext(ctx).Create(f).Error; err != nil {
		tb.Fatalf("seed fact: %v", err)
	}
	return f
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
