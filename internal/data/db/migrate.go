package db

import (
	"fmt"

	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(types.Models()...); err != nil {
		return err
	}
	return EnsureConstraints(db)
}

// EnsureConstraints adds the unique indexes the pipeline relies on for correctness.
// They use syntax shared by Postgres and SQLite.
func EnsureConstraints(db *gorm.DB) error {
	// At most one fact per workspace and content hash may own a feature; later
	// facts with the same hash resolve as duplicates.
	const resolvedHash = `
		CREATE UNIQUE INDEX IF NOT EXISTS ux_extracted_fact_resolved_hash
		ON extracted_fact (workspace_id, content_hash)
		WHERE content_hash <> '' AND aggregation_status IN ('aggregated', 'merged');`
	if err := db.Exec(resolvedHash).Error; err != nil {
		return fmt.Errorf("create ux_extracted_fact_resolved_hash: %w", err)
	}
	return nil
}

// EnsurePipelineIndexes adds the partial indexes backing the due-row queries. Postgres only.
func EnsurePipelineIndexes(db *gorm.DB) error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"idx_content_unit_due_classify", `
			CREATE INDEX IF NOT EXISTS idx_content_unit_due_classify
			ON content_unit (workspace_id, created_at)
			WHERE processing_stage = 'ingested' AND classified_at IS NULL AND lock_token IS NULL AND is_chunked = false;`},
		{"idx_content_unit_due_extract", `
			CREATE INDEX IF NOT EXISTS idx_content_unit_due_extract
			ON content_unit (workspace_id, created_at)
			WHERE processing_stage = 'classified' AND is_feature_relevant = true AND extracted_at IS NULL AND lock_token IS NULL;`},
		{"idx_content_chunk_due_classify", `
			CREATE INDEX IF NOT EXISTS idx_content_chunk_due_classify
			ON content_chunk (workspace_id, created_at)
			WHERE processing_stage = 'ingested' AND classified_at IS NULL AND lock_token IS NULL;`},
		{"idx_content_chunk_due_extract", `
			CREATE INDEX IF NOT EXISTS idx_content_chunk_due_extract
			ON content_chunk (workspace_id, created_at)
			WHERE processing_stage = 'classified' AND is_feature_relevant = true AND extracted_at IS NULL AND lock_token IS NULL;`},
		{"idx_extracted_fact_pending", `
			CREATE INDEX IF NOT EXISTS idx_extracted_fact_pending
			ON extracted_fact (workspace_id, created_at)
			WHERE aggregation_status = 'pending';`},
		{"idx_extracted_fact_workspace_hash", `
			CREATE INDEX IF NOT EXISTS idx_extracted_fact_workspace_hash
			ON extracted_fact (workspace_id, content_hash)
			WHERE feature_id IS NOT NULL;`},
		{"idx_feature_workspace_theme_recent", `
			CREATE INDEX IF NOT EXISTS idx_feature_workspace_theme_recent
			ON feature (workspace_id, theme_id, last_mentioned_at DESC);`},
		{"idx_job_run_runnable", `
			CREATE INDEX IF NOT EXISTS idx_job_run_runnable
			ON job_run (status, run_after, created_at)
			WHERE status IN ('queued', 'failed');`},
	}
	for _, s := range stmts {
		if err := db.Exec(s.sql).Error; err != nil {
			return fmt.Errorf("create %s: %w", s.name, err)
		}
	}
	return nil
}

func (s *DatabaseService) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...", "driver", s.driver)
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if s.driver != DriverPostgres {
		return nil
	}
	if err := EnsurePipelineIndexes(s.db); err != nil {
		s.log.Error("Pipeline index migration failed", "error", err)
		return err
	}
	return nil
}
