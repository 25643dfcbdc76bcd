package feedback

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/featurepulse-backend/internal/pkg/errors"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

const (
	DefaultMaxRetries = 3
	maxLastErrorRunes = 1000
)

// Claimable rows carry an embedded PipelineState.
type Claimable interface {
	types.ContentUnit | types.ContentChunk
}

var stampableColumns = map[string]bool{
	types.ColClassifiedAt: true,
	types.ColExtractedAt:  true,
	types.ColAggregatedAt: true,
}

// Coordinator hands out exclusive, time-stamped claims on content rows so that
// concurrent workers partition due work without blocking each other.
type Coordinator struct {
	db         *gorm.DB
	log        *logger.Logger
	maxRetries int
}

func NewCoordinator(db *gorm.DB, baseLog *logger.Logger, maxRetries int) *Coordinator {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Coordinator{
		db:         db,
		log:        baseLog.With("repo", "ClaimCoordinator"),
		maxRetries: maxRetries,
	}
}

func (c *Coordinator) MaxRetries() int { return c.maxRetries }

// NewClaimToken returns an opaque token identifying one batch's claim.
func NewClaimToken() string { return uuid.NewString() }

// AcquireQuery selects due rows. Scope adds the stage's due conditions; the
// coordinator always adds "lock_token IS NULL".
type AcquireQuery struct {
	Scope      func(*gorm.DB) *gorm.DB
	OrderBy    string
	BatchSize  int
	ClaimToken string
}

// Acquire atomically claims up to BatchSize due rows. Rows locked by a concurrent
// transaction are skipped, so callers may get fewer rows than requested.
func Acquire[T Claimable](dbc dbctx.Context, c *Coordinator, q AcquireQuery) ([]*T, error) {
	out := []*T{}
	if q.BatchSize <= 0 {
		return out, nil
	}
	if q.ClaimToken == "" {
		return nil, fmt.Errorf("acquire: empty claim token: %w", pkgerrors.ErrInvalidArgument)
	}
	order := q.OrderBy
	if order == "" {
		order = "created_at ASC"
	}
	now := time.Now().UTC()

	err := dbc.DB(c.db).Transaction(func(txx *gorm.DB) error {
		sel := txx.Model(new(T)).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("lock_token IS NULL")
		if q.Scope != nil {
			sel = q.Scope(sel)
		}
		var ids []uuid.UUID
		if err := sel.Order(order).Limit(q.BatchSize).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		res := txx.Model(new(T)).
			Where("id IN ? AND lock_token IS NULL", ids).
			Updates(map[string]interface{}{
				"lock_token": q.ClaimToken,
				"locked_at":  now,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return txx.Where("lock_token = ?", q.ClaimToken).Order(order).Find(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkProcessed advances a claimed row to nextStage, stamps timestampField and
// releases the claim. It returns false without error when the claim was lost.
func MarkProcessed[T Claimable](dbc dbctx.Context, c *Coordinator, id uuid.UUID, nextStage types.ProcessingStage, timestampField string, claimToken string, extra map[string]interface{}) (bool, error) {
	if timestampField != "" && !stampableColumns[timestampField] {
		return false, fmt.Errorf("mark processed: column %q: %w", timestampField, pkgerrors.ErrInvalidArgument)
	}
	if claimToken == "" {
		return false, fmt.Errorf("mark processed: empty claim token: %w", pkgerrors.ErrInvalidArgument)
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{}
	for k, v := range extra {
		updates[k] = v
	}
	updates["processing_stage"] = nextStage
	updates["lock_token"] = nil
	updates["locked_at"] = nil
	updates["updated_at"] = now
	if timestampField != "" {
		updates[timestampField] = now
	}

	res := dbc.DB(c.db).Model(new(T)).
		Where("id = ? AND lock_token = ?", id, claimToken).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		c.log.Warn("Claim lost before mark processed; skipping", "id", id, "next_stage", nextStage)
		return false, nil
	}
	return true, nil
}

// MarkError records a failure and releases the claim. With incrementRetry the
// row moves to the error stage once retry_count reaches the retry budget.
func MarkError[T Claimable](dbc dbctx.Context, c *Coordinator, id uuid.UUID, message string, claimToken string, incrementRetry bool) (bool, error) {
	if claimToken == "" {
		return false, fmt.Errorf("mark error: empty claim token: %w", pkgerrors.ErrInvalidArgument)
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"last_error": TruncateError(message),
		"lock_token": nil,
		"locked_at":  nil,
		"updated_at": now,
	}
	if incrementRetry {
		updates["retry_count"] = gorm.Expr("retry_count + 1")
		updates["processing_stage"] = gorm.Expr(
			"CASE WHEN retry_count + 1 >= ? THEN ? ELSE processing_stage END",
			c.maxRetries, string(types.StageError),
		)
	}
	res := dbc.DB(c.db).Model(new(T)).
		Where("id = ? AND lock_token = ?", id, claimToken).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		c.log.Warn("Claim lost before mark error; skipping", "id", id)
		return false, nil
	}
	return true, nil
}

// TruncateError bounds stored error text to 1000 runes.
func TruncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= maxLastErrorRunes {
		return msg
	}
	r := []rune(msg)
	return string(r[:maxLastErrorRunes])
}
