package steps

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/classify"
)

// Stage names used for metrics, events and job results.
const (
	StageScore     = "score"
	StageExtract   = "extract"
	StageAggregate = "aggregate"
	StageReap      = "reap"
)

// Row outcomes.
const (
	OutcomeRelevant      = "relevant"
	OutcomeIrrelevant    = "irrelevant"
	OutcomeFact          = "fact"
	OutcomeNoFact        = "no_fact"
	OutcomeLowConfidence = "low_confidence"
	OutcomeCreated       = "created"
	OutcomeMerged        = "merged"
	OutcomeDuplicate     = "duplicate"
	OutcomeLost          = "claim_lost"
	OutcomeError         = "error"
	OutcomeCanceled      = "canceled"
)

// ContextCache holds extraction context for a short TTL. A nil cache always misses.
type ContextCache interface {
	GetExtractionContext(ctx context.Context, workspaceID uuid.UUID) (*classify.ExtractionContext, bool)
	SetExtractionContext(ctx context.Context, workspaceID uuid.UUID, ec *classify.ExtractionContext)
}

// tally is a goroutine-safe outcome counter.
type tally struct {
	mu     sync.Mutex
	counts map[string]int
}

func (t *tally) inc(outcome string) {
	t.mu.Lock()
	if t.counts == nil {
		t.counts = map[string]int{}
	}
	t.counts[outcome]++
	t.mu.Unlock()
}

func (t *tally) get(outcome string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[outcome]
}

func decodeKeywords(raw []byte) []string {
	var out []string
	if len(raw) == 0 {
		return nil
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
