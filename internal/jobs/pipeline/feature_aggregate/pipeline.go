package feature_aggregate

import (
	"fmt"

	jobrt "github.com/yungbote/featurepulse-backend/internal/jobs/runtime"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/steps"
)

// Run uses the job id as the aggregation run id, so a retried job resumes the facts
// its earlier attempt claimed.
func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	ws, ok := jc.WorkspaceID()
	if !ok {
		jc.Fail("validate", fmt.Errorf("missing workspace_id"))
		return nil
	}
	runID := jc.Job.ID
	if id, ok := jc.PayloadUUID("run_id"); ok {
		runID = id
	}

	jc.Progress("aggregate", 5)
	out, err := p.uc.AggregateFeatures(jc.Ctx, steps.AggregateFeaturesInput{
		WorkspaceID:         ws,
		RunID:               runID,
		BatchSize:           jc.PayloadInt("batch_size", p.settings.Tier3BatchSize),
		SimilarityThreshold: p.settings.SimilarityThreshold,
		HintThreshold:       p.settings.HintThreshold,
		FinalAttempt:        jc.FinalAttempt(),
	})
	if err != nil {
		jc.Fail("aggregate", err)
		return nil
	}
	jc.Succeed("done", out)
	return nil
}
