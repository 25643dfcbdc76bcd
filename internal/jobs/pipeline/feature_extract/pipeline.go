package feature_extract

import (
	"fmt"

	jobrt "github.com/yungbote/featurepulse-backend/internal/jobs/runtime"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/steps"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	ws, ok := jc.WorkspaceID()
	if !ok {
		jc.Fail("validate", fmt.Errorf("missing workspace_id"))
		return nil
	}

	jc.Progress("extract", 5)
	out, err := p.uc.ExtractFeatures(jc.Ctx, steps.ExtractFeaturesInput{
		WorkspaceID:   ws,
		BatchSize:     jc.PayloadInt("batch_size", p.settings.Tier2BatchSize),
		MinConfidence: p.settings.MinConfidence,
		MaxInFlight:   p.settings.MaxInFlight,
	})
	if err != nil {
		jc.Fail("extract", err)
		return nil
	}
	jc.Succeed("done", out)
	return nil
}
