package content_score

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

	jc.Progress("score", 5)
	out, err := p.uc.ScoreContent(jc.Ctx, steps.ScoreContentInput{
		WorkspaceID:        ws,
		BatchSize:          jc.PayloadInt("batch_size", p.settings.Tier1BatchSize),
		RelevanceThreshold: p.settings.RelevanceThreshold,
		MaxInFlight:        p.settings.MaxInFlight,
	})
	if err != nil {
		jc.Fail("score", err)
		return nil
	}
	jc.Succeed("done", out)
	return nil
}
