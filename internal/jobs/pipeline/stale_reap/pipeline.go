package stale_reap

import (
	jobrt "github.com/yungbote/featurepulse-backend/internal/jobs/runtime"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/steps"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	jc.Progress("reap", 5)
	out, err := p.uc.ReapStale(jc.Ctx, steps.ReapStaleInput{StaleAfter: p.settings.StaleAfter})
	if err != nil {
		jc.Fail("reap", err)
		return nil
	}
	jc.Succeed("done", out)
	return nil
}
