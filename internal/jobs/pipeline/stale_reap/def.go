package stale_reap

import (
	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

type Pipeline struct {
	log      *logger.Logger
	uc       *feedback.Usecases
	settings feedback.Settings
}

func New(baseLog *logger.Logger, uc *feedback.Usecases, settings feedback.Settings) *Pipeline {
	return &Pipeline{
		log:      baseLog.With("job", types.JobTypeStaleReap),
		uc:       uc,
		settings: settings,
	}
}

func (p *Pipeline) Type() string { return types.JobTypeStaleReap }
