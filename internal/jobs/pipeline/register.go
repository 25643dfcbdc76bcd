package pipeline

import (
	"fmt"

	"github.com/yungbote/featurepulse-backend/internal/jobs/pipeline/content_score"
	"github.com/yungbote/featurepulse-backend/internal/jobs/pipeline/feature_aggregate"
	"github.com/yungbote/featurepulse-backend/internal/jobs/pipeline/feature_extract"
	"github.com/yungbote/featurepulse-backend/internal/jobs/pipeline/stale_reap"
	jobrt "github.com/yungbote/featurepulse-backend/internal/jobs/runtime"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

// RegisterAll registers one handler per pipeline stage plus the stale reaper.
func RegisterAll(reg *jobrt.Registry, baseLog *logger.Logger, uc *feedback.Usecases, settings feedback.Settings) error {
	handlers := []jobrt.Handler{
		content_score.New(baseLog, uc, settings),
		feature_extract.New(baseLog, uc, settings),
		feature_aggregate.New(baseLog, uc, settings),
		stale_reap.New(baseLog, uc, settings),
	}
	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return fmt.Errorf("register %s: %w", h.Type(), err)
		}
	}
	return nil
}
