package app

import (
	"gorm.io/gorm"

	apphttp "github.com/yungbote/featurepulse-backend/internal/http"
	httpH "github.com/yungbote/featurepulse-backend/internal/http/handlers"
	httpMW "github.com/yungbote/featurepulse-backend/internal/http/middleware"
	"github.com/yungbote/featurepulse-backend/internal/observability"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

func wireServer(db *gorm.DB, log *logger.Logger, cfg Config, svc Services, metrics *observability.Metrics) *apphttp.Server {
	log.Info("Wiring HTTP server...")
	return apphttp.NewServer(cfg.HTTPAddr, apphttp.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		ServiceName:     cfg.ServiceName,
		CORSOrigins:     cfg.CORSOrigins,
		AuthMiddleware:  httpMW.NewAuthMiddleware(log, cfg.AdminJWTSecret),
		HealthHandler:   httpH.NewHealthHandler(db),
		PipelineHandler: httpH.NewPipelineHandler(log, svc.Pipeline),
		JobHandler:      httpH.NewJobHandler(svc.Jobs),
	})
}
