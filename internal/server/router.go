package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/studypath-backend/internal/handlers"
	"github.com/yungbote/studypath-backend/internal/middleware"
	"github.com/yungbote/studypath-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	PathHandler    *handlers.PathHandler
	GraphHandler   *handlers.GraphHandler
	MasteryHandler *handlers.MasteryHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-User-ID", "X-Request-ID"},
		AllowCredentials: true,
	}))

	router.Use(otelgin.Middleware("studypath"))
	router.Use(middleware.RequestContext(cfg.Log))
	router.Use(middleware.RequestLogger(cfg.Log))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthz", handlers.NewHealthcheckHandler().Healthcheck)

	// ===============
	// || API       ||
	// ===============
	api := router.Group("/api")
	{
		// Learning path
		api.GET("/kbs/:kb_id/learning-path", cfg.PathHandler.GetLearningPath)
		api.POST("/kbs/:kb_id/learning-path/invalidate", cfg.PathHandler.InvalidateLearningPath)
		// Prerequisite graph
		api.GET("/kbs/:kb_id/graph", cfg.GraphHandler.GetGraph)
		api.POST("/kbs/:kb_id/graph/rebuild", cfg.GraphHandler.RebuildGraph)
		// Mastery
		api.POST("/keypoints/:keypoint_id/quiz-result", cfg.MasteryHandler.RecordQuizResult)
		api.POST("/keypoints/:keypoint_id/study", cfg.MasteryHandler.RecordStudyInteraction)
		api.GET("/kbs/:kb_id/mastery-summary", cfg.MasteryHandler.GetMasterySummary)
	}

	return router
}
