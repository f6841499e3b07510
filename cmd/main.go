package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/studypath-backend/internal/clients/openai"
	"github.com/yungbote/studypath-backend/internal/clients/pinecone"
	redisclient "github.com/yungbote/studypath-backend/internal/clients/redis"
	"github.com/yungbote/studypath-backend/internal/data/db"
	"github.com/yungbote/studypath-backend/internal/data/repos"
	"github.com/yungbote/studypath-backend/internal/handlers"
	"github.com/yungbote/studypath-backend/internal/observability"
	"github.com/yungbote/studypath-backend/internal/pkg/cache"
	"github.com/yungbote/studypath-backend/internal/pkg/logger"
	"github.com/yungbote/studypath-backend/internal/server"
	"github.com/yungbote/studypath-backend/internal/services"
	"github.com/yungbote/studypath-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing
	shutdownOTel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "studypath-backend",
		Environment: utils.GetEnv("APP_ENV", "development", log),
		Version:     utils.GetEnv("APP_VERSION", "dev", log),
	})
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			log.Warn("OTel shutdown failed", "error", err)
		}
	}()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()
	txRunner := db.NewGormTxRunner(thePG)

	// Repos
	log.Info("Setting up Repos from main...")
	keypointRepo := repos.NewKeypointRepo(thePG, log)
	prereqEdgeRepo := repos.NewPrerequisiteEdgeRepo(thePG, log)

	// Clients
	log.Info("Setting up Clients from main...")
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}
	var vectorStore pinecone.VectorStore
	pineconeClient, err := pinecone.New(log, pinecone.Config{
		APIKey: os.Getenv("PINECONE_API_KEY"),
	})
	if err != nil {
		log.Warn("Could not init Pinecone client, semantic merge disabled", "error", err)
	} else {
		vectorStore, err = pinecone.NewVectorStore(log, pineconeClient)
		if err != nil {
			log.Warn("Could not init Pinecone vector store, semantic merge disabled", "error", err)
			vectorStore = nil
		}
	}
	resultCache, err := redisclient.NewCache(log)
	if err != nil {
		log.Warn("Could not init Redis cache, using in-memory cache", "error", err)
		resultCache = cache.NewMemory()
	}

	// Services
	log.Info("Setting up Services from main...")
	policy := services.DefaultMasteryPolicy()
	masteryService := services.NewMasteryService(txRunner, log, keypointRepo, resultCache, policy)
	clusteringService := services.NewClusteringService(log, keypointRepo, openaiClient, vectorStore)
	graphService := services.NewGraphService(txRunner, log, keypointRepo, prereqEdgeRepo, openaiClient, resultCache)
	pathService := services.NewPathService(log, clusteringService, graphService, resultCache, policy)

	// Handlers
	pathHandler := handlers.NewPathHandler(log, pathService)
	graphHandler := handlers.NewGraphHandler(log, graphService)
	masteryHandler := handlers.NewMasteryHandler(log, masteryService)

	// Router
	router := server.NewRouter(server.RouterConfig{
		Log:            log,
		PathHandler:    pathHandler,
		GraphHandler:   graphHandler,
		MasteryHandler: masteryHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Starting server...", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
