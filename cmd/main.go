package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"hub-service/internal/handler"
	"hub-service/internal/ingest"
	mid "hub-service/internal/middleware"
	"hub-service/internal/model"
	"hub-service/internal/store"
	"hub-service/internal/syncer"
	"hub-service/internal/ws"
	"hub-service/pkg/config"
	"hub-service/pkg/database"
	"hub-service/pkg/jwtutil"
	"hub-service/pkg/logger"
	"hub-service/prometheus"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Load configuration (reads .env if present)
	appConfig, err := config.Load()
	if err != nil {
		// Can't use structured logger yet since it's not initialized
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	if err := logger.InitLogger(appConfig); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	defer log.Sync()

	log.Info("Starting hub-service",
		zap.String("environment", appConfig.Server.Env),
		zap.String("port", appConfig.Server.Port))

	// Initialize JWT utility
	jwtutil.Initialize(&appConfig.JWT)
	log.Info("JWT utility initialized")

	// Initialize Prometheus metrics
	prometheus.InitMetrics(appConfig)
	log.Info("Prometheus metrics initialized",
		zap.String("metrics_prefix", appConfig.Metrics.Prefix))

	// Initialize database
	if err := database.InitDB(appConfig); err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established",
		zap.String("driver", appConfig.Database.Driver))

	err = database.MigrateModels(
		&model.Tenant{},
		&model.Hub{},
		&model.Node{},
		&model.Sensor{},
		&model.SensorCapability{},
		&model.NodeSensorAssignment{},
		&model.Reading{},
		&model.SyncedNode{},
		&model.SyncedReading{},
	)
	if err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}
	log.Info("Database migrations completed")

	db := database.GetDB()

	// Wire the ingestion chain: websocket hub receives every persisted reading
	hub := ws.NewHub(appConfig.WebSocket, log)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go hub.Run(ctx)

	pipeline := ingest.NewPipeline(db, hub, log)
	readingStore := store.NewReadingStore(db, log)
	peerStore := store.NewPeerStore(db, log)
	reconciler := syncer.NewReconciler(db, pipeline, log)

	readingHandler := handler.NewReadingHandler(pipeline, readingStore)
	syncHandler := handler.NewSyncHandler(reconciler)
	wsHandler := handler.NewWSHandler(hub)
	hubHandler := handler.NewHubHandler(db)
	nodeHandler := handler.NewNodeHandler(db)
	sensorHandler := handler.NewSensorHandler(db)
	peerHandler := handler.NewPeerHandler(peerStore)
	assignmentHandler := handler.NewAssignmentHandler(db)

	// Initialize Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Recover())
	e.Use(mid.RequestIDMiddleware)
	e.Use(logger.Middleware())
	e.Use(mid.MetricsMiddleware)

	// Metrics endpoint
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Health check endpoint
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Reading API routes
	readingAPI := e.Group("/api/readings", mid.AuthMiddleware)
	readingAPI.POST("", readingHandler.Create)
	readingAPI.POST("/batch", readingHandler.CreateBatch)
	readingAPI.GET("", readingHandler.List)
	readingAPI.GET("/latest", readingHandler.Latest)
	readingAPI.GET("/unsynced", readingHandler.Unsynced)
	readingAPI.POST("/mark-synced", readingHandler.MarkSynced)
	readingAPI.DELETE("/range", readingHandler.DeleteRange)

	// Sync API routes
	syncAPI := e.Group("/api/sync", mid.AuthMiddleware)
	syncAPI.POST("", syncHandler.Apply)

	// Hub API routes
	hubAPI := e.Group("/api/hub", mid.AuthMiddleware)
	hubAPI.GET("", hubHandler.Get)
	hubAPI.PUT("", hubHandler.Update)

	// Node API routes
	nodeAPI := e.Group("/api/nodes", mid.AuthMiddleware)
	nodeAPI.GET("", nodeHandler.List)
	nodeAPI.GET("/:id", nodeHandler.Get)
	nodeAPI.PUT("/:id", nodeHandler.Update)
	nodeAPI.GET("/:id/readings/latest", readingHandler.LatestByNode)

	// Sensor API routes
	sensorAPI := e.Group("/api/sensors", mid.AuthMiddleware)
	sensorAPI.GET("", sensorHandler.List)
	sensorAPI.GET("/:id", sensorHandler.Get)
	sensorAPI.POST("", sensorHandler.Create)
	sensorAPI.PUT("/:id", sensorHandler.Update)
	sensorAPI.DELETE("/:id", sensorHandler.Delete)

	// Assignment API routes
	assignmentAPI := e.Group("/api/assignments", mid.AuthMiddleware)
	assignmentAPI.GET("", assignmentHandler.List)
	assignmentAPI.POST("", assignmentHandler.Create)
	assignmentAPI.PUT("/:id", assignmentHandler.Update)
	assignmentAPI.DELETE("/:id", assignmentHandler.Deactivate)
	assignmentAPI.GET("/:id/effective-config", assignmentHandler.EffectiveConfig)

	// Peer mirror API routes
	peerAPI := e.Group("/api/peer", mid.AuthMiddleware)
	peerAPI.POST("/readings", peerHandler.Mirror)
	peerAPI.GET("/nodes", peerHandler.Nodes)
	peerAPI.GET("/nodes/:id/readings", peerHandler.Readings)

	// Live reading stream
	e.GET("/ws", wsHandler.Connect, mid.AuthMiddleware)

	// Start server
	port := appConfig.Server.Port
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Server error", zap.Error(err))
	}
}
