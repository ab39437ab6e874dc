package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	synchttp "github.com/ahmadnk31/gsm-sync/internal/sync/adapter/http"

	"github.com/ahmadnk31/gsm-sync/internal/shared/eventbus"
	"github.com/ahmadnk31/gsm-sync/internal/shared/logger"
	"github.com/ahmadnk31/gsm-sync/internal/sync/adapter/feed"
	"github.com/ahmadnk31/gsm-sync/internal/sync/adapter/persistence/mongodb"
	"github.com/ahmadnk31/gsm-sync/internal/sync/config"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/model"
	"github.com/ahmadnk31/gsm-sync/internal/sync/usecase"

	"github.com/caarlos0/env/v6"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ViewerConfig identifies the scope this sync instance serves.
type ViewerConfig struct {
	ViewerID string `env:"VIEWER_ID"`
	Role     string `env:"VIEWER_ROLE" envDefault:"standard"`
}

func main() {
	fmt.Println("🚀 GSM Sync - Starting Application...")

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	viewerCfg := &ViewerConfig{}
	if err := env.Parse(viewerCfg); err != nil {
		log.Fatalf("Failed to load viewer configuration: %v", err)
	}

	scope := model.ViewScope{
		Role:     model.Role(viewerCfg.Role),
		ViewerID: viewerCfg.ViewerID,
	}
	if err := scope.Validate(); err != nil {
		log.Fatalf("Invalid viewer scope: %v", err)
	}

	// Initialize logger
	appLogger := logger.NewLogger()
	appLogger.Info("Application configuration loaded successfully")

	// Initialize MongoDB connection
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			appLogger.Error("Failed to disconnect MongoDB: %v", err)
		}
	}()

	// Verify MongoDB connection
	if err := mongoClient.Ping(ctx, nil); err != nil {
		log.Fatalf("Failed to ping MongoDB: %v", err)
	}
	appLogger.Info("MongoDB connection established successfully")

	mongoDB := mongoClient.Database(cfg.MongoDatabase)

	// Initialize Redis (event journal backing)
	redisClient := config.NewRedisClient(cfg.Redis)
	defer func() {
		if err := redisClient.Close(); err != nil {
			appLogger.Error("Failed to close Redis client: %v", err)
		}
	}()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to ping Redis: %v", err)
	}
	appLogger.Info("Redis connection established successfully")

	// Wire the sync session
	bus := eventbus.NewEventBus(appLogger)
	storeGateway := mongodb.NewStoreGateway(mongoDB, appLogger)
	changeFeed := feed.NewWSFeed(cfg.Feed, scope, appLogger)
	journal := feed.NewRedisJournal(redisClient, scope.ViewerID, appLogger)

	session := usecase.NewSyncSession(scope, changeFeed, storeGateway, journal, bus, usecase.SessionConfig{
		ResyncInitialBackoff: cfg.Resync.InitialBackoff,
		ResyncMaxBackoff:     cfg.Resync.MaxBackoff,
		JournalMaxLen:        cfg.Resync.JournalMaxLen,
	}, appLogger)

	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	defer sessionCancel()

	if err := session.Start(sessionCtx); err != nil {
		log.Fatalf("Failed to start sync session: %v", err)
	}
	appLogger.Info("Sync session started for viewer %s (%s)", scope.ViewerID, scope.Role)

	// Setup HTTP server (Fiber) with middleware
	app := fiber.New(fiber.Config{
		AppName:      "GSM Sync API v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			appLogger.Error("HTTP Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal Server Error",
			})
		},
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		healthCtx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
		defer cancel()

		if err := mongoClient.Ping(healthCtx, nil); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "UNHEALTHY",
				"error":  err.Error(),
			})
		}
		if err := redisClient.Ping(healthCtx).Err(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "UNHEALTHY",
				"error":  err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"status":    "HEALTHY",
			"message":   "GSM Sync API is running",
			"timestamp": time.Now().UTC(),
			"viewer":    scope.ViewerID,
		})
	})

	// Register routes
	viewHandler := synchttp.NewViewHandler(session, appLogger)
	viewHandler.RegisterRoutes(app)

	notificationHub := synchttp.NewNotificationHub(session, cfg.Feed.JWTSecret, appLogger)
	notificationHub.RegisterRoutes(app)
	appLogger.Info("Sync routes and notification hub registered")

	serverAddr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	appLogger.Info("🌟 Starting HTTP server on %s", serverAddr)

	// Start server in a goroutine for graceful shutdown
	serverShutdown := make(chan error, 1)
	go func() {
		serverShutdown <- app.Listen(serverAddr)
	}()

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverShutdown:
		if err != nil {
			appLogger.Error("Server failed to start: %v", err)
			session.Stop()
			log.Fatalf("Server startup failed: %v", err)
		}
	case sig := <-quit:
		appLogger.Info("Received shutdown signal: %v", sig)
		fmt.Println("🛑 Shutting down gracefully...")

		session.Stop()
		appLogger.Info("Sync session stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown: %v", err)
		}

		appLogger.Info("HTTP server stopped")
	}

	fmt.Println("✅ Application stopped gracefully.")
}
