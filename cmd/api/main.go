package main

import (
	"fmt"
	"log"
	"time"

	"meeshy/internal/auth"
	"meeshy/internal/config"
	"meeshy/internal/domain/conversation"
	"meeshy/internal/domain/message"
	"meeshy/internal/domain/user"
	"meeshy/internal/events"
	"meeshy/internal/handler"
	"meeshy/internal/middleware"
	meeshyredis "meeshy/internal/redis"
	"meeshy/internal/repository"
	"meeshy/internal/services"
	"meeshy/internal/stats"
	"meeshy/internal/translation"
	"meeshy/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// statsSource joins the two repositories behind the aggregate recompute.
type statsSource struct {
	repository.MessageRepository
	repository.ConversationRepository
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(cfg.Server.Environment)
	defer appLogger.Logger.Sync()
	logger.SetGlobalLogger(appLogger)

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&user.User{},
		&conversation.Conversation{},
		&conversation.Member{},
		&conversation.ShareLink{},
		&conversation.AnonymousParticipant{},
		&message.Message{},
		&message.MessageRead{},
		&message.MessageMention{},
	); err != nil {
		log.Fatalf("Failed to apply GORM migrations: %v", err)
	}

	redisClient := meeshyredis.NewClient(meeshyredis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	natsConn, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsConn.Close()

	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	userRepo := repository.NewUserRepository(db)

	publisher := events.NewRedisPublisher(redisClient, appLogger)
	presence := meeshyredis.NewPresenceStore(redisClient, 5*time.Minute)
	limiter := meeshyredis.NewRateLimiter(redisClient, time.Minute)
	translationStore := meeshyredis.NewTranslationStore(redisClient)

	resolver := auth.NewResolver(convRepo, auth.DefaultLimits(), appLogger)
	translationCache := translation.NewCache(translationStore, appLogger)
	worker := translation.NewWorkerClient(natsConn, cfg.Translation.Subject, cfg.Translation.RequestTimeout, cfg.Translation.ModelHint, appLogger)
	dispatcher := translation.NewDispatcher(translationCache, worker, convRepo, userRepo, publisher, appLogger)
	statsCache := stats.NewCache(statsSource{msgRepo, convRepo}, publisher, stats.DefaultTTL, appLogger)
	detector := translation.NewDetector()

	msgService := services.NewMessageService(
		msgRepo, convRepo, resolver, limiter, dispatcher, translationCache,
		statsCache, presence, publisher, detector, cfg.Translation.FallbackLang, appLogger,
	)

	messageHandler := handler.NewMessageHandler(msgService)
	presenceHandler := handler.NewPresenceHandler(presence)
	healthHandler := handler.NewHealthHandler(db, redisClient)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware(appLogger))

	r.GET("/health", healthHandler.Check)

	api := r.Group("/api/v1")
	api.Use(middleware.SenderMiddleware([]byte(cfg.Server.JWTSecret)))
	{
		api.POST("/messages", messageHandler.Send)
		api.PATCH("/messages/:id", messageHandler.Edit)
		api.DELETE("/messages/:id", messageHandler.Delete)
		api.GET("/conversations/:id/messages", messageHandler.List)
		api.GET("/conversations/:id/stats", messageHandler.Stats)
		api.POST("/presence/heartbeat", presenceHandler.Heartbeat)
		api.POST("/presence/offline", presenceHandler.Offline)
	}

	appLogger.Infof("Starting server on port %s", cfg.Server.Port)
	if err := r.Run(fmt.Sprintf(":%s", cfg.Server.Port)); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
