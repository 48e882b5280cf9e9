package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abuccarelli/Unicorn1/internal/config"
	"github.com/abuccarelli/Unicorn1/internal/database"
	"github.com/abuccarelli/Unicorn1/internal/handlers"
	"github.com/abuccarelli/Unicorn1/internal/middleware"
	"github.com/abuccarelli/Unicorn1/internal/migrations"
	"github.com/abuccarelli/Unicorn1/internal/models"
	"github.com/abuccarelli/Unicorn1/internal/realtime"
	"github.com/abuccarelli/Unicorn1/internal/routes"
	"github.com/abuccarelli/Unicorn1/internal/store"
	"github.com/abuccarelli/Unicorn1/internal/transport/memchannel"
	"github.com/abuccarelli/Unicorn1/internal/transport/redischannel"
	"github.com/abuccarelli/Unicorn1/pkg/logger"
)

func main() {
	// 0. Load Config & Initialize Logger
	config.LoadConfig()

	env := os.Getenv("GO_ENV")
	if env == "" {
		env = "development"
	}
	logger.Init(env)

	logger.Info().Str("environment", env).Str("user", config.AppConfig.UserID).Msg("Starting messaging agent...")

	if config.AppConfig.UserID == "" {
		logger.Fatal().Msg("USER_ID must be set; the agent serves exactly one signed-in user")
	}

	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 1. Connect Database
	database.Connect()

	logger.Info().Msg("🔄 Running Database Migrations...")
	if err := database.DB.AutoMigrate(
		&models.Conversation{},
		&models.Message{},
		&models.MessageAttachment{},
		&models.Notification{},
	); err != nil {
		logger.Fatal().Err(err).Msg("Failed to migrate tables")
	}
	if err := migrations.NewMigrator(database.DB).Run(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}
	logger.Info().Msg("✅ Database Migrations Complete")

	// 2. Channel transport
	var transport realtime.Transport
	var publisher realtime.Publisher
	switch config.AppConfig.Transport {
	case "memory":
		mem := memchannel.New()
		transport, publisher = mem, mem
		logger.Warn().Msg("Using in-memory transport; events stay inside this process")
	default:
		if err := database.InitRedis(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		rt := redischannel.New(database.Redis)
		transport, publisher = rt, rt
	}

	// 3. Stores and engines
	messages := store.New(database.DB, publisher)
	notifications := store.NewNotifications(database.DB, publisher)

	if config.AppConfig.R2AccountID == "" || config.AppConfig.R2BucketName == "" {
		logger.Fatal().Msg("R2 storage must be configured; attachments live in the bucket")
	}
	s3Client, err := store.NewS3Client(context.Background(),
		config.AppConfig.R2AccountID,
		config.AppConfig.R2AccessKeyID,
		config.AppConfig.R2SecretAccessKey,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to init storage client")
	}
	// Public URL construction depends on R2 setup (Custom Domain or R2.dev)
	publicURL := config.AppConfig.R2PublicURL
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.r2.dev", config.AppConfig.R2BucketName)
	}
	blobs := store.NewS3BlobStore(s3Client, config.AppConfig.R2BucketName, publicURL)
	notifier := realtime.NewNotifier(notifications, realtime.DefaultNotifierConfig())

	presenceCfg := realtime.DefaultPresenceConfig()
	presenceCfg.OnChange = func() { handlers.Stream.Broadcast("presence") }
	presence := realtime.NewPresence(transport, presenceCfg)

	typingCfg := realtime.DefaultTypingConfig()
	typingCfg.OnChange = func() { handlers.Stream.Broadcast("typing") }
	typing := realtime.NewTyping(transport, config.AppConfig.UserID, config.AppConfig.DisplayName, typingCfg)

	feedCfg := realtime.DefaultFeedConfig()
	feedCfg.OnChange = func() { handlers.Stream.Broadcast("notifications") }
	feed := realtime.NewFeed(config.AppConfig.UserID, notifications, transport, feedCfg)

	conversationCfg := realtime.DefaultConversationConfig()
	conversationCfg.OnChange = func() { handlers.Stream.Broadcast("messages") }

	handlers.InitAgent(&handlers.AgentState{
		UserID:             config.AppConfig.UserID,
		DisplayName:        config.AppConfig.DisplayName,
		Presence:           presence,
		Typing:             typing,
		Feed:               feed,
		Transport:          transport,
		Messages:           messages,
		Blobs:              blobs,
		Notifier:           notifier,
		ConversationConfig: conversationCfg,
	})

	// 4. Go online
	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	presence.Connect(startCtx, config.AppConfig.UserID, config.AppConfig.DisplayName)
	if err := feed.Open(startCtx); err != nil {
		// The agent still serves messaging; the bell just starts empty.
		logger.Warn().Err(err).Msg("Notification feed unavailable at startup")
	}
	startCancel()

	// 5. Setup Router
	r := gin.New()
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.ErrorHandlerMiddleware())
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware())

	// Exempt the websocket stream from rate limiting
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/ws" {
			c.Next()
			return
		}
		middleware.GeneralRateLimit()(c)
	})

	api := r.Group("/api")
	{
		routes.RegisterPresenceRoutes(api)
		routes.RegisterConversationRoutes(api)
		routes.RegisterNotificationRoutes(api)
	}

	r.GET("/ws", handlers.StreamHandler)

	r.GET("/health", func(c *gin.Context) {
		dbStatus := "ok"
		redisStatus := "ok"

		sqlDB, err := database.DB.DB()
		if err != nil || sqlDB.Ping() != nil {
			dbStatus = "error"
		}

		if database.Redis != nil {
			if _, err := database.Redis.Ping(context.Background()).Result(); err != nil {
				redisStatus = "error"
			}
		} else {
			redisStatus = "not configured"
		}

		status := "ok"
		if dbStatus != "ok" || (redisStatus != "ok" && redisStatus != "not configured") {
			status = "degraded"
		}

		c.JSON(200, gin.H{
			"status": status,
			"self":   gin.H{"userId": config.AppConfig.UserID, "presence": presence.Status("")},
			"checks": gin.H{
				"database": dbStatus,
				"redis":    redisStatus,
			},
		})
	})

	// 6. Start Server with graceful shutdown
	port := config.AppConfig.Port
	if port == "" {
		port = "8085"
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", port).Msg("Agent listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down...")

	// Presence cleanup first so the user reads offline before the port closes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	handlers.Agent.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Forced shutdown")
	}

	logger.Info().Msg("Agent stopped")
}
