package main

import (
	"context"
	"log"
	"time"

	"careline-chat/config"
	"careline-chat/internal/domain/chat"
	"careline-chat/internal/domain/message"
	"careline-chat/internal/domain/presence"
	"careline-chat/internal/domain/user"
	"careline-chat/internal/handler"
	"careline-chat/internal/middleware"
	"careline-chat/internal/proxy"
	"careline-chat/internal/redis"
	"careline-chat/internal/repository"
	"careline-chat/internal/server"
	"careline-chat/internal/services"
	"careline-chat/internal/storage"
	"careline-chat/pkg/database"
	"careline-chat/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(loggerMode(cfg.AppMode))
	logger.SetGlobalLogger(l)
	zap.ReplaceGlobals(l.Logger)

	database.Connect(cfg)
	if err := database.DB.AutoMigrate(
		&user.User{},
		&chat.Session{},
		&chat.Participant{},
		&message.Message{},
		&message.Read{},
		&presence.UserPresence{},
	); err != nil {
		log.Fatalf("Failed to apply GORM migrations: %v", err)
	}

	redisClient := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redis.Ping(context.Background(), redisClient); err != nil {
		l.Warnf("Redis unreachable, presence mirror degraded: %v", err)
	}
	mirror := redis.NewPresenceMirror(redisClient, 5*time.Minute)
	limiter := redis.NewRateLimiter(redisClient, redis.DefaultRateLimitConfig())

	userRepo := repository.NewUserRepository(database.DB)
	chatRepo := repository.NewChatRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	presenceRepo := repository.NewPresenceRepository(database.DB)
	access := proxy.NewAccessControl(chatRepo)

	authService := services.NewAuthService(userRepo, cfg)
	chatService := services.NewChatService(database.DB, chatRepo, messageRepo, userRepo, presenceRepo, access)
	messageService := services.NewMessageService(database.DB, messageRepo, chatRepo, userRepo, access,
		time.Duration(cfg.EditWindowMin)*time.Minute)
	presenceService := services.NewPresenceService(presenceRepo, mirror, l)
	userService := services.NewUserService(userRepo, presenceRepo)

	typingExpiry := time.Duration(cfg.TypingExpirySecs) * time.Second
	hub := server.NewHub(chatService, messageService, presenceService, typingExpiry)
	go hub.Run()

	var mediaStore *storage.MediaStore
	if cfg.S3Bucket != "" {
		var err error
		mediaStore, err = storage.NewMediaStore(context.Background(), storage.S3Config{
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Endpoint:   cfg.S3Endpoint,
			PresignTTL: time.Duration(cfg.S3PresignTTL) * time.Minute,
		})
		if err != nil {
			log.Fatalf("Failed to init media store: %v", err)
		}
	}

	srv := server.New(cfg, l, hub)

	wsHandler := server.NewWebSocketHandler(hub, authService, limiter)
	chatHandler := handler.NewChatHandler(chatService, hub)
	messageHandler := handler.NewMessageHandler(messageService, hub)
	uploadHandler := handler.NewUploadHandler(mediaStore, chatService,
		time.Duration(cfg.S3PresignTTL)*time.Minute)
	userHandler := handler.NewUserHandler(userService, presenceService)

	engine := srv.Engine()
	engine.GET("/ws", wsHandler.Handle)

	authed := engine.Group("/v1", middleware.AuthMiddleware(authService))
	{
		chats := authed.Group("/chats")
		chats.GET("", chatHandler.List)
		chats.POST("", chatHandler.Create)
		chats.GET("/:chatId", chatHandler.Get)
		chats.PATCH("/:chatId", chatHandler.Update)
		chats.DELETE("/:chatId", chatHandler.Delete)
		chats.GET("/:chatId/online", chatHandler.OnlineUsers)

		chats.GET("/:chatId/messages", messageHandler.List)
		chats.POST("/:chatId/messages", middleware.MessageRateLimitMiddleware(limiter), messageHandler.Send)
		chats.POST("/:chatId/messages/read", messageHandler.MarkRead)
		chats.GET("/:chatId/messages/unread-count", messageHandler.UnreadCount)
		chats.GET("/:chatId/messages/search", messageHandler.Search)

		authed.PATCH("/messages/:messageId", messageHandler.Edit)
		authed.DELETE("/messages/:messageId", messageHandler.Delete)

		authed.POST("/uploads/presign", uploadHandler.Presign)
		authed.GET("/uploads/download", uploadHandler.Download)

		authed.GET("/users/:userId", userHandler.Get)
		authed.GET("/users/:userId/presence", userHandler.Presence)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}

func loggerMode(appMode string) string {
	if appMode == server.ReleaseMode {
		return logger.ProductionMode
	}
	return logger.DevelopmentMode
}
