package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"chat-relay/internal/config"
	"chat-relay/internal/db"
	"chat-relay/internal/email"
	apihttp "chat-relay/internal/http"
	"chat-relay/internal/llm"
	"chat-relay/internal/repository"
	"chat-relay/internal/service"
	"chat-relay/internal/ws"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	userRepo := repository.NewPgUserRepository(pool)
	chatRepo := repository.NewPgChatRepository(pool)
	messageRepo := repository.NewPgMessageRepository(pool)

	var (
		chatCache   service.ChatCache
		otpLimiter  service.OTPRateLimiter
		tokenStore  service.RefreshTokenStore
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			chatCache = service.NewRedisChatCache(redisClient, cfg.ContextWindow, logger)
			otpLimiter = service.NewRedisOTPRateLimiter(redisClient, 10*time.Minute, 3)
			tokenStore = service.NewRedisRefreshTokenStore(redisClient)
		}
		cancel()
	}
	if chatCache == nil {
		logger.Warn("redis unavailable, using in-memory context cache")
		chatCache = service.NewMemoryChatCache(cfg.ContextWindow)
	}

	jwtSvc := service.NewJWTServiceWithStore(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
		tokenStore,
	)
	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}

	llmClient := llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, logger)
	chatSvc := service.NewChatService(logger, chatRepo, messageRepo, chatCache, llmClient, cfg.ContextWindow)
	userSvc := service.NewUserService(logger, userRepo, emailSender, otpLimiter)

	// Una sola instancia de registro de conexiones por proceso.
	registry := ws.NewRegistry()

	userHandler := apihttp.NewUserHandler(logger, userSvc, jwtSvc)
	chatHandler := apihttp.NewChatHandler(logger, chatRepo, messageRepo)
	wsHandler := apihttp.NewWSHandler(logger, jwtSvc, registry, chatSvc)
	router := apihttp.NewRouter(logger, jwtSvc, userHandler, chatHandler, wsHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
