package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-relay/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	jwtServ *service.JWTService,
	userH *UserHandler,
	chatH *ChatHandler,
	wsH *WSHandler,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging y recovery.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery())

	auth := r.Group("/auth")
	auth.POST("/send-code", userH.SendCode)
	auth.POST("/verify-code", userH.VerifyCode)
	auth.POST("/refresh", userH.Refresh)

	chats := r.Group("/chats", JWTAuthMiddleware(jwtServ))
	chats.POST("", chatH.CreateChat)
	chats.GET("", chatH.ListChats)
	chats.GET("/:id/messages", chatH.ListMessages)

	// El handler websocket valida la credencial por su cuenta antes del upgrade.
	r.GET("/ws", wsH.Serve)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
