package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"chat-relay/internal/domain"
	"chat-relay/internal/repository"
)

// ChatHandler mantiene dependencias para endpoints de sesiones y mensajes.
type ChatHandler struct {
	logger   *zap.Logger
	chats    repository.ChatRepository
	messages repository.MessageRepository
}

// NewChatHandler crea una instancia de ChatHandler con dependencias necesarias.
func NewChatHandler(logger *zap.Logger, chats repository.ChatRepository, messages repository.MessageRepository) *ChatHandler {
	return &ChatHandler{
		logger:   logger,
		chats:    chats,
		messages: messages,
	}
}

// CreateChat maneja POST /chats.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing claims"})
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	_ = c.ShouldBindJSON(&req)

	now := time.Now().UTC()
	chat := domain.ChatSession{
		ID:        uuid.NewString(),
		UserID:    claims.UserID,
		Title:     req.Title,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.chats.Create(c.Request.Context(), chat); err != nil {
		h.logger.Error("create chat failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create chat"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"chat": chat})
}

// ListChats maneja GET /chats.
func (h *ChatHandler) ListChats(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing claims"})
		return
	}

	chats, err := h.chats.ListByUserID(c.Request.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("list chats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list chats"})
		return
	}
	if chats == nil {
		chats = []domain.ChatSession{}
	}

	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// ListMessages maneja GET /chats/:id/messages con paginación limit/offset.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing claims"})
		return
	}

	chatID := c.Param("id")
	chat, err := h.chats.GetByID(c.Request.Context(), chatID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		h.logger.Error("get chat failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not get chat"})
		return
	}
	if chat.UserID != "" && chat.UserID != claims.UserID {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}

	limit := parsePositive(c.Query("limit"), 50)
	offset := parsePositive(c.Query("offset"), 0)

	messages, total, err := h.messages.ListPage(c.Request.Context(), chatID, limit, offset)
	if err != nil {
		h.logger.Error("list messages failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list messages"})
		return
	}
	if messages == nil {
		messages = []domain.ChatMessage{}
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func parsePositive(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
