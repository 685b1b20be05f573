package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-relay/internal/llm"
	"chat-relay/internal/service"
	"chat-relay/internal/ws"
)

// WSHandler acepta conexiones websocket y corre el read-loop por conexión.
type WSHandler struct {
	logger   *zap.Logger
	jwtServ  *service.JWTService
	registry *ws.Registry
	chatServ *service.ChatService
	upgrader websocket.Upgrader
}

func NewWSHandler(logger *zap.Logger, jwtServ *service.JWTService, registry *ws.Registry, chatServ *service.ChatService) *WSHandler {
	return &WSHandler{
		logger:   logger,
		jwtServ:  jwtServ,
		registry: registry,
		chatServ: chatServ,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
	}
}

// Serve maneja GET /ws. La credencial se valida antes del upgrade y la
// conexión queda registrada antes de leer el primer frame.
func (h *WSHandler) Serve(c *gin.Context) {
	if h.jwtServ == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "jwt not configured"})
		return
	}
	claims, err := h.jwtServ.ParseAccessToken(bearerToken(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	userID := claims.UserID
	h.registry.Connect(userID, conn)
	defer func() {
		h.registry.Disconnect(userID, conn)
		conn.Close()
	}()

	h.logger.Info("websocket connected", zap.String("user_id", userID))
	h.readLoop(c, conn, userID)
	h.logger.Info("websocket disconnected", zap.String("user_id", userID))
}

// readLoop procesa mensajes entrantes de forma estrictamente secuencial: el
// siguiente frame no se lee hasta que el turno anterior terminó o abortó.
func (h *WSHandler) readLoop(c *gin.Context, conn *websocket.Conn, userID string) {
	ctx := c.Request.Context()
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				h.logger.Warn("websocket read failed", zap.String("user_id", userID), zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			h.closePolicyViolation(conn, "unsupported frame type")
			return
		}

		err = h.chatServ.ProcessTurn(ctx, conn, userID, raw)
		switch {
		case err == nil:
		case errors.Is(err, service.ErrProtocolViolation), errors.Is(err, llm.ErrUnsupportedModel):
			h.logger.Warn("policy violation", zap.String("user_id", userID), zap.Error(err))
			h.closePolicyViolation(conn, "policy violation")
			return
		case errors.Is(err, service.ErrTransportFault):
			h.logger.Error("transport fault", zap.String("user_id", userID), zap.Error(err))
			return
		case errors.Is(err, llm.ErrUpstream):
			// El cliente queda con la respuesta parcial y sin frame "end";
			// la conexión sigue viva para el próximo turno.
			h.logger.Warn("upstream failure", zap.String("user_id", userID), zap.Error(err))
		default:
			h.logger.Error("turn failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

func (h *WSHandler) closePolicyViolation(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
