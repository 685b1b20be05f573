package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"chat-relay/internal/domain"
	"chat-relay/internal/llm"
	"chat-relay/internal/repository"
)

var (
	// ErrProtocolViolation marca un frame entrante malformado o no soportado;
	// el handler cierra la conexión con código de policy violation.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrTransportFault marca un error de envío que no es una desconexión
	// rutinaria; se propaga en vez de tragarse.
	ErrTransportFault = errors.New("transport fault")
)

const inboundTypeMessage = "message"

// InboundEnvelope es el mensaje entrante por la conexión websocket.
type InboundEnvelope struct {
	Type    string `json:"type"`
	Model   string `json:"model"`
	Message struct {
		ChatID  string                `json:"chat_id"`
		Content domain.MessageContent `json:"content"`
	} `json:"message"`
}

// Frame es un mensaje saliente del servidor durante un turno.
type Frame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

const (
	FrameTypeToken = "token"
	FrameTypeEnd   = "end"
)

// FrameWriter es el primitivo de envío hacia la conexión de origen,
// desacoplado del transporte concreto.
type FrameWriter interface {
	WriteJSON(v any) error
}

// ChatService secuencia un turno completo: contexto, persistencia del mensaje
// del usuario, streaming del proveedor, relay de tokens, persistencia de la
// respuesta, actualización de cache y señal de fin.
type ChatService struct {
	logger    *zap.Logger
	chats     repository.ChatRepository
	messages  repository.MessageRepository
	cache     ChatCache
	llmClient llm.StreamingClient
	window    int
}

func NewChatService(
	logger *zap.Logger,
	chats repository.ChatRepository,
	messages repository.MessageRepository,
	cache ChatCache,
	llmClient llm.StreamingClient,
	window int,
) *ChatService {
	if window <= 0 {
		window = 15
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		logger:    logger,
		chats:     chats,
		messages:  messages,
		cache:     cache,
		llmClient: llmClient,
		window:    window,
	}
}

// ProcessTurn ejecuta la máquina de estados de un turno sobre el frame crudo
// recibido. El read-loop del handler no debe leer el siguiente frame hasta que
// esta llamada retorne: los turnos de una conexión son estrictamente seriales.
func (s *ChatService) ProcessTurn(ctx context.Context, conn FrameWriter, userID string, raw []byte) error {
	// ReceiveInbound: validación del envelope antes de cualquier efecto.
	var env InboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if env.Type != inboundTypeMessage {
		return fmt.Errorf("%w: unexpected type %q", ErrProtocolViolation, env.Type)
	}
	if strings.TrimSpace(env.Message.ChatID) == "" || env.Message.Content.IsEmpty() {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, domain.ErrEmptyContent)
	}

	model, err := llm.ResolveModel(env.Model)
	if err != nil {
		return err
	}

	chatID := env.Message.ChatID
	if err := s.ensureSession(ctx, chatID, userID); err != nil {
		return err
	}

	// ResolveContext: ventana desde cache, con fallback al store durable.
	history, err := s.resolveContext(ctx, chatID)
	if err != nil {
		return err
	}

	// PersistUserTurn: incondicional y previo al proveedor; el mensaje del
	// usuario no se pierde aunque la generación falle después.
	now := time.Now().UTC()
	userMsg := domain.ChatMessage{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      domain.RoleUser,
		Content:   env.Message.Content,
		CreatedAt: now,
	}
	if err := s.messages.Create(ctx, userMsg); err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}
	s.touchSession(ctx, chatID, now)
	s.appendCached(ctx, chatID, userMsg.AsCachedTurn())

	// StreamUpstream + RelayTokens.
	turns := buildLLMTurns(history, userMsg)
	stream, err := s.llmClient.StreamChat(ctx, model, turns)
	if err != nil {
		return err
	}
	defer stream.Close()

	var answer strings.Builder
	relayAlive := true
	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		answer.WriteString(token)
		if relayAlive {
			if err := s.writeFrame(conn, Frame{Type: FrameTypeToken, Content: token}); err != nil {
				if errors.Is(err, ErrTransportFault) {
					return err
				}
				// Conexión ya cerrada: se deja de enviar pero el stream se
				// consume entero para poder persistir la respuesta.
				relayAlive = false
			}
		}
	}

	// PersistAssistantTurn: solo si el stream terminó limpio.
	assistantMsg := domain.ChatMessage{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      domain.RoleAssistant,
		Content:   domain.TextContent(answer.String()),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.messages.Create(ctx, assistantMsg); err != nil {
		return fmt.Errorf("persist assistant message: %w", err)
	}
	s.touchSession(ctx, chatID, assistantMsg.CreatedAt)
	s.appendCached(ctx, chatID, assistantMsg.AsCachedTurn())

	// SignalCompletion.
	if relayAlive {
		if err := s.writeFrame(conn, Frame{Type: FrameTypeEnd}); err != nil && errors.Is(err, ErrTransportFault) {
			return err
		}
	}
	return nil
}

// ensureSession crea la sesión en el primer mensaje si el chat_id es nuevo.
func (s *ChatService) ensureSession(ctx context.Context, chatID, userID string) error {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err == nil {
		if chat.UserID != "" && chat.UserID != userID {
			return fmt.Errorf("%w: chat owned by another user", ErrProtocolViolation)
		}
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("get chat session: %w", err)
	}

	now := time.Now().UTC()
	return s.chats.Create(ctx, domain.ChatSession{
		ID:        chatID,
		UserID:    userID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// resolveContext lee la ventana desde cache y, en un miss, la reconstruye
// desde el store durable con el mismo límite y orden cronológico para que el
// comportamiento aguas abajo sea idéntico con cache fría o caliente.
func (s *ChatService) resolveContext(ctx context.Context, chatID string) ([]domain.CachedTurn, error) {
	if s.cache != nil {
		turns, err := s.cache.GetLastMessages(ctx, chatID, s.window)
		if err == nil && len(turns) > 0 {
			return turns, nil
		}
		if err != nil {
			s.logger.Warn("context cache read failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}

	recent, err := s.messages.ListRecent(ctx, chatID, s.window)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}

	// ListRecent entrega del más nuevo al más viejo; se invierte a cronológico.
	turns := make([]domain.CachedTurn, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		turns = append(turns, recent[i].AsCachedTurn())
	}

	if s.cache != nil && len(turns) > 0 {
		if err := s.cache.SetMessages(ctx, chatID, turns); err != nil {
			s.logger.Warn("context cache repopulate failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	return turns, nil
}

func (s *ChatService) appendCached(ctx context.Context, chatID string, turn domain.CachedTurn) {
	if s.cache == nil {
		return
	}
	if err := s.cache.AppendMessage(ctx, chatID, turn); err != nil {
		s.logger.Warn("context cache append failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func (s *ChatService) touchSession(ctx context.Context, chatID string, at time.Time) {
	if err := s.chats.Touch(ctx, chatID, at); err != nil {
		s.logger.Warn("touch chat session failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}

// writeFrame clasifica fallas de envío: una desconexión rutinaria devuelve el
// error original, cualquier otra cosa se marca como falla de transporte.
func (s *ChatService) writeFrame(conn FrameWriter, frame Frame) error {
	err := conn.WriteJSON(frame)
	if err == nil {
		return nil
	}
	if isRoutineDisconnect(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransportFault, err)
}

func isRoutineDisconnect(err error) bool {
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}

func buildLLMTurns(history []domain.CachedTurn, userMsg domain.ChatMessage) []llm.Turn {
	turns := make([]llm.Turn, 0, len(history)+1)
	for _, turn := range history {
		turns = append(turns, llm.Turn{Role: turn.Role, Content: turn.Content.PlainText()})
	}
	return append(turns, llm.Turn{Role: userMsg.Role, Content: userMsg.Content.PlainText()})
}
