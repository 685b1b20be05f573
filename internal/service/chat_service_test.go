package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"

	"chat-relay/internal/domain"
	"chat-relay/internal/llm"
)

type mockChatRepo struct {
	chats   map[string]domain.ChatSession
	created []domain.ChatSession
	touched int
}

func newMockChatRepo() *mockChatRepo {
	return &mockChatRepo{chats: make(map[string]domain.ChatSession)}
}

func (m *mockChatRepo) Create(_ context.Context, chat domain.ChatSession) error {
	m.chats[chat.ID] = chat
	m.created = append(m.created, chat)
	return nil
}

func (m *mockChatRepo) GetByID(_ context.Context, id string) (domain.ChatSession, error) {
	chat, ok := m.chats[id]
	if !ok {
		return domain.ChatSession{}, pgx.ErrNoRows
	}
	return chat, nil
}

func (m *mockChatRepo) ListByUserID(_ context.Context, _ string) ([]domain.ChatSession, error) {
	return nil, nil
}

func (m *mockChatRepo) Touch(_ context.Context, id string, at time.Time) error {
	m.touched++
	chat, ok := m.chats[id]
	if ok && at.After(chat.UpdatedAt) {
		chat.UpdatedAt = at
		m.chats[id] = chat
	}
	return nil
}

type mockMessageRepo struct {
	created []domain.ChatMessage
	stored  []domain.ChatMessage // historial existente, del más nuevo al más viejo
	err     error
}

func (m *mockMessageRepo) Create(_ context.Context, message domain.ChatMessage) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, message)
	return nil
}

func (m *mockMessageRepo) ListRecent(_ context.Context, _ string, limit int) ([]domain.ChatMessage, error) {
	if limit > len(m.stored) {
		limit = len(m.stored)
	}
	return m.stored[:limit], nil
}

func (m *mockMessageRepo) ListPage(_ context.Context, _ string, _, _ int) ([]domain.ChatMessage, int, error) {
	return nil, 0, nil
}

type frameRecorder struct {
	frames   []Frame
	writeErr error
}

func (r *frameRecorder) WriteJSON(v any) error {
	if r.writeErr != nil {
		return r.writeErr
	}
	frame, ok := v.(Frame)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", v)
	}
	r.frames = append(r.frames, frame)
	return nil
}

func inbound(model, chatID, content string) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"message","model":%q,"message":{"chat_id":%q,"content":%q}}`,
		model, chatID, content,
	))
}

func newTestService(chats *mockChatRepo, messages *mockMessageRepo, cache ChatCache, client llm.StreamingClient) *ChatService {
	return NewChatService(nil, chats, messages, cache, client, 15)
}

func TestProcessTurnHappyPath(t *testing.T) {
	chats := newMockChatRepo()
	messages := &mockMessageRepo{}
	cache := NewMemoryChatCache(15)
	client := &llm.MockStreamingClient{Tokens: []string{"Hola", ", ", "mundo"}}
	svc := newTestService(chats, messages, cache, client)
	conn := &frameRecorder{}

	err := svc.ProcessTurn(context.Background(), conn, "u1", inbound("gpt-4", "chat-1", "hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Frames: tokens en orden y un end final.
	if len(conn.frames) != 4 {
		t.Fatalf("expected 4 frames, got %d: %v", len(conn.frames), conn.frames)
	}
	for i, want := range []string{"Hola", ", ", "mundo"} {
		if conn.frames[i].Type != FrameTypeToken || conn.frames[i].Content != want {
			t.Fatalf("frame %d mismatch: %+v", i, conn.frames[i])
		}
	}
	if conn.frames[3].Type != FrameTypeEnd {
		t.Fatalf("expected end frame, got %+v", conn.frames[3])
	}

	// Persistencia: exactamente un mensaje user y uno assistant, en ese orden.
	if len(messages.created) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(messages.created))
	}
	if messages.created[0].Role != domain.RoleUser || messages.created[0].Content.PlainText() != "hi" {
		t.Fatalf("unexpected user message: %+v", messages.created[0])
	}
	if messages.created[1].Role != domain.RoleAssistant || messages.created[1].Content.PlainText() != "Hola, mundo" {
		t.Fatalf("unexpected assistant message: %+v", messages.created[1])
	}

	// Sesión creada en el primer mensaje y con updated_at al día.
	if len(chats.created) != 1 || chats.created[0].UserID != "u1" {
		t.Fatalf("expected session auto-created for u1, got %v", chats.created)
	}
	session := chats.chats["chat-1"]
	for _, msg := range messages.created {
		if session.UpdatedAt.Before(msg.CreatedAt) {
			t.Fatalf("session updated_at %v precedes message %v", session.UpdatedAt, msg.CreatedAt)
		}
	}

	// Cache: ambos turnos quedaron appendados.
	turns, _ := cache.GetLastMessages(context.Background(), "chat-1", 15)
	if len(turns) != 2 {
		t.Fatalf("expected 2 cached turns, got %d", len(turns))
	}
	if turns[0].Role != domain.RoleUser || turns[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected cached roles: %v", turns)
	}
}

func TestProcessTurnUpstreamFailure(t *testing.T) {
	chats := newMockChatRepo()
	messages := &mockMessageRepo{}
	cache := NewMemoryChatCache(15)
	client := &llm.MockStreamingClient{
		Tokens:    []string{"Hel"},
		StreamErr: fmt.Errorf("%w: connection reset", llm.ErrUpstream),
	}
	svc := newTestService(chats, messages, cache, client)
	conn := &frameRecorder{}

	err := svc.ProcessTurn(context.Background(), conn, "u1", inbound("gpt-4", "chat-1", "hi"))
	if !errors.Is(err, llm.ErrUpstream) {
		t.Fatalf("expected upstream failure, got %v", err)
	}

	// El cliente ve la respuesta parcial pero ningún frame end.
	if len(conn.frames) != 1 || conn.frames[0].Content != "Hel" {
		t.Fatalf("expected single partial token frame, got %v", conn.frames)
	}

	// El mensaje del usuario sobrevive; la respuesta no se persiste.
	if len(messages.created) != 1 || messages.created[0].Role != domain.RoleUser {
		t.Fatalf("expected only the user message persisted, got %v", messages.created)
	}

	// La cache tampoco ve el turno del asistente.
	turns, _ := cache.GetLastMessages(context.Background(), "chat-1", 15)
	if len(turns) != 1 || turns[0].Role != domain.RoleUser {
		t.Fatalf("expected only user turn cached, got %v", turns)
	}
}

func TestProcessTurnProtocolViolations(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
	}{
		{"tipo desconocido", []byte(`{"type":"ping"}`)},
		{"contenido vacio", inbound("gpt-4", "chat-1", "")},
		{"sin chat_id", []byte(`{"type":"message","model":"gpt-4","message":{"content":"hi"}}`)},
		{"json invalido", []byte(`{notjson`)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chats := newMockChatRepo()
			messages := &mockMessageRepo{}
			cache := NewMemoryChatCache(15)
			client := &llm.MockStreamingClient{Tokens: []string{"x"}}
			svc := newTestService(chats, messages, cache, client)
			conn := &frameRecorder{}

			err := svc.ProcessTurn(context.Background(), conn, "u1", tc.raw)
			if !errors.Is(err, ErrProtocolViolation) {
				t.Fatalf("expected protocol violation, got %v", err)
			}
			if len(conn.frames) != 0 {
				t.Fatalf("expected no frames, got %v", conn.frames)
			}
			if len(messages.created) != 0 || len(chats.created) != 0 {
				t.Fatalf("expected no persistence side effects")
			}
			if len(client.Calls) != 0 {
				t.Fatalf("expected no upstream call")
			}
		})
	}
}

func TestProcessTurnUnsupportedModel(t *testing.T) {
	chats := newMockChatRepo()
	messages := &mockMessageRepo{}
	cache := NewMemoryChatCache(15)
	client := &llm.MockStreamingClient{Tokens: []string{"x"}}
	svc := newTestService(chats, messages, cache, client)
	conn := &frameRecorder{}

	err := svc.ProcessTurn(context.Background(), conn, "u1", inbound("gpt-99", "chat-1", "hi"))
	if !errors.Is(err, llm.ErrUnsupportedModel) {
		t.Fatalf("expected unsupported model, got %v", err)
	}
	if len(messages.created) != 0 || len(conn.frames) != 0 || len(client.Calls) != 0 {
		t.Fatalf("expected rejection before any side effect")
	}
}

func TestProcessTurnContextEquivalence(t *testing.T) {
	now := time.Now().UTC()
	// Historial durable, del más nuevo al más viejo, como lo entrega ListRecent.
	stored := []domain.ChatMessage{
		{ID: "m2", ChatID: "chat-1", Role: domain.RoleAssistant, Content: domain.TextContent("buenas"), CreatedAt: now.Add(-1 * time.Minute)},
		{ID: "m1", ChatID: "chat-1", Role: domain.RoleUser, Content: domain.TextContent("hola"), CreatedAt: now.Add(-2 * time.Minute)},
	}

	runTurn := func(cache ChatCache) [][]llm.Turn {
		chats := newMockChatRepo()
		chats.chats["chat-1"] = domain.ChatSession{ID: "chat-1", UserID: "u1", IsActive: true}
		messages := &mockMessageRepo{stored: stored}
		client := &llm.MockStreamingClient{Tokens: []string{"ok"}}
		svc := newTestService(chats, messages, cache, client)

		if err := svc.ProcessTurn(context.Background(), &frameRecorder{}, "u1", inbound("gpt-4", "chat-1", "sigue")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return client.Calls
	}

	// Fría: la cache se puebla desde el store durable.
	coldCache := NewMemoryChatCache(15)
	coldCalls := runTurn(coldCache)

	// Caliente: la cache ya contiene la misma ventana.
	warmCache := NewMemoryChatCache(15)
	_ = warmCache.SetMessages(context.Background(), "chat-1", []domain.CachedTurn{
		{Role: domain.RoleUser, Content: domain.TextContent("hola")},
		{Role: domain.RoleAssistant, Content: domain.TextContent("buenas")},
	})
	warmCalls := runTurn(warmCache)

	if len(coldCalls) != 1 || len(warmCalls) != 1 {
		t.Fatalf("expected one upstream call each, got %d and %d", len(coldCalls), len(warmCalls))
	}
	cold, warm := coldCalls[0], warmCalls[0]
	if len(cold) != len(warm) {
		t.Fatalf("context length differs: cold=%d warm=%d", len(cold), len(warm))
	}
	for i := range cold {
		if cold[i] != warm[i] {
			t.Fatalf("turn %d differs: cold=%+v warm=%+v", i, cold[i], warm[i])
		}
	}
	if cold[0].Content != "hola" || cold[len(cold)-1].Content != "sigue" {
		t.Fatalf("expected chronological context ending with new turn, got %v", cold)
	}

	// El miss repobló la cache con la ventana durable.
	turns, _ := coldCache.GetLastMessages(context.Background(), "chat-1", 2)
	if len(turns) == 0 {
		t.Fatalf("expected cache repopulated after miss")
	}
}

func TestProcessTurnRelayDisconnect(t *testing.T) {
	t.Run("desconexion rutinaria no aborta la persistencia", func(t *testing.T) {
		chats := newMockChatRepo()
		messages := &mockMessageRepo{}
		client := &llm.MockStreamingClient{Tokens: []string{"a", "b"}}
		svc := newTestService(chats, messages, NewMemoryChatCache(15), client)
		conn := &frameRecorder{writeErr: websocket.ErrCloseSent}

		err := svc.ProcessTurn(context.Background(), conn, "u1", inbound("gpt-4", "chat-1", "hi"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// Sin relay posible, el stream igual se consume y la respuesta se guarda.
		if len(messages.created) != 2 || messages.created[1].Content.PlainText() != "ab" {
			t.Fatalf("expected full answer persisted, got %v", messages.created)
		}
	})

	t.Run("falla de transporte inesperada se propaga", func(t *testing.T) {
		chats := newMockChatRepo()
		messages := &mockMessageRepo{}
		client := &llm.MockStreamingClient{Tokens: []string{"a"}}
		svc := newTestService(chats, messages, NewMemoryChatCache(15), client)
		conn := &frameRecorder{writeErr: errors.New("short write")}

		err := svc.ProcessTurn(context.Background(), conn, "u1", inbound("gpt-4", "chat-1", "hi"))
		if !errors.Is(err, ErrTransportFault) {
			t.Fatalf("expected transport fault, got %v", err)
		}
	})
}

func TestProcessTurnForeignChat(t *testing.T) {
	chats := newMockChatRepo()
	chats.chats["chat-1"] = domain.ChatSession{ID: "chat-1", UserID: "otro", IsActive: true}
	messages := &mockMessageRepo{}
	client := &llm.MockStreamingClient{Tokens: []string{"x"}}
	svc := newTestService(chats, messages, NewMemoryChatCache(15), client)

	err := svc.ProcessTurn(context.Background(), &frameRecorder{}, "u1", inbound("gpt-4", "chat-1", "hi"))
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("expected protocol violation for foreign chat, got %v", err)
	}
	if len(messages.created) != 0 {
		t.Fatalf("expected no persistence")
	}
}
