package service

import (
	"context"
	"sync"

	"chat-relay/internal/domain"
)

// ChatCache guarda la ventana de turnos recientes de cada sesión de chat.
// Es una cache de recencia best-effort, no una fuente de verdad: dos turnos
// concurrentes sobre el mismo chat pueden intercalar appends y eso se acepta.
// Una lectura vacía es indistinguible de "nunca poblada"; el caller debe
// repoblar desde el store durable.
type ChatCache interface {
	GetLastMessages(ctx context.Context, chatID string, limit int) ([]domain.CachedTurn, error)
	SetMessages(ctx context.Context, chatID string, turns []domain.CachedTurn) error
	AppendMessage(ctx context.Context, chatID string, turn domain.CachedTurn) error
}

type memoryChatCache struct {
	mu     sync.Mutex
	window int
	turns  map[string][]domain.CachedTurn
}

// NewMemoryChatCache crea una cache en memoria para tests y ambientes sin redis.
func NewMemoryChatCache(window int) ChatCache {
	if window <= 0 {
		window = 15
	}
	return &memoryChatCache{
		window: window,
		turns:  make(map[string][]domain.CachedTurn),
	}
}

func (c *memoryChatCache) GetLastMessages(_ context.Context, chatID string, limit int) ([]domain.CachedTurn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	turns := c.turns[chatID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]domain.CachedTurn, len(turns))
	copy(out, turns)
	return out, nil
}

func (c *memoryChatCache) SetMessages(_ context.Context, chatID string, turns []domain.CachedTurn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(turns) == 0 {
		delete(c.turns, chatID)
		return nil
	}
	stored := make([]domain.CachedTurn, len(turns))
	copy(stored, turns)
	c.turns[chatID] = trimTurns(stored, c.window)
	return nil
}

func (c *memoryChatCache) AppendMessage(_ context.Context, chatID string, turn domain.CachedTurn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns[chatID] = trimTurns(append(c.turns[chatID], turn), c.window)
	return nil
}

func trimTurns(turns []domain.CachedTurn, window int) []domain.CachedTurn {
	if window > 0 && len(turns) > window {
		return turns[len(turns)-window:]
	}
	return turns
}
