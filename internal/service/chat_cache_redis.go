package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chat-relay/internal/domain"
)

type redisChatCache struct {
	client redisListClient
	window int
	logger *zap.Logger
}

type redisListClient interface {
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// NewRedisChatCache crea una cache de contexto sobre listas de redis. La
// ventana se recorta en cada append para acotar memoria en el store compartido.
func NewRedisChatCache(client *redis.Client, window int, logger *zap.Logger) ChatCache {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = 15
	}
	return &redisChatCache{client: client, window: window, logger: logger}
}

func chatCacheKey(chatID string) string {
	return "chat:" + chatID + ":messages"
}

func (c *redisChatCache) GetLastMessages(ctx context.Context, chatID string, limit int) ([]domain.CachedTurn, error) {
	if limit <= 0 {
		limit = c.window
	}
	raw, err := c.client.LRange(ctx, chatCacheKey(chatID), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}

	turns := make([]domain.CachedTurn, 0, len(raw))
	for _, entry := range raw {
		var turn domain.CachedTurn
		if err := json.Unmarshal([]byte(entry), &turn); err != nil {
			// Entradas corruptas se saltan; la ventana es best-effort.
			if c.logger != nil {
				c.logger.Warn("cached turn corrupted", zap.String("chat_id", chatID), zap.Error(err))
			}
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (c *redisChatCache) SetMessages(ctx context.Context, chatID string, turns []domain.CachedTurn) error {
	key := chatCacheKey(chatID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(turns))
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return err
		}
		values = append(values, data)
	}
	if err := c.client.RPush(ctx, key, values...).Err(); err != nil {
		return err
	}
	return c.client.LTrim(ctx, key, int64(-c.window), -1).Err()
}

func (c *redisChatCache) AppendMessage(ctx context.Context, chatID string, turn domain.CachedTurn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	key := chatCacheKey(chatID)
	if err := c.client.RPush(ctx, key, data).Err(); err != nil {
		return err
	}
	return c.client.LTrim(ctx, key, int64(-c.window), -1).Err()
}
