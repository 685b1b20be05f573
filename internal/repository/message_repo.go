package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"chat-relay/internal/domain"
)

type MessageRepository interface {
	Create(ctx context.Context, message domain.ChatMessage) error
	// ListRecent devuelve hasta limit mensajes de la sesión, del más nuevo al más viejo.
	ListRecent(ctx context.Context, chatID string, limit int) ([]domain.ChatMessage, error)
	// ListPage devuelve una página en orden cronológico junto al total de la sesión.
	ListPage(ctx context.Context, chatID string, limit, offset int) ([]domain.ChatMessage, int, error)
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

func (r *PgMessageRepository) Create(ctx context.Context, message domain.ChatMessage) error {
	const query = `
		INSERT INTO chat_messages (id, chat_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	contentJSON, err := json.Marshal(message.Content)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, query,
		message.ID,
		message.ChatID,
		message.Role,
		contentJSON,
		message.CreatedAt,
	)
	return err
}

func (r *PgMessageRepository) ListRecent(ctx context.Context, chatID string, limit int) ([]domain.ChatMessage, error) {
	const query = `
		SELECT id, chat_id, role, content, created_at
		FROM chat_messages
		WHERE chat_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *PgMessageRepository) ListPage(ctx context.Context, chatID string, limit, offset int) ([]domain.ChatMessage, int, error) {
	const query = `
		SELECT id, chat_id, role, content, created_at
		FROM chat_messages
		WHERE chat_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, chatID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}

	const countQuery = `SELECT COUNT(*) FROM chat_messages WHERE chat_id = $1`
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, chatID).Scan(&total); err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

type pgRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows pgRows) ([]domain.ChatMessage, error) {
	var messages []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var contentJSON []byte

		if err := rows.Scan(
			&msg.ID,
			&msg.ChatID,
			&msg.Role,
			&contentJSON,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(contentJSON, &msg.Content); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
