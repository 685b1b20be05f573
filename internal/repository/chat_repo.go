package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"chat-relay/internal/domain"
)

type ChatRepository interface {
	Create(ctx context.Context, chat domain.ChatSession) error
	GetByID(ctx context.Context, id string) (domain.ChatSession, error)
	ListByUserID(ctx context.Context, userID string) ([]domain.ChatSession, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

type PgChatRepository struct {
	pool *pgxpool.Pool
}

func NewPgChatRepository(pool *pgxpool.Pool) *PgChatRepository {
	return &PgChatRepository{pool: pool}
}

func (r *PgChatRepository) Create(ctx context.Context, chat domain.ChatSession) error {
	const query = `
		INSERT INTO chat_sessions (id, user_id, title, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	var userID interface{}
	if chat.UserID != "" {
		userID = chat.UserID
	}

	_, err := r.pool.Exec(ctx, query,
		chat.ID,
		userID,
		chat.Title,
		chat.IsActive,
		chat.CreatedAt,
		chat.UpdatedAt,
	)
	return err
}

func (r *PgChatRepository) GetByID(ctx context.Context, id string) (domain.ChatSession, error) {
	const query = `
		SELECT id, user_id, title, is_active, created_at, updated_at
		FROM chat_sessions
		WHERE id = $1
	`

	var chat domain.ChatSession
	var userID, title *string

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&chat.ID,
		&userID,
		&title,
		&chat.IsActive,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return domain.ChatSession{}, err
	}
	if userID != nil {
		chat.UserID = *userID
	}
	if title != nil {
		chat.Title = *title
	}
	return chat, nil
}

func (r *PgChatRepository) ListByUserID(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	const query = `
		SELECT id, user_id, title, is_active, created_at, updated_at
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []domain.ChatSession
	for rows.Next() {
		var chat domain.ChatSession
		var ownerID, title *string

		if err := rows.Scan(
			&chat.ID,
			&ownerID,
			&title,
			&chat.IsActive,
			&chat.CreatedAt,
			&chat.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if ownerID != nil {
			chat.UserID = *ownerID
		}
		if title != nil {
			chat.Title = *title
		}
		chats = append(chats, chat)
	}

	return chats, rows.Err()
}

// Touch adelanta updated_at para que la sesión nunca quede por detrás de sus mensajes.
func (r *PgChatRepository) Touch(ctx context.Context, id string, at time.Time) error {
	const query = `
		UPDATE chat_sessions
		SET updated_at = GREATEST(updated_at, $2)
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, at)
	return err
}
