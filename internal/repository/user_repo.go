package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"chat-relay/internal/domain"
)

type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	UpdateOTP(ctx context.Context, id, codeHash string, expiresAt time.Time) error
	VerifyEmail(ctx context.Context, id string, verifiedAt time.Time) error
}

type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO users (id, email, display_name, email_verified_at, otp_code_hash, otp_expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		user.EmailVerifiedAt,
		user.OtpCodeHash,
		user.OtpExpiresAt,
		user.CreatedAt,
	)
	return err
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.getOne(ctx, `WHERE email = $1`, email)
}

func (r *PgUserRepository) getOne(ctx context.Context, where string, arg any) (domain.User, error) {
	query := `
		SELECT id, email, display_name, email_verified_at, otp_code_hash, otp_expires_at, created_at
		FROM users ` + where

	var user domain.User
	var displayName, otpHash *string

	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&displayName,
		&user.EmailVerifiedAt,
		&otpHash,
		&user.OtpExpiresAt,
		&user.CreatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	if displayName != nil {
		user.DisplayName = *displayName
	}
	if otpHash != nil {
		user.OtpCodeHash = *otpHash
	}
	return user, nil
}

func (r *PgUserRepository) UpdateOTP(ctx context.Context, id, codeHash string, expiresAt time.Time) error {
	const query = `
		UPDATE users SET otp_code_hash = $2, otp_expires_at = $3 WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, codeHash, expiresAt)
	return err
}

func (r *PgUserRepository) VerifyEmail(ctx context.Context, id string, verifiedAt time.Time) error {
	const query = `
		UPDATE users
		SET email_verified_at = COALESCE(email_verified_at, $2), otp_code_hash = NULL, otp_expires_at = NULL
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, verifiedAt)
	return err
}
