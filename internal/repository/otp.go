package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/storefront-api/internal/model"
)

type OTPRepository interface {
	// Upsert replaces any previous code issued for the same email.
	Upsert(ctx context.Context, otp *model.OTPCode) error
	Get(ctx context.Context, email string) (*model.OTPCode, error)
	Delete(ctx context.Context, email string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type pgOTPRepo struct{ pool *pgxpool.Pool }

func NewOTPRepository(pool *pgxpool.Pool) OTPRepository {
	return &pgOTPRepo{pool: pool}
}

func (r *pgOTPRepo) Upsert(ctx context.Context, otp *model.OTPCode) error {
	err := conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO otp_codes (email, code, expires_at, created_at) VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (email) DO UPDATE SET code = EXCLUDED.code, expires_at = EXCLUDED.expires_at, created_at = NOW()
		 RETURNING created_at`,
		otp.Email, otp.Code, otp.ExpiresAt,
	).Scan(&otp.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert otp: %w", err)
	}
	return nil
}

func (r *pgOTPRepo) Get(ctx context.Context, email string) (*model.OTPCode, error) {
	otp := &model.OTPCode{}
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT email, code, expires_at, created_at FROM otp_codes WHERE email = $1`, email,
	).Scan(&otp.Email, &otp.Code, &otp.ExpiresAt, &otp.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get otp: %w", err)
	}
	return otp, nil
}

func (r *pgOTPRepo) Delete(ctx context.Context, email string) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM otp_codes WHERE email = $1`, email); err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}

func (r *pgOTPRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM otp_codes WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired otp: %w", err)
	}
	return ct.RowsAffected(), nil
}
