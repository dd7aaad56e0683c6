package otp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wecare/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) Create(ctx context.Context, v *Verification) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO phone_verifications (user_id, phone, code_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, attempts, created_at`,
		v.UserID, v.Phone, v.CodeHash, v.ExpiresAt,
	).Scan(&v.ID, &v.Attempts, &v.CreatedAt)
}

func (r *repoPG) Pending(ctx context.Context, phone string) (*Verification, error) {
	var v Verification
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, phone, code_hash, expires_at, consumed_at, attempts, created_at
		FROM phone_verifications
		WHERE phone = $1 AND consumed_at IS NULL
		ORDER BY created_at DESC LIMIT 1`, phone,
	).Scan(&v.ID, &v.UserID, &v.Phone, &v.CodeHash, &v.ExpiresAt, &v.ConsumedAt, &v.Attempts, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *repoPG) LastIssued(ctx context.Context, phone string) (time.Time, bool, error) {
	var t *time.Time
	err := r.conn(ctx).QueryRow(ctx, `SELECT MAX(created_at) FROM phone_verifications WHERE phone = $1`, phone).Scan(&t)
	if err != nil || t == nil {
		return time.Time{}, false, err
	}
	return *t, true, nil
}

func (r *repoPG) ReserveAttempt(ctx context.Context, id uuid.UUID, max int) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE phone_verifications SET attempts = attempts + 1
		WHERE id = $1 AND consumed_at IS NULL AND attempts < $2`, id, max)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE phone_verifications SET consumed_at = NOW()
		WHERE id = $1 AND consumed_at IS NULL`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM phone_verifications WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
