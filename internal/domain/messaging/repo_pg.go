package messaging

import (
	"context"

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

const messageSelect = `SELECT m.id, m.sender_id, m.recipient_id, m.body, m.read_at, m.created_at,
	COALESCE(s.full_name, ''), COALESCE(rc.full_name, '')
	FROM messages m
	LEFT JOIN profiles s ON s.id = m.sender_id
	LEFT JOIN profiles rc ON rc.id = m.recipient_id`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &m.ReadAt, &m.CreatedAt,
		&m.SenderName, &m.RecipientName)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func collect(rows pgx.Rows) ([]*Message, error) {
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, m *Message) error {
	return r.conn(ctx).QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO messages (sender_id, recipient_id, body) VALUES ($1, $2, $3)
			RETURNING id, created_at
		)
		SELECT ins.id, ins.created_at, COALESCE(s.full_name, ''), COALESCE(rc.full_name, '')
		FROM ins
		LEFT JOIN profiles s ON s.id = $1
		LEFT JOIN profiles rc ON rc.id = $2`,
		m.SenderID, m.RecipientID, m.Body,
	).Scan(&m.ID, &m.CreatedAt, &m.SenderName, &m.RecipientName)
}

func (r *repoPG) Conversation(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*Message, int, error) {
	const pair = `((m.sender_id = $1 AND m.recipient_id = $2) OR (m.sender_id = $2 AND m.recipient_id = $1))`
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM messages m WHERE `+pair, a, b).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, messageSelect+` WHERE `+pair+`
		ORDER BY m.created_at, m.id LIMIT $3 OFFSET $4`, a, b, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) Recent(ctx context.Context, userID uuid.UUID, limit int) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx, messageSelect+`
		WHERE m.sender_id = $1 OR m.recipient_id = $1
		ORDER BY m.created_at DESC, m.id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *repoPG) MarkRead(ctx context.Context, recipient, sender uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE messages SET read_at = NOW()
		WHERE recipient_id = $1 AND sender_id = $2 AND read_at IS NULL`, recipient, sender)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM messages
		WHERE recipient_id = $1 AND read_at IS NULL`, userID).Scan(&n)
	return n, err
}
