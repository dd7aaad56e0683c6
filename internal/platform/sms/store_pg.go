package sms

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wecare/clinic/internal/platform/db"
)

type StorePG struct {
	pool *pgxpool.Pool
}

func NewStorePG(pool *pgxpool.Pool) *StorePG {
	return &StorePG{pool: pool}
}

const smsCols = `id, provider, provider_message_id, direction, phone, body, status, error, created_at, updated_at`

func (s *StorePG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.Provider, &m.ProviderMessageID, &m.Direction, &m.Phone,
		&m.Body, &m.Status, &m.Error, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *StorePG) Create(ctx context.Context, m *Message) error {
	return s.conn(ctx).QueryRow(ctx, `
		INSERT INTO sms_messages (provider, provider_message_id, direction, phone, body, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		m.Provider, m.ProviderMessageID, m.Direction, m.Phone, m.Body, m.Status, m.Error,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

func (s *StorePG) UpdateStatus(ctx context.Context, provider, providerMessageID, status string, errMsg *string) (bool, error) {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE sms_messages SET status = $3, error = COALESCE($4, error), updated_at = NOW()
		WHERE provider = $1 AND provider_message_id = $2 AND direction = 'outbound'`,
		provider, providerMessageID, status, errMsg)
	if err != nil {
		return false, fmt.Errorf("update sms status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *StorePG) List(ctx context.Context, phone string, limit, offset int) ([]*Message, int, error) {
	where := ""
	args := []interface{}{}
	if phone != "" {
		where = " WHERE phone = $1"
		args = append(args, phone)
	}

	var total int
	if err := s.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM sms_messages"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM sms_messages%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		smsCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}
