package sms

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"

	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusReceived = "received"
)

// Message is one row of the sms_messages log.
type Message struct {
	ID                uuid.UUID `db:"id" json:"id"`
	Provider          string    `db:"provider" json:"provider"`
	ProviderMessageID *string   `db:"provider_message_id" json:"provider_message_id,omitempty"`
	Direction         string    `db:"direction" json:"direction"`
	Phone             string    `db:"phone" json:"phone"`
	Body              string    `db:"body" json:"body"`
	Status            string    `db:"status" json:"status"`
	Error             *string   `db:"error" json:"error,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Store persists the SMS log.
type Store interface {
	Create(ctx context.Context, m *Message) error
	// UpdateStatus applies a delivery receipt; it reports false when no
	// outbound row carries providerMessageID.
	UpdateStatus(ctx context.Context, provider, providerMessageID, status string, errMsg *string) (bool, error)
	List(ctx context.Context, phone string, limit, offset int) ([]*Message, int, error)
}
