package messaging

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, m *Message) error
	// Conversation returns messages between a and b, oldest first.
	Conversation(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*Message, int, error)
	// Recent returns the newest messages sent or received by userID.
	Recent(ctx context.Context, userID uuid.UUID, limit int) ([]*Message, error)
	// MarkRead marks everything from sender to recipient as read.
	MarkRead(ctx context.Context, recipient, sender uuid.UUID) (int, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
}
