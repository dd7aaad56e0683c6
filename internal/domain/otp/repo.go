package otp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("no pending verification")

type Repository interface {
	Create(ctx context.Context, v *Verification) error
	// Pending returns the newest unconsumed verification for phone.
	Pending(ctx context.Context, phone string) (*Verification, error)
	// LastIssued returns when the newest code for phone was created, consumed
	// or not. ok is false when none exists.
	LastIssued(ctx context.Context, phone string) (t time.Time, ok bool, err error)
	// ReserveAttempt increments attempts only while the row is unconsumed and
	// below max, and reports whether a guess may be checked.
	ReserveAttempt(ctx context.Context, id uuid.UUID, max int) (bool, error)
	// Consume sets consumed_at if it is still unset and reports whether it did.
	Consume(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
