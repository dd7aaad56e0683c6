package profile

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("profile not found")

type Repository interface {
	Create(ctx context.Context, p *Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*Profile, error)
	Update(ctx context.Context, p *Profile) error
	SetRole(ctx context.Context, id uuid.UUID, role string) error
	SetAvatar(ctx context.Context, id uuid.UUID, path string) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Profile, int, error)
	ListByRole(ctx context.Context, role string) ([]*Profile, error)
	CountByRole(ctx context.Context, role string) (int, error)
	// SetSMSOptOut updates every profile with phone and returns the count.
	SetSMSOptOut(ctx context.Context, phone string, optOut bool) (int, error)
	MarkPhoneVerified(ctx context.Context, id uuid.UUID, phone string) error
}
