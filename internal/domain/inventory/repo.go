package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("inventory item not found")
	// ErrInsufficientStock is returned when an adjustment would take stock
	// below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
)

type Repository interface {
	Create(ctx context.Context, it *Item) error
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)
	Update(ctx context.Context, it *Item) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Item, int, error)
	All(ctx context.Context) ([]*Item, error)
	// Adjust adds delta to stock in one conditional UPDATE.
	Adjust(ctx context.Context, id uuid.UUID, delta int) (*Item, error)
}
