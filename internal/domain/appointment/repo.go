package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("appointment not found")
	// ErrConflict means the appointment exists but is no longer in a state
	// the transition accepts, usually because another admin settled it.
	ErrConflict = errors.New("appointment was already handled")
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
	// Transition applies t in a single conditional UPDATE and returns the
	// updated row, ErrNotFound or ErrConflict.
	Transition(ctx context.Context, id uuid.UUID, t Transition) (*Appointment, error)
	ListOnDate(ctx context.Context, date time.Time, status string) ([]*Appointment, error)
	// MarkReminderSent reports false when a reminder was already recorded.
	MarkReminderSent(ctx context.Context, id uuid.UUID) (bool, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}
