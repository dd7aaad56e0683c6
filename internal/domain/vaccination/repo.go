package vaccination

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("vaccination not found")

type Repository interface {
	Create(ctx context.Context, v *Vaccination) error
	GetByID(ctx context.Context, id uuid.UUID) (*Vaccination, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Vaccination, error)
	List(ctx context.Context, limit, offset int) ([]*Vaccination, int, error)
	// MaxDose is the highest recorded dose of vaccine for the patient, 0 if
	// none. Vaccine names compare case-insensitively.
	MaxDose(ctx context.Context, patientID uuid.UUID, vaccine string) (int, error)
	DoseRows(ctx context.Context) ([]DoseRow, error)
	// DueBetween lists doses whose next_dose_date falls in [from, to] and
	// that have no later dose of the same vaccine.
	DueBetween(ctx context.Context, from, to time.Time) ([]*Vaccination, error)
}
