package vaccination

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wecare/clinic/internal/domain/inventory"
	"github.com/wecare/clinic/internal/platform/db"
	"github.com/wecare/clinic/pkg/validation"
)

// ErrUnknownReference is returned when a dose points at a patient,
// appointment or inventory item that does not exist.
var ErrUnknownReference = errors.New("referenced record does not exist")

const (
	DefaultDueDays = 30
	maxNotesLength = 1000
)

// TxRunner is satisfied by *db.Transactor.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// StockConsumer takes one unit out of an inventory item.
type StockConsumer interface {
	Consume(ctx context.Context, id uuid.UUID) (*inventory.Item, error)
}

type Service struct {
	repo   Repository
	tx     TxRunner
	stock  StockConsumer
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(repo Repository, tx TxRunner, stock StockConsumer, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:   repo,
		tx:     tx,
		stock:  stock,
		loc:    loc,
		now:    time.Now,
		logger: logger.With().Str("component", "vaccination").Logger(),
	}
}

func (s *Service) today() time.Time {
	n := s.now().In(s.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, s.loc)
}

func (s *Service) fromInput(in RecordInput, staffID uuid.UUID) (*Vaccination, error) {
	if in.PatientID == uuid.Nil {
		return nil, validation.Errorf("patient_id is required")
	}
	name := strings.TrimSpace(in.VaccineName)
	if name == "" {
		return nil, validation.Errorf("vaccine_name is required")
	}
	if in.DoseNumber < 0 {
		return nil, validation.Errorf("dose_number must be >= 1")
	}
	notes := strings.TrimSpace(in.Notes)
	if len([]rune(notes)) > maxNotesLength {
		return nil, validation.Errorf("notes must be at most %d characters", maxNotesLength)
	}

	v := &Vaccination{
		PatientID:       in.PatientID,
		VaccineName:     name,
		DoseNumber:      in.DoseNumber,
		AppointmentID:   in.AppointmentID,
		InventoryItemID: in.InventoryItemID,
		AdministeredAt:  s.now(),
	}
	if in.AdministeredAt != nil {
		if in.AdministeredAt.After(s.now()) {
			return nil, validation.Errorf("administered_at cannot be in the future")
		}
		v.AdministeredAt = *in.AdministeredAt
	}
	if staffID != uuid.Nil {
		v.AdministeredBy = &staffID
	}
	if in.NextDoseDate != "" {
		d, err := time.ParseInLocation(dateLayout, in.NextDoseDate, s.loc)
		if err != nil {
			return nil, validation.Errorf("next_dose_date must be YYYY-MM-DD")
		}
		if !d.After(v.AdministeredAt.In(s.loc)) {
			return nil, validation.Errorf("next_dose_date must be after administered_at")
		}
		v.NextDoseDate = &d
	}
	if notes != "" {
		v.Notes = &notes
	}
	return v, nil
}

// Record stores a dose. Dose number and inventory decrement run in one
// transaction so a failed insert leaves stock untouched.
func (s *Service) Record(ctx context.Context, in RecordInput, staffID uuid.UUID) (*Vaccination, error) {
	v, err := s.fromInput(in, staffID)
	if err != nil {
		return nil, err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if v.DoseNumber == 0 {
			last, err := s.repo.MaxDose(ctx, v.PatientID, v.VaccineName)
			if err != nil {
				return err
			}
			v.DoseNumber = last + 1
		}
		if v.InventoryItemID != nil {
			if _, err := s.stock.Consume(ctx, *v.InventoryItemID); err != nil {
				if errors.Is(err, inventory.ErrNotFound) {
					return fmt.Errorf("inventory item: %w", ErrUnknownReference)
				}
				return err
			}
		}
		if err := s.repo.Create(ctx, v); err != nil {
			if db.IsForeignKeyViolation(err) {
				return ErrUnknownReference
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("vaccination_id", v.ID.String()).
		Str("patient_id", v.PatientID.String()).
		Str("vaccine", v.VaccineName).
		Int("dose", v.DoseNumber).
		Msg("dose recorded")
	return v, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Vaccination, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Vaccination, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Vaccination, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) Summary(ctx context.Context) ([]PatientSummary, error) {
	rows, err := s.repo.DoseRows(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(rows), nil
}

// Due lists pending next doses from today through today+days. Overdue
// doses are not included.
func (s *Service) Due(ctx context.Context, days int) ([]*Vaccination, error) {
	if days <= 0 {
		days = DefaultDueDays
	}
	from := s.today()
	return s.repo.DueBetween(ctx, from, from.AddDate(0, 0, days))
}
