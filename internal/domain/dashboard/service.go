// Package dashboard aggregates the staff overview from the other domains.
package dashboard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wecare/clinic/internal/domain/appointment"
	"github.com/wecare/clinic/internal/domain/inventory"
	"github.com/wecare/clinic/internal/platform/auth"
)

const expiringWindowDays = 30

type AppointmentStats interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
	TodayApproved(ctx context.Context) ([]*appointment.Appointment, error)
}

type InventoryStats interface {
	Alerts(ctx context.Context, days int) (*inventory.Alerts, error)
}

type PatientCounter interface {
	CountByRole(ctx context.Context, role string) (int, error)
}

type UnreadCounter interface {
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
}

type Stats struct {
	Appointments   map[string]int             `json:"appointments"`
	TodayApproved  []*appointment.Appointment `json:"today_approved"`
	Pending        int                        `json:"pending"`
	LowStock       int                        `json:"low_stock"`
	Expiring       int                        `json:"expiring"`
	Expired        int                        `json:"expired"`
	Patients       int                        `json:"patients"`
	UnreadMessages int                        `json:"unread_messages"`
	GeneratedAt    time.Time                  `json:"generated_at"`
}

type Service struct {
	appointments AppointmentStats
	inventory    InventoryStats
	patients     PatientCounter
	messages     UnreadCounter
	now          func() time.Time
}

func NewService(appointments AppointmentStats, inv InventoryStats, patients PatientCounter, messages UnreadCounter) *Service {
	return &Service{
		appointments: appointments,
		inventory:    inv,
		patients:     patients,
		messages:     messages,
		now:          time.Now,
	}
}

// Stats runs the independent queries concurrently; the first failure cancels
// the rest.
func (s *Service) Stats(ctx context.Context, caller uuid.UUID) (*Stats, error) {
	out := &Stats{GeneratedAt: s.now().UTC()}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		counts, err := s.appointments.CountByStatus(ctx)
		if err != nil {
			return err
		}
		out.Appointments = make(map[string]int, len(appointment.Statuses))
		for _, st := range appointment.Statuses {
			out.Appointments[st] = counts[st]
		}
		out.Pending = counts[appointment.StatusPending]
		return nil
	})
	g.Go(func() error {
		today, err := s.appointments.TodayApproved(ctx)
		if err != nil {
			return err
		}
		if today == nil {
			today = []*appointment.Appointment{}
		}
		out.TodayApproved = today
		return nil
	})
	g.Go(func() error {
		alerts, err := s.inventory.Alerts(ctx, expiringWindowDays)
		if err != nil {
			return err
		}
		out.LowStock = len(alerts.LowStock)
		out.Expiring = len(alerts.Expiring)
		out.Expired = len(alerts.Expired)
		return nil
	})
	g.Go(func() error {
		n, err := s.patients.CountByRole(ctx, auth.RolePatient)
		out.Patients = n
		return err
	})
	g.Go(func() error {
		n, err := s.messages.UnreadCount(ctx, caller)
		out.UnreadMessages = n
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
