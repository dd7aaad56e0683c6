package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wecare/clinic/internal/platform/auth"
	"github.com/wecare/clinic/internal/platform/notify"
	"github.com/wecare/clinic/pkg/validation"
)

// Notifier is the part of notify.Dispatcher the service uses.
type Notifier interface {
	Notify(ctx context.Context, r notify.Recipient, msg notify.Message, ch notify.Channels) notify.Delivery
	NotifyRole(ctx context.Context, role string, msg notify.Message, ch notify.Channels) (int, error)
}

// Result is returned by triage actions. SMSSent is false when the SMS
// failed or was skipped; the status change stands either way.
type Result struct {
	Appointment *Appointment    `json:"appointment"`
	SMSSent     bool            `json:"sms_sent"`
	Delivery    notify.Delivery `json:"delivery"`
}

type Service struct {
	repo      Repository
	validator *Validator
	notifier  Notifier
	directory notify.Directory
	logger    zerolog.Logger
}

func NewService(repo Repository, validator *Validator, notifier Notifier, directory notify.Directory, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		validator: validator,
		notifier:  notifier,
		directory: directory,
		logger:    logger.With().Str("component", "appointment").Logger(),
	}
}

func (s *Service) Validator() *Validator { return s.validator }

// Book validates every wizard step and stores a pending appointment for
// patientID. Admins are told in-app.
func (s *Service) Book(ctx context.Context, patientID uuid.UUID, b Booking) (*Appointment, error) {
	if errs := s.validator.All(&b); errs != nil {
		return nil, errs
	}
	date, _ := time.ParseInLocation(dateLayout, b.PreferredDate, s.validator.loc)
	a := &Appointment{
		PatientID:     patientID,
		FullName:      b.FullName,
		Age:           *b.Age,
		Sex:           b.Sex,
		ContactNumber: b.ContactNumber,
		Address:       b.Address,
		Service:       b.Service,
		PreferredDate: date,
		PreferredTime: b.PreferredTime,
		Status:        StatusPending,
	}
	if b.Notes != "" {
		a.Notes = &b.Notes
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		if _, err := s.notifier.NotifyRole(ctx, auth.RoleAdmin, s.message(notify.TplBookingReceived, a), notify.InAppOnly); err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("notify admins of booking")
		}
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, 0, validation.Errorf("invalid status: %s", f.Status)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// Cancel lets a patient withdraw their own pending or approved appointment.
func (s *Service) Cancel(ctx context.Context, id, patientID uuid.UUID) (*Appointment, error) {
	a, err := s.repo.Transition(ctx, id, Transition{
		From:      []string{StatusPending, StatusApproved},
		To:        StatusCancelled,
		PatientID: &patientID,
	})
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		if _, err := s.notifier.NotifyRole(ctx, auth.RoleAdmin, s.message(notify.TplAppointmentCancelled, a), notify.InAppOnly); err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("notify admins of cancellation")
		}
	}
	return a, nil
}

func (s *Service) Approve(ctx context.Context, id, adminID uuid.UUID) (*Result, error) {
	return s.settle(ctx, id, Transition{From: []string{StatusPending}, To: StatusApproved, HandledBy: &adminID},
		notify.TplAppointmentApproved)
}

func (s *Service) Decline(ctx context.Context, id, adminID uuid.UUID, reason string) (*Result, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLength {
		return nil, validation.Errorf("reason must be at most %d characters", maxReasonLength)
	}
	t := Transition{From: []string{StatusPending}, To: StatusDeclined, HandledBy: &adminID}
	if reason != "" {
		t.Reason = &reason
	}
	return s.settle(ctx, id, t, notify.TplAppointmentDeclined)
}

func (s *Service) Complete(ctx context.Context, id, adminID uuid.UUID) (*Result, error) {
	return s.settle(ctx, id, Transition{From: []string{StatusApproved}, To: StatusCompleted, HandledBy: &adminID},
		notify.TplAppointmentCompleted)
}

// settle writes the transition first; the patient notification that follows
// is best effort.
func (s *Service) settle(ctx context.Context, id uuid.UUID, t Transition, template string) (*Result, error) {
	a, err := s.repo.Transition(ctx, id, t)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", a.ID.String()).Str("status", a.Status).Msg("appointment settled")

	res := &Result{Appointment: a}
	if s.notifier != nil {
		r, ch := s.patientRecipient(ctx, a)
		res.Delivery = s.notifier.Notify(ctx, r, s.message(template, a), ch)
		res.SMSSent = res.Delivery.SMSSent
	}
	return res, nil
}

// patientRecipient texts the number given at booking, keeping the
// profile's opt-out flag. SMS is dropped when the profile cannot be read,
// since the opt-out flag is unknown.
func (s *Service) patientRecipient(ctx context.Context, a *Appointment) (notify.Recipient, notify.Channels) {
	r := notify.Recipient{UserID: a.PatientID}
	ch := notify.InAppAndSMS
	if s.directory != nil {
		if p, err := s.directory.Recipient(ctx, a.PatientID); err == nil {
			r = *p
		} else {
			s.logger.Warn().Err(err).Str("patient_id", a.PatientID.String()).Msg("resolve patient, skipping sms")
			ch.SMS = false
		}
	}
	r.Name = a.FullName
	r.Phone = a.ContactNumber
	return r, ch
}

func (s *Service) message(template string, a *Appointment) notify.Message {
	data := map[string]string{
		"patient_name": a.FullName,
		"service":      a.Service,
		"date":         a.PreferredDate.Format("Mon, Jan 2 2006"),
		"time":         displayTime(a.PreferredTime),
		"reason":       "",
	}
	if a.DeclineReason != nil && *a.DeclineReason != "" {
		data["reason"] = "Reason: " + *a.DeclineReason
	}
	return notify.Message{Template: template, Data: data, Link: "/appointments/" + a.ID.String()}
}

func displayTime(hhmm string) string {
	t, err := time.Parse(timeLayout, hhmm)
	if err != nil {
		return hhmm
	}
	return t.Format("3:04 PM")
}

// SendReminders texts every approved appointment scheduled for tomorrow
// (clinic time) that has not been reminded yet. Each appointment is marked
// before sending so a rerun never sends twice.
func (s *Service) SendReminders(ctx context.Context) error {
	tomorrow := s.validator.Today().AddDate(0, 0, 1)
	items, err := s.repo.ListOnDate(ctx, tomorrow, StatusApproved)
	if err != nil {
		return fmt.Errorf("list appointments for %s: %w", tomorrow.Format(dateLayout), err)
	}

	var sent, skipped int
	for _, a := range items {
		if a.ReminderSentAt != nil {
			skipped++
			continue
		}
		ok, err := s.repo.MarkReminderSent(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("mark reminder for %s: %w", a.ID, err)
		}
		if !ok {
			skipped++
			continue
		}
		if s.notifier == nil {
			continue
		}
		r, ch := s.patientRecipient(ctx, a)
		d := s.notifier.Notify(ctx, r, s.message(notify.TplAppointmentReminder, a), ch)
		if d.SMSSent {
			sent++
		}
	}
	s.logger.Info().Int("due", len(items)).Int("sms_sent", sent).Int("skipped", skipped).Msg("appointment reminders")
	return nil
}

// TodayApproved lists today's approved appointments in clinic time.
func (s *Service) TodayApproved(ctx context.Context) ([]*Appointment, error) {
	return s.repo.ListOnDate(ctx, s.validator.Today(), StatusApproved)
}

func (s *Service) CountByStatus(ctx context.Context) (map[string]int, error) {
	return s.repo.CountByStatus(ctx)
}
