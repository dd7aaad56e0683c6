package appointment

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusDeclined  = "declined"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

var Statuses = []string{StatusPending, StatusApproved, StatusDeclined, StatusCancelled, StatusCompleted}

func ValidStatus(s string) bool {
	for _, st := range Statuses {
		if st == s {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	FullName       string     `db:"full_name" json:"full_name"`
	Age            int        `db:"age" json:"age"`
	Sex            string     `db:"sex" json:"sex"`
	ContactNumber  string     `db:"contact_number" json:"contact_number"`
	Address        string     `db:"address" json:"address"`
	Service        string     `db:"service" json:"service"`
	PreferredDate  time.Time  `db:"preferred_date" json:"preferred_date"`
	PreferredTime  string     `db:"preferred_time" json:"preferred_time"`
	Notes          *string    `db:"notes" json:"notes,omitempty"`
	Status         string     `db:"status" json:"status"`
	DeclineReason  *string    `db:"decline_reason" json:"decline_reason,omitempty"`
	HandledBy      *uuid.UUID `db:"handled_by" json:"handled_by,omitempty"`
	ReminderSentAt *time.Time `db:"reminder_sent_at" json:"reminder_sent_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// DateString formats PreferredDate as YYYY-MM-DD.
func (a *Appointment) DateString() string {
	return a.PreferredDate.Format(dateLayout)
}

// Transition is a conditional status change: it applies only while the
// appointment is in one of From.
type Transition struct {
	From      []string
	To        string
	HandledBy *uuid.UUID
	Reason    *string
	// PatientID restricts the change to the patient's own appointment.
	PatientID *uuid.UUID
}

type ListFilter struct {
	Status    string
	PatientID *uuid.UUID
}
