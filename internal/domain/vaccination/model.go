package vaccination

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

type Vaccination struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	AppointmentID   *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	InventoryItemID *uuid.UUID `db:"inventory_item_id" json:"inventory_item_id,omitempty"`
	VaccineName     string     `db:"vaccine_name" json:"vaccine_name"`
	DoseNumber      int        `db:"dose_number" json:"dose_number"`
	AdministeredAt  time.Time  `db:"administered_at" json:"administered_at"`
	AdministeredBy  *uuid.UUID `db:"administered_by" json:"administered_by,omitempty"`
	NextDoseDate    *time.Time `db:"next_dose_date" json:"next_dose_date,omitempty"`
	Notes           *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// RecordInput is the payload for recording a dose. A zero DoseNumber means
// "next dose".
type RecordInput struct {
	PatientID       uuid.UUID  `json:"patient_id"`
	VaccineName     string     `json:"vaccine_name"`
	DoseNumber      int        `json:"dose_number"`
	AdministeredAt  *time.Time `json:"administered_at"`
	AppointmentID   *uuid.UUID `json:"appointment_id"`
	InventoryItemID *uuid.UUID `json:"inventory_item_id"`
	NextDoseDate    string     `json:"next_dose_date"`
	Notes           string     `json:"notes"`
}

// DoseRow is one administered dose joined with the patient's name.
type DoseRow struct {
	PatientID      uuid.UUID
	PatientName    string
	VaccineName    string
	DoseNumber     int
	AdministeredAt time.Time
}

type PatientSummary struct {
	PatientID        uuid.UUID      `json:"patient_id"`
	PatientName      string         `json:"patient_name"`
	MaxDose          int            `json:"max_dose"`
	TotalDoses       int            `json:"total_doses"`
	LastAdministered time.Time      `json:"last_administered_at"`
	Vaccines         map[string]int `json:"vaccines"`
}

// Summarize groups dose rows by patient: highest dose overall, highest dose
// per vaccine, dose count and latest administration. Patients are ordered
// by name.
func Summarize(rows []DoseRow) []PatientSummary {
	byPatient := make(map[uuid.UUID]*PatientSummary)
	for _, r := range rows {
		s, ok := byPatient[r.PatientID]
		if !ok {
			s = &PatientSummary{PatientID: r.PatientID, PatientName: r.PatientName, Vaccines: map[string]int{}}
			byPatient[r.PatientID] = s
		}
		s.TotalDoses++
		if r.DoseNumber > s.MaxDose {
			s.MaxDose = r.DoseNumber
		}
		if r.DoseNumber > s.Vaccines[r.VaccineName] {
			s.Vaccines[r.VaccineName] = r.DoseNumber
		}
		if r.AdministeredAt.After(s.LastAdministered) {
			s.LastAdministered = r.AdministeredAt
		}
	}

	out := make([]PatientSummary, 0, len(byPatient))
	for _, s := range byPatient {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].PatientName), strings.ToLower(out[j].PatientName)
		if a == b {
			return out[i].PatientID.String() < out[j].PatientID.String()
		}
		return a < b
	})
	return out
}
