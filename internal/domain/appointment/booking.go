package appointment

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wecare/clinic/internal/platform/sms"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	StepPersonal = 1
	StepDetails  = 2
	StepConfirm  = 3

	MaxAge          = 130
	MaxDaysAhead    = 90
	maxNotesLength  = 1000
	openingMinutes  = 8 * 60
	closingMinutes  = 17 * 60
	maxReasonLength = 500
)

// Booking is the wizard payload. Age is a pointer so a missing age can be
// told apart from 0 (newborns).
type Booking struct {
	FullName      string `json:"full_name"`
	Age           *int   `json:"age"`
	Sex           string `json:"sex"`
	ContactNumber string `json:"contact_number"`
	Address       string `json:"address"`
	Service       string `json:"service"`
	PreferredDate string `json:"preferred_date"`
	PreferredTime string `json:"preferred_time"`
	Notes         string `json:"notes"`
	Agreed        bool   `json:"agreed"`
}

// FieldErrors maps a field name to its message.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fe[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validator checks wizard steps against the clinic's service list, clock
// and timezone.
type Validator struct {
	services map[string]string
	names    []string
	loc      *time.Location
	now      func() time.Time
}

func NewValidator(services []string, loc *time.Location) *Validator {
	if loc == nil {
		loc = time.UTC
	}
	v := &Validator{services: make(map[string]string, len(services)), loc: loc, now: time.Now}
	for _, s := range services {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		v.services[strings.ToLower(s)] = s
		v.names = append(v.names, s)
	}
	return v
}

// Services returns the bookable services in configured order.
func (v *Validator) Services() []string {
	return append([]string(nil), v.names...)
}

// Today is the current date in the clinic timezone.
func (v *Validator) Today() time.Time {
	n := v.now().In(v.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, v.loc)
}

// Step validates one wizard step and normalises the fields it owns in b.
// It returns nil when the step is valid.
func (v *Validator) Step(step int, b *Booking) FieldErrors {
	errs := FieldErrors{}
	switch step {
	case StepPersonal:
		v.personal(b, errs)
	case StepDetails:
		v.details(b, errs)
	case StepConfirm:
		if !b.Agreed {
			errs["agreed"] = "you must agree to the clinic policy"
		}
	default:
		errs["step"] = fmt.Sprintf("step must be %d, %d or %d", StepPersonal, StepDetails, StepConfirm)
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// All runs every step in order and merges their errors.
func (v *Validator) All(b *Booking) FieldErrors {
	errs := FieldErrors{}
	for _, step := range []int{StepPersonal, StepDetails, StepConfirm} {
		for k, msg := range v.Step(step, b) {
			errs[k] = msg
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (v *Validator) personal(b *Booking, errs FieldErrors) {
	b.FullName = strings.TrimSpace(b.FullName)
	if b.FullName == "" {
		errs["full_name"] = "full name is required"
	}

	switch {
	case b.Age == nil:
		errs["age"] = "age is required"
	case *b.Age < 0 || *b.Age > MaxAge:
		errs["age"] = fmt.Sprintf("age must be between 0 and %d", MaxAge)
	}

	b.Sex = strings.ToLower(strings.TrimSpace(b.Sex))
	if b.Sex != "male" && b.Sex != "female" {
		errs["sex"] = "sex must be male or female"
	}

	if strings.TrimSpace(b.ContactNumber) == "" {
		errs["contact_number"] = "contact number is required"
	} else if phone, err := sms.NormalizePH(b.ContactNumber); err != nil {
		errs["contact_number"] = "enter a valid PH mobile number (e.g. 09171234567)"
	} else {
		b.ContactNumber = phone
	}

	b.Address = strings.TrimSpace(b.Address)
	if b.Address == "" {
		errs["address"] = "address is required"
	}
}

func (v *Validator) details(b *Booking, errs FieldErrors) {
	service := strings.TrimSpace(b.Service)
	if service == "" {
		errs["service"] = "service is required"
	} else if canonical, ok := v.services[strings.ToLower(service)]; !ok {
		errs["service"] = "unknown service"
	} else {
		b.Service = canonical
	}

	if b.PreferredDate == "" {
		errs["preferred_date"] = "preferred date is required"
	} else if d, err := time.ParseInLocation(dateLayout, b.PreferredDate, v.loc); err != nil {
		errs["preferred_date"] = "preferred date must be YYYY-MM-DD"
	} else {
		today := v.Today()
		switch {
		case d.Before(today):
			errs["preferred_date"] = "preferred date cannot be in the past"
		case d.After(today.AddDate(0, 0, MaxDaysAhead)):
			errs["preferred_date"] = fmt.Sprintf("preferred date must be within %d days", MaxDaysAhead)
		}
	}

	if b.PreferredTime == "" {
		errs["preferred_time"] = "preferred time is required"
	} else if t, err := time.Parse(timeLayout, b.PreferredTime); err != nil {
		errs["preferred_time"] = "preferred time must be HH:MM"
	} else if m := t.Hour()*60 + t.Minute(); m < openingMinutes || m >= closingMinutes {
		errs["preferred_time"] = "preferred time must be within clinic hours (08:00-17:00)"
	} else {
		b.PreferredTime = t.Format(timeLayout)
	}

	b.Notes = strings.TrimSpace(b.Notes)
	if len(b.Notes) > maxNotesLength {
		errs["notes"] = fmt.Sprintf("notes must be at most %d characters", maxNotesLength)
	}
}
