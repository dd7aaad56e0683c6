package profile

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the clinic-side record for an identity-provider user. Its id is
// the token subject.
type Profile struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	FullName      string     `db:"full_name" json:"full_name"`
	Email         *string    `db:"email" json:"email,omitempty"`
	Phone         *string    `db:"phone" json:"phone,omitempty"`
	PhoneVerified bool       `db:"phone_verified" json:"phone_verified"`
	Role          string     `db:"role" json:"role"`
	SMSOptOut     bool       `db:"sms_opt_out" json:"sms_opt_out"`
	BirthDate     *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Sex           *string    `db:"sex" json:"sex,omitempty"`
	Address       *string    `db:"address" json:"address,omitempty"`
	AvatarPath    *string    `db:"avatar_path" json:"avatar_path,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// UpdateRequest carries the fields a user may change on their own profile.
// Nil leaves a field untouched.
type UpdateRequest struct {
	FullName  *string `json:"full_name"`
	Phone     *string `json:"phone"`
	Sex       *string `json:"sex"`
	BirthDate *string `json:"birth_date"`
	Address   *string `json:"address"`
}

type ListFilter struct {
	Role  string
	Query string
}
