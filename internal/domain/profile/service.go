package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wecare/clinic/internal/platform/auth"
	"github.com/wecare/clinic/internal/platform/blobstore"
	"github.com/wecare/clinic/internal/platform/notify"
	"github.com/wecare/clinic/internal/platform/sms"
	"github.com/wecare/clinic/pkg/validation"
)

var validSexes = map[string]bool{"male": true, "female": true}

type Service struct {
	repo   Repository
	blobs  blobstore.Store
	logger zerolog.Logger
}

func NewService(repo Repository, blobs blobstore.Store, logger zerolog.Logger) *Service {
	return &Service{repo: repo, blobs: blobs, logger: logger.With().Str("component", "profiles").Logger()}
}

// Me returns the caller's profile, creating a patient profile on first use.
func (s *Service) Me(ctx context.Context, id uuid.UUID, email string) (*Profile, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	p = &Profile{ID: id, Role: auth.RolePatient}
	if email != "" {
		p.Email = &email
		p.FullName = strings.SplitN(email, "@", 2)[0]
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("provision profile: %w", err)
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateMe applies req to the caller's profile. A changed phone is
// normalised and loses its verified flag.
func (s *Service) UpdateMe(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Profile, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			return nil, validation.Errorf("full_name is required")
		}
		p.FullName = name
	}
	if req.Phone != nil {
		if strings.TrimSpace(*req.Phone) == "" {
			p.Phone = nil
			p.PhoneVerified = false
		} else {
			phone, err := sms.NormalizePH(*req.Phone)
			if err != nil {
				return nil, validation.Errorf("phone: %w", err)
			}
			if p.Phone == nil || *p.Phone != phone {
				p.PhoneVerified = false
			}
			p.Phone = &phone
		}
	}
	if req.Sex != nil {
		sex := strings.ToLower(strings.TrimSpace(*req.Sex))
		if !validSexes[sex] {
			return nil, validation.Errorf("sex must be male or female")
		}
		p.Sex = &sex
	}
	if req.BirthDate != nil {
		if *req.BirthDate == "" {
			p.BirthDate = nil
		} else {
			bd, err := time.Parse("2006-01-02", *req.BirthDate)
			if err != nil {
				return nil, validation.Errorf("birth_date must be YYYY-MM-DD")
			}
			if bd.After(time.Now()) {
				return nil, validation.Errorf("birth_date cannot be in the future")
			}
			p.BirthDate = &bd
		}
	}
	if req.Address != nil {
		addr := strings.TrimSpace(*req.Address)
		p.Address = &addr
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Profile, int, error) {
	if f.Role != "" && !auth.ValidRole(f.Role) {
		return nil, 0, validation.Errorf("invalid role: %s", f.Role)
	}
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) SetRole(ctx context.Context, id uuid.UUID, role string) (*Profile, error) {
	if !auth.ValidRole(role) {
		return nil, validation.Errorf("role must be patient, staff or admin")
	}
	if err := s.repo.SetRole(ctx, id, role); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// UploadAvatar stores content as the user's avatar and replaces the
// previous one.
func (s *Service) UploadAvatar(ctx context.Context, id uuid.UUID, fileName, contentType string, content io.Reader) (*Profile, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	meta, err := s.blobs.Upload(ctx, blobstore.Metadata{
		FileName:    fileName,
		ContentType: contentType,
		OwnerID:     id.String(),
		Category:    blobstore.CategoryAvatar,
		CreatedBy:   id.String(),
	}, content)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetAvatar(ctx, id, meta.ID); err != nil {
		if derr := s.blobs.Delete(ctx, meta.ID); derr != nil {
			s.logger.Warn().Err(derr).Str("blob_id", meta.ID).Msg("remove unused avatar upload")
		}
		return nil, err
	}
	if p.AvatarPath != nil && *p.AvatarPath != "" {
		if err := s.blobs.Delete(ctx, *p.AvatarPath); err != nil {
			s.logger.Warn().Err(err).Str("blob_id", *p.AvatarPath).Msg("remove previous avatar")
		}
	}
	p.AvatarPath = &meta.ID
	return p, nil
}

// RoleOf implements auth.RoleResolver.
func (s *Service) RoleOf(ctx context.Context, userID string) (string, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return "", nil
	}
	p, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.Role, nil
}

// SetSMSOptOut records a STOP/START reply for every profile using phone.
func (s *Service) SetSMSOptOut(ctx context.Context, phone string, optOut bool) (int, error) {
	normalized, err := sms.NormalizePH(phone)
	if err != nil {
		normalized = phone
	}
	return s.repo.SetSMSOptOut(ctx, normalized, optOut)
}

func (s *Service) MarkPhoneVerified(ctx context.Context, id uuid.UUID, phone string) error {
	return s.repo.MarkPhoneVerified(ctx, id, phone)
}

func (s *Service) CountByRole(ctx context.Context, role string) (int, error) {
	return s.repo.CountByRole(ctx, role)
}

func recipient(p *Profile) notify.Recipient {
	r := notify.Recipient{UserID: p.ID, Name: p.FullName, SMSOptOut: p.SMSOptOut}
	if p.Phone != nil {
		r.Phone = *p.Phone
	}
	if p.Email != nil {
		r.Email = *p.Email
	}
	return r
}

// Recipient implements notify.Directory.
func (s *Service) Recipient(ctx context.Context, userID uuid.UUID) (*notify.Recipient, error) {
	p, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	r := recipient(p)
	return &r, nil
}

func (s *Service) RecipientsByRole(ctx context.Context, role string) ([]notify.Recipient, error) {
	items, err := s.repo.ListByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	out := make([]notify.Recipient, 0, len(items))
	for _, p := range items {
		out = append(out, recipient(p))
	}
	return out, nil
}
