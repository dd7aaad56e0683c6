package notification

import (
	"context"

	"github.com/google/uuid"

	"github.com/wecare/clinic/pkg/validation"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, n *Notification) error {
	if n.UserID == uuid.Nil {
		return validation.Errorf("user_id is required")
	}
	if n.Title == "" {
		return validation.Errorf("title is required")
	}
	if n.Kind == "" {
		n.Kind = "general"
	}
	return s.repo.Create(ctx, n)
}

// CreateInApp implements notify.InAppWriter.
func (s *Service) CreateInApp(ctx context.Context, userID uuid.UUID, kind, title, body, link string) error {
	n := &Notification{UserID: userID, Kind: kind, Title: title, Body: body}
	if link != "" {
		n.Link = &link
	}
	return s.Create(ctx, n)
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.repo.List(ctx, userID, unreadOnly, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.UnreadCount(ctx, userID)
}

func (s *Service) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	return s.repo.MarkRead(ctx, id, userID)
}

func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

func (s *Service) Delete(ctx context.Context, id, userID uuid.UUID) error {
	return s.repo.Delete(ctx, id, userID)
}
