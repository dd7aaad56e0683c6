package messaging

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wecare/clinic/internal/platform/auth"
	"github.com/wecare/clinic/internal/platform/notify"
	"github.com/wecare/clinic/pkg/validation"
)

var (
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrForbidden         = errors.New("patients may only message clinic staff")
)

// recentWindow bounds how many messages the conversation list is built from.
const recentWindow = 1000

// UserNotifier delivers a notification to one user.
type UserNotifier interface {
	NotifyUser(ctx context.Context, userID uuid.UUID, msg notify.Message, ch notify.Channels) notify.Delivery
}

type Service struct {
	repo     Repository
	roles    auth.RoleResolver
	notifier UserNotifier
	logger   zerolog.Logger
}

func NewService(repo Repository, roles auth.RoleResolver, notifier UserNotifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		roles:    roles,
		notifier: notifier,
		logger:   logger.With().Str("component", "messaging").Logger(),
	}
}

// Send stores a message from sender and notifies the recipient in-app.
// senderStaff reports whether the sender holds a staff role.
func (s *Service) Send(ctx context.Context, sender uuid.UUID, senderStaff bool, req SendRequest) (*Message, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, validation.Errorf("body is required")
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return nil, validation.Errorf("body must be at most %d characters", MaxBodyLength)
	}
	if req.RecipientID == uuid.Nil {
		return nil, validation.Errorf("recipient_id is required")
	}
	if req.RecipientID == sender {
		return nil, validation.Errorf("cannot message yourself")
	}

	role, err := s.roles.RoleOf(ctx, req.RecipientID.String())
	if err != nil {
		return nil, err
	}
	if role == "" {
		return nil, ErrRecipientNotFound
	}
	if !senderStaff && role != auth.RoleStaff && role != auth.RoleAdmin {
		return nil, ErrForbidden
	}

	m := &Message{SenderID: sender, RecipientID: req.RecipientID, Body: body}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}

	name := m.SenderName
	if name == "" {
		name = "Someone"
	}
	s.notifier.NotifyUser(ctx, m.RecipientID, notify.Message{
		Template: notify.TplNewMessage,
		Data:     map[string]string{"sender_name": name, "preview": preview(body)},
		Link:     "/messages?with=" + sender.String(),
	}, notify.InAppOnly)

	s.logger.Debug().
		Str("message_id", m.ID.String()).
		Str("sender_id", sender.String()).
		Str("recipient_id", m.RecipientID.String()).
		Msg("message sent")
	return m, nil
}

func (s *Service) Conversation(ctx context.Context, me, with uuid.UUID, limit, offset int) ([]*Message, int, error) {
	if with == uuid.Nil {
		return nil, 0, validation.Errorf("with is required")
	}
	return s.repo.Conversation(ctx, me, with, limit, offset)
}

func (s *Service) MarkRead(ctx context.Context, me, with uuid.UUID) (int, error) {
	if with == uuid.Nil {
		return 0, validation.Errorf("with is required")
	}
	return s.repo.MarkRead(ctx, me, with)
}

func (s *Service) Conversations(ctx context.Context, me uuid.UUID) ([]Conversation, error) {
	msgs, err := s.repo.Recent(ctx, me, recentWindow)
	if err != nil {
		return nil, err
	}
	return BuildConversations(me, msgs), nil
}

func (s *Service) UnreadCount(ctx context.Context, me uuid.UUID) (int, error) {
	return s.repo.UnreadCount(ctx, me)
}
