package sms

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/wecare/clinic/internal/platform/telemetry"
)

// MaxBodyLength keeps a message within ten concatenated segments.
const MaxBodyLength = 1600

var (
	ErrEmptyMessage   = errors.New("message is required")
	ErrMessageTooLong = fmt.Errorf("message exceeds %d characters", MaxBodyLength)
)

// IsInputError reports whether err was caused by the caller's input.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidPhone) || errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrMessageTooLong) || errors.Is(err, ErrUnknownProvider)
}

// Service validates, sends and logs outbound SMS.
type Service struct {
	providers *Registry
	store     Store
	logger    zerolog.Logger
}

func NewService(providers *Registry, store Store, logger zerolog.Logger) *Service {
	return &Service{
		providers: providers,
		store:     store,
		logger:    logger.With().Str("component", "sms").Logger(),
	}
}

// Send delivers body to the normalized number through provider ("" selects
// the default). The attempt is logged to sms_messages whatever the outcome;
// a logging failure never masks the send result.
func (s *Service) Send(ctx context.Context, provider, to, body string) (*Result, error) {
	phone, err := NormalizePH(to)
	if err != nil {
		return nil, err
	}
	if body == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return nil, ErrMessageTooLong
	}

	p, err := s.providers.Get(provider)
	if err != nil {
		return nil, err
	}

	res, sendErr := p.Send(ctx, phone, body)
	telemetry.RecordSMSSend(p.Name(), sendErr)

	entry := &Message{
		Provider:  p.Name(),
		Direction: DirectionOutbound,
		Phone:     phone,
		Body:      body,
		Status:    StatusSent,
	}
	if sendErr != nil {
		msg := sendErr.Error()
		entry.Status = StatusFailed
		entry.Error = &msg
		s.logger.Warn().Err(sendErr).Str("provider", p.Name()).Str("to", MaskPhone(phone)).Msg("sms send failed")
	} else {
		if res.MessageID != "" {
			id := res.MessageID
			entry.ProviderMessageID = &id
		}
		s.logger.Info().Str("provider", p.Name()).Str("to", MaskPhone(phone)).Str("message_id", res.MessageID).Msg("sms sent")
	}

	if s.store != nil {
		if err := s.store.Create(ctx, entry); err != nil {
			s.logger.Error().Err(err).Msg("record outbound sms")
		}
	}

	if sendErr != nil {
		return nil, sendErr
	}
	return res, nil
}

// History lists logged messages, optionally for one phone number.
func (s *Service) History(ctx context.Context, phone string, limit, offset int) ([]*Message, int, error) {
	if phone != "" {
		p, err := NormalizePH(phone)
		if err != nil {
			return nil, 0, err
		}
		phone = p
	}
	return s.store.List(ctx, phone, limit, offset)
}

// SendSMS sends through the default provider. It lets the service stand in
// wherever only a plain sender is needed.
func (s *Service) SendSMS(ctx context.Context, to, body string) error {
	_, err := s.Send(ctx, "", to, body)
	return err
}
