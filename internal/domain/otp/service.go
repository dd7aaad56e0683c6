package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/wecare/clinic/internal/platform/notify"
	"github.com/wecare/clinic/internal/platform/sms"
	"github.com/wecare/clinic/internal/platform/telemetry"
	"github.com/wecare/clinic/internal/platform/throttle"
)

var (
	ErrCodeExpired     = errors.New("code expired")
	ErrTooManyAttempts = errors.New("too many attempts")
	ErrInvalidCode     = errors.New("invalid code")
	ErrSendFailed      = errors.New("failed to send verification code")

	errCodeRequired = errors.New("code is required")
)

// retention is how long expired rows are kept before cleanup.
const retention = 24 * time.Hour

// ThrottledError is returned when a code was issued for the phone too recently.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	secs := int(e.RetryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("please wait %ds before requesting another code", secs)
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

type Renderer interface {
	Render(msg notify.Message) (notify.Rendered, error)
}

type PhoneVerifier interface {
	MarkPhoneVerified(ctx context.Context, id uuid.UUID, phone string) error
}

type Service struct {
	repo     Repository
	sender   SMSSender
	renderer Renderer
	profiles PhoneVerifier
	limiter  *throttle.KeyedLimiter
	cfg      Config
	logger   zerolog.Logger

	now      func() time.Time
	generate func() (string, error)
	hashCost int
}

func NewService(repo Repository, sender SMSSender, renderer Renderer, profiles PhoneVerifier, cfg Config, logger zerolog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ResendInterval <= 0 {
		cfg.ResendInterval = time.Minute
	}
	return &Service{
		repo:     repo,
		sender:   sender,
		renderer: renderer,
		profiles: profiles,
		limiter:  throttle.Every(cfg.ResendInterval),
		cfg:      cfg,
		logger:   logger.With().Str("component", "otp").Logger(),
		now:      time.Now,
		generate: GenerateCode,
		hashCost: bcrypt.DefaultCost,
	}
}

// GenerateCode returns a uniformly random zero-padded numeric code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

func (s *Service) checkThrottle(ctx context.Context, phone string) error {
	if last, ok, err := s.repo.LastIssued(ctx, phone); err != nil {
		return err
	} else if ok {
		if wait := last.Add(s.cfg.ResendInterval).Sub(s.now()); wait > 0 {
			return &ThrottledError{RetryAfter: wait}
		}
	}
	if !s.limiter.Allow(phone) {
		return &ThrottledError{RetryAfter: s.limiter.RetryAfter(phone)}
	}
	return nil
}

// Send issues a new code for phone and texts it. When the SMS cannot be
// delivered the stored code is consumed so it can never be verified.
func (s *Service) Send(ctx context.Context, userID uuid.UUID, rawPhone string) (*Verification, error) {
	phone, err := sms.NormalizePH(rawPhone)
	if err != nil {
		return nil, err
	}
	log := s.logger.With().Str("phone", sms.MaskPhone(phone)).Logger()

	if err := s.checkThrottle(ctx, phone); err != nil {
		var te *ThrottledError
		if errors.As(err, &te) {
			telemetry.RecordOTP("throttled")
		}
		return nil, err
	}

	code, err := s.generate()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash code: %w", err)
	}

	v := &Verification{
		Phone:     phone,
		CodeHash:  string(hash),
		ExpiresAt: s.now().Add(s.cfg.TTL),
	}
	if userID != uuid.Nil {
		v.UserID = &userID
	}
	if err := s.repo.Create(ctx, v); err != nil {
		return nil, err
	}

	rendered, err := s.renderer.Render(notify.Message{
		Template: notify.TplOTPCode,
		Data: map[string]string{
			"code":    code,
			"minutes": strconv.Itoa(int(s.cfg.TTL.Minutes())),
		},
	})
	if err == nil {
		err = s.sender.SendSMS(ctx, phone, rendered.Body)
	}
	if err != nil {
		log.Error().Err(err).Str("verification_id", v.ID.String()).Msg("otp delivery failed")
		if _, cerr := s.repo.Consume(ctx, v.ID); cerr != nil {
			log.Error().Err(cerr).Msg("invalidate undelivered otp")
		}
		telemetry.RecordOTP("send_failed")
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	telemetry.RecordOTP("issued")
	log.Info().Str("verification_id", v.ID.String()).Msg("otp issued")
	return v, nil
}

// Verify checks code against the newest pending verification for phone and,
// on success, marks userID's profile phone as verified.
func (s *Service) Verify(ctx context.Context, userID uuid.UUID, rawPhone, code string) error {
	phone, err := sms.NormalizePH(rawPhone)
	if err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return errCodeRequired
	}

	v, err := s.repo.Pending(ctx, phone)
	if err != nil {
		return err
	}
	if v.Expired(s.now()) {
		telemetry.RecordOTP("expired")
		return ErrCodeExpired
	}
	// Every guess, right or wrong, spends an attempt before the hash is checked.
	reserved, err := s.repo.ReserveAttempt(ctx, v.ID, s.cfg.MaxAttempts)
	if err != nil {
		return err
	}
	if !reserved {
		telemetry.RecordOTP("locked")
		return ErrTooManyAttempts
	}
	if bcrypt.CompareHashAndPassword([]byte(v.CodeHash), []byte(code)) != nil {
		telemetry.RecordOTP("invalid")
		return ErrInvalidCode
	}

	ok, err := s.repo.Consume(ctx, v.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if userID != uuid.Nil && s.profiles != nil {
		if err := s.profiles.MarkPhoneVerified(ctx, userID, phone); err != nil {
			return fmt.Errorf("mark phone verified: %w", err)
		}
	}
	telemetry.RecordOTP("verified")
	s.logger.Info().Str("phone", sms.MaskPhone(phone)).Str("user_id", userID.String()).Msg("phone verified")
	return nil
}

// Cleanup deletes verifications that expired more than a day ago and evicts
// idle throttle keys.
func (s *Service) Cleanup(ctx context.Context) error {
	n, err := s.repo.DeleteExpiredBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return err
	}
	swept := s.limiter.Sweep()
	s.logger.Info().Int64("deleted", n).Int("throttle_keys_swept", swept).Msg("otp cleanup")
	return nil
}
