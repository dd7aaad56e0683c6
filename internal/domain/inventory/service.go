package inventory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wecare/clinic/internal/platform/auth"
	"github.com/wecare/clinic/internal/platform/notify"
	"github.com/wecare/clinic/pkg/validation"
)

// RoleNotifier sends a message to every user with a role.
type RoleNotifier interface {
	NotifyRole(ctx context.Context, role string, msg notify.Message, ch notify.Channels) (int, error)
}

type Service struct {
	repo       Repository
	notifier   RoleNotifier
	loc        *time.Location
	now        func() time.Time
	expiryDays int
	logger     zerolog.Logger
}

func NewService(repo Repository, notifier RoleNotifier, loc *time.Location, expiryDays int, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if expiryDays <= 0 {
		expiryDays = DefaultExpiryDays
	}
	return &Service{
		repo:       repo,
		notifier:   notifier,
		loc:        loc,
		now:        time.Now,
		expiryDays: expiryDays,
		logger:     logger.With().Str("component", "inventory").Logger(),
	}
}

// Today is the current date in the clinic timezone.
func (s *Service) Today() time.Time {
	n := s.now().In(s.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, s.loc)
}

func (s *Service) ExpiryDays() int { return s.expiryDays }

func (s *Service) fromInput(in ItemInput, it *Item) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return validation.Errorf("name is required")
	}
	if in.Stock < 0 {
		return validation.Errorf("stock must be >= 0")
	}
	if in.LowStockThreshold < 0 {
		return validation.Errorf("low_stock_threshold must be >= 0")
	}
	if in.UnitCost.IsNegative() {
		return validation.Errorf("unit_cost must be >= 0")
	}
	it.Name = name
	it.Category = strings.TrimSpace(in.Category)
	it.Unit = strings.TrimSpace(in.Unit)
	if it.Unit == "" {
		it.Unit = "pcs"
	}
	it.Stock = in.Stock
	it.LowStockThreshold = in.LowStockThreshold
	it.UnitCost = in.UnitCost.Round(2)
	it.ExpiryDate = nil
	if in.ExpiryDate != "" {
		d, err := time.Parse(dateLayout, in.ExpiryDate)
		if err != nil {
			return validation.Errorf("expiry_date must be YYYY-MM-DD")
		}
		it.ExpiryDate = &d
	}
	it.LotNumber = optional(in.LotNumber)
	it.Supplier = optional(in.Supplier)
	return nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func (s *Service) Create(ctx context.Context, in ItemInput) (*Item, error) {
	it := &Item{}
	if err := s.fromInput(in, it); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in ItemInput) (*Item, error) {
	it, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.fromInput(in, it); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Item, int, error) {
	switch f.Filter {
	case "", FilterLowStock, FilterExpiring, FilterExpired:
	default:
		return nil, 0, validation.Errorf("filter must be %s, %s or %s", FilterLowStock, FilterExpiring, FilterExpired)
	}
	if f.Days <= 0 {
		f.Days = s.expiryDays
	}
	f.Today = s.Today()
	return s.repo.List(ctx, f, limit, offset)
}

// Adjust changes stock by adj.Delta; the result may not go below zero.
func (s *Service) Adjust(ctx context.Context, id uuid.UUID, adj Adjustment) (*Item, error) {
	if adj.Delta == 0 {
		return nil, validation.Errorf("delta must not be zero")
	}
	it, err := s.repo.Adjust(ctx, id, adj.Delta)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("item_id", id.String()).
		Int("delta", adj.Delta).
		Int("stock", it.Stock).
		Str("reason", adj.Reason).
		Str("by", auth.UserIDFromContext(ctx)).
		Msg("stock adjusted")
	return it, nil
}

// Consume takes one unit out of stock; used when a dose is administered.
func (s *Service) Consume(ctx context.Context, id uuid.UUID) (*Item, error) {
	return s.Adjust(ctx, id, Adjustment{Delta: -1, Reason: "administered"})
}

// Alerts computes the low-stock, expiring and expired lists over every
// item. days <= 0 uses the configured window.
func (s *Service) Alerts(ctx context.Context, days int) (*Alerts, error) {
	if days <= 0 {
		days = s.expiryDays
	}
	items, err := s.repo.All(ctx)
	if err != nil {
		return nil, err
	}
	return ComputeAlerts(items, s.Today(), days), nil
}

// DigestAlerts notifies admins in-app when any alert list is non-empty.
func (s *Service) DigestAlerts(ctx context.Context) error {
	a, err := s.Alerts(ctx, 0)
	if err != nil {
		return fmt.Errorf("compute inventory alerts: %w", err)
	}
	if a.Empty() {
		s.logger.Debug().Msg("no inventory alerts")
		return nil
	}
	if s.notifier == nil {
		return nil
	}
	n, err := s.notifier.NotifyRole(ctx, auth.RoleAdmin, notify.Message{
		Template: notify.TplInventoryAlert,
		Data: map[string]string{
			"low_stock": strconv.Itoa(len(a.LowStock)),
			"expiring":  strconv.Itoa(len(a.Expiring)),
			"expired":   strconv.Itoa(len(a.Expired)),
			"days":      strconv.Itoa(a.Days),
		},
		Link: "/inventory/alerts",
	}, notify.InAppOnly)
	if err != nil {
		return fmt.Errorf("notify admins: %w", err)
	}
	s.logger.Info().
		Int("low_stock", len(a.LowStock)).
		Int("expiring", len(a.Expiring)).
		Int("expired", len(a.Expired)).
		Int("notified", n).
		Msg("inventory alert digest")
	return nil
}
