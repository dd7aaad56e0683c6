package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// DefaultExpiryDays is the "expiring soon" window when none is given.
const DefaultExpiryDays = 30

type Item struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	Name              string          `db:"name" json:"name"`
	Category          string          `db:"category" json:"category"`
	Unit              string          `db:"unit" json:"unit"`
	Stock             int             `db:"stock" json:"stock"`
	LowStockThreshold int             `db:"low_stock_threshold" json:"low_stock_threshold"`
	ExpiryDate        *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	LotNumber         *string         `db:"lot_number" json:"lot_number,omitempty"`
	Supplier          *string         `db:"supplier" json:"supplier,omitempty"`
	UnitCost          decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

func (i *Item) LowStock() bool {
	return i.Stock <= i.LowStockThreshold
}

// Expired is true once the expiry date is before today.
func (i *Item) Expired(today time.Time) bool {
	return i.ExpiryDate != nil && dateOnly(*i.ExpiryDate).Before(dateOnly(today))
}

// Expiring is true for items not yet expired whose expiry falls within days
// of today.
func (i *Item) Expiring(today time.Time, days int) bool {
	if i.ExpiryDate == nil || i.Expired(today) {
		return false
	}
	return !dateOnly(*i.ExpiryDate).After(dateOnly(today).AddDate(0, 0, days))
}

// StockValue is stock times unit cost.
func (i *Item) StockValue() decimal.Decimal {
	return i.UnitCost.Mul(decimal.NewFromInt(int64(i.Stock)))
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ItemView adds the derived flags to an item for API responses.
type ItemView struct {
	*Item
	IsLowStock bool            `json:"low_stock"`
	IsExpiring bool            `json:"expiring"`
	IsExpired  bool            `json:"expired"`
	Value      decimal.Decimal `json:"stock_value"`
}

func View(i *Item, today time.Time, days int) ItemView {
	return ItemView{
		Item:       i,
		IsLowStock: i.LowStock(),
		IsExpiring: i.Expiring(today, days),
		IsExpired:  i.Expired(today),
		Value:      i.StockValue(),
	}
}

// ItemInput is the create/update payload; dates arrive as YYYY-MM-DD.
type ItemInput struct {
	Name              string          `json:"name"`
	Category          string          `json:"category"`
	Unit              string          `json:"unit"`
	Stock             int             `json:"stock"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	ExpiryDate        string          `json:"expiry_date"`
	LotNumber         string          `json:"lot_number"`
	Supplier          string          `json:"supplier"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
}

type Adjustment struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

const (
	FilterLowStock = "low-stock"
	FilterExpiring = "expiring"
	FilterExpired  = "expired"
)

type ListFilter struct {
	Query  string
	Filter string
	Days   int
	Today  time.Time
}

// Alerts groups items needing attention.
type Alerts struct {
	Days     int         `json:"days"`
	LowStock []*ItemView `json:"low_stock"`
	Expiring []*ItemView `json:"expiring"`
	Expired  []*ItemView `json:"expired"`
}

func (a *Alerts) Empty() bool {
	return len(a.LowStock) == 0 && len(a.Expiring) == 0 && len(a.Expired) == 0
}

// ComputeAlerts derives the alert lists from the full item list.
func ComputeAlerts(items []*Item, today time.Time, days int) *Alerts {
	a := &Alerts{Days: days, LowStock: []*ItemView{}, Expiring: []*ItemView{}, Expired: []*ItemView{}}
	for _, it := range items {
		v := View(it, today, days)
		if v.IsLowStock {
			a.LowStock = append(a.LowStock, &v)
		}
		if v.IsExpiring {
			a.Expiring = append(a.Expiring, &v)
		}
		if v.IsExpired {
			a.Expired = append(a.Expired, &v)
		}
	}
	return a
}
