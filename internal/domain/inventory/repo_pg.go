package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wecare/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const itemCols = `id, name, category, unit, stock, low_stock_threshold, expiry_date, lot_number,
	supplier, unit_cost, created_at, updated_at`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.Name, &it.Category, &it.Unit, &it.Stock, &it.LowStockThreshold,
		&it.ExpiryDate, &it.LotNumber, &it.Supplier, &it.UnitCost, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func collect(rows pgx.Rows) ([]*Item, error) {
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, it *Item) error {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO inventory_items (name, category, unit, stock, low_stock_threshold, expiry_date,
			lot_number, supplier, unit_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+itemCols,
		it.Name, it.Category, it.Unit, it.Stock, it.LowStockThreshold, it.ExpiryDate,
		it.LotNumber, it.Supplier, it.UnitCost)
	got, err := scanItem(row)
	if err != nil {
		return err
	}
	*it = *got
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Item, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM inventory_items WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, it *Item) error {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE inventory_items SET name=$2, category=$3, unit=$4, stock=$5, low_stock_threshold=$6,
			expiry_date=$7, lot_number=$8, supplier=$9, unit_cost=$10, updated_at=NOW()
		WHERE id = $1
		RETURNING `+itemCols,
		it.ID, it.Name, it.Category, it.Unit, it.Stock, it.LowStockThreshold, it.ExpiryDate,
		it.LotNumber, it.Supplier, it.UnitCost)
	got, err := scanItem(row)
	if err != nil {
		return err
	}
	*it = *got
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM inventory_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Item, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+q+"%")
		conds = append(conds, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	switch f.Filter {
	case FilterLowStock:
		conds = append(conds, "stock <= low_stock_threshold")
	case FilterExpiring:
		args = append(args, f.Today, f.Today.AddDate(0, 0, f.Days))
		conds = append(conds, fmt.Sprintf("expiry_date >= $%d AND expiry_date <= $%d", len(args)-1, len(args)))
	case FilterExpired:
		args = append(args, f.Today)
		conds = append(conds, fmt.Sprintf("expiry_date < $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM inventory_items`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s FROM inventory_items%s ORDER BY lower(name), created_at LIMIT $%d OFFSET $%d`,
		itemCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) All(ctx context.Context) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+itemCols+` FROM inventory_items ORDER BY lower(name)`)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *repoPG) Adjust(ctx context.Context, id uuid.UUID, delta int) (*Item, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE inventory_items SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING `+itemCols, id, delta)
	it, err := scanItem(row)
	if !errors.Is(err, ErrNotFound) {
		return it, err
	}
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM inventory_items WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrInsufficientStock
	}
	return nil, ErrNotFound
}
