package profile

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

const profileCols = `id, full_name, email, phone, phone_verified, role, sms_opt_out,
	birth_date, sex, address, avatar_path, created_at, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.FullName, &p.Email, &p.Phone, &p.PhoneVerified, &p.Role,
		&p.SMSOptOut, &p.BirthDate, &p.Sex, &p.Address, &p.AvatarPath, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collect(rows pgx.Rows) ([]*Profile, error) {
	defer rows.Close()
	var items []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// Create inserts p, or returns the existing row when a concurrent first
// login already created it.
func (r *repoPG) Create(ctx context.Context, p *Profile) error {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO profiles (id, full_name, email, phone, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING `+profileCols,
		p.ID, p.FullName, p.Email, p.Phone, p.Role)
	got, err := scanProfile(row)
	if err != nil {
		return err
	}
	*p = *got
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return scanProfile(r.conn(ctx).QueryRow(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Profile) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE profiles SET full_name=$2, phone=$3, phone_verified=$4, sex=$5, birth_date=$6,
			address=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FullName, p.Phone, p.PhoneVerified, p.Sex, p.BirthDate, p.Address,
	).Scan(&p.UpdatedAt)
}

func (r *repoPG) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) SetRole(ctx context.Context, id uuid.UUID, role string) error {
	return r.exec(ctx, `UPDATE profiles SET role=$2, updated_at=NOW() WHERE id = $1`, id, role)
}

func (r *repoPG) SetAvatar(ctx context.Context, id uuid.UUID, path string) error {
	return r.exec(ctx, `UPDATE profiles SET avatar_path=$2, updated_at=NOW() WHERE id = $1`, id, path)
}

func (r *repoPG) MarkPhoneVerified(ctx context.Context, id uuid.UUID, phone string) error {
	return r.exec(ctx, `UPDATE profiles SET phone=$2, phone_verified=TRUE, updated_at=NOW() WHERE id = $1`, id, phone)
}

func (r *repoPG) SetSMSOptOut(ctx context.Context, phone string, optOut bool) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE profiles SET sms_opt_out=$2, updated_at=NOW() WHERE phone = $1 AND sms_opt_out <> $2`, phone, optOut)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Profile, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.Role != "" {
		args = append(args, f.Role)
		conds = append(conds, fmt.Sprintf("role = $%d", len(args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+q+"%")
		conds = append(conds, fmt.Sprintf("(full_name ILIKE $%d OR email ILIKE $%d OR phone ILIKE $%d)", len(args), len(args), len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM profiles`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s FROM profiles%s ORDER BY full_name, created_at LIMIT $%d OFFSET $%d`,
		profileCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) ListByRole(ctx context.Context, role string) ([]*Profile, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+profileCols+` FROM profiles WHERE role = $1 ORDER BY full_name`, role)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *repoPG) CountByRole(ctx context.Context, role string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM profiles WHERE role = $1`, role).Scan(&n)
	return n, err
}
