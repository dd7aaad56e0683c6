package vaccination

import (
	"context"
	"errors"
	"time"

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

const vaccinationCols = `id, patient_id, appointment_id, inventory_item_id, vaccine_name, dose_number,
	administered_at, administered_by, next_dose_date, notes, created_at`

func scanVaccination(row pgx.Row) (*Vaccination, error) {
	var v Vaccination
	err := row.Scan(&v.ID, &v.PatientID, &v.AppointmentID, &v.InventoryItemID, &v.VaccineName,
		&v.DoseNumber, &v.AdministeredAt, &v.AdministeredBy, &v.NextDoseDate, &v.Notes, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func collect(rows pgx.Rows) ([]*Vaccination, error) {
	defer rows.Close()
	var items []*Vaccination
	for rows.Next() {
		v, err := scanVaccination(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, v *Vaccination) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO vaccinations (patient_id, appointment_id, inventory_item_id, vaccine_name,
			dose_number, administered_at, administered_by, next_dose_date, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		v.PatientID, v.AppointmentID, v.InventoryItemID, v.VaccineName, v.DoseNumber,
		v.AdministeredAt, v.AdministeredBy, v.NextDoseDate, v.Notes,
	).Scan(&v.ID, &v.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Vaccination, error) {
	return scanVaccination(r.conn(ctx).QueryRow(ctx, `SELECT `+vaccinationCols+` FROM vaccinations WHERE id = $1`, id))
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM vaccinations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Vaccination, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+vaccinationCols+` FROM vaccinations
		WHERE patient_id = $1 ORDER BY administered_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Vaccination, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM vaccinations`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+vaccinationCols+` FROM vaccinations
		ORDER BY administered_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) MaxDose(ctx context.Context, patientID uuid.UUID, vaccine string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(dose_number), 0) FROM vaccinations
		WHERE patient_id = $1 AND lower(vaccine_name) = lower($2)`, patientID, vaccine).Scan(&n)
	return n, err
}

func (r *repoPG) DoseRows(ctx context.Context) ([]DoseRow, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT v.patient_id, COALESCE(p.full_name, ''), v.vaccine_name, v.dose_number, v.administered_at
		FROM vaccinations v LEFT JOIN profiles p ON p.id = v.patient_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DoseRow
	for rows.Next() {
		var d DoseRow
		if err := rows.Scan(&d.PatientID, &d.PatientName, &d.VaccineName, &d.DoseNumber, &d.AdministeredAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repoPG) DueBetween(ctx context.Context, from, to time.Time) ([]*Vaccination, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+vaccinationCols+` FROM vaccinations v
		WHERE v.next_dose_date BETWEEN $1 AND $2
		AND NOT EXISTS (
			SELECT 1 FROM vaccinations later
			WHERE later.patient_id = v.patient_id
			AND lower(later.vaccine_name) = lower(v.vaccine_name)
			AND later.dose_number > v.dose_number
		)
		ORDER BY v.next_dose_date, v.patient_id`, from, to)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}
