package treatment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const treatmentColumns = `id, patient_id, protocol_id, doctor_id, start_date, end_date,
	custom_medications, total, notes, created_at, updated_at`

func scanTreatment(row pgx.Row) (*Treatment, error) {
	var t Treatment
	var endDate *time.Time
	var meds []byte
	var notes *string

	err := row.Scan(
		&t.ID,
		&t.PatientID,
		&t.ProtocolID,
		&t.DoctorID,
		&t.StartDate,
		&endDate,
		&meds,
		&t.Total,
		&notes,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTreatmentNotFound
		}
		return nil, err
	}

	t.EndDate = endDate
	t.CustomMedications = meds
	t.Notes = notes
	return &t, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id int64) (*Treatment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+treatmentColumns+`
		FROM patient_treatments
		WHERE id = $1
	`, id)
	return scanTreatment(row)
}

func (r *PgRepository) FindActive(ctx context.Context, patientID int64, now time.Time) ([]Treatment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+treatmentColumns+`
		FROM patient_treatments
		WHERE start_date <= $1
		  AND (end_date IS NULL OR end_date > $1)
		  AND ($2 = 0 OR patient_id = $2)
		ORDER BY patient_id, start_date
	`, now, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTreatments(rows)
}

func (r *PgRepository) FindByPatient(ctx context.Context, patientID int64) ([]Treatment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+treatmentColumns+`
		FROM patient_treatments
		WHERE patient_id = $1
		ORDER BY start_date DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTreatments(rows)
}

func collectTreatments(rows pgx.Rows) ([]Treatment, error) {
	var result []Treatment
	for rows.Next() {
		t, err := scanTreatment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

const insertTreatment = `
	INSERT INTO patient_treatments (patient_id, protocol_id, doctor_id, start_date, end_date,
		custom_medications, total, notes, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
	RETURNING ` + treatmentColumns

func (r *PgRepository) Create(ctx context.Context, t *Treatment) (*Treatment, error) {
	row := r.pool.QueryRow(ctx, insertTreatment,
		t.PatientID, t.ProtocolID, t.DoctorID, t.StartDate, t.EndDate,
		t.CustomMedications, t.Total, t.Notes)
	return scanTreatment(row)
}

// CreateWithAutoEnd runs end-existing plus insert atomically, so a failed
// insert never leaves prior treatments ended without a successor.
func (r *PgRepository) CreateWithAutoEnd(ctx context.Context, t *Treatment, endIDs []int64, cutoff time.Time) (*Treatment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin auto-end transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE patient_treatments
		SET end_date = $2,
		    updated_at = now()
		WHERE id = ANY($1)
	`, endIDs, cutoff)
	if err != nil {
		return nil, fmt.Errorf("end existing treatments: %w", err)
	}
	if tag.RowsAffected() != int64(len(endIDs)) {
		return nil, fmt.Errorf("end existing treatments: expected %d rows, updated %d", len(endIDs), tag.RowsAffected())
	}

	row := tx.QueryRow(ctx, insertTreatment,
		t.PatientID, t.ProtocolID, t.DoctorID, t.StartDate, t.EndDate,
		t.CustomMedications, t.Total, t.Notes)
	created, err := scanTreatment(row)
	if err != nil {
		return nil, fmt.Errorf("create treatment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit auto-end transaction: %w", err)
	}

	return created, nil
}

func (r *PgRepository) Update(ctx context.Context, t *Treatment) (*Treatment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE patient_treatments
		SET protocol_id = $2,
		    doctor_id = $3,
		    start_date = $4,
		    end_date = $5,
		    custom_medications = $6,
		    total = $7,
		    notes = $8,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+treatmentColumns+`
	`, t.ID, t.ProtocolID, t.DoctorID, t.StartDate, t.EndDate,
		t.CustomMedications, t.Total, t.Notes)
	return scanTreatment(row)
}

func (r *PgRepository) SetEndDate(ctx context.Context, id int64, end time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patient_treatments
		SET end_date = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, end)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTreatmentNotFound
	}
	return nil
}
