package schedule

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic-scheduling/internal/slots"
)

type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) DoctorsWorking(ctx context.Context, date time.Time, shift slots.Shift) ([]int64, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT doctor_id
		FROM doctor_schedules
		WHERE date = $1 AND shift = $2
		ORDER BY id
	`, slots.DayOf(date), shift)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (d *PgDirectory) IsWorking(ctx context.Context, doctorID int64, date time.Time, shift slots.Shift) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM doctor_schedules
			WHERE doctor_id = $1 AND date = $2 AND shift = $3
		)
	`, doctorID, slots.DayOf(date), shift).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
