package treatment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTreatmentNotFound = errors.New("treatment not found")
)

// Repository contains all DB interactions needed by the continuity guard.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Treatment, error)

	// FindActive returns treatments active at the given instant,
	// patient_id ascending then start_date ascending. patientID 0 scans all
	// patients (audit path).
	FindActive(ctx context.Context, patientID int64, now time.Time) ([]Treatment, error)

	FindByPatient(ctx context.Context, patientID int64) ([]Treatment, error)

	Create(ctx context.Context, t *Treatment) (*Treatment, error)

	// CreateWithAutoEnd ends the given treatments at cutoff and inserts the
	// new one, all in a single transaction.
	CreateWithAutoEnd(ctx context.Context, t *Treatment, endIDs []int64, cutoff time.Time) (*Treatment, error)

	Update(ctx context.Context, t *Treatment) (*Treatment, error)
	SetEndDate(ctx context.Context, id int64, end time.Time) error
}
