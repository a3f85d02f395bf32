// Package schedule exposes the doctor shift directory. The rows are owned
// by an external rostering system; this package only reads them.
package schedule

import (
	"context"
	"time"

	"github.com/clinicdesk/clinic-scheduling/internal/slots"
)

// Entry is one (doctor, date, shift) roster row.
type Entry struct {
	ID       int64
	DoctorID int64
	Date     time.Time
	Shift    slots.Shift
}

// Directory answers which doctors are rostered for a given day and shift.
// DoctorsWorking returns ids in roster-row order; the allocator's first-fit
// selection depends on that order being stable.
type Directory interface {
	DoctorsWorking(ctx context.Context, date time.Time, shift slots.Shift) ([]int64, error)
	IsWorking(ctx context.Context, doctorID int64, date time.Time, shift slots.Shift) (bool, error)
}
