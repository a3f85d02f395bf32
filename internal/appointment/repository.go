package appointment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrServiceNotFound     = errors.New("service not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the allocator.
type Repository interface {
	GetPatientByID(ctx context.Context, id int64) (*Patient, error)
	GetDoctorByID(ctx context.Context, id int64) (*Doctor, error)
	GetServiceByID(ctx context.Context, id int64) (*Service, error)

	// FindConflicting returns the appointment occupying [start, end) for the
	// doctor in one of the given statuses, or ErrAppointmentNotFound when
	// the slot is free. exceptID > 0 excludes that appointment from the
	// check (self-exclusion on update).
	FindConflicting(ctx context.Context, doctorID int64, start, end time.Time, statuses []Status, exceptID int64) (*Appointment, error)

	GetByID(ctx context.Context, id int64) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]Appointment, error)

	Create(ctx context.Context, a *Appointment) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) (*Appointment, error)
	UpdateStatus(ctx context.Context, id int64, to Status) (*Appointment, error)
}
