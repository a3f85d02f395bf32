package appointment

import (
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCheckin   Status = "CHECKIN"
	StatusPaid      Status = "PAID"
	StatusProcess   Status = "PROCESS"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo implements the appointment status machine:
// PENDING -> {CHECKIN, CONFIRMED, CANCELLED}; CHECKIN -> {PAID, CANCELLED};
// PAID -> PROCESS; PROCESS -> COMPLETED; any non-terminal -> CANCELLED.
func (s Status) CanTransitionTo(to Status) bool {
	if s.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	switch s {
	case StatusPending:
		return to == StatusCheckin || to == StatusConfirmed
	case StatusCheckin:
		return to == StatusPaid
	case StatusPaid:
		return to == StatusProcess
	case StatusProcess:
		return to == StatusCompleted
	default:
		return false
	}
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCheckin, StatusPaid, StatusProcess,
		StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ConflictingStatuses are the statuses that make an appointment occupy its
// slot for conflict purposes.
func ConflictingStatuses() []Status {
	return []Status{StatusPending, StatusConfirmed}
}

type Type string

const (
	TypeOnline  Type = "ONLINE"
	TypeOffline Type = "OFFLINE"
)

func (t Type) Valid() bool {
	return t == TypeOnline || t == TypeOffline
}

type ServiceType string

const (
	ServiceConsult   ServiceType = "CONSULT"
	ServiceTest      ServiceType = "TEST"
	ServiceTreatment ServiceType = "TREATMENT"
)

type Patient struct {
	ID        int64
	Name      string
	Email     string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        int64
	Name      string
	Email     string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Service is a bookable clinic service. StartTime/EndTime are the HH:MM
// bounds of its operating window.
type Service struct {
	ID        int64
	Name      string
	Type      ServiceType
	StartTime string
	EndTime   string
	Price     float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID                int64
	PatientID         int64
	DoctorID          int64
	ServiceID         int64
	Time              time.Time
	Type              Type
	Status            Status
	IsAnonymous       bool
	Notes             *string
	PatientMeetingURL *string
	DoctorMeetingURL  *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
