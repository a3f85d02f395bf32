package treatment

import (
	"encoding/json"
	"time"
)

// Treatment is one protocol period for a patient. A nil EndDate means the
// treatment is open-ended.
type Treatment struct {
	ID                int64
	PatientID         int64
	ProtocolID        int64
	DoctorID          int64
	StartDate         time.Time
	EndDate           *time.Time
	CustomMedications json.RawMessage
	Total             float64
	Notes             *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type StateKind string

const (
	StateScheduled StateKind = "SCHEDULED"
	StateActive    StateKind = "ACTIVE"
	StateEnded     StateKind = "ENDED"
)

// State is the tagged status computed from the stored dates, so call sites
// get an explicit variant instead of interpreting a nullable end date.
type State struct {
	Kind    StateKind
	EndedAt *time.Time
}

// ActiveAt reports whether the treatment occupies the given instant:
// started, and either open-ended or ending strictly later.
func (t *Treatment) ActiveAt(now time.Time) bool {
	return !t.StartDate.After(now) && (t.EndDate == nil || t.EndDate.After(now))
}

// StateAt derives the tagged state at the given instant.
func (t *Treatment) StateAt(now time.Time) State {
	switch {
	case t.StartDate.After(now):
		return State{Kind: StateScheduled}
	case t.EndDate != nil && !t.EndDate.After(now):
		return State{Kind: StateEnded, EndedAt: t.EndDate}
	default:
		return State{Kind: StateActive}
	}
}
