package treatment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic-scheduling/internal/interval"
	redisclient "github.com/clinicdesk/clinic-scheduling/internal/redis"
)

var (
	ErrStartTooOld      = errors.New("start date cannot be more than 1 year in the past")
	ErrStartTooFar      = errors.New("start date cannot be more than 2 years in the future")
	ErrEndBeforeStart   = errors.New("end date must be after start date")
	ErrEndTooFar        = errors.New("end date cannot be more than 2 years in the future")
	ErrTreatmentSetBusy = errors.New("patient treatments are being modified, please retry")
)

// Conflict identifies one treatment blocking an operation.
type Conflict struct {
	TreatmentID int64
	ProtocolID  int64
}

// ActiveConflictError reports the single-active-protocol rule: the patient
// already has active treatments and autoEndExisting was not set.
type ActiveConflictError struct {
	Conflicts []Conflict
}

func (e *ActiveConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("treatment %d (protocol %d)", c.TreatmentID, c.ProtocolID))
	}
	return "patient already has an active treatment: " + strings.Join(parts, ", ")
}

// OverlapError reports a period overlap against another treatment.
type OverlapError struct {
	TreatmentID int64
	ProtocolID  int64
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("treatment period overlaps treatment %d (protocol %d)", e.TreatmentID, e.ProtocolID)
}

// CutoffError reports that auto-ending would set an end date before the
// prior treatment even began.
type CutoffError struct {
	TreatmentID    int64
	TreatmentStart time.Time
	Cutoff         time.Time
}

func (e *CutoffError) Error() string {
	return fmt.Sprintf("cannot end treatment %d at %s: before its start date %s",
		e.TreatmentID, e.Cutoff.Format(time.RFC3339), e.TreatmentStart.Format(time.RFC3339))
}

// Guard enforces the single-active-protocol rule: at most one treatment per
// patient may be active at any instant, through these entry points.
type Guard struct {
	repo   Repository
	locker redisclient.Locker
	log    zerolog.Logger
	now    func() time.Time
}

type GuardDeps struct {
	Repo   Repository
	Locker redisclient.Locker
	Logger zerolog.Logger
	Now    func() time.Time
}

func NewGuard(d GuardDeps) *Guard {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Guard{
		repo:   d.Repo,
		locker: d.Locker,
		log:    d.Logger,
		now:    d.Now,
	}
}

type CreateRequest struct {
	PatientID         int64
	ProtocolID        int64
	DoctorID          int64
	StartDate         time.Time
	EndDate           *time.Time
	CustomMedications json.RawMessage
	Total             float64
	Notes             *string
	AutoEndExisting   bool
}

// GuardCreate creates a treatment after exclusivity checks. With
// AutoEndExisting, every currently active treatment is ended one second
// before the new start; ending and creating happen in one transaction.
// The active-set read and the write run under a per-patient lock.
func (g *Guard) GuardCreate(ctx context.Context, req CreateRequest) (*Treatment, error) {
	now := g.now()

	if req.StartDate.Before(now.AddDate(-1, 0, 0)) {
		return nil, ErrStartTooOld
	}
	if req.StartDate.After(now.AddDate(2, 0, 0)) {
		return nil, ErrStartTooFar
	}
	if req.EndDate != nil {
		if !req.EndDate.After(req.StartDate) {
			return nil, ErrEndBeforeStart
		}
		if req.EndDate.After(now.AddDate(2, 0, 0)) {
			return nil, ErrEndTooFar
		}
	}

	t := &Treatment{
		PatientID:         req.PatientID,
		ProtocolID:        req.ProtocolID,
		DoctorID:          req.DoctorID,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		CustomMedications: req.CustomMedications,
		Total:             req.Total,
		Notes:             req.Notes,
	}

	var created *Treatment

	err := g.locker.WithPatientLock(ctx, req.PatientID, func(lockCtx context.Context) error {
		active, err := g.repo.FindActive(lockCtx, req.PatientID, now)
		if err != nil {
			return fmt.Errorf("load active treatments: %w", err)
		}

		if len(active) == 0 {
			created, err = g.repo.Create(lockCtx, t)
			if err != nil {
				return fmt.Errorf("create treatment: %w", err)
			}
			return nil
		}

		if !req.AutoEndExisting {
			conflict := &ActiveConflictError{}
			for _, a := range active {
				conflict.Conflicts = append(conflict.Conflicts, Conflict{TreatmentID: a.ID, ProtocolID: a.ProtocolID})
			}
			return conflict
		}

		cutoff := req.StartDate.Add(-time.Second)
		endIDs := make([]int64, 0, len(active))
		for _, a := range active {
			if cutoff.Before(a.StartDate) {
				return &CutoffError{TreatmentID: a.ID, TreatmentStart: a.StartDate, Cutoff: cutoff}
			}
			endIDs = append(endIDs, a.ID)
		}

		created, err = g.repo.CreateWithAutoEnd(lockCtx, t, endIDs, cutoff)
		if err != nil {
			return err
		}

		g.log.Info().
			Int64("patient_id", req.PatientID).
			Ints64("ended_treatments", endIDs).
			Time("cutoff", cutoff).
			Msg("auto-ended prior treatments")
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrTreatmentSetBusy
		}
		return nil, err
	}

	return created, nil
}

type UpdateRequest struct {
	StartDate         *time.Time
	EndDate           *time.Time
	ClearEndDate      bool
	DoctorID          *int64
	CustomMedications json.RawMessage
	Total             *float64
	Notes             *string
}

// GuardUpdate applies changes after re-checking the prospective period
// against the patient's other active treatments. Treatment periods use the
// inclusive overlap variant; a missing end bound on either side stands in
// for now.
func (g *Guard) GuardUpdate(ctx context.Context, id int64, changes UpdateRequest) (*Treatment, error) {
	t, err := g.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := *t
	datesChanged := false
	if changes.StartDate != nil {
		merged.StartDate = *changes.StartDate
		datesChanged = true
	}
	if changes.ClearEndDate {
		merged.EndDate = nil
		datesChanged = true
	} else if changes.EndDate != nil {
		merged.EndDate = changes.EndDate
		datesChanged = true
	}
	if changes.DoctorID != nil {
		merged.DoctorID = *changes.DoctorID
	}
	if changes.CustomMedications != nil {
		merged.CustomMedications = changes.CustomMedications
	}
	if changes.Total != nil {
		merged.Total = *changes.Total
	}
	if changes.Notes != nil {
		merged.Notes = changes.Notes
	}

	if merged.EndDate != nil && !merged.EndDate.After(merged.StartDate) {
		return nil, ErrEndBeforeStart
	}

	if datesChanged {
		now := g.now()
		others, err := g.repo.FindActive(ctx, t.PatientID, now)
		if err != nil {
			return nil, fmt.Errorf("load active treatments: %w", err)
		}

		newEnd := interval.EndOr(merged.EndDate, now)
		for _, o := range others {
			if o.ID == t.ID {
				continue
			}
			otherEnd := interval.EndOr(o.EndDate, now)
			if interval.OverlapsInclusive(merged.StartDate, newEnd, o.StartDate, otherEnd) {
				return nil, &OverlapError{TreatmentID: o.ID, ProtocolID: o.ProtocolID}
			}
		}
	}

	updated, err := g.repo.Update(ctx, &merged)
	if err != nil {
		return nil, fmt.Errorf("update treatment: %w", err)
	}
	return updated, nil
}

// GetTreatment retrieves a treatment by ID.
func (g *Guard) GetTreatment(ctx context.Context, id int64) (*Treatment, error) {
	return g.repo.GetByID(ctx, id)
}

// ListByPatient retrieves a patient's treatments, newest first.
func (g *Guard) ListByPatient(ctx context.Context, patientID int64) ([]Treatment, error) {
	ts, err := g.repo.FindByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list treatments by patient: %w", err)
	}
	return ts, nil
}

// Violation is a patient with more than one simultaneously active
// treatment, with the offenders ordered by start date descending.
type Violation struct {
	PatientID  int64
	Treatments []Treatment
}

// DetectViolations scans all currently active treatments and reports every
// patient holding more than one.
func (g *Guard) DetectViolations(ctx context.Context) ([]Violation, error) {
	active, err := g.repo.FindActive(ctx, 0, g.now())
	if err != nil {
		return nil, fmt.Errorf("load active treatments: %w", err)
	}

	byPatient := make(map[int64][]Treatment)
	for _, t := range active {
		byPatient[t.PatientID] = append(byPatient[t.PatientID], t)
	}

	var violations []Violation
	for patientID, ts := range byPatient {
		if len(ts) < 2 {
			continue
		}
		sort.Slice(ts, func(i, j int) bool {
			return ts[i].StartDate.After(ts[j].StartDate)
		})
		violations = append(violations, Violation{PatientID: patientID, Treatments: ts})
	}

	sort.Slice(violations, func(i, j int) bool {
		return violations[i].PatientID < violations[j].PatientID
	})

	return violations, nil
}

// FixAction is one planned or applied repair.
type FixAction struct {
	PatientID   int64
	TreatmentID int64
	EndDate     time.Time
}

// FixViolations ends all but the newest treatment in each violating group.
// With dryRun the plan is returned without touching the store.
func (g *Guard) FixViolations(ctx context.Context, dryRun bool) ([]FixAction, error) {
	violations, err := g.DetectViolations(ctx)
	if err != nil {
		return nil, err
	}

	now := g.now()
	var actions []FixAction

	for _, v := range violations {
		// Treatments are ordered newest first; the newest wins.
		for _, t := range v.Treatments[1:] {
			action := FixAction{PatientID: v.PatientID, TreatmentID: t.ID, EndDate: now}
			if !dryRun {
				if err := g.repo.SetEndDate(ctx, t.ID, now); err != nil {
					return actions, fmt.Errorf("end treatment %d: %w", t.ID, err)
				}
			}
			actions = append(actions, action)
		}
	}

	if !dryRun && len(actions) > 0 {
		g.log.Info().Int("ended", len(actions)).Msg("repaired continuity violations")
	}

	return actions, nil
}
