package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic-scheduling/internal/meeting"
	"github.com/clinicdesk/clinic-scheduling/internal/notify"
	redisclient "github.com/clinicdesk/clinic-scheduling/internal/redis"
	"github.com/clinicdesk/clinic-scheduling/internal/schedule"
	"github.com/clinicdesk/clinic-scheduling/internal/slots"
)

var (
	ErrTimeNotFuture           = errors.New("appointment time must be in the future")
	ErrUnknownType             = errors.New("unknown appointment type")
	ErrUnknownStatus           = errors.New("unknown appointment status")
	ErrAnonymousRequiresOnline = errors.New("anonymous appointments must be online")
	ErrServiceTypeMismatch     = errors.New("appointment type does not match the service type")
	ErrDoctorNotAllowed        = errors.New("consult appointments cannot specify a doctor")
	ErrDoctorRequired          = errors.New("a doctor is required for this service")
	ErrSlotNotInCatalog        = errors.New("appointment time does not match a clinic slot")
	ErrSlotOutsideServiceHours = errors.New("slot is outside the service operating window")
	ErrDoctorNotOnShift        = errors.New("doctor is not scheduled for this shift")
	ErrSlotTaken               = errors.New("slot already booked for this doctor")
	ErrNoDoctorAvailable       = errors.New("no available doctor for this slot")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrAppointmentClosed       = errors.New("appointment is completed or cancelled")
)

// Allocator assigns patients to slots. For consult bookings it picks the
// doctor itself; otherwise it validates the caller's choice.
type Allocator struct {
	repo      Repository
	directory schedule.Directory
	catalog   slots.Catalog
	locker    redisclient.Locker
	meetings  meeting.Provisioner
	notifier  notify.Sender
	utcOffset int
	log       zerolog.Logger
	now       func() time.Time
}

type AllocatorDeps struct {
	Repo      Repository
	Directory schedule.Directory
	Catalog   slots.Catalog
	Locker    redisclient.Locker
	Meetings  meeting.Provisioner
	Notifier  notify.Sender
	UTCOffset int
	Logger    zerolog.Logger
	Now       func() time.Time
}

func NewAllocator(d AllocatorDeps) *Allocator {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Allocator{
		repo:      d.Repo,
		directory: d.Directory,
		catalog:   d.Catalog,
		locker:    d.Locker,
		meetings:  d.Meetings,
		notifier:  d.Notifier,
		utcOffset: d.UTCOffset,
		log:       d.Logger,
		now:       d.Now,
	}
}

type AllocateRequest struct {
	PatientID   int64
	ServiceID   int64
	Time        time.Time
	Type        Type
	IsAnonymous bool
	DoctorID    *int64
	Notes       *string
}

// Allocate books a slot. Consult services go through doctor auto-selection
// (first rostered doctor with a free slot, in directory order); every other
// service requires an explicit doctor. The conflict re-check and the insert
// run under a per-doctor-slot lock so concurrent requests cannot both see
// the slot as free.
func (al *Allocator) Allocate(ctx context.Context, req AllocateRequest) (*Appointment, error) {
	patient, err := al.repo.GetPatientByID(ctx, req.PatientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	if !req.Time.After(al.now()) {
		return nil, ErrTimeNotFuture
	}

	svc, err := al.repo.GetServiceByID(ctx, req.ServiceID)
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load service: %w", err)
	}

	if !req.Type.Valid() {
		return nil, ErrUnknownType
	}
	if req.IsAnonymous && req.Type != TypeOnline {
		return nil, ErrAnonymousRequiresOnline
	}
	if err := typeMatchesService(req.Type, svc.Type); err != nil {
		return nil, err
	}

	slot, ok := al.catalog.FindAt(req.Time)
	if !ok {
		return nil, ErrSlotNotInCatalog
	}
	if !slot.Within(svc.StartTime, svc.EndTime) {
		return nil, ErrSlotOutsideServiceHours
	}

	slotStart, slotEnd := slot.Bounds(req.Time)
	shift := slots.ShiftOf(req.Time, al.utcOffset)
	day := slots.DayOf(req.Time)

	a := &Appointment{
		PatientID:   req.PatientID,
		ServiceID:   req.ServiceID,
		Time:        slotStart,
		Type:        req.Type,
		Status:      StatusPending,
		IsAnonymous: req.IsAnonymous,
		Notes:       req.Notes,
	}

	if svc.Type == ServiceConsult {
		if req.DoctorID != nil {
			return nil, ErrDoctorNotAllowed
		}

		doctorID, err := al.selectDoctor(ctx, day, shift, slotStart, slotEnd, 0)
		if err != nil {
			return nil, err
		}
		a.DoctorID = doctorID

		links, err := al.meetings.CreateMeeting(ctx, uuid.NewString(), req.PatientID, doctorID)
		if err != nil {
			return nil, fmt.Errorf("provision meeting room: %w", err)
		}
		a.PatientMeetingURL = &links.PatientURL
		a.DoctorMeetingURL = &links.DoctorURL
	} else {
		if req.DoctorID == nil {
			return nil, ErrDoctorRequired
		}
		if _, err := al.repo.GetDoctorByID(ctx, *req.DoctorID); err != nil {
			if errors.Is(err, ErrDoctorNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load doctor: %w", err)
		}

		working, err := al.directory.IsWorking(ctx, *req.DoctorID, day, shift)
		if err != nil {
			return nil, fmt.Errorf("check doctor shift: %w", err)
		}
		if !working {
			return nil, ErrDoctorNotOnShift
		}
		a.DoctorID = *req.DoctorID
	}

	var created *Appointment

	err = al.locker.WithDoctorSlotLock(ctx, a.DoctorID, slotStart, func(lockCtx context.Context) error {
		// Re-check inside the critical section: the candidate scan above ran
		// without the lock.
		if err := al.ensureSlotFree(lockCtx, a.DoctorID, slotStart, slotEnd, 0); err != nil {
			return err
		}

		c, err := al.repo.Create(lockCtx, a)
		if err != nil {
			if errors.Is(err, ErrSlotTaken) {
				return err
			}
			return fmt.Errorf("create appointment: %w", err)
		}
		created = c
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	if created.Type == TypeOnline {
		al.sendMeetingLinks(ctx, patient, created)
	}

	return created, nil
}

type ReallocateRequest struct {
	Time        *time.Time
	DoctorID    *int64
	Notes       *string
	IsAnonymous *bool
}

// Reallocate re-validates an existing appointment against the merged field
// set. The conflict query excludes the appointment itself so an unchanged
// resubmission never conflicts with its own row. When the doctor changes on
// an online appointment, a fresh room is provisioned and both participants
// get new links; the old room is simply abandoned.
func (al *Allocator) Reallocate(ctx context.Context, id int64, changes ReallocateRequest) (*Appointment, error) {
	existing, err := al.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status.Terminal() {
		return nil, ErrAppointmentClosed
	}

	merged := *existing
	if changes.Time != nil {
		merged.Time = *changes.Time
	}
	if changes.Notes != nil {
		merged.Notes = changes.Notes
	}
	if changes.IsAnonymous != nil {
		merged.IsAnonymous = *changes.IsAnonymous
	}

	if !merged.Time.After(al.now()) {
		return nil, ErrTimeNotFuture
	}

	svc, err := al.repo.GetServiceByID(ctx, merged.ServiceID)
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load service: %w", err)
	}

	if merged.IsAnonymous && merged.Type != TypeOnline {
		return nil, ErrAnonymousRequiresOnline
	}
	if err := typeMatchesService(merged.Type, svc.Type); err != nil {
		return nil, err
	}

	slot, ok := al.catalog.FindAt(merged.Time)
	if !ok {
		return nil, ErrSlotNotInCatalog
	}
	if !slot.Within(svc.StartTime, svc.EndTime) {
		return nil, ErrSlotOutsideServiceHours
	}

	slotStart, slotEnd := slot.Bounds(merged.Time)
	shift := slots.ShiftOf(merged.Time, al.utcOffset)
	day := slots.DayOf(merged.Time)
	merged.Time = slotStart

	if svc.Type == ServiceConsult {
		if changes.DoctorID != nil {
			return nil, ErrDoctorNotAllowed
		}

		// Keep the current doctor when they still fit the new time;
		// otherwise fall back to first-fit selection.
		keep, err := al.directory.IsWorking(ctx, existing.DoctorID, day, shift)
		if err != nil {
			return nil, fmt.Errorf("check doctor shift: %w", err)
		}
		if keep {
			free, err := al.slotFree(ctx, existing.DoctorID, slotStart, slotEnd, existing.ID)
			if err != nil {
				return nil, err
			}
			keep = free
		}
		if keep {
			merged.DoctorID = existing.DoctorID
		} else {
			doctorID, err := al.selectDoctor(ctx, day, shift, slotStart, slotEnd, existing.ID)
			if err != nil {
				return nil, err
			}
			merged.DoctorID = doctorID
		}
	} else {
		if changes.DoctorID != nil {
			if _, err := al.repo.GetDoctorByID(ctx, *changes.DoctorID); err != nil {
				if errors.Is(err, ErrDoctorNotFound) {
					return nil, err
				}
				return nil, fmt.Errorf("load doctor: %w", err)
			}
			merged.DoctorID = *changes.DoctorID
		}

		working, err := al.directory.IsWorking(ctx, merged.DoctorID, day, shift)
		if err != nil {
			return nil, fmt.Errorf("check doctor shift: %w", err)
		}
		if !working {
			return nil, ErrDoctorNotOnShift
		}
	}

	doctorChanged := merged.DoctorID != existing.DoctorID
	if merged.Type == TypeOnline && doctorChanged {
		links, err := al.meetings.CreateMeeting(ctx, uuid.NewString(), merged.PatientID, merged.DoctorID)
		if err != nil {
			return nil, fmt.Errorf("provision meeting room: %w", err)
		}
		merged.PatientMeetingURL = &links.PatientURL
		merged.DoctorMeetingURL = &links.DoctorURL
	}

	var updated *Appointment

	err = al.locker.WithDoctorSlotLock(ctx, merged.DoctorID, slotStart, func(lockCtx context.Context) error {
		if err := al.ensureSlotFree(lockCtx, merged.DoctorID, slotStart, slotEnd, existing.ID); err != nil {
			return err
		}

		u, err := al.repo.Update(lockCtx, &merged)
		if err != nil {
			if errors.Is(err, ErrSlotTaken) {
				return err
			}
			return fmt.Errorf("update appointment: %w", err)
		}
		updated = u
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	if updated.Type == TypeOnline && doctorChanged {
		patient, err := al.repo.GetPatientByID(ctx, updated.PatientID)
		if err != nil {
			al.log.Warn().Err(err).Int64("appointment_id", updated.ID).Msg("load patient for meeting link delivery failed")
		} else {
			al.sendMeetingLinks(ctx, patient, updated)
		}
	}

	return updated, nil
}

// SetStatus advances the status machine. It deliberately skips slot and
// conflict validation; only existence and the transition table are checked.
func (al *Allocator) SetStatus(ctx context.Context, id int64, to Status) (*Appointment, error) {
	if !to.Valid() {
		return nil, ErrUnknownStatus
	}

	existing, err := al.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Status.CanTransitionTo(to) {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := al.repo.UpdateStatus(ctx, id, to)
	if err != nil {
		return nil, fmt.Errorf("set appointment status: %w", err)
	}
	return updated, nil
}

// GetAppointment retrieves an appointment by ID.
func (al *Allocator) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	return al.repo.GetByID(ctx, id)
}

// ListByPatient retrieves a patient's appointments, newest first.
func (al *Allocator) ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := al.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// selectDoctor scans the rostered doctors in directory order and picks the
// first with no conflicting appointment. One conflict query per candidate,
// strictly sequential, so selection stays deterministic.
func (al *Allocator) selectDoctor(ctx context.Context, day time.Time, shift slots.Shift, slotStart, slotEnd time.Time, exceptID int64) (int64, error) {
	candidates, err := al.directory.DoctorsWorking(ctx, day, shift)
	if err != nil {
		return 0, fmt.Errorf("list doctors on shift: %w", err)
	}

	for _, id := range candidates {
		free, err := al.slotFree(ctx, id, slotStart, slotEnd, exceptID)
		if err != nil {
			return 0, err
		}
		if free {
			return id, nil
		}
	}

	return 0, ErrNoDoctorAvailable
}

func (al *Allocator) slotFree(ctx context.Context, doctorID int64, start, end time.Time, exceptID int64) (bool, error) {
	_, err := al.repo.FindConflicting(ctx, doctorID, start, end, ConflictingStatuses(), exceptID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("check slot conflicts: %w", err)
	}
	return false, nil
}

func (al *Allocator) ensureSlotFree(ctx context.Context, doctorID int64, start, end time.Time, exceptID int64) error {
	free, err := al.slotFree(ctx, doctorID, start, end, exceptID)
	if err != nil {
		return err
	}
	if !free {
		return ErrSlotTaken
	}
	return nil
}

// sendMeetingLinks is fire-and-forget: a delivery failure never rolls back
// the booking.
func (al *Allocator) sendMeetingLinks(ctx context.Context, patient *Patient, a *Appointment) {
	if a.PatientMeetingURL != nil {
		if err := al.notifier.SendMeetingLink(ctx, patient.Email, *a.PatientMeetingURL); err != nil {
			al.log.Warn().Err(err).Int64("appointment_id", a.ID).Msg("patient meeting link delivery failed")
		}
	}

	if a.DoctorMeetingURL == nil {
		return
	}
	doctor, err := al.repo.GetDoctorByID(ctx, a.DoctorID)
	if err != nil {
		al.log.Warn().Err(err).Int64("appointment_id", a.ID).Msg("load doctor for meeting link delivery failed")
		return
	}
	if err := al.notifier.SendMeetingLink(ctx, doctor.Email, *a.DoctorMeetingURL); err != nil {
		al.log.Warn().Err(err).Int64("appointment_id", a.ID).Msg("doctor meeting link delivery failed")
	}
}

func typeMatchesService(t Type, st ServiceType) error {
	if st == ServiceConsult {
		if t != TypeOnline {
			return ErrServiceTypeMismatch
		}
		return nil
	}
	if t != TypeOffline {
		return ErrServiceTypeMismatch
	}
	return nil
}
