package appointment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinic-scheduling/internal/meeting"
	redisclient "github.com/clinicdesk/clinic-scheduling/internal/redis"
	"github.com/clinicdesk/clinic-scheduling/internal/slots"
)

// Fakes

type fakeRepo struct {
	patients     map[int64]*Patient
	doctors      map[int64]*Doctor
	services     map[int64]*Service
	appointments map[int64]*Appointment
	nextID       int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		patients:     make(map[int64]*Patient),
		doctors:      make(map[int64]*Doctor),
		services:     make(map[int64]*Service),
		appointments: make(map[int64]*Appointment),
	}
}

func (r *fakeRepo) GetPatientByID(_ context.Context, id int64) (*Patient, error) {
	if p, ok := r.patients[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrPatientNotFound
}

func (r *fakeRepo) GetDoctorByID(_ context.Context, id int64) (*Doctor, error) {
	if d, ok := r.doctors[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, ErrDoctorNotFound
}

func (r *fakeRepo) GetServiceByID(_ context.Context, id int64) (*Service, error) {
	if s, ok := r.services[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, ErrServiceNotFound
}

func (r *fakeRepo) FindConflicting(_ context.Context, doctorID int64, start, end time.Time, statuses []Status, exceptID int64) (*Appointment, error) {
	for _, a := range r.appointments {
		if a.DoctorID != doctorID || a.ID == exceptID {
			continue
		}
		if a.Time.Before(start) || !a.Time.Before(end) {
			continue
		}
		for _, s := range statuses {
			if a.Status == s {
				cp := *a
				return &cp, nil
			}
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *fakeRepo) GetByID(_ context.Context, id int64) (*Appointment, error) {
	if a, ok := r.appointments[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, ErrAppointmentNotFound
}

func (r *fakeRepo) ListByPatient(_ context.Context, patientID int64, _, _ int) ([]Appointment, error) {
	var result []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (r *fakeRepo) Create(_ context.Context, a *Appointment) (*Appointment, error) {
	r.nextID++
	cp := *a
	cp.ID = r.nextID
	r.appointments[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeRepo) Update(_ context.Context, a *Appointment) (*Appointment, error) {
	if _, ok := r.appointments[a.ID]; !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	r.appointments[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, id int64, to Status) (*Appointment, error) {
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	cp := *a
	return &cp, nil
}

type fakeDirectory struct {
	working map[string][]int64
}

func shiftKey(day time.Time, shift slots.Shift) string {
	return fmt.Sprintf("%s|%s", day.Format("2006-01-02"), shift)
}

func (d *fakeDirectory) DoctorsWorking(_ context.Context, day time.Time, shift slots.Shift) ([]int64, error) {
	return d.working[shiftKey(slots.DayOf(day), shift)], nil
}

func (d *fakeDirectory) IsWorking(_ context.Context, doctorID int64, day time.Time, shift slots.Shift) (bool, error) {
	for _, id := range d.working[shiftKey(slots.DayOf(day), shift)] {
		if id == doctorID {
			return true, nil
		}
	}
	return false, nil
}

type fakeLocker struct {
	denyAll bool
	calls   int
}

func (l *fakeLocker) WithDoctorSlotLock(ctx context.Context, _ int64, _ time.Time, fn func(ctx context.Context) error) error {
	l.calls++
	if l.denyAll {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

func (l *fakeLocker) WithPatientLock(ctx context.Context, _ int64, fn func(ctx context.Context) error) error {
	l.calls++
	if l.denyAll {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

type fakeMeetings struct {
	err   error
	calls int
}

func (m *fakeMeetings) CreateMeeting(_ context.Context, _ string, _, _ int64) (meeting.Links, error) {
	m.calls++
	if m.err != nil {
		return meeting.Links{}, m.err
	}
	// Distinct URLs per room so callers can tell a re-provisioned room apart.
	return meeting.Links{
		PatientURL: fmt.Sprintf("https://meet.example/p/%d", m.calls),
		DoctorURL:  fmt.Sprintf("https://meet.example/d/%d", m.calls),
	}, nil
}

type fakeNotifier struct {
	err  error
	sent []string
}

func (n *fakeNotifier) SendMeetingLink(_ context.Context, email, _ string) error {
	n.sent = append(n.sent, email)
	return n.err
}

// Fixture

var testNow = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	repo      *fakeRepo
	directory *fakeDirectory
	locker    *fakeLocker
	meetings  *fakeMeetings
	notifier  *fakeNotifier
	allocator *Allocator
}

func newFixture() *fixture {
	repo := newFakeRepo()
	repo.patients[1] = &Patient{ID: 1, Name: "Lan Pham", Email: "lan@example.com"}
	repo.doctors[11] = &Doctor{ID: 11, Name: "Dr. Minh", Email: "minh@example.com"}
	repo.doctors[12] = &Doctor{ID: 12, Name: "Dr. Hoa", Email: "hoa@example.com"}
	repo.services[1] = &Service{ID: 1, Name: "Online consultation", Type: ServiceConsult, StartTime: "07:00", EndTime: "17:00"}
	repo.services[2] = &Service{ID: 2, Name: "Lab testing", Type: ServiceTest, StartTime: "07:00", EndTime: "11:00"}
	repo.services[3] = &Service{ID: 3, Name: "Treatment visit", Type: ServiceTreatment, StartTime: "13:00", EndTime: "17:00"}

	directory := &fakeDirectory{working: make(map[string][]int64)}
	locker := &fakeLocker{}
	meetings := &fakeMeetings{}
	notifier := &fakeNotifier{}

	allocator := NewAllocator(AllocatorDeps{
		Repo:      repo,
		Directory: directory,
		Catalog:   slots.Default(),
		Locker:    locker,
		Meetings:  meetings,
		Notifier:  notifier,
		UTCOffset: 7,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return testNow },
	})

	return &fixture{
		repo:      repo,
		directory: directory,
		locker:    locker,
		meetings:  meetings,
		notifier:  notifier,
		allocator: allocator,
	}
}

func (f *fixture) roster(day time.Time, shift slots.Shift, doctorIDs ...int64) {
	f.directory.working[shiftKey(slots.DayOf(day), shift)] = doctorIDs
}

var slot0700 = time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)

func consultRequest() AllocateRequest {
	return AllocateRequest{
		PatientID: 1,
		ServiceID: 1,
		Time:      slot0700,
		Type:      TypeOnline,
	}
}

func offlineRequest(doctorID int64) AllocateRequest {
	return AllocateRequest{
		PatientID: 1,
		ServiceID: 2,
		Time:      slot0700,
		Type:      TypeOffline,
		DoctorID:  &doctorID,
	}
}

// Precondition tests

func TestAllocate_PatientNotFound(t *testing.T) {
	f := newFixture()
	req := consultRequest()
	req.PatientID = 999

	_, err := f.allocator.Allocate(context.Background(), req)
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestAllocate_TimeMustBeFuture(t *testing.T) {
	f := newFixture()
	req := consultRequest()
	req.Time = testNow.Add(-time.Hour)

	_, err := f.allocator.Allocate(context.Background(), req)
	assert.ErrorIs(t, err, ErrTimeNotFuture)
}

func TestAllocate_AnonymousRequiresOnline(t *testing.T) {
	f := newFixture()
	req := offlineRequest(11)
	req.IsAnonymous = true

	_, err := f.allocator.Allocate(context.Background(), req)
	assert.ErrorIs(t, err, ErrAnonymousRequiresOnline)
}

func TestAllocate_ServiceTypeMismatch(t *testing.T) {
	f := newFixture()

	// Consult must be online.
	req := consultRequest()
	req.Type = TypeOffline
	_, err := f.allocator.Allocate(context.Background(), req)
	assert.ErrorIs(t, err, ErrServiceTypeMismatch)

	// Non-consult must be offline.
	req = offlineRequest(11)
	req.Type = TypeOnline
	_, err = f.allocator.Allocate(context.Background(), req)
	assert.ErrorIs(t, err, ErrServiceTypeMismatch)
}

func TestAllocate_TimeMustMatchCatalogSlot(t *testing.T) {
	f := newFixture()
	req := consultRequest()
	req.Time = time.Date(2025, 3, 10, 7, 15, 0, 0, time.UTC)

	_, err := f.allocator.Allocate(context.Background(), req)
	assert.ErrorIs(t, err, ErrSlotNotInCatalog)
}

func TestAllocate_SlotOutsideServiceWindow(t *testing.T) {
	f := newFixture()
	// Lab testing closes at 11:00; a 13:00 slot is outside its window.
	doctorID := int64(11)
	req := AllocateRequest{
		PatientID: 1,
		ServiceID: 2,
		Time:      time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC),
		Type:      TypeOffline,
		DoctorID:  &doctorID,
	}

	_, err := f.allocator.Allocate(context.Background(), req)
	assert.ErrorIs(t, err, ErrSlotOutsideServiceHours)
}

// Branch A: consult auto-assignment

func TestAllocate_ConsultRejectsExplicitDoctor(t *testing.T) {
	f := newFixture()
	req := consultRequest()
	doctorID := int64(11)
	req.DoctorID = &doctorID

	_, err := f.allocator.Allocate(context.Background(), req)
	assert.ErrorIs(t, err, ErrDoctorNotAllowed)
}

func TestAllocate_ConsultPicksFirstFreeDoctor(t *testing.T) {
	f := newFixture()
	f.roster(slot0700, slots.ShiftMorning, 11, 12)

	appt, err := f.allocator.Allocate(context.Background(), consultRequest())
	require.NoError(t, err)

	assert.Equal(t, int64(11), appt.DoctorID)
	assert.Equal(t, StatusPending, appt.Status)
	require.NotNil(t, appt.PatientMeetingURL)
	require.NotNil(t, appt.DoctorMeetingURL)
	assert.Equal(t, 1, f.meetings.calls)
	// Both participants get their meeting link.
	assert.ElementsMatch(t, []string{"lan@example.com", "minh@example.com"}, f.notifier.sent)
}

func TestAllocate_ConsultSkipsBusyDoctor(t *testing.T) {
	f := newFixture()
	f.roster(slot0700, slots.ShiftMorning, 11, 12)

	req2 := AllocateRequest{PatientID: 1, ServiceID: 1, Time: slot0700, Type: TypeOnline}
	first, err := f.allocator.Allocate(context.Background(), consultRequest())
	require.NoError(t, err)
	require.Equal(t, int64(11), first.DoctorID)

	second, err := f.allocator.Allocate(context.Background(), req2)
	require.NoError(t, err)
	assert.Equal(t, int64(12), second.DoctorID)
}

func TestAllocate_ConsultNoDoctorAvailable(t *testing.T) {
	f := newFixture()
	f.roster(slot0700, slots.ShiftMorning, 11)

	_, err := f.allocator.Allocate(context.Background(), consultRequest())
	require.NoError(t, err)

	_, err = f.allocator.Allocate(context.Background(), consultRequest())
	assert.ErrorIs(t, err, ErrNoDoctorAvailable)
}

func TestAllocate_MeetingFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.roster(slot0700, slots.ShiftMorning, 11)
	f.meetings.err = errors.New("provider down")

	_, err := f.allocator.Allocate(context.Background(), consultRequest())
	require.Error(t, err)
	assert.Empty(t, f.repo.appointments, "failed provisioning must not persist a booking")
}

func TestAllocate_NotificationFailureDoesNotRollBack(t *testing.T) {
	f := newFixture()
	f.roster(slot0700, slots.ShiftMorning, 11)
	f.notifier.err = errors.New("smtp down")

	appt, err := f.allocator.Allocate(context.Background(), consultRequest())
	require.NoError(t, err)
	assert.Contains(t, f.repo.appointments, appt.ID)
}

// Branch B: explicit doctor

func TestAllocate_OfflineRequiresDoctor(t *testing.T) {
	f := newFixture()
	req := offlineRequest(11)
	req.DoctorID = nil

	_, err := f.allocator.Allocate(context.Background(), req)
	assert.ErrorIs(t, err, ErrDoctorRequired)
}

func TestAllocate_OfflineDoctorNotOnShift(t *testing.T) {
	f := newFixture()
	// Doctor 11 exists but is not rostered for the morning.

	_, err := f.allocator.Allocate(context.Background(), offlineRequest(11))
	assert.ErrorIs(t, err, ErrDoctorNotOnShift)
}

func TestAllocate_SameSlotSameDoctorConflicts(t *testing.T) {
	f := newFixture()
	f.roster(slot0700, slots.ShiftMorning, 11)

	_, err := f.allocator.Allocate(context.Background(), offlineRequest(11))
	require.NoError(t, err)

	_, err = f.allocator.Allocate(context.Background(), offlineRequest(11))
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestAllocate_CancelledAppointmentFreesSlot(t *testing.T) {
	f := newFixture()
	f.roster(slot0700, slots.ShiftMorning, 11)

	first, err := f.allocator.Allocate(context.Background(), offlineRequest(11))
	require.NoError(t, err)

	_, err = f.allocator.SetStatus(context.Background(), first.ID, StatusCancelled)
	require.NoError(t, err)

	_, err = f.allocator.Allocate(context.Background(), offlineRequest(11))
	assert.NoError(t, err)
}

func TestAllocate_LockDeniedMapsToSlotBeingBooked(t *testing.T) {
	f := newFixture()
	f.roster(slot0700, slots.ShiftMorning, 11)
	f.locker.denyAll = true

	_, err := f.allocator.Allocate(context.Background(), offlineRequest(11))
	assert.ErrorIs(t, err, ErrSlotBeingBooked)
}

// Reallocate

func TestReallocate_SameValuesDoesNotConflictWithItself(t *testing.T) {
	f := newFixture()
	f.roster(slot0700, slots.ShiftMorning, 11)

	created, err := f.allocator.Allocate(context.Background(), offlineRequest(11))
	require.NoError(t, err)

	// Resubmitting unchanged values twice is idempotent.
	for i := 0; i < 2; i++ {
		updated, err := f.allocator.Reallocate(context.Background(), created.ID, ReallocateRequest{})
		require.NoError(t, err)
		assert.Equal(t, created.ID, updated.ID)
		assert.Equal(t, created.DoctorID, updated.DoctorID)
		assert.True(t, created.Time.Equal(updated.Time))
	}
	assert.Len(t, f.repo.appointments, 1)
}

func TestReallocate_MoveToOccupiedSlotConflicts(t *testing.T) {
	f := newFixture()
	later := time.Date(2025, 3, 10, 7, 35, 0, 0, time.UTC)
	f.roster(slot0700, slots.ShiftMorning, 11)

	first, err := f.allocator.Allocate(context.Background(), offlineRequest(11))
	require.NoError(t, err)

	reqLater := offlineRequest(11)
	reqLater.Time = later
	second, err := f.allocator.Allocate(context.Background(), reqLater)
	require.NoError(t, err)

	_, err = f.allocator.Reallocate(context.Background(), second.ID, ReallocateRequest{Time: &first.Time})
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestReallocate_ConsultReselectsWhenDoctorNoLongerFits(t *testing.T) {
	f := newFixture()
	nextDay := time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC)
	f.roster(slot0700, slots.ShiftMorning, 11)
	f.roster(nextDay, slots.ShiftMorning, 12)

	created, err := f.allocator.Allocate(context.Background(), consultRequest())
	require.NoError(t, err)
	require.Equal(t, int64(11), created.DoctorID)

	// Doctor 11 is not rostered on the new day; first-fit picks 12.
	updated, err := f.allocator.Reallocate(context.Background(), created.ID, ReallocateRequest{Time: &nextDay})
	require.NoError(t, err)
	assert.Equal(t, int64(12), updated.DoctorID)

	// The old room belonged to doctor 11; a new one is provisioned and both
	// participants get the fresh links.
	assert.Equal(t, 2, f.meetings.calls)
	require.NotNil(t, updated.PatientMeetingURL)
	assert.NotEqual(t, *created.PatientMeetingURL, *updated.PatientMeetingURL)
	assert.Contains(t, f.notifier.sent, "hoa@example.com")
}

func TestReallocate_ConsultKeepsDoctorAndRoom(t *testing.T) {
	f := newFixture()
	nextDay := time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC)
	f.roster(slot0700, slots.ShiftMorning, 11)
	f.roster(nextDay, slots.ShiftMorning, 11)

	created, err := f.allocator.Allocate(context.Background(), consultRequest())
	require.NoError(t, err)
	sentAfterCreate := len(f.notifier.sent)

	updated, err := f.allocator.Reallocate(context.Background(), created.ID, ReallocateRequest{Time: &nextDay})
	require.NoError(t, err)

	assert.Equal(t, created.DoctorID, updated.DoctorID)
	assert.Equal(t, 1, f.meetings.calls, "same doctor keeps the room")
	require.NotNil(t, updated.PatientMeetingURL)
	assert.Equal(t, *created.PatientMeetingURL, *updated.PatientMeetingURL)
	assert.Len(t, f.notifier.sent, sentAfterCreate, "no re-delivery without a new room")
}

func TestReallocate_ClosedAppointmentRejected(t *testing.T) {
	f := newFixture()
	f.roster(slot0700, slots.ShiftMorning, 11)

	created, err := f.allocator.Allocate(context.Background(), offlineRequest(11))
	require.NoError(t, err)
	_, err = f.allocator.SetStatus(context.Background(), created.ID, StatusCancelled)
	require.NoError(t, err)

	_, err = f.allocator.Reallocate(context.Background(), created.ID, ReallocateRequest{})
	assert.ErrorIs(t, err, ErrAppointmentClosed)
}

// Status machine

func TestSetStatus_ValidTransitions(t *testing.T) {
	f := newFixture()
	f.roster(slot0700, slots.ShiftMorning, 11)

	created, err := f.allocator.Allocate(context.Background(), offlineRequest(11))
	require.NoError(t, err)

	for _, next := range []Status{StatusCheckin, StatusPaid, StatusProcess, StatusCompleted} {
		updated, err := f.allocator.SetStatus(context.Background(), created.ID, next)
		require.NoError(t, err, "transition to %s", next)
		assert.Equal(t, next, updated.Status)
	}
}

func TestSetStatus_InvalidTransitions(t *testing.T) {
	f := newFixture()
	f.roster(slot0700, slots.ShiftMorning, 11)

	created, err := f.allocator.Allocate(context.Background(), offlineRequest(11))
	require.NoError(t, err)

	// PENDING cannot jump straight to PAID or COMPLETED.
	_, err = f.allocator.SetStatus(context.Background(), created.ID, StatusPaid)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	_, err = f.allocator.SetStatus(context.Background(), created.ID, StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = f.allocator.SetStatus(context.Background(), created.ID, "NONSENSE")
	assert.ErrorIs(t, err, ErrUnknownStatus)

	_, err = f.allocator.SetStatus(context.Background(), created.ID, StatusCancelled)
	require.NoError(t, err)
	_, err = f.allocator.SetStatus(context.Background(), created.ID, StatusPending)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}
