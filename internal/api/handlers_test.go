package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
	"github.com/clinicdesk/clinic-scheduling/internal/treatment"
)

func TestCreateAppointmentHandler_RejectsBadInput(t *testing.T) {
	h := createAppointmentHandler(nil)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/v1/appointments", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "invalid_request_body", body.Error)

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/v1/appointments",
		strings.NewReader(`{"patient_id":1,"service_id":1,"appointment_time":"10 March 2025","type":"ONLINE"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = ErrorResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "invalid_appointment_time", body.Error)
}

func TestHandleAppointmentError_StatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{appointment.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
		{appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
		{appointment.ErrTimeNotFuture, http.StatusBadRequest, "validation_failed"},
		{appointment.ErrSlotNotInCatalog, http.StatusBadRequest, "validation_failed"},
		{appointment.ErrDoctorNotOnShift, http.StatusConflict, "doctor_not_on_shift"},
		{appointment.ErrSlotTaken, http.StatusConflict, "slot_already_booked"},
		{appointment.ErrNoDoctorAvailable, http.StatusConflict, "no_doctor_available"},
		{appointment.ErrSlotBeingBooked, http.StatusConflict, "slot_being_booked"},
		{appointment.ErrInvalidStatusTransition, http.StatusConflict, "invalid_status_transition"},
		{appointment.ErrAppointmentClosed, http.StatusConflict, "invalid_status_transition"},
	}

	for _, c := range cases {
		rec := httptest.NewRecorder()
		handleAppointmentError(rec, c.err)

		assert.Equal(t, c.status, rec.Code, c.err.Error())

		var body ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, c.code, body.Error, c.err.Error())
	}
}

func TestHandleTreatmentError_TypedConflicts(t *testing.T) {
	rec := httptest.NewRecorder()
	handleTreatmentError(rec, &treatment.ActiveConflictError{
		Conflicts: []treatment.Conflict{{TreatmentID: 4, ProtocolID: 2}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "active_treatment_exists", body.Error)
	assert.Contains(t, body.Details, "treatment 4")

	rec = httptest.NewRecorder()
	handleTreatmentError(rec, &treatment.OverlapError{TreatmentID: 9, ProtocolID: 1})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	handleTreatmentError(rec, treatment.ErrEndBeforeStart)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("2025-01-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), d)

	d, err = parseDate("2025-01-10T08:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 10, 8, 30, 0, 0, time.UTC), d)

	_, err = parseDate("10/01/2025")
	assert.Error(t, err)
}
