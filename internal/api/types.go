package api

import (
	"encoding/json"
	"time"

	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
	"github.com/clinicdesk/clinic-scheduling/internal/treatment"
)

type CreateAppointmentRequest struct {
	PatientID       int64   `json:"patient_id"`
	ServiceID       int64   `json:"service_id"`
	AppointmentTime string  `json:"appointment_time"`
	Type            string  `json:"type"`
	IsAnonymous     bool    `json:"is_anonymous"`
	DoctorID        *int64  `json:"doctor_id,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

type UpdateAppointmentRequest struct {
	AppointmentTime *string `json:"appointment_time,omitempty"`
	DoctorID        *int64  `json:"doctor_id,omitempty"`
	Notes           *string `json:"notes,omitempty"`
	IsAnonymous     *bool   `json:"is_anonymous,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

type AppointmentResponse struct {
	ID                int64     `json:"id"`
	PatientID         int64     `json:"patient_id"`
	DoctorID          int64     `json:"doctor_id"`
	ServiceID         int64     `json:"service_id"`
	AppointmentTime   time.Time `json:"appointment_time"`
	Type              string    `json:"type"`
	Status            string    `json:"status"`
	IsAnonymous       bool      `json:"is_anonymous"`
	Notes             *string   `json:"notes,omitempty"`
	PatientMeetingURL *string   `json:"patient_meeting_url,omitempty"`
	DoctorMeetingURL  *string   `json:"doctor_meeting_url,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                a.ID,
		PatientID:         a.PatientID,
		DoctorID:          a.DoctorID,
		ServiceID:         a.ServiceID,
		AppointmentTime:   a.Time,
		Type:              string(a.Type),
		Status:            string(a.Status),
		IsAnonymous:       a.IsAnonymous,
		Notes:             a.Notes,
		PatientMeetingURL: a.PatientMeetingURL,
		DoctorMeetingURL:  a.DoctorMeetingURL,
	}
}

type CreateTreatmentRequest struct {
	PatientID         int64           `json:"patient_id"`
	ProtocolID        int64           `json:"protocol_id"`
	DoctorID          int64           `json:"doctor_id"`
	StartDate         string          `json:"start_date"`
	EndDate           *string         `json:"end_date,omitempty"`
	CustomMedications json.RawMessage `json:"custom_medications,omitempty"`
	Total             float64         `json:"total"`
	Notes             *string         `json:"notes,omitempty"`
	AutoEndExisting   bool            `json:"auto_end_existing"`
}

type UpdateTreatmentRequest struct {
	StartDate         *string         `json:"start_date,omitempty"`
	EndDate           *string         `json:"end_date,omitempty"`
	ClearEndDate      bool            `json:"clear_end_date,omitempty"`
	DoctorID          *int64          `json:"doctor_id,omitempty"`
	CustomMedications json.RawMessage `json:"custom_medications,omitempty"`
	Total             *float64        `json:"total,omitempty"`
	Notes             *string         `json:"notes,omitempty"`
}

type TreatmentResponse struct {
	ID                int64           `json:"id"`
	PatientID         int64           `json:"patient_id"`
	ProtocolID        int64           `json:"protocol_id"`
	DoctorID          int64           `json:"doctor_id"`
	StartDate         time.Time       `json:"start_date"`
	EndDate           *time.Time      `json:"end_date,omitempty"`
	State             string          `json:"state"`
	CustomMedications json.RawMessage `json:"custom_medications,omitempty"`
	Total             float64         `json:"total"`
	Notes             *string         `json:"notes,omitempty"`
}

func toTreatmentResponse(t *treatment.Treatment, now time.Time) TreatmentResponse {
	return TreatmentResponse{
		ID:                t.ID,
		PatientID:         t.PatientID,
		ProtocolID:        t.ProtocolID,
		DoctorID:          t.DoctorID,
		StartDate:         t.StartDate,
		EndDate:           t.EndDate,
		State:             string(t.StateAt(now).Kind),
		CustomMedications: t.CustomMedications,
		Total:             t.Total,
		Notes:             t.Notes,
	}
}

type ViolationResponse struct {
	PatientID  int64               `json:"patient_id"`
	Treatments []TreatmentResponse `json:"treatments"`
}

type FixActionResponse struct {
	PatientID   int64     `json:"patient_id"`
	TreatmentID int64     `json:"treatment_id"`
	EndDate     time.Time `json:"end_date"`
}
