package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	redisclient "github.com/clinicdesk/clinic-scheduling/internal/redis"
	"github.com/clinicdesk/clinic-scheduling/internal/treatment"
)

func createTreatmentHandler(g *treatment.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTreatmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		start, err := parseDate(req.StartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_date", "start_date must be YYYY-MM-DD or RFC3339")
			return
		}

		var end *time.Time
		if req.EndDate != nil {
			e, err := parseDate(*req.EndDate)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_end_date", "end_date must be YYYY-MM-DD or RFC3339")
				return
			}
			end = &e
		}

		t, err := g.GuardCreate(r.Context(), treatment.CreateRequest{
			PatientID:         req.PatientID,
			ProtocolID:        req.ProtocolID,
			DoctorID:          req.DoctorID,
			StartDate:         start,
			EndDate:           end,
			CustomMedications: req.CustomMedications,
			Total:             req.Total,
			Notes:             req.Notes,
			AutoEndExisting:   req.AutoEndExisting,
		})
		if err != nil {
			handleTreatmentError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toTreatmentResponse(t, time.Now()))
	}
}

func updateTreatmentHandler(g *treatment.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}

		var req UpdateTreatmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		changes := treatment.UpdateRequest{
			ClearEndDate:      req.ClearEndDate,
			DoctorID:          req.DoctorID,
			CustomMedications: req.CustomMedications,
			Total:             req.Total,
			Notes:             req.Notes,
		}
		if req.StartDate != nil {
			s, err := parseDate(*req.StartDate)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_start_date", "start_date must be YYYY-MM-DD or RFC3339")
				return
			}
			changes.StartDate = &s
		}
		if req.EndDate != nil {
			e, err := parseDate(*req.EndDate)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_end_date", "end_date must be YYYY-MM-DD or RFC3339")
				return
			}
			changes.EndDate = &e
		}

		t, err := g.GuardUpdate(r.Context(), id, changes)
		if err != nil {
			handleTreatmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toTreatmentResponse(t, time.Now()))
	}
}

func listPatientTreatmentsHandler(g *treatment.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || patientID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_id", "id must be a positive integer")
			return
		}

		ts, err := g.ListByPatient(r.Context(), patientID)
		if err != nil {
			handleTreatmentError(w, err)
			return
		}

		now := time.Now()
		resp := make([]TreatmentResponse, 0, len(ts))
		for i := range ts {
			resp = append(resp, toTreatmentResponse(&ts[i], now))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func detectViolationsHandler(g *treatment.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		violations, err := g.DetectViolations(r.Context())
		if err != nil {
			handleTreatmentError(w, err)
			return
		}

		now := time.Now()
		resp := make([]ViolationResponse, 0, len(violations))
		for _, v := range violations {
			vr := ViolationResponse{PatientID: v.PatientID}
			for i := range v.Treatments {
				vr.Treatments = append(vr.Treatments, toTreatmentResponse(&v.Treatments[i], now))
			}
			resp = append(resp, vr)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func fixViolationsHandler(g *treatment.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Mutating repairs must be requested explicitly.
		dryRun := r.URL.Query().Get("dry_run") != "false"

		actions, err := g.FixViolations(r.Context(), dryRun)
		if err != nil {
			handleTreatmentError(w, err)
			return
		}

		resp := make([]FixActionResponse, 0, len(actions))
		for _, a := range actions {
			resp = append(resp, FixActionResponse{
				PatientID:   a.PatientID,
				TreatmentID: a.TreatmentID,
				EndDate:     a.EndDate,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// parseDate accepts a calendar day or a full timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func handleTreatmentError(w http.ResponseWriter, err error) {
	var activeConflict *treatment.ActiveConflictError
	var overlap *treatment.OverlapError
	var cutoff *treatment.CutoffError

	switch {
	case errors.Is(err, treatment.ErrTreatmentNotFound):
		writeError(w, http.StatusNotFound, "treatment_not_found", err.Error())
	case errors.Is(err, treatment.ErrStartTooOld),
		errors.Is(err, treatment.ErrStartTooFar),
		errors.Is(err, treatment.ErrEndBeforeStart),
		errors.Is(err, treatment.ErrEndTooFar):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.As(err, &activeConflict):
		writeError(w, http.StatusConflict, "active_treatment_exists", err.Error())
	case errors.As(err, &overlap):
		writeError(w, http.StatusConflict, "treatment_overlap", err.Error())
	case errors.As(err, &cutoff):
		writeError(w, http.StatusConflict, "cutoff_before_start", err.Error())
	case errors.Is(err, treatment.ErrTreatmentSetBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "treatments_being_modified", "patient treatments are being modified, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
