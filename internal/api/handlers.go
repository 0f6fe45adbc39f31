package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/medisched/appointment-consolidation/internal/consolidation"
	redisclient "github.com/medisched/appointment-consolidation/internal/redis"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func upsertAppointmentHandler(svc *consolidation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpsertAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in, errField := buildUpsertInput(req)
		if errField != "" {
			writeError(w, http.StatusBadRequest, "invalid_"+errField, errField+" must be a valid UUID")
			return
		}

		result, err := svc.UpsertAppointment(r.Context(), in)
		if err != nil {
			handleUpsertError(w, err)
			return
		}

		specialties := make([]AppointmentSpecialtyResponse, 0, len(result.Specialties))
		for _, sp := range result.Specialties {
			specialties = append(specialties, AppointmentSpecialtyResponse{
				ID:            sp.ID,
				SpecialityID:  sp.SpecialityID,
				DoctorID:      sp.DoctorID,
				ScheduledTime: sp.ScheduledTime,
				Status:        sp.Status,
			})
		}

		status := http.StatusCreated
		if result.Merged {
			status = http.StatusOK
		}

		writeJSON(w, status, UpsertAppointmentResponse{
			ID:           result.Appointment.ID,
			PatientID:    result.Appointment.PatientID,
			HospitalID:   result.Appointment.HospitalID,
			ScheduledOn:  consolidation.DayKey(result.Appointment.ScheduledDate),
			Status:       string(result.Appointment.Status),
			Speciality:   result.Appointment.Speciality,
			Specialties:  specialties,
			Merged:       result.Merged,
			MergedCount:  result.MergedCount,
			SkippedCount: result.SkippedCount,
		})
	}
}

func buildUpsertInput(req UpsertAppointmentRequest) (consolidation.UpsertInput, string) {
	var in consolidation.UpsertInput

	if req.AppointmentID != "" {
		id, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			return in, "appointment_id"
		}
		in.AppointmentID = &id
	}

	var err error
	if in.PatientID, err = uuid.Parse(req.PatientID); err != nil {
		return in, "patient_id"
	}
	if in.HospitalID, err = uuid.Parse(req.HospitalID); err != nil {
		return in, "hospital_id"
	}
	if in.SalesPersonID, err = uuid.Parse(req.SalesPersonID); err != nil {
		return in, "sales_person_id"
	}
	if in.CreatedByID, err = uuid.Parse(req.CreatedByID); err != nil {
		return in, "created_by_id"
	}

	for _, b := range req.Specialties {
		specID, err := uuid.Parse(b.SpecialityID)
		if err != nil {
			return in, "speciality_id"
		}
		docID, err := uuid.Parse(b.DoctorID)
		if err != nil {
			return in, "doctor_id"
		}
		in.Bookings = append(in.Bookings, consolidation.SpecialtyBooking{
			SpecialityID:  specID,
			DoctorID:      docID,
			ScheduledTime: b.ScheduledTime,
		})
	}

	if req.SourceTaskID != "" {
		id, err := uuid.Parse(req.SourceTaskID)
		if err != nil {
			return in, "source_task_id"
		}
		in.SourceTaskID = &id
	}

	in.ScheduledDate = req.ScheduledDate
	in.DriverName = req.DriverName
	in.DriverPhone = req.DriverPhone
	in.Notes = req.Notes
	in.IsNewPatientAtCreation = req.IsNewPatient
	in.IsNotBooked = req.IsNotBooked
	in.ReplaceSpecialities = req.ReplaceSpecialities

	return in, ""
}

func handleUpsertError(w http.ResponseWriter, err error) {
	var ve *consolidation.ValidationError
	var nfe *consolidation.NotFoundError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "validation_failed", ve.Error())
	case errors.As(err, &nfe):
		writeError(w, http.StatusNotFound, nfe.Entity+"_not_found", nfe.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "consolidation_in_progress", "another upsert holds this patient/hospital/day, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func mergeDuplicatesHandler(svc *consolidation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MergeDuplicatesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		hospitalID, err := uuid.Parse(req.HospitalID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_hospital_id", "hospital_id must be a valid UUID")
			return
		}
		if req.Date.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid_date", "date is required")
			return
		}

		coord := consolidation.NoCoordinator()
		if req.CoordinatorID != "" {
			coordID, err := uuid.Parse(req.CoordinatorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_coordinator_id", "coordinator_id must be a valid UUID")
				return
			}
			coord = consolidation.CoordinatorFor(coordID)
		}

		result, err := svc.MergeDuplicatesForPatientDay(r.Context(), patientID, req.Date, hospitalID, coord)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "merge_failed", err.Error())
			return
		}

		resp := MergeDuplicatesResponse{}
		if result != nil {
			resp.Merged = true
			resp.PrimaryID = &result.PrimaryID
			resp.DuplicatesAbsorbed = result.DuplicatesAbsorbed
			resp.DeletedAppointments = result.DeletedAppointmentIDs
			resp.SpecialtiesCreated = result.SpecialtiesCreated
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listDuplicateGroupsHandler(svc *consolidation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := svc.FindDuplicateGroups(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]DuplicateGroupResponse, 0, len(groups))
		for _, g := range groups {
			resp = append(resp, DuplicateGroupResponse{
				PatientID:      g.PatientID,
				Day:            consolidation.DayKey(g.Day),
				HospitalID:     g.HospitalID,
				CoordinatorID:  g.Coordinator.Key(),
				AppointmentIDs: g.AppointmentIDs,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func reconcileHandler(svc *consolidation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := svc.ReconcileAllDuplicates(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "reconcile_failed", err.Error())
			return
		}

		groups := make([]GroupResultResponse, 0, len(report.Groups))
		for _, g := range report.Groups {
			groups = append(groups, GroupResultResponse{
				PatientID:            g.PatientID,
				Day:                  consolidation.DayKey(g.Day),
				HospitalID:           g.HospitalID,
				CoordinatorID:        g.Coordinator.Key(),
				Merged:               g.Merged,
				AppointmentsAbsorbed: g.AppointmentsAbsorbed,
				Error:                g.Error,
			})
		}

		writeJSON(w, http.StatusOK, ReconcileResponse{
			GroupsProcessed:    report.GroupsProcessed,
			GroupsMerged:       report.GroupsMerged,
			AppointmentsMerged: report.AppointmentsMerged,
			TasksMerged:        report.TasksMerged,
			Groups:             groups,
		})
	}
}
