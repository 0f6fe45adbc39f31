package api

import (
	"time"

	"github.com/google/uuid"
)

type SpecialtyBookingRequest struct {
	SpecialityID  string    `json:"speciality_id"`
	DoctorID      string    `json:"doctor_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
}

type UpsertAppointmentRequest struct {
	AppointmentID       string                    `json:"appointment_id,omitempty"`
	PatientID           string                    `json:"patient_id"`
	HospitalID          string                    `json:"hospital_id"`
	SalesPersonID       string                    `json:"sales_person_id"`
	CreatedByID         string                    `json:"created_by_id"`
	Specialties         []SpecialtyBookingRequest `json:"specialties"`
	ScheduledDate       *time.Time                `json:"scheduled_date,omitempty"`
	DriverName          *string                   `json:"driver_name,omitempty"`
	DriverPhone         *string                   `json:"driver_phone,omitempty"`
	Notes               *string                   `json:"notes,omitempty"`
	IsNewPatient        *bool                     `json:"is_new_patient,omitempty"`
	IsNotBooked         *bool                     `json:"is_not_booked,omitempty"`
	SourceTaskID        string                    `json:"source_task_id,omitempty"`
	ReplaceSpecialities bool                      `json:"replace_specialities,omitempty"`
}

type AppointmentSpecialtyResponse struct {
	ID            uuid.UUID `json:"id"`
	SpecialityID  uuid.UUID `json:"speciality_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Status        string    `json:"status"`
}

type UpsertAppointmentResponse struct {
	ID           uuid.UUID                      `json:"id"`
	PatientID    uuid.UUID                      `json:"patient_id"`
	HospitalID   uuid.UUID                      `json:"hospital_id"`
	ScheduledOn  string                         `json:"scheduled_on"`
	Status       string                         `json:"status"`
	Speciality   string                         `json:"speciality"`
	Specialties  []AppointmentSpecialtyResponse `json:"specialties"`
	Merged       bool                           `json:"merged"`
	MergedCount  int                            `json:"merged_count"`
	SkippedCount int                            `json:"skipped_count"`
}

type MergeDuplicatesRequest struct {
	PatientID     string    `json:"patient_id"`
	HospitalID    string    `json:"hospital_id"`
	Date          time.Time `json:"date"`
	CoordinatorID string    `json:"coordinator_id,omitempty"`
}

type MergeDuplicatesResponse struct {
	Merged              bool        `json:"merged"`
	PrimaryID           *uuid.UUID  `json:"primary_id,omitempty"`
	DuplicatesAbsorbed  int         `json:"duplicates_absorbed"`
	DeletedAppointments []uuid.UUID `json:"deleted_appointments,omitempty"`
	SpecialtiesCreated  int         `json:"specialties_created"`
}

type DuplicateGroupResponse struct {
	PatientID      uuid.UUID   `json:"patient_id"`
	Day            string      `json:"day"`
	HospitalID     uuid.UUID   `json:"hospital_id"`
	CoordinatorID  string      `json:"coordinator_id"`
	AppointmentIDs []uuid.UUID `json:"appointment_ids"`
}

type GroupResultResponse struct {
	PatientID            uuid.UUID `json:"patient_id"`
	Day                  string    `json:"day"`
	HospitalID           uuid.UUID `json:"hospital_id"`
	CoordinatorID        string    `json:"coordinator_id"`
	Merged               bool      `json:"merged"`
	AppointmentsAbsorbed int       `json:"appointments_absorbed"`
	Error                string    `json:"error,omitempty"`
}

type ReconcileResponse struct {
	GroupsProcessed    int                   `json:"groups_processed"`
	GroupsMerged       int                   `json:"groups_merged"`
	AppointmentsMerged int                   `json:"appointments_merged"`
	TasksMerged        int                   `json:"tasks_merged"`
	Groups             []GroupResultResponse `json:"groups"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
