package consolidation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrHospitalNotFound    = errors.New("hospital not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSpecialtyNotFound   = errors.New("specialty not found")
	ErrTaskNotFound        = errors.New("task not found")
)

// Store contains all DB interactions needed by the engine. WithTx runs fn
// against a transactional view of the same store; every multi-statement
// operation in this package goes through it so a failure anywhere rolls
// the whole unit of work back.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Reference lookups
	GetHospitalByID(ctx context.Context, id uuid.UUID) (*Hospital, error)
	GetSpecialtiesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Specialty, error)
	GetSpecialtiesByNames(ctx context.Context, names []string) (map[string]Specialty, error)

	// Appointments
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// FindOpenAppointments returns open (scheduled/assigned) appointments
	// for the patient and hospital whose scheduled date falls inside
	// [dayStart, dayEnd], ordered by (created_at, id) ascending.
	FindOpenAppointments(ctx context.Context, patientID, hospitalID uuid.UUID, dayStart, dayEnd time.Time) ([]Appointment, error)
	// ListOpenAppointments returns every open appointment, ordered by
	// (created_at, id) ascending.
	ListOpenAppointments(ctx context.Context) ([]Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error
	DeleteAppointment(ctx context.Context, id uuid.UUID) error

	// Specialty bookings
	ListAppointmentSpecialties(ctx context.Context, appointmentID uuid.UUID) ([]AppointmentSpecialty, error)
	CreateAppointmentSpecialty(ctx context.Context, s *AppointmentSpecialty) error
	UpdateAppointmentSpecialtyTime(ctx context.Context, id uuid.UUID, scheduledTime time.Time) error
	DeleteAppointmentSpecialties(ctx context.Context, appointmentID uuid.UUID) error

	// Tasks (coordinator linkage; lifecycle owned elsewhere)
	// ListTasksForAppointment returns tasks with
	// related_entity_type='appointment' and related_entity_id set to the
	// appointment, ordered by (created_at, id) ascending.
	ListTasksForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Task, error)
	UpdateTaskMetadata(ctx context.Context, id uuid.UUID, metadata []byte) error
	DeleteTask(ctx context.Context, id uuid.UUID) error
}
