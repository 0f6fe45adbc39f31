package consolidation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusAssigned  AppointmentStatus = "assigned"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Open reports whether an appointment in this status participates in
// duplicate detection and merging.
func (s AppointmentStatus) Open() bool {
	return s == StatusScheduled || s == StatusAssigned
}

// TaskEntityAppointment is the related_entity_type of tasks that link a
// coordinator to an appointment.
const TaskEntityAppointment = "appointment"

type Appointment struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	HospitalID    uuid.UUID
	SalesPersonID uuid.UUID
	ScheduledDate time.Time
	Status        AppointmentStatus
	DriverName    *string
	DriverPhone   *string
	Notes         *string
	// Speciality is the legacy denormalized comma-joined specialty-name
	// string. Kept in sync with the AppointmentSpecialty rows on every
	// mutation, and still parsed on merge for rows created before those
	// rows existed.
	Speciality             string
	IsNewPatientAtCreation bool
	IsNotBooked            bool
	SourceTaskID           *uuid.UUID
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type AppointmentSpecialty struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	SpecialityID  uuid.UUID
	DoctorID      uuid.UUID
	ScheduledTime time.Time
	Status        string
	CreatedAt     time.Time
}

// Task is a coordinator work item, optionally linked to an appointment.
// The engine does not own task lifecycle; it reads the linkage to resolve
// coordinators and prunes duplicates during merges.
type Task struct {
	ID                uuid.UUID
	RelatedEntityType string
	RelatedEntityID   *uuid.UUID
	AssignedToID      *uuid.UUID
	Metadata          []byte
	CreatedAt         time.Time
}

type Hospital struct {
	ID   uuid.UUID
	Name string
}

type Specialty struct {
	ID   uuid.UUID
	Name string
}

type Doctor struct {
	ID   uuid.UUID
	Name string
}

type Employee struct {
	ID   uuid.UUID
	Name string
}

// Coordinator is the employee overseeing an appointment via its linked
// task. It is a tagged value: "nobody assigned" is distinct from any
// employee id and equal only to itself.
type Coordinator struct {
	id       uuid.UUID
	assigned bool
}

func NoCoordinator() Coordinator {
	return Coordinator{}
}

func CoordinatorFor(employeeID uuid.UUID) Coordinator {
	return Coordinator{id: employeeID, assigned: true}
}

func (c Coordinator) Assigned() bool {
	return c.assigned
}

// EmployeeID returns the assigned employee and whether one exists.
func (c Coordinator) EmployeeID() (uuid.UUID, bool) {
	return c.id, c.assigned
}

func (c Coordinator) Equal(o Coordinator) bool {
	if c.assigned != o.assigned {
		return false
	}
	return !c.assigned || c.id == o.id
}

// coordinatorNoneKey keeps unassigned coordinators grouping under a
// stable map key rather than an empty string.
const coordinatorNoneKey = "none"

// Key returns a stable string for map grouping.
func (c Coordinator) Key() string {
	if !c.assigned {
		return coordinatorNoneKey
	}
	return c.id.String()
}

func (c Coordinator) String() string {
	return c.Key()
}

// dayBounds returns the inclusive UTC bounds of the calendar day
// containing t.
func dayBounds(t time.Time) (start, end time.Time) {
	u := t.UTC()
	start = time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	end = start.Add(24*time.Hour - time.Nanosecond)
	return start, end
}

// DayKey returns the UTC calendar-day bucket of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// bookingKey identifies one doctor/specialty slot; two specialty rows
// with the same key represent the same booking.
type bookingKey struct {
	specialityID uuid.UUID
	doctorID     uuid.UUID
	minute       time.Time
}

func keyFor(specialityID, doctorID uuid.UUID, at time.Time) bookingKey {
	return bookingKey{
		specialityID: specialityID,
		doctorID:     doctorID,
		minute:       at.UTC().Truncate(time.Minute),
	}
}

const specialityJoinSep = ", "

// joinSpecialityNames renders the denormalized speciality string.
func joinSpecialityNames(names []string) string {
	return strings.Join(names, specialityJoinSep)
}

// parseSpecialityNames splits a denormalized speciality string, tolerating
// legacy values joined with or without a space.
func parseSpecialityNames(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if name := strings.TrimSpace(p); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// appendName adds name to names if not already present, preserving order.
func appendName(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	return append(names, name)
}

// olderThan is the primary-selection tie-break: oldest creation time
// wins, ties broken by ascending id string.
func olderThan(a, b *Appointment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}
