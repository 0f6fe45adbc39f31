package consolidation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// store methods serve plain and transactional access.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, q: pool}
}

// WithTx runs fn against a transactional store. Calling WithTx on a store
// that is already transactional reuses the open transaction.
func (s *PgStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.pool == nil {
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(ctx, &PgStore{q: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.HospitalID,
		&a.SalesPersonID,
		&a.ScheduledDate,
		&a.Status,
		&a.DriverName,
		&a.DriverPhone,
		&a.Notes,
		&a.Speciality,
		&a.IsNewPatientAtCreation,
		&a.IsNotBooked,
		&a.SourceTaskID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanAppointmentSpecialty(row pgx.Row) (*AppointmentSpecialty, error) {
	var s AppointmentSpecialty

	err := row.Scan(
		&s.ID,
		&s.AppointmentID,
		&s.SpecialityID,
		&s.DoctorID,
		&s.ScheduledTime,
		&s.Status,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSpecialtyNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task

	err := row.Scan(
		&t.ID,
		&t.RelatedEntityType,
		&t.RelatedEntityID,
		&t.AssignedToID,
		&t.Metadata,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	return &t, nil
}

const appointmentColumns = `
	id, patient_id, hospital_id, sales_person_id, scheduled_date, status,
	driver_name, driver_phone, notes, speciality,
	is_new_patient_at_creation, is_not_booked, source_task_id,
	created_at, updated_at`

// Interface methods

func (s *PgStore) GetHospitalByID(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	var h Hospital
	err := s.q.QueryRow(ctx, `
		SELECT id, name
		FROM hospitals
		WHERE id = $1
	`, id).Scan(&h.ID, &h.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHospitalNotFound
		}
		return nil, err
	}
	return &h, nil
}

func (s *PgStore) GetSpecialtiesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Specialty, error) {
	result := make(map[uuid.UUID]Specialty, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.q.Query(ctx, `
		SELECT id, name
		FROM specialties
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sp Specialty
		if err := rows.Scan(&sp.ID, &sp.Name); err != nil {
			return nil, err
		}
		result[sp.ID] = sp
	}
	return result, rows.Err()
}

func (s *PgStore) GetSpecialtiesByNames(ctx context.Context, names []string) (map[string]Specialty, error) {
	result := make(map[string]Specialty, len(names))
	if len(names) == 0 {
		return result, nil
	}

	rows, err := s.q.Query(ctx, `
		SELECT id, name
		FROM specialties
		WHERE name = ANY($1)
	`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sp Specialty
		if err := rows.Scan(&sp.ID, &sp.Name); err != nil {
			return nil, err
		}
		result[sp.Name] = sp
	}
	return result, rows.Err()
}

func (s *PgStore) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.q.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (s *PgStore) FindOpenAppointments(ctx context.Context, patientID, hospitalID uuid.UUID, dayStart, dayEnd time.Time) ([]Appointment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND hospital_id = $2
		  AND status IN ('scheduled', 'assigned')
		  AND scheduled_date >= $3
		  AND scheduled_date <= $4
		ORDER BY created_at ASC, id ASC
	`, patientID, hospitalID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (s *PgStore) ListOpenAppointments(ctx context.Context) ([]Appointment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'assigned')
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (s *PgStore) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := s.q.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, hospital_id, sales_person_id, scheduled_date,
			status, driver_name, driver_phone, notes, speciality,
			is_new_patient_at_creation, is_not_booked, source_task_id,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.PatientID, a.HospitalID, a.SalesPersonID, a.ScheduledDate,
		a.Status, a.DriverName, a.DriverPhone, a.Notes, a.Speciality,
		a.IsNewPatientAtCreation, a.IsNotBooked, a.SourceTaskID)

	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (s *PgStore) UpdateAppointment(ctx context.Context, a *Appointment) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE appointments
		SET patient_id = $2,
		    hospital_id = $3,
		    sales_person_id = $4,
		    scheduled_date = $5,
		    status = $6,
		    driver_name = $7,
		    driver_phone = $8,
		    notes = $9,
		    speciality = $10,
		    is_new_patient_at_creation = $11,
		    is_not_booked = $12,
		    source_task_id = $13,
		    updated_at = now()
		WHERE id = $1
	`, a.ID, a.PatientID, a.HospitalID, a.SalesPersonID, a.ScheduledDate,
		a.Status, a.DriverName, a.DriverPhone, a.Notes, a.Speciality,
		a.IsNewPatientAtCreation, a.IsNotBooked, a.SourceTaskID)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (s *PgStore) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `
		DELETE FROM appointments
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (s *PgStore) ListAppointmentSpecialties(ctx context.Context, appointmentID uuid.UUID) ([]AppointmentSpecialty, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, appointment_id, speciality_id, doctor_id, scheduled_time, status, created_at
		FROM appointment_specialties
		WHERE appointment_id = $1
		ORDER BY created_at ASC, id ASC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentSpecialty
	for rows.Next() {
		sp, err := scanAppointmentSpecialty(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *sp)
	}
	return result, rows.Err()
}

func (s *PgStore) CreateAppointmentSpecialty(ctx context.Context, sp *AppointmentSpecialty) error {
	if sp.ID == uuid.Nil {
		sp.ID = uuid.New()
	}

	row := s.q.QueryRow(ctx, `
		INSERT INTO appointment_specialties (
			id, appointment_id, speciality_id, doctor_id, scheduled_time, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING created_at
	`, sp.ID, sp.AppointmentID, sp.SpecialityID, sp.DoctorID, sp.ScheduledTime, sp.Status)

	if err := row.Scan(&sp.CreatedAt); err != nil {
		return fmt.Errorf("insert appointment specialty: %w", err)
	}
	return nil
}

func (s *PgStore) UpdateAppointmentSpecialtyTime(ctx context.Context, id uuid.UUID, scheduledTime time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE appointment_specialties
		SET scheduled_time = $2
		WHERE id = $1
	`, id, scheduledTime)
	if err != nil {
		return fmt.Errorf("update appointment specialty time: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSpecialtyNotFound
	}
	return nil
}

func (s *PgStore) DeleteAppointmentSpecialties(ctx context.Context, appointmentID uuid.UUID) error {
	_, err := s.q.Exec(ctx, `
		DELETE FROM appointment_specialties
		WHERE appointment_id = $1
	`, appointmentID)
	if err != nil {
		return fmt.Errorf("delete appointment specialties: %w", err)
	}
	return nil
}

func (s *PgStore) ListTasksForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Task, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, related_entity_type, related_entity_id, assigned_to_id, metadata, created_at
		FROM tasks
		WHERE related_entity_type = 'appointment'
		  AND related_entity_id = $1
		ORDER BY created_at ASC, id ASC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (s *PgStore) UpdateTaskMetadata(ctx context.Context, id uuid.UUID, metadata []byte) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE tasks
		SET metadata = $2
		WHERE id = $1
	`, id, metadata)
	if err != nil {
		return fmt.Errorf("update task metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *PgStore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `
		DELETE FROM tasks
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}
