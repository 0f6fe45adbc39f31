package consolidation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medisched/appointment-consolidation/internal/retry"
)

// memStore is an in-memory Store for unit tests. WithTx snapshots the
// whole state and restores it when fn fails, mirroring a rollback.
// Failures can be injected per method via failNTimes.
type memStore struct {
	mu sync.Mutex

	hospitals    map[uuid.UUID]Hospital
	specialties  map[uuid.UUID]Specialty
	appointments map[uuid.UUID]Appointment
	specRows     map[uuid.UUID]AppointmentSpecialty
	tasks        map[uuid.UUID]Task

	clock    time.Time
	inTx     bool
	failures map[string][]error
}

func newMemStore() *memStore {
	return &memStore{
		hospitals:    make(map[uuid.UUID]Hospital),
		specialties:  make(map[uuid.UUID]Specialty),
		appointments: make(map[uuid.UUID]Appointment),
		specRows:     make(map[uuid.UUID]AppointmentSpecialty),
		tasks:        make(map[uuid.UUID]Task),
		clock:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		failures:     make(map[string][]error),
	}
}

// failNTimes makes the next n calls of method return err.
func (m *memStore) failNTimes(method string, err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.failures[method] = append(m.failures[method], err)
	}
}

func (m *memStore) takeFailure(method string) error {
	q := m.failures[method]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	m.failures[method] = q[1:]
	return err
}

// now returns a strictly increasing fake clock so creation-order
// tie-breaks are deterministic.
func (m *memStore) now() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) snapshot() (map[uuid.UUID]Appointment, map[uuid.UUID]AppointmentSpecialty, map[uuid.UUID]Task) {
	appts := make(map[uuid.UUID]Appointment, len(m.appointments))
	for k, v := range m.appointments {
		appts[k] = v
	}
	rows := make(map[uuid.UUID]AppointmentSpecialty, len(m.specRows))
	for k, v := range m.specRows {
		rows[k] = v
	}
	tasks := make(map[uuid.UUID]Task, len(m.tasks))
	for k, v := range m.tasks {
		tasks[k] = v
	}
	return appts, rows, tasks
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.mu.Lock()
	if m.inTx {
		m.mu.Unlock()
		return fn(ctx, m)
	}
	m.inTx = true
	appts, rows, tasks := m.snapshot()
	m.mu.Unlock()

	err := fn(ctx, m)

	m.mu.Lock()
	m.inTx = false
	if err != nil {
		m.appointments = appts
		m.specRows = rows
		m.tasks = tasks
	}
	m.mu.Unlock()
	return err
}

func (m *memStore) GetHospitalByID(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("GetHospitalByID"); err != nil {
		return nil, err
	}
	h, ok := m.hospitals[id]
	if !ok {
		return nil, ErrHospitalNotFound
	}
	return &h, nil
}

func (m *memStore) GetSpecialtiesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Specialty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[uuid.UUID]Specialty, len(ids))
	for _, id := range ids {
		if sp, ok := m.specialties[id]; ok {
			result[id] = sp
		}
	}
	return result, nil
}

func (m *memStore) GetSpecialtiesByNames(ctx context.Context, names []string) (map[string]Specialty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]Specialty, len(names))
	for _, sp := range m.specialties {
		for _, n := range names {
			if sp.Name == n {
				result[n] = sp
			}
		}
	}
	return result, nil
}

func (m *memStore) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func sortAppointments(list []Appointment) {
	sort.Slice(list, func(i, j int) bool {
		return olderThan(&list[i], &list[j])
	})
}

func (m *memStore) FindOpenAppointments(ctx context.Context, patientID, hospitalID uuid.UUID, dayStart, dayEnd time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("FindOpenAppointments"); err != nil {
		return nil, err
	}
	var result []Appointment
	for _, a := range m.appointments {
		if a.PatientID != patientID || a.HospitalID != hospitalID || !a.Status.Open() {
			continue
		}
		if a.ScheduledDate.Before(dayStart) || a.ScheduledDate.After(dayEnd) {
			continue
		}
		result = append(result, a)
	}
	sortAppointments(result)
	return result, nil
}

func (m *memStore) ListOpenAppointments(ctx context.Context) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("ListOpenAppointments"); err != nil {
		return nil, err
	}
	var result []Appointment
	for _, a := range m.appointments {
		if a.Status.Open() {
			result = append(result, a)
		}
	}
	sortAppointments(result)
	return result, nil
}

func (m *memStore) CreateAppointment(ctx context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("CreateAppointment"); err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = m.now()
	a.UpdatedAt = a.CreatedAt
	m.appointments[a.ID] = *a
	return nil
}

func (m *memStore) UpdateAppointment(ctx context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("UpdateAppointment"); err != nil {
		return err
	}
	if _, ok := m.appointments[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	a.UpdatedAt = m.now()
	m.appointments[a.ID] = *a
	return nil
}

func (m *memStore) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("DeleteAppointment"); err != nil {
		return err
	}
	if _, ok := m.appointments[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(m.appointments, id)
	return nil
}

func (m *memStore) ListAppointmentSpecialties(ctx context.Context, appointmentID uuid.UUID) ([]AppointmentSpecialty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []AppointmentSpecialty
	for _, r := range m.specRows {
		if r.AppointmentID == appointmentID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (m *memStore) CreateAppointmentSpecialty(ctx context.Context, sp *AppointmentSpecialty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("CreateAppointmentSpecialty"); err != nil {
		return err
	}
	if sp.ID == uuid.Nil {
		sp.ID = uuid.New()
	}
	sp.CreatedAt = m.now()
	m.specRows[sp.ID] = *sp
	return nil
}

func (m *memStore) UpdateAppointmentSpecialtyTime(ctx context.Context, id uuid.UUID, scheduledTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.specRows[id]
	if !ok {
		return ErrSpecialtyNotFound
	}
	r.ScheduledTime = scheduledTime
	m.specRows[id] = r
	return nil
}

func (m *memStore) DeleteAppointmentSpecialties(ctx context.Context, appointmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("DeleteAppointmentSpecialties"); err != nil {
		return err
	}
	for id, r := range m.specRows {
		if r.AppointmentID == appointmentID {
			delete(m.specRows, id)
		}
	}
	return nil
}

func (m *memStore) ListTasksForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Task
	for _, t := range m.tasks {
		if t.RelatedEntityType == TaskEntityAppointment && t.RelatedEntityID != nil && *t.RelatedEntityID == appointmentID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (m *memStore) UpdateTaskMetadata(ctx context.Context, id uuid.UUID, metadata []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	t.Metadata = metadata
	m.tasks[id] = t
	return nil
}

func (m *memStore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(m.tasks, id)
	return nil
}

// Fixture helpers

func (m *memStore) addHospital(name string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.hospitals[id] = Hospital{ID: id, Name: name}
	return id
}

func (m *memStore) addSpecialty(name string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.specialties[id] = Specialty{ID: id, Name: name}
	return id
}

func (m *memStore) addAppointment(a Appointment) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
		a.UpdatedAt = a.CreatedAt
	}
	m.appointments[a.ID] = a
	return a.ID
}

func (m *memStore) addSpecRow(r AppointmentSpecialty) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = string(StatusScheduled)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
	}
	m.specRows[r.ID] = r
	return r.ID
}

func (m *memStore) addTask(appointmentID uuid.UUID, assignedTo *uuid.UUID, metadata []byte) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	apptID := appointmentID
	m.tasks[id] = Task{
		ID:                id,
		RelatedEntityType: TaskEntityAppointment,
		RelatedEntityID:   &apptID,
		AssignedToID:      assignedTo,
		Metadata:          metadata,
		CreatedAt:         m.now(),
	}
	return id
}

func (m *memStore) appointmentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appointments)
}

func (m *memStore) specRowsFor(appointmentID uuid.UUID) []AppointmentSpecialty {
	rows, _ := m.ListAppointmentSpecialties(context.Background(), appointmentID)
	return rows
}

// passLocker runs critical sections without any real locking.
type passLocker struct{}

func (passLocker) WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService(store Store) *Service {
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return NewService(store, passLocker{}, policy, zap.NewNop())
}
