package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medisched/appointment-consolidation/internal/retry"
)

type MergeResult struct {
	PrimaryID             uuid.UUID
	DuplicatesAbsorbed    int
	DeletedAppointmentIDs []uuid.UUID
	SpecialtiesCreated    int
}

// MergeDuplicatesForPatientDay consolidates the open appointments of one
// patient at one hospital on one UTC calendar day that share the given
// coordinator. The oldest appointment survives as primary; the rest are
// absorbed and deleted. Returns (nil, nil) when fewer than two candidates
// match; internal failures are logged and returned with a nil result.
func (s *Service) MergeDuplicatesForPatientDay(ctx context.Context, patientID uuid.UUID, date time.Time, hospitalID uuid.UUID, coord Coordinator) (*MergeResult, error) {
	var result *MergeResult

	err := retry.Do(ctx, s.retry, s.logger, "merge_duplicates", func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(txCtx context.Context, tx Store) error {
			r, err := s.mergeInTx(txCtx, tx, patientID, date, hospitalID, coord)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	if err != nil {
		s.logger.Error("duplicate merge failed",
			zap.String("patient_id", patientID.String()),
			zap.String("hospital_id", hospitalID.String()),
			zap.String("day", DayKey(date)),
			zap.String("coordinator", coord.Key()),
			zap.Error(err),
		)
		return nil, err
	}

	if result != nil {
		s.logger.Info("duplicate appointments merged",
			zap.String("primary_id", result.PrimaryID.String()),
			zap.Int("absorbed", result.DuplicatesAbsorbed),
			zap.Int("specialties_created", result.SpecialtiesCreated),
		)
	}
	return result, nil
}

// specEntry tags a specialty row with its origin appointment during
// consolidation.
type specEntry struct {
	row         AppointmentSpecialty
	fromPrimary bool
}

func (s *Service) mergeInTx(ctx context.Context, tx Store, patientID uuid.UUID, date time.Time, hospitalID uuid.UUID, coord Coordinator) (*MergeResult, error) {
	dayStart, dayEnd := dayBounds(date)

	open, err := tx.FindOpenAppointments(ctx, patientID, hospitalID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("load open appointments: %w", err)
	}

	// Keep only appointments whose resolved coordinator matches.
	var candidates []Appointment
	for i := range open {
		tasks, err := tx.ListTasksForAppointment(ctx, open[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load tasks for %s: %w", open[i].ID, err)
		}
		if coordinatorOf(tasks).Equal(coord) {
			candidates = append(candidates, open[i])
		}
	}

	if len(candidates) < 2 {
		return nil, nil
	}

	primary := &candidates[0]
	duplicates := candidates[1:]

	primaryRows, err := tx.ListAppointmentSpecialties(ctx, primary.ID)
	if err != nil {
		return nil, fmt.Errorf("load primary specialties: %w", err)
	}

	entries := make([]specEntry, 0, len(primaryRows))
	for _, r := range primaryRows {
		entries = append(entries, specEntry{row: r, fromPrimary: true})
	}
	for i := range duplicates {
		rows, err := tx.ListAppointmentSpecialties(ctx, duplicates[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load duplicate specialties: %w", err)
		}
		for _, r := range rows {
			entries = append(entries, specEntry{row: r})
		}
	}

	// First occurrence per (specialty, doctor, minute) wins; primary rows
	// come first, so surviving duplicate-origin entries are exactly the
	// keys the primary does not have yet.
	seen := make(map[bookingKey]struct{}, len(entries))
	unique := entries[:0]
	for _, e := range entries {
		k := keyFor(e.row.SpecialityID, e.row.DoctorID, e.row.ScheduledTime)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, e)
	}

	created := 0
	if len(primaryRows) > 0 {
		for _, e := range unique {
			if e.fromPrimary {
				continue
			}
			if err := createOnPrimary(ctx, tx, primary.ID, e.row); err != nil {
				return nil, err
			}
			created++
		}
	} else {
		// Legacy primary: no rows of its own, so every unique key is
		// recreated fresh on it.
		for _, e := range unique {
			if err := createOnPrimary(ctx, tx, primary.ID, e.row); err != nil {
				return nil, err
			}
			created++
		}
	}

	names, synthesized, err := s.consolidateNames(ctx, tx, primary, duplicates, unique, len(primaryRows) == 0)
	if err != nil {
		return nil, err
	}
	created += synthesized
	primary.Speciality = joinSpecialityNames(names)

	dupIDs := make([]uuid.UUID, 0, len(duplicates))
	for i := range duplicates {
		dupIDs = append(dupIDs, duplicates[i].ID)
	}

	if err := s.consolidateTasks(ctx, tx, primary.ID, dupIDs, names); err != nil {
		return nil, err
	}

	// Children before parents: specialty rows, then the duplicate
	// appointments themselves.
	for _, id := range dupIDs {
		if err := tx.DeleteAppointmentSpecialties(ctx, id); err != nil {
			return nil, err
		}
	}
	for _, id := range dupIDs {
		if err := tx.DeleteAppointment(ctx, id); err != nil {
			return nil, err
		}
	}

	if err := tx.UpdateAppointment(ctx, primary); err != nil {
		return nil, err
	}

	return &MergeResult{
		PrimaryID:             primary.ID,
		DuplicatesAbsorbed:    len(duplicates),
		DeletedAppointmentIDs: dupIDs,
		SpecialtiesCreated:    created,
	}, nil
}

// coordinatorOf resolves an appointment's coordinator from its linked
// tasks: the oldest task's assignee, or nobody when no task (or no
// assignee) exists.
func coordinatorOf(tasks []Task) Coordinator {
	if len(tasks) == 0 || tasks[0].AssignedToID == nil {
		return NoCoordinator()
	}
	return CoordinatorFor(*tasks[0].AssignedToID)
}

func createOnPrimary(ctx context.Context, tx Store, primaryID uuid.UUID, src AppointmentSpecialty) error {
	sp := &AppointmentSpecialty{
		AppointmentID: primaryID,
		SpecialityID:  src.SpecialityID,
		DoctorID:      src.DoctorID,
		ScheduledTime: src.ScheduledTime,
		Status:        src.Status,
	}
	if sp.Status == "" {
		sp.Status = string(StatusScheduled)
	}
	return tx.CreateAppointmentSpecialty(ctx, sp)
}

// consolidateNames computes the union of specialty names implied by the
// consolidated rows and by the legacy denormalized strings of every
// appointment involved. When the primary started with zero rows,
// string-only names that resolve to a known specialty are additionally
// materialized as rows on the primary so no legacy booking is dropped.
func (s *Service) consolidateNames(ctx context.Context, tx Store, primary *Appointment, duplicates []Appointment, unique []specEntry, legacyPrimary bool) ([]string, int, error) {
	names := parseSpecialityNames(primary.Speciality)

	rowSpecIDs := make([]uuid.UUID, 0, len(unique))
	coveredSpecs := make(map[uuid.UUID]struct{}, len(unique))
	for _, e := range unique {
		if _, ok := coveredSpecs[e.row.SpecialityID]; ok {
			continue
		}
		coveredSpecs[e.row.SpecialityID] = struct{}{}
		rowSpecIDs = append(rowSpecIDs, e.row.SpecialityID)
	}

	byID, err := tx.GetSpecialtiesByIDs(ctx, rowSpecIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("load specialties: %w", err)
	}
	for _, id := range rowSpecIDs {
		if sp, ok := byID[id]; ok {
			names = appendName(names, sp.Name)
		}
	}

	for i := range duplicates {
		for _, n := range parseSpecialityNames(duplicates[i].Speciality) {
			names = appendName(names, n)
		}
	}

	synthesized := 0
	if legacyPrimary {
		byName, err := tx.GetSpecialtiesByNames(ctx, names)
		if err != nil {
			return nil, 0, fmt.Errorf("resolve specialty names: %w", err)
		}
		for _, n := range names {
			sp, ok := byName[n]
			if !ok {
				continue
			}
			if _, ok := coveredSpecs[sp.ID]; ok {
				continue
			}
			coveredSpecs[sp.ID] = struct{}{}
			// Legacy strings carry no doctor or slot time; the row gets
			// the appointment's day and no doctor.
			row := &AppointmentSpecialty{
				AppointmentID: primary.ID,
				SpecialityID:  sp.ID,
				ScheduledTime: primary.ScheduledDate,
				Status:        string(StatusScheduled),
			}
			if err := tx.CreateAppointmentSpecialty(ctx, row); err != nil {
				return nil, 0, err
			}
			synthesized++
		}
	}

	return names, synthesized, nil
}

// consolidateTasks prunes the primary to at most one linked task,
// annotates the survivor with the merge outcome, and removes every task
// linked to an absorbed appointment.
func (s *Service) consolidateTasks(ctx context.Context, tx Store, primaryID uuid.UUID, dupIDs []uuid.UUID, mergedNames []string) error {
	primaryTasks, err := tx.ListTasksForAppointment(ctx, primaryID)
	if err != nil {
		return fmt.Errorf("load primary tasks: %w", err)
	}

	// More than one task on the primary is an inconsistent state; keep
	// the oldest.
	for i := 1; i < len(primaryTasks); i++ {
		if err := tx.DeleteTask(ctx, primaryTasks[i].ID); err != nil {
			return err
		}
	}

	if len(primaryTasks) > 0 {
		survivor := primaryTasks[0]

		meta := map[string]any{}
		if len(survivor.Metadata) > 0 {
			if err := json.Unmarshal(survivor.Metadata, &meta); err != nil {
				s.logger.Warn("task metadata not valid JSON, overwriting",
					zap.String("task_id", survivor.ID.String()),
				)
				meta = map[string]any{}
			}
		}

		absorbed := make([]string, 0, len(dupIDs))
		for _, id := range dupIDs {
			absorbed = append(absorbed, id.String())
		}
		meta["mergedSpecialities"] = mergedNames
		meta["absorbedAppointmentIds"] = absorbed

		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal task metadata: %w", err)
		}
		if err := tx.UpdateTaskMetadata(ctx, survivor.ID, data); err != nil {
			return err
		}
	}

	for _, dupID := range dupIDs {
		tasks, err := tx.ListTasksForAppointment(ctx, dupID)
		if err != nil {
			return fmt.Errorf("load duplicate tasks: %w", err)
		}
		for _, t := range tasks {
			if err := tx.DeleteTask(ctx, t.ID); err != nil {
				return err
			}
		}
	}

	return nil
}
