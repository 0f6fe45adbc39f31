package consolidation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medisched/appointment-consolidation/internal/retry"
	redisclient "github.com/medisched/appointment-consolidation/internal/redis"
)

// Service is the appointment consolidation engine: create-or-merge
// upserts, pairwise duplicate merging, duplicate discovery and bulk
// reconciliation, all against one transactional Store.
type Service struct {
	store  Store
	locker redisclient.Locker
	retry  retry.Policy
	logger *zap.Logger
}

func NewService(store Store, locker redisclient.Locker, retryPolicy retry.Policy, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		locker: locker,
		retry:  retryPolicy,
		logger: logger,
	}
}

// SpecialtyBooking is one requested doctor/specialty slot.
type SpecialtyBooking struct {
	SpecialityID  uuid.UUID
	DoctorID      uuid.UUID
	ScheduledTime time.Time
}

type UpsertInput struct {
	// AppointmentID selects the explicit update path. When absent the
	// target is resolved by (patient, hospital, calendar day).
	AppointmentID *uuid.UUID

	PatientID     uuid.UUID
	HospitalID    uuid.UUID
	SalesPersonID uuid.UUID
	CreatedByID   uuid.UUID
	Bookings      []SpecialtyBooking

	// ScheduledDate overrides the day derived from the first booking.
	ScheduledDate *time.Time

	// Optional mutable fields; nil leaves the stored value untouched.
	DriverName             *string
	DriverPhone            *string
	Notes                  *string
	IsNewPatientAtCreation *bool
	IsNotBooked            *bool
	SourceTaskID           *uuid.UUID

	// ReplaceSpecialities discards the target's existing bookings instead
	// of merging the input into them.
	ReplaceSpecialities bool
}

type UpsertResult struct {
	Appointment Appointment
	Specialties []AppointmentSpecialty
	// Merged is true when an existing appointment absorbed the input
	// instead of a new one being created.
	Merged bool
	// MergedCount counts input bookings applied to an existing
	// appointment (rows created or rescheduled).
	MergedCount int
	// SkippedCount counts input bookings dropped by input dedup plus
	// identical re-submissions that required no write.
	SkippedCount int
}

// UpsertAppointment creates a new appointment or merges the input into
// the open appointment already covering the same patient, hospital and
// UTC calendar day. The find-or-create window is guarded by a per-key
// advisory lock and the store work runs in one transaction, re-executed
// by the retry policy on transient failures.
func (s *Service) UpsertAppointment(ctx context.Context, in UpsertInput) (*UpsertResult, error) {
	if err := validateUpsertInput(in); err != nil {
		return nil, err
	}

	hospital, err := s.store.GetHospitalByID(ctx, in.HospitalID)
	if err != nil {
		if errors.Is(err, ErrHospitalNotFound) {
			return nil, &NotFoundError{Entity: "hospital", ID: in.HospitalID}
		}
		return nil, fmt.Errorf("load hospital: %w", err)
	}

	bookings, droppedByDedup := dedupeBookings(in.Bookings)

	refTime := bookings[0].ScheduledTime
	if in.ScheduledDate != nil {
		refTime = *in.ScheduledDate
	}
	dayStart, dayEnd := dayBounds(refTime)

	var result *UpsertResult

	lockKey := redisclient.LockKey(in.PatientID, hospital.ID, DayKey(refTime))

	err = retry.Do(ctx, s.retry, s.logger, "upsert_appointment", func(ctx context.Context) error {
		err := s.locker.WithKeyLock(ctx, lockKey, func(lockCtx context.Context) error {
			return s.store.WithTx(lockCtx, func(txCtx context.Context, tx Store) error {
				r, err := s.upsertInTx(txCtx, tx, in, bookings, dayStart, dayEnd)
				if err != nil {
					return err
				}
				result = r
				return nil
			})
		})
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			// A concurrent upsert holds the bucket; worth waiting out.
			return retry.MarkTransient(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, fmt.Errorf("consolidation key busy: %w", err)
		}
		return nil, err
	}

	result.SkippedCount += droppedByDedup
	return result, nil
}

func validateUpsertInput(in UpsertInput) error {
	switch {
	case in.PatientID == uuid.Nil:
		return missingField("patientId")
	case in.HospitalID == uuid.Nil:
		return missingField("hospitalId")
	case in.SalesPersonID == uuid.Nil:
		return missingField("salesPersonId")
	case in.CreatedByID == uuid.Nil:
		return missingField("createdById")
	case len(in.Bookings) == 0:
		return missingField("specialties")
	}

	for i, b := range in.Bookings {
		switch {
		case b.SpecialityID == uuid.Nil:
			return &ValidationError{Field: fmt.Sprintf("specialties[%d].specialityId", i), Reason: "is required"}
		case b.DoctorID == uuid.Nil:
			return &ValidationError{Field: fmt.Sprintf("specialties[%d].doctorId", i), Reason: "is required"}
		case b.ScheduledTime.IsZero():
			return &ValidationError{Field: fmt.Sprintf("specialties[%d].scheduledTime", i), Reason: "is required"}
		}
	}
	return nil
}

// dedupeBookings collapses input bookings sharing a (specialty, doctor)
// pair. The last occurrence wins on conflicting times; the surviving
// booking keeps the position of the first occurrence.
func dedupeBookings(in []SpecialtyBooking) (out []SpecialtyBooking, dropped int) {
	type pair struct {
		specialityID uuid.UUID
		doctorID     uuid.UUID
	}

	index := make(map[pair]int, len(in))
	for _, b := range in {
		k := pair{b.SpecialityID, b.DoctorID}
		if i, ok := index[k]; ok {
			out[i] = b
			dropped++
			continue
		}
		index[k] = len(out)
		out = append(out, b)
	}
	return out, dropped
}

func (s *Service) upsertInTx(ctx context.Context, tx Store, in UpsertInput, bookings []SpecialtyBooking, dayStart, dayEnd time.Time) (*UpsertResult, error) {
	target, err := s.resolveTarget(ctx, tx, in, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	if target == nil {
		return s.createAppointment(ctx, tx, in, bookings, dayStart)
	}

	result := &UpsertResult{Merged: true}

	if in.ReplaceSpecialities {
		if err := tx.DeleteAppointmentSpecialties(ctx, target.ID); err != nil {
			return nil, err
		}
		names, err := specialtyNames(ctx, tx, bookings)
		if err != nil {
			return nil, err
		}
		for i := range bookings {
			sp := &AppointmentSpecialty{
				AppointmentID: target.ID,
				SpecialityID:  bookings[i].SpecialityID,
				DoctorID:      bookings[i].DoctorID,
				ScheduledTime: bookings[i].ScheduledTime,
				Status:        string(StatusScheduled),
			}
			if err := tx.CreateAppointmentSpecialty(ctx, sp); err != nil {
				return nil, err
			}
			result.MergedCount++
		}
		target.Speciality = joinSpecialityNames(names)
	} else {
		merged, skipped, err := s.mergeBookings(ctx, tx, target, bookings)
		if err != nil {
			return nil, err
		}
		result.MergedCount = merged
		result.SkippedCount = skipped
	}

	applyUpsertFields(target, in, dayStart)

	if err := tx.UpdateAppointment(ctx, target); err != nil {
		return nil, err
	}

	final, err := tx.ListAppointmentSpecialties(ctx, target.ID)
	if err != nil {
		return nil, err
	}

	result.Appointment = *target
	result.Specialties = final
	return result, nil
}

func (s *Service) resolveTarget(ctx context.Context, tx Store, in UpsertInput, dayStart, dayEnd time.Time) (*Appointment, error) {
	if in.AppointmentID != nil {
		appt, err := tx.GetAppointmentByID(ctx, *in.AppointmentID)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return nil, &NotFoundError{Entity: "appointment", ID: *in.AppointmentID}
			}
			return nil, err
		}
		return appt, nil
	}

	open, err := tx.FindOpenAppointments(ctx, in.PatientID, in.HospitalID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}
	// Ordered oldest first; the oldest open appointment is the target.
	return &open[0], nil
}

func (s *Service) createAppointment(ctx context.Context, tx Store, in UpsertInput, bookings []SpecialtyBooking, dayStart time.Time) (*UpsertResult, error) {
	names, err := specialtyNames(ctx, tx, bookings)
	if err != nil {
		return nil, err
	}

	appt := &Appointment{
		PatientID:     in.PatientID,
		HospitalID:    in.HospitalID,
		SalesPersonID: in.SalesPersonID,
		ScheduledDate: dayStart,
		Status:        StatusScheduled,
		DriverName:    in.DriverName,
		DriverPhone:   in.DriverPhone,
		Notes:         in.Notes,
		Speciality:    joinSpecialityNames(names),
		SourceTaskID:  in.SourceTaskID,
	}
	if in.IsNewPatientAtCreation != nil {
		appt.IsNewPatientAtCreation = *in.IsNewPatientAtCreation
	}
	if in.IsNotBooked != nil {
		appt.IsNotBooked = *in.IsNotBooked
	}

	if err := tx.CreateAppointment(ctx, appt); err != nil {
		return nil, err
	}

	specialties := make([]AppointmentSpecialty, 0, len(bookings))
	for i := range bookings {
		sp := &AppointmentSpecialty{
			AppointmentID: appt.ID,
			SpecialityID:  bookings[i].SpecialityID,
			DoctorID:      bookings[i].DoctorID,
			ScheduledTime: bookings[i].ScheduledTime,
			Status:        string(StatusScheduled),
		}
		if err := tx.CreateAppointmentSpecialty(ctx, sp); err != nil {
			return nil, err
		}
		specialties = append(specialties, *sp)
	}

	return &UpsertResult{
		Appointment: *appt,
		Specialties: specialties,
	}, nil
}

// mergeBookings applies input bookings additively to the target: an
// existing row with the same (specialty, doctor) pair is rescheduled,
// anything else is created. The denormalized speciality string becomes
// the union of existing and added names.
func (s *Service) mergeBookings(ctx context.Context, tx Store, target *Appointment, bookings []SpecialtyBooking) (merged, skipped int, err error) {
	existing, err := tx.ListAppointmentSpecialties(ctx, target.ID)
	if err != nil {
		return 0, 0, err
	}

	type pair struct {
		specialityID uuid.UUID
		doctorID     uuid.UUID
	}
	byPair := make(map[pair]*AppointmentSpecialty, len(existing))
	for i := range existing {
		byPair[pair{existing[i].SpecialityID, existing[i].DoctorID}] = &existing[i]
	}

	for i := range bookings {
		b := bookings[i]
		if row, ok := byPair[pair{b.SpecialityID, b.DoctorID}]; ok {
			if row.ScheduledTime.UTC().Truncate(time.Minute).Equal(b.ScheduledTime.UTC().Truncate(time.Minute)) {
				skipped++
				continue
			}
			if err := tx.UpdateAppointmentSpecialtyTime(ctx, row.ID, b.ScheduledTime); err != nil {
				return 0, 0, err
			}
			merged++
			continue
		}

		sp := &AppointmentSpecialty{
			AppointmentID: target.ID,
			SpecialityID:  b.SpecialityID,
			DoctorID:      b.DoctorID,
			ScheduledTime: b.ScheduledTime,
			Status:        string(StatusScheduled),
		}
		if err := tx.CreateAppointmentSpecialty(ctx, sp); err != nil {
			return 0, 0, err
		}
		merged++
	}

	addedNames, err := specialtyNames(ctx, tx, bookings)
	if err != nil {
		return 0, 0, err
	}
	names := parseSpecialityNames(target.Speciality)
	for _, n := range addedNames {
		names = appendName(names, n)
	}
	target.Speciality = joinSpecialityNames(names)

	return merged, skipped, nil
}

// applyUpsertFields copies explicitly supplied mutable fields onto the
// target. HospitalID moves only on the explicit-id update path; the
// search path already matched on it.
func applyUpsertFields(target *Appointment, in UpsertInput, dayStart time.Time) {
	if in.AppointmentID != nil {
		target.HospitalID = in.HospitalID
	}
	target.SalesPersonID = in.SalesPersonID
	target.ScheduledDate = dayStart

	if in.DriverName != nil {
		target.DriverName = in.DriverName
	}
	if in.DriverPhone != nil {
		target.DriverPhone = in.DriverPhone
	}
	if in.Notes != nil {
		target.Notes = in.Notes
	}
	if in.IsNewPatientAtCreation != nil {
		target.IsNewPatientAtCreation = *in.IsNewPatientAtCreation
	}
	if in.IsNotBooked != nil {
		target.IsNotBooked = *in.IsNotBooked
	}
	if in.SourceTaskID != nil {
		target.SourceTaskID = in.SourceTaskID
	}
}

// specialtyNames resolves the distinct specialty names referenced by the
// bookings, in booking order. Unknown ids are tolerated; the denormalized
// string simply omits them.
func specialtyNames(ctx context.Context, tx Store, bookings []SpecialtyBooking) ([]string, error) {
	ids := make([]uuid.UUID, 0, len(bookings))
	seen := make(map[uuid.UUID]struct{}, len(bookings))
	for _, b := range bookings {
		if _, ok := seen[b.SpecialityID]; ok {
			continue
		}
		seen[b.SpecialityID] = struct{}{}
		ids = append(ids, b.SpecialityID)
	}

	byID, err := tx.GetSpecialtiesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load specialties: %w", err)
	}

	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if sp, ok := byID[id]; ok {
			names = appendName(names, sp.Name)
		}
	}
	return names, nil
}
