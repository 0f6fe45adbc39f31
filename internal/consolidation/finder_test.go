package consolidation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindDuplicateGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherHospital := f.store.addHospital("Lakeside Clinic")
	otherPatient := uuid.New()
	coordinatorID := uuid.New()

	seed := func(patient, hospital uuid.UUID, coordinator *uuid.UUID) uuid.UUID {
		id := f.store.addAppointment(Appointment{
			PatientID:     patient,
			HospitalID:    hospital,
			SalesPersonID: f.salesID,
			ScheduledDate: f.day,
		})
		if coordinator != nil {
			f.store.addTask(id, coordinator, nil)
		}
		return id
	}

	// Duplicate pair: same patient/hospital/day, no coordinator.
	dup1 := seed(f.patientID, f.hospitalID, nil)
	dup2 := seed(f.patientID, f.hospitalID, nil)

	// Same key but a coordinator: separate group, single member.
	seed(f.patientID, f.hospitalID, &coordinatorID)

	// Different hospital and different patient: singles.
	seed(f.patientID, otherHospital, nil)
	seed(otherPatient, f.hospitalID, nil)

	// Closed appointments never group.
	f.store.addAppointment(Appointment{
		PatientID:     f.patientID,
		HospitalID:    f.hospitalID,
		SalesPersonID: f.salesID,
		ScheduledDate: f.day,
		Status:        StatusCancelled,
	})

	groups, err := f.svc.FindDuplicateGroups(ctx)
	require.NoError(t, err)

	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, f.patientID, g.PatientID)
	assert.Equal(t, f.hospitalID, g.HospitalID)
	assert.Equal(t, f.day, g.Day)
	assert.False(t, g.Coordinator.Assigned())
	assert.ElementsMatch(t, []uuid.UUID{dup1, dup2}, g.AppointmentIDs)
}

func TestFindDuplicateGroupsGroupsByCoordinator(t *testing.T) {
	f := newFixture(t)

	coordinatorID := uuid.New()

	for i := 0; i < 2; i++ {
		id := f.store.addAppointment(Appointment{
			PatientID:     f.patientID,
			HospitalID:    f.hospitalID,
			SalesPersonID: f.salesID,
			ScheduledDate: f.day,
		})
		f.store.addTask(id, &coordinatorID, nil)
	}
	for i := 0; i < 2; i++ {
		f.store.addAppointment(Appointment{
			PatientID:     f.patientID,
			HospitalID:    f.hospitalID,
			SalesPersonID: f.salesID,
			ScheduledDate: f.day,
		})
	}

	groups, err := f.svc.FindDuplicateGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)

	keys := map[string]int{}
	for _, g := range groups {
		keys[g.Coordinator.Key()] = len(g.AppointmentIDs)
	}
	assert.Equal(t, 2, keys[coordinatorID.String()])
	assert.Equal(t, 2, keys["none"])
}

func TestFindDuplicateGroupsEmptyStore(t *testing.T) {
	f := newFixture(t)

	groups, err := f.svc.FindDuplicateGroups(context.Background())
	require.NoError(t, err)
	assert.Empty(t, groups)
}
