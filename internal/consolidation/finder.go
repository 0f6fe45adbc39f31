package consolidation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DuplicateGroup is a set of two or more open appointments sharing one
// (patient, UTC day, hospital, coordinator) consolidation key.
type DuplicateGroup struct {
	PatientID      uuid.UUID
	Day            time.Time // UTC midnight of the shared calendar day
	HospitalID     uuid.UUID
	Coordinator    Coordinator
	AppointmentIDs []uuid.UUID
}

// FindDuplicateGroups scans every open appointment, resolves each one's
// coordinator, and returns the groups holding two or more members.
// Read-only; groups are sorted by key for deterministic output.
func (s *Service) FindDuplicateGroups(ctx context.Context) ([]DuplicateGroup, error) {
	open, err := s.store.ListOpenAppointments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open appointments: %w", err)
	}

	groups := make(map[string]*DuplicateGroup)
	for i := range open {
		a := &open[i]

		tasks, err := s.store.ListTasksForAppointment(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("load tasks for %s: %w", a.ID, err)
		}
		coord := coordinatorOf(tasks)

		dayStart, _ := dayBounds(a.ScheduledDate)
		key := fmt.Sprintf("%s|%s|%s|%s", a.PatientID, DayKey(a.ScheduledDate), a.HospitalID, coord.Key())

		g, ok := groups[key]
		if !ok {
			g = &DuplicateGroup{
				PatientID:   a.PatientID,
				Day:         dayStart,
				HospitalID:  a.HospitalID,
				Coordinator: coord,
			}
			groups[key] = g
		}
		g.AppointmentIDs = append(g.AppointmentIDs, a.ID)
	}

	keys := make([]string, 0, len(groups))
	for k, g := range groups {
		if len(g.AppointmentIDs) >= 2 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	result := make([]DuplicateGroup, 0, len(keys))
	for _, k := range keys {
		result = append(result, *groups[k])
	}
	return result, nil
}
