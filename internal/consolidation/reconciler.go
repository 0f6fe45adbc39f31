package consolidation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GroupResult records the outcome of one group's merge attempt inside a
// bulk reconciliation run.
type GroupResult struct {
	PatientID            uuid.UUID
	Day                  time.Time
	HospitalID           uuid.UUID
	Coordinator          Coordinator
	Merged               bool
	AppointmentsAbsorbed int
	Error                string
}

type ReconcileReport struct {
	GroupsProcessed    int
	GroupsMerged       int
	AppointmentsMerged int
	// TasksMerged approximates one coordinator task per absorbed
	// appointment.
	TasksMerged int
	Groups      []GroupResult
}

// ReconcileAllDuplicates finds every duplicate group and merges each in
// turn. Groups run sequentially so their transactions never overlap on
// related rows. One group failing is recorded and does not stop the run;
// the finder itself failing fails the whole call.
func (s *Service) ReconcileAllDuplicates(ctx context.Context) (*ReconcileReport, error) {
	groups, err := s.FindDuplicateGroups(ctx)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		Groups: make([]GroupResult, 0, len(groups)),
	}

	for _, g := range groups {
		report.GroupsProcessed++

		gr := GroupResult{
			PatientID:   g.PatientID,
			Day:         g.Day,
			HospitalID:  g.HospitalID,
			Coordinator: g.Coordinator,
		}

		res, err := s.MergeDuplicatesForPatientDay(ctx, g.PatientID, g.Day, g.HospitalID, g.Coordinator)
		switch {
		case err != nil:
			gr.Error = err.Error()
		case res != nil:
			gr.Merged = true
			gr.AppointmentsAbsorbed = res.DuplicatesAbsorbed
			report.GroupsMerged++
			report.AppointmentsMerged += res.DuplicatesAbsorbed
			report.TasksMerged += res.DuplicatesAbsorbed
		}

		report.Groups = append(report.Groups, gr)
	}

	s.logger.Info("bulk reconciliation complete",
		zap.Int("groups_processed", report.GroupsProcessed),
		zap.Int("groups_merged", report.GroupsMerged),
		zap.Int("appointments_merged", report.AppointmentsMerged),
	)

	return report, nil
}
