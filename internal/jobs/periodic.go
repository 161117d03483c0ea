package jobs

import (
	"fmt"

	"github.com/riverqueue/river"
	"github.com/robfig/cron/v3"
)

// PeriodicJobs returns the reconcile sweep scheduled by a standard five-field
// cron expression, e.g. "*/15 * * * *".
func PeriodicJobs(schedule string) ([]*river.PeriodicJob, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse settlement schedule %q: %w", schedule, err)
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			sched,
			func() (river.JobArgs, *river.InsertOpts) {
				return ReconcilePayoutsArgs{}, nil
			},
			nil,
		),
	}, nil
}
