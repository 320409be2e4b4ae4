package temporal

import (
	"context"
	"time"
)

// Scheduler manages the Temporal schedule driving threat intelligence
// refreshes.
type Scheduler interface {
	// CreateRefreshSchedule creates or updates the schedule that
	// triggers RefreshThreatIntelWorkflow on the given interval.
	CreateRefreshSchedule(ctx context.Context, interval time.Duration) error

	// DeleteRefreshSchedule deletes the refresh schedule.
	// This stops periodic threat intelligence refreshes.
	DeleteRefreshSchedule(ctx context.Context) error
}

// RefreshScheduleID is the Temporal schedule ID for the refresh run.
const RefreshScheduleID = "threat-intel-refresh"
