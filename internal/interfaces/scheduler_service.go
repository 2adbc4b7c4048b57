package interfaces

import "context"

// SchedulerService runs periodic maintenance, currently the retention sweep
// that purges old terminal jobs and clears expired dedup sets.
type SchedulerService interface {
	// Start begins the schedule. No-op when retention is disabled.
	Start() error

	// RunRetentionSweep executes one sweep immediately. Exposed for tests
	// and for manual triggering.
	RunRetentionSweep(ctx context.Context) error

	// Stop halts the schedule and waits for a running sweep to finish
	Stop()
}
