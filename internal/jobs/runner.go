package jobs

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownJob is returned by Runner.Run for a name it does not know.
var ErrUnknownJob = errors.New("unknown job")

// Runner dispatches jobs by name for the CLI and the internal route.
type Runner struct {
	Daily  *DailyReconciler
	Expiry *RecoveryExpirer
}

// Names lists the jobs Run accepts.
func (r *Runner) Names() []string { return []string{DailyReconcile, RecoveryExpiry} }

// Run executes job name once and returns its report.
func (r *Runner) Run(ctx context.Context, name string) (any, error) {
	switch name {
	case DailyReconcile:
		if r.Daily == nil {
			break
		}
		return r.Daily.Run(ctx)
	case RecoveryExpiry:
		if r.Expiry == nil {
			break
		}
		return r.Expiry.Run(ctx)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
}
