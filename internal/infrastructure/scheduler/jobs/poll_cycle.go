// Package jobs contains the scheduled jobs of the poller.
package jobs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/school"
	"github.com/classeviva-hub/classeviva-poller/internal/domain/shared"
	"github.com/classeviva-hub/classeviva-poller/internal/infrastructure/external/classeviva"
	"github.com/classeviva-hub/classeviva-poller/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// POLL CYCLE JOB
// ══════════════════════════════════════════════════════════════════════════════

// CycleRunner runs poll cycles for one account.
type CycleRunner interface {
	Account() string
	RunCycle(ctx context.Context) (*school.Snapshot, error)
}

// PollCycleJob runs one poll cycle per activation.
type PollCycleJob struct {
	runner CycleRunner
	logger *zap.Logger
}

// NewPollCycleJob creates the poll job of runner's account.
func NewPollCycleJob(runner CycleRunner, l *zap.Logger) *PollCycleJob {
	return &PollCycleJob{
		runner: runner,
		logger: logger.OrNop(l).With(logger.Account(runner.Account())),
	}
}

// Name implements scheduler.Job.
func (j *PollCycleJob) Name() string {
	return "poll:" + j.runner.Account()
}

// Description implements scheduler.Job.
func (j *PollCycleJob) Description() string {
	return "Polls the school portal for " + j.runner.Account() + " and notifies new records"
}

// Run implements scheduler.Job. A cycle already running, for example one
// triggered by hand, is not an error. Neither is a portal that cannot be
// reached: the next slot tries again.
func (j *PollCycleJob) Run(ctx context.Context) error {
	_, err := j.runner.RunCycle(ctx)
	switch {
	case errors.Is(err, shared.ErrInProgress):
		j.logger.Info("poll cycle already running, skipping")
		return nil
	case err != nil && classeviva.IsTransient(err):
		j.logger.Warn("school portal unreachable, retrying on next slot", logger.Err(err))
		return nil
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// PRUNE JOB
// ══════════════════════════════════════════════════════════════════════════════

// Pruner deletes what was stored before a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// PruneJob removes data older than a retention window.
type PruneJob struct {
	name      string
	pruner    Pruner
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewPruneJob creates a job pruning through pruner everything older than
// retention.
func NewPruneJob(name string, pruner Pruner, retention time.Duration, l *zap.Logger) *PruneJob {
	return &PruneJob{
		name:      name,
		pruner:    pruner,
		retention: retention,
		now:       time.Now,
		logger:    logger.OrNop(l),
	}
}

// Name implements scheduler.Job.
func (j *PruneJob) Name() string {
	return "prune:" + j.name
}

// Description implements scheduler.Job.
func (j *PruneJob) Description() string {
	return "Removes " + j.name + " older than " + j.retention.String()
}

// Run implements scheduler.Job.
func (j *PruneJob) Run(ctx context.Context) error {
	removed, err := j.pruner.Prune(ctx, j.now().Add(-j.retention))
	if err != nil {
		return err
	}
	if removed > 0 {
		j.logger.Info("pruned expired data", zap.String("job", j.Name()), zap.Int64("removed", removed))
	}
	return nil
}
