package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/school"
	"github.com/classeviva-hub/classeviva-poller/internal/domain/shared"
	"github.com/classeviva-hub/classeviva-poller/internal/infrastructure/external/classeviva"
)

type fakeRunner struct {
	err   error
	calls int
}

func (f *fakeRunner) Account() string { return "family" }

func (f *fakeRunner) RunCycle(context.Context) (*school.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &school.Snapshot{Account: "family"}, nil
}

func TestPollCycleJob(t *testing.T) {
	r := &fakeRunner{}
	job := NewPollCycleJob(r, nil)

	assert.Equal(t, "poll:family", job.Name())
	assert.NotEmpty(t, job.Description())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, r.calls)
}

func TestPollCycleJob_InProgressIsNotAFailure(t *testing.T) {
	r := &fakeRunner{err: shared.NewDomainError("poll", "RunCycle", shared.ErrInProgress, "busy")}
	assert.NoError(t, NewPollCycleJob(r, nil).Run(context.Background()))
}

func TestPollCycleJob_PropagatesFailure(t *testing.T) {
	r := &fakeRunner{err: shared.NewAuthError("Login", "rejected", shared.ErrInvalidCredentials)}
	err := NewPollCycleJob(r, nil).Run(context.Background())
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestPollCycleJob_UnreachablePortalWaitsForNextSlot(t *testing.T) {
	for _, err := range []error{
		shared.NewTransportError("Request", "dial failed", errors.New("connection refused")),
		fmt.Errorf("cycle: %w", classeviva.ErrCircuitOpen),
	} {
		r := &fakeRunner{err: err}
		assert.NoError(t, NewPollCycleJob(r, nil).Run(context.Background()))
		assert.Equal(t, 1, r.calls)
	}
}

type fakePruner struct {
	before time.Time
	err    error
}

func (f *fakePruner) Prune(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return 2, f.err
}

func TestPruneJob(t *testing.T) {
	p := &fakePruner{}
	job := NewPruneJob("attachments:family", p, 60*24*time.Hour, nil)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.AddDate(0, 0, -60), p.before)
	assert.Equal(t, "prune:attachments:family", job.Name())

	p.err = errors.New("disk gone")
	assert.Error(t, job.Run(context.Background()))
}
