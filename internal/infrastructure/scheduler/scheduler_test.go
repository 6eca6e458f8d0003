package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Description() string           { return "test job " + j.name }
func (j funcJob) Run(ctx context.Context) error { return j.run(ctx) }

func fastScheduler() *Scheduler {
	cfg := DefaultSchedulerConfig()
	cfg.TickInterval = 5 * time.Millisecond
	return NewScheduler(cfg)
}

func every(t *testing.T, d time.Duration) Schedule {
	t.Helper()
	s, err := NewIntervalSchedule(d)
	require.NoError(t, err)
	return s
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s := fastScheduler()
	job := funcJob{name: "a", run: func(context.Context) error { return nil }}

	assert.ErrorIs(t, s.Register(nil, every(t, time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
	require.NoError(t, s.Register(job, every(t, time.Second)))
	assert.ErrorIs(t, s.Register(job, every(t, time.Second)), ErrJobAlreadyExists)
	_, err := s.GetJobInfo("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	s := fastScheduler()
	var runs atomic.Int32
	require.NoError(t, s.Register(funcJob{name: "poll", run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}, every(t, 10*time.Millisecond), RunImmediately()))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
	info, err := s.GetJobInfo("poll")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.RunCount, int64(3))
	require.NotNil(t, info.LastResult)
	assert.True(t, info.LastResult.Success)
}

func TestScheduler_DoesNotOverlapAJob(t *testing.T) {
	s := fastScheduler()
	var concurrent, maxConcurrent, runs atomic.Int32
	release := make(chan struct{})

	require.NoError(t, s.Register(funcJob{name: "slow", run: func(ctx context.Context) error {
		n := concurrent.Add(1)
		defer concurrent.Add(-1)
		for {
			m := maxConcurrent.Load()
			if n <= m || maxConcurrent.CompareAndSwap(m, n) {
				break
			}
		}
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}, every(t, time.Millisecond), RunImmediately()))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		info, _ := s.GetJobInfo("slow")
		return info.SkipCount >= 3
	}, 2*time.Second, 5*time.Millisecond)
	close(release)
	require.NoError(t, s.Stop())

	assert.EqualValues(t, 1, maxConcurrent.Load())
}

func TestScheduler_StopCancelsRunningJobs(t *testing.T) {
	s := fastScheduler()
	started := make(chan struct{})
	var cancelled atomic.Bool

	require.NoError(t, s.Register(funcJob{name: "blocking", run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}}, every(t, time.Hour), RunImmediately()))

	require.NoError(t, s.Start(context.Background()))
	<-started
	require.NoError(t, s.Stop())

	assert.True(t, cancelled.Load())
}

func TestScheduler_RecordsFailures(t *testing.T) {
	s := fastScheduler()
	boom := errors.New("boom")
	require.NoError(t, s.Register(funcJob{name: "fails", run: func(context.Context) error { return boom }},
		every(t, time.Hour), RunImmediately()))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		info, err := s.GetJobInfo("fails")
		return err == nil && info.LastResult != nil
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	info, err := s.GetJobInfo("fails")
	require.NoError(t, err)
	assert.False(t, info.LastResult.Success)
	assert.ErrorIs(t, info.LastResult.Error, boom)
	assert.EqualValues(t, 1, info.FailCount)
	assert.EqualValues(t, 1, s.GetMetrics().Snapshot().TotalFailures)
	assert.Len(t, s.ListJobs(), 1)
}

func TestIntervalSchedule(t *testing.T) {
	_, err := NewIntervalSchedule(0)
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	s := every(t, time.Hour)
	base := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(time.Hour), s.Next(base))
	assert.Equal(t, "@every 1h0m0s", s.String())
}

func TestCronSchedule(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skip("timezone database not available")
	}

	s, err := ParseCronSchedule("30 7 * * 1-5", rome)
	require.NoError(t, err)

	// Saturday evening: next activation is Monday 07:30 in Rome.
	from := time.Date(2024, 3, 9, 20, 0, 0, 0, rome)
	next := s.Next(from)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 7, next.Hour())
	assert.Equal(t, 30, next.Minute())
	assert.Equal(t, "30 7 * * 1-5", s.String())

	_, err = ParseCronSchedule("not a cron", nil)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	_, err = ParseCronSchedule("  ", nil)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestScheduleFor(t *testing.T) {
	s, err := ScheduleFor("", 30*time.Minute, nil)
	require.NoError(t, err)
	assert.IsType(t, &IntervalSchedule{}, s)

	s, err = ScheduleFor("@every 15m", 30*time.Minute, nil)
	require.NoError(t, err)
	assert.IsType(t, &CronSchedule{}, s)

	_, err = ScheduleFor("", 0, nil)
	assert.Error(t, err)
}
