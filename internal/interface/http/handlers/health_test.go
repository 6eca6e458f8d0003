package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/school"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type staticReader struct {
	account  string
	snapshot *school.Snapshot
}

func (r staticReader) Account() string                   { return r.account }
func (r staticReader) CurrentSnapshot() *school.Snapshot { return r.snapshot }

func TestCompositeHealthChecker(t *testing.T) {
	checker := NewCompositeHealthChecker("test")

	status := checker.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "No health checks registered", status.Message)

	checker.AddCheck("redis", NewPingCheck(pingFunc(func(context.Context) error { return nil })))
	checker.AddCheck("postgres", NewPingCheck(pingFunc(func(context.Context) error { return errors.New("refused") })))

	status = checker.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.False(t, status.Ready)
	assert.Equal(t, "Some checks failed: postgres", status.Message)
	require.Contains(t, status.Checks, "redis")
	assert.True(t, status.Checks["redis"].Healthy)
	assert.Equal(t, "refused", status.Checks["postgres"].Message)

	checker.RemoveCheck("postgres")
	assert.True(t, checker.Check(context.Background()).Healthy)
}

func TestCompositeHealthChecker_Timeout(t *testing.T) {
	checker := NewCompositeHealthChecker("test")
	checker.SetTimeout(10 * time.Millisecond)
	checker.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := checker.Check(context.Background())

	assert.False(t, status.Healthy)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"].Message)
}

func TestSnapshotFreshnessCheck(t *testing.T) {
	fresh := staticReader{account: "a", snapshot: &school.Snapshot{TakenAt: time.Now()}}
	old := staticReader{account: "b", snapshot: &school.Snapshot{TakenAt: time.Now().Add(-5 * time.Hour)}}
	missing := staticReader{account: "c"}

	assert.NoError(t, NewSnapshotFreshnessCheck([]SnapshotReader{fresh}, time.Hour)(context.Background()))

	err := NewSnapshotFreshnessCheck([]SnapshotReader{fresh, old, missing}, time.Hour)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b (")
	assert.Contains(t, err.Error(), "c (no snapshot)")
	assert.NotContains(t, err.Error(), "a (")

	assert.NoError(t, NewSnapshotFreshnessCheck([]SnapshotReader{old}, 0)(context.Background()))
}
