// Package poll runs poll cycles: it fetches every category from the portal,
// assembles an immutable Snapshot, detects new records against the previous
// Snapshot and hands them to the notifier.
package poll

import (
	"context"
	"time"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/school"
	"github.com/classeviva-hub/classeviva-poller/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// Source is the school portal as seen by the coordinator.
type Source interface {
	// Student returns the logged-in student, logging in when needed.
	Student(ctx context.Context) (school.Student, error)

	Grades(ctx context.Context, studentID string) ([]school.Grade, error)
	Absences(ctx context.Context, studentID string) ([]school.Absence, error)
	Agenda(ctx context.Context, studentID string, from, to time.Time) ([]school.AgendaEvent, error)
	Didactics(ctx context.Context, studentID string) ([]school.DidacticsItem, error)
	Noticeboard(ctx context.Context, studentID string) ([]school.Notice, error)
}

// Notifier turns detected records into outbound notifications.
type Notifier interface {
	// Emit publishes one notification per new record and returns how many
	// were published.
	Emit(ctx context.Context, account string, delta school.DeltaSet) (int, error)
}

// AttachmentSink stores didactics attachments outside the core.
type AttachmentSink interface {
	// KnownFiles returns the ids of the items already stored, mapped to
	// their local reference.
	KnownFiles(ctx context.Context) (map[string]string, error)

	// NewItem is called for every didactics item whose file is not stored.
	NewItem(ctx context.Context, item school.DidacticsItem) error
}

// SnapshotStore publishes completed snapshots to downstream readers.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot *school.Snapshot) error
}

// Metrics records cycle outcomes.
type Metrics interface {
	ObserveCycle(account, result string, elapsed time.Duration)
	ObserveCategory(account string, category school.Category, errorKind string)
	ObserveNewItems(account string, category school.Category, count int)
}

// Clock supplies the current time; it drives the agenda window.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in the portal's timezone.
var SystemClock Clock = ClockFunc(timeutil.Now)

type nopMetrics struct{}

func (nopMetrics) ObserveCycle(string, string, time.Duration)       {}
func (nopMetrics) ObserveCategory(string, school.Category, string) {}
func (nopMetrics) ObserveNewItems(string, school.Category, int)    {}
