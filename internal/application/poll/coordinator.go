package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/school"
	"github.com/classeviva-hub/classeviva-poller/internal/domain/shared"
	"github.com/classeviva-hub/classeviva-poller/pkg/logger"
	"github.com/classeviva-hub/classeviva-poller/pkg/timeutil"
)

// ErrCycleInProgress is returned when a cycle is requested while another
// one is still running for the same account.
var ErrCycleInProgress = shared.NewDomainError("poll", "RunCycle", shared.ErrInProgress, "a poll cycle is already running")

// CycleError reports a cycle that produced no Snapshot because every
// category failed authentication.
type CycleError struct {
	Account string
	Err     error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("poll cycle for %s failed: %v", e.Account, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// Config configures a Coordinator.
type Config struct {
	// Account names the coordinator in logs, metrics and events.
	Account string

	// StudentSurname marks agenda events as student-relevant. When empty
	// the surname returned at login is used.
	StudentSurname string

	// AgendaLookaheadDays is the size of the agenda window starting today.
	AgendaLookaheadDays int

	// FetchConcurrency bounds the category fetches running at once.
	FetchConcurrency int

	// CycleTimeout bounds a whole cycle. Zero means no bound beyond the
	// transport timeout.
	CycleTimeout time.Duration
}

// DefaultConfig returns the defaults for account.
func DefaultConfig(account string) Config {
	return Config{
		Account:             account,
		AgendaLookaheadDays: 30,
		FetchConcurrency:    len(school.Categories),
	}
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithAttachmentSink forwards didactics items whose files are not stored.
func WithAttachmentSink(sink AttachmentSink) Option {
	return func(c *Coordinator) { c.sink = sink }
}

// WithSnapshotStore publishes every completed snapshot.
func WithSnapshotStore(store SnapshotStore) Option {
	return func(c *Coordinator) { c.store = store }
}

// WithMetrics records cycle outcomes.
func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock replaces the system clock.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger.OrNop(l).With(logger.Component("poll")) }
}

// Coordinator runs poll cycles for one account. It owns the previous
// Snapshot; coordinators of different accounts share nothing.
type Coordinator struct {
	cfg      Config
	source   Source
	notifier Notifier
	sink     AttachmentSink
	store    SnapshotStore
	metrics  Metrics
	clock    Clock
	logger   *zap.Logger

	// cycleMu keeps cycles from overlapping.
	cycleMu sync.Mutex

	// previous is replaced whole, never mutated, so readers see a complete
	// Snapshot or none.
	previous atomic.Pointer[school.Snapshot]
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config, source Source, notifier Notifier, opts ...Option) *Coordinator {
	defaults := DefaultConfig(cfg.Account)
	if cfg.AgendaLookaheadDays <= 0 {
		cfg.AgendaLookaheadDays = defaults.AgendaLookaheadDays
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = defaults.FetchConcurrency
	}

	c := &Coordinator{
		cfg:      cfg,
		source:   source,
		notifier: notifier,
		metrics:  nopMetrics{},
		clock:    SystemClock,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logger.Account(cfg.Account))
	return c
}

// Account returns the account this coordinator polls.
func (c *Coordinator) Account() string {
	return c.cfg.Account
}

// CurrentSnapshot returns the most recent Snapshot, or nil before the
// first successful cycle.
func (c *Coordinator) CurrentSnapshot() *school.Snapshot {
	return c.previous.Load()
}

// Restore seeds the previous Snapshot, typically from a cache after a
// restart, so the next cycle detects against it instead of establishing a
// new baseline. It has no effect once a Snapshot is held.
func (c *Coordinator) Restore(snapshot *school.Snapshot) bool {
	if snapshot == nil || snapshot.Account != c.cfg.Account {
		return false
	}
	return c.previous.CompareAndSwap(nil, snapshot)
}

// RunCycle fetches every category, assembles a new Snapshot, detects new
// records against the previous Snapshot and emits notifications for them.
//
// A category that fails keeps its previous content and is marked stale.
// When every category fails with an AuthError the cycle fails with a
// CycleError, the previous Snapshot is kept and nothing is emitted.
func (c *Coordinator) RunCycle(ctx context.Context) (*school.Snapshot, error) {
	if !c.cycleMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer c.cycleMu.Unlock()

	if c.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CycleTimeout)
		defer cancel()
	}

	cycleID := uuid.NewString()
	log := c.logger.With(logger.CycleID(cycleID))
	ctx = logger.WithContext(ctx, log)
	started := time.Now()
	now := c.clock.Now()

	previous := c.previous.Load()
	fetched := c.fetchAll(ctx, now)

	if fetched.allAuthFailed() {
		err := &CycleError{Account: c.cfg.Account, Err: fetched.joinedErr()}
		c.metrics.ObserveCycle(c.cfg.Account, "auth_failed", time.Since(started))
		log.Error("poll cycle failed, keeping previous snapshot", logger.Err(err))
		return nil, err
	}

	known := c.knownFiles(ctx, log)
	current := c.assemble(cycleID, now, previous, fetched, known)

	delta := school.Detect(previous, current)
	if firstLoads := firstLoadedCategories(previous, current); len(firstLoads) > 0 {
		delta = delta.Without(firstLoads...)
	}
	c.metrics.ObserveNewItems(c.cfg.Account, school.CategoryAgenda, len(delta.Agenda))
	c.metrics.ObserveNewItems(c.cfg.Account, school.CategoryDidactics, len(delta.Didactics))
	c.metrics.ObserveNewItems(c.cfg.Account, school.CategoryNoticeboard, len(delta.Noticeboard))

	sent := 0
	if !delta.IsEmpty() && c.notifier != nil {
		var err error
		sent, err = c.notifier.Emit(ctx, c.cfg.Account, delta)
		if err != nil {
			log.Warn("some notifications were not published", logger.Err(err))
		}
	}

	if current.StatusOf(school.CategoryDidactics).Fresh {
		c.forwardAttachments(ctx, log, current.Didactics, known)
	}

	c.previous.Store(current)

	if c.store != nil {
		if err := c.store.Save(ctx, current); err != nil {
			log.Warn("failed to publish snapshot", logger.Err(err))
		}
	}

	result := "ok"
	stale := current.StaleCategories()
	if len(stale) > 0 {
		result = "partial"
	}
	c.metrics.ObserveCycle(c.cfg.Account, result, time.Since(started))
	log.Info("poll cycle completed",
		zap.String("result", result),
		zap.Int("new_items", delta.Len()),
		zap.Int("notifications", sent),
		zap.Int("stale_categories", len(stale)),
		logger.Latency(time.Since(started)),
	)

	return current, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FETCHING
// ══════════════════════════════════════════════════════════════════════════════

type fetchResult struct {
	student     school.Student
	grades      []school.Grade
	absences    []school.Absence
	agenda      []school.AgendaEvent
	didactics   []school.DidacticsItem
	noticeboard []school.Notice
	errs        map[school.Category]error
}

func (r fetchResult) allAuthFailed() bool {
	for _, cat := range school.Categories {
		if !shared.IsAuthError(r.errs[cat]) {
			return false
		}
	}
	return true
}

func (r fetchResult) joinedErr() error {
	errs := make([]error, 0, len(r.errs))
	for _, cat := range school.Categories {
		if err := r.errs[cat]; err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", cat, err))
		}
	}
	return errors.Join(errs...)
}

// fetchAll runs the five fetches concurrently. A failing fetch never
// cancels the others.
func (c *Coordinator) fetchAll(ctx context.Context, now time.Time) fetchResult {
	res := fetchResult{errs: make(map[school.Category]error, len(school.Categories))}

	student, err := c.source.Student(ctx)
	if err != nil {
		for _, cat := range school.Categories {
			res.errs[cat] = err
		}
		return res
	}
	res.student = student

	from, to := timeutil.Window(now, c.cfg.AgendaLookaheadDays)

	var (
		g                                                    errgroup.Group
		gradesErr, absencesErr, agendaErr, didErr, noticeErr error
	)
	g.SetLimit(c.cfg.FetchConcurrency)
	g.Go(func() error {
		res.grades, gradesErr = c.source.Grades(ctx, student.ID)
		return nil
	})
	g.Go(func() error {
		res.absences, absencesErr = c.source.Absences(ctx, student.ID)
		return nil
	})
	g.Go(func() error {
		res.agenda, agendaErr = c.source.Agenda(ctx, student.ID, from, to)
		return nil
	})
	g.Go(func() error {
		res.didactics, didErr = c.source.Didactics(ctx, student.ID)
		return nil
	})
	g.Go(func() error {
		res.noticeboard, noticeErr = c.source.Noticeboard(ctx, student.ID)
		return nil
	})
	_ = g.Wait()

	res.errs[school.CategoryGrades] = gradesErr
	res.errs[school.CategoryAbsences] = absencesErr
	res.errs[school.CategoryAgenda] = agendaErr
	res.errs[school.CategoryDidactics] = didErr
	res.errs[school.CategoryNoticeboard] = noticeErr
	return res
}

// ══════════════════════════════════════════════════════════════════════════════
// ASSEMBLY
// ══════════════════════════════════════════════════════════════════════════════

// assemble builds the new Snapshot. Failed categories carry over the
// previous content, or stay empty when there is none.
func (c *Coordinator) assemble(cycleID string, now time.Time, previous *school.Snapshot, res fetchResult, known map[string]string) *school.Snapshot {
	snap := &school.Snapshot{
		ID:        cycleID,
		Account:   c.cfg.Account,
		StudentID: res.student.ID,
		TakenAt:   now,
		Status:    make(map[school.Category]school.CategoryStatus, len(school.Categories)),
	}
	if snap.StudentID == "" && previous != nil {
		snap.StudentID = previous.StudentID
	}

	surname := c.cfg.StudentSurname
	if surname == "" {
		surname = res.student.LastName
	}

	for _, cat := range school.Categories {
		err := res.errs[cat]
		snap.Status[cat] = c.categoryStatus(cat, now, previous, err)
		if err != nil {
			c.logger.Warn("category fetch failed, keeping previous data",
				logger.CycleID(cycleID),
				logger.Category(string(cat)),
				zap.String("error_kind", shared.ErrorKind(err)),
				logger.Err(err),
			)
		}
		c.metrics.ObserveCategory(c.cfg.Account, cat, shared.ErrorKind(err))
	}

	if res.errs[school.CategoryGrades] == nil {
		snap.Grades = res.grades
	} else if previous != nil {
		snap.Grades = previous.Grades
	}
	if res.errs[school.CategoryAbsences] == nil {
		snap.Absences = res.absences
	} else if previous != nil {
		snap.Absences = previous.Absences
	}
	if res.errs[school.CategoryAgenda] == nil {
		snap.Agenda = school.MarkStudentRelevant(res.agenda, surname)
	} else if previous != nil {
		snap.Agenda = previous.Agenda
	}
	if res.errs[school.CategoryDidactics] == nil {
		snap.Didactics = school.AttachLocalRefs(res.didactics, known)
	} else if previous != nil {
		snap.Didactics = previous.Didactics
	}
	if res.errs[school.CategoryNoticeboard] == nil {
		snap.Noticeboard = res.noticeboard
	} else if previous != nil {
		snap.Noticeboard = previous.Noticeboard
	}

	return snap
}

func (c *Coordinator) categoryStatus(cat school.Category, now time.Time, previous *school.Snapshot, err error) school.CategoryStatus {
	if err == nil {
		return school.CategoryStatus{Fresh: true, Loaded: true, UpdatedAt: now}
	}
	prev := previous.StatusOf(cat)
	return school.CategoryStatus{
		Fresh:     false,
		Loaded:    prev.Loaded,
		UpdatedAt: prev.UpdatedAt,
		ErrorKind: shared.ErrorKind(err),
		Error:     err.Error(),
	}
}

// firstLoadedCategories lists the categories loaded for the first time in
// current while previous exists. Their records establish a baseline and
// are not reported as new.
func firstLoadedCategories(previous, current *school.Snapshot) []school.Category {
	if previous == nil {
		return nil
	}
	var cats []school.Category
	for _, cat := range school.Categories {
		if cat.Tracked() && !previous.StatusOf(cat).Loaded && current.StatusOf(cat).Loaded {
			cats = append(cats, cat)
		}
	}
	return cats
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTACHMENTS
// ══════════════════════════════════════════════════════════════════════════════

func (c *Coordinator) knownFiles(ctx context.Context, log *zap.Logger) map[string]string {
	if c.sink == nil {
		return nil
	}
	known, err := c.sink.KnownFiles(ctx)
	if err != nil {
		log.Warn("failed to list stored attachments", logger.Err(err))
		return nil
	}
	if known == nil {
		known = map[string]string{}
	}
	return known
}

// forwardAttachments hands the sink every identified item it has not stored.
// A nil known map means the stored files could not be listed; nothing is
// forwarded then.
func (c *Coordinator) forwardAttachments(ctx context.Context, log *zap.Logger, items []school.DidacticsItem, known map[string]string) {
	if c.sink == nil || known == nil {
		return
	}
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if _, ok := known[item.ID]; ok {
			continue
		}
		if err := c.sink.NewItem(ctx, item); err != nil {
			log.Warn("attachment sink rejected item",
				zap.String("item_id", item.ID),
				logger.Err(err),
			)
		}
	}
}
