// Package notify converts newly detected portal records into outbound
// notification events.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/school"
	"github.com/classeviva-hub/classeviva-poller/internal/domain/shared"
	"github.com/classeviva-hub/classeviva-poller/pkg/logger"
	"github.com/classeviva-hub/classeviva-poller/pkg/timeutil"
)

// Metrics counts published notifications.
type Metrics interface {
	ObserveNotification(account string, eventType shared.EventType, published bool)
}

type nopMetrics struct{}

func (nopMetrics) ObserveNotification(string, shared.EventType, bool) {}

// Emitter publishes one event per new record. Agenda events mentioning the
// student additionally produce a student-relevant event.
type Emitter struct {
	publisher shared.EventPublisher
	metrics   Metrics
	now       func() time.Time
	logger    *zap.Logger
}

// NewEmitter creates an Emitter publishing through publisher.
func NewEmitter(publisher shared.EventPublisher, l *zap.Logger, metrics Metrics) *Emitter {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Emitter{
		publisher: publisher,
		metrics:   metrics,
		now:       time.Now,
		logger:    logger.OrNop(l).With(logger.Component("notify")),
	}
}

// Emit publishes the notifications for delta. A failed publish does not
// stop the remaining ones; all failures are returned joined.
func (e *Emitter) Emit(ctx context.Context, account string, delta school.DeltaSet) (int, error) {
	if delta.IsEmpty() {
		return 0, nil
	}

	at := e.now()
	events := make([]shared.Event, 0, delta.Len())
	for _, item := range delta.Didactics {
		events = append(events, DidacticsEvent(account, item, at))
	}
	for _, notice := range delta.Noticeboard {
		events = append(events, NoticeboardEvent(account, notice, at))
	}
	for _, ev := range delta.Agenda {
		events = append(events, AgendaEvent(account, ev, at))
		if ev.StudentRelevant {
			events = append(events, StudentAgendaEvent(account, ev, at))
		}
	}

	log := logger.FromContext(ctx)
	sent := 0
	var errs []error
	for _, event := range events {
		if err := e.publisher.Publish(event); err != nil {
			e.metrics.ObserveNotification(account, event.EventType(), false)
			errs = append(errs, fmt.Errorf("publish %s: %w", event.EventType(), err))
			continue
		}
		sent++
		e.metrics.ObserveNotification(account, event.EventType(), true)
		log.Debug("notification published", logger.EventType(string(event.EventType())))
	}

	if len(errs) > 0 {
		e.logger.Warn("notifications failed",
			logger.Account(account),
			zap.Int("failed", len(errs)),
			zap.Int("published", sent),
		)
	}
	return sent, errors.Join(errs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// DidacticsEvent builds the notification for a new didactics item.
func DidacticsEvent(account string, item school.DidacticsItem, at time.Time) shared.NewDidacticsEvent {
	return shared.NewDidacticsEvent{
		BaseEvent: shared.NewBaseEventAt(shared.EventNewDidactics, account, at),
		Teacher:   item.Teacher,
		Folder:    item.Folder,
		ItemName:  item.Title,
		ShareDate: item.ShareDate,
	}
}

// NoticeboardEvent builds the notification for a new notice.
func NoticeboardEvent(account string, notice school.Notice, at time.Time) shared.NewNoticeboardEvent {
	return shared.NewNoticeboardEvent{
		BaseEvent: shared.NewBaseEventAt(shared.EventNewNoticeboard, account, at),
		Title:     notice.Title,
		Author:    notice.Author,
		Category:  notice.Category,
		BeginDate: notice.Begin,
	}
}

// AgendaEvent builds the generic notification for a new agenda event.
func AgendaEvent(account string, ev school.AgendaEvent, at time.Time) shared.AgendaEventNotification {
	return agendaNotification(shared.EventNewAgenda, account, ev, at)
}

// StudentAgendaEvent builds the notification for an agenda event that
// mentions the student.
func StudentAgendaEvent(account string, ev school.AgendaEvent, at time.Time) shared.AgendaEventNotification {
	return agendaNotification(shared.EventStudentAgendaEvent, account, ev, at)
}

func agendaNotification(t shared.EventType, account string, ev school.AgendaEvent, at time.Time) shared.AgendaEventNotification {
	return shared.AgendaEventNotification{
		BaseEvent: shared.NewBaseEventAt(t, account, at),
		Notes:     ev.Notes,
		Author:    ev.Author,
		Subject:   ev.Subject,
		Begin:     timeutil.ToRome(ev.Start).Format(time.RFC3339),
		End:       timeutil.ToRome(ev.End).Format(time.RFC3339),
	}
}
