package classeviva

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/school"
	"github.com/classeviva-hub/classeviva-poller/pkg/logger"
	"github.com/classeviva-hub/classeviva-poller/pkg/timeutil"
)

// Requester issues authenticated requests. *Client implements it.
type Requester interface {
	Request(ctx context.Context, method, path string, body interface{}) ([]byte, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENDPOINT FETCHERS
// ══════════════════════════════════════════════════════════════════════════════

// FetchGrades returns the student's grades in chronological order.
func FetchGrades(ctx context.Context, r Requester, studentID string) ([]school.Grade, error) {
	items, err := fetchContainer(ctx, r, "FetchGrades", studentPath(studentID, "grades"), "grades")
	if err != nil {
		return nil, err
	}

	grades := make([]school.Grade, 0, len(items))
	for _, raw := range items {
		if g, ok := mapGrade(raw); ok {
			grades = append(grades, g)
		}
	}
	logDropped(ctx, school.CategoryGrades, len(items), len(grades))
	school.SortGrades(grades)
	return grades, nil
}

// FetchAbsences returns absences, late entries and early exits.
func FetchAbsences(ctx context.Context, r Requester, studentID string) ([]school.Absence, error) {
	items, err := fetchContainer(ctx, r, "FetchAbsences", studentPath(studentID, "absences", "details"), "events")
	if err != nil {
		return nil, err
	}

	absences := make([]school.Absence, 0, len(items))
	for _, raw := range items {
		if a, ok := mapAbsence(raw); ok {
			absences = append(absences, a)
		}
	}
	logDropped(ctx, school.CategoryAbsences, len(items), len(absences))
	return absences, nil
}

// FetchAgenda returns the agenda events between from and to, ordered by
// start time. Events without an id are dropped; every returned event has
// End after Start.
func FetchAgenda(ctx context.Context, r Requester, studentID string, from, to time.Time) ([]school.AgendaEvent, error) {
	path := studentPath(studentID, "agenda", "all", timeutil.FormatCompact(from), timeutil.FormatCompact(to))
	items, err := fetchContainer(ctx, r, "FetchAgenda", path, "agenda")
	if err != nil {
		return nil, err
	}

	events := make([]school.AgendaEvent, 0, len(items))
	for _, raw := range items {
		if ev, ok := mapAgendaEvent(raw, from); ok {
			events = append(events, ev)
		}
	}
	logDropped(ctx, school.CategoryAgenda, len(items), len(events))
	school.SortAgenda(events)
	return events, nil
}

// FetchDidactics returns every item of every teacher folder.
func FetchDidactics(ctx context.Context, r Requester, studentID string) ([]school.DidacticsItem, error) {
	teachers, err := fetchContainer(ctx, r, "FetchDidactics", studentPath(studentID, "didactics"), didacticsContainerKeys...)
	if err != nil {
		return nil, err
	}
	return mapDidactics(teachers), nil
}

// FetchNoticeboard returns the noticeboard publications.
func FetchNoticeboard(ctx context.Context, r Requester, studentID string) ([]school.Notice, error) {
	items, err := fetchContainer(ctx, r, "FetchNoticeboard", studentPath(studentID, "noticeboard"), "items")
	if err != nil {
		return nil, err
	}

	notices := make([]school.Notice, 0, len(items))
	for _, raw := range items {
		if n, ok := mapNotice(raw); ok {
			notices = append(notices, n)
		}
	}
	logDropped(ctx, school.CategoryNoticeboard, len(items), len(notices))
	return notices, nil
}

func fetchContainer(ctx context.Context, r Requester, op, path string, keys ...string) ([]json.RawMessage, error) {
	body, err := r.Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return container(op, body, keys...)
}

func logDropped(ctx context.Context, category school.Category, received, kept int) {
	if dropped := received - kept; dropped > 0 {
		logger.FromContext(ctx).Warn("dropped unusable records",
			logger.Category(string(category)),
			zap.Int("dropped", dropped),
			zap.Int("received", received),
		)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PORTAL
// ══════════════════════════════════════════════════════════════════════════════

// Portal binds the fetchers to one Client.
type Portal struct {
	client *Client
}

// NewPortal creates a Portal over client.
func NewPortal(client *Client) *Portal {
	return &Portal{client: client}
}

// Client returns the underlying client.
func (p *Portal) Client() *Client {
	return p.client
}

// Student returns the logged-in student.
func (p *Portal) Student(ctx context.Context) (school.Student, error) {
	return p.client.Student(ctx)
}

// Grades implements the grades fetch.
func (p *Portal) Grades(ctx context.Context, studentID string) ([]school.Grade, error) {
	return FetchGrades(ctx, p.client, studentID)
}

// Absences implements the absences fetch.
func (p *Portal) Absences(ctx context.Context, studentID string) ([]school.Absence, error) {
	return FetchAbsences(ctx, p.client, studentID)
}

// Agenda implements the agenda fetch.
func (p *Portal) Agenda(ctx context.Context, studentID string, from, to time.Time) ([]school.AgendaEvent, error) {
	return FetchAgenda(ctx, p.client, studentID, from, to)
}

// Didactics implements the didactics fetch.
func (p *Portal) Didactics(ctx context.Context, studentID string) ([]school.DidacticsItem, error) {
	return FetchDidactics(ctx, p.client, studentID)
}

// Noticeboard implements the noticeboard fetch.
func (p *Portal) Noticeboard(ctx context.Context, studentID string) ([]school.Notice, error) {
	return FetchNoticeboard(ctx, p.client, studentID)
}
