package handlers

import (
	"net/http"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/gin-gonic/gin"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/school"
)

// HeaderCalendarStale is set on calendar responses built from agenda data
// that could not be refreshed in the last cycle.
const HeaderCalendarStale = "X-Calendar-Stale"

const propertyDegraded = ics.ComponentProperty("X-CLASSEVIVA-DEGRADED")

// CalendarHandler renders snapshot agendas as iCalendar feeds.
type CalendarHandler struct {
	productID string
	location  *time.Location
}

// NewCalendarHandler creates a handler. loc decides the calendar day of
// full-day events and defaults to UTC.
func NewCalendarHandler(productID string, loc *time.Location) *CalendarHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarHandler{productID: productID, location: loc}
}

// Build converts the agenda of snapshot into a calendar.
func (h *CalendarHandler) Build(snapshot *school.Snapshot) *ics.Calendar {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(h.productID)
	if snapshot == nil {
		return cal
	}
	cal.SetXWRCalName("ClasseViva " + snapshot.Account)

	for _, ev := range snapshot.Agenda {
		if ev.ID == "" {
			continue
		}
		event := cal.AddEvent(eventUID(snapshot.Account, ev.ID))
		event.SetDtStampTime(snapshot.TakenAt)
		if ev.FullDay {
			start := h.day(ev.Start)
			event.SetAllDayStartAt(start)
			event.SetAllDayEndAt(h.day(ev.End).AddDate(0, 0, 1))
		} else {
			event.SetStartAt(ev.Start)
			event.SetEndAt(ev.End)
		}
		event.SetSummary(summary(ev))
		if desc := description(ev); desc != "" {
			event.SetDescription(desc)
		}
		if ev.Category != "" {
			event.AddProperty(ics.ComponentPropertyCategories, ev.Category)
		}
		if ev.Degraded {
			event.SetProperty(propertyDegraded, "TRUE")
		}
	}
	return cal
}

// Serve writes the calendar of snapshot as the response.
func (h *CalendarHandler) Serve(c *gin.Context, snapshot *school.Snapshot) {
	if snapshot != nil {
		if status, ok := snapshot.Status[school.CategoryAgenda]; ok && status.Stale() {
			c.Header(HeaderCalendarStale, "true")
		}
		c.Header("Content-Disposition", `inline; filename="`+snapshot.Account+`-agenda.ics"`)
	}
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(h.Build(snapshot).Serialize()))
}

func (h *CalendarHandler) day(t time.Time) time.Time {
	t = t.In(h.location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, h.location)
}

func eventUID(account, id string) string {
	return account + "-" + id + "@classeviva-poller"
}

func summary(ev school.AgendaEvent) string {
	s := strings.TrimSpace(ev.Subject)
	if s == "" {
		s = strings.TrimSpace(ev.Category)
	}
	if s == "" {
		s = "Agenda"
	}
	if ev.StudentRelevant {
		s = "[!] " + s
	}
	return s
}

func description(ev school.AgendaEvent) string {
	var parts []string
	if notes := strings.TrimSpace(ev.Notes); notes != "" {
		parts = append(parts, notes)
	}
	if ev.Author != "" {
		parts = append(parts, ev.Author)
	}
	if ev.Class != "" {
		parts = append(parts, ev.Class)
	}
	return strings.Join(parts, "\n")
}
