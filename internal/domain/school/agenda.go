package school

import (
	"sort"
	"strings"
	"time"
)

// MinEventDuration is the length given to an agenda event whose end
// is missing, unparseable or not after its start.
const MinEventDuration = time.Hour

// AgendaEvent is a homework, test or note on the class agenda.
// End is always after Start.
type AgendaEvent struct {
	ID              string    `json:"id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Subject         string    `json:"subject"`
	Author          string    `json:"author"`
	Notes           string    `json:"notes"`
	Category        string    `json:"category"`
	Class           string    `json:"class,omitempty"`
	FullDay         bool      `json:"full_day"`
	StudentRelevant bool      `json:"student_relevant"`
	Degraded        bool      `json:"degraded,omitempty"`
}

// NormalizeSpan returns a span whose end is strictly after its start.
// The boolean result is true when the span had to be repaired.
func NormalizeSpan(start, end time.Time) (time.Time, time.Time, bool) {
	if end.After(start) {
		return start, end, false
	}
	return start, start.Add(MinEventDuration), true
}

// Mentions reports whether surname appears, ignoring case, in the
// subject or the notes of the event. An empty surname matches nothing.
func (e AgendaEvent) Mentions(surname string) bool {
	needle := strings.ToLower(strings.TrimSpace(surname))
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(e.Subject), needle) ||
		strings.Contains(strings.ToLower(e.Notes), needle)
}

// MarkStudentRelevant returns a copy of events with StudentRelevant set
// on the ones mentioning surname.
func MarkStudentRelevant(events []AgendaEvent, surname string) []AgendaEvent {
	out := make([]AgendaEvent, len(events))
	for i, ev := range events {
		ev.StudentRelevant = ev.Mentions(surname)
		out[i] = ev
	}
	return out
}

// SortAgenda orders events by start time.
func SortAgenda(events []AgendaEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
}
