package school

import (
	"sort"
	"time"
)

// Grade is a single mark. Value is zero when the mark is not numeric
// (for example a judgement); Display always carries what the portal shows.
type Grade struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Value     float64   `json:"value"`
	Display   string    `json:"display"`
	Date      time.Time `json:"date"`
	Notes     string    `json:"notes,omitempty"`
	Period    string    `json:"period,omitempty"`
	Component string    `json:"component,omitempty"`
}

// Absence is an absence, late entry or early exit.
type Absence struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Date      time.Time `json:"date"`
	Hour      int       `json:"hour,omitempty"`
	Justified bool      `json:"justified"`
	Reason    string    `json:"reason,omitempty"`
}

// Notice is a noticeboard publication.
type Notice struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Category      string `json:"category"`
	Begin         string `json:"begin"`
	Read          bool   `json:"read"`
	HasAttachment bool   `json:"has_attachment"`
}

// SortGrades orders grades chronologically. Grades on the same day keep
// the order the portal returned them in.
func SortGrades(grades []Grade) {
	sort.SliceStable(grades, func(i, j int) bool {
		return grades[i].Date.Before(grades[j].Date)
	})
}
