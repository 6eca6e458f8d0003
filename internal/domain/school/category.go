// Package school models the data observed on the school portal:
// the normalized records of each category, the per-cycle Snapshot
// and the detection of records that are new since the previous cycle.
package school

// Category names one of the five record collections of a Snapshot.
type Category string

const (
	CategoryGrades      Category = "grades"
	CategoryAbsences    Category = "absences"
	CategoryAgenda      Category = "agenda"
	CategoryDidactics   Category = "didactics"
	CategoryNoticeboard Category = "noticeboard"
)

// Categories lists every category in the order a cycle fetches them.
var Categories = []Category{
	CategoryGrades,
	CategoryAbsences,
	CategoryAgenda,
	CategoryDidactics,
	CategoryNoticeboard,
}

// Tracked reports whether new records of the category raise notifications.
func (c Category) Tracked() bool {
	switch c {
	case CategoryAgenda, CategoryDidactics, CategoryNoticeboard:
		return true
	default:
		return false
	}
}

// IsValid checks that c is one of the known categories.
func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}
