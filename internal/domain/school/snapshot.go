package school

import "time"

// CategoryStatus describes how a category fared in the cycle that
// produced a Snapshot.
type CategoryStatus struct {
	// Fresh is true when the category was fetched successfully this cycle.
	Fresh bool `json:"fresh"`
	// Loaded is true once the category has been fetched successfully in
	// this or any earlier cycle.
	Loaded bool `json:"loaded"`
	// UpdatedAt is the time of the last successful fetch.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Stale reports whether the category holds data from an earlier cycle
// or no data at all.
func (s CategoryStatus) Stale() bool {
	return !s.Fresh
}

// Snapshot is the result of one poll cycle. A Snapshot is never modified
// after the coordinator publishes it; readers must treat every slice and
// the status map as read-only.
type Snapshot struct {
	ID          string                      `json:"id"`
	Account     string                      `json:"account"`
	StudentID   string                      `json:"student_id"`
	TakenAt     time.Time                   `json:"taken_at"`
	Grades      []Grade                     `json:"grades"`
	Absences    []Absence                   `json:"absences"`
	Agenda      []AgendaEvent               `json:"agenda"`
	Didactics   []DidacticsItem             `json:"didactics"`
	Noticeboard []Notice                    `json:"noticeboard"`
	Status      map[Category]CategoryStatus `json:"status"`
}

// KeySet is the set of identity keys of one category.
type KeySet map[string]struct{}

// Has reports whether key is in the set.
func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// IdentityKeys returns the identity keys present in category c.
// Records without an identity key are not part of the set.
func (s *Snapshot) IdentityKeys(c Category) KeySet {
	keys := KeySet{}
	if s == nil {
		return keys
	}
	add := func(k string) {
		if k != "" {
			keys[k] = struct{}{}
		}
	}
	switch c {
	case CategoryGrades:
		for _, g := range s.Grades {
			add(g.ID)
		}
	case CategoryAbsences:
		for _, a := range s.Absences {
			add(a.ID)
		}
	case CategoryAgenda:
		for _, e := range s.Agenda {
			add(e.ID)
		}
	case CategoryDidactics:
		for _, d := range s.Didactics {
			add(d.ID)
		}
	case CategoryNoticeboard:
		for _, n := range s.Noticeboard {
			add(n.ID)
		}
	}
	return keys
}

// StatusOf returns the status recorded for c.
func (s *Snapshot) StatusOf(c Category) CategoryStatus {
	if s == nil || s.Status == nil {
		return CategoryStatus{}
	}
	return s.Status[c]
}

// StaleCategories lists the categories that were not refreshed.
func (s *Snapshot) StaleCategories() []Category {
	var stale []Category
	for _, c := range Categories {
		if s.StatusOf(c).Stale() {
			stale = append(stale, c)
		}
	}
	return stale
}

// Len returns the number of records in category c.
func (s *Snapshot) Len(c Category) int {
	if s == nil {
		return 0
	}
	switch c {
	case CategoryGrades:
		return len(s.Grades)
	case CategoryAbsences:
		return len(s.Absences)
	case CategoryAgenda:
		return len(s.Agenda)
	case CategoryDidactics:
		return len(s.Didactics)
	case CategoryNoticeboard:
		return len(s.Noticeboard)
	}
	return 0
}
