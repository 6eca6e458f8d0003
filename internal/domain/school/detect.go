package school

// DeltaSet holds the records of each tracked category that were not
// present in the previous Snapshot. Grades and absences have no list here:
// they are kept in the Snapshot for readers but never notified, since
// neither kind has a notification event.
type DeltaSet struct {
	Agenda      []AgendaEvent
	Didactics   []DidacticsItem
	Noticeboard []Notice
}

// Len returns the total number of new records.
func (d DeltaSet) Len() int {
	return len(d.Agenda) + len(d.Didactics) + len(d.Noticeboard)
}

// IsEmpty reports whether no category has new records.
func (d DeltaSet) IsEmpty() bool {
	return d.Len() == 0
}

// Without returns a copy of d with the given categories cleared.
func (d DeltaSet) Without(categories ...Category) DeltaSet {
	for _, c := range categories {
		switch c {
		case CategoryAgenda:
			d.Agenda = nil
		case CategoryDidactics:
			d.Didactics = nil
		case CategoryNoticeboard:
			d.Noticeboard = nil
		}
	}
	return d
}

// Detect compares current against previous and returns, per tracked
// category, the records of current whose identity key is not in previous.
// Records keep the order they have in current. A nil previous yields an
// empty DeltaSet: the first cycle only establishes the baseline.
func Detect(previous, current *Snapshot) DeltaSet {
	var delta DeltaSet
	if previous == nil || current == nil {
		return delta
	}

	seen := previous.IdentityKeys(CategoryAgenda)
	for _, ev := range current.Agenda {
		if isNew(seen, ev.ID) {
			delta.Agenda = append(delta.Agenda, ev)
		}
	}

	seen = previous.IdentityKeys(CategoryDidactics)
	for _, item := range current.Didactics {
		if isNew(seen, item.ID) {
			delta.Didactics = append(delta.Didactics, item)
		}
	}

	seen = previous.IdentityKeys(CategoryNoticeboard)
	for _, n := range current.Noticeboard {
		if isNew(seen, n.ID) {
			delta.Noticeboard = append(delta.Noticeboard, n)
		}
	}

	return delta
}

// isNew reports whether key is a usable key missing from seen, and adds
// it to seen so a key repeated within one snapshot is reported once.
func isNew(seen KeySet, key string) bool {
	if key == "" || seen.Has(key) {
		return false
	}
	seen[key] = struct{}{}
	return true
}
