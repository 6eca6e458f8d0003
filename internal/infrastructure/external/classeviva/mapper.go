package classeviva

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/school"
	"github.com/classeviva-hub/classeviva-poller/internal/domain/shared"
	"github.com/classeviva-hub/classeviva-poller/pkg/timeutil"
)

// Candidate field names, tried in order. The portal has used more than one
// name for the same concept over time; the first name holding a non-empty
// value wins.
var (
	didacticsContainerKeys = []string{"didacticts", "didactics"}
	didacticsFolderItems   = []string{"agendaItems", "contents"}
	didacticsIDFields      = []string{"itemId", "contentId"}
	didacticsNameFields    = []string{"displayName", "itemName", "contentName"}
	didacticsShareFields   = []string{"shareDt", "shareDT"}
	folderShareFields      = []string{"lastShareDt", "lastShareDT"}
	teacherNameFields      = []string{"teacherName"}
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTAINERS
// ══════════════════════════════════════════════════════════════════════════════

// container extracts the item list stored under the first present key.
// A body that is not a JSON object, or that has none of the keys, or whose
// value is not an array, is an UpstreamError for the whole endpoint.
func container(op string, body []byte, keys ...string) ([]json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, shared.NewUpstreamError(op, 0, body, "response is not a JSON object", err)
	}

	for _, key := range keys {
		raw, ok := envelope[key]
		if !ok || isNull(raw) {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, shared.NewUpstreamError(op, 0, body, "container "+key+" is not a list", err)
		}
		return items, nil
	}

	return nil, shared.NewUpstreamError(op, 0, body,
		"response has no "+strings.Join(keys, " or ")+" container", nil)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// fields is a decoded JSON object probed by candidate names.
type fields map[string]json.RawMessage

func decodeFields(raw json.RawMessage) (fields, bool) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil || f == nil {
		return nil, false
	}
	return f, true
}

// first returns the value of the first candidate holding a non-empty scalar.
func (f fields) first(candidates ...string) string {
	for _, name := range candidates {
		raw, ok := f[name]
		if !ok {
			continue
		}
		var v flexString
		_ = v.UnmarshalJSON(raw)
		if v != "" {
			return string(v)
		}
	}
	return ""
}

// list returns the array stored under the first candidate holding one.
func (f fields) list(candidates ...string) []json.RawMessage {
	for _, name := range candidates {
		raw, ok := f[name]
		if !ok || isNull(raw) {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err == nil {
			return items
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// Each mapper returns ok=false only when the record cannot be used at all.

func mapGrade(raw json.RawMessage) (school.Grade, bool) {
	var dto gradeDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return school.Grade{}, false
	}
	date, _ := timeutil.ParseDate(string(dto.EvtDate))
	return school.Grade{
		ID:        string(dto.EvtID),
		Subject:   string(dto.SubjectDesc),
		Value:     dto.DecimalValue.Value,
		Display:   string(dto.DisplayValue),
		Date:      date,
		Notes:     string(dto.NotesForFamily),
		Period:    string(dto.PeriodDesc),
		Component: string(dto.ComponentDesc),
	}, true
}

func mapAbsence(raw json.RawMessage) (school.Absence, bool) {
	var dto absenceDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return school.Absence{}, false
	}
	date, _ := timeutil.ParseDate(string(dto.EvtDate))
	return school.Absence{
		ID:        string(dto.EvtID),
		Code:      string(dto.EvtCode),
		Date:      date,
		Hour:      int(dto.EvtHPos.Value),
		Justified: bool(dto.IsJustified),
		Reason:    string(dto.JustifReasonDesc),
	}, true
}

// mapAgendaEvent normalizes one agenda entry. Entries without an event id
// are dropped. An unparseable begin falls back to windowStart; the end is
// repaired so that it is always after the start.
func mapAgendaEvent(raw json.RawMessage, windowStart time.Time) (school.AgendaEvent, bool) {
	var dto agendaDTO
	if err := json.Unmarshal(raw, &dto); err != nil || dto.EvtID == "" {
		return school.AgendaEvent{}, false
	}

	degraded := false
	start, err := timeutil.ParseDateTime(string(dto.EvtDatetimeBegin))
	if err != nil {
		start, degraded = windowStart, true
	}
	end, err := timeutil.ParseDateTime(string(dto.EvtDatetimeEnd))
	if err != nil {
		end = time.Time{}
	}
	start, end, repaired := school.NormalizeSpan(start, end)

	return school.AgendaEvent{
		ID:       string(dto.EvtID),
		Start:    start,
		End:      end,
		Subject:  string(dto.SubjectDesc),
		Author:   string(dto.AuthorName),
		Notes:    string(dto.Notes),
		Category: string(dto.EvtCode),
		Class:    string(dto.ClassDesc),
		FullDay:  bool(dto.IsFullDay),
		Degraded: degraded || repaired,
	}, true
}

func mapNotice(raw json.RawMessage) (school.Notice, bool) {
	var dto noticeDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return school.Notice{}, false
	}
	return school.Notice{
		ID:            string(dto.PubID),
		Title:         string(dto.CntTitle),
		Author:        firstNonEmpty(string(dto.CntAuthor), string(dto.AuthorName)),
		Category:      string(dto.CntCategory),
		Begin:         firstNonEmpty(string(dto.EvtBegin), string(dto.CntValidFrom), string(dto.PubDT)),
		Read:          bool(dto.ReadStatus),
		HasAttachment: bool(dto.CntHasAttach) || hasElements(dto.Attachments),
	}, true
}

// mapDidactics flattens teachers, folders and items into a list of items.
// Malformed teachers or folders are skipped; items keep an empty ID when
// no identity field is usable.
func mapDidactics(teachers []json.RawMessage) []school.DidacticsItem {
	var items []school.DidacticsItem
	for _, rawTeacher := range teachers {
		teacher, ok := decodeFields(rawTeacher)
		if !ok {
			continue
		}
		teacherName := teacher.first(teacherNameFields...)
		if teacherName == "" {
			teacherName = strings.TrimSpace(teacher.first("teacherFirstName") + " " + teacher.first("teacherLastName"))
		}

		for _, rawFolder := range teacher.list("folders") {
			folder, ok := decodeFields(rawFolder)
			if !ok {
				continue
			}
			folderName := folder.first("folderName")
			folderShare := folder.first(folderShareFields...)

			for _, rawItem := range folder.list(didacticsFolderItems...) {
				item, ok := decodeFields(rawItem)
				if !ok {
					continue
				}
				items = append(items, mapDidacticsItem(item, teacherName, folderName, folderShare))
			}
		}
	}
	return items
}

func mapDidacticsItem(item fields, teacher, folder, folderShare string) school.DidacticsItem {
	return school.DidacticsItem{
		ID:         didacticsID(item),
		Teacher:    teacher,
		Folder:     folder,
		Title:      item.first(didacticsNameFields...),
		ShareDate:  firstNonEmpty(item.first(didacticsShareFields...), folderShare),
		ObjectType: item.first("objectType"),
		ContentID:  item.first("contentId", "itemId"),
	}
}

// didacticsID returns the item identity: the primary field, or the
// alternate one when the primary is absent or empty.
func didacticsID(item fields) string {
	return item.first(didacticsIDFields...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func hasElements(raw json.RawMessage) bool {
	var items []json.RawMessage
	return json.Unmarshal(raw, &items) == nil && len(items) > 0
}
