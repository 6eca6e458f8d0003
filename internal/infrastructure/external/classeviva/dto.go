package classeviva

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// LENIENT SCALARS
// ══════════════════════════════════════════════════════════════════════════════

// The portal is inconsistent about scalar types: ids arrive as numbers or
// strings, flags as booleans, numbers or "S"/"N". The types below never
// fail to decode, so one odd field cannot discard a whole record.

// flexString decodes strings, numbers and booleans into their text form.
// null, objects and arrays become "".
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*s = ""
		return nil
	}
	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			*s = ""
			return nil
		}
		*s = flexString(strings.TrimSpace(v))
	case 't', 'f':
		*s = flexString(data)
	case 'n', '{', '[':
		*s = ""
	default:
		*s = flexString(data)
	}
	return nil
}

// flexBool decodes booleans, non-zero numbers and the strings
// "true", "1", "S", "Y" as true.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var text flexString
	_ = text.UnmarshalJSON(data)
	switch strings.ToLower(string(text)) {
	case "true", "s", "si", "y", "yes":
		*b = true
	default:
		n, err := strconv.ParseFloat(string(text), 64)
		*b = flexBool(err == nil && n != 0)
	}
	return nil
}

// flexFloat decodes numbers and numeric strings. Valid is false otherwise.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var text flexString
	_ = text.UnmarshalJSON(data)
	v, err := strconv.ParseFloat(strings.Replace(string(text), ",", ".", 1), 64)
	*f = flexFloat{Value: v, Valid: err == nil}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTH DTOs
// ══════════════════════════════════════════════════════════════════════════════

type loginRequestDTO struct {
	Ident *string `json:"ident"`
	UID   string  `json:"uid"`
	Pass  string  `json:"pass"`
}

type loginResponseDTO struct {
	Ident     flexString `json:"ident"`
	FirstName flexString `json:"firstName"`
	LastName  flexString `json:"lastName"`
	Token     string     `json:"token"`
	Release   flexString `json:"release"`
	Expire    flexString `json:"expire"`
	Error     flexString `json:"error"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD DTOs
// ══════════════════════════════════════════════════════════════════════════════

type gradeDTO struct {
	EvtID          flexString `json:"evtId"`
	EvtCode        flexString `json:"evtCode"`
	EvtDate        flexString `json:"evtDate"`
	DecimalValue   flexFloat  `json:"decimalValue"`
	DisplayValue   flexString `json:"displayValue"`
	SubjectDesc    flexString `json:"subjectDesc"`
	NotesForFamily flexString `json:"notesForFamily"`
	PeriodDesc     flexString `json:"periodDesc"`
	ComponentDesc  flexString `json:"componentDesc"`
}

type absenceDTO struct {
	EvtID            flexString `json:"evtId"`
	EvtCode          flexString `json:"evtCode"`
	EvtDate          flexString `json:"evtDate"`
	EvtHPos          flexFloat  `json:"evtHPos"`
	IsJustified      flexBool   `json:"isJustified"`
	JustifReasonDesc flexString `json:"justifReasonDesc"`
}

type agendaDTO struct {
	EvtID            flexString `json:"evtId"`
	EvtCode          flexString `json:"evtCode"`
	EvtDatetimeBegin flexString `json:"evtDatetimeBegin"`
	EvtDatetimeEnd   flexString `json:"evtDatetimeEnd"`
	IsFullDay        flexBool   `json:"isFullDay"`
	Notes            flexString `json:"notes"`
	AuthorName       flexString `json:"authorName"`
	ClassDesc        flexString `json:"classDesc"`
	SubjectDesc      flexString `json:"subjectDesc"`
}

type noticeDTO struct {
	PubID        flexString      `json:"pubId"`
	CntTitle     flexString      `json:"cntTitle"`
	CntAuthor    flexString      `json:"cntAuthor"`
	AuthorName   flexString      `json:"authorName"`
	CntCategory  flexString      `json:"cntCategory"`
	EvtBegin     flexString      `json:"evtBegin"`
	CntValidFrom flexString      `json:"cntValidFrom"`
	PubDT        flexString      `json:"pubDT"`
	ReadStatus   flexBool        `json:"readStatus"`
	CntHasAttach flexBool        `json:"cntHasAttach"`
	Attachments  json.RawMessage `json:"attachments"`
}
