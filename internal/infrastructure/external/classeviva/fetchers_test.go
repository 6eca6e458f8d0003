package classeviva

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/shared"
	"github.com/classeviva-hub/classeviva-poller/pkg/timeutil"
)

// cannedRequester answers every path with a fixed body.
type cannedRequester struct {
	bodies map[string]string
	paths  []string
}

func (c *cannedRequester) Request(_ context.Context, _, path string, _ interface{}) ([]byte, error) {
	c.paths = append(c.paths, path)
	body, ok := c.bodies[path]
	if !ok {
		return nil, shared.NewUpstreamError("Request", 404, nil, "not found", nil)
	}
	return []byte(body), nil
}

func TestFetchGrades(t *testing.T) {
	r := &cannedRequester{bodies: map[string]string{
		"/students/42/grades": `{"grades":[
			{"evtId":2,"subjectDesc":"STORIA","decimalValue":6.5,"displayValue":"6+","evtDate":"2024-02-10","notesForFamily":null},
			{"evtId":"1","subjectDesc":"MATEMATICA","decimalValue":null,"displayValue":"ottimo","evtDate":"2024-01-15","periodDesc":"Trimestre"},
			"garbage",
			{"evtId":3,"evtDate":"not a date","decimalValue":"7,25"}
		]}`,
	}}

	grades, err := FetchGrades(context.Background(), r, "42")
	require.NoError(t, err)
	require.Len(t, grades, 3)

	assert.Equal(t, "3", grades[0].ID, "undated grades sort first")
	assert.Equal(t, 7.25, grades[0].Value)
	assert.True(t, grades[0].Date.IsZero())

	assert.Equal(t, "1", grades[1].ID)
	assert.Equal(t, "MATEMATICA", grades[1].Subject)
	assert.Zero(t, grades[1].Value)
	assert.Equal(t, "ottimo", grades[1].Display)
	assert.Equal(t, "Trimestre", grades[1].Period)

	assert.Equal(t, "2", grades[2].ID)
	assert.Equal(t, 6.5, grades[2].Value)
	assert.Empty(t, grades[2].Notes)
}

func TestFetchGrades_UnparseableContainer(t *testing.T) {
	for name, body := range map[string]string{
		"not json":          `<html>maintenance</html>`,
		"missing container": `{"items":[]}`,
		"container object":  `{"grades":{"evtId":1}}`,
		"top-level array":   `[{"evtId":1}]`,
	} {
		t.Run(name, func(t *testing.T) {
			r := &cannedRequester{bodies: map[string]string{"/students/42/grades": body}}
			_, err := FetchGrades(context.Background(), r, "42")
			assert.True(t, shared.IsUpstreamError(err))
		})
	}
}

func TestFetchAbsences(t *testing.T) {
	r := &cannedRequester{bodies: map[string]string{
		"/students/42/absences/details": `{"events":[
			{"evtId":10,"evtCode":"ABA0","evtDate":"2024-01-09","isJustified":true,"justifReasonDesc":"Motivi di salute"},
			{"evtId":11,"evtCode":"ABR0","evtDate":"2024-01-10","evtHPos":2,"isJustified":"N"},
			{}
		]}`,
	}}

	absences, err := FetchAbsences(context.Background(), r, "42")
	require.NoError(t, err)
	require.Len(t, absences, 3)

	assert.True(t, absences[0].Justified)
	assert.Equal(t, "Motivi di salute", absences[0].Reason)
	assert.False(t, absences[1].Justified)
	assert.Equal(t, 2, absences[1].Hour)
	assert.Empty(t, absences[2].ID)
}

func TestFetchAgenda(t *testing.T) {
	from := time.Date(2024, 3, 4, 0, 0, 0, 0, timeutil.RomeTZ)
	to := from.AddDate(0, 0, 30)
	r := &cannedRequester{bodies: map[string]string{
		"/students/42/agenda/all/20240304/20240403": `{"agenda":[
			{"evtId":300,"evtCode":"AGNT","evtDatetimeBegin":"2024-03-06T10:00:00+01:00","evtDatetimeEnd":"2024-03-06T11:00:00+01:00","subjectDesc":"FISICA","authorName":"BIANCHI LUCA","notes":"Verifica"},
			{"evtId":301,"evtDatetimeBegin":"2024-03-05T09:00:00+01:00","evtDatetimeEnd":"2024-03-05T09:00:00+01:00","notes":"same begin and end"},
			{"evtId":302,"evtDatetimeBegin":"2024-03-07T12:00:00+01:00","evtDatetimeEnd":"2024-03-07T08:00:00+01:00","notes":"end before begin"},
			{"evtId":303,"evtDatetimeBegin":"soon","evtDatetimeEnd":"later","notes":"garbage timestamps"},
			{"evtDatetimeBegin":"2024-03-05T09:00:00+01:00","notes":"no identity"},
			{"evtId":null,"notes":"null identity"}
		]}`,
	}}

	events, err := FetchAgenda(context.Background(), r, "42", from, to)
	require.NoError(t, err)
	require.Len(t, events, 4)

	for _, ev := range events {
		assert.True(t, ev.End.After(ev.Start), "event %s must end after it starts", ev.ID)
	}

	assert.Equal(t, "303", events[0].ID, "unparseable begin falls back to the window start")
	assert.True(t, events[0].Start.Equal(from))
	assert.True(t, events[0].Degraded)

	assert.Equal(t, "301", events[1].ID)
	assert.True(t, events[1].Degraded)

	assert.Equal(t, "300", events[2].ID)
	assert.False(t, events[2].Degraded)
	assert.Equal(t, "FISICA", events[2].Subject)
	assert.Equal(t, "AGNT", events[2].Category)
	assert.Equal(t, time.Hour, events[2].End.Sub(events[2].Start))

	assert.Equal(t, "302", events[3].ID)
	assert.True(t, events[3].Degraded)
}

func TestFetchDidactics_ContainerAndIdentityFallbacks(t *testing.T) {
	r := &cannedRequester{bodies: map[string]string{
		"/students/42/didactics": `{"didacticts":[
			{"teacherName":"ROSSI MARIA","folders":[
				{"folderName":"Compiti","lastShareDt":"2024-02-01","agendaItems":[
					{"itemId":501,"displayName":"esercizi.pdf","shareDt":"2024-02-02"},
					{"contentId":502,"itemName":"slides.pptx"},
					{"itemId":"","contentId":503,"contentName":"link"},
					{"displayName":"keyless"}
				]}
			]},
			{"teacherFirstName":"Luca","teacherLastName":"Verdi","folders":[
				{"folderName":"Letture","contents":[{"contentId":600,"contentName":"capitolo 1","shareDT":"2024-01-20"}]}
			]},
			"bogus teacher"
		]}`,
	}}

	items, err := FetchDidactics(context.Background(), r, "42")
	require.NoError(t, err)
	require.Len(t, items, 5)

	assert.Equal(t, "501", items[0].ID)
	assert.Equal(t, "ROSSI MARIA", items[0].Teacher)
	assert.Equal(t, "Compiti", items[0].Folder)
	assert.Equal(t, "esercizi.pdf", items[0].Title)
	assert.Equal(t, "2024-02-02", items[0].ShareDate)
	assert.Equal(t, "501", items[0].DownloadID())

	assert.Equal(t, "502", items[1].ID)
	assert.Equal(t, "slides.pptx", items[1].Title)
	assert.Equal(t, "2024-02-01", items[1].ShareDate, "falls back to the folder share date")

	assert.Equal(t, "503", items[2].ID)
	assert.Equal(t, "503", items[2].ContentID)
	assert.Empty(t, items[3].ID)

	assert.Equal(t, "600", items[4].ID)
	assert.Equal(t, "Luca Verdi", items[4].Teacher)
	assert.Equal(t, "2024-01-20", items[4].ShareDate)
}

func TestFetchDidactics_AlternateContainerName(t *testing.T) {
	r := &cannedRequester{bodies: map[string]string{
		"/students/42/didactics": `{"didactics":[{"teacherName":"X","folders":[{"folderName":"F","agendaItems":[{"itemId":1}]}]}]}`,
	}}

	items, err := FetchDidactics(context.Background(), r, "42")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1", items[0].ID)
}

func TestDidacticsID_FallbackOnly(t *testing.T) {
	parse := func(raw string) fields {
		item, ok := decodeFields(json.RawMessage(raw))
		require.True(t, ok)
		return item
	}

	assert.Equal(t, "abc-9", didacticsID(parse(`{"contentId":"abc-9"}`)))
	assert.Equal(t, "7", didacticsID(parse(`{"itemId":7,"contentId":8}`)), "primary name wins when both are present")
	assert.Equal(t, "8", didacticsID(parse(`{"itemId":null,"contentId":8}`)))
	assert.Empty(t, didacticsID(parse(`{"name":"x"}`)))
}

func TestFetchNoticeboard(t *testing.T) {
	r := &cannedRequester{bodies: map[string]string{
		"/students/42/noticeboard": `{"items":[
			{"pubId":9001,"cntTitle":"Sciopero","cntAuthor":"Dirigente","cntCategory":"Circolari","evtBegin":"2024-03-01","readStatus":false,"attachments":[{"fileName":"c.pdf"}]},
			{"pubId":9002,"cntTitle":"Gita","cntCategory":"Avvisi","cntValidFrom":"2024-03-02","readStatus":true,"attachments":[]},
			{"pubId":9003,"cntTitle":"Orario","cntHasAttach":1}
		]}`,
	}}

	notices, err := FetchNoticeboard(context.Background(), r, "42")
	require.NoError(t, err)
	require.Len(t, notices, 3)

	assert.Equal(t, "9001", notices[0].ID)
	assert.Equal(t, "Dirigente", notices[0].Author)
	assert.Equal(t, "2024-03-01", notices[0].Begin)
	assert.True(t, notices[0].HasAttachment)
	assert.False(t, notices[0].Read)

	assert.Equal(t, "2024-03-02", notices[1].Begin)
	assert.True(t, notices[1].Read)
	assert.False(t, notices[1].HasAttachment)

	assert.True(t, notices[2].HasAttachment)
}

func TestFlexScalars(t *testing.T) {
	var s struct {
		A flexString `json:"a"`
		B flexString `json:"b"`
		C flexString `json:"c"`
		D flexBool   `json:"d"`
		E flexBool   `json:"e"`
		F flexFloat  `json:"f"`
		G flexFloat  `json:"g"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":12,"b":{"x":1},"c":" hi ","d":"S","e":0,"f":"8.5","g":"n.c."}`), &s))

	assert.Equal(t, flexString("12"), s.A)
	assert.Equal(t, flexString(""), s.B)
	assert.Equal(t, flexString("hi"), s.C)
	assert.True(t, bool(s.D))
	assert.False(t, bool(s.E))
	assert.Equal(t, flexFloat{Value: 8.5, Valid: true}, s.F)
	assert.False(t, s.G.Valid)
}
