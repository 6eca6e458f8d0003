package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/shared"
)

type execCall struct {
	sql  string
	args []interface{}
}

type fakeQuerier struct {
	calls   []execCall
	execErr error
	tag     pgconn.CommandTag
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return f.tag, f.execErr
}

func (f *fakeQuerier) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

type fakeRow struct {
	values []interface{}
}

func (r fakeRow) Scan(dest ...interface{}) error {
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = r.values[i].(string)
		case *time.Time:
			*v = r.values[i].(time.Time)
		case *[]byte:
			*v = r.values[i].([]byte)
		default:
			if s, ok := d.(interface{ Scan(interface{}) error }); ok {
				if err := s.Scan(r.values[i]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func TestNotificationJournal_Record(t *testing.T) {
	db := &fakeQuerier{}
	j := NewNotificationJournal(db, nil)
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	event := shared.NewNoticeboardEvent{
		BaseEvent: shared.NewBaseEventAt(shared.EventNewNoticeboard, "family", at),
		Title:     "Sciopero",
		Author:    "Dirigente",
	}

	require.NoError(t, j.Record(context.Background(), event))

	require.Len(t, db.calls, 1)
	args := db.calls[0].args
	require.Len(t, args, 5)
	assert.Equal(t, "family", args[1])
	assert.Equal(t, "classeviva_new_noticeboard", args[2])
	assert.True(t, at.Equal(args[3].(time.Time)))
	assert.Equal(t, time.UTC, args[3].(time.Time).Location())

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(args[4].([]byte), &payload))
	assert.Equal(t, "Sciopero", payload["title"])
}

func TestNotificationJournal_HandlerReportsFailure(t *testing.T) {
	db := &fakeQuerier{execErr: errors.New("connection refused")}
	handler := NewNotificationJournal(db, nil).Handler()

	err := handler(shared.AgendaEventNotification{
		BaseEvent: shared.NewBaseEvent(shared.EventNewAgenda, "family"),
	})

	assert.ErrorContains(t, err, "connection refused")
}

func TestNotificationJournal_Prune(t *testing.T) {
	db := &fakeQuerier{tag: pgconn.NewCommandTag("DELETE 3")}
	j := NewNotificationJournal(db, nil)

	n, err := j.Prune(context.Background(), time.Now())

	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestScanJournalEntry(t *testing.T) {
	at := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	row := fakeRow{values: []interface{}{
		"6f1c2a8e-4b0d-4a53-9f3e-2d7c1b9e8a10",
		"family",
		"classeviva_new_agenda",
		at,
		[]byte(`{"subject":"MATEMATICA"}`),
	}}

	entry, err := scanJournalEntry(row)

	require.NoError(t, err)
	assert.Equal(t, "6f1c2a8e-4b0d-4a53-9f3e-2d7c1b9e8a10", entry.ID)
	assert.Equal(t, shared.EventNewAgenda, entry.EventType)
	assert.Equal(t, "MATEMATICA", entry.Payload["subject"])
}

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "secret"

	assert.Contains(t, cfg.DSN(), "host=localhost port=5432 dbname=classeviva")

	cfg.URL = "postgres://u:p@db:5432/x?sslmode=disable"
	assert.Equal(t, cfg.URL, cfg.DSN())

	pool, err := cfg.poolConfig()
	require.NoError(t, err)
	assert.EqualValues(t, 4, pool.MaxConns)
}

func TestMigrations_Ordered(t *testing.T) {
	migrations := Migrations()
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.SQL)
	}
}

func TestPending_SkipsApplied(t *testing.T) {
	all := []Migration{{Version: 1, Name: "a"}, {Version: 2, Name: "b"}, {Version: 3, Name: "c"}}

	got := pending(all, map[int]bool{1: true, 3: true})

	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Name)
	assert.Empty(t, pending(all, map[int]bool{1: true, 2: true, 3: true}))
}

func TestPoolHealth_Err(t *testing.T) {
	assert.NoError(t, PoolHealth{AcquiredConns: 1, MaxConns: 4}.Err())

	err := PoolHealth{PingErr: errors.New("connection refused"), MaxConns: 4}.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	err = PoolHealth{AcquiredConns: 4, TotalConns: 4, MaxConns: 4}.Err()
	assert.ErrorIs(t, err, ErrPoolSaturated)
}

func TestConnection_ClosedRejectsCalls(t *testing.T) {
	c := &Connection{}
	c.closed.Store(true)

	assert.ErrorIs(t, c.Ping(context.Background()), ErrConnectionClosed)
	assert.ErrorIs(t, c.Check(context.Background()), ErrConnectionClosed)
	_, err := c.Exec(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrConnectionClosed)
}
