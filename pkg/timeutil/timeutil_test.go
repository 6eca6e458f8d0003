package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRomeTZ_FollowsDaylightSaving(t *testing.T) {
	summer := time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC).In(RomeTZ)
	winter := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC).In(RomeTZ)

	name, offset := summer.Zone()
	assert.Equal(t, "CEST", name)
	assert.Equal(t, 2*60*60, offset)
	assert.Equal(t, 12, summer.Hour())

	_, offset = winter.Zone()
	assert.Equal(t, 60*60, offset)
}

func TestWindow(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 30, 0, 0, RomeTZ)

	from, to := Window(now, 30)

	assert.Equal(t, "20240304", FormatCompact(from))
	assert.Equal(t, "20240403", FormatCompact(to))
	assert.Equal(t, 0, from.Hour())
}

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		value string
		want  time.Time
	}{
		{"2024-03-04T08:00:00+01:00", time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)},
		{"2024-03-04T08:00:00+0100", time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)},
		{"2024-03-04", time.Date(2024, 3, 4, 0, 0, 0, 0, RomeTZ)},
	}

	for _, tt := range tests {
		got, err := ParseDateTime(tt.value)
		require.NoError(t, err, tt.value)
		assert.True(t, tt.want.Equal(got), "%s: got %v", tt.value, got)
	}
}

func TestParseDateTime_Invalid(t *testing.T) {
	for _, v := range []string{"", "   ", "not a date", "2024-13-45T99:00:00"} {
		_, err := ParseDateTime(v)
		assert.Error(t, err, v)
	}
}

func TestFormatDateStr_Zero(t *testing.T) {
	assert.Empty(t, FormatDateStr(time.Time{}))
	assert.Empty(t, FormatDateTimeStr(time.Time{}))
}
