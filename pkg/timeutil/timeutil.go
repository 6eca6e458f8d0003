// Package timeutil provides timezone utilities for the Europe/Rome timezone
// the school portal works in, plus parsing of the date layouts it emits.
package timeutil

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // Europe/Rome with its DST rules on hosts without a zoneinfo tree
)

// RomeTZ is the Europe/Rome timezone.
var RomeTZ = mustLoad("Europe/Rome")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("timeutil: load %s: %v", name, err))
	}
	return loc
}

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatCompactDate is the date format used in portal URLs (YYYYMMDD).
	FormatCompactDate = "20060102"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
	// FormatItalianDate is the Italian date format (DD/MM/YYYY).
	FormatItalianDate = "02/01/2006"
)

// dateTimeLayouts lists the layouts the portal has been seen to use for
// timestamps, most common first.
var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	FormatDate,
}

// Now returns the current time in Rome timezone.
func Now() time.Time {
	return time.Now().In(RomeTZ)
}

// ToRome converts a time to Rome timezone.
func ToRome(t time.Time) time.Time {
	return t.In(RomeTZ)
}

// StartOfDay returns the start of the day (00:00:00) in Rome timezone.
func StartOfDay(t time.Time) time.Time {
	r := ToRome(t)
	return time.Date(r.Year(), r.Month(), r.Day(), 0, 0, 0, 0, RomeTZ)
}

// Window returns the date window [start of today, start of today + days].
func Window(now time.Time, days int) (time.Time, time.Time) {
	from := StartOfDay(now)
	return from, from.AddDate(0, 0, days)
}

// FormatCompact formats t as YYYYMMDD in Rome timezone.
func FormatCompact(t time.Time) string {
	return ToRome(t).Format(FormatCompactDate)
}

// FormatDateStr formats a time as a date string (YYYY-MM-DD) in Rome timezone.
func FormatDateStr(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return ToRome(t).Format(FormatDate)
}

// FormatDateTimeStr formats a time as datetime string in Rome timezone.
func FormatDateTimeStr(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return ToRome(t).Format(FormatDateTime)
}

// ParseDate parses a portal date (YYYY-MM-DD) in Rome timezone.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(FormatDate, strings.TrimSpace(value), RomeTZ)
}

// ParseDateTime parses a portal timestamp, trying every known layout.
// Values without an offset are read in Rome timezone.
func ParseDateTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("timeutil: empty timestamp")
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, RomeTZ); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timeutil: unrecognized timestamp %q", value)
}
