package page

import (
	"strconv"
	"strings"
	"time"
)

const (
	layoutFull  = "15:04 02.01.2006"
	layoutNoYr  = "15:04 02.01"
	layoutClock = "15:04"
)

// Coerce converts raw into kind. The bool is false when raw does not fit.
// Times are resolved in now's location.
func Coerce(kind TextKind, raw string, now time.Time, separator string) (TextInput, bool) {
	in := TextInput{Raw: raw, Kind: kind}
	text := strings.TrimSpace(raw)
	switch kind {
	case TextTime:
		t, ok := ParseTime(text, now)
		in.Time = t
		return in, ok
	case TextInt:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return in, false
		}
		in.Int = n
		return in, true
	case TextList:
		items := SplitList(text, separator)
		if len(items) <= 1 {
			return in, false
		}
		in.List = items
		return in, true
	case TextString:
		return in, text != ""
	default:
		return in, false
	}
}

// SplitList splits on sep, trims items and drops empty ones.
func SplitList(text, sep string) []string {
	if sep == "" {
		sep = DefaultListSeparator
	}
	var items []string
	for _, part := range strings.Split(text, sep) {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

// ParseTime accepts "HH:MM DD.MM.YYYY", "HH:MM DD.MM" and "HH:MM". Missing
// parts come from now; a resulting instant already in the past rolls forward
// one year (no year given) or one day (clock only). A day that does not exist
// in the resolved year is rejected.
func ParseTime(text string, now time.Time) (time.Time, bool) {
	loc := now.Location()
	if t, err := time.ParseInLocation(layoutFull, text, loc); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(layoutNoYr, text, loc); err == nil {
		month, day := t.Month(), t.Day()
		year := now.Year()
		if time.Date(year, month, day, t.Hour(), t.Minute(), 0, 0, loc).Before(now) {
			year++
		}
		t = time.Date(year, month, day, t.Hour(), t.Minute(), 0, 0, loc)
		// 29.02 outside a leap year would normalize into March.
		if t.Month() != month || t.Day() != day {
			return time.Time{}, false
		}
		return t, true
	}
	if t, err := time.ParseInLocation(layoutClock, text, loc); err == nil {
		t = time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		if t.Before(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, true
	}
	return time.Time{}, false
}
