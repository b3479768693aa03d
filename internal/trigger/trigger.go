package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const allDays uint8 = 1<<7 - 1

// Trigger is a recurring minute/hour with a set of active weekdays (0 = Sunday).
// Values are immutable; the zero value matches nothing.
type Trigger struct {
	minute int
	hour   int
	days   uint8
}

type ParseError struct {
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid trigger %q: %s", e.Text, e.Reason)
}

func New(minute, hour int, weekdays ...time.Weekday) (Trigger, error) {
	if minute < 0 || minute > 59 {
		return Trigger{}, fmt.Errorf("minute %d out of range", minute)
	}
	if hour < 0 || hour > 23 {
		return Trigger{}, fmt.Errorf("hour %d out of range", hour)
	}
	var days uint8
	for _, d := range weekdays {
		if d < time.Sunday || d > time.Saturday {
			return Trigger{}, fmt.Errorf("weekday %d out of range", d)
		}
		days |= 1 << uint(d)
	}
	if days == 0 {
		days = allDays
	}
	return Trigger{minute: minute, hour: hour, days: days}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(text string) Trigger {
	t, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return t
}

// Parse reads the compact "M H * * D" form. Day-of-month and month must be "*".
func Parse(text string) (Trigger, error) {
	fail := func(format string, args ...any) (Trigger, error) {
		return Trigger{}, &ParseError{Text: text, Reason: fmt.Sprintf(format, args...)}
	}

	fields := strings.Fields(text)
	if len(fields) != 5 {
		return fail("expected 5 fields, got %d", len(fields))
	}

	minute, err := strconv.Atoi(fields[0])
	if err != nil || minute < 0 || minute > 59 {
		return fail("minute %q must be a number 0-59", fields[0])
	}
	hour, err := strconv.Atoi(fields[1])
	if err != nil || hour < 0 || hour > 23 {
		return fail("hour %q must be a number 0-23", fields[1])
	}
	if fields[2] != "*" || fields[3] != "*" {
		return fail("day-of-month and month must be \"*\"")
	}

	days, reason := parseDays(fields[4])
	if reason != "" {
		return fail("%s", reason)
	}

	return Trigger{minute: minute, hour: hour, days: days}, nil
}

func parseDays(field string) (uint8, string) {
	if field == "*" || field == "*/1" {
		return allDays, ""
	}

	var days uint8
	for _, tok := range strings.Split(field, ",") {
		if tok == "" {
			return 0, "empty day token"
		}
		lo, hi := tok, tok
		if a, b, ok := strings.Cut(tok, "-"); ok {
			lo, hi = a, b
		}
		from, err := strconv.Atoi(lo)
		if err != nil || from < 0 || from > 6 {
			return 0, fmt.Sprintf("day %q must be a number 0-6", lo)
		}
		to, err := strconv.Atoi(hi)
		if err != nil || to < 0 || to > 6 {
			return 0, fmt.Sprintf("day %q must be a number 0-6", hi)
		}
		if from > to {
			return 0, fmt.Sprintf("day range %q is reversed", tok)
		}
		for d := from; d <= to; d++ {
			days |= 1 << uint(d)
		}
	}
	return days, ""
}

func (t Trigger) Minute() int { return t.minute }
func (t Trigger) Hour() int   { return t.hour }

func (t Trigger) Everyday() bool { return t.days == allDays }

func (t Trigger) HasDay(d time.Weekday) bool {
	return d >= time.Sunday && d <= time.Saturday && t.days&(1<<uint(d)) != 0
}

// Weekdays returns the active days in ascending order.
func (t Trigger) Weekdays() []time.Weekday {
	var out []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if t.HasDay(d) {
			out = append(out, d)
		}
	}
	return out
}

// Matches reports whether now falls in the trigger's minute on an active day.
func (t Trigger) Matches(now time.Time) bool {
	return t.HasDay(now.Weekday()) && now.Hour() == t.hour && now.Minute() == t.minute
}

// Overlaps is the conflict predicate: same start time and at least one shared day.
// Duration is deliberately not considered.
func (t Trigger) Overlaps(other Trigger) bool {
	return t.hour == other.hour && t.minute == other.minute && t.days&other.days != 0
}

// Next returns the first matching minute strictly after at, in at's location.
// It satisfies cron.Schedule.
func (t Trigger) Next(at time.Time) time.Time {
	if t.days == 0 {
		return time.Time{}
	}
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	for i := 0; i <= 7; i++ {
		d := day.AddDate(0, 0, i)
		if !t.HasDay(d.Weekday()) {
			continue
		}
		candidate := time.Date(d.Year(), d.Month(), d.Day(), t.hour, t.minute, 0, 0, at.Location())
		if candidate.After(at) {
			return candidate
		}
	}
	return time.Time{}
}

// String renders the canonical "M H * * D" form.
func (t Trigger) String() string {
	dow := "*"
	if !t.Everyday() {
		parts := make([]string, 0, 7)
		for _, d := range t.Weekdays() {
			parts = append(parts, strconv.Itoa(int(d)))
		}
		dow = strings.Join(parts, ",")
	}
	return fmt.Sprintf("%d %d * * %s", t.minute, t.hour, dow)
}
