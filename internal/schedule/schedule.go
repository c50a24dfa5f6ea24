// Package schedule converts between the wall-clock date/time users type
// into the portal and the canonical UTC instants the sync core operates on.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultEventDuration is the fixed window length for a synced event.
// Task data carries no duration, so nothing is inferred from it.
const DefaultEventDuration = 60 * time.Minute

const dateLayout = "2006-01-02"

// clockLayouts are tried in order against the normalized input. Users type
// times in several shapes; the first layout that parses wins.
var clockLayouts = []string{
	"15:04",
	"3:04 PM",
	"3 PM",
	"3:04PM",
	"3PM",
}

var ErrInvalidInput = errors.New("invalid date or time input")

// ValidationError reports a date, time, or timezone value that could not be
// interpreted. Callers must surface it rather than coerce the input.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// DueInstant converts a local calendar date plus an optional wall-clock time
// in the named IANA timezone into a single UTC instant.
//
// No date means there is nothing to schedule: the result is nil. A date
// without a time is a date-only task; it also yields nil because all-day
// semantics are out of scope and date-only tasks are not calendar-eligible.
func DueInstant(localDate, localTime, timezone string) (*time.Time, error) {
	localDate = strings.TrimSpace(localDate)
	if localDate == "" {
		return nil, nil
	}
	loc, err := loadLocation(timezone)
	if err != nil {
		return nil, err
	}
	day, err := time.ParseInLocation(dateLayout, localDate, loc)
	if err != nil {
		return nil, &ValidationError{Field: "date", Value: localDate}
	}

	localTime = strings.TrimSpace(localTime)
	if localTime == "" {
		return nil, nil
	}
	clock, err := parseClock(localTime, loc)
	if err != nil {
		return nil, err
	}

	instant := time.Date(day.Year(), day.Month(), day.Day(),
		clock.Hour(), clock.Minute(), 0, 0, loc).UTC()
	return &instant, nil
}

// Local is the inverse of DueInstant for display: it renders a UTC instant
// as the date and 24-hour clock strings in the given timezone. Round-trips
// are lossless to minute precision.
func Local(instant time.Time, timezone string) (string, string, error) {
	loc, err := loadLocation(timezone)
	if err != nil {
		return "", "", err
	}
	local := instant.In(loc)
	return local.Format(dateLayout), local.Format("15:04"), nil
}

// EventWindow produces the start and end instants for the calendar event.
// A non-positive duration falls back to DefaultEventDuration.
func EventWindow(instant time.Time, duration time.Duration) (time.Time, time.Time) {
	if duration <= 0 {
		duration = DefaultEventDuration
	}
	return instant, instant.Add(duration)
}

func loadLocation(timezone string) (*time.Location, error) {
	timezone = strings.TrimSpace(timezone)
	if timezone == "" {
		return nil, &ValidationError{Field: "timezone", Value: timezone}
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, &ValidationError{Field: "timezone", Value: timezone}
	}
	return loc, nil
}

func parseClock(value string, loc *time.Location) (time.Time, error) {
	// Meridiem matching in time.Parse is case-sensitive; normalize once
	// instead of doubling the layout list.
	normalized := strings.ToUpper(strings.Join(strings.Fields(value), " "))
	for _, layout := range clockLayouts {
		clock, err := time.ParseInLocation(layout, normalized, loc)
		if err == nil {
			return clock, nil
		}
	}
	return time.Time{}, &ValidationError{Field: "time", Value: value}
}
