// Package move defines the scheduled motor command (Entry), its validation,
// and the line-delimited JSON command sent to the controller.
//
// Every value coming from the UI shell is an untrusted string; the Parse*
// helpers are the only way to turn them into an Entry.
package move

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Direction is the rotation direction of a move.
type Direction string

const (
	Clockwise        Direction = "clockwise"
	CounterClockwise Direction = "counterclockwise"
)

func (d Direction) Valid() bool { return d == Clockwise || d == CounterClockwise }

func (d Direction) String() string { return string(d) }

// Entry is one scheduled move. It is immutable once added to the store.
type Entry struct {
	TimeOfDay string    `json:"time"` // "HH:MM", 24h
	Direction Direction `json:"direction"`
	Steps     int       `json:"steps"`
}

// Clock returns hour and minute. Only meaningful for validated entries.
func (e Entry) Clock() (hour, minute int) {
	hour, minute, _ = splitHHMM(e.TimeOfDay)
	return hour, minute
}

// String renders the entry the way the schedule list shows it.
func (e Entry) String() string {
	return fmt.Sprintf("Time: %s, Direction: %s, Steps: %d", e.TimeOfDay, e.Direction, e.Steps)
}

// Validate checks an already constructed entry.
func (e Entry) Validate() error {
	if _, _, err := splitHHMM(e.TimeOfDay); err != nil {
		return err
	}
	if !e.Direction.Valid() {
		return &ValidationError{Field: "direction", Value: string(e.Direction), Reason: "must be clockwise or counterclockwise"}
	}
	if e.Steps <= 0 {
		return &ValidationError{Field: "steps", Value: strconv.Itoa(e.Steps), Reason: "must be a positive integer"}
	}
	return nil
}

// ErrInvalid is matched by every ValidationError via errors.Is.
var ErrInvalid = errors.New("invalid input")

// ValidationError reports a malformed user value. The store is never
// modified when one is returned.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// Strict 24h HH:MM, two digits each.
var reHHMM = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

func splitHHMM(s string) (hour, minute int, err error) {
	m := reHHMM.FindStringSubmatch(s)
	if len(m) != 3 {
		return 0, 0, &ValidationError{Field: "time", Value: s, Reason: "expected HH:MM (00:00-23:59)"}
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	return hour, minute, nil
}

// ParseTimeOfDay validates a user supplied "HH:MM" string.
// Surrounding whitespace is ignored; anything else must match exactly.
func ParseTimeOfDay(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if _, _, err := splitHHMM(s); err != nil {
		return "", err
	}
	return s, nil
}

// ParseDirection accepts the two enum values (and the cw/ccw shorthands),
// case-insensitively.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "clockwise", "cw":
		return Clockwise, nil
	case "counterclockwise", "counter-clockwise", "ccw":
		return CounterClockwise, nil
	}
	return "", &ValidationError{Field: "direction", Value: raw, Reason: "must be clockwise or counterclockwise"}
}

// ParseSteps parses a base-10 positive step count. A leading "+" is allowed.
func ParseSteps(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ValidationError{Field: "steps", Value: raw, Reason: "must be a base-10 integer"}
	}
	if n <= 0 {
		return 0, &ValidationError{Field: "steps", Value: raw, Reason: "must be a positive integer"}
	}
	return n, nil
}

// Parse builds an Entry from the three raw UI fields. The first invalid
// field wins.
func Parse(rawTime, rawDirection, rawSteps string) (Entry, error) {
	tod, err := ParseTimeOfDay(rawTime)
	if err != nil {
		return Entry{}, err
	}
	dir, err := ParseDirection(rawDirection)
	if err != nil {
		return Entry{}, err
	}
	steps, err := ParseSteps(rawSteps)
	if err != nil {
		return Entry{}, err
	}
	return Entry{TimeOfDay: tod, Direction: dir, Steps: steps}, nil
}
