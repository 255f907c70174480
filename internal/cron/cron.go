// Package cron implements a five-field cron expression evaluator with
// minute granularity: minute, hour, day-of-month, month, day-of-week.
//
// Supported syntax per field: "*", single values, ranges ("1-5"), lists
// ("1,15,30"), and steps ("*/15", "10-50/10"). Day-of-week accepts 0-7
// with both 0 and 7 meaning Sunday. Standard cron semantics apply when
// both day fields are restricted: the expression matches if either the
// day-of-month or the day-of-week field matches.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldSpec bounds one of the five cron fields.
type fieldSpec struct {
	name string
	min  int
	max  int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// Schedule is a parsed cron expression. Each field is a bitmask of the
// permitted values; bit n set means value n matches.
type Schedule struct {
	minute, hour, dom, month, dow uint64

	// domStar / dowStar record whether the day fields were "*" in the
	// source expression, which changes the match rule (see Matches).
	domStar, dowStar bool
}

// Parse parses a five-field cron expression.
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d in %q", len(fields), expr)
	}

	var masks [5]uint64
	for i, f := range fields {
		m, err := parseField(f, fieldSpecs[i])
		if err != nil {
			return nil, err
		}
		masks[i] = m
	}

	s := &Schedule{
		minute:  masks[0],
		hour:    masks[1],
		dom:     masks[2],
		month:   masks[3],
		dow:     masks[4],
		domStar: fields[2] == "*",
		dowStar: fields[4] == "*",
	}

	// Normalise Sunday: bit 7 implies bit 0 and vice versa.
	if s.dow&(1<<7) != 0 {
		s.dow |= 1
	}
	if s.dow&1 != 0 {
		s.dow |= 1 << 7
	}
	return s, nil
}

// parseField parses one comma-separated field into a bitmask.
func parseField(field string, spec fieldSpec) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(field, ",") {
		m, err := parsePart(part, spec)
		if err != nil {
			return 0, err
		}
		mask |= m
	}
	if mask == 0 {
		return 0, fmt.Errorf("cron: empty %s field %q", spec.name, field)
	}
	return mask, nil
}

// parsePart parses a single value, range, or step expression.
func parsePart(part string, spec fieldSpec) (uint64, error) {
	step := 1
	if idx := strings.IndexByte(part, '/'); idx >= 0 {
		n, err := strconv.Atoi(part[idx+1:])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("cron: invalid step in %s field %q", spec.name, part)
		}
		step = n
		part = part[:idx]
	}

	lo, hi := spec.min, spec.max
	switch {
	case part == "*":
		// full range
	case strings.Contains(part, "-"):
		bounds := strings.SplitN(part, "-", 2)
		var err1, err2 error
		lo, err1 = strconv.Atoi(bounds[0])
		hi, err2 = strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil {
			return 0, fmt.Errorf("cron: invalid range in %s field %q", spec.name, part)
		}
	default:
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("cron: invalid value in %s field %q", spec.name, part)
		}
		lo, hi = n, n
	}

	if lo < spec.min || hi > spec.max || lo > hi {
		return 0, fmt.Errorf("cron: %s value out of range [%d,%d] in %q",
			spec.name, spec.min, spec.max, part)
	}

	var mask uint64
	for v := lo; v <= hi; v += step {
		mask |= 1 << uint(v)
	}
	return mask, nil
}

// Matches reports whether the schedule fires at the given time, compared at
// minute granularity (seconds are ignored).
func (s *Schedule) Matches(t time.Time) bool {
	if s.minute&(1<<uint(t.Minute())) == 0 {
		return false
	}
	if s.hour&(1<<uint(t.Hour())) == 0 {
		return false
	}
	if s.month&(1<<uint(int(t.Month()))) == 0 {
		return false
	}

	domMatch := s.dom&(1<<uint(t.Day())) != 0
	dowMatch := s.dow&(1<<uint(int(t.Weekday()))) != 0

	// Classic cron rule: when both day fields are restricted the expression
	// matches on either; otherwise both must match (a "*" always matches).
	if !s.domStar && !s.dowStar {
		return domMatch || dowMatch
	}
	return domMatch && dowMatch
}

// ShouldRun evaluates expr against now. It exists for callers that hold raw
// expressions (the schedule sweep) and do not cache parsed schedules.
func ShouldRun(expr string, now time.Time) (bool, error) {
	s, err := Parse(expr)
	if err != nil {
		return false, err
	}
	return s.Matches(now), nil
}
