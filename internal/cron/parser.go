// Package cron parses the checkpoint cadence: standard 5-field expressions or
// descriptors such as @hourly, evaluated in a configurable timezone.
package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Parse compiles expression for timezone. An empty timezone means UTC.
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("parse cron: empty expression")
	}
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}

// Upcoming returns the next n activation times after after.
func Upcoming(s Schedule, after time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	t := after
	for i := 0; i < n; i++ {
		t = s.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}

// LatestDue returns the last activation in (from, to], if any.
func LatestDue(s Schedule, from, to time.Time) (time.Time, bool) {
	const maxIterations = 10000
	var due time.Time
	t := s.Next(from)
	for i := 0; i < maxIterations && !t.IsZero() && !t.After(to); i++ {
		due = t
		t = s.Next(t)
	}
	return due, !due.IsZero()
}
