package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/hfql/internal/domain"
)

// PeriodCustom marks a period given by explicit bounds.
const PeriodCustom = "custom"

var periodDays = map[string]int{
	"1 month": 30,
	"2 month": 60,
	"3 month": 90,
	"6 month": 180,
	"year":    365,
}

// NewPeriodFilter resolves a named period relative to now.
func NewPeriodFilter(period string, now time.Time) (PeriodFilter, error) {
	name := strings.ToLower(strings.TrimSpace(period))
	switch name {
	case "today":
		return PeriodFilter{PeriodType: name, Start: startOfDay(now), End: now}, nil
	case "this week":
		// weeks start on Monday
		offset := (int(now.Weekday()) + 6) % 7
		return PeriodFilter{PeriodType: name, Start: startOfDay(now).AddDate(0, 0, -offset), End: now}, nil
	}
	if days, ok := periodDays[name]; ok {
		return PeriodFilter{PeriodType: name, Start: now.AddDate(0, 0, -days), End: now}, nil
	}
	return PeriodFilter{}, &ValidationError{Path: "period", Value: period, Reason: fmt.Sprintf("unknown period %q", period)}
}

// NewRangePeriod builds a custom period from two timestamps.
func NewRangePeriod(start, end string) (PeriodFilter, error) {
	from, err := domain.ParseTimestamp(start)
	if err != nil {
		return PeriodFilter{}, &ValidationError{Path: "period.start", Value: start, Reason: fmt.Sprintf("invalid timestamp %q", start)}
	}
	to, err := domain.ParseTimestamp(end)
	if err != nil {
		return PeriodFilter{}, &ValidationError{Path: "period.end", Value: end, Reason: fmt.Sprintf("invalid timestamp %q", end)}
	}
	if to.Before(from) {
		return PeriodFilter{}, &ValidationError{Path: "period", Value: []string{start, end}, Reason: "end precedes start"}
	}
	return PeriodFilter{PeriodType: PeriodCustom, Start: from, End: to}, nil
}

// PeriodNames lists the recognized named periods.
func PeriodNames() []string {
	return []string{"today", "this week", "1 month", "2 month", "3 month", "6 month", "year"}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
