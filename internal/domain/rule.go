package domain

import (
	"fmt"
)

// MaxOccurrenceCount bounds how many dates a single rule may produce (about ten years of
// weekly sessions).
const MaxOccurrenceCount = 520

type Pattern string

const (
	PatternWeekly   Pattern = "weekly"
	PatternBiweekly Pattern = "biweekly"
	PatternMonthly  Pattern = "monthly"
	// PatternSingle marks a one-off session; committing with it books standalone
	// appointments.
	PatternSingle Pattern = "single"
)

func (p Pattern) valid() bool {
	switch p {
	case PatternWeekly, PatternBiweekly, PatternMonthly, PatternSingle:
		return true
	}
	return false
}

type EndKind string

const (
	EndOnDate     EndKind = "onDate"
	EndAfterCount EndKind = "afterCount"
	EndIndefinite EndKind = "indefinite"
)

// EndCondition is a tagged union; only the field matching Kind is meaningful.
type EndCondition struct {
	Kind  EndKind `json:"kind"`
	Date  Date    `json:"date,omitzero"`
	Count int     `json:"count,omitempty"`
}

func OnDate(d Date) EndCondition    { return EndCondition{Kind: EndOnDate, Date: d} }
func AfterCount(n int) EndCondition { return EndCondition{Kind: EndAfterCount, Count: n} }
func Indefinite() EndCondition      { return EndCondition{Kind: EndIndefinite} }

func (e EndCondition) String() string {
	switch e.Kind {
	case EndOnDate:
		return fmt.Sprintf("onDate(%s)", e.Date)
	case EndAfterCount:
		return fmt.Sprintf("afterCount(%d)", e.Count)
	default:
		return string(e.Kind)
	}
}

type RecurrenceRule struct {
	Pattern Pattern      `json:"pattern"`
	End     EndCondition `json:"end"`
}

// Single reports whether the rule books one session only.
func (r RecurrenceRule) Single() bool {
	return r.Pattern == PatternSingle
}

// Bounded reports whether the rule produces a finite number of dates.
func (r RecurrenceRule) Bounded() bool {
	return r.Single() || r.End.Kind != EndIndefinite
}

// Validate checks the rule against the anchor it will be expanded from.
func (r RecurrenceRule) Validate(anchor Date) error {
	if anchor.IsZero() {
		return invalidRule(anchor, r, "anchor date is required")
	}
	if !r.Pattern.valid() {
		return invalidRule(anchor, r, fmt.Sprintf("unsupported pattern %q", r.Pattern))
	}
	if r.Single() {
		return nil
	}

	switch r.End.Kind {
	case EndOnDate:
		if r.End.Date.IsZero() {
			return invalidRule(anchor, r, "end date is required")
		}
		if r.End.Date.Before(anchor) {
			return invalidRule(anchor, r, "end date is before the anchor date")
		}
		if r.End.Date.After(stepDate(anchor, r.Pattern, MaxOccurrenceCount-1)) {
			return invalidRule(anchor, r, fmt.Sprintf("end date produces more than %d occurrences", MaxOccurrenceCount))
		}
	case EndAfterCount:
		if r.End.Count < 1 {
			return invalidRule(anchor, r, "count must be at least 1")
		}
		if r.End.Count > MaxOccurrenceCount {
			return invalidRule(anchor, r, fmt.Sprintf("count must be at most %d", MaxOccurrenceCount))
		}
	case EndIndefinite:
	default:
		return invalidRule(anchor, r, fmt.Sprintf("unsupported end condition %q", r.End.Kind))
	}
	return nil
}
