package ical

import (
	"time"

	"github.com/teambition/rrule-go"

	"clinicsched/backend/internal/domain"
)

// ruleOption translates rule into RFC 5545 terms for a series starting at dtstart. ok is
// false for a single session, which has no recurrence.
//
// A monthly series anchored after the 28th clamps to the last day of shorter months,
// which RRULE expresses as the last of BYMONTHDAY=28..d.
func ruleOption(rule domain.RecurrenceRule, dtstart time.Time) (opt rrule.ROption, ok bool) {
	switch rule.Pattern {
	case domain.PatternWeekly:
		opt = rrule.ROption{Freq: rrule.WEEKLY, Interval: 1}
	case domain.PatternBiweekly:
		opt = rrule.ROption{Freq: rrule.WEEKLY, Interval: 2}
	case domain.PatternMonthly:
		opt = rrule.ROption{Freq: rrule.MONTHLY, Interval: 1}
		day := dtstart.Day()
		if day <= 28 {
			opt.Bymonthday = []int{day}
		} else {
			for d := 28; d <= day; d++ {
				opt.Bymonthday = append(opt.Bymonthday, d)
			}
			opt.Bysetpos = []int{-1}
		}
	default:
		return rrule.ROption{}, false
	}

	switch rule.End.Kind {
	case domain.EndAfterCount:
		opt.Count = rule.End.Count
	case domain.EndOnDate:
		// UNTIL is inclusive and must be UTC when DTSTART carries a zone.
		until := rule.End.Date.In(domain.TimeOfDay{Hour: dtstart.Hour(), Minute: dtstart.Minute()}, dtstart.Location())
		opt.Until = until.UTC()
	}
	return opt, true
}

// RRule returns the RRULE value (without the "RRULE:" prefix) of rule for a series
// starting at dtstart.
func RRule(rule domain.RecurrenceRule, dtstart time.Time) (string, bool) {
	opt, ok := ruleOption(rule, dtstart)
	if !ok {
		return "", false
	}
	return opt.RRuleString(), true
}
