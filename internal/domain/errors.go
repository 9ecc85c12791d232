package domain

import (
	"errors"
	"fmt"
)

// ErrUnboundedSeries is returned when a full materialization is requested for a rule
// without an end condition.
var ErrUnboundedSeries = errors.New("recurrence rule has no end; request a bounded number of occurrences")

// InvalidRuleError reports a malformed RecurrenceRule for a given anchor.
type InvalidRuleError struct {
	Anchor Date
	Rule   RecurrenceRule
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid recurrence rule (pattern=%s, end=%s, anchor=%s): %s",
		e.Rule.Pattern, e.Rule.End, e.Anchor, e.Reason)
}

func invalidRule(anchor Date, rule RecurrenceRule, reason string) error {
	return &InvalidRuleError{Anchor: anchor, Rule: rule, Reason: reason}
}

// InvalidOperationError reports malformed lifecycle-operation arguments. No state is
// changed when it is returned.
type InvalidOperationError struct {
	Op     string
	Start  Date
	End    Date
	Reason string
}

func (e *InvalidOperationError) Error() string {
	switch {
	case !e.Start.IsZero() && !e.End.IsZero():
		return fmt.Sprintf("%s [%s, %s]: %s", e.Op, e.Start, e.End, e.Reason)
	case !e.Start.IsZero():
		return fmt.Sprintf("%s %s: %s", e.Op, e.Start, e.Reason)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
}

// SlotConflictError is returned per slot when the booking store already holds an active
// occurrence for the same therapist, date and time.
type SlotConflictError struct {
	Key SlotKey
	// Date is the colliding occurrence date. For a series it may be later than the
	// anchor.
	Date Date
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("slot %s is no longer available: therapist %s already booked on %s at %s",
		e.Key, e.Key.TherapistID, e.Date, e.Key.Time)
}

// EmptySelectionError is returned when a commit is attempted with nothing selected.
type EmptySelectionError struct{}

func (e *EmptySelectionError) Error() string {
	return "no slots selected"
}
