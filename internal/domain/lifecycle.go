package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// StatusChange is one occurrence row the store must update.
type StatusChange struct {
	OccurrenceID  uuid.UUID `json:"occurrence_id"`
	SequenceIndex int       `json:"sequence_index"`
	Date          Date      `json:"date"`
	From          Status    `json:"from"`
	To            Status    `json:"to"`
}

// Mutation is the result of a lifecycle operation: the complete updated series plus the
// rows that changed. The series passed to the operation is never modified.
type Mutation struct {
	Series      Series         `json:"series"`
	Changes     []StatusChange `json:"changes"`
	RuleChanged bool           `json:"rule_changed"`
}

// transition moves every occurrence selected by match to status to, skipping those
// whose current status does not allow it.
func transition(s Series, to Status, match func(Occurrence) bool) Mutation {
	out := s.Clone()
	var changes []StatusChange
	for i, o := range out.Occurrences {
		if !match(o) || !o.Status.CanTransition(to) {
			continue
		}
		changes = append(changes, StatusChange{
			OccurrenceID:  o.ID,
			SequenceIndex: o.SequenceIndex,
			Date:          o.Date,
			From:          o.Status,
			To:            to,
		})
		out.Occurrences[i].Status = to
	}
	return Mutation{Series: out, Changes: changes}
}

func checkRange(op string, start, end Date) error {
	if start.IsZero() || end.IsZero() {
		return &InvalidOperationError{Op: op, Start: start, End: end, Reason: "start and end dates are required"}
	}
	if start.After(end) {
		return &InvalidOperationError{Op: op, Start: start, End: end, Reason: "start date is after end date"}
	}
	return nil
}

// CancelSingle cancels the occurrence on ref only.
func CancelSingle(s Series, ref Date) (Mutation, error) {
	if err := s.validate("cancel single"); err != nil {
		return Mutation{}, err
	}
	return transition(s, StatusCancelled, func(o Occurrence) bool { return o.Date == ref }), nil
}

// CancelFuture cancels every occurrence on or after ref.
func CancelFuture(s Series, ref Date) (Mutation, error) {
	if err := s.validate("cancel future"); err != nil {
		return Mutation{}, err
	}
	return transition(s, StatusCancelled, func(o Occurrence) bool { return !o.Date.Before(ref) }), nil
}

// CancelFutureAsOf is CancelFuture that never reaches before today, so sessions that
// already took place keep their status even when ref lies in the past.
func CancelFutureAsOf(s Series, ref, today Date) (Mutation, error) {
	if ref.Before(today) {
		ref = today
	}
	return CancelFuture(s, ref)
}

// CancelRange cancels every occurrence with start <= date <= end.
func CancelRange(s Series, start, end Date) (Mutation, error) {
	if err := checkRange("cancel range", start, end); err != nil {
		return Mutation{}, err
	}
	if err := s.validate("cancel range"); err != nil {
		return Mutation{}, err
	}
	return transition(s, StatusCancelled, func(o Occurrence) bool { return o.Date.Between(start, end) }), nil
}

// EndRecurrence cancels every occurrence after last and ends the rule on last. A bounded
// rule that already ends earlier keeps its end, so ending a series never lengthens it.
func EndRecurrence(s Series, last Date) (Mutation, error) {
	if last.IsZero() || last.Before(s.AnchorDate) {
		return Mutation{}, &InvalidOperationError{
			Op:     "end recurrence",
			Start:  last,
			Reason: "last date is before the series anchor " + s.AnchorDate.String(),
		}
	}
	if err := s.validate("end recurrence"); err != nil {
		return Mutation{}, err
	}

	m := transition(s, StatusCancelled, func(o Occurrence) bool { return o.Date.After(last) })

	next := s.Rule
	if !s.Rule.Single() && !endsBy(s, last) {
		next = RecurrenceRule{Pattern: s.Rule.Pattern, End: OnDate(last)}
		if err := next.Validate(s.AnchorDate); err != nil {
			return Mutation{}, &InvalidOperationError{
				Op:     "end recurrence",
				Start:  last,
				Reason: fmt.Sprintf("last date is beyond the %d occurrence limit", MaxOccurrenceCount),
			}
		}
	}
	if next != s.Rule {
		m.Series.Rule = next
		m.RuleChanged = true
	}
	return m, nil
}

// endsBy reports whether the series rule already produces no date after last.
func endsBy(s Series, last Date) bool {
	n, err := Count(s.AnchorDate, s.Rule)
	if err != nil || n == 0 {
		return false
	}
	return !stepDate(s.AnchorDate, s.Rule.Pattern, n-1).After(last)
}

// Pause pauses scheduled occurrences with start <= date <= end. Cancelled occurrences
// stay cancelled.
func Pause(s Series, start, end Date) (Mutation, error) {
	if err := checkRange("pause", start, end); err != nil {
		return Mutation{}, err
	}
	if err := s.validate("pause"); err != nil {
		return Mutation{}, err
	}
	return transition(s, StatusPaused, func(o Occurrence) bool { return o.Date.Between(start, end) }), nil
}

// Resume returns paused occurrences with start <= date <= end to scheduled.
func Resume(s Series, start, end Date) (Mutation, error) {
	if err := checkRange("resume", start, end); err != nil {
		return Mutation{}, err
	}
	if err := s.validate("resume"); err != nil {
		return Mutation{}, err
	}
	return transition(s, StatusScheduled, func(o Occurrence) bool { return o.Date.Between(start, end) }), nil
}

// RemainingFrom counts the occurrences of the series from ref to its end, ref included.
// ok is false when the rule is indefinite or ref is not a date of the series.
func RemainingFrom(s Series, ref Date) (n int, ok bool) {
	total, err := Count(s.AnchorDate, s.Rule)
	if err != nil {
		return 0, false
	}
	idx, found := IndexOf(s.AnchorDate, s.Rule, ref)
	if !found {
		return 0, false
	}
	return total - idx, true
}
