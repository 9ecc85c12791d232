package domain

import (
	"iter"
)

// stepDate returns the index-th date of pattern anchored at anchor. Every date is
// computed from the anchor, so a monthly series anchored on the 31st returns to the 31st
// after passing through shorter months.
func stepDate(anchor Date, pattern Pattern, index int) Date {
	switch pattern {
	case PatternWeekly:
		return anchor.AddDays(7 * index)
	case PatternBiweekly:
		return anchor.AddDays(14 * index)
	case PatternMonthly:
		return addMonthsClamped(anchor, index)
	default:
		return anchor
	}
}

// limit returns the total number of dates a valid rule produces, or -1 when unbounded.
func (r RecurrenceRule) limit(anchor Date) int {
	if r.Single() {
		return 1
	}
	switch r.End.Kind {
	case EndAfterCount:
		return r.End.Count
	case EndOnDate:
		n := 0
		for n < MaxOccurrenceCount && !stepDate(anchor, r.Pattern, n).After(r.End.Date) {
			n++
		}
		return n
	default:
		return -1
	}
}

// Cursor walks the dates of a rule one at a time. It is not safe for concurrent use.
type Cursor struct {
	anchor Date
	rule   RecurrenceRule
	limit  int
	next   int
}

// NewCursor validates rule against anchor and positions the cursor on the anchor.
func NewCursor(anchor Date, rule RecurrenceRule) (*Cursor, error) {
	if err := rule.Validate(anchor); err != nil {
		return nil, err
	}
	return &Cursor{anchor: anchor, rule: rule, limit: rule.limit(anchor)}, nil
}

// Index returns the sequence index Next will produce.
func (c *Cursor) Index() int {
	return c.next
}

// Seek positions the cursor so that Next produces the given sequence index.
func (c *Cursor) Seek(index int) {
	if index < 0 {
		index = 0
	}
	c.next = index
}

// Next returns the next date and its sequence index. ok is false once the rule has
// terminated.
func (c *Cursor) Next() (index int, date Date, ok bool) {
	if c.limit >= 0 && c.next >= c.limit {
		return c.next, Date{}, false
	}
	index = c.next
	c.next++
	return index, stepDate(c.anchor, c.rule.Pattern, index), true
}

// Generate returns the lazy sequence of (sequenceIndex, date) pairs for rule anchored at
// anchor. Indefinite rules yield forever; stop ranging when enough dates were consumed.
func Generate(anchor Date, rule RecurrenceRule) (iter.Seq2[int, Date], error) {
	c, err := NewCursor(anchor, rule)
	if err != nil {
		return nil, err
	}
	return func(yield func(int, Date) bool) {
		cur := *c
		for {
			i, d, ok := cur.Next()
			if !ok || !yield(i, d) {
				return
			}
		}
	}, nil
}

// Take returns at most n dates starting at the anchor.
func Take(anchor Date, rule RecurrenceRule, n int) ([]Date, error) {
	return GenerateFrom(anchor, rule, 0, n)
}

// GenerateFrom returns at most n dates starting at sequence index from.
func GenerateFrom(anchor Date, rule RecurrenceRule, from, n int) ([]Date, error) {
	c, err := NewCursor(anchor, rule)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []Date{}, nil
	}
	c.Seek(from)
	out := make([]Date, 0, n)
	for len(out) < n {
		_, d, ok := c.Next()
		if !ok {
			break
		}
		out = append(out, d)
	}
	return out, nil
}

// Materialize returns every date of a bounded rule.
func Materialize(anchor Date, rule RecurrenceRule) ([]Date, error) {
	n, err := Count(anchor, rule)
	if err != nil {
		return nil, err
	}
	return Take(anchor, rule, n)
}

// Count returns how many dates a bounded rule produces.
func Count(anchor Date, rule RecurrenceRule) (int, error) {
	if err := rule.Validate(anchor); err != nil {
		return 0, err
	}
	n := rule.limit(anchor)
	if n < 0 {
		return 0, ErrUnboundedSeries
	}
	return n, nil
}

// IndexOf returns the sequence index of date within the rule, if date is one of its
// occurrences.
func IndexOf(anchor Date, rule RecurrenceRule, date Date) (int, bool) {
	if date.Before(anchor) {
		return 0, false
	}
	c, err := NewCursor(anchor, rule)
	if err != nil {
		return 0, false
	}
	for {
		i, d, ok := c.Next()
		if !ok || d.After(date) {
			return 0, false
		}
		if d == date {
			return i, true
		}
	}
}
