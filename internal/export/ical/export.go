// Package ical renders series and bookings as iCalendar (RFC 5545) documents.
package ical

import (
	"io"
	"time"

	ics "github.com/arran4/golang-ical"

	"clinicsched/backend/internal/domain"
)

const (
	ProductID = "-//clinicsched//scheduling//EN"

	localLayout = "20060102T150405"
	uidDomain   = "@clinicsched"
)

type Options struct {
	// Location is the clinic time zone occurrence times are expressed in.
	Location *time.Location
	// Stamp is written as DTSTAMP on every event.
	Stamp time.Time
	// Summary titles every event; the track id is used when empty.
	Summary string
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

func newCalendar() *ics.Calendar {
	cal := ics.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetMethod(ics.MethodPublish)
	return cal
}

// setLocalTime writes t as a zoned local time, or as UTC when loc is UTC.
func setLocalTime(e *ics.VEvent, prop ics.ComponentProperty, t time.Time) {
	if t.Location() == time.UTC {
		e.SetProperty(prop, t.Format(localLayout)+"Z")
		return
	}
	e.SetProperty(prop, t.Format(localLayout), tzid(t.Location()))
}

func addExdate(e *ics.VEvent, t time.Time) {
	if t.Location() == time.UTC {
		e.AddProperty(ics.ComponentPropertyExdate, t.Format(localLayout)+"Z")
		return
	}
	e.AddProperty(ics.ComponentPropertyExdate, t.Format(localLayout), tzid(t.Location()))
}

func tzid(loc *time.Location) ics.PropertyParameter {
	return &ics.KeyValues{Key: string(ics.ParameterTzid), Value: []string{loc.String()}}
}

func summary(opts Options, track domain.TrackID) string {
	if opts.Summary != "" {
		return opts.Summary
	}
	return string(track)
}

// WriteSeries renders s as one recurring VEVENT. Every date the rule produced that is not
// held by a scheduled occurrence becomes an EXDATE.
func WriteSeries(w io.Writer, s domain.Series, opts Options) error {
	loc := opts.location()
	cal := newCalendar()

	start := s.AnchorDate.In(s.Time, loc)
	e := cal.AddEvent(s.ID.String() + uidDomain)
	e.SetDtStampTime(opts.Stamp)
	setLocalTime(e, ics.ComponentPropertyDtStart, start)
	setLocalTime(e, ics.ComponentPropertyDtEnd, start.Add(time.Duration(s.DurationMinutes)*time.Minute))
	e.SetSummary(summary(opts, s.TrackID))
	if s.RoomID != nil {
		e.SetLocation(*s.RoomID)
	}

	rule, ok := RRule(s.Rule, start)
	if ok {
		e.AddProperty(ics.ComponentPropertyRrule, rule)
		exdates, err := excludedDates(s)
		if err != nil {
			return err
		}
		for _, d := range exdates {
			addExdate(e, d.In(s.Time, loc))
		}
	}

	return cal.SerializeTo(w)
}

// excludedDates lists the rule dates up to the last materialized one that have no
// scheduled occurrence: cancelled, paused, or skipped on a conflict while extending.
func excludedDates(s domain.Series) ([]domain.Date, error) {
	dates, err := domain.Take(s.AnchorDate, s.Rule, s.NextIndex())
	if err != nil {
		return nil, err
	}
	scheduled := make(map[domain.Date]bool, len(s.Occurrences))
	for _, o := range s.Occurrences {
		if o.Status == domain.StatusScheduled {
			scheduled[o.Date] = true
		}
	}
	var out []domain.Date
	for _, d := range dates {
		if !scheduled[d] {
			out = append(out, d)
		}
	}
	return out, nil
}

// WriteOccurrences renders each occurrence as its own VEVENT. Cancelled occurrences are
// kept with STATUS:CANCELLED.
func WriteOccurrences(w io.Writer, occs []domain.Occurrence, opts Options) error {
	loc := opts.location()
	cal := newCalendar()

	for _, o := range occs {
		start := o.Date.In(o.Time, loc)
		e := cal.AddEvent(o.ID.String() + uidDomain)
		e.SetDtStampTime(opts.Stamp)
		setLocalTime(e, ics.ComponentPropertyDtStart, start)
		setLocalTime(e, ics.ComponentPropertyDtEnd, start.Add(time.Duration(o.DurationMinutes)*time.Minute))
		e.SetSummary(summary(opts, o.TrackID))
		if o.RoomID != nil {
			e.SetLocation(*o.RoomID)
		}
		switch o.Status {
		case domain.StatusCancelled:
			e.SetProperty(ics.ComponentPropertyStatus, "CANCELLED")
		case domain.StatusPaused:
			e.SetProperty(ics.ComponentPropertyStatus, "TENTATIVE")
		default:
			e.SetProperty(ics.ComponentPropertyStatus, "CONFIRMED")
		}
	}

	return cal.SerializeTo(w)
}
