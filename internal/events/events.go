// Package events publishes booking and series lifecycle notifications. Publishing is
// best effort: callers log failures and never fail a committed write because of them.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"clinicsched/backend/internal/domain"
)

type Kind string

const (
	KindAppointmentBooked Kind = "appointment.booked"
	KindSeriesCreated     Kind = "series.created"
	KindSeriesChanged     Kind = "series.changed"
	KindSeriesExtended    Kind = "series.extended"
)

// Event is the JSON body of one notification. Operation names the lifecycle operation
// behind a series.changed event.
type Event struct {
	Kind          Kind                   `json:"kind"`
	OccurredAt    time.Time              `json:"occurred_at"`
	Operation     string                 `json:"operation,omitempty"`
	SeriesID      uuid.NullUUID          `json:"series_id"`
	OccurrenceIDs []uuid.UUID            `json:"occurrence_ids,omitempty"`
	TherapistID   string                 `json:"therapist_id,omitempty"`
	Changes       []domain.StatusChange  `json:"changes,omitempty"`
	Rule          *domain.RecurrenceRule `json:"rule,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// SeriesCreated describes a newly committed series.
func SeriesCreated(s domain.Series, at time.Time) Event {
	return Event{
		Kind:          KindSeriesCreated,
		OccurredAt:    at,
		SeriesID:      uuid.NullUUID{UUID: s.ID, Valid: true},
		OccurrenceIDs: occurrenceIDs(s.Occurrences),
		TherapistID:   s.TherapistID,
		Rule:          &s.Rule,
	}
}

// AppointmentBooked describes a newly committed standalone occurrence.
func AppointmentBooked(o domain.Occurrence, at time.Time) Event {
	return Event{
		Kind:          KindAppointmentBooked,
		OccurredAt:    at,
		OccurrenceIDs: []uuid.UUID{o.ID},
		TherapistID:   o.TherapistID,
	}
}

// SeriesChanged describes the status transitions and rule rewrite of one lifecycle
// operation.
func SeriesChanged(op string, m domain.Mutation, at time.Time) Event {
	e := Event{
		Kind:        KindSeriesChanged,
		OccurredAt:  at,
		Operation:   op,
		SeriesID:    uuid.NullUUID{UUID: m.Series.ID, Valid: true},
		TherapistID: m.Series.TherapistID,
		Changes:     m.Changes,
	}
	if m.RuleChanged {
		e.Rule = &m.Series.Rule
	}
	return e
}

// SeriesExtended describes occurrences appended to an open-ended series.
func SeriesExtended(s domain.Series, added []domain.Occurrence, at time.Time) Event {
	return Event{
		Kind:          KindSeriesExtended,
		OccurredAt:    at,
		SeriesID:      uuid.NullUUID{UUID: s.ID, Valid: true},
		OccurrenceIDs: occurrenceIDs(added),
		TherapistID:   s.TherapistID,
	}
}

func occurrenceIDs(occs []domain.Occurrence) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(occs))
	for _, o := range occs {
		ids = append(ids, o.ID)
	}
	return ids
}
