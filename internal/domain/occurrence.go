package domain

import (
	"slices"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

// Active reports whether an occurrence in this status still holds its therapist's slot.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusPaused
}

// CanTransition reports whether the lifecycle allows moving from s to next. Cancelled is
// terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusScheduled:
		return next == StatusCancelled || next == StatusPaused
	case StatusPaused:
		return next == StatusScheduled || next == StatusCancelled
	default:
		return false
	}
}

type Occurrence struct {
	ID uuid.UUID `json:"id"`
	// SeriesID is null for a standalone booking.
	SeriesID        uuid.NullUUID `json:"series_id"`
	SequenceIndex   int           `json:"sequence_index"`
	TrackID         TrackID       `json:"track_id"`
	Date            Date          `json:"date"`
	Time            TimeOfDay     `json:"time"`
	DurationMinutes int           `json:"duration_minutes"`
	TherapistID     string        `json:"therapist_id"`
	RoomID          *string       `json:"room_id,omitempty"`
	Status          Status        `json:"status"`
}

// Series is one recurring booking. The template fields describe every occurrence;
// Occurrences holds the materialized ones ordered by SequenceIndex.
type Series struct {
	ID              uuid.UUID      `json:"id"`
	Rule            RecurrenceRule `json:"rule"`
	AnchorDate      Date           `json:"anchor_date"`
	TrackID         TrackID        `json:"track_id"`
	Time            TimeOfDay      `json:"time"`
	DurationMinutes int            `json:"duration_minutes"`
	TherapistID     string         `json:"therapist_id"`
	RoomID          *string        `json:"room_id,omitempty"`
	Occurrences     []Occurrence   `json:"occurrences"`
}

// Anchor returns the occurrence with sequence index 0.
func (s Series) Anchor() (Occurrence, bool) {
	for _, o := range s.Occurrences {
		if o.SequenceIndex == 0 {
			return o, true
		}
	}
	return Occurrence{}, false
}

// Clone returns a copy that shares no occurrence storage with s.
func (s Series) Clone() Series {
	s.Occurrences = slices.Clone(s.Occurrences)
	return s
}

// NewOccurrence builds the index-th occurrence of the series on date. The ID is left for
// the store to assign.
func (s Series) NewOccurrence(index int, date Date) Occurrence {
	return Occurrence{
		SeriesID:        uuid.NullUUID{UUID: s.ID, Valid: true},
		SequenceIndex:   index,
		TrackID:         s.TrackID,
		Date:            date,
		Time:            s.Time,
		DurationMinutes: s.DurationMinutes,
		TherapistID:     s.TherapistID,
		RoomID:          s.RoomID,
		Status:          StatusScheduled,
	}
}

// NextIndex returns the sequence index that follows the last materialized occurrence.
func (s Series) NextIndex() int {
	if len(s.Occurrences) == 0 {
		return 0
	}
	return s.Occurrences[len(s.Occurrences)-1].SequenceIndex + 1
}

// validate checks that sequence indexes are unique and increase strictly with date.
func (s Series) validate(op string) error {
	for i := 1; i < len(s.Occurrences); i++ {
		prev, cur := s.Occurrences[i-1], s.Occurrences[i]
		if cur.SequenceIndex <= prev.SequenceIndex || !cur.Date.After(prev.Date) {
			return &InvalidOperationError{
				Op:     op,
				Start:  cur.Date,
				Reason: "series occurrences are not ordered by sequence index and date",
			}
		}
	}
	return nil
}
