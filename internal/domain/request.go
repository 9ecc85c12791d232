package domain

import "github.com/google/uuid"

// CreateSingleAppointmentRequest books one standalone occurrence. A zero ID lets the
// store assign one.
type CreateSingleAppointmentRequest struct {
	ID   uuid.UUID     `json:"id"`
	Slot CandidateSlot `json:"slot"`
}

// Occurrence returns the standalone occurrence the request creates.
func (r CreateSingleAppointmentRequest) Occurrence() Occurrence {
	return Occurrence{
		ID:              r.ID,
		TrackID:         r.Slot.TrackID,
		Date:            r.Slot.Date,
		Time:            r.Slot.Time,
		DurationMinutes: r.Slot.DurationMinutes,
		TherapistID:     r.Slot.TherapistID,
		RoomID:          r.Slot.RoomID,
		Status:          StatusScheduled,
	}
}

// CreateSeriesRequest creates one series anchored at Slot.Date. Dates holds the
// occurrences to materialize now, anchor first.
type CreateSeriesRequest struct {
	SeriesID uuid.UUID      `json:"series_id"`
	Slot     CandidateSlot  `json:"slot"`
	Rule     RecurrenceRule `json:"rule"`
	Dates    []Date         `json:"dates"`
}

// Series returns the series the request creates with its occurrences materialized.
func (r CreateSeriesRequest) Series() Series {
	s := Series{
		ID:              r.SeriesID,
		Rule:            r.Rule,
		AnchorDate:      r.Slot.Date,
		TrackID:         r.Slot.TrackID,
		Time:            r.Slot.Time,
		DurationMinutes: r.Slot.DurationMinutes,
		TherapistID:     r.Slot.TherapistID,
		RoomID:          r.Slot.RoomID,
	}
	s.Occurrences = make([]Occurrence, 0, len(r.Dates))
	for i, d := range r.Dates {
		s.Occurrences = append(s.Occurrences, s.NewOccurrence(i, d))
	}
	return s
}

// CreateRequest holds exactly one of Single or Series.
type CreateRequest struct {
	Single *CreateSingleAppointmentRequest `json:"single,omitempty"`
	Series *CreateSeriesRequest            `json:"series,omitempty"`
}

func (r CreateRequest) Slot() CandidateSlot {
	if r.Series != nil {
		return r.Series.Slot
	}
	if r.Single != nil {
		return r.Single.Slot
	}
	return CandidateSlot{}
}

func (r CreateRequest) Key() SlotKey {
	return r.Slot().Key()
}
