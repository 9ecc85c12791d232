package domain

import (
	"strconv"
)

// TrackID names a therapeutic discipline a slot is offered for.
type TrackID string

// SlotKey identifies a candidate slot. It is comparable, so it can key maps directly.
type SlotKey struct {
	TrackID     TrackID   `json:"track_id"`
	Date        Date      `json:"date"`
	Time        TimeOfDay `json:"time"`
	TherapistID string    `json:"therapist_id"`
}

// String is for logs and messages only; never parse it back.
func (k SlotKey) String() string {
	return strconv.Quote(string(k.TrackID)) + "/" + k.Date.String() + "/" + k.Time.String() + "/" + strconv.Quote(k.TherapistID)
}

// CandidateSlot is a bookable suggestion produced by the availability search.
type CandidateSlot struct {
	TrackID         TrackID   `json:"track_id"`
	Date            Date      `json:"date"`
	Time            TimeOfDay `json:"time"`
	DurationMinutes int       `json:"duration_minutes"`
	TherapistID     string    `json:"therapist_id"`
	RoomID          *string   `json:"room_id,omitempty"`
	HasSpecialty    bool      `json:"has_specialty"`
	IsPreferred     bool      `json:"is_preferred"`
}

func (s CandidateSlot) Key() SlotKey {
	return SlotKey{TrackID: s.TrackID, Date: s.Date, Time: s.Time, TherapistID: s.TherapistID}
}
