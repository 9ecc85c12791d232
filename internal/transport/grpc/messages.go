package grpc

import (
	"clinicsched/backend/internal/domain"
)

type PreviewOccurrencesRequest struct {
	// Slots are the selected candidates in selection order.
	Slots []domain.CandidateSlot `json:"slots"`
	// Rule is omitted for one-off sessions.
	Rule  *domain.RecurrenceRule `json:"rule,omitempty"`
	Limit int                    `json:"limit,omitempty"`
}

type PreviewItem struct {
	Slot  domain.CandidateSlot `json:"slot"`
	Dates []domain.Date        `json:"dates"`
	// Total is -1 for an open-ended series.
	Total int `json:"total"`
}

type PreviewOccurrencesResponse struct {
	Items []PreviewItem `json:"items"`
}

type CommitSelectionRequest struct {
	Slots []domain.CandidateSlot `json:"slots"`
	Rule  *domain.RecurrenceRule `json:"rule,omitempty"`
}

const (
	CommitStatusBooked   = "booked"
	CommitStatusConflict = "conflict"
	CommitStatusFailed   = "failed"
)

type CommitResult struct {
	Slot         domain.SlotKey `json:"slot"`
	Status       string         `json:"status"`
	OccurrenceID string         `json:"occurrence_id,omitempty"`
	SeriesID     string         `json:"series_id,omitempty"`
	Dates        []domain.Date  `json:"dates,omitempty"`
	ConflictDate domain.Date    `json:"conflict_date,omitzero"`
	Error        string         `json:"error,omitempty"`
}

type CommitSelectionResponse struct {
	Results []CommitResult `json:"results"`
	Booked  int            `json:"booked"`
}

type GetSeriesRequest struct {
	SeriesID string `json:"series_id"`
	// RemainingFrom optionally asks how many sessions are left from that date on.
	RemainingFrom domain.Date `json:"remaining_from,omitzero"`
}

type GetSeriesResponse struct {
	Series domain.Series `json:"series"`
	// Remaining is set when RemainingFrom was given and the series is bounded.
	Remaining *int `json:"remaining,omitempty"`
}

type CancelOccurrenceRequest struct {
	SeriesID string      `json:"series_id"`
	Date     domain.Date `json:"date"`
}

type CancelFutureRequest struct {
	SeriesID string      `json:"series_id"`
	From     domain.Date `json:"from"`
	// FromToday keeps sessions before today untouched even when From is earlier.
	FromToday bool `json:"from_today,omitempty"`
}

type DateRangeRequest struct {
	SeriesID string      `json:"series_id"`
	Start    domain.Date `json:"start"`
	End      domain.Date `json:"end"`
}

type EndRecurrenceRequest struct {
	SeriesID string      `json:"series_id"`
	LastDate domain.Date `json:"last_date"`
}

type MutationResponse struct {
	Series      domain.Series         `json:"series"`
	Changes     []domain.StatusChange `json:"changes"`
	RuleChanged bool                  `json:"rule_changed"`
}

type ExportSeriesICSRequest struct {
	SeriesID string `json:"series_id"`
	Summary  string `json:"summary,omitempty"`
	// PerOccurrence renders every materialized occurrence as its own event with a STATUS
	// instead of one recurring event.
	PerOccurrence bool `json:"per_occurrence,omitempty"`
}

type ExportSeriesICSResponse struct {
	Calendar string `json:"calendar"`
}

type CheckRetroactiveDateRequest struct {
	Date domain.Date `json:"date"`
}

type CheckRetroactiveDateResponse struct {
	Status string      `json:"status"`
	Today  domain.Date `json:"today"`
}
