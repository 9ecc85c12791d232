package store

import (
	"context"

	"github.com/google/uuid"

	"clinicsched/backend/internal/domain"
)

// MaterializeLookahead is how many future occurrences an open-ended series keeps
// materialized when no other window is configured.
const MaterializeLookahead = 26

type SeriesRepository interface {
	GetSeries(ctx context.Context, seriesID uuid.UUID) (domain.Series, error)
	ListOpenEndedSeries(ctx context.Context) ([]uuid.UUID, error)
	InSeriesTransaction(ctx context.Context, seriesID uuid.UUID, fn func(ctx context.Context, tx SeriesTx) error) error
}

// SeriesTx runs against one locked series.
type SeriesTx interface {
	GetSeries(ctx context.Context, seriesID uuid.UUID) (domain.Series, error)
	// ApplyStatusChanges updates each listed occurrence from its From status to its To
	// status. A row whose status is no longer From fails the call with ErrStaleStatus.
	ApplyStatusChanges(ctx context.Context, seriesID uuid.UUID, changes []domain.StatusChange) error
	UpdateRule(ctx context.Context, seriesID uuid.UUID, rule domain.RecurrenceRule) error
	// AppendOccurrences stores newly materialized occurrences, returning
	// *domain.SlotConflictError if one collides with another booking.
	AppendOccurrences(ctx context.Context, seriesID uuid.UUID, occs []domain.Occurrence) ([]domain.Occurrence, error)
}
