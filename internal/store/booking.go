package store

import (
	"context"

	"clinicsched/backend/internal/domain"
)

// BookingRepository creates bookings. Implementations must reject a create whose
// occurrences collide with an active (scheduled or paused) occurrence of the same
// therapist at the same date and time, returning *domain.SlotConflictError.
type BookingRepository interface {
	CreateAppointment(ctx context.Context, req domain.CreateSingleAppointmentRequest) (domain.Occurrence, error)
	CreateSeries(ctx context.Context, req domain.CreateSeriesRequest) (domain.Series, error)
}
