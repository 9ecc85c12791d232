// Package series runs lifecycle operations on stored series. Each operation loads the
// series, applies the pure domain transition and persists the changed rows inside one
// store transaction.
package series

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"clinicsched/backend/internal/domain"
	"clinicsched/backend/internal/events"
	"clinicsched/backend/internal/service"
	"clinicsched/backend/internal/store"
)

type Service struct {
	repo      store.SeriesRepository
	publisher events.Publisher
	logger    *slog.Logger
	loc       *time.Location
	now       func() time.Time
}

// NewService returns a service whose notion of today is taken in loc, the clinic's time
// zone.
func NewService(repo store.SeriesRepository, publisher events.Publisher, logger *slog.Logger, loc *time.Location) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("component", "series"),
		loc:       loc,
		now:       time.Now,
	}
}

// Today is the current calendar day in the clinic's time zone.
func (s *Service) Today() domain.Date {
	return domain.DateOf(s.now().In(s.loc))
}

func requireID(id uuid.UUID) error {
	if id == uuid.Nil {
		return service.NewValidationError("series_id is required")
	}
	return nil
}

func (s *Service) Get(ctx context.Context, seriesID uuid.UUID) (domain.Series, error) {
	if err := requireID(seriesID); err != nil {
		return domain.Series{}, err
	}
	return s.repo.GetSeries(ctx, seriesID)
}

func (s *Service) CancelSingle(ctx context.Context, seriesID uuid.UUID, date domain.Date) (domain.Mutation, error) {
	return s.apply(ctx, seriesID, "cancelSingle", func(series domain.Series) (domain.Mutation, error) {
		return domain.CancelSingle(series, date)
	})
}

// CancelFuture cancels every occurrence on or after from. An open-ended series is also
// closed the day before from so that the materializer stops extending it.
func (s *Service) CancelFuture(ctx context.Context, seriesID uuid.UUID, from domain.Date) (domain.Mutation, error) {
	return s.apply(ctx, seriesID, "cancelFuture", func(series domain.Series) (domain.Mutation, error) {
		m, err := domain.CancelFuture(series, from)
		if err != nil {
			return domain.Mutation{}, err
		}
		closeOpenEnded(&m, from)
		return m, nil
	})
}

// CancelFutureAsOf is CancelFuture that leaves sessions before today untouched.
func (s *Service) CancelFutureAsOf(ctx context.Context, seriesID uuid.UUID, from domain.Date) (domain.Mutation, error) {
	today := s.Today()
	return s.apply(ctx, seriesID, "cancelFuture", func(series domain.Series) (domain.Mutation, error) {
		m, err := domain.CancelFutureAsOf(series, from, today)
		if err != nil {
			return domain.Mutation{}, err
		}
		if from.Before(today) {
			from = today
		}
		closeOpenEnded(&m, from)
		return m, nil
	})
}

func closeOpenEnded(m *domain.Mutation, from domain.Date) {
	rule := m.Series.Rule
	if rule.Bounded() || rule.Single() {
		return
	}
	last := from.AddDays(-1)
	if last.Before(m.Series.AnchorDate) {
		last = m.Series.AnchorDate
	}
	closed := domain.RecurrenceRule{Pattern: rule.Pattern, End: domain.OnDate(last)}
	if closed.Validate(m.Series.AnchorDate) != nil {
		return
	}
	m.Series.Rule = closed
	m.RuleChanged = true
}

func (s *Service) CancelRange(ctx context.Context, seriesID uuid.UUID, start, end domain.Date) (domain.Mutation, error) {
	return s.apply(ctx, seriesID, "cancelRange", func(series domain.Series) (domain.Mutation, error) {
		return domain.CancelRange(series, start, end)
	})
}

func (s *Service) EndRecurrence(ctx context.Context, seriesID uuid.UUID, last domain.Date) (domain.Mutation, error) {
	return s.apply(ctx, seriesID, "endRecurrence", func(series domain.Series) (domain.Mutation, error) {
		return domain.EndRecurrence(series, last)
	})
}

func (s *Service) Pause(ctx context.Context, seriesID uuid.UUID, start, end domain.Date) (domain.Mutation, error) {
	return s.apply(ctx, seriesID, "pause", func(series domain.Series) (domain.Mutation, error) {
		return domain.Pause(series, start, end)
	})
}

func (s *Service) Resume(ctx context.Context, seriesID uuid.UUID, start, end domain.Date) (domain.Mutation, error) {
	return s.apply(ctx, seriesID, "resume", func(series domain.Series) (domain.Mutation, error) {
		return domain.Resume(series, start, end)
	})
}

// RemainingFrom counts the occurrences from ref to the end of the series. ok is false for
// an open-ended series or a date the series does not produce.
func (s *Service) RemainingFrom(ctx context.Context, seriesID uuid.UUID, ref domain.Date) (n int, ok bool, err error) {
	series, err := s.Get(ctx, seriesID)
	if err != nil {
		return 0, false, err
	}
	n, ok = domain.RemainingFrom(series, ref)
	return n, ok, nil
}

func (s *Service) apply(ctx context.Context, seriesID uuid.UUID, op string, fn func(domain.Series) (domain.Mutation, error)) (domain.Mutation, error) {
	if err := requireID(seriesID); err != nil {
		return domain.Mutation{}, err
	}

	var out domain.Mutation
	err := s.repo.InSeriesTransaction(ctx, seriesID, func(ctx context.Context, tx store.SeriesTx) error {
		series, err := tx.GetSeries(ctx, seriesID)
		if err != nil {
			return err
		}
		m, err := fn(series)
		if err != nil {
			return err
		}
		if len(m.Changes) > 0 {
			if err := tx.ApplyStatusChanges(ctx, seriesID, m.Changes); err != nil {
				return fmt.Errorf("%s: apply status changes: %w", op, err)
			}
		}
		if m.RuleChanged {
			if err := tx.UpdateRule(ctx, seriesID, m.Series.Rule); err != nil {
				return fmt.Errorf("%s: update rule: %w", op, err)
			}
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.Mutation{}, err
	}

	s.logger.Info("series updated",
		"op", op,
		"series_id", seriesID.String(),
		"changes", len(out.Changes),
		"rule_changed", out.RuleChanged,
	)
	if len(out.Changes) > 0 || out.RuleChanged {
		s.publish(ctx, events.SeriesChanged(op, out, s.now().UTC()))
	}
	return out, nil
}

// ExtendResult lists what Extend appended and the dates it had to skip because the
// therapist was already booked.
type ExtendResult struct {
	Added   []domain.Occurrence
	Skipped []domain.Date
}

// Extend materializes more occurrences of an open-ended series so that at least window
// active ones fall on or after today. Dates before today are never materialized. Bounded
// series are left alone.
func (s *Service) Extend(ctx context.Context, seriesID uuid.UUID, today domain.Date, window int) (ExtendResult, error) {
	if err := requireID(seriesID); err != nil {
		return ExtendResult{}, err
	}
	if window <= 0 {
		return ExtendResult{}, service.NewValidationError("window must be positive")
	}

	var (
		out    ExtendResult
		series domain.Series
	)
	err := s.repo.InSeriesTransaction(ctx, seriesID, func(ctx context.Context, tx store.SeriesTx) error {
		var err error
		series, err = tx.GetSeries(ctx, seriesID)
		if err != nil {
			return err
		}
		if series.Rule.Bounded() {
			return nil
		}

		// Only sessions that will still take place fill the window.
		have := 0
		for _, o := range series.Occurrences {
			if o.Status.Active() && !o.Date.Before(today) {
				have++
			}
		}
		need := window - have
		if need <= 0 {
			return nil
		}

		cursor, err := domain.NewCursor(series.AnchorDate, series.Rule)
		if err != nil {
			return err
		}
		cursor.Seek(series.NextIndex())
		for need > 0 {
			idx, date, ok := cursor.Next()
			if !ok {
				break
			}
			if date.Before(today) {
				continue
			}
			need--
			added, err := tx.AppendOccurrences(ctx, seriesID, []domain.Occurrence{series.NewOccurrence(idx, date)})
			var conflict *domain.SlotConflictError
			if errors.As(err, &conflict) {
				out.Skipped = append(out.Skipped, date)
				continue
			}
			if err != nil {
				return fmt.Errorf("extend: append occurrence %d: %w", idx, err)
			}
			out.Added = append(out.Added, added...)
		}
		return nil
	})
	if err != nil {
		return ExtendResult{}, err
	}

	if len(out.Added) > 0 || len(out.Skipped) > 0 {
		s.logger.Info("series extended",
			"series_id", seriesID.String(),
			"added", len(out.Added),
			"skipped", len(out.Skipped),
		)
	}
	if len(out.Added) > 0 {
		s.publish(ctx, events.SeriesExtended(series, out.Added, s.now().UTC()))
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("event publish failed", "kind", e.Kind, "err", err)
	}
}
