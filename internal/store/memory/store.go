// Package memory is an in-process booking store. It enforces the same
// one-active-booking-per-therapist-slot rule as the postgres store and is used for local
// runs and tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"clinicsched/backend/internal/domain"
	"clinicsched/backend/internal/store"
)

type occupancyKey struct {
	therapistID string
	date        domain.Date
	time        domain.TimeOfDay
}

type Store struct {
	mu         sync.Mutex
	series     map[uuid.UUID]domain.Series
	standalone map[uuid.UUID]domain.Occurrence
	occupied   map[occupancyKey]uuid.UUID
}

func New() *Store {
	return &Store{
		series:     make(map[uuid.UUID]domain.Series),
		standalone: make(map[uuid.UUID]domain.Occurrence),
		occupied:   make(map[occupancyKey]uuid.UUID),
	}
}

func keyOf(o domain.Occurrence) occupancyKey {
	return occupancyKey{therapistID: o.TherapistID, date: o.Date, time: o.Time}
}

func newID(id uuid.UUID) (uuid.UUID, error) {
	if id != uuid.Nil {
		return id, nil
	}
	return uuid.NewV7()
}

func (s *Store) CreateAppointment(ctx context.Context, req domain.CreateSingleAppointmentRequest) (domain.Occurrence, error) {
	if err := ctx.Err(); err != nil {
		return domain.Occurrence{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	occ := req.Occurrence()
	id, err := newID(occ.ID)
	if err != nil {
		return domain.Occurrence{}, err
	}
	occ.ID = id

	if existing, ok := s.standalone[id]; ok {
		if existing.TherapistID != occ.TherapistID || existing.Date != occ.Date ||
			existing.Time != occ.Time || existing.TrackID != occ.TrackID {
			return domain.Occurrence{}, store.ErrIdempotencyConflict
		}
		return existing, nil
	}

	if _, taken := s.occupied[keyOf(occ)]; taken {
		return domain.Occurrence{}, &domain.SlotConflictError{Key: req.Slot.Key(), Date: occ.Date}
	}

	s.standalone[id] = occ
	s.occupied[keyOf(occ)] = id
	return occ, nil
}

func (s *Store) CreateSeries(ctx context.Context, req domain.CreateSeriesRequest) (domain.Series, error) {
	if err := ctx.Err(); err != nil {
		return domain.Series{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := newID(req.SeriesID)
	if err != nil {
		return domain.Series{}, err
	}
	req.SeriesID = id
	series := req.Series()

	if existing, ok := s.series[id]; ok {
		if existing.TherapistID != series.TherapistID || existing.AnchorDate != series.AnchorDate ||
			existing.Time != series.Time || existing.Rule != series.Rule {
			return domain.Series{}, store.ErrIdempotencyConflict
		}
		return existing.Clone(), nil
	}

	for _, o := range series.Occurrences {
		if _, taken := s.occupied[keyOf(o)]; taken {
			return domain.Series{}, &domain.SlotConflictError{Key: req.Slot.Key(), Date: o.Date}
		}
	}
	for i := range series.Occurrences {
		oid, err := uuid.NewV7()
		if err != nil {
			return domain.Series{}, err
		}
		series.Occurrences[i].ID = oid
	}
	for _, o := range series.Occurrences {
		s.occupied[keyOf(o)] = o.ID
	}
	s.series[id] = series
	return series.Clone(), nil
}

func (s *Store) GetSeries(ctx context.Context, seriesID uuid.UUID) (domain.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series, ok := s.series[seriesID]
	if !ok {
		return domain.Series{}, store.ErrNotFound
	}
	return series.Clone(), nil
}

func (s *Store) ListOpenEndedSeries(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for id, series := range s.series {
		if !series.Rule.Bounded() {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
	return out, nil
}

// InSeriesTransaction runs fn with the whole store locked. Changes made through tx are
// kept only if fn returns nil. fn must not call methods on s.
func (s *Store) InSeriesTransaction(ctx context.Context, seriesID uuid.UUID, fn func(ctx context.Context, tx store.SeriesTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.series[seriesID]
	if !ok {
		return store.ErrNotFound
	}
	tx := &seriesTx{
		id:       seriesID,
		series:   current.Clone(),
		occupied: maps.Clone(s.occupied),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.series[seriesID] = tx.series
	s.occupied = tx.occupied
	return nil
}

type seriesTx struct {
	id       uuid.UUID
	series   domain.Series
	occupied map[occupancyKey]uuid.UUID
}

func (t *seriesTx) check(seriesID uuid.UUID) error {
	if seriesID != t.id {
		return store.ErrNotFound
	}
	return nil
}

func (t *seriesTx) GetSeries(ctx context.Context, seriesID uuid.UUID) (domain.Series, error) {
	if err := t.check(seriesID); err != nil {
		return domain.Series{}, err
	}
	return t.series.Clone(), nil
}

func (t *seriesTx) ApplyStatusChanges(ctx context.Context, seriesID uuid.UUID, changes []domain.StatusChange) error {
	if err := t.check(seriesID); err != nil {
		return err
	}
	byID := make(map[uuid.UUID]int, len(t.series.Occurrences))
	for i, o := range t.series.Occurrences {
		byID[o.ID] = i
	}
	for _, c := range changes {
		i, ok := byID[c.OccurrenceID]
		if !ok {
			return store.ErrNotFound
		}
		o := &t.series.Occurrences[i]
		if o.Status != c.From {
			return store.ErrStaleStatus
		}
		o.Status = c.To
		if !c.To.Active() {
			delete(t.occupied, keyOf(*o))
		}
	}
	return nil
}

func (t *seriesTx) UpdateRule(ctx context.Context, seriesID uuid.UUID, rule domain.RecurrenceRule) error {
	if err := t.check(seriesID); err != nil {
		return err
	}
	t.series.Rule = rule
	return nil
}

func (t *seriesTx) AppendOccurrences(ctx context.Context, seriesID uuid.UUID, occs []domain.Occurrence) ([]domain.Occurrence, error) {
	if err := t.check(seriesID); err != nil {
		return nil, err
	}
	for _, o := range occs {
		if _, taken := t.occupied[keyOf(o)]; taken {
			return nil, &domain.SlotConflictError{
				Key:  domain.SlotKey{TrackID: o.TrackID, Date: o.Date, Time: o.Time, TherapistID: o.TherapistID},
				Date: o.Date,
			}
		}
	}
	out := make([]domain.Occurrence, 0, len(occs))
	for _, o := range occs {
		id, err := newID(o.ID)
		if err != nil {
			return nil, err
		}
		o.ID = id
		o.SeriesID = uuid.NullUUID{UUID: seriesID, Valid: true}
		t.occupied[keyOf(o)] = id
		out = append(out, o)
	}
	t.series.Occurrences = append(t.series.Occurrences, out...)
	return out, nil
}
