package postgres

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"clinicsched/backend/internal/domain"
	"clinicsched/backend/internal/store"
)

const activeSlotConstraint = "occurrences_active_slot_key"

var activeStatuses = []string{string(domain.StatusScheduled), string(domain.StatusPaused)}

// SchedulingRepo stores series and their occurrences. Every write takes a
// transaction-scoped advisory lock on the therapist so that the conflict pre-check and
// the insert see a consistent calendar; the partial unique index on active slots backs
// it up.
type SchedulingRepo struct {
	db *bun.DB
}

var (
	_ store.BookingRepository = (*SchedulingRepo)(nil)
	_ store.SeriesRepository  = (*SchedulingRepo)(nil)
)

func NewSchedulingRepo(db *bun.DB) *SchedulingRepo {
	return &SchedulingRepo{db: db}
}

type seriesTx struct {
	tx bun.Tx
}

func (r *SchedulingRepo) inTherapistTransaction(ctx context.Context, therapistID string, fn func(ctx context.Context, tx bun.Tx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockTherapistCalendar(ctx, tx, therapistID); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

func lockTherapistCalendar(ctx context.Context, tx bun.Tx, therapistID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", "therapist:"+therapistID).Exec(ctx)
	return err
}

func (r *SchedulingRepo) CreateAppointment(ctx context.Context, req domain.CreateSingleAppointmentRequest) (domain.Occurrence, error) {
	var out domain.Occurrence
	err := r.inTherapistTransaction(ctx, req.Slot.TherapistID, func(ctx context.Context, tx bun.Tx) error {
		row := newOccurrenceRow(req.Occurrence())

		if row.ID != uuid.Nil {
			var existing occurrenceRow
			err := tx.NewSelect().Model(&existing).Where("id = ?", row.ID).Limit(1).Scan(ctx)
			switch {
			case err == nil:
				if existing.SeriesID.Valid ||
					existing.TherapistID != row.TherapistID ||
					existing.TrackID != row.TrackID ||
					!existing.OccursOn.Equal(row.OccursOn) ||
					existing.StartMinute != row.StartMinute {
					return store.ErrIdempotencyConflict
				}
				out = existing.toDomain()
				return nil
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}

		date, found, err := findActiveConflict(ctx, tx, row.TherapistID, row.StartMinute, []time.Time{row.OccursOn})
		if err != nil {
			return err
		}
		if found {
			return &domain.SlotConflictError{Key: req.Slot.Key(), Date: domain.DateOf(date)}
		}

		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return mapWriteError(err, req.Slot.Key(), req.Slot.Date)
		}
		out = row.toDomain()
		return nil
	})
	if err != nil {
		return domain.Occurrence{}, err
	}
	return out, nil
}

func (r *SchedulingRepo) CreateSeries(ctx context.Context, req domain.CreateSeriesRequest) (domain.Series, error) {
	var out domain.Series
	err := r.inTherapistTransaction(ctx, req.Slot.TherapistID, func(ctx context.Context, tx bun.Tx) error {
		if req.SeriesID != uuid.Nil {
			existing, err := loadSeries(ctx, tx, req.SeriesID)
			switch {
			case err == nil:
				if !sameSeriesTemplate(existing, req.Series()) {
					return store.ErrIdempotencyConflict
				}
				out = existing
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		id := req.SeriesID
		if id == uuid.Nil {
			var err error
			if id, err = uuid.NewV7(); err != nil {
				return err
			}
		}
		req.SeriesID = id
		series := req.Series()

		sRow := newSeriesRow(series)
		if _, err := tx.NewInsert().Model(&sRow).Exec(ctx); err != nil {
			return mapWriteError(err, req.Slot.Key(), req.Slot.Date)
		}

		occs, err := insertOccurrences(ctx, tx, series.Occurrences)
		if err != nil {
			return err
		}
		series.Occurrences = occs
		out = series
		return nil
	})
	if err != nil {
		return domain.Series{}, err
	}
	return out, nil
}

func sameSeriesTemplate(a, b domain.Series) bool {
	return a.TherapistID == b.TherapistID &&
		a.TrackID == b.TrackID &&
		a.AnchorDate == b.AnchorDate &&
		a.Time == b.Time &&
		a.Rule == b.Rule
}

func (r *SchedulingRepo) GetSeries(ctx context.Context, seriesID uuid.UUID) (domain.Series, error) {
	return loadSeries(ctx, r.db, seriesID)
}

func (r *SchedulingRepo) ListOpenEndedSeries(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.NewSelect().
		Model((*seriesRow)(nil)).
		Column("id").
		Where("end_kind = ?", string(domain.EndIndefinite)).
		OrderExpr("id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *SchedulingRepo) InSeriesTransaction(ctx context.Context, seriesID uuid.UUID, fn func(ctx context.Context, tx store.SeriesTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var therapistID string
		err := tx.NewSelect().
			Model((*seriesRow)(nil)).
			Column("therapist_id").
			Where("id = ?", seriesID).
			Limit(1).
			Scan(ctx, &therapistID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := lockTherapistCalendar(ctx, tx, therapistID); err != nil {
			return err
		}
		return fn(ctx, seriesTx{tx: tx})
	})
}

func loadSeries(ctx context.Context, db bun.IDB, seriesID uuid.UUID) (domain.Series, error) {
	var row seriesRow
	err := db.NewSelect().Model(&row).Where("id = ?", seriesID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Series{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Series{}, err
	}

	var occs []occurrenceRow
	err = db.NewSelect().
		Model(&occs).
		Where("series_id = ?", seriesID).
		OrderExpr("sequence_index ASC").
		Scan(ctx)
	if err != nil {
		return domain.Series{}, err
	}
	return row.toDomain(occs), nil
}

// findActiveConflict returns the earliest of dates on which the therapist already has an
// active occurrence at startMinute.
func findActiveConflict(ctx context.Context, db bun.IDB, therapistID string, startMinute int, dates []time.Time) (time.Time, bool, error) {
	if len(dates) == 0 {
		return time.Time{}, false, nil
	}
	var taken []time.Time
	err := db.NewSelect().
		Model((*occurrenceRow)(nil)).
		Column("occurs_on").
		Where("therapist_id = ?", therapistID).
		Where("start_minute = ?", startMinute).
		Where("status IN (?)", bun.In(activeStatuses)).
		Where("occurs_on IN (?)", bun.In(dates)).
		OrderExpr("occurs_on ASC").
		Limit(1).
		Scan(ctx, &taken)
	if err != nil {
		return time.Time{}, false, err
	}
	if len(taken) == 0 {
		return time.Time{}, false, nil
	}
	return taken[0], true, nil
}

func insertOccurrences(ctx context.Context, db bun.IDB, occs []domain.Occurrence) ([]domain.Occurrence, error) {
	if len(occs) == 0 {
		return nil, nil
	}
	first := occs[0]
	key := domain.SlotKey{TrackID: first.TrackID, Date: first.Date, Time: first.Time, TherapistID: first.TherapistID}

	dates := make([]time.Time, 0, len(occs))
	for _, o := range occs {
		dates = append(dates, o.Date.Time())
	}
	taken, found, err := findActiveConflict(ctx, db, first.TherapistID, first.Time.Minutes(), dates)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, &domain.SlotConflictError{Key: key, Date: domain.DateOf(taken)}
	}

	rows := make([]occurrenceRow, 0, len(occs))
	for _, o := range occs {
		row := newOccurrenceRow(o)
		if row.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return nil, err
			}
			row.ID = id
		}
		rows = append(rows, row)
	}
	if _, err := db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return nil, mapWriteError(err, key, first.Date)
	}

	out := make([]domain.Occurrence, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// mapWriteError translates constraint violations into store and domain errors. date is
// reported when the database does not say which row collided.
func mapWriteError(err error, key domain.SlotKey, date domain.Date) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case activeSlotConstraint:
		return &domain.SlotConflictError{Key: key, Date: date}
	case "occurrences_pkey", "series_pkey", "occurrences_series_sequence_key":
		return store.ErrIdempotencyConflict
	}
	return store.ErrConflict
}

func (t seriesTx) GetSeries(ctx context.Context, seriesID uuid.UUID) (domain.Series, error) {
	return loadSeries(ctx, t.tx, seriesID)
}

func (t seriesTx) ApplyStatusChanges(ctx context.Context, seriesID uuid.UUID, changes []domain.StatusChange) error {
	now := time.Now().UTC()
	for _, c := range changes {
		res, err := t.tx.NewUpdate().
			Model((*occurrenceRow)(nil)).
			Set("status = ?", string(c.To)).
			Set("updated_at = ?", now).
			Where("id = ?", c.OccurrenceID).
			Where("series_id = ?", seriesID).
			Where("status = ?", string(c.From)).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrStaleStatus
		}
	}
	return nil
}

func (t seriesTx) UpdateRule(ctx context.Context, seriesID uuid.UUID, rule domain.RecurrenceRule) error {
	var row seriesRow
	setRule(&row, rule)
	res, err := t.tx.NewUpdate().
		Model((*seriesRow)(nil)).
		Set("pattern = ?", row.Pattern).
		Set("end_kind = ?", row.EndKind).
		Set("end_date = ?", row.EndDate).
		Set("end_count = ?", row.EndCount).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", seriesID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t seriesTx) AppendOccurrences(ctx context.Context, seriesID uuid.UUID, occs []domain.Occurrence) ([]domain.Occurrence, error) {
	occs = slices.Clone(occs)
	for i := range occs {
		occs[i].SeriesID = uuid.NullUUID{UUID: seriesID, Valid: true}
	}
	return insertOccurrences(ctx, t.tx, occs)
}
