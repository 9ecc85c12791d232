package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"clinicsched/backend/internal/domain"
)

type seriesRow struct {
	bun.BaseModel `bun:"table:series"`

	ID              uuid.UUID  `bun:"id,pk,type:uuid"`
	Pattern         string     `bun:"pattern,notnull"`
	EndKind         string     `bun:"end_kind,notnull"`
	EndDate         *time.Time `bun:"end_date,type:date"`
	EndCount        *int       `bun:"end_count"`
	AnchorDate      time.Time  `bun:"anchor_date,type:date,notnull"`
	TrackID         string     `bun:"track_id,notnull"`
	StartMinute     int        `bun:"start_minute,notnull"`
	DurationMinutes int        `bun:"duration_minutes,notnull"`
	TherapistID     string     `bun:"therapist_id,notnull"`
	RoomID          *string    `bun:"room_id"`
	CreatedAt       time.Time  `bun:"created_at,notnull"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull"`
}

var _ bun.BeforeAppendModelHook = (*seriesRow)(nil)

func (r *seriesRow) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if r.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			r.ID = id
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.UpdatedAt = now
	case *bun.UpdateQuery:
		r.UpdatedAt = now
	}
	return nil
}

type occurrenceRow struct {
	bun.BaseModel `bun:"table:occurrences"`

	ID              uuid.UUID     `bun:"id,pk,type:uuid"`
	SeriesID        uuid.NullUUID `bun:"series_id,type:uuid"`
	SequenceIndex   int           `bun:"sequence_index,notnull"`
	TrackID         string        `bun:"track_id,notnull"`
	OccursOn        time.Time     `bun:"occurs_on,type:date,notnull"`
	StartMinute     int           `bun:"start_minute,notnull"`
	DurationMinutes int           `bun:"duration_minutes,notnull"`
	TherapistID     string        `bun:"therapist_id,notnull"`
	RoomID          *string       `bun:"room_id"`
	Status          string        `bun:"status,notnull"`
	CreatedAt       time.Time     `bun:"created_at,notnull"`
	UpdatedAt       time.Time     `bun:"updated_at,notnull"`
}

var _ bun.BeforeAppendModelHook = (*occurrenceRow)(nil)

func (r *occurrenceRow) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if r.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			r.ID = id
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.UpdatedAt = now
	case *bun.UpdateQuery:
		r.UpdatedAt = now
	}
	return nil
}

func timeOfDayFromMinutes(m int) domain.TimeOfDay {
	return domain.TimeOfDay{Hour: m / 60, Minute: m % 60}
}

func newSeriesRow(s domain.Series) seriesRow {
	row := seriesRow{
		ID:              s.ID,
		AnchorDate:      s.AnchorDate.Time(),
		TrackID:         string(s.TrackID),
		StartMinute:     s.Time.Minutes(),
		DurationMinutes: s.DurationMinutes,
		TherapistID:     s.TherapistID,
		RoomID:          s.RoomID,
	}
	setRule(&row, s.Rule)
	return row
}

func setRule(row *seriesRow, rule domain.RecurrenceRule) {
	row.Pattern = string(rule.Pattern)
	row.EndKind = string(rule.End.Kind)
	row.EndDate = nil
	row.EndCount = nil
	switch rule.End.Kind {
	case domain.EndOnDate:
		t := rule.End.Date.Time()
		row.EndDate = &t
	case domain.EndAfterCount:
		n := rule.End.Count
		row.EndCount = &n
	}
}

func (r seriesRow) rule() domain.RecurrenceRule {
	rule := domain.RecurrenceRule{
		Pattern: domain.Pattern(r.Pattern),
		End:     domain.EndCondition{Kind: domain.EndKind(r.EndKind)},
	}
	if r.EndDate != nil {
		rule.End.Date = domain.DateOf(*r.EndDate)
	}
	if r.EndCount != nil {
		rule.End.Count = *r.EndCount
	}
	return rule
}

func (r seriesRow) toDomain(occs []occurrenceRow) domain.Series {
	s := domain.Series{
		ID:              r.ID,
		Rule:            r.rule(),
		AnchorDate:      domain.DateOf(r.AnchorDate),
		TrackID:         domain.TrackID(r.TrackID),
		Time:            timeOfDayFromMinutes(r.StartMinute),
		DurationMinutes: r.DurationMinutes,
		TherapistID:     r.TherapistID,
		RoomID:          r.RoomID,
		Occurrences:     make([]domain.Occurrence, 0, len(occs)),
	}
	for _, o := range occs {
		s.Occurrences = append(s.Occurrences, o.toDomain())
	}
	return s
}

func newOccurrenceRow(o domain.Occurrence) occurrenceRow {
	return occurrenceRow{
		ID:              o.ID,
		SeriesID:        o.SeriesID,
		SequenceIndex:   o.SequenceIndex,
		TrackID:         string(o.TrackID),
		OccursOn:        o.Date.Time(),
		StartMinute:     o.Time.Minutes(),
		DurationMinutes: o.DurationMinutes,
		TherapistID:     o.TherapistID,
		RoomID:          o.RoomID,
		Status:          string(o.Status),
	}
}

func (r occurrenceRow) toDomain() domain.Occurrence {
	return domain.Occurrence{
		ID:              r.ID,
		SeriesID:        r.SeriesID,
		SequenceIndex:   r.SequenceIndex,
		TrackID:         domain.TrackID(r.TrackID),
		Date:            domain.DateOf(r.OccursOn),
		Time:            timeOfDayFromMinutes(r.StartMinute),
		DurationMinutes: r.DurationMinutes,
		TherapistID:     r.TherapistID,
		RoomID:          r.RoomID,
		Status:          domain.Status(r.Status),
	}
}
