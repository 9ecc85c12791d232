package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"clinicsched/backend/internal/domain"
	"clinicsched/backend/internal/store"
)

// openTestDB connects to CLINICSCHED_TEST_DATABASE_URL and migrates a throwaway schema.
// The pool holds one connection so the session search_path applies to every query.
func openTestDB(t *testing.T) *bun.DB {
	t.Helper()
	databaseURL := strings.TrimSpace(os.Getenv("CLINICSCHED_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("CLINICSCHED_TEST_DATABASE_URL not set")
	}

	db, err := Open(databaseURL, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "clinicsched_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if _, err := db.NewRaw("SET search_path TO " + schema).Exec(ctx); err != nil {
		t.Fatalf("set search_path: %v", err)
	}
	dir, err := migrationsDir()
	if err != nil {
		t.Fatalf("migrationsDir: %v", err)
	}
	if _, err := Migrate(ctx, db, dir); err != nil {
		t.Fatalf("Migrate error: %v", err)
	}
	return db
}

func TestPostgresIntegration_SeriesConflictsAndIdempotency(t *testing.T) {
	db := openTestDB(t)
	repo := NewSchedulingRepo(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	anchor := domain.NewDate(2025, time.March, 3)
	slot := domain.CandidateSlot{
		TrackID:         "physio",
		Date:            anchor,
		Time:            domain.TimeOfDay{Hour: 10},
		DurationMinutes: 45,
		TherapistID:     "t1",
	}
	rule := domain.RecurrenceRule{Pattern: domain.PatternWeekly, End: domain.AfterCount(4)}
	dates, err := domain.Materialize(anchor, rule)
	if err != nil {
		t.Fatalf("Materialize error: %v", err)
	}

	seriesID := uuid.MustParse("00000000-0000-0000-0000-000000000901")
	req := domain.CreateSeriesRequest{SeriesID: seriesID, Slot: slot, Rule: rule, Dates: dates}

	created, err := repo.CreateSeries(ctx, req)
	if err != nil {
		t.Fatalf("CreateSeries error: %v", err)
	}
	if len(created.Occurrences) != 4 {
		t.Fatalf("occurrences = %d, want 4", len(created.Occurrences))
	}

	again, err := repo.CreateSeries(ctx, req)
	if err != nil {
		t.Fatalf("repeated CreateSeries error: %v", err)
	}
	if again.ID != seriesID || len(again.Occurrences) != 4 {
		t.Fatalf("repeated CreateSeries = %+v", again)
	}

	changed := req
	changed.Rule = domain.RecurrenceRule{Pattern: domain.PatternWeekly, End: domain.AfterCount(5)}
	if _, err := repo.CreateSeries(ctx, changed); !errors.Is(err, store.ErrIdempotencyConflict) {
		t.Fatalf("changed CreateSeries err = %v, want %v", err, store.ErrIdempotencyConflict)
	}

	single := domain.CreateSingleAppointmentRequest{Slot: slot}
	single.Slot.Date = dates[2]
	single.Slot.TrackID = "speech"
	_, err = repo.CreateAppointment(ctx, single)
	var conflict *domain.SlotConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("CreateAppointment err = %v, want slot conflict", err)
	}
	if conflict.Date != dates[2] {
		t.Fatalf("conflict date = %s, want %s", conflict.Date, dates[2])
	}

	err = repo.InSeriesTransaction(ctx, seriesID, func(ctx context.Context, tx store.SeriesTx) error {
		s, err := tx.GetSeries(ctx, seriesID)
		if err != nil {
			return err
		}
		m, err := domain.CancelFuture(s, dates[2])
		if err != nil {
			return err
		}
		if err := tx.ApplyStatusChanges(ctx, seriesID, m.Changes); err != nil {
			return err
		}
		if m.RuleChanged {
			return tx.UpdateRule(ctx, seriesID, m.Series.Rule)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("cancel future error: %v", err)
	}

	booked, err := repo.CreateAppointment(ctx, single)
	if err != nil {
		t.Fatalf("CreateAppointment after cancel error: %v", err)
	}
	if booked.ID == uuid.Nil || booked.SeriesID.Valid {
		t.Fatalf("booked = %+v", booked)
	}

	got, err := repo.GetSeries(ctx, seriesID)
	if err != nil {
		t.Fatalf("GetSeries error: %v", err)
	}
	want := []domain.Status{domain.StatusScheduled, domain.StatusScheduled, domain.StatusCancelled, domain.StatusCancelled}
	for i, o := range got.Occurrences {
		if o.Status != want[i] {
			t.Fatalf("occurrence %d status = %s, want %s", i, o.Status, want[i])
		}
	}
}

func TestPostgresIntegration_StaleStatusRollsBack(t *testing.T) {
	db := openTestDB(t)
	repo := NewSchedulingRepo(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	anchor := domain.NewDate(2025, time.March, 3)
	rule := domain.RecurrenceRule{Pattern: domain.PatternWeekly, End: domain.Indefinite()}
	dates, err := domain.Take(anchor, rule, 3)
	if err != nil {
		t.Fatalf("Take error: %v", err)
	}
	created, err := repo.CreateSeries(ctx, domain.CreateSeriesRequest{
		Slot:  domain.CandidateSlot{TrackID: "ot", Date: anchor, Time: domain.TimeOfDay{Hour: 8}, TherapistID: "t9"},
		Rule:  rule,
		Dates: dates,
	})
	if err != nil {
		t.Fatalf("CreateSeries error: %v", err)
	}

	ids, err := repo.ListOpenEndedSeries(ctx)
	if err != nil {
		t.Fatalf("ListOpenEndedSeries error: %v", err)
	}
	if len(ids) != 1 || ids[0] != created.ID {
		t.Fatalf("open-ended = %v, want [%s]", ids, created.ID)
	}

	first := created.Occurrences[0]
	err = repo.InSeriesTransaction(ctx, created.ID, func(ctx context.Context, tx store.SeriesTx) error {
		if err := tx.ApplyStatusChanges(ctx, created.ID, []domain.StatusChange{
			{OccurrenceID: first.ID, From: domain.StatusScheduled, To: domain.StatusCancelled},
		}); err != nil {
			return err
		}
		return tx.ApplyStatusChanges(ctx, created.ID, []domain.StatusChange{
			{OccurrenceID: created.Occurrences[1].ID, From: domain.StatusPaused, To: domain.StatusScheduled},
		})
	})
	if !errors.Is(err, store.ErrStaleStatus) {
		t.Fatalf("err = %v, want %v", err, store.ErrStaleStatus)
	}

	got, err := repo.GetSeries(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSeries error: %v", err)
	}
	if got.Occurrences[0].Status != domain.StatusScheduled {
		t.Fatalf("first occurrence status = %s, want rolled back to scheduled", got.Occurrences[0].Status)
	}

	if err := repo.InSeriesTransaction(ctx, uuid.New(), func(context.Context, store.SeriesTx) error { return nil }); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing series err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestPostgresIntegration_MigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	dir, err := migrationsDir()
	if err != nil {
		t.Fatalf("migrationsDir: %v", err)
	}
	applied, err := Migrate(context.Background(), db, dir)
	if err != nil {
		t.Fatalf("second Migrate error: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("second Migrate applied %v, want nothing", applied)
	}
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

func migrationsDir() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("runtime.Caller failed")
	}
	base := filepath.Dir(file)
	return filepath.Clean(filepath.Join(base, "..", "..", "..", "migrations")), nil
}
