package series

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"clinicsched/backend/internal/domain"
	"clinicsched/backend/internal/events"
	"clinicsched/backend/internal/service"
	"clinicsched/backend/internal/store"
	"clinicsched/backend/internal/store/memory"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type fakeRepo struct {
	getSeriesFn func(ctx context.Context, seriesID uuid.UUID) (domain.Series, error)
	txFn        func(ctx context.Context, seriesID uuid.UUID, fn func(ctx context.Context, tx store.SeriesTx) error) error
}

func (f *fakeRepo) GetSeries(ctx context.Context, seriesID uuid.UUID) (domain.Series, error) {
	if f.getSeriesFn == nil {
		panic("GetSeries not configured")
	}
	return f.getSeriesFn(ctx, seriesID)
}

func (f *fakeRepo) ListOpenEndedSeries(ctx context.Context) ([]uuid.UUID, error) {
	panic("ListOpenEndedSeries not configured")
}

func (f *fakeRepo) InSeriesTransaction(ctx context.Context, seriesID uuid.UUID, fn func(ctx context.Context, tx store.SeriesTx) error) error {
	if f.txFn == nil {
		panic("InSeriesTransaction not configured")
	}
	return f.txFn(ctx, seriesID, fn)
}

type fakeTx struct {
	series             domain.Series
	applyStatusChanges func(ctx context.Context, seriesID uuid.UUID, changes []domain.StatusChange) error
}

func (f *fakeTx) GetSeries(ctx context.Context, seriesID uuid.UUID) (domain.Series, error) {
	return f.series.Clone(), nil
}

func (f *fakeTx) ApplyStatusChanges(ctx context.Context, seriesID uuid.UUID, changes []domain.StatusChange) error {
	return f.applyStatusChanges(ctx, seriesID, changes)
}

func (f *fakeTx) UpdateRule(ctx context.Context, seriesID uuid.UUID, rule domain.RecurrenceRule) error {
	panic("UpdateRule not configured")
}

func (f *fakeTx) AppendOccurrences(ctx context.Context, seriesID uuid.UUID, occs []domain.Occurrence) ([]domain.Occurrence, error) {
	panic("AppendOccurrences not configured")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

var monday = domain.NewDate(2025, time.March, 3)

func baseSlot() domain.CandidateSlot {
	return domain.CandidateSlot{
		TrackID:         "physio",
		Date:            monday,
		Time:            domain.TimeOfDay{Hour: 9},
		DurationMinutes: 45,
		TherapistID:     "t1",
	}
}

func createSeries(t *testing.T, mem *memory.Store, rule domain.RecurrenceRule, n int) domain.Series {
	t.Helper()
	dates, err := domain.Take(monday, rule, n)
	if err != nil {
		t.Fatalf("Take error: %v", err)
	}
	s, err := mem.CreateSeries(context.Background(), domain.CreateSeriesRequest{Slot: baseSlot(), Rule: rule, Dates: dates})
	if err != nil {
		t.Fatalf("CreateSeries error: %v", err)
	}
	return s
}

func statuses(s domain.Series) []domain.Status {
	out := make([]domain.Status, 0, len(s.Occurrences))
	for _, o := range s.Occurrences {
		out = append(out, o.Status)
	}
	return out
}

func equalStatuses(t *testing.T, got domain.Series, want ...domain.Status) {
	t.Helper()
	g := statuses(got)
	if len(g) != len(want) {
		t.Fatalf("statuses = %v, want %v", g, want)
	}
	for i := range g {
		if g[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", g, want)
		}
	}
}

const (
	sch = domain.StatusScheduled
	can = domain.StatusCancelled
	pau = domain.StatusPaused
)

func TestService_CancelFuturePersistsAndPublishes(t *testing.T) {
	mem := memory.New()
	pub := &fakePublisher{}
	svc := NewService(mem, pub, discardLogger(), time.UTC)
	created := createSeries(t, mem, domain.RecurrenceRule{Pattern: domain.PatternWeekly, End: domain.AfterCount(4)}, 4)

	m, err := svc.CancelFuture(context.Background(), created.ID, monday.AddDays(14))
	if err != nil {
		t.Fatalf("CancelFuture error: %v", err)
	}
	if len(m.Changes) != 2 || m.RuleChanged {
		t.Fatalf("mutation = %+v", m)
	}

	stored, err := svc.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	equalStatuses(t, stored, sch, sch, can, can)

	if len(pub.events) != 1 || pub.events[0].Kind != events.KindSeriesChanged || pub.events[0].Operation != "cancelFuture" {
		t.Fatalf("events = %+v", pub.events)
	}

	// Cancelling again changes nothing and publishes nothing.
	m, err = svc.CancelFuture(context.Background(), created.ID, monday.AddDays(14))
	if err != nil || len(m.Changes) != 0 {
		t.Fatalf("second CancelFuture = %+v, %v", m, err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("events after no-op = %d, want 1", len(pub.events))
	}
}

func TestService_CancelFutureClosesOpenEndedSeries(t *testing.T) {
	mem := memory.New()
	svc := NewService(mem, nil, discardLogger(), time.UTC)
	created := createSeries(t, mem, domain.RecurrenceRule{Pattern: domain.PatternWeekly, End: domain.Indefinite()}, 4)

	m, err := svc.CancelFuture(context.Background(), created.ID, monday.AddDays(14))
	if err != nil {
		t.Fatalf("CancelFuture error: %v", err)
	}
	want := domain.RecurrenceRule{Pattern: domain.PatternWeekly, End: domain.OnDate(monday.AddDays(13))}
	if !m.RuleChanged || m.Series.Rule != want {
		t.Fatalf("rule = %+v changed=%v, want %+v", m.Series.Rule, m.RuleChanged, want)
	}

	ids, err := mem.ListOpenEndedSeries(context.Background())
	if err != nil || len(ids) != 0 {
		t.Fatalf("open-ended after cancel = %v, %v", ids, err)
	}
}

func TestService_CancelFutureAsOfNeverTouchesThePast(t *testing.T) {
	mem := memory.New()
	svc := NewService(mem, nil, discardLogger(), time.UTC)
	svc.now = func() time.Time { return time.Date(2025, time.March, 12, 15, 0, 0, 0, time.UTC) }
	created := createSeries(t, mem, domain.RecurrenceRule{Pattern: domain.PatternWeekly, End: domain.AfterCount(4)}, 4)

	if _, err := svc.CancelFutureAsOf(context.Background(), created.ID, monday); err != nil {
		t.Fatalf("CancelFutureAsOf error: %v", err)
	}
	stored, err := svc.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	equalStatuses(t, stored, sch, sch, can, can)
}

func TestService_PauseResumeDoesNotResurrectCancelled(t *testing.T) {
	mem := memory.New()
	svc := NewService(mem, nil, discardLogger(), time.UTC)
	created := createSeries(t, mem, domain.RecurrenceRule{Pattern: domain.PatternWeekly, End: domain.AfterCount(4)}, 4)
	ctx := context.Background()

	if _, err := svc.CancelSingle(ctx, created.ID, monday.AddDays(7)); err != nil {
		t.Fatalf("CancelSingle error: %v", err)
	}
	if _, err := svc.Pause(ctx, created.ID, monday, monday.AddDays(14)); err != nil {
		t.Fatalf("Pause error: %v", err)
	}
	stored, _ := svc.Get(ctx, created.ID)
	equalStatuses(t, stored, pau, can, pau, sch)

	if _, err := svc.Resume(ctx, created.ID, monday, monday.AddDays(21)); err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	stored, _ = svc.Get(ctx, created.ID)
	equalStatuses(t, stored, sch, can, sch, sch)

	n, ok, err := svc.RemainingFrom(ctx, created.ID, monday.AddDays(14))
	if err != nil || !ok || n != 2 {
		t.Fatalf("RemainingFrom = %d, %v, %v; want 2", n, ok, err)
	}
}

func TestService_InvalidOperationsPersistNothing(t *testing.T) {
	mem := memory.New()
	pub := &fakePublisher{}
	svc := NewService(mem, pub, discardLogger(), time.UTC)
	created := createSeries(t, mem, domain.RecurrenceRule{Pattern: domain.PatternWeekly, End: domain.AfterCount(4)}, 4)
	ctx := context.Background()

	_, err := svc.CancelRange(ctx, created.ID, monday.AddDays(14), monday)
	var opErr *domain.InvalidOperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("CancelRange err = %v, want *domain.InvalidOperationError", err)
	}
	_, err = svc.EndRecurrence(ctx, created.ID, monday.AddDays(-1))
	if !errors.As(err, &opErr) {
		t.Fatalf("EndRecurrence err = %v, want *domain.InvalidOperationError", err)
	}
	stored, _ := svc.Get(ctx, created.ID)
	equalStatuses(t, stored, sch, sch, sch, sch)
	if len(pub.events) != 0 {
		t.Fatalf("events = %+v, want none", pub.events)
	}

	var vErr *service.ValidationError
	if _, err := svc.Get(ctx, uuid.Nil); !errors.As(err, &vErr) {
		t.Fatalf("Get(nil) err = %v, want *service.ValidationError", err)
	}
	if _, err := svc.Get(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get(unknown) err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestService_EndRecurrenceRewritesRule(t *testing.T) {
	mem := memory.New()
	svc := NewService(mem, nil, discardLogger(), time.UTC)
	created := createSeries(t, mem, domain.RecurrenceRule{Pattern: domain.PatternWeekly, End: domain.AfterCount(4)}, 4)
	ctx := context.Background()

	m, err := svc.EndRecurrence(ctx, created.ID, monday.AddDays(8))
	if err != nil {
		t.Fatalf("EndRecurrence error: %v", err)
	}
	if !m.RuleChanged || m.Series.Rule.End != domain.OnDate(monday.AddDays(8)) {
		t.Fatalf("mutation rule = %+v", m.Series.Rule)
	}
	stored, _ := svc.Get(ctx, created.ID)
	equalStatuses(t, stored, sch, sch, can, can)
	if stored.Rule != m.Series.Rule {
		t.Fatalf("stored rule = %+v, want %+v", stored.Rule, m.Series.Rule)
	}
}

func TestService_StaleStatusIsReported(t *testing.T) {
	series := domain.Series{
		ID:         uuid.New(),
		Rule:       domain.RecurrenceRule{Pattern: domain.PatternWeekly, End: domain.AfterCount(2)},
		AnchorDate: monday,
	}
	series.Occurrences = []domain.Occurrence{series.NewOccurrence(0, monday), series.NewOccurrence(1, monday.AddDays(7))}

	repo := &fakeRepo{
		txFn: func(ctx context.Context, seriesID uuid.UUID, fn func(ctx context.Context, tx store.SeriesTx) error) error {
			return fn(ctx, &fakeTx{
				series: series,
				applyStatusChanges: func(ctx context.Context, seriesID uuid.UUID, changes []domain.StatusChange) error {
					return store.ErrStaleStatus
				},
			})
		},
	}
	pub := &fakePublisher{}
	svc := NewService(repo, pub, discardLogger(), time.UTC)

	_, err := svc.CancelSingle(context.Background(), series.ID, monday)
	if !errors.Is(err, store.ErrStaleStatus) {
		t.Fatalf("err = %v, want %v", err, store.ErrStaleStatus)
	}
	if len(pub.events) != 0 {
		t.Fatalf("published after a failed transaction")
	}
}

func TestService_ExtendFillsWindowAndSkipsConflicts(t *testing.T) {
	mem := memory.New()
	pub := &fakePublisher{}
	svc := NewService(mem, pub, discardLogger(), time.UTC)
	created := createSeries(t, mem, domain.RecurrenceRule{Pattern: domain.PatternWeekly, End: domain.Indefinite()}, 2)
	ctx := context.Background()

	blocked := baseSlot()
	blocked.TrackID = "speech"
	blocked.Date = monday.AddDays(21)
	if _, err := mem.CreateAppointment(ctx, domain.CreateSingleAppointmentRequest{Slot: blocked}); err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}

	today := monday.AddDays(7)
	res, err := svc.Extend(ctx, created.ID, today, 4)
	if err != nil {
		t.Fatalf("Extend error: %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != blocked.Date {
		t.Fatalf("skipped = %v, want [%s]", res.Skipped, blocked.Date)
	}
	if len(res.Added) != 2 {
		t.Fatalf("added = %d, want 2", len(res.Added))
	}

	stored, _ := svc.Get(ctx, created.ID)
	var indexes []int
	for _, o := range stored.Occurrences {
		indexes = append(indexes, o.SequenceIndex)
	}
	want := []int{0, 1, 2, 4}
	if len(indexes) != len(want) {
		t.Fatalf("indexes = %v, want %v", indexes, want)
	}
	for i := range want {
		if indexes[i] != want[i] {
			t.Fatalf("indexes = %v, want %v", indexes, want)
		}
	}
	if len(pub.events) != 1 || pub.events[0].Kind != events.KindSeriesExtended {
		t.Fatalf("events = %+v", pub.events)
	}

	// Three materialized dates already fall on or after today.
	res, err = svc.Extend(ctx, created.ID, today, 3)
	if err != nil || len(res.Added) != 0 {
		t.Fatalf("second Extend = %+v, %v", res, err)
	}
}

func TestService_ExtendRefillsCancelledDates(t *testing.T) {
	mem := memory.New()
	svc := NewService(mem, nil, discardLogger(), time.UTC)
	created := createSeries(t, mem, domain.RecurrenceRule{Pattern: domain.PatternWeekly, End: domain.Indefinite()}, 4)
	ctx := context.Background()

	if _, err := svc.CancelRange(ctx, created.ID, monday.AddDays(14), monday.AddDays(21)); err != nil {
		t.Fatalf("CancelRange error: %v", err)
	}

	res, err := svc.Extend(ctx, created.ID, monday, 4)
	if err != nil {
		t.Fatalf("Extend error: %v", err)
	}
	want := []domain.Date{monday.AddDays(28), monday.AddDays(35)}
	if len(res.Added) != len(want) {
		t.Fatalf("added = %d, want %d", len(res.Added), len(want))
	}
	for i, o := range res.Added {
		if o.Date != want[i] || o.SequenceIndex != 4+i {
			t.Fatalf("added[%d] = %s #%d, want %s #%d", i, o.Date, o.SequenceIndex, want[i], 4+i)
		}
	}
}

func TestService_ExtendNeverMaterializesThePast(t *testing.T) {
	mem := memory.New()
	svc := NewService(mem, nil, discardLogger(), time.UTC)
	created := createSeries(t, mem, domain.RecurrenceRule{Pattern: domain.PatternBiweekly, End: domain.Indefinite()}, 1)

	today := monday.AddDays(100)
	res, err := svc.Extend(context.Background(), created.ID, today, 2)
	if err != nil {
		t.Fatalf("Extend error: %v", err)
	}
	if len(res.Added) != 2 {
		t.Fatalf("added = %d, want 2", len(res.Added))
	}
	for _, o := range res.Added {
		if o.Date.Before(today) {
			t.Fatalf("materialized past date %s", o.Date)
		}
		if (o.Date.Time().Sub(monday.Time())/(24*time.Hour))%14 != 0 {
			t.Fatalf("date %s is not on the biweekly cadence", o.Date)
		}
	}
}

func TestService_ExtendLeavesBoundedSeriesAlone(t *testing.T) {
	mem := memory.New()
	svc := NewService(mem, nil, discardLogger(), time.UTC)
	created := createSeries(t, mem, domain.RecurrenceRule{Pattern: domain.PatternWeekly, End: domain.AfterCount(2)}, 2)

	res, err := svc.Extend(context.Background(), created.ID, monday, 10)
	if err != nil || len(res.Added) != 0 {
		t.Fatalf("Extend = %+v, %v", res, err)
	}
}
