// Package booking turns a staged selection of candidate slots into bookings.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"clinicsched/backend/internal/domain"
	"clinicsched/backend/internal/events"
	"clinicsched/backend/internal/service"
	"clinicsched/backend/internal/store"
)

const (
	DefaultCommitConcurrency = 4
	DefaultMaterializeWindow = store.MaterializeLookahead
	DefaultPreviewLimit      = 8
)

type Config struct {
	// CommitConcurrency bounds how many create requests are in flight at once.
	CommitConcurrency int
	// MaterializeWindow is how many dates an indefinite series books up front.
	MaterializeWindow int
	PreviewLimit      int
}

func (c Config) withDefaults() Config {
	if c.CommitConcurrency <= 0 {
		c.CommitConcurrency = DefaultCommitConcurrency
	}
	if c.MaterializeWindow <= 0 {
		c.MaterializeWindow = DefaultMaterializeWindow
	}
	if c.PreviewLimit <= 0 {
		c.PreviewLimit = DefaultPreviewLimit
	}
	return c
}

type Committer struct {
	repo      store.BookingRepository
	publisher events.Publisher
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

func NewCommitter(repo store.BookingRepository, publisher events.Publisher, logger *slog.Logger, cfg Config) *Committer {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Committer{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("component", "booking"),
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

type Input struct {
	Selection *domain.SelectionSet
	// Rule is nil for one-off sessions.
	Rule           *domain.RecurrenceRule
	IdempotencyKey string
}

// Result is the outcome of one create request. Exactly one of Occurrence, Series and Err
// is set.
type Result struct {
	Key        domain.SlotKey
	Request    domain.CreateRequest
	Occurrence *domain.Occurrence
	Series     *domain.Series
	Err        error
}

func (r Result) OK() bool { return r.Err == nil }

// Conflict returns the slot conflict behind a failed result.
func (r Result) Conflict() (*domain.SlotConflictError, bool) {
	var conflict *domain.SlotConflictError
	if errors.As(r.Err, &conflict) {
		return conflict, true
	}
	return nil, false
}

func recurring(rule *domain.RecurrenceRule) bool {
	return rule != nil && !rule.Single()
}

func idempotentID(key string, slot domain.SlotKey) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("clinicsched:commit:"+key+":"+slot.String()))
}

// Plan builds one create request per selected slot, in selection order. Every slot
// keeps its own anchor; slots are never merged into one series.
func (c *Committer) Plan(in Input) ([]domain.CreateRequest, error) {
	if in.Selection == nil || in.Selection.TotalSelected() == 0 {
		return nil, &domain.EmptySelectionError{}
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > service.MaxIdempotencyKeyLength {
		return nil, service.NewValidationError("idempotency_key too long")
	}

	slots := in.Selection.All()
	for _, slot := range slots {
		if !slot.Time.Valid() {
			return nil, service.NewValidationError("slot time " + slot.Time.String() + " is not a valid time of day")
		}
		if slot.TherapistID == "" {
			return nil, service.NewValidationError("therapist_id is required")
		}
		if recurring(in.Rule) {
			if err := in.Rule.Validate(slot.Date); err != nil {
				return nil, err
			}
		}
	}

	reqs := make([]domain.CreateRequest, 0, len(slots))
	for _, slot := range slots {
		if !recurring(in.Rule) {
			single := &domain.CreateSingleAppointmentRequest{Slot: slot}
			if key != "" {
				single.ID = idempotentID(key, slot.Key())
			}
			reqs = append(reqs, domain.CreateRequest{Single: single})
			continue
		}

		var (
			dates []domain.Date
			err   error
		)
		if in.Rule.Bounded() {
			dates, err = domain.Materialize(slot.Date, *in.Rule)
		} else {
			dates, err = domain.Take(slot.Date, *in.Rule, c.cfg.MaterializeWindow)
		}
		if err != nil {
			return nil, err
		}
		series := &domain.CreateSeriesRequest{Slot: slot, Rule: *in.Rule, Dates: dates}
		if key != "" {
			series.SeriesID = idempotentID(key, slot.Key())
		}
		reqs = append(reqs, domain.CreateRequest{Series: series})
	}
	return reqs, nil
}

// Commit dispatches the planned requests concurrently and reports one result per
// request in plan order. A failed item never stops the others. Requests already handed
// to the store run to completion even if ctx ends; the rest fail with ctx's error.
func (c *Committer) Commit(ctx context.Context, in Input) ([]Result, error) {
	reqs, err := c.Plan(in)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(reqs))
	dispatchCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(c.cfg.CommitConcurrency)
	for i, req := range reqs {
		results[i] = Result{Key: req.Key(), Request: req}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			c.dispatch(dispatchCtx, &results[i])
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	c.logger.Info("selection committed",
		"requests", len(results),
		"succeeded", len(results)-failed,
		"failed", failed,
	)
	return results, nil
}

func (c *Committer) dispatch(ctx context.Context, r *Result) {
	switch {
	case r.Request.Series != nil:
		s, err := c.repo.CreateSeries(ctx, *r.Request.Series)
		if err != nil {
			r.Err = err
			c.logFailure(r)
			return
		}
		r.Series = &s
		c.publish(ctx, events.SeriesCreated(s, c.now().UTC()))
	case r.Request.Single != nil:
		o, err := c.repo.CreateAppointment(ctx, *r.Request.Single)
		if err != nil {
			r.Err = err
			c.logFailure(r)
			return
		}
		r.Occurrence = &o
		c.publish(ctx, events.AppointmentBooked(o, c.now().UTC()))
	}
}

func (c *Committer) logFailure(r *Result) {
	if conflict, ok := r.Conflict(); ok {
		c.logger.Info("slot conflict",
			"therapist_id", r.Key.TherapistID,
			"track_id", r.Key.TrackID,
			"anchor", r.Key.Date.String(),
			"conflict_date", conflict.Date.String(),
		)
		return
	}
	c.logger.Error("create request failed",
		"therapist_id", r.Key.TherapistID,
		"track_id", r.Key.TrackID,
		"anchor", r.Key.Date.String(),
		"err", r.Err,
	)
}

func (c *Committer) publish(ctx context.Context, e events.Event) {
	if err := c.publisher.Publish(ctx, e); err != nil {
		c.logger.Warn("event publish failed", "kind", e.Kind, "err", err)
	}
}

// PreviewItem lists the first dates one selected slot would book. Total is the full
// occurrence count of a bounded rule and -1 for an indefinite one.
type PreviewItem struct {
	Slot  domain.CandidateSlot
	Dates []domain.Date
	Total int
}

// Preview returns, per selected slot in selection order, the first limit dates of its
// series. A non-positive limit uses the configured default.
func (c *Committer) Preview(selection *domain.SelectionSet, rule *domain.RecurrenceRule, limit int) ([]PreviewItem, error) {
	if selection == nil || selection.TotalSelected() == 0 {
		return nil, &domain.EmptySelectionError{}
	}
	if limit <= 0 {
		limit = c.cfg.PreviewLimit
	}

	slots := selection.All()
	out := make([]PreviewItem, 0, len(slots))
	for _, slot := range slots {
		if !recurring(rule) {
			out = append(out, PreviewItem{Slot: slot, Dates: []domain.Date{slot.Date}, Total: 1})
			continue
		}
		dates, err := domain.Take(slot.Date, *rule, limit)
		if err != nil {
			return nil, err
		}
		total := -1
		if rule.Bounded() {
			if total, err = domain.Count(slot.Date, *rule); err != nil {
				return nil, err
			}
		}
		out = append(out, PreviewItem{Slot: slot, Dates: dates, Total: total})
	}
	return out, nil
}
