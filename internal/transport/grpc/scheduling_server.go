package grpc

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"clinicsched/backend/internal/domain"
	"clinicsched/backend/internal/export/ical"
	"clinicsched/backend/internal/service"
	"clinicsched/backend/internal/service/booking"
	"clinicsched/backend/internal/store"
)

type SchedulingServer struct {
	booking bookingService
	series  seriesService
	loc     *time.Location
	now     func() time.Time
	log     *slog.Logger
}

var _ SchedulingServiceServer = (*SchedulingServer)(nil)

type bookingService interface {
	Preview(selection *domain.SelectionSet, rule *domain.RecurrenceRule, limit int) ([]booking.PreviewItem, error)
	Commit(ctx context.Context, in booking.Input) ([]booking.Result, error)
}

type seriesService interface {
	Today() domain.Date
	Get(ctx context.Context, seriesID uuid.UUID) (domain.Series, error)
	CancelSingle(ctx context.Context, seriesID uuid.UUID, date domain.Date) (domain.Mutation, error)
	CancelFuture(ctx context.Context, seriesID uuid.UUID, from domain.Date) (domain.Mutation, error)
	CancelFutureAsOf(ctx context.Context, seriesID uuid.UUID, from domain.Date) (domain.Mutation, error)
	CancelRange(ctx context.Context, seriesID uuid.UUID, start, end domain.Date) (domain.Mutation, error)
	EndRecurrence(ctx context.Context, seriesID uuid.UUID, last domain.Date) (domain.Mutation, error)
	Pause(ctx context.Context, seriesID uuid.UUID, start, end domain.Date) (domain.Mutation, error)
	Resume(ctx context.Context, seriesID uuid.UUID, start, end domain.Date) (domain.Mutation, error)
}

// NewSchedulingServer serves booking and series operations. loc is the clinic time zone
// calendar exports are written in.
func NewSchedulingServer(bookings bookingService, series seriesService, loc *time.Location, log *slog.Logger) *SchedulingServer {
	if log == nil {
		log = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SchedulingServer{
		booking: bookings,
		series:  series,
		loc:     loc,
		now:     time.Now,
		log:     log.With(slog.String("component", "grpc.scheduling")),
	}
}

func (s *SchedulingServer) PreviewOccurrences(ctx context.Context, req *PreviewOccurrencesRequest) (*PreviewOccurrencesResponse, error) {
	log := s.log.With(slog.String("rpc", "PreviewOccurrences"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	sel, err := selectionFrom(req.Slots)
	if err != nil {
		return nil, s.statusError(log, err)
	}

	items, err := s.booking.Preview(sel, req.Rule, req.Limit)
	if err != nil {
		return nil, s.statusError(log, err)
	}

	out := make([]PreviewItem, 0, len(items))
	for _, it := range items {
		out = append(out, PreviewItem{Slot: it.Slot, Dates: it.Dates, Total: it.Total})
	}
	log.Debug("occurrences previewed", slog.Int("slots", len(out)))
	return &PreviewOccurrencesResponse{Items: out}, nil
}

func (s *SchedulingServer) CommitSelection(ctx context.Context, req *CommitSelectionRequest) (*CommitSelectionResponse, error) {
	log := s.log.With(slog.String("rpc", "CommitSelection"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	sel, err := selectionFrom(req.Slots)
	if err != nil {
		return nil, s.statusError(log, err)
	}

	results, err := s.booking.Commit(ctx, booking.Input{
		Selection:      sel,
		Rule:           req.Rule,
		IdempotencyKey: idempotencyKey(ctx),
	})
	if err != nil {
		return nil, s.statusError(log, err)
	}

	resp := &CommitSelectionResponse{Results: make([]CommitResult, 0, len(results))}
	for _, r := range results {
		cr := toCommitResult(r)
		if cr.Status == CommitStatusBooked {
			resp.Booked++
		}
		resp.Results = append(resp.Results, cr)
	}

	log.Info("selection committed", slog.Int("requested", len(results)), slog.Int("booked", resp.Booked))
	return resp, nil
}

func toCommitResult(r booking.Result) CommitResult {
	out := CommitResult{Slot: r.Key}
	switch {
	case r.OK() && r.Series != nil:
		out.Status = CommitStatusBooked
		out.SeriesID = r.Series.ID.String()
		out.Dates = make([]domain.Date, 0, len(r.Series.Occurrences))
		for _, o := range r.Series.Occurrences {
			out.Dates = append(out.Dates, o.Date)
		}
	case r.OK() && r.Occurrence != nil:
		out.Status = CommitStatusBooked
		out.OccurrenceID = r.Occurrence.ID.String()
		out.Dates = []domain.Date{r.Occurrence.Date}
	default:
		if conflict, ok := r.Conflict(); ok {
			out.Status = CommitStatusConflict
			out.ConflictDate = conflict.Date
			out.Error = conflict.Error()
			break
		}
		out.Status = CommitStatusFailed
		switch {
		case errors.Is(r.Err, context.Canceled), errors.Is(r.Err, context.DeadlineExceeded):
			out.Error = r.Err.Error()
		case errors.Is(r.Err, store.ErrIdempotencyConflict):
			out.Error = "This request key was already used for a different booking."
		default:
			out.Error = "internal error"
		}
	}
	return out
}

func (s *SchedulingServer) GetSeries(ctx context.Context, req *GetSeriesRequest) (*GetSeriesResponse, error) {
	log := s.log.With(slog.String("rpc", "GetSeries"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := parseSeriesID(log, req.SeriesID)
	if err != nil {
		return nil, err
	}

	series, err := s.series.Get(ctx, id)
	if err != nil {
		return nil, s.statusError(log, err, slog.String("series_id", id.String()))
	}

	resp := &GetSeriesResponse{Series: series}
	if !req.RemainingFrom.IsZero() {
		if n, ok := domain.RemainingFrom(series, req.RemainingFrom); ok {
			resp.Remaining = &n
		}
	}
	return resp, nil
}

func (s *SchedulingServer) CancelOccurrence(ctx context.Context, req *CancelOccurrenceRequest) (*MutationResponse, error) {
	log := s.log.With(slog.String("rpc", "CancelOccurrence"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if req.Date.IsZero() {
		log.Warn("invalid request", slog.String("reason", "missing_date"))
		return nil, status.Error(codes.InvalidArgument, "date is required")
	}
	return s.mutate(log, req.SeriesID, func(id uuid.UUID) (domain.Mutation, error) {
		return s.series.CancelSingle(ctx, id, req.Date)
	})
}

func (s *SchedulingServer) CancelFuture(ctx context.Context, req *CancelFutureRequest) (*MutationResponse, error) {
	log := s.log.With(slog.String("rpc", "CancelFuture"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if req.From.IsZero() {
		log.Warn("invalid request", slog.String("reason", "missing_from"))
		return nil, status.Error(codes.InvalidArgument, "from is required")
	}
	return s.mutate(log, req.SeriesID, func(id uuid.UUID) (domain.Mutation, error) {
		if req.FromToday {
			return s.series.CancelFutureAsOf(ctx, id, req.From)
		}
		return s.series.CancelFuture(ctx, id, req.From)
	})
}

func (s *SchedulingServer) CancelRange(ctx context.Context, req *DateRangeRequest) (*MutationResponse, error) {
	log := s.log.With(slog.String("rpc", "CancelRange"))
	if err := checkRange(log, req); err != nil {
		return nil, err
	}
	return s.mutate(log, req.SeriesID, func(id uuid.UUID) (domain.Mutation, error) {
		return s.series.CancelRange(ctx, id, req.Start, req.End)
	})
}

func (s *SchedulingServer) EndRecurrence(ctx context.Context, req *EndRecurrenceRequest) (*MutationResponse, error) {
	log := s.log.With(slog.String("rpc", "EndRecurrence"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if req.LastDate.IsZero() {
		log.Warn("invalid request", slog.String("reason", "missing_last_date"))
		return nil, status.Error(codes.InvalidArgument, "last_date is required")
	}
	return s.mutate(log, req.SeriesID, func(id uuid.UUID) (domain.Mutation, error) {
		return s.series.EndRecurrence(ctx, id, req.LastDate)
	})
}

func (s *SchedulingServer) PauseRange(ctx context.Context, req *DateRangeRequest) (*MutationResponse, error) {
	log := s.log.With(slog.String("rpc", "PauseRange"))
	if err := checkRange(log, req); err != nil {
		return nil, err
	}
	return s.mutate(log, req.SeriesID, func(id uuid.UUID) (domain.Mutation, error) {
		return s.series.Pause(ctx, id, req.Start, req.End)
	})
}

func (s *SchedulingServer) ResumeRange(ctx context.Context, req *DateRangeRequest) (*MutationResponse, error) {
	log := s.log.With(slog.String("rpc", "ResumeRange"))
	if err := checkRange(log, req); err != nil {
		return nil, err
	}
	return s.mutate(log, req.SeriesID, func(id uuid.UUID) (domain.Mutation, error) {
		return s.series.Resume(ctx, id, req.Start, req.End)
	})
}

func (s *SchedulingServer) ExportSeriesICS(ctx context.Context, req *ExportSeriesICSRequest) (*ExportSeriesICSResponse, error) {
	log := s.log.With(slog.String("rpc", "ExportSeriesICS"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := parseSeriesID(log, req.SeriesID)
	if err != nil {
		return nil, err
	}

	series, err := s.series.Get(ctx, id)
	if err != nil {
		return nil, s.statusError(log, err, slog.String("series_id", id.String()))
	}

	opts := ical.Options{
		Location: s.loc,
		Stamp:    s.now().UTC(),
		Summary:  strings.TrimSpace(req.Summary),
	}
	var buf bytes.Buffer
	if req.PerOccurrence {
		err = ical.WriteOccurrences(&buf, series.Occurrences, opts)
	} else {
		err = ical.WriteSeries(&buf, series, opts)
	}
	if err != nil {
		return nil, s.statusError(log, err, slog.String("series_id", id.String()))
	}

	log.Debug("series exported",
		slog.String("series_id", id.String()),
		slog.Bool("per_occurrence", req.PerOccurrence),
		slog.Int("bytes", buf.Len()),
	)
	return &ExportSeriesICSResponse{Calendar: buf.String()}, nil
}

func (s *SchedulingServer) CheckRetroactiveDate(ctx context.Context, req *CheckRetroactiveDateRequest) (*CheckRetroactiveDateResponse, error) {
	log := s.log.With(slog.String("rpc", "CheckRetroactiveDate"))

	if req == nil || req.Date.IsZero() {
		log.Warn("invalid request", slog.String("reason", "missing_date"))
		return nil, status.Error(codes.InvalidArgument, "date is required")
	}
	today := s.series.Today()
	return &CheckRetroactiveDateResponse{
		Status: domain.ValidateRetroactiveDate(req.Date, today).String(),
		Today:  today,
	}, nil
}

func (s *SchedulingServer) mutate(log *slog.Logger, rawID string, op func(uuid.UUID) (domain.Mutation, error)) (*MutationResponse, error) {
	id, err := parseSeriesID(log, rawID)
	if err != nil {
		return nil, err
	}

	m, err := op(id)
	if err != nil {
		return nil, s.statusError(log, err, slog.String("series_id", id.String()))
	}

	log.Info(
		"series mutated",
		slog.String("series_id", id.String()),
		slog.Int("changes", len(m.Changes)),
		slog.Bool("rule_changed", m.RuleChanged),
	)
	return &MutationResponse{Series: m.Series, Changes: m.Changes, RuleChanged: m.RuleChanged}, nil
}

func checkRange(log *slog.Logger, req *DateRangeRequest) error {
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return status.Error(codes.InvalidArgument, "request is required")
	}
	if req.Start.IsZero() || req.End.IsZero() {
		log.Warn("invalid request", slog.String("reason", "missing_range"), slog.String("series_id", req.SeriesID))
		return status.Error(codes.InvalidArgument, "start and end are required")
	}
	return nil
}

func parseSeriesID(log *slog.Logger, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return uuid.Nil, status.Error(codes.InvalidArgument, "series_id must be a UUID")
	}
	return id, nil
}

// selectionFrom stages slots in request order. A slot listed twice is selected once.
func selectionFrom(slots []domain.CandidateSlot) (*domain.SelectionSet, error) {
	sel := domain.NewSelectionSet()
	for _, slot := range slots {
		if strings.TrimSpace(string(slot.TrackID)) == "" {
			return nil, service.NewValidationError("every slot needs a track_id")
		}
		sel.SelectAll(slot.TrackID, []domain.CandidateSlot{slot})
	}
	return sel, nil
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("idempotency-key")
	if len(values) == 0 {
		values = md.Get("x-idempotency-key")
	}
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// statusError maps service and store errors to gRPC status codes and logs them at the
// level their cause deserves.
func (s *SchedulingServer) statusError(log *slog.Logger, err error, attrs ...any) error {
	var (
		vErr     *service.ValidationError
		ruleErr  *domain.InvalidRuleError
		opErr    *domain.InvalidOperationError
		emptyErr *domain.EmptySelectionError
		conflict *domain.SlotConflictError
	)
	logArgs := append([]any{slog.Any("err", err)}, attrs...)

	switch {
	case errors.As(err, &vErr), errors.As(err, &ruleErr), errors.As(err, &opErr), errors.Is(err, domain.ErrUnboundedSeries):
		log.Warn("invalid request", logArgs...)
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &emptyErr):
		log.Warn("invalid request", logArgs...)
		return status.Error(codes.FailedPrecondition, "Select at least one slot before booking.")
	case errors.Is(err, store.ErrNotFound):
		log.Info("series not found", logArgs...)
		return status.Error(codes.NotFound, "series not found")
	case errors.As(err, &conflict):
		log.Info("slot conflict", logArgs...)
		return status.Error(codes.Aborted, conflict.Error())
	case errors.Is(err, store.ErrStaleStatus), errors.Is(err, store.ErrConflict):
		log.Info("concurrent update", logArgs...)
		return status.Error(codes.Aborted, "The series changed while this request was running. Reload and try again.")
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info("idempotency conflict", logArgs...)
		return status.Error(codes.FailedPrecondition, "This request key was already used for a different booking. Try again.")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("request timed out", logArgs...)
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		log.Info("request canceled", logArgs...)
		return status.Error(codes.Canceled, "request canceled")
	default:
		log.Error("request failed", logArgs...)
		return status.Error(codes.Internal, "internal error")
	}
}
