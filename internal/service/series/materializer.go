package series

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const DefaultMaterializerSchedule = "@daily"

type openEndedLister interface {
	ListOpenEndedSeries(ctx context.Context) ([]uuid.UUID, error)
}

// Materializer keeps a rolling window of occurrences booked for every open-ended series.
type Materializer struct {
	cron    *cron.Cron
	lister  openEndedLister
	svc     *Service
	window  int
	timeout time.Duration
	logger  *slog.Logger
}

type MaterializerConfig struct {
	// Schedule is a standard cron spec or descriptor such as "@daily".
	Schedule string
	Window   int
	// Timeout bounds one run.
	Timeout time.Duration
}

func NewMaterializer(lister openEndedLister, svc *Service, cfg MaterializerConfig, logger *slog.Logger) (*Materializer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultMaterializerSchedule
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("materializer window must be positive, got %d", cfg.Window)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	m := &Materializer{
		cron:    cron.New(cron.WithLocation(svc.loc)),
		lister:  lister,
		svc:     svc,
		window:  cfg.Window,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "materializer"),
	}
	if _, err := m.cron.AddFunc(cfg.Schedule, m.runScheduled); err != nil {
		return nil, fmt.Errorf("materializer schedule %q: %w", cfg.Schedule, err)
	}
	return m, nil
}

func (m *Materializer) Start() {
	m.cron.Start()
	m.logger.Info("materializer started", "entries", len(m.cron.Entries()))
}

// Stop stops scheduling new runs and waits for a running one, or for ctx to end.
func (m *Materializer) Stop(ctx context.Context) error {
	done := m.cron.Stop()
	select {
	case <-done.Done():
		m.logger.Info("materializer stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Materializer) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if _, err := m.RunOnce(ctx); err != nil {
		m.logger.Error("materializer run failed", "err", err)
	}
}

type RunSummary struct {
	Series  int
	Added   int
	Skipped int
	Failed  int
}

// RunOnce extends every open-ended series once. A failure on one series is logged and
// does not stop the others.
func (m *Materializer) RunOnce(ctx context.Context) (RunSummary, error) {
	ids, err := m.lister.ListOpenEndedSeries(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("list open-ended series: %w", err)
	}

	today := m.svc.Today()
	sum := RunSummary{Series: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := m.svc.Extend(ctx, id, today, m.window)
		if err != nil {
			sum.Failed++
			m.logger.Error("extend series failed", "series_id", id.String(), "err", err)
			continue
		}
		sum.Added += len(res.Added)
		sum.Skipped += len(res.Skipped)
	}

	m.logger.Info("materializer run finished",
		"series", sum.Series,
		"added", sum.Added,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
	)
	return sum, nil
}
