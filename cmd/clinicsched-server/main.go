package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"clinicsched/backend/internal/config"
	"clinicsched/backend/internal/events"
	"clinicsched/backend/internal/service/booking"
	"clinicsched/backend/internal/service/series"
	"clinicsched/backend/internal/store"
	"clinicsched/backend/internal/store/memory"
	"clinicsched/backend/internal/store/postgres"
	grpcTransport "clinicsched/backend/internal/transport/grpc"
)

const serviceName = "clinicsched-server"

func main() {
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Recurring therapy session booking server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(previewCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gRPC server and the series materializer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			log := newLogger(cfg.LogLevel)
			slog.SetDefault(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := runServer(ctx, cfg, log); err != nil {
				log.Error("server stopped with error", slog.Any("err", err))
				return err
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			db, err := postgres.Open(cfg.DatabaseURL, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = postgres.Close(db) }()

			applied, err := postgres.Migrate(cmd.Context(), db, dir)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", len(applied))
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to database.migrations_dir)")
	cmd.AddCommand(upCmd)

	return cmd
}

type scheduleStore interface {
	store.BookingRepository
	store.SeriesRepository
}

func runServer(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	log.Info(
		"starting",
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("log_level", cfg.LogLevel),
		slog.String("store", cfg.StoreDriver),
		slog.String("clinic_timezone", cfg.ClinicTimezone),
	)

	repo, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, closePublisher, err := newPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer closePublisher()

	committer := booking.NewCommitter(repo, publisher, log, booking.Config{
		CommitConcurrency: cfg.CommitConcurrency,
		MaterializeWindow: cfg.MaterializeWindow,
		PreviewLimit:      cfg.PreviewLimit,
	})
	seriesSvc := series.NewService(repo, publisher, log, cfg.Location)

	var materializer *series.Materializer
	if cfg.MaterializerEnabled {
		materializer, err = series.NewMaterializer(repo, seriesSvc, series.MaterializerConfig{
			Schedule: cfg.MaterializerSchedule,
			Window:   cfg.MaterializeWindow,
			Timeout:  cfg.MaterializerTimeout,
		}, log)
		if err != nil {
			return err
		}
		materializer.Start()
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(defaultRequestTimeoutInterceptor(cfg.GRPCRequestTimeout)),
	)
	grpcTransport.RegisterSchedulingServiceServer(grpcServer, grpcTransport.NewSchedulingServer(committer, seriesSvc, cfg.Location, log))

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		return fmt.Errorf("grpc listen on %s: %w", cfg.GRPCAddr(), err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()

	log.Info("grpc server started", slog.String("grpc_addr", cfg.GRPCAddr()))

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdown(log, grpcServer, cfg.ShutdownTimeout)
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErr = fmt.Errorf("grpc serve: %w", err)
		}
	}

	if materializer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := materializer.Stop(stopCtx); err != nil {
			log.Warn("materializer stop timed out", slog.Any("err", err))
		}
	}
	return serveErr
}

func poolConfig(cfg config.Config) postgres.PoolConfig {
	return postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	}
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (scheduleStore, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		log.Warn("using in-memory store; bookings are lost on restart")
		return memory.New(), func() {}, nil
	}

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(cfg.DatabaseURL, poolConfig(cfg))
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		return nil, nil, err
	}
	closeDB := func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}

	if cfg.MigrateOnStart {
		applied, err := postgres.Migrate(ctx, db, cfg.MigrationsDir)
		if err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("migrate on start: %w", err)
		}
		log.Info("migrations applied", slog.Int("count", len(applied)), slog.String("dir", cfg.MigrationsDir))
	}

	return postgres.NewSchedulingRepo(db), closeDB, nil
}

func newPublisher(cfg config.Config, log *slog.Logger) (events.Publisher, func(), error) {
	if cfg.AMQPURL == "" {
		log.Info("event publishing disabled")
		return events.NopPublisher{}, func() {}, nil
	}

	p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue, log)
	if err != nil {
		return nil, nil, err
	}
	log.Info("event publishing enabled", slog.String("queue", cfg.AMQPQueue))
	return p, func() {
		if err := p.Close(); err != nil {
			log.Warn("event publisher close failed", slog.Any("err", err))
		}
	}, nil
}

func defaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

func shutdown(log *slog.Logger, s *grpc.Server, timeout time.Duration) {
	log.Info("shutting down grpc server", slog.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-timer.C:
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)})).With(
		slog.String("service", serviceName),
	)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
