// Package main provides the message hub worker: it ingests data-available
// announcements from the domains, assembles bundles on demand, and cleans up
// delivered data in the background.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/coregx/messagehub"
	"github.com/coregx/messagehub/adapters/relica"
	"github.com/coregx/messagehub/adapters/sqsbus"
	"github.com/coregx/messagehub/cmd/messagehub-worker/internal/config"
	"github.com/coregx/messagehub/crossdomain"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds how long in-flight work may take after a signal.
const shutdownTimeout = 30 * time.Second

// slogLogger implements messagehub.Logger on top of *slog.Logger.
type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
func (l *slogLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}
func (l *slogLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}
func (l *slogLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
func (l *slogLogger) Info(message string) { l.logger.Info(message) }

func newLogger(level string) *slogLogger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return &slogLogger{logger: slog.New(handler).With("service", "messagehub-worker")}
}

// hub bundles the services of one worker process.
type hub struct {
	operator *messagehub.MarketOperatorService
	consumer *crossdomain.DataAvailableConsumer
	cleanup  *messagehub.CleanupWorker
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.GetDSN())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Errorf("Failed to close database: %v", closeErr)
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	logger.Infof("Database connection established: driver=%s", cfg.Database.Driver)

	if cfg.Database.Migrate {
		if err := relica.Migrate(ctx, db, cfg.Database.Prefix); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		logger.Info("Database schema is up to date")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		log.Fatalf("Failed to load AWS configuration: %v", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	})
	bus := sqsbus.NewBus(sqsClient, logger, sqsbus.WithQueueURLs(cfg.AWS.QueueURLs))

	h, err := build(cfg, db, bus, logger)
	if err != nil {
		log.Fatalf("Failed to build services: %v", err)
	}
	logger.Info("Message hub worker is ready")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.consumer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		h.cleanup.Run(gctx, cfg.Hub.CleanupInterval)
		return nil
	})

	<-ctx.Done()
	logger.Info("Shutting down message hub worker")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			logger.Errorf("Worker stopped with error: %v", err)
		}
		logger.Info("Message hub worker stopped")
	case <-time.After(shutdownTimeout):
		logger.Warnf("Worker did not stop within %s", shutdownTimeout)
	}
}

// build wires the services on top of the database and the bus.
func build(cfg *config.Config, db *sql.DB, bus crossdomain.Bus, logger messagehub.Logger) (*hub, error) {
	repos := relica.NewRepositoriesWithPrefix(db, cfg.Database.Driver, cfg.Database.Prefix)
	repos.Cabinet.SetMaxItemsPerDrawer(int64(cfg.Hub.MaxItemsPerDrawer))

	var notifications messagehub.NotificationService
	if cfg.Hub.EnableNotifications {
		notifications = messagehub.NewLoggingNotificationService(logger)
	} else {
		notifications = &messagehub.NoOpNotificationService{}
	}

	client, err := crossdomain.NewClient(
		crossdomain.WithClientBus(bus),
		crossdomain.WithClientLogger(logger),
		crossdomain.WithReplyTimeout(cfg.Hub.ReplyTimeout),
	)
	if err != nil {
		return nil, err
	}

	assembler, err := messagehub.NewBundleAssembler(
		messagehub.WithAssemblerRepositories(repos.Cabinet, repos.Bundles),
		messagehub.WithContentRequester(client),
		messagehub.WithAssemblerLogger(logger),
		messagehub.WithAssemblerNotifications(notifications),
		messagehub.WithMaxBundleWeight(cfg.Hub.MaxBundleWeight),
	)
	if err != nil {
		return nil, err
	}

	operator, err := messagehub.NewMarketOperatorService(
		messagehub.WithOperatorAssembler(assembler),
		messagehub.WithOperatorBundles(repos.Bundles),
		messagehub.WithOperatorLogger(logger),
		messagehub.WithDequeueNotifier(crossdomain.NewDequeueNotifier(bus, logger)),
		messagehub.WithOperatorNotifications(notifications),
	)
	if err != nil {
		return nil, err
	}

	producer, err := messagehub.NewDataAvailableService(
		messagehub.WithDataAvailableStorage(repos.Cabinet),
		messagehub.WithDataAvailableLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	consumer, err := crossdomain.NewDataAvailableConsumer(bus, producer, logger)
	if err != nil {
		return nil, err
	}

	cleanup, err := messagehub.NewCleanupWorker(
		messagehub.WithRepositories(repos.Bundles, repos.Cabinet),
		messagehub.WithLogger(logger),
		messagehub.WithRetention(cfg.Hub.CleanupRetention),
		messagehub.WithBatchSize(cfg.Hub.CleanupBatchSize),
	)
	if err != nil {
		return nil, err
	}

	return &hub{operator: operator, consumer: consumer, cleanup: cleanup}, nil
}
