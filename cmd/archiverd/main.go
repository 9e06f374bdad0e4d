// Package main implements archiverd, the Strata archival daemon. It
// consumes the engine's event stream and materializes it into PostgreSQL
// (durable history), Redis (hot reads), and InfluxDB (time series). The
// archive is a downstream view; it never feeds back into the engines.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strataforge/strata/internal/config"
	"github.com/strataforge/strata/internal/events"
	"github.com/strataforge/strata/internal/store"
	"github.com/strataforge/strata/internal/store/influx"
	"github.com/strataforge/strata/internal/store/postgres"
	"github.com/strataforge/strata/internal/store/redis"
	"github.com/strataforge/strata/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting archiverd",
		"version", cfg.Version,
		"events_topic", cfg.EventsTopic,
	)

	// Connect storage backends
	manager, err := store.NewManager(&store.Config{
		Postgres: &postgres.Config{
			URL:          cfg.PostgresURL,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			MaxLifetime:  time.Hour,
		},
		Redis: &redis.Config{
			URL:          cfg.RedisURL,
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Influx: &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		},
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to connect storage backends")
		os.Exit(1)
	}

	// Create Kafka client and the archiver
	kafkaClient := events.NewClient(cfg.KafkaBrokers, logger.Logger)
	archiver := NewArchiver(cfg, logger, manager)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Consume the event stream
	go func() {
		if err := archiver.Start(ctx, kafkaClient); err != nil && err != context.Canceled {
			logger.WithError(err).Error("event consumer failed")
			cancel()
		}
	}()

	// Wait for shutdown signal
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()

	if err := kafkaClient.Close(); err != nil {
		logger.WithError(err).Error("failed to close Kafka client")
	}
	if err := manager.Close(); err != nil {
		logger.WithError(err).Error("failed to close storage backends")
		os.Exit(1)
	}

	logger.Info("archiverd stopped")
}

// recordArchiver is the slice of the store manager the archiver needs.
type recordArchiver interface {
	ArchiveRecord(ctx context.Context, rec events.Record) error
}

// Archiver consumes engine events and applies them to the archive.
type Archiver struct {
	cfg     *config.Config
	logger  *log.Logger
	archive recordArchiver
	done    chan struct{}
}

// NewArchiver creates a new archiver.
func NewArchiver(cfg *config.Config, logger *log.Logger, archive recordArchiver) *Archiver {
	return &Archiver{
		cfg:     cfg,
		logger:  logger.WithComponent("archiverd"),
		archive: archive,
		done:    make(chan struct{}),
	}
}

// Start consumes the event topic until the context is cancelled. Malformed
// records are logged and skipped; archival failures are logged but do not
// stall the stream, since the raw topic retains the records for replay.
func (a *Archiver) Start(ctx context.Context, client *events.Client) error {
	reader := client.GetConsumer(a.cfg.EventsTopic, a.cfg.KafkaGroupID+"-archiver")
	defer func() {
		if err := reader.Close(); err != nil {
			a.logger.WithError(err).Error("failed to close Kafka reader")
		}
	}()

	a.logger.Info("started event consumer", "topic", a.cfg.EventsTopic)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.done:
			return nil
		default:
		}

		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.WithError(err).Error("failed to read event")
			continue
		}

		var rec events.Record
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			a.logger.WithError(err).Error("failed to unmarshal event",
				"offset", msg.Offset)
			continue
		}

		if err := a.Process(ctx, rec); err != nil {
			a.logger.WithError(err).Error("failed to archive event",
				"kind", string(rec.Kind),
				"entity_id", rec.EntityID,
				"offset", msg.Offset,
			)
		}
	}
}

// Shutdown stops the consumer loop.
func (a *Archiver) Shutdown() {
	close(a.done)
}

// Process applies one event record to the archive.
func (a *Archiver) Process(ctx context.Context, rec events.Record) error {
	start := time.Now()
	err := a.archive.ArchiveRecord(ctx, rec)
	if err == nil {
		a.logger.Debug("archived event",
			"kind", string(rec.Kind),
			"entity_id", rec.EntityID,
			"duration_ms", float64(time.Since(start).Nanoseconds())/1e6,
		)
	}
	return err
}
