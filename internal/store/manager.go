// Package store coordinates the engine's archival backends: PostgreSQL for
// durable state, Redis for hot reads, and InfluxDB for time series. The
// archiver feeds it the ordered event stream; it never calls back into the
// engines.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/strataforge/strata/internal/events"
	"github.com/strataforge/strata/internal/store/influx"
	"github.com/strataforge/strata/internal/store/postgres"
	"github.com/strataforge/strata/internal/store/redis"
	"github.com/strataforge/strata/pkg/circuit"
	"github.com/strataforge/strata/pkg/errors"
	"github.com/strataforge/strata/pkg/log"
	"github.com/strataforge/strata/pkg/retry"
)

// Manager coordinates archival across PostgreSQL, Redis, and InfluxDB
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	// Repositories
	Sessions  *postgres.SessionRepository
	Proposals *postgres.ProposalRepository
	Events    *postgres.EventRepository

	logger *log.Logger

	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// Config holds configuration for all storage systems
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config
}

// NewManager connects all storage backends. A failure to reach any backend
// tears down the ones already opened.
func NewManager(cfg *Config, logger *log.Logger) (*Manager, error) {
	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
			"failed to connect to PostgreSQL")
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		if closeErr := pgClient.Close(); closeErr != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis").
				WithContext("postgres_cleanup_error", closeErr.Error())
		}
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
			"failed to connect to Redis")
	}

	influxClient, err := influx.NewClient(cfg.Influx)
	if err != nil {
		var closeErrs []error
		if closeErr := pgClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}
		if closeErr := redisClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}

		wrapped := errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
			"failed to connect to InfluxDB")
		if len(closeErrs) > 0 {
			return nil, wrapped.WithContext("cleanup_errors", fmt.Sprintf("%v", closeErrs))
		}
		return nil, wrapped
	}

	cbConfig := &circuit.Config{
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}

	return &Manager{
		Postgres:       pgClient,
		Redis:          redisClient,
		Influx:         influxClient,
		Sessions:       postgres.NewSessionRepository(pgClient.DB()),
		Proposals:      postgres.NewProposalRepository(pgClient.DB()),
		Events:         postgres.NewEventRepository(pgClient.DB()),
		logger:         logger.WithComponent("store"),
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.StorageConfig(),
	}, nil
}

// Close closes all storage connections
func (m *Manager) Close() error {
	var errs []error

	if err := m.Postgres.Close(); err != nil {
		errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
	}

	if err := m.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis close error: %w", err))
	}

	m.Influx.Close()

	if len(errs) > 0 {
		return fmt.Errorf("storage close errors: %v", errs)
	}

	return nil
}

// Health checks all storage connections
func (m *Manager) Health(ctx context.Context) error {
	if err := m.Postgres.Health(ctx); err != nil {
		return fmt.Errorf("PostgreSQL health check failed: %w", err)
	}

	if err := m.Redis.Health(ctx); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	if err := m.Influx.Health(ctx); err != nil {
		return fmt.Errorf("InfluxDB health check failed: %w", err)
	}

	return nil
}

// ArchiveRecord applies one engine event to every backend. The PostgreSQL
// writes are the critical path and run behind the breaker and retry; Redis
// and InfluxDB updates are best effort.
func (m *Manager) ArchiveRecord(ctx context.Context, rec events.Record) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.appendRaw(ctx, rec); err != nil {
				return err
			}
			return m.applyRecord(ctx, rec)
		})
	})
}

func (m *Manager) appendRaw(ctx context.Context, rec events.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "archive_record",
			"failed to encode event fields")
	}

	event := &postgres.EngineEvent{
		Kind:       string(rec.Kind),
		EntityID:   int64(rec.EntityID),
		Actor:      rec.Actor,
		OccurredAt: rec.OccurredAt,
		Fields:     fields,
	}
	if err := m.Events.Append(ctx, event); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "archive_record",
			"failed to append raw event").
			WithContext("kind", string(rec.Kind)).
			WithContext("entity_id", rec.EntityID)
	}
	return nil
}

func (m *Manager) applyRecord(ctx context.Context, rec events.Record) error {
	switch rec.Kind {
	case events.KindSessionOpened:
		return m.archiveSessionOpened(ctx, rec)
	case events.KindSessionClaimed:
		return m.archiveSessionClaimed(ctx, rec)
	case events.KindSessionClosed:
		return m.archiveSessionClosed(ctx, rec)
	case events.KindDifficultyChanged:
		return m.archiveDifficultyChanged(ctx, rec)
	case events.KindProposalCreated:
		return m.archiveProposalCreated(ctx, rec)
	case events.KindVoteCast:
		return m.archiveVoteCast(ctx, rec)
	case events.KindProposalFinalized:
		return m.archiveProposalFinalized(ctx, rec)
	default:
		m.logger.Warn("skipping unknown event kind", "kind", string(rec.Kind))
		return nil
	}
}

func (m *Manager) archiveSessionOpened(ctx context.Context, rec events.Record) error {
	endTime, err := time.Parse(time.RFC3339, rec.Fields["end_time"])
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "archive_session",
			"malformed end_time in session event").
			WithContext("session_id", rec.EntityID)
	}
	tierID, _ := strconv.ParseInt(rec.Fields["tier_id"], 10, 64)
	multiplier, _ := strconv.ParseInt(rec.Fields["multiplier_bp"], 10, 64)

	session := &postgres.Session{
		SessionID:       int64(rec.EntityID),
		Owner:           rec.Actor,
		Amount:          rec.Fields["amount"],
		TierID:          tierID,
		DurationSeconds: int64(endTime.Sub(rec.OccurredAt).Seconds()),
		MultiplierBP:    multiplier,
		StartTime:       rec.OccurredAt,
		EndTime:         endTime,
	}
	if err := m.Sessions.UpsertOpened(ctx, session); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "archive_session",
			"failed to store session").
			WithContext("session_id", rec.EntityID)
	}

	m.bestEffort(func() error {
		return m.Redis.AddOwnerSession(ctx, rec.Actor, rec.EntityID)
	}, "redis owner session update failed")
	m.Influx.WriteSessionMetric(rec.Actor, rec.EntityID, tokensApprox(rec.Fields["amount"]),
		"opened", rec.OccurredAt)

	return nil
}

func (m *Manager) archiveSessionClaimed(ctx context.Context, rec events.Record) error {
	reward := rec.Fields["reward"]
	if err := m.Sessions.MarkClaimed(ctx, int64(rec.EntityID), reward, rec.OccurredAt); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "archive_claim",
			"failed to mark session claimed").
			WithContext("session_id", rec.EntityID)
	}

	m.Influx.WriteRewardMetric(rec.Actor, rec.EntityID,
		tokensApprox(rec.Fields["amount"]), tokensApprox(reward), rec.OccurredAt)

	return nil
}

func (m *Manager) archiveSessionClosed(ctx context.Context, rec events.Record) error {
	if err := m.Sessions.MarkClosed(ctx, int64(rec.EntityID), rec.OccurredAt); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "archive_close",
			"failed to mark session closed").
			WithContext("session_id", rec.EntityID)
	}

	m.Influx.WriteSessionMetric(rec.Fields["owner"], rec.EntityID, 0, "closed", rec.OccurredAt)

	return nil
}

func (m *Manager) archiveDifficultyChanged(ctx context.Context, rec events.Record) error {
	m.bestEffort(func() error {
		return m.Redis.SetDifficulty(ctx, rec.Fields["new_difficulty"])
	}, "redis difficulty update failed")

	m.Influx.WriteDifficultyMetric(
		tokensApprox(rec.Fields["old_difficulty"]),
		tokensApprox(rec.Fields["new_difficulty"]),
		rec.Fields["origin"], rec.OccurredAt)

	return nil
}

func (m *Manager) archiveProposalCreated(ctx context.Context, rec events.Record) error {
	endTime, err := time.Parse(time.RFC3339, rec.Fields["end_time"])
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "archive_proposal",
			"malformed end_time in proposal event").
			WithContext("proposal_id", rec.EntityID)
	}

	proposal := &postgres.Proposal{
		ProposalID:    int64(rec.EntityID),
		Proposer:      rec.Actor,
		NewDifficulty: rec.Fields["new_difficulty"],
		StartTime:     rec.OccurredAt,
		EndTime:       endTime,
	}
	if err := m.Proposals.UpsertCreated(ctx, proposal); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "archive_proposal",
			"failed to store proposal").
			WithContext("proposal_id", rec.EntityID)
	}

	m.bestEffort(func() error {
		return m.Redis.SetProposalStatus(ctx, rec.EntityID, "active")
	}, "redis proposal status update failed")

	return nil
}

func (m *Manager) archiveVoteCast(ctx context.Context, rec events.Record) error {
	support, _ := strconv.Atoi(rec.Fields["support"])
	vote := &postgres.Vote{
		ProposalID: int64(rec.EntityID),
		Voter:      rec.Actor,
		Support:    support,
		Weight:     rec.Fields["weight"],
		CastAt:     rec.OccurredAt,
	}
	if err := m.Proposals.RecordVote(ctx, vote); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "archive_vote",
			"failed to record vote").
			WithContext("proposal_id", rec.EntityID).
			WithContext("voter", rec.Actor)
	}

	m.Influx.WriteVoteMetric(rec.EntityID, rec.Actor, support,
		tokensApprox(rec.Fields["weight"]), rec.OccurredAt)

	return nil
}

func (m *Manager) archiveProposalFinalized(ctx context.Context, rec events.Record) error {
	status := rec.Fields["status"]
	err := m.Proposals.Finalize(ctx, int64(rec.EntityID), status,
		rec.Fields["for_votes"], rec.Fields["against_votes"], rec.Fields["abstain_votes"])
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "archive_finalize",
			"failed to finalize proposal").
			WithContext("proposal_id", rec.EntityID)
	}

	m.bestEffort(func() error {
		if err := m.Redis.SetProposalStatus(ctx, rec.EntityID, status); err != nil {
			return err
		}
		return m.Redis.SetProposalTallies(ctx, rec.EntityID,
			rec.Fields["for_votes"], rec.Fields["against_votes"], rec.Fields["abstain_votes"])
	}, "redis proposal finalize update failed")

	return nil
}

// bestEffort runs a non-critical cache update; failures are logged, never
// propagated.
func (m *Manager) bestEffort(fn func() error, msg string) {
	if err := fn(); err != nil {
		m.logger.WithError(err).Warn(msg)
	}
}

// tokensApprox converts a decimal base-unit string to whole tokens as a
// float for metric points. Precision loss is acceptable there.
func tokensApprox(baseUnits string) float64 {
	v, err := strconv.ParseFloat(baseUnits, 64)
	if err != nil {
		return 0
	}
	return v / 1e18
}
