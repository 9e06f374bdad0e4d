// Package main implements stratad, the Strata engine daemon. It owns the
// authoritative in-memory state (ledger, tiers, mining sessions, proposals)
// and applies the ordered invocation stream to it, emitting one event per
// state transition onto the events topic. The invocations topic has a
// single partition, so every replica observes the same total order and
// converges on the same state.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/strataforge/strata/internal/amount"
	"github.com/strataforge/strata/internal/config"
	"github.com/strataforge/strata/internal/events"
	"github.com/strataforge/strata/internal/governance"
	"github.com/strataforge/strata/internal/ledger"
	"github.com/strataforge/strata/internal/mining"
	"github.com/strataforge/strata/internal/tier"
	"github.com/strataforge/strata/pkg/errors"
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
	logger.Info("starting stratad",
		"version", cfg.Version,
		"tiers", len(cfg.Tiers),
		"initial_difficulty_tokens", cfg.InitialDifficultyTokens,
	)

	// Create Kafka client and the event publisher sink
	kafkaClient := events.NewClient(cfg.KafkaBrokers, logger.Logger)
	publisher := events.NewPublisher(kafkaClient, cfg.EventsTopic, logger.Logger)

	// Build the engine state on top of the publisher
	applier, err := NewApplier(cfg, logger, publisher)
	if err != nil {
		logger.WithError(err).Error("failed to build engine state")
		os.Exit(1)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Drain events to Kafka
	go publisher.Run(ctx)

	// Consume the invocation stream
	go func() {
		if err := applier.Start(ctx, kafkaClient); err != nil && err != context.Canceled {
			logger.WithError(err).Error("invocation consumer failed")
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
	publisher.Wait()

	if err := kafkaClient.Close(); err != nil {
		logger.WithError(err).Error("failed to close Kafka client")
		os.Exit(1)
	}

	logger.Info("stratad stopped")
}

// Invocation is one request on the ordered stream. At is assigned by the
// producer and must never move backwards; the applier enforces that before
// touching any engine.
type Invocation struct {
	Op     string            `json:"op"`
	At     time.Time         `json:"at"`
	Caller string            `json:"caller"`
	Params map[string]string `json:"params,omitempty"`
}

// Invocation operation names.
const (
	OpStartMining            = "start_mining"
	OpClaim                  = "claim"
	OpForceClose             = "force_close"
	OpEmergencySetDifficulty = "emergency_set_difficulty"
	OpEmergencyMint          = "emergency_mint"
	OpTransfer               = "transfer"
	OpPropose                = "propose"
	OpCastVote               = "cast_vote"
	OpFinalize               = "finalize"
)

// Applier applies invocations to the engines in stream order.
type Applier struct {
	cfg    *config.Config
	logger *log.Logger

	book       *ledger.Memory
	registry   *tier.Registry
	mining     *mining.Engine
	governance *governance.Engine

	lastAt time.Time
	done   chan struct{}
}

// NewApplier builds the full engine state from configuration and wires
// every component to the given event sink.
func NewApplier(cfg *config.Config, logger *log.Logger, sink events.Sink) (*Applier, error) {
	var book *ledger.Memory
	if cfg.LiquidityWallet != "" && cfg.LiquiditySupplyTokens > 0 {
		var err error
		book, err = ledger.NewMemoryWithAllocation(cfg.EmergencyAdmin, cfg.LiquidityWallet,
			amount.Tokens(cfg.LiquiditySupplyTokens))
		if err != nil {
			return nil, err
		}
	} else {
		book = ledger.NewMemory(cfg.EmergencyAdmin)
	}

	registry := tier.NewRegistry()
	for _, spec := range cfg.Tiers {
		if _, err := registry.Add(spec.Duration, spec.MultiplierBP, amount.Tokens(spec.MinStakeTokens)); err != nil {
			return nil, err
		}
	}

	miner, grant, err := mining.New(mining.Params{
		Registry:          registry,
		Ledger:            book,
		Sink:              sink,
		Logger:            logger,
		InitialDifficulty: amount.Tokens(cfg.InitialDifficultyTokens),
		BaseRewardPeriod:  cfg.BaseRewardPeriod,
		EmergencyAdmin:    cfg.EmergencyAdmin,
	})
	if err != nil {
		return nil, err
	}

	gov, err := governance.New(governance.Params{
		Ledger:            book,
		Setter:            grant,
		Sink:              sink,
		Logger:            logger,
		VotingPeriod:      cfg.VotingPeriod,
		ProposalThreshold: amount.Tokens(cfg.ProposalThresholdTokens),
		QuorumThreshold:   amount.Tokens(cfg.QuorumThresholdTokens),
	})
	if err != nil {
		return nil, err
	}

	return &Applier{
		cfg:        cfg,
		logger:     logger.WithComponent("applier"),
		book:       book,
		registry:   registry,
		mining:     miner,
		governance: gov,
		done:       make(chan struct{}),
	}, nil
}

// Start consumes the invocation topic until the context is cancelled.
// Malformed or rejected invocations are logged and skipped; the stream
// itself is never stalled by a bad message.
func (a *Applier) Start(ctx context.Context, client *events.Client) error {
	reader := client.GetConsumer(a.cfg.InvocationsTopic, a.cfg.KafkaGroupID)
	defer func() {
		if err := reader.Close(); err != nil {
			a.logger.WithError(err).Error("failed to close Kafka reader")
		}
	}()

	a.logger.Info("started invocation consumer", "topic", a.cfg.InvocationsTopic)

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
			a.logger.WithError(err).Error("failed to read invocation")
			continue
		}

		var inv Invocation
		if err := json.Unmarshal(msg.Value, &inv); err != nil {
			a.logger.WithError(err).Error("failed to unmarshal invocation",
				"offset", msg.Offset)
			continue
		}

		if err := a.Apply(inv); err != nil {
			a.logger.WithError(err).Info("invocation rejected",
				"op", inv.Op,
				"caller", inv.Caller,
				"offset", msg.Offset,
			)
		}
	}
}

// Shutdown stops the consumer loop.
func (a *Applier) Shutdown() {
	close(a.done)
}

// Apply dispatches one invocation to the owning engine. Invocations are
// applied strictly in order; a timestamp earlier than the last applied one
// is rejected outright.
func (a *Applier) Apply(inv Invocation) error {
	const op = "apply_invocation"

	if inv.At.IsZero() {
		return errors.New(errors.ErrorTypeInvalidArgument, op, "invocation timestamp is required").
			WithContext("op", inv.Op)
	}
	if inv.At.Before(a.lastAt) {
		return errors.New(errors.ErrorTypeInvalidArgument, op, "invocation timestamp regressed").
			WithContext("op", inv.Op).
			WithContext("at", inv.At.Format(time.RFC3339Nano)).
			WithContext("last_at", a.lastAt.Format(time.RFC3339Nano))
	}

	err := a.dispatch(inv)
	if err == nil {
		a.lastAt = inv.At
	}
	return err
}

func (a *Applier) dispatch(inv Invocation) error {
	switch inv.Op {
	case OpStartMining:
		stake, err := amount.Parse(inv.Params["stake"])
		if err != nil {
			return err
		}
		tierID, err := paramUint(inv, "tier_id")
		if err != nil {
			return err
		}
		_, err = a.mining.StartMining(inv.At, inv.Caller, stake, uint32(tierID))
		return err

	case OpClaim:
		sessionID, err := paramUint(inv, "session_id")
		if err != nil {
			return err
		}
		_, err = a.mining.Claim(inv.At, sessionID, inv.Caller)
		return err

	case OpForceClose:
		sessionID, err := paramUint(inv, "session_id")
		if err != nil {
			return err
		}
		return a.mining.ForceClose(inv.At, sessionID, inv.Caller)

	case OpEmergencySetDifficulty:
		difficulty, err := amount.Parse(inv.Params["difficulty"])
		if err != nil {
			return err
		}
		return a.mining.EmergencySetDifficulty(inv.At, inv.Caller, difficulty)

	case OpEmergencyMint:
		value, err := amount.Parse(inv.Params["amount"])
		if err != nil {
			return err
		}
		return a.book.EmergencyMint(inv.Caller, inv.Params["account"], value)

	case OpTransfer:
		value, err := amount.Parse(inv.Params["amount"])
		if err != nil {
			return err
		}
		return a.book.Transfer(inv.Caller, inv.Params["to"], value)

	case OpPropose:
		difficulty, err := amount.Parse(inv.Params["difficulty"])
		if err != nil {
			return err
		}
		_, err = a.governance.Propose(inv.At, inv.Caller, difficulty, inv.Params["description"])
		return err

	case OpCastVote:
		proposalID, err := paramUint(inv, "proposal_id")
		if err != nil {
			return err
		}
		support, err := paramUint(inv, "support")
		if err != nil {
			return err
		}
		return a.governance.CastVote(inv.At, proposalID, inv.Caller, governance.Support(support))

	case OpFinalize:
		proposalID, err := paramUint(inv, "proposal_id")
		if err != nil {
			return err
		}
		_, err = a.governance.Finalize(inv.At, proposalID, inv.Caller)
		return err

	default:
		return errors.New(errors.ErrorTypeInvalidArgument, "apply_invocation", "unknown operation").
			WithContext("op", inv.Op)
	}
}

func paramUint(inv Invocation, key string) (uint64, error) {
	v, err := strconv.ParseUint(inv.Params[key], 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeInvalidArgument, "apply_invocation",
			fmt.Sprintf("malformed %s parameter", key)).
			WithContext("op", inv.Op).
			WithContext(key, inv.Params[key])
	}
	return v, nil
}
