// Package log provides structured logging utilities for the Strata engine.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger with the specified configuration
func New(service, version, level, format string) *Logger {
	var handler slog.Handler

	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithAccount returns a logger with the acting account attached
func (l *Logger) WithAccount(account string) *Logger {
	return l.WithFields("account", account)
}

// WithSession returns a logger with mining-session fields
func (l *Logger) WithSession(sessionID uint64, owner string) *Logger {
	return l.WithFields("session_id", sessionID, "owner", owner)
}

// WithProposal returns a logger with proposal fields
func (l *Logger) WithProposal(proposalID uint64, proposer string) *Logger {
	return l.WithFields("proposal_id", proposalID, "proposer", proposer)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// Engine-specific logging helpers

// LogSessionOpened logs a newly opened mining session
func (l *Logger) LogSessionOpened(sessionID uint64, owner string, tierID uint32, amount string) {
	l.Info("mining session opened",
		"session_id", sessionID,
		"owner", owner,
		"tier_id", tierID,
		"amount", amount,
	)
}

// LogRewardClaimed logs a successful claim and the minted reward
func (l *Logger) LogRewardClaimed(sessionID uint64, owner string, reward string) {
	l.Info("mining reward claimed",
		"session_id", sessionID,
		"owner", owner,
		"reward", reward,
	)
}

// LogDifficultyChanged logs a difficulty parameter write
func (l *Logger) LogDifficultyChanged(oldValue, newValue, origin string) {
	l.Info("difficulty changed",
		"old_difficulty", oldValue,
		"new_difficulty", newValue,
		"origin", origin,
	)
}

// LogVoteCast logs a governance vote
func (l *Logger) LogVoteCast(proposalID uint64, voter string, support int, weight string) {
	l.Info("vote cast",
		"proposal_id", proposalID,
		"voter", voter,
		"support", support,
		"weight", weight,
	)
}

// LogProposalFinalized logs the outcome determination of a proposal
func (l *Logger) LogProposalFinalized(proposalID uint64, status string, forVotes, againstVotes, abstainVotes string) {
	l.Info("proposal finalized",
		"proposal_id", proposalID,
		"status", status,
		"for_votes", forVotes,
		"against_votes", againstVotes,
		"abstain_votes", abstainVotes,
	)
}
