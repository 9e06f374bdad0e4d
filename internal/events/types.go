// Package events defines the engine's observability side-channel: one
// structured record per state transition, appended to an ordered sink.
// The core writes records synchronously; consumers (archival, monitoring)
// read them off the stream without ever calling back into the engine.
package events

import (
	"strconv"
	"time"
)

// Kind identifies the state transition a record describes.
type Kind string

const (
	KindSessionOpened     Kind = "session_opened"
	KindSessionClaimed    Kind = "session_claimed"
	KindSessionClosed     Kind = "session_closed"
	KindDifficultyChanged Kind = "difficulty_changed"
	KindProposalCreated   Kind = "proposal_created"
	KindVoteCast          Kind = "vote_cast"
	KindProposalFinalized Kind = "proposal_finalized"
)

// Record is one engine state transition. EntityID is the session or proposal
// the transition touched (difficulty changes use entity id 0). Amounts are
// decimal base-unit strings so records survive JSON round-trips exactly.
type Record struct {
	Kind       Kind              `json:"kind"`
	EntityID   uint64            `json:"entity_id"`
	Actor      string            `json:"actor,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// SessionOpened builds the record for a newly opened mining session.
func SessionOpened(now time.Time, sessionID uint64, owner string, tierID, multiplierBP uint32, amount, endTime string) Record {
	return Record{
		Kind:       KindSessionOpened,
		EntityID:   sessionID,
		Actor:      owner,
		OccurredAt: now,
		Fields: map[string]string{
			"tier_id":       formatUint(uint64(tierID)),
			"multiplier_bp": formatUint(uint64(multiplierBP)),
			"amount":        amount,
			"end_time":      endTime,
		},
	}
}

// SessionClaimed builds the record for a matured claim and its minted reward.
func SessionClaimed(now time.Time, sessionID uint64, owner, amount, reward string) Record {
	return Record{
		Kind:       KindSessionClaimed,
		EntityID:   sessionID,
		Actor:      owner,
		OccurredAt: now,
		Fields: map[string]string{
			"amount": amount,
			"reward": reward,
		},
	}
}

// SessionClosed builds the record for an administrative force-close.
func SessionClosed(now time.Time, sessionID uint64, owner, closedBy string) Record {
	return Record{
		Kind:       KindSessionClosed,
		EntityID:   sessionID,
		Actor:      closedBy,
		OccurredAt: now,
		Fields: map[string]string{
			"owner": owner,
		},
	}
}

// DifficultyChanged builds the record for a difficulty parameter write.
func DifficultyChanged(now time.Time, oldValue, newValue, origin string) Record {
	return Record{
		Kind:       KindDifficultyChanged,
		OccurredAt: now,
		Fields: map[string]string{
			"old_difficulty": oldValue,
			"new_difficulty": newValue,
			"origin":         origin,
		},
	}
}

// ProposalCreated builds the record for a new governance proposal.
func ProposalCreated(now time.Time, proposalID uint64, proposer, newDifficulty, endTime string) Record {
	return Record{
		Kind:       KindProposalCreated,
		EntityID:   proposalID,
		Actor:      proposer,
		OccurredAt: now,
		Fields: map[string]string{
			"new_difficulty": newDifficulty,
			"end_time":       endTime,
		},
	}
}

// VoteCast builds the record for a governance vote.
func VoteCast(now time.Time, proposalID uint64, voter string, support int, weight string) Record {
	return Record{
		Kind:       KindVoteCast,
		EntityID:   proposalID,
		Actor:      voter,
		OccurredAt: now,
		Fields: map[string]string{
			"support": formatUint(uint64(support)),
			"weight":  weight,
		},
	}
}

// ProposalFinalized builds the record for an outcome determination.
func ProposalFinalized(now time.Time, proposalID uint64, caller, status, forVotes, againstVotes, abstainVotes string) Record {
	return Record{
		Kind:       KindProposalFinalized,
		EntityID:   proposalID,
		Actor:      caller,
		OccurredAt: now,
		Fields: map[string]string{
			"status":        status,
			"for_votes":     forVotes,
			"against_votes": againstVotes,
			"abstain_votes": abstainVotes,
		},
	}
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
