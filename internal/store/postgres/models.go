package postgres

import (
	"time"
)

// Session is the archived view of one mining session. Token amounts are
// stored as decimal base-unit strings (NUMERIC(78,0)) so 256-bit values
// round-trip without loss.
type Session struct {
	SessionID       int64      `db:"session_id"`
	Owner           string     `db:"owner"`
	Amount          string     `db:"amount"`
	TierID          int64      `db:"tier_id"`
	DurationSeconds int64      `db:"duration_seconds"`
	MultiplierBP    int64      `db:"multiplier_bp"`
	StartTime       time.Time  `db:"start_time"`
	EndTime         time.Time  `db:"end_time"`
	Active          bool       `db:"is_active"`
	Claimed         bool       `db:"is_claimed"`
	Reward          *string    `db:"reward"`
	ClaimedAt       *time.Time `db:"claimed_at"`
	ClosedAt        *time.Time `db:"closed_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// Proposal is the archived view of one difficulty-change proposal.
type Proposal struct {
	ProposalID    int64     `db:"proposal_id"`
	Proposer      string    `db:"proposer"`
	NewDifficulty string    `db:"new_difficulty"`
	StartTime     time.Time `db:"start_time"`
	EndTime       time.Time `db:"end_time"`
	Status        string    `db:"status"`
	ForVotes      string    `db:"for_votes"`
	AgainstVotes  string    `db:"against_votes"`
	AbstainVotes  string    `db:"abstain_votes"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Vote is one recorded ballot.
type Vote struct {
	ID         int64     `db:"id"`
	ProposalID int64     `db:"proposal_id"`
	Voter      string    `db:"voter"`
	Support    int       `db:"support"`
	Weight     string    `db:"weight"`
	CastAt     time.Time `db:"cast_at"`
}

// EngineEvent is one raw event record from the engine stream, kept for
// audit and replay.
type EngineEvent struct {
	ID         int64     `db:"id"`
	Kind       string    `db:"kind"`
	EntityID   int64     `db:"entity_id"`
	Actor      string    `db:"actor"`
	OccurredAt time.Time `db:"occurred_at"`
	Fields     []byte    `db:"fields"`
}
