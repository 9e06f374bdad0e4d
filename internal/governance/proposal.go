// Package governance implements the proposal state machine that gates every
// privileged parameter change. Proposals are token-weighted: creation
// requires a minimum balance, vote weight is the voter's live balance, and
// a passed, quorate proposal executes exactly one difficulty write through
// the capability handed to the engine at construction.
package governance

import (
	"time"

	"github.com/holiman/uint256"
)

// Support encodes a vote direction.
type Support int

const (
	Against Support = 0
	For     Support = 1
	Abstain Support = 2
)

// Valid reports whether the support value is one of the three directions.
func (s Support) Valid() bool {
	return s == Against || s == For || s == Abstain
}

// String returns the lowercase name of the direction.
func (s Support) String() string {
	switch s {
	case Against:
		return "against"
	case For:
		return "for"
	case Abstain:
		return "abstain"
	default:
		return "unknown"
	}
}

// Status is a proposal lifecycle state. A proposal is Active from creation
// (there is no pending delay); Succeeded is the transient outcome between
// tally and execution inside a single Finalize call; Executed, Defeated,
// and QuorumFailed are terminal.
type Status string

const (
	StatusActive       Status = "active"
	StatusSucceeded    Status = "succeeded"
	StatusDefeated     Status = "defeated"
	StatusQuorumFailed Status = "quorum_failed"
	StatusExecuted     Status = "executed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusDefeated, StatusQuorumFailed:
		return true
	default:
		return false
	}
}

// Proposal is one difficulty-change proposal. Vote tallies are token-unit
// sums. Proposals are never deleted.
type Proposal struct {
	ID            uint64
	Proposer      string
	NewDifficulty *uint256.Int
	Description   string
	StartTime     time.Time
	EndTime       time.Time
	Status        Status
	ForVotes      *uint256.Int
	AgainstVotes  *uint256.Int
	AbstainVotes  *uint256.Int
}

func (p *Proposal) clone() Proposal {
	out := *p
	out.NewDifficulty = new(uint256.Int).Set(p.NewDifficulty)
	out.ForVotes = new(uint256.Int).Set(p.ForVotes)
	out.AgainstVotes = new(uint256.Int).Set(p.AgainstVotes)
	out.AbstainVotes = new(uint256.Int).Set(p.AbstainVotes)
	return out
}

// votingOpen reports whether votes may still be cast at the given time.
// The window is half-open: a vote at exactly EndTime is too late.
func (p *Proposal) votingOpen(now time.Time) bool {
	return p.Status == StatusActive && now.Before(p.EndTime)
}
