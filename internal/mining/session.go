// Package mining implements the mining-session state machine: opening
// tiered staking sessions, maturing them against captured tier durations,
// and minting difficulty-scaled rewards on claim.
package mining

import (
	"time"

	"github.com/holiman/uint256"
)

// Session is one staking commitment. Tier parameters are captured by value
// at open time, so later registry changes never affect an open session.
// Sessions are append-only history: claim and force-close flip flags, nothing
// is ever deleted.
type Session struct {
	ID               uint64
	Owner            string
	Amount           *uint256.Int
	TierID           uint32
	Duration         time.Duration
	RewardMultiplier uint32 // basis points, captured from the tier
	StartTime        time.Time
	EndTime          time.Time
	Active           bool
	Claimed          bool
}

// clone returns a defensive copy safe to hand to callers.
func (s *Session) clone() Session {
	out := *s
	out.Amount = new(uint256.Int).Set(s.Amount)
	return out
}

// matured reports whether the session may be claimed at the given time.
// A claim at exactly EndTime succeeds.
func (s *Session) matured(now time.Time) bool {
	return !now.Before(s.EndTime)
}
