package mining

import (
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/strataforge/strata/internal/amount"
	"github.com/strataforge/strata/internal/events"
	"github.com/strataforge/strata/internal/ledger"
	"github.com/strataforge/strata/internal/tier"
	"github.com/strataforge/strata/pkg/errors"
	"github.com/strataforge/strata/pkg/log"
)

// DifficultyGrant is the capability that authorizes difficulty writes.
// Exactly one grant exists per engine, handed out by New; whoever holds it
// (the governance engine) is the only party that can call SetDifficulty.
type DifficultyGrant struct {
	engine *Engine
}

// Set writes the difficulty through the grant. This is the bounded
// capability the governance engine holds; it reaches nothing else in the
// mining engine.
func (g *DifficultyGrant) Set(now time.Time, newValue *uint256.Int) error {
	return g.engine.SetDifficulty(g, now, newValue)
}

// Params configures a mining engine.
type Params struct {
	Registry          *tier.Registry
	Ledger            ledger.Ledger
	Sink              events.Sink
	Logger            *log.Logger
	InitialDifficulty *uint256.Int
	BaseRewardPeriod  time.Duration
	EmergencyAdmin    string // empty disables the emergency paths
}

// Engine owns the session ledger and the global difficulty parameter.
// All mutating operations are serialized; `now` is always supplied by the
// caller (the ordering authority), never read from the wall clock.
type Engine struct {
	registry *tier.Registry
	ledger   ledger.Ledger
	sink     events.Sink
	logger   *log.Logger

	mu             sync.Mutex
	difficulty     *uint256.Int
	baseDifficulty *uint256.Int
	basePeriod     time.Duration
	emergencyAdmin string

	sessions map[uint64]*Session
	byOwner  map[string][]uint64
	nextID   uint64
}

// New creates a mining engine and the single difficulty grant for it.
func New(p Params) (*Engine, *DifficultyGrant, error) {
	if p.InitialDifficulty == nil || p.InitialDifficulty.IsZero() {
		return nil, nil, errors.New(errors.ErrorTypeInvalidArgument, "new_engine",
			"initial difficulty must be positive").
			WithReason(errors.ReasonInvalidDifficulty)
	}
	if p.BaseRewardPeriod <= 0 {
		return nil, nil, errors.New(errors.ErrorTypeInvalidArgument, "new_engine",
			"base reward period must be positive")
	}

	e := &Engine{
		registry:       p.Registry,
		ledger:         p.Ledger,
		sink:           p.Sink,
		logger:         p.Logger.WithComponent("mining"),
		difficulty:     new(uint256.Int).Set(p.InitialDifficulty),
		baseDifficulty: new(uint256.Int).Set(p.InitialDifficulty),
		basePeriod:     p.BaseRewardPeriod,
		emergencyAdmin: p.EmergencyAdmin,
		sessions:       make(map[uint64]*Session),
		byOwner:        make(map[string][]uint64),
		nextID:         1,
	}
	return e, &DifficultyGrant{engine: e}, nil
}

// StartMining opens a session for owner staking amount on the given tier.
// Every precondition is checked before the first mutation; a failed call
// changes nothing.
func (e *Engine) StartMining(now time.Time, owner string, stake *uint256.Int, tierID uint32) (Session, error) {
	const op = "start_mining"

	if owner == "" {
		return Session{}, errors.New(errors.ErrorTypeInvalidArgument, op, "owner is required")
	}
	if stake == nil || stake.IsZero() {
		return Session{}, errors.New(errors.ErrorTypeInvalidArgument, op, "stake amount must be positive").
			WithReason(errors.ReasonInvalidAmount)
	}

	t, err := e.registry.Get(tierID)
	if err != nil {
		return Session{}, err
	}
	if !t.Active {
		return Session{}, errors.New(errors.ErrorTypePrecondition, op, "tier is not active").
			WithReason(errors.ReasonInvalidTier).
			WithContext("tier_id", tierID)
	}
	if stake.Lt(t.MinStake) {
		return Session{}, errors.New(errors.ErrorTypePrecondition, op, "stake below tier minimum").
			WithReason(errors.ReasonInsufficientStake).
			WithContext("tier_id", tierID).
			WithContext("min_stake", amount.String(t.MinStake))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := &Session{
		ID:               e.nextID,
		Owner:            owner,
		Amount:           new(uint256.Int).Set(stake),
		TierID:           t.ID,
		Duration:         t.Duration,
		RewardMultiplier: t.RewardMultiplier,
		StartTime:        now,
		EndTime:          now.Add(t.Duration),
		Active:           true,
		Claimed:          false,
	}
	e.nextID++
	e.sessions[s.ID] = s
	e.byOwner[owner] = append(e.byOwner[owner], s.ID)

	e.sink.Append(events.SessionOpened(now, s.ID, owner, s.TierID, s.RewardMultiplier,
		amount.String(s.Amount), s.EndTime.Format(time.RFC3339)))
	e.logger.LogSessionOpened(s.ID, owner, s.TierID, amount.String(s.Amount))

	return s.clone(), nil
}

// Claim pays out a matured session. The reward is computed and minted before
// any session state changes, so a failed mint leaves the session claimable.
func (e *Engine) Claim(now time.Time, sessionID uint64, caller string) (*uint256.Int, error) {
	const op = "claim"

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotFound, op, "unknown session").
			WithContext("session_id", sessionID)
	}
	if s.Owner != caller {
		return nil, errors.New(errors.ErrorTypeUnauthorized, op, "caller does not own this session").
			WithContext("session_id", sessionID).
			WithContext("caller", caller)
	}
	if s.Claimed {
		return nil, errors.New(errors.ErrorTypePrecondition, op, "session already claimed").
			WithReason(errors.ReasonAlreadyClaimed).
			WithContext("session_id", sessionID)
	}
	if !s.Active {
		return nil, errors.New(errors.ErrorTypePrecondition, op, "session was force-closed").
			WithReason(errors.ReasonSessionNotActive).
			WithContext("session_id", sessionID)
	}
	if !s.matured(now) {
		return nil, errors.New(errors.ErrorTypePrecondition, op, "session has not matured").
			WithReason(errors.ReasonSessionNotMatured).
			WithContext("session_id", sessionID).
			WithContext("end_time", s.EndTime.Format(time.RFC3339))
	}

	reward, err := computeReward(s.Amount, s.RewardMultiplier, s.Duration,
		e.baseDifficulty, e.difficulty, e.basePeriod)
	if err != nil {
		return nil, err
	}

	if err := e.ledger.Mint(caller, reward); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, op, "reward mint failed").
			WithContext("session_id", sessionID)
	}

	s.Active = false
	s.Claimed = true

	e.sink.Append(events.SessionClaimed(now, s.ID, s.Owner,
		amount.String(s.Amount), amount.String(reward)))
	e.logger.LogRewardClaimed(s.ID, s.Owner, amount.String(reward))

	return reward, nil
}

// ForceClose administratively deactivates an unclaimed session without
// paying a reward. Restricted to the emergency admin.
func (e *Engine) ForceClose(now time.Time, sessionID uint64, caller string) error {
	const op = "force_close"

	if e.emergencyAdmin == "" || caller != e.emergencyAdmin {
		return errors.New(errors.ErrorTypeUnauthorized, op, "caller is not the emergency admin").
			WithContext("caller", caller)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		return errors.New(errors.ErrorTypeNotFound, op, "unknown session").
			WithContext("session_id", sessionID)
	}
	if s.Claimed {
		return errors.New(errors.ErrorTypePrecondition, op, "session already claimed").
			WithReason(errors.ReasonAlreadyClaimed)
	}
	if !s.Active {
		return errors.New(errors.ErrorTypePrecondition, op, "session already closed").
			WithReason(errors.ReasonSessionNotActive)
	}

	s.Active = false

	e.sink.Append(events.SessionClosed(now, s.ID, s.Owner, caller))
	e.logger.WithSession(s.ID, s.Owner).Info("session force-closed", "closed_by", caller)

	return nil
}

// SetDifficulty writes the difficulty parameter. Only the holder of the
// engine's grant may call it; everything else goes through governance.
func (e *Engine) SetDifficulty(grant *DifficultyGrant, now time.Time, newValue *uint256.Int) error {
	if grant == nil || grant.engine != e {
		return errors.New(errors.ErrorTypeUnauthorized, "set_difficulty",
			"caller does not hold the difficulty grant")
	}
	return e.writeDifficulty(now, newValue, "governance")
}

// EmergencySetDifficulty is the privileged out-of-band difficulty path.
func (e *Engine) EmergencySetDifficulty(now time.Time, caller string, newValue *uint256.Int) error {
	if e.emergencyAdmin == "" || caller != e.emergencyAdmin {
		return errors.New(errors.ErrorTypeUnauthorized, "emergency_set_difficulty",
			"caller is not the emergency admin").
			WithContext("caller", caller)
	}
	return e.writeDifficulty(now, newValue, "emergency")
}

func (e *Engine) writeDifficulty(now time.Time, newValue *uint256.Int, origin string) error {
	if newValue == nil || newValue.IsZero() {
		return errors.New(errors.ErrorTypeInvalidArgument, "set_difficulty",
			"difficulty must be positive").
			WithReason(errors.ReasonInvalidDifficulty)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.difficulty
	e.difficulty = new(uint256.Int).Set(newValue)

	e.sink.Append(events.DifficultyChanged(now, amount.String(old), amount.String(e.difficulty), origin))
	e.logger.LogDifficultyChanged(amount.String(old), amount.String(e.difficulty), origin)

	return nil
}

// Difficulty returns the current difficulty parameter.
func (e *Engine) Difficulty() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(uint256.Int).Set(e.difficulty)
}

// GetSession returns a session by id.
func (e *Engine) GetSession(sessionID uint64) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		return Session{}, errors.New(errors.ErrorTypeNotFound, "get_session", "unknown session").
			WithContext("session_id", sessionID)
	}
	return s.clone(), nil
}

// GetUserSessions returns the owner's full session history in open order.
// Unknown owners get an empty slice, not an error.
func (e *Engine) GetUserSessions(owner string) []Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := e.byOwner[owner]
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.sessions[id].clone())
	}
	return out
}

// GetTierInfo returns a tier by id.
func (e *Engine) GetTierInfo(tierID uint32) (tier.Tier, error) {
	return e.registry.Get(tierID)
}

// SessionCount returns the number of sessions ever opened.
func (e *Engine) SessionCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextID - 1
}
