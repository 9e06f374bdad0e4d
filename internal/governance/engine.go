package governance

import (
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/strataforge/strata/internal/amount"
	"github.com/strataforge/strata/internal/events"
	"github.com/strataforge/strata/internal/ledger"
	"github.com/strataforge/strata/pkg/errors"
	"github.com/strataforge/strata/pkg/log"
)

// DifficultySetter is the bounded capability governance executes against.
// mining.DifficultyGrant satisfies it; governance never sees the rest of
// the mining engine.
type DifficultySetter interface {
	Set(now time.Time, newValue *uint256.Int) error
}

// Params configures a governance engine.
type Params struct {
	Ledger            ledger.Ledger
	Setter            DifficultySetter
	Sink              events.Sink
	Logger            *log.Logger
	VotingPeriod      time.Duration
	ProposalThreshold *uint256.Int
	QuorumThreshold   *uint256.Int
}

// Engine owns proposals and vote records. Voting power is the account's
// live ledger balance, read at propose and vote time (not snapshotted).
type Engine struct {
	ledger ledger.Ledger
	setter DifficultySetter
	sink   events.Sink
	logger *log.Logger

	votingPeriod      time.Duration
	proposalThreshold *uint256.Int
	quorumThreshold   *uint256.Int

	mu        sync.Mutex
	proposals map[uint64]*Proposal
	voted     map[uint64]map[string]bool
	nextID    uint64
}

// New creates a governance engine.
func New(p Params) (*Engine, error) {
	if p.VotingPeriod <= 0 {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "new_governance",
			"voting period must be positive")
	}
	if p.QuorumThreshold == nil || p.QuorumThreshold.IsZero() {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "new_governance",
			"quorum threshold must be positive")
	}
	if p.ProposalThreshold == nil {
		p.ProposalThreshold = amount.Zero()
	}

	return &Engine{
		ledger:            p.Ledger,
		setter:            p.Setter,
		sink:              p.Sink,
		logger:            p.Logger.WithComponent("governance"),
		votingPeriod:      p.VotingPeriod,
		proposalThreshold: new(uint256.Int).Set(p.ProposalThreshold),
		quorumThreshold:   new(uint256.Int).Set(p.QuorumThreshold),
		proposals:         make(map[uint64]*Proposal),
		voted:             make(map[uint64]map[string]bool),
		nextID:            1,
	}, nil
}

// Propose creates a difficulty-change proposal. The proposer's live balance
// must meet the proposal threshold.
func (e *Engine) Propose(now time.Time, proposer string, newDifficulty *uint256.Int, description string) (Proposal, error) {
	const op = "propose"

	if proposer == "" {
		return Proposal{}, errors.New(errors.ErrorTypeInvalidArgument, op, "proposer is required")
	}
	if newDifficulty == nil || newDifficulty.IsZero() {
		return Proposal{}, errors.New(errors.ErrorTypeInvalidArgument, op,
			"proposed difficulty must be positive").
			WithReason(errors.ReasonInvalidDifficulty)
	}

	power := e.ledger.BalanceOf(proposer)
	if power.Lt(e.proposalThreshold) {
		return Proposal{}, errors.New(errors.ErrorTypePrecondition, op,
			"proposer balance below proposal threshold").
			WithReason(errors.ReasonInsufficientVotingPower).
			WithContext("voting_power", amount.String(power)).
			WithContext("threshold", amount.String(e.proposalThreshold))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p := &Proposal{
		ID:            e.nextID,
		Proposer:      proposer,
		NewDifficulty: new(uint256.Int).Set(newDifficulty),
		Description:   description,
		StartTime:     now,
		EndTime:       now.Add(e.votingPeriod),
		Status:        StatusActive,
		ForVotes:      amount.Zero(),
		AgainstVotes:  amount.Zero(),
		AbstainVotes:  amount.Zero(),
	}
	e.nextID++
	e.proposals[p.ID] = p
	e.voted[p.ID] = make(map[string]bool)

	e.sink.Append(events.ProposalCreated(now, p.ID, proposer,
		amount.String(p.NewDifficulty), p.EndTime.Format(time.RFC3339)))
	e.logger.WithProposal(p.ID, proposer).Info("proposal created",
		"new_difficulty", amount.String(p.NewDifficulty),
		"end_time", p.EndTime,
	)

	return p.clone(), nil
}

// CastVote records one vote, weighted by the voter's live balance at vote
// time. Each account votes at most once per proposal.
func (e *Engine) CastVote(now time.Time, proposalID uint64, voter string, support Support) error {
	const op = "cast_vote"

	if voter == "" {
		return errors.New(errors.ErrorTypeInvalidArgument, op, "voter is required")
	}
	if !support.Valid() {
		return errors.New(errors.ErrorTypeInvalidArgument, op, "support must be against, for, or abstain").
			WithContext("support", int(support))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return errors.New(errors.ErrorTypeNotFound, op, "unknown proposal").
			WithContext("proposal_id", proposalID)
	}
	if !p.votingOpen(now) {
		return errors.New(errors.ErrorTypePrecondition, op, "voting window is closed").
			WithReason(errors.ReasonVotingClosed).
			WithContext("proposal_id", proposalID).
			WithContext("status", string(p.Status))
	}
	if e.voted[proposalID][voter] {
		return errors.New(errors.ErrorTypePrecondition, op, "account has already voted").
			WithReason(errors.ReasonAlreadyVoted).
			WithContext("proposal_id", proposalID).
			WithContext("voter", voter)
	}

	weight := e.ledger.BalanceOf(voter)

	// Compute the new tally before touching any state so an overflow
	// leaves the proposal untouched.
	var tally **uint256.Int
	switch support {
	case For:
		tally = &p.ForVotes
	case Against:
		tally = &p.AgainstVotes
	case Abstain:
		tally = &p.AbstainVotes
	}
	next, err := amount.CheckedAdd(op, *tally, weight)
	if err != nil {
		return err
	}

	*tally = next
	e.voted[proposalID][voter] = true

	e.sink.Append(events.VoteCast(now, proposalID, voter, int(support), amount.String(weight)))
	e.logger.LogVoteCast(proposalID, voter, int(support), amount.String(weight))

	return nil
}

// Finalize determines a proposal's outcome once the voting window has
// elapsed, and executes the difficulty write when the proposal passed with
// quorum. Terminal proposals cannot be finalized again.
func (e *Engine) Finalize(now time.Time, proposalID uint64, caller string) (Status, error) {
	const op = "finalize"

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return "", errors.New(errors.ErrorTypeNotFound, op, "unknown proposal").
			WithContext("proposal_id", proposalID)
	}
	if p.Status.Terminal() {
		return p.Status, errors.New(errors.ErrorTypePrecondition, op, "proposal already finalized").
			WithReason(errors.ReasonAlreadyFinalized).
			WithContext("proposal_id", proposalID).
			WithContext("status", string(p.Status))
	}
	if now.Before(p.EndTime) {
		return p.Status, errors.New(errors.ErrorTypePrecondition, op, "voting window has not ended").
			WithReason(errors.ReasonVotingNotEnded).
			WithContext("proposal_id", proposalID).
			WithContext("end_time", p.EndTime.Format(time.RFC3339))
	}

	quorate, err := e.quorumReached(p)
	if err != nil {
		return p.Status, err
	}

	switch {
	case !quorate:
		p.Status = StatusQuorumFailed
	case p.ForVotes.Gt(p.AgainstVotes):
		// Ties do not pass; a strict for-majority is required.
		p.Status = StatusSucceeded
		if err := e.setter.Set(now, p.NewDifficulty); err != nil {
			p.Status = StatusActive
			return StatusActive, errors.Wrap(err, errors.ErrorTypeInternal, op,
				"difficulty execution failed").
				WithContext("proposal_id", proposalID)
		}
		p.Status = StatusExecuted
	default:
		p.Status = StatusDefeated
	}

	e.sink.Append(events.ProposalFinalized(now, p.ID, caller, string(p.Status),
		amount.String(p.ForVotes), amount.String(p.AgainstVotes), amount.String(p.AbstainVotes)))
	e.logger.LogProposalFinalized(p.ID, string(p.Status),
		amount.String(p.ForVotes), amount.String(p.AgainstVotes), amount.String(p.AbstainVotes))

	return p.Status, nil
}

// IsQuorumReached reports whether total cast votes meet the quorum threshold.
func (e *Engine) IsQuorumReached(proposalID uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return false, errors.New(errors.ErrorTypeNotFound, "is_quorum_reached", "unknown proposal").
			WithContext("proposal_id", proposalID)
	}
	return e.quorumReached(p)
}

func (e *Engine) quorumReached(p *Proposal) (bool, error) {
	total, err := amount.CheckedAdd("quorum", p.ForVotes, p.AgainstVotes)
	if err != nil {
		return false, err
	}
	total, err = amount.CheckedAdd("quorum", total, p.AbstainVotes)
	if err != nil {
		return false, err
	}
	return !total.Lt(e.quorumThreshold), nil
}

// GetProposal returns a proposal by id.
func (e *Engine) GetProposal(proposalID uint64) (Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return Proposal{}, errors.New(errors.ErrorTypeNotFound, "get_proposal", "unknown proposal").
			WithContext("proposal_id", proposalID)
	}
	return p.clone(), nil
}

// GetProposalVotes returns the current tallies.
func (e *Engine) GetProposalVotes(proposalID uint64) (forVotes, againstVotes, abstainVotes *uint256.Int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return nil, nil, nil, errors.New(errors.ErrorTypeNotFound, "get_proposal_votes", "unknown proposal").
			WithContext("proposal_id", proposalID)
	}
	return new(uint256.Int).Set(p.ForVotes),
		new(uint256.Int).Set(p.AgainstVotes),
		new(uint256.Int).Set(p.AbstainVotes), nil
}

// HasVoted reports whether the account has voted on the proposal.
func (e *Engine) HasVoted(proposalID uint64, voter string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	votes, ok := e.voted[proposalID]
	if !ok {
		return false, errors.New(errors.ErrorTypeNotFound, "has_voted", "unknown proposal").
			WithContext("proposal_id", proposalID)
	}
	return votes[voter], nil
}

// GetVotingPower returns the account's live ledger balance.
func (e *Engine) GetVotingPower(account string) *uint256.Int {
	return e.ledger.BalanceOf(account)
}

// ProposalCount returns the number of proposals ever created.
func (e *Engine) ProposalCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextID - 1
}

// ProposalThreshold returns the minimum balance required to propose.
func (e *Engine) ProposalThreshold() *uint256.Int {
	return new(uint256.Int).Set(e.proposalThreshold)
}

// QuorumThreshold returns the minimum total votes for a decidable proposal.
func (e *Engine) QuorumThreshold() *uint256.Int {
	return new(uint256.Int).Set(e.quorumThreshold)
}

// VotingPeriod returns the configured voting window.
func (e *Engine) VotingPeriod() time.Duration {
	return e.votingPeriod
}
