package governance

import (
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/strataforge/strata/internal/amount"
	"github.com/strataforge/strata/internal/events"
	"github.com/strataforge/strata/internal/ledger"
	"github.com/strataforge/strata/internal/mining"
	"github.com/strataforge/strata/internal/tier"
	"github.com/strataforge/strata/pkg/errors"
	"github.com/strataforge/strata/pkg/log"
)

const votingPeriod = 72 * time.Hour

type govFixture struct {
	engine *Engine
	mining *mining.Engine
	book   *ledger.Memory
	sink   *events.MemoryLog
	start  time.Time
}

func newGovFixture(t *testing.T) *govFixture {
	t.Helper()

	logger := log.New("governance-test", "test", "error", "text")
	book := ledger.NewMemory("admin")
	sink := events.NewMemoryLog()

	registry := tier.NewRegistry()
	if _, err := registry.Add(720*time.Hour, 500, amount.Tokens(100)); err != nil {
		t.Fatalf("add tier: %v", err)
	}

	miner, grant, err := mining.New(mining.Params{
		Registry:          registry,
		Ledger:            book,
		Sink:              sink,
		Logger:            logger,
		InitialDifficulty: amount.Tokens(1000),
		BaseRewardPeriod:  720 * time.Hour,
		EmergencyAdmin:    "admin",
	})
	if err != nil {
		t.Fatalf("new mining engine: %v", err)
	}

	gov, err := New(Params{
		Ledger:            book,
		Setter:            grant,
		Sink:              sink,
		Logger:            logger,
		VotingPeriod:      votingPeriod,
		ProposalThreshold: amount.Tokens(5000),
		QuorumThreshold:   amount.Tokens(1200),
	})
	if err != nil {
		t.Fatalf("new governance engine: %v", err)
	}

	return &govFixture{
		engine: gov,
		mining: miner,
		book:   book,
		sink:   sink,
		start:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *govFixture) fund(t *testing.T, account string, tokens uint64) {
	t.Helper()
	f.book.SetBalance(account, amount.Tokens(tokens))
}

func (f *govFixture) propose(t *testing.T, proposer string, difficultyTokens uint64) Proposal {
	t.Helper()
	p, err := f.engine.Propose(f.start, proposer, amount.Tokens(difficultyTokens), "adjust difficulty")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	return p
}

func TestNew_RejectsBadParams(t *testing.T) {
	logger := log.New("governance-test", "test", "error", "text")
	book := ledger.NewMemory("admin")
	sink := events.NewMemoryLog()

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero voting period", func(p *Params) { p.VotingPeriod = 0 }},
		{"nil quorum", func(p *Params) { p.QuorumThreshold = nil }},
		{"zero quorum", func(p *Params) { p.QuorumThreshold = amount.Zero() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := Params{
				Ledger:            book,
				Sink:              sink,
				Logger:            logger,
				VotingPeriod:      votingPeriod,
				ProposalThreshold: amount.Tokens(5000),
				QuorumThreshold:   amount.Tokens(1200),
			}
			tt.mutate(&params)
			if _, err := New(params); !errors.IsType(err, errors.ErrorTypeInvalidArgument) {
				t.Fatalf("expected invalid_argument, got %v", err)
			}
		})
	}
}

func TestPropose(t *testing.T) {
	f := newGovFixture(t)
	f.fund(t, "alice", 5000)

	p := f.propose(t, "alice", 2000)

	if p.ID != 1 {
		t.Fatalf("expected first proposal id 1, got %d", p.ID)
	}
	if p.Status != StatusActive {
		t.Fatalf("expected active status, got %s", p.Status)
	}
	if !p.EndTime.Equal(f.start.Add(votingPeriod)) {
		t.Fatalf("expected end time %v, got %v", f.start.Add(votingPeriod), p.EndTime)
	}
	if !p.ForVotes.IsZero() || !p.AgainstVotes.IsZero() || !p.AbstainVotes.IsZero() {
		t.Fatal("expected zero initial tallies")
	}
	if got := f.engine.ProposalCount(); got != 1 {
		t.Fatalf("expected proposal count 1, got %d", got)
	}
	if recs := f.sink.ByKind(events.KindProposalCreated); len(recs) != 1 {
		t.Fatalf("expected one proposal_created event, got %d", len(recs))
	}
}

func TestPropose_ThresholdBoundary(t *testing.T) {
	f := newGovFixture(t)

	// One base unit below the threshold must be rejected.
	below := new(uint256.Int).Sub(amount.Tokens(5000), amount.Units(1))
	f.book.SetBalance("poor", below)
	_, err := f.engine.Propose(f.start, "poor", amount.Tokens(2000), "")
	if !errors.IsReason(err, errors.ReasonInsufficientVotingPower) {
		t.Fatalf("expected insufficient_voting_power, got %v", err)
	}

	// Exactly at the threshold passes.
	f.fund(t, "rich", 5000)
	if _, err := f.engine.Propose(f.start, "rich", amount.Tokens(2000), ""); err != nil {
		t.Fatalf("propose at threshold: %v", err)
	}
}

func TestPropose_InvalidInputs(t *testing.T) {
	f := newGovFixture(t)
	f.fund(t, "alice", 5000)

	if _, err := f.engine.Propose(f.start, "", amount.Tokens(2000), ""); !errors.IsType(err, errors.ErrorTypeInvalidArgument) {
		t.Fatalf("expected invalid_argument for empty proposer, got %v", err)
	}
	_, err := f.engine.Propose(f.start, "alice", amount.Zero(), "")
	if !errors.IsReason(err, errors.ReasonInvalidDifficulty) {
		t.Fatalf("expected invalid_difficulty for zero difficulty, got %v", err)
	}
	_, err = f.engine.Propose(f.start, "alice", nil, "")
	if !errors.IsReason(err, errors.ReasonInvalidDifficulty) {
		t.Fatalf("expected invalid_difficulty for nil difficulty, got %v", err)
	}
}

func TestCastVote_WeightIsLiveBalance(t *testing.T) {
	f := newGovFixture(t)
	f.fund(t, "alice", 5000)
	f.fund(t, "bob", 400)
	p := f.propose(t, "alice", 2000)

	voteAt := f.start.Add(time.Hour)
	if err := f.engine.CastVote(voteAt, p.ID, "alice", For); err != nil {
		t.Fatalf("alice vote: %v", err)
	}
	if err := f.engine.CastVote(voteAt, p.ID, "bob", Against); err != nil {
		t.Fatalf("bob vote: %v", err)
	}

	forVotes, againstVotes, abstainVotes, err := f.engine.GetProposalVotes(p.ID)
	if err != nil {
		t.Fatalf("get votes: %v", err)
	}
	if !forVotes.Eq(amount.Tokens(5000)) {
		t.Fatalf("expected for tally 5000 tokens, got %s", amount.String(forVotes))
	}
	if !againstVotes.Eq(amount.Tokens(400)) {
		t.Fatalf("expected against tally 400 tokens, got %s", amount.String(againstVotes))
	}
	if !abstainVotes.IsZero() {
		t.Fatalf("expected zero abstain tally, got %s", amount.String(abstainVotes))
	}

	voted, err := f.engine.HasVoted(p.ID, "alice")
	if err != nil || !voted {
		t.Fatalf("expected alice recorded as voted, got %v %v", voted, err)
	}
	if recs := f.sink.ByKind(events.KindVoteCast); len(recs) != 2 {
		t.Fatalf("expected two vote_cast events, got %d", len(recs))
	}
}

func TestCastVote_DoubleVoteRejected(t *testing.T) {
	f := newGovFixture(t)
	f.fund(t, "alice", 5000)
	p := f.propose(t, "alice", 2000)

	voteAt := f.start.Add(time.Hour)
	if err := f.engine.CastVote(voteAt, p.ID, "alice", For); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	err := f.engine.CastVote(voteAt.Add(time.Minute), p.ID, "alice", Against)
	if !errors.IsReason(err, errors.ReasonAlreadyVoted) {
		t.Fatalf("expected already_voted, got %v", err)
	}

	// The rejected second vote must not have touched any tally.
	forVotes, againstVotes, _, err := f.engine.GetProposalVotes(p.ID)
	if err != nil {
		t.Fatalf("get votes: %v", err)
	}
	if !forVotes.Eq(amount.Tokens(5000)) || !againstVotes.IsZero() {
		t.Fatalf("tallies changed on rejected vote: for=%s against=%s",
			amount.String(forVotes), amount.String(againstVotes))
	}
}

func TestCastVote_WindowBoundary(t *testing.T) {
	f := newGovFixture(t)
	f.fund(t, "alice", 5000)
	f.fund(t, "bob", 100)
	p := f.propose(t, "alice", 2000)

	// One instant before EndTime is still open.
	if err := f.engine.CastVote(p.EndTime.Add(-time.Nanosecond), p.ID, "alice", For); err != nil {
		t.Fatalf("vote just before close: %v", err)
	}

	// Exactly EndTime is closed.
	err := f.engine.CastVote(p.EndTime, p.ID, "bob", For)
	if !errors.IsReason(err, errors.ReasonVotingClosed) {
		t.Fatalf("expected voting_closed at end time, got %v", err)
	}
}

func TestCastVote_InvalidInputs(t *testing.T) {
	f := newGovFixture(t)
	f.fund(t, "alice", 5000)
	p := f.propose(t, "alice", 2000)
	voteAt := f.start.Add(time.Hour)

	if err := f.engine.CastVote(voteAt, p.ID, "", For); !errors.IsType(err, errors.ErrorTypeInvalidArgument) {
		t.Fatalf("expected invalid_argument for empty voter, got %v", err)
	}
	if err := f.engine.CastVote(voteAt, p.ID, "alice", Support(9)); !errors.IsType(err, errors.ErrorTypeInvalidArgument) {
		t.Fatalf("expected invalid_argument for bad support, got %v", err)
	}
	if err := f.engine.CastVote(voteAt, 404, "alice", For); !errors.IsType(err, errors.ErrorTypeNotFound) {
		t.Fatalf("expected not_found for unknown proposal, got %v", err)
	}
}

func TestFinalize_ExecutesDifficultyChange(t *testing.T) {
	f := newGovFixture(t)
	f.fund(t, "alice", 5000)
	f.fund(t, "bob", 400)
	p := f.propose(t, "alice", 2000)

	voteAt := f.start.Add(time.Hour)
	if err := f.engine.CastVote(voteAt, p.ID, "alice", For); err != nil {
		t.Fatalf("alice vote: %v", err)
	}
	if err := f.engine.CastVote(voteAt, p.ID, "bob", Against); err != nil {
		t.Fatalf("bob vote: %v", err)
	}

	status, err := f.engine.Finalize(p.EndTime, p.ID, "alice")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if status != StatusExecuted {
		t.Fatalf("expected executed, got %s", status)
	}
	if got := f.mining.Difficulty(); !got.Eq(amount.Tokens(2000)) {
		t.Fatalf("expected difficulty 2000 tokens after execution, got %s", amount.String(got))
	}

	recs := f.sink.ByKind(events.KindDifficultyChanged)
	if len(recs) != 1 {
		t.Fatalf("expected one difficulty_changed event, got %d", len(recs))
	}
	if recs[0].Fields["origin"] != "governance" {
		t.Fatalf("expected governance origin, got %q", recs[0].Fields["origin"])
	}
	if fin := f.sink.ByKind(events.KindProposalFinalized); len(fin) != 1 {
		t.Fatalf("expected one proposal_finalized event, got %d", len(fin))
	}
}

func TestFinalize_QuorumFailure(t *testing.T) {
	f := newGovFixture(t)
	f.fund(t, "alice", 5000)
	f.fund(t, "bob", 100)
	p := f.propose(t, "alice", 2000)

	// Only 100 tokens cast against a 1200-token quorum.
	if err := f.engine.CastVote(f.start.Add(time.Hour), p.ID, "bob", For); err != nil {
		t.Fatalf("vote: %v", err)
	}

	status, err := f.engine.Finalize(p.EndTime, p.ID, "alice")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if status != StatusQuorumFailed {
		t.Fatalf("expected quorum_failed, got %s", status)
	}
	if got := f.mining.Difficulty(); !got.Eq(amount.Tokens(1000)) {
		t.Fatalf("difficulty changed without quorum: %s", amount.String(got))
	}
}

func TestFinalize_AbstainCountsTowardQuorum(t *testing.T) {
	f := newGovFixture(t)
	f.fund(t, "alice", 5000)
	f.fund(t, "bob", 700)
	f.fund(t, "carol", 600)
	p := f.propose(t, "alice", 2000)

	voteAt := f.start.Add(time.Hour)
	// 700 for + 600 abstain = 1300 total meets the 1200 quorum even though
	// the decisive tally alone would not.
	if err := f.engine.CastVote(voteAt, p.ID, "bob", For); err != nil {
		t.Fatalf("bob vote: %v", err)
	}
	if err := f.engine.CastVote(voteAt, p.ID, "carol", Abstain); err != nil {
		t.Fatalf("carol vote: %v", err)
	}

	reached, err := f.engine.IsQuorumReached(p.ID)
	if err != nil || !reached {
		t.Fatalf("expected quorum reached, got %v %v", reached, err)
	}

	status, err := f.engine.Finalize(p.EndTime, p.ID, "alice")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if status != StatusExecuted {
		t.Fatalf("expected executed, got %s", status)
	}
}

func TestFinalize_QuorumDeterminism(t *testing.T) {
	// Same votes, different quorum: 1000 for + 400 against clears a
	// 1200-token quorum and executes, but fails a 2000-token quorum.
	tests := []struct {
		name         string
		quorumTokens uint64
		want         Status
	}{
		{"quorum met", 1200, StatusExecuted},
		{"quorum missed", 2000, StatusQuorumFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGovFixture(t)
			gov, err := New(Params{
				Ledger:            f.book,
				Setter:            noopSetter{},
				Sink:              f.sink,
				Logger:            log.New("governance-test", "test", "error", "text"),
				VotingPeriod:      votingPeriod,
				ProposalThreshold: amount.Tokens(1000),
				QuorumThreshold:   amount.Tokens(tt.quorumTokens),
			})
			if err != nil {
				t.Fatalf("new governance engine: %v", err)
			}

			f.fund(t, "alice", 1000)
			f.fund(t, "bob", 400)
			p, err := gov.Propose(f.start, "alice", amount.Tokens(2000), "")
			if err != nil {
				t.Fatalf("propose: %v", err)
			}

			voteAt := f.start.Add(time.Hour)
			if err := gov.CastVote(voteAt, p.ID, "alice", For); err != nil {
				t.Fatalf("alice vote: %v", err)
			}
			if err := gov.CastVote(voteAt, p.ID, "bob", Against); err != nil {
				t.Fatalf("bob vote: %v", err)
			}

			status, err := gov.Finalize(p.EndTime, p.ID, "alice")
			if err != nil {
				t.Fatalf("finalize: %v", err)
			}
			if status != tt.want {
				t.Fatalf("status = %s, want %s", status, tt.want)
			}
		})
	}
}

type noopSetter struct{}

func (noopSetter) Set(time.Time, *uint256.Int) error { return nil }

type failingSetter struct{}

func (failingSetter) Set(time.Time, *uint256.Int) error {
	return errors.New(errors.ErrorTypeInternal, "set_difficulty", "write rejected")
}

func TestFinalize_ExecutionFailureLeavesProposalActive(t *testing.T) {
	f := newGovFixture(t)
	gov, err := New(Params{
		Ledger:            f.book,
		Setter:            failingSetter{},
		Sink:              f.sink,
		Logger:            log.New("governance-test", "test", "error", "text"),
		VotingPeriod:      votingPeriod,
		ProposalThreshold: amount.Tokens(1000),
		QuorumThreshold:   amount.Tokens(500),
	})
	if err != nil {
		t.Fatalf("new governance engine: %v", err)
	}

	f.fund(t, "alice", 1000)
	p, err := gov.Propose(f.start, "alice", amount.Tokens(2000), "")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := gov.CastVote(f.start.Add(time.Hour), p.ID, "alice", For); err != nil {
		t.Fatalf("vote: %v", err)
	}

	if _, err := gov.Finalize(p.EndTime, p.ID, "alice"); err == nil {
		t.Fatal("expected finalize to fail when the difficulty write fails")
	}

	// The proposal is still finalizable, not stuck in a terminal state.
	got, err := gov.GetProposal(p.ID)
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if got.Status != StatusActive {
		t.Fatalf("status after failed execution = %s, want %s", got.Status, StatusActive)
	}
}

func TestFinalize_TieIsDefeated(t *testing.T) {
	f := newGovFixture(t)
	f.fund(t, "alice", 5000)
	f.fund(t, "bob", 700)
	f.fund(t, "carol", 700)
	p := f.propose(t, "alice", 2000)

	voteAt := f.start.Add(time.Hour)
	if err := f.engine.CastVote(voteAt, p.ID, "bob", For); err != nil {
		t.Fatalf("bob vote: %v", err)
	}
	if err := f.engine.CastVote(voteAt, p.ID, "carol", Against); err != nil {
		t.Fatalf("carol vote: %v", err)
	}

	status, err := f.engine.Finalize(p.EndTime, p.ID, "alice")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if status != StatusDefeated {
		t.Fatalf("expected tie to be defeated, got %s", status)
	}
	if got := f.mining.Difficulty(); !got.Eq(amount.Tokens(1000)) {
		t.Fatalf("difficulty changed on defeated proposal: %s", amount.String(got))
	}
}

func TestFinalize_BeforeEndRejected(t *testing.T) {
	f := newGovFixture(t)
	f.fund(t, "alice", 5000)
	p := f.propose(t, "alice", 2000)

	_, err := f.engine.Finalize(p.EndTime.Add(-time.Second), p.ID, "alice")
	if !errors.IsReason(err, errors.ReasonVotingNotEnded) {
		t.Fatalf("expected voting_not_ended, got %v", err)
	}
}

func TestFinalize_SingleShot(t *testing.T) {
	f := newGovFixture(t)
	f.fund(t, "alice", 5000)
	p := f.propose(t, "alice", 2000)

	if err := f.engine.CastVote(f.start.Add(time.Hour), p.ID, "alice", For); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := f.engine.Finalize(p.EndTime, p.ID, "alice"); err != nil {
		t.Fatalf("first finalize: %v", err)
	}

	status, err := f.engine.Finalize(p.EndTime.Add(time.Hour), p.ID, "alice")
	if !errors.IsReason(err, errors.ReasonAlreadyFinalized) {
		t.Fatalf("expected already_finalized, got %v", err)
	}
	if status != StatusExecuted {
		t.Fatalf("expected terminal status reported, got %s", status)
	}

	// The difficulty write ran exactly once.
	if recs := f.sink.ByKind(events.KindDifficultyChanged); len(recs) != 1 {
		t.Fatalf("expected one difficulty_changed event, got %d", len(recs))
	}
}

func TestFinalize_VotingClosedAfterTerminal(t *testing.T) {
	f := newGovFixture(t)
	f.fund(t, "alice", 5000)
	f.fund(t, "bob", 100)
	p := f.propose(t, "alice", 2000)

	if err := f.engine.CastVote(f.start.Add(time.Hour), p.ID, "alice", For); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := f.engine.Finalize(p.EndTime, p.ID, "alice"); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	err := f.engine.CastVote(p.EndTime.Add(time.Hour), p.ID, "bob", For)
	if !errors.IsReason(err, errors.ReasonVotingClosed) {
		t.Fatalf("expected voting_closed on terminal proposal, got %v", err)
	}
}

func TestGetVotingPower(t *testing.T) {
	f := newGovFixture(t)
	f.fund(t, "alice", 321)

	if got := f.engine.GetVotingPower("alice"); !got.Eq(amount.Tokens(321)) {
		t.Fatalf("expected 321 tokens of voting power, got %s", amount.String(got))
	}
	if got := f.engine.GetVotingPower("nobody"); !got.IsZero() {
		t.Fatalf("expected zero power for unknown account, got %s", amount.String(got))
	}
}

func TestReads_UnknownProposal(t *testing.T) {
	f := newGovFixture(t)

	if _, err := f.engine.GetProposal(7); !errors.IsType(err, errors.ErrorTypeNotFound) {
		t.Fatalf("expected not_found from GetProposal, got %v", err)
	}
	if _, _, _, err := f.engine.GetProposalVotes(7); !errors.IsType(err, errors.ErrorTypeNotFound) {
		t.Fatalf("expected not_found from GetProposalVotes, got %v", err)
	}
	if _, err := f.engine.HasVoted(7, "alice"); !errors.IsType(err, errors.ErrorTypeNotFound) {
		t.Fatalf("expected not_found from HasVoted, got %v", err)
	}
	if _, err := f.engine.IsQuorumReached(7); !errors.IsType(err, errors.ErrorTypeNotFound) {
		t.Fatalf("expected not_found from IsQuorumReached, got %v", err)
	}
}
