package mining

import (
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/strataforge/strata/internal/amount"
	"github.com/strataforge/strata/internal/events"
	"github.com/strataforge/strata/internal/ledger"
	"github.com/strataforge/strata/internal/tier"
	strataErrors "github.com/strataforge/strata/pkg/errors"
	"github.com/strataforge/strata/pkg/log"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

type fixture struct {
	engine *Engine
	grant  *DifficultyGrant
	ledger *ledger.Memory
	log    *events.MemoryLog
	tier30 uint32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := tier.NewRegistry()
	tier30, err := registry.Add(720*time.Hour, 500, amount.Tokens(100))
	if err != nil {
		t.Fatal(err)
	}

	mem := ledger.NewMemory("admin")
	memLog := events.NewMemoryLog()

	engine, grant, err := New(Params{
		Registry:          registry,
		Ledger:            mem,
		Sink:              memLog,
		Logger:            log.New("test", "test", "error", "text"),
		InitialDifficulty: amount.Tokens(1000),
		BaseRewardPeriod:  720 * time.Hour,
		EmergencyAdmin:    "admin",
	})
	if err != nil {
		t.Fatal(err)
	}

	return &fixture{engine: engine, grant: grant, ledger: mem, log: memLog, tier30: tier30}
}

func TestNew_RejectsZeroDifficulty(t *testing.T) {
	_, _, err := New(Params{
		Registry:          tier.NewRegistry(),
		Ledger:            ledger.NewMemory(""),
		Sink:              events.NewMemoryLog(),
		Logger:            log.New("test", "test", "error", "text"),
		InitialDifficulty: amount.Zero(),
		BaseRewardPeriod:  time.Hour,
	})
	if !strataErrors.IsReason(err, strataErrors.ReasonInvalidDifficulty) {
		t.Errorf("New() with zero difficulty = %v, want invalid_difficulty", err)
	}
}

func TestStartMining(t *testing.T) {
	f := newFixture(t)

	s, err := f.engine.StartMining(t0, "alice", amount.Tokens(1000), f.tier30)
	if err != nil {
		t.Fatalf("StartMining() error = %v", err)
	}

	if s.ID != 1 {
		t.Errorf("first session id = %d, want 1", s.ID)
	}
	if !s.Active || s.Claimed {
		t.Errorf("new session flags = active:%v claimed:%v, want active, unclaimed", s.Active, s.Claimed)
	}
	if !s.EndTime.Equal(t0.Add(720 * time.Hour)) {
		t.Errorf("EndTime = %v, want start + tier duration", s.EndTime)
	}
	if s.RewardMultiplier != 500 {
		t.Errorf("captured multiplier = %d, want 500", s.RewardMultiplier)
	}

	if got := f.log.ByKind(events.KindSessionOpened); len(got) != 1 || got[0].EntityID != 1 {
		t.Errorf("expected one session_opened record, got %+v", got)
	}

	// Monotonic ids
	s2, err := f.engine.StartMining(t0, "bob", amount.Tokens(200), f.tier30)
	if err != nil {
		t.Fatal(err)
	}
	if s2.ID != 2 {
		t.Errorf("second session id = %d, want 2", s2.ID)
	}
}

func TestStartMining_Preconditions(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		owner  string
		stake  *uint256.Int
		tierID uint32
		reason strataErrors.Reason
	}{
		{"zero amount", "alice", amount.Zero(), 0, strataErrors.ReasonInvalidAmount},
		{"nil amount", "alice", nil, 0, strataErrors.ReasonInvalidAmount},
		{"unknown tier", "alice", amount.Tokens(1000), 9, strataErrors.ReasonInvalidTier},
		{"below min stake", "alice", amount.Tokens(99), 0, strataErrors.ReasonInsufficientStake},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.StartMining(t0, tt.owner, tt.stake, tt.tierID)
			if !strataErrors.IsReason(err, tt.reason) {
				t.Errorf("StartMining() = %v, want reason %q", err, tt.reason)
			}
		})
	}

	// Failed opens leave no trace
	if f.engine.SessionCount() != 0 {
		t.Errorf("SessionCount = %d after failed opens, want 0", f.engine.SessionCount())
	}
	if f.log.Len() != 0 {
		t.Errorf("failed opens must not emit events, got %d", f.log.Len())
	}
}

func TestStartMining_InactiveTier(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.registry.Deactivate(f.tier30); err != nil {
		t.Fatal(err)
	}

	_, err := f.engine.StartMining(t0, "alice", amount.Tokens(1000), f.tier30)
	if !strataErrors.IsReason(err, strataErrors.ReasonInvalidTier) {
		t.Errorf("StartMining() on inactive tier = %v, want invalid_tier", err)
	}
}

func TestClaim_EndToEnd(t *testing.T) {
	f := newFixture(t)

	s, err := f.engine.StartMining(t0, "alice", amount.Tokens(1000), f.tier30)
	if err != nil {
		t.Fatal(err)
	}

	matured := t0.Add(720 * time.Hour)
	reward, err := f.engine.Claim(matured, s.ID, "alice")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	// 1000 tokens * 500bp at base difficulty over the base period = 50 tokens
	if !reward.Eq(amount.Tokens(50)) {
		t.Errorf("reward = %s, want 50 tokens", reward.Dec())
	}
	if !f.ledger.BalanceOf("alice").Eq(reward) {
		t.Errorf("ledger balance = %s, want minted reward", f.ledger.BalanceOf("alice").Dec())
	}

	got, err := f.engine.GetSession(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active || !got.Claimed {
		t.Errorf("claimed session flags = active:%v claimed:%v, want inactive, claimed", got.Active, got.Claimed)
	}

	if recs := f.log.ByKind(events.KindSessionClaimed); len(recs) != 1 {
		t.Errorf("expected one session_claimed record, got %d", len(recs))
	}
}

func TestClaim_SingleShot(t *testing.T) {
	f := newFixture(t)

	s, err := f.engine.StartMining(t0, "alice", amount.Tokens(1000), f.tier30)
	if err != nil {
		t.Fatal(err)
	}

	matured := t0.Add(720 * time.Hour)
	if _, err := f.engine.Claim(matured, s.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	balance := f.ledger.BalanceOf("alice")

	_, err = f.engine.Claim(matured, s.ID, "alice")
	if !strataErrors.IsReason(err, strataErrors.ReasonAlreadyClaimed) {
		t.Fatalf("second Claim() = %v, want already_claimed", err)
	}

	// The failed second claim changes nothing
	if !f.ledger.BalanceOf("alice").Eq(balance) {
		t.Error("failed claim must not mint")
	}
	if recs := f.log.ByKind(events.KindSessionClaimed); len(recs) != 1 {
		t.Errorf("failed claim must not emit, got %d claim records", len(recs))
	}
}

func TestClaim_MaturityBoundary(t *testing.T) {
	f := newFixture(t)

	s, err := f.engine.StartMining(t0, "alice", amount.Tokens(1000), f.tier30)
	if err != nil {
		t.Fatal(err)
	}

	// One second early fails
	_, err = f.engine.Claim(s.EndTime.Add(-time.Second), s.ID, "alice")
	if !strataErrors.IsReason(err, strataErrors.ReasonSessionNotMatured) {
		t.Fatalf("early Claim() = %v, want session_not_matured", err)
	}

	// Exactly at EndTime succeeds
	if _, err := f.engine.Claim(s.EndTime, s.ID, "alice"); err != nil {
		t.Errorf("Claim() at exactly EndTime = %v, want success", err)
	}
}

func TestClaim_WrongCallerAndUnknownSession(t *testing.T) {
	f := newFixture(t)

	s, err := f.engine.StartMining(t0, "alice", amount.Tokens(1000), f.tier30)
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.engine.Claim(s.EndTime, s.ID, "mallory")
	if !strataErrors.IsType(err, strataErrors.ErrorTypeUnauthorized) {
		t.Errorf("Claim() by non-owner = %v, want unauthorized", err)
	}

	_, err = f.engine.Claim(s.EndTime, 999, "alice")
	if !strataErrors.IsType(err, strataErrors.ErrorTypeNotFound) {
		t.Errorf("Claim() on unknown session = %v, want not_found", err)
	}
}

func TestClaim_CapturedTierSurvivesDeactivation(t *testing.T) {
	f := newFixture(t)

	s, err := f.engine.StartMining(t0, "alice", amount.Tokens(1000), f.tier30)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.engine.registry.Deactivate(f.tier30); err != nil {
		t.Fatal(err)
	}

	reward, err := f.engine.Claim(s.EndTime, s.ID, "alice")
	if err != nil {
		t.Fatalf("Claim() after tier deactivation = %v, want success", err)
	}
	if !reward.Eq(amount.Tokens(50)) {
		t.Errorf("reward = %s, want the captured tier's 50 tokens", reward.Dec())
	}
}

func TestForceClose(t *testing.T) {
	f := newFixture(t)

	s, err := f.engine.StartMining(t0, "alice", amount.Tokens(1000), f.tier30)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.engine.ForceClose(t0.Add(time.Hour), s.ID, "mallory"); !strataErrors.IsType(err, strataErrors.ErrorTypeUnauthorized) {
		t.Errorf("ForceClose() by non-admin = %v, want unauthorized", err)
	}

	if err := f.engine.ForceClose(t0.Add(time.Hour), s.ID, "admin"); err != nil {
		t.Fatalf("ForceClose() error = %v", err)
	}

	got, err := f.engine.GetSession(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active || got.Claimed {
		t.Errorf("force-closed session flags = active:%v claimed:%v, want inactive, unclaimed", got.Active, got.Claimed)
	}

	// Claiming a force-closed session fails without payment
	_, err = f.engine.Claim(s.EndTime, s.ID, "alice")
	if !strataErrors.IsReason(err, strataErrors.ReasonSessionNotActive) {
		t.Errorf("Claim() on closed session = %v, want session_not_active", err)
	}
	if f.ledger.BalanceOf("alice").Sign() != 0 {
		t.Error("force-closed session must not pay")
	}
}

func TestSetDifficulty_CapabilityGate(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.SetDifficulty(nil, t0, amount.Tokens(2000)); !strataErrors.IsType(err, strataErrors.ErrorTypeUnauthorized) {
		t.Errorf("SetDifficulty(nil grant) = %v, want unauthorized", err)
	}

	// A grant from another engine does not authorize writes here
	other := newFixture(t)
	if err := f.engine.SetDifficulty(other.grant, t0, amount.Tokens(2000)); !strataErrors.IsType(err, strataErrors.ErrorTypeUnauthorized) {
		t.Errorf("SetDifficulty(foreign grant) = %v, want unauthorized", err)
	}

	if err := f.engine.SetDifficulty(f.grant, t0, amount.Tokens(2000)); err != nil {
		t.Fatalf("SetDifficulty() error = %v", err)
	}
	if !f.engine.Difficulty().Eq(amount.Tokens(2000)) {
		t.Errorf("difficulty = %s, want 2000 tokens", f.engine.Difficulty().Dec())
	}

	if recs := f.log.ByKind(events.KindDifficultyChanged); len(recs) != 1 {
		t.Fatalf("expected one difficulty_changed record, got %d", len(recs))
	} else if recs[0].Fields["old_difficulty"] != amount.Tokens(1000).Dec() {
		t.Errorf("record old value = %s", recs[0].Fields["old_difficulty"])
	}
}

func TestSetDifficulty_RejectsZero(t *testing.T) {
	f := newFixture(t)

	err := f.engine.SetDifficulty(f.grant, t0, amount.Zero())
	if !strataErrors.IsReason(err, strataErrors.ReasonInvalidDifficulty) {
		t.Errorf("SetDifficulty(0) = %v, want invalid_difficulty", err)
	}
	if !f.engine.Difficulty().Eq(amount.Tokens(1000)) {
		t.Error("rejected write must not change difficulty")
	}
}

func TestEmergencySetDifficulty(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.EmergencySetDifficulty(t0, "mallory", amount.Tokens(1)); !strataErrors.IsType(err, strataErrors.ErrorTypeUnauthorized) {
		t.Errorf("EmergencySetDifficulty() by non-admin = %v, want unauthorized", err)
	}

	if err := f.engine.EmergencySetDifficulty(t0, "admin", amount.Tokens(500)); err != nil {
		t.Fatalf("EmergencySetDifficulty() error = %v", err)
	}
	if !f.engine.Difficulty().Eq(amount.Tokens(500)) {
		t.Error("emergency write should change difficulty")
	}

	recs := f.log.ByKind(events.KindDifficultyChanged)
	if len(recs) != 1 || recs[0].Fields["origin"] != "emergency" {
		t.Errorf("expected emergency-origin record, got %+v", recs)
	}
}

func TestGetUserSessions(t *testing.T) {
	f := newFixture(t)

	if got := f.engine.GetUserSessions("nobody"); len(got) != 0 {
		t.Errorf("GetUserSessions(unknown) = %v, want empty", got)
	}

	for i := 0; i < 3; i++ {
		if _, err := f.engine.StartMining(t0, "alice", amount.Tokens(1000), f.tier30); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.engine.StartMining(t0, "bob", amount.Tokens(500), f.tier30); err != nil {
		t.Fatal(err)
	}

	got := f.engine.GetUserSessions("alice")
	if len(got) != 3 {
		t.Fatalf("GetUserSessions(alice) length = %d, want 3", len(got))
	}
	for i, s := range got {
		if s.ID != uint64(i+1) {
			t.Errorf("session %d id = %d, want open order", i, s.ID)
		}
	}
}
