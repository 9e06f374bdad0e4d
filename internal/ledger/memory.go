package ledger

import (
	"sync"

	"github.com/holiman/uint256"

	"github.com/strataforge/strata/internal/amount"
	"github.com/strataforge/strata/pkg/errors"
)

// Memory is an in-process ledger used by tests and standalone deployments.
// Balances are confirmed state only; there is no pending or staged view.
type Memory struct {
	mu sync.RWMutex

	balances    map[string]*uint256.Int
	totalSupply *uint256.Int
	admin       string
}

// NewMemory creates an empty in-process ledger. admin names the account
// allowed to use the emergency mint path; empty disables it.
func NewMemory(admin string) *Memory {
	return &Memory{
		balances:    make(map[string]*uint256.Int),
		totalSupply: amount.Zero(),
		admin:       admin,
	}
}

// NewMemoryWithAllocation creates a ledger pre-funded with an initial
// liquidity allocation.
func NewMemoryWithAllocation(admin, liquidityWallet string, supply *uint256.Int) (*Memory, error) {
	l := NewMemory(admin)
	if liquidityWallet != "" && supply != nil && !supply.IsZero() {
		if err := l.Mint(liquidityWallet, supply); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// BalanceOf returns the confirmed balance of an account. Unknown accounts
// hold zero.
func (l *Memory) BalanceOf(account string) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if bal, ok := l.balances[account]; ok {
		return new(uint256.Int).Set(bal)
	}
	return amount.Zero()
}

// TotalSupply returns the sum of all minted balances.
func (l *Memory) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(uint256.Int).Set(l.totalSupply)
}

// Mint credits value to an account.
func (l *Memory) Mint(account string, value *uint256.Int) error {
	if account == "" {
		return errors.New(errors.ErrorTypeInvalidArgument, "mint", "account is required")
	}
	if value == nil || value.IsZero() {
		return errors.New(errors.ErrorTypeInvalidArgument, "mint", "mint value must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	supply, err := amount.CheckedAdd("mint", l.totalSupply, value)
	if err != nil {
		return err
	}

	current, ok := l.balances[account]
	if !ok {
		current = amount.Zero()
	}
	next, err := amount.CheckedAdd("mint", current, value)
	if err != nil {
		return err
	}

	l.totalSupply = supply
	l.balances[account] = next
	return nil
}

// Transfer moves value between accounts.
func (l *Memory) Transfer(from, to string, value *uint256.Int) error {
	if from == "" || to == "" {
		return errors.New(errors.ErrorTypeInvalidArgument, "transfer", "both accounts are required")
	}
	if value == nil || value.IsZero() {
		return errors.New(errors.ErrorTypeInvalidArgument, "transfer", "transfer value must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.balances[from]
	if !ok || current.Lt(value) {
		return errors.New(errors.ErrorTypePrecondition, "transfer", "insufficient balance").
			WithContext("account", from)
	}

	dest, ok := l.balances[to]
	if !ok {
		dest = amount.Zero()
	}
	next, err := amount.CheckedAdd("transfer", dest, value)
	if err != nil {
		return err
	}

	l.balances[from] = new(uint256.Int).Sub(current, value)
	l.balances[to] = next
	return nil
}

// EmergencyMint credits value outside the reward path. Restricted to the
// configured admin account.
func (l *Memory) EmergencyMint(caller, account string, value *uint256.Int) error {
	if l.admin == "" || caller != l.admin {
		return errors.New(errors.ErrorTypeUnauthorized, "emergency_mint",
			"caller is not the emergency admin").
			WithContext("caller", caller)
	}
	return l.Mint(account, value)
}

// SetBalance overwrites an account balance. Test seeding only.
func (l *Memory) SetBalance(account string, value *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = new(uint256.Int).Set(value)
}
