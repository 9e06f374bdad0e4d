// Package ledger defines the balance authority the Strata engines depend on.
// The engines consume only the narrow Ledger interface; the full token
// bookkeeping (transfers, approvals, total supply) lives behind it.
package ledger

import "github.com/holiman/uint256"

// Ledger is the balance/mint capability injected into the engines.
// BalanceOf backs voting-power lookups; Mint is the reward issuance path.
type Ledger interface {
	BalanceOf(account string) *uint256.Int
	Mint(account string, value *uint256.Int) error
}
