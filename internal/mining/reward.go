package mining

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/strataforge/strata/internal/amount"
)

// computeReward evaluates the reward formula:
//
//	reward = stake * multiplierBP * duration * baseDifficulty
//	         -----------------------------------------------
//	              10000 * basePeriod * difficulty
//
// Reward grows with stake, multiplier, and tier duration, and shrinks as
// difficulty rises above its base value. All products are checked 256-bit
// multiplications; any overflow fails the claim instead of wrapping. The
// quotient is floored, then raised to one base unit so a matured positive
// stake never pays zero.
func computeReward(stake *uint256.Int, multiplierBP uint32, duration time.Duration,
	baseDifficulty, difficulty *uint256.Int, basePeriod time.Duration) (*uint256.Int, error) {

	const op = "compute_reward"

	num, err := amount.CheckedMul(op, stake, uint256.NewInt(uint64(multiplierBP)))
	if err != nil {
		return nil, err
	}
	num, err = amount.CheckedMul(op, num, uint256.NewInt(uint64(duration/time.Second)))
	if err != nil {
		return nil, err
	}
	num, err = amount.CheckedMul(op, num, baseDifficulty)
	if err != nil {
		return nil, err
	}

	den, err := amount.CheckedMul(op, uint256.NewInt(amount.BasisPointDenominator),
		uint256.NewInt(uint64(basePeriod/time.Second)))
	if err != nil {
		return nil, err
	}
	den, err = amount.CheckedMul(op, den, difficulty)
	if err != nil {
		return nil, err
	}

	reward, err := amount.Div(op, num, den)
	if err != nil {
		return nil, err
	}

	if reward.IsZero() && !stake.IsZero() {
		reward = amount.Units(1)
	}
	return reward, nil
}
