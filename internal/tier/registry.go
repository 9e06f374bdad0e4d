// Package tier provides the registry of mining tiers consulted by the
// mining engine. Tiers are read-heavy configuration: lookups sit on the
// claim/open hot path, mutation is an administrative operation.
package tier

import (
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/strataforge/strata/pkg/errors"
)

// Tier is one mining configuration. Duration and RewardMultiplier are
// immutable once the tier id has been issued; sessions additionally capture
// them by value at open time.
type Tier struct {
	ID               uint32
	Duration         time.Duration
	RewardMultiplier uint32 // basis points
	MinStake         *uint256.Int
	Active           bool
}

// Registry holds the issued tiers.
type Registry struct {
	mu    sync.RWMutex
	tiers []Tier
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add issues a new tier and returns its id. Ids are dense and never reused.
func (r *Registry) Add(duration time.Duration, rewardMultiplier uint32, minStake *uint256.Int) (uint32, error) {
	if duration <= 0 {
		return 0, errors.New(errors.ErrorTypeInvalidArgument, "add_tier", "tier duration must be positive")
	}
	if rewardMultiplier == 0 {
		return 0, errors.New(errors.ErrorTypeInvalidArgument, "add_tier", "reward multiplier must be positive")
	}
	if minStake == nil {
		minStake = new(uint256.Int)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := uint32(len(r.tiers))
	r.tiers = append(r.tiers, Tier{
		ID:               id,
		Duration:         duration,
		RewardMultiplier: rewardMultiplier,
		MinStake:         new(uint256.Int).Set(minStake),
		Active:           true,
	})
	return id, nil
}

// Deactivate closes a tier to new sessions. Open sessions keep the
// parameters they captured; this only stops new opens.
func (r *Registry) Deactivate(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(id) >= len(r.tiers) {
		return notFound(id)
	}
	r.tiers[id].Active = false
	return nil
}

// Get returns a tier by id.
func (r *Registry) Get(id uint32) (Tier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if int(id) >= len(r.tiers) {
		return Tier{}, notFound(id)
	}
	return r.copyOf(id), nil
}

// List returns all issued tiers in id order.
func (r *Registry) List() []Tier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tier, len(r.tiers))
	for i := range r.tiers {
		out[i] = r.copyOf(uint32(i))
	}
	return out
}

// IsEligible reports whether a stake may open a session on the tier: the
// tier must be active and the stake at least the tier minimum.
func (r *Registry) IsEligible(id uint32, stake *uint256.Int) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if int(id) >= len(r.tiers) {
		return false, notFound(id)
	}

	t := &r.tiers[id]
	if !t.Active {
		return false, nil
	}
	return !stake.Lt(t.MinStake), nil
}

func (r *Registry) copyOf(id uint32) Tier {
	t := r.tiers[id]
	t.MinStake = new(uint256.Int).Set(t.MinStake)
	return t
}

func notFound(id uint32) error {
	return errors.New(errors.ErrorTypeNotFound, "get_tier", "unknown tier").
		WithReason(errors.ReasonInvalidTier).
		WithContext("tier_id", id)
}
