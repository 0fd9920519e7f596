package governance

import (
	"math/big"
	"time"

	"github.com/kara-bolt/karadao/pkg/contracts"
)

// TierConfig governs proposals in one risk tier. Threshold is expressed in
// parts-per-10000 and must never exceed contracts.BasisPoints.
type TierConfig struct {
	VotingPeriod time.Duration
	Threshold    int64 // pass threshold, parts-per-10000
	MinStake     *big.Int
	Active       bool
}

// Proposal is one governance action under vote. Once Executed or Vetoed the
// record is permanently immutable; Start/End are fixed at creation even if
// the tier config later changes.
type Proposal struct {
	ID           uint64
	ContentHash  contracts.Hash
	Tier         contracts.Tier
	Proposer     contracts.Address
	Start        int64 // unix seconds
	End          int64 // Start + tier voting period at creation
	Cycle        uint64
	ForVotes     *big.Int
	AgainstVotes *big.Int
	Executed     bool
	Vetoed       bool
}

// Open reports whether the voting window is still open at `now`.
func (p *Proposal) Open(now int64) bool {
	return now < p.End && !p.Executed && !p.Vetoed
}

// Agent is an identity registered as a governance proposer / delegate target.
type Agent struct {
	Address      contracts.Address
	RegisteredAt int64
	Stake        *big.Int // registration stake held in custody
	Reputation   int      // 0–100, default 50
	Metadata     string   // JSON metadata document reference
	Active       bool
}

// Staker is the cached voting-stake snapshot pushed from the stake registry.
// Governance never mutates it except through the registry push or an owner
// override.
type Staker struct {
	Address     contracts.Address
	Amount      *big.Int
	LockEnd     int64
	DelegatedTo contracts.Address // optional
	Multiplier  int               // percentage; 100 = 1.0×, 0 = unset
}

// Multiplier tiers for lock durations {none, 1y, 2y, 4y}.
const (
	MultiplierNone  = 100
	MultiplierYear1 = 150
	MultiplierYear2 = 200
	MultiplierYear4 = 300
)

// ValidMultiplier reports whether m is a recognized multiplier tier
// (0 is accepted as "unset" and defaults to 100 at read time).
func ValidMultiplier(m int) bool {
	switch m {
	case 0, MultiplierNone, MultiplierYear1, MultiplierYear2, MultiplierYear4:
		return true
	}
	return false
}

// Reputation bounds and the delegate bonus.
const (
	ReputationMin     = 0
	ReputationDefault = 50
	ReputationMax     = 100

	// Delegating to an active agent with reputation ≥ DelegateBonusFloor
	// multiplies voting power by DelegateBonusNum/DelegateBonusDen (1.2×).
	DelegateBonusFloor = 80
	DelegateBonusNum   = 120
	DelegateBonusDen   = 100
)

// Params are the engine-wide governance parameters fixed at genesis and
// mutable only by the owner.
type Params struct {
	CycleDuration     time.Duration
	MinVotingStake    *big.Int
	RegistrationStake *big.Int
	BetaMode          bool // whitelist + cap enforcement on registration
	MaxBetaAgents     int

	// AllowDeregisterWithOpenProposals preserves the source design's
	// accepted gap: deregistration does not check for in-flight proposals.
	// Operators may tighten this.
	AllowDeregisterWithOpenProposals bool
}

// DefaultParams returns the genesis parameter set.
func DefaultParams() Params {
	return Params{
		CycleDuration:                    30 * time.Second,
		MinVotingStake:                   contracts.Units(100),
		RegistrationStake:                contracts.Units(50_000),
		BetaMode:                         false,
		MaxBetaAgents:                    100,
		AllowDeregisterWithOpenProposals: true,
	}
}

// DefaultTierConfigs returns the genesis tier table. Only INFO is active;
// the others exist but are inert until explicitly activated.
func DefaultTierConfigs() map[contracts.Tier]*TierConfig {
	return map[contracts.Tier]*TierConfig{
		contracts.TierInfo: {
			VotingPeriod: 30 * time.Second,
			Threshold:    5001,
			MinStake:     contracts.Units(100),
			Active:       true,
		},
		contracts.TierAction: {
			VotingPeriod: 60 * time.Second,
			Threshold:    6000,
			MinStake:     contracts.Units(1_000),
			Active:       false,
		},
		contracts.TierFunds: {
			VotingPeriod: 5 * time.Minute,
			Threshold:    6600,
			MinStake:     contracts.Units(10_000),
			Active:       false,
		},
		contracts.TierCritical: {
			VotingPeriod: 15 * time.Minute,
			Threshold:    7500,
			MinStake:     contracts.Units(100_000),
			Active:       false,
		},
	}
}
