package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/governance"
	"github.com/kara-bolt/karadao/pkg/guardian"
)

// SupportedProfileVersions is the semver constraint accepted by this build.
const SupportedProfileVersions = "^1.0"

// GenesisProfile is the deployment-time system definition.
type GenesisProfile struct {
	Version string `yaml:"version"`
	Name    string `yaml:"name"`

	Owner string `yaml:"owner"`
	Chief string `yaml:"chief"`

	Params    ParamsProfile    `yaml:"params"`
	Tiers     []TierProfile    `yaml:"tiers"`
	Breakers  []BreakerProfile `yaml:"breakers,omitempty"`
	Guardians []string         `yaml:"guardians,omitempty"`
	Whitelist []string         `yaml:"whitelist,omitempty"`
	Executors []string         `yaml:"executors,omitempty"`

	AdmissionRules []AdmissionRuleProfile `yaml:"admission_rules,omitempty"`
	MetadataSchema string                 `yaml:"metadata_schema,omitempty"`
}

// ParamsProfile overrides the engine-wide governance parameters. Stake
// amounts are whole token units.
type ParamsProfile struct {
	CycleSeconds           int64 `yaml:"cycle_seconds"`
	MinVotingStakeUnits    int64 `yaml:"min_voting_stake_units"`
	RegistrationStakeUnits int64 `yaml:"registration_stake_units"`
	BetaMode               bool  `yaml:"beta_mode"`
	MaxBetaAgents          int   `yaml:"max_beta_agents"`
	AllowDeregisterOpen    *bool `yaml:"allow_deregister_with_open_proposals,omitempty"`
}

// TierProfile configures one risk tier.
type TierProfile struct {
	Tier                string `yaml:"tier"`
	VotingPeriodSeconds int64  `yaml:"voting_period_seconds"`
	ThresholdBps        int64  `yaml:"threshold_bps"`
	MinStakeUnits       int64  `yaml:"min_stake_units"`
	Active              bool   `yaml:"active"`
}

// BreakerProfile configures one tier's circuit breaker.
type BreakerProfile struct {
	Tier             string `yaml:"tier"`
	FailureThreshold int    `yaml:"failure_threshold"`
	WindowCycles     int    `yaml:"window_cycles"`
	CooldownSeconds  int64  `yaml:"cooldown_seconds"`
	AutoTrigger      bool   `yaml:"auto_trigger"`
}

// AdmissionRuleProfile is one named CEL admission expression.
type AdmissionRuleProfile struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
}

// LoadProfile reads and validates a genesis profile YAML document.
func LoadProfile(path string) (*GenesisProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load genesis profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile parses a genesis profile and checks its version against
// SupportedProfileVersions.
func ParseProfile(data []byte) (*GenesisProfile, error) {
	var p GenesisProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse genesis profile: %w", err)
	}

	if p.Version == "" {
		return nil, fmt.Errorf("genesis profile has no version")
	}
	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return nil, fmt.Errorf("genesis profile version %q: %w", p.Version, err)
	}
	constraint, err := semver.NewConstraint(SupportedProfileVersions)
	if err != nil {
		return nil, fmt.Errorf("profile version constraint: %w", err)
	}
	if !constraint.Check(v) {
		return nil, fmt.Errorf("genesis profile version %s outside supported range %s",
			p.Version, SupportedProfileVersions)
	}

	if p.Owner == "" || p.Chief == "" {
		return nil, fmt.Errorf("genesis profile must name owner and chief")
	}
	return &p, nil
}

// GovernanceParams converts the profile into engine parameters, starting
// from the genesis defaults.
func (p *GenesisProfile) GovernanceParams() governance.Params {
	params := governance.DefaultParams()
	if p.Params.CycleSeconds > 0 {
		params.CycleDuration = time.Duration(p.Params.CycleSeconds) * time.Second
	}
	if p.Params.MinVotingStakeUnits > 0 {
		params.MinVotingStake = contracts.Units(p.Params.MinVotingStakeUnits)
	}
	if p.Params.RegistrationStakeUnits > 0 {
		params.RegistrationStake = contracts.Units(p.Params.RegistrationStakeUnits)
	}
	params.BetaMode = p.Params.BetaMode
	if p.Params.MaxBetaAgents > 0 {
		params.MaxBetaAgents = p.Params.MaxBetaAgents
	}
	if p.Params.AllowDeregisterOpen != nil {
		params.AllowDeregisterWithOpenProposals = *p.Params.AllowDeregisterOpen
	}
	return params
}

// TierConfigs converts the profile's tier table, filling unnamed tiers from
// the genesis defaults.
func (p *GenesisProfile) TierConfigs() (map[contracts.Tier]*governance.TierConfig, error) {
	tiers := governance.DefaultTierConfigs()
	for _, tp := range p.Tiers {
		tier, err := contracts.ParseTier(tp.Tier)
		if err != nil {
			return nil, fmt.Errorf("genesis tier table: %w", err)
		}
		if tp.ThresholdBps < 0 || tp.ThresholdBps > contracts.BasisPoints {
			return nil, fmt.Errorf("tier %s threshold %d out of range", tp.Tier, tp.ThresholdBps)
		}
		if tp.VotingPeriodSeconds <= 0 {
			return nil, fmt.Errorf("tier %s voting period must be positive", tp.Tier)
		}
		tiers[tier] = &governance.TierConfig{
			VotingPeriod: time.Duration(tp.VotingPeriodSeconds) * time.Second,
			Threshold:    tp.ThresholdBps,
			MinStake:     contracts.Units(tp.MinStakeUnits),
			Active:       tp.Active,
		}
	}
	return tiers, nil
}

// BreakerConfigs converts the profile's breaker table, filling unnamed
// tiers from the genesis defaults.
func (p *GenesisProfile) BreakerConfigs() (map[contracts.Tier]guardian.BreakerConfig, error) {
	breakers := make(map[contracts.Tier]guardian.BreakerConfig, contracts.TierCount)
	for t := contracts.Tier(0); t < contracts.TierCount; t++ {
		breakers[t] = guardian.DefaultBreakerConfig()
	}
	for _, bp := range p.Breakers {
		tier, err := contracts.ParseTier(bp.Tier)
		if err != nil {
			return nil, fmt.Errorf("genesis breaker table: %w", err)
		}
		if bp.FailureThreshold <= 0 || bp.CooldownSeconds <= 0 {
			return nil, fmt.Errorf("tier %s breaker threshold and cooldown must be positive", bp.Tier)
		}
		breakers[tier] = guardian.BreakerConfig{
			FailureThreshold: bp.FailureThreshold,
			WindowCycles:     bp.WindowCycles,
			Cooldown:         bp.CooldownSeconds,
			AutoTrigger:      bp.AutoTrigger,
		}
	}
	return breakers, nil
}
