package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kara-bolt/karadao/pkg/contracts"
)

const sampleProfile = `
version: "1.2.0"
name: test-net
owner: owner
chief: chief
params:
  cycle_seconds: 30
  min_voting_stake_units: 100
  registration_stake_units: 50000
  beta_mode: true
  max_beta_agents: 10
tiers:
  - tier: INFO
    voting_period_seconds: 30
    threshold_bps: 5001
    min_stake_units: 100
    active: true
  - tier: ACTION
    voting_period_seconds: 60
    threshold_bps: 6000
    min_stake_units: 1000
    active: true
breakers:
  - tier: INFO
    failure_threshold: 3
    window_cycles: 10
    cooldown_seconds: 120
    auto_trigger: true
guardians: [g1, g2]
whitelist: [alice]
executors: [worker]
admission_rules:
  - name: critical-needs-reputation
    expression: tier != "CRITICAL" || reputation >= 75
`

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile([]byte(sampleProfile))
	require.NoError(t, err)
	assert.Equal(t, "test-net", p.Name)
	assert.Equal(t, "owner", p.Owner)
	assert.Equal(t, []string{"g1", "g2"}, p.Guardians)
	require.Len(t, p.AdmissionRules, 1)
	assert.Equal(t, "critical-needs-reputation", p.AdmissionRules[0].Name)
}

func TestParseProfile_VersionGate(t *testing.T) {
	tests := []struct {
		name    string
		version string
		ok      bool
	}{
		{"exact", "1.0.0", true},
		{"minor ahead", "1.7.3", true},
		{"next major", "2.0.0", false},
		{"garbage", "latest", false},
		{"missing", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := "version: \"" + tt.version + "\"\nname: x\nowner: o\nchief: c\n"
			_, err := ParseProfile([]byte(doc))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestParseProfile_RequiresIdentities(t *testing.T) {
	_, err := ParseProfile([]byte("version: \"1.0.0\"\nname: x\nowner: o\n"))
	assert.Error(t, err)
}

func TestGovernanceParams(t *testing.T) {
	p, err := ParseProfile([]byte(sampleProfile))
	require.NoError(t, err)

	params := p.GovernanceParams()
	assert.Equal(t, 30*time.Second, params.CycleDuration)
	assert.Equal(t, contracts.Units(100), params.MinVotingStake)
	assert.Equal(t, contracts.Units(50_000), params.RegistrationStake)
	assert.True(t, params.BetaMode)
	assert.Equal(t, 10, params.MaxBetaAgents)
	assert.True(t, params.AllowDeregisterWithOpenProposals, "absent flag keeps the default")
}

func TestTierConfigs(t *testing.T) {
	p, err := ParseProfile([]byte(sampleProfile))
	require.NoError(t, err)

	tiers, err := p.TierConfigs()
	require.NoError(t, err)
	assert.True(t, tiers[contracts.TierAction].Active, "profile overrides the default")
	assert.Equal(t, int64(6000), tiers[contracts.TierAction].Threshold)
	assert.False(t, tiers[contracts.TierFunds].Active, "unnamed tiers keep genesis defaults")
	assert.Equal(t, int64(7500), tiers[contracts.TierCritical].Threshold)
}

func TestTierConfigs_Rejections(t *testing.T) {
	p := &GenesisProfile{Tiers: []TierProfile{{Tier: "NOPE", VotingPeriodSeconds: 30, ThresholdBps: 5001}}}
	_, err := p.TierConfigs()
	assert.Error(t, err)

	p = &GenesisProfile{Tiers: []TierProfile{{Tier: "INFO", VotingPeriodSeconds: 30, ThresholdBps: 10001}}}
	_, err = p.TierConfigs()
	assert.Error(t, err)

	p = &GenesisProfile{Tiers: []TierProfile{{Tier: "INFO", VotingPeriodSeconds: 0, ThresholdBps: 5001}}}
	_, err = p.TierConfigs()
	assert.Error(t, err)
}

func TestBreakerConfigs(t *testing.T) {
	p, err := ParseProfile([]byte(sampleProfile))
	require.NoError(t, err)

	breakers, err := p.BreakerConfigs()
	require.NoError(t, err)
	assert.Equal(t, 3, breakers[contracts.TierInfo].FailureThreshold)
	assert.Equal(t, int64(120), breakers[contracts.TierInfo].Cooldown)
	assert.Equal(t, 5, breakers[contracts.TierAction].FailureThreshold, "unnamed tiers keep genesis defaults")
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleProfile), 0o644))

	p, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "test-net", p.Name)

	_, err = LoadProfile(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GENESIS_PROFILE", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "file:karadao.db", cfg.DatabaseURL)
	assert.Equal(t, "profiles/genesis.yaml", cfg.ProfilePath)

	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "postgres")
	cfg = Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
}
