package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harvest-med/lead-pipeline/internal/merge"
	"github.com/harvest-med/lead-pipeline/internal/model"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "leads.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "AL", cfg.Pipeline.TargetState)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 0.82, cfg.Match.NameThreshold, 0.0001)
	assert.Equal(t, 8, cfg.Enrich.Concurrency)
	assert.Equal(t, 50, cfg.Enrich.CheckpointEvery)
	assert.False(t, cfg.Enrich.Geocode.Enabled)
	assert.InDelta(t, 0.30, cfg.Scorer.Weights.FacilityType, 0.001)
	assert.InDelta(t, 0.30, cfg.Scorer.Weights.Volume, 0.001)
	assert.InDelta(t, 0.25, cfg.Scorer.Weights.Proximity, 0.001)
	assert.InDelta(t, 0.15, cfg.Scorer.Weights.Completeness, 0.001)
	assert.Equal(t, 80, cfg.Scorer.Tiers.Hot)
	assert.Equal(t, 60, cfg.Scorer.Tiers.Warm)
	assert.Equal(t, 40, cfg.Scorer.Tiers.Cool)
	assert.Equal(t, merge.DefaultRules(), cfg.Merge.Rules)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 672, cfg.Monitoring.LookbackWindowHours)
	assert.Equal(t, 192, cfg.Monitoring.StaleAfterHours)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://leads@localhost/leads
log:
  level: debug
  format: console
match:
  name_threshold: 0.9
enrich:
  concurrency: 4
  geocode:
    enabled: true
scorer:
  weights:
    volume: 0.35
    proximity: 0.20
  tiers:
    hot: 85
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://leads@localhost/leads", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.InDelta(t, 0.9, cfg.Match.NameThreshold, 0.0001)
	assert.Equal(t, 4, cfg.Enrich.Concurrency)
	assert.True(t, cfg.Enrich.Geocode.Enabled)
	assert.NotEmpty(t, cfg.Enrich.Geocode.BaseURL)
	assert.InDelta(t, 0.35, cfg.Scorer.Weights.Volume, 0.001)
	assert.InDelta(t, 0.30, cfg.Scorer.Weights.FacilityType, 0.001)
	assert.Equal(t, 85, cfg.Scorer.Tiers.Hot)
	assert.Equal(t, 60, cfg.Scorer.Tiers.Warm)

	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("LEADS_STORE_DATABASE_URL", "/var/lib/leads/leads.db")
	t.Setenv("LEADS_PIPELINE_TARGET_STATE", "MS")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/leads/leads.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "MS", cfg.Pipeline.TargetState)
}

func TestLoadMergeRulesFile(t *testing.T) {
	dir := chdirTemp(t)

	rules := `
rules:
  - family: identity
    strategy: priority
    sources: [cms, adph, npi]
  - family: licensing
    strategy: priority
    sources: [adph]
  - family: clinical
    strategy: priority
    sources: [npi]
  - family: operational
    strategy: priority
    sources: [cms]
  - family: contact
    strategy: most_recent
    sources: [adph, npi, cms]
`
	rulesPath := filepath.Join(dir, "merge_rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(rules), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("merge:\n  rules_file: "+rulesPath+"\n"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Merge.Rules, 5)
	assert.Equal(t, merge.FamilyIdentity, cfg.Merge.Rules[0].Family)
	assert.Equal(t, []model.Source{model.SourceCMS, model.SourceADPH, model.SourceNPI}, cfg.Merge.Rules[0].Sources)
	assert.Equal(t, merge.StrategyMostRecent, cfg.Merge.Rules[4].Strategy)
}

func TestLoadMergeRulesFile_Invalid(t *testing.T) {
	dir := chdirTemp(t)
	rulesPath := filepath.Join(dir, "merge_rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte("rules:\n  - family: identity\n    strategy: priority\n    sources: [npi]\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("merge:\n  rules_file: "+rulesPath+"\n"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing rule for family")
}

func TestValidate(t *testing.T) {
	chdirTemp(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"missing url", func(c *Config) { c.Store.DatabaseURL = "" }, "store.database_url"},
		{"bad state", func(c *Config) { c.Pipeline.TargetState = "Alabama" }, "target_state"},
		{"threshold zero", func(c *Config) { c.Match.NameThreshold = 0 }, "name_threshold"},
		{"threshold above one", func(c *Config) { c.Match.NameThreshold = 1.2 }, "name_threshold"},
		{"no concurrency", func(c *Config) { c.Enrich.Concurrency = 0 }, "enrich.concurrency"},
		{"no checkpoint", func(c *Config) { c.Enrich.CheckpointEvery = 0 }, "checkpoint_every"},
		{"weights", func(c *Config) { c.Scorer.Weights.Volume = 0.9 }, "weights should sum to 1"},
		{"merge rules", func(c *Config) { c.Merge.Rules = c.Merge.Rules[:2] }, "missing rule for family"},
		{"monitoring lookback", func(c *Config) {
			c.Monitoring.Enabled = true
			c.Monitoring.LookbackWindowHours = 0
		}, "lookback_window_hours"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Store.Driver = "mysql"
	cfg.Enrich.Concurrency = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "enrich.concurrency")
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{"json info", LogConfig{Level: "info", Format: "json"}, false},
		{"console debug", LogConfig{Level: "debug", Format: "console"}, false},
		{"bad level", LogConfig{Level: "loud", Format: "json"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := InitLogger(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, zap.L())
		})
	}
}
