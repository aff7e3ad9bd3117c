package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/harvest-med/lead-pipeline/internal/enrich"
	"github.com/harvest-med/lead-pipeline/internal/match"
	"github.com/harvest-med/lead-pipeline/internal/merge"
	"github.com/harvest-med/lead-pipeline/internal/scorer"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Match      match.Config     `yaml:"match" mapstructure:"match"`
	Merge      MergeConfig      `yaml:"merge" mapstructure:"merge"`
	Enrich     enrich.Config    `yaml:"enrich" mapstructure:"enrich"`
	Scorer     scorer.Config    `yaml:"scorer" mapstructure:"scorer"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PipelineConfig scopes which records a run accepts.
type PipelineConfig struct {
	TargetState string `yaml:"target_state" mapstructure:"target_state"`
}

// MergeConfig holds the per-family conflict resolution order. RulesFile, when
// set, replaces Rules with the contents of a standalone YAML file.
type MergeConfig struct {
	RulesFile string       `yaml:"rules_file" mapstructure:"rules_file"`
	Rules     []merge.Rule `yaml:"rules" mapstructure:"rules"`
}

// ServerConfig configures the read-only lead API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures run-health alerting.
type MonitoringConfig struct {
	Enabled                    bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL                 string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs          int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours        int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold       float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StaleAfterHours            int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	EnrichmentFailureThreshold float64 `yaml:"enrichment_failure_threshold" mapstructure:"enrichment_failure_threshold"`
	RejectionRateThreshold     float64 `yaml:"rejection_rate_threshold" mapstructure:"rejection_rate_threshold"`
}

// Load reads configuration from config.yaml and LEADS_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.Merge.RulesFile != "" {
		rules, err := merge.LoadRules(cfg.Merge.RulesFile)
		if err != nil {
			return nil, eris.Wrap(err, "config: load merge rules")
		}
		cfg.Merge.Rules = rules
	}
	if len(cfg.Merge.Rules) == 0 {
		cfg.Merge.Rules = merge.DefaultRules()
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leads.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("pipeline.target_state", "AL")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 900)
	v.SetDefault("monitoring.lookback_window_hours", 24*28)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.stale_after_hours", 24*8)
	v.SetDefault("monitoring.enrichment_failure_threshold", 0.20)
	v.SetDefault("monitoring.rejection_rate_threshold", 0.30)

	mc := match.DefaultConfig()
	v.SetDefault("match.name_threshold", mc.NameThreshold)
	v.SetDefault("match.suppress_individuals_at_org", mc.SuppressIndividualsAtOrg)

	ec := enrich.DefaultConfig()
	v.SetDefault("enrich.concurrency", ec.Concurrency)
	v.SetDefault("enrich.checkpoint_every", ec.CheckpointEvery)
	v.SetDefault("enrich.adapter_timeout_secs", ec.AdapterTimeoutSecs)
	v.SetDefault("enrich.retry.max_attempts", ec.Retry.MaxAttempts)
	v.SetDefault("enrich.retry.initial_backoff_ms", ec.Retry.InitialBackoffMS)
	v.SetDefault("enrich.retry.max_backoff_ms", ec.Retry.MaxBackoffMS)
	v.SetDefault("enrich.geocode.enabled", ec.Geocode.Enabled)
	v.SetDefault("enrich.geocode.base_url", ec.Geocode.BaseURL)
	v.SetDefault("enrich.geocode.rate_per_sec", ec.Geocode.RatePerSec)
	v.SetDefault("enrich.geocode.timeout_secs", ec.Geocode.TimeoutSecs)

	sc := scorer.DefaultConfig()
	v.SetDefault("scorer.weights.facility_type", sc.Weights.FacilityType)
	v.SetDefault("scorer.weights.volume", sc.Weights.Volume)
	v.SetDefault("scorer.weights.proximity", sc.Weights.Proximity)
	v.SetDefault("scorer.weights.completeness", sc.Weights.Completeness)
	v.SetDefault("scorer.category_values", sc.CategoryValues)
	v.SetDefault("scorer.default_category_value", sc.DefaultCategoryValue)
	v.SetDefault("scorer.tiers.hot", sc.Tiers.Hot)
	v.SetDefault("scorer.tiers.warm", sc.Tiers.Warm)
	v.SetDefault("scorer.tiers.cool", sc.Tiers.Cool)
	v.SetDefault("scorer.service_radius_miles", sc.ServiceRadiusMiles)
	v.SetDefault("scorer.waste_cap_lbs", sc.WasteCapLbs)
	v.SetDefault("scorer.bed_count_cap", sc.BedCountCap)
}

// Validate checks cross-section invariants and reports every violation at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres, got "+c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if len(c.Pipeline.TargetState) != 2 {
		errs = append(errs, "pipeline.target_state must be a two-letter state code")
	}
	if c.Match.NameThreshold <= 0 || c.Match.NameThreshold > 1 {
		errs = append(errs, "match.name_threshold must be in (0, 1]")
	}
	if c.Enrich.Concurrency < 1 {
		errs = append(errs, "enrich.concurrency must be at least 1")
	}
	if c.Enrich.CheckpointEvery < 1 {
		errs = append(errs, "enrich.checkpoint_every must be at least 1")
	}
	if c.Monitoring.Enabled && c.Monitoring.LookbackWindowHours < 1 {
		errs = append(errs, "monitoring.lookback_window_hours must be at least 1")
	}
	if err := merge.ValidateRules(c.Merge.Rules); err != nil {
		errs = append(errs, err.Error())
	}
	if err := scorer.ValidateConfig(c.Scorer); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger builds the global zap logger from cfg.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
