// Package config loads the typed runtime configuration from YAML.
// Defaults come from struct tags, validation from validator tags; the
// shipped config/tradetune.yaml mirrors every default.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/tradetune/internal/reeval"
	"github.com/sawpanic/tradetune/internal/regime"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "48h" or "30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full runtime configuration.
type Config struct {
	Logging      Logging             `yaml:"logging"`
	Telemetry    Telemetry           `yaml:"telemetry"`
	State        State               `yaml:"state"`
	Resolver     Resolver            `yaml:"resolver"`
	Learner      Learner             `yaml:"learner"`
	Regime       regime.Thresholds   `yaml:"regime"`
	Reevaluation Reevaluation        `yaml:"reevaluation"`
	Policy       reeval.PolicyConfig `yaml:"policy"`
	Metrics      Metrics             `yaml:"metrics"`
}

// Logging controls zerolog setup.
type Logging struct {
	Level string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
}

// Telemetry names the external JSONL streams and the report log.
type Telemetry struct {
	JournalPath   string `yaml:"journal_path" default:"data/decision_journal.jsonl" validate:"required"`
	PortfolioPath string `yaml:"portfolio_path" default:"data/portfolio.jsonl" validate:"required"`
	CyclesPath    string `yaml:"cycles_path" default:"data/plan_cycles.jsonl" validate:"required"`
	ReportsPath   string `yaml:"reports_path" default:"data/reevaluation_reports.jsonl" validate:"required"`
}

// State selects and parameterizes the snapshot store backend.
type State struct {
	Backend     string   `yaml:"backend" default:"file" validate:"oneof=file postgres"`
	Path        string   `yaml:"path" default:"data/state_snapshot.json"`
	PostgresDSN string   `yaml:"postgres_dsn"`
	Timeout     Duration `yaml:"timeout" validate:"gt=0"`
}

// Resolver parameterizes outcome resolution.
type Resolver struct {
	Horizon       Duration `yaml:"horizon" validate:"gt=0"`
	BadThreshold  float64  `yaml:"bad_threshold" default:"-0.05" validate:"lt=0"`
	GoodThreshold float64  `yaml:"good_threshold" default:"0.05" validate:"gt=0"`
}

// Learner holds the static learning clamps. The step rates themselves
// are live L3 knob values, not configuration.
type Learner struct {
	MaxFeaturePenalty      float64 `yaml:"max_feature_penalty" default:"0.60" validate:"gt=0"`
	MaterialityThreshold   float64 `yaml:"materiality_threshold" default:"0.05" validate:"gte=0"`
	MaxSourceBias          float64 `yaml:"max_source_bias" default:"0.80" validate:"gt=0"`
	MarketReactionStrength float64 `yaml:"market_reaction_strength" default:"0.35" validate:"gte=0,lte=1"`
	ReturnUnit             float64 `yaml:"return_unit" default:"0.05" validate:"gt=0"`
	DecayFactor            float64 `yaml:"decay_factor" default:"0.85" validate:"gte=0,lt=1"`
}

// Reevaluation drives the pass cadence and the sample gate.
type Reevaluation struct {
	Cadence           Duration `yaml:"cadence" validate:"gt=0"`
	Window            Duration `yaml:"window" validate:"gt=0"`
	MinResolvedCalls  int      `yaml:"min_resolved_calls" default:"6" validate:"gte=0"`
	MinPlansGenerated int      `yaml:"min_plans_generated" default:"6" validate:"gte=0"`
}

// Metrics controls the prometheus endpoint.
type Metrics struct {
	Enabled    bool   `yaml:"enabled" default:"true"`
	ListenAddr string `yaml:"listen_addr" default:":9109"`
}

// EngineConfig maps the reevaluation section to the engine's config.
func (c Config) EngineConfig() reeval.Config {
	return reeval.Config{
		WindowDuration:    c.Reevaluation.Window.Std(),
		MinResolvedCalls:  c.Reevaluation.MinResolvedCalls,
		MinPlansGenerated: c.Reevaluation.MinPlansGenerated,
	}
}

var validate = validator.New()

// Load reads configuration from path. A missing file loads pure
// defaults; a present file overrides them field by field.
func Load(path string) (Config, error) {
	var cfg Config

	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := defaults.Set(&cfg); err != nil {
		return cfg, fmt.Errorf("apply config defaults: %w", err)
	}
	applyDurationDefaults(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return cfg, fmt.Errorf("validate config %s: %w", path, err)
	}
	if cfg.State.Backend == "postgres" && cfg.State.PostgresDSN == "" {
		return cfg, fmt.Errorf("config %s: postgres backend requires postgres_dsn", path)
	}
	return cfg, nil
}

// applyDurationDefaults fills duration fields the tag-based defaulting
// cannot express.
func applyDurationDefaults(cfg *Config) {
	if cfg.State.Timeout == 0 {
		cfg.State.Timeout = Duration(5 * time.Second)
	}
	if cfg.Resolver.Horizon == 0 {
		cfg.Resolver.Horizon = Duration(48 * time.Hour)
	}
	if cfg.Reevaluation.Cadence == 0 {
		cfg.Reevaluation.Cadence = Duration(24 * time.Hour)
	}
	if cfg.Reevaluation.Window == 0 {
		cfg.Reevaluation.Window = Duration(7 * 24 * time.Hour)
	}
}
