package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"andchange/internal/plan"
)

// Config models andchange.yml: the per-project planning parameters that drive
// slot generation and alternative-action selection.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Planning struct {
		HorizonDays         int            `yaml:"horizon_days"`
		CadenceDays         map[string]int `yaml:"cadence_days"`
		HygieneIntervalDays int            `yaml:"hygiene_interval_days"`
		DefaultCooldownDays int            `yaml:"default_cooldown_days"`
		OptionBatchSize     int            `yaml:"option_batch_size"`
	} `yaml:"planning"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with anc project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "change-project" {
		return fmt.Errorf("config.project.kind must be 'change-project'")
	}
	if c.Planning.HorizonDays <= 0 {
		return fmt.Errorf("config.planning.horizon_days must be positive")
	}
	if len(c.Planning.CadenceDays) == 0 {
		return fmt.Errorf("config.planning.cadence_days is required")
	}
	for cat, days := range c.Planning.CadenceDays {
		if !plan.ValidCategory(cat) {
			return fmt.Errorf("cadence for unknown category %s", cat)
		}
		if days <= 0 {
			return fmt.Errorf("cadence for category %s must be positive", cat)
		}
	}
	for _, cat := range plan.Categories() {
		if _, ok := c.Planning.CadenceDays[cat]; !ok {
			return fmt.Errorf("cadence for category %s missing", cat)
		}
	}
	if c.Planning.HygieneIntervalDays <= 0 {
		return fmt.Errorf("config.planning.hygiene_interval_days must be positive")
	}
	if c.Planning.DefaultCooldownDays < 0 {
		return fmt.Errorf("config.planning.default_cooldown_days must not be negative")
	}
	if c.Planning.OptionBatchSize <= 0 {
		return fmt.Errorf("config.planning.option_batch_size must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "andchange.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "change-project"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  kind: change-project

planning:
  # Full-plan generation covers this many days from the requested start.
  horizon_days: 90

  # One slot per cadence interval within each requested range.
  cadence_days:
    AWARENESS: 7
    BUYIN: 14
    SKILL: 14
    USE: 21
    PROFICIENCY: 30

  hygiene_interval_days: 30

  # Used when a catalog action does not carry its own cooldown.
  default_cooldown_days: 14

  option_batch_size: 5
`
