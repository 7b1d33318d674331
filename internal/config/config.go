package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models regtrack.yml: the status catalog seed, notification rules and
// role grants. The catalog itself lives in the database once imported; the
// file is the administrator-maintained source of record.
type Config struct {
	Catalog struct {
		Stages   []StageConfig  `yaml:"stages"`
		Statuses []StatusConfig `yaml:"statuses"`
	} `yaml:"catalog"`
	Notifications struct {
		NotableStages []int64         `yaml:"notable_stages"`
		Webhooks      []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notifications"`
	Roles map[string]RoleConfig `yaml:"roles"`
}

type StageConfig struct {
	ID       int64  `yaml:"id"`
	Name     string `yaml:"name"`
	Order    int    `yaml:"order"`
	Elevated bool   `yaml:"elevated"`
}

type StatusConfig struct {
	ID           int64  `yaml:"id"`
	Name         string `yaml:"name"`
	Stage        int64  `yaml:"stage"`
	DeadlineDays *int   `yaml:"deadline_days"`
	Stopped      bool   `yaml:"stopped"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Events  []string `yaml:"events"`
	Enabled *bool    `yaml:"enabled"`
}

type RoleConfig struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run rt catalog import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	stageIDs := map[int64]bool{}
	for _, st := range c.Catalog.Stages {
		if st.ID <= 0 {
			return fmt.Errorf("catalog.stages: stage id must be positive")
		}
		if st.Name == "" {
			return fmt.Errorf("catalog.stages: stage %d has empty name", st.ID)
		}
		if st.Order <= 0 {
			return fmt.Errorf("catalog.stages: stage %d needs a positive order", st.ID)
		}
		if stageIDs[st.ID] {
			return fmt.Errorf("catalog.stages: duplicate stage id %d", st.ID)
		}
		stageIDs[st.ID] = true
	}
	statusIDs := map[int64]bool{}
	for _, s := range c.Catalog.Statuses {
		if s.ID <= 0 {
			return fmt.Errorf("catalog.statuses: status id must be positive")
		}
		if s.Name == "" {
			return fmt.Errorf("catalog.statuses: status %d has empty name", s.ID)
		}
		if !stageIDs[s.Stage] {
			return fmt.Errorf("catalog.statuses: status %d references unknown stage %d", s.ID, s.Stage)
		}
		if statusIDs[s.ID] {
			return fmt.Errorf("catalog.statuses: duplicate status id %d", s.ID)
		}
		if s.DeadlineDays != nil && *s.DeadlineDays <= 0 {
			return fmt.Errorf("catalog.statuses: status %d deadline_days must be positive", s.ID)
		}
		if s.Stopped && s.DeadlineDays != nil {
			return fmt.Errorf("catalog.statuses: status %d cannot be stopped and carry a deadline", s.ID)
		}
		statusIDs[s.ID] = true
	}
	for _, id := range c.Notifications.NotableStages {
		if !stageIDs[id] {
			return fmt.Errorf("notifications.notable_stages references unknown stage %d", id)
		}
	}
	for name, role := range c.Roles {
		if name == "" {
			return fmt.Errorf("roles contains empty role name")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", name)
			}
		}
	}
	return nil
}

// NotableStage reports whether a stage is a designated notification boundary.
func (c *Config) NotableStage(stageID int64) bool {
	if c == nil {
		return false
	}
	for _, id := range c.Notifications.NotableStages {
		if id == stageID {
			return true
		}
	}
	return false
}

// RolePermissions returns the flattened permission list for the given roles.
func (c *Config) RolePermissions(roles []string) []string {
	if c == nil {
		return nil
	}
	var perms []string
	seen := map[string]bool{}
	for _, role := range roles {
		for _, p := range c.Roles[role].Permissions {
			if !seen[p] {
				seen[p] = true
				perms = append(perms, p)
			}
		}
	}
	return perms
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "regtrack.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

const defaultTemplate = `catalog:
  stages:
    - id: 1
      name: "Selection"
      order: 1
    - id: 2
      name: "Dossier preparation"
      order: 2
    - id: 3
      name: "Authority review"
      order: 3
    - id: 4
      name: "Contracting"
      order: 4
      elevated: true
    - id: 5
      name: "Closed"
      order: 5

  statuses:
    - id: 10
      name: "shortlisted"
      stage: 1
      deadline_days: 15
    - id: 11
      name: "samples requested"
      stage: 1
      deadline_days: 30
    - id: 20
      name: "dossier drafting"
      stage: 2
      deadline_days: 45
    - id: 21
      name: "dossier on hold"
      stage: 2
    - id: 30
      name: "submitted to authority"
      stage: 3
    - id: 31
      name: "authority queries"
      stage: 3
      deadline_days: 20
    - id: 40
      name: "contract negotiation"
      stage: 4
      deadline_days: 30
    - id: 41
      name: "contracted"
      stage: 4
    - id: 50
      name: "registration withdrawn"
      stage: 5
      stopped: true
    - id: 51
      name: "manufacturer declined"
      stage: 5
      stopped: true

notifications:
  notable_stages: [4]
  webhooks: []

roles:
  manager:
    description: "May move processes into elevated stages"
    permissions:
      - process.transition
      - process.transition.elevated
      - history.edit
      - admin.recompute
  operator:
    description: "Day-to-day pipeline updates"
    permissions:
      - process.transition
`
