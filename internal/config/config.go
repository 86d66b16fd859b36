package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"workplan/internal/fieldtype"
)

// Config models workplan.yml, the institution configuration.
type Config struct {
	Institution struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"institution"`
	PlanTypes     map[string]PlanType `yaml:"plan_types"`
	StrategicAxes []Axis              `yaml:"strategic_axes"`
	Notifications struct {
		Templates struct {
			PlanSubmitted string `yaml:"plan_submitted"`
			PlanReviewed  string `yaml:"plan_reviewed"`
		} `yaml:"templates"`
	} `yaml:"notifications"`
	Versioning struct {
		DefaultMaxVersions int `yaml:"default_max_versions"`
		ConflictRetries    int `yaml:"conflict_retries"`
	} `yaml:"versioning"`
}

type PlanType struct {
	Description string      `yaml:"description"`
	Hours       HourBounds  `yaml:"hours"`
	Fields      []PlanField `yaml:"fields"`
}

// HourBounds constrains a manager's weekly hours for a plan type. Zero means
// unbounded.
type HourBounds struct {
	MinWeekly float64 `yaml:"min_weekly"`
	MaxWeekly float64 `yaml:"max_weekly"`
}

type PlanField struct {
	ID       string   `yaml:"id"`
	Label    string   `yaml:"label"`
	Type     string   `yaml:"type"`
	Required bool     `yaml:"required"`
	Options  []string `yaml:"options"`
}

type Axis struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Actions []Action `yaml:"actions"`
}

type Action struct {
	ID       string    `yaml:"id"`
	Name     string    `yaml:"name"`
	Products []Product `yaml:"products"`
}

type Product struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Spec returns the validation surface of the field.
func (f PlanField) Spec() fieldtype.Spec {
	t, _ := fieldtype.Parse(f.Type)
	return fieldtype.Spec{Type: t, Options: f.Options}
}

// Field looks up a field of the plan type by id.
func (p PlanType) Field(id string) (PlanField, bool) {
	for _, f := range p.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return PlanField{}, false
}

// WithinBounds reports whether weekly hours satisfy the plan type bounds.
func (h HourBounds) WithinBounds(weekly float64) bool {
	if h.MinWeekly > 0 && weekly < h.MinWeekly {
		return false
	}
	if h.MaxWeekly > 0 && weekly > h.MaxWeekly {
		return false
	}
	return true
}

// HasProduct reports whether (axis, action, product) exists in the catalog.
func (c *Config) HasProduct(axisID, actionID, productID string) bool {
	for _, ax := range c.StrategicAxes {
		if ax.ID != axisID {
			continue
		}
		for _, ac := range ax.Actions {
			if ac.ID != actionID {
				continue
			}
			for _, p := range ac.Products {
				if p.ID == productID {
					return true
				}
			}
		}
	}
	return false
}

// MaxVersions falls back to the configured default when a template does not
// declare its own cap.
func (c *Config) MaxVersions(declared int) int {
	if declared > 0 {
		return declared
	}
	if c.Versioning.DefaultMaxVersions > 0 {
		return c.Versioning.DefaultMaxVersions
	}
	return 1
}

// ConflictRetries is the number of attempts CreateVersionWithRetry makes.
func (c *Config) ConflictRetries() int {
	if c.Versioning.ConflictRetries > 0 {
		return c.Versioning.ConflictRetries
	}
	return 3
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Institution.ID == "" {
		return fmt.Errorf("config.institution.id is required")
	}
	if len(c.PlanTypes) == 0 {
		return fmt.Errorf("config.plan_types is required")
	}
	for name, pt := range c.PlanTypes {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config.plan_types contains empty name")
		}
		if pt.Hours.MinWeekly < 0 || pt.Hours.MaxWeekly < 0 {
			return fmt.Errorf("plan type %s has negative hour bounds", name)
		}
		if pt.Hours.MaxWeekly > 0 && pt.Hours.MinWeekly > pt.Hours.MaxWeekly {
			return fmt.Errorf("plan type %s min_weekly exceeds max_weekly", name)
		}
		seen := map[string]bool{}
		for _, f := range pt.Fields {
			if f.ID == "" {
				return fmt.Errorf("plan type %s has field with empty id", name)
			}
			if seen[f.ID] {
				return fmt.Errorf("plan type %s declares field %s twice", name, f.ID)
			}
			seen[f.ID] = true
			t, err := fieldtype.Parse(f.Type)
			if err != nil {
				return fmt.Errorf("plan type %s field %s: %w", name, f.ID, err)
			}
			if t == fieldtype.Dropdown && len(f.Options) == 0 {
				return fmt.Errorf("plan type %s field %s: dropdown needs options", name, f.ID)
			}
			if t == fieldtype.Structural && f.Required {
				return fmt.Errorf("plan type %s field %s: structural fields cannot be required", name, f.ID)
			}
		}
	}
	axes := map[string]bool{}
	for _, ax := range c.StrategicAxes {
		if ax.ID == "" {
			return fmt.Errorf("config.strategic_axes contains empty id")
		}
		if axes[ax.ID] {
			return fmt.Errorf("strategic axis %s declared twice", ax.ID)
		}
		axes[ax.ID] = true
		for _, ac := range ax.Actions {
			if ac.ID == "" {
				return fmt.Errorf("axis %s has action with empty id", ax.ID)
			}
			for _, p := range ac.Products {
				if p.ID == "" {
					return fmt.Errorf("action %s has product with empty id", ac.ID)
				}
			}
		}
	}
	if c.Versioning.DefaultMaxVersions < 0 {
		return fmt.Errorf("config.versioning.default_max_versions must be positive")
	}
	if c.Versioning.ConflictRetries < 0 {
		return fmt.Errorf("config.versioning.conflict_retries must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "workplan.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(institutionID string) string {
	return fmt.Sprintf(defaultTemplate, institutionID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an institution.
func Default(institutionID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(institutionID))).Decode(&cfg)
	cfg.Institution.ID = institutionID
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

// YAML renders the config back to YAML.
func (c *Config) YAML() (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const defaultTemplate = `institution:
  id: %s
  name: "Institution"

plan_types:
  teaching:
    description: "Annual teaching and management plan"
    hours:
      min_weekly: 10
      max_weekly: 40
    fields:
      - id: summary
        label: "Plan summary"
        type: long_text
        required: true
      - id: headcount
        label: "Students served"
        type: numeric
        required: true
      - id: modality
        label: "Modality"
        type: dropdown
        required: false
        options: [in_person, virtual, hybrid]
      - id: evidence
        label: "Supporting document"
        type: file
      - id: repository
        label: "Repository link"
        type: link
  management:
    description: "Administrative management plan"
    fields:
      - id: objectives
        label: "Objectives"
        type: long_text
        required: true

strategic_axes:
  - id: ax-academic
    name: "Academic excellence"
    actions:
      - id: ac-curriculum
        name: "Curriculum renewal"
        products:
          - id: pr-syllabus
            name: "Updated syllabus"
          - id: pr-course
            name: "New course"
  - id: ax-outreach
    name: "Social outreach"
    actions:
      - id: ac-community
        name: "Community programs"
        products:
          - id: pr-workshop
            name: "Community workshop"

notifications:
  templates:
    plan_submitted: plan_submitted
    plan_reviewed: plan_reviewed

versioning:
  default_max_versions: 3
  conflict_retries: 3
`
