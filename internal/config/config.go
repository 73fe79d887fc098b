package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Theme selects the UI theme a front-end should render for the hub.
type Theme string

const (
	ThemeOrganic  Theme = "organic"
	ThemeMinimal  Theme = "minimal"
	ThemeDark     Theme = "dark"
	ThemeAcademic Theme = "academic"
)

// HubConfig is the identity and behavior of a hub.
type HubConfig struct {
	Name        string `yaml:"name" json:"name"`
	Slug        string `yaml:"slug" json:"slug"`
	Description string `yaml:"description" json:"description"`
	Version     string `yaml:"version" json:"version"`

	AuthRequired    bool `yaml:"auth_required" json:"auth_required"`
	ConsentRequired bool `yaml:"consent_required" json:"consent_required"`

	Theme   Theme  `yaml:"theme" json:"theme"`
	Tagline string `yaml:"tagline" json:"tagline"`
	Icon    string `yaml:"icon" json:"icon"`

	Course   string `yaml:"course,omitempty" json:"course,omitempty"`
	Semester string `yaml:"semester,omitempty" json:"semester,omitempty"`
}

// AuthConfig configures the magic-link login flow.
type AuthConfig struct {
	Method               string `yaml:"method" json:"method"`
	EmailDomain          string `yaml:"email_domain" json:"email_domain,omitempty"`
	SessionDurationHours int    `yaml:"session_duration_hours" json:"session_duration_hours"`
}

// ValidateEmail reports whether email satisfies the configured domain
// restriction. No restriction means every address is acceptable.
func (c AuthConfig) ValidateEmail(email string) bool {
	if c.EmailDomain == "" {
		return true
	}
	return strings.HasSuffix(email, "@"+c.EmailDomain)
}

// ConsentConfig is the consent policy and disclosure text.
type ConsentConfig struct {
	Required bool   `yaml:"required" json:"required"`
	Title    string `yaml:"title" json:"title"`
	Text     string `yaml:"text" json:"text"`

	DataUsage      []string `yaml:"data_usage" json:"data_usage"`
	DataSharedWith []string `yaml:"data_shared_with" json:"data_shared_with"`

	Revocable             bool `yaml:"revocable" json:"revocable"`
	OptionalParticipation bool `yaml:"optional_participation" json:"optional_participation"`

	Version string `yaml:"version" json:"version"`
}

// SkillExposure classifies an agent's skills for one hub.
//
//   - exposed: shown in the UI, directly callable by users
//   - hidden: exists on the agent, unavailable in this hub
//   - internal: callable by hub logic only, never directly by a user
//
// The sets are disjoint by convention, not by construction; the two Is*
// predicates are the sole authority for permission decisions.
type SkillExposure struct {
	Exposed  []string `yaml:"exposed" json:"exposed"`
	Hidden   []string `yaml:"hidden" json:"hidden"`
	Internal []string `yaml:"internal" json:"internal"`
}

func (e SkillExposure) IsUserCallable(skillID string) bool {
	return contains(e.Exposed, skillID)
}

func (e SkillExposure) IsHubCallable(skillID string) bool {
	return contains(e.Exposed, skillID) || contains(e.Internal, skillID)
}

// AllAvailable lists the skills hub logic may invoke.
func (e SkillExposure) AllAvailable() []string {
	out := make([]string, 0, len(e.Exposed)+len(e.Internal))
	out = append(out, e.Exposed...)
	out = append(out, e.Internal...)
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// HubAction maps a user-facing trigger to an agent skill.
type HubAction struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
	Icon  string `yaml:"icon" json:"icon"`
	Agent string `yaml:"agent" json:"agent"`
	Skill string `yaml:"skill" json:"skill"`

	Description    string `yaml:"description" json:"description"`
	Precondition   string `yaml:"precondition,omitempty" json:"precondition,omitempty"`
	Confirm        bool   `yaml:"confirm" json:"confirm"`
	ConfirmMessage string `yaml:"confirm_message,omitempty" json:"confirm_message,omitempty"`

	Primary  bool   `yaml:"primary" json:"primary"`
	Position int    `yaml:"position" json:"position"`
	Group    string `yaml:"group,omitempty" json:"group,omitempty"`
}

// AgentDef is the static registration of one agent in the hub definition.
type AgentDef struct {
	URL            string        `yaml:"url"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	Exposure       SkillExposure `yaml:"exposure"`
}

// AgentConnection is the live registration of an agent: the static
// definition plus liveness state maintained by health checks.
type AgentConnection struct {
	Name           string        `json:"name"`
	URL            string        `json:"url"`
	Exposure       SkillExposure `json:"exposure"`
	TimeoutSeconds int           `json:"timeout_seconds"`
	RetryAttempts  int           `json:"retry_attempts"`

	Healthy         bool   `json:"healthy"`
	LastHealthCheck string `json:"last_health_check,omitempty"`
}

// Definition is a complete declarative hub: identity, policies, agents,
// exposure, and actions. One file defines one hub.
type Definition struct {
	Hub     HubConfig           `yaml:"hub"`
	Auth    AuthConfig          `yaml:"auth"`
	Consent ConsentConfig       `yaml:"consent"`
	Agents  map[string]AgentDef `yaml:"agents"`
	Actions []HubAction         `yaml:"actions"`

	// PreconditionAgent is the agent a bare precondition reference (no
	// "agent." prefix) resolves to, typically the progress tracker.
	PreconditionAgent string `yaml:"precondition_agent"`
}

const (
	DefaultAgentTimeoutSeconds = 30
	DefaultRetryAttempts       = 3
	DefaultSessionHours        = 24
)

// Default returns a Definition with the policy defaults filled in.
func Default() Definition {
	return Definition{
		Hub: HubConfig{
			Version:         "1.0.0",
			AuthRequired:    true,
			ConsentRequired: true,
			Theme:           ThemeOrganic,
		},
		Auth: AuthConfig{
			Method:               "magic_link",
			SessionDurationHours: DefaultSessionHours,
		},
		Consent: ConsentConfig{
			Required:              true,
			Title:                 "Consent Required",
			Revocable:             true,
			OptionalParticipation: true,
			Version:               "1.0",
		},
		Agents: map[string]AgentDef{},
	}
}

// Load reads and validates a hub definition file.
func Load(path string) (Definition, error) {
	def := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return def, fmt.Errorf("read hub definition: %w", err)
	}
	if err := yaml.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("parse hub definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return def, err
	}
	return def, nil
}

// Validate checks the cross-references a definition must satisfy before the
// hub will accept it.
func (d Definition) Validate() error {
	if d.Hub.Name == "" {
		return fmt.Errorf("hub definition: name is required")
	}
	if d.Hub.Slug == "" {
		return fmt.Errorf("hub definition: slug is required")
	}
	seen := make(map[string]bool, len(d.Actions))
	for _, action := range d.Actions {
		if action.ID == "" {
			return fmt.Errorf("hub definition: action with empty id")
		}
		if seen[action.ID] {
			return fmt.Errorf("hub definition: duplicate action id %q", action.ID)
		}
		seen[action.ID] = true
		if _, ok := d.Agents[action.Agent]; !ok {
			return fmt.Errorf("hub definition: action %q references unknown agent %q", action.ID, action.Agent)
		}
	}
	return nil
}

// Connections builds the live agent registry from the static agent table.
func (d Definition) Connections() map[string]*AgentConnection {
	conns := make(map[string]*AgentConnection, len(d.Agents))
	for name, def := range d.Agents {
		timeout := def.TimeoutSeconds
		if timeout <= 0 {
			timeout = DefaultAgentTimeoutSeconds
		}
		retries := def.RetryAttempts
		if retries <= 0 {
			retries = DefaultRetryAttempts
		}
		conns[name] = &AgentConnection{
			Name:           name,
			URL:            def.URL,
			Exposure:       def.Exposure,
			TimeoutSeconds: timeout,
			RetryAttempts:  retries,
		}
	}
	return conns
}
