// Package scenario defines the patient-persona record that drives a single
// test call, opaque to the core pipeline beyond its recognized fields.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and decodes a Scenario from a YAML file at path, normalizing
// defaulted fields before returning it.
func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario: read %q: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("scenario: decode %q: %w", path, err)
	}
	if s.ID == "" {
		return Scenario{}, fmt.Errorf("scenario: %q missing required field %q", path, "id")
	}
	s.Normalize()
	return s, nil
}

// Scenario describes the patient persona and test objective for one call
// against the agent-under-test. The core pipeline treats it as opaque prompt
// substitution input; only ID is attached to the resulting transcript.
type Scenario struct {
	ID            string `yaml:"id" json:"id"`
	Name          string `yaml:"name" json:"name"`
	PatientName   string `yaml:"patient_name" json:"patient_name"`
	PatientAge    int    `yaml:"patient_age" json:"patient_age"`
	DateOfBirth   string `yaml:"date_of_birth" json:"date_of_birth"`
	Personality   string `yaml:"personality" json:"personality"`
	SpeakingStyle string `yaml:"speaking_style" json:"speaking_style"`
	Goal          string `yaml:"goal" json:"goal"`
	Backstory     string `yaml:"backstory" json:"backstory"`
	Instructions  string `yaml:"instructions" json:"instructions"`

	ExpectedAgentActions []string `yaml:"expected_agent_actions" json:"expected_agent_actions"`
	BugTriggers          []string `yaml:"bug_triggers" json:"bug_triggers"`
}

// Normalize fills fields the original source treats as defaulted when absent,
// e.g. an unset date_of_birth renders as "unknown" in the persona prompt.
func (s *Scenario) Normalize() {
	if s.DateOfBirth == "" {
		s.DateOfBirth = "unknown"
	}
}
