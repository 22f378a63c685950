package citizen

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed personas.yaml
var personasYAML []byte

// Persona describes one citizen evaluator: who they are and what they
// value when judging a research theme.
type Persona struct {
	Name       string `yaml:"name"`
	Age        int    `yaml:"age"`
	Occupation string `yaml:"occupation"`
	Persona    string `yaml:"persona"`
	Values     string `yaml:"values"`
}

// String renders the persona the way it appears in logs.
func (p Persona) String() string {
	return fmt.Sprintf("%s (%d歳, %s)", p.Name, p.Age, p.Occupation)
}

// LoadPersonas returns the embedded roster of citizen personas in a
// fixed order.
func LoadPersonas() ([]Persona, error) {
	var doc struct {
		Personas []Persona `yaml:"personas"`
	}
	if err := yaml.Unmarshal(personasYAML, &doc); err != nil {
		return nil, fmt.Errorf("parsing persona roster: %w", err)
	}
	if len(doc.Personas) == 0 {
		return nil, fmt.Errorf("persona roster is empty")
	}
	for i, p := range doc.Personas {
		if p.Name == "" {
			return nil, fmt.Errorf("persona %d has no name", i)
		}
	}
	return doc.Personas, nil
}
