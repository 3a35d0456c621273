package valueset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlOverlay is the on-disk shape of a custom value set file:
//
//	value_sets:
//	  - id: DiabetesFollowUp
//	    name: Diabetes follow up
//	    codes:
//	      LOINC: ["4548-4"]
type yamlOverlay struct {
	ValueSets []yamlValueSet `yaml:"value_sets"`
}

type yamlValueSet struct {
	ID                string              `yaml:"id"`
	Name              string              `yaml:"name"`
	Version           string              `yaml:"version"`
	Category          string              `yaml:"category"`
	OID               string              `yaml:"oid"`
	DefinitionVersion string              `yaml:"definition_version"`
	ExpansionVersion  string              `yaml:"expansion_version"`
	Description       string              `yaml:"description"`
	Codes             map[string][]string `yaml:"codes"`
}

// ApplyOverlay adds or replaces value sets from YAML. Entries default to the
// "custom" version and category.
func (c *Catalog) ApplyOverlay(data []byte) (int, error) {
	var doc yamlOverlay
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("decode value set overlay: %w", err)
	}

	staged := make([]*ValueSet, 0, len(doc.ValueSets))
	for i, y := range doc.ValueSets {
		if y.ID == "" {
			return 0, fmt.Errorf("value set overlay entry %d: id is required", i)
		}
		if len(y.Codes) == 0 {
			return 0, fmt.Errorf("value set overlay %s: at least one code system is required", y.ID)
		}
		vs := &ValueSet{
			ID:                y.ID,
			Name:              y.Name,
			Version:           y.Version,
			Category:          y.Category,
			OID:               y.OID,
			DefinitionVersion: y.DefinitionVersion,
			ExpansionVersion:  y.ExpansionVersion,
			Description:       y.Description,
			Codes:             map[string][]string{},
		}
		if vs.Name == "" {
			vs.Name = vs.ID
		}
		if vs.Version == "" {
			vs.Version = "custom"
		}
		if vs.Category == "" {
			vs.Category = "custom"
		}
		for sys, codes := range y.Codes {
			if !KnownSystem(sys) {
				return 0, fmt.Errorf("value set overlay %s: unknown code system %q", y.ID, sys)
			}
			vs.Codes[sys] = append([]string(nil), codes...)
		}
		staged = append(staged, vs)
	}

	for _, vs := range staged {
		if err := c.add(vs, true); err != nil {
			return 0, err
		}
	}
	c.reindex()
	return len(staged), nil
}

// ApplyOverlayFile reads a YAML overlay from disk.
func (c *Catalog) ApplyOverlayFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read value set overlay %s: %w", path, err)
	}
	return c.ApplyOverlay(data)
}
