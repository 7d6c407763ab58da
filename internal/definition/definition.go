// Package definition reads experiment definitions from YAML files.
package definition

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dislink/dxp/internal/experiment"
	"github.com/dislink/dxp/internal/store"
)

const defaultTrafficAllocation = 100

// File is the on-disk shape of an experiment definition.
type File struct {
	Name              string          `yaml:"name"`
	Key               string          `yaml:"key"`
	Description       string          `yaml:"description"`
	TrafficAllocation *int            `yaml:"traffic_allocation"`
	Variants          []store.Variant `yaml:"variants"`
	Targeting         Targeting       `yaml:"targeting"`
	Metrics           []store.Metric  `yaml:"metrics"`
}

// Targeting accepts either a list of rules or the legacy map form:
//
//	targeting:
//	  userIds: [u1, u2]
//	  devices: [ios]
type Targeting []store.Rule

var legacyKinds = map[string]store.RuleKind{
	"userIds":   store.RuleUserIDs,
	"user_ids":  store.RuleUserIDs,
	"device":    store.RuleDevice,
	"devices":   store.RuleDevice,
	"segment":   store.RuleSegment,
	"segments":  store.RuleSegment,
	"country":   store.RuleCountry,
	"countries": store.RuleCountry,
}

func (t *Targeting) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var rules []store.Rule
		if err := node.Decode(&rules); err != nil {
			return err
		}
		*t = rules
		return nil

	case yaml.MappingNode:
		var rules []store.Rule
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i].Value, node.Content[i+1]

			var values []string
			if val.Kind == yaml.ScalarNode {
				values = []string{val.Value}
			} else if err := val.Decode(&values); err != nil {
				return fmt.Errorf("targeting.%s: %w", key, err)
			}

			kind, ok := legacyKinds[key]
			if !ok {
				kind = store.RuleCustom
			}
			rules = append(rules, store.Rule{Kind: kind, Values: values})
		}
		*t = rules
		return nil

	default:
		return fmt.Errorf("line %d: targeting must be a list of rules or a map", node.Line)
	}
}

// Definition converts the file into an experiment definition. An omitted
// traffic allocation means the whole population.
func (f *File) Definition() experiment.Definition {
	allocation := defaultTrafficAllocation
	if f.TrafficAllocation != nil {
		allocation = *f.TrafficAllocation
	}
	return experiment.Definition{
		Name:              f.Name,
		Key:               f.Key,
		Description:       f.Description,
		TrafficAllocation: allocation,
		Variants:          f.Variants,
		Targeting:         []store.Rule(f.Targeting),
		Metrics:           f.Metrics,
	}
}

// Parse decodes a single definition. Unknown fields are rejected.
func Parse(r io.Reader) (experiment.Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return experiment.Definition{}, errors.New("definition is empty")
		}
		return experiment.Definition{}, fmt.Errorf("failed to parse definition: %w", err)
	}
	return f.Definition(), nil
}

func LoadFile(path string) (experiment.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return experiment.Definition{}, fmt.Errorf("failed to read definition: %w", err)
	}
	return Parse(bytes.NewReader(data))
}
