package sdr

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Gain is a tagged variant: either a single overall gain in dB, or a set of
// named per-stage gains (e.g. LNA/TIA/PGA on a Lime front end). It is
// resolved once by the source adapter at configure time; drivers that only
// support an overall gain reject the per-stage form with a ConfigError.
//
// Accepted YAML forms:
//
//	gain: 50               # overall dB
//	gain: "35,9,20"        # per-stage shorthand, LNA,TIA,PGA order
//	gain: "LNA:35,TIA:9"   # named per-stage pairs (the String rendering)
//	gain: {LNA: 35, TIA: 9, PGA: 20}
type Gain struct {
	Overall *float64
	Stages  map[string]float64
}

// shorthandStages is the stage order the comma shorthand maps onto.
var shorthandStages = []string{"LNA", "TIA", "PGA"}

// OverallGain returns a Gain with a single overall value.
func OverallGain(db float64) Gain {
	return Gain{Overall: &db}
}

// PerStageGain returns a Gain with named per-stage values.
func PerStageGain(stages map[string]float64) Gain {
	return Gain{Stages: stages}
}

// IsPerStage reports whether the per-stage variant is set.
func (g Gain) IsPerStage() bool {
	return len(g.Stages) > 0
}

// IsZero reports whether neither variant is set.
func (g Gain) IsZero() bool {
	return g.Overall == nil && len(g.Stages) == 0
}

func (g *Gain) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return g.parseScalar(value.Value)

	case yaml.MappingNode:
		stages := make(map[string]float64)
		if err := value.Decode(&stages); err != nil {
			return fmt.Errorf("sdr.Gain: failed to parse stages: %w", err)
		}
		if len(stages) == 0 {
			return fmt.Errorf("sdr.Gain: empty per-stage mapping")
		}
		g.Overall = nil
		g.Stages = stages
		return nil

	default:
		return fmt.Errorf("sdr.Gain: unsupported YAML node kind %d", value.Kind)
	}
}

func (g *Gain) parseScalar(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("sdr.Gain: empty gain value")
	}

	// Named NAME:value pairs, the form String renders. Parsing it keeps
	// the sidecar and JSON representations round-trippable.
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ",")
		stages := make(map[string]float64, len(parts))
		for _, part := range parts {
			name, value, ok := strings.Cut(strings.TrimSpace(part), ":")
			if !ok || name == "" {
				return fmt.Errorf("sdr.Gain: invalid stage gain %q", part)
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				return fmt.Errorf("sdr.Gain: invalid stage gain %q: %w", part, err)
			}
			stages[name] = v
		}

		g.Overall = nil
		g.Stages = stages
		return nil
	}

	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		if len(parts) > len(shorthandStages) {
			return fmt.Errorf("sdr.Gain: shorthand accepts at most %d stages: %q", len(shorthandStages), s)
		}

		stages := make(map[string]float64, len(parts))
		for i, part := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return fmt.Errorf("sdr.Gain: invalid stage gain %q: %w", part, err)
			}
			stages[shorthandStages[i]] = v
		}

		g.Overall = nil
		g.Stages = stages
		return nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("sdr.Gain: invalid gain %q: %w", s, err)
	}

	g.Overall = &v
	g.Stages = nil
	return nil
}

func (g Gain) MarshalYAML() (interface{}, error) {
	return g.String(), nil
}

func (g *Gain) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return g.parseScalar(v)
}

func (g Gain) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.String())
}

// String renders the gain the way it appears in metadata sidecars: the
// overall value alone, or comma-joined NAME:value pairs in stable order.
func (g Gain) String() string {
	if g.Overall != nil {
		return strconv.FormatFloat(*g.Overall, 'f', -1, 64)
	}
	if len(g.Stages) == 0 {
		return ""
	}

	names := make([]string, 0, len(g.Stages))
	for name := range g.Stages {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s:%s", name, strconv.FormatFloat(g.Stages[name], 'f', -1, 64)))
	}
	return strings.Join(parts, ",")
}
