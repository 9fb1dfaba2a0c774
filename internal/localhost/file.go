package localhost

import (
	"fmt"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/splitfeature/internal/split"
)

// Entry is one treatment rule in a localhost file:
//
//	- my_feature:
//	    treatment: "on"
//	    keys: ["user-1", "user-2"]
//	    config: '{"desc": "only for listed keys"}'
//	- my_feature:
//	    treatment: "off"
//
// An entry with keys applies to those keys only; an entry without keys applies to
// everyone else. For each flag the first matching entry wins.
type Entry struct {
	Treatment string  `yaml:"treatment"`
	Keys      KeyList `yaml:"keys,omitempty"`
	Config    string  `yaml:"config,omitempty"`
}

// KeyList accepts either a single scalar key or a sequence of keys.
type KeyList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *KeyList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*k = KeyList{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*k = list
		return nil
	default:
		return fmt.Errorf("line %d: keys must be a string or a list of strings", value.Line)
	}
}

// flagDef holds the compiled entries of one flag.
type flagDef struct {
	byKey    map[string]split.TreatmentResult
	fallback *split.TreatmentResult
}

// Definitions is an immutable, compiled localhost file.
type Definitions struct {
	flags       map[string]flagDef
	Fingerprint uint64
}

// Lookup returns the treatment of flag for key, or control when nothing applies.
func (d *Definitions) Lookup(key, flag string) split.TreatmentResult {
	def, ok := d.flags[flag]
	if !ok {
		return split.TreatmentResult{Treatment: split.ControlTreatment}
	}
	if res, ok := def.byKey[key]; ok {
		return res
	}
	if def.fallback != nil {
		return *def.fallback
	}
	return split.TreatmentResult{Treatment: split.ControlTreatment}
}

// Flags returns the defined flag names, sorted.
func (d *Definitions) Flags() []string {
	names := make([]string, 0, len(d.flags))
	for name := range d.flags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadFile reads and compiles the localhost file at path.
func LoadFile(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read localhost file: %w", err)
	}
	return Parse(data)
}

// Parse compiles the YAML content of a localhost file.
func Parse(data []byte) (*Definitions, error) {
	var raw []map[string]Entry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse localhost file: %w", err)
	}

	defs := &Definitions{
		flags:       make(map[string]flagDef),
		Fingerprint: xxhash.Sum64(data),
	}
	for i, item := range raw {
		if len(item) != 1 {
			return nil, fmt.Errorf("parse localhost file: item %d must define exactly one flag, got %d", i, len(item))
		}
		for name, e := range item {
			if name == "" {
				return nil, fmt.Errorf("parse localhost file: item %d has an empty flag name", i)
			}
			if e.Treatment == "" {
				return nil, fmt.Errorf("parse localhost file: flag %q: treatment is required", name)
			}
			defs.add(name, e)
		}
	}
	return defs, nil
}

func (d *Definitions) add(name string, e Entry) {
	def, ok := d.flags[name]
	if !ok {
		def = flagDef{byKey: make(map[string]split.TreatmentResult)}
	}

	res := split.TreatmentResult{Treatment: e.Treatment}
	if e.Config != "" {
		cfg := e.Config
		res.Config = &cfg
	}

	if len(e.Keys) == 0 {
		if def.fallback == nil {
			def.fallback = &res
		}
	} else {
		for _, k := range e.Keys {
			if _, taken := def.byKey[k]; !taken {
				def.byKey[k] = res
			}
		}
	}
	d.flags[name] = def
}
