package types

import (
	"fmt"

	"gramtag/util"
)

// The seven grammatical properties the tagger predicts, in report order.
var PropertyNames = []string{
	"mood", "tense", "gender", "number", "person", "case", "degree",
}

// Default value inventories. A run configuration may override any of these;
// the registry itself is immutable once built.
var defaultPropertyValues = map[string][]string{
	"mood":   {"indicative", "subjunctive", "conditional", "imperative", "infinitive", "gerund", "participle"},
	"tense":  {"present", "past", "imperfect", "future"},
	"gender": {"masculine", "feminine", "neuter"},
	"number": {"singular", "plural"},
	"person": {"first", "second", "third"},
	"case":   {"nominative", "genitive", "dative", "accusative", "vocative", "locative", "instrumental"},
	"degree": {"positive", "comparative", "superlative"},
}

// Property is one grammatical property with its ordered, frozen value set.
// Classifier output size is Len(values)+1; the last class index encodes
// "property not applicable".
type Property struct {
	Name   string
	Values *util.EnumSet
}

// NoValueIndex is the reserved class index for "property not applicable".
func (p *Property) NoValueIndex() int {
	return p.Values.Len()
}

// ClassCount is the classifier output size for this property.
func (p *Property) ClassCount() int {
	return p.Values.Len() + 1
}

// GoldIndex maps a gold value to its class index. Values outside the
// enumerated range (including the absent value "") map to the reserved
// no-value class.
func (p *Property) GoldIndex(value string) int {
	if index, exists := p.Values.IndexOf(value); exists {
		return index
	}
	return p.NoValueIndex()
}

// ValueAt maps a class index back to the concrete value, or "" for the
// reserved class.
func (p *Property) ValueAt(index int) string {
	if index == p.NoValueIndex() {
		return ""
	}
	return p.Values.ValueOf(index)
}

// Registry is the immutable property table, built once at startup and
// injected wherever property enumerations are needed.
type Registry struct {
	properties []*Property
	byName     map[string]*Property
}

// NewRegistry builds a registry from the default inventories, with any
// per-property overrides applied. Unknown override keys are rejected: the
// property set itself is fixed.
func NewRegistry(overrides map[string][]string) (*Registry, error) {
	for name := range overrides {
		if _, exists := defaultPropertyValues[name]; !exists {
			return nil, fmt.Errorf("unknown grammatical property %q in configuration", name)
		}
	}
	registry := &Registry{
		properties: make([]*Property, 0, len(PropertyNames)),
		byName:     make(map[string]*Property, len(PropertyNames)),
	}
	for _, name := range PropertyNames {
		values := defaultPropertyValues[name]
		if override, exists := overrides[name]; exists {
			values = override
		}
		enum := util.NewEnumSet(len(values))
		for _, value := range values {
			enum.Add(value)
		}
		enum.Frozen = true
		property := &Property{Name: name, Values: enum}
		registry.properties = append(registry.properties, property)
		registry.byName[name] = property
	}
	return registry, nil
}

func (r *Registry) Properties() []*Property {
	return r.properties
}

func (r *Registry) Get(name string) (*Property, bool) {
	property, exists := r.byName[name]
	return property, exists
}

func (r *Registry) Len() int {
	return len(r.properties)
}

// Snapshot returns the name->values table, for checkpoint serialization.
func (r *Registry) Snapshot() map[string][]string {
	snapshot := make(map[string][]string, len(r.properties))
	for _, property := range r.properties {
		snapshot[property.Name] = property.Values.Values()
	}
	return snapshot
}
