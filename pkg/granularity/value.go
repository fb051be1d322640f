package granularity

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Value wraps a Granularity so it can live in JSON- or YAML-tagged structs,
// (un)marshalling as the granularity name.
type Value struct {
	Granularity
}

func NewValue(g Granularity) *Value {
	return &Value{Granularity: g}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Granularity == nil {
		return []byte("null"), nil
	}
	return []byte(`"` + v.String() + `"`), nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		v.Granularity = nil
		return nil
	}
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return errors.Errorf("invalid granularity %s: expected a string", b)
	}
	g, err := FromString(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	v.Granularity = g
	return nil
}

func (v Value) MarshalYAML() (interface{}, error) {
	if v.Granularity == nil {
		return nil, nil
	}
	return v.String(), nil
}

func (v *Value) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	g, err := FromString(s)
	if err != nil {
		return err
	}
	v.Granularity = g
	return nil
}
