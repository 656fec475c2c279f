package model

import (
	"fmt"
	"strconv"

	"gridsim/internal/hdf"
)

// ParamType enumerates supported parameter value kinds.
type ParamType string

const (
	// ParamTypeInt denotes integer-valued parameters.
	ParamTypeInt ParamType = "int"
	// ParamTypeFloat denotes floating-point parameters.
	ParamTypeFloat ParamType = "float"
	// ParamTypeBool denotes boolean parameters.
	ParamTypeBool ParamType = "bool"
	// ParamTypeString denotes free-form parameters.
	ParamTypeString ParamType = "string"
)

// Parameter describes a single value a model was configured with.
type Parameter struct {
	Key         string
	Type        ParamType
	Value       string
	Description string
}

// IntParam returns an integer parameter.
func IntParam(key string, v int) Parameter {
	return Parameter{Key: key, Type: ParamTypeInt, Value: strconv.Itoa(v)}
}

// FloatParam returns a floating-point parameter.
func FloatParam(key string, v float64) Parameter {
	return Parameter{Key: key, Type: ParamTypeFloat, Value: strconv.FormatFloat(v, 'g', -1, 64)}
}

// BoolParam returns a boolean parameter.
func BoolParam(key string, v bool) Parameter {
	return Parameter{Key: key, Type: ParamTypeBool, Value: strconv.FormatBool(v)}
}

// StringParam returns a free-form parameter.
func StringParam(key, v string) Parameter {
	return Parameter{Key: key, Type: ParamTypeString, Value: v}
}

// ParameterGroup clusters related parameters.
type ParameterGroup struct {
	Name   string
	Params []Parameter
}

// ParameterSnapshot captures the parameters of a model.
type ParameterSnapshot struct {
	Groups []ParameterGroup
}

// Snapshot returns a snapshot with a single group.
func Snapshot(name string, params ...Parameter) ParameterSnapshot {
	return ParameterSnapshot{Groups: []ParameterGroup{{Name: name, Params: params}}}
}

// Attributes converts the snapshot into typed attributes named
// "<group>.<key>", or "<key>" for groups without a name.
func (s ParameterSnapshot) Attributes() ([]hdf.Attribute, error) {
	var out []hdf.Attribute
	for _, g := range s.Groups {
		for _, p := range g.Params {
			v, err := p.value()
			if err != nil {
				return nil, err
			}
			name := p.Key
			if g.Name != "" {
				name = g.Name + "." + p.Key
			}
			out = append(out, hdf.Attribute{Name: name, Value: v})
		}
	}
	return out, nil
}

// WriteTo adds the snapshot's attributes to g.
func (s ParameterSnapshot) WriteTo(g *hdf.Group) error {
	attrs, err := s.Attributes()
	if err != nil {
		return err
	}
	for _, a := range attrs {
		if err := g.AddAttribute(a.Name, a.Value); err != nil {
			return err
		}
	}
	return nil
}

func (p Parameter) value() (hdf.Value, error) {
	switch p.Type {
	case ParamTypeInt:
		v, err := strconv.ParseInt(p.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.Key, err)
		}
		return hdf.Int(v), nil
	case ParamTypeFloat:
		v, err := strconv.ParseFloat(p.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.Key, err)
		}
		return hdf.Float(v), nil
	case ParamTypeBool:
		v, err := strconv.ParseBool(p.Value)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.Key, err)
		}
		return hdf.Bool(v), nil
	case ParamTypeString, "":
		return hdf.Text(p.Value), nil
	}
	return nil, fmt.Errorf("parameter %s: unknown type %q", p.Key, p.Type)
}
