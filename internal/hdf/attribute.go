package hdf

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Value is an attribute value. The set of implementations is closed.
type Value interface {
	isValue()
}

type (
	Int     int64
	Uint    uint64
	Float   float64
	Text    string
	Bool    bool
	Ints    []int64
	Uints   []uint64
	Floats  []float64
	Strings []string
)

func (Int) isValue()     {}
func (Uint) isValue()    {}
func (Float) isValue()   {}
func (Text) isValue()    {}
func (Bool) isValue()    {}
func (Ints) isValue()    {}
func (Uints) isValue()   {}
func (Floats) isValue()  {}
func (Strings) isValue() {}

// Attribute is a named value attached to a group or dataset.
type Attribute struct {
	Name  string
	Value Value
}

// ValueOf converts a Go value into an attribute value. Supported are
// integers, floats, strings and bools, slices of those (bool slices are
// stored as integers) and Values.
func ValueOf(v any) (Value, error) {
	if v, ok := v.(Value); ok {
		return v, nil
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, fmt.Errorf("%w: nil attribute value", ErrType)
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Uint(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.String:
		return Text(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Slice, reflect.Array:
		return sliceValue(rv)
	}
	return nil, fmt.Errorf("%w: unsupported attribute type %T", ErrType, v)
}

func sliceValue(rv reflect.Value) (Value, error) {
	n := rv.Len()
	switch rv.Type().Elem().Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out := make(Ints, n)
		for i := range out {
			out[i] = rv.Index(i).Int()
		}
		return out, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		out := make(Uints, n)
		for i := range out {
			out[i] = rv.Index(i).Uint()
		}
		return out, nil
	case reflect.Float32, reflect.Float64:
		out := make(Floats, n)
		for i := range out {
			out[i] = rv.Index(i).Float()
		}
		return out, nil
	case reflect.String:
		out := make(Strings, n)
		for i := range out {
			out[i] = rv.Index(i).String()
		}
		return out, nil
	case reflect.Bool:
		out := make(Ints, n)
		for i := range out {
			if rv.Index(i).Bool() {
				out[i] = 1
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unsupported attribute element type %s", ErrType, rv.Type().Elem())
}

// Interface returns the plain Go value held by v.
func Interface(v Value) any {
	switch v := v.(type) {
	case Int:
		return int64(v)
	case Uint:
		return uint64(v)
	case Float:
		return float64(v)
	case Text:
		return string(v)
	case Bool:
		return bool(v)
	case Ints:
		return []int64(v)
	case Uints:
		return []uint64(v)
	case Floats:
		return []float64(v)
	case Strings:
		return []string(v)
	}
	return nil
}

// taggedValue is the serialized form of a Value.
type taggedValue struct {
	Type string          `json:"type"`
	V    json.RawMessage `json:"v"`
}

func encodeValue(v Value) ([]byte, error) {
	var tag string
	switch v.(type) {
	case Int:
		tag = "int"
	case Uint:
		tag = "uint"
	case Float:
		tag = "float"
	case Text:
		tag = "string"
	case Bool:
		tag = "bool"
	case Ints:
		tag = "ints"
	case Uints:
		tag = "uints"
	case Floats:
		tag = "floats"
	case Strings:
		tag = "strings"
	default:
		return nil, fmt.Errorf("%w: unknown attribute value %T", ErrType, v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding attribute: %w", err)
	}
	return json.Marshal(taggedValue{Type: tag, V: raw})
}

func decodeValue(data []byte) (Value, error) {
	var tv taggedValue
	if err := json.Unmarshal(data, &tv); err != nil {
		return nil, fmt.Errorf("decoding attribute: %w", err)
	}
	var v Value
	var err error
	switch tv.Type {
	case "int":
		var x Int
		err = json.Unmarshal(tv.V, &x)
		v = x
	case "uint":
		var x Uint
		err = json.Unmarshal(tv.V, &x)
		v = x
	case "float":
		var x Float
		err = json.Unmarshal(tv.V, &x)
		v = x
	case "string":
		var x Text
		err = json.Unmarshal(tv.V, &x)
		v = x
	case "bool":
		var x Bool
		err = json.Unmarshal(tv.V, &x)
		v = x
	case "ints":
		var x Ints
		err = json.Unmarshal(tv.V, &x)
		v = x
	case "uints":
		var x Uints
		err = json.Unmarshal(tv.V, &x)
		v = x
	case "floats":
		var x Floats
		err = json.Unmarshal(tv.V, &x)
		v = x
	case "strings":
		var x Strings
		err = json.Unmarshal(tv.V, &x)
		v = x
	default:
		return nil, fmt.Errorf("%w: unknown attribute tag %q", ErrType, tv.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s attribute: %w", tv.Type, err)
	}
	return v, nil
}
