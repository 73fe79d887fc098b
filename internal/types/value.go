package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind tags the shape of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// Value is a tagged JSON payload. Parameters sent to agents and results
// returned by them are Values rather than untyped maps, so a malformed
// payload fails when it is decoded at the wire boundary instead of deep
// inside result handling.
type Value struct {
	Kind Kind
	Bool bool
	Num  float64
	Str  string
	List []Value
	Obj  Map
}

// Map is a string-keyed collection of Values, the shape of parameter bags
// and most agent results.
type Map map[string]Value

func Null() Value               { return Value{Kind: KindNull} }
func Boolean(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func Number(n float64) Value    { return Value{Kind: KindNumber, Num: n} }
func String(s string) Value     { return Value{Kind: KindString, Str: s} }
func List(items ...Value) Value { return Value{Kind: KindList, List: items} }
func Object(fields Map) Value   { return Value{Kind: KindMap, Obj: fields} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

func (v Value) AsString() (string, bool)  { return v.Str, v.Kind == KindString }
func (v Value) AsNumber() (float64, bool) { return v.Num, v.Kind == KindNumber }
func (v Value) AsBool() (bool, bool)      { return v.Bool, v.Kind == KindBool }
func (v Value) AsList() ([]Value, bool)   { return v.List, v.Kind == KindList }
func (v Value) AsMap() (Map, bool)        { return v.Obj, v.Kind == KindMap }

// Field returns the named entry of a map-shaped Value.
func (v Value) Field(key string) (Value, bool) {
	if v.Kind != KindMap {
		return Value{}, false
	}
	f, ok := v.Obj[key]
	return f, ok
}

// StringField is Field followed by AsString.
func (v Value) StringField(key string) (string, bool) {
	f, ok := v.Field(key)
	if !ok {
		return "", false
	}
	return f.AsString()
}

// BoolField is Field followed by AsBool.
func (v Value) BoolField(key string) (bool, bool) {
	f, ok := v.Field(key)
	if !ok {
		return false, false
	}
	return f.AsBool()
}

// Merge returns a copy of m overlaid with other. m itself is not modified.
func (m Map) Merge(other Map) Map {
	out := make(Map, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindString:
		return json.Marshal(v.Str)
	case KindList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case KindMap:
		if v.Obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Obj)
	}
	return nil, fmt.Errorf("value has unknown kind %d", v.Kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts a decoded JSON value (nil, bool, json.Number, float64,
// string, []any, map[string]any) into a tagged Value.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Boolean(t), nil
	case float64:
		return Number(t), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(n), nil
	case string:
		return String(t), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return List(items...), nil
	case map[string]any:
		fields := make(Map, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Object(fields), nil
	}
	return Value{}, fmt.Errorf("unsupported payload type %T", raw)
}

// Interface converts a Value back to plain Go types, the shape SDK data
// parts expect.
func (v Value) Interface() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.Obj))
		for k, item := range v.Obj {
			out[k] = item.Interface()
		}
		return out
	}
	return nil
}
