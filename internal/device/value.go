package device

import (
	"encoding/json"
	"fmt"
)

// PropertyType declares the wire type of a property value.
type PropertyType string

// Property type constants.
const (
	PropertyBool   PropertyType = "bool"
	PropertyInt    PropertyType = "int"
	PropertyFloat  PropertyType = "float"
	PropertyString PropertyType = "string"
	PropertyEnum   PropertyType = "enum"
	PropertyBytes  PropertyType = "bytes"
)

// AllPropertyTypes returns all valid property types.
func AllPropertyTypes() []PropertyType {
	return []PropertyType{
		PropertyBool, PropertyInt, PropertyFloat,
		PropertyString, PropertyEnum, PropertyBytes,
	}
}

// Value is a tagged variant over the types a property value can take:
// bool, int, float, string, enumerated string, or opaque bytes.
//
// The zero Value has Kind "" and represents "no value". Consumers switch
// on Kind instead of runtime type assertions against interface{}.
type Value struct {
	Kind PropertyType `json:"type"`

	boolVal   bool
	intVal    int64
	floatVal  float64
	stringVal string
	bytesVal  []byte
}

// BoolValue creates a boolean Value.
func BoolValue(v bool) Value {
	return Value{Kind: PropertyBool, boolVal: v}
}

// IntValue creates an integer Value.
func IntValue(v int64) Value {
	return Value{Kind: PropertyInt, intVal: v}
}

// FloatValue creates a floating point Value.
func FloatValue(v float64) Value {
	return Value{Kind: PropertyFloat, floatVal: v}
}

// StringValue creates a string Value.
func StringValue(v string) Value {
	return Value{Kind: PropertyString, stringVal: v}
}

// EnumValue creates an enumerated string Value.
func EnumValue(v string) Value {
	return Value{Kind: PropertyEnum, stringVal: v}
}

// BytesValue creates an opaque bytes Value. The slice is copied.
func BytesValue(v []byte) Value {
	b := make([]byte, len(v))
	copy(b, v)
	return Value{Kind: PropertyBytes, bytesVal: b}
}

// IsZero reports whether the value is unset.
func (v Value) IsZero() bool {
	return v.Kind == ""
}

// Bool returns the boolean value. The second return is false when the
// value is not a bool.
func (v Value) Bool() (bool, bool) {
	return v.boolVal, v.Kind == PropertyBool
}

// Int returns the integer value. The second return is false when the
// value is not an int.
func (v Value) Int() (int64, bool) {
	return v.intVal, v.Kind == PropertyInt
}

// Float returns the float value. The second return is false when the
// value is not a float.
func (v Value) Float() (float64, bool) {
	return v.floatVal, v.Kind == PropertyFloat
}

// String returns the string or enum value. The second return is false
// when the value is neither.
func (v Value) String() (string, bool) {
	return v.stringVal, v.Kind == PropertyString || v.Kind == PropertyEnum
}

// Bytes returns the opaque bytes. The second return is false when the
// value is not bytes. The returned slice must not be modified.
func (v Value) Bytes() ([]byte, bool) {
	return v.bytesVal, v.Kind == PropertyBytes
}

// Numeric returns the value as a float64 for range comparisons.
// Ints and floats are numeric; everything else is not.
func (v Value) Numeric() (float64, bool) {
	switch v.Kind {
	case PropertyInt:
		return float64(v.intVal), true
	case PropertyFloat:
		return v.floatVal, true
	default:
		return 0, false
	}
}

// Equal reports whether two values are equal in kind and content.
// An int and a float never compare equal even when numerically identical;
// use Numeric for threshold comparisons.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case PropertyBool:
		return v.boolVal == other.boolVal
	case PropertyInt:
		return v.intVal == other.intVal
	case PropertyFloat:
		return v.floatVal == other.floatVal
	case PropertyString, PropertyEnum:
		return v.stringVal == other.stringVal
	case PropertyBytes:
		if len(v.bytesVal) != len(other.bytesVal) {
			return false
		}
		for i := range v.bytesVal {
			if v.bytesVal[i] != other.bytesVal[i] {
				return false
			}
		}
		return true
	default:
		return true // both zero
	}
}

// DeepCopy returns an independent copy of the Value.
func (v Value) DeepCopy() Value {
	if v.Kind == PropertyBytes {
		return BytesValue(v.bytesVal)
	}
	return v
}

// GoString formats the value for logging.
func (v Value) GoString() string {
	switch v.Kind {
	case PropertyBool:
		return fmt.Sprintf("%t", v.boolVal)
	case PropertyInt:
		return fmt.Sprintf("%d", v.intVal)
	case PropertyFloat:
		return fmt.Sprintf("%g", v.floatVal)
	case PropertyString, PropertyEnum:
		return v.stringVal
	case PropertyBytes:
		return fmt.Sprintf("bytes[%d]", len(v.bytesVal))
	default:
		return "<unset>"
	}
}

// valueJSON is the wire representation of a Value.
type valueJSON struct {
	Type  PropertyType    `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the value as {"type": ..., "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var inner any
	switch v.Kind {
	case PropertyBool:
		inner = v.boolVal
	case PropertyInt:
		inner = v.intVal
	case PropertyFloat:
		inner = v.floatVal
	case PropertyString, PropertyEnum:
		inner = v.stringVal
	case PropertyBytes:
		inner = v.bytesVal // base64 per encoding/json
	default:
		return []byte(`{"type":""}`), nil
	}

	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("marshalling value payload: %w", err)
	}
	return json.Marshal(valueJSON{Type: v.Kind, Value: raw})
}

// UnmarshalJSON decodes {"type": ..., "value": ...} into a tagged Value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var wire valueJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("unmarshalling value: %w", err)
	}

	switch wire.Type {
	case PropertyBool:
		var b bool
		if err := json.Unmarshal(wire.Value, &b); err != nil {
			return fmt.Errorf("unmarshalling bool value: %w", err)
		}
		*v = BoolValue(b)
	case PropertyInt:
		var i int64
		if err := json.Unmarshal(wire.Value, &i); err != nil {
			return fmt.Errorf("unmarshalling int value: %w", err)
		}
		*v = IntValue(i)
	case PropertyFloat:
		var f float64
		if err := json.Unmarshal(wire.Value, &f); err != nil {
			return fmt.Errorf("unmarshalling float value: %w", err)
		}
		*v = FloatValue(f)
	case PropertyString:
		var s string
		if err := json.Unmarshal(wire.Value, &s); err != nil {
			return fmt.Errorf("unmarshalling string value: %w", err)
		}
		*v = StringValue(s)
	case PropertyEnum:
		var s string
		if err := json.Unmarshal(wire.Value, &s); err != nil {
			return fmt.Errorf("unmarshalling enum value: %w", err)
		}
		*v = EnumValue(s)
	case PropertyBytes:
		var b []byte
		if err := json.Unmarshal(wire.Value, &b); err != nil {
			return fmt.Errorf("unmarshalling bytes value: %w", err)
		}
		*v = Value{Kind: PropertyBytes, bytesVal: b}
	case "":
		*v = Value{}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPropertyType, wire.Type)
	}
	return nil
}
