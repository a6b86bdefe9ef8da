package record

// ValueKind identifies the variant stored in a Value.
type ValueKind int

const (
	// ValueKindEmpty is the zero Value.
	ValueKindEmpty ValueKind = iota
	// ValueKindString holds a string.
	ValueKindString
	// ValueKindInt64 holds an int64.
	ValueKindInt64
	// ValueKindFloat64 holds a float64.
	ValueKindFloat64
	// ValueKindBool holds a bool.
	ValueKindBool
	// ValueKindBytes holds a byte slice.
	ValueKindBytes
	// ValueKindSlice holds an ordered list of Values.
	ValueKindSlice
	// ValueKindMap holds a string-keyed map of Values.
	ValueKindMap
)

// Value is an attribute value: one of a closed set of scalar or nested
// variants. The set mirrors the OTLP AnyValue wire type, so every Value
// encodes losslessly. Constructors copy their inputs; a Value never
// aliases caller-owned memory.
type Value struct {
	kind  ValueKind
	str   string
	i64   int64
	f64   float64
	b     bool
	bytes []byte
	slice []Value
	m     map[string]Value
}

// StringValue returns a Value holding s.
func StringValue(s string) Value {
	return Value{kind: ValueKindString, str: s}
}

// IntValue returns a Value holding i.
func IntValue(i int64) Value {
	return Value{kind: ValueKindInt64, i64: i}
}

// Float64Value returns a Value holding f.
func Float64Value(f float64) Value {
	return Value{kind: ValueKindFloat64, f64: f}
}

// BoolValue returns a Value holding b.
func BoolValue(b bool) Value {
	return Value{kind: ValueKindBool, b: b}
}

// BytesValue returns a Value holding a copy of data.
func BytesValue(data []byte) Value {
	cp := make([]byte, len(data))
	copy(cp, data)
	return Value{kind: ValueKindBytes, bytes: cp}
}

// SliceValue returns a Value holding a copy of vals.
func SliceValue(vals ...Value) Value {
	cp := make([]Value, len(vals))
	copy(cp, vals)
	return Value{kind: ValueKindSlice, slice: cp}
}

// MapValue returns a Value holding a copy of m.
func MapValue(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: ValueKindMap, m: cp}
}

// Kind returns the variant stored in the Value.
func (v Value) Kind() ValueKind { return v.kind }

// AsString returns the string variant, or "" for other kinds.
func (v Value) AsString() string { return v.str }

// AsInt64 returns the int64 variant, or 0 for other kinds.
func (v Value) AsInt64() int64 { return v.i64 }

// AsFloat64 returns the float64 variant, or 0 for other kinds.
func (v Value) AsFloat64() float64 { return v.f64 }

// AsBool returns the bool variant, or false for other kinds.
func (v Value) AsBool() bool { return v.b }

// AsBytes returns the bytes variant, or nil for other kinds.
func (v Value) AsBytes() []byte { return v.bytes }

// AsSlice returns the slice variant, or nil for other kinds.
func (v Value) AsSlice() []Value { return v.slice }

// AsMap returns the map variant, or nil for other kinds.
func (v Value) AsMap() map[string]Value { return v.m }

// copyAttrs returns a shallow copy of an attribute map. Values are
// immutable, so copying the map is enough to detach from the caller.
func copyAttrs(attrs map[string]Value) map[string]Value {
	if len(attrs) == 0 {
		return nil
	}
	cp := make(map[string]Value, len(attrs))
	for k, v := range attrs {
		cp[k] = v
	}
	return cp
}
