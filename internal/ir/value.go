package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Kind names the dynamic type of a Value.
type Kind string

const (
	KindBool   Kind = "bool"
	KindNumber Kind = "number"
	KindString Kind = "string"
	KindRef    Kind = "ref"
	KindList   Kind = "list"
	KindObject Kind = "object"

	// KindAny is only used in struct declarations for fields that accept
	// any scalar (Event.value).
	KindAny Kind = "any"
)

// Value is a sealed interface over the tagged runtime values of a program.
// Only Bool, Number, String, Ref, List and Object implement it.
//
// Numbers are float64: distances, durations and sensor readings in
// material-flow programs are routinely fractional.
type Value interface {
	Kind() Kind
	value() // sealed
}

// Bool is a boolean value.
type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (Bool) value()     {}

// Number is a numeric value.
type Number float64

func (Number) Kind() Kind { return KindNumber }
func (Number) value()     {}

// String is a string value.
type String string

func (String) Kind() Kind { return KindString }
func (String) value()     {}

// Ref points at another struct instance by its program name.
// Evaluating a bare instance name yields a Ref, so rule parameters can
// bind whole instances and bodies can continue with attribute access.
type Ref string

func (Ref) Kind() Kind { return KindRef }
func (Ref) value()     {}

// List is an ordered sequence of values (order-step parameters only).
type List []Value

func (List) Kind() Kind { return KindList }
func (List) value()     {}

// Object is a string-keyed map of values.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

func (Object) Kind() Kind { return KindObject }
func (Object) value()     {}

// refKey is the JSON encoding of a Ref: {"$ref": "name"}.
const refKey = "$ref"

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings uses UTF-8 byte order, which differs for astral runes.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// Clone returns a deep copy of the object.
func (obj Object) Clone() Object {
	if obj == nil {
		return nil
	}
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies containers; scalars are returned as is.
func CloneValue(v Value) Value {
	switch val := v.(type) {
	case Object:
		return val.Clone()
	case List:
		out := make(List, len(val))
		for i, e := range val {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	for i := 0; i < min(len(a16), len(b16)); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// Equal reports structural equality. Values of different kinds are never
// equal; callers that need a TypeMismatch check kinds first.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case List:
		bv := b.(List)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv := b.(Object)
		if len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// FromAny converts a decoded JSON/YAML/CUE value into a Value.
// Integers of any width become Numbers; a single-key {"$ref": name} map
// becomes a Ref.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null values are not supported")
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case float64:
		return Number(val), nil
	case float32:
		return Number(val), nil
	case int:
		return Number(val), nil
	case int64:
		return Number(val), nil
	case int32:
		return Number(val), nil
	case uint64:
		return Number(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %q: %w", val, err)
		}
		return Number(f), nil
	case []any:
		out := make(List, len(val))
		for i, e := range val {
			ev, err := FromAny(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	case map[string]any:
		if len(val) == 1 {
			if name, ok := val[refKey].(string); ok {
				return Ref(name), nil
			}
		}
		out := make(Object, len(val))
		for k, e := range val {
			ev, err := FromAny(e)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = ev
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// ToAny converts a Value back to plain Go data (the inverse of FromAny).
func ToAny(v Value) any {
	switch val := v.(type) {
	case Bool:
		return bool(val)
	case Number:
		return float64(val)
	case String:
		return string(val)
	case Ref:
		return map[string]any{refKey: string(val)}
	case List:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = ToAny(e)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = ToAny(e)
		}
		return out
	default:
		return nil
	}
}

// Format renders a value for log lines and error messages.
func Format(v Value) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case Bool:
		return strconv.FormatBool(bool(val))
	case Number:
		return formatNumber(float64(val))
	case String:
		return strconv.Quote(string(val))
	case Ref:
		return "&" + string(val)
	case List:
		parts := make([]string, len(val))
		for i, e := range val {
			parts[i] = Format(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Object:
		keys := val.SortedKeys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + Format(val[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// formatNumber prints integral values without a fraction and everything
// else in the shortest round-trip form.
func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// MarshalJSON encodes the object with sorted keys. Not canonical (HTML
// escaping applies); use MarshalCanonical for hashing.
func (obj Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range obj.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValueJSON(obj[k])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON encodes the list elementwise.
func (l List) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := marshalValueJSON(e)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		buf.Write(eb)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// MarshalJSON encodes a Ref as {"$ref": name}.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{refKey: string(r)})
}

func marshalValueJSON(v Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("nil value")
	}
	if n, ok := v.(Number); ok {
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return nil, fmt.Errorf("non-finite number %v", float64(n))
		}
		return []byte(formatNumber(float64(n))), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON decodes an object whose members are arbitrary values.
func (obj *Object) UnmarshalJSON(data []byte) error {
	v, err := UnmarshalValue(data)
	if err != nil {
		return err
	}
	o, ok := v.(Object)
	if !ok {
		return fmt.Errorf("expected JSON object, got %s", v.Kind())
	}
	*obj = o
	return nil
}

// UnmarshalValue decodes any JSON document into a Value.
func UnmarshalValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}
