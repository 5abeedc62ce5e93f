package ir

import "fmt"

// Built-in struct names.
const (
	StructLocation = "Location"
	StructEvent    = "Event"
	StructTime     = "Time"
)

// Well-known field names.
const (
	FieldID     = "id"
	FieldTime   = "time"
	FieldType   = "type"
	FieldValue  = "value"
	FieldTiming = "timing"
	FieldX      = "x"
	FieldY      = "y"
)

// StructDecl declares the typed fields of a struct. Every struct
// implicitly carries id (string) and time (number).
type StructDecl struct {
	Name   string          `json:"name"`
	Fields map[string]Kind `json:"fields"`
}

// FieldKind returns the declared kind of field, including the implicit
// id and time fields.
func (d *StructDecl) FieldKind(field string) (Kind, bool) {
	switch field {
	case FieldID:
		return KindString, true
	case FieldTime:
		return KindNumber, true
	}
	k, ok := d.Fields[field]
	return k, ok
}

// BuiltinStructs returns fresh declarations of Location, Event and Time.
func BuiltinStructs() map[string]*StructDecl {
	return map[string]*StructDecl{
		StructLocation: {Name: StructLocation, Fields: map[string]Kind{
			FieldType: KindString,
			FieldX:    KindNumber,
			FieldY:    KindNumber,
		}},
		StructEvent: {Name: StructEvent, Fields: map[string]Kind{
			FieldValue: KindAny,
		}},
		StructTime: {Name: StructTime, Fields: map[string]Kind{
			FieldTiming: KindString,
			FieldValue:  KindBool,
		}},
	}
}

// StructInstance is a named, typed record that conditions read from.
//
// Name is the program identifier used in expressions (event1.value).
// Fields always hold id and time once the instance has been loaded.
type StructInstance struct {
	Name   string `json:"name"`
	Struct string `json:"struct"`
	Fields Object `json:"fields"`
}

// ID returns the instance's id attribute.
func (si *StructInstance) ID() string {
	if s, ok := si.Fields[FieldID].(String); ok {
		return string(s)
	}
	return ""
}

// Get returns a field value.
func (si *StructInstance) Get(field string) (Value, bool) {
	v, ok := si.Fields[field]
	return v, ok
}

// Clone returns a deep copy safe to mutate.
func (si *StructInstance) Clone() *StructInstance {
	return &StructInstance{
		Name:   si.Name,
		Struct: si.Struct,
		Fields: si.Fields.Clone(),
	}
}

// CheckAssignable reports whether v may be stored in field of a struct
// declared by decl.
func CheckAssignable(decl *StructDecl, field string, v Value) error {
	if v == nil {
		return fmt.Errorf("%s.%s: nil value", decl.Name, field)
	}
	want, ok := decl.FieldKind(field)
	if !ok {
		return fmt.Errorf("%s has no field %q", decl.Name, field)
	}
	switch want {
	case KindAny:
		switch v.Kind() {
		case KindBool, KindNumber, KindString:
			return nil
		}
		return fmt.Errorf("%s.%s: expected bool, number or string, got %s", decl.Name, field, v.Kind())
	default:
		if v.Kind() != want {
			return fmt.Errorf("%s.%s: expected %s, got %s", decl.Name, field, want, v.Kind())
		}
	}
	return nil
}
