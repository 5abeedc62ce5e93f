package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"count":  3,
		"ratio":  0.5,
		"flag":   true,
		"name":   "pallet",
		"nested": []any{"a", int64(2)},
		"loc":    map[string]any{"$ref": "storage"},
	})
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, Number(3), obj["count"])
	assert.Equal(t, Number(0.5), obj["ratio"])
	assert.Equal(t, Bool(true), obj["flag"])
	assert.Equal(t, String("pallet"), obj["name"])
	assert.Equal(t, List{String("a"), Number(2)}, obj["nested"])
	assert.Equal(t, Ref("storage"), obj["loc"])
}

func TestFromAnyRejectsNull(t *testing.T) {
	_, err := FromAny(map[string]any{"x": nil})
	assert.Error(t, err)
}

func TestToAnyRoundTrip(t *testing.T) {
	in := Object{"a": List{Number(1), Bool(false)}, "r": Ref("x")}
	out, err := FromAny(ToAny(in))
	require.NoError(t, err)
	assert.True(t, Equal(in, out))
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"numbers", Number(1), Number(1), true},
		{"different numbers", Number(1), Number(2), false},
		{"kinds differ", Number(1), String("1"), false},
		{"refs", Ref("a"), Ref("a"), true},
		{"lists", List{String("x")}, List{String("x")}, true},
		{"list lengths", List{String("x")}, List{}, false},
		{"objects", Object{"k": Bool(true)}, Object{"k": Bool(true)}, true},
		{"object values", Object{"k": Bool(true)}, Object{"k": Bool(false)}, false},
		{"nil", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "3", Format(Number(3)))
	assert.Equal(t, "0.25", Format(Number(0.25)))
	assert.Equal(t, `"a"`, Format(String("a")))
	assert.Equal(t, "&storage", Format(Ref("storage")))
	assert.Equal(t, `{a: 1, b: [true]}`, Format(Object{"b": List{Bool(true)}, "a": Number(1)}))
}

func TestObjectJSON(t *testing.T) {
	obj := Object{"b": Number(1.5), "a": Ref("loc"), "c": List{String("x")}}
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"$ref":"loc"},"b":1.5,"c":["x"]}`, string(data))

	var back Object
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, Equal(obj, back))
}

func TestCheckAssignable(t *testing.T) {
	structs := BuiltinStructs()

	assert.NoError(t, CheckAssignable(structs[StructEvent], FieldValue, Number(4)))
	assert.NoError(t, CheckAssignable(structs[StructEvent], FieldValue, String("ok")))
	assert.Error(t, CheckAssignable(structs[StructEvent], FieldValue, List{}))
	assert.NoError(t, CheckAssignable(structs[StructTime], FieldValue, Bool(true)))
	assert.Error(t, CheckAssignable(structs[StructTime], FieldValue, Number(1)))
	assert.Error(t, CheckAssignable(structs[StructLocation], "missing", Number(1)))
	assert.NoError(t, CheckAssignable(structs[StructLocation], FieldTime, Number(1)))
}
