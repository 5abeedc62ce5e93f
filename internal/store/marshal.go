package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/iml130/mf-plugin/internal/engine"
	"github.com/iml130/mf-plugin/internal/ir"
)

// marshalValue converts a Value to canonical JSON TEXT for storage.
func marshalValue(v ir.Value) (string, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// marshalParameters stores absent parameters as "{}".
func marshalParameters(params ir.Object) (string, error) {
	if params == nil {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(params)
	if err != nil {
		return "", fmt.Errorf("marshal parameters: %w", err)
	}
	return string(data), nil
}

func unmarshalValue(data string) (ir.Value, error) {
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

func unmarshalParameters(data string) (ir.Object, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var obj ir.Object
	if err := obj.UnmarshalJSON([]byte(data)); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	return obj, nil
}

// CanonicalSnapshot renders snap as canonical JSON and returns it with its
// content hash. Null members (empty slices, absent plans) are dropped
// since canonical JSON has no null.
func CanonicalSnapshot(snap *engine.Snapshot) ([]byte, string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, "", fmt.Errorf("marshal snapshot: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, "", fmt.Errorf("decode snapshot: %w", err)
	}
	v, err := ir.FromAny(dropNulls(raw))
	if err != nil {
		return nil, "", fmt.Errorf("convert snapshot: %w", err)
	}
	canonical, err := ir.MarshalCanonical(v)
	if err != nil {
		return nil, "", fmt.Errorf("canonicalize snapshot: %w", err)
	}
	return canonical, ir.SnapshotHash(canonical), nil
}

func dropNulls(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, e := range val {
			if e == nil {
				delete(val, k)
				continue
			}
			val[k] = dropNulls(e)
		}
		return val
	case []any:
		out := val[:0]
		for _, e := range val {
			if e != nil {
				out = append(out, dropNulls(e))
			}
		}
		return out
	default:
		return v
	}
}
