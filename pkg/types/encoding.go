package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Two wire encodings are supported, matching the two consumers of a Value:
//
//   - Internal encoding is invertible: EncodeInternal/DecodeInternal round
//     trip exactly, including the int64/float64 distinction and raw bytes.
//     Used on the client sync protocol, where the SDK needs to reconstruct
//     the original Value.
//   - Clean encoding is lossy and is a pure function of the Value alone (no
//     hidden context): int64 becomes a decimal string, bytes become base64
//     with no tag, sets and maps flatten to arrays. Used for snapshot/ZIP
//     export, where a human or a downstream warehouse reads the JSON
//     directly and round-tripping back into a Value is not required.

const (
	tagInt64  = "$integer"
	tagBytes  = "$bytes"
	tagSet    = "$set"
	tagMap    = "$map"
	tagObject = "$object"
)

// EncodeInternal renders v as the invertible internal JSON form.
func EncodeInternal(v Value) (json.RawMessage, error) {
	tree, err := internalTree(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

func internalTree(v Value) (any, error) {
	switch v.Kind {
	case KindNull:
		return nil, nil
	case KindInt64:
		return map[string]any{tagInt64: fmt.Sprintf("%d", v.Int64)}, nil
	case KindFloat64:
		return v.Float64, nil
	case KindBool:
		return v.Bool, nil
	case KindString:
		return v.Str, nil
	case KindBytes:
		return map[string]any{tagBytes: base64.StdEncoding.EncodeToString(v.Bytes)}, nil
	case KindArray:
		out := make([]any, len(v.Array))
		for i, e := range v.Array {
			t, err := internalTree(e)
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	case KindSet:
		elems := make([]any, len(v.Set))
		for i, e := range v.Set {
			t, err := internalTree(e)
			if err != nil {
				return nil, err
			}
			elems[i] = t
		}
		return map[string]any{tagSet: elems}, nil
	case KindMap:
		pairs := make([][2]any, len(v.Map))
		for i, e := range v.Map {
			k, err := internalTree(e.Key)
			if err != nil {
				return nil, err
			}
			val, err := internalTree(e.Value)
			if err != nil {
				return nil, err
			}
			pairs[i] = [2]any{k, val}
		}
		return map[string]any{tagMap: pairs}, nil
	case KindObject:
		fields := make(map[string]any, len(v.Object))
		for _, f := range v.Object {
			t, err := internalTree(f.Value)
			if err != nil {
				return nil, err
			}
			fields[f.Name] = t
		}
		return map[string]any{tagObject: fields}, nil
	default:
		return nil, fmt.Errorf("types: unknown value kind %d", v.Kind)
	}
}

// DecodeInternal parses the invertible internal JSON form produced by
// EncodeInternal back into a Value.
func DecodeInternal(raw json.RawMessage) (Value, error) {
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return Value{}, err
	}
	return decodeTree(tree)
}

func decodeTree(tree any) (Value, error) {
	switch t := tree.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool_(t), nil
	case float64:
		return Float(t), nil
	case string:
		return Str(t), nil
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			v, err := decodeTree(e)
			if err != nil {
				return Value{}, err
			}
			arr[i] = v
		}
		return Value{Kind: KindArray, Array: arr}, nil
	case map[string]any:
		if len(t) != 1 {
			return Value{}, fmt.Errorf("types: malformed tagged value with %d keys", len(t))
		}
		if raw, ok := t[tagInt64]; ok {
			s, ok := raw.(string)
			if !ok {
				return Value{}, fmt.Errorf("types: %s must be a string", tagInt64)
			}
			var n int64
			if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
				return Value{}, fmt.Errorf("types: bad int64 literal %q: %w", s, err)
			}
			return Int(n), nil
		}
		if raw, ok := t[tagBytes]; ok {
			s, ok := raw.(string)
			if !ok {
				return Value{}, fmt.Errorf("types: %s must be a string", tagBytes)
			}
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return Value{}, fmt.Errorf("types: bad base64 in %s: %w", tagBytes, err)
			}
			return Bin(b), nil
		}
		if raw, ok := t[tagSet]; ok {
			elems, ok := raw.([]any)
			if !ok {
				return Value{}, fmt.Errorf("types: %s must be an array", tagSet)
			}
			set := make([]Value, len(elems))
			for i, e := range elems {
				v, err := decodeTree(e)
				if err != nil {
					return Value{}, err
				}
				set[i] = v
			}
			return Value{Kind: KindSet, Set: set}, nil
		}
		if raw, ok := t[tagMap]; ok {
			pairs, ok := raw.([]any)
			if !ok {
				return Value{}, fmt.Errorf("types: %s must be an array", tagMap)
			}
			entries := make([]MapEntry, len(pairs))
			for i, p := range pairs {
				pair, ok := p.([]any)
				if !ok || len(pair) != 2 {
					return Value{}, fmt.Errorf("types: %s entry must be a 2-tuple", tagMap)
				}
				k, err := decodeTree(pair[0])
				if err != nil {
					return Value{}, err
				}
				val, err := decodeTree(pair[1])
				if err != nil {
					return Value{}, err
				}
				entries[i] = MapEntry{Key: k, Value: val}
			}
			return Value{Kind: KindMap, Map: entries}, nil
		}
		if raw, ok := t[tagObject]; ok {
			fieldMap, ok := raw.(map[string]any)
			if !ok {
				return Value{}, fmt.Errorf("types: %s must be an object", tagObject)
			}
			fields := make([]ObjectField, 0, len(fieldMap))
			for name, fv := range fieldMap {
				v, err := decodeTree(fv)
				if err != nil {
					return Value{}, err
				}
				fields = append(fields, Field(name, v))
			}
			return Value{Kind: KindObject, Object: SortObjectFields(fields)}, nil
		}
		return Value{}, fmt.Errorf("types: unrecognized tagged value")
	default:
		return Value{}, fmt.Errorf("types: unsupported JSON shape %T", tree)
	}
}

// EncodeClean renders v as the lossy "clean" JSON form used for exports.
// It is a pure function of v: no ambient context is consulted.
func EncodeClean(v Value) (json.RawMessage, error) {
	tree, err := cleanTree(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

func cleanTree(v Value) (any, error) {
	switch v.Kind {
	case KindNull:
		return nil, nil
	case KindInt64:
		return fmt.Sprintf("%d", v.Int64), nil
	case KindFloat64:
		return v.Float64, nil
	case KindBool:
		return v.Bool, nil
	case KindString:
		return v.Str, nil
	case KindBytes:
		return base64.StdEncoding.EncodeToString(v.Bytes), nil
	case KindArray, KindSet:
		elems := v.Array
		if v.Kind == KindSet {
			elems = v.Set
		}
		out := make([]any, len(elems))
		for i, e := range elems {
			t, err := cleanTree(e)
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	case KindMap:
		out := make([][2]any, len(v.Map))
		for i, e := range v.Map {
			k, err := cleanTree(e.Key)
			if err != nil {
				return nil, err
			}
			val, err := cleanTree(e.Value)
			if err != nil {
				return nil, err
			}
			out[i] = [2]any{k, val}
		}
		return out, nil
	case KindObject:
		fields := make(map[string]any, len(v.Object))
		for _, f := range v.Object {
			t, err := cleanTree(f.Value)
			if err != nil {
				return nil, err
			}
			fields[f.Name] = t
		}
		return fields, nil
	default:
		return nil, fmt.Errorf("types: unknown value kind %d", v.Kind)
	}
}
