package sandbox

import (
	"fmt"

	"github.com/dop251/goja"
	"github.com/relaydb/relay/pkg/types"
)

// toJS converts a stored Value into the guest-visible goja value. Bytes
// are handed to goja as the Go []byte itself, which exports back as a
// []byte, so a guest passing them to another syscall round-trips them as
// Bytes.
func toJS(rt *goja.Runtime, v types.Value) goja.Value {
	switch v.Kind {
	case types.KindNull:
		return goja.Null()
	case types.KindInt64:
		return rt.ToValue(v.Int64)
	case types.KindFloat64:
		return rt.ToValue(v.Float64)
	case types.KindBool:
		return rt.ToValue(v.Bool)
	case types.KindString:
		return rt.ToValue(v.Str)
	case types.KindBytes:
		return rt.ToValue(v.Bytes)
	case types.KindArray, types.KindSet:
		elems := v.Array
		if v.Kind == types.KindSet {
			elems = v.Set
		}
		out := make([]interface{}, len(elems))
		for i, e := range elems {
			out[i] = toJS(rt, e)
		}
		return rt.ToValue(out)
	case types.KindMap:
		pairs := make([]interface{}, 0, len(v.Map))
		for _, e := range v.Map {
			pairs = append(pairs, []interface{}{toJS(rt, e.Key), toJS(rt, e.Value)})
		}
		return rt.ToValue(pairs)
	case types.KindObject:
		out := rt.NewObject()
		for _, f := range v.Object {
			_ = out.Set(f.Name, toJS(rt, f.Value))
		}
		return out
	default:
		return goja.Undefined()
	}
}

// fromJS converts a guest value back into a stored Value, used for
// function arguments and return values crossing back into the
// transaction.
func fromJS(gv goja.Value) (types.Value, error) {
	if gv == nil || goja.IsUndefined(gv) || goja.IsNull(gv) {
		return types.Null(), nil
	}
	exported := gv.Export()
	return fromGo(exported)
}

func fromGo(exported interface{}) (types.Value, error) {
	switch v := exported.(type) {
	case nil:
		return types.Null(), nil
	case bool:
		return types.Bool_(v), nil
	case int64:
		return types.Int(v), nil
	case int:
		return types.Int(int64(v)), nil
	case float64:
		return types.Float(v), nil
	case string:
		return types.Str(v), nil
	case []byte:
		return types.Bin(v), nil
	case []interface{}:
		elems := make([]types.Value, len(v))
		for i, e := range v {
			conv, err := fromGo(e)
			if err != nil {
				return types.Value{}, err
			}
			elems[i] = conv
		}
		return types.Arr(elems...), nil
	case map[string]interface{}:
		fields := make([]types.ObjectField, 0, len(v))
		for k, e := range v {
			conv, err := fromGo(e)
			if err != nil {
				return types.Value{}, err
			}
			fields = append(fields, types.Field(k, conv))
		}
		return types.ObjOf(fields...), nil
	default:
		return types.Value{}, fmt.Errorf("sandbox: unsupported guest value type %T", exported)
	}
}
