package starlark

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// goToStarlark converts a JSON-shaped Go value into its Starlark
// counterpart. Supported inputs mirror what encoding/json produces:
// nil, bool, float64, string, int variants, []any, map[string]any.
func goToStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		elems := make([]starlark.Value, len(val))
		for i, item := range val {
			conv, err := goToStarlark(item)
			if err != nil {
				return nil, err
			}
			elems[i] = conv
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			conv, err := goToStarlark(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), conv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported input type %T", v)
	}
}

// starlarkToGo converts a Starlark value back into a JSON-shaped Go
// value. Dict keys must be strings; ints overflowing int64 are
// rendered as decimal strings to avoid silent truncation.
func starlarkToGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		return val.String(), nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		out := make([]any, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			conv, err := starlarkToGo(val.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, conv)
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			conv, err := starlarkToGo(val.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, conv)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("dict key must be a string, got %s", item[0].Type())
			}
			conv, err := starlarkToGo(item[1])
			if err != nil {
				return nil, err
			}
			out[key] = conv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported result type %s", v.Type())
	}
}
