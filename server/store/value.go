package store

import (
	"math"
	"reflect"

	"github.com/pkg/errors"
)

// NormalizeValue converts an extras value into the canonical form every backend round-trips:
// integers become int64, float32 becomes float64, slices become []any and string-keyed maps
// become map[string]any. nil, bool, string and []byte pass through.
func NormalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string, int64, float64:
		return val, nil
	case []byte:
		return append([]byte(nil), val...), nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint:
		return fromUnsigned(uint64(val))
	case uint64:
		return fromUnsigned(val)
	case float32:
		return float64(val), nil
	case map[string]any:
		return normalizeMap(val)
	case []any:
		return normalizeSlice(val)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			n, err := NormalizeValue(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, errors.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			n, err := NormalizeValue(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = n
		}
		return out, nil
	}
	return nil, errors.Errorf("unsupported value type %T", v)
}

func fromUnsigned(v uint64) (any, error) {
	if v > math.MaxInt64 {
		return nil, errors.Errorf("unsigned value %d overflows int64", v)
	}
	return int64(v), nil
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		n, err := NormalizeValue(v)
		if err != nil {
			return nil, errors.Wrapf(err, "key %q", k)
		}
		out[k] = n
	}
	return out, nil
}

func normalizeSlice(s []any) ([]any, error) {
	out := make([]any, len(s))
	for i, v := range s {
		n, err := NormalizeValue(v)
		if err != nil {
			return nil, errors.Wrapf(err, "index %d", i)
		}
		out[i] = n
	}
	return out, nil
}

// NormalizeExtras normalizes every value of an extras map. A nil map yields an empty map.
func NormalizeExtras(extras map[string]any) (map[string]any, error) {
	if extras == nil {
		return map[string]any{}, nil
	}
	for k := range extras {
		if k == "" {
			return nil, errors.New("extras keys must not be empty")
		}
	}
	return normalizeMap(extras)
}

// CloneExtras deep-copies an extras map of normalized values.
func CloneExtras(extras map[string]any) map[string]any {
	out := make(map[string]any, len(extras))
	for k, v := range extras {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a single normalized value.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneExtras(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = CloneValue(e)
		}
		return out
	case []byte:
		return append([]byte(nil), val...)
	default:
		return val
	}
}

// WithExtra returns a copy of extras with key set to the normalized value.
func WithExtra(extras map[string]any, key string, value any) (map[string]any, error) {
	if key == "" {
		return nil, errors.New("extras keys must not be empty")
	}
	n, err := NormalizeValue(value)
	if err != nil {
		return nil, err
	}
	out := CloneExtras(extras)
	out[key] = n
	return out, nil
}

// WithoutExtra returns a copy of extras without key.
func WithoutExtra(extras map[string]any, key string) map[string]any {
	out := CloneExtras(extras)
	delete(out, key)
	return out
}
