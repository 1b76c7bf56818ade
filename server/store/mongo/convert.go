package mongo

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// fromDocument converts a decoded extras sub-document into plain Go values.
func fromDocument(m bson.M) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		n, err := fromBSON(v)
		if err != nil {
			return nil, errors.Wrapf(err, "extras key %q", k)
		}
		out[k] = n
	}
	return out, nil
}

// fromBSON maps driver types onto the canonical extras value types.
func fromBSON(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string, int64, float64, []byte:
		return val, nil
	case int32:
		return int64(val), nil
	case bson.Binary:
		return val.Data, nil
	case bson.M:
		return fromDocument(val)
	case map[string]any:
		return fromDocument(val)
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			n, err := fromBSON(e.Value)
			if err != nil {
				return nil, errors.Wrapf(err, "key %q", e.Key)
			}
			out[e.Key] = n
		}
		return out, nil
	case bson.A:
		return fromSlice(val)
	case []any:
		return fromSlice(val)
	}
	return nil, errors.Errorf("unsupported stored value type %T", v)
}

func fromSlice(s []any) ([]any, error) {
	out := make([]any, len(s))
	for i, v := range s {
		n, err := fromBSON(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
