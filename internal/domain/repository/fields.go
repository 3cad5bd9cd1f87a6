package repository

// Fields is a partial document write. Nested maps merge key by key; they never replace
// the stored map as a whole.
type Fields map[string]interface{}

type serverTimestamp struct{}

// ServerTimestamp is replaced with the store's own clock when the write is applied.
var ServerTimestamp interface{} = serverTimestamp{}

func IsServerTimestamp(v interface{}) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// Unsubscribe ends a live subscription. It is safe to call more than once.
type Unsubscribe func()

// Resolve returns a copy of fields with every ServerTimestamp sentinel, at any depth,
// replaced by ts.
func Resolve(fields Fields, ts interface{}) map[string]interface{} {
	return resolveMap(fields, ts)
}

func resolveMap(m map[string]interface{}, ts interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = resolveValue(v, ts)
	}
	return out
}

func resolveValue(v interface{}, ts interface{}) interface{} {
	switch val := v.(type) {
	case serverTimestamp:
		return ts
	case Fields:
		return resolveMap(val, ts)
	case map[string]interface{}:
		return resolveMap(val, ts)
	default:
		return v
	}
}
