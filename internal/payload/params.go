package payload

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Params arrive from JSON (float64), YAML (int, float64) or Go callers, so
// numeric lookups accept any of those forms.

func number(params map[string]any, key string) (float64, bool, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case float64:
		return v, true, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("%s: %w", key, err)
		}
		return f, true, nil
	default:
		return 0, false, fmt.Errorf("%s: expected a number, got %T", key, raw)
	}
}

func intParam(params map[string]any, key string, def int) (int, error) {
	f, ok, err := number(params, key)
	if err != nil || !ok {
		return def, err
	}
	if f != float64(int(f)) {
		return def, fmt.Errorf("%s: expected a whole number, got %v", key, f)
	}
	return int(f), nil
}

// durationParam reads seconds as a number or a Go duration string ("250ms").
func durationParam(params map[string]any, key string, def time.Duration) (time.Duration, error) {
	if s, ok := params[key].(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return def, fmt.Errorf("%s: %w", key, err)
		}
		return d, nil
	}
	f, ok, err := number(params, key)
	if err != nil || !ok {
		return def, err
	}
	return time.Duration(f * float64(time.Second)), nil
}

// secondsListParam reads a list of offsets in seconds, returned sorted.
func secondsListParam(params map[string]any, key string) ([]time.Duration, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, nil
	}
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []float64:
		for _, f := range v {
			items = append(items, f)
		}
	case []int:
		for _, n := range v {
			items = append(items, n)
		}
	default:
		return nil, fmt.Errorf("%s: expected a list of seconds, got %T", key, raw)
	}

	out := make([]time.Duration, 0, len(items))
	for i, item := range items {
		d, err := durationParam(map[string]any{key: item}, key, 0)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func stringParam(params map[string]any, key, def string) (string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return def, fmt.Errorf("%s: expected a string, got %T", key, raw)
	}
	return s, nil
}

// stringMapParam reads a flat object of string values, such as an environment.
func stringMapParam(params map[string]any, key string) (map[string]string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case map[string]string:
		return v, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, val := range v {
			out[k] = fmt.Sprint(val)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: expected an object, got %T", key, raw)
	}
}
