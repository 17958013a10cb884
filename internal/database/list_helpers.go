package database

import "encoding/json"

// Nullable helpers: convert empty Go values to nil so PostgreSQL
// stores NULL instead of empty strings and documents.

func pqString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func pqFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

// pqJSON marshals v, returning nil for nil values and empty maps.
func pqJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]string); ok && len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}
