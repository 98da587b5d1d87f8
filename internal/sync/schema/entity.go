package schema

import (
	"encoding/json"
	"fmt"
)

// Entity is implemented by every synchronized record.
type Entity interface {
	EntityID() string
	EntityKind() Kind
}

// ToMap converts a record to its generic document form using its JSON
// encoding. Unset optional fields come back as nil values.
func ToMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to convert record to document: %w", err)
	}
	return m, nil
}

// FromMap decodes a generic document back into a typed record.
func FromMap[T any](m map[string]any) (T, error) {
	var out T
	data, err := json.Marshal(m)
	if err != nil {
		return out, fmt.Errorf("failed to marshal document: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode document: %w", err)
	}
	return out, nil
}
