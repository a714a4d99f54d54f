package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// LoadJSON decodes the value at key into v. It reports false when the key
// does not exist. Undecodable content is reported as ErrMalformed so callers
// can choose to start over.
func LoadJSON(ctx context.Context, m Medium, key string, v any) (bool, error) {
	raw, ok, err := m.Get(ctx, key)
	if err != nil {
		return false, err
	}

	if !ok || raw == "" {
		return false, nil
	}

	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrMalformed, key, err)
	}

	return true, nil
}

// SaveJSON encodes v and stores it at key.
func SaveJSON(ctx context.Context, m Medium, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encoding %s: %w", key, err)
	}

	return m.Set(ctx, key, string(data))
}
