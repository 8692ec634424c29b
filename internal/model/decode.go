package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DecodeObservations accepts a single JSON observation object or an array.
func DecodeObservations(payload []byte) ([]Observation, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, errors.New("empty payload")
	}
	if trimmed[0] == '[' {
		var list []Observation
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode observations: %w", err)
		}
		return list, nil
	}
	var one Observation
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("decode observation: %w", err)
	}
	return []Observation{one}, nil
}
