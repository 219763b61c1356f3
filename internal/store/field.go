package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Extract returns the value at a dotted field path within a document.
// Numeric components index into arrays. A missing component, or a path that
// terminates on an explicit null, yields ErrFieldNotFound.
func Extract(doc any, fieldPath string) (any, error) {
	if fieldPath == "" {
		return doc, nil
	}
	current := doc
	for _, part := range strings.Split(fieldPath, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, fieldPath)
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, fieldPath)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, fieldPath)
		}
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s is null", ErrFieldNotFound, fieldPath)
	}
	return current, nil
}

// ExtractFrom round-trips a typed document through JSON and extracts a
// dotted field, so callers can address struct fields by their wire names.
func ExtractFrom(doc any, fieldPath string) (any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("serializing document: %w", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("reparsing document: %w", err)
	}
	return Extract(generic, fieldPath)
}
