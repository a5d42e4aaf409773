package utility

import "encoding/json"

// ParseJsonAs decodes a frame payload into T
func ParseJsonAs[T any](payload json.RawMessage) (T, error) {
	var t T
	err := json.Unmarshal(payload, &t)
	return t, err
}
