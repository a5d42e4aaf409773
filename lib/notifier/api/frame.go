package api

import "encoding/json"

// comment frame, carries no event; keeps idle proxies from closing the stream
var heartbeatFrame = []byte(": heartbeat\n\n")

// dataFrame encodes v as a single `data:` event
func dataFrame(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')

	return frame, nil
}
