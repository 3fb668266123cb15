package market

import "encoding/json"

// encodeDataSources JSON-encodes the provider→status map as a single
// string field, since nested objects are omitted from the flattened wire
// shape.
func encodeDataSources(m map[string]string) string {
	raw, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func decodeDataSources(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}
