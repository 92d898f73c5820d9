package credstore

import (
	"encoding/base64"
	"encoding/json"
)

// Records are stored as JSON. Raw binary values are wrapped in a tagged
// object ({"type":"Buffer","data":<base64>}) so that key material survives
// serialization byte for byte, matching the wire format other dashboard
// deployments already have in their stores.

func marshalRecord(record Record) ([]byte, error) {
	return json.Marshal(encodeValue(record))
}

func unmarshalRecord(data []byte) (Record, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	decoded, ok := decodeValue(raw).(map[string]interface{})
	if !ok {
		return Record{}, nil
	}
	return decoded, nil
}

func encodeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return map[string]interface{}{
			"type": "Buffer",
			"data": base64.StdEncoding.EncodeToString(t),
		}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = encodeValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = encodeValue(val)
		}
		return out
	default:
		return v
	}
}

func decodeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if tag, ok := t["type"].(string); ok && tag == "Buffer" && len(t) == 2 {
			if data, ok := t["data"].(string); ok {
				if raw, err := base64.StdEncoding.DecodeString(data); err == nil {
					return raw
				}
			}
		}
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = decodeValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = decodeValue(val)
		}
		return out
	default:
		return v
	}
}
