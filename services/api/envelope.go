package api

import (
	"bytes"
	"encoding/json"
)

// decodeBody decodes a response that is either a raw value or an envelope.
// A "data" member is unwrapped first, then the named field if present.
func decodeBody(body []byte, field string, out any) error {
	raw := bytes.TrimSpace(body)
	if len(raw) == 0 {
		return nil
	}

	raw = unwrap(raw, "data")
	if field != "" {
		raw = unwrap(raw, field)
	}
	return json.Unmarshal(raw, out)
}

// unwrap returns obj[member] when raw is an object holding a non-null member
func unwrap(raw []byte, member string) []byte {
	if len(raw) == 0 || raw[0] != '{' {
		return raw
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	inner, ok := obj[member]
	if !ok || bytes.Equal(bytes.TrimSpace(inner), []byte("null")) {
		return raw
	}
	return inner
}

type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// errorCode extracts the "error" string of an error body
func errorCode(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	var code string
	if err := json.Unmarshal(eb.Error, &code); err != nil {
		return ""
	}
	return code
}

// embeddedError reports an error string carried by a 2xx body
func embeddedError(body []byte) string {
	raw := bytes.TrimSpace(body)
	if len(raw) == 0 || raw[0] != '{' {
		return ""
	}
	return errorCode(raw)
}
