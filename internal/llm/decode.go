package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// StripFences removes a surrounding markdown code fence, with or without a
// language tag, and trims whitespace.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag line ("json", "JSON", ...).
		if tag := strings.TrimSpace(s[:nl]); !strings.ContainsAny(tag, "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// DecodeJSON strictly decodes a collaborator response into T. Fences are
// stripped and the outermost JSON object is located; anything that is not a
// single valid object yields a *MalformedResponseError.
func DecodeJSON[T any](raw string) (T, error) {
	var out T

	body := StripFences(raw)
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return out, &MalformedResponseError{Raw: raw, Err: errors.New("no JSON object in response")}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body[start : end+1])))
	if err := dec.Decode(&out); err != nil {
		return out, &MalformedResponseError{Raw: raw, Err: err}
	}
	if dec.More() {
		return out, &MalformedResponseError{Raw: raw, Err: errors.New("trailing data after JSON object")}
	}
	return out, nil
}
