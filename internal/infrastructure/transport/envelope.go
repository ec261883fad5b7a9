package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// envelope mirrors the ERP API's standard response body.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func parseEnvelope(body []byte) (*envelope, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil || env.Success == nil {
		return nil, false
	}
	return &env, true
}

// Data returns the payload of the response: the envelope's data field when
// the body is a {success, data} envelope, otherwise the raw body.
func (r *Response) Data() json.RawMessage {
	if env, ok := parseEnvelope(r.Body); ok {
		return env.Data
	}
	return bytes.TrimSpace(r.Body)
}

// DecodeJSON unmarshals the response payload into out.
func DecodeJSON(r *Response, out any) error {
	data := r.Data()
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("empty response payload")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// DecodeList splits a list payload into its raw elements.
func DecodeList(r *Response) ([]json.RawMessage, error) {
	data := r.Data()
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decoding list response: %w", err)
	}
	return items, nil
}

// errorMessage extracts a message and a server error code from an error body.
func errorMessage(body []byte) (string, string) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", ""
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		if len(trimmed) > 200 {
			trimmed = trimmed[:200]
		}
		return string(trimmed), ""
	}
	if env.Error != nil {
		return env.Error.Message, env.Error.Code
	}
	return env.Message, ""
}
