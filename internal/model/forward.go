// Package model defines shared types for the forwarder.
package model

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// RequestSpec describes the outbound call a caller wants performed.
type RequestSpec struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    RequestBody       `json:"body,omitzero"`
	Params  map[string]string `json:"params,omitempty"`
	// Timeout is in seconds. Nil means the configured default applies.
	Timeout *int `json:"timeout,omitempty"`
}

// RequestBody is an optional JSON value. The zero value, and an explicit
// JSON null, mean no body.
type RequestBody struct {
	raw json.RawMessage
}

// NewRequestBody wraps an already-encoded JSON value.
func NewRequestBody(raw []byte) RequestBody {
	return RequestBody{raw: normalizeBody(raw)}
}

// Present reports whether a body value was supplied.
func (b RequestBody) Present() bool {
	return len(b.raw) > 0
}

// Bytes returns the JSON encoding of the body, or nil when absent.
func (b RequestBody) Bytes() []byte {
	return b.raw
}

// IsZero reports an absent body, so omitzero drops it when encoding.
func (b RequestBody) IsZero() bool {
	return !b.Present()
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *RequestBody) UnmarshalJSON(data []byte) error {
	b.raw = normalizeBody(data)
	return nil
}

// normalizeBody trims data and maps empty input and null to nil.
func normalizeBody(data []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return append(json.RawMessage(nil), trimmed...)
}

// MarshalJSON implements json.Marshaler.
func (b RequestBody) MarshalJSON() ([]byte, error) {
	if !b.Present() {
		return []byte("null"), nil
	}
	return b.raw, nil
}

// ResponseDescription is the normalized result of a forwarded call.
type ResponseDescription struct {
	StatusCode     int               `json:"status_code"`
	Headers        map[string]string `json:"headers"`
	Body           ResponseBody      `json:"body"`
	ElapsedSeconds float64           `json:"elapsed_seconds"`
}

// ResponseBody is either a JSON value (upstream declared application/json)
// or plain text.
type ResponseBody struct {
	json json.RawMessage
	text string
}

// JSONBody returns a ResponseBody holding an already validated JSON value.
func JSONBody(raw []byte) ResponseBody {
	return ResponseBody{json: append(json.RawMessage(nil), raw...)}
}

// TextBody returns a ResponseBody holding raw text.
func TextBody(s string) ResponseBody {
	return ResponseBody{text: s}
}

// IsJSON reports whether the body holds a structured JSON value.
func (b ResponseBody) IsJSON() bool {
	return b.json != nil
}

// JSON returns the encoded JSON value, or nil for a text body.
func (b ResponseBody) JSON() json.RawMessage {
	return b.json
}

// Text returns the text of a text body.
func (b ResponseBody) Text() string {
	return b.text
}

// MarshalJSON emits the JSON value verbatim, or the text as a JSON string.
func (b ResponseBody) MarshalJSON() ([]byte, error) {
	if b.IsJSON() {
		return b.json, nil
	}
	return json.Marshal(b.text)
}

// UnmarshalJSON accepts any JSON value. Strings become text bodies; anything
// else is kept as a structured value.
func (b *ResponseBody) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*b = TextBody(s)
		return nil
	}
	*b = JSONBody(trimmed)
	return nil
}

// OutboundRequest is what the transport sends on the wire.
type OutboundRequest struct {
	Method  string
	URL     string
	Header  http.Header
	Params  map[string]string
	Body    []byte // nil means no payload
	Timeout time.Duration
}

// UpstreamResponse is the fully read response returned by the transport.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Elapsed spans sending the request through reading the last body byte.
	Elapsed time.Duration
}
