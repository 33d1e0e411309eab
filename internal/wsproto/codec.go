// Package wsproto implements the single-byte-tag framing gottyd uses over
// the binary "tty" WebSocket sub-protocol (spec.md §4.2, §6).
package wsproto

import "encoding/json"

// ClientTag is the first byte of a client→server frame.
type ClientTag byte

const (
	Input           ClientTag = '0'
	ResizeTerminal  ClientTag = '1'
	Pause           ClientTag = '2'
	Resume          ClientTag = '3'
	JSONData        ClientTag = '{'
)

// ServerTag is the first byte of a server→client frame.
type ServerTag byte

const (
	Output           ServerTag = '0'
	SetWindowTitle   ServerTag = '1'
	SetPreferences   ServerTag = '2'
)

// Handshake is the JSON payload of the client's initial JSONData message.
type Handshake struct {
	AuthToken string `json:"AuthToken"`
	Columns   uint16 `json:"columns"`
	Rows      uint16 `json:"rows"`
}

// ResizePayload is the JSON payload of a ResizeTerminal frame.
type ResizePayload struct {
	Columns uint16 `json:"columns"`
	Rows    uint16 `json:"rows"`
}

// Decode splits a raw binary WebSocket message into its tag and payload.
// Returns ok=false for an empty frame (no tag byte at all).
func Decode(raw []byte) (tag ClientTag, payload []byte, ok bool) {
	if len(raw) == 0 {
		return 0, nil, false
	}
	return ClientTag(raw[0]), raw[1:], true
}

// EncodeOutput frames raw PTY bytes as an OUTPUT message.
func EncodeOutput(buf []byte) []byte {
	return frame(byte(Output), buf)
}

// EncodeWindowTitle frames a window title as a SET_WINDOW_TITLE message.
func EncodeWindowTitle(title string) []byte {
	return frame(byte(SetWindowTitle), []byte(title))
}

// EncodePreferences frames the client-preferences JSON blob verbatim.
func EncodePreferences(prefs []byte) []byte {
	return frame(byte(SetPreferences), prefs)
}

func frame(tag byte, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = tag
	copy(out[1:], payload)
	return out
}

// ParseHandshake decodes the JSON_DATA payload. Malformed JSON is reported
// to the caller rather than silently ignored so the session can still honor
// any columns/rows that did parse, per spec.md's "parse payload" wording
// (the whole object is decoded in one shot; there's no partial-field spec).
func ParseHandshake(payload []byte) (Handshake, error) {
	var h Handshake
	err := json.Unmarshal(payload, &h)
	return h, err
}

// ParseResize decodes a RESIZE_TERMINAL payload.
func ParseResize(payload []byte) (ResizePayload, error) {
	var r ResizePayload
	err := json.Unmarshal(payload, &r)
	return r, err
}
